package lesson

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestPersonaDirective(t *testing.T) {
	p := Persona{TutorName: "Sofia", TargetLanguage: "Spanish", LearnerLanguage: "German"}
	d := p.Directive()

	for _, want := range []string{
		"You are Sofia",
		"patient Spanish teacher",
		"student who speaks German",
		"one new Spanish word at a time",
		`"newWord": null`,
	} {
		if !strings.Contains(d, want) {
			t.Errorf("Expected directive to contain %q", want)
		}
	}
	if strings.Contains(d, "%!") {
		t.Error("Directive has a formatting error")
	}
}

func TestDefaultPersona(t *testing.T) {
	d := DefaultPersona().Directive()
	if !strings.Contains(d, "You are Layla") || !strings.Contains(d, "Arabic teacher") {
		t.Error("Expected default persona to be the Arabic tutor Layla")
	}
}

func TestReplySchema(t *testing.T) {
	raw, err := json.Marshal(ReplySchema())
	if err != nil {
		t.Fatalf("marshal schema: %v", err)
	}

	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		t.Fatalf("unmarshal schema: %v", err)
	}

	if doc["type"] != "object" {
		t.Errorf("Expected object schema, got %v", doc["type"])
	}
	props, ok := doc["properties"].(map[string]any)
	if !ok {
		t.Fatalf("Expected properties in schema: %s", raw)
	}
	if _, ok := props["response"]; !ok {
		t.Error("Expected response property")
	}
	newWord, ok := props["newWord"].(map[string]any)
	if !ok {
		t.Fatalf("Expected newWord property: %s", raw)
	}
	if _, ok := newWord["anyOf"]; !ok {
		t.Errorf("Expected nullable newWord expressed with anyOf: %v", newWord)
	}
	if strings.Contains(string(raw), "oneOf") {
		t.Error("Expected no oneOf in schema")
	}
}

func TestReplySchema_Independent(t *testing.T) {
	first := ReplySchema()
	first.Title = "changed"
	first.Properties.Delete("response")

	second := ReplySchema()
	if second == first {
		t.Fatal("Expected a new schema on each call")
	}
	if second.Title == "changed" {
		t.Error("Expected title change not to leak into later schemas")
	}
	if _, ok := second.Properties.Get("response"); !ok {
		t.Error("Expected response property in later schemas")
	}
}

func TestNewMessageIDsAreOrdered(t *testing.T) {
	a := NewMessage(RoleUser, "hi")
	b := NewMessage(RoleTutor, "hello")
	if a.ID == b.ID {
		t.Fatal("Expected distinct message IDs")
	}
	if a.ID > b.ID {
		t.Errorf("Expected time-ordered IDs, got %s then %s", a.ID, b.ID)
	}
}
