package lesson

import (
	"fmt"

	"github.com/invopop/jsonschema"
)

// Persona parameterizes the tutor directive.
type Persona struct {
	TutorName       string
	TargetLanguage  string
	LearnerLanguage string
}

// DefaultPersona is an Arabic tutor for English speakers.
func DefaultPersona() Persona {
	return Persona{
		TutorName:       "Layla",
		TargetLanguage:  "Arabic",
		LearnerLanguage: "English",
	}
}

// Directive renders the system instruction for the conversational model.
func (p Persona) Directive() string {
	return fmt.Sprintf(`You are %[1]s, a friendly and patient %[2]s teacher for an absolute beginner student who speaks %[3]s. You must only speak in %[3]s. Your goal is to teach them one new %[2]s word at a time.
1. Introduce the word, its meaning, and its pronunciation.
2. Ask the student to repeat the word.
3. After they respond, encourage them and then use the word in a simple sentence.
4. IMPORTANT: Your entire response MUST be a single, valid JSON object. Do not add any text outside of the JSON structure.
The JSON object must have this structure: {"response": "<text to be spoken to the user>", "newWord": {"target": "<the new word in %[2]s script>", "gloss": "<the %[3]s translation>", "pronunciation": "<phonetic pronunciation>"}}.
- If you are teaching a new word, populate the newWord object.
- If you are not teaching a new word (e.g., greeting the user, answering a question, or giving encouragement), the newWord key must be null.

Example of teaching a new word:
{"response": "Excellent! The word for 'book' is 'kitab'. Can you try saying 'kitab'?", "newWord": {"target": "كتاب", "gloss": "book", "pronunciation": "ki-tab"}}

Example of a conversational reply (no new word):
{"response": "Hello there! I'm %[1]s. Ready to learn some %[2]s today?", "newWord": null}`,
		p.TutorName, p.TargetLanguage, p.LearnerLanguage)
}

// ReplySchema builds the JSON schema of Reply. Nullable fields are expressed
// with anyOf, which both model providers accept. Each call returns a new
// schema the caller may modify.
func ReplySchema() *jsonschema.Schema {
	reflector := jsonschema.Reflector{DoNotReference: true, Anonymous: true}
	schema := reflector.Reflect(&Reply{})
	schema.Version = ""
	rewriteOneOf(schema)
	return schema
}

func rewriteOneOf(s *jsonschema.Schema) {
	if s == nil {
		return
	}
	if len(s.OneOf) > 0 {
		s.AnyOf = append(s.AnyOf, s.OneOf...)
		s.OneOf = nil
	}
	for _, sub := range s.AnyOf {
		rewriteOneOf(sub)
	}
	if s.Properties != nil {
		for pair := s.Properties.Oldest(); pair != nil; pair = pair.Next() {
			rewriteOneOf(pair.Value)
		}
	}
}
