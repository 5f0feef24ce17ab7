package llm

import (
	"context"

	"github.com/lexiqai/voice-tutor/internal/gemini"
)

// GeminiModel answers through the Gemini generateContent API.
type GeminiModel struct {
	client *gemini.Client
	model  string
}

func NewGeminiModel(client *gemini.Client, model string) *GeminiModel {
	return &GeminiModel{client: client, model: model}
}

func (m *GeminiModel) Name() string {
	return "gemini/" + m.model
}

func (m *GeminiModel) Respond(ctx context.Context, req Request) (string, error) {
	contents := make([]gemini.Content, 0, len(req.History)*2+1)
	for _, ex := range req.History {
		contents = append(contents,
			gemini.UserText(ex.Utterance),
			gemini.Content{Role: gemini.RoleModel, Parts: []gemini.Part{{Text: ex.Reply}}},
		)
	}
	contents = append(contents, gemini.UserText(req.Utterance))

	body := &gemini.Request{Contents: contents}
	if req.Instruction != "" {
		body.SystemInstruction = &gemini.Content{Parts: []gemini.Part{{Text: req.Instruction}}}
	}
	if req.Schema != nil {
		body.GenerationConfig = &gemini.GenerationConfig{
			ResponseMimeType:   "application/json",
			ResponseJSONSchema: req.Schema,
		}
	}

	resp, err := m.client.GenerateContent(ctx, m.model, body)
	if err != nil {
		return "", err
	}
	return resp.Text(), nil
}
