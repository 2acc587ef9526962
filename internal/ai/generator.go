package ai

import "context"

// Prompt is a single system + user exchange.
type Prompt struct {
	System      string
	Message     string
	Temperature *float32
	JSON        bool
}

// Completion is the text a generator returned.
type Completion struct {
	Text       string
	Model      string
	TokensUsed int
}

// TextGenerator is a provider backend (Gemini, Anthropic).
type TextGenerator interface {
	Complete(ctx context.Context, p Prompt) (*Completion, error)
	Model() string
	Provider() string
}

// Temperature returns a pointer for Prompt.Temperature.
func Temperature(v float32) *float32 { return &v }
