// Package anthropic implements the oracle text generator on Claude models.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/spigell/recruiter-loop/internal/ai"
	"github.com/spigell/recruiter-loop/internal/logger"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"
)

const (
	providerName     = "anthropic"
	defaultMaxTokens = 2048
)

type messageCreator interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// Generator sends prompts to the Anthropic Messages API. Retries are left to the SDK.
type Generator struct {
	messages  messageCreator
	model     string
	maxTokens int64
	logger    *zap.Logger
}

// NewGenerator creates a Generator. An empty model selects Claude Haiku.
func NewGenerator(apiKey, model string, maxRetries int, log *zap.Logger) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("anthropic api key is required")
	}
	if model = strings.TrimSpace(model); model == "" {
		model = string(sdk.ModelClaudeHaiku4_5)
	}

	client := sdk.NewClient(option.WithAPIKey(apiKey), option.WithMaxRetries(maxRetries))
	return &Generator{
		messages:  &client.Messages,
		model:     model,
		maxTokens: defaultMaxTokens,
		logger:    logger.WithCommonFields(log, providerName, model),
	}, nil
}

func (g *Generator) Model() string    { return g.model }
func (g *Generator) Provider() string { return providerName }

// Complete implements ai.TextGenerator.
func (g *Generator) Complete(ctx context.Context, p ai.Prompt) (*ai.Completion, error) {
	message := strings.TrimSpace(p.Message)
	if message == "" {
		return nil, fmt.Errorf("prompt must not be empty: %w", ai.ErrPermanent)
	}

	params := sdk.MessageNewParams{
		Model:     sdk.Model(g.model),
		MaxTokens: g.maxTokens,
		Messages: []sdk.MessageParam{{
			Role:    sdk.MessageParamRoleUser,
			Content: []sdk.ContentBlockParamUnion{{OfText: &sdk.TextBlockParam{Text: message}}},
		}},
	}
	if system := strings.TrimSpace(p.System); system != "" {
		params.System = []sdk.TextBlockParam{{Text: system}}
	}
	if p.Temperature != nil {
		params.Temperature = sdk.Float(float64(*p.Temperature))
	}
	if p.JSON {
		// Prefilling the assistant turn keeps the answer a bare JSON object.
		params.Messages = append(params.Messages, sdk.MessageParam{
			Role:    sdk.MessageParamRoleAssistant,
			Content: []sdk.ContentBlockParamUnion{{OfText: &sdk.TextBlockParam{Text: "{"}}},
		})
	}

	msg, err := g.messages.New(ctx, params)
	if err != nil {
		return nil, classify(err)
	}

	var builder strings.Builder
	if p.JSON {
		builder.WriteString("{")
	}
	for _, block := range msg.Content {
		if block.Type == "text" {
			builder.WriteString(block.Text)
		}
	}

	text := strings.TrimSpace(builder.String())
	if text == "" || text == "{" {
		return nil, errors.New("anthropic api returned empty response")
	}

	g.logger.Debug("anthropic response",
		zap.String("stop_reason", string(msg.StopReason)),
		zap.Int64("output_tokens", msg.Usage.OutputTokens),
	)

	return &ai.Completion{
		Text:       text,
		Model:      string(msg.Model),
		TokensUsed: int(msg.Usage.InputTokens + msg.Usage.OutputTokens),
	}, nil
}

func classify(err error) error {
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) && apiErr.StatusCode >= http.StatusBadRequest &&
		apiErr.StatusCode < http.StatusInternalServerError && apiErr.StatusCode != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ai.ErrPermanent, err)
	}
	return err
}
