// Package gemini implements the oracle text generator on Google Gemini.
package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/spigell/recruiter-loop/internal/ai"
	"github.com/spigell/recruiter-loop/internal/logger"
	"github.com/spigell/recruiter-loop/internal/utils"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

const (
	defaultModel      = "gemini-2.5-pro"
	defaultMaxRetries = 3
	baseBackoff       = 2 * time.Second
	maxQuotaDelay     = 30 * time.Second
	providerName      = "gemini"
)

var sleep = utils.WaitFor

var retryDelayPattern = regexp.MustCompile(`(?i)retry (?:after|in) ([0-9]+(?:\.[0-9]+)?)\s*(s|sec|secs|seconds?)\b`)

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (c genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	chat, err := c.chats.Create(ctx, model, config, history)
	if err != nil {
		return nil, err
	}
	return chat, nil
}

// Generator sends single-turn prompts to Gemini with retries on transient failures.
type Generator struct {
	chats      chatCreator
	model      string
	maxRetries int
	logger     *zap.Logger
}

// NewGenerator creates a Generator for the Gemini API backend.
func NewGenerator(ctx context.Context, apiKey, model string, maxRetries int, log *zap.Logger) (*Generator, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	if model = strings.TrimSpace(model); model == "" {
		model = defaultModel
	}
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}

	return &Generator{
		chats:      genaiChats{chats: client.Chats},
		model:      model,
		maxRetries: maxRetries,
		logger:     logger.WithCommonFields(log, providerName, model),
	}, nil
}

func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func (g *Generator) Provider() string { return providerName }

// GenerateContent sends one system + user message pair and returns the text answer.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	completion, err := g.Complete(ctx, ai.Prompt{System: system, Message: message})
	if err != nil {
		return "", err
	}
	return completion.Text, nil
}

// Complete implements ai.TextGenerator.
func (g *Generator) Complete(ctx context.Context, p ai.Prompt) (*ai.Completion, error) {
	if g == nil || g.chats == nil {
		return nil, errors.New("gemini generator is not initialized")
	}

	message := strings.TrimSpace(p.Message)
	if message == "" {
		return nil, fmt.Errorf("prompt must not be empty: %w", ai.ErrPermanent)
	}

	config := &genai.GenerateContentConfig{Temperature: p.Temperature}
	if system := strings.TrimSpace(p.System); system != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: system}}}
	}
	if p.JSON {
		config.ResponseMIMEType = "application/json"
	}

	attempts := max(g.maxRetries, 1)
	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		completion, err := g.send(ctx, config, message)
		if err == nil {
			return completion, nil
		}
		lastErr = err

		delay, retry := retryDelay(err, attempt)
		if !retry || attempt == attempts {
			break
		}

		g.logger.Warn("gemini request failed, retrying",
			zap.Int("attempt", attempt),
			zap.Duration("delay", delay),
			zap.Error(err),
		)
		if err := sleep(ctx, delay); err != nil {
			return nil, err
		}
	}

	return nil, classify(lastErr)
}

// classify marks client errors other than quota exhaustion as permanent.
func classify(err error) error {
	if apiErr, ok := asAPIError(err); ok && apiErr.Code >= http.StatusBadRequest &&
		apiErr.Code < http.StatusInternalServerError && apiErr.Code != http.StatusTooManyRequests {
		return fmt.Errorf("%w: %w", ai.ErrPermanent, err)
	}
	return err
}

func (g *Generator) send(ctx context.Context, config *genai.GenerateContentConfig, message string) (*ai.Completion, error) {
	chat, err := g.chats.Create(ctx, g.model, config, nil)
	if err != nil {
		return nil, fmt.Errorf("create chat: %w", err)
	}

	resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
	if err != nil {
		return nil, fmt.Errorf("send message: %w", err)
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}

	output := strings.TrimSpace(builder.String())
	if output == "" {
		return nil, errors.New("gemini api returned empty response")
	}

	completion := &ai.Completion{Text: output, Model: g.model}
	if resp.UsageMetadata != nil {
		completion.TokensUsed = int(resp.UsageMetadata.TotalTokenCount)
	}
	return completion, nil
}

// retryDelay decides whether err is worth another attempt and how long to wait.
func retryDelay(err error, attempt int) (time.Duration, bool) {
	backoff := baseBackoff * time.Duration(1<<(attempt-1))

	apiErr, ok := asAPIError(err)
	if !ok {
		return backoff, !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		if d, found := quotaDelay(apiErr.Message); found {
			return d, d <= maxQuotaDelay
		}
		return backoff, true
	case apiErr.Code >= http.StatusInternalServerError:
		return backoff, true
	default:
		return 0, false
	}
}

func asAPIError(err error) (genai.APIError, bool) {
	var value genai.APIError
	if errors.As(err, &value) {
		return value, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

func quotaDelay(message string) (time.Duration, bool) {
	m := retryDelayPattern.FindStringSubmatch(message)
	if len(m) < 2 {
		return 0, false
	}
	seconds, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	return time.Duration(seconds * float64(time.Second)), true
}
