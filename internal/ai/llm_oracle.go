package ai

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/spigell/recruiter-loop/internal/logger"
	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/utils"

	"go.uber.org/zap"
)

//go:embed prompts/*.md
var prompts embed.FS

const defaultMaxLogLength = 200

// CallObserver is notified after every generator call.
type CallObserver func(op string, elapsed time.Duration, err error)

// LLMOracle implements Oracle on top of a TextGenerator by prompting it.
type LLMOracle struct {
	generator    TextGenerator
	logger       *zap.Logger
	maxLogLen    int
	observe      CallObserver
	generateTemp float32
	graderTemp   float32
	learnTemp    float32
}

// Option configures an LLMOracle.
type Option func(*LLMOracle)

// WithMaxLogLength limits prompt and response previews in debug logs.
func WithMaxLogLength(n int) Option {
	return func(o *LLMOracle) {
		if n > 0 {
			o.maxLogLen = n
		}
	}
}

// WithObserver registers a call observer, typically metrics.
func WithObserver(fn CallObserver) Option {
	return func(o *LLMOracle) { o.observe = fn }
}

// NewLLMOracle builds an oracle around generator.
func NewLLMOracle(generator TextGenerator, log *zap.Logger, opts ...Option) *LLMOracle {
	o := &LLMOracle{
		generator:    generator,
		maxLogLen:    defaultMaxLogLength,
		generateTemp: 0.7,
		graderTemp:   0.1,
		learnTemp:    0.3,
	}
	for _, opt := range opts {
		opt(o)
	}
	o.logger = logger.WithCommonFields(log, generator.Provider(), generator.Model())
	return o
}

func (o *LLMOracle) Generate(ctx context.Context, req GenerateRequest) (*model.Generation, error) {
	message := render("generate.md", map[string]string{
		"TASK_TYPE":        string(req.TaskType),
		"GUIDELINES_JSON":  string(req.Guidelines),
		"INPUT_JSON":       marshalIndent(req.Input),
		"CONSTRAINTS_JSON": marshalIndent(req.Constraints),
	})

	started := time.Now()
	completion, err := o.call(ctx, "generate", Prompt{
		System:      render("system.md", nil),
		Message:     message,
		Temperature: Temperature(o.generateTemp),
	})
	if err != nil {
		return nil, err
	}

	output := strings.TrimSpace(completion.Text)
	if output == "" {
		return nil, wrapOracle(ctx, "generate", fmt.Errorf("empty output"))
	}

	return &model.Generation{
		Output:     output,
		Model:      completion.Model,
		TokensUsed: completion.TokensUsed,
		Latency:    time.Since(started),
	}, nil
}

func (o *LLMOracle) Evaluate(ctx context.Context, req EvaluateRequest) (*Scores, error) {
	dims := req.Dimensions
	if len(dims) == 0 {
		dims = req.Rubric.Dimensions
	}

	completion, err := o.call(ctx, "evaluate", Prompt{
		Message: render("evaluate.md", map[string]string{
			"TASK_TYPE":        string(req.TaskType),
			"STANDARDS":        bulletList(req.Rubric.QualityStandards),
			"DIMENSIONS":       dimensionList(dims),
			"FAILURE_PATTERNS": failurePatternList(req.Rubric.FailurePatterns),
			"OUTPUT":           req.Output,
		}),
		Temperature: Temperature(o.graderTemp),
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	scores, err := parseScores(completion.Text, dims)
	if err != nil {
		return nil, wrapOracle(ctx, "evaluate", err)
	}
	return scores, nil
}

func (o *LLMOracle) ExtractLearnings(ctx context.Context, req LearnRequest) (*model.Learning, error) {
	evaluation, err := json.MarshalIndent(req.Evaluation, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal evaluation: %w", err)
	}

	completion, err := o.call(ctx, "learn", Prompt{
		System: render("system.md", nil),
		Message: render("learn.md", map[string]string{
			"TASK_TYPE":       string(req.TaskType),
			"GUIDELINES_JSON": string(req.Guidelines),
			"INPUT_JSON":      marshalIndent(req.Input),
			"OUTPUT":          req.Output,
			"EVALUATION_JSON": string(evaluation),
		}),
		Temperature: Temperature(o.learnTemp),
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	learning, err := parseLearning(completion.Text)
	if err != nil {
		return nil, wrapOracle(ctx, "learn", err)
	}
	return learning, nil
}

func (o *LLMOracle) RegenerateGuidelines(ctx context.Context, req RegenerateRequest) (map[string]json.RawMessage, error) {
	learning, err := json.MarshalIndent(req.Learning, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal learning: %w", err)
	}

	completion, err := o.call(ctx, "regenerate", Prompt{
		System: render("system.md", nil),
		Message: render("regenerate.md", map[string]string{
			"TASK_TYPE":       string(req.TaskType),
			"SECTIONS":        strings.Join(req.Sections, ", "),
			"GUIDELINES_JSON": string(req.Guidelines),
			"LEARNING_JSON":   string(learning),
		}),
		Temperature: Temperature(o.learnTemp),
		JSON:        true,
	})
	if err != nil {
		return nil, err
	}

	sections, err := parseSections(completion.Text, req.Sections)
	if err != nil {
		return nil, wrapOracle(ctx, "regenerate", err)
	}
	return sections, nil
}

func (o *LLMOracle) call(ctx context.Context, op string, p Prompt) (*Completion, error) {
	o.logger.Debug("oracle request",
		zap.String("op", op),
		zap.Int("prompt_length", utf8.RuneCountInString(p.Message)),
		zap.String("prompt_preview", utils.TruncateForLog(p.Message, o.maxLogLen)),
	)

	started := time.Now()
	completion, err := o.generator.Complete(ctx, p)
	if o.observe != nil {
		o.observe(op, time.Since(started), err)
	}
	if err != nil {
		return nil, wrapOracle(ctx, op, err)
	}

	o.logger.Debug("oracle response",
		zap.String("op", op),
		zap.Int("tokens", completion.TokensUsed),
		zap.String("response_preview", utils.TruncateForLog(completion.Text, o.maxLogLen)),
	)
	return completion, nil
}

// render fills the placeholders of an embedded prompt in a single pass,
// so placeholder-looking text inside values is never expanded.
func render(name string, values map[string]string) string {
	data, err := prompts.ReadFile("prompts/" + name)
	if err != nil {
		panic(fmt.Sprintf("missing embedded prompt %s: %v", name, err))
	}
	pairs := make([]string, 0, len(values)*2)
	for key, value := range values {
		pairs = append(pairs, "{{"+key+"}}", value)
	}
	return strings.TrimSpace(strings.NewReplacer(pairs...).Replace(string(data)))
}

func dimensionList(dims []model.Dimension) string {
	var b strings.Builder
	for _, d := range dims {
		w := d.Weight
		if w <= 0 {
			w = 1
		}
		fmt.Fprintf(&b, "- %s (weight %g): %s\n", d.Name, w, d.Description)
	}
	return strings.TrimRight(b.String(), "\n")
}

func failurePatternList(patterns []model.FailurePattern) string {
	if len(patterns) == 0 {
		return "- none"
	}
	var b strings.Builder
	for _, p := range patterns {
		desc := p.Description
		if desc == "" {
			desc = "matches " + p.Pattern
		}
		fmt.Fprintf(&b, "- %s (severity %s): %s\n", p.Name, p.Severity, desc)
	}
	return strings.TrimRight(b.String(), "\n")
}

func marshalIndent(v any) string {
	if v == nil {
		return "{}"
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(data)
}

func bulletList(items []string) string {
	if len(items) == 0 {
		return "- none"
	}
	var b strings.Builder
	for i, item := range items {
		if i > 0 {
			b.WriteByte('\n')
		}
		b.WriteString("- " + item)
	}
	return b.String()
}
