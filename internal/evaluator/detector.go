package evaluator

import (
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/spigell/recruiter-loop/internal/model"
	"github.com/spigell/recruiter-loop/internal/utils"
)

// severityStep is the fraction of the score removed per severity level of a match.
const severityStep = 0.2

// BuiltinPatterns apply to every rubric.
var BuiltinPatterns = []model.FailurePattern{
	{
		Name:        "unfilled_placeholder",
		Description: "template variables left in candidate-facing text",
		Pattern:     `\{\{\s*[\w.]+\s*\}\}|\[(?:Candidate|Company|Your|Recruiter|Role)[ _]?(?:Name|Title)?\]`,
		Severity:    model.SeverityCritical,
	},
	{
		Name:     "lorem_ipsum",
		Pattern:  `(?i)lorem ipsum`,
		Severity: model.SeverityCritical,
	},
	{
		Name:        "model_disclosure",
		Description: "the text talks about itself as a language model",
		Pattern:     `(?i)\bas an ai\b|\blanguage model\b`,
		Severity:    model.SeverityHigh,
	},
}

// Detector matches outputs against failure patterns. Compiled expressions are cached.
type Detector struct {
	mu    sync.Mutex
	cache map[string]*regexp.Regexp
}

// NewDetector returns a detector with an empty cache.
func NewDetector() *Detector {
	return &Detector{cache: make(map[string]*regexp.Regexp)}
}

// Detect returns every builtin or rubric pattern found in output, plus an empty_output match for blank text.
func (d *Detector) Detect(output string, patterns []model.FailurePattern) ([]model.PatternMatch, error) {
	if strings.TrimSpace(output) == "" {
		return []model.PatternMatch{{Name: "empty_output", Severity: model.SeverityCritical}}, nil
	}

	var matches []model.PatternMatch
	for _, p := range append(append([]model.FailurePattern(nil), BuiltinPatterns...), patterns...) {
		re, err := d.compile(p.Pattern)
		if err != nil {
			return nil, fmt.Errorf("%w: failure pattern %q: %v", model.ErrValidation, p.Name, err)
		}
		if loc := re.FindString(output); loc != "" {
			matches = append(matches, model.PatternMatch{
				Name:     p.Name,
				Severity: p.Severity,
				Excerpt:  utils.TruncateForLog(loc, 80),
			})
		}
	}
	return matches, nil
}

func (d *Detector) compile(pattern string) (*regexp.Regexp, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if re, ok := d.cache[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	d.cache[pattern] = re
	return re, nil
}

// Discount applies score *= 1 - level*0.2 for each match.
func Discount(score float64, matches []model.PatternMatch) float64 {
	for _, m := range matches {
		score *= 1 - m.Severity.Level()*severityStep
	}
	return utils.Clamp01(score)
}

// Critical returns the first critical match.
func Critical(matches []model.PatternMatch) (model.PatternMatch, bool) {
	for _, m := range matches {
		if m.Severity == model.SeverityCritical {
			return m, true
		}
	}
	return model.PatternMatch{}, false
}
