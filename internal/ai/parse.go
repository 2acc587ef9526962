package ai

import (
	"encoding/json"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"github.com/spigell/recruiter-loop/internal/model"

	"github.com/mitchellh/mapstructure"
)

var (
	jsonObjectPattern    = regexp.MustCompile(`(?s)\{.*\}`)
	trailingCommaPattern = regexp.MustCompile(`,\s*([}\]])`)
)

// extractJSON strips code fences and surrounding prose, then drops trailing commas.
func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	if m := jsonObjectPattern.FindString(raw); m != "" {
		raw = m
	}
	raw = trailingCommaPattern.ReplaceAllString(raw, "$1")
	return strings.TrimSpace(raw)
}

func decodeObject(raw string) (map[string]any, error) {
	var data map[string]any
	if err := json.Unmarshal([]byte(extractJSON(raw)), &data); err != nil {
		return nil, fmt.Errorf("parse oracle response: %w", err)
	}
	return data, nil
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case json.Number:
		f, err := val.Float64()
		if err != nil {
			return math.NaN()
		}
		return f
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(trimmed, 64)
		if err != nil {
			return math.NaN()
		}
		if strings.HasSuffix(strings.TrimSpace(val), "%") {
			f /= 100
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

// normalizeScore maps 0..10 and 0..100 grades onto 0..1 and clamps the result.
func normalizeScore(f float64) float64 {
	switch {
	case math.IsNaN(f):
		return 0
	case f > 10:
		f /= 100
	case f > 1:
		f /= 10
	}
	return math.Max(0, math.Min(1, f))
}

func parseScores(raw string, dims []model.Dimension) (*Scores, error) {
	data, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if err := scoresSchema.Validate(data); err != nil {
		return nil, fmt.Errorf("invalid grading response: %w", err)
	}

	scores := &Scores{
		Dimensions: make(map[string]float64, len(dims)),
		Reasoning:  coerceString(data["reasoning"]),
		Confidence: 1,
	}

	switch d := data["dimensions"].(type) {
	case map[string]any:
		for name, v := range d {
			scores.Dimensions[name] = normalizeScore(coerceFloat(v))
		}
	case []any:
		for _, item := range d {
			entry, ok := item.(map[string]any)
			if !ok {
				continue
			}
			scores.Dimensions[coerceString(entry["name"])] = normalizeScore(coerceFloat(entry["score"]))
		}
	}

	for _, dim := range dims {
		if _, ok := scores.Dimensions[dim.Name]; !ok {
			return nil, fmt.Errorf("grading response is missing dimension %q", dim.Name)
		}
	}

	if v, ok := data["overall"]; ok {
		if f := coerceFloat(v); !math.IsNaN(f) {
			overall := normalizeScore(f)
			scores.Overall = &overall
		}
	}
	if v, ok := data["confidence"]; ok {
		if f := coerceFloat(v); !math.IsNaN(f) {
			scores.Confidence = math.Max(0, math.Min(1, f))
		}
	}
	return scores, nil
}

type rawLearning struct {
	Insights []struct {
		Type        string  `mapstructure:"type"`
		Description string  `mapstructure:"description"`
		Confidence  float64 `mapstructure:"confidence"`
	} `mapstructure:"insights"`
	ProposedUpdates []struct {
		Path      string `mapstructure:"path"`
		Op        string `mapstructure:"op"`
		Value     any    `mapstructure:"value"`
		Rationale string `mapstructure:"rationale"`
	} `mapstructure:"proposed_updates"`
	Reasoning string `mapstructure:"reasoning"`
}

func parseLearning(raw string) (*model.Learning, error) {
	data, err := decodeObject(raw)
	if err != nil {
		return nil, err
	}
	if err := learningSchema.Validate(data); err != nil {
		return nil, fmt.Errorf("invalid learning response: %w", err)
	}

	var decoded rawLearning
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		WeaklyTypedInput: true,
		Result:           &decoded,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(data); err != nil {
		return nil, fmt.Errorf("decode learning response: %w", err)
	}

	learning := &model.Learning{Reasoning: strings.TrimSpace(decoded.Reasoning)}
	for _, in := range decoded.Insights {
		learning.Insights = append(learning.Insights, model.Insight{
			Type:        model.InsightType(strings.ToLower(strings.TrimSpace(in.Type))),
			Description: strings.TrimSpace(in.Description),
			Confidence:  math.Max(0, math.Min(1, in.Confidence)),
		})
	}
	for _, up := range decoded.ProposedUpdates {
		edit := model.Edit{
			Path:      strings.TrimSpace(up.Path),
			Op:        model.EditOp(strings.ToLower(strings.TrimSpace(up.Op))),
			Rationale: strings.TrimSpace(up.Rationale),
		}
		if up.Value != nil {
			value, err := json.Marshal(up.Value)
			if err != nil {
				return nil, fmt.Errorf("encode proposed value for %s: %w", edit.Path, err)
			}
			edit.Value = value
		}
		learning.Edits = append(learning.Edits, edit)
	}
	return learning, nil
}

func parseSections(raw string, allowed []string) (map[string]json.RawMessage, error) {
	var resp struct {
		Sections map[string]json.RawMessage `json:"sections"`
	}
	if err := json.Unmarshal([]byte(extractJSON(raw)), &resp); err != nil {
		return nil, fmt.Errorf("parse regeneration response: %w", err)
	}

	out := make(map[string]json.RawMessage, len(allowed))
	for _, name := range allowed {
		if v, ok := resp.Sections[name]; ok && len(v) > 0 && string(v) != "null" {
			out[name] = v
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("regeneration response contains none of %v", allowed)
	}
	return out, nil
}
