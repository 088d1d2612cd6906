package classifier

import (
	"encoding/json"
	"math"
	"strings"

	"github.com/xaenox/triage-bot/internal/models"
)

// confidenceSlack is how far outside [0,1] a confidence may be and still be
// clamped instead of rejected.
const confidenceSlack = 0.05

// ParseResponse validates a reasoning-service reply and converts it into a
// classification. Every invalid field is reported in one ValidationError.
func ParseResponse(raw string) (models.ClassificationResult, error) {
	body := stripFences(raw)

	var fields map[string]any
	if err := json.Unmarshal([]byte(body), &fields); err != nil {
		return models.ClassificationResult{}, &ValidationError{Raw: raw, Err: err}
	}

	var (
		res  = models.ClassificationResult{Method: models.MethodLLM}
		errs []FieldError
	)

	switch v := fields["category"].(type) {
	case nil:
		errs = append(errs, FieldError{Field: "category", Reason: "missing"})
	case string:
		c, err := models.ParseCategory(v)
		if err != nil {
			errs = append(errs, FieldError{Field: "category", Reason: "not a known category", Value: v})
		}
		res.Category = c
	default:
		errs = append(errs, FieldError{Field: "category", Reason: "not a string", Value: v})
	}

	switch v := fields["confidence"].(type) {
	case nil:
		errs = append(errs, FieldError{Field: "confidence", Reason: "missing"})
	case float64:
		if math.IsNaN(v) || v < -confidenceSlack || v > 1+confidenceSlack {
			errs = append(errs, FieldError{Field: "confidence", Reason: "out of range", Value: v})
		}
		res.Confidence = math.Max(0, math.Min(1, v))
	default:
		errs = append(errs, FieldError{Field: "confidence", Reason: "not a number", Value: v})
	}

	switch v := fields["reasoning"].(type) {
	case string:
		if strings.TrimSpace(v) == "" {
			errs = append(errs, FieldError{Field: "reasoning", Reason: "empty"})
		}
		res.Reasoning = v
	case nil:
		errs = append(errs, FieldError{Field: "reasoning", Reason: "missing"})
	default:
		errs = append(errs, FieldError{Field: "reasoning", Reason: "not a string", Value: v})
	}

	switch v := fields["emotional_intensity"].(type) {
	case nil:
	case float64:
		// Clamp before converting; huge values overflow int.
		res.EmotionalIntensity = int(math.Round(max(1, min(10, v))))
	default:
		errs = append(errs, FieldError{Field: "emotional_intensity", Reason: "not a number", Value: v})
	}

	res.Subcategory = optionalString(fields, "subcategory")
	res.AmbiguousPhrase = optionalString(fields, "ambiguous_phrase")
	res.Disambiguation = optionalString(fields, "disambiguation")
	res.SuggestedResponse = optionalString(fields, "suggested_response")

	if len(errs) > 0 {
		return models.ClassificationResult{}, &ValidationError{Fields: errs, Raw: raw}
	}
	return res, nil
}

func optionalString(fields map[string]any, key string) string {
	s, _ := fields[key].(string)
	return s
}

// stripFences removes a markdown code fence some models wrap JSON in.
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
