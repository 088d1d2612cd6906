package classifier

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/triage-bot/internal/models"
)

func TestParseResponse_Valid(t *testing.T) {
	raw := `{"category":"employment","subcategory":"job_loss","confidence":0.92,"reasoning":"lost job","ambiguous_phrase":"not working","disambiguation":"employment","emotional_intensity":7.4,"suggested_response":"acknowledge"}`

	res, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, models.CategoryEmployment, res.Category)
	assert.Equal(t, "job_loss", res.Subcategory)
	assert.InDelta(t, 0.92, res.Confidence, 1e-9)
	assert.Equal(t, 7, res.EmotionalIntensity)
	assert.Equal(t, "not working", res.AmbiguousPhrase)
	assert.Equal(t, models.MethodLLM, res.Method)
}

func TestParseResponse_FencedAndClamped(t *testing.T) {
	raw := "```json\n{\"category\":\"TECH_ISSUE\",\"confidence\":1.03,\"reasoning\":\"login\",\"emotional_intensity\":14}\n```"

	res, err := ParseResponse(raw)
	require.NoError(t, err)
	assert.Equal(t, 1.0, res.Confidence)
	assert.Equal(t, 10, res.EmotionalIntensity)

	res, err = ParseResponse(`{"category":"GENERAL","confidence":-0.02,"reasoning":"hi","emotional_intensity":0.2}`)
	require.NoError(t, err)
	assert.Equal(t, 0.0, res.Confidence)
	assert.Equal(t, 1, res.EmotionalIntensity)

	res, err = ParseResponse(`{"category":"GENERAL","confidence":0.5,"reasoning":"hi","emotional_intensity":1e300}`)
	require.NoError(t, err)
	assert.Equal(t, 10, res.EmotionalIntensity)

	res, err = ParseResponse(`{"category":"GENERAL","confidence":0.5,"reasoning":"hi","emotional_intensity":-1e300}`)
	require.NoError(t, err)
	assert.Equal(t, 1, res.EmotionalIntensity)
}

func TestParseResponse_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		raw    string
		fields []string
	}{
		{"unknown category", `{"category":"WEATHER","confidence":0.5,"reasoning":"x"}`, []string{"category"}},
		{"confidence far out of range", `{"category":"GENERAL","confidence":1.5,"reasoning":"x"}`, []string{"confidence"}},
		{"confidence not numeric", `{"category":"GENERAL","confidence":"high","reasoning":"x"}`, []string{"confidence"}},
		{"missing reasoning", `{"category":"GENERAL","confidence":0.5}`, []string{"reasoning"}},
		{"empty reasoning", `{"category":"GENERAL","confidence":0.5,"reasoning":"  "}`, []string{"reasoning"}},
		{"intensity not numeric", `{"category":"GENERAL","confidence":0.5,"reasoning":"x","emotional_intensity":"high"}`, []string{"emotional_intensity"}},
		{"everything wrong", `{"category":7,"reasoning":""}`, []string{"category", "confidence", "reasoning"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseResponse(tt.raw)
			var verr *ValidationError
			require.True(t, errors.As(err, &verr))

			got := make([]string, len(verr.Fields))
			for i, f := range verr.Fields {
				got[i] = f.Field
			}
			assert.Equal(t, tt.fields, got)
		})
	}
}

func TestParseResponse_NotJSON(t *testing.T) {
	_, err := ParseResponse("I think this is EMPLOYMENT")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Error(t, verr.Err)
	assert.Equal(t, "invalid_response", FallbackReason(err))
}

func TestFallback(t *testing.T) {
	tests := []struct {
		text string
		cat  models.Category
	}{
		{"I want to kill myself", models.CategoryCrisis},
		{"I'm not working and the bills are piling up", models.CategoryEmployment},
		{"my boss yelled at me", models.CategoryEmployment},
		{"I've been depressed for weeks", models.CategoryMentalHealth},
		{"my husband and I fight constantly", models.CategoryRelationship},
		{"the screen went blank", models.CategoryTechIssue},
		{"hmm", models.CategoryGeneral},
	}
	for _, tt := range tests {
		res := Fallback(tt.text)
		assert.Equal(t, tt.cat, res.Category, tt.text)
		assert.Equal(t, models.MethodFallback, res.Method, tt.text)
		assert.LessOrEqual(t, res.Confidence, 0.9, tt.text)
	}

	crisis := Fallback("I can't go on")
	assert.InDelta(t, 0.9, crisis.Confidence, 1e-9)
	assert.InDelta(t, 0.5, Fallback("hmm").Confidence, 1e-9)
}
