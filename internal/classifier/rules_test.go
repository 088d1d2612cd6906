package classifier

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap/zaptest"
)

func TestRuleClassifier_Crisis(t *testing.T) {
	c := NewRuleClassifier(zaptest.NewLogger(t))

	tests := []struct {
		name    string
		text    string
		sub     string
		minConf float64
	}{
		{"explicit", "I want to kill myself", "suicide", 1.0},
		{"suicide word", "I've been thinking about suicide a lot", "suicide", 1.0},
		{"planning", "I have a plan and I set a date", "suicide_planning", 1.0},
		{"despair", "I can't do this anymore", "despair", 1.0},
		{"typographic apostrophe", "I can’t go on like this", "despair", 1.0},
		{"burden", "Everyone would be better off without me", "burden", 1.0},
		{"finality", "This is goodbye", "finality", 0.95},
		{"self harm", "I keep cutting myself", "self_harm", 1.0},
		{"self harm without object", "I started cutting again last night", "self_harm", 1.0},
		{"positive words around crisis", "I'm feeling great today but I want to end my life", "suicide", 1.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, ok := c.Classify(tt.text)
			require.True(t, ok)
			assert.Equal(t, models.CategoryCrisis, res.Category)
			assert.Equal(t, tt.sub, res.Subcategory)
			assert.GreaterOrEqual(t, res.Confidence, tt.minConf)
			assert.GreaterOrEqual(t, res.Confidence, CrisisConfidenceFloor)
			assert.Equal(t, 10, res.EmotionalIntensity)
			assert.Equal(t, models.MethodRule, res.Method)
		})
	}
}

func TestRuleClassifier_ClearCases(t *testing.T) {
	c := NewRuleClassifier(nil)

	tests := []struct {
		text string
		cat  models.Category
		sub  string
	}{
		{"I got laid off yesterday", models.CategoryEmployment, "job_loss"},
		{"My wife is cheating on me", models.CategoryRelationship, "infidelity"},
		{"We broke up last week", models.CategoryRelationship, "breakup"},
		{"I was diagnosed with severe depression", models.CategoryMentalHealth, "severe_depression"},
		{"The app crashed again", models.CategoryTechIssue, "app_error"},
		{"hello!", models.CategoryGeneral, "greeting"},
		{"hello, I lost my job", models.CategoryEmployment, "job_loss"},
	}
	for _, tt := range tests {
		t.Run(tt.text, func(t *testing.T) {
			res, ok := c.Classify(tt.text)
			require.True(t, ok)
			assert.Equal(t, tt.cat, res.Category)
			assert.Equal(t, tt.sub, res.Subcategory)
			assert.GreaterOrEqual(t, res.Confidence, 0.9)
		})
	}
}

func TestRuleClassifier_NoMatch(t *testing.T) {
	c := NewRuleClassifier(nil)

	for _, text := range []string{
		"I'm not working right now",
		"my medication isn't working anymore",
		"what should I cook tonight",
	} {
		_, ok := c.Classify(text)
		assert.False(t, ok, text)
	}
}

func TestRuleTable_PriorityOrder(t *testing.T) {
	table := clearTable
	for i := 1; i < len(table); i++ {
		assert.LessOrEqual(t, table[i-1].Priority, table[i].Priority)
	}

	r, ok := crisisTable.Match("i want to die and this is goodbye")
	require.True(t, ok)
	assert.Equal(t, "explicit_ideation", r.Name)
	assert.Equal(t, models.RiskCritical, r.Risk)
}

func TestRuleClassifier_ClassifyGeneral(t *testing.T) {
	c := NewRuleClassifier(nil)

	tests := []struct {
		text string
		cat  models.Category
		sub  string
	}{
		{"my boss keeps piling on deadlines", models.CategoryEmployment, "workplace_stress"},
		{"I've been so anxious lately", models.CategoryMentalHealth, "anxiety"},
		{"my girlfriend and I keep arguing", models.CategoryRelationship, "relationship_issues"},
		{"what should I cook tonight", models.CategoryGeneral, "casual"},
	}
	for _, tt := range tests {
		res := c.ClassifyGeneral(tt.text)
		assert.Equal(t, tt.cat, res.Category, tt.text)
		assert.Equal(t, tt.sub, res.Subcategory, tt.text)
	}

	res := c.ClassifyGeneral("nothing much")
	assert.InDelta(t, 0.5, res.Confidence, 1e-9)
}

func TestRuleClassifier_Thresholds(t *testing.T) {
	c := NewRuleClassifier(nil)

	low := models.ClassificationResult{Category: models.CategoryTechIssue, Confidence: 0.8}
	assert.False(t, c.MeetsThreshold(low))
	assert.Equal(t, models.ClarifyingQuestion, c.ClarifyingQuestion(low))

	require.NoError(t, c.AdjustSensitivity(models.CategoryTechIssue, 0.75))
	assert.True(t, c.MeetsThreshold(low))
	assert.Empty(t, c.ClarifyingQuestion(low))

	assert.Error(t, c.AdjustSensitivity(models.CategoryTechIssue, 1.2))
	assert.Error(t, c.AdjustSensitivity(models.Category("WEATHER"), 0.5))

	crisis := models.ClassificationResult{Category: models.CategoryCrisis, Confidence: 0.5}
	assert.Empty(t, c.ClarifyingQuestion(crisis))
	assert.InDelta(t, 0.85, c.Thresholds()[models.CategoryCrisis], 1e-9)
}
