// Package classifier turns a user message into a ClassificationResult. The
// deterministic rule table is the fast path; ambiguous messages can be
// escalated to a reasoning service and fall back to keyword rules when that
// fails.
package classifier

import (
	"fmt"
	"sync"

	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap"
)

// CrisisConfidenceFloor is the lowest confidence a CRISIS result may carry.
const CrisisConfidenceFloor = 0.85

var (
	crisisTable = crisisRules()
	clearTable  = clearRules()
)

// Classifier is the fast-path contract: a result, or false when the rules
// have nothing confident to say.
type Classifier interface {
	Classify(text string) (models.ClassificationResult, bool)
}

var _ Classifier = (*RuleClassifier)(nil)

// Thresholds maps each category to the confidence a result needs before it
// is acted on without a clarifying question.
type Thresholds map[models.Category]float64

// DefaultThresholds returns the per-category thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		models.CategoryCrisis:       CrisisConfidenceFloor,
		models.CategoryEmployment:   0.85,
		models.CategoryMentalHealth: 0.80,
		models.CategoryRelationship: 0.85,
		models.CategoryTechIssue:    0.90,
		models.CategoryGeneral:      0.70,
	}
}

// RuleClassifier runs the crisis rules and then the clear-case rules.
type RuleClassifier struct {
	mu         sync.RWMutex
	thresholds Thresholds
	logger     *zap.Logger
}

// NewRuleClassifier creates a rule classifier with default thresholds.
func NewRuleClassifier(logger *zap.Logger) *RuleClassifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &RuleClassifier{thresholds: DefaultThresholds(), logger: logger}
}

// CheckCrisis matches text against the crisis rules only.
func (c *RuleClassifier) CheckCrisis(text string) (Rule, bool) {
	return crisisTable.Match(normalize(text))
}

// Classify implements Classifier. Crisis rules are always checked first.
func (c *RuleClassifier) Classify(text string) (models.ClassificationResult, bool) {
	t := normalize(text)
	if r, ok := crisisTable.Match(t); ok {
		c.logger.Warn("Crisis pattern matched", zap.String("rule", r.Name))
		return r.Result(), true
	}
	if r, ok := clearTable.Match(t); ok {
		return r.Result(), true
	}
	return models.ClassificationResult{}, false
}

type generalRule struct {
	match       func(Patterns) bool
	category    models.Category
	subcategory string
	confidence  float64
	intensity   int
	reasoning   string
}

var generalRules = []generalRule{
	{func(p Patterns) bool { return p.IsCrisis }, models.CategoryCrisis, "crisis", 1.0, 10, "Crisis language detected"},
	{func(p Patterns) bool { return p.IsJobLoss }, models.CategoryEmployment, "job_loss", 0.8, 7, "Job loss keywords"},
	{func(p Patterns) bool { return p.TreatmentNotWorking }, models.CategoryMentalHealth, "treatment_not_working", 0.75, 6, "Treatment effectiveness concern"},
	{func(p Patterns) bool { return p.IsTrauma }, models.CategoryMentalHealth, "trauma", 0.8, 8, "Trauma keywords"},
	{func(p Patterns) bool { return p.IsSubstance }, models.CategoryMentalHealth, "substance_use", 0.8, 8, "Substance use keywords"},
	{func(p Patterns) bool { return p.IsDepression }, models.CategoryMentalHealth, "depression", 0.8, 7, "Depression keywords"},
	{func(p Patterns) bool { return p.IsAnxiety }, models.CategoryMentalHealth, "anxiety", 0.8, 6, "Anxiety keywords"},
	{func(p Patterns) bool { return p.IsOverwhelmed }, models.CategoryMentalHealth, "stress", 0.75, 7, "Overwhelm keywords"},
	{func(p Patterns) bool { return p.IsLoneliness }, models.CategoryMentalHealth, "loneliness", 0.7, 6, "Loneliness keywords"},
	{func(p Patterns) bool { return p.IsRelationship }, models.CategoryRelationship, "relationship_issues", 0.75, 6, "Relationship keywords"},
	{func(p Patterns) bool { return p.IsWorkplace }, models.CategoryEmployment, "workplace_stress", 0.75, 5, "Workplace keywords"},
	{func(p Patterns) bool { return p.IsTechIssue }, models.CategoryTechIssue, "app_issue", 0.7, 2, "Technical keywords"},
	{func(p Patterns) bool { return p.IsGreeting }, models.CategoryGeneral, "greeting", 0.8, 3, "Greeting"},
}

// ClassifyGeneral is the keyword classification used when no rule matched
// and the message is not ambiguous. It always returns a result.
func (c *RuleClassifier) ClassifyGeneral(text string) models.ClassificationResult {
	p := DetectPatterns(text)
	for _, g := range generalRules {
		if g.match(p) {
			return models.ClassificationResult{
				Category:           g.category,
				Subcategory:        g.subcategory,
				Confidence:         g.confidence,
				Method:             models.MethodRule,
				Reasoning:          g.reasoning,
				EmotionalIntensity: g.intensity,
			}
		}
	}
	return models.ClassificationResult{
		Category:           models.CategoryGeneral,
		Subcategory:        "casual",
		Confidence:         0.5,
		Method:             models.MethodRule,
		Reasoning:          "No specific signals detected",
		EmotionalIntensity: 3,
	}
}

// Threshold returns the threshold for a category.
func (c *RuleClassifier) Threshold(cat models.Category) float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if v, ok := c.thresholds[cat]; ok {
		return v
	}
	return 0.7
}

// MeetsThreshold reports whether r is confident enough for its category.
func (c *RuleClassifier) MeetsThreshold(r models.ClassificationResult) bool {
	return r.Confidence >= c.Threshold(r.Category)
}

// ClarifyingQuestion returns the clarifying prompt when r is below its
// threshold and an empty string otherwise. Crisis results never ask.
func (c *RuleClassifier) ClarifyingQuestion(r models.ClassificationResult) string {
	if r.IsCrisis() || c.MeetsThreshold(r) {
		return ""
	}
	return models.ClarifyingQuestion
}

// AdjustSensitivity replaces the threshold for one category.
func (c *RuleClassifier) AdjustSensitivity(cat models.Category, threshold float64) error {
	if !cat.Valid() {
		return fmt.Errorf("unknown category %q", cat)
	}
	if threshold < 0 || threshold > 1 {
		return fmt.Errorf("threshold %.2f outside [0,1]", threshold)
	}
	c.mu.Lock()
	c.thresholds[cat] = threshold
	c.mu.Unlock()
	c.logger.Info("Adjusted classifier sensitivity",
		zap.String("category", string(cat)),
		zap.Float64("threshold", threshold))
	return nil
}

// Thresholds returns a copy of the current thresholds.
func (c *RuleClassifier) Thresholds() Thresholds {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make(Thresholds, len(c.thresholds))
	for k, v := range c.thresholds {
		out[k] = v
	}
	return out
}
