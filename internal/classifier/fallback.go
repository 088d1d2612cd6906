package classifier

import "github.com/xaenox/triage-bot/internal/models"

// maxFallbackConfidence caps every fallback result.
const maxFallbackConfidence = 0.9

// Fallback classifies text without the reasoning service. It runs a reduced
// keyword cascade, never reports more than 0.9 confidence and always tags
// the result as fallback.
func Fallback(text string) models.ClassificationResult {
	res := fallbackCascade(text)
	res.Method = models.MethodFallback
	if res.Confidence > maxFallbackConfidence {
		res.Confidence = maxFallbackConfidence
	}
	return res
}

func fallbackCascade(text string) models.ClassificationResult {
	if r, ok := crisisTable.Match(normalize(text)); ok {
		res := r.Result()
		res.Confidence = maxFallbackConfidence
		return res
	}
	if res, ok := Disambiguate(text); ok {
		return res
	}

	p := DetectPatterns(text)
	switch {
	case p.IsJobLoss || p.IsWorkplace:
		return fallbackResult(models.CategoryEmployment, "employment_concern", 0.7, 6, "Employment keywords")
	case p.IsDepression || p.IsAnxiety || p.IsOverwhelmed || p.IsTrauma || p.IsSubstance || p.IsLoneliness:
		return fallbackResult(models.CategoryMentalHealth, "emotional_support", 0.7, 6, "Mental health keywords")
	case p.IsRelationship:
		return fallbackResult(models.CategoryRelationship, "relationship_issues", 0.7, 6, "Relationship keywords")
	case p.IsTechIssue:
		return fallbackResult(models.CategoryTechIssue, "app_issue", 0.7, 2, "Technical keywords")
	}
	return fallbackResult(models.CategoryGeneral, "casual", 0.5, 3, "No specific signals detected")
}

func fallbackResult(cat models.Category, sub string, conf float64, intensity int, why string) models.ClassificationResult {
	return models.ClassificationResult{
		Category:           cat,
		Subcategory:        sub,
		Confidence:         conf,
		Reasoning:          why,
		EmotionalIntensity: intensity,
	}
}
