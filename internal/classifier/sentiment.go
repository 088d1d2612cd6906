package classifier

import (
	"regexp"

	"github.com/xaenox/triage-bot/internal/models"
)

var (
	positiveSentimentRe = regexp.MustCompile(`\b(feeling\s+(much\s+|a\s+lot\s+|so\s+)?(better|good|great|happy|amazing)|doing\s+(much\s+|a\s+lot\s+)?(better|good|great|well)|i'?m\s+(good|great|happy|better|doing\s+well)|in\s+a\s+(good|better|great)\s+place|things\s+are\s+(better|good|great|looking\s+up)|just\s+checking\s+in|had\s+a\s+(good|great)\s+day)\b`)
	negatedPositiveRe   = regexp.MustCompile(`\b(not|never|no\s+longer|don'?t|isn'?t|aren'?t|wasn'?t|ain'?t)\s+(\w+\s+)?(feeling|doing|good|great|fine|okay|ok|better|happy|in\s+a)\b`)
	crisisVocabularyRe  = regexp.MustCompile(`suicid|kill|hurt|harm|\bdie\b|\bdying\b|\bdead\b|hopeless|worthless|can'?t\s+(go\s+on|take\s+it|do\s+this)|end\s+it|overdos`)
)

// HasCrisisVocabulary reports whether text contains any crisis-adjacent
// word, even outside a full crisis pattern.
func HasCrisisVocabulary(text string) bool {
	t := normalize(text)
	if _, ok := crisisTable.Match(t); ok {
		return true
	}
	return crisisVocabularyRe.MatchString(t)
}

// IsPositiveSentiment reports whether text is clearly positive or neutral
// with zero crisis vocabulary and no distress flags. A match lets the caller clear accumulated
// risk and skip escalation.
func IsPositiveSentiment(text string) bool {
	t := normalize(text)
	if HasCrisisVocabulary(t) {
		return false
	}
	if negatedPositiveRe.MatchString(t) || DetectPatterns(t).HasDistress() {
		return false
	}
	return positiveSentimentRe.MatchString(t)
}

// PositiveResult is the classification returned by the positive override.
func PositiveResult() models.ClassificationResult {
	return models.ClassificationResult{
		Category:           models.CategoryGeneral,
		Subcategory:        "positive",
		Confidence:         0.9,
		Method:             models.MethodRule,
		Reasoning:          "Positive sentiment with no crisis vocabulary",
		EmotionalIntensity: 2,
	}
}
