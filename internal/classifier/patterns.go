package classifier

import "regexp"

// Patterns is the set of condition flags detected in one message. It feeds
// general and fallback classification and the severity aggregator.
type Patterns struct {
	IsCrisis            bool `json:"is_crisis"`
	IsDepression        bool `json:"is_depression"`
	IsAnxiety           bool `json:"is_anxiety"`
	IsOverwhelmed       bool `json:"is_overwhelmed"`
	IsFrustration       bool `json:"is_frustration"`
	IsAnger             bool `json:"is_anger"`
	IsAngerSevere       bool `json:"is_anger_severe"`
	IsLoneliness        bool `json:"is_loneliness"`
	IsTrauma            bool `json:"is_trauma"`
	IsSubstance         bool `json:"is_substance"`
	IsFinancial         bool `json:"is_financial"`
	IsSelfEsteem        bool `json:"is_self_esteem"`
	IsJobLoss           bool `json:"is_job_loss"`
	IsWorkplace         bool `json:"is_workplace"`
	IsRelationship      bool `json:"is_relationship"`
	IsGreeting          bool `json:"is_greeting"`
	IsPositive          bool `json:"is_positive"`
	IsTechIssue         bool `json:"is_tech_issue"`
	TreatmentNotWorking bool `json:"treatment_not_working"`
}

// Any reports whether at least one condition flag is set.
func (p Patterns) Any() bool {
	return p != Patterns{}
}

// HasDistress reports whether any negative condition flag is set.
func (p Patterns) HasDistress() bool {
	return p.IsCrisis || p.IsDepression || p.IsAnxiety || p.IsOverwhelmed ||
		p.IsFrustration || p.IsAnger || p.IsLoneliness || p.IsTrauma ||
		p.IsSubstance || p.IsFinancial || p.IsSelfEsteem || p.IsJobLoss ||
		p.TreatmentNotWorking
}

var (
	depressionRe   = regexp.MustCompile(`\b(depress\w*|hopeless\w*|empty inside|numb|worthless|no motivation|can'?t get out of bed|sad all the time|miserable)\b`)
	anxietyRe      = regexp.MustCompile(`\b(anxi\w*|panic\w*|nervous|worried|worry|worrying|on edge|racing thoughts|scared|afraid)\b`)
	overwhelmRe    = regexp.MustCompile(`\b(overwhelm\w*|too much|drowning|can'?t cope|cannot cope|burn(ed|t)?\s*out|exhausted)\b`)
	frustrationRe  = regexp.MustCompile(`\b(frustrat\w*|annoy\w*|fed up|sick of|irritat\w*)\b`)
	angerRe        = regexp.MustCompile(`\b(angry|anger|mad at|pissed|furious|rage|hate)\b`)
	angerSevereRe  = regexp.MustCompile(`\b(furious|rage|want to (hit|punch|break)|so angry i could)\b`)
	lonelinessRe   = regexp.MustCompile(`\b(lonely|loneliness|alone|isolated|no friends|nobody cares|no one cares)\b`)
	traumaRe       = regexp.MustCompile(`\b(trauma\w*|ptsd|flashback\w*|abused|assault\w*|nightmares)\b`)
	substanceRe    = regexp.MustCompile(`\b(drinking too much|drunk every|alcohol\w*|addict\w*|relapse\w*|using again|drugs)\b`)
	financialRe    = regexp.MustCompile(`\b(money|bills|rent|debt|broke|can'?t afford|mortgage|savings|financial\w*)\b`)
	selfEsteemRe   = regexp.MustCompile(`\b(not good enough|i'?m a failure|hate myself|ugly|useless|stupid|loser)\b`)
	jobLossRe      = regexp.MustCompile(`\b(laid off|fired|lost my job|unemployed|jobless|terminated|between jobs|job hunt\w*|looking for (a )?work)\b`)
	workplaceRe    = regexp.MustCompile(`\b(boss|manager|coworker\w*|co-worker\w*|workplace|office|deadline\w*|my job|at work|career)\b`)
	relationshipRe = regexp.MustCompile(`\b(girlfriend|boyfriend|wife|husband|partner|relationship|marriage|dating|ex|cheat\w*|breakup|broke up|divorce)\b`)
	greetingRe     = regexp.MustCompile(`^(hi|hello|hey|hiya|good (morning|afternoon|evening))\b`)
	positiveRe     = regexp.MustCompile(`\b(feeling (better|good|great|happy)|doing (better|good|great|well)|good place|happy|grateful|thankful|excited|proud|relieved)\b`)
	techRe         = regexp.MustCompile(`\b(app|login|log in|button|screen|website|page|password|account|error|bug|crash\w*|load\w*|upload|download|sync|notification\w*|device|phone|laptop|computer)\b`)
	treatmentRe    = regexp.MustCompile(`\b(medication|meds|medicine|pills|therapy|therapist|treatment|antidepressant\w*|counsel\w*|prescription)\b`)
	notWorkingRe   = regexp.MustCompile(`\b(not working|isn'?t working|aren'?t working|stopped working|doesn'?t work|don'?t work|not helping|isn'?t helping)\b`)
)

// DetectPatterns scans text for every condition flag.
func DetectPatterns(text string) Patterns {
	t := normalize(text)
	_, crisis := crisisTable.Match(t)
	return Patterns{
		IsCrisis:            crisis,
		IsDepression:        depressionRe.MatchString(t),
		IsAnxiety:           anxietyRe.MatchString(t),
		IsOverwhelmed:       overwhelmRe.MatchString(t),
		IsFrustration:       frustrationRe.MatchString(t),
		IsAnger:             angerRe.MatchString(t),
		IsAngerSevere:       angerSevereRe.MatchString(t),
		IsLoneliness:        lonelinessRe.MatchString(t),
		IsTrauma:            traumaRe.MatchString(t),
		IsSubstance:         substanceRe.MatchString(t),
		IsFinancial:         financialRe.MatchString(t),
		IsSelfEsteem:        selfEsteemRe.MatchString(t),
		IsJobLoss:           jobLossRe.MatchString(t),
		IsWorkplace:         workplaceRe.MatchString(t),
		IsRelationship:      relationshipRe.MatchString(t),
		IsGreeting:          greetingRe.MatchString(t),
		IsPositive:          positiveRe.MatchString(t),
		IsTechIssue:         techRe.MatchString(t),
		TreatmentNotWorking: treatmentRe.MatchString(t) && notWorkingRe.MatchString(t),
	}
}
