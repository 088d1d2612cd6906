package classifier

import (
	"regexp"
	"strings"

	"github.com/xaenox/triage-bot/internal/models"
)

// windowWords is how many words on each side of an ambiguous phrase count as
// its immediate context.
const windowWords = 6

// Sense is one reading of an ambiguous phrase.
type Sense struct {
	Category    models.Category
	Subcategory string
	// Subject markers are matched against the two words right before the
	// phrase and weigh the most.
	Subject   *regexp.Regexp
	Markers   *regexp.Regexp
	Intensity int
	Reasoning string
}

// AmbiguousPhrase is a surface phrase with several plausible readings.
// Senses are listed in tie-break order. Default is used when no sense has
// any evidence and is the reading with the lowest false-negative cost.
type AmbiguousPhrase struct {
	Name    string
	Pattern *regexp.Regexp
	Senses  []Sense
	Default Sense
}

var (
	employmentSubject = regexp.MustCompile(`\b(i'?m|i am|i've been|i have been|been|currently|still)\b`)
	employmentMarkers = regexp.MustCompile(`\b(i'?m|i am|currently|right now|job|jobs|work|employ\w*|unemploy\w*|money|bills|rent|income|paycheck|salary|hired|hiring|interview\w*|resume|laid off|fired|career|boss|office)\b`)
	techSubject       = regexp.MustCompile(`\b(app|button|login|site|website|page|screen|link|feature|phone|laptop|it|this|wifi|internet|password|account)\b`)
	techMarkers       = regexp.MustCompile(`\b(app|login|log in|button|screen|site|website|page|link|password|account|phone|laptop|computer|device|wifi|internet|feature|update|sync|upload|download|notification\w*|loading|click\w*|tap\w*)\b`)
	treatmentSubject  = regexp.MustCompile(`\b(medication|meds|medicine|pills?|therapy|treatment|antidepressants?|prescription|counseling|therapist)\b`)
	treatmentMarkers  = regexp.MustCompile(`\b(medication|meds|medicine|pills?|therapy|therapist|treatment|antidepressant\w*|counsel\w*|prescription|dose|dosage|doctor|psychiatrist|coping|meditation)\b`)
	relationSubject   = regexp.MustCompile(`\b(we|us|marriage|relationship|heart)\b`)
	relationMarkers   = regexp.MustCompile(`\b(girlfriend|boyfriend|wife|husband|partner|relationship|marriage|heart|him|her|dating|ex)\b`)
	careerMarkers     = regexp.MustCompile(`\b(job|jobs|career|work|boss|resume|interview\w*|hired|hiring|office|degree|major|field)\b`)
)

func senseEmployment(sub string, intensity int, why string) Sense {
	return Sense{models.CategoryEmployment, sub, employmentSubject, employmentMarkers, intensity, why}
}

func senseTech(sub string, why string) Sense {
	return Sense{models.CategoryTechIssue, sub, techSubject, techMarkers, 3, why}
}

func senseTreatment(why string) Sense {
	return Sense{models.CategoryMentalHealth, "treatment_not_working", treatmentSubject, treatmentMarkers, 6, why}
}

func senseRelationship(sub string, why string) Sense {
	return Sense{models.CategoryRelationship, sub, relationSubject, relationMarkers, 7, why}
}

func senseSupport(sub string, intensity int, why string) Sense {
	return Sense{Category: models.CategoryMentalHealth, Subcategory: sub, Intensity: intensity, Reasoning: why}
}

var ambiguousPhrases = []AmbiguousPhrase{
	{
		Name:    "nothing_works",
		Pattern: regexp.MustCompile(`\bnothing\s+(works|is\s+working|helps|is\s+helping)\b`),
		Senses: []Sense{
			senseTreatment("Nothing helping alongside treatment language"),
			senseTech("app_issue", "Nothing working alongside device or interface nouns"),
		},
		Default: senseSupport("hopelessness", 7, "Nothing helping read as low mood"),
	},
	{
		Name:    "not_working",
		Pattern: regexp.MustCompile(`\b(not|isn'?t|aren'?t|stopped|doesn'?t|don'?t|no\s+longer)\s+work(ing|s)?\b`),
		Senses: []Sense{
			senseEmployment("unemployment", 6, "First-person employment context"),
			senseTreatment("Treatment or medication is the subject"),
			senseTech("app_issue", "A device or interface is the subject"),
		},
		Default: senseTech("app_issue", "No context; read as a functional problem"),
	},
	{
		Name:    "not_good",
		Pattern: regexp.MustCompile(`\b(not\s+(feeling\s+)?(good|great|okay|ok|right)|not\s+doing\s+(well|good|great))\b`),
		Senses: []Sense{
			senseTech("app_issue", "Quality complaint about an interface"),
			senseTreatment("Treatment quality complaint"),
		},
		Default: senseSupport("low_mood", 5, "Not feeling good read as wellbeing concern"),
	},
	{
		Name:    "cant_do",
		Pattern: regexp.MustCompile(`\b(can'?t|cannot)\s+do\s+(it|this|that)\b`),
		Senses: []Sense{
			{models.CategoryEmployment, "workplace_stress", employmentSubject, careerMarkers, 6, "Inability tied to work"},
			senseTech("app_issue", "Inability tied to an interface action"),
		},
		Default: senseSupport("overwhelm", 7, "Inability read as overwhelm"),
	},
	{
		Name:    "feeling_down",
		Pattern: regexp.MustCompile(`\b(feel(ing)?\s+down|down\s+lately|been\s+down)\b`),
		Senses: []Sense{
			senseTech("connectivity", "Down as in unavailable service"),
		},
		Default: senseSupport("low_mood", 6, "Feeling down read as low mood"),
	},
	{
		Name:    "lost",
		Pattern: regexp.MustCompile(`\b(i'?m|i\s+am|i\s+feel|feeling|so)\s+lost\b`),
		Senses: []Sense{
			{models.CategoryEmployment, "career_direction", nil, careerMarkers, 5, "Lost in a career sense"},
			senseTech("navigation", "Lost inside the interface"),
		},
		Default: senseSupport("lack_of_direction", 6, "Feeling lost read as wellbeing concern"),
	},
	{
		Name:    "broken",
		Pattern: regexp.MustCompile(`\bbroken\b`),
		Senses: []Sense{
			senseTech("app_issue", "A device or interface is broken"),
			senseRelationship("heartbreak", "Broken heart or relationship"),
		},
		Default: senseSupport("distress", 7, "Feeling broken read as distress"),
	},
	{
		Name:    "need_help",
		Pattern: regexp.MustCompile(`\b(need|want)\s+(some\s+)?help\b`),
		Senses: []Sense{
			senseTech("app_issue", "Help with the app"),
			{models.CategoryEmployment, "job_search", nil, careerMarkers, 5, "Help with work or a job search"},
			senseRelationship("relationship_issues", "Help with a relationship"),
		},
		Default: senseSupport("support_request", 6, "Help request read as support need"),
	},
	{
		Name:    "im_done",
		Pattern: regexp.MustCompile(`\b(i'?m|i\s+am)\s+(so\s+|just\s+)?done\b`),
		Senses: []Sense{
			{models.CategoryEmployment, "workplace_stress", nil, careerMarkers, 7, "Done with work"},
			senseRelationship("relationship_issues", "Done with a relationship"),
		},
		Default: senseSupport("exhaustion", 8, "Done read as exhaustion"),
	},
}

// IsAmbiguous reports whether text contains any inherently multi-sense phrase.
func IsAmbiguous(text string) bool {
	_, _, ok := findAmbiguous(normalize(text))
	return ok
}

// FindAmbiguous returns the name of the first ambiguous phrase in text.
func FindAmbiguous(text string) (string, bool) {
	p, _, ok := findAmbiguous(normalize(text))
	return p.Name, ok
}

func findAmbiguous(t string) (AmbiguousPhrase, []int, bool) {
	for _, p := range ambiguousPhrases {
		if loc := p.Pattern.FindStringIndex(t); loc != nil {
			return p, loc, true
		}
	}
	return AmbiguousPhrase{}, nil, false
}

// Disambiguate resolves the first ambiguous phrase in text by scoring the
// words around it. Evidence in the subject slot weighs 3, in the word
// window 2, anywhere else in the message 1. The phrase itself never counts
// as evidence.
func Disambiguate(text string) (models.ClassificationResult, bool) {
	t := normalize(text)
	phrase, loc, ok := findAmbiguous(t)
	if !ok {
		return models.ClassificationResult{}, false
	}

	before := strings.Fields(t[:loc[0]])
	after := strings.Fields(t[loc[1]:])
	subject := strings.Join(lastN(before, 2), " ")
	window := strings.Join(lastN(before, windowWords), " ") + " " + strings.Join(firstN(after, windowWords), " ")
	rest := t[:loc[0]] + " " + t[loc[1]:]

	best, bestScore := phrase.Default, 0
	for _, s := range phrase.Senses {
		score := 0
		if s.Subject != nil {
			score += 3 * len(s.Subject.FindAllString(subject, -1))
		}
		score += 2 * len(s.Markers.FindAllString(window, -1))
		score += len(s.Markers.FindAllString(rest, -1))
		if score > bestScore {
			best, bestScore = s, score
		}
	}

	confidence := 0.6
	if bestScore > 0 {
		confidence = 0.75
	}
	return models.ClassificationResult{
		Category:           best.Category,
		Subcategory:        best.Subcategory,
		Confidence:         confidence,
		Method:             models.MethodRule,
		Reasoning:          best.Reasoning,
		AmbiguousPhrase:    t[loc[0]:loc[1]],
		Disambiguation:     best.Reasoning,
		EmotionalIntensity: best.Intensity,
	}, true
}

func lastN(words []string, n int) []string {
	if len(words) > n {
		return words[len(words)-n:]
	}
	return words
}

func firstN(words []string, n int) []string {
	if len(words) > n {
		return words[:n]
	}
	return words
}
