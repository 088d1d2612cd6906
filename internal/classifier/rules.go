package classifier

import (
	"regexp"
	"sort"
	"strings"

	"github.com/xaenox/triage-bot/internal/models"
)

// Rule is one row of the fast-path rule table.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Category    models.Category
	Subcategory string
	Confidence  float64
	Intensity   int
	Priority    int // lower runs first
	Reasoning   string
	Risk        models.RiskLevel
}

// Result converts a matched rule into a classification.
func (r Rule) Result() models.ClassificationResult {
	return models.ClassificationResult{
		Category:           r.Category,
		Subcategory:        r.Subcategory,
		Confidence:         r.Confidence,
		Method:             models.MethodRule,
		Reasoning:          r.Reasoning,
		EmotionalIntensity: r.Intensity,
	}
}

// RuleTable is an ordered set of rules evaluated by a single matcher.
type RuleTable []Rule

// NewRuleTable sorts rules by priority, keeping declaration order on ties.
func NewRuleTable(rules ...Rule) RuleTable {
	t := append(RuleTable(nil), rules...)
	sort.SliceStable(t, func(i, j int) bool { return t[i].Priority < t[j].Priority })
	return t
}

// Match returns the first rule whose pattern matches text.
func (t RuleTable) Match(text string) (Rule, bool) {
	for _, r := range t {
		if r.Pattern.MatchString(text) {
			return r, true
		}
	}
	return Rule{}, false
}

// normalize lower-cases, trims and folds typographic apostrophes so the
// patterns only need to spell the ASCII form.
func normalize(text string) string {
	text = strings.ToLower(strings.TrimSpace(text))
	return strings.NewReplacer("’", "'", "‘", "'").Replace(text)
}

func crisisRules() RuleTable {
	return NewRuleTable(
		Rule{
			Name:        "explicit_ideation",
			Pattern:     regexp.MustCompile(`\b(suicid\w*|kill myself|end it all|end my life|want to die|wanna die|better off dead|wish i was dead|wish i were dead|going to kill myself|planning to kill myself)\b`),
			Category:    models.CategoryCrisis,
			Subcategory: "suicide",
			Confidence:  1.0,
			Intensity:   10,
			Priority:    1,
			Reasoning:   "Crisis keywords detected - immediate intervention required",
			Risk:        models.RiskCritical,
		},
		Rule{
			Name:        "planning",
			Pattern:     regexp.MustCompile(`\b(have\s+a\s+plan|set\s+a\s+date|wrote\s+(a\s+)?goodbye|saying\s+goodbye|final\s+arrangements|getting\s+my\s+affairs\s+in\s+order|gave\s+away\s+my\s+things|this\s+is\s+my\s+last\s+day)\b`),
			Category:    models.CategoryCrisis,
			Subcategory: "suicide_planning",
			Confidence:  1.0,
			Intensity:   10,
			Priority:    1,
			Reasoning:   "Preparation or planning language detected",
			Risk:        models.RiskCritical,
		},
		Rule{
			Name:        "self_harm",
			Pattern:     regexp.MustCompile(`\b(hurt(ing)?\s+myself|self[\s-]harm\w*|cut(ting)?\s+myself|cutting|burn(ing)?\s+myself|overdos\w*)\b`),
			Category:    models.CategoryCrisis,
			Subcategory: "self_harm",
			Confidence:  1.0,
			Intensity:   10,
			Priority:    2,
			Reasoning:   "Self-harm language detected",
			Risk:        models.RiskHigh,
		},
		Rule{
			Name:        "despair",
			Pattern:     regexp.MustCompile(`\b((can'?t|cannot)\s+(do\s+this|take\s+it|keep\s+going|continue|live)\s+(anymore|any\s+more|much\s+longer)|(can'?t|cannot)\s+go\s+on|don'?t\s+want\s+to\s+(be\s+here|live|go\s+on)|no\s+point\s+(in\s+)?living|no\s+reason\s+to\s+live|done\s+with\s+life|done\s+living)\b`),
			Category:    models.CategoryCrisis,
			Subcategory: "despair",
			Confidence:  1.0,
			Intensity:   10,
			Priority:    3,
			Reasoning:   "Despair language detected",
			Risk:        models.RiskHigh,
		},
		Rule{
			Name:        "passive_ideation",
			Pattern:     regexp.MustCompile(`\b(hope\s+i\s+don'?t\s+wake\s+up|wish\s+i\s+would\s+die|wouldn'?t\s+mind\s+if\s+i\s+died)\b`),
			Category:    models.CategoryCrisis,
			Subcategory: "passive_ideation",
			Confidence:  1.0,
			Intensity:   10,
			Priority:    3,
			Reasoning:   "Passive ideation detected",
			Risk:        models.RiskHigh,
		},
		Rule{
			Name:        "burden",
			Pattern:     regexp.MustCompile(`\b(better\s+off\s+without\s+me|burden\s+to\s+everyone|nobody\s+would\s+miss\s+me|no\s+one\s+would\s+miss\s+me|waste\s+of\s+space)\b`),
			Category:    models.CategoryCrisis,
			Subcategory: "burden",
			Confidence:  1.0,
			Intensity:   10,
			Priority:    4,
			Reasoning:   "Burden beliefs detected",
			Risk:        models.RiskHigh,
		},
		Rule{
			Name:        "finality",
			Pattern:     regexp.MustCompile(`\b(goodbye\s+forever|this\s+is\s+goodbye|won'?t\s+see\s+me\s+again|this\s+is\s+the\s+end)\b`),
			Category:    models.CategoryCrisis,
			Subcategory: "finality",
			Confidence:  0.95,
			Intensity:   10,
			Priority:    4,
			Reasoning:   "Finality language detected",
			Risk:        models.RiskCritical,
		},
	)
}

func clearRules() RuleTable {
	return NewRuleTable(
		Rule{
			Name:        "job_loss",
			Pattern:     regexp.MustCompile(`\b(laid\s+off|got\s+fired|been\s+fired|was\s+fired|fired\s+me|terminated|lost\s+my\s+job|unemployed|jobless|between\s+jobs)\b`),
			Category:    models.CategoryEmployment,
			Subcategory: "job_loss",
			Confidence:  0.95,
			Intensity:   7,
			Priority:    1,
			Reasoning:   "Explicit job loss language detected",
		},
		Rule{
			Name:        "infidelity",
			Pattern:     regexp.MustCompile(`\b(girlfriend|boyfriend|wife|husband|partner|fiance|fiancee)\s+(is\s+|was\s+|has\s+been\s+)?(cheating|cheated)\b`),
			Category:    models.CategoryRelationship,
			Subcategory: "infidelity",
			Confidence:  0.95,
			Intensity:   9,
			Priority:    2,
			Reasoning:   "Explicit infidelity mentioned",
		},
		Rule{
			Name:        "breakup",
			Pattern:     regexp.MustCompile(`\b(divorce|divorcing|breakup|break\s+up|broke\s+up|breaking\s+up|ended\s+(our|the|my)\s+relationship)\b`),
			Category:    models.CategoryRelationship,
			Subcategory: "breakup",
			Confidence:  0.9,
			Intensity:   8,
			Priority:    3,
			Reasoning:   "Relationship ending mentioned",
		},
		Rule{
			Name:        "severe_clinical",
			Pattern:     regexp.MustCompile(`\b(severe|major|clinical)\s+(depression|anxiety|ptsd)\b`),
			Category:    models.CategoryMentalHealth,
			Subcategory: "severe_depression",
			Confidence:  0.95,
			Intensity:   9,
			Priority:    4,
			Reasoning:   "Severe mental health condition mentioned",
		},
		Rule{
			Name:        "tech_error",
			Pattern:     regexp.MustCompile(`\b(error|bug|crash|crashes|crashed|crashing|glitch\w*|freezes|freezing|frozen)\b`),
			Category:    models.CategoryTechIssue,
			Subcategory: "app_error",
			Confidence:  0.9,
			Intensity:   2,
			Priority:    5,
			Reasoning:   "Technical error mentioned",
		},
		Rule{
			Name:        "greeting",
			Pattern:     regexp.MustCompile(`^(hi|hello|hey|hiya|sup|what'?s\s+up|good\s+morning|good\s+afternoon|good\s+evening)(\s+there)?[\s!?.]*$`),
			Category:    models.CategoryGeneral,
			Subcategory: "greeting",
			Confidence:  0.95,
			Intensity:   3,
			Priority:    6,
			Reasoning:   "Simple greeting detected",
		},
	)
}
