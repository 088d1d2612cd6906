// Package severity merges detected condition flags into one ranked
// severity report.
package severity

import (
	"sort"

	"github.com/xaenox/triage-bot/internal/classifier"
)

// Priority is the urgency bucket of a scored category.
type Priority string

const (
	PriorityCritical Priority = "critical"
	PriorityHigh     Priority = "high"
	PriorityElevated Priority = "elevated"
	PriorityModerate Priority = "moderate"
)

// CategoryScore is one detected condition with its severity.
type CategoryScore struct {
	Category string   `json:"category"`
	Severity int      `json:"severity"`
	Priority Priority `json:"priority"`
}

// Report is the aggregated severity of a message.
type Report struct {
	OverallSeverity int             `json:"overall_severity"`
	Categories      []CategoryScore `json:"categories"`
	Recommendations []string        `json:"recommendations"`
}

type rule struct {
	category        string
	detected        func(classifier.Patterns) bool
	severity        func(classifier.Patterns) int
	priority        func(int) Priority
	recommendations func(sev int) []string
}

func fixed(n int) func(classifier.Patterns) int {
	return func(classifier.Patterns) int { return n }
}

func always(p Priority) func(int) Priority {
	return func(int) Priority { return p }
}

func atLeast(threshold int, above, below Priority) func(int) Priority {
	return func(sev int) Priority {
		if sev >= threshold {
			return above
		}
		return below
	}
}

func boosted(base, boost int, when func(classifier.Patterns) bool) func(classifier.Patterns) int {
	return func(p classifier.Patterns) int {
		if when(p) {
			return boost
		}
		return base
	}
}

func recs(r ...string) func(int) []string {
	return func(int) []string { return r }
}

var rules = []rule{
	{
		category: "Crisis/Suicide",
		detected: func(p classifier.Patterns) bool { return p.IsCrisis },
		severity: fixed(10),
		priority: always(PriorityCritical),
		recommendations: recs(
			"Immediate crisis intervention required",
			"Display 988 Suicide & Crisis Lifeline",
			"Offer Crisis Text Line (text HOME to 741741)",
		),
	},
	{
		category: "Depression",
		detected: func(p classifier.Patterns) bool { return p.IsDepression },
		severity: boosted(7, 9, func(p classifier.Patterns) bool { return p.IsCrisis }),
		priority: atLeast(8, PriorityHigh, PriorityElevated),
		recommendations: func(sev int) []string {
			out := []string{"Offer mood tracking and behavioral activation"}
			if sev >= 8 {
				out = append(out, "Strongly recommend professional therapy")
			}
			return out
		},
	},
	{
		category:        "Anxiety & Stress",
		detected:        func(p classifier.Patterns) bool { return p.IsAnxiety },
		severity:        boosted(6, 8, func(p classifier.Patterns) bool { return p.IsOverwhelmed }),
		priority:        atLeast(7, PriorityHigh, PriorityElevated),
		recommendations: recs("Offer breathing exercises and grounding techniques", "Suggest mindfulness practices"),
	},
	{
		category:        "Overwhelm",
		detected:        func(p classifier.Patterns) bool { return p.IsOverwhelmed },
		severity:        fixed(7),
		priority:        always(PriorityElevated),
		recommendations: recs("Help break down tasks into manageable steps", "Suggest priority matrix"),
	},
	{
		category: "Frustration",
		detected: func(p classifier.Patterns) bool { return p.IsFrustration },
		severity: boosted(5, 6, func(p classifier.Patterns) bool { return p.IsOverwhelmed }),
		priority: always(PriorityModerate),
		recommendations: recs(
			"Help identify what specifically is blocking progress",
			"Break down the problem into smaller steps",
		),
	},
	{
		category:        "Anger",
		detected:        func(p classifier.Patterns) bool { return p.IsAnger || p.IsAngerSevere },
		severity:        boosted(6, 7, func(p classifier.Patterns) bool { return p.IsAngerSevere }),
		priority:        always(PriorityElevated),
		recommendations: recs("Offer anger management techniques", "Suggest physical outlets"),
	},
	{
		category:        "Loneliness & Isolation",
		detected:        func(p classifier.Patterns) bool { return p.IsLoneliness },
		severity:        boosted(6, 7, func(p classifier.Patterns) bool { return p.IsDepression }),
		priority:        always(PriorityElevated),
		recommendations: recs("Connect to community resources", "Suggest social connection strategies"),
	},
	{
		category:        "Trauma/PTSD",
		detected:        func(p classifier.Patterns) bool { return p.IsTrauma },
		severity:        fixed(8),
		priority:        always(PriorityHigh),
		recommendations: recs("Recommend trauma-informed therapy (EMDR, CPT)", "Offer grounding techniques for flashbacks"),
	},
	{
		category:        "Substance Use",
		detected:        func(p classifier.Patterns) bool { return p.IsSubstance },
		severity:        fixed(8),
		priority:        always(PriorityHigh),
		recommendations: recs("Recommend substance abuse counseling", "Provide recovery resources"),
	},
	{
		category:        "Financial Stress",
		detected:        func(p classifier.Patterns) bool { return p.IsFinancial },
		severity:        fixed(5),
		priority:        always(PriorityModerate),
		recommendations: recs("Connect to financial counseling resources"),
	},
	{
		category:        "Self-Esteem/Self-Worth",
		detected:        func(p classifier.Patterns) bool { return p.IsSelfEsteem },
		severity:        fixed(5),
		priority:        always(PriorityModerate),
		recommendations: recs("Explore self-compassion practices", "Challenge negative self-talk"),
	},
}

// Score aggregates the detected patterns. OverallSeverity is the maximum
// category severity, so one critical signal is never averaged away.
// Categories are ordered by descending severity and recommendations are
// deduplicated in first-seen order.
func Score(p classifier.Patterns) Report {
	rep := Report{Categories: []CategoryScore{}, Recommendations: []string{}}
	if !p.Any() {
		return rep
	}
	seen := make(map[string]struct{})

	for _, r := range rules {
		if !r.detected(p) {
			continue
		}
		sev := r.severity(p)
		rep.Categories = append(rep.Categories, CategoryScore{
			Category: r.category,
			Severity: sev,
			Priority: r.priority(sev),
		})
		rep.OverallSeverity = max(rep.OverallSeverity, sev)
		for _, rec := range r.recommendations(sev) {
			if _, dup := seen[rec]; dup {
				continue
			}
			seen[rec] = struct{}{}
			rep.Recommendations = append(rep.Recommendations, rec)
		}
	}

	sort.SliceStable(rep.Categories, func(i, j int) bool {
		return rep.Categories[i].Severity > rep.Categories[j].Severity
	})
	rep.OverallSeverity = min(rep.OverallSeverity, 10)
	return rep
}
