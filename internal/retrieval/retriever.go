// Package retrieval is the hybrid keyword/tag/topic knowledge retriever.
package retrieval

import (
	"regexp"
	"sort"
	"strings"
	"unicode"

	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap"
)

const (
	// MaxResults caps every retrieval.
	MaxResults = 5
	// relevanceFloor drops candidates with a weaker raw score.
	relevanceFloor = 0.05
	maxExpansions  = 5
	crisisBoost    = 1.5

	weightKeyword = 0.5
	weightTag     = 0.2
	weightTopic   = 0.2
	weightContent = 0.1
)

// synonyms widens token overlap. Crisis phrases come first so they survive
// the expansion cap.
var synonyms = []struct {
	term     string
	synonyms []string
}{
	{"end my life", []string{"suicide"}},
	{"end it all", []string{"suicide"}},
	{"kill myself", []string{"suicide"}},
	{"want to die", []string{"suicide"}},
	{"can't go on", []string{"suicide"}},
	{"sad", []string{"depressed", "down", "blue", "unhappy", "miserable"}},
	{"anxious", []string{"worried", "nervous", "stressed", "panicked", "on edge"}},
	{"job", []string{"work", "employment", "career", "position"}},
	{"fired", []string{"laid off", "terminated", "let go", "dismissed"}},
	{"relationship", []string{"partner", "spouse", "girlfriend", "boyfriend", "marriage"}},
	{"cheating", []string{"infidelity", "affair", "unfaithful", "betrayal"}},
	{"help", []string{"support", "assistance", "guidance", "counseling"}},
	{"worthless", []string{"inadequate", "useless", "hopeless", "failure"}},
}

var crisisKeywords = []string{
	"suicide", "kill myself", "end my life", "don't want to live", "want to die",
	"wish i was dead", "end it all", "planning to kill myself",
	"self harm", "hurt myself", "cutting", "overdosed", "burning myself",
	"have a plan", "set a date", "wrote goodbye", "saying goodbye", "final arrangements",
	"better off without me", "burden to everyone", "nobody would miss me",
	"goodbye forever", "this is goodbye", "won't see me again", "this is the end",
	"no hope", "no way out", "can't go on", "give up",
	"emergency", "crisis",
}

var apostrophes = strings.NewReplacer("’", "'", "‘", "'")

var (
	multiTopicRe = regexp.MustCompile(`\b(and|or|but|also)\b`)
	complexRe    = regexp.MustCompile(`\b(because|although|however|therefore|moreover)\b`)
)

// Retriever scores a static knowledge base against user messages. It is
// read-only after construction and safe for concurrent use.
type Retriever struct {
	entries []models.KnowledgeEntry
	logger  *zap.Logger
}

// New creates a retriever over entries.
func New(entries []models.KnowledgeEntry, logger *zap.Logger) *Retriever {
	if logger == nil {
		logger = zap.NewNop()
	}
	logger.Info("Loaded knowledge base", zap.Int("entries", len(entries)))
	return &Retriever{entries: entries, logger: logger}
}

// Len returns the number of knowledge entries.
func (r *Retriever) Len() int { return len(r.entries) }

type candidate struct {
	entry   *models.KnowledgeEntry
	score   float64
	matched []string
}

// Retrieve returns the most relevant snippets for text in descending order.
// A non-positive limit is inferred from query complexity; every limit is
// capped at MaxResults.
func (r *Retriever) Retrieve(text string, limit int) []models.RAGResult {
	if limit <= 0 {
		limit = InferLimit(text)
	}
	limit = min(limit, MaxResults)

	queries := ExpandQuery(text)
	userWords := words(text)

	var cands []candidate
	for i := range r.entries {
		e := &r.entries[i]
		raw, matched := score(e, queries, userWords)
		if raw <= relevanceFloor {
			continue
		}
		cands = append(cands, candidate{entry: e, score: raw * float64(e.Priority), matched: matched})
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	if len(cands) > 2*limit {
		cands = cands[:2*limit]
	}

	crisis := IsCrisisQuery(text)
	for i := range cands {
		c := &cands[i]
		c.score *= 1 + float64(c.entry.Authority)/20
		if crisis && strings.Contains(c.entry.Category, "crisis") {
			c.score *= crisisBoost
		}
	}
	sort.SliceStable(cands, func(i, j int) bool { return cands[i].score > cands[j].score })

	if len(cands) > limit {
		cands = cands[:limit]
	}
	out := make([]models.RAGResult, len(cands))
	for i, c := range cands {
		out[i] = models.RAGResult{
			Content:         c.entry.Content,
			Category:        c.entry.Category,
			RelevanceScore:  c.score,
			MatchedKeywords: c.matched,
		}
	}
	r.logger.Debug("Retrieved knowledge",
		zap.Int("candidates", len(cands)),
		zap.Int("limit", limit),
		zap.Bool("crisis_query", crisis))
	return out
}

// ByCategory returns the entries of a category, including its
// sub-categories (category_*).
func (r *Retriever) ByCategory(category string) []models.KnowledgeEntry {
	var out []models.KnowledgeEntry
	for _, e := range r.entries {
		if e.Category == category || strings.HasPrefix(e.Category, category+"_") {
			out = append(out, e)
		}
	}
	return out
}

func score(e *models.KnowledgeEntry, queries, userWords []string) (float64, []string) {
	matched := matchAny(e.Keywords, queries)
	tags := matchAny(lower(e.Tags), queries)
	topics := matchAny(lower(e.TopicTags), queries)

	s := ratio(len(matched), len(e.Keywords)) * weightKeyword
	s += ratio(len(tags), len(e.Tags)) * weightTag
	s += ratio(len(topics), len(e.TopicTags)) * weightTopic

	content := make(map[string]struct{})
	for _, w := range words(e.Content) {
		content[w] = struct{}{}
	}
	common := 0
	for _, w := range userWords {
		if _, ok := content[w]; ok && len(w) > 3 {
			common++
		}
	}
	s += ratio(common, len(userWords)) * weightContent
	return s, matched
}

// matchAny returns the terms found as whole words in any query.
func matchAny(terms, queries []string) []string {
	padded := make([]string, len(queries))
	for i, q := range queries {
		padded[i] = pad(q)
	}
	var out []string
	for _, t := range terms {
		pt := pad(t)
		for _, q := range padded {
			if strings.Contains(q, pt) {
				out = append(out, t)
				break
			}
		}
	}
	return out
}

func pad(s string) string {
	return " " + strings.Join(words(s), " ") + " "
}

func ratio(n, d int) float64 {
	return float64(n) / float64(max(d, 1))
}

func lower(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = strings.ToLower(s)
	}
	return out
}

func words(text string) []string {
	return strings.FieldsFunc(apostrophes.Replace(strings.ToLower(text)), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r) && r != '\''
	})
}

// ExpandQuery returns the lower-cased query followed by synonym rewrites,
// at most five queries in total.
func ExpandQuery(text string) []string {
	base := apostrophes.Replace(strings.ToLower(strings.TrimSpace(text)))
	queries := []string{base}
	for _, s := range synonyms {
		if !strings.Contains(base, s.term) {
			continue
		}
		for _, syn := range s.synonyms {
			if containsAny(queries, syn) {
				continue
			}
			queries = append(queries, strings.Replace(base, s.term, syn, 1))
		}
	}
	if len(queries) > maxExpansions {
		queries = queries[:maxExpansions]
	}
	return queries
}

func containsAny(queries []string, s string) bool {
	for _, q := range queries {
		if strings.Contains(q, s) {
			return true
		}
	}
	return false
}

// InferLimit picks how many results a query deserves: 2 for short simple
// queries, 3 for longer or multi-topic ones and 5 for long multi-clause ones.
func InferLimit(text string) int {
	t := strings.ToLower(text)
	n := len(strings.Fields(t))
	multi := multiTopicRe.MatchString(t)
	complexPhrase := complexRe.MatchString(t)

	switch {
	case n > 20 || (multi && complexPhrase):
		return 5
	case n > 10 || multi:
		return 3
	}
	return 2
}

// IsCrisisQuery reports whether text contains a crisis keyword.
func IsCrisisQuery(text string) bool {
	t := apostrophes.Replace(strings.ToLower(text))
	for _, k := range crisisKeywords {
		if strings.Contains(t, k) {
			return true
		}
	}
	return false
}
