package retrieval

import (
	_ "embed"
	"fmt"
	"regexp"
	"strings"

	"github.com/xaenox/triage-bot/internal/models"
	"gopkg.in/yaml.v3"
)

//go:embed knowledge.yaml
var defaultKnowledge []byte

const (
	chunkSentences = 3
	chunkOverlap   = 1
)

var priorities = map[string]int{
	"crisis_resources":     10,
	"job_loss":             9,
	"unemployment_support": 8,
	"depression":           7,
	"anxiety":              6,
	"workplace_stress":     5,
	"support_systems":      4,
	"therapy":              3,
	"self_care":            2,
	"general":              1,
}

var authorities = map[string]int{
	"crisis_resources":      10,
	"therapy":               9,
	"depression":            8,
	"anxiety":               8,
	"trauma":                8,
	"ptsd":                  8,
	"paranoia":              8,
	"job_loss":              7,
	"unemployment_support":  7,
	"relationship_cheating": 7,
	"workplace_stress":      6,
	"coping_strategies":     6,
	"self_care":             5,
	"general":               4,
}

// topicPrefixes maps a category prefix to its semantic topic tags.
var topicPrefixes = []struct {
	prefix string
	topics []string
}{
	{"depression", []string{"mood", "emotional_health", "mental_illness"}},
	{"anxiety", []string{"stress", "worry", "panic", "emotional_health"}},
	{"job_loss", []string{"career", "employment", "financial", "life_transition"}},
	{"workplace", []string{"career", "work_life_balance", "professional"}},
	{"relationship", []string{"interpersonal", "social", "connection"}},
	{"crisis", []string{"emergency", "safety", "urgent_care"}},
	{"therapy", []string{"treatment", "professional_help", "healing"}},
}

var importantWords = []string{
	"job", "work", "employment", "career", "boss", "colleague", "office",
	"laid off", "fired", "terminated", "unemployed", "job loss", "downsized",
	"sad", "depressed", "anxious", "stressed", "overwhelmed", "hopeless",
	"relationship", "family", "partner", "friend", "lonely", "isolated",
	"cheating", "infidelity", "betrayal", "trust", "communication",
	"therapy", "counseling", "support", "help", "crisis", "suicide",
	"identity", "community", "belonging", "acceptance",
}

type knowledgeFile struct {
	Entries []rawEntry `yaml:"entries"`
}

type rawEntry struct {
	ID        string   `yaml:"id"`
	Category  string   `yaml:"category"`
	Content   string   `yaml:"content"`
	Tags      []string `yaml:"tags"`
	Priority  int      `yaml:"priority"`
	Authority int      `yaml:"authority"`
}

// DefaultKnowledge parses the embedded knowledge base.
func DefaultKnowledge() ([]models.KnowledgeEntry, error) {
	return LoadKnowledge(defaultKnowledge)
}

// LoadKnowledge parses a YAML knowledge base and derives keywords, topic
// tags, chunks, priority and authority for every entry.
func LoadKnowledge(data []byte) ([]models.KnowledgeEntry, error) {
	var f knowledgeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("failed to parse knowledge base: %w", err)
	}

	seen := make(map[string]struct{}, len(f.Entries))
	entries := make([]models.KnowledgeEntry, 0, len(f.Entries))
	for i, e := range f.Entries {
		if e.ID == "" {
			e.ID = fmt.Sprintf("%s-%d", e.Category, i)
		}
		if _, dup := seen[e.ID]; dup {
			return nil, fmt.Errorf("duplicate knowledge entry id %q", e.ID)
		}
		seen[e.ID] = struct{}{}
		if e.Category == "" || strings.TrimSpace(e.Content) == "" {
			return nil, fmt.Errorf("knowledge entry %q needs a category and content", e.ID)
		}
		entries = append(entries, buildEntry(e))
	}
	return entries, nil
}

func buildEntry(e rawEntry) models.KnowledgeEntry {
	priority := e.Priority
	if priority <= 0 {
		priority = lookup(priorities, e.Category, 1)
	}
	authority := e.Authority
	if authority <= 0 {
		authority = lookup(authorities, e.Category, 5)
	}
	authority = max(1, min(10, authority))

	content := strings.TrimSpace(e.Content)
	return models.KnowledgeEntry{
		ID:        e.ID,
		Category:  e.Category,
		Content:   content,
		Tags:      e.Tags,
		Keywords:  extractKeywords(content, e.Tags),
		Priority:  priority,
		Authority: authority,
		TopicTags: topicTags(e.Category, e.Tags),
		Chunks:    Chunk(content),
	}
}

func lookup(table map[string]int, category string, def int) int {
	if v, ok := table[category]; ok {
		return v
	}
	return def
}

func topicTags(category string, tags []string) []string {
	base := []string{"general"}
	for _, tp := range topicPrefixes {
		if strings.HasPrefix(category, tp.prefix) {
			base = tp.topics
			break
		}
	}
	out := uniq(append(append([]string(nil), base...), firstN(tags, 3)...))
	return out
}

func extractKeywords(content string, tags []string) []string {
	text := strings.ToLower(content)
	keywords := make([]string, 0, len(tags)+8)
	for _, t := range tags {
		keywords = append(keywords, strings.ToLower(t))
	}
	for _, w := range importantWords {
		if strings.Contains(text, w) {
			keywords = append(keywords, w)
		}
	}
	return uniq(keywords)
}

// A trailing sentence without terminal punctuation still counts.
var sentenceRe = regexp.MustCompile(`[^.!?]+([.!?]+|$)`)

// Chunk splits content into overlapping windows of three sentences that
// share one sentence with the previous window.
func Chunk(content string) []string {
	var sentences []string
	for _, s := range sentenceRe.FindAllString(content, -1) {
		if s = strings.TrimSpace(s); s != "" {
			sentences = append(sentences, s)
		}
	}
	if len(sentences) == 0 {
		return []string{content}
	}

	var chunks []string
	step := chunkSentences - chunkOverlap
	for i := 0; i < len(sentences); i += step {
		end := min(i+chunkSentences, len(sentences))
		chunks = append(chunks, strings.Join(sentences[i:end], " "))
		if end == len(sentences) {
			break
		}
	}
	return chunks
}

func uniq(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, s := range in {
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}

func firstN(s []string, n int) []string {
	if len(s) > n {
		return s[:n]
	}
	return s
}
