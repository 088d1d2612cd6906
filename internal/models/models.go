package models

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Category is the closed set of topics a message can be classified into.
type Category string

const (
	CategoryCrisis       Category = "CRISIS"
	CategoryEmployment   Category = "EMPLOYMENT"
	CategoryRelationship Category = "RELATIONSHIP"
	CategoryMentalHealth Category = "MENTAL_HEALTH"
	CategoryTechIssue    Category = "TECH_ISSUE"
	CategoryGeneral      Category = "GENERAL"
)

// AllCategories returns every valid category in a stable order.
func AllCategories() []Category {
	return []Category{
		CategoryCrisis,
		CategoryEmployment,
		CategoryRelationship,
		CategoryMentalHealth,
		CategoryTechIssue,
		CategoryGeneral,
	}
}

// Valid reports whether c is one of the six known categories.
func (c Category) Valid() bool {
	return slices.Contains(AllCategories(), c)
}

// ParseCategory converts a wire value into a Category.
func ParseCategory(s string) (Category, error) {
	c := Category(strings.ToUpper(strings.TrimSpace(s)))
	if !c.Valid() {
		return "", fmt.Errorf("unknown category %q", s)
	}
	return c, nil
}

// Method records which path produced a classification.
type Method string

const (
	MethodRule     Method = "rule"
	MethodLLM      Method = "llm"
	MethodFallback Method = "fallback"
)

// Role is the author of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one immutable turn of a conversation.
type Message struct {
	Text      string    `json:"text"`
	Role      Role      `json:"role"`
	Timestamp time.Time `json:"timestamp"`
}

// UserProfile carries optional long-lived hints about a user.
type UserProfile struct {
	RecurringTopics   []string `json:"recurring_topics,omitempty"`
	EmotionalBaseline string   `json:"emotional_baseline,omitempty"`
}

// ConversationContext is the read-only input handed to the classifiers.
type ConversationContext struct {
	RecentMessages []Message    `json:"recent_messages"`
	UserProfile    *UserProfile `json:"user_profile,omitempty"`
}

// ClassificationResult is the structured decision for one message.
type ClassificationResult struct {
	Category           Category `json:"category"`
	Subcategory        string   `json:"subcategory,omitempty"`
	Confidence         float64  `json:"confidence"`
	Method             Method   `json:"method"`
	Reasoning          string   `json:"reasoning,omitempty"`
	AmbiguousPhrase    string   `json:"ambiguous_phrase,omitempty"`
	Disambiguation     string   `json:"disambiguation,omitempty"`
	EmotionalIntensity int      `json:"emotional_intensity,omitempty"`
	SuggestedResponse  string   `json:"suggested_response,omitempty"`
}

// IsCrisis reports whether the result is a crisis classification.
func (r ClassificationResult) IsCrisis() bool {
	return r.Category == CategoryCrisis
}

// KnowledgeEntry is a static, curated snippet of supporting knowledge.
type KnowledgeEntry struct {
	ID        string   `json:"id"`
	Category  string   `json:"category"`
	Content   string   `json:"content"`
	Tags      []string `json:"tags"`
	Keywords  []string `json:"keywords"`
	Priority  int      `json:"priority"`
	Authority int      `json:"authority"`
	TopicTags []string `json:"topic_tags"`
	Chunks    []string `json:"chunks"`
}

// RAGResult is one retrieved knowledge snippet with its score.
type RAGResult struct {
	Content         string   `json:"content"`
	Category        string   `json:"category"`
	RelevanceScore  float64  `json:"relevance_score"`
	MatchedKeywords []string `json:"matched_keywords"`
}
