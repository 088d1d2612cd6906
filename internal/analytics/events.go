package analytics

import (
	"context"
	"fmt"

	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap"
)

// ClassificationData describes one classification decision.
type ClassificationData struct {
	Category           models.Category
	Subcategory        string
	Confidence         float64
	Method             models.Method
	AmbiguousPhrase    string
	EmotionalIntensity int
	ResponseTimeMs     int64
}

// CrisisData describes a crisis detection.
type CrisisData struct {
	Severity         int
	Indicators       []string
	ResponseProvided string
	Escalated        bool
}

// EngagementAction is what the user did.
type EngagementAction string

const (
	ActionMessageSent    EngagementAction = "message_sent"
	ActionSessionStarted EngagementAction = "session_started"
	ActionSessionEnded   EngagementAction = "session_ended"
)

// EngagementData describes a user action.
type EngagementData struct {
	Action          EngagementAction
	MessageCount    int
	DurationSeconds int
}

// Rating is the user's verdict on a response.
type Rating string

const (
	RatingPositive Rating = "positive"
	RatingNegative Rating = "negative"
	RatingNeutral  Rating = "neutral"
)

// ParseRating validates a wire rating.
func ParseRating(s string) (Rating, error) {
	switch r := Rating(s); r {
	case RatingPositive, RatingNegative, RatingNeutral:
		return r, nil
	}
	return "", fmt.Errorf("unknown rating %q", s)
}

// FeedbackData is a rating with an optional comment.
type FeedbackData struct {
	Rating    Rating
	Comment   string
	MessageID string
}

// ResourceType is the kind of resource a user opened.
type ResourceType string

const (
	ResourceCrisisHotline ResourceType = "crisis_hotline"
	ResourceArticle       ResourceType = "article"
	ResourceTherapist     ResourceType = "therapist"
	ResourceCommunity     ResourceType = "community"
)

// ParseResourceType validates a wire resource type.
func ParseResourceType(s string) (ResourceType, error) {
	switch r := ResourceType(s); r {
	case ResourceCrisisHotline, ResourceArticle, ResourceTherapist, ResourceCommunity:
		return r, nil
	}
	return "", fmt.Errorf("unknown resource type %q", s)
}

// ResourceClickData records a click on a resource.
type ResourceClickData struct {
	ResourceID   string
	ResourceType ResourceType
	Category     string
}

func (p *Processor) queueEvent(typ models.EventType, userID, sessionID string, data map[string]any) error {
	return p.Queue(models.AnalyticsEvent{Type: typ, UserID: userID, SessionID: sessionID, Data: data})
}

func (p *Processor) QueueClassification(userID, sessionID string, d ClassificationData) error {
	data := map[string]any{
		"category":         string(d.Category),
		"confidence":       d.Confidence,
		"method":           string(d.Method),
		"response_time_ms": d.ResponseTimeMs,
	}
	if d.Subcategory != "" {
		data["subcategory"] = d.Subcategory
	}
	if d.AmbiguousPhrase != "" {
		data["ambiguous_phrase"] = d.AmbiguousPhrase
	}
	if d.EmotionalIntensity > 0 {
		data["emotional_intensity"] = d.EmotionalIntensity
	}
	return p.queueEvent(models.EventClassification, userID, sessionID, data)
}

func (p *Processor) QueueCrisis(userID, sessionID string, d CrisisData) error {
	return p.queueEvent(models.EventCrisis, userID, sessionID, map[string]any{
		"severity":          d.Severity,
		"indicators":        d.Indicators,
		"response_provided": d.ResponseProvided,
		"escalated":         d.Escalated,
	})
}

func (p *Processor) QueueEngagement(userID, sessionID string, d EngagementData) error {
	data := map[string]any{"action": string(d.Action)}
	if d.MessageCount > 0 {
		data["message_count"] = d.MessageCount
	}
	if d.DurationSeconds > 0 {
		data["duration_seconds"] = d.DurationSeconds
	}
	return p.queueEvent(models.EventEngagement, userID, sessionID, data)
}

func (p *Processor) QueueFeedback(userID, sessionID string, d FeedbackData) error {
	data := map[string]any{"rating": string(d.Rating)}
	if d.Comment != "" {
		data["comment"] = d.Comment
	}
	if d.MessageID != "" {
		data["message_id"] = d.MessageID
	}
	return p.queueEvent(models.EventFeedback, userID, sessionID, data)
}

func (p *Processor) QueueResourceClick(userID, sessionID string, d ResourceClickData) error {
	return p.queueEvent(models.EventResourceClick, userID, sessionID, map[string]any{
		"resource_id":   d.ResourceID,
		"resource_type": string(d.ResourceType),
		"category":      d.Category,
	})
}

// LogSink writes events to the log only. It is used when no database is
// configured.
type LogSink struct {
	logger *zap.Logger
}

func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

func (s *LogSink) WriteEvents(_ context.Context, typ models.EventType, events []models.AnalyticsEvent) error {
	s.logger.Info("Analytics events", zap.String("type", string(typ)), zap.Int("count", len(events)))
	return nil
}
