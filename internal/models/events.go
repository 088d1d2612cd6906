package models

import "time"

// EventType is the kind of analytics event.
type EventType string

const (
	EventClassification EventType = "classification"
	EventCrisis         EventType = "crisis"
	EventEngagement     EventType = "engagement"
	EventFeedback       EventType = "feedback"
	EventResourceClick  EventType = "resource_click"
)

// AllEventTypes returns every event type in processing order.
func AllEventTypes() []EventType {
	return []EventType{
		EventClassification,
		EventCrisis,
		EventEngagement,
		EventFeedback,
		EventResourceClick,
	}
}

// AnalyticsEvent is a single observation queued for batch delivery.
type AnalyticsEvent struct {
	ID        string         `json:"id"`
	Type      EventType      `json:"type"`
	Timestamp time.Time      `json:"timestamp"`
	UserID    string         `json:"user_id"`
	SessionID string         `json:"session_id"`
	Data      map[string]any `json:"data"`
}

// DeadLetter is a batch that exhausted its retries.
type DeadLetter struct {
	ID       string           `json:"id"`
	Type     EventType        `json:"type"`
	Events   []AnalyticsEvent `json:"events"`
	Attempts int              `json:"attempts"`
	LastErr  string           `json:"last_error"`
	FailedAt time.Time        `json:"failed_at"`
}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventClassification, EventCrisis, EventEngagement, EventFeedback, EventResourceClick:
		return true
	}
	return false
}
