package storage

import (
	"context"

	"github.com/xaenox/triage-bot/internal/models"
)

// HistoryStore keeps the bounded conversation history of each user.
type HistoryStore interface {
	AppendMessage(ctx context.Context, userID string, msg models.Message) error
	RecentMessages(ctx context.Context, userID string, n int) ([]models.Message, error)
	ClearHistory(ctx context.Context, userID string) error
}

// EventStore is the analytics sink: it persists groups of events and the
// batches that exhausted their retries.
type EventStore interface {
	WriteEvents(ctx context.Context, typ models.EventType, events []models.AnalyticsEvent) error
	StoreDeadLetter(ctx context.Context, dl models.DeadLetter) error
	Close() error
}

var (
	_ HistoryStore = (*MemoryStorage)(nil)
	_ EventStore   = (*MemoryStorage)(nil)
	_ EventStore   = (*PostgresStorage)(nil)
)
