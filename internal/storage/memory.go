package storage

import (
	"context"
	"sync"

	"github.com/xaenox/triage-bot/internal/models"
)

const (
	DefaultHistorySize = 20
	maxMemoryEvents    = 10000
)

// MemoryStorage keeps history, events and dead letters in process memory.
type MemoryStorage struct {
	mu          sync.RWMutex
	historySize int
	history     map[string][]models.Message
	events      map[models.EventType][]models.AnalyticsEvent
	deadLetters []models.DeadLetter
}

// NewMemoryStorage creates a store keeping the last historySize messages
// per user.
func NewMemoryStorage(historySize int) *MemoryStorage {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &MemoryStorage{
		historySize: historySize,
		history:     make(map[string][]models.Message),
		events:      make(map[models.EventType][]models.AnalyticsEvent),
	}
}

func (s *MemoryStorage) AppendMessage(_ context.Context, userID string, msg models.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	h := append(s.history[userID], msg)
	if len(h) > s.historySize {
		// Copy so the evicted prefix can be collected.
		h = append([]models.Message(nil), h[len(h)-s.historySize:]...)
	}
	s.history[userID] = h
	return nil
}

// RecentMessages returns up to n messages, oldest first.
func (s *MemoryStorage) RecentMessages(_ context.Context, userID string, n int) ([]models.Message, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	h := s.history[userID]
	if n > 0 && len(h) > n {
		h = h[len(h)-n:]
	}
	return append([]models.Message(nil), h...), nil
}

func (s *MemoryStorage) ClearHistory(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.history, userID)
	return nil
}

func (s *MemoryStorage) WriteEvents(_ context.Context, typ models.EventType, events []models.AnalyticsEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	all := append(s.events[typ], events...)
	if len(all) > maxMemoryEvents {
		all = append([]models.AnalyticsEvent(nil), all[len(all)-maxMemoryEvents:]...)
	}
	s.events[typ] = all
	return nil
}

func (s *MemoryStorage) StoreDeadLetter(_ context.Context, dl models.DeadLetter) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.deadLetters = append(s.deadLetters, dl)
	return nil
}

// Events returns the stored events of a type.
func (s *MemoryStorage) Events(typ models.EventType) []models.AnalyticsEvent {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.AnalyticsEvent(nil), s.events[typ]...)
}

// DeadLetters returns the stored dead letters.
func (s *MemoryStorage) DeadLetters() []models.DeadLetter {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]models.DeadLetter(nil), s.deadLetters...)
}

func (s *MemoryStorage) Close() error {
	// Nothing to close for in-memory storage
	return nil
}
