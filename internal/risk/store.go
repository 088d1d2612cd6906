// Package risk keeps the per-user crisis risk state. Work for one user is
// serialized under that user's lock; different users never contend.
package risk

import (
	"context"
	"sync"
	"time"

	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap"
)

const (
	DefaultIdleTTL  = 24 * time.Hour
	DefaultMaxUsers = 10000

	// maxIndicators bounds the indicator log kept per user.
	maxIndicators = 50
)

// Options configures a Store.
type Options struct {
	IdleTTL  time.Duration
	MaxUsers int
}

type slot struct {
	mu       sync.Mutex
	state    models.RiskState
	lastSeen time.Time
	refs     int // guarded by Store.mu
}

// Store is an id-indexed map of risk states with idle eviction and a size
// bound. Slots in use are never evicted.
type Store struct {
	mu       sync.Mutex
	users    map[string]*slot
	idleTTL  time.Duration
	maxUsers int
	now      func() time.Time
	logger   *zap.Logger
}

// NewStore creates a store. Zero options take the defaults.
func NewStore(opts Options, logger *zap.Logger) *Store {
	if opts.IdleTTL <= 0 {
		opts.IdleTTL = DefaultIdleTTL
	}
	if opts.MaxUsers <= 0 {
		opts.MaxUsers = DefaultMaxUsers
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Store{
		users:    make(map[string]*slot),
		idleTTL:  opts.IdleTTL,
		maxUsers: opts.MaxUsers,
		now:      time.Now,
		logger:   logger,
	}
}

// WithClock replaces the time source. Used by tests.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.mu.Lock()
	s.now = now
	s.mu.Unlock()
	return s
}

func (s *Store) acquire(userID string) *slot {
	s.mu.Lock()
	defer s.mu.Unlock()

	sl, ok := s.users[userID]
	if !ok {
		if len(s.users) >= s.maxUsers {
			s.evictOldestLocked()
		}
		sl = &slot{state: models.RiskState{UserID: userID, RiskLevel: models.RiskNone}}
		s.users[userID] = sl
	}
	sl.refs++
	return sl
}

func (s *Store) release(sl *slot) {
	s.mu.Lock()
	sl.refs--
	sl.lastSeen = s.now()
	s.mu.Unlock()
}

// evictOldestLocked drops the least recently seen idle slot.
func (s *Store) evictOldestLocked() {
	var (
		oldestID string
		oldest   time.Time
	)
	for id, sl := range s.users {
		if sl.refs > 0 {
			continue
		}
		if oldestID == "" || sl.lastSeen.Before(oldest) {
			oldestID, oldest = id, sl.lastSeen
		}
	}
	if oldestID != "" {
		delete(s.users, oldestID)
		s.logger.Debug("Evicted risk state", zap.String("user_id", oldestID))
	}
}

// Do runs fn with exclusive access to the user's state and returns a copy
// of the state after fn. Calls for the same user run one at a time.
func (s *Store) Do(userID string, fn func(state *models.RiskState)) models.RiskState {
	sl := s.acquire(userID)
	defer s.release(sl)

	sl.mu.Lock()
	defer sl.mu.Unlock()

	fn(&sl.state)
	return sl.state.Clone()
}

// Get returns a copy of the user's state.
func (s *Store) Get(userID string) (models.RiskState, bool) {
	s.mu.Lock()
	sl, ok := s.users[userID]
	if ok {
		sl.refs++
	}
	s.mu.Unlock()
	if !ok {
		return models.RiskState{}, false
	}
	defer s.release(sl)

	sl.mu.Lock()
	defer sl.mu.Unlock()
	return sl.state.Clone(), true
}

// Reset clears the user's indicators and level.
func (s *Store) Reset(userID string) {
	s.Do(userID, func(st *models.RiskState) {
		st.Clear()
		st.UpdatedAt = s.clock()
	})
}

func (s *Store) clock() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.now()
}

// Len returns the number of tracked users.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.users)
}

// Sweep drops idle states older than the idle ttl.
func (s *Store) Sweep() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.idleTTL)
	removed := 0
	for id, sl := range s.users {
		if sl.refs == 0 && sl.lastSeen.Before(cutoff) {
			delete(s.users, id)
			removed++
		}
	}
	return removed
}

// RunSweeper sweeps every interval until ctx is done.
func (s *Store) RunSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(); n > 0 {
				s.logger.Info("Evicted idle risk states", zap.Int("removed", n))
			}
		}
	}
}

// Observe appends an indicator and raises the level. The level only goes
// down through Clear.
func Observe(st *models.RiskState, ind models.RiskIndicator, level models.RiskLevel) {
	st.Indicators = append(st.Indicators, ind)
	if n := len(st.Indicators); n > maxIndicators {
		st.Indicators = append([]models.RiskIndicator(nil), st.Indicators[n-maxIndicators:]...)
	}
	st.RiskLevel = st.RiskLevel.Max(level)
	st.UpdatedAt = ind.Timestamp
}
