package risk

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap/zaptest"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newTestStore(t *testing.T, opts Options) (*Store, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)}
	return NewStore(opts, zaptest.NewLogger(t)).WithClock(clock.Now), clock
}

func TestStore_ObserveRaisesLevel(t *testing.T) {
	s, clock := newTestStore(t, Options{})

	st := s.Do("u1", func(st *models.RiskState) {
		Observe(st, models.RiskIndicator{Type: "despair", Timestamp: clock.Now()}, models.RiskHigh)
		Observe(st, models.RiskIndicator{Type: "exhaustion", Timestamp: clock.Now()}, models.RiskLow)
	})
	assert.Equal(t, models.RiskHigh, st.RiskLevel)
	assert.Len(t, st.Indicators, 2)
	assert.Equal(t, "u1", st.UserID)

	got, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, st, got)

	// Returned copies do not alias the stored state.
	got.Indicators[0].Type = "mutated"
	again, _ := s.Get("u1")
	assert.Equal(t, "despair", again.Indicators[0].Type)
}

func TestStore_Reset(t *testing.T) {
	s, clock := newTestStore(t, Options{})
	s.Do("u1", func(st *models.RiskState) {
		Observe(st, models.RiskIndicator{Type: "ideation", Timestamp: clock.Now()}, models.RiskCritical)
	})

	s.Reset("u1")
	st, ok := s.Get("u1")
	require.True(t, ok)
	assert.Equal(t, models.RiskNone, st.RiskLevel)
	assert.Empty(t, st.Indicators)
}

func TestStore_IndicatorsBounded(t *testing.T) {
	s, clock := newTestStore(t, Options{})
	st := s.Do("u1", func(st *models.RiskState) {
		for i := 0; i < maxIndicators+10; i++ {
			Observe(st, models.RiskIndicator{Type: "low", Timestamp: clock.Now()}, models.RiskLow)
		}
	})
	assert.Len(t, st.Indicators, maxIndicators)
}

func TestStore_SweepIdle(t *testing.T) {
	s, clock := newTestStore(t, Options{IdleTTL: time.Hour})
	s.Do("old", func(*models.RiskState) {})
	clock.Advance(30 * time.Minute)
	s.Do("fresh", func(*models.RiskState) {})
	clock.Advance(31 * time.Minute)

	assert.Equal(t, 1, s.Sweep())
	_, ok := s.Get("old")
	assert.False(t, ok)
	_, ok = s.Get("fresh")
	assert.True(t, ok)
}

func TestStore_MaxUsersEvictsOldest(t *testing.T) {
	s, clock := newTestStore(t, Options{MaxUsers: 2})
	s.Do("a", func(*models.RiskState) {})
	clock.Advance(time.Second)
	s.Do("b", func(*models.RiskState) {})
	clock.Advance(time.Second)
	s.Do("c", func(*models.RiskState) {})

	assert.Equal(t, 2, s.Len())
	_, ok := s.Get("a")
	assert.False(t, ok)
}

func TestStore_SerializesSameUser(t *testing.T) {
	s, _ := newTestStore(t, Options{})

	var (
		wg      sync.WaitGroup
		active  int
		maxSeen int
		mu      sync.Mutex
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Do("same", func(st *models.RiskState) {
				mu.Lock()
				active++
				maxSeen = max(maxSeen, active)
				mu.Unlock()

				time.Sleep(time.Millisecond)
				st.Indicators = append(st.Indicators, models.RiskIndicator{Type: "x"})

				mu.Lock()
				active--
				mu.Unlock()
			})
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxSeen)
	st, _ := s.Get("same")
	assert.Len(t, st.Indicators, 20)
}
