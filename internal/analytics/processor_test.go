package analytics

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap/zaptest"
)

type fakeSink struct {
	mu     sync.Mutex
	writes map[models.EventType][][]models.AnalyticsEvent
	// failures is the number of upcoming writes per type that fail; -1
	// fails forever.
	failures map[models.EventType]int
	// gate, when set, blocks every write until it is closed.
	gate chan struct{}
}

func newFakeSink() *fakeSink {
	return &fakeSink{
		writes:   make(map[models.EventType][][]models.AnalyticsEvent),
		failures: make(map[models.EventType]int),
	}
}

func (s *fakeSink) WriteEvents(_ context.Context, typ models.EventType, events []models.AnalyticsEvent) error {
	if s.gate != nil {
		<-s.gate
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if n := s.failures[typ]; n != 0 {
		if n > 0 {
			s.failures[typ] = n - 1
		}
		return errors.New("sink unavailable")
	}
	s.writes[typ] = append(s.writes[typ], events)
	return nil
}

func (s *fakeSink) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, groups := range s.writes {
		for _, g := range groups {
			n += len(g)
		}
	}
	return n
}

func (s *fakeSink) groups(typ models.EventType) [][]models.AnalyticsEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]models.AnalyticsEvent(nil), s.writes[typ]...)
}

type fakeDeadLetters struct {
	mu      sync.Mutex
	letters []models.DeadLetter
}

func (d *fakeDeadLetters) StoreDeadLetter(_ context.Context, dl models.DeadLetter) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.letters = append(d.letters, dl)
	return nil
}

type sleepRecorder struct {
	mu     sync.Mutex
	sleeps []time.Duration
}

func (r *sleepRecorder) Sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	r.sleeps = append(r.sleeps, d)
	r.mu.Unlock()
	return nil
}

func engagement(user string) models.AnalyticsEvent {
	return models.AnalyticsEvent{
		Type:   models.EventEngagement,
		UserID: user,
		Data:   map[string]any{"action": "message_sent"},
	}
}

func TestProcessor_FullQueueFlushesOneBatch(t *testing.T) {
	sink := newFakeSink()
	p := NewProcessor(Config{MaxBatchSize: 10, MaxWait: time.Hour}, sink, nil, zaptest.NewLogger(t))

	for i := 0; i < 11; i++ {
		require.NoError(t, p.Queue(engagement("u1")))
	}
	assert.Equal(t, 1, p.Stats().QueueSize)

	assert.Eventually(t, func() bool { return sink.total() == 10 }, time.Second, 5*time.Millisecond)
	require.Len(t, sink.groups(models.EventEngagement), 1)
	assert.Len(t, sink.groups(models.EventEngagement)[0], 10)
	assert.Equal(t, 1, p.Stats().QueueSize)

	require.NoError(t, p.Shutdown(context.Background()))
	assert.Equal(t, 11, sink.total())
	assert.Equal(t, 0, p.Stats().QueueSize)
}

func TestProcessor_TimerFlush(t *testing.T) {
	sink := newFakeSink()
	p := NewProcessor(Config{MaxBatchSize: 10, MaxWait: 20 * time.Millisecond}, sink, nil, zaptest.NewLogger(t))

	for i := 0; i < 3; i++ {
		require.NoError(t, p.Queue(engagement("u1")))
	}
	assert.Eventually(t, func() bool { return sink.total() == 3 }, time.Second, 5*time.Millisecond)
	assert.Len(t, sink.groups(models.EventEngagement), 1)

	stats := p.Stats()
	assert.EqualValues(t, 3, stats.EventsQueued)
	assert.EqualValues(t, 1, stats.BatchesProcessed)
	assert.InDelta(t, 3.0, stats.AverageBatchSize, 1e-9)
	assert.NotNil(t, stats.LastProcessedAt)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProcessor_GroupFailureIsIsolatedAndRetried(t *testing.T) {
	sink := newFakeSink()
	sink.failures[models.EventClassification] = 1
	sleeper := &sleepRecorder{}

	var onErr []int
	p := NewProcessor(Config{
		MaxBatchSize: 10,
		MaxWait:      time.Hour,
		OnError: func(err error, batch []models.AnalyticsEvent) {
			var be *BatchError
			assert.ErrorAs(t, err, &be)
			onErr = append(onErr, len(batch))
		},
	}, sink, nil, zaptest.NewLogger(t)).WithSleep(sleeper.Sleep)

	require.NoError(t, p.QueueClassification("u1", "s1", ClassificationData{Category: models.CategoryGeneral, Confidence: 0.5, Method: models.MethodRule}))
	require.NoError(t, p.QueueEngagement("u1", "s1", EngagementData{Action: ActionMessageSent}))
	p.Flush(context.Background())

	assert.Equal(t, []int{1}, onErr)
	assert.Len(t, sink.groups(models.EventEngagement), 1)
	require.Len(t, sink.groups(models.EventClassification), 1)
	assert.Equal(t, "GENERAL", sink.groups(models.EventClassification)[0][0].Data["category"])
	assert.Empty(t, sleeper.sleeps)

	stats := p.Stats()
	assert.EqualValues(t, 2, stats.EventsProcessed)
	assert.EqualValues(t, 0, stats.EventsFailed)
	assert.Equal(t, 0, stats.FailedBatches)
	assert.EqualValues(t, 0, stats.DeadLetters)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProcessor_ExhaustedRetriesDeadLetter(t *testing.T) {
	sink := newFakeSink()
	sink.failures[models.EventCrisis] = -1
	sleeper := &sleepRecorder{}
	dls := &fakeDeadLetters{}

	p := NewProcessor(Config{MaxBatchSize: 10, MaxWait: time.Hour, RetryAttempts: 3}, sink, dls, zaptest.NewLogger(t)).
		WithSleep(sleeper.Sleep)

	require.NoError(t, p.QueueCrisis("u1", "s1", CrisisData{Severity: 10, Indicators: []string{"explicit_ideation"}}))
	require.NoError(t, p.QueueEngagement("u1", "s1", EngagementData{Action: ActionMessageSent}))
	p.Flush(context.Background())

	assert.Equal(t, []time.Duration{2 * time.Second, 4 * time.Second}, sleeper.sleeps)
	require.Len(t, dls.letters, 1)
	dl := dls.letters[0]
	assert.NotEmpty(t, dl.ID)
	assert.Equal(t, models.EventCrisis, dl.Type)
	assert.Equal(t, 3, dl.Attempts)
	assert.Len(t, dl.Events, 1)
	assert.Contains(t, dl.LastErr, "sink unavailable")

	stats := p.Stats()
	assert.EqualValues(t, 1, stats.EventsProcessed)
	assert.EqualValues(t, 1, stats.EventsFailed)
	assert.EqualValues(t, 1, stats.DeadLetters)
	assert.Equal(t, 0, stats.FailedBatches)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProcessor_MixedFailuresDeadLetterPerType(t *testing.T) {
	sink := newFakeSink()
	sink.failures[models.EventCrisis] = -1
	sink.failures[models.EventFeedback] = -1
	dls := &fakeDeadLetters{}

	p := NewProcessor(Config{MaxBatchSize: 10, MaxWait: time.Hour, RetryAttempts: 2}, sink, dls, zaptest.NewLogger(t)).
		WithSleep((&sleepRecorder{}).Sleep)

	require.NoError(t, p.QueueCrisis("u1", "s1", CrisisData{Severity: 9}))
	require.NoError(t, p.QueueFeedback("u1", "s1", FeedbackData{Rating: RatingNegative}))
	require.NoError(t, p.QueueFeedback("u2", "s2", FeedbackData{Rating: RatingPositive}))
	p.Flush(context.Background())

	require.Len(t, dls.letters, 2)
	byType := map[models.EventType]models.DeadLetter{}
	for _, dl := range dls.letters {
		for _, ev := range dl.Events {
			assert.Equal(t, dl.Type, ev.Type)
		}
		byType[dl.Type] = dl
	}
	assert.Len(t, byType[models.EventCrisis].Events, 1)
	assert.Len(t, byType[models.EventFeedback].Events, 2)
	assert.EqualValues(t, 2, p.Stats().DeadLetters)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProcessor_BacklogFlushesWithoutWaitingForTimer(t *testing.T) {
	sink := newFakeSink()
	sink.gate = make(chan struct{})
	p := NewProcessor(Config{MaxBatchSize: 2, MaxWait: time.Hour}, sink, nil, zaptest.NewLogger(t))

	// The first full batch blocks in the sink while the rest piles up.
	for i := 0; i < 6; i++ {
		require.NoError(t, p.Queue(engagement("u1")))
	}
	close(sink.gate)

	assert.Eventually(t, func() bool { return sink.total() == 6 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, 0, p.Stats().QueueSize)
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestProcessor_ShutdownDrains(t *testing.T) {
	sink := newFakeSink()
	p := NewProcessor(Config{MaxBatchSize: 10, MaxWait: time.Hour}, sink, nil, zaptest.NewLogger(t))

	for i := 0; i < 25; i++ {
		require.NoError(t, p.Queue(engagement("u1")))
	}
	require.NoError(t, p.Shutdown(context.Background()))

	assert.Equal(t, 25, sink.total())
	assert.Equal(t, 0, p.Stats().QueueSize)
	assert.False(t, p.Stats().Processing)
	assert.ErrorIs(t, p.Queue(engagement("u1")), ErrClosed)
}

func TestProcessor_QueueValidation(t *testing.T) {
	p := NewProcessor(Config{}, newFakeSink(), nil, zaptest.NewLogger(t))
	assert.Error(t, p.Queue(models.AnalyticsEvent{Type: "bogus"}))
	require.NoError(t, p.Shutdown(context.Background()))
}

func TestQueueHelpers(t *testing.T) {
	sink := newFakeSink()
	p := NewProcessor(Config{MaxBatchSize: 10, MaxWait: time.Hour}, sink, nil, zaptest.NewLogger(t))

	require.NoError(t, p.QueueFeedback("u1", "s1", FeedbackData{Rating: RatingPositive, Comment: "thanks"}))
	require.NoError(t, p.QueueResourceClick("u1", "s1", ResourceClickData{ResourceID: "988", ResourceType: ResourceCrisisHotline, Category: "crisis"}))
	require.NoError(t, p.Shutdown(context.Background()))

	fb := sink.groups(models.EventFeedback)
	require.Len(t, fb, 1)
	assert.Equal(t, "positive", fb[0][0].Data["rating"])
	assert.Equal(t, "thanks", fb[0][0].Data["comment"])
	assert.NotEmpty(t, fb[0][0].ID)
	assert.False(t, fb[0][0].Timestamp.IsZero())

	rc := sink.groups(models.EventResourceClick)
	require.Len(t, rc, 1)
	assert.Equal(t, "crisis_hotline", rc[0][0].Data["resource_type"])

	_, err := ParseRating("meh")
	assert.Error(t, err)
	_, err = ParseResourceType("podcast")
	assert.Error(t, err)
}
