// Package analytics queues analytics events and delivers them to a sink in
// size- or time-bounded batches, retrying failed groups with exponential
// backoff and handing exhausted batches to a dead-letter store.
package analytics

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xaenox/triage-bot/internal/models"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMaxBatchSize  = 10
	DefaultMaxWait       = 5 * time.Second
	DefaultRetryAttempts = 3
)

// ErrClosed is returned when queueing after Shutdown.
var ErrClosed = errors.New("analytics processor is shut down")

// Sink persists one group of same-typed events.
type Sink interface {
	WriteEvents(ctx context.Context, typ models.EventType, events []models.AnalyticsEvent) error
}

// DeadLetterStore keeps batches that exhausted their retries.
type DeadLetterStore interface {
	StoreDeadLetter(ctx context.Context, dl models.DeadLetter) error
}

// BatchError is the failure of one event-type group inside a batch.
type BatchError struct {
	Type   models.EventType
	Events []models.AnalyticsEvent
	Err    error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("write %d %s events: %v", len(e.Events), e.Type, e.Err)
}

func (e *BatchError) Unwrap() error { return e.Err }

// Config is the static batching configuration.
type Config struct {
	MaxBatchSize  int
	MaxWait       time.Duration
	RetryAttempts int
	// OnError is called with every failed batch before it is retried.
	OnError func(err error, batch []models.AnalyticsEvent)
}

// Stats is a snapshot of processor counters.
type Stats struct {
	EventsQueued     int64      `json:"events_queued"`
	EventsProcessed  int64      `json:"events_processed"`
	EventsFailed     int64      `json:"events_failed"`
	BatchesProcessed int64      `json:"batches_processed"`
	AverageBatchSize float64    `json:"average_batch_size"`
	LastProcessedAt  *time.Time `json:"last_processed_at,omitempty"`
	QueueSize        int        `json:"queue_size"`
	FailedBatches    int        `json:"failed_batches"`
	DeadLetters      int64      `json:"dead_letters"`
	Processing       bool       `json:"processing"`
}

// Processor is the batch analytics processor. The zero value is not usable;
// construct with NewProcessor.
type Processor struct {
	cfg         Config
	sink        Sink
	deadLetters DeadLetterStore
	logger      *zap.Logger
	now         func() time.Time
	sleep       func(ctx context.Context, d time.Duration) error

	mu     sync.Mutex
	queue  []models.AnalyticsEvent
	failed [][]models.AnalyticsEvent
	timer  *time.Timer
	stats  Stats
	closed bool

	// sem holds a token while a flush runs so flushes never overlap.
	sem chan struct{}
	wg  sync.WaitGroup
}

// NewProcessor creates a processor writing to sink. deadLetters may be nil,
// in which case exhausted batches are only logged.
func NewProcessor(cfg Config, sink Sink, deadLetters DeadLetterStore, logger *zap.Logger) *Processor {
	if cfg.MaxBatchSize <= 0 {
		cfg.MaxBatchSize = DefaultMaxBatchSize
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = DefaultMaxWait
	}
	if cfg.RetryAttempts <= 0 {
		cfg.RetryAttempts = DefaultRetryAttempts
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Processor{
		cfg:         cfg,
		sink:        sink,
		deadLetters: deadLetters,
		logger:      logger,
		now:         time.Now,
		sleep:       sleepContext,
		sem:         make(chan struct{}, 1),
	}
}

// WithSleep replaces the backoff sleep. Used by tests.
func (p *Processor) WithSleep(sleep func(ctx context.Context, d time.Duration) error) *Processor {
	p.sleep = sleep
	return p
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Queue adds an event. A full queue triggers an immediate background flush;
// otherwise a flush is scheduled MaxWait after the first queued event.
func (p *Processor) Queue(ev models.AnalyticsEvent) error {
	if !ev.Type.Valid() {
		return fmt.Errorf("unknown event type %q", ev.Type)
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = p.now()
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	p.queue = append(p.queue, ev)
	p.stats.EventsQueued++
	if len(p.queue) < p.cfg.MaxBatchSize || !p.startLocked() {
		// Below the batch size, or a flush is running and picks the
		// backlog up when done.
		p.scheduleLocked()
	}
	return nil
}

// startLocked takes one batch and writes it in the background when no flush
// is running. The batch is taken now so events queued afterwards wait for
// the next flush. Caller holds mu.
func (p *Processor) startLocked() bool {
	select {
	case p.sem <- struct{}{}:
	default:
		return false
	}
	p.stopTimerLocked()
	batch := p.takeLocked()
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		p.process(context.Background(), batch)
	}()
	return true
}

// scheduleLocked arms the wait timer once per idle period.
func (p *Processor) scheduleLocked() {
	if p.timer != nil || p.closed {
		return
	}
	p.wg.Add(1)
	var t *time.Timer
	t = time.AfterFunc(p.cfg.MaxWait, func() {
		defer p.wg.Done()
		p.mu.Lock()
		if p.timer == t {
			p.timer = nil
		}
		p.mu.Unlock()
		p.flush(context.Background(), false)
	})
	p.timer = t
}

func (p *Processor) stopTimerLocked() {
	if p.timer != nil && p.timer.Stop() {
		p.wg.Done()
	}
	p.timer = nil
}

// Flush processes up to MaxBatchSize queued events now. It returns
// immediately if another flush is running.
func (p *Processor) Flush(ctx context.Context) {
	p.flush(ctx, false)
}

func (p *Processor) flush(ctx context.Context, wait bool) {
	p.mu.Lock()
	p.stopTimerLocked()
	p.mu.Unlock()

	if wait {
		select {
		case p.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}
	} else {
		select {
		case p.sem <- struct{}{}:
		default:
			return
		}
	}
	p.mu.Lock()
	batch := p.takeLocked()
	p.mu.Unlock()
	p.process(ctx, batch)
}

func (p *Processor) takeLocked() []models.AnalyticsEvent {
	n := min(len(p.queue), p.cfg.MaxBatchSize)
	batch := append([]models.AnalyticsEvent(nil), p.queue[:n]...)
	p.queue = append(p.queue[:0:0], p.queue[n:]...)
	return batch
}

// process writes batch and releases the flush token.
func (p *Processor) process(ctx context.Context, batch []models.AnalyticsEvent) {
	defer func() {
		<-p.sem
		p.mu.Lock()
		switch {
		case p.closed:
			// Shutdown drains what is left.
		case len(p.queue) >= p.cfg.MaxBatchSize:
			if !p.startLocked() {
				p.scheduleLocked()
			}
		case len(p.queue) > 0:
			p.scheduleLocked()
		}
		p.mu.Unlock()
	}()

	if len(batch) == 0 {
		return
	}

	failed, err := p.processBatch(ctx, batch)
	p.mu.Lock()
	p.stats.EventsProcessed += int64(len(batch) - len(failed))
	if err == nil {
		p.stats.BatchesProcessed++
		p.stats.AverageBatchSize = float64(p.stats.EventsProcessed) / float64(p.stats.BatchesProcessed)
		now := p.now()
		p.stats.LastProcessedAt = &now
	} else {
		p.failed = append(p.failed, failed)
		p.stats.EventsFailed += int64(len(failed))
	}
	p.mu.Unlock()

	if err == nil {
		return
	}
	p.logger.Error("Failed to process analytics batch",
		zap.Int("batch_size", len(batch)),
		zap.Int("failed_events", len(failed)),
		zap.Error(err))
	if p.cfg.OnError != nil {
		p.cfg.OnError(err, failed)
	}
	p.retryFailed(ctx)
}

// processBatch writes each event-type group independently and returns the
// events of the groups that failed.
func (p *Processor) processBatch(ctx context.Context, batch []models.AnalyticsEvent) ([]models.AnalyticsEvent, error) {
	groups := groupByType(batch)

	var (
		g    errgroup.Group
		mu   sync.Mutex
		errs []error
	)
	for _, typ := range models.AllEventTypes() {
		events := groups[typ]
		if len(events) == 0 {
			continue
		}
		g.Go(func() error {
			if typ == models.EventCrisis {
				for _, ev := range events {
					p.logger.Warn("Crisis event", zap.String("user_id", ev.UserID), zap.String("session_id", ev.SessionID))
				}
			}
			if err := p.sink.WriteEvents(ctx, typ, events); err != nil {
				mu.Lock()
				errs = append(errs, &BatchError{Type: typ, Events: events, Err: err})
				mu.Unlock()
				return err
			}
			p.logger.Debug("Wrote analytics events", zap.String("type", string(typ)), zap.Int("count", len(events)))
			return nil
		})
	}
	if g.Wait() == nil {
		return nil, nil
	}

	var failed []models.AnalyticsEvent
	for _, err := range errs {
		var be *BatchError
		if errors.As(err, &be) {
			failed = append(failed, be.Events...)
		}
	}
	return failed, errors.Join(errs...)
}

func groupByType(events []models.AnalyticsEvent) map[models.EventType][]models.AnalyticsEvent {
	out := make(map[models.EventType][]models.AnalyticsEvent)
	for _, ev := range events {
		out[ev.Type] = append(out[ev.Type], ev)
	}
	return out
}

// retryFailed retries every failed batch up to RetryAttempts times with a
// 2^attempt second backoff. Caller holds sem.
func (p *Processor) retryFailed(ctx context.Context) {
	p.mu.Lock()
	toRetry := p.failed
	p.failed = nil
	p.mu.Unlock()

	for _, batch := range toRetry {
		p.retryBatch(ctx, batch)
	}
}

func (p *Processor) retryBatch(ctx context.Context, batch []models.AnalyticsEvent) {
	var lastErr error
	for attempt := 1; attempt <= p.cfg.RetryAttempts; attempt++ {
		remaining, err := p.processBatch(ctx, batch)
		written := len(batch) - len(remaining)
		p.mu.Lock()
		p.stats.EventsProcessed += int64(written)
		p.stats.EventsFailed -= int64(written)
		p.mu.Unlock()

		if err == nil {
			p.logger.Info("Retry succeeded for analytics batch", zap.Int("attempt", attempt), zap.Int("events", written))
			return
		}
		batch, lastErr = remaining, err
		p.logger.Warn("Retry of analytics batch failed",
			zap.Int("attempt", attempt),
			zap.Int("max_attempts", p.cfg.RetryAttempts),
			zap.Error(err))

		if attempt < p.cfg.RetryAttempts {
			backoff := time.Duration(math.Pow(2, float64(attempt))) * time.Second
			if err := p.sleep(ctx, backoff); err != nil {
				lastErr = err
				break
			}
		}
	}
	// One dead letter per event type so each record is homogeneous.
	groups := groupByType(batch)
	for _, typ := range models.AllEventTypes() {
		if events := groups[typ]; len(events) > 0 {
			p.deadLetter(ctx, typ, events, lastErr)
		}
	}
}

func (p *Processor) deadLetter(ctx context.Context, typ models.EventType, batch []models.AnalyticsEvent, cause error) {
	dl := models.DeadLetter{
		ID:       uuid.NewString(),
		Type:     typ,
		Events:   batch,
		Attempts: p.cfg.RetryAttempts,
		FailedAt: p.now(),
	}
	if cause != nil {
		dl.LastErr = cause.Error()
	}

	p.mu.Lock()
	p.stats.DeadLetters++
	p.mu.Unlock()

	p.logger.Error("Analytics batch permanently failed",
		zap.String("dead_letter_id", dl.ID),
		zap.String("type", string(typ)),
		zap.Int("events", len(batch)),
		zap.Int("attempts", dl.Attempts),
		zap.Error(cause))

	if p.deadLetters == nil {
		return
	}
	// The caller's context may be the one that expired.
	storeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := p.deadLetters.StoreDeadLetter(storeCtx, dl); err != nil {
		p.logger.Error("Failed to store dead letter", zap.String("dead_letter_id", dl.ID), zap.Error(err))
	}
}

// Stats returns a snapshot of the counters.
func (p *Processor) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()

	s := p.stats
	if s.LastProcessedAt != nil {
		t := *s.LastProcessedAt
		s.LastProcessedAt = &t
	}
	s.QueueSize = len(p.queue)
	s.FailedBatches = len(p.failed)
	s.Processing = len(p.sem) > 0
	return s
}

// Shutdown stops accepting events, waits for in-flight flushes, drains the
// queue synchronously and makes one retry pass over failed batches.
func (p *Processor) Shutdown(ctx context.Context) error {
	p.logger.Info("Flushing analytics queue before shutdown")

	p.mu.Lock()
	p.closed = true
	p.stopTimerLocked()
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}

	for {
		p.mu.Lock()
		n := len(p.queue)
		p.mu.Unlock()
		if n == 0 {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		p.flush(ctx, true)
	}

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	p.retryFailed(ctx)
	<-p.sem

	p.logger.Info("Analytics queue flushed", zap.Int64("events_processed", p.Stats().EventsProcessed))
	return nil
}
