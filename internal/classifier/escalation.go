package classifier

import (
	"context"
	"time"

	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/ratelimit"
	"go.uber.org/zap"
)

// ResultCache stores validated reasoning-service classifications.
type ResultCache interface {
	Get(ctx context.Context, key string) (models.ClassificationResult, bool, error)
	Set(ctx context.Context, key string, res models.ClassificationResult, ttl time.Duration) error
	Clear(ctx context.Context) error
}

// MemoryResultCache is a process-local ResultCache.
type MemoryResultCache struct {
	cache *ratelimit.Cache[models.ClassificationResult]
}

// NewMemoryResultCache wraps a TTL cache.
func NewMemoryResultCache(cache *ratelimit.Cache[models.ClassificationResult]) *MemoryResultCache {
	return &MemoryResultCache{cache: cache}
}

func (m *MemoryResultCache) Get(_ context.Context, key string) (models.ClassificationResult, bool, error) {
	res, ok := m.cache.Get(key)
	return res, ok, nil
}

func (m *MemoryResultCache) Set(_ context.Context, key string, res models.ClassificationResult, ttl time.Duration) error {
	m.cache.Set(key, res, ttl)
	return nil
}

func (m *MemoryResultCache) Clear(context.Context) error {
	m.cache.Clear()
	return nil
}

// Escalation is a successful escalated classification.
type Escalation struct {
	Result   models.ClassificationResult
	CacheHit bool
}

// Escalator gates the reasoning service behind the cache and the limiter.
// The cache is consulted first so a hit never spends rate-limit budget.
type Escalator struct {
	llm     *LLMClassifier
	limiter *ratelimit.Limiter
	cache   ResultCache
	ttl     time.Duration
	logger  *zap.Logger
}

// NewEscalator creates an escalator. A nil llm makes every call fail with
// ErrNoReasoner; a nil cache disables caching.
func NewEscalator(llm *LLMClassifier, limiter *ratelimit.Limiter, cache ResultCache, ttl time.Duration, logger *zap.Logger) *Escalator {
	if limiter == nil {
		limiter = ratelimit.NewLimiter(ratelimit.DefaultConfig())
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Escalator{llm: llm, limiter: limiter, cache: cache, ttl: ttl, logger: logger}
}

// Enabled reports whether a reasoning service is configured.
func (e *Escalator) Enabled() bool {
	return e.llm != nil
}

// Classify returns a cached or freshly validated classification. It fails
// with ErrNoReasoner, *RateLimitError, *NetworkError or *ValidationError;
// callers fall back on any error.
func (e *Escalator) Classify(ctx context.Context, text string, convCtx models.ConversationContext) (Escalation, error) {
	if e.llm == nil {
		return Escalation{}, ErrNoReasoner
	}

	key := ratelimit.Key(text, convCtx)
	if e.cache != nil {
		res, ok, err := e.cache.Get(ctx, key)
		if err != nil {
			e.logger.Warn("Failed to read classification cache", zap.Error(err))
		} else if ok {
			return Escalation{Result: res, CacheHit: true}, nil
		}
	}

	if d := e.limiter.Allow(); !d.Allowed {
		e.logger.Warn("Reasoning service rate limited",
			zap.String("reason", d.Reason),
			zap.Int("retry_after_seconds", d.RetryAfterSeconds()))
		return Escalation{}, &RateLimitError{Reason: d.Reason, RetryAfter: d.RetryAfter}
	}

	res, err := e.llm.ClassifyWithLLM(ctx, text, convCtx)
	if err != nil {
		return Escalation{}, err
	}

	if e.cache != nil {
		if err := e.cache.Set(ctx, key, res, e.ttl); err != nil {
			e.logger.Warn("Failed to write classification cache", zap.Error(err))
		}
	}
	return Escalation{Result: res}, nil
}

// LimiterStats exposes the limiter usage.
func (e *Escalator) LimiterStats() ratelimit.Stats {
	return e.limiter.Stats()
}

// ResetLimiter forgets every recorded reasoning-service call.
func (e *Escalator) ResetLimiter() {
	e.limiter.Reset()
	e.logger.Info("Escalation rate limiter reset")
}

// ClearCache drops every cached classification.
func (e *Escalator) ClearCache(ctx context.Context) error {
	if e.cache == nil {
		return nil
	}
	if err := e.cache.Clear(ctx); err != nil {
		return err
	}
	e.logger.Info("Classification cache cleared")
	return nil
}
