package pipeline

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/triage-bot/internal/analytics"
	"github.com/xaenox/triage-bot/internal/classifier"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/ratelimit"
	"github.com/xaenox/triage-bot/internal/retrieval"
	"github.com/xaenox/triage-bot/internal/risk"
	"github.com/xaenox/triage-bot/internal/storage"
	"go.uber.org/zap/zaptest"
)

type fakeReasoner struct {
	mu    sync.Mutex
	reply string
	err   error
	calls int
}

func (f *fakeReasoner) Complete(_ context.Context, _ classifier.ReasonerRequest) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	return f.reply, f.err
}

func (f *fakeReasoner) Calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fixture struct {
	pipeline  *Pipeline
	store     *storage.MemoryStorage
	processor *analytics.Processor
	reasoner  *fakeReasoner
}

func newFixture(t *testing.T, reasoner *fakeReasoner) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t)

	entries, err := retrieval.DefaultKnowledge()
	require.NoError(t, err)

	store := storage.NewMemoryStorage(20)
	processor := analytics.NewProcessor(analytics.Config{MaxBatchSize: 100, MaxWait: time.Hour}, store, store, logger)
	t.Cleanup(func() { _ = processor.Shutdown(context.Background()) })

	var llm *classifier.LLMClassifier
	if reasoner != nil {
		llm = classifier.NewLLMClassifier(reasoner, classifier.LLMOptions{}, logger)
	}
	cache := ratelimit.NewCache[models.ClassificationResult](time.Hour, logger)
	escalator := classifier.NewEscalator(llm, ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		classifier.NewMemoryResultCache(cache), time.Hour, logger)

	p := New(Deps{
		Rules:      classifier.NewRuleClassifier(logger),
		Escalator:  escalator,
		Retriever:  retrieval.New(entries, logger),
		Risk:       risk.NewStore(risk.Options{}, logger),
		History:    store,
		Analytics:  processor,
		CacheStats: cache.Stats,
		Logger:     logger,
	})
	return &fixture{pipeline: p, store: store, processor: processor, reasoner: reasoner}
}

func stages(res Result) map[Stage]StageOutcome {
	out := make(map[Stage]StageOutcome)
	for _, s := range res.Trace {
		out[s.Stage] = s
	}
	return out
}

func TestTriage_CrisisShortCircuits(t *testing.T) {
	reasoner := &fakeReasoner{reply: `{"category":"GENERAL","confidence":0.9,"reasoning":"fine"}`}
	f := newFixture(t, reasoner)

	for _, text := range []string{
		"I want to kill myself",
		"I'm feeling better but I still want to kill myself",
		"nothing is working and I have a plan to end it all",
	} {
		res := f.pipeline.Triage(context.Background(), Request{UserID: "u1", Text: text})
		assert.Equal(t, models.CategoryCrisis, res.Classification.Category, text)
		assert.GreaterOrEqual(t, res.Classification.Confidence, classifier.CrisisConfidenceFloor, text)
		assert.Equal(t, models.MethodRule, res.Classification.Method, text)
		assert.Contains(t, res.CrisisResources, "Call or text 988")
		assert.Contains(t, res.CrisisResources, "Text HOME to 741741")
		assert.Equal(t, 10, res.Severity.OverallSeverity)
		assert.Empty(t, res.ClarifyingQuestion)
		require.NotEmpty(t, res.Trace)
		assert.Equal(t, StageOutcome{Stage: StageCrisisRules, Matched: true, Detail: res.Trace[0].Detail}, res.Trace[0])
		assert.Len(t, res.Trace, 1)
		require.NotEmpty(t, res.Knowledge)
		assert.Equal(t, "crisis_resources", res.Knowledge[0].Category)
	}
	assert.Zero(t, reasoner.Calls())

	st, ok := f.pipeline.risk.Get("u1")
	require.True(t, ok)
	assert.Equal(t, models.RiskCritical, st.RiskLevel)

	require.NoError(t, f.processor.Shutdown(context.Background()))
	assert.Len(t, f.store.Events(models.EventCrisis), 3)
	assert.Len(t, f.store.Events(models.EventClassification), 3)
	assert.Len(t, f.store.Events(models.EventEngagement), 3)
}

func TestTriage_PositiveOverrideClearsRisk(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.pipeline.Triage(ctx, Request{UserID: "u1", Text: "I want to die"})
	require.Equal(t, models.CategoryCrisis, res.Classification.Category)
	require.NotEqual(t, models.RiskNone, res.Risk.RiskLevel)

	res = f.pipeline.Triage(ctx, Request{UserID: "u1", Text: "I'm in a good place, just checking in"})
	assert.NotEqual(t, models.CategoryCrisis, res.Classification.Category)
	assert.Equal(t, "positive", res.Classification.Subcategory)
	assert.Empty(t, res.CrisisResources)
	assert.Equal(t, models.RiskNone, res.Risk.RiskLevel)
	assert.Empty(t, res.Risk.Indicators)
	assert.True(t, stages(res)[StagePositiveOverride].Matched)
}

func TestTriage_ClearRulesBeatPositiveWords(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	tests := []struct {
		text string
		cat  models.Category
	}{
		{"thanks, but my wife cheated on me", models.CategoryRelationship},
		{"I'm fine. the app keeps crashing", models.CategoryTechIssue},
	}
	for i, tt := range tests {
		res := f.pipeline.Triage(ctx, Request{UserID: string(rune('a' + i)), Text: tt.text})
		assert.Equal(t, tt.cat, res.Classification.Category, tt.text)
		s := stages(res)
		assert.True(t, s[StageClearRules].Matched, tt.text)
		_, ran := s[StagePositiveOverride]
		assert.False(t, ran, tt.text)
	}
}

func TestTriage_ThanksKeepsRisk(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.pipeline.Triage(ctx, Request{UserID: "u1", Text: "I want to die"})
	require.Equal(t, models.CategoryCrisis, res.Classification.Category)

	for _, text := range []string{"thank you", "I'm fine", "okay"} {
		res = f.pipeline.Triage(ctx, Request{UserID: "u1", Text: text})
		assert.False(t, stages(res)[StagePositiveOverride].Matched, text)
		assert.NotEqual(t, models.RiskNone, res.Risk.RiskLevel, text)
		assert.NotEmpty(t, res.Risk.Indicators, text)
	}
}

func TestTriage_CrisisVocabularyFailsOpen(t *testing.T) {
	f := newFixture(t, nil)

	for i, text := range []string{
		"I started cutting again last night",
		"I just want to end it",
	} {
		res := f.pipeline.Triage(context.Background(), Request{UserID: string(rune('a' + i)), Text: text})
		assert.Equal(t, models.CategoryCrisis, res.Classification.Category, text)
		assert.GreaterOrEqual(t, res.Classification.Confidence, classifier.CrisisConfidenceFloor, text)
		assert.Contains(t, res.CrisisResources, "988", text)
		assert.NotEqual(t, models.RiskNone, res.Risk.RiskLevel, text)
	}

	res := f.pipeline.Triage(context.Background(), Request{UserID: "c", Text: "I just want to end it"})
	s := stages(res)
	assert.Equal(t, "crisis_vocabulary", s[StageAmbiguity].Detail)
	assert.True(t, s[StageFallback].Matched)
	_, general := s[StageGeneral]
	assert.False(t, general)
}

func TestTriage_DisambiguationWithoutReasoner(t *testing.T) {
	f := newFixture(t, nil)

	tests := []struct {
		text string
		cat  models.Category
	}{
		{"I'm not working right now, worried about money", models.CategoryEmployment},
		{"the login button is not working", models.CategoryTechIssue},
		{"my medication isn't working anymore", models.CategoryMentalHealth},
	}
	for i, tt := range tests {
		res := f.pipeline.Triage(context.Background(), Request{UserID: string(rune('a' + i)), Text: tt.text})
		assert.Equal(t, tt.cat, res.Classification.Category, tt.text)
		assert.Equal(t, models.MethodFallback, res.Classification.Method, tt.text)
		assert.LessOrEqual(t, res.Classification.Confidence, 0.9)

		s := stages(res)
		assert.True(t, s[StageAmbiguity].Matched, tt.text)
		assert.Equal(t, "no_reasoner", s[StageEscalation].Detail, tt.text)
		assert.True(t, s[StageFallback].Matched, tt.text)
	}
}

func TestTriage_EscalationCachedAcrossIdenticalContext(t *testing.T) {
	reasoner := &fakeReasoner{reply: `{"category":"EMPLOYMENT","subcategory":"unemployment","confidence":0.91,"reasoning":"personal status","emotional_intensity":6}`}
	f := newFixture(t, reasoner)
	ctx := context.Background()

	first := f.pipeline.Triage(ctx, Request{UserID: "u1", Text: "it's not working"})
	// A second user has the same empty history, so the cache key matches.
	second := f.pipeline.Triage(ctx, Request{UserID: "u2", Text: "it's not working"})

	assert.Equal(t, first.Classification, second.Classification)
	assert.Equal(t, models.MethodLLM, first.Classification.Method)
	assert.Equal(t, "llm", stages(first)[StageEscalation].Detail)
	assert.Equal(t, "cache_hit", stages(second)[StageEscalation].Detail)
	assert.Equal(t, 1, reasoner.Calls())

	stats := f.pipeline.Stats()
	assert.Equal(t, 1, stats.Limiter.RequestsLastMinute)
	require.NotNil(t, stats.Cache)
	assert.EqualValues(t, 1, stats.Cache.Hits)
	assert.True(t, stats.Escalation)
}

func TestTriage_EscalatedCrisisRaisedToFloor(t *testing.T) {
	reasoner := &fakeReasoner{reply: `{"category":"CRISIS","confidence":0.6,"reasoning":"hopelessness"}`}
	f := newFixture(t, reasoner)

	res := f.pipeline.Triage(context.Background(), Request{UserID: "u1", Text: "I feel so lost"})
	assert.Equal(t, models.CategoryCrisis, res.Classification.Category)
	assert.InDelta(t, classifier.CrisisConfidenceFloor, res.Classification.Confidence, 1e-9)
	assert.Equal(t, "confidence_raised", stages(res)[StageCrisisGuard].Detail)
	assert.Equal(t, models.RiskHigh, res.Risk.RiskLevel)
	assert.NotEmpty(t, res.CrisisResources)
}

func TestTriage_InvalidReplyFallsBack(t *testing.T) {
	f := newFixture(t, &fakeReasoner{reply: `{"category":"WEATHER"}`})

	res := f.pipeline.Triage(context.Background(), Request{UserID: "u1", Text: "I feel so lost"})
	assert.Equal(t, models.MethodFallback, res.Classification.Method)
	assert.Equal(t, "invalid_response", stages(res)[StageEscalation].Detail)
}

func TestTriage_NetworkFailureFallsBack(t *testing.T) {
	f := newFixture(t, &fakeReasoner{err: errors.New("connection refused")})

	res := f.pipeline.Triage(context.Background(), Request{UserID: "u1", Text: "the login button is not working"})
	assert.Equal(t, models.CategoryTechIssue, res.Classification.Category)
	assert.Equal(t, models.MethodFallback, res.Classification.Method)
	assert.Equal(t, "network", stages(res)[StageEscalation].Detail)
}

func TestTriage_GeneralAndHistory(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	res := f.pipeline.Triage(ctx, Request{UserID: "u1", SessionID: "s1", Text: "what should I cook tonight"})
	assert.Equal(t, models.CategoryGeneral, res.Classification.Category)
	assert.Equal(t, "s1", res.SessionID)
	assert.True(t, stages(res)[StageGeneral].Matched)
	assert.Equal(t, models.ClarifyingQuestion, res.ClarifyingQuestion)

	f.pipeline.RecordReply(ctx, "u1", "Tell me more")
	msgs, err := f.store.RecentMessages(ctx, "u1", 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, models.RoleUser, msgs[0].Role)
	assert.Equal(t, models.RoleAssistant, msgs[1].Role)

	require.NoError(t, f.pipeline.Reset(ctx, "u1"))
	msgs, _ = f.store.RecentMessages(ctx, "u1", 0)
	assert.Empty(t, msgs)
}

func TestOperatorControls(t *testing.T) {
	reasoner := &fakeReasoner{reply: `{"category":"EMPLOYMENT","subcategory":"unemployment","confidence":0.91,"reasoning":"personal status"}`}
	f := newFixture(t, reasoner)
	ctx := context.Background()

	f.pipeline.Triage(ctx, Request{UserID: "u1", Text: "it's not working"})
	require.Equal(t, 1, f.pipeline.Stats().Limiter.RequestsLastMinute)

	f.pipeline.ResetLimiter()
	assert.Equal(t, 0, f.pipeline.Stats().Limiter.RequestsLastMinute)

	require.NoError(t, f.pipeline.ClearCache(ctx))
	res := f.pipeline.Triage(ctx, Request{UserID: "u2", Text: "it's not working"})
	assert.Equal(t, "llm", stages(res)[StageEscalation].Detail)
	assert.Equal(t, 2, reasoner.Calls())

	crisis := f.pipeline.Knowledge("crisis_resources")
	require.NotEmpty(t, crisis)
	assert.Equal(t, "crisis-resources", crisis[0].ID)
	assert.Empty(t, f.pipeline.Knowledge("weather"))
}

func TestPreview(t *testing.T) {
	assert.Equal(t, "short", preview("short"))
	long := preview(string(make([]rune, 80)))
	assert.Equal(t, 53, len([]rune(long)))
}
