// Package pipeline runs the triage cascade for one user message: crisis
// rules, positive override, clear rules, escalation with fallback and the
// general classifier, followed by retrieval, severity scoring, risk
// tracking and analytics.
package pipeline

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/xaenox/triage-bot/internal/analytics"
	"github.com/xaenox/triage-bot/internal/classifier"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/ratelimit"
	"github.com/xaenox/triage-bot/internal/retrieval"
	"github.com/xaenox/triage-bot/internal/risk"
	"github.com/xaenox/triage-bot/internal/severity"
	"github.com/xaenox/triage-bot/internal/storage"
	"go.uber.org/zap"
)

// Stage names one step of the cascade.
type Stage string

const (
	StageCrisisRules      Stage = "crisis_rules"
	StageClearRules       Stage = "clear_rules"
	StagePositiveOverride Stage = "positive_override"
	StageAmbiguity        Stage = "ambiguity"
	StageEscalation       Stage = "escalation"
	StageFallback         Stage = "fallback"
	StageGeneral          Stage = "general"
	StageCrisisGuard      Stage = "crisis_guard"
)

// StageOutcome records what one stage decided.
type StageOutcome struct {
	Stage   Stage  `json:"stage"`
	Matched bool   `json:"matched"`
	Detail  string `json:"detail,omitempty"`
}

// Request is one user message.
type Request struct {
	UserID    string `json:"user_id"`
	SessionID string `json:"session_id,omitempty"`
	Text      string `json:"message"`
}

// Result is the structured triage decision.
type Result struct {
	SessionID          string                      `json:"session_id"`
	Classification     models.ClassificationResult `json:"classification"`
	Knowledge          []models.RAGResult          `json:"knowledge"`
	Severity           severity.Report             `json:"severity"`
	Risk               models.RiskState            `json:"risk"`
	CrisisResources    string                      `json:"crisis_resources,omitempty"`
	ClarifyingQuestion string                      `json:"clarifying_question,omitempty"`
	Trace              []StageOutcome              `json:"trace"`
	Duration           time.Duration               `json:"duration_ns"`
}

// Deps are the collaborators of a Pipeline. Escalator, History and
// Analytics are optional.
type Deps struct {
	Rules           *classifier.RuleClassifier
	Escalator       *classifier.Escalator
	Retriever       *retrieval.Retriever
	Risk            *risk.Store
	History         storage.HistoryStore
	Analytics       *analytics.Processor
	ContextMessages int
	// CacheStats reports the in-process classification cache, if any.
	CacheStats func() ratelimit.CacheStats
	Logger     *zap.Logger
}

// Pipeline is safe for concurrent use. Messages of one user are processed
// one at a time.
type Pipeline struct {
	rules           *classifier.RuleClassifier
	escalator       *classifier.Escalator
	retriever       *retrieval.Retriever
	risk            *risk.Store
	history         storage.HistoryStore
	analytics       *analytics.Processor
	contextMessages int
	cacheStats      func() ratelimit.CacheStats
	logger          *zap.Logger
	now             func() time.Time
}

func New(d Deps) *Pipeline {
	if d.Logger == nil {
		d.Logger = zap.NewNop()
	}
	if d.Rules == nil {
		d.Rules = classifier.NewRuleClassifier(d.Logger)
	}
	if d.Escalator == nil {
		d.Escalator = classifier.NewEscalator(nil, nil, nil, 0, d.Logger)
	}
	if d.Risk == nil {
		d.Risk = risk.NewStore(risk.Options{}, d.Logger)
	}
	if d.History == nil {
		d.History = storage.NewMemoryStorage(storage.DefaultHistorySize)
	}
	if d.ContextMessages <= 0 {
		d.ContextMessages = classifier.DefaultContextMessages
	}
	return &Pipeline{
		rules:           d.Rules,
		escalator:       d.Escalator,
		retriever:       d.Retriever,
		risk:            d.Risk,
		history:         d.History,
		analytics:       d.Analytics,
		contextMessages: d.ContextMessages,
		cacheStats:      d.CacheStats,
		logger:          d.Logger,
		now:             time.Now,
	}
}

// WithClock replaces the time source. Used by tests.
func (p *Pipeline) WithClock(now func() time.Time) *Pipeline {
	p.now = now
	return p
}

// Triage classifies one message and never fails: every error inside the
// cascade is recovered by a deterministic fallback.
func (p *Pipeline) Triage(ctx context.Context, req Request) Result {
	start := p.now()
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	var res Result
	res.SessionID = req.SessionID
	res.Risk = p.risk.Do(req.UserID, func(st *models.RiskState) {
		convCtx := p.conversationContext(ctx, req.UserID)

		var crisisRule *classifier.Rule
		res.Classification, crisisRule, res.Trace = p.classify(ctx, req.Text, convCtx, st)

		patterns := classifier.DetectPatterns(req.Text)
		if res.Classification.IsCrisis() {
			patterns.IsCrisis = true
		}
		res.Severity = severity.Score(patterns)

		if res.Classification.IsCrisis() {
			p.observeCrisis(st, res.Classification, crisisRule)
		} else if res.Classification.Method == models.MethodFallback && res.Classification.Subcategory == "exhaustion" {
			risk.Observe(st, models.RiskIndicator{Type: "exhaustion", Timestamp: p.now(), Context: res.Classification.AmbiguousPhrase}, models.RiskLow)
		}

		if err := p.history.AppendMessage(ctx, req.UserID, models.Message{Text: req.Text, Role: models.RoleUser, Timestamp: p.now()}); err != nil {
			p.logger.Error("Failed to append message to history", zap.String("user_id", req.UserID), zap.Error(err))
		}
	})

	if p.retriever != nil {
		res.Knowledge = p.retriever.Retrieve(req.Text, 0)
	}
	if res.Knowledge == nil {
		res.Knowledge = []models.RAGResult{}
	}
	if res.Classification.IsCrisis() {
		res.CrisisResources = models.CrisisResources
	}
	res.ClarifyingQuestion = p.rules.ClarifyingQuestion(res.Classification)
	res.Duration = p.now().Sub(start)

	p.record(req, res)

	p.logger.Info("Triaged message",
		zap.String("user_id", req.UserID),
		zap.String("message", preview(req.Text)),
		zap.String("category", string(res.Classification.Category)),
		zap.String("method", string(res.Classification.Method)),
		zap.Float64("confidence", res.Classification.Confidence),
		zap.Int("severity", res.Severity.OverallSeverity),
		zap.String("risk_level", string(res.Risk.RiskLevel)),
		zap.Duration("duration", res.Duration))
	return res
}

// classify runs the ordered cascade. The matched crisis rule, if any, is
// returned for risk tracking.
func (p *Pipeline) classify(ctx context.Context, text string, convCtx models.ConversationContext, st *models.RiskState) (models.ClassificationResult, *classifier.Rule, []StageOutcome) {
	var trace []StageOutcome
	step := func(s Stage, matched bool, detail string) {
		trace = append(trace, StageOutcome{Stage: s, Matched: matched, Detail: detail})
	}

	if r, ok := p.rules.CheckCrisis(text); ok {
		step(StageCrisisRules, true, r.Name)
		p.logger.Warn("Crisis pattern matched", zap.String("rule", r.Name), zap.String("subcategory", r.Subcategory))
		res := p.guard(r.Result(), &trace)
		return res, &r, trace
	}
	step(StageCrisisRules, false, "")

	if res, ok := p.rules.Classify(text); ok {
		step(StageClearRules, true, res.Subcategory)
		res = p.guard(res, &trace)
		return res, nil, trace
	}
	step(StageClearRules, false, "")

	if classifier.IsPositiveSentiment(text) {
		if len(st.Indicators) > 0 || st.RiskLevel.Rank() > 0 {
			p.logger.Info("Positive sentiment cleared risk state", zap.String("previous_level", string(st.RiskLevel)))
		}
		st.Clear()
		st.UpdatedAt = p.now()
		step(StagePositiveOverride, true, "")
		return classifier.PositiveResult(), nil, trace
	}
	step(StagePositiveOverride, false, "")

	// Crisis-adjacent words the rule tables did not match get a second
	// opinion instead of the general rules.
	phrase, ambiguous := classifier.FindAmbiguous(text)
	if !ambiguous && classifier.HasCrisisVocabulary(text) {
		phrase, ambiguous = "crisis_vocabulary", true
	}
	if ambiguous {
		step(StageAmbiguity, true, phrase)

		esc, err := p.escalator.Classify(ctx, text, convCtx)
		if err == nil {
			detail := "llm"
			if esc.CacheHit {
				detail = "cache_hit"
			}
			step(StageEscalation, true, detail)
			res := p.guard(p.failOpen(text, esc.Result, &trace), &trace)
			return res, nil, trace
		}

		reason := classifier.FallbackReason(err)
		step(StageEscalation, false, reason)
		if reason != "no_reasoner" {
			p.logger.Warn("Using fallback classification", zap.String("reason", reason), zap.Error(err))
		}
		step(StageFallback, true, reason)
		res := p.guard(p.failOpen(text, classifier.Fallback(text), &trace), &trace)
		return res, nil, trace
	}
	step(StageAmbiguity, false, "")

	res := p.rules.ClassifyGeneral(text)
	step(StageGeneral, true, res.Subcategory)
	res = p.guard(p.failOpen(text, res, &trace), &trace)
	return res, nil, trace
}

// failOpen keeps a non-rule result from suppressing crisis language the
// rule tables only partially matched. Without a model verdict, crisis
// vocabulary alone is enough.
func (p *Pipeline) failOpen(text string, res models.ClassificationResult, trace *[]StageOutcome) models.ClassificationResult {
	if res.IsCrisis() {
		return res
	}
	crisis := classifier.DetectPatterns(text).IsCrisis ||
		(res.Method != models.MethodLLM && classifier.HasCrisisVocabulary(text))
	if !crisis {
		return res
	}
	*trace = append(*trace, StageOutcome{Stage: StageCrisisGuard, Matched: true, Detail: "escalated_to_crisis"})
	p.logger.Warn("Crisis language overrides escalated classification", zap.String("category", string(res.Category)))
	res.Category = models.CategoryCrisis
	res.Subcategory = "crisis"
	res.Reasoning = strings.TrimSpace(res.Reasoning + " Crisis language detected.")
	return res
}

// guard enforces the crisis confidence floor on every path.
func (p *Pipeline) guard(res models.ClassificationResult, trace *[]StageOutcome) models.ClassificationResult {
	if !res.IsCrisis() {
		return res
	}
	if res.Confidence < classifier.CrisisConfidenceFloor {
		*trace = append(*trace, StageOutcome{Stage: StageCrisisGuard, Matched: true, Detail: "confidence_raised"})
		res.Confidence = classifier.CrisisConfidenceFloor
	}
	if res.EmotionalIntensity == 0 {
		res.EmotionalIntensity = 10
	}
	return res
}

// observeCrisis records a crisis indicator. Rule matches carry their own
// level; crisis results from other stages count as high.
func (p *Pipeline) observeCrisis(st *models.RiskState, res models.ClassificationResult, rule *classifier.Rule) {
	ind := models.RiskIndicator{Type: "crisis_classification", Timestamp: p.now(), Context: res.Subcategory}
	level := models.RiskHigh
	if rule != nil {
		ind.Type = rule.Name
		if rule.Risk != "" {
			level = rule.Risk
		}
	}
	risk.Observe(st, ind, level)
}

func (p *Pipeline) conversationContext(ctx context.Context, userID string) models.ConversationContext {
	msgs, err := p.history.RecentMessages(ctx, userID, p.contextMessages)
	if err != nil {
		p.logger.Error("Failed to load conversation history", zap.String("user_id", userID), zap.Error(err))
		msgs = nil
	}
	return models.ConversationContext{RecentMessages: msgs}
}

func (p *Pipeline) record(req Request, res Result) {
	if p.analytics == nil {
		return
	}
	c := res.Classification
	if err := p.analytics.QueueClassification(req.UserID, req.SessionID, analytics.ClassificationData{
		Category:           c.Category,
		Subcategory:        c.Subcategory,
		Confidence:         c.Confidence,
		Method:             c.Method,
		AmbiguousPhrase:    c.AmbiguousPhrase,
		EmotionalIntensity: c.EmotionalIntensity,
		ResponseTimeMs:     res.Duration.Milliseconds(),
	}); err != nil {
		p.logger.Warn("Failed to queue classification event", zap.Error(err))
	}
	if err := p.analytics.QueueEngagement(req.UserID, req.SessionID, analytics.EngagementData{Action: analytics.ActionMessageSent}); err != nil {
		p.logger.Warn("Failed to queue engagement event", zap.Error(err))
	}
	if !c.IsCrisis() {
		return
	}

	indicators := make([]string, 0, len(res.Risk.Indicators))
	for _, ind := range res.Risk.Indicators {
		indicators = append(indicators, ind.Type)
	}
	if err := p.analytics.QueueCrisis(req.UserID, req.SessionID, analytics.CrisisData{
		Severity:         res.Severity.OverallSeverity,
		Indicators:       indicators,
		ResponseProvided: "crisis_resources",
		Escalated:        c.Method == models.MethodLLM,
	}); err != nil {
		p.logger.Warn("Failed to queue crisis event", zap.Error(err))
	}
}

// RecordReply appends an assistant turn to the user's history.
func (p *Pipeline) RecordReply(ctx context.Context, userID, text string) {
	msg := models.Message{Text: text, Role: models.RoleAssistant, Timestamp: p.now()}
	if err := p.history.AppendMessage(ctx, userID, msg); err != nil {
		p.logger.Error("Failed to append reply to history", zap.String("user_id", userID), zap.Error(err))
	}
}

// Reset clears the user's history and risk state.
func (p *Pipeline) Reset(ctx context.Context, userID string) error {
	p.risk.Reset(userID)
	if err := p.history.ClearHistory(ctx, userID); err != nil {
		return err
	}
	p.logger.Info("Reset conversation", zap.String("user_id", userID))
	return nil
}

// Feedback queues a feedback event.
func (p *Pipeline) Feedback(userID, sessionID string, d analytics.FeedbackData) error {
	if p.analytics == nil {
		return nil
	}
	return p.analytics.QueueFeedback(userID, sessionID, d)
}

// ResourceClick queues a resource click event.
func (p *Pipeline) ResourceClick(userID, sessionID string, d analytics.ResourceClickData) error {
	if p.analytics == nil {
		return nil
	}
	return p.analytics.QueueResourceClick(userID, sessionID, d)
}

// Stats aggregates the operator statistics.
type Stats struct {
	Limiter    ratelimit.Stats       `json:"rate_limiter"`
	Cache      *ratelimit.CacheStats `json:"cache,omitempty"`
	Analytics  *analytics.Stats      `json:"analytics,omitempty"`
	RiskUsers  int                   `json:"risk_users"`
	Escalation bool                  `json:"escalation_enabled"`
	Thresholds classifier.Thresholds `json:"thresholds"`
}

func (p *Pipeline) Stats() Stats {
	s := Stats{
		Limiter:    p.escalator.LimiterStats(),
		RiskUsers:  p.risk.Len(),
		Escalation: p.escalator.Enabled(),
		Thresholds: p.rules.Thresholds(),
	}
	if p.cacheStats != nil {
		cs := p.cacheStats()
		s.Cache = &cs
	}
	if p.analytics != nil {
		as := p.analytics.Stats()
		s.Analytics = &as
	}
	return s
}

// ResetLimiter lets escalation resume after an operator clears the rate
// limit windows.
func (p *Pipeline) ResetLimiter() {
	p.escalator.ResetLimiter()
}

// ClearCache drops every cached escalation result.
func (p *Pipeline) ClearCache(ctx context.Context) error {
	return p.escalator.ClearCache(ctx)
}

// Knowledge lists the knowledge entries filed under category or one of its
// subcategories.
func (p *Pipeline) Knowledge(category string) []models.KnowledgeEntry {
	if p.retriever == nil {
		return nil
	}
	return p.retriever.ByCategory(category)
}

// preview shortens a message for logs.
func preview(s string) string {
	const n = 50
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
