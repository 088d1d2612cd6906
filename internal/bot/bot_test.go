package bot

import (
	"context"
	"errors"
	"sync"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xaenox/triage-bot/internal/analytics"
	"github.com/xaenox/triage-bot/internal/models"
	"github.com/xaenox/triage-bot/internal/pipeline"
	"go.uber.org/zap/zaptest"
)

type fakeSender struct {
	mu   sync.Mutex
	sent []tgbotapi.MessageConfig
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, c.(tgbotapi.MessageConfig))
	return tgbotapi.Message{}, nil
}

func (f *fakeSender) last() tgbotapi.MessageConfig {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sent[len(f.sent)-1]
}

type fakeTriager struct {
	result   pipeline.Result
	requests []pipeline.Request
	replies  []string
	resets   []string
	feedback []analytics.FeedbackData
	resetErr error
}

func (f *fakeTriager) Triage(_ context.Context, req pipeline.Request) pipeline.Result {
	f.requests = append(f.requests, req)
	return f.result
}

func (f *fakeTriager) RecordReply(_ context.Context, _ string, text string) {
	f.replies = append(f.replies, text)
}

func (f *fakeTriager) Reset(_ context.Context, userID string) error {
	f.resets = append(f.resets, userID)
	return f.resetErr
}

func (f *fakeTriager) Feedback(_, _ string, d analytics.FeedbackData) error {
	f.feedback = append(f.feedback, d)
	return nil
}

func textMessage(text string) *tgbotapi.Message {
	return &tgbotapi.Message{
		MessageID: 7,
		From:      &tgbotapi.User{ID: 42},
		Chat:      &tgbotapi.Chat{ID: 100},
		Text:      text,
	}
}

func command(text string, length int) *tgbotapi.Message {
	m := textMessage(text)
	m.Entities = []tgbotapi.MessageEntity{{Type: "bot_command", Offset: 0, Length: length}}
	return m
}

func TestComposeReply(t *testing.T) {
	knowledge := []models.RAGResult{{Content: "Try a short walk."}}

	tests := []struct {
		name string
		res  pipeline.Result
		want string
	}{
		{"crisis wins", pipeline.Result{CrisisResources: models.CrisisResources, ClarifyingQuestion: "q", Knowledge: knowledge}, models.CrisisResources},
		{"clarify", pipeline.Result{ClarifyingQuestion: models.ClarifyingQuestion, Knowledge: knowledge}, models.ClarifyingQuestion},
		{"suggested", pipeline.Result{Classification: models.ClassificationResult{SuggestedResponse: "I hear you."}, Knowledge: knowledge}, "I hear you."},
		{"knowledge", pipeline.Result{Knowledge: knowledge}, "Try a short walk."},
		{"nothing", pipeline.Result{}, "Thanks for sharing. Tell me more about what's on your mind."},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, composeReply(tt.res))
		})
	}
}

func TestHandleMessage_TriagesAndRecordsReply(t *testing.T) {
	s := &fakeSender{}
	tr := &fakeTriager{result: pipeline.Result{CrisisResources: models.CrisisResources}}
	b := newBot(s, tr, zaptest.NewLogger(t))

	b.handleMessage(context.Background(), textMessage("I want to die"))
	b.handleMessage(context.Background(), textMessage("still here"))

	require.Len(t, tr.requests, 2)
	assert.Equal(t, "42", tr.requests[0].UserID)
	assert.NotEmpty(t, tr.requests[0].SessionID)
	assert.Equal(t, tr.requests[0].SessionID, tr.requests[1].SessionID)

	reply := s.last()
	assert.Equal(t, models.CrisisResources, reply.Text)
	assert.Equal(t, 7, reply.ReplyToMessageID)
	assert.Equal(t, []string{models.CrisisResources, models.CrisisResources}, tr.replies)
}

func TestHandleMessage_IgnoresBlank(t *testing.T) {
	s := &fakeSender{}
	tr := &fakeTriager{}
	b := newBot(s, tr, zaptest.NewLogger(t))

	b.handleMessage(context.Background(), textMessage("   "))
	assert.Empty(t, tr.requests)
	assert.Empty(t, s.sent)
}

func TestReset_RotatesSession(t *testing.T) {
	s := &fakeSender{}
	tr := &fakeTriager{}
	b := newBot(s, tr, zaptest.NewLogger(t))

	b.handleMessage(context.Background(), textMessage("hello"))
	b.handleMessage(context.Background(), command("/reset", 6))
	b.handleMessage(context.Background(), textMessage("hello again"))

	assert.Equal(t, []string{"42"}, tr.resets)
	require.Len(t, tr.requests, 2)
	assert.NotEqual(t, tr.requests[0].SessionID, tr.requests[1].SessionID)
}

func TestReset_Failure(t *testing.T) {
	s := &fakeSender{}
	b := newBot(s, &fakeTriager{resetErr: errors.New("db down")}, zaptest.NewLogger(t))

	b.handleMessage(context.Background(), command("/reset", 6))
	assert.Contains(t, s.last().Text, "couldn't reset")
}

func TestFeedbackCommand(t *testing.T) {
	s := &fakeSender{}
	tr := &fakeTriager{}
	b := newBot(s, tr, zaptest.NewLogger(t))

	b.handleMessage(context.Background(), command("/feedback Positive very helpful", 9))
	require.Len(t, tr.feedback, 1)
	assert.Equal(t, analytics.FeedbackData{Rating: analytics.RatingPositive, Comment: "very helpful"}, tr.feedback[0])

	b.handleMessage(context.Background(), command("/feedback amazing", 9))
	assert.Len(t, tr.feedback, 1)
	assert.Contains(t, s.last().Text, "Rating must be")

	b.handleMessage(context.Background(), command("/feedback", 9))
	assert.Contains(t, s.last().Text, "Usage")
}

func TestUnknownCommand(t *testing.T) {
	s := &fakeSender{}
	b := newBot(s, &fakeTriager{}, zaptest.NewLogger(t))

	b.handleMessage(context.Background(), command("/tags", 5))
	assert.Contains(t, s.last().Text, "Unknown command")
}
