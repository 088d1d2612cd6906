package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"sync"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/google/uuid"
	"github.com/xaenox/triage-bot/internal/analytics"
	"github.com/xaenox/triage-bot/internal/pipeline"
	"go.uber.org/zap"
)

// Triager is the part of the pipeline the bot drives.
type Triager interface {
	Triage(ctx context.Context, req pipeline.Request) pipeline.Result
	RecordReply(ctx context.Context, userID, text string)
	Reset(ctx context.Context, userID string) error
	Feedback(userID, sessionID string, d analytics.FeedbackData) error
}

type sender interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
}

type Bot struct {
	api     *tgbotapi.BotAPI
	sender  sender
	triager Triager
	logger  *zap.Logger

	mu       sync.Mutex
	sessions map[int64]string
	wg       sync.WaitGroup
}

func New(token string, triager Triager, logger *zap.Logger) (*Bot, error) {
	api, err := tgbotapi.NewBotAPI(token)
	if err != nil {
		return nil, fmt.Errorf("failed to create bot: %w", err)
	}

	b := newBot(api, triager, logger)
	b.api = api
	return b, nil
}

func newBot(s sender, triager Triager, logger *zap.Logger) *Bot {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Bot{
		sender:   s,
		triager:  triager,
		logger:   logger,
		sessions: make(map[int64]string),
	}
}

// Start polls for updates until ctx is done, then waits for in-flight
// messages.
func (b *Bot) Start(ctx context.Context) error {
	u := tgbotapi.NewUpdate(0)
	u.Timeout = 60

	updates := b.api.GetUpdatesChan(u)
	b.logger.Info("Bot started", zap.String("username", b.api.Self.UserName))

	defer b.wg.Wait()
	for {
		select {
		case <-ctx.Done():
			b.api.StopReceivingUpdates()
			return nil
		case update, ok := <-updates:
			if !ok {
				return nil
			}
			if update.Message == nil || update.Message.From == nil {
				continue
			}

			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.handleMessage(ctx, update.Message)
			}()
		}
	}
}

func (b *Bot) handleMessage(ctx context.Context, message *tgbotapi.Message) {
	// Handle commands
	if message.IsCommand() {
		b.handleCommand(ctx, message)
		return
	}

	content := message.Text
	if message.Caption != "" {
		content = message.Caption
	}
	if strings.TrimSpace(content) == "" {
		return
	}

	userID := userKey(message.From.ID)
	res := b.triager.Triage(ctx, pipeline.Request{
		UserID:    userID,
		SessionID: b.session(message.Chat.ID),
		Text:      content,
	})

	reply := composeReply(res)
	b.sendReply(message.Chat.ID, message.MessageID, reply)
	b.triager.RecordReply(ctx, userID, reply)
}

// composeReply picks what the user sees. Crisis resources always win.
func composeReply(res pipeline.Result) string {
	if res.CrisisResources != "" {
		return res.CrisisResources
	}
	if res.ClarifyingQuestion != "" {
		return res.ClarifyingQuestion
	}
	if res.Classification.SuggestedResponse != "" {
		return res.Classification.SuggestedResponse
	}
	if len(res.Knowledge) > 0 {
		return res.Knowledge[0].Content
	}
	return "Thanks for sharing. Tell me more about what's on your mind."
}

func (b *Bot) session(chatID int64) string {
	b.mu.Lock()
	defer b.mu.Unlock()
	id, ok := b.sessions[chatID]
	if !ok {
		id = uuid.New().String()
		b.sessions[chatID] = id
	}
	return id
}

func (b *Bot) endSession(chatID int64) {
	b.mu.Lock()
	delete(b.sessions, chatID)
	b.mu.Unlock()
}

func userKey(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (b *Bot) handleCommand(ctx context.Context, message *tgbotapi.Message) {
	switch message.Command() {
	case "start":
		b.handleStart(message)
	case "help":
		b.handleHelp(message)
	case "reset":
		b.handleReset(ctx, message)
	case "feedback":
		b.handleFeedback(message)
	default:
		b.sendMessage(message.Chat.ID, "Unknown command. Use /help to see available commands.")
	}
}

func (b *Bot) handleStart(message *tgbotapi.Message) {
	welcome := `Hi, I'm here to listen.
Tell me what's going on and I'll do my best to point you to something useful.

If you are in danger right now, call or text 988.
Use /help to see all available commands.`

	b.sendMessage(message.Chat.ID, welcome)
}

func (b *Bot) handleHelp(message *tgbotapi.Message) {
	help := `Available commands:
/start - Start the bot
/help - Show this help message
/reset - Forget this conversation and start over
/feedback <positive|negative|neutral> [comment] - Tell us how the last reply was

Anything else you send is treated as a message to me.`

	b.sendMessage(message.Chat.ID, help)
}

func (b *Bot) handleReset(ctx context.Context, message *tgbotapi.Message) {
	if err := b.triager.Reset(ctx, userKey(message.From.ID)); err != nil {
		b.logger.Error("Failed to reset conversation",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't reset our conversation. Please try again.")
		return
	}
	b.endSession(message.Chat.ID)
	b.sendMessage(message.Chat.ID, "Okay, we're starting fresh.")
}

func (b *Bot) handleFeedback(message *tgbotapi.Message) {
	args := strings.Fields(message.CommandArguments())
	if len(args) == 0 {
		b.sendMessage(message.Chat.ID, "Usage: /feedback <positive|negative|neutral> [comment]")
		return
	}
	rating, err := analytics.ParseRating(strings.ToLower(args[0]))
	if err != nil {
		b.sendMessage(message.Chat.ID, "Rating must be positive, negative or neutral.")
		return
	}

	err = b.triager.Feedback(userKey(message.From.ID), b.session(message.Chat.ID), analytics.FeedbackData{
		Rating:  rating,
		Comment: strings.Join(args[1:], " "),
	})
	if err != nil {
		b.logger.Warn("Failed to queue feedback",
			zap.Error(err),
			zap.Int64("user_id", message.From.ID))
		b.sendErrorMessage(message.Chat.ID, "Sorry, I couldn't record your feedback.")
		return
	}
	b.sendMessage(message.Chat.ID, "Thank you for the feedback.")
}

func (b *Bot) sendMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendReply(chatID int64, replyToID int, text string) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ReplyToMessageID = replyToID
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send reply",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}

func (b *Bot) sendErrorMessage(chatID int64, text string) {
	msg := tgbotapi.NewMessage(chatID, "⚠️ "+text)
	if _, err := b.sender.Send(msg); err != nil {
		b.logger.Error("Failed to send error message",
			zap.Error(err),
			zap.Int64("chat_id", chatID))
	}
}
