// Package telegram implements telegraph.Transport over the Telegram Bot API
// using getUpdates long polling.
package telegram

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"sync"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/telegraph"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is used when Telegram does not send retry_after.
	baseBackoff = time.Second
	// maxBackoff caps the rate-limit wait.
	maxBackoff = time.Minute
	// maxText is Telegram's message text limit.
	maxText = 4096
	// updateLimit is the max number of updates fetched per call.
	updateLimit = 100
)

var allowedUpdates = []string{"message", "callback_query"}

// botClient abstracts the tgbotapi.BotAPI methods we use, enabling test mocks.
type botClient interface {
	Send(c tgbotapi.Chattable) (tgbotapi.Message, error)
	Request(c tgbotapi.Chattable) (*tgbotapi.APIResponse, error)
	GetUpdates(config tgbotapi.UpdateConfig) ([]tgbotapi.Update, error)
}

// Transport implements telegraph.Transport for Telegram.
type Transport struct {
	bot         botClient
	log         *zap.Logger
	botToken    string
	chatID      string // default chat for messages
	botName     string
	mu          sync.Mutex
	connected   bool
	closed      bool
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Telegram Transport.
type Opts struct {
	BotToken string // token from @BotFather
	ChatID   string // default chat to post to
	Logger   *zap.Logger
	// For testing: inject a mock client instead of the real Bot API.
	Client botClient
}

// New creates a Telegram Transport.
func New(opts Opts) (*Transport, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("telegram: bot token is required")
	}
	return &Transport{
		bot:         opts.Client,
		log:         logging.OrNop(opts.Logger).Named("telegram"),
		botToken:    opts.BotToken,
		chatID:      opts.ChatID,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect creates the Bot API client, which validates the token with getMe.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("telegram: transport already closed")
	}
	if t.connected {
		return nil
	}
	if t.bot == nil {
		api, err := tgbotapi.NewBotAPI(t.botToken)
		if err != nil {
			return telegraph.TransportError("telegram: connect", err)
		}
		t.botName = api.Self.UserName
		t.bot = api
	}
	t.connected = true
	if t.botName != "" {
		t.log.Info("connected", zap.String("bot", t.botName))
	}
	return nil
}

// Send posts a message. Choices become one row of inline keyboard buttons.
func (t *Transport) Send(ctx context.Context, msg telegraph.OutboundMessage) (telegraph.MessageRef, error) {
	if err := t.requireConnected(); err != nil {
		return telegraph.MessageRef{}, err
	}

	chat := msg.ChannelID
	if chat == "" {
		chat = t.chatID
	}
	chatID, err := parseChatID(chat)
	if err != nil {
		return telegraph.MessageRef{}, err
	}

	cfg := buildMessage(chatID, msg)
	var sent tgbotapi.Message
	err = t.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = t.bot.Send(cfg)
		return sendErr
	})
	if err != nil {
		return telegraph.MessageRef{}, telegraph.TransportError("telegram: send message", err)
	}
	return telegraph.MessageRef{ChannelID: chat, MessageID: strconv.Itoa(sent.MessageID)}, nil
}

// Edit replaces a message's text. Editing without a reply markup removes
// the inline keyboard.
func (t *Transport) Edit(ctx context.Context, ref telegraph.MessageRef, text string) error {
	if err := t.requireConnected(); err != nil {
		return err
	}
	chatID, err := parseChatID(ref.ChannelID)
	if err != nil {
		return err
	}
	messageID, err := strconv.Atoi(ref.MessageID)
	if err != nil {
		return fmt.Errorf("telegram: invalid message id %q", ref.MessageID)
	}

	edit := tgbotapi.NewEditMessageText(chatID, messageID, truncate(text))
	err = t.retryOnRateLimit(ctx, func() error {
		_, reqErr := t.bot.Request(edit)
		return reqErr
	})
	if err != nil {
		return telegraph.TransportError("telegram: edit message", err)
	}
	return nil
}

// Updates long-polls getUpdates with offset cursor+1, which also confirms
// every update up to cursor on Telegram's side.
func (t *Transport) Updates(ctx context.Context, cursor int64, wait time.Duration) ([]telegraph.Update, error) {
	if err := t.requireConnected(); err != nil {
		return nil, err
	}

	cfg := tgbotapi.NewUpdate(int(cursor + 1))
	cfg.Limit = updateLimit
	cfg.Timeout = int(wait / time.Second)
	cfg.AllowedUpdates = allowedUpdates

	type result struct {
		updates []tgbotapi.Update
		err     error
	}
	done := make(chan result, 1)
	go func() {
		updates, err := t.bot.GetUpdates(cfg)
		done <- result{updates, err}
	}()

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case r := <-done:
		if r.err != nil {
			return nil, telegraph.TransportError("telegram: get updates", r.err)
		}
		out := make([]telegraph.Update, 0, len(r.updates))
		for _, u := range r.updates {
			out = append(out, convertUpdate(u))
		}
		return out, nil
	}
}

// AnswerCallback acknowledges a button press with a short toast.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	if err := t.requireConnected(); err != nil {
		return err
	}
	if _, err := t.bot.Request(tgbotapi.NewCallback(callbackID, text)); err != nil {
		return telegraph.TransportError("telegram: answer callback", err)
	}
	return nil
}

// Close marks the transport closed. The Bot API client holds no connection.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.connected = false
	return nil
}

func (t *Transport) requireConnected() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("telegram: not connected")
	}
	return nil
}

// convertUpdate maps a Bot API update to a telegraph.Update. Updates with
// neither text nor a callback are still returned so the cursor advances.
func convertUpdate(u tgbotapi.Update) telegraph.Update {
	out := telegraph.Update{ID: int64(u.UpdateID), Kind: telegraph.UpdateMessage}
	switch {
	case u.CallbackQuery != nil:
		cq := u.CallbackQuery
		out.Kind = telegraph.UpdateCallback
		out.CallbackID = cq.ID
		out.CallbackData = cq.Data
		setUser(&out, cq.From)
		if cq.Message != nil && cq.Message.Chat != nil {
			out.ChatID = formatChatID(cq.Message.Chat.ID)
			out.Ref = telegraph.MessageRef{ChannelID: out.ChatID, MessageID: strconv.Itoa(cq.Message.MessageID)}
		}
	case u.Message != nil:
		m := u.Message
		out.Text = m.Text
		setUser(&out, m.From)
		if m.Chat != nil {
			out.ChatID = formatChatID(m.Chat.ID)
			out.Ref = telegraph.MessageRef{ChannelID: out.ChatID, MessageID: strconv.Itoa(m.MessageID)}
		}
	}
	return out
}

func setUser(u *telegraph.Update, from *tgbotapi.User) {
	if from == nil {
		return
	}
	u.UserID = strconv.FormatInt(from.ID, 10)
	u.UserName = from.UserName
	if u.UserName == "" {
		u.UserName = from.FirstName
	}
}

// buildMessage translates an OutboundMessage into a sendMessage request.
func buildMessage(chatID int64, msg telegraph.OutboundMessage) tgbotapi.MessageConfig {
	cfg := tgbotapi.NewMessage(chatID, truncate(msg.Text))
	if id, err := strconv.Atoi(msg.ReplyTo.MessageID); err == nil {
		cfg.ReplyToMessageID = id
	}
	if len(msg.Choices) > 0 {
		buttons := make([]tgbotapi.InlineKeyboardButton, 0, len(msg.Choices))
		for _, c := range msg.Choices {
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(c.Label, c.Data))
		}
		cfg.ReplyMarkup = tgbotapi.NewInlineKeyboardMarkup(buttons)
	}
	return cfg
}

func parseChatID(s string) (int64, error) {
	if s == "" {
		return 0, fmt.Errorf("telegram: no chat specified")
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("telegram: invalid chat id %q", s)
	}
	return id, nil
}

func formatChatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

func truncate(s string) string {
	if len(s) <= maxText {
		return s
	}
	return s[:maxText-3] + "..."
}

// retryOnRateLimit calls fn and retries on 429 responses, honoring
// Telegram's retry_after when present. It respects context cancellation.
func (t *Transport) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var apiErr *tgbotapi.Error
		if !errors.As(err, &apiErr) || apiErr.Code != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(apiErr.RetryAfter) * time.Second
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		}
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		t.log.Warn("rate limited",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", maxRetries),
			zap.Duration("retry_in", wait))

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
