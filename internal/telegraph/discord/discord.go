// Package discord implements telegraph.Transport for Discord using the
// REST API for sends and the Gateway WebSocket for inbound updates.
package discord

import (
	"context"
	"errors"
	"fmt"
	"math"
	"net/http"
	"sync"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/telegraph"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff for rate-limited calls.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the rate-limit backoff.
	maxBackoff = 2 * time.Minute
	// maxContent is Discord's message content limit.
	maxContent = 2000
)

// session abstracts the discordgo.Session methods we use, enabling test mocks.
type session interface {
	Open() error
	Close() error
	User(userID string, options ...discordgo.RequestOption) (*discordgo.User, error)
	ChannelMessageSendComplex(channelID string, data *discordgo.MessageSend, options ...discordgo.RequestOption) (*discordgo.Message, error)
	ChannelMessageEditComplex(m *discordgo.MessageEdit, options ...discordgo.RequestOption) (*discordgo.Message, error)
	InteractionRespond(interaction *discordgo.Interaction, resp *discordgo.InteractionResponse, options ...discordgo.RequestOption) error
	AddHandler(handler interface{}) func()
}

// Transport implements telegraph.Transport for Discord. The gateway is opened
// on the first Updates call so hook processes only use REST.
type Transport struct {
	sess        session
	log         *zap.Logger
	buf         *telegraph.UpdateBuffer
	botToken    string
	channelID   string // default channel for messages
	botUserID   string
	mu          sync.Mutex
	connected   bool
	closed      bool
	listening   bool
	removers    []func()
	baseBackoff time.Duration
	maxBackoff  time.Duration
}

// Opts holds parameters for creating a Discord Transport.
type Opts struct {
	BotToken  string // Discord bot token
	ChannelID string // default channel to post to
	Logger    *zap.Logger
	// For testing: inject a mock session instead of real Discord API.
	Session session
}

// New creates a Discord Transport.
func New(opts Opts) (*Transport, error) {
	if opts.Session == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("discord: bot token is required")
	}
	return &Transport{
		sess:        opts.Session,
		log:         logging.OrNop(opts.Logger).Named("discord"),
		buf:         telegraph.NewUpdateBuffer(),
		botToken:    opts.BotToken,
		channelID:   opts.ChannelID,
		baseBackoff: baseBackoff,
		maxBackoff:  maxBackoff,
	}, nil
}

// Connect creates the REST session and resolves the bot's user ID.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("discord: transport already closed")
	}
	if t.connected {
		return nil
	}

	// Create real session if not injected (production path).
	if t.sess == nil {
		dg, err := discordgo.New("Bot " + t.botToken)
		if err != nil {
			return fmt.Errorf("discord: create session: %w", err)
		}
		dg.Identify.Intents = discordgo.IntentsGuildMessages | discordgo.IntentsMessageContent
		t.sess = dg
	}

	me, err := t.sess.User("@me")
	if err != nil {
		return telegraph.TransportError("discord: fetch bot user", err)
	}
	t.botUserID = me.ID
	t.connected = true
	return nil
}

// Send posts a message. Choices become a row of buttons whose custom IDs
// carry the choice data.
func (t *Transport) Send(ctx context.Context, msg telegraph.OutboundMessage) (telegraph.MessageRef, error) {
	if err := t.requireConnected(); err != nil {
		return telegraph.MessageRef{}, err
	}

	channelID := msg.ChannelID
	if channelID == "" {
		channelID = t.channelID
	}
	if channelID == "" {
		return telegraph.MessageRef{}, fmt.Errorf("discord: no channel specified")
	}

	data := buildMessageSend(msg)
	var sent *discordgo.Message
	err := t.retryOnRateLimit(ctx, func() error {
		var sendErr error
		sent, sendErr = t.sess.ChannelMessageSendComplex(channelID, data)
		return sendErr
	})
	if err != nil {
		return telegraph.MessageRef{}, telegraph.TransportError("discord: send message", err)
	}
	return telegraph.MessageRef{ChannelID: channelID, MessageID: sent.ID}, nil
}

// Edit replaces a message's content and removes its buttons.
func (t *Transport) Edit(ctx context.Context, ref telegraph.MessageRef, text string) error {
	if err := t.requireConnected(); err != nil {
		return err
	}
	edit := discordgo.NewMessageEdit(ref.ChannelID, ref.MessageID).SetContent(truncate(text))
	edit.Components = &[]discordgo.MessageComponent{}

	err := t.retryOnRateLimit(ctx, func() error {
		_, editErr := t.sess.ChannelMessageEditComplex(edit)
		return editErr
	})
	if err != nil {
		return telegraph.TransportError("discord: edit message", err)
	}
	return nil
}

// Updates opens the gateway on first use and returns buffered events after
// cursor.
func (t *Transport) Updates(ctx context.Context, cursor int64, wait time.Duration) ([]telegraph.Update, error) {
	if err := t.startListening(); err != nil {
		return nil, err
	}
	return t.buf.Poll(ctx, cursor, wait)
}

// AnswerCallback is a no-op: component interactions are acknowledged with
// a deferred update as soon as they arrive.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

// Close removes handlers and closes the gateway if it was opened.
func (t *Transport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	t.connected = false
	for _, remove := range t.removers {
		remove()
	}
	t.removers = nil
	if t.listening && t.sess != nil {
		return t.sess.Close()
	}
	return nil
}

// BotUserID returns the bot's Discord user ID (available after Connect).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

func (t *Transport) requireConnected() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("discord: not connected")
	}
	return nil
}

func (t *Transport) startListening() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("discord: not connected")
	}
	if t.listening {
		return nil
	}

	t.removers = append(t.removers,
		t.sess.AddHandler(func(_ *discordgo.Session, r *discordgo.Ready) {
			t.log.Info("gateway ready", zap.String("user", r.User.Username), zap.String("id", r.User.ID))
		}),
		// discordgo reconnects on its own; these are logged for visibility.
		t.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
			t.log.Warn("gateway disconnected, discordgo will auto-reconnect")
		}),
		t.sess.AddHandler(func(_ *discordgo.Session, _ *discordgo.Resumed) {
			t.log.Info("gateway session resumed")
		}),
		t.sess.AddHandler(func(_ *discordgo.Session, m *discordgo.MessageCreate) {
			t.handleMessage(m)
		}),
		t.sess.AddHandler(func(_ *discordgo.Session, i *discordgo.InteractionCreate) {
			t.handleInteraction(i)
		}),
	)

	if err := t.sess.Open(); err != nil {
		return telegraph.TransportError("discord: open gateway", err)
	}
	t.listening = true
	return nil
}

// handleMessage buffers an operator message. Bot and self messages are
// dropped.
func (t *Transport) handleMessage(m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.Author.ID == t.BotUserID() {
		return
	}
	t.buf.Push(telegraph.Update{
		Kind:     telegraph.UpdateMessage,
		ChatID:   m.ChannelID,
		UserID:   m.Author.ID,
		UserName: m.Author.Username,
		Text:     m.Content,
		Ref:      telegraph.MessageRef{ChannelID: m.ChannelID, MessageID: m.ID},
	})
}

// handleInteraction acknowledges a button press with a deferred update and
// buffers it as a callback.
func (t *Transport) handleInteraction(i *discordgo.InteractionCreate) {
	if i.Interaction == nil || i.Type != discordgo.InteractionMessageComponent {
		return
	}
	data, ok := i.Data.(discordgo.MessageComponentInteractionData)
	if !ok {
		return
	}
	err := t.sess.InteractionRespond(i.Interaction, &discordgo.InteractionResponse{
		Type: discordgo.InteractionResponseDeferredMessageUpdate,
	})
	if err != nil {
		t.log.Warn("acknowledge interaction", zap.String("interaction", i.ID), zap.Error(err))
	}

	u := telegraph.Update{
		Kind:         telegraph.UpdateCallback,
		ChatID:       i.ChannelID,
		CallbackID:   i.ID,
		CallbackData: data.CustomID,
	}
	if i.Message != nil {
		u.Ref = telegraph.MessageRef{ChannelID: i.ChannelID, MessageID: i.Message.ID}
	}
	switch {
	case i.Member != nil && i.Member.User != nil:
		u.UserID, u.UserName = i.Member.User.ID, i.Member.User.Username
	case i.User != nil:
		u.UserID, u.UserName = i.User.ID, i.User.Username
	}
	t.buf.Push(u)
}

// buildMessageSend translates an OutboundMessage into a Discord MessageSend.
func buildMessageSend(msg telegraph.OutboundMessage) *discordgo.MessageSend {
	data := &discordgo.MessageSend{Content: truncate(msg.Text)}
	if !msg.ReplyTo.IsZero() {
		data.Reference = &discordgo.MessageReference{
			MessageID: msg.ReplyTo.MessageID,
			ChannelID: msg.ReplyTo.ChannelID,
		}
	}
	if len(msg.Choices) > 0 {
		buttons := make([]discordgo.MessageComponent, 0, len(msg.Choices))
		for i, c := range msg.Choices {
			style := discordgo.SecondaryButton
			if i == 0 {
				style = discordgo.PrimaryButton
			}
			buttons = append(buttons, discordgo.Button{
				Label:    c.Label,
				Style:    style,
				CustomID: c.Data,
			})
		}
		data.Components = []discordgo.MessageComponent{
			discordgo.ActionsRow{Components: buttons},
		}
	}
	return data
}

func truncate(s string) string {
	if len(s) <= maxContent {
		return s
	}
	return s[:maxContent-3] + "..."
}

// retryOnRateLimit calls fn and retries with exponential backoff on Discord
// rate limit errors. It respects context cancellation.
func (t *Transport) retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var restErr *discordgo.RESTError
		if !errors.As(err, &restErr) || restErr.Response == nil || restErr.Response.StatusCode != http.StatusTooManyRequests {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
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
