// Package slack implements telegraph.Transport for Slack using Socket Mode.
package slack

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"sync"
	"time"

	slackapi "github.com/slack-go/slack"
	"github.com/slack-go/slack/slackevents"
	"github.com/slack-go/slack/socketmode"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/telegraph"
	"go.uber.org/zap"
)

const (
	// maxRetries is the max number of retries for rate-limited API calls.
	maxRetries = 3
	// baseBackoff is the initial backoff duration for reconnection.
	baseBackoff = 2 * time.Second
	// maxBackoff caps the exponential backoff for reconnection.
	maxBackoff = 2 * time.Minute
	// maxReconnectAttempts limits reconnection retries before giving up.
	maxReconnectAttempts = 10
	// maxSectionText is Slack's limit for a section block's text.
	maxSectionText = 3000
	// choiceBlockID identifies the actions block carrying approval buttons.
	choiceBlockID = "sb_choices"
)

// slackClient abstracts the Slack Web API methods we use, enabling test mocks.
type slackClient interface {
	AuthTest() (*slackapi.AuthTestResponse, error)
	PostMessage(channelID string, options ...slackapi.MsgOption) (string, string, error)
	UpdateMessage(channelID, timestamp string, options ...slackapi.MsgOption) (string, string, string, error)
	GetUserInfo(userID string) (*slackapi.User, error)
}

// socketClient abstracts the Socket Mode client methods we use.
type socketClient interface {
	RunContext(ctx context.Context) error
	EventsChan() chan socketmode.Event
	Ack(req socketmode.Request, payload ...interface{})
}

// realSocketClient wraps *socketmode.Client to implement socketClient.
type realSocketClient struct {
	client *socketmode.Client
}

func (r *realSocketClient) RunContext(ctx context.Context) error { return r.client.RunContext(ctx) }
func (r *realSocketClient) EventsChan() chan socketmode.Event    { return r.client.Events }
func (r *realSocketClient) Ack(req socketmode.Request, payload ...interface{}) {
	r.client.Ack(req, payload...)
}

// Transport implements telegraph.Transport for Slack. Send and Edit use the
// Web API; the Socket Mode connection is opened on the first Updates call so
// short-lived hook processes never hold one.
type Transport struct {
	client       slackClient
	socket       socketClient
	log          *zap.Logger
	buf          *telegraph.UpdateBuffer
	botUserID    string
	appToken     string
	botToken     string
	channelID    string // default channel for messages without explicit channel
	mu           sync.Mutex
	connected    bool
	closed       bool
	listening    bool
	socketErr    error // set when reconnects are exhausted, reported by the next Updates
	cancelFunc   context.CancelFunc
	wg           sync.WaitGroup
	userNames    map[string]string
	baseBackoff  time.Duration // reconnection base backoff (default: baseBackoff const)
	maxBackoff   time.Duration // reconnection max backoff (default: maxBackoff const)
	maxReconnect int           // max reconnection attempts (default: maxReconnectAttempts)
}

// Opts holds parameters for creating a Slack Transport.
type Opts struct {
	AppToken  string // xapp-... Slack app-level token for Socket Mode
	BotToken  string // xoxb-... Slack bot token
	ChannelID string // default channel to post to
	Logger    *zap.Logger
	// For testing: inject mock clients instead of real Slack API.
	Client slackClient
	Socket socketClient
}

// New creates a Slack Transport.
func New(opts Opts) (*Transport, error) {
	if opts.Client == nil && opts.BotToken == "" {
		return nil, fmt.Errorf("slack: bot token is required")
	}
	if opts.Socket == nil && opts.AppToken == "" {
		return nil, fmt.Errorf("slack: app token is required for socket mode")
	}

	return &Transport{
		client:       opts.Client,
		socket:       opts.Socket,
		log:          logging.OrNop(opts.Logger).Named("slack"),
		buf:          telegraph.NewUpdateBuffer(),
		appToken:     opts.AppToken,
		botToken:     opts.BotToken,
		channelID:    opts.ChannelID,
		userNames:    make(map[string]string),
		baseBackoff:  baseBackoff,
		maxBackoff:   maxBackoff,
		maxReconnect: maxReconnectAttempts,
	}, nil
}

// Connect authenticates the bot token and records the bot's user ID.
func (t *Transport) Connect(ctx context.Context) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return fmt.Errorf("slack: transport already closed")
	}
	if t.connected {
		return nil
	}

	// Create real clients if not injected (production path).
	if t.client == nil {
		api := slackapi.New(t.botToken, slackapi.OptionAppLevelToken(t.appToken))
		t.client = api
		if t.socket == nil {
			t.socket = &realSocketClient{client: socketmode.New(api)}
		}
	}

	auth, err := t.client.AuthTest()
	if err != nil {
		return telegraph.TransportError("slack: auth test", err)
	}
	t.botUserID = auth.UserID
	t.connected = true
	return nil
}

// Send posts a message. Choices are rendered as a Block Kit actions row.
func (t *Transport) Send(ctx context.Context, msg telegraph.OutboundMessage) (telegraph.MessageRef, error) {
	if err := t.requireConnected(); err != nil {
		return telegraph.MessageRef{}, err
	}

	channelID := msg.ChannelID
	if channelID == "" {
		channelID = t.channelID
	}
	if channelID == "" {
		return telegraph.MessageRef{}, fmt.Errorf("slack: no channel specified")
	}

	var postedChannel, ts string
	err := retryOnRateLimit(ctx, func() error {
		var postErr error
		postedChannel, ts, postErr = t.client.PostMessage(channelID, buildMessageOptions(msg)...)
		return postErr
	})
	if err != nil {
		return telegraph.MessageRef{}, telegraph.TransportError("slack: post message", err)
	}
	if postedChannel == "" {
		postedChannel = channelID
	}
	return telegraph.MessageRef{ChannelID: postedChannel, MessageID: ts}, nil
}

// Edit replaces a message's text and drops its buttons.
func (t *Transport) Edit(ctx context.Context, ref telegraph.MessageRef, text string) error {
	if err := t.requireConnected(); err != nil {
		return err
	}
	err := retryOnRateLimit(ctx, func() error {
		_, _, _, updErr := t.client.UpdateMessage(ref.ChannelID, ref.MessageID,
			slackapi.MsgOptionText(text, false),
			slackapi.MsgOptionBlocks([]slackapi.Block{}...),
		)
		return updErr
	})
	if err != nil {
		return telegraph.TransportError("slack: update message", err)
	}
	return nil
}

// Updates starts the Socket Mode pump on first use and returns buffered
// events after cursor.
func (t *Transport) Updates(ctx context.Context, cursor int64, wait time.Duration) ([]telegraph.Update, error) {
	if err := t.startListening(); err != nil {
		return nil, err
	}
	return t.buf.Poll(ctx, cursor, wait)
}

// AnswerCallback is a no-op: interactive payloads are acknowledged on the
// socket as they arrive and Slack shows no callback toast.
func (t *Transport) AnswerCallback(ctx context.Context, callbackID, text string) error {
	return nil
}

// Close stops the socket pump and waits for it to exit.
func (t *Transport) Close() error {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return nil
	}
	t.closed = true
	t.connected = false
	cancel := t.cancelFunc
	t.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	t.wg.Wait()
	return nil
}

// BotUserID returns the bot's Slack user ID (available after Connect).
func (t *Transport) BotUserID() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.botUserID
}

func (t *Transport) requireConnected() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("slack: not connected")
	}
	return nil
}

func (t *Transport) startListening() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.connected {
		return fmt.Errorf("slack: not connected")
	}
	if t.socketErr != nil {
		err := t.socketErr
		t.socketErr = nil
		return err
	}
	if t.listening {
		return nil
	}
	ctx, cancel := context.WithCancel(context.Background())
	t.cancelFunc = cancel
	t.listening = true

	t.wg.Add(2)
	go func() {
		defer t.wg.Done()
		t.runWithReconnect(ctx)
	}()
	go func() {
		defer t.wg.Done()
		t.pumpEvents(ctx)
	}()
	return nil
}

// runWithReconnect runs the Socket Mode client and retries with exponential
// backoff when it returns an error. Once attempts are exhausted the pump is
// stopped and the next Updates call returns a transport error, after which
// the call following it starts a fresh pump.
func (t *Transport) runWithReconnect(ctx context.Context) {
	var err error
	for attempt := 0; attempt < t.maxReconnect; attempt++ {
		err = t.socket.RunContext(ctx)
		if err == nil || ctx.Err() != nil {
			return
		}

		wait := time.Duration(math.Pow(2, float64(attempt))) * t.baseBackoff
		if wait > t.maxBackoff {
			wait = t.maxBackoff
		}
		t.log.Warn("socket mode disconnected",
			zap.Int("attempt", attempt+1),
			zap.Int("max_attempts", t.maxReconnect),
			zap.Duration("retry_in", wait),
			zap.Error(err))

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
	t.log.Error("socket mode reconnection attempts exhausted", zap.Int("attempts", t.maxReconnect))

	t.mu.Lock()
	t.socketErr = telegraph.TransportError("slack: socket mode", err)
	t.listening = false
	cancel := t.cancelFunc
	t.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// pumpEvents reads Socket Mode events into the update buffer.
func (t *Transport) pumpEvents(ctx context.Context) {
	events := t.socket.EventsChan()
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			t.handleSocketEvent(evt)
		}
	}
}

// handleSocketEvent processes a single Socket Mode event.
func (t *Transport) handleSocketEvent(evt socketmode.Event) {
	switch evt.Type {
	case socketmode.EventTypeEventsAPI:
		eventsAPIEvent, ok := evt.Data.(slackevents.EventsAPIEvent)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleEventsAPI(eventsAPIEvent)

	case socketmode.EventTypeInteractive:
		cb, ok := evt.Data.(slackapi.InteractionCallback)
		if !ok {
			return
		}
		if evt.Request != nil {
			t.socket.Ack(*evt.Request)
		}
		t.handleInteraction(cb)

	case socketmode.EventTypeConnecting:
		t.log.Debug("connecting to socket mode")

	case socketmode.EventTypeConnected:
		t.log.Info("connected to socket mode")

	case socketmode.EventTypeConnectionError:
		t.log.Warn("socket mode connection error", zap.Any("data", evt.Data))

	case socketmode.EventTypeDisconnect:
		t.log.Info("server requested disconnect, will reconnect")
	}
}

// handleEventsAPI processes Events API callbacks.
func (t *Transport) handleEventsAPI(event slackevents.EventsAPIEvent) {
	if event.Type != slackevents.CallbackEvent {
		return
	}
	if ev, ok := event.InnerEvent.Data.(*slackevents.MessageEvent); ok {
		t.handleMessage(ev)
	}
}

// handleMessage buffers an operator message. Bot messages and subtypes
// (edits, deletes, joins) are dropped.
func (t *Transport) handleMessage(ev *slackevents.MessageEvent) {
	if ev.User == t.BotUserID() || ev.BotID != "" || ev.SubType != "" {
		return
	}
	t.buf.Push(telegraph.Update{
		Kind:     telegraph.UpdateMessage,
		ChatID:   ev.Channel,
		UserID:   ev.User,
		UserName: t.resolveUserName(ev.User),
		Text:     ev.Text,
		Ref:      telegraph.MessageRef{ChannelID: ev.Channel, MessageID: ev.TimeStamp},
	})
}

// handleInteraction buffers one callback per pressed button.
func (t *Transport) handleInteraction(cb slackapi.InteractionCallback) {
	if cb.Type != slackapi.InteractionTypeBlockActions {
		return
	}
	channelID := cb.Channel.ID
	if channelID == "" {
		channelID = cb.Container.ChannelID
	}
	ts := cb.Container.MessageTs
	if ts == "" {
		ts = cb.Message.Timestamp
	}
	for _, action := range cb.ActionCallback.BlockActions {
		if action == nil || action.BlockID != choiceBlockID {
			continue
		}
		t.buf.Push(telegraph.Update{
			Kind:         telegraph.UpdateCallback,
			ChatID:       channelID,
			UserID:       cb.User.ID,
			UserName:     cb.User.Name,
			Ref:          telegraph.MessageRef{ChannelID: channelID, MessageID: ts},
			CallbackID:   cb.TriggerID,
			CallbackData: action.Value,
		})
	}
}

// resolveUserName looks up a user's display name, caching the result.
// Falls back to the user ID.
func (t *Transport) resolveUserName(userID string) string {
	if userID == "" {
		return ""
	}
	t.mu.Lock()
	name, ok := t.userNames[userID]
	t.mu.Unlock()
	if ok {
		return name
	}

	name = userID
	if user, err := t.client.GetUserInfo(userID); err == nil {
		if user.Profile.DisplayName != "" {
			name = user.Profile.DisplayName
		} else if user.RealName != "" {
			name = user.RealName
		}
	}
	t.mu.Lock()
	t.userNames[userID] = name
	t.mu.Unlock()
	return name
}

// buildMessageOptions translates an OutboundMessage into Slack MsgOptions.
func buildMessageOptions(msg telegraph.OutboundMessage) []slackapi.MsgOption {
	options := []slackapi.MsgOption{slackapi.MsgOptionText(msg.Text, false)}
	if len(msg.Choices) == 0 {
		return options
	}

	text := msg.Text
	if len(text) > maxSectionText {
		text = text[:maxSectionText]
	}
	section := slackapi.NewSectionBlock(
		slackapi.NewTextBlockObject(slackapi.PlainTextType, text, false, false), nil, nil)

	buttons := make([]slackapi.BlockElement, 0, len(msg.Choices))
	for i, c := range msg.Choices {
		btn := slackapi.NewButtonBlockElement("choice_"+strconv.Itoa(i), c.Data,
			slackapi.NewTextBlockObject(slackapi.PlainTextType, c.Label, false, false))
		if i == 0 {
			btn = btn.WithStyle(slackapi.StylePrimary)
		}
		buttons = append(buttons, btn)
	}
	actions := slackapi.NewActionBlock(choiceBlockID, buttons...)
	return append(options, slackapi.MsgOptionBlocks(section, actions))
}

// retryOnRateLimit calls fn and retries with backoff on Slack rate limit errors.
// It respects context cancellation and the RetryAfter duration from Slack.
func retryOnRateLimit(ctx context.Context, fn func() error) error {
	for attempt := 0; attempt <= maxRetries; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}

		var rle *slackapi.RateLimitedError
		if !errors.As(err, &rle) {
			return err
		}
		if attempt == maxRetries {
			return err
		}

		wait := rle.RetryAfter
		if wait <= 0 {
			wait = time.Duration(math.Pow(2, float64(attempt))) * time.Second
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	return nil // unreachable
}
