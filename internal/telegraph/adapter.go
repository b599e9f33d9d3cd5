// Package telegraph bridges signalbox sessions to a chat platform: the
// transport boundary, the command router and the polling listener.
package telegraph

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/signalbox/internal/errs"
)

// Transport is the interface platform implementations satisfy. It exposes
// three primitives: send a message (optionally with buttons), edit a sent
// message, and long-poll for inbound updates after a cursor.
type Transport interface {
	// Connect authenticates with the platform. Send and Edit work after
	// Connect; Updates may open a longer-lived connection lazily.
	Connect(ctx context.Context) error

	// Send delivers a message and returns a handle to it.
	Send(ctx context.Context, msg OutboundMessage) (MessageRef, error)

	// Edit replaces the text of a sent message and removes its buttons.
	Edit(ctx context.Context, ref MessageRef, text string) error

	// Updates returns updates with ID greater than cursor, blocking up to
	// wait when none are ready.
	Updates(ctx context.Context, cursor int64, wait time.Duration) ([]Update, error)

	// AnswerCallback acknowledges a button press so the client stops
	// showing a spinner. text may be shown to the operator.
	AnswerCallback(ctx context.Context, callbackID, text string) error

	// Close releases the platform connection.
	Close() error
}

// MessageRef identifies a sent or received chat message.
type MessageRef struct {
	ChannelID string
	MessageID string
}

// IsZero reports whether the ref is unset.
func (r MessageRef) IsZero() bool { return r.ChannelID == "" && r.MessageID == "" }

// String encodes the ref as "<channel>:<message>" for storage.
func (r MessageRef) String() string {
	if r.IsZero() {
		return ""
	}
	return r.ChannelID + ":" + r.MessageID
}

// ParseMessageRef decodes a ref produced by MessageRef.String.
func ParseMessageRef(s string) (MessageRef, bool) {
	channel, message, ok := strings.Cut(s, ":")
	if !ok || channel == "" || message == "" {
		return MessageRef{}, false
	}
	return MessageRef{ChannelID: channel, MessageID: message}, true
}

// Choice is one interactive button. Data is echoed back in the callback.
type Choice struct {
	Label string
	Data  string
}

// OutboundMessage is a message to post to the operator channel.
type OutboundMessage struct {
	ChannelID string     // empty means the transport's default channel
	ReplyTo   MessageRef // optional message to reply to
	Text      string
	Choices   []Choice // rendered as one row of buttons
}

// UpdateKind distinguishes text messages from button presses.
type UpdateKind string

const (
	UpdateMessage  UpdateKind = "message"
	UpdateCallback UpdateKind = "callback"
)

// Update is one inbound event from the platform.
type Update struct {
	ID           int64
	Kind         UpdateKind
	ChatID       string
	UserID       string
	UserName     string
	Text         string
	Ref          MessageRef // the message itself, or the message whose button was pressed
	CallbackID   string
	CallbackData string
}

// TransportError marks err as a platform failure (errs.ErrTransport) while
// keeping the platform's own error in the chain.
func TransportError(op string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w: %w", op, errs.ErrTransport, err)
}
