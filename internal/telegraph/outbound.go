package telegraph

import (
	"context"
	"fmt"

	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/question"
	"github.com/zulandar/signalbox/internal/settings"
	"gorm.io/gorm"
)

// Notify posts "[CODE] text" to the channel. It returns false without
// sending while notifications are paused.
func Notify(ctx context.Context, db *gorm.DB, t Transport, sessionID, text string) (bool, error) {
	if settings.Paused(db) {
		return false, nil
	}
	if _, err := t.Send(ctx, OutboundMessage{Text: FormatNotification(sessionID, text)}); err != nil {
		return false, fmt.Errorf("telegraph: notify %s: %w", sessionID, err)
	}
	return true, nil
}

// SendQuestion posts a pending question and records the message carrying it.
// Questions are sent even while notifications are paused.
func SendQuestion(ctx context.Context, db *gorm.DB, t Transport, q *models.PendingQuestion) (MessageRef, error) {
	ref, err := t.Send(ctx, OutboundMessage{Text: FormatQuestion(q.SessionID, q.Text)})
	if err != nil {
		return MessageRef{}, fmt.Errorf("telegraph: send question for %s: %w", q.SessionID, err)
	}
	if err := question.SetRef(db, q.SessionID, ref.String()); err != nil {
		return ref, err
	}
	return ref, nil
}

// ApprovalSender returns an approval.SendFunc that posts the prompt with one
// button per option.
func ApprovalSender(t Transport) approval.SendFunc {
	return func(ctx context.Context, a *models.Approval) (string, error) {
		ref, err := t.Send(ctx, OutboundMessage{
			Text:    FormatApprovalPrompt(a),
			Choices: ApprovalChoices(a),
		})
		if err != nil {
			return "", err
		}
		return ref.String(), nil
	}
}

// ApprovalExpirer returns an approval.MarkExpiredFunc that rewrites the
// prompt to the expired outcome, removing its buttons.
func ApprovalExpirer(t Transport) approval.MarkExpiredFunc {
	return func(ctx context.Context, a *models.Approval) error {
		ref, ok := ParseMessageRef(a.ChannelMessageRef)
		if !ok {
			return fmt.Errorf("telegraph: approval %s has no message ref", a.ID)
		}
		expired := *a
		expired.Status = models.ApprovalExpired
		return t.Edit(ctx, ref, FormatApprovalOutcome(&expired))
	}
}

// MarkDelivered edits each instruction's "Queued for" confirmation to
// "Delivered" and returns how many edits succeeded. Edit failures are
// skipped.
func MarkDelivered(ctx context.Context, t Transport, batch []models.Instruction) int {
	edited := 0
	for _, inst := range batch {
		ref, ok := ParseMessageRef(inst.QueuedAckRef)
		if !ok {
			continue
		}
		if err := t.Edit(ctx, ref, DeliveredText); err != nil {
			continue
		}
		edited++
	}
	return edited
}
