// Package instruction is the per-session FIFO of operator instructions.
// Delivery is at-most-once: AcknowledgeAll hands every pending instruction
// to exactly one caller.
package instruction

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
)

// AbortSentinel is the reserved instruction that terminates a session.
const AbortSentinel = models.AbortSentinel

// Enqueue appends text to the queue of an active session and returns the
// new instruction ID.
func Enqueue(db *gorm.DB, sessionID, text, sourceRef string) (uint, error) {
	if sessionID == "" {
		return 0, fmt.Errorf("instruction: sessionID is required")
	}
	if strings.TrimSpace(text) == "" {
		return 0, fmt.Errorf("instruction: text is required")
	}

	var count int64
	if err := db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionActive).
		Count(&count).Error; err != nil {
		return 0, fmt.Errorf("instruction: enqueue %s: %w", sessionID, err)
	}
	if count == 0 {
		return 0, fmt.Errorf("instruction: session %s: %w", sessionID, errs.ErrNotFound)
	}

	inst := models.Instruction{
		SessionID:  sessionID,
		Text:       text,
		SourceRef:  sourceRef,
		ReceivedAt: time.Now(),
	}
	if err := db.Create(&inst).Error; err != nil {
		return 0, fmt.Errorf("instruction: enqueue %s: %w", sessionID, err)
	}
	return inst.ID, nil
}

// PendingFor returns unacknowledged instructions for a session, oldest first.
func PendingFor(db *gorm.DB, sessionID string) ([]models.Instruction, error) {
	var pending []models.Instruction
	if err := db.Where("session_id = ? AND acknowledged = ?", sessionID, false).
		Order("received_at ASC, id ASC").Find(&pending).Error; err != nil {
		return nil, fmt.Errorf("instruction: pending %s: %w", sessionID, err)
	}
	return pending, nil
}

// AcknowledgeAll marks every pending instruction for a session acknowledged
// and returns them, oldest first. Each row is claimed with a conditional
// update so two concurrent callers never both receive the same instruction.
func AcknowledgeAll(db *gorm.DB, sessionID string) ([]models.Instruction, error) {
	var claimed []models.Instruction
	err := db.Transaction(func(tx *gorm.DB) error {
		var pending []models.Instruction
		if err := tx.Where("session_id = ? AND acknowledged = ?", sessionID, false).
			Order("received_at ASC, id ASC").Find(&pending).Error; err != nil {
			return err
		}
		for _, inst := range pending {
			result := tx.Model(&models.Instruction{}).
				Where("id = ? AND acknowledged = ?", inst.ID, false).
				Update("acknowledged", true)
			if result.Error != nil {
				return result.Error
			}
			if result.RowsAffected == 0 {
				continue
			}
			inst.Acknowledged = true
			claimed = append(claimed, inst)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("instruction: acknowledge %s: %w", sessionID, err)
	}
	return claimed, nil
}

// SetQueuedAck records the chat message that confirmed the instruction was
// queued, so it can be edited once delivered.
func SetQueuedAck(db *gorm.DB, id uint, ref string) error {
	result := db.Model(&models.Instruction{}).Where("id = ?", id).Update("queued_ack_ref", ref)
	if result.Error != nil {
		return fmt.Errorf("instruction: set queued ack %d: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("instruction: %d: %w", id, errs.ErrNotFound)
	}
	return nil
}

// CountPending returns the number of unacknowledged instructions for a session.
func CountPending(db *gorm.DB, sessionID string) (int64, error) {
	var n int64
	if err := db.Model(&models.Instruction{}).
		Where("session_id = ? AND acknowledged = ?", sessionID, false).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("instruction: count %s: %w", sessionID, err)
	}
	return n, nil
}

// Split separates the abort sentinel from ordinary instructions. aborted is
// true when any instruction in the batch was the sentinel.
func Split(batch []models.Instruction) (texts []string, aborted bool) {
	for _, inst := range batch {
		if inst.Text == AbortSentinel {
			aborted = true
			continue
		}
		texts = append(texts, inst.Text)
	}
	return texts, aborted
}
