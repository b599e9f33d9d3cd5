// Package question is the single-slot question/answer mailbox between one
// session and the operator. A session asks, the listener answers, and the
// session takes the answer exactly once.
package question

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DefaultInterval is the Wait poll interval when none is given.
const DefaultInterval = time.Second

// Ask records text as the session's pending question, replacing any
// previous question and discarding its answer.
func Ask(db *gorm.DB, sessionID, text string) (*models.PendingQuestion, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("question: sessionID is required")
	}
	if text == "" {
		return nil, fmt.Errorf("question: text is required")
	}

	var count int64
	if err := db.Model(&models.Session{}).
		Where("id = ? AND status = ?", sessionID, models.SessionActive).
		Count(&count).Error; err != nil {
		return nil, fmt.Errorf("question: ask %s: %w", sessionID, err)
	}
	if count == 0 {
		return nil, fmt.Errorf("question: session %s: %w", sessionID, errs.ErrNotFound)
	}

	q := models.PendingQuestion{
		SessionID: sessionID,
		Text:      text,
		AskedAt:   time.Now(),
	}
	result := db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "session_id"}},
		DoUpdates: clause.Assignments(map[string]interface{}{
			"text":         q.Text,
			"asked_at":     q.AskedAt,
			"question_ref": "",
			"answered":     false,
			"answer":       "",
			"answered_at":  nil,
		}),
	}).Create(&q)
	if result.Error != nil {
		return nil, fmt.Errorf("question: ask %s: %w", sessionID, result.Error)
	}
	return &q, nil
}

// Get returns the session's question, answered or not.
func Get(db *gorm.DB, sessionID string) (*models.PendingQuestion, error) {
	var q models.PendingQuestion
	err := db.Where("session_id = ?", sessionID).First(&q).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("question: %s: %w", sessionID, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("question: get %s: %w", sessionID, err)
	}
	return &q, nil
}

// HasPending reports whether the session has an unanswered question.
func HasPending(db *gorm.DB, sessionID string) bool {
	var n int64
	db.Model(&models.PendingQuestion{}).
		Where("session_id = ? AND answered = ?", sessionID, false).
		Count(&n)
	return n > 0
}

// SetRef records the chat message that carried the question.
func SetRef(db *gorm.DB, sessionID, ref string) error {
	result := db.Model(&models.PendingQuestion{}).Where("session_id = ?", sessionID).Update("question_ref", ref)
	if result.Error != nil {
		return fmt.Errorf("question: set ref %s: %w", sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("question: %s: %w", sessionID, errs.ErrNotFound)
	}
	return nil
}

// Answer stores answer on the session's unanswered question. Returns false
// when there is no question or it was already answered.
func Answer(db *gorm.DB, sessionID, answer string) (bool, error) {
	now := time.Now()
	result := db.Model(&models.PendingQuestion{}).
		Where("session_id = ? AND answered = ?", sessionID, false).
		Updates(map[string]interface{}{
			"answered":    true,
			"answer":      answer,
			"answered_at": now,
		})
	if result.Error != nil {
		return false, fmt.Errorf("question: answer %s: %w", sessionID, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// TakeAnswer consumes the session's answer. ok is false while unanswered.
// The row is deleted with a conditional delete, so only one concurrent
// caller observes ok.
func TakeAnswer(db *gorm.DB, sessionID string) (answer string, ok bool, err error) {
	err = db.Transaction(func(tx *gorm.DB) error {
		var q []models.PendingQuestion
		if err := tx.Where("session_id = ? AND answered = ?", sessionID, true).
			Limit(1).Find(&q).Error; err != nil {
			return err
		}
		if len(q) == 0 {
			return nil
		}
		result := tx.Where("id = ? AND answered = ?", q[0].ID, true).Delete(&models.PendingQuestion{})
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return nil
		}
		answer, ok = q[0].Answer, true
		return nil
	})
	if err != nil {
		return "", false, fmt.Errorf("question: take answer %s: %w", sessionID, err)
	}
	return answer, ok, nil
}

// ClearPending drops the session's question whether or not it was answered.
func ClearPending(db *gorm.DB, sessionID string) error {
	if err := db.Where("session_id = ?", sessionID).Delete(&models.PendingQuestion{}).Error; err != nil {
		return fmt.Errorf("question: clear %s: %w", sessionID, err)
	}
	return nil
}

// WaitOpts bounds a Wait call.
type WaitOpts struct {
	Interval time.Duration // poll interval, default DefaultInterval
	Timeout  time.Duration // 0 waits until ctx is done
	Logger   *zap.Logger   // optional
}

// Wait polls until the session's question is answered and returns the
// answer. On timeout or cancellation the question is cleared so a late
// reply is not mistaken for an answer to the next question.
func Wait(ctx context.Context, db *gorm.DB, sessionID string, opts WaitOpts) (string, error) {
	interval := opts.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	log := logging.OrNop(opts.Logger)
	drop := func() {
		if err := ClearPending(db, sessionID); err != nil {
			log.Warn("clear unanswered question", zap.String("session", sessionID), zap.Error(err))
		}
	}
	var deadline time.Time
	if opts.Timeout > 0 {
		deadline = time.Now().Add(opts.Timeout)
	}

	for {
		answer, ok, err := TakeAnswer(db, sessionID)
		if err != nil {
			return "", err
		}
		if ok {
			return answer, nil
		}

		sleep := interval
		if !deadline.IsZero() {
			remaining := time.Until(deadline)
			if remaining <= 0 {
				drop()
				return "", fmt.Errorf("question: wait %s: %w", sessionID, errs.ErrTimeout)
			}
			if remaining < sleep {
				sleep = remaining
			}
		}

		select {
		case <-ctx.Done():
			drop()
			return "", ctx.Err()
		case <-time.After(sleep):
		}
	}
}
