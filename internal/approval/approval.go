// Package approval manages multi-option interactive approval requests. Each
// approval leaves the pending state exactly once, to responded or expired,
// through a single conditional UPDATE.
package approval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	// MinOptions and MaxOptions bound the number of buttons on a prompt.
	MinOptions = 2
	MaxOptions = 4

	// MaxCallbackBytes is the largest callback payload every transport accepts.
	MaxCallbackBytes = 64

	// IDLength is the length of an approval token.
	IDLength = 8

	// CallbackPrefix tags callback payloads that resolve approvals.
	CallbackPrefix = "ap"

	// ExpiredText replaces a prompt nobody answered in time.
	ExpiredText = "Expired — no response received"

	// DefaultPollInterval is the SendAndAwait status poll interval.
	DefaultPollInterval = 500 * time.Millisecond

	maxCreateAttempts = 5
)

// ErrInvalidOption means a response value is not one of the approval's options.
var ErrInvalidOption = errors.New("approval: value is not an option")

// YesNo returns the conventional Allow/Deny option pair.
func YesNo() []models.ApprovalOption {
	return []models.ApprovalOption{
		{Label: "Allow", Value: "allow"},
		{Label: "Deny", Value: "deny"},
	}
}

// CallbackData encodes the button payload for one option.
func CallbackData(id, value string) string {
	return CallbackPrefix + ":" + id + ":" + value
}

// ParseCallback decodes a payload produced by CallbackData.
func ParseCallback(data string) (id, value string, ok bool) {
	parts := strings.SplitN(data, ":", 3)
	if len(parts) != 3 || parts[0] != CallbackPrefix || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

func newID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:IDLength]
}

// validateOptions enforces the button constraints shared by every transport.
func validateOptions(options []models.ApprovalOption) error {
	if len(options) < MinOptions || len(options) > MaxOptions {
		return fmt.Errorf("approval: need %d-%d options, got %d", MinOptions, MaxOptions, len(options))
	}
	seen := make(map[string]bool, len(options))
	for i, o := range options {
		if o.Label == "" {
			return fmt.Errorf("approval: option %d: label is required", i)
		}
		if o.Value == "" {
			return fmt.Errorf("approval: option %d: value is required", i)
		}
		if strings.Contains(o.Value, ":") {
			return fmt.Errorf("approval: option %d: value %q must not contain ':'", i, o.Value)
		}
		if seen[o.Value] {
			return fmt.Errorf("approval: duplicate option value %q", o.Value)
		}
		seen[o.Value] = true
		if n := len(CallbackData(strings.Repeat("x", IDLength), o.Value)); n > MaxCallbackBytes {
			return fmt.Errorf("approval: option %d: callback payload is %d bytes, max %d", i, n, MaxCallbackBytes)
		}
	}
	return nil
}

// Create validates options and persists a pending approval.
func Create(db *gorm.DB, category, title, message string, options []models.ApprovalOption) (*models.Approval, error) {
	if title == "" {
		return nil, fmt.Errorf("approval: title is required")
	}
	if err := validateOptions(options); err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 0; attempt < maxCreateAttempts; attempt++ {
		a := models.Approval{
			ID:        newID(),
			Category:  category,
			Title:     title,
			Message:   message,
			Options:   options,
			Status:    models.ApprovalPending,
			CreatedAt: time.Now(),
		}
		var count int64
		if err := db.Model(&models.Approval{}).Where("id = ?", a.ID).Count(&count).Error; err != nil {
			return nil, fmt.Errorf("approval: create: %w", err)
		}
		if count > 0 {
			continue
		}
		if err := db.Create(&a).Error; err != nil {
			lastErr = err
			continue
		}
		return &a, nil
	}
	if lastErr == nil {
		lastErr = errors.New("no free id")
	}
	return nil, fmt.Errorf("approval: create: %w", lastErr)
}

// Get returns an approval by ID.
func Get(db *gorm.DB, id string) (*models.Approval, error) {
	var a models.Approval
	err := db.Where("id = ?", id).First(&a).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("approval: %s: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("approval: get %s: %w", id, err)
	}
	return &a, nil
}

// Status returns the approval's current status.
func Status(db *gorm.DB, id string) (string, error) {
	a, err := Get(db, id)
	if err != nil {
		return "", err
	}
	return a.Status, nil
}

// List returns approvals, newest first, optionally filtered by status.
func List(db *gorm.DB, status string, limit int) ([]models.Approval, error) {
	q := db.Order("created_at DESC")
	if status != "" {
		q = q.Where("status = ?", status)
	}
	if limit > 0 {
		q = q.Limit(limit)
	}
	var out []models.Approval
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("approval: list: %w", err)
	}
	return out, nil
}

// ListPending returns approvals still awaiting a response, oldest first.
func ListPending(db *gorm.DB) ([]models.Approval, error) {
	var out []models.Approval
	if err := db.Where("status = ?", models.ApprovalPending).Order("created_at ASC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("approval: list pending: %w", err)
	}
	return out, nil
}

// SetMessageRef records the chat message carrying the prompt.
func SetMessageRef(db *gorm.DB, id, ref string) error {
	if err := db.Model(&models.Approval{}).Where("id = ?", id).Update("channel_message_ref", ref).Error; err != nil {
		return fmt.Errorf("approval: set ref %s: %w", id, err)
	}
	return nil
}

// Respond resolves a pending approval with value. It returns ErrNotFound
// for an unknown approval, ErrInvalidOption for a value outside the
// options, and ErrAlreadyResolved when the approval already left pending.
func Respond(db *gorm.DB, id, value string) error {
	a, err := Get(db, id)
	if err != nil {
		return err
	}
	if _, ok := a.OptionByValue(value); !ok {
		return fmt.Errorf("approval: respond %s with %q: %w", id, value, ErrInvalidOption)
	}

	now := time.Now()
	result := db.Model(&models.Approval{}).
		Where("id = ? AND status = ?", id, models.ApprovalPending).
		Updates(map[string]interface{}{
			"status":         models.ApprovalResponded,
			"response_value": value,
			"responded_at":   now,
		})
	if result.Error != nil {
		return fmt.Errorf("approval: respond %s: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("approval: respond %s: %w", id, errs.ErrAlreadyResolved)
	}
	return nil
}

// Expire moves a pending approval to expired. Returns false when it had
// already been responded to or expired.
func Expire(db *gorm.DB, id string) (bool, error) {
	result := db.Model(&models.Approval{}).
		Where("id = ? AND status = ?", id, models.ApprovalPending).
		Update("status", models.ApprovalExpired)
	if result.Error != nil {
		return false, fmt.Errorf("approval: expire %s: %w", id, result.Error)
	}
	return result.RowsAffected > 0, nil
}

// SendFunc delivers the interactive prompt and returns its message ref.
type SendFunc func(ctx context.Context, a *models.Approval) (string, error)

// MarkExpiredFunc rewrites a delivered prompt after it expired.
type MarkExpiredFunc func(ctx context.Context, a *models.Approval) error

// AwaitOpts configures SendAndAwait.
type AwaitOpts struct {
	Send         SendFunc
	MarkExpired  MarkExpiredFunc // optional
	Timeout      time.Duration
	PollInterval time.Duration // default DefaultPollInterval
	Logger       *zap.Logger   // optional
}

// Result is the outcome of SendAndAwait.
type Result struct {
	Approved bool   `json:"approved"`
	Value    string `json:"value,omitempty"`
	TimedOut bool   `json:"timed_out"`
}

func resultOf(a *models.Approval) Result {
	switch a.Status {
	case models.ApprovalResponded:
		return Result{Approved: a.IsAffirmative(a.ResponseValue), Value: a.ResponseValue}
	case models.ApprovalExpired:
		return Result{TimedOut: true}
	}
	return Result{}
}

// SendAndAwait delivers the prompt for approval id and polls until it is
// resolved or Timeout elapses. On timeout the approval is expired with a
// compare-and-set; if a response won that race the response is reported.
func SendAndAwait(ctx context.Context, db *gorm.DB, id string, opts AwaitOpts) (Result, error) {
	if opts.Send == nil {
		return Result{}, fmt.Errorf("approval: await: Send is required")
	}
	if opts.Timeout <= 0 {
		return Result{}, fmt.Errorf("approval: await: Timeout must be positive")
	}
	interval := opts.PollInterval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	log := logging.OrNop(opts.Logger)

	a, err := Get(db, id)
	if err != nil {
		return Result{}, err
	}
	if a.Status != models.ApprovalPending {
		return resultOf(a), nil
	}

	deadline := time.Now().Add(opts.Timeout)
	ref, err := opts.Send(ctx, a)
	if err != nil {
		if _, expErr := Expire(db, id); expErr != nil {
			log.Warn("expire undelivered approval", zap.String("approval", id), zap.Error(expErr))
		}
		return Result{}, fmt.Errorf("approval: send %s: %w", id, err)
	}
	if ref != "" {
		a.ChannelMessageRef = ref
		if err := SetMessageRef(db, id, ref); err != nil {
			return Result{}, err
		}
	}

	for {
		status, err := Status(db, id)
		if err != nil {
			return Result{}, err
		}
		if status != models.ApprovalPending {
			return finalResult(db, id)
		}

		remaining := time.Until(deadline)
		if remaining <= 0 {
			return expireAndReport(ctx, db, a, opts.MarkExpired, log)
		}
		sleep := interval
		if remaining < sleep {
			sleep = remaining
		}

		select {
		case <-ctx.Done():
			res, err := expireAndReport(context.WithoutCancel(ctx), db, a, opts.MarkExpired, log)
			if err != nil {
				return res, err
			}
			if res.TimedOut {
				return res, ctx.Err()
			}
			return res, nil
		case <-time.After(sleep):
		}
	}
}

func finalResult(db *gorm.DB, id string) (Result, error) {
	a, err := Get(db, id)
	if err != nil {
		return Result{}, err
	}
	return resultOf(a), nil
}

func expireAndReport(ctx context.Context, db *gorm.DB, a *models.Approval, mark MarkExpiredFunc, log *zap.Logger) (Result, error) {
	won, err := Expire(db, a.ID)
	if err != nil {
		return Result{}, err
	}
	if !won {
		return finalResult(db, a.ID)
	}
	if mark != nil && a.ChannelMessageRef != "" {
		// The stored state is already authoritative.
		if err := mark(ctx, a); err != nil {
			log.Warn("mark approval expired", zap.String("approval", a.ID), zap.Error(err))
		}
	}
	return Result{TimedOut: true}, nil
}

// ExpireAbandoned expires pending approvals created before olderThan whose
// requester has gone away. Returns the number expired.
func ExpireAbandoned(db *gorm.DB, olderThan time.Time) (int64, error) {
	result := db.Model(&models.Approval{}).
		Where("status = ? AND created_at < ?", models.ApprovalPending, olderThan).
		Update("status", models.ApprovalExpired)
	if result.Error != nil {
		return 0, fmt.Errorf("approval: expire abandoned: %w", result.Error)
	}
	return result.RowsAffected, nil
}

// PruneOpts bounds a Prune pass.
type PruneOpts struct {
	Retention time.Duration // resolved approvals older than this are deleted
	Deadline  time.Time     // stop starting new batches after this instant
	BatchSize int           // rows per delete, default 200
}

// Prune deletes resolved approvals older than the retention window in
// batches until none remain or the deadline passes. Returns rows deleted.
func Prune(db *gorm.DB, opts PruneOpts) (int, error) {
	batch := opts.BatchSize
	if batch <= 0 {
		batch = 200
	}
	cutoff := time.Now().Add(-opts.Retention)

	total := 0
	for {
		if !opts.Deadline.IsZero() && time.Now().After(opts.Deadline) {
			return total, nil
		}
		var ids []string
		if err := db.Model(&models.Approval{}).
			Where("status <> ? AND created_at < ?", models.ApprovalPending, cutoff).
			Order("created_at ASC").Limit(batch).Pluck("id", &ids).Error; err != nil {
			return total, fmt.Errorf("approval: prune: %w", err)
		}
		if len(ids) == 0 {
			return total, nil
		}
		result := db.Where("id IN ? AND status <> ?", ids, models.ApprovalPending).Delete(&models.Approval{})
		if result.Error != nil {
			return total, fmt.Errorf("approval: prune: %w", result.Error)
		}
		total += int(result.RowsAffected)
		if len(ids) < batch {
			return total, nil
		}
	}
}
