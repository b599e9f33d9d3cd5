// Package session is the registry of agent sessions sharing the operator
// channel: registration with short collision-free codes, default-session
// selection, and liveness cleanup.
package session

import (
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/settings"
	"gorm.io/gorm"
)

// Alphabet is the set of characters session codes are drawn from. It omits
// 0/O and 1/I so codes survive being read off a phone screen.
const Alphabet = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"

// CodeLength is the number of characters in a session code.
const CodeLength = 3

// CodePattern matches one session code (for use inside larger regexps).
const CodePattern = "[A-HJ-NP-Z2-9]{3}"

const (
	// maxGenerateAttempts bounds code generation inside one transaction.
	maxGenerateAttempts = 64
	// maxRegisterAttempts retries the whole transaction when a concurrent
	// writer on a non-serializing engine wins the primary key.
	maxRegisterAttempts = 3
)

// ProcessProbe reports whether the process with the given pid is running.
type ProcessProbe func(pid int) bool

// ValidCode reports whether s is a well-formed session code.
func ValidCode(s string) bool {
	if len(s) != CodeLength {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isAlphabet(s[i]) {
			return false
		}
	}
	return true
}

func isAlphabet(c byte) bool {
	for i := 0; i < len(Alphabet); i++ {
		if Alphabet[i] == c {
			return true
		}
	}
	return false
}

// generateCode returns a random code from Alphabet.
func generateCode() string {
	b := make([]byte, CodeLength)
	for i := range b {
		b[i] = Alphabet[rand.Intn(len(Alphabet))]
	}
	return string(b)
}

// Register creates an active session owned by ownerPID and returns it. The
// code is unique among active sessions; a retired (aborted) session holding
// the same code is purged and its code reused. The first session registered
// while no default exists becomes the default.
func Register(db *gorm.DB, description string, ownerPID int) (*models.Session, error) {
	var (
		sess *models.Session
		err  error
	)
	for attempt := 0; attempt < maxRegisterAttempts; attempt++ {
		sess, err = registerOnce(db, description, ownerPID)
		if err == nil {
			return sess, nil
		}
	}
	return nil, fmt.Errorf("session: register: %w", err)
}

func registerOnce(db *gorm.DB, description string, ownerPID int) (*models.Session, error) {
	var sess *models.Session
	err := db.Transaction(func(tx *gorm.DB) error {
		for i := 0; i < maxGenerateAttempts; i++ {
			code := generateCode()

			var existing []models.Session
			if err := tx.Where("id = ?", code).Limit(1).Find(&existing).Error; err != nil {
				return fmt.Errorf("check code: %w", err)
			}
			if len(existing) > 0 {
				if existing[0].Status == models.SessionActive {
					continue
				}
				if err := purge(tx, code); err != nil {
					return err
				}
			}

			now := time.Now()
			sess = &models.Session{
				ID:           code,
				Description:  description,
				OwnerPID:     ownerPID,
				Status:       models.SessionActive,
				CreatedAt:    now,
				LastActivity: now,
			}
			if err := tx.Create(sess).Error; err != nil {
				return fmt.Errorf("create: %w", err)
			}

			if !hasActiveDefault(tx) {
				if err := settings.SetDefaultSession(tx, code); err != nil {
					return err
				}
			}
			return nil
		}
		return fmt.Errorf("no free code after %d attempts", maxGenerateAttempts)
	})
	if err != nil {
		return nil, err
	}
	return sess, nil
}

// hasActiveDefault reports whether the recorded default names an active session.
func hasActiveDefault(tx *gorm.DB) bool {
	id := settings.DefaultSession(tx)
	if id == "" {
		return false
	}
	var count int64
	tx.Model(&models.Session{}).Where("id = ? AND status = ?", id, models.SessionActive).Count(&count)
	return count > 0
}

// purge deletes a session row with its instructions and pending question.
func purge(tx *gorm.DB, id string) error {
	if err := tx.Where("session_id = ?", id).Delete(&models.Instruction{}).Error; err != nil {
		return fmt.Errorf("delete instructions: %w", err)
	}
	if err := tx.Where("session_id = ?", id).Delete(&models.PendingQuestion{}).Error; err != nil {
		return fmt.Errorf("delete question: %w", err)
	}
	if err := tx.Where("id = ?", id).Delete(&models.Session{}).Error; err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	return nil
}

// Get returns the session with the given code, whatever its status.
func Get(db *gorm.DB, id string) (*models.Session, error) {
	var s models.Session
	err := db.Where("id = ?", id).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, fmt.Errorf("session: %q: %w", id, errs.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("session: get %q: %w", id, err)
	}
	return &s, nil
}

// Exists reports whether an active session with the given code exists.
func Exists(db *gorm.DB, id string) bool {
	var count int64
	db.Model(&models.Session{}).Where("id = ? AND status = ?", id, models.SessionActive).Count(&count)
	return count > 0
}

// List returns all sessions, oldest first.
func List(db *gorm.DB) ([]models.Session, error) {
	var sessions []models.Session
	if err := db.Order("created_at ASC").Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("session: list: %w", err)
	}
	return sessions, nil
}

// Unregister deletes a session and everything queued for it. If it was the
// default, the oldest remaining active session becomes default.
func Unregister(db *gorm.DB, id string) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		var count int64
		if err := tx.Model(&models.Session{}).Where("id = ?", id).Count(&count).Error; err != nil {
			return err
		}
		if count == 0 {
			return errs.ErrNotFound
		}
		if err := purge(tx, id); err != nil {
			return err
		}
		if settings.DefaultSession(tx) != id {
			return nil
		}
		return reassignDefault(tx)
	})
	if err != nil {
		return fmt.Errorf("session: unregister %q: %w", id, err)
	}
	return nil
}

// reassignDefault points the default at the oldest active session, or
// clears it when none remain.
func reassignDefault(tx *gorm.DB) error {
	var next []models.Session
	if err := tx.Where("status = ?", models.SessionActive).
		Order("created_at ASC").Limit(1).Find(&next).Error; err != nil {
		return fmt.Errorf("pick default: %w", err)
	}
	if len(next) == 0 {
		return settings.SetDefaultSession(tx, "")
	}
	return settings.SetDefaultSession(tx, next[0].ID)
}

// SetDefault makes id the default session. Returns false if no active
// session has that code.
func SetDefault(db *gorm.DB, id string) bool {
	if !Exists(db, id) {
		return false
	}
	return settings.SetDefaultSession(db, id) == nil
}

// Default returns the default session, or ErrNotFound when none is set or
// the recorded default is no longer active.
func Default(db *gorm.DB) (*models.Session, error) {
	id := settings.DefaultSession(db)
	if id == "" {
		return nil, fmt.Errorf("session: no default session: %w", errs.ErrNotFound)
	}
	s, err := Get(db, id)
	if err != nil {
		return nil, err
	}
	if s.Status != models.SessionActive {
		return nil, fmt.Errorf("session: default %q is %s: %w", id, s.Status, errs.ErrNotFound)
	}
	return s, nil
}

// Touch records activity on a session.
func Touch(db *gorm.DB, id string) error {
	result := db.Model(&models.Session{}).Where("id = ?", id).Update("last_activity", time.Now())
	if result.Error != nil {
		return fmt.Errorf("session: touch %q: %w", id, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("session: touch %q: %w", id, errs.ErrNotFound)
	}
	return nil
}

// Abort marks an active session aborted and queues the abort sentinel so the
// session's own delivery hook terminates it. The code is retired and may be
// reused once the session unregisters or is cleaned up.
func Abort(db *gorm.DB, id string) error {
	err := db.Transaction(func(tx *gorm.DB) error {
		result := tx.Model(&models.Session{}).
			Where("id = ? AND status = ?", id, models.SessionActive).
			Update("status", models.SessionAborted)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return errs.ErrNotFound
		}
		if err := tx.Create(&models.Instruction{
			SessionID:  id,
			Text:       models.AbortSentinel,
			ReceivedAt: time.Now(),
		}).Error; err != nil {
			return fmt.Errorf("queue abort: %w", err)
		}
		if settings.DefaultSession(tx) == id {
			return reassignDefault(tx)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("session: abort %q: %w", id, err)
	}
	return nil
}

// CleanupStale unregisters active sessions created more than maxAge ago,
// whether or not their process is alive. Returns the number removed.
func CleanupStale(db *gorm.DB, maxAge time.Duration) (int, error) {
	if maxAge <= 0 {
		return 0, nil
	}
	var stale []models.Session
	if err := db.Where("status = ? AND created_at < ?", models.SessionActive, time.Now().Add(-maxAge)).
		Find(&stale).Error; err != nil {
		return 0, fmt.Errorf("session: cleanup stale: %w", err)
	}
	removed := 0
	for _, s := range stale {
		if err := Unregister(db, s.ID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// CleanupDead unregisters every session whose recorded owner process is gone.
// Aborted sessions are included so their codes are released. Sessions without
// an owner pid are left alone. Returns the removed codes.
func CleanupDead(db *gorm.DB, probe ProcessProbe) ([]string, error) {
	if probe == nil {
		probe = ProcessAlive
	}
	var candidates []models.Session
	if err := db.Where("owner_pid > 0").Order("created_at ASC").Find(&candidates).Error; err != nil {
		return nil, fmt.Errorf("session: cleanup dead: %w", err)
	}
	var removed []string
	for _, s := range candidates {
		if probe(s.OwnerPID) {
			continue
		}
		if err := Unregister(db, s.ID); err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				continue
			}
			return removed, err
		}
		removed = append(removed, s.ID)
	}
	return removed, nil
}

// Resolve finds the session an adapter invocation belongs to: the explicit
// code when given, else the session owned by ppid, else the default. An
// owned session resolves whatever its status, so an aborted owner still
// receives its own abort; active sessions win over aborted ones.
func Resolve(db *gorm.DB, explicit string, ppid int) (*models.Session, error) {
	if explicit != "" {
		return Get(db, explicit)
	}
	if ppid > 0 {
		s, err := OwnedBy(db, ppid)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
	}
	return Default(db)
}

// OwnedBy returns the newest active session owned by pid, else its newest
// aborted one.
func OwnedBy(db *gorm.DB, pid int) (*models.Session, error) {
	var owned []models.Session
	if err := db.Where("owner_pid = ?", pid).Order("created_at DESC").Find(&owned).Error; err != nil {
		return nil, fmt.Errorf("session: resolve pid %d: %w", pid, err)
	}
	if len(owned) == 0 {
		return nil, fmt.Errorf("session: no session owned by pid %d: %w", pid, errs.ErrNotFound)
	}
	for i := range owned {
		if owned[i].IsActive() {
			return &owned[i], nil
		}
	}
	return &owned[0], nil
}
