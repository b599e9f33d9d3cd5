// Package settings is the process-wide key/value configuration held in the
// store: transport credentials, the listener's update cursor, the pause
// flag and the default session. Values that fail to decode read as their
// zero value so corrupt state never blocks a session.
package settings

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/zulandar/signalbox/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Well-known keys.
const (
	KeyBotToken       = "bot_token"
	KeyChatID         = "chat_id"
	KeyUpdateCursor   = "last_update_cursor"
	KeyPaused         = "paused"
	KeyDefaultSession = "default_session"
)

// Get returns the value stored under key, or "" when unset.
func Get(db *gorm.DB, key string) (string, error) {
	var s models.Setting
	err := db.Where("setting_key = ?", key).First(&s).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("settings: get %s: %w", key, err)
	}
	return s.Value, nil
}

// Set upserts key=value.
func Set(db *gorm.DB, key, value string) error {
	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "setting_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"value"}),
	}).Create(&models.Setting{Key: key, Value: value})
	if result.Error != nil {
		return fmt.Errorf("settings: set %s: %w", key, result.Error)
	}
	return nil
}

// Delete removes key. Deleting an unset key is not an error.
func Delete(db *gorm.DB, key string) error {
	if err := db.Where("setting_key = ?", key).Delete(&models.Setting{}).Error; err != nil {
		return fmt.Errorf("settings: delete %s: %w", key, err)
	}
	return nil
}

// Cursor returns the last processed transport update ID (0 when unset or
// unparseable).
func Cursor(db *gorm.DB) int64 {
	v, err := Get(db, KeyUpdateCursor)
	if err != nil || v == "" {
		return 0
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// SetCursor persists the last processed update ID.
func SetCursor(db *gorm.DB, cursor int64) error {
	return Set(db, KeyUpdateCursor, strconv.FormatInt(cursor, 10))
}

// Paused reports whether session notifications are suppressed.
func Paused(db *gorm.DB) bool {
	v, err := Get(db, KeyPaused)
	if err != nil || v == "" {
		return false
	}
	b, err := strconv.ParseBool(v)
	return err == nil && b
}

// SetPaused sets the pause flag.
func SetPaused(db *gorm.DB, paused bool) error {
	return Set(db, KeyPaused, strconv.FormatBool(paused))
}

// DefaultSession returns the default session ID or "".
func DefaultSession(db *gorm.DB) string {
	v, _ := Get(db, KeyDefaultSession)
	return v
}

// SetDefaultSession records id as default; "" clears it.
func SetDefaultSession(db *gorm.DB, id string) error {
	if id == "" {
		return Delete(db, KeyDefaultSession)
	}
	return Set(db, KeyDefaultSession, id)
}
