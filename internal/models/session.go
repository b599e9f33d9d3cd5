package models

import "time"

// Session statuses.
const (
	SessionActive  = "active"
	SessionAborted = "aborted"
)

// Session is one registered agent process sharing the operator channel.
// ID is the short operator-typeable code (e.g. "K7F").
type Session struct {
	ID           string    `gorm:"primaryKey;size:8"`
	Description  string    `gorm:"size:256"`
	OwnerPID     int       `gorm:"column:owner_pid;index"`
	Status       string    `gorm:"size:16;default:active;index"`
	CreatedAt    time.Time `gorm:"index"`
	LastActivity time.Time
}

// IsActive reports whether the session still accepts instructions.
func (s Session) IsActive() bool { return s.Status == SessionActive }
