package models

import "time"

// Instruction is a free-text operator instruction queued for one session.
// Delivery is at-most-once: Acknowledged flips when the session consumes it.
type Instruction struct {
	ID           uint      `gorm:"primaryKey;autoIncrement"`
	SessionID    string    `gorm:"size:8;not null;index:idx_instruction_pending"`
	Text         string    `gorm:"type:text;not null"`
	SourceRef    string    `gorm:"size:128"` // chat message that carried the instruction
	QueuedAckRef string    `gorm:"size:128"` // "queued" confirmation message
	ReceivedAt   time.Time `gorm:"index"`
	Acknowledged bool      `gorm:"default:false;index:idx_instruction_pending"`
}

// AbortSentinel is the reserved instruction text that tells a session's
// own polling loop to terminate. Operators cannot type it (leading NUL).
const AbortSentinel = "\x00signalbox:abort"
