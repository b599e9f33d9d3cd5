package models

import "time"

// PendingQuestion is the single-slot mailbox for a blocking question a
// session has asked the operator. SessionID is unique: asking again
// replaces the previous question.
type PendingQuestion struct {
	ID          uint      `gorm:"primaryKey;autoIncrement"`
	SessionID   string    `gorm:"size:8;not null;uniqueIndex"`
	Text        string    `gorm:"type:text;not null"`
	QuestionRef string    `gorm:"size:128"`
	AskedAt     time.Time
	Answered    bool   `gorm:"default:false"`
	Answer      string `gorm:"type:text"`
	AnsweredAt  *time.Time
}
