package models

import "time"

// Approval statuses. Transitions are pending→responded or pending→expired,
// each exactly once.
const (
	ApprovalPending   = "pending"
	ApprovalResponded = "responded"
	ApprovalExpired   = "expired"
)

// ApprovalOption is one interactive choice. Order in Approval.Options is
// the button layout; the first option is the affirmative one.
type ApprovalOption struct {
	Label string `json:"label"`
	Value string `json:"value"`
}

// Approval is an interactive multi-option request awaiting the operator.
type Approval struct {
	ID                string           `gorm:"primaryKey;size:16"`
	Category          string           `gorm:"size:64;index"`
	Title             string           `gorm:"size:256"`
	Message           string           `gorm:"type:text"`
	Options           []ApprovalOption `gorm:"type:text;serializer:json"`
	Status            string           `gorm:"size:16;default:pending;index"`
	ResponseValue     string           `gorm:"size:64"`
	ChannelMessageRef string           `gorm:"size:128"`
	CreatedAt         time.Time        `gorm:"index"`
	RespondedAt       *time.Time
}

// OptionByValue returns the option carrying value, if any.
func (a *Approval) OptionByValue(value string) (ApprovalOption, bool) {
	for _, o := range a.Options {
		if o.Value == value {
			return o, true
		}
	}
	return ApprovalOption{}, false
}

// IsAffirmative reports whether value selects the first (affirmative) option.
func (a *Approval) IsAffirmative(value string) bool {
	return len(a.Options) > 0 && a.Options[0].Value == value
}
