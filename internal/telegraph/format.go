package telegraph

import (
	"fmt"
	"strings"
	"time"

	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/models"
)

// Reply texts shared by the router and the hook adapters.
const (
	DeliveredText     = "Delivered"
	AlreadyHandled    = "Already handled"
	maxPreviewLength  = 80
	maxQuestionLength = 3500
)

// QueuedText is the confirmation for an instruction waiting for delivery.
func QueuedText(sessionID string) string {
	return "Queued for " + sessionID
}

// AnsweredText confirms an answer reached a waiting session.
func AnsweredText(sessionID string) string {
	return "Answer delivered to " + sessionID
}

// FormatNotification prefixes a session message with its code.
func FormatNotification(sessionID, text string) string {
	return fmt.Sprintf("[%s] %s", sessionID, text)
}

// FormatQuestion renders a blocking question and how to answer it.
func FormatQuestion(sessionID, text string) string {
	return fmt.Sprintf("[%s] Question:\n%s\n\nReply with \"%s: <answer>\"",
		sessionID, truncate(text, maxQuestionLength), sessionID)
}

// FormatApprovalPrompt renders the text above an approval's buttons.
func FormatApprovalPrompt(a *models.Approval) string {
	var b strings.Builder
	b.WriteString("Approval needed: ")
	b.WriteString(a.Title)
	if a.Category != "" {
		fmt.Fprintf(&b, " (%s)", a.Category)
	}
	if a.Message != "" {
		b.WriteString("\n\n")
		b.WriteString(a.Message)
	}
	return b.String()
}

// ApprovalChoices builds one button per option, in option order.
func ApprovalChoices(a *models.Approval) []Choice {
	choices := make([]Choice, 0, len(a.Options))
	for _, o := range a.Options {
		choices = append(choices, Choice{Label: o.Label, Data: approval.CallbackData(a.ID, o.Value)})
	}
	return choices
}

// FormatApprovalOutcome renders a resolved approval in place of its prompt.
func FormatApprovalOutcome(a *models.Approval) string {
	switch a.Status {
	case models.ApprovalResponded:
		label := a.ResponseValue
		if o, ok := a.OptionByValue(a.ResponseValue); ok {
			label = o.Label
		}
		return fmt.Sprintf("%s\n\nAnswered: %s", a.Title, label)
	case models.ApprovalExpired:
		return fmt.Sprintf("%s\n\n%s", a.Title, approval.ExpiredText)
	}
	return FormatApprovalPrompt(a)
}

// SessionStatus is one row of the /status report.
type SessionStatus struct {
	Session        models.Session
	Pending        int64
	AwaitingAnswer bool
	IsDefault      bool
}

// FormatStatus renders the /status report.
func FormatStatus(rows []SessionStatus, paused bool, now time.Time) string {
	if len(rows) == 0 {
		return "No active sessions."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Sessions (%d)", len(rows))
	if paused {
		b.WriteString(" - notifications paused")
	}
	b.WriteString("\n")
	for _, r := range rows {
		marker := " "
		if r.IsDefault {
			marker = "*"
		}
		fmt.Fprintf(&b, "%s %s", marker, r.Session.ID)
		if r.Session.Description != "" {
			fmt.Fprintf(&b, " %s", truncate(r.Session.Description, 40))
		}
		fmt.Fprintf(&b, " (active %s ago", formatAge(now.Sub(r.Session.LastActivity)))
		if r.Pending > 0 {
			fmt.Fprintf(&b, ", %d queued", r.Pending)
		}
		if r.AwaitingAnswer {
			b.WriteString(", waiting for answer")
		}
		b.WriteString(")\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// formatAge renders a duration coarsely: 45s, 12m, 3h, 2d.
func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return fmt.Sprintf("%ds", int(d.Seconds()))
	case d < time.Hour:
		return fmt.Sprintf("%dm", int(d.Minutes()))
	case d < 48*time.Hour:
		return fmt.Sprintf("%dh", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd", int(d.Hours()/24))
	}
}

// truncate returns s truncated to maxLen bytes with "..." appended if needed.
func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
