package telegraph

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/instruction"
	"github.com/zulandar/signalbox/internal/question"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/settings"
	"gorm.io/gorm"
)

// Reply is what the router posts back for one operator message.
// InstructionID is set when the reply confirms a queued instruction, so the
// confirmation can later be edited to "Delivered".
type Reply struct {
	Text          string
	InstructionID uint
}

// CommandHandler executes slash commands from the operator.
type CommandHandler struct {
	db        *gorm.DB
	probe     session.ProcessProbe
	maxAge    time.Duration
	startedAt time.Time
}

// CommandHandlerOpts holds parameters for creating a CommandHandler.
type CommandHandlerOpts struct {
	DB        *gorm.DB
	Probe     session.ProcessProbe // defaults to session.ProcessAlive
	MaxAge    time.Duration        // /cleanup also removes sessions older than this; 0 disables
	StartedAt time.Time            // reported by /ping; defaults to now
}

// NewCommandHandler creates a CommandHandler.
func NewCommandHandler(opts CommandHandlerOpts) (*CommandHandler, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("telegraph: command handler: db is required")
	}
	probe := opts.Probe
	if probe == nil {
		probe = session.ProcessAlive
	}
	started := opts.StartedAt
	if started.IsZero() {
		started = time.Now()
	}
	return &CommandHandler{
		db:        opts.DB,
		probe:     probe,
		maxAge:    opts.MaxAge,
		startedAt: started,
	}, nil
}

// Execute runs a slash command and returns the reply. sourceRef is the
// chat message carrying the command.
func (ch *CommandHandler) Execute(text, sourceRef string) Reply {
	name, args := parseCommand(text)
	switch name {
	case "status":
		return Reply{Text: ch.cmdStatus()}
	case "switch":
		return Reply{Text: ch.cmdSwitch(args)}
	case "abort":
		return Reply{Text: ch.cmdAbort(args)}
	case "tell":
		return ch.cmdTell(args, sourceRef)
	case "pause":
		return Reply{Text: ch.cmdPause(true)}
	case "resume":
		return Reply{Text: ch.cmdPause(false)}
	case "help", "start":
		return Reply{Text: helpText()}
	case "ping":
		return Reply{Text: fmt.Sprintf("pong (up %s)", formatAge(time.Since(ch.startedAt)))}
	case "cleanup":
		return Reply{Text: ch.cmdCleanup()}
	default:
		return Reply{Text: fmt.Sprintf("Unknown command /%s\n\n%s", name, helpText())}
	}
}

// parseCommand splits "/name@bot args" into a lowercased name and the rest.
func parseCommand(text string) (name, args string) {
	text = strings.TrimPrefix(strings.TrimSpace(text), "/")
	name = text
	if i := strings.IndexFunc(text, unicode.IsSpace); i >= 0 {
		name, args = text[:i], text[i:]
	}
	if at := strings.IndexByte(name, '@'); at >= 0 {
		name = name[:at]
	}
	return strings.ToLower(name), strings.TrimSpace(args)
}

// cmdStatus lists active sessions.
func (ch *CommandHandler) cmdStatus() string {
	rows, err := CollectStatus(ch.db)
	if err != nil {
		return fmt.Sprintf("Error listing sessions: %v", err)
	}
	return FormatStatus(rows, settings.Paused(ch.db), time.Now())
}

// CollectStatus builds one SessionStatus per active session, oldest first.
func CollectStatus(db *gorm.DB) ([]SessionStatus, error) {
	sessions, err := session.List(db)
	if err != nil {
		return nil, err
	}
	defaultID := settings.DefaultSession(db)
	rows := make([]SessionStatus, 0, len(sessions))
	for _, s := range sessions {
		if !s.IsActive() {
			continue
		}
		pending, _ := instruction.CountPending(db, s.ID)
		rows = append(rows, SessionStatus{
			Session:        s,
			Pending:        pending,
			AwaitingAnswer: question.HasPending(db, s.ID),
			IsDefault:      s.ID == defaultID,
		})
	}
	return rows, nil
}

// cmdSwitch changes the default session.
func (ch *CommandHandler) cmdSwitch(args string) string {
	code := strings.ToUpper(firstField(args))
	if code == "" {
		return "Usage: /switch CODE"
	}
	if !session.SetDefault(ch.db, code) {
		return fmt.Sprintf("Unknown session %s", code)
	}
	return fmt.Sprintf("Default session is now %s", code)
}

// cmdAbort aborts the named session, or the default one.
func (ch *CommandHandler) cmdAbort(args string) string {
	code := strings.ToUpper(firstField(args))
	if code == "" {
		def, err := session.Default(ch.db)
		if err != nil {
			return "No default session to abort. Usage: /abort CODE"
		}
		code = def.ID
	}
	if err := session.Abort(ch.db, code); err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return fmt.Sprintf("Unknown session %s", code)
		}
		return fmt.Sprintf("Error aborting %s: %v", code, err)
	}
	return fmt.Sprintf("Abort queued for %s", code)
}

// cmdTell queues an instruction for an explicit session.
func (ch *CommandHandler) cmdTell(args, sourceRef string) Reply {
	code := firstField(args)
	text := strings.TrimSpace(strings.TrimPrefix(args, code))
	code = strings.ToUpper(code)
	if code == "" || text == "" {
		return Reply{Text: "Usage: /tell CODE text"}
	}
	id, err := instruction.Enqueue(ch.db, code, text, sourceRef)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("Unknown session %s", code)}
		}
		return Reply{Text: fmt.Sprintf("Error queueing for %s: %v", code, err)}
	}
	return Reply{Text: QueuedText(code), InstructionID: id}
}

// cmdPause toggles session notifications.
func (ch *CommandHandler) cmdPause(paused bool) string {
	if err := settings.SetPaused(ch.db, paused); err != nil {
		return fmt.Sprintf("Error: %v", err)
	}
	if paused {
		return "Notifications paused. /resume to turn them back on."
	}
	return "Notifications resumed."
}

// cmdCleanup removes sessions whose process is gone, plus stale ones.
func (ch *CommandHandler) cmdCleanup() string {
	removed, err := session.CleanupDead(ch.db, ch.probe)
	if err != nil {
		return fmt.Sprintf("Error cleaning up: %v", err)
	}
	stale, err := session.CleanupStale(ch.db, ch.maxAge)
	if err != nil {
		return fmt.Sprintf("Error cleaning up: %v", err)
	}
	if len(removed) == 0 && stale == 0 {
		return "No dead sessions."
	}
	var b strings.Builder
	if len(removed) > 0 {
		fmt.Fprintf(&b, "Removed %d dead session(s): %s", len(removed), strings.Join(removed, ", "))
	}
	if stale > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "Removed %d stale session(s)", stale)
	}
	return b.String()
}

func firstField(s string) string {
	if f := strings.Fields(s); len(f) > 0 {
		return f[0]
	}
	return ""
}

// helpText returns usage information for all commands.
func helpText() string {
	return "Commands\n" +
		"/status - list sessions (* = default)\n" +
		"/switch CODE - change the default session\n" +
		"/tell CODE text - queue an instruction\n" +
		"/abort [CODE] - stop a session\n" +
		"/pause, /resume - mute or unmute session notifications\n" +
		"/cleanup - remove sessions whose process is gone\n" +
		"/ping - check the listener\n\n" +
		"!text or !CODE text - queue an instruction\n" +
		"Codes are case-insensitive in commands and after !.\n" +
		"CODE: text - answer a session's question (or queue an instruction)\n" +
		"Anything else goes to the default session."
}
