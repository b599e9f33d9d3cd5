package telegraph

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/instruction"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/question"
	"github.com/zulandar/signalbox/internal/session"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// codePrefixRe matches "ABC: text".
	codePrefixRe = regexp.MustCompile(`(?s)^(` + session.CodePattern + `):\s*(.+)$`)
	// shorthandCodeRe matches the "ABC text" remainder of "!ABC text",
	// in either case.
	shorthandCodeRe = regexp.MustCompile(`(?si)^(` + session.CodePattern + `)(?:\s+(.*))?$`)
)

// Route names, used for logging and metrics.
const (
	routeCommand   = "command"
	routeShorthand = "shorthand"
	routePrefix    = "prefix"
	routeDefault   = "default"
)

// Router decides which session an operator message is for and whether it
// answers a question or becomes an instruction.
type Router struct {
	db        *gorm.DB
	transport Transport
	cmd       *CommandHandler
	log       *zap.Logger
	metrics   *metrics.Metrics
}

// RouterOpts holds parameters for creating a Router.
type RouterOpts struct {
	DB         *gorm.DB
	Transport  Transport
	CmdHandler *CommandHandler
	Logger     *zap.Logger      // optional
	Metrics    *metrics.Metrics // optional
}

// NewRouter creates a Router.
func NewRouter(opts RouterOpts) (*Router, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("telegraph: router: db is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("telegraph: router: transport is required")
	}
	if opts.CmdHandler == nil {
		return nil, fmt.Errorf("telegraph: router: command handler is required")
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	return &Router{
		db:        opts.DB,
		transport: opts.Transport,
		cmd:       opts.CmdHandler,
		log:       logging.OrNop(opts.Logger),
		metrics:   m,
	}, nil
}

// Handle routes one inbound text message and posts the reply.
func (r *Router) Handle(ctx context.Context, u Update) {
	text := strings.TrimSpace(u.Text)
	if text == "" {
		return
	}
	reply, route := r.Route(text, u.Ref.String())
	r.metrics.Routes.WithLabelValues(route).Inc()
	r.log.Debug("routed message",
		zap.String("route", route),
		zap.String("user", u.UserName),
		zap.String("text", truncate(text, maxPreviewLength)))

	if reply.Text == "" {
		return
	}
	ref, err := r.transport.Send(ctx, OutboundMessage{ChannelID: u.ChatID, ReplyTo: u.Ref, Text: reply.Text})
	if err != nil {
		r.log.Warn("send reply", zap.Error(err))
		return
	}
	if reply.InstructionID != 0 {
		if err := instruction.SetQueuedAck(r.db, reply.InstructionID, ref.String()); err != nil {
			r.log.Warn("record queued ack", zap.Uint("instruction", reply.InstructionID), zap.Error(err))
		}
	}
}

// Route applies the routing precedence to text: slash commands, then "!"
// shorthand, then a "CODE:" prefix naming an active session, then the
// default session. It returns the reply and the route taken.
func (r *Router) Route(text, sourceRef string) (Reply, string) {
	switch {
	case strings.HasPrefix(text, "/"):
		return r.cmd.Execute(text, sourceRef), routeCommand
	case strings.HasPrefix(text, "!"):
		return r.routeShorthand(strings.TrimSpace(text[1:]), sourceRef), routeShorthand
	}

	if m := codePrefixRe.FindStringSubmatch(text); m != nil && session.Exists(r.db, m[1]) {
		return r.deliver(m[1], strings.TrimSpace(m[2]), sourceRef), routePrefix
	}

	def, err := session.Default(r.db)
	if err != nil {
		return Reply{Text: "No default session. Use /status to list sessions and /switch CODE to pick one."}, routeDefault
	}
	return r.deliver(def.ID, text, sourceRef), routeDefault
}

// routeShorthand queues "!text" for the default session or "!CODE text"
// for an explicit one. Codes match case-insensitively like /switch. An
// upper-case code-shaped first word that is not an active session is an
// error; a lower-case one that names no session is part of the text.
func (r *Router) routeShorthand(rest, sourceRef string) Reply {
	if rest == "" {
		return Reply{Text: "Usage: !text or !CODE text"}
	}
	target := ""
	if m := shorthandCodeRe.FindStringSubmatch(rest); m != nil {
		code := strings.ToUpper(m[1])
		switch {
		case session.Exists(r.db, code):
			target, rest = code, strings.TrimSpace(m[2])
			if rest == "" {
				return Reply{Text: fmt.Sprintf("Usage: !%s text", target)}
			}
		case m[1] == code:
			return Reply{Text: fmt.Sprintf("Unknown session %s", code)}
		}
	}
	if target == "" {
		def, err := session.Default(r.db)
		if err != nil {
			return Reply{Text: "No default session. Use !CODE text or /switch CODE."}
		}
		target = def.ID
	}
	return r.enqueue(target, rest, sourceRef)
}

// deliver answers the session's pending question with text, or queues
// text as an instruction when no question is waiting.
func (r *Router) deliver(sessionID, text, sourceRef string) Reply {
	if question.HasPending(r.db, sessionID) {
		ok, err := question.Answer(r.db, sessionID, text)
		if err != nil {
			return Reply{Text: fmt.Sprintf("Error answering %s: %v", sessionID, err)}
		}
		if ok {
			return Reply{Text: AnsweredText(sessionID)}
		}
	}
	return r.enqueue(sessionID, text, sourceRef)
}

func (r *Router) enqueue(sessionID, text, sourceRef string) Reply {
	id, err := instruction.Enqueue(r.db, sessionID, text, sourceRef)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			return Reply{Text: fmt.Sprintf("Unknown session %s", sessionID)}
		}
		return Reply{Text: fmt.Sprintf("Error queueing for %s: %v", sessionID, err)}
	}
	return Reply{Text: QueuedText(sessionID), InstructionID: id}
}
