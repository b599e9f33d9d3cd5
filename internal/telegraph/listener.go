package telegraph

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/metrics"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/settings"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	onlineText   = "signalbox online"
	shutdownText = "signalbox shutting down"

	shutdownSendTimeout = 5 * time.Second
)

// Listener is the long-running process that owns the update cursor. It
// long-polls the transport, routes operator messages, resolves approval
// button presses and runs periodic maintenance.
type Listener struct {
	db        *gorm.DB
	transport Transport
	cfg       *config.Config
	chatID    string
	probe     session.ProcessProbe
	log       *zap.Logger
	metrics   *metrics.Metrics
	router    *Router
	schedule  cron.Schedule

	pollTimeout  time.Duration
	backoffFloor time.Duration
	backoffCap   time.Duration
}

// ListenerOpts holds parameters for creating a Listener.
type ListenerOpts struct {
	DB        *gorm.DB
	Transport Transport
	Config    *config.Config
	ChatID    string               // accepted chat; defaults to Config.Transport.ChatID(), empty accepts all
	Probe     session.ProcessProbe // defaults to session.ProcessAlive
	Logger    *zap.Logger          // optional
	Metrics   *metrics.Metrics     // optional
}

// NewListener creates a Listener with the given options.
func NewListener(opts ListenerOpts) (*Listener, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("telegraph: listener: db is required")
	}
	if opts.Transport == nil {
		return nil, fmt.Errorf("telegraph: listener: transport is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("telegraph: listener: config is required")
	}
	schedule, err := ParseSchedule(opts.Config.Listener.MaintenanceCron)
	if err != nil {
		return nil, fmt.Errorf("telegraph: listener: %w", err)
	}
	probe := opts.Probe
	if probe == nil {
		probe = session.ProcessAlive
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.New()
	}
	log := logging.OrNop(opts.Logger)

	cmd, err := NewCommandHandler(CommandHandlerOpts{
		DB:     opts.DB,
		Probe:  probe,
		MaxAge: opts.Config.Sessions.MaxAge(),
	})
	if err != nil {
		return nil, err
	}
	router, err := NewRouter(RouterOpts{
		DB:         opts.DB,
		Transport:  opts.Transport,
		CmdHandler: cmd,
		Logger:     log,
		Metrics:    m,
	})
	if err != nil {
		return nil, err
	}

	chatID := opts.ChatID
	if chatID == "" {
		chatID = opts.Config.Transport.ChatID()
	}
	return &Listener{
		db:           opts.DB,
		transport:    opts.Transport,
		cfg:          opts.Config,
		chatID:       chatID,
		probe:        probe,
		log:          log,
		metrics:      m,
		router:       router,
		schedule:     schedule,
		pollTimeout:  opts.Config.Listener.PollTimeout(),
		backoffFloor: opts.Config.Listener.BackoffFloor(),
		backoffCap:   opts.Config.Listener.BackoffCap(),
	}, nil
}

// Run connects the transport and processes updates until ctx is cancelled.
// Transport errors are retried forever with exponential backoff.
func (l *Listener) Run(ctx context.Context) error {
	if err := l.connect(ctx); err != nil {
		return err
	}
XX, zap.String("chat", l.chatID))
	if _, err := l.transport.Send(ctx, OutboundMessage{Text: onlineText}); err != nil {
		l.log.Warn("send online message", zap.Error(err))
	}

	cursor := settings.Cursor(l.db)
	l.metrics.Cursor.Set(float64(cursor))
	nextMaintenance := l.schedule.Next(time.Now())
	var backoff time.Duration

	for ctx.Err() == nil {
		if !time.Now().Before(nextMaintenance) {
			l.Maintain(ctx)
			nextMaintenance = l.schedule.Next(time.Now())
		}

		wait := l.pollTimeout
		if until := time.Until(nextMaintenance); until < wait {
			wait = until
		}
		if wait < 0 {
			wait = 0
		}

		updates, err := l.transport.Updates(ctx, cursor, wait)
		if err != nil {
			if ctx.Err() != nil {
				break
			}
			backoff = nextBackoff(backoff, l.backoffFloor, l.backoffCap)
			l.metrics.TransportErrors.Inc()
			l.log.Warn("poll updates", zap.Error(err), zap.Duration("retry_in", backoff))
			if !sleepCtx(ctx, backoff) {
				break
			}
			continue
		}
		backoff = 0

		for _, u := range updates {
			if u.ID <= cursor {
				continue
			}
			cursor = u.ID
			// The cursor is stored before handling so a crash mid-update
			// skips it rather than replaying it.
			if err := settings.SetCursor(l.db, cursor); err != nil {
				l.log.Error("persist cursor", zap.Int64("cursor", cursor), zap.Error(err))
			}
			l.metrics.Cursor.Set(float64(cursor))
			l.handle(ctx, u)
		}
	}

	l.shutdown(ctx)
	return nil
}

// connect retries transport failures with backoff until it succeeds or ctx
// is cancelled. Other errors (bad credentials setup, closed transport) are
// returned.
func (l *Listener) connect(ctx context.Context) error {
	var backoff time.Duration
	for {
		err := l.transport.Connect(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
		if !errors.Is(err, errs.ErrTransport) {
			return fmt.Errorf("telegraph: connect: %w", err)
		}
		backoff = nextBackoff(backoff, l.backoffFloor, l.backoffCap)
		l.metrics.TransportErrors.Inc()
		l.log.Warn("connect", zap.Error(err), zap.Duration("retry_in", backoff))
		if !sleepCtx(ctx, backoff) {
			return nil
		}
	}
}

func (l *Listener) shutdown(ctx context.Context) {
	l.log.Info("listener shutting down")
	sendCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownSendTimeout)
	defer cancel()
	if _, err := l.transport.Send(sendCtx, OutboundMessage{Text: shutdownText}); err != nil {
		l.log.Warn("send shutdown message", zap.Error(err))
	}
	if err := l.transport.Close(); err != nil {
		l.log.Warn("close transport", zap.Error(err))
	}
}

// handle dispatches one update. Handler errors are logged, never fatal.
func (l *Listener) handle(ctx context.Context, u Update) {
	if l.chatID != "" && u.ChatID != l.chatID {
		l.metrics.Updates.WithLabelValues("ignored").Inc()
		l.log.Debug("ignoring update from other chat", zap.String("chat", u.ChatID), zap.Int64("id", u.ID))
		return
	}
	switch u.Kind {
	case UpdateCallback:
		l.metrics.Updates.WithLabelValues("callback").Inc()
		l.handleCallback(ctx, u)
	case UpdateMessage:
		l.metrics.Updates.WithLabelValues("message").Inc()
		l.router.Handle(ctx, u)
	default:
		l.metrics.Updates.WithLabelValues("ignored").Inc()
	}
}

// handleCallback resolves an approval button press. The prompt is edited to
// the approval's final state whether this press won or lost the race.
func (l *Listener) handleCallback(ctx context.Context, u Update) {
	id, value, ok := approval.ParseCallback(u.CallbackData)
	if !ok {
		l.metrics.ApprovalOutcomes.WithLabelValues("invalid").Inc()
		l.answerCallback(ctx, u.CallbackID, "Unknown action")
		return
	}

	err := approval.Respond(l.db, id, value)
	var outcome, ack string
	switch {
	case err == nil:
		outcome, ack = "responded", "Recorded"
	case errors.Is(err, errs.ErrAlreadyResolved):
		outcome, ack = "already_resolved", AlreadyHandled
	case errors.Is(err, errs.ErrNotFound):
		outcome, ack = "not_found", AlreadyHandled
	case errors.Is(err, approval.ErrInvalidOption):
		outcome, ack = "invalid", "Unknown action"
	default:
		l.log.Error("respond to approval", zap.String("approval", id), zap.Error(err))
		l.answerCallback(ctx, u.CallbackID, "Error recording response")
		return
	}
	l.metrics.ApprovalOutcomes.WithLabelValues(outcome).Inc()
	l.log.Info("approval callback",
		zap.String("approval", id),
		zap.String("value", value),
		zap.String("outcome", outcome),
		zap.String("user", u.UserName))

	if !u.Ref.IsZero() {
		text := AlreadyHandled
		if a, err := approval.Get(l.db, id); err == nil {
			text = FormatApprovalOutcome(a)
		}
		if err := l.transport.Edit(ctx, u.Ref, text); err != nil {
			l.log.Warn("edit approval prompt", zap.String("approval", id), zap.Error(err))
		}
	}
	l.answerCallback(ctx, u.CallbackID, ack)
}

func (l *Listener) answerCallback(ctx context.Context, callbackID, text string) {
	if callbackID == "" {
		return
	}
	if err := l.transport.AnswerCallback(ctx, callbackID, text); err != nil {
		l.log.Warn("answer callback", zap.Error(err))
	}
}

// Maintain removes dead and stale sessions, expires abandoned approvals and
// prunes old resolved ones within the configured time budget.
func (l *Listener) Maintain(ctx context.Context) {
	start := time.Now()
	removed := 0

	dead, err := session.CleanupDead(l.db, l.probe)
	if err != nil {
		l.log.Error("cleanup dead sessions", zap.Error(err))
	}
	removed += len(dead)

	if maxAge := l.cfg.Sessions.MaxAge(); maxAge > 0 {
		n, err := session.CleanupStale(l.db, maxAge)
		if err != nil {
			l.log.Error("cleanup stale sessions", zap.Error(err))
		}
		removed += n
	}
	l.metrics.SessionsRemoved.Add(float64(removed))

	// Prune first so approvals expired in this pass survive until the next.
	retention := l.cfg.Listener.ApprovalRetention()
	pruned, err := approval.Prune(l.db, approval.PruneOpts{
		Retention: retention,
		Deadline:  start.Add(l.cfg.Listener.PruneBudget()),
	})
	if err != nil {
		l.log.Error("prune approvals", zap.Error(err))
	}
	expired, err := approval.ExpireAbandoned(l.db, start.Add(-retention))
	if err != nil {
		l.log.Error("expire abandoned approvals", zap.Error(err))
	}

	if sessions, err := session.List(l.db); err == nil {
		active := 0
		for _, s := range sessions {
			if s.IsActive() {
				active++
			}
		}
		l.metrics.ActiveSessions.Set(float64(active))
	}
	l.metrics.MaintenanceRuns.Inc()
	l.log.Info("maintenance complete",
		zap.Strings("dead", dead),
		zap.Int("removed", removed),
		zap.Int64("approvals_expired", expired),
		zap.Int("approvals_pruned", pruned),
		zap.Duration("took", time.Since(start)))
}

// nextBackoff doubles the previous delay, starting at floor and capped at
// limit.
func nextBackoff(prev, floor, limit time.Duration) time.Duration {
	if prev <= 0 {
		return floor
	}
	next := prev * 2
	if next > limit {
		return limit
	}
	return next
}

// sleepCtx waits for d or until ctx is done. It reports whether the full
// delay elapsed.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
