package hook

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/zulandar/signalbox/internal/approval"
	"github.com/zulandar/signalbox/internal/config"
	"github.com/zulandar/signalbox/internal/errs"
	"github.com/zulandar/signalbox/internal/instruction"
	"github.com/zulandar/signalbox/internal/logging"
	"github.com/zulandar/signalbox/internal/models"
	"github.com/zulandar/signalbox/internal/question"
	"github.com/zulandar/signalbox/internal/session"
	"github.com/zulandar/signalbox/internal/telegraph"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Runner executes hook and adapter operations for one agent process.
type Runner struct {
	db  *gorm.DB
	cfg *config.Config
	log *zap.Logger
	// ppid is the agent process that invoked us; it owns its session.
	ppid int

	transport   telegraph.Transport
	connectOnce sync.Once
	connectErr  error
}

// RunnerOpts holds parameters for creating a Runner.
type RunnerOpts struct {
	DB     *gorm.DB
	Config *config.Config
	// Transport is connected lazily, only when an operation posts to chat.
	Transport telegraph.Transport
	PPID      int
	Logger    *zap.Logger
}

// NewRunner creates a Runner.
func NewRunner(opts RunnerOpts) (*Runner, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("hook: db is required")
	}
	if opts.Config == nil {
		return nil, fmt.Errorf("hook: config is required")
	}
	return &Runner{
		db:        opts.DB,
		cfg:       opts.Config,
		log:       logging.OrNop(opts.Logger),
		ppid:      opts.PPID,
		transport: opts.Transport,
	}, nil
}

// chat returns the connected transport.
func (r *Runner) chat(ctx context.Context) (telegraph.Transport, error) {
	if r.transport == nil {
		return nil, fmt.Errorf("hook: no chat transport configured")
	}
	r.connectOnce.Do(func() {
		r.connectErr = r.transport.Connect(ctx)
	})
	if r.connectErr != nil {
		return nil, fmt.Errorf("hook: connect: %w", r.connectErr)
	}
	return r.transport, nil
}

// Close closes the transport if it was connected.
func (r *Runner) Close() error {
	if r.transport == nil {
		return nil
	}
	return r.transport.Close()
}

// resolve finds the caller's session: explicit code, else the session owned
// by the parent process, else the default.
func (r *Runner) resolve(explicit string) (*models.Session, error) {
	return session.Resolve(r.db, strings.ToUpper(explicit), r.ppid)
}

// owned is resolve without the default-session fallback. Lifecycle hooks
// must never act on another process's session.
func (r *Runner) owned(explicit string) (*models.Session, error) {
	sess, err := r.resolve(explicit)
	if err != nil {
		return nil, err
	}
	if explicit == "" && sess.OwnerPID != r.ppid {
		return nil, fmt.Errorf("hook: no session owned by pid %d: %w", r.ppid, errs.ErrNotFound)
	}
	return sess, nil
}

// Deliver hands pending instructions to the agent. Everything pending is
// acknowledged in one step and returned as a block decision; the abort
// sentinel stops the agent and unregisters its session. Nothing pending, or
// no session, yields no output.
func (r *Runner) Deliver(ctx context.Context, in *Input) (*Output, error) {
	sess, err := r.resolve(in.SignalboxSession)
	if errors.Is(err, errs.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	batch, err := instruction.AcknowledgeAll(r.db, sess.ID)
	if err != nil {
		return nil, err
	}
	session.Touch(r.db, sess.ID)
	if len(batch) == 0 {
		return nil, nil
	}
	r.markDelivered(ctx, batch)

	texts, aborted := instruction.Split(batch)
	if aborted {
		if err := session.Unregister(r.db, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			r.log.Warn("unregister aborted session", zap.String("session", sess.ID), zap.Error(err))
		}
		r.log.Info("session aborted", zap.String("session", sess.ID))
		return Stop(fmt.Sprintf("Session %s aborted by operator", sess.ID)), nil
	}

	r.log.Info("delivered instructions", zap.String("session", sess.ID), zap.Int("count", len(texts)))
	return Block(formatInstructions(texts)), nil
}

// markDelivered edits the "Queued" acknowledgements. It only connects when
// there is something to edit and never fails the hook.
func (r *Runner) markDelivered(ctx context.Context, batch []models.Instruction) {
	needed := false
	for _, inst := range batch {
		if inst.QueuedAckRef != "" {
			needed = true
			break
		}
	}
	if !needed {
		return
	}
	t, err := r.chat(ctx)
	if err != nil {
		r.log.Warn("mark delivered", zap.Error(err))
		return
	}
	telegraph.MarkDelivered(ctx, t, batch)
}

func formatInstructions(texts []string) string {
	if len(texts) == 1 {
		return "Operator instruction: " + texts[0]
	}
	var b strings.Builder
	b.WriteString("Operator instructions:")
	for i, t := range texts {
		fmt.Fprintf(&b, "\n%d. %s", i+1, t)
	}
	return b.String()
}

// Register creates a session for the parent process, or returns the one it
// already owns. An empty description defaults to the working directory name.
func (r *Runner) Register(ctx context.Context, in *Input, description string) (*Output, error) {
	if description == "" && in.Cwd != "" {
		description = filepath.Base(in.Cwd)
	}

	sess, err := r.owned("")
	if err == nil && !sess.IsActive() {
		// A restarted agent replaces its aborted session.
		if err := session.Unregister(r.db, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
			return nil, err
		}
		err = fmt.Errorf("hook: session %s was aborted: %w", sess.ID, errs.ErrNotFound)
	}
	switch {
	case err == nil:
		session.Touch(r.db, sess.ID)
	case errors.Is(err, errs.ErrNotFound):
		sess, err = session.Register(r.db, description, r.ppid)
		if err != nil {
			return nil, err
		}
		r.log.Info("session registered", zap.String("session", sess.ID), zap.Int("pid", r.ppid))
		r.notify(ctx, sess.ID, startedText(sess))
	default:
		return nil, err
	}
	return &Output{SystemMessage: fmt.Sprintf("signalbox session %s", sess.ID)}, nil
}

func startedText(s *models.Session) string {
	if s.Description == "" {
		return "session started"
	}
	return "session started: " + s.Description
}

// Unregister removes the parent process's session.
func (r *Runner) Unregister(ctx context.Context, in *Input) error {
	sess, err := r.owned(in.SignalboxSession)
	if errors.Is(err, errs.ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	if err := session.Unregister(r.db, sess.ID); err != nil && !errors.Is(err, errs.ErrNotFound) {
		return err
	}
	r.log.Info("session unregistered", zap.String("session", sess.ID))
	r.notify(ctx, sess.ID, "session ended")
	return nil
}

// notify posts best-effort status lines.
func (r *Runner) notify(ctx context.Context, sessionID, text string) {
	if r.transport == nil {
		return
	}
	t, err := r.chat(ctx)
	if err != nil {
		r.log.Warn("notify", zap.String("session", sessionID), zap.Error(err))
		return
	}
	if _, err := telegraph.Notify(ctx, r.db, t, sessionID, text); err != nil {
		r.log.Warn("notify", zap.String("session", sessionID), zap.Error(err))
	}
}

// Notify posts "[CODE] text" for the caller's session unless paused. It
// reports whether the message was sent.
func (r *Runner) Notify(ctx context.Context, explicit, text string) (bool, error) {
	sess, err := r.resolve(explicit)
	if err != nil {
		return false, err
	}
	session.Touch(r.db, sess.ID)
	t, err := r.chat(ctx)
	if err != nil {
		return false, err
	}
	return telegraph.Notify(ctx, r.db, t, sess.ID, text)
}

// Ask posts a question for the caller's session and blocks until the
// operator answers or timeout elapses (errs.ErrTimeout). A zero timeout
// uses the configured default.
func (r *Runner) Ask(ctx context.Context, explicit, text string, timeout time.Duration) (string, error) {
	sess, err := r.resolve(explicit)
	if err != nil {
		return "", err
	}
	t, err := r.chat(ctx)
	if err != nil {
		return "", err
	}
	if timeout <= 0 {
		timeout = r.cfg.Questions.DefaultTimeout()
	}

	q, err := question.Ask(r.db, sess.ID, text)
	if err != nil {
		return "", err
	}
	if _, err := telegraph.SendQuestion(ctx, r.db, t, q); err != nil {
		if clrErr := question.ClearPending(r.db, sess.ID); clrErr != nil {
			r.log.Warn("clear undelivered question", zap.String("session", sess.ID), zap.Error(clrErr))
		}
		return "", err
	}
	session.Touch(r.db, sess.ID)

	answer, err := question.Wait(ctx, r.db, sess.ID, question.WaitOpts{
		Interval: r.cfg.Questions.PollInterval(),
		Timeout:  timeout,
		Logger:   r.log,
	})
	if err != nil {
		r.log.Info("question unanswered", zap.String("session", sess.ID), zap.Error(err))
		return "", err
	}
	return answer, nil
}

// ApprovalRequest describes an approval raised by an agent.
type ApprovalRequest struct {
	Session  string // explicit session code, optional
	Category string
	Title    string
	Message  string
	Options  []models.ApprovalOption // default Allow/Deny
	Timeout  time.Duration           // default from config
}

// Approve creates an approval, posts it and waits for the operator.
func (r *Runner) Approve(ctx context.Context, req ApprovalRequest) (approval.Result, error) {
	t, err := r.chat(ctx)
	if err != nil {
		return approval.Result{}, err
	}

	title := req.Title
	if sess, err := r.resolve(req.Session); err == nil {
		title = fmt.Sprintf("[%s] %s", sess.ID, title)
		session.Touch(r.db, sess.ID)
	}
	options := req.Options
	if len(options) == 0 {
		options = approval.YesNo()
	}
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = r.cfg.Approvals.DefaultTimeout()
	}

	a, err := approval.Create(r.db, req.Category, title, req.Message, options)
	if err != nil {
		return approval.Result{}, err
	}
	r.log.Info("approval requested", zap.String("approval", a.ID), zap.String("category", a.Category))

	res, err := approval.SendAndAwait(ctx, r.db, a.ID, approval.AwaitOpts{
		Send:         telegraph.ApprovalSender(t),
		MarkExpired:  telegraph.ApprovalExpirer(t),
		Timeout:      timeout,
		PollInterval: r.cfg.Approvals.PollInterval(),
		Logger:       r.log,
	})
	if err != nil {
		return res, err
	}
	r.log.Info("approval resolved",
		zap.String("approval", a.ID),
		zap.Bool("approved", res.Approved),
		zap.Bool("timed_out", res.TimedOut))
	return res, nil
}

// ApproveTool gates a tool call behind operator approval when the tool is
// listed in hooks.approval_tools. Other tools produce no output.
func (r *Runner) ApproveTool(ctx context.Context, in *Input) (*Output, error) {
	if in.ToolName == "" || !r.cfg.Hooks.RequiresApproval(in.ToolName) {
		return nil, nil
	}

	timeout := r.cfg.Approvals.DefaultTimeout()
	res, err := r.Approve(ctx, ApprovalRequest{
		Session:  in.SignalboxSession,
		Category: "tool",
		Title:    "Run " + in.ToolName + "?",
		Message:  SummarizeToolInput(in.ToolInput),
		Timeout:  timeout,
	})
	if err != nil {
		return nil, err
	}
	switch {
	case res.Approved:
		return Approve("Approved by operator"), nil
	case res.TimedOut:
		return Block(fmt.Sprintf("No operator response within %s", timeout)), nil
	default:
		return Block("Denied by operator"), nil
	}
}
