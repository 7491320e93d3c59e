// Package pipeline runs one digest delivery: fetch, authenticate, format,
// publish. A failing stage ends the run; later stages never start.
package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"

	"newspush/internal/digest"
	"newspush/internal/failure"
	"newspush/internal/publish"
	"newspush/internal/storage"
	"newspush/internal/wechat"
	logx "newspush/pkg/logx"
)

// State is the position of a run in its lifecycle.
type State int

const (
	Idle State = iota
	Fetching
	Authenticating
	Formatting
	Publishing
	Done
	Failed
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Fetching:
		return "fetching"
	case Authenticating:
		return "authenticating"
	case Formatting:
		return "formatting"
	case Publishing:
		return "publishing"
	case Done:
		return "done"
	case Failed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no transition can follow s.
func (s State) Terminal() bool { return s == Done || s == Failed }

// DigestSource yields the day's digest.
type DigestSource interface {
	Fetch(ctx context.Context) (digest.Digest, error)
}

// TokenSource yields a fresh platform token.
type TokenSource interface {
	AccessToken(ctx context.Context) (wechat.AccessToken, error)
}

// Journal records finished runs and answers the daily guard.
type Journal interface {
	AppendRun(ctx context.Context, r storage.RunRecord) error
	LastSuccess(ctx context.Context, mode string) (time.Time, bool, error)
}

// Observer is told about every state transition of a run.
type Observer interface {
	Transition(runID string, from, to State)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(runID string, from, to State)

func (f ObserverFunc) Transition(runID string, from, to State) { f(runID, from, to) }

// Outcome describes a finished run.
type Outcome struct {
	RunID string
	Mode  string
	State State
	// FailedAt is the stage that failed; Idle when the run did not fail.
	FailedAt State
	// Skipped is set when the daily guard found an earlier success today.
	Skipped  bool
	Items    int
	Report   publish.Report
	Err      error
	Started  time.Time
	Finished time.Time
}

// Deps wires a Runner. Source, Tokens and Delivery are required.
type Deps struct {
	Source   DigestSource
	Tokens   TokenSource
	Delivery Delivery

	// Journal is optional. OncePerDay needs it.
	Journal    Journal
	OncePerDay bool
	// Location decides calendar days for OncePerDay. Nil means time.Local.
	Location *time.Location

	Observer Observer
	Log      logx.Logger
	Now      func() time.Time
}

// Runner executes runs. A Runner holds no per-run state and may be reused.
type Runner struct {
	d Deps
}

func New(d Deps) *Runner {
	if d.Log.IsZero() {
		d.Log = logx.Nop()
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Location == nil {
		d.Location = time.Local
	}
	return &Runner{d: d}
}

// Run performs one delivery and returns its outcome. The returned error is
// Outcome.Err.
func (r *Runner) Run(ctx context.Context) (Outcome, error) {
	run := &runState{
		r: r,
		out: Outcome{
			RunID:   uuid.NewString(),
			Mode:    r.d.Delivery.Mode(),
			State:   Idle,
			Started: r.d.Now(),
		},
	}
	log := r.d.Log.With(logx.String("run_id", run.out.RunID), logx.String("mode", run.out.Mode))
	run.log = log
	log.Info("run started")

	if r.alreadyDelivered(ctx, run) {
		run.out.Skipped = true
		run.out.State = Done
		run.out.Finished = r.d.Now()
		log.Info("run skipped, already delivered today")
		r.record(ctx, run)
		return run.out, nil
	}

	run.to(Fetching)
	d, err := r.d.Source.Fetch(ctx)
	if err != nil {
		return run.fail(ctx, err)
	}
	run.out.Items = d.Len()

	run.to(Authenticating)
	token, err := r.d.Tokens.AccessToken(ctx)
	if err != nil {
		return run.fail(ctx, err)
	}

	run.to(Formatting)
	msg := r.d.Delivery.Format(d, run.out.Started)

	run.to(Publishing)
	rep, err := r.d.Delivery.Deliver(ctx, token, msg)
	run.out.Report = rep
	if err != nil {
		return run.fail(ctx, err)
	}

	run.to(Done)
	run.out.Finished = r.d.Now()
	log.Info("run finished",
		logx.Int("items", run.out.Items),
		logx.Int("delivered", rep.Delivered()),
		logx.Int("failed", rep.Failed()),
		logx.Duration("took", run.out.Finished.Sub(run.out.Started)),
	)
	r.record(ctx, run)
	return run.out, nil
}

func (r *Runner) alreadyDelivered(ctx context.Context, run *runState) bool {
	if !r.d.OncePerDay || r.d.Journal == nil {
		return false
	}
	at, ok, err := r.d.Journal.LastSuccess(ctx, run.out.Mode)
	if err != nil {
		run.log.Warn("daily guard lookup failed, running anyway", logx.Err(err))
		return false
	}
	return ok && sameDay(at, run.out.Started, r.d.Location)
}

func (r *Runner) record(ctx context.Context, run *runState) {
	if r.d.Journal == nil {
		return
	}
	o := run.out
	rec := storage.RunRecord{
		RunID:     o.RunID,
		Mode:      o.Mode,
		State:     o.State.String(),
		Success:   o.State == Done,
		Skipped:   o.Skipped,
		Items:     o.Items,
		Delivered: o.Report.Delivered(),
		Failed:    o.Report.Failed(),
		Started:   o.Started,
		Finished:  o.Finished,
	}
	if o.Err != nil {
		rec.ErrKind = failure.KindOf(o.Err).String()
		rec.Error = o.Err.Error()
	}
	// The run's own context may already be cancelled; the record still lands.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := r.d.Journal.AppendRun(wctx, rec); err != nil {
		run.log.Warn("run journal append failed", logx.Err(err))
	}
}

type runState struct {
	r   *Runner
	out Outcome
	log logx.Logger
}

func (s *runState) to(next State) {
	prev := s.out.State
	s.out.State = next
	s.log.Debug("state", logx.String("from", prev.String()), logx.String("to", next.String()))
	if s.r.d.Observer != nil {
		s.r.d.Observer.Transition(s.out.RunID, prev, next)
	}
}

func (s *runState) fail(ctx context.Context, err error) (Outcome, error) {
	s.out.FailedAt = s.out.State
	s.out.Err = err
	s.to(Failed)
	s.out.Finished = s.r.d.Now()
	s.log.Error("run failed",
		logx.String("stage", s.out.FailedAt.String()),
		logx.String("kind", failure.KindOf(err).String()),
		logx.Err(err),
	)
	s.r.record(ctx, s)
	return s.out, err
}

func sameDay(a, b time.Time, loc *time.Location) bool {
	ay, am, ad := a.In(loc).Date()
	by, bm, bd := b.In(loc).Date()
	return ay == by && am == bm && ad == bd
}
