// Package scheduler triggers runs on a cron or interval schedule.
//
// A trigger that fires while the previous run is still going is skipped, so
// at most one run exists at a time.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"

	logx "newspush/pkg/logx"
)

// Job is one triggered run. ctx ends when the service stops.
type Job func(ctx context.Context)

// Service owns one cron instance with a single schedule entry. Reschedule
// swaps the entry inside that instance, so Stop waits for every run.
type Service struct {
	log    logx.Logger
	job    Job
	parser cron.Parser

	// busy is held for the length of a run; triggers that find it set are
	// skipped.
	busy atomic.Bool

	mu    sync.Mutex
	c     *cron.Cron
	ctx   context.Context
	spec  ParsedSpec
	raw   string
	loc   *time.Location
	entry cron.EntryID
}

func New(job Job, log logx.Logger) *Service {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &Service{
		log: log,
		job: job,
		// SecondOptional allows both 5-field and 6-field (with seconds) cron specs.
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
}

// Start registers raw in loc and starts triggering. Jobs receive ctx.
func (s *Service) Start(ctx context.Context, raw string, loc *time.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c != nil {
		return errors.New("scheduler already started")
	}
	spec, sched, loc, err := s.build(raw, loc)
	if err != nil {
		return err
	}
	cl := cronLogger{log: s.log}
	c := cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(loc),
		cron.WithChain(cron.Recover(cl)),
	)
	s.c, s.ctx = c, ctx
	s.entry = c.Schedule(sched, cron.FuncJob(s.trigger))
	s.spec, s.raw, s.loc = spec, raw, loc
	c.Start()

	s.log.Info("scheduler started",
		logx.String("schedule", raw),
		logx.String("kind", s.spec.Kind.String()),
		logx.String("tz", s.loc.String()),
		logx.Time("next", s.nextLocked()),
	)
	return nil
}

// Reschedule swaps the schedule without dropping a run in progress. An
// invalid schedule leaves the current one in place.
func (s *Service) Reschedule(raw string, loc *time.Location) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.c == nil {
		return errors.New("scheduler not started")
	}
	if loc == nil {
		loc = time.Local
	}
	if raw == s.raw && loc.String() == s.loc.String() {
		return nil
	}
	spec, sched, loc, err := s.build(raw, loc)
	if err != nil {
		return err
	}
	old := s.entry
	s.entry = s.c.Schedule(sched, cron.FuncJob(s.trigger))
	s.c.Remove(old)
	s.spec, s.raw, s.loc = spec, raw, loc
	s.log.Info("schedule changed", logx.String("schedule", raw), logx.String("tz", s.loc.String()), logx.Time("next", s.nextLocked()))
	return nil
}

// Next returns the next trigger time, zero when stopped.
func (s *Service) Next() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextLocked()
}

// Stop stops triggering and waits for a running job until ctx ends.
func (s *Service) Stop(ctx context.Context) {
	start := time.Now()
	s.mu.Lock()
	c := s.c
	s.c = nil
	s.mu.Unlock()
	if c == nil {
		return
	}
	select {
	case <-c.Stop().Done():
	case <-ctx.Done():
		s.log.Warn("scheduler stop timed out with a run in progress")
	}
	s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
}

func (s *Service) trigger() {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	if ctx.Err() != nil {
		return
	}
	if !s.busy.CompareAndSwap(false, true) {
		s.log.Info("previous run still in progress, trigger skipped")
		return
	}
	defer s.busy.Store(false)
	s.job(ctx)
}

// build parses raw into a cron schedule evaluated in loc.
func (s *Service) build(raw string, loc *time.Location) (ParsedSpec, cron.Schedule, *time.Location, error) {
	spec, err := ParseSchedule(raw)
	if err != nil {
		return ParsedSpec{}, nil, nil, err
	}
	if loc == nil {
		loc = time.Local
	}
	if spec.Kind == SpecInterval {
		return spec, cron.Every(spec.Every), loc, nil
	}
	sched, err := s.parser.Parse(spec.Cron)
	if err != nil {
		return ParsedSpec{}, nil, nil, fmt.Errorf("invalid cron %q: %w", spec.Cron, err)
	}
	// The cron instance keeps its start location; each entry carries its own.
	if ss, ok := sched.(*cron.SpecSchedule); ok {
		ss.Location = loc
	}
	return spec, sched, loc, nil
}

func (s *Service) nextLocked() time.Time {
	if s.c == nil {
		return time.Time{}
	}
	return s.c.Entry(s.entry).Next
}

// cronLogger routes robfig/cron's own messages (skips, recovered panics)
// into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.log.Debug("cron: "+msg, kvFields(keysAndValues)...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.log.Error("cron: "+msg, append(kvFields(keysAndValues), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
