// Package scheduler triggers detection cycles: once after an initial delay,
// then on a fixed schedule.
//
// Cycles never overlap. Intervals are measured between cycle starts; a
// trigger that fires while the previous cycle is still running is skipped,
// so the next cycle starts on the first trigger after it finishes.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"feedwatch/internal/engine"
	logx "feedwatch/pkg/logx"
)

const (
	DefaultInitialDelay = 10 * time.Second
	DefaultSchedule     = "5m"
)

type Config struct {
	InitialDelay time.Duration
	Schedule     string
	Timezone     string
}

// Runner runs one cycle; *engine.Engine implements it.
type Runner interface {
	RunCycle(ctx context.Context) engine.CycleResult
}

type Service struct {
	mu     sync.Mutex
	cfg    Config
	sched  Schedule
	loc    *time.Location
	runner Runner
	log    logx.Logger
	parser cron.Parser

	c       *cron.Cron
	cancel  context.CancelFunc
	started bool
	wg      sync.WaitGroup

	// running admits one cycle at a time across the initial run and cron triggers.
	running sync.Mutex
}

func New(cfg Config, runner Runner, log logx.Logger) (*Service, error) {
	if log.IsZero() {
		log = logx.Nop()
	}
	if cfg.InitialDelay < 0 {
		cfg.InitialDelay = 0
	}
	if strings.TrimSpace(cfg.Schedule) == "" {
		cfg.Schedule = DefaultSchedule
	}
	sched, err := ParseSchedule(cfg.Schedule)
	if err != nil {
		return nil, err
	}
	s := &Service{
		cfg:    cfg,
		sched:  sched,
		runner: runner,
		log:    log,
		parser: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor),
	}
	if _, err := s.parser.Parse(sched.Spec()); err != nil {
		return nil, fmt.Errorf("schedule %q: %w", cfg.Schedule, err)
	}
	s.loc = s.location()
	return s, nil
}

func (s *Service) location() *time.Location {
	tz := strings.TrimSpace(s.cfg.Timezone)
	if tz == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		s.log.Warn("invalid timezone; falling back to Local", logx.String("tz", tz), logx.Err(err))
		return time.Local
	}
	return loc
}

// Start waits for the initial delay in the background, runs one cycle and
// then hands over to cron. It returns immediately.
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.started {
		return errors.New("scheduler already started")
	}
	s.started = true

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	clog := cronLogger{log: s.log}
	s.c = cron.New(
		cron.WithParser(s.parser),
		cron.WithLocation(s.loc),
		cron.WithLogger(clog),
		cron.WithChain(cron.Recover(clog), cron.SkipIfStillRunning(clog)),
	)
	if _, err := s.c.AddFunc(s.sched.Spec(), func() { s.tick(runCtx, "schedule") }); err != nil {
		cancel()
		return fmt.Errorf("register schedule: %w", err)
	}

	delay := s.cfg.InitialDelay
	c := s.c
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if delay > 0 {
			t := time.NewTimer(delay)
			select {
			case <-runCtx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
		s.tick(runCtx, "initial")
		if runCtx.Err() != nil {
			return
		}
		c.Start()
		s.log.Info("schedule armed",
			logx.String("schedule", s.cfg.Schedule),
			logx.String("tz", s.loc.String()),
			logx.Time("next", s.nextRun(c)),
		)
	}()

	s.log.Info("scheduler started", logx.Duration("initial_delay", delay), logx.String("schedule", s.cfg.Schedule))
	return nil
}

func (s *Service) nextRun(c *cron.Cron) time.Time {
	entries := c.Entries()
	if len(entries) == 0 {
		return time.Time{}
	}
	return entries[0].Next
}

// RunNow runs a cycle immediately unless one is already in flight.
func (s *Service) RunNow(ctx context.Context) (engine.CycleResult, bool) {
	if !s.running.TryLock() {
		return engine.CycleResult{}, false
	}
	defer s.running.Unlock()
	return s.run(ctx, "manual"), true
}

func (s *Service) tick(ctx context.Context, trigger string) {
	if ctx.Err() != nil {
		return
	}
	if !s.running.TryLock() {
		s.log.Debug("cycle still running; trigger skipped", logx.String("trigger", trigger))
		return
	}
	defer s.running.Unlock()
	s.run(ctx, trigger)
}

func (s *Service) run(ctx context.Context, trigger string) engine.CycleResult {
	res := s.runner.RunCycle(ctx)
	fields := []logx.Field{
		logx.String("cycle", res.ID),
		logx.String("trigger", trigger),
		logx.String("outcome", string(res.Outcome)),
		logx.Duration("took", res.Duration()),
	}
	if res.Err != nil {
		fields = append(fields, logx.Err(res.Err))
	}
	switch res.Outcome {
	case engine.OutcomeSkippedStorage:
		s.log.Error("cycle skipped", fields...)
	case engine.OutcomeSkippedSource, engine.OutcomeSkippedMalformed:
		s.log.Warn("cycle skipped", fields...)
	case engine.OutcomeDispatched:
		sent, failed := res.Report.Totals()
		fields = append(fields,
			logx.Int("new", len(res.NewItems)),
			logx.Int("recipients", res.Recipients),
			logx.Int("sent", sent),
			logx.Int("failed", failed),
		)
		s.log.Info("cycle dispatched", fields...)
	default:
		s.log.Debug("cycle finished", fields...)
	}
	return res
}

// Stop cancels pending triggers and waits for an in-flight cycle to finish,
// or for ctx to expire.
func (s *Service) Stop(ctx context.Context) error {
	start := time.Now()
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = false
	cancel, c := s.cancel, s.c
	s.mu.Unlock()

	cancel()
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		<-c.Stop().Done()
		close(done)
	}()
	select {
	case <-done:
		s.log.Info("scheduler stopped", logx.Duration("took", time.Since(start)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("scheduler stop: %w", ctx.Err())
	}
}

// cronLogger routes cron's own messages into logx.
type cronLogger struct {
	log logx.Logger
}

func (l cronLogger) Info(msg string, kv ...any) {
	if msg == "skip" {
		l.log.Debug("cron trigger skipped", kvFields(kv)...)
		return
	}
	l.log.Debug("cron "+msg, kvFields(kv)...)
}

func (l cronLogger) Error(err error, msg string, kv ...any) {
	l.log.Error("cron "+msg, append(kvFields(kv), logx.Err(err))...)
}

func kvFields(kv []any) []logx.Field {
	out := make([]logx.Field, 0, len(kv)/2)
	for i := 0; i+1 < len(kv); i += 2 {
		out = append(out, logx.Any(fmt.Sprint(kv[i]), kv[i+1]))
	}
	return out
}
