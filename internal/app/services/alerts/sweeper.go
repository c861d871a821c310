package alerts

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/leafy-life/cafe/internal/app/system"
	"github.com/leafy-life/cafe/pkg/logger"
)

// DefaultSchedule runs a sweep every quarter hour.
const DefaultSchedule = "@every 15m"

var _ system.Service = (*Sweeper)(nil)

// Sweeper runs the engine on a cron schedule and once at start. A tick that
// fires while the previous sweep is still running is skipped.
type Sweeper struct {
	engine   *Engine
	log      *logger.Logger
	schedule string
	timeout  time.Duration

	sweeping sync.Mutex

	mu      sync.Mutex
	cron    *cron.Cron
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	running bool
}

// NewSweeper creates a lifecycle-managed sweeper. An empty schedule uses
// DefaultSchedule.
func NewSweeper(engine *Engine, schedule string, log *logger.Logger) *Sweeper {
	if log == nil {
		log = logger.NewDefault("alert-sweeper")
	}
	if schedule == "" {
		schedule = DefaultSchedule
	}
	return &Sweeper{
		engine:   engine,
		log:      log,
		schedule: schedule,
		timeout:  2 * time.Minute,
	}
}

func (s *Sweeper) Name() string { return "alert-sweeper" }

func (s *Sweeper) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	cronLog := cron.PrintfLogger(s.log)
	c := cron.New(
		cron.WithLocation(s.engine.loc),
		cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)),
		cron.WithLogger(cronLog),
	)
	if _, err := c.AddFunc(s.schedule, func() { s.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("alert schedule %q: %w", s.schedule, err)
	}
	s.cron = c
	s.cancel = cancel
	s.running = true

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.tick(runCtx)
	}()
	c.Start()

	s.log.WithField("schedule", s.schedule).Info("alert sweeper started")
	return nil
}

func (s *Sweeper) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	c, cancel := s.cron, s.cancel
	s.cron, s.cancel = nil, nil
	s.running = false
	s.mu.Unlock()

	cancel()
	cronDone := c.Stop()

	done := make(chan struct{})
	go func() {
		defer close(done)
		<-cronDone.Done()
		s.wg.Wait()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		return ctx.Err()
	}
	s.log.Info("alert sweeper stopped")
	return nil
}

func (s *Sweeper) tick(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// The startup sweep runs outside cron's SkipIfStillRunning chain.
	if !s.sweeping.TryLock() {
		s.log.Debug("alert sweep still running; tick skipped")
		return
	}
	defer s.sweeping.Unlock()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()
	// Sweep logs its own failures.
	_, _ = s.engine.Sweep(ctx, TriggerScheduled)
}
