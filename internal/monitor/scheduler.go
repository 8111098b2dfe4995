package monitor

import (
	"context"
	"math/rand/v2"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Task is a recurring unit of work.
type Task struct {
	Name     string
	Interval time.Duration
	// Jitter spreads each sleep by ±Jitter*Interval.
	Jitter     float64
	RunAtStart bool
	Run        func(ctx context.Context) error
}

// Scheduler runs tasks on their intervals until its context ends. A task's
// runs never overlap with each other.
type Scheduler struct {
	tasks []Task
	log   *zap.Logger
}

// NewScheduler creates a scheduler for the given tasks.
func NewScheduler(tasks ...Task) *Scheduler {
	return &Scheduler{
		tasks: tasks,
		log:   zap.L().With(zap.String("component", "monitor.scheduler")),
	}
}

// Run blocks until ctx is cancelled. Task errors and panics are logged and
// never stop the scheduler.
func (s *Scheduler) Run(ctx context.Context) error {
	for _, t := range s.tasks {
		if t.Interval <= 0 || t.Run == nil {
			return eris.Errorf("monitor: task %q needs an interval and a run func", t.Name)
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, t := range s.tasks {
		g.Go(func() error {
			s.loop(gctx, t)
			return nil
		})
	}
	return g.Wait()
}

func (s *Scheduler) loop(ctx context.Context, t Task) {
	log := s.log.With(zap.String("task", t.Name))
	log.Info("task scheduled", zap.Duration("interval", t.Interval), zap.Bool("run_at_start", t.RunAtStart))

	if t.RunAtStart {
		s.runOnce(ctx, t, log)
	}

	timer := time.NewTimer(nextDelay(t.Interval, t.Jitter))
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Info("task stopped")
			return
		case <-timer.C:
			s.runOnce(ctx, t, log)
			timer.Reset(nextDelay(t.Interval, t.Jitter))
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context, t Task, log *zap.Logger) {
	start := time.Now()
	err := safeRun(ctx, t.Run)
	switch {
	case err == nil:
		log.Debug("task run complete", zap.Duration("elapsed", time.Since(start)))
	case ctx.Err() != nil:
		log.Debug("task interrupted by shutdown", zap.Error(err))
	default:
		log.Error("task run failed", zap.Duration("elapsed", time.Since(start)), zap.Error(err))
	}
}

func safeRun(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = eris.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

func nextDelay(interval time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return interval
	}
	spread := float64(interval) * jitter
	d := time.Duration(float64(interval) + (rand.Float64()*2-1)*spread)
	if d < time.Millisecond {
		return time.Millisecond
	}
	return d
}
