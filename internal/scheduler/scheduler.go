// Package scheduler implements the process-wide polling scheduler: a
// cooperative ticker that reads due users from the registry and hands each
// one to the poller, bounded by a global concurrency cap.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"seedwatch/internal/clock"
	"seedwatch/internal/metrics"
	"seedwatch/internal/model"
	"seedwatch/internal/poller"
	"seedwatch/internal/registry"
)

// DefaultTick is the scheduler's polling interval.
const DefaultTick = 30 * time.Second

// DefaultCap is the default global concurrency cap (§4.9).
const DefaultCap = 7

// Poller is the subset of *poller.Poller the scheduler depends on, so tests
// can substitute a fake without constructing a real storage/apiclient stack.
type Poller interface {
	PollOnce(ctx context.Context, user model.UserRegistryEntry) (poller.Result, error)
}

// Scheduler runs poll cycles on a fixed tick, enforcing the global
// concurrency cap and per-user exclusivity described in §4.9. It
// implements lifecycle.Service.
type Scheduler struct {
	Registry registry.Registry
	Poller   Poller
	Clock    clock.Clock
	Tick     time.Duration
	Cap      int

	semaphore chan struct{}
	running   sync.Map // authID -> struct{}, in-flight guard

	tickRunning atomic.Bool
	wg          sync.WaitGroup

	cancel context.CancelFunc
}

// New returns a Scheduler with Tick/Cap defaulted to DefaultTick/DefaultCap
// when zero.
func New(reg registry.Registry, p Poller, clk clock.Clock, tick time.Duration, capacity int) *Scheduler {
	if tick <= 0 {
		tick = DefaultTick
	}
	if capacity <= 0 {
		capacity = DefaultCap
	}
	return &Scheduler{
		Registry:  reg,
		Poller:    p,
		Clock:     clk,
		Tick:      tick,
		Cap:       capacity,
		semaphore: make(chan struct{}, capacity),
	}
}

func (s *Scheduler) Name() string { return "poll-scheduler" }

// Start runs the tick loop until ctx is cancelled. Every tick, "users due
// for polling" is recomputed and dispatched; ticks never overlap (a still-
// running tick defers the next one rather than stacking work).
func (s *Scheduler) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	ticker := time.NewTicker(s.Tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.runTick(ctx)
		}
	}
}

// Stop cancels the tick loop and waits, up to the context deadline, for
// in-flight poll tasks to finish. Per §4.9, tasks that don't finish in time
// are abandoned with their in-progress flag and next_poll_at left as-is.
func (s *Scheduler) Stop(ctx context.Context) error {
	if s.cancel != nil {
		s.cancel()
	}
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		slog.Warn("scheduler shutdown grace period elapsed, abandoning in-flight polls")
		return nil
	}
}

// Health always returns nil; it does not track whether the tick loop has
// been started. A slow or backlogged scheduler is considered healthy (the
// concurrency cap is the backpressure mechanism, not a failure mode).
func (s *Scheduler) Health() error { return nil }

// runTick is one scheduler tick: read due users, dispatch whatever fits
// under the concurrency cap, skip the rest for the next tick.
func (s *Scheduler) runTick(ctx context.Context) {
	if !s.tickRunning.CompareAndSwap(false, true) {
		slog.Warn("scheduler tick skipped: previous tick still running")
		metrics.SchedulerTicksSkipped.Inc()
		return
	}
	defer s.tickRunning.Store(false)

	due, err := s.Registry.DueUsers(ctx, s.Clock.Now())
	if err != nil {
		slog.Error("scheduler: failed to load due users", "error", err)
		return
	}
	metrics.SchedulerDueUsers.Set(float64(len(due)))

	for _, user := range due {
		if _, alreadyRunning := s.running.Load(user.AuthID); alreadyRunning {
			continue
		}

		select {
		case s.semaphore <- struct{}{}:
		default:
			// At cap; remaining due users wait for the next tick.
			metrics.SchedulerCapSaturated.Inc()
			continue
		}

		s.running.Store(user.AuthID, struct{}{})
		s.wg.Add(1)
		go s.runOne(ctx, user)
	}
}

func (s *Scheduler) runOne(ctx context.Context, user model.UserRegistryEntry) {
	defer s.wg.Done()
	defer func() { <-s.semaphore }()
	defer s.running.Delete(user.AuthID)

	metrics.SchedulerRunningPolls.Set(float64(s.RunningCount()))
	defer metrics.SchedulerRunningPolls.Set(float64(s.RunningCount() - 1))

	start := s.Clock.Now()
	result, err := s.Poller.PollOnce(ctx, user)
	metrics.PollCycleDuration.Observe(s.Clock.Now().Sub(start).Seconds())

	if err != nil {
		slog.Error("poll cycle failed", "auth_id", user.AuthID, "error", err)
		metrics.PollCyclesTotal.WithLabelValues("storage_error").Inc()
		return
	}
	if result.Skipped {
		slog.Debug("poll cycle skipped", "auth_id", user.AuthID, "reason", result.SkipReason)
		metrics.PollCyclesTotal.WithLabelValues("skipped").Inc()
		return
	}
	if result.Err != nil {
		slog.Warn("poll cycle completed with a recoverable error", "auth_id", user.AuthID, "error", result.Err)
		metrics.PollCyclesTotal.WithLabelValues("auth_error").Inc()
		return
	}
	metrics.PollCyclesTotal.WithLabelValues("success").Inc()
	metrics.PollRulesEvaluated.Add(float64(result.RulesRun))
	metrics.PollNonTerminalItems.Observe(float64(result.NonTerminalCount))
	slog.Info("poll cycle completed",
		"auth_id", user.AuthID,
		"rules_run", result.RulesRun,
		"actions_dispatched", result.ActionsDispatched)
}

// RunningCount returns the number of poll tasks currently in flight, for
// metrics and tests.
func (s *Scheduler) RunningCount() int {
	return len(s.semaphore)
}
