// Package scheduler runs full-collection updates on a background cadence
// that reloads its interval from settings between runs.
package scheduler

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	log "github.com/sirupsen/logrus"

	"feedbox/models"
)

// State of the scheduling loop.
type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateStarting:
		return "starting"
	case StateRunning:
		return "running"
	case StateStopping:
		return "stopping"
	}
	return "unknown"
}

var errAlreadyStarted = errors.New("scheduler already started")

// DefaultWarmup delays the first run after start so a process restart does
// not immediately hammer every feed.
const DefaultWarmup = 2 * time.Minute

// Runner executes one full-collection update.
type Runner interface {
	UpdateAll(ctx context.Context) (models.UpdateResult, error)
}

// IntervalSource yields the current polling interval in minutes.
type IntervalSource interface {
	Interval(ctx context.Context) int
}

// Scheduler owns one background goroutine for the lifetime of the process.
// Cancellation is cooperative: it interrupts the inter-cycle sleep
// immediately and an in-flight run exits between feeds.
type Scheduler struct {
	runner    Runner
	intervals IntervalSource

	warmup time.Duration
	unit   time.Duration

	state  atomic.Int32
	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

func New(runner Runner, intervals IntervalSource) *Scheduler {
	return &Scheduler{
		runner:    runner,
		intervals: intervals,
		warmup:    DefaultWarmup,
		unit:      time.Minute,
	}
}

// State reports the current lifecycle state.
func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Start launches the scheduling loop. It is an error to start a scheduler
// that is not stopped.
func (s *Scheduler) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if State(s.state.Load()) != StateStopped {
		return errAlreadyStarted
	}
	s.state.Store(int32(StateStarting))

	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.done = make(chan struct{})
	go s.loop(ctx)
	return nil
}

// Stop cancels the loop and waits for it to exit. Safe to call while the
// loop is sleeping or mid-run.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if State(s.state.Load()) == StateStopped {
		s.mu.Unlock()
		return
	}
	s.state.Store(int32(StateStopping))
	cancel := s.cancel
	done := s.done
	s.mu.Unlock()

	cancel()
	<-done
}

func (s *Scheduler) loop(ctx context.Context) {
	defer close(s.done)
	defer s.state.Store(int32(StateStopped))

	interval := s.intervals.Interval(ctx)
	log.WithFields(log.Fields{
		"interval": interval,
		"warmup":   s.warmup,
	}).Info("Scheduler starting")

	if !s.sleep(ctx, s.warmup) {
		return
	}
	s.state.Store(int32(StateRunning))

	for {
		s.runOnce(ctx)

		// The interval may have changed while the run was in flight.
		interval = s.intervals.Interval(ctx)
		log.WithFields(log.Fields{"interval": interval}).Debug("Scheduler sleeping")
		if !s.sleep(ctx, time.Duration(interval)*s.unit) {
			return
		}
	}
}

// runOnce executes one cycle. A failing or panicking run is logged and the
// loop continues with the next cycle.
func (s *Scheduler) runOnce(ctx context.Context) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("Scheduled run panicked: %v", r)
		}
	}()

	if _, err := s.runner.UpdateAll(ctx); err != nil {
		log.WithFields(log.Fields{"error": err}).Error("Scheduled run failed")
	}
}

// sleep waits for d or until the context is cancelled. Returns false when
// the loop should end.
func (s *Scheduler) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
