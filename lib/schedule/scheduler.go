// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package schedule

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/bureau-foundation/tracebuffer/lib/clock"
)

// Default sweep delays. The flush sweep runs more often than the
// close sweep so that long-running traces ship their events well
// before they are considered idle.
const (
	DefaultFlushDelay       = time.Second
	DefaultCloseDelay       = 60 * time.Second
	DefaultSharedSweepDelay = time.Second
)

// Scheduler runs tasks repeatedly with a fixed delay between the end
// of one run and the start of the next. A task that panics is logged
// and rescheduled like any other run.
type Scheduler struct {
	clock  clock.Clock
	logger *slog.Logger

	mu      sync.Mutex
	stopped bool
	jobs    []*job
}

type job struct {
	name  string
	delay time.Duration
	task  func()
	timer *clock.Timer
}

// New returns a Scheduler with no jobs.
func New(clk clock.Clock, logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Scheduler{clock: clk, logger: logger}
}

// Every runs task delay after registration and then delay after each
// run finishes, until Stop.
func (s *Scheduler) Every(name string, delay time.Duration, task func()) error {
	if delay <= 0 {
		return fmt.Errorf("schedule: %s: delay must be positive, got %s", name, delay)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return fmt.Errorf("schedule: %s: scheduler is stopped", name)
	}
	j := &job{name: name, delay: delay, task: task}
	s.jobs = append(s.jobs, j)
	j.timer = s.clock.AfterFunc(delay, func() { s.run(j) })
	s.logger.Debug("scheduled job", "job", name, "delay", delay)
	return nil
}

// Stop cancels every pending run. A run already in progress finishes
// but is not rescheduled. Returns false if already stopped.
func (s *Scheduler) Stop() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return false
	}
	s.stopped = true
	for _, j := range s.jobs {
		j.timer.Stop()
	}
	return true
}

func (s *Scheduler) run(j *job) {
	s.invoke(j)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopped {
		return
	}
	j.timer = s.clock.AfterFunc(j.delay, func() { s.run(j) })
}

func (s *Scheduler) invoke(j *job) {
	defer func() {
		if recovered := recover(); recovered != nil {
			s.logger.Warn("scheduled job panicked", "job", j.name, "panic", recovered)
		}
	}()
	j.task()
}
