// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

// Package scheduler runs the periodic maintenance jobs: icon refresh, store
// clean, vacuum, checkpoint and temp cleanup. Jobs are independently timed;
// one slow or panicking job never affects the others.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

type job struct {
	name           string
	interval       time.Duration
	runImmediately bool
	fn             func(context.Context) error

	// running guards against overlapping executions of the same job.
	running sync.Mutex
}

type Scheduler struct {
	mu   sync.Mutex
	jobs []*job

	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	stopOnce sync.Once
}

func New() *Scheduler {
	return &Scheduler{}
}

// Add registers a periodic job. Must be called before Start. A job error is
// logged and the job retried on its next tick.
func (s *Scheduler) Add(name string, interval time.Duration, runImmediately bool, fn func(context.Context) error) error {
	if name == "" {
		return fmt.Errorf("job name is required")
	}
	if interval <= 0 {
		return fmt.Errorf("job %q: interval must be positive", name)
	}
	if fn == nil {
		return fmt.Errorf("job %q: fn is required", name)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("job %q: scheduler already started", name)
	}

	s.jobs = append(s.jobs, &job{
		name:           name,
		interval:       interval,
		runImmediately: runImmediately,
		fn:             fn,
	})
	return nil
}

// Start launches one goroutine per job. The provided context bounds every
// job run; cancelling it begins shutdown, but Stop must be called to join.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return
	}
	s.started = true

	ctx, s.cancel = context.WithCancel(ctx)

	for _, j := range s.jobs {
		s.wg.Add(1)
		go s.runJob(ctx, j)
	}

	log.Info().Int("jobs", len(s.jobs)).Msg("Scheduler started")
}

func (s *Scheduler) runJob(ctx context.Context, j *job) {
	defer s.wg.Done()

	if j.runImmediately {
		s.execute(ctx, j)
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.execute(ctx, j)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, j *job) {
	// Skip the tick when the previous run is still going.
	if !j.running.TryLock() {
		log.Warn().Str("job", j.name).Msg("previous run still in progress, skipping tick")
		return
	}
	defer j.running.Unlock()

	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("job", j.name).Interface("panic", r).Msg("scheduled job panicked")
		}
	}()

	start := time.Now()
	if err := j.fn(ctx); err != nil {
		if ctx.Err() != nil {
			return
		}
		log.Error().Err(err).Str("job", j.name).Msg("scheduled job failed")
		return
	}

	log.Debug().Str("job", j.name).Dur("duration", time.Since(start)).Msg("scheduled job complete")
}

// Stop cancels all jobs and returns once every job goroutine has exited.
// Safe to call multiple times.
func (s *Scheduler) Stop() {
	s.stopOnce.Do(func() {
		s.mu.Lock()
		cancel := s.cancel
		s.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		s.wg.Wait()

		log.Info().Msg("Scheduler stopped")
	})
}
