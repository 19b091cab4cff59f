// Copyright (c) 2025, s0up and the autobrr contributors.
// SPDX-License-Identifier: GPL-2.0-or-later

package scheduler

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunImmediatelyFiresBeforeFirstTick(t *testing.T) {
	s := New()

	ran := make(chan struct{}, 1)
	require.NoError(t, s.Add("immediate", time.Hour, true, func(ctx context.Context) error {
		ran <- struct{}{}
		return nil
	}))

	s.Start(context.Background())
	defer s.Stop()

	select {
	case <-ran:
	case <-time.After(2 * time.Second):
		t.Fatal("immediate job did not run")
	}
}

func TestPeriodicExecution(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add("ticker", 20*time.Millisecond, false, func(ctx context.Context) error {
		runs.Add(1)
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int32(3))
}

func TestStopJoinsAllJobs(t *testing.T) {
	s := New()

	var active atomic.Int32
	require.NoError(t, s.Add("slow", 10*time.Millisecond, true, func(ctx context.Context) error {
		active.Add(1)
		defer active.Add(-1)
		select {
		case <-ctx.Done():
		case <-time.After(50 * time.Millisecond):
		}
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	// Stop must not return while a job goroutine is still running.
	assert.Equal(t, int32(0), active.Load())
}

func TestPanickingJobDoesNotKillScheduler(t *testing.T) {
	s := New()

	var panics, healthy atomic.Int32
	require.NoError(t, s.Add("panics", 20*time.Millisecond, true, func(ctx context.Context) error {
		panics.Add(1)
		panic("boom")
	}))
	require.NoError(t, s.Add("healthy", 20*time.Millisecond, true, func(ctx context.Context) error {
		healthy.Add(1)
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(120 * time.Millisecond)
	s.Stop()

	// The panicking job keeps being retried and the healthy job keeps running.
	assert.GreaterOrEqual(t, panics.Load(), int32(2))
	assert.GreaterOrEqual(t, healthy.Load(), int32(2))
}

func TestOverlapGuardSkipsTick(t *testing.T) {
	s := New()

	var concurrent, peak atomic.Int32
	require.NoError(t, s.Add("overlapping", 10*time.Millisecond, false, func(ctx context.Context) error {
		now := concurrent.Add(1)
		defer concurrent.Add(-1)
		for {
			observed := peak.Load()
			if now <= observed || peak.CompareAndSwap(observed, now) {
				break
			}
		}
		time.Sleep(60 * time.Millisecond)
		return nil
	}))

	s.Start(context.Background())
	time.Sleep(150 * time.Millisecond)
	s.Stop()

	assert.Equal(t, int32(1), peak.Load(), "overlapping runs of the same job must not happen")
}

func TestFailingJobRetriedNextTick(t *testing.T) {
	s := New()

	var runs atomic.Int32
	require.NoError(t, s.Add("failing", 20*time.Millisecond, true, func(ctx context.Context) error {
		runs.Add(1)
		return errors.New("transient")
	}))

	s.Start(context.Background())
	time.Sleep(100 * time.Millisecond)
	s.Stop()

	assert.GreaterOrEqual(t, runs.Load(), int32(2))
}

func TestAddAfterStartFails(t *testing.T) {
	s := New()
	s.Start(context.Background())
	defer s.Stop()

	err := s.Add("late", time.Minute, false, func(ctx context.Context) error { return nil })
	require.Error(t, err)
}

func TestAddValidation(t *testing.T) {
	s := New()

	assert.Error(t, s.Add("", time.Minute, false, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Add("bad-interval", 0, false, func(ctx context.Context) error { return nil }))
	assert.Error(t, s.Add("nil-fn", time.Minute, false, nil))
}

func TestStopIsIdempotent(t *testing.T) {
	s := New()
	require.NoError(t, s.Add("noop", time.Hour, false, func(ctx context.Context) error { return nil }))

	s.Start(context.Background())
	s.Stop()
	s.Stop()
}
