// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package job

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestJobSuccess verifies the happy path: start, block on Get, Done.
func TestJobSuccess(t *testing.T) {
	ctx := context.Background()
	p := NewProgress(2)

	j, err := Start(ctx, "job-1", "test work", p, nil, func(ctx context.Context) (any, error) {
		p.Tick(2)
		return 42, nil
	})
	require.NoError(t, err)

	res, err := j.Get(ctx)
	require.NoError(t, err)
	assert.Equal(t, 42, res)
	assert.Equal(t, Done, j.State())
	assert.Equal(t, "job-1", j.Key())
	assert.Equal(t, int64(2), p.Units())
}

// TestJobFailure verifies the work error surfaces through Get.
func TestJobFailure(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("boom")

	j, err := Start(ctx, "job-2", "failing work", nil, nil, func(ctx context.Context) (any, error) {
		return nil, boom
	})
	require.NoError(t, err)

	_, err = j.Get(ctx)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, Failed, j.State())
}

// TestJobCancel verifies Cancel moves a context-honoring job to
// Cancelled.
func TestJobCancel(t *testing.T) {
	ctx := context.Background()
	started := make(chan struct{})

	j, err := Start(ctx, "job-3", "long work", nil, nil, func(ctx context.Context) (any, error) {
		close(started)
		<-ctx.Done()
		return nil, ctx.Err()
	})
	require.NoError(t, err)

	<-started
	j.Cancel()

	_, err = j.Get(context.Background())
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, Cancelled, j.State())
}

// TestJobGetRespectsWaitContext verifies Get returns when the waiting
// context dies, even though the job keeps running.
func TestJobGetRespectsWaitContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	j, err := Start(context.Background(), "job-4", "slow work", nil, nil, func(ctx context.Context) (any, error) {
		<-release
		return nil, nil
	})
	require.NoError(t, err)

	waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = j.Get(waitCtx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, Running, j.State())
}

// TestStartNilWork verifies the nil-work guard.
func TestStartNilWork(t *testing.T) {
	_, err := Start(context.Background(), "job-5", "", nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilWork)
}

// TestProgress verifies tick accounting, clamping, and teardown.
func TestProgress(t *testing.T) {
	p := NewProgress(4)
	assert.Equal(t, int64(4), p.Total())
	assert.Equal(t, 0.0, p.Fraction())

	p.Tick(1)
	assert.InDelta(t, 0.25, p.Fraction(), 1e-12)

	p.Tick(10) // over-tick clamps through Fraction
	assert.Equal(t, 1.0, p.Fraction())
	assert.Equal(t, int64(11), p.Units())

	p.Close()
	assert.True(t, p.Closed())
	assert.Equal(t, 1.0, p.Fraction())
}

// TestProgressNonPositiveTotal verifies the one-unit fallback.
func TestProgressNonPositiveTotal(t *testing.T) {
	p := NewProgress(0)
	assert.Equal(t, int64(1), p.Total())
}

// TestProgressSharedAcrossJobs verifies several jobs can tick one
// counter, the cross-validation arrangement.
func TestProgressSharedAcrossJobs(t *testing.T) {
	ctx := context.Background()
	p := NewProgress(3)

	for i := 0; i < 3; i++ {
		j, err := Start(ctx, "shared", "tick once", p, nil, func(ctx context.Context) (any, error) {
			p.Tick(1)
			return nil, nil
		})
		require.NoError(t, err)
		_, err = j.Get(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1.0, p.Fraction())
	assert.False(t, p.Closed(), "jobs never tear down a shared counter")
}
