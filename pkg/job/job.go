// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package job provides the cooperative training-job abstraction: an
// asynchronous unit of work with a key, a state, and a progress
// counter that callers poll or block on.
//
// Cross-validation runs several trainings under one shared Progress so
// the caller sees a single continuous bar spanning all of them; only
// the owner of the counter tears it down.
package job

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

var (
	tracer = otel.Tracer("kodiak.job")
	meter  = otel.Meter("kodiak.job")
)

// ErrNilWork is returned by Start when no work function is given.
var ErrNilWork = errors.New("job: nil work function")

// Metrics (initialized lazily, degrade gracefully).
var (
	metricsOnce sync.Once
	jobsStarted metric.Int64Counter
	jobsFailed  metric.Int64Counter
	jobLatency  metric.Float64Histogram
)

func initMetrics(logger *slog.Logger) {
	metricsOnce.Do(func() {
		var initErrors []string

		var err error
		jobsStarted, err = meter.Int64Counter("job_started_total",
			metric.WithDescription("Number of training jobs started"),
		)
		if err != nil {
			initErrors = append(initErrors, "job_started: "+err.Error())
		}

		jobsFailed, err = meter.Int64Counter("job_failed_total",
			metric.WithDescription("Number of training jobs that failed"),
		)
		if err != nil {
			initErrors = append(initErrors, "job_failed: "+err.Error())
		}

		jobLatency, err = meter.Float64Histogram("job_duration_seconds",
			metric.WithDescription("Wall-clock duration of training jobs"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "job_duration: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some job metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// State is the lifecycle state of a job.
type State int32

const (
	// Created: constructed, not yet running.
	Created State = iota

	// Running: work function executing.
	Running

	// Done: work completed successfully; the result is available.
	Done

	// Failed: work returned an error.
	Failed

	// Cancelled: the job's context was canceled before completion.
	Cancelled
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case Created:
		return "created"
	case Running:
		return "running"
	case Done:
		return "done"
	case Failed:
		return "failed"
	case Cancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// Job is an asynchronous unit of training work.
//
// A Job is created running (see Start) and finishes exactly once.
// All methods are safe for concurrent use.
type Job struct {
	key         string
	description string
	progress    *Progress

	state  atomic.Int32
	done   chan struct{}
	cancel context.CancelFunc

	mu     sync.Mutex
	result any
	err    error
}

// Start launches work on its own goroutine and returns the running job.
//
// Inputs:
//
//	ctx - Parent context; canceling it cancels the job.
//	key - Job key, used in logs and metric attributes.
//	description - Human-readable description.
//	p - Progress counter shared with the caller. May be nil.
//	logger - Logger for lifecycle events. If nil, uses slog.Default().
//	work - The job body. Receives the job's derived context.
//
// Outputs:
//
//	*Job - The running job.
//	error - ErrNilWork when work is nil.
func Start(ctx context.Context, key, description string, p *Progress, logger *slog.Logger, work func(ctx context.Context) (any, error)) (*Job, error) {
	if work == nil {
		return nil, ErrNilWork
	}
	if logger == nil {
		logger = slog.Default()
	}
	initMetrics(logger)

	jctx, cancel := context.WithCancel(ctx)
	j := &Job{
		key:         key,
		description: description,
		progress:    p,
		done:        make(chan struct{}),
		cancel:      cancel,
	}
	j.state.Store(int32(Running))

	if jobsStarted != nil {
		jobsStarted.Add(ctx, 1)
	}
	logger.Info("job started",
		slog.String("job", key),
		slog.String("description", description),
	)

	go func() {
		defer cancel()

		runCtx, span := tracer.Start(jctx, "job.Run",
			trace.WithAttributes(attribute.String("job.key", key)),
		)
		defer span.End()

		start := time.Now()
		result, err := work(runCtx)
		duration := time.Since(start)

		if jobLatency != nil {
			jobLatency.Record(jctx, duration.Seconds(),
				metric.WithAttributes(attribute.String("job.key", key)),
			)
		}

		j.mu.Lock()
		j.result, j.err = result, err
		j.mu.Unlock()

		switch {
		case err == nil:
			j.state.Store(int32(Done))
			span.SetStatus(codes.Ok, "")
			logger.Info("job completed",
				slog.String("job", key),
				slog.Duration("duration", duration),
			)
		case errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded):
			j.state.Store(int32(Cancelled))
			span.RecordError(err)
			span.SetStatus(codes.Error, "canceled")
			logger.Warn("job cancelled",
				slog.String("job", key),
				slog.Duration("duration", duration),
			)
		default:
			j.state.Store(int32(Failed))
			if jobsFailed != nil {
				jobsFailed.Add(jctx, 1)
			}
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			logger.Error("job failed",
				slog.String("job", key),
				slog.Duration("duration", duration),
				slog.String("error", err.Error()),
			)
		}

		close(j.done)
	}()

	return j, nil
}

// Key returns the job key.
func (j *Job) Key() string { return j.key }

// Description returns the human-readable description.
func (j *Job) Description() string { return j.description }

// Progress returns the job's progress counter (may be nil).
func (j *Job) Progress() *Progress { return j.progress }

// State returns the current lifecycle state.
func (j *Job) State() State { return State(j.state.Load()) }

// Done returns a channel closed when the job finishes.
func (j *Job) Done() <-chan struct{} { return j.done }

// Cancel requests cancellation of the job's context. The job still
// finishes through its work function; block on Get to observe the
// final state.
func (j *Job) Cancel() { j.cancel() }

// Get blocks until the job finishes or ctx is done.
//
// Outputs:
//
//	any - The work function's result (nil on failure).
//	error - The work function's error, or ctx.Err() when the wait
//	        itself was interrupted.
func (j *Job) Get(ctx context.Context) (any, error) {
	select {
	case <-j.done:
		j.mu.Lock()
		defer j.mu.Unlock()
		return j.result, j.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
