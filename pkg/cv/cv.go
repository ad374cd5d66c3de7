// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package cv implements N-fold cross-validation on top of a prepared
// model builder: fold assignment, per-fold weight masks, N sub-model
// trainings plus the main model, and order-independent metric
// aggregation into the main model's output.
//
// Train is the single training entry point for the core; it dispatches
// to plain single-model training when cross-validation is off.
package cv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/kodiak/pkg/builder"
	"github.com/AleutianAI/kodiak/pkg/frame"
	"github.com/AleutianAI/kodiak/pkg/job"
	"github.com/AleutianAI/kodiak/pkg/metrics"
	"github.com/AleutianAI/kodiak/pkg/store"
)

var (
	tracer = otel.Tracer("kodiak.cv")
	meter  = otel.Meter("kodiak.cv")
)

// ErrDegenerateSplit is the fatal configuration error raised when a
// fold's weight mask comes out constant: the split holds no usable
// training or holdout rows.
var ErrDegenerateSplit = errors.New("cv: degenerate cross-validation split")

// Metrics (initialized lazily, degrade gracefully).
var (
	metricsOnce  sync.Once
	foldLatency  metric.Float64Histogram
	foldsTrained metric.Int64Counter
	runsFailed   metric.Int64Counter
)

func initMetrics(logger *slog.Logger) {
	metricsOnce.Do(func() {
		var initErrors []string

		var err error
		foldLatency, err = meter.Float64Histogram("cv_fold_duration_seconds",
			metric.WithDescription("Time spent training and scoring one fold"),
			metric.WithUnit("s"),
		)
		if err != nil {
			initErrors = append(initErrors, "fold_latency: "+err.Error())
		}

		foldsTrained, err = meter.Int64Counter("cv_folds_trained_total",
			metric.WithDescription("Number of cross-validation sub-models trained"),
		)
		if err != nil {
			initErrors = append(initErrors, "folds_trained: "+err.Error())
		}

		runsFailed, err = meter.Int64Counter("cv_runs_failed_total",
			metric.WithDescription("Number of cross-validation runs that failed"),
		)
		if err != nil {
			initErrors = append(initErrors, "runs_failed: "+err.Error())
		}

		if len(initErrors) > 0 {
			logger.Error("failed to initialize some cv metrics (observability degraded)",
				slog.Int("failed_count", len(initErrors)),
				slog.Any("errors", initErrors),
			)
		}
	})
}

// FoldHashFunc maps (row, seed) to a pseudo-random value for the
// Random fold assignment scheme. Implementations must be pure: the
// same inputs always yield the same output.
type FoldHashFunc func(row, seed int64) uint64

// defaultFoldHash seeds a PCG stream per row, which keeps assignment
// independent of chunking.
func defaultFoldHash(row, seed int64) uint64 {
	return rand.New(rand.NewPCG(uint64(seed), uint64(row))).Uint64()
}

// Orchestrator runs N-fold cross-validation for one builder.
type Orchestrator struct {
	foldHash FoldHashFunc
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithFoldHash overrides the deterministic pseudo-random function used
// by the Random fold assignment scheme.
func WithFoldHash(h FoldHashFunc) Option {
	return func(o *Orchestrator) { o.foldHash = h }
}

// New creates an orchestrator with default fold hashing.
func New(opts ...Option) *Orchestrator {
	o := &Orchestrator{foldHash: defaultFoldHash}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Train launches training for a validated builder.
//
// # Description
//
// This is the training entry point of the core. With cross-validation
// off (nfolds == 0 and no fold column) it starts one single-model
// training job. Otherwise it starts the cross-validation run as one
// job whose progress spans all N+1 trainings on a shared counter.
//
// The builder must have passed a full Init with zero errors.
//
// Outputs:
//
//	*job.Job - The running job. Get returns the main builder.Model.
//	error - builder.ErrInitNotRun, builder.ErrTrainingBlocked, or a
//	        fatal configuration error.
func Train(ctx context.Context, b *builder.Builder) (*job.Job, error) {
	p := b.Params()
	if p.Nfolds == 0 && p.FoldColumn == "" {
		prog := job.NewProgress(b.Algo().ProgressUnits())
		return b.StartTraining(ctx, prog, true)
	}
	return New().Run(ctx, b)
}

// Run starts the cross-validation job for a builder whose parameters
// request it.
func (o *Orchestrator) Run(ctx context.Context, b *builder.Builder) (*job.Job, error) {
	switch n := b.ErrorCount(); {
	case n < 0:
		return nil, builder.ErrInitNotRun
	case n > 0:
		return nil, fmt.Errorf("%w:\n%s", builder.ErrTrainingBlocked, b.Log().ValidationErrors())
	}
	logger := b.Logger()
	initMetrics(logger)

	run := newRunState(o, b)
	n, err := run.foldCount()
	if err != nil {
		return nil, err
	}
	if n < 2 {
		return nil, fmt.Errorf("cv: cross-validation requires at least 2 folds, got %d", n)
	}

	// One continuous progress bar across all N+1 trainings; only this
	// job tears the counter down.
	prog := job.NewProgress(int64(n+1) * b.Algo().ProgressUnits())

	return job.Start(ctx, b.ModelKey().String()+"_cv", fmt.Sprintf("%d-fold cross-validation", n), prog, logger,
		func(ctx context.Context) (any, error) {
			defer prog.Close()
			m, err := run.compute(ctx, n, prog)
			if err != nil {
				if runsFailed != nil {
					runsFailed.Add(ctx, 1)
				}
				return nil, err
			}
			return m, nil
		})
}

// runState carries everything one cross-validation run accumulates.
type runState struct {
	o      *Orchestrator
	b      *builder.Builder
	st     store.Store
	logger *slog.Logger

	modelKeys      []store.Key
	predictionKeys []store.Key

	// derived artifacts to release unless retention was requested
	derivedFrames []store.Key
}

func newRunState(o *Orchestrator, b *builder.Builder) *runState {
	return &runState{o: o, b: b, st: b.Store(), logger: b.Logger()}
}

// foldCount derives N before the job starts so the progress counter
// can span all N+1 trainings.
//
// With a fold column, N is the count of distinct fold values; counting
// distinct values rather than max-min+1 keeps gapped numberings (e.g.
// {0,2}) correct. Otherwise N is the requested nfolds.
func (r *runState) foldCount() (int, error) {
	if r.b.Params().FoldColumn != "" {
		n := len(r.b.Fold().DistinctInts())
		if n <= 1 {
			// Init rejects constant fold columns; reaching this means
			// the frame changed after validation.
			return 0, fmt.Errorf("%w: fold column has %d distinct values", ErrDegenerateSplit, n)
		}
		return n, nil
	}
	return r.b.Params().Nfolds, nil
}

// compute is the body of the cross-validation job.
func (r *runState) compute(ctx context.Context, n int, prog *job.Progress) (builder.Model, error) {
	ctx, span := tracer.Start(ctx, "cv.Run",
		trace.WithAttributes(
			attribute.String("model", r.b.ModelKey().String()),
			attribute.Int("nfolds", n),
		),
	)
	defer span.End()

	foldOf, err := r.assignFolds(ctx, n)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	trainW, validW, err := r.buildWeightMasks(ctx, n, foldOf)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	r.modelKeys = make([]store.Key, n)
	r.predictionKeys = make([]store.Key, n)
	mbs := make([]metrics.Builder, n)

	keep := r.b.Params().KeepCVSplits
	defer func() {
		if !keep {
			r.releaseDerived(ctx)
		}
	}()

	for i := 0; i < n; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		start := time.Now()
		mb, err := r.trainFold(ctx, i, n, trainW[i], validW[i], prog)
		if foldLatency != nil {
			foldLatency.Record(ctx, time.Since(start).Seconds(),
				metric.WithAttributes(attribute.Int("fold", i)),
			)
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return nil, err
		}
		if foldsTrained != nil {
			foldsTrained.Add(ctx, 1)
		}
		mbs[i] = mb
	}

	r.logger.Info("building main model", slog.String("model", r.b.ModelKey().String()))
	main, err := r.trainMain(ctx, n, prog)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	r.logger.Info("computing cross-validation metrics", slog.Int("nfolds", n))
	agg := mbs[0]
	for i := 1; i < n; i++ {
		if err := agg.Reduce(mbs[i]); err != nil {
			return nil, err
		}
	}

	out := main.Output()
	out.CrossValidationModels = r.modelKeys
	out.CrossValidationPredictions = r.predictionKeys
	out.CrossValidationMetrics = main.MakeModelMetrics(agg,
		fmt.Sprintf("%d-fold cross-validation on training data", n))

	// Re-store the main model so the published output is durable.
	blob, err := main.MarshalBinary()
	if err != nil {
		return nil, fmt.Errorf("cv: marshal main model: %w", err)
	}
	if err := r.st.PutBlob(ctx, main.Key(), blob); err != nil {
		return nil, err
	}

	span.SetStatus(codes.Ok, "")
	return main, nil
}

// assignFolds returns a per-row fold index function in [0, n).
//
// A user-supplied fold column is mapped through its sorted distinct
// values. Otherwise a fold assignment vector is computed in parallel
// from the configured scheme and discarded after the weight masks are
// built.
func (r *runState) assignFolds(ctx context.Context, n int) (func(row int) int, error) {
	p := r.b.Params()
	nrows := r.b.Train().NumRows()

	if p.FoldColumn != "" {
		fold := r.b.Fold()
		index := make(map[int64]int)
		for i, v := range fold.DistinctInts() {
			index[v] = i
		}
		return func(row int) int {
			return index[int64(fold.At(row))]
		}, nil
	}

	seed := p.Seed
	if seed == builder.AutoSeed {
		seed = rand.Int64()
	}
	r.logger.Info("creating cross-validation splits",
		slog.Int("nfolds", n),
		slog.String("scheme", p.FoldAssignment.String()),
		slog.Int64("seed", seed),
	)

	assign := make([]int32, nrows)
	err := frame.MapChunks(ctx, nrows, func(lo, hi int) error {
		for i := lo; i < hi; i++ {
			switch p.FoldAssignment {
			case builder.FoldRandom:
				assign[i] = int32(r.o.foldHash(int64(i), seed) % uint64(n))
			case builder.FoldModulo:
				assign[i] = int32(i % n)
			default:
				return fmt.Errorf("cv: unknown fold assignment scheme %d", p.FoldAssignment)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return func(row int) int { return int(assign[row]) }, nil
}

// buildWeightMasks builds the per-fold train/holdout weight pairs:
// train-weight zeroes the held-out rows, validation-weight zeroes the
// rest, both scaled by the original observation weight (uniform 1.0
// when no weights column was declared).
//
// A constant mask means the split is degenerate and fails the whole
// run before any model trains.
func (r *runState) buildWeightMasks(ctx context.Context, n int, foldOf func(row int) int) (trainW, validW []*frame.Column, err error) {
	origTrain := r.b.Train()
	nrows := origTrain.NumRows()

	origWeight := r.b.Weights()
	if origWeight == nil {
		origWeight = frame.MakeConst(nrows, 1.0)
	}

	trainW = make([]*frame.Column, n)
	validW = make([]*frame.Column, n)
	for i := 0; i < n; i++ {
		tw := frame.MakeZero(nrows)
		vw := frame.MakeZero(nrows)
		fold := i
		err := frame.MapChunks(ctx, nrows, func(lo, hi int) error {
			for row := lo; row < hi; row++ {
				holdout := foldOf(row) == fold
				w := origWeight.At(row)
				if holdout {
					tw.Set(row, 0)
					vw.Set(row, w)
				} else {
					tw.Set(row, w)
					vw.Set(row, 0)
				}
			}
			return nil
		})
		if err != nil {
			return nil, nil, err
		}
		if tw.IsConst() || vw.IsConst() {
			return nil, nil, fmt.Errorf("%w: not enough data to create %d random cross-validation splits; "+
				"either reduce nfolds, specify a larger dataset (or specify another random number seed, if applicable)",
				ErrDegenerateSplit, n)
		}
		trainW[i] = tw
		validW[i] = vw
	}
	return trainW, validW, nil
}

// cvWeightName is the weight column injected into per-fold views. It
// replaces a same-named original column because the mask already
// folds the original weights in.
const cvWeightName = "weights"

// trainFold trains, scores, and cleans up one fold.
func (r *runState) trainFold(ctx context.Context, i, n int, tw, vw *frame.Column, prog *job.Progress) (metrics.Builder, error) {
	b := r.b
	p := b.Params()
	algo := b.Algo()
	origTrain := b.Train()

	identifier := b.ModelKey().Child(fmt.Sprintf("cv_%d", i+1))
	r.logger.Info("building cross-validation model",
		slog.Int("fold", i+1),
		slog.Int("nfolds", n),
		slog.String("model", identifier.String()),
	)

	// Training and holdout views share every data column and differ
	// only in the injected weight column.
	cvTrainKey := store.Key(fmt.Sprintf("%s_%s_train", identifier, p.Train))
	cvValidKey := store.Key(fmt.Sprintf("%s_%s_valid", identifier, p.Train))
	cvTrain := makeFoldView(origTrain, p.WeightsColumn, tw)
	cvValid := makeFoldView(origTrain, p.WeightsColumn, vw)
	if err := r.st.PutFrame(ctx, cvTrainKey, cvTrain); err != nil {
		return nil, err
	}
	if err := r.st.PutFrame(ctx, cvValidKey, cvValid); err != nil {
		return nil, err
	}
	r.derivedFrames = append(r.derivedFrames, cvTrainKey, cvValidKey)
	r.modelKeys[i] = identifier

	// One immutable parameter value per fold; never mutated after
	// construction.
	cp := p.Clone()
	cp.ModelID = identifier
	cp.Train = cvTrainKey
	cp.Valid = cvValidKey
	cp.WeightsColumn = cvWeightName
	// Only nfolds is zeroed. A declared fold column stays declared so
	// the fold builder separates it as a special column instead of
	// feeding fold assignments to the algorithm as a feature; nested
	// cross-validation cannot recur because folds train through
	// StartTraining, never through Train.
	cp.Nfolds = 0
	if m, ok := algo.(builder.CVSplitModifier); ok {
		m.ModifyParamsForCVSplit(&cp, i, n)
	}

	cvb := builder.New(algo, cp, r.st, builder.WithLogger(r.logger))
	cvb.Init(ctx, true)
	if cvb.ErrorCount() > 0 {
		return nil, fmt.Errorf("cv: fold %d builder invalid:\n%s", i+1, cvb.Log().ValidationErrors())
	}

	j, err := cvb.StartTraining(ctx, prog, false)
	if err != nil {
		return nil, err
	}
	res, err := j.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("cv: fold %d training: %w", i+1, err)
	}
	m := res.(builder.Model)

	// Holdout scoring.
	adapted, msgs, err := m.AdaptForScoring(cvValid)
	if err != nil {
		return nil, fmt.Errorf("cv: fold %d holdout adaptation: %w", i+1, err)
	}
	for _, msg := range msgs {
		r.logger.Debug(msg, slog.Int("fold", i+1))
	}
	mb, err := m.ScoreMetrics(adapted)
	if err != nil {
		return nil, fmt.Errorf("cv: fold %d holdout scoring: %w", i+1, err)
	}

	if p.KeepCVPredictions {
		pred, err := m.Predict(adapted)
		if err != nil {
			return nil, fmt.Errorf("cv: fold %d predictions: %w", i+1, err)
		}
		predKey := store.Key("prediction_" + identifier.String())
		if err := r.st.PutColumn(ctx, predKey, pred); err != nil {
			return nil, err
		}
		r.predictionKeys[i] = predKey
	}

	if !p.KeepCVSplits {
		// Release this fold's derived views right away; the masks die
		// with them.
		if err := r.st.Delete(ctx, cvTrainKey); err != nil {
			return nil, err
		}
		if err := r.st.Delete(ctx, cvValidKey); err != nil {
			return nil, err
		}
	}

	return mb, nil
}

// trainMain trains the full model on the original training frame after
// all folds succeeded, applying the algorithm's main-model hook to a
// fresh parameter value.
func (r *runState) trainMain(ctx context.Context, n int, prog *job.Progress) (builder.Model, error) {
	b := r.b
	mp := b.Params()
	mp.ModelID = b.ModelKey()
	if m, ok := b.Algo().(builder.CVMainModifier); ok {
		m.ModifyParamsForCVMain(&mp, n)
	}

	mainB := builder.New(b.Algo(), mp, r.st, builder.WithLogger(r.logger))
	mainB.Init(ctx, true)
	if mainB.ErrorCount() > 0 {
		return nil, fmt.Errorf("cv: main model builder invalid:\n%s", mainB.Log().ValidationErrors())
	}

	j, err := mainB.StartTraining(ctx, prog, false)
	if err != nil {
		return nil, err
	}
	res, err := j.Get(ctx)
	if err != nil {
		return nil, fmt.Errorf("cv: main model training: %w", err)
	}
	return res.(builder.Model), nil
}

// releaseDerived drops any derived frame views still registered in the
// store. Used on abort and at the end of non-retaining runs.
func (r *runState) releaseDerived(ctx context.Context) {
	for _, k := range r.derivedFrames {
		_ = r.st.Delete(ctx, k)
	}
}

// makeFoldView clones the layout of the original training frame,
// drops the declared weights column (the mask already carries those
// weights), and injects the fold's mask under cvWeightName.
func makeFoldView(orig *frame.Frame, weightsCol string, mask *frame.Column) *frame.Frame {
	v := orig.Clone()
	if weightsCol != "" {
		v.Remove(weightsCol)
	}
	if v.Has(cvWeightName) {
		v.Remove(cvWeightName)
	}
	_ = v.Add(cvWeightName, mask)
	return v
}
