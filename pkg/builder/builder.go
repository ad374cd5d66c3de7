// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package builder implements the generic model-builder lifecycle:
// parameter validation, training-frame preparation (special-column
// separation, bad-column filtering), the Init state machine, and the
// single-model training entry point.
//
// The builder is algorithm-agnostic. An algorithm variant plugs in
// through the Algorithm capability interface plus optional hook
// interfaces; cross-validation on top of a prepared builder lives in
// package cv.
//
// # Lifecycle
//
//	b := builder.New(algo, params, st)
//	b.Init(ctx, false)        // cheap pre-check, safe to repeat
//	b.Init(ctx, true)         // full validation before training
//	if b.ErrorCount() > 0 { ... render b.Log().Messages() ... }
//	j, err := cv.Train(ctx, b) // dispatches single vs cross-validated
//	m, err := j.Get(ctx)
package builder

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/kodiak/pkg/frame"
	"github.com/AleutianAI/kodiak/pkg/job"
	"github.com/AleutianAI/kodiak/pkg/logging"
	"github.com/AleutianAI/kodiak/pkg/store"
)

// ErrTrainingBlocked is returned when training is requested while the
// validation log holds error messages.
var ErrTrainingBlocked = errors.New("builder: parameter validation failed")

// ErrInitNotRun is returned when training is requested before a full
// Init pass.
var ErrInitNotRun = errors.New("builder: Init has not run")

// Builder drives the lifecycle of one model-building request.
//
// A Builder is owned by a single goroutine; its validation log and
// working frames are not safe for concurrent mutation. Cross-
// validation clones are independent builders with independent logs.
type Builder struct {
	algo   Algorithm
	params Parameters
	st     store.Store
	logger *slog.Logger
	vlog   *ValidationLog

	modelKey store.Key

	// Working state produced by Init.
	train     *frame.Frame
	valid     *frame.Frame
	response  *frame.Column
	vresponse *frame.Column
	weights   *frame.Column
	offset    *frame.Column
	fold      *frame.Column

	nclass         int
	distribution   []float64
	priorClassDist []float64
}

// Option configures a Builder.
type Option func(*Builder)

// WithLogger sets the builder's logger (default logging.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(b *Builder) { b.logger = l }
}

// New creates a builder for one algorithm and parameter set.
//
// The parameter value is copied; later caller mutations are not seen.
// The model key is taken from params.ModelID or minted fresh.
func New(algo Algorithm, params Parameters, st store.Store, opts ...Option) *Builder {
	b := &Builder{
		algo:   algo,
		params: params.Clone(),
		st:     st,
	}
	for _, opt := range opts {
		opt(b)
	}
	if b.logger == nil {
		b.logger = logging.Default().Slog()
	}
	b.logger = b.logger.With(slog.String("algo", algo.Name()))
	b.vlog = NewValidationLog(b.logger)

	b.modelKey = params.ModelID
	if b.modelKey == "" {
		b.modelKey = store.NewKey(algo.Name())
	}
	return b
}

// Algo returns the algorithm variant.
func (b *Builder) Algo() Algorithm { return b.algo }

// Params returns a copy of the builder's parameters.
func (b *Builder) Params() Parameters { return b.params.Clone() }

// Store returns the artifact store.
func (b *Builder) Store() store.Store { return b.st }

// Logger returns the builder's logger.
func (b *Builder) Logger() *slog.Logger { return b.logger }

// Log returns the validation message log.
func (b *Builder) Log() *ValidationLog { return b.vlog }

// ErrorCount returns the validation error count (-1 before Init).
func (b *Builder) ErrorCount() int { return b.vlog.ErrorCount() }

// ModelKey returns the destination key of the model being built.
func (b *Builder) ModelKey() store.Key { return b.modelKey }

// Train returns the prepared training frame (nil before Init).
func (b *Builder) Train() *frame.Frame { return b.train }

// Valid returns the adapted validation frame, or nil.
func (b *Builder) Valid() *frame.Frame { return b.valid }

// Response returns the bound training response column, or nil.
func (b *Builder) Response() *frame.Column { return b.response }

// Weights returns the bound weights column, or nil.
func (b *Builder) Weights() *frame.Column { return b.weights }

// Offset returns the bound offset column, or nil.
func (b *Builder) Offset() *frame.Column { return b.offset }

// Fold returns the bound fold column, or nil.
func (b *Builder) Fold() *frame.Column { return b.fold }

// NClasses returns 1 for regression and the class count for
// classification (0 before Init).
func (b *Builder) NClasses() int { return b.nclass }

// IsClassifier reports whether the prepared run is a classification.
func (b *Builder) IsClassifier() bool { return b.nclass > 1 }

// hasWeights/hasOffset/hasFold follow the declared parameter, not the
// bound handle, so they stay truthful on validation-error paths.
func (b *Builder) hasWeights() bool { return b.params.WeightsColumn != "" }
func (b *Builder) hasOffset() bool  { return b.params.OffsetColumn != "" }
func (b *Builder) hasFold() bool    { return b.params.FoldColumn != "" }

// NumSpecialCols returns how many declared special columns trail the
// feature columns in the prepared frame.
func (b *Builder) NumSpecialCols() int {
	n := 0
	if b.hasWeights() {
		n++
	}
	if b.hasOffset() {
		n++
	}
	if b.hasFold() {
		n++
	}
	if b.algo.Supervised() && b.params.ResponseColumn != "" {
		n++
	}
	return n
}

// clearInitState resets everything a previous Init produced so the
// pass can run again after the caller fixes parameters.
func (b *Builder) clearInitState() {
	b.vlog.Reset()
	b.train, b.valid = nil, nil
	b.response, b.vresponse = nil, nil
	b.weights, b.offset, b.fold = nil, nil, nil
	b.nclass = 0
	b.distribution, b.priorClassDist = nil, nil
}

// Init validates all arguments and prepares the training frame.
//
// # Description
//
// Init is the cheap/expensive two-phase validation state machine. With
// expensive false it performs only fast checks so an interactive
// caller can re-validate on every parameter change; with expensive
// true it additionally computes class distributions and adapts the
// validation frame. Init may be called repeatedly; every pass starts
// from a clean log and a fresh working copy of the training frame.
//
// All locally detectable problems are funneled into the validation
// log as field-scoped messages, never returned as Go errors; after
// Init, ErrorCount() == 0 means training may start.
func (b *Builder) Init(ctx context.Context, expensive bool) {
	if expensive {
		b.logger.Info("validating model parameters",
			slog.String("model", b.modelKey.String()),
			slog.Int("nfolds", b.params.Nfolds),
			slog.String("fold_column", b.params.FoldColumn),
		)
	}
	b.clearInitState()

	checkStructural(b.params, b.vlog)

	if b.params.Train == "" {
		if expensive {
			b.vlog.Error("training_frame", "Missing training frame")
		}
		return
	}
	tr, err := b.st.GetFrame(ctx, b.params.Train)
	if err != nil {
		b.vlog.Error("training_frame", fmt.Sprintf("Missing training frame: %s", b.params.Train))
		return
	}
	// Working copy: shares every column handle, owns the layout.
	b.train = tr.Clone()

	b.checkFoldSettings()

	if len(b.params.IgnoredColumns) > 0 {
		b.train.RemoveAll(b.params.IgnoredColumns)
		if expensive {
			b.logger.Info("dropping ignored columns",
				slog.Any("columns", b.params.IgnoredColumns))
		}
	}

	specials := b.separateSpecialColumns()
	b.filterColumns(specials, expensive)

	if b.train.NumCols() == 0 {
		b.vlog.Error("training_frame", "There are no usable columns to generate model")
	}

	if b.algo.Supervised() {
		b.initSupervised(ctx, expensive)
	} else {
		b.initUnsupervised()
	}

	if b.params.Valid != "" {
		b.adaptValidationFrame(ctx, expensive)
	} else {
		b.valid, b.vresponse = nil, nil
	}

	if expensive && b.vlog.ErrorCount() == 0 {
		b.checkSpecialColumnInvariant()
	}
}

// checkFoldSettings enforces the mutual exclusivity of nfolds and the
// fold column and hides the cross-validation fields that the current
// combination makes meaningless.
func (b *Builder) checkFoldSettings() {
	p := &b.params
	if p.Nfolds < 0 || p.Nfolds == 1 {
		b.vlog.Error("nfolds", "nfolds must be either 0 or >1.")
	}
	if p.Nfolds > 1 && p.Nfolds > b.train.NumRows() {
		b.vlog.Error("nfolds", fmt.Sprintf("nfolds cannot be larger than the number of rows (%d).", b.train.NumRows()))
	}
	if p.FoldColumn != "" {
		b.vlog.Hide("fold_assignment", "Fold assignment is ignored when a fold column is specified.")
		if p.Nfolds > 1 {
			b.vlog.Error("nfolds", "nfolds cannot be specified at the same time as a fold column.")
		} else {
			b.vlog.Hide("nfolds", "nfolds is ignored when a fold column is specified.")
		}
	}
	if p.Nfolds > 1 {
		b.vlog.Hide("fold_column", "Fold column is ignored when nfolds > 1.")
	}
	if p.Nfolds == 0 && p.FoldColumn == "" {
		b.vlog.Hide("keep_cross_validation_splits", "Only for cross-validation.")
		b.vlog.Hide("keep_cross_validation_predictions", "Only for cross-validation.")
		b.vlog.Hide("fold_assignment", "Only for cross-validation.")
	}
}

// separateSpecialColumns finds weights/offset/fold/response, validates
// their type and range constraints, and moves each to the end of the
// working frame. Returns the number of special columns consumed, which
// tells the column filter how many trailing columns to skip.
func (b *Builder) separateSpecialColumns() int {
	p := &b.params
	res := 0

	if p.WeightsColumn != "" {
		w := b.train.Remove(p.WeightsColumn)
		if w == nil {
			b.vlog.Error("weights_column", fmt.Sprintf("Weights column '%s' not found in the training frame", p.WeightsColumn))
		} else {
			if !w.IsNumeric() {
				b.vlog.Error("weights_column", fmt.Sprintf("Invalid weights column '%s', weights must be numeric", p.WeightsColumn))
			}
			b.weights = w
			if w.NACount() > 0 {
				b.vlog.Error("weights_column", "Weights cannot have missing values.")
			}
			if w.Min() < 0 {
				b.vlog.Error("weights_column", "Weights must be >= 0")
			}
			if w.Max() == 0 {
				b.vlog.Error("weights_column", "Max. weight must be > 0")
			}
			_ = b.train.Add(p.WeightsColumn, w)
			res++
		}
	}

	if p.OffsetColumn != "" {
		o := b.train.Remove(p.OffsetColumn)
		if o == nil {
			b.vlog.Error("offset_column", fmt.Sprintf("Offset column '%s' not found in the training frame", p.OffsetColumn))
		} else {
			if !o.IsNumeric() {
				b.vlog.Error("offset_column", fmt.Sprintf("Invalid offset column '%s', offset must be numeric", p.OffsetColumn))
			}
			b.offset = o
			if o.NACount() > 0 {
				b.vlog.Error("offset_column", "Offset cannot have missing values.")
			}
			if b.weights != nil && b.weights == b.offset {
				b.vlog.Error("offset_column", "Offset must be different from weights")
			}
			_ = b.train.Add(p.OffsetColumn, o)
			res++
		}
	}

	if p.FoldColumn != "" {
		f := b.train.Remove(p.FoldColumn)
		if f == nil {
			b.vlog.Error("fold_column", fmt.Sprintf("Fold column '%s' not found in the training frame", p.FoldColumn))
		} else {
			if !f.IsNumeric() || !f.IsInt() {
				b.vlog.Error("fold_column", fmt.Sprintf("Invalid fold column '%s', fold must be integer", p.FoldColumn))
			}
			if f.Min() < 0 {
				b.vlog.Error("fold_column", fmt.Sprintf("Invalid fold column '%s', fold must be non-negative", p.FoldColumn))
			}
			if f.IsConst() {
				b.vlog.Error("fold_column", fmt.Sprintf("Invalid fold column '%s', fold cannot be constant", p.FoldColumn))
			}
			b.fold = f
			if f.NACount() > 0 {
				b.vlog.Error("fold_column", "Fold cannot have missing values.")
			}
			if b.weights != nil && b.fold == b.weights {
				b.vlog.Error("fold_column", "Fold must be different from weights")
			}
			if b.offset != nil && b.fold == b.offset {
				b.vlog.Error("fold_column", "Fold must be different from offset")
			}
			_ = b.train.Add(p.FoldColumn, f)
			res++
		}
	}

	if b.algo.Supervised() && p.ResponseColumn != "" {
		r := b.train.Remove(p.ResponseColumn)
		if r == nil {
			b.vlog.Error("response_column", fmt.Sprintf("Response column '%s' not found in the training frame", p.ResponseColumn))
		} else {
			b.response = r
			_ = b.train.Add(p.ResponseColumn, r)
			res++
		}
	}

	return res
}

// filterColumns drops constant, all-missing, and (unless the algorithm
// opted in to text features) string columns, excluding the trailing
// specials count. Advisory pruning: one aggregated warning, no errors.
func (b *Builder) filterColumns(specials int, expensive bool) {
	if !b.params.IgnoreConstCols {
		return
	}
	dropStrings := true
	if su, ok := b.algo.(StringColumnUser); ok && su.UsesStringColumns() {
		dropStrings = false
	}

	var dropped []string
	for i := 0; i < b.train.NumCols()-specials; i++ {
		c := b.train.At(i)
		if c.IsConst() || c.IsBad() || (dropStrings && c.IsString()) {
			dropped = append(dropped, b.train.NameAt(i))
			b.train.RemoveAt(i)
			i-- // re-run at same index after dropping
		}
	}
	if len(dropped) > 0 {
		msg := "Dropping constant columns: " + strings.Join(dropped, ", ")
		b.vlog.Warn("training_frame", msg)
		if expensive {
			b.logger.Info(msg)
		}
	}
}

// initSupervised derives the class count from the response and runs
// the classification-only parameter checks.
func (b *Builder) initSupervised(ctx context.Context, expensive bool) {
	p := &b.params

	if b.response != nil {
		if b.response.IsCategorical() {
			b.nclass = b.response.Cardinality()
		} else {
			b.nclass = 1
		}
		if b.response.IsConst() {
			b.vlog.Error("response_column", "Response cannot be constant.")
		}
	}

	if !p.BalanceClasses {
		b.vlog.Hide("max_after_balance_size", "Balance classes is false, hide max_after_balance_size")
	} else if p.WeightsColumn != "" && b.weights != nil && !b.weights.IsBinary() {
		b.vlog.Error("balance_classes", "Balance classes and observation weights are not currently supported together.")
	}
	if p.MaxAfterBalanceSize <= 0.0 {
		b.vlog.Error("max_after_balance_size", "Max size after balancing needs to be positive, suggest 1.0f")
	}

	if b.train != nil {
		if b.train.NumCols() <= 1 {
			b.vlog.Error("training_frame", "Training data must have at least 2 features (incl. response).")
		}
		if p.ResponseColumn == "" {
			b.vlog.Error("response_column", "Response column parameter not set.")
			return
		}
		if expensive && b.response != nil && p.BalanceClasses {
			b.computeClassDistribution(ctx)
		}
	}

	if !b.IsClassifier() {
		b.vlog.Hide("balance_classes", "Balance classes is only applicable to classification problems.")
		b.vlog.Hide("class_sampling_factors", "Class sampling factors is only applicable to classification problems.")
		b.vlog.Hide("max_after_balance_size", "Max after balance size is only applicable to classification problems.")
	}
}

// initUnsupervised clears the response bookkeeping and hides the
// supervised-only fields.
func (b *Builder) initUnsupervised() {
	b.vlog.Hide("response_column", "Ignored for unsupervised methods.")
	b.vlog.Hide("balance_classes", "Ignored for unsupervised methods.")
	b.vlog.Hide("class_sampling_factors", "Ignored for unsupervised methods.")
	b.vlog.Hide("max_after_balance_size", "Ignored for unsupervised methods.")
	b.response, b.vresponse = nil, nil
	b.nclass = 1
}

// adaptValidationFrame reshapes the user-supplied validation frame to
// the training layout and binds its response column.
func (b *Builder) adaptValidationFrame(ctx context.Context, expensive bool) {
	va, err := b.st.GetFrame(ctx, b.params.Valid)
	if err != nil {
		b.vlog.Error("validation_frame", fmt.Sprintf("Missing validation frame: %s", b.params.Valid))
		return
	}

	adapted, msgs, err := frame.Adapt(b.train, va.Clone(), frame.AdaptOptions{
		WeightsColumn: b.params.WeightsColumn,
		Optional:      []string{b.params.ResponseColumn, b.params.FoldColumn},
	})
	if err != nil {
		b.vlog.Error("validation_frame", err.Error())
		return
	}
	b.valid = adapted
	b.vresponse = adapted.Column(b.params.ResponseColumn)
	if b.vresponse == nil && b.params.ResponseColumn != "" {
		b.vlog.Error("validation_frame", fmt.Sprintf("Validation frame must have a response column '%s'.", b.params.ResponseColumn))
	}
	if expensive {
		for _, m := range msgs {
			b.vlog.Info("validation_frame", m)
		}
	}
}

// checkSpecialColumnInvariant verifies that each special handle is
// bound exactly when its column name is declared. Runs only after an
// error-free expensive Init; a violation is a harness bug, reported as
// an internal parameters error rather than a panic.
func (b *Builder) checkSpecialColumnInvariant() {
	if (b.weights != nil) != b.hasWeights() {
		b.vlog.Error("parameters", "internal: weights binding inconsistent with weights_column")
	}
	if (b.offset != nil) != b.hasOffset() {
		b.vlog.Error("parameters", "internal: offset binding inconsistent with offset_column")
	}
	if (b.fold != nil) != b.hasFold() {
		b.vlog.Error("parameters", "internal: fold binding inconsistent with fold_column")
	}
}

// computeClassDistribution computes the (weight-adjusted) empirical
// class distribution of the response in one parallel pass.
func (b *Builder) computeClassDistribution(ctx context.Context) {
	if !b.IsClassifier() {
		// Regression: a single pseudo-class carrying the weighted row
		// count.
		w := 1.0
		if b.weights != nil {
			w = b.weights.Mean()
		}
		b.distribution = []float64{w * float64(b.train.NumRows())}
		b.priorClassDist = []float64{1.0}
		return
	}

	dist, err := classDistribution(ctx, b.response, b.weights, b.nclass)
	if err != nil {
		b.vlog.Error("response_column", fmt.Sprintf("Failed to compute class distribution: %v", err))
		return
	}
	b.distribution = dist
	total := 0.0
	for _, d := range dist {
		total += d
	}
	rel := make([]float64, len(dist))
	if total > 0 {
		for i, d := range dist {
			rel[i] = d / total
		}
	}
	b.priorClassDist = rel
}

// Run assembles the prepared training context for the algorithm.
// Valid only after an error-free expensive Init.
func (b *Builder) Run(p *job.Progress) *Run {
	return &Run{
		Params:         b.params.Clone(),
		Train:          b.train,
		Valid:          b.valid,
		Response:       b.response,
		VResponse:      b.vresponse,
		Weights:        b.weights,
		Offset:         b.offset,
		Fold:           b.fold,
		NClasses:       b.nclass,
		Distribution:   b.distribution,
		PriorClassDist: b.priorClassDist,
		ModelKey:       b.modelKey,
		Progress:       p,
		Store:          b.st,
		Logger:         b.logger,
	}
}

// StartTraining launches the algorithm-specific training as a job.
//
// # Description
//
// The caller must have run Init(ctx, true) with zero errors; anything
// else returns ErrInitNotRun or ErrTrainingBlocked (the latter
// carrying the rendered validation errors). On success the trained
// model is stored under its model key before the job completes.
//
// Inputs:
//
//	ctx - Parent context; canceling it cancels training.
//	p - Progress counter to tick. May be shared across jobs; pass
//	    ownProgress true when this job should tear it down.
//
// Outputs:
//
//	*job.Job - The running training job. Get returns a Model.
//	error - Non-nil when training may not start.
func (b *Builder) StartTraining(ctx context.Context, p *job.Progress, ownProgress bool) (*job.Job, error) {
	switch n := b.vlog.ErrorCount(); {
	case n < 0:
		return nil, ErrInitNotRun
	case n > 0:
		return nil, fmt.Errorf("%w:\n%s", ErrTrainingBlocked, b.vlog.ValidationErrors())
	}
	// A cheap Init can finish clean without ever loading the training
	// frame; only an expensive pass binds it.
	if b.train == nil {
		return nil, ErrInitNotRun
	}

	run := b.Run(p)
	return job.Start(ctx, b.modelKey.String(), fmt.Sprintf("%s model build", b.algo.Name()), p, b.logger,
		func(ctx context.Context) (any, error) {
			if ownProgress {
				defer p.Close()
			}
			m, err := b.algo.Train(ctx, run)
			if err != nil {
				return nil, err
			}
			blob, err := m.MarshalBinary()
			if err != nil {
				return nil, fmt.Errorf("builder: marshal model %s: %w", m.Key(), err)
			}
			if err := b.st.PutBlob(ctx, m.Key(), blob); err != nil {
				return nil, err
			}
			return m, nil
		})
}
