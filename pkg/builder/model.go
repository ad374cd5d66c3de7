// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package builder

import (
	"context"
	"encoding"
	"log/slog"

	"github.com/AleutianAI/kodiak/pkg/frame"
	"github.com/AleutianAI/kodiak/pkg/job"
	"github.com/AleutianAI/kodiak/pkg/metrics"
	"github.com/AleutianAI/kodiak/pkg/store"
)

// Output holds what training publishes about a model. It is mutated
// once at the end of cross-validation and is immutable afterwards.
type Output struct {
	// CrossValidationModels lists the per-fold model keys, in fold
	// order. Nil when the model was trained without cross-validation.
	CrossValidationModels []store.Key

	// CrossValidationPredictions lists the per-fold holdout
	// prediction keys. Entries are empty unless
	// keep_cross_validation_predictions was set.
	CrossValidationPredictions []store.Key

	// CrossValidationMetrics is the aggregated N-fold scoring
	// summary.
	CrossValidationMetrics *metrics.ModelMetrics
}

// Model is a trained artifact.
//
// Models marshal to bytes for the store (encoding.BinaryMarshaler) and
// expose the scoring surface the cross-validation orchestrator needs.
type Model interface {
	encoding.BinaryMarshaler

	// Key is the model's store key.
	Key() store.Key

	// Output is the model's mutable-until-published output block.
	Output() *Output

	// AdaptForScoring reshapes a frame to the model's training
	// layout, returning the adapted frame and adaptation notes.
	AdaptForScoring(f *frame.Frame) (*frame.Frame, []string, error)

	// ScoreMetrics scores an adapted frame into a metric builder.
	ScoreMetrics(f *frame.Frame) (metrics.Builder, error)

	// MakeModelMetrics finalizes a metric builder into the model's
	// metrics object with the given description.
	MakeModelMetrics(mb metrics.Builder, description string) *metrics.ModelMetrics

	// Predict returns one prediction per row of an adapted frame.
	Predict(f *frame.Frame) (*frame.Column, error)
}

// Run is the prepared training context handed to an Algorithm. It
// carries the outcome of Init: validated parameters, prepared frames,
// bound special columns, and the class bookkeeping.
type Run struct {
	// Params is the validated parameter set. Treat as read-only.
	Params Parameters

	// Train is the prepared training frame (ignored/bad columns
	// dropped, special columns moved to the end).
	Train *frame.Frame

	// Valid is the adapted validation frame, or nil.
	Valid *frame.Frame

	// Response, VResponse, Weights, Offset, Fold are the bound
	// special column handles; nil when not declared.
	Response  *frame.Column
	VResponse *frame.Column
	Weights   *frame.Column
	Offset    *frame.Column
	Fold      *frame.Column

	// NClasses is 1 for regression, >= 2 for classification.
	NClasses int

	// Distribution and PriorClassDist carry the (weighted) empirical
	// class distribution when class balancing requested it.
	Distribution   []float64
	PriorClassDist []float64

	// ModelKey is the destination key for the trained model.
	ModelKey store.Key

	// Progress receives ProgressUnits ticks as training advances.
	Progress *job.Progress

	// Store is the artifact store for anything the algorithm
	// persists beyond the model itself.
	Store store.Store

	// Logger is the builder's logger.
	Logger *slog.Logger
}

// IsClassifier reports whether the run trains a classifier.
func (r *Run) IsClassifier() bool { return r.NClasses > 1 }

// Algorithm is the capability set an algorithm variant supplies to the
// generic builder; there is no inheritance between the harness and the
// algorithms.
type Algorithm interface {
	// Name is the registry tag, e.g. "meanmodel".
	Name() string

	// Supervised reports whether the algorithm needs a response.
	Supervised() bool

	// ProgressUnits is the number of progress ticks one training of
	// this algorithm emits.
	ProgressUnits() int64

	// Train builds one model from a prepared run. Blocking; the
	// harness wraps it in a job. Implementations must honor ctx
	// cancellation and tick run.Progress as they advance.
	Train(ctx context.Context, run *Run) (Model, error)
}

// CVSplitModifier is an optional algorithm capability: adjust the
// cloned parameters of one cross-validation split (for example,
// disable early stopping tied to per-fold noise). The harness has
// already forced Nfolds to 0 on the clone when this is called.
type CVSplitModifier interface {
	ModifyParamsForCVSplit(p *Parameters, fold, nfolds int)
}

// CVMainModifier is an optional algorithm capability: adjust the main
// model's parameters after all folds trained.
type CVMainModifier interface {
	ModifyParamsForCVMain(p *Parameters, nfolds int)
}

// StringColumnUser is an optional algorithm capability: keep raw
// string columns in the feature set instead of pruning them.
type StringColumnUser interface {
	UsesStringColumns() bool
}
