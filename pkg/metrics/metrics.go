// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package metrics accumulates scoring statistics for trained models.
//
// A Builder is filled row by row while scoring a frame, then turned
// into an immutable ModelMetrics. Builders support Reduce, a
// commutative and associative merge, so per-fold builders from a
// cross-validation run can be combined in any order into one
// aggregated result.
package metrics

import (
	"errors"
	"math"
)

// Kind distinguishes the metric family.
type Kind int

const (
	// Regression metrics: MSE, RMSE, MAE over weighted residuals.
	Regression Kind = iota

	// Classification metrics: weighted misclassification rate.
	Classification
)

// ErrIncompatible is returned when reducing builders of different
// kinds or class counts.
var ErrIncompatible = errors.New("metrics: incompatible metric builders")

// ModelMetrics is the immutable scoring summary attached to a model's
// output. Fields outside the metric family are zero.
type ModelMetrics struct {
	// Description labels the summary, e.g.
	// "5-fold cross-validation on training data".
	Description string

	// Kind is the metric family.
	Kind Kind

	// NObs is the weighted observation count.
	NObs float64

	// MSE is the weighted mean squared error (regression).
	MSE float64

	// RMSE is sqrt(MSE) (regression).
	RMSE float64

	// MAE is the weighted mean absolute error (regression).
	MAE float64

	// ErrorRate is the weighted misclassification rate (classification).
	ErrorRate float64
}

// Builder accumulates per-row scoring statistics.
//
// Update is not safe for concurrent callers; score one frame per
// builder and Reduce afterwards.
type Builder interface {
	// Update folds one scored row into the accumulator. Rows with a
	// missing actual value or zero weight contribute nothing.
	Update(pred, actual, weight float64)

	// Reduce merges other into this builder. Order-independent:
	// a.Reduce(b) and b.Reduce(a) yield equal accumulators.
	Reduce(other Builder) error

	// Make finalizes the accumulator into an immutable summary.
	Make(description string) *ModelMetrics
}

// NewBuilder creates an empty builder of the given kind.
func NewBuilder(kind Kind) Builder {
	if kind == Classification {
		return &classificationBuilder{}
	}
	return &regressionBuilder{}
}

type regressionBuilder struct {
	wsum   float64
	sumSqr float64
	sumAbs float64
}

func (b *regressionBuilder) Update(pred, actual, weight float64) {
	if weight == 0 || math.IsNaN(actual) || math.IsNaN(pred) {
		return
	}
	d := pred - actual
	b.wsum += weight
	b.sumSqr += weight * d * d
	b.sumAbs += weight * math.Abs(d)
}

func (b *regressionBuilder) Reduce(other Builder) error {
	o, ok := other.(*regressionBuilder)
	if !ok {
		return ErrIncompatible
	}
	b.wsum += o.wsum
	b.sumSqr += o.sumSqr
	b.sumAbs += o.sumAbs
	return nil
}

func (b *regressionBuilder) Make(description string) *ModelMetrics {
	m := &ModelMetrics{Description: description, Kind: Regression, NObs: b.wsum}
	if b.wsum > 0 {
		m.MSE = b.sumSqr / b.wsum
		m.RMSE = math.Sqrt(m.MSE)
		m.MAE = b.sumAbs / b.wsum
	}
	return m
}

type classificationBuilder struct {
	wsum float64
	werr float64
}

func (b *classificationBuilder) Update(pred, actual, weight float64) {
	if weight == 0 || math.IsNaN(actual) || math.IsNaN(pred) {
		return
	}
	b.wsum += weight
	if int(pred) != int(actual) {
		b.werr += weight
	}
}

func (b *classificationBuilder) Reduce(other Builder) error {
	o, ok := other.(*classificationBuilder)
	if !ok {
		return ErrIncompatible
	}
	b.wsum += o.wsum
	b.werr += o.werr
	return nil
}

func (b *classificationBuilder) Make(description string) *ModelMetrics {
	m := &ModelMetrics{Description: description, Kind: Classification, NObs: b.wsum}
	if b.wsum > 0 {
		m.ErrorRate = b.werr / b.wsum
	}
	return m
}
