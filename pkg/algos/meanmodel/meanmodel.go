// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package meanmodel implements the constant baseline algorithm: the
// weighted mean of the response for regression, the weighted majority
// class for classification. It is the reference implementation of the
// builder harness (every invariant the harness enforces, this
// algorithm exercises) and the sanity baseline every real model has to
// beat.
package meanmodel

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/AleutianAI/kodiak/pkg/builder"
	"github.com/AleutianAI/kodiak/pkg/frame"
	"github.com/AleutianAI/kodiak/pkg/registry"
)

func init() {
	registry.Register("meanmodel", "Constant Mean Model", func() builder.Algorithm {
		return New()
	})
}

// progress ticks: one for the sweep, one for finalization.
const progressUnits = 2

// Algorithm is the constant-baseline trainer. Stateless; one instance
// can serve concurrent trainings.
type Algorithm struct{}

// New creates the algorithm.
func New() *Algorithm { return &Algorithm{} }

// Name returns the registry tag.
func (a *Algorithm) Name() string { return "meanmodel" }

// Supervised reports true; the baseline needs a response.
func (a *Algorithm) Supervised() bool { return true }

// ProgressUnits returns the ticks one training emits.
func (a *Algorithm) ProgressUnits() int64 { return progressUnits }

// Train computes the constant prediction in one parallel sweep over
// the response.
//
// # Description
//
// Regression accumulates the weighted response sum; classification
// accumulates per-class weight totals and picks the heaviest class.
// Rows with a missing response or zero weight contribute nothing,
// which is what makes the fold-masked cross-validation views work:
// held-out rows carry weight zero and vanish from the fit.
//
// Outputs:
//
//	builder.Model - The trained constant model.
//	error - Context cancellation or a degenerate (all-missing,
//	        zero-weight) response.
func (a *Algorithm) Train(ctx context.Context, run *builder.Run) (builder.Model, error) {
	nrows := run.Train.NumRows()
	resp := run.Response
	weights := run.Weights
	offset := run.Offset

	var mu sync.Mutex
	var wsum, wysum float64
	classW := make([]float64, run.NClasses)

	err := frame.MapChunks(ctx, nrows, func(lo, hi int) error {
		var lw, lwy float64
		lclass := make([]float64, run.NClasses)
		for i := lo; i < hi; i++ {
			if resp.IsNA(i) {
				continue
			}
			w := 1.0
			if weights != nil {
				w = weights.At(i)
			}
			if w == 0 {
				continue
			}
			y := resp.At(i)
			lw += w
			if run.IsClassifier() {
				lclass[int(y)] += w
			} else {
				// The offset shifts the fitted mean, not class counts.
				if offset != nil {
					y -= offset.At(i)
				}
				lwy += w * y
			}
		}
		mu.Lock()
		wsum += lw
		wysum += lwy
		for c := range lclass {
			classW[c] += lclass[c]
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	run.Progress.Tick(1)

	if wsum == 0 {
		return nil, fmt.Errorf("meanmodel: no usable rows (all responses missing or zero-weighted)")
	}

	var pred float64
	if run.IsClassifier() {
		best := 0
		for c := 1; c < len(classW); c++ {
			if classW[c] > classW[best] {
				best = c
			}
		}
		pred = float64(best)
	} else {
		pred = wysum / wsum
	}

	m := &Model{
		key:        run.ModelKey,
		output:     &builder.Output{},
		Prediction: pred,
		NClasses:   run.NClasses,
		Response:   run.Params.ResponseColumn,
		WeightsCol: run.Params.WeightsColumn,
		Schema:     takeSchema(run.Train),
	}
	run.Progress.Tick(1)

	run.Logger.Debug("meanmodel trained",
		slog.Float64("prediction", pred),
		slog.Float64("weight_sum", wsum),
		slog.Int("nclasses", run.NClasses),
	)
	return m, nil
}

// schemaColumn is the serialized shape of one training column: enough
// to rebuild a zero-row frame for scoring-time adaptation.
type schemaColumn struct {
	Name   string
	Type   frame.Type
	Domain []string
}

func takeSchema(f *frame.Frame) []schemaColumn {
	out := make([]schemaColumn, f.NumCols())
	for i := range out {
		c := f.At(i)
		out[i] = schemaColumn{Name: f.NameAt(i), Type: c.Type(), Domain: c.Domain()}
	}
	return out
}

// schemaFrame rebuilds a zero-row frame with the training layout. Only
// names, types, and categorical domains matter for adaptation.
func schemaFrame(schema []schemaColumn) *frame.Frame {
	names := make([]string, len(schema))
	cols := make([]*frame.Column, len(schema))
	for i, s := range schema {
		names[i] = s.Name
		switch s.Type {
		case frame.Categorical:
			cols[i] = frame.NewCategorical(nil, s.Domain)
		case frame.String:
			cols[i] = frame.NewString(nil)
		default:
			cols[i] = frame.NewNumeric(nil)
		}
	}
	f, err := frame.New(names, cols)
	if err != nil {
		// Schema came from a valid frame; rebuilding cannot clash.
		panic(fmt.Sprintf("meanmodel: rebuild schema: %v", err))
	}
	return f
}
