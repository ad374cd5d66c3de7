// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package meanmodel

import (
	"bytes"
	"encoding/gob"
	"fmt"

	"github.com/AleutianAI/kodiak/pkg/builder"
	"github.com/AleutianAI/kodiak/pkg/frame"
	"github.com/AleutianAI/kodiak/pkg/metrics"
	"github.com/AleutianAI/kodiak/pkg/store"
)

// Model is a trained constant predictor.
//
// The exported fields are the gob payload; key and output travel in a
// separate envelope so the zero-value rules of gob do not bite when a
// model round-trips through the store.
type Model struct {
	key    store.Key
	output *builder.Output

	// Prediction is the constant emitted for every row: the weighted
	// response mean for regression, the majority class index for
	// classification.
	Prediction float64

	// NClasses is 1 for regression, >= 2 for classification.
	NClasses int

	// Response and WeightsCol name the special columns the model was
	// trained with; used to locate them in scoring frames.
	Response   string
	WeightsCol string

	// Schema is the training frame layout for scoring-time adaptation.
	Schema []schemaColumn
}

// envelope is the serialized form of a model.
type envelope struct {
	Key        store.Key
	Output     builder.Output
	Prediction float64
	NClasses   int
	Response   string
	WeightsCol string
	Schema     []schemaColumn
}

// Key returns the model's store key.
func (m *Model) Key() store.Key { return m.key }

// Output returns the mutable training output block.
func (m *Model) Output() *builder.Output { return m.output }

// IsClassifier reports whether the model predicts a class.
func (m *Model) IsClassifier() bool { return m.NClasses > 1 }

// MarshalBinary gob-encodes the model for the store.
func (m *Model) MarshalBinary() ([]byte, error) {
	var buf bytes.Buffer
	env := envelope{
		Key:        m.key,
		Output:     *m.output,
		Prediction: m.Prediction,
		NClasses:   m.NClasses,
		Response:   m.Response,
		WeightsCol: m.WeightsCol,
		Schema:     m.Schema,
	}
	if err := gob.NewEncoder(&buf).Encode(env); err != nil {
		return nil, fmt.Errorf("meanmodel: encode: %w", err)
	}
	return buf.Bytes(), nil
}

// UnmarshalModel rebuilds a model from its stored bytes.
func UnmarshalModel(blob []byte) (*Model, error) {
	var env envelope
	if err := gob.NewDecoder(bytes.NewReader(blob)).Decode(&env); err != nil {
		return nil, fmt.Errorf("meanmodel: decode: %w", err)
	}
	return &Model{
		key:        env.Key,
		output:     &env.Output,
		Prediction: env.Prediction,
		NClasses:   env.NClasses,
		Response:   env.Response,
		WeightsCol: env.WeightsCol,
		Schema:     env.Schema,
	}, nil
}

// AdaptForScoring reshapes a frame to the training layout: training
// column order, categoricals remapped onto the training domain, a
// uniform weights column injected when the trained one is absent. The
// response is optional so unlabeled frames can still be scored.
func (m *Model) AdaptForScoring(f *frame.Frame) (*frame.Frame, []string, error) {
	return frame.Adapt(schemaFrame(m.Schema), f, frame.AdaptOptions{
		WeightsColumn: m.WeightsCol,
		Optional:      []string{m.Response},
	})
}

// ScoreMetrics scores an adapted frame into a fresh metric builder.
// The frame must carry the response column.
func (m *Model) ScoreMetrics(f *frame.Frame) (metrics.Builder, error) {
	resp := f.Column(m.Response)
	if resp == nil {
		return nil, fmt.Errorf("meanmodel: scoring frame is missing response column %q", m.Response)
	}
	var weights *frame.Column
	if m.WeightsCol != "" {
		weights = f.Column(m.WeightsCol)
	}

	kind := metrics.Regression
	if m.IsClassifier() {
		kind = metrics.Classification
	}
	mb := metrics.NewBuilder(kind)
	for i := 0; i < f.NumRows(); i++ {
		w := 1.0
		if weights != nil {
			w = weights.At(i)
		}
		mb.Update(m.Prediction, resp.At(i), w)
	}
	return mb, nil
}

// MakeModelMetrics finalizes a metric builder into the model's metric
// family.
func (m *Model) MakeModelMetrics(mb metrics.Builder, description string) *metrics.ModelMetrics {
	return mb.Make(description)
}

// Predict emits the constant prediction for every row of an adapted
// frame.
func (m *Model) Predict(f *frame.Frame) (*frame.Column, error) {
	return frame.MakeConst(f.NumRows(), m.Prediction), nil
}
