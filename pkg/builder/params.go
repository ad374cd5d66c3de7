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
	"errors"
	"fmt"
	"reflect"
	"slices"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/AleutianAI/kodiak/pkg/store"
)

// FoldScheme selects how rows are assigned to cross-validation folds
// when no fold column is supplied.
type FoldScheme int

const (
	// FoldRandom assigns fold = |hash(row, seed)| mod N.
	// Deterministic given the same seed and row ordering.
	FoldRandom FoldScheme = iota

	// FoldModulo assigns fold = row mod N. Deterministic regardless
	// of seed.
	FoldModulo
)

// String returns the scheme name.
func (s FoldScheme) String() string {
	switch s {
	case FoldRandom:
		return "Random"
	case FoldModulo:
		return "Modulo"
	default:
		return "Unknown"
	}
}

// AutoSeed asks the orchestrator to draw a process-random seed and log
// it for reproducibility.
const AutoSeed int64 = -1

// Parameters holds everything required to build a model: dataset
// references, column roles, and cross-validation settings.
//
// Parameters are immutable at validation time: a builder copies the
// value it was constructed with, and every cross-validation split gets
// its own independently constructed copy (see Clone). Structural
// bounds are declared as validator tags and checked during Init before
// the semantic checks run; the `param` tag carries the field name used
// in validation messages.
type Parameters struct {
	// ModelID names the resulting model. Empty mints a fresh key.
	ModelID store.Key `param:"model_id"`

	// Train references the training frame in the store.
	Train store.Key `param:"training_frame"`

	// Valid optionally references a validation frame.
	Valid store.Key `param:"validation_frame"`

	// ResponseColumn names the response for supervised algorithms.
	ResponseColumn string `param:"response_column"`

	// WeightsColumn optionally names a per-row observation weight
	// column. Weights must be numeric, non-negative, non-missing, and
	// not all zero.
	WeightsColumn string `param:"weights_column"`

	// OffsetColumn optionally names a numeric per-row offset column.
	OffsetColumn string `param:"offset_column"`

	// FoldColumn optionally names an integer column assigning each
	// row to a cross-validation fold. Mutually exclusive with Nfolds.
	FoldColumn string `param:"fold_column"`

	// IgnoredColumns are dropped from the feature set before any
	// other preparation.
	IgnoredColumns []string `param:"ignored_columns"`

	// IgnoreConstCols enables dropping constant/bad columns.
	IgnoreConstCols bool `param:"ignore_const_cols"`

	// Nfolds requests N-fold cross-validation when > 1. Must be 0 or
	// greater than 1, and at most the training row count.
	Nfolds int `param:"nfolds" validate:"gte=0"`

	// FoldAssignment picks the fold assignment scheme when Nfolds is
	// used.
	FoldAssignment FoldScheme `param:"fold_assignment" validate:"gte=0,lte=1"`

	// KeepCVSplits retains per-fold weight vectors and frame views
	// after scoring.
	KeepCVSplits bool `param:"keep_cross_validation_splits"`

	// KeepCVPredictions persists per-row holdout predictions for each
	// fold under a derived key.
	KeepCVPredictions bool `param:"keep_cross_validation_predictions"`

	// BalanceClasses enables over/under-sampling of minority classes;
	// only meaningful for classifiers.
	BalanceClasses bool `param:"balance_classes"`

	// ClassSamplingFactors are optional per-class sampling ratios.
	ClassSamplingFactors []float64 `param:"class_sampling_factors" validate:"dive,gte=0"`

	// MaxAfterBalanceSize bounds the relative size of the balanced
	// frame. Must be positive.
	MaxAfterBalanceSize float64 `param:"max_after_balance_size"`

	// Seed drives fold assignment for the Random scheme. AutoSeed
	// draws and logs a process-random value.
	Seed int64 `param:"seed"`
}

// DefaultParameters returns the baseline parameter set for a training
// frame: no cross-validation, constant-column pruning on, auto seed.
func DefaultParameters(train store.Key) Parameters {
	return Parameters{
		Train:               train,
		IgnoreConstCols:     true,
		MaxAfterBalanceSize: 5.0,
		Seed:                AutoSeed,
	}
}

// Clone returns a deep copy; slice fields are not shared. Each
// cross-validation split is constructed from a Clone and never mutated
// after construction.
func (p Parameters) Clone() Parameters {
	out := p
	out.IgnoredColumns = slices.Clone(p.IgnoredColumns)
	out.ClassSamplingFactors = slices.Clone(p.ClassSamplingFactors)
	return out
}

// paramValidate checks the declarative bounds on Parameters.
var paramValidate *validator.Validate

func init() {
	paramValidate = validator.New()

	// Report fields under their param tag name so validation messages
	// match the REST field names.
	paramValidate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := fld.Tag.Get("param")
		if name == "" {
			return fld.Name
		}
		return name
	})
}

// checkStructural runs the validator tags and funnels any findings
// into the validation log as field errors.
func checkStructural(p Parameters, vlog *ValidationLog) {
	err := paramValidate.Struct(p)
	if err == nil {
		return
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		vlog.Error("parameters", err.Error())
		return
	}
	for _, fe := range verrs {
		field := fe.Field()
		// Strip the element index from dive failures.
		if i := strings.IndexByte(field, '['); i > 0 {
			field = field[:i]
		}
		vlog.Error(field, fmt.Sprintf("Value %v violates constraint %q", fe.Value(), fe.Tag()))
	}
}
