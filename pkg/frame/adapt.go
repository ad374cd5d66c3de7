// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package frame

import (
	"errors"
	"fmt"
	"math"
	"slices"
)

// ErrMissingColumn is returned by Adapt when the frame being adapted
// lacks a required training column.
var ErrMissingColumn = errors.New("frame: missing column")

// ErrTypeMismatch is returned by Adapt when a shared column name
// resolves to incompatible types.
var ErrTypeMismatch = errors.New("frame: column type mismatch")

// AdaptOptions tunes Adapt for the frame's role.
type AdaptOptions struct {
	// WeightsColumn, when non-empty and absent from the adapted
	// frame, is injected as a constant 1.0 column instead of failing.
	WeightsColumn string

	// Optional lists training columns whose absence is reported but
	// tolerated (the scoring response, for example).
	Optional []string
}

// Adapt reshapes test to be column-compatible with train.
//
// # Description
//
// The result holds train's columns in train's order, backed by test's
// handles wherever they are directly compatible. Categorical columns
// are remapped onto the training domain; levels unseen during training
// become missing cells. Columns present only in test are dropped.
//
// Adapt never mutates either input frame.
//
// Outputs:
//
//	*Frame - The adapted frame (nil on error).
//	[]string - Human-readable adaptation notes (drops, remaps, fills).
//	error - ErrMissingColumn or ErrTypeMismatch wrapped with the
//	        offending column name.
func Adapt(train, test *Frame, opts AdaptOptions) (*Frame, []string, error) {
	adapted := &Frame{}
	var msgs []string

	for _, name := range train.Names() {
		tc := train.Column(name)
		vc := test.Column(name)

		if vc == nil {
			switch {
			case name == opts.WeightsColumn:
				vc = MakeConst(test.NumRows(), 1.0)
				msgs = append(msgs, fmt.Sprintf("column %q not present, assuming uniform weights of 1.0", name))
			case slices.Contains(opts.Optional, name):
				msgs = append(msgs, fmt.Sprintf("column %q not present, skipped", name))
				continue
			default:
				return nil, msgs, fmt.Errorf("%w: %q", ErrMissingColumn, name)
			}
		} else if tc.IsCategorical() {
			if !vc.IsCategorical() {
				return nil, msgs, fmt.Errorf("%w: %q is %s, expected categorical", ErrTypeMismatch, name, vc.Type())
			}
			if !slices.Equal(tc.Domain(), vc.Domain()) {
				var unseen int
				vc, unseen = remapDomain(vc, tc.Domain())
				msgs = append(msgs, fmt.Sprintf("column %q remapped to training domain, %d cells outside the domain set to missing", name, unseen))
			}
		} else if tc.Type() != vc.Type() {
			return nil, msgs, fmt.Errorf("%w: %q is %s, expected %s", ErrTypeMismatch, name, vc.Type(), tc.Type())
		}

		if err := adapted.Add(name, vc); err != nil {
			return nil, msgs, err
		}
	}

	for _, name := range test.Names() {
		if !train.Has(name) {
			msgs = append(msgs, fmt.Sprintf("dropping column %q not used during training", name))
		}
	}

	return adapted, msgs, nil
}

// remapDomain rewrites a categorical column's level indexes onto a new
// domain, returning the rewritten column and the count of cells whose
// level does not exist in the new domain.
func remapDomain(c *Column, domain []string) (*Column, int) {
	index := make(map[string]int, len(domain))
	for i, s := range domain {
		index[s] = i
	}
	levels := make([]float64, c.Len())
	unseen := 0
	for i := range levels {
		lv := c.CatAt(i)
		if lv == "" {
			levels[i] = math.NaN()
			continue
		}
		j, ok := index[lv]
		if !ok {
			levels[i] = math.NaN()
			unseen++
			continue
		}
		levels[i] = float64(j)
	}
	out := &Column{typ: Categorical, data: levels, domain: domain}
	out.dirty.Store(true)
	return out, unseen
}
