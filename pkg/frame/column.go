// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package frame provides the columnar dataset model shared by the
// model-builder core: frames (ordered name -> column mappings) and
// column handles with cached aggregate statistics.
//
// A column handle may be shared by many frames at once. Training and
// validation views of the same dataset reference identical handles and
// never copy cell data; the handle's lifetime ends when no frame
// references it. The core treats shared handles as read-only; the only
// sanctioned mutation is the explicit masked overwrite used to build
// per-fold weight vectors during cross-validation.
package frame

import (
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

// Type identifies the cell type of a column.
type Type int

const (
	// Numeric columns hold float64 cells; NaN marks a missing value.
	Numeric Type = iota

	// Categorical columns hold level indexes into a string domain.
	Categorical

	// String columns hold free-form text cells.
	String
)

// String returns the lowercase name of the type.
func (t Type) String() string {
	switch t {
	case Numeric:
		return "numeric"
	case Categorical:
		return "categorical"
	case String:
		return "string"
	default:
		return "unknown"
	}
}

// Column is a columnar vector of numeric, categorical, or string cells.
//
// Numeric and categorical cells live in a float64 slice (categorical
// cells store the level index); NaN marks a missing value in both.
// String cells live in a parallel string slice with "" as missing.
//
// Aggregate statistics (min/max/mean/missing count) are computed
// lazily and cached; any Set invalidates the cache. Concurrent readers
// are safe. Concurrent writers must target disjoint row ranges, which
// is how the chunked map in this package partitions work.
type Column struct {
	typ    Type
	data   []float64
	strs   []string
	domain []string

	dirty atomic.Bool
	mu    sync.Mutex
	roll  *rollup
}

// rollup caches single-pass aggregate statistics.
type rollup struct {
	min, max, mean float64
	naCount        int
	isInt          bool
}

// NewNumeric creates a numeric column from the given cells.
// The slice is owned by the column afterwards.
func NewNumeric(cells []float64) *Column {
	c := &Column{typ: Numeric, data: cells}
	c.dirty.Store(true)
	return c
}

// NewCategorical creates a categorical column from level indexes and a
// domain. Indexes outside [0, len(domain)) are treated as missing.
func NewCategorical(levels []int, domain []string) *Column {
	data := make([]float64, len(levels))
	for i, l := range levels {
		if l < 0 || l >= len(domain) {
			data[i] = math.NaN()
		} else {
			data[i] = float64(l)
		}
	}
	c := &Column{typ: Categorical, data: data, domain: domain}
	c.dirty.Store(true)
	return c
}

// NewCategoricalFromStrings builds a categorical column from raw string
// cells, deriving the domain as the sorted set of distinct non-empty
// values. Empty cells become missing.
func NewCategoricalFromStrings(cells []string) *Column {
	seen := map[string]struct{}{}
	for _, s := range cells {
		if s != "" {
			seen[s] = struct{}{}
		}
	}
	domain := make([]string, 0, len(seen))
	for s := range seen {
		domain = append(domain, s)
	}
	sort.Strings(domain)
	index := make(map[string]int, len(domain))
	for i, s := range domain {
		index[s] = i
	}
	data := make([]float64, len(cells))
	for i, s := range cells {
		if s == "" {
			data[i] = math.NaN()
		} else {
			data[i] = float64(index[s])
		}
	}
	c := &Column{typ: Categorical, data: data, domain: domain}
	c.dirty.Store(true)
	return c
}

// NewString creates a string column. Empty cells are missing.
func NewString(cells []string) *Column {
	c := &Column{typ: String, strs: cells}
	c.dirty.Store(true)
	return c
}

// MakeZero creates a numeric column of n zeros.
func MakeZero(n int) *Column {
	return NewNumeric(make([]float64, n))
}

// MakeConst creates a numeric column of n copies of v.
func MakeConst(n int, v float64) *Column {
	cells := make([]float64, n)
	for i := range cells {
		cells[i] = v
	}
	return NewNumeric(cells)
}

// Len returns the number of cells.
func (c *Column) Len() int {
	if c.typ == String {
		return len(c.strs)
	}
	return len(c.data)
}

// Type returns the cell type.
func (c *Column) Type() Type { return c.typ }

// IsNumeric reports whether the column holds numeric cells.
func (c *Column) IsNumeric() bool { return c.typ == Numeric }

// IsCategorical reports whether the column holds categorical cells.
func (c *Column) IsCategorical() bool { return c.typ == Categorical }

// IsString reports whether the column holds string cells.
func (c *Column) IsString() bool { return c.typ == String }

// Domain returns the categorical domain (nil for other types). The
// returned slice must not be modified.
func (c *Column) Domain() []string { return c.domain }

// At returns the numeric value of cell i (the level index for
// categorical columns). NaN for missing cells and for string columns.
func (c *Column) At(i int) float64 {
	if c.typ == String {
		return math.NaN()
	}
	return c.data[i]
}

// StrAt returns the string cell i; "" for non-string columns.
func (c *Column) StrAt(i int) string {
	if c.typ != String {
		return ""
	}
	return c.strs[i]
}

// CatAt returns the categorical level of cell i, or "" when missing or
// not categorical.
func (c *Column) CatAt(i int) string {
	if c.typ != Categorical {
		return ""
	}
	v := c.data[i]
	if math.IsNaN(v) {
		return ""
	}
	return c.domain[int(v)]
}

// IsNA reports whether cell i is missing.
func (c *Column) IsNA(i int) bool {
	if c.typ == String {
		return c.strs[i] == ""
	}
	return math.IsNaN(c.data[i])
}

// Set overwrites numeric cell i and invalidates cached statistics.
//
// Concurrent callers must write disjoint indexes. Panics on string
// columns; the core never rewrites text cells.
func (c *Column) Set(i int, v float64) {
	if c.typ == String {
		panic("frame: Set on string column")
	}
	c.data[i] = v
	c.dirty.Store(true)
}

// stats returns the cached rollup, recomputing it when stale.
func (c *Column) stats() rollup {
	if !c.dirty.Load() {
		c.mu.Lock()
		r := c.roll
		c.mu.Unlock()
		if r != nil {
			return *r
		}
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.dirty.Load() && c.roll != nil {
		return *c.roll
	}
	r := rollup{min: math.Inf(1), max: math.Inf(-1), isInt: true}
	if c.typ == String {
		for _, s := range c.strs {
			if s == "" {
				r.naCount++
			}
		}
		r.min, r.max, r.isInt = math.NaN(), math.NaN(), false
	} else {
		var sum float64
		var n int
		for _, v := range c.data {
			if math.IsNaN(v) {
				r.naCount++
				continue
			}
			if v < r.min {
				r.min = v
			}
			if v > r.max {
				r.max = v
			}
			if v != math.Trunc(v) {
				r.isInt = false
			}
			sum += v
			n++
		}
		if n == 0 {
			r.min, r.max, r.mean = math.NaN(), math.NaN(), math.NaN()
			r.isInt = false
		} else {
			r.mean = sum / float64(n)
		}
	}
	c.roll = &r
	c.dirty.Store(false)
	return r
}

// Min returns the minimum non-missing value (NaN if none).
func (c *Column) Min() float64 { return c.stats().min }

// Max returns the maximum non-missing value (NaN if none).
func (c *Column) Max() float64 { return c.stats().max }

// Mean returns the mean of the non-missing values (NaN if none).
func (c *Column) Mean() float64 { return c.stats().mean }

// NACount returns the number of missing cells.
func (c *Column) NACount() int { return c.stats().naCount }

// IsInt reports whether every non-missing value is integral.
func (c *Column) IsInt() bool { return c.stats().isInt }

// IsConst reports whether all non-missing values are equal. Columns
// with no non-missing values report false (see IsBad).
func (c *Column) IsConst() bool {
	r := c.stats()
	if c.typ == String || r.naCount == c.Len() {
		return false
	}
	return r.min == r.max
}

// IsBad reports whether every cell is missing.
func (c *Column) IsBad() bool {
	return c.NACount() == c.Len() && c.Len() > 0
}

// IsBinary reports whether every non-missing value is 0 or 1.
func (c *Column) IsBinary() bool {
	r := c.stats()
	if c.typ == String || r.naCount == c.Len() {
		return false
	}
	return r.isInt && r.min >= 0 && r.max <= 1
}

// Cardinality returns the domain size for categorical columns and -1
// otherwise, mirroring the convention that only categoricals have a
// class count.
func (c *Column) Cardinality() int {
	if c.typ != Categorical {
		return -1
	}
	return len(c.domain)
}

// DistinctInts returns the sorted distinct integral values of a column,
// skipping missing cells. Used to derive the fold count from a fold
// column; counting distinct values (not max-min+1) keeps gapped fold
// numberings correct.
func (c *Column) DistinctInts() []int64 {
	seen := map[int64]struct{}{}
	for _, v := range c.data {
		if math.IsNaN(v) {
			continue
		}
		seen[int64(v)] = struct{}{}
	}
	out := make([]int64, 0, len(seen))
	for v := range seen {
		out = append(out, v)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// MakeZero creates a numeric zero column with the same length as c.
func (c *Column) MakeZero() *Column { return MakeZero(c.Len()) }

// MakeConst creates a numeric constant column with the same length as c.
func (c *Column) MakeConst(v float64) *Column { return MakeConst(c.Len(), v) }

// describe renders a short debugging description.
func (c *Column) describe() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s[%d]", c.typ, c.Len())
	if c.typ == Categorical {
		fmt.Fprintf(&b, " levels=%d", len(c.domain))
	}
	return b.String()
}
