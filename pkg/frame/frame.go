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
	"slices"
)

// Frame is an ordered mapping from column name to column handle.
//
// Invariants:
//   - column names are unique within a frame
//   - all columns have the same length
//
// Frames are cheap to clone: a clone copies the name/handle slices and
// shares every underlying column with the original. Frame methods are
// not safe for concurrent mutation; each builder owns its working copy.
type Frame struct {
	names []string
	cols  []*Column
}

var (
	// ErrDuplicateColumn is returned when adding a column whose name
	// already exists in the frame.
	ErrDuplicateColumn = errors.New("frame: duplicate column name")

	// ErrLengthMismatch is returned when a column's length differs
	// from the frame's row count.
	ErrLengthMismatch = errors.New("frame: column length mismatch")
)

// New creates a frame from parallel name and column slices.
//
// Outputs:
//
//	*Frame - The assembled frame.
//	error - Non-nil on duplicate names, slice length mismatch, or
//	        ragged column lengths.
func New(names []string, cols []*Column) (*Frame, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("frame: %d names for %d columns", len(names), len(cols))
	}
	f := &Frame{}
	for i := range names {
		if err := f.Add(names[i], cols[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Clone returns a layout copy sharing all column handles.
//
// This is the working-copy operation used by the parameter
// initializer: the clone's column order can be rearranged and columns
// dropped without touching the caller's frame or any cell data.
func (f *Frame) Clone() *Frame {
	return &Frame{
		names: slices.Clone(f.names),
		cols:  slices.Clone(f.cols),
	}
}

// NumCols returns the number of columns.
func (f *Frame) NumCols() int { return len(f.cols) }

// NumRows returns the number of rows (0 for an empty frame).
func (f *Frame) NumRows() int {
	if len(f.cols) == 0 {
		return 0
	}
	return f.cols[0].Len()
}

// Names returns the column names in order. The returned slice must not
// be modified.
func (f *Frame) Names() []string { return f.names }

// Has reports whether a column with the given name exists.
func (f *Frame) Has(name string) bool {
	return slices.Index(f.names, name) >= 0
}

// Column returns the handle for the named column, or nil.
func (f *Frame) Column(name string) *Column {
	i := slices.Index(f.names, name)
	if i < 0 {
		return nil
	}
	return f.cols[i]
}

// At returns the i-th column handle.
func (f *Frame) At(i int) *Column { return f.cols[i] }

// NameAt returns the i-th column name.
func (f *Frame) NameAt(i int) string { return f.names[i] }

// AnyColumn returns an arbitrary column handle (nil for an empty
// frame). Handy for deriving same-length zero/constant columns.
func (f *Frame) AnyColumn() *Column {
	if len(f.cols) == 0 {
		return nil
	}
	return f.cols[0]
}

// Add appends a column at the end of the frame.
func (f *Frame) Add(name string, col *Column) error {
	if f.Has(name) {
		return fmt.Errorf("%w: %q", ErrDuplicateColumn, name)
	}
	if len(f.cols) > 0 && col.Len() != f.NumRows() {
		return fmt.Errorf("%w: column %q has %d rows, frame has %d",
			ErrLengthMismatch, name, col.Len(), f.NumRows())
	}
	f.names = append(f.names, name)
	f.cols = append(f.cols, col)
	return nil
}

// Remove detaches the named column and returns its handle, or nil when
// the column does not exist. The frame's column order shifts left.
func (f *Frame) Remove(name string) *Column {
	i := slices.Index(f.names, name)
	if i < 0 {
		return nil
	}
	return f.RemoveAt(i)
}

// RemoveAt detaches the i-th column and returns its handle.
func (f *Frame) RemoveAt(i int) *Column {
	c := f.cols[i]
	f.names = slices.Delete(f.names, i, i+1)
	f.cols = slices.Delete(f.cols, i, i+1)
	return c
}

// RemoveAll detaches every listed column that exists; missing names
// are ignored. Returns the number removed.
func (f *Frame) RemoveAll(names []string) int {
	n := 0
	for _, name := range names {
		if f.Remove(name) != nil {
			n++
		}
	}
	return n
}

// MakeZero creates a numeric zero column with this frame's row count.
func (f *Frame) MakeZero() *Column { return MakeZero(f.NumRows()) }

// MakeConst creates a numeric constant column with this frame's row count.
func (f *Frame) MakeConst(v float64) *Column { return MakeConst(f.NumRows(), v) }
