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

import "slices"

// ColumnSnapshot is the serializable form of a column, used by store
// backends that persist frames at rest. All fields are deep copies;
// round-tripping a snapshot severs handle sharing on purpose.
type ColumnSnapshot struct {
	Type   Type
	Data   []float64
	Strs   []string
	Domain []string
}

// Snapshot is the serializable form of a frame.
type Snapshot struct {
	Names   []string
	Columns []ColumnSnapshot
}

// TakeSnapshot deep-copies the column's cells into a snapshot.
func (c *Column) TakeSnapshot() ColumnSnapshot {
	return ColumnSnapshot{
		Type:   c.typ,
		Data:   slices.Clone(c.data),
		Strs:   slices.Clone(c.strs),
		Domain: slices.Clone(c.domain),
	}
}

// ColumnFromSnapshot rebuilds a column from its serialized form.
func ColumnFromSnapshot(s ColumnSnapshot) *Column {
	c := &Column{typ: s.Type, data: s.Data, strs: s.Strs, domain: s.Domain}
	c.dirty.Store(true)
	return c
}

// TakeSnapshot deep-copies the frame into a snapshot.
func (f *Frame) TakeSnapshot() Snapshot {
	s := Snapshot{Names: slices.Clone(f.names)}
	s.Columns = make([]ColumnSnapshot, len(f.cols))
	for i, c := range f.cols {
		s.Columns[i] = c.TakeSnapshot()
	}
	return s
}

// FromSnapshot rebuilds a frame from its serialized form.
func FromSnapshot(s Snapshot) (*Frame, error) {
	cols := make([]*Column, len(s.Columns))
	for i := range s.Columns {
		cols[i] = ColumnFromSnapshot(s.Columns[i])
	}
	return New(s.Names, cols)
}
