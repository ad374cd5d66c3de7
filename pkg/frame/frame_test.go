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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestNewFrameErrors verifies construction invariants.
func TestNewFrameErrors(t *testing.T) {
	t.Run("duplicate names", func(t *testing.T) {
		_, err := New([]string{"a", "a"}, []*Column{MakeZero(2), MakeZero(2)})
		assert.ErrorIs(t, err, ErrDuplicateColumn)
	})

	t.Run("ragged lengths", func(t *testing.T) {
		_, err := New([]string{"a", "b"}, []*Column{MakeZero(2), MakeZero(3)})
		assert.ErrorIs(t, err, ErrLengthMismatch)
	})

	t.Run("name count mismatch", func(t *testing.T) {
		_, err := New([]string{"a"}, []*Column{MakeZero(2), MakeZero(2)})
		assert.Error(t, err)
	})
}

// TestCloneSharesHandles verifies a clone owns its layout but shares
// every column handle with the original.
func TestCloneSharesHandles(t *testing.T) {
	f, err := New([]string{"x", "y"}, []*Column{MakeZero(3), MakeConst(3, 1)})
	require.NoError(t, err)

	c := f.Clone()
	require.Same(t, f.Column("x"), c.Column("x"))

	// Layout mutations on the clone do not touch the original.
	c.Remove("x")
	assert.Equal(t, 1, c.NumCols())
	assert.Equal(t, 2, f.NumCols())

	// Cell mutations are visible through both, by design.
	c.Column("y").Set(0, 42)
	assert.Equal(t, 42.0, f.Column("y").At(0))
}

// TestRemoveAndReappendMovesToEnd verifies the move-to-end pattern the
// special-column separator uses.
func TestRemoveAndReappendMovesToEnd(t *testing.T) {
	f, err := New([]string{"w", "x", "y"}, []*Column{MakeZero(2), MakeZero(2), MakeZero(2)})
	require.NoError(t, err)

	w := f.Remove("w")
	require.NotNil(t, w)
	require.NoError(t, f.Add("w", w))

	assert.Equal(t, []string{"x", "y", "w"}, f.Names())
}

// TestRemoveAll verifies missing names are tolerated.
func TestRemoveAll(t *testing.T) {
	f, err := New([]string{"a", "b"}, []*Column{MakeZero(1), MakeZero(1)})
	require.NoError(t, err)

	n := f.RemoveAll([]string{"a", "nope"})
	assert.Equal(t, 1, n)
	assert.Equal(t, []string{"b"}, f.Names())
}

// TestNumRowsEmptyFrame verifies the zero-column edge case.
func TestNumRowsEmptyFrame(t *testing.T) {
	f := &Frame{}
	assert.Equal(t, 0, f.NumRows())
	assert.Nil(t, f.AnyColumn())
}
