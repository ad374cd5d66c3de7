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
	"context"
	"runtime"

	"golang.org/x/sync/errgroup"
)

// minChunkRows keeps tiny frames on a single goroutine; the fan-out
// overhead dominates below this size.
const minChunkRows = 4096

// MapChunks runs fn over disjoint [lo, hi) row ranges in parallel.
//
// # Description
//
// MapChunks is the local stand-in for a distributed map over row
// chunks: the row space is split into contiguous ranges and fn is
// invoked once per range on a bounded worker pool. Because the ranges
// are disjoint, fn may write to per-row cells of shared columns
// without further synchronization.
//
// Inputs:
//
//	ctx - Context for cancellation. The first fn error or a canceled
//	      context stops the remaining chunks.
//	nrows - Total row count.
//	fn - Chunk body. Must only touch rows in [lo, hi).
//
// Outputs:
//
//	error - The first error returned by fn, or the context error.
func MapChunks(ctx context.Context, nrows int, fn func(lo, hi int) error) error {
	if nrows <= 0 {
		return nil
	}
	workers := runtime.GOMAXPROCS(0)
	if nrows <= minChunkRows || workers <= 1 {
		if err := ctx.Err(); err != nil {
			return err
		}
		return fn(0, nrows)
	}

	chunk := (nrows + workers - 1) / workers
	if chunk < minChunkRows {
		chunk = minChunkRows
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for lo := 0; lo < nrows; lo += chunk {
		lo, hi := lo, lo+chunk
		if hi > nrows {
			hi = nrows
		}
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			return fn(lo, hi)
		})
	}
	return g.Wait()
}
