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
	"context"
	"sync"

	"github.com/AleutianAI/kodiak/pkg/frame"
)

// classDistribution sums (optionally weighted) observation counts per
// response class over row chunks in parallel. Rows with a missing
// response contribute nothing; a nil weights column means uniform 1.0.
func classDistribution(ctx context.Context, response, weights *frame.Column, nclass int) ([]float64, error) {
	dist := make([]float64, nclass)
	var mu sync.Mutex

	err := frame.MapChunks(ctx, response.Len(), func(lo, hi int) error {
		local := make([]float64, nclass)
		for i := lo; i < hi; i++ {
			if response.IsNA(i) {
				continue
			}
			cls := int(response.At(i))
			if cls < 0 || cls >= nclass {
				continue
			}
			w := 1.0
			if weights != nil {
				w = weights.At(i)
			}
			local[cls] += w
		}
		mu.Lock()
		for c, v := range local {
			dist[c] += v
		}
		mu.Unlock()
		return nil
	})
	if err != nil {
		return nil, err
	}
	return dist, nil
}
