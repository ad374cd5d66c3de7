// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package store provides the content-addressable store the
// model-builder core keeps its named artifacts in: frames, prediction
// columns, and serialized models, all addressed by Key.
//
// Two implementations exist:
//
//   - Mem: in-process, handle-preserving. GetFrame returns the exact
//     *frame.Frame that was put, so frames sharing column handles keep
//     sharing them. This is the backend training runs on.
//   - Badger: BadgerDB-backed persistence for artifacts at rest.
//     Frames round-trip through snapshots, which deep-copies cells and
//     severs handle sharing.
//
// The store is deliberately a narrow surface; replication and
// partitioning of the platform's real distributed store are outside
// this codebase.
package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/AleutianAI/kodiak/pkg/frame"
)

// ErrNotFound is returned when a key has no value.
var ErrNotFound = errors.New("store: key not found")

// Key addresses one artifact in the store.
type Key string

// String returns the key text.
func (k Key) String() string { return string(k) }

// Child derives a related key by suffixing, e.g.
// model key "gbm_ab12" -> fold model key "gbm_ab12_cv_1".
func (k Key) Child(suffix string) Key {
	return Key(string(k) + "_" + suffix)
}

// NewKey mints a fresh key with a short random component, e.g.
// NewKey("mean") -> "mean_1f2e3d4c5b6a".
func NewKey(prefix string) Key {
	return Key(fmt.Sprintf("%s_%s", prefix, uuid.NewString()[:12]))
}

// Store is the artifact store contract.
//
// All methods are safe for concurrent use. Delete of an absent key is
// a no-op, mirroring the remove-if-present semantics the orchestrator
// relies on during cleanup.
type Store interface {
	// PutFrame stores a frame under key, replacing any previous value.
	PutFrame(ctx context.Context, key Key, f *frame.Frame) error

	// GetFrame fetches the frame stored under key.
	GetFrame(ctx context.Context, key Key) (*frame.Frame, error)

	// PutColumn stores a single column (e.g. per-fold predictions).
	PutColumn(ctx context.Context, key Key, c *frame.Column) error

	// GetColumn fetches the column stored under key.
	GetColumn(ctx context.Context, key Key) (*frame.Column, error)

	// PutBlob stores an opaque artifact such as a serialized model.
	PutBlob(ctx context.Context, key Key, blob []byte) error

	// GetBlob fetches the blob stored under key.
	GetBlob(ctx context.Context, key Key) ([]byte, error)

	// Delete removes the value under key, if any.
	Delete(ctx context.Context, key Key) error

	// List returns all keys with the given prefix, sorted.
	List(ctx context.Context, prefix Key) ([]Key, error)

	// Close releases backend resources.
	Close() error
}
