// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package store

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/AleutianAI/kodiak/pkg/frame"
)

// Mem is the in-process store.
//
// Values are held by reference: a frame fetched from Mem is the same
// object that was stored, so views sharing column handles keep doing
// so across store boundaries. Training runs require this behavior.
type Mem struct {
	mu     sync.RWMutex
	frames map[Key]*frame.Frame
	cols   map[Key]*frame.Column
	blobs  map[Key][]byte
}

// NewMem creates an empty in-process store.
func NewMem() *Mem {
	return &Mem{
		frames: make(map[Key]*frame.Frame),
		cols:   make(map[Key]*frame.Column),
		blobs:  make(map[Key][]byte),
	}
}

func (m *Mem) PutFrame(_ context.Context, key Key, f *frame.Frame) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.frames[key] = f
	return nil
}

func (m *Mem) GetFrame(_ context.Context, key Key) (*frame.Frame, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.frames[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return f, nil
}

func (m *Mem) PutColumn(_ context.Context, key Key, c *frame.Column) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cols[key] = c
	return nil
}

func (m *Mem) GetColumn(_ context.Context, key Key) (*frame.Column, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.cols[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return c, nil
}

func (m *Mem) PutBlob(_ context.Context, key Key, blob []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[key] = blob
	return nil
}

func (m *Mem) GetBlob(_ context.Context, key Key) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	b, ok := m.blobs[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return b, nil
}

func (m *Mem) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.frames, key)
	delete(m.cols, key)
	delete(m.blobs, key)
	return nil
}

func (m *Mem) List(_ context.Context, prefix Key) ([]Key, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var keys []Key
	collect := func(k Key) {
		if strings.HasPrefix(string(k), string(prefix)) {
			keys = append(keys, k)
		}
	}
	for k := range m.frames {
		collect(k)
	}
	for k := range m.cols {
		collect(k)
	}
	for k := range m.blobs {
		collect(k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys, nil
}

// Close is a no-op for the in-process store.
func (m *Mem) Close() error { return nil }
