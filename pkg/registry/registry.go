// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package registry maps algorithm names to builder factories.
//
// Algorithm packages register themselves from init, typically via a
// blank import at the composition root:
//
//	import _ "github.com/AleutianAI/kodiak/pkg/algos/meanmodel"
//
// After startup the process calls Freeze once; from then on lookups
// are lock-free reads. Registering after Freeze panics, the same way a
// duplicate registration does: both are programming errors, not
// runtime conditions.
package registry

import (
	"errors"
	"fmt"
	"maps"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/AleutianAI/kodiak/pkg/builder"
)

// ErrUnknownAlgorithm is returned by Create for a name no package
// registered. Requesting an unknown algorithm is a fatal request
// error, not a validation message.
var ErrUnknownAlgorithm = errors.New("registry: unknown algorithm")

// Factory builds a fresh Algorithm instance per training request.
type Factory func() builder.Algorithm

type entry struct {
	fullName string
	factory  Factory
}

var (
	mu    sync.Mutex
	algos = map[string]entry{}

	// frozen holds an immutable snapshot of algos once Freeze runs;
	// lookups read it without taking mu.
	frozen atomic.Pointer[map[string]entry]
)

// Register adds an algorithm under its short name (e.g. "meanmodel")
// with a human-readable full name (e.g. "Constant Mean Model").
// Panics on duplicate names or after Freeze.
func Register(name, fullName string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	if frozen.Load() != nil {
		panic(fmt.Sprintf("registry: Register(%q) after Freeze", name))
	}
	if f == nil {
		panic(fmt.Sprintf("registry: nil factory for %q", name))
	}
	if _, dup := algos[name]; dup {
		panic(fmt.Sprintf("registry: duplicate algorithm %q", name))
	}
	algos[name] = entry{fullName: fullName, factory: f}
}

// Freeze closes the registry. Idempotent.
func Freeze() {
	mu.Lock()
	defer mu.Unlock()
	if frozen.Load() != nil {
		return
	}
	snap := maps.Clone(algos)
	frozen.Store(&snap)
}

// Create instantiates a fresh builder algorithm by short name.
func Create(name string) (builder.Algorithm, error) {
	e, ok := lookup(name)
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownAlgorithm, name)
	}
	return e.factory(), nil
}

// FullName reports the registered human-readable name, or "" when the
// algorithm is unknown.
func FullName(name string) string {
	e, _ := lookup(name)
	return e.fullName
}

// Names lists registered short names in sorted order.
func Names() []string {
	mu.Lock()
	defer mu.Unlock()
	out := make([]string, 0, len(algos))
	for name := range algos {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

func lookup(name string) (entry, bool) {
	if snap := frozen.Load(); snap != nil {
		e, ok := (*snap)[name]
		return e, ok
	}
	mu.Lock()
	defer mu.Unlock()
	e, ok := algos[name]
	return e, ok
}
