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
	"bytes"
	"context"
	"encoding/gob"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"

	"github.com/AleutianAI/kodiak/pkg/frame"
)

// BadgerConfig holds configuration for the BadgerDB-backed store.
type BadgerConfig struct {
	// Path is the directory for BadgerDB files.
	// Required unless InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	// Useful for testing.
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	// Default: true for production, false for testing.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultBadgerConfig returns production defaults: durable synchronous
// writes at the given path.
func DefaultBadgerConfig(path string) BadgerConfig {
	return BadgerConfig{Path: path, SyncWrites: true}
}

// InMemoryBadgerConfig returns a configuration for tests: in-memory,
// no sync.
func InMemoryBadgerConfig() BadgerConfig {
	return BadgerConfig{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// Badger is the BadgerDB-backed store for artifacts at rest.
//
// Frames and columns round-trip through their snapshot forms, so a
// fetched frame is a deep copy: handle sharing does not survive
// persistence. Use Mem for live training state.
type Badger struct {
	db *badger.DB
}

// record is the gob envelope stored per key.
type record struct {
	Kind  byte // 'f' frame, 'c' column, 'b' blob
	Frame frame.Snapshot
	Col   frame.ColumnSnapshot
	Blob  []byte
}

// OpenBadger creates and opens a BadgerDB-backed store.
//
// Inputs:
//
//	cfg - Store configuration. Path is required unless InMemory is true.
//
// Outputs:
//
//	*Badger - The opened store. Caller must Close() when done.
//	error - Non-nil if the path is invalid or the database cannot open.
func OpenBadger(cfg BadgerConfig) (*Badger, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("store: path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("store: create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("store: open badger database: %w", err)
	}
	return &Badger{db: db}, nil
}

func (s *Badger) put(key Key, rec record) error {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(rec); err != nil {
		return fmt.Errorf("store: encode %s: %w", key, err)
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), buf.Bytes())
	})
	if err != nil {
		return fmt.Errorf("store: put %s: %w", key, err)
	}
	return nil
}

func (s *Badger) get(key Key) (record, error) {
	var rec record
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return gob.NewDecoder(bytes.NewReader(val)).Decode(&rec)
		})
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return rec, fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	if err != nil {
		return rec, fmt.Errorf("store: get %s: %w", key, err)
	}
	return rec, nil
}

func (s *Badger) PutFrame(_ context.Context, key Key, f *frame.Frame) error {
	return s.put(key, record{Kind: 'f', Frame: f.TakeSnapshot()})
}

func (s *Badger) GetFrame(_ context.Context, key Key) (*frame.Frame, error) {
	rec, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if rec.Kind != 'f' {
		return nil, fmt.Errorf("store: %s holds a %q record, not a frame", key, rec.Kind)
	}
	return frame.FromSnapshot(rec.Frame)
}

func (s *Badger) PutColumn(_ context.Context, key Key, c *frame.Column) error {
	return s.put(key, record{Kind: 'c', Col: c.TakeSnapshot()})
}

func (s *Badger) GetColumn(_ context.Context, key Key) (*frame.Column, error) {
	rec, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if rec.Kind != 'c' {
		return nil, fmt.Errorf("store: %s holds a %q record, not a column", key, rec.Kind)
	}
	return frame.ColumnFromSnapshot(rec.Col), nil
}

func (s *Badger) PutBlob(_ context.Context, key Key, blob []byte) error {
	return s.put(key, record{Kind: 'b', Blob: blob})
}

func (s *Badger) GetBlob(_ context.Context, key Key) ([]byte, error) {
	rec, err := s.get(key)
	if err != nil {
		return nil, err
	}
	if rec.Kind != 'b' {
		return nil, fmt.Errorf("store: %s holds a %q record, not a blob", key, rec.Kind)
	}
	return rec.Blob, nil
}

func (s *Badger) Delete(_ context.Context, key Key) error {
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil && !errors.Is(err, badger.ErrKeyNotFound) {
		return fmt.Errorf("store: delete %s: %w", key, err)
	}
	return nil
}

func (s *Badger) List(_ context.Context, prefix Key) ([]Key, error) {
	var keys []Key
	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			keys = append(keys, Key(it.Item().KeyCopy(nil)))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", prefix, err)
	}
	return keys, nil
}

// Close closes the underlying database.
func (s *Badger) Close() error {
	return s.db.Close()
}
