// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestLevelString verifies level names.
func TestLevelString(t *testing.T) {
	tests := []struct {
		level Level
		want  string
	}{
		{LevelDebug, "DEBUG"},
		{LevelInfo, "INFO"},
		{LevelWarn, "WARN"},
		{LevelError, "ERROR"},
		{Level(42), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.level.String())
	}
}

// TestDefaultLogger verifies the zero-config path works and Close is
// safe without a file.
func TestDefaultLogger(t *testing.T) {
	l := Default()
	require.NotNil(t, l)
	l.Info("hello", "k", "v")
	assert.NoError(t, l.Close())
	assert.NoError(t, l.Close(), "idempotent")
}

// TestFileLogging verifies the JSON file destination.
func TestFileLogging(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{
		Level:   LevelDebug,
		LogDir:  dir,
		Service: "model-builder",
		Quiet:   true,
	})
	require.NoError(t, err)

	l.Info("training started", "model_id", "m1")
	require.NoError(t, l.Close())

	path := filepath.Join(dir, "model-builder_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, "training started", entry["msg"])
	assert.Equal(t, "m1", entry["model_id"])
	assert.Equal(t, "model-builder", entry["service"])
}

// TestLogDirCreated verifies nested log directories are created.
func TestLogDirCreated(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	l, err := New(Config{LogDir: dir, Quiet: true})
	require.NoError(t, err)
	defer l.Close()

	info, err := os.Stat(dir)
	require.NoError(t, err)
	assert.True(t, info.IsDir())
}

// TestWithAttachesAttributes verifies child loggers carry their
// attributes into every entry.
func TestWithAttachesAttributes(t *testing.T) {
	dir := t.TempDir()
	l, err := New(Config{LogDir: dir, Service: "cv", Quiet: true})
	require.NoError(t, err)

	child := l.With("fold", 3)
	child.Info("fold trained")
	require.NoError(t, l.Close())

	path := filepath.Join(dir, "cv_"+time.Now().Format("2006-01-02")+".log")
	data, err := os.ReadFile(path)
	require.NoError(t, err)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(data, &entry))
	assert.Equal(t, float64(3), entry["fold"])
}

// TestSlogExposesStandardLogger verifies interop with packages taking
// *slog.Logger.
func TestSlogExposesStandardLogger(t *testing.T) {
	l := Default()
	require.NotNil(t, l.Slog())
	l.Slog().Info("via slog")
}
