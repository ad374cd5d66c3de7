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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestValidationLogErrorCount verifies the -1/0/N state machine that
// gates training.
func TestValidationLogErrorCount(t *testing.T) {
	l := NewValidationLog(nil)
	assert.Equal(t, -1, l.ErrorCount(), "before the first Reset")

	l.Reset()
	assert.Equal(t, 0, l.ErrorCount())

	l.Hide("nfolds", "hidden")
	l.Info("seed", "note")
	l.Warn("training_frame", "advisory")
	assert.Equal(t, 0, l.ErrorCount(), "only errors count")

	l.Error("nfolds", "bad")
	l.Error("weights_column", "also bad")
	assert.Equal(t, 2, l.ErrorCount())

	l.Reset()
	assert.Equal(t, 0, l.ErrorCount())
	assert.Empty(t, l.Messages())
}

// TestValidationLogOrder verifies append order is preserved.
func TestValidationLogOrder(t *testing.T) {
	l := NewValidationLog(nil)
	l.Reset()
	l.Warn("a", "first")
	l.Error("b", "second")
	l.Info("c", "third")

	msgs := l.Messages()
	require.Len(t, msgs, 3)
	assert.Equal(t, "first", msgs[0].Text)
	assert.Equal(t, "second", msgs[1].Text)
	assert.Equal(t, "third", msgs[2].Text)
}

// TestMessageString verifies the display rendering.
func TestMessageString(t *testing.T) {
	m := Message{Severity: SeverityError, Field: "nfolds", Text: "nfolds must be either 0 or >1."}
	assert.Equal(t, "ERROR on field: nfolds: nfolds must be either 0 or >1.", m.String())
}

// TestValidationErrorsRendering verifies only errors are rendered.
func TestValidationErrorsRendering(t *testing.T) {
	l := NewValidationLog(nil)
	l.Reset()
	l.Warn("a", "advisory")
	l.Error("b", "broken")
	l.Hide("c", "hidden")

	out := l.ValidationErrors()
	assert.Contains(t, out, "ERROR on field: b: broken")
	assert.NotContains(t, out, "advisory")
	assert.NotContains(t, out, "hidden")
}

// TestSeverityString covers the severity names.
func TestSeverityString(t *testing.T) {
	tests := []struct {
		sev  Severity
		want string
	}{
		{SeverityHide, "HIDE"},
		{SeverityInfo, "INFO"},
		{SeverityWarn, "WARN"},
		{SeverityError, "ERROR"},
		{Severity(99), "UNKNOWN"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.sev.String())
	}
}
