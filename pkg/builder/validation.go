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
	"fmt"
	"log/slog"
	"strings"
)

// Severity classifies a validation message.
type Severity int

const (
	// SeverityHide tells the caller's UI layer to suppress a field
	// given the current parameter combination. Advisory.
	SeverityHide Severity = iota

	// SeverityInfo is an informative note. Advisory.
	SeverityInfo

	// SeverityWarn flags a potentially problematic setting. Advisory,
	// never blocks training.
	SeverityWarn

	// SeverityError marks the parameters unusable as-is. Training is
	// blocked until the field is fixed.
	SeverityError
)

// String returns the uppercase severity name.
func (s Severity) String() string {
	switch s {
	case SeverityHide:
		return "HIDE"
	case SeverityInfo:
		return "INFO"
	case SeverityWarn:
		return "WARN"
	case SeverityError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// Message is one field-scoped validation annotation.
type Message struct {
	Severity Severity
	Field    string
	Text     string
}

// String renders the message the way the REST layer displays it.
func (m Message) String() string {
	return fmt.Sprintf("%s on field: %s: %s", m.Severity, m.Field, m.Text)
}

// ValidationLog is the append-only sequence of validation messages
// owned by one builder instance.
//
// The log is not safe for concurrent writers; each builder (including
// every cross-validation clone) owns its own log. Error messages
// increment a counter that gates training start.
type ValidationLog struct {
	logger *slog.Logger
	msgs   []Message

	// errorCount is -1 until the first Reset, signalling that Init has
	// not run yet.
	errorCount int
}

// NewValidationLog creates an empty log. Messages are echoed to logger
// as they are appended (nil falls back to slog.Default()).
func NewValidationLog(logger *slog.Logger) *ValidationLog {
	if logger == nil {
		logger = slog.Default()
	}
	return &ValidationLog{logger: logger, errorCount: -1}
}

// Reset clears all messages and arms the error counter. Called at the
// start of every Init pass so a builder can be re-validated.
func (l *ValidationLog) Reset() {
	l.msgs = l.msgs[:0]
	l.errorCount = 0
}

// Hide records a field-suppression hint.
func (l *ValidationLog) Hide(field, text string) { l.append(SeverityHide, field, text) }

// Info records an informative note.
func (l *ValidationLog) Info(field, text string) { l.append(SeverityInfo, field, text) }

// Warn records an advisory warning.
func (l *ValidationLog) Warn(field, text string) { l.append(SeverityWarn, field, text) }

// Error records a blocking field error and increments the error count.
func (l *ValidationLog) Error(field, text string) {
	l.append(SeverityError, field, text)
	l.errorCount++
}

func (l *ValidationLog) append(sev Severity, field, text string) {
	l.msgs = append(l.msgs, Message{Severity: sev, Field: field, Text: text})
	switch sev {
	case SeverityInfo:
		l.logger.Info(text, slog.String("field", field))
	case SeverityWarn:
		l.logger.Warn(text, slog.String("field", field))
	case SeverityError:
		l.logger.Error(text, slog.String("field", field))
	}
}

// ErrorCount returns the number of error messages since the last
// Reset, or -1 when Init has not run yet.
func (l *ValidationLog) ErrorCount() int { return l.errorCount }

// Messages returns a copy of the accumulated messages in append order.
func (l *ValidationLog) Messages() []Message {
	out := make([]Message, len(l.msgs))
	copy(out, l.msgs)
	return out
}

// ValidationErrors renders only the error messages, one per line, for
// embedding in a training-blocked failure.
func (l *ValidationLog) ValidationErrors() string {
	var b strings.Builder
	for _, m := range l.msgs {
		if m.Severity == SeverityError {
			b.WriteString(m.String())
			b.WriteString("\n")
		}
	}
	return b.String()
}
