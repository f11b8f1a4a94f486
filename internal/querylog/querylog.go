// Package querylog emits one subscribe record per subscription, plus a
// line when the prepare-retry fires and a line at completion — no
// per-token logging.
package querylog

import (
	"log"

	"github.com/google/uuid"
)

// Logger writes one line per subscribed query (and per retry or
// completion of it), in the teacher's "[component] message" convention.
type Logger struct {
	out func(format string, args ...any)
}

// New constructs a Logger writing through the standard library logger,
// matching the rest of this module's ambient logging.
func New() *Logger {
	return &Logger{out: log.Printf}
}

// Subscribe logs the start of one subscription and returns a correlation
// id for downstream lines (retry, completion) that reference it. The id
// is a google/uuid value rather than a sequence counter so it stays
// unique across process restarts and concurrent connections.
func (l *Logger) Subscribe(connID int64, query string) uuid.UUID {
	id := uuid.New()
	l.out("[querylog] conn=%d trace=%s subscribe query=%q", connID, id, query)
	return id
}

// Retry logs a prepare-retry decision for an already-logged subscription.
func (l *Logger) Retry(trace uuid.UUID, reason string) {
	l.out("[querylog] trace=%s prepare-retry reason=%s", trace, reason)
}

// Complete logs that a subscription reached a terminal phase.
func (l *Logger) Complete(trace uuid.UUID, phase string) {
	l.out("[querylog] trace=%s complete phase=%s", trace, phase)
}
