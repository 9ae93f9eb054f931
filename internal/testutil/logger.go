// Package testutil holds helpers shared by package tests.
package testutil

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"sync"
)

// NopLogger returns a logger that discards all output
func NopLogger() *slog.Logger {
	return slog.New(slog.NewJSONHandler(io.Discard, nil))
}

// LogRecorder captures JSON log lines so tests can assert on what a
// component reported
type LogRecorder struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

// NewLogRecorder returns a recorder and a logger writing to it at debug level
func NewLogRecorder() (*LogRecorder, *slog.Logger) {
	r := &LogRecorder{}
	return r, slog.New(slog.NewJSONHandler(r, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func (r *LogRecorder) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.buf.Write(p)
}

// Entries decodes every recorded line
func (r *LogRecorder) Entries() []map[string]any {
	r.mu.Lock()
	defer r.mu.Unlock()

	var entries []map[string]any
	dec := json.NewDecoder(bytes.NewReader(r.buf.Bytes()))
	for {
		var entry map[string]any
		if err := dec.Decode(&entry); err != nil {
			return entries
		}
		entries = append(entries, entry)
	}
}

// Messages returns the msg field of every entry logged at level
func (r *LogRecorder) Messages(level slog.Level) []string {
	var msgs []string
	for _, entry := range r.Entries() {
		if entry[slog.LevelKey] == level.String() {
			msg, _ := entry[slog.MessageKey].(string)
			msgs = append(msgs, msg)
		}
	}
	return msgs
}
