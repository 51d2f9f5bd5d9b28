// Package logger wraps log/slog with a single-line, timestamped handler
// in the teacher's own logging register: one record per line, level
// prefix first, no multi-line banners. Adapted from the teacher's
// logging setup, swapped from its hand-rolled level writer onto slog's
// Handler interface so the rest of the tree can log through the
// standard *slog.Logger API.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Handler is a minimal slog.Handler: "HH:MM:SS LEVEL msg key=value ...".
type Handler struct {
	mu    *sync.Mutex
	w     io.Writer
	level slog.Leveler
	attrs []slog.Attr
	group string
}

// New returns a Handler writing to w at minLevel and above.
func New(w io.Writer, minLevel slog.Level) *Handler {
	return &Handler{mu: &sync.Mutex{}, w: w, level: minLevel}
}

// Enabled implements slog.Handler.
func (h *Handler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler, formatting one record as a single line.
func (h *Handler) Handle(_ context.Context, r slog.Record) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	ts := r.Time
	if ts.IsZero() {
		ts = time.Unix(0, 0)
	}
	line := fmt.Sprintf("%s %-5s %s", ts.Format("15:04:05"), r.Level.String(), r.Message)

	for _, a := range h.attrs {
		line += " " + formatAttr(h.group, a)
	}
	r.Attrs(func(a slog.Attr) bool {
		line += " " + formatAttr(h.group, a)
		return true
	})

	_, err := fmt.Fprintln(h.w, line)
	return err
}

// WithAttrs implements slog.Handler.
func (h *Handler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = append(append([]slog.Attr{}, h.attrs...), attrs...)
	return &next
}

// WithGroup implements slog.Handler.
func (h *Handler) WithGroup(name string) slog.Handler {
	next := *h
	next.group = name
	return &next
}

func formatAttr(group string, a slog.Attr) string {
	if group == "" {
		return fmt.Sprintf("%s=%v", a.Key, a.Value)
	}
	return fmt.Sprintf("%s.%s=%v", group, a.Key, a.Value)
}

// NewLogger returns a ready *slog.Logger writing through a Handler, the
// convenience constructor most callers want instead of assembling the
// handler themselves.
func NewLogger(w io.Writer, minLevel slog.Level) *slog.Logger {
	return slog.New(New(w, minLevel))
}
