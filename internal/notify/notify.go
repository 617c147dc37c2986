// Package notify delivers shopper-facing success and failure events.
// The cart layer emits events; how they are shown (toast, log line, message
// bus) is up to the Notifier implementation.
package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/model"
)

// Level selects the presentation channel. Info must not read as an error.
type Level string

const (
	LevelSuccess Level = "success"
	LevelInfo    Level = "info"
	LevelError   Level = "error"
)

// Event is one terminal outcome of a cart operation.
type Event struct {
	Level       Level      `json:"level"`
	Title       string     `json:"title"`
	Description string     `json:"description,omitempty"`
	Op          string     `json:"op,omitempty"`         // operation key, e.g. "add:p1::v2"
	ProductID   string     `json:"product_id,omitempty"` // lets a UI attach the message to one item
	Kind        model.Kind `json:"kind,omitempty"`
	Quiet       bool       `json:"quiet,omitempty"` // batch sub-steps; presenters may suppress
	Time        time.Time  `json:"time"`
}

// Notifier receives events. Implementations must not block the caller for long
// and must handle their own delivery failures.
type Notifier interface {
	Notify(ctx context.Context, e Event)
}

// Func adapts a function to Notifier.
type Func func(ctx context.Context, e Event)

// Notify calls f.
func (f Func) Notify(ctx context.Context, e Event) { f(ctx, e) }

// Nop discards events.
var Nop Notifier = Func(func(context.Context, Event) {})

// Multi fans an event out to several notifiers in order.
type Multi []Notifier

// Notify delivers e to every notifier.
func (m Multi) Notify(ctx context.Context, e Event) {
	for _, n := range m {
		if n != nil {
			n.Notify(ctx, e)
		}
	}
}

// LogNotifier writes events through slog. Errors log at Error, info at Info,
// success at Info, and quiet events at Debug.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier backed by logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// Notify logs e.
func (n *LogNotifier) Notify(ctx context.Context, e Event) {
	level := slog.LevelInfo
	switch {
	case e.Quiet:
		level = slog.LevelDebug
	case e.Level == LevelError:
		level = slog.LevelError
	}

	attrs := []slog.Attr{
		slog.String("level", string(e.Level)),
		slog.String("op", e.Op),
	}
	if e.Description != "" {
		attrs = append(attrs, slog.String("description", e.Description))
	}
	if e.ProductID != "" {
		attrs = append(attrs, slog.String("product_id", e.ProductID))
	}
	if e.Kind != model.KindNone {
		attrs = append(attrs, slog.String("kind", e.Kind.String()))
	}
	n.logger.LogAttrs(ctx, level, e.Title, attrs...)
}

// Recorder keeps every event in memory, for tests that assert on the
// shopper-facing messages an operation produced.
type Recorder struct {
	mu     sync.Mutex
	events []Event
}

// Notify appends e.
func (r *Recorder) Notify(_ context.Context, e Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

// Events returns a copy of the recorded events.
func (r *Recorder) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

// Len returns the number of recorded events.
func (r *Recorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

// Reset drops all recorded events.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
