package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"storefront/internal/model"
	"storefront/internal/notify"
)

// ErrClosed is returned for operations started after Close.
var ErrClosed = errors.New("gateway closed")

// Gateway runs cart mutations. For each key at most one invocation is in
// flight; a second call with the same key fails fast without a network call
// and without an event. Every admitted invocation produces exactly one
// terminal event, unless the gateway was closed while it ran.
type Gateway struct {
	pending  *PendingSet
	notifier notify.Notifier
	logger   *slog.Logger
	closed   atomic.Bool
	now      func() time.Time
}

// New creates a Gateway. A nil notifier discards events.
func New(notifier notify.Notifier, logger *slog.Logger) *Gateway {
	if notifier == nil {
		notifier = notify.Nop
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Gateway{
		pending:  NewPendingSet(),
		notifier: notifier,
		logger:   logger,
		now:      time.Now,
	}
}

// Pending reports whether key is in flight.
func (g *Gateway) Pending(key OpKey) bool { return g.pending.Has(key) }

// PendingKeys returns every in-flight key.
func (g *Gateway) PendingKeys() []OpKey { return g.pending.Keys() }

// Close stops event delivery. Operations still running complete, but their
// outcome is only returned to the caller.
func (g *Gateway) Close() { g.closed.Store(true) }

// Closed reports whether Close was called.
func (g *Gateway) Closed() bool { return g.closed.Load() }

// Operation describes one mutation and how its outcome is announced.
type Operation[T any] struct {
	// Action performs the request and applies its result.
	Action func(ctx context.Context) (T, error)

	// SuccessTitle overrides the default success title for the key's kind.
	SuccessTitle       string
	SuccessDescription string
	// FailureTitle overrides the default failure title.
	FailureTitle string
	// Quiet marks the success event as a batch sub-step. Failures are never quiet.
	Quiet bool
}

// OpError is the error returned for a failed operation. It carries the key
// and the failure class so callers can attach the message to one item.
type OpError struct {
	Key  OpKey
	Kind model.Kind
	Err  error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("%s: %v", e.Key, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

// Execute runs op under key.
func Execute[T any](ctx context.Context, g *Gateway, key OpKey, op Operation[T]) (T, error) {
	var zero T

	if g.Closed() {
		return zero, ErrClosed
	}
	if !g.pending.TryAcquire(key) {
		g.logger.DebugContext(ctx, "operation already in flight", slog.String("op", key.String()))
		return zero, &OpError{Key: key, Kind: model.KindValidation, Err: model.NewInFlightError(key.String())}
	}
	defer g.pending.Release(key)

	start := g.now()
	result, err := op.Action(ctx)
	elapsed := time.Since(start)

	if err != nil {
		kind := model.Classify(err)
		g.logger.WarnContext(ctx, "cart operation failed",
			slog.String("op", key.String()),
			slog.String("kind", kind.String()),
			slog.Duration("duration", elapsed),
			slog.String("error", err.Error()),
		)
		g.emit(ctx, failureEvent(key, op, err, kind))
		return zero, &OpError{Key: key, Kind: kind, Err: err}
	}

	g.logger.DebugContext(ctx, "cart operation completed",
		slog.String("op", key.String()),
		slog.Duration("duration", elapsed),
	)
	g.emit(ctx, successEvent(key, op))
	return result, nil
}

func (g *Gateway) emit(ctx context.Context, e notify.Event) {
	if g.Closed() {
		return
	}
	e.Time = g.now()
	g.notifier.Notify(ctx, e)
}

func successEvent[T any](key OpKey, op Operation[T]) notify.Event {
	title := op.SuccessTitle
	if title == "" {
		title = defaultSuccessTitle(key.Kind)
	}
	level := notify.LevelSuccess
	if key.Kind == OpCheckout {
		// The redirect is news, not a completed purchase.
		level = notify.LevelInfo
	}
	return notify.Event{
		Level:       level,
		Title:       title,
		Description: op.SuccessDescription,
		Op:          key.String(),
		ProductID:   key.ProductID,
		Quiet:       op.Quiet,
	}
}

func failureEvent[T any](key OpKey, op Operation[T], err error, kind model.Kind) notify.Event {
	e := notify.Event{
		Level:       notify.LevelError,
		Description: model.Message(err),
		Op:          key.String(),
		ProductID:   key.ProductID,
		Kind:        kind,
	}

	if kind.Informational() {
		e.Level = notify.LevelInfo
		e.Title = "Stripe not configured"
		if key.Kind == OpCheckout {
			e.Title = "Checkout unavailable"
		}
		return e
	}

	e.Title = op.FailureTitle
	if e.Title == "" {
		e.Title = defaultFailureTitle(key.Kind)
	}
	return e
}

func defaultSuccessTitle(k OpKind) string {
	switch k {
	case OpAdd:
		return "Added to cart"
	case OpUpdate:
		return "Cart updated"
	case OpRemove:
		return "Removed from cart"
	case OpCheckout:
		return "Redirecting to checkout…"
	}
	return "Done"
}

func defaultFailureTitle(k OpKind) string {
	if k == OpCheckout {
		return "Checkout failed"
	}
	return "Cart update failed"
}
