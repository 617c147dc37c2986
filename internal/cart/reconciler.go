// Package cart owns the client-visible cart. Every visible state is a
// snapshot returned by the server; mutations go through the gateway so that
// at most one request per operation key is in flight.
package cart

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"storefront/internal/backend"
	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/notify"
)

// Status is the global load state of the cart.
type Status int

const (
	StatusIdle Status = iota
	StatusLoading
	StatusReady
	StatusErrored
)

func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusLoading:
		return "loading"
	case StatusReady:
		return "ready"
	case StatusErrored:
		return "errored"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Options configure a Reconciler.
type Options struct {
	Notifier notify.Notifier
	Logger   *slog.Logger

	// FenceStaleResponses discards a response when a response to a later
	// request was already applied. Off by default: the last response to
	// arrive wins.
	FenceStaleResponses bool
}

// Reconciler holds the authoritative cart snapshot and runs mutations.
type Reconciler struct {
	backend  backend.Backend
	gw       *gateway.Gateway
	notifier notify.Notifier
	logger   *slog.Logger
	fence    bool

	mu       sync.RWMutex
	snapshot model.CartSnapshot
	status   Status
	lastErr  error
	itemErrs map[gateway.OpKey]error
	issued   uint64 // last sequence number handed out
	applied  uint64 // sequence number of the snapshot on display
	closed   bool
}

// New creates a Reconciler over b. The cart starts empty and Idle; call
// Refresh to load it.
func New(b backend.Backend, opts Options) *Reconciler {
	notifier := opts.Notifier
	if notifier == nil {
		notifier = notify.Nop
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{
		backend:  b,
		gw:       gateway.New(notifier, logger),
		notifier: notifier,
		logger:   logger,
		fence:    opts.FenceStaleResponses,
		snapshot: model.EmptySnapshot(),
		itemErrs: make(map[gateway.OpKey]error),
	}
}

// Snapshot returns a copy of the current cart snapshot.
func (r *Reconciler) Snapshot() model.CartSnapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Clone()
}

// ItemCount is Σ qty over the current snapshot.
func (r *Reconciler) ItemCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.ItemCount()
}

// Subtotal is Σ qty × unit price over the current snapshot, in cents.
func (r *Reconciler) Subtotal() int64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.snapshot.Subtotal()
}

// Status returns the global load state.
func (r *Reconciler) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.status
}

// LastError returns the error of the most recent failed refresh, or nil
// once a refresh succeeds.
func (r *Reconciler) LastError() error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.lastErr
}

// ItemError returns the last failure recorded for key, cleared when an
// operation under the same key succeeds.
func (r *Reconciler) ItemError(key gateway.OpKey) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.itemErrs[key]
}

// Pending reports whether an operation under key is in flight.
func (r *Reconciler) Pending(key gateway.OpKey) bool {
	return r.gw.Pending(key)
}

// PendingKeys returns all in-flight operation keys.
func (r *Reconciler) PendingKeys() []gateway.OpKey {
	return r.gw.PendingKeys()
}

// Refresh reloads the cart. On failure the last good snapshot stays visible,
// the status becomes Errored and an error event is emitted.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return gateway.ErrClosed
	}
	r.status = StatusLoading
	r.mu.Unlock()

	seq := r.nextSeq()
	snap, err := r.backend.GetCart(ctx)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	if err != nil {
		r.status = StatusErrored
		r.lastErr = err
		r.mu.Unlock()

		kind := model.Classify(err)
		r.logger.WarnContext(ctx, "cart refresh failed",
			slog.String("kind", kind.String()),
			slog.String("error", err.Error()),
		)
		r.notifier.Notify(ctx, notify.Event{
			Level:       notify.LevelError,
			Title:       "Cart unavailable",
			Description: model.Message(err),
			Op:          "refresh",
			Kind:        kind,
			Time:        time.Now(),
		})
		return err
	}
	r.status = StatusReady
	r.lastErr = nil
	r.mu.Unlock()

	r.apply(ctx, seq, snap)
	return nil
}

// IdentityChanged clears the cart and reloads it. Call it after sign-in or
// sign-out: the server keys carts by session and user.
func (r *Reconciler) IdentityChanged(ctx context.Context) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return gateway.ErrClosed
	}
	r.snapshot = model.EmptySnapshot()
	r.applied = r.issued
	r.itemErrs = make(map[gateway.OpKey]error)
	r.mu.Unlock()

	return r.Refresh(ctx)
}

// AddItem adds qty units of a product line. opts carries the variant
// resolved by the picker and may be nil.
func (r *Reconciler) AddItem(ctx context.Context, productID string, qty int, opts *model.AddItemOptions) (model.CartSnapshot, error) {
	if productID == "" {
		return model.CartSnapshot{}, model.NewValidationError("product", "id is required")
	}
	if qty < 1 {
		return model.CartSnapshot{}, model.NewValidationError("qty", "must be at least 1")
	}

	req := backend.NewAddItemRequest(productID, qty, opts)
	return r.mutate(ctx, gateway.Add(productID, req.VariantID), gateway.Operation[model.CartSnapshot]{}, func(ctx context.Context) (model.CartSnapshot, error) {
		return r.backend.AddItem(ctx, req)
	})
}

// UpdateItem sets the quantity of a line. Negative quantities are sent as 0,
// which the server treats as removal.
func (r *Reconciler) UpdateItem(ctx context.Context, productID string, qty int, variantID string) (model.CartSnapshot, error) {
	req := &backend.UpdateItemRequest{ProductID: productID, Qty: model.ClampQty(qty), VariantID: variantID}
	return r.mutate(ctx, gateway.Update(productID, variantID), gateway.Operation[model.CartSnapshot]{}, func(ctx context.Context) (model.CartSnapshot, error) {
		return r.backend.UpdateItem(ctx, req)
	})
}

// RemoveItem deletes a line.
func (r *Reconciler) RemoveItem(ctx context.Context, productID, variantID string) (model.CartSnapshot, error) {
	req := &backend.RemoveItemRequest{ProductID: productID, VariantID: variantID}
	return r.mutate(ctx, gateway.Remove(productID, variantID), gateway.Operation[model.CartSnapshot]{}, func(ctx context.Context) (model.CartSnapshot, error) {
		return r.backend.RemoveItem(ctx, req)
	})
}

// BeginCheckout asks for a hosted checkout URL. The cart snapshot is never
// touched. An unconfigured payment provider surfaces as an informational
// event and an error classified as model.KindConfiguration.
func (r *Reconciler) BeginCheckout(ctx context.Context, opts *model.CheckoutOptions) (string, error) {
	req := &backend.CheckoutSessionRequest{}
	if opts != nil {
		req.SuccessURL = opts.SuccessURL
		req.CancelURL = opts.CancelURL
	}

	url, err := gateway.Execute(ctx, r.gw, gateway.Checkout(), gateway.Operation[string]{
		Action: func(ctx context.Context) (string, error) {
			url, err := r.backend.CreateCheckoutSession(ctx, req)
			if err != nil {
				return "", err
			}
			if url == "" {
				return "", model.NewOperationalError("CHECKOUT_SESSION_MISSING", "Checkout session could not be created", 0)
			}
			return url, nil
		},
	})
	r.recordItemError(gateway.Checkout(), err)
	return url, err
}

// LineRequest is one line of a batch add.
type LineRequest struct {
	ProductID string                `json:"product_id"`
	Qty       int                   `json:"qty"`
	Options   *model.AddItemOptions `json:"options,omitempty"`
}

// LineError is a batch line that could not be added.
type LineError struct {
	Line LineRequest
	Err  error
}

// BatchResult reports the outcome of AddItems.
type BatchResult struct {
	Added  int
	Failed []LineError
}

// AddItems adds lines one after another, as a reorder does. Per-line success
// events are quiet; a failed line is reported and the batch continues. The
// cart is refreshed at the end and a summary event is emitted.
func (r *Reconciler) AddItems(ctx context.Context, lines []LineRequest) (BatchResult, error) {
	var res BatchResult
	for _, line := range lines {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		if line.Qty < 1 || line.ProductID == "" {
			res.Failed = append(res.Failed, LineError{Line: line, Err: model.NewValidationError("line", "product id and positive qty required")})
			continue
		}

		req := backend.NewAddItemRequest(line.ProductID, line.Qty, line.Options)
		_, err := r.mutate(ctx, gateway.Add(line.ProductID, req.VariantID), gateway.Operation[model.CartSnapshot]{Quiet: true}, func(ctx context.Context) (model.CartSnapshot, error) {
			return r.backend.AddItem(ctx, req)
		})
		if err != nil {
			if errors.Is(err, gateway.ErrClosed) {
				return res, err
			}
			r.logger.WarnContext(ctx, "batch line failed",
				slog.String("product_id", line.ProductID),
				slog.String("error", err.Error()),
			)
			res.Failed = append(res.Failed, LineError{Line: line, Err: err})
			continue
		}
		res.Added++
	}

	if err := r.Refresh(ctx); err != nil {
		return res, err
	}

	if res.Added > 0 && !r.gw.Closed() {
		r.notifier.Notify(ctx, notify.Event{
			Level:       notify.LevelSuccess,
			Title:       "Items added to cart",
			Description: fmt.Sprintf("%d of %d items were added to your cart.", res.Added, len(lines)),
			Op:          "reorder",
			Time:        time.Now(),
		})
	}
	return res, nil
}

// Close discards the outcome of any operation still in flight and rejects
// new ones. It does not cancel requests; pass a cancellable context for that.
func (r *Reconciler) Close() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	r.gw.Close()
}

func (r *Reconciler) mutate(ctx context.Context, key gateway.OpKey, op gateway.Operation[model.CartSnapshot], call func(context.Context) (model.CartSnapshot, error)) (model.CartSnapshot, error) {
	op.Action = func(ctx context.Context) (model.CartSnapshot, error) {
		seq := r.nextSeq()
		snap, err := call(ctx)
		if err != nil {
			return model.CartSnapshot{}, err
		}
		r.apply(ctx, seq, snap)
		return r.Snapshot(), nil
	}

	snap, err := gateway.Execute(ctx, r.gw, key, op)
	r.recordItemError(key, err)
	return snap, err
}

func (r *Reconciler) nextSeq() uint64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.issued++
	return r.issued
}

// apply swaps in snap unless the reconciler is closed or, with fencing on,
// a later response was already applied.
func (r *Reconciler) apply(ctx context.Context, seq uint64, snap model.CartSnapshot) bool {
	snap = snap.Clone()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return false
	}
	if r.fence && seq < r.applied {
		r.mu.Unlock()
		r.logger.DebugContext(ctx, "discarding stale cart response",
			slog.Uint64("seq", seq),
		)
		return false
	}
	prev := r.snapshot
	r.snapshot = snap
	if seq > r.applied {
		r.applied = seq
	}
	r.mu.Unlock()

	if r.logger.Enabled(ctx, slog.LevelDebug) {
		if d := Diff(prev, snap); !d.IsEmpty() {
			r.logger.DebugContext(ctx, "cart snapshot replaced",
				slog.Int("added", len(d.Added)),
				slog.Int("removed", len(d.Removed)),
				slog.Int("changed", len(d.Changed)),
				slog.Int("item_count", snap.ItemCount()),
			)
		}
	}
	return true
}

func (r *Reconciler) recordItemError(key gateway.OpKey, err error) {
	if errors.Is(err, model.ErrAlreadyInFlight) || errors.Is(err, gateway.ErrClosed) {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	if err != nil {
		r.itemErrs[key] = err
		return
	}
	delete(r.itemErrs, key)
}
