package cart

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"sync/atomic"
	"testing"

	"storefront/internal/backend"
	"storefront/internal/gateway"
	"storefront/internal/model"
	"storefront/internal/notify"
)

func int64Ptr(v int64) *int64 { return &v }

func snapshot(items ...model.CartItem) model.CartSnapshot {
	return model.CartSnapshot{
		Items: items,
		Products: map[string]model.ProductSummary{
			"p1": {ID: "p1", Title: "Tee", Price: 500},
			"p2": {ID: "p2", Title: "Mug", Price: 1999},
		},
	}
}

func newTestReconciler(b backend.Backend, fence bool) (*Reconciler, *notify.Recorder) {
	rec := &notify.Recorder{}
	r := New(b, Options{
		Notifier:            rec,
		Logger:              slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelDebug})),
		FenceStaleResponses: fence,
	})
	return r, rec
}

func TestNew_StartsEmptyAndIdle(t *testing.T) {
	r, _ := newTestReconciler(&backend.Mock{}, false)
	if r.Status() != StatusIdle {
		t.Errorf("Status() = %v, want idle", r.Status())
	}
	if r.ItemCount() != 0 || r.Subtotal() != 0 {
		t.Errorf("totals = %d/%d, want 0/0", r.ItemCount(), r.Subtotal())
	}
	if r.Snapshot().Items == nil {
		t.Error("empty snapshot should have non-nil items")
	}
}

func TestRefresh(t *testing.T) {
	want := snapshot(model.CartItem{ProductID: "p1", Qty: 2}, model.CartItem{ProductID: "p2", Qty: 1})
	r, rec := newTestReconciler(&backend.Mock{
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) { return want, nil },
	}, false)

	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}
	if r.Status() != StatusReady {
		t.Errorf("Status() = %v, want ready", r.Status())
	}
	// Totals: p1×2 @500 + p2×1 @1999.
	if r.ItemCount() != 3 {
		t.Errorf("ItemCount() = %d, want 3", r.ItemCount())
	}
	if r.Subtotal() != 2999 {
		t.Errorf("Subtotal() = %d, want 2999", r.Subtotal())
	}
	if rec.Len() != 0 {
		t.Errorf("successful refresh emitted %d events", rec.Len())
	}
}

func TestSnapshot_CallerCannotEditCart(t *testing.T) {
	served := snapshot(model.CartItem{ProductID: "p1", Qty: 2, VariantOptions: map[string]string{"size": "M"}})
	r, _ := newTestReconciler(&backend.Mock{
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) { return served, nil },
	}, false)
	if err := r.Refresh(context.Background()); err != nil {
		t.Fatalf("Refresh() error: %v", err)
	}

	s := r.Snapshot()
	s.Items[0].Qty = 99
	s.Items[0].VariantOptions["size"] = "XL"
	s.Products["p1"] = model.ProductSummary{ID: "p1", Price: 1}

	// The backend's payload is not aliased either.
	served.Items[0].Qty = 50

	if r.ItemCount() != 2 {
		t.Errorf("ItemCount() = %d after caller edits, want 2", r.ItemCount())
	}
	if r.Subtotal() != 1000 {
		t.Errorf("Subtotal() = %d after caller edits, want 1000", r.Subtotal())
	}
	if got := r.Snapshot().Items[0].VariantOptions["size"]; got != "M" {
		t.Errorf("VariantOptions[size] = %q, want M", got)
	}
}

func TestRefresh_FailureKeepsLastGoodSnapshot(t *testing.T) {
	good := snapshot(model.CartItem{ProductID: "p1", Qty: 2})
	fail := false
	r, rec := newTestReconciler(&backend.Mock{
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) {
			if fail {
				return model.CartSnapshot{}, model.NewTransportError(0, errors.New("connection refused"))
			}
			return good, nil
		},
	}, false)
	ctx := context.Background()

	r.Refresh(ctx)
	fail = true
	err := r.Refresh(ctx)

	if model.Classify(err) != model.KindTransport {
		t.Fatalf("Refresh() error = %v, want transport", err)
	}
	if r.Status() != StatusErrored || r.LastError() == nil {
		t.Errorf("Status() = %v, LastError() = %v", r.Status(), r.LastError())
	}
	if !reflect.DeepEqual(r.Snapshot(), good) {
		t.Errorf("snapshot changed on failed refresh: %+v", r.Snapshot())
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Level != notify.LevelError || events[0].Title != "Cart unavailable" {
		t.Errorf("events = %+v", events)
	}

	fail = false
	r.Refresh(ctx)
	if r.LastError() != nil || r.Status() != StatusReady {
		t.Error("a successful refresh should clear the error state")
	}
}

func TestAddItem_SwapsSnapshot(t *testing.T) {
	var got *backend.AddItemRequest
	r, rec := newTestReconciler(&backend.Mock{
		AddItemFunc: func(_ context.Context, req *backend.AddItemRequest) (model.CartSnapshot, error) {
			got = req
			return snapshot(model.CartItem{ProductID: "p1", Qty: 1, VariantID: "v1", UnitPrice: int64Ptr(2500)}), nil
		},
	}, false)

	opts := &model.AddItemOptions{VariantID: "v1", VariantLabel: "Red / M", UnitPrice: int64Ptr(2500)}
	snap, err := r.AddItem(context.Background(), "p1", 1, opts)
	if err != nil {
		t.Fatalf("AddItem() error: %v", err)
	}
	if got.VariantID != "v1" || got.VariantLabel != "Red / M" || got.Qty != 1 {
		t.Errorf("request = %+v", got)
	}
	if len(snap.Items) != 1 || r.Subtotal() != 2500 {
		t.Errorf("snapshot = %+v, subtotal = %d", snap, r.Subtotal())
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Title != "Added to cart" || events[0].Op != "add:p1::v1" {
		t.Errorf("events = %+v", events)
	}
}

func TestAddItem_RejectsNonPositiveQty(t *testing.T) {
	var calls atomic.Int32
	r, rec := newTestReconciler(&backend.Mock{
		AddItemFunc: func(context.Context, *backend.AddItemRequest) (model.CartSnapshot, error) {
			calls.Add(1)
			return snapshot(), nil
		},
	}, false)

	for _, qty := range []int{0, -2} {
		if _, err := r.AddItem(context.Background(), "p1", qty, nil); !errors.Is(err, model.ErrInvalidRequest) {
			t.Errorf("AddItem(qty=%d) error = %v, want ErrInvalidRequest", qty, err)
		}
	}
	if calls.Load() != 0 || rec.Len() != 0 {
		t.Errorf("calls = %d, events = %d; want none", calls.Load(), rec.Len())
	}
}

func TestAddItem_SameKeyWhilePending(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var calls atomic.Int32

	r, rec := newTestReconciler(&backend.Mock{
		AddItemFunc: func(context.Context, *backend.AddItemRequest) (model.CartSnapshot, error) {
			if calls.Add(1) == 1 {
				close(started)
			}
			<-release
			return snapshot(model.CartItem{ProductID: "p1", Qty: 1}), nil
		},
	}, false)
	ctx := context.Background()

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		if _, err := r.AddItem(ctx, "p1", 1, nil); err != nil {
			t.Errorf("first AddItem() error: %v", err)
		}
	}()
	<-started

	if !r.Pending(gateway.Add("p1", "")) {
		t.Fatal("add:p1 should be pending")
	}
	_, err := r.AddItem(ctx, "p1", 1, nil)
	if !errors.Is(err, model.ErrAlreadyInFlight) {
		t.Errorf("second AddItem() error = %v, want ErrAlreadyInFlight", err)
	}
	if r.ItemError(gateway.Add("p1", "")) != nil {
		t.Error("rejected duplicate must not record an item error")
	}

	close(release)
	wg.Wait()

	if calls.Load() != 1 {
		t.Errorf("backend calls = %d, want 1", calls.Load())
	}
	if rec.Len() != 1 {
		t.Errorf("events = %d, want 1", rec.Len())
	}
	if r.Pending(gateway.Add("p1", "")) {
		t.Error("key should be released after completion")
	}
}

func TestUpdateItem_FailureLeavesSnapshot(t *testing.T) {
	initial := snapshot(model.CartItem{ProductID: "p1", Qty: 2})
	r, rec := newTestReconciler(&backend.Mock{
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) { return initial, nil },
		UpdateItemFunc: func(context.Context, *backend.UpdateItemRequest) (model.CartSnapshot, error) {
			return model.CartSnapshot{}, model.NewOperationalError("OUT_OF_STOCK", "Only 4 left", 409)
		},
	}, false)
	ctx := context.Background()
	r.Refresh(ctx)

	_, err := r.UpdateItem(ctx, "p1", 5, "")
	if model.Classify(err) != model.KindOperational {
		t.Fatalf("UpdateItem() error = %v, want operational", err)
	}
	if !reflect.DeepEqual(r.Snapshot(), initial) {
		t.Errorf("snapshot changed after failed update")
	}
	if r.ItemCount() != 2 {
		t.Errorf("ItemCount() = %d, want 2", r.ItemCount())
	}

	key := gateway.Update("p1", "")
	if r.ItemError(key) == nil || model.Message(r.ItemError(key)) != "Only 4 left" {
		t.Errorf("ItemError() = %v", r.ItemError(key))
	}
	if r.Pending(key) {
		t.Error("key should be released after failure")
	}

	events := rec.Events()
	if len(events) != 1 || events[0].Title != "Cart update failed" || events[0].Description != "Only 4 left" {
		t.Errorf("events = %+v", events)
	}
}

func TestUpdateItem_ClampsAndClearsItemError(t *testing.T) {
	fail := true
	var sent []int
	r, _ := newTestReconciler(&backend.Mock{
		UpdateItemFunc: func(_ context.Context, req *backend.UpdateItemRequest) (model.CartSnapshot, error) {
			sent = append(sent, req.Qty)
			if fail {
				return model.CartSnapshot{}, model.NewOperationalError("", "nope", 400)
			}
			return snapshot(), nil
		},
	}, false)
	ctx := context.Background()
	key := gateway.Update("p1", "v1")

	r.UpdateItem(ctx, "p1", -4, "v1")
	if r.ItemError(key) == nil {
		t.Fatal("expected item error after failure")
	}
	fail = false
	if _, err := r.UpdateItem(ctx, "p1", 0, "v1"); err != nil {
		t.Fatalf("UpdateItem() error: %v", err)
	}
	if r.ItemError(key) != nil {
		t.Error("success should clear the item error")
	}
	if !reflect.DeepEqual(sent, []int{0, 0}) {
		t.Errorf("sent qty = %v, want [0 0]", sent)
	}
}

func TestUpdateAndRemoveUseDistinctKeys(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	var removeCalls atomic.Int32

	r, _ := newTestReconciler(&backend.Mock{
		UpdateItemFunc: func(context.Context, *backend.UpdateItemRequest) (model.CartSnapshot, error) {
			close(started)
			<-release
			return snapshot(), nil
		},
		RemoveItemFunc: func(_ context.Context, req *backend.RemoveItemRequest) (model.CartSnapshot, error) {
			removeCalls.Add(1)
			return snapshot(), nil
		},
	}, false)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.UpdateItem(ctx, "p1", 3, "")
	}()
	<-started

	if _, err := r.RemoveItem(ctx, "p1", ""); err != nil {
		t.Errorf("RemoveItem() while update pending: %v", err)
	}
	close(release)
	<-done

	if removeCalls.Load() != 1 {
		t.Errorf("remove calls = %d, want 1", removeCalls.Load())
	}
}

func TestBeginCheckout(t *testing.T) {
	initial := snapshot(model.CartItem{ProductID: "p1", Qty: 1})

	tests := []struct {
		name      string
		url       string
		err       error
		wantKind  model.Kind
		wantLevel notify.Level
		wantTitle string
	}{
		{
			name:      "success",
			url:       "https://pay.example/s/1",
			wantLevel: notify.LevelInfo,
			wantTitle: "Redirecting to checkout…",
		},
		{
			name:      "not configured",
			err:       model.NewNotConfiguredError("Stripe keys are missing", 503),
			wantKind:  model.KindConfiguration,
			wantLevel: notify.LevelInfo,
			wantTitle: "Checkout unavailable",
		},
		{
			name:      "empty url",
			url:       "",
			wantKind:  model.KindOperational,
			wantLevel: notify.LevelError,
			wantTitle: "Checkout failed",
		},
		{
			name:      "transport",
			err:       model.NewTransportError(502, nil),
			wantKind:  model.KindTransport,
			wantLevel: notify.LevelError,
			wantTitle: "Checkout failed",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got *backend.CheckoutSessionRequest
			r, rec := newTestReconciler(&backend.Mock{
				GetCartFunc: func(context.Context) (model.CartSnapshot, error) { return initial, nil },
				CreateCheckoutSessionFunc: func(_ context.Context, req *backend.CheckoutSessionRequest) (string, error) {
					got = req
					return tt.url, tt.err
				},
			}, false)
			ctx := context.Background()
			r.Refresh(ctx)

			url, err := r.BeginCheckout(ctx, &model.CheckoutOptions{SuccessURL: "https://shop/ok", CancelURL: "https://shop/cart"})
			if got.SuccessURL != "https://shop/ok" || got.CancelURL != "https://shop/cart" {
				t.Errorf("request = %+v", got)
			}

			if tt.wantKind == model.KindNone {
				if err != nil || url != tt.url {
					t.Fatalf("BeginCheckout() = %q, %v", url, err)
				}
			} else {
				if err == nil {
					t.Fatal("BeginCheckout() error = nil")
				}
				if model.Classify(err) != tt.wantKind {
					t.Errorf("Classify() = %v, want %v", model.Classify(err), tt.wantKind)
				}
				if r.ItemError(gateway.Checkout()) == nil {
					t.Error("checkout failure should be recorded under the checkout key")
				}
			}

			if !reflect.DeepEqual(r.Snapshot(), initial) {
				t.Error("checkout must never touch the cart snapshot")
			}
			events := rec.Events()
			if len(events) != 1 || events[0].Level != tt.wantLevel || events[0].Title != tt.wantTitle {
				t.Errorf("events = %+v", events)
			}
		})
	}
}

func TestAddItems_ContinuesOnFailure(t *testing.T) {
	var added []string
	var mu sync.Mutex
	final := snapshot(model.CartItem{ProductID: "p1", Qty: 1}, model.CartItem{ProductID: "p2", Qty: 2})

	r, rec := newTestReconciler(&backend.Mock{
		AddItemFunc: func(_ context.Context, req *backend.AddItemRequest) (model.CartSnapshot, error) {
			mu.Lock()
			defer mu.Unlock()
			added = append(added, req.ProductID)
			if req.ProductID == "gone" {
				return model.CartSnapshot{}, model.NewOperationalError("NOT_FOUND", "Product no longer available", 404)
			}
			return snapshot(), nil
		},
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) { return final, nil },
	}, false)

	res, err := r.AddItems(context.Background(), []LineRequest{
		{ProductID: "p1", Qty: 1},
		{ProductID: "gone", Qty: 1},
		{ProductID: "p2", Qty: 2, Options: &model.AddItemOptions{VariantID: "v9"}},
		{ProductID: "p3", Qty: 0},
	})
	if err != nil {
		t.Fatalf("AddItems() error: %v", err)
	}

	if !reflect.DeepEqual(added, []string{"p1", "gone", "p2"}) {
		t.Errorf("backend adds = %v", added)
	}
	if res.Added != 2 || len(res.Failed) != 2 {
		t.Errorf("result = %+v", res)
	}
	if res.Failed[0].Line.ProductID != "gone" || model.Classify(res.Failed[0].Err) != model.KindOperational {
		t.Errorf("Failed[0] = %+v", res.Failed[0])
	}
	if !reflect.DeepEqual(r.Snapshot(), final) {
		t.Error("snapshot should come from the final refresh")
	}

	var quiet, loud int
	var summary notify.Event
	for _, e := range rec.Events() {
		switch {
		case e.Op == "reorder":
			summary = e
		case e.Quiet:
			quiet++
		default:
			loud++
		}
	}
	if quiet != 2 || loud != 1 {
		t.Errorf("quiet = %d, loud = %d; want 2 quiet successes and 1 failure", quiet, loud)
	}
	if summary.Title != "Items added to cart" {
		t.Errorf("summary = %+v", summary)
	}
}

func TestAddItems_RefreshFailure(t *testing.T) {
	r, _ := newTestReconciler(&backend.Mock{
		AddItemFunc: func(context.Context, *backend.AddItemRequest) (model.CartSnapshot, error) { return snapshot(), nil },
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) {
			return model.CartSnapshot{}, model.NewTransportError(0, nil)
		},
	}, false)

	res, err := r.AddItems(context.Background(), []LineRequest{{ProductID: "p1", Qty: 1}})
	if err == nil || res.Added != 1 {
		t.Errorf("AddItems() = %+v, %v; want the refresh error", res, err)
	}
}

func TestIdentityChanged(t *testing.T) {
	user := ""
	r, _ := newTestReconciler(&backend.Mock{
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) {
			if user == "" {
				return snapshot(model.CartItem{ProductID: "p1", Qty: 1}), nil
			}
			return snapshot(model.CartItem{ProductID: "p2", Qty: 4}), nil
		},
	}, false)
	ctx := context.Background()

	r.Refresh(ctx)
	user = "u1"
	if err := r.IdentityChanged(ctx); err != nil {
		t.Fatalf("IdentityChanged() error: %v", err)
	}
	if r.ItemCount() != 4 || r.Snapshot().Items[0].ProductID != "p2" {
		t.Errorf("snapshot after identity change = %+v", r.Snapshot())
	}
}

func TestIdentityChanged_FailureShowsEmptyCart(t *testing.T) {
	calls := 0
	r, _ := newTestReconciler(&backend.Mock{
		GetCartFunc: func(context.Context) (model.CartSnapshot, error) {
			calls++
			if calls > 1 {
				return model.CartSnapshot{}, model.NewTransportError(0, nil)
			}
			return snapshot(model.CartItem{ProductID: "p1", Qty: 1}), nil
		},
	}, false)
	ctx := context.Background()

	r.Refresh(ctx)
	if err := r.IdentityChanged(ctx); err == nil {
		t.Fatal("IdentityChanged() should return the refresh error")
	}
	if r.ItemCount() != 0 {
		t.Error("the previous identity's cart must not stay visible")
	}
}

func TestLastResponseWins(t *testing.T) {
	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})

	r, _ := newTestReconciler(&backend.Mock{
		UpdateItemFunc: func(_ context.Context, req *backend.UpdateItemRequest) (model.CartSnapshot, error) {
			if req.ProductID == "p1" {
				close(slowStarted)
				<-slowRelease
				return snapshot(model.CartItem{ProductID: "p1", Qty: 1}), nil
			}
			return snapshot(model.CartItem{ProductID: "p2", Qty: 7}), nil
		},
	}, false)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.UpdateItem(ctx, "p1", 1, "")
	}()
	<-slowStarted

	r.UpdateItem(ctx, "p2", 7, "")
	close(slowRelease)
	<-done

	// Without fencing the response that arrived last is displayed.
	if got := r.Snapshot().Items[0].ProductID; got != "p1" {
		t.Errorf("snapshot from %s, want the later-arriving p1 response", got)
	}
}

func TestFenceStaleResponses(t *testing.T) {
	slowRelease := make(chan struct{})
	slowStarted := make(chan struct{})

	r, _ := newTestReconciler(&backend.Mock{
		UpdateItemFunc: func(_ context.Context, req *backend.UpdateItemRequest) (model.CartSnapshot, error) {
			if req.ProductID == "p1" {
				close(slowStarted)
				<-slowRelease
				return snapshot(model.CartItem{ProductID: "p1", Qty: 1}), nil
			}
			return snapshot(model.CartItem{ProductID: "p2", Qty: 7}), nil
		},
	}, true)
	ctx := context.Background()

	done := make(chan struct{})
	go func() {
		defer close(done)
		r.UpdateItem(ctx, "p1", 1, "")
	}()
	<-slowStarted

	r.UpdateItem(ctx, "p2", 7, "")
	close(slowRelease)
	<-done

	if got := r.Snapshot().Items[0].ProductID; got != "p2" {
		t.Errorf("snapshot from %s, want p2: the older request's response is stale", got)
	}
}

func TestClose_DiscardsLateCompletion(t *testing.T) {
	release := make(chan struct{})
	started := make(chan struct{})
	r, rec := newTestReconciler(&backend.Mock{
		AddItemFunc: func(context.Context, *backend.AddItemRequest) (model.CartSnapshot, error) {
			close(started)
			<-release
			return snapshot(model.CartItem{ProductID: "p1", Qty: 1}), nil
		},
	}, false)
	ctx := context.Background()

	errc := make(chan error, 1)
	go func() {
		_, err := r.AddItem(ctx, "p1", 1, nil)
		errc <- err
	}()
	<-started
	r.Close()
	close(release)

	if err := <-errc; err != nil {
		t.Errorf("late completion returned %v, want nil", err)
	}
	if r.ItemCount() != 0 {
		t.Error("late completion must not be applied after Close")
	}
	if rec.Len() != 0 {
		t.Errorf("events after Close = %d, want 0", rec.Len())
	}

	if _, err := r.AddItem(ctx, "p1", 1, nil); !errors.Is(err, gateway.ErrClosed) {
		t.Errorf("AddItem after Close error = %v, want ErrClosed", err)
	}
	if err := r.Refresh(ctx); !errors.Is(err, gateway.ErrClosed) {
		t.Errorf("Refresh after Close error = %v, want ErrClosed", err)
	}
}

func TestStatus_String(t *testing.T) {
	want := map[Status]string{StatusIdle: "idle", StatusLoading: "loading", StatusReady: "ready", StatusErrored: "errored"}
	for s, name := range want {
		if s.String() != name {
			t.Errorf("%d.String() = %q, want %q", int(s), s.String(), name)
		}
	}
}
