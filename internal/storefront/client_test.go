package storefront

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"storefront/internal/backend"
	"storefront/internal/model"
)

func newTestClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	c, err := New(Config{BaseURL: srv.URL + "/api/"})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return c
}

const cartJSON = `{
  "items": [
    {"productId": "p1", "qty": 2, "variantId": "v1", "variantOptions": {"color": "red", "size": 10}, "unitPrice": 500},
    {"productId": "p2", "qty": -1}
  ],
  "products": {
    "p1": {"_id": "p1", "title": "Tee", "slug": "tee", "price": 500},
    "p2": {"id": "p2", "title": "Mug", "price": 1999.0000001}
  }
}`

func TestNew_Validation(t *testing.T) {
	for _, base := range []string{"", "not a url", "/relative"} {
		if _, err := New(Config{BaseURL: base}); err == nil {
			t.Errorf("New(%q) should fail", base)
		}
	}
}

func TestGetCart(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet || r.URL.Path != "/api/cart" {
			t.Errorf("request = %s %s", r.Method, r.URL.Path)
		}
		if r.Header.Get("Accept") != "application/json" {
			t.Errorf("Accept = %q", r.Header.Get("Accept"))
		}
		io.WriteString(w, cartJSON)
	})

	snap, err := c.GetCart(context.Background())
	if err != nil {
		t.Fatalf("GetCart() error: %v", err)
	}
	if len(snap.Items) != 2 {
		t.Fatalf("items = %d", len(snap.Items))
	}

	first := snap.Items[0]
	if first.VariantOptions["size"] != "10" || first.VariantOptions["color"] != "red" {
		t.Errorf("VariantOptions = %v, want string values", first.VariantOptions)
	}
	if first.UnitPrice == nil || *first.UnitPrice != 500 {
		t.Errorf("UnitPrice = %v", first.UnitPrice)
	}
	if snap.Items[1].Qty != 0 {
		t.Errorf("negative qty = %d, want clamped to 0", snap.Items[1].Qty)
	}
	if snap.Products["p1"].ID != "p1" || snap.Products["p2"].Price != 1999 {
		t.Errorf("products = %+v", snap.Products)
	}
	if snap.Subtotal() != 1000 {
		t.Errorf("Subtotal() = %d, want 1000", snap.Subtotal())
	}
}

func TestMutations_RequestBodies(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]map[string]any{}

	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Errorf("method = %s", r.Method)
		}
		if r.Header.Get("Content-Type") != "application/json" {
			t.Errorf("Content-Type = %q", r.Header.Get("Content-Type"))
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		mu.Lock()
		bodies[r.URL.Path] = body
		mu.Unlock()
		io.WriteString(w, `{"items": [], "products": {}}`)
	})
	ctx := context.Background()

	price := int64(2500)
	opts := &model.AddItemOptions{VariantID: "v1", VariantLabel: "Red / M", VariantOptions: map[string]string{"color": "Red"}, UnitPrice: &price}
	if _, err := c.AddItem(ctx, backend.NewAddItemRequest("p1", 1, opts)); err != nil {
		t.Fatalf("AddItem() error: %v", err)
	}
	if _, err := c.UpdateItem(ctx, &backend.UpdateItemRequest{ProductID: "p1", Qty: -3, VariantID: "v1"}); err != nil {
		t.Fatalf("UpdateItem() error: %v", err)
	}
	if _, err := c.RemoveItem(ctx, &backend.RemoveItemRequest{ProductID: "p1"}); err != nil {
		t.Fatalf("RemoveItem() error: %v", err)
	}

	add := bodies["/api/cart/add"]
	if add["productId"] != "p1" || add["variantId"] != "v1" || add["variantLabel"] != "Red / M" || add["unitPrice"] != float64(2500) {
		t.Errorf("add body = %v", add)
	}
	if bodies["/api/cart/update"]["qty"] != float64(0) {
		t.Errorf("update qty = %v, want clamped 0", bodies["/api/cart/update"]["qty"])
	}
	remove := bodies["/api/cart/remove"]
	if _, ok := remove["variantId"]; ok {
		t.Errorf("remove body = %v, want no variantId", remove)
	}
}

func TestCreateCheckoutSession(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantURL  string
		wantKind model.Kind
		wantIs   error
	}{
		{
			name:    "success",
			status:  200,
			body:    `{"url": "https://pay.example/s/123"}`,
			wantURL: "https://pay.example/s/123",
		},
		{
			name:     "not configured",
			status:   503,
			body:     `{"error": "STRIPE_NOT_CONFIGURED", "message": "Stripe keys are missing"}`,
			wantKind: model.KindConfiguration,
			wantIs:   model.ErrNotConfigured,
		},
		{
			name:     "not configured nested under data",
			status:   503,
			body:     `{"data": {"error": "STRIPE_NOT_CONFIGURED", "message": "Stripe keys are missing"}}`,
			wantKind: model.KindConfiguration,
			wantIs:   model.ErrNotConfigured,
		},
		{
			name:     "empty url",
			status:   200,
			body:     `{"url": ""}`,
			wantKind: model.KindOperational,
		},
		{
			name:     "cart empty",
			status:   400,
			body:     `{"error": "CART_EMPTY", "message": "Your cart is empty"}`,
			wantKind: model.KindOperational,
			wantIs:   model.ErrInvalidRequest,
		},
		{
			name:     "unstructured 502",
			status:   502,
			body:     `<html>bad gateway</html>`,
			wantKind: model.KindTransport,
			wantIs:   model.ErrTransport,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.URL.Path != "/api/checkout/create-session" {
					t.Errorf("path = %s", r.URL.Path)
				}
				w.WriteHeader(tt.status)
				io.WriteString(w, tt.body)
			})

			url, err := c.CreateCheckoutSession(context.Background(), &backend.CheckoutSessionRequest{SuccessURL: "https://shop/ok"})
			if tt.wantURL != "" {
				if err != nil || url != tt.wantURL {
					t.Fatalf("CreateCheckoutSession() = %q, %v", url, err)
				}
				return
			}
			if err == nil {
				t.Fatal("CreateCheckoutSession() error = nil")
			}
			if got := model.Classify(err); got != tt.wantKind {
				t.Errorf("Classify() = %v, want %v", got, tt.wantKind)
			}
			if tt.wantIs != nil && !errors.Is(err, tt.wantIs) {
				t.Errorf("error = %v, want errors.Is %v", err, tt.wantIs)
			}
		})
	}
}

func TestParseErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		wantCode string
		wantMsg  string
		wantIs   error
	}{
		{"not found", 404, `{"error": "NOT_FOUND"}`, "NOT_FOUND", "request failed with status 404", model.ErrNotFound},
		{"invalid variant", 400, `{"error": "INVALID_VARIANT", "message": "That product variant is unavailable."}`, "INVALID_VARIANT", "That product variant is unavailable.", model.ErrInvalidRequest},
		{"unauthorized", 401, `{"message": "Sign in required"}`, "API_ERROR", "Sign in required", model.ErrUnauthorized},
		{"rate limited", 429, `{"error": "RATE_LIMITED"}`, "RATE_LIMITED", "request failed with status 429", model.ErrRateLimited},
		{"object error ignored", 500, `{"error": {"x": 1}, "message": "boom"}`, "API_ERROR", "boom", model.ErrUpstreamError},
		{"empty body", 500, ``, "TRANSPORT_ERROR", "request failed with status 500", model.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := parseErrorResponse(tt.status, []byte(tt.body))

			var apiErr *model.APIError
			if !errors.As(err, &apiErr) {
				t.Fatalf("error = %T, want *model.APIError", err)
			}
			if apiErr.Code != tt.wantCode || apiErr.Message != tt.wantMsg || apiErr.StatusCode != tt.status {
				t.Errorf("APIError = %+v", apiErr)
			}
			if !errors.Is(err, tt.wantIs) {
				t.Errorf("errors.Is(%v) = false", tt.wantIs)
			}
		})
	}
}

func TestTransportFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	base := srv.URL
	srv.Close()

	c, _ := New(Config{BaseURL: base})
	_, err := c.GetCart(context.Background())
	if model.Classify(err) != model.KindTransport {
		t.Errorf("Classify() = %v, want transport", model.Classify(err))
	}
	if model.Message(err) != "storefront API unreachable" {
		t.Errorf("Message() = %q", model.Message(err))
	}
}

func TestMalformedSuccessBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		io.WriteString(w, `{"items": "nope"}`)
	})
	_, err := c.GetCart(context.Background())
	if !errors.Is(err, model.ErrTransport) {
		t.Errorf("error = %v, want ErrTransport", err)
	}
}

func TestProductBySlug(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/products/slug/trail-tee" {
			t.Errorf("path = %s", r.URL.Path)
		}
		io.WriteString(w, `{
		  "_id": "64f0", "slug": "trail-tee", "title": "Trail Tee", "price": 2000, "currency": "USD",
		  "defaultVariantId": "tt-red-m",
		  "variants": [
		    {"variantId": "tt-red-m", "label": "Red / M", "price": 2200, "stock": 3, "options": {"color": "Red", "size": "M"}},
		    {"variantId": "tt-red-l", "stock": null, "options": {"color": "Red", "size": "L", "fit": null, "waist": 32}}
		  ]
		}`)
	})

	p, err := c.ProductBySlug(context.Background(), "trail-tee")
	if err != nil {
		t.Fatalf("ProductBySlug() error: %v", err)
	}
	if p.ID != "64f0" || p.Price != 2000 || p.DefaultVariantID != "tt-red-m" {
		t.Errorf("product = %+v", p)
	}
	if len(p.Variants) != 2 {
		t.Fatalf("variants = %d", len(p.Variants))
	}
	if p.Variants[0].Price == nil || *p.Variants[0].Price != 2200 || p.Variants[0].StockLevel() != 3 {
		t.Errorf("variant 0 = %+v", p.Variants[0])
	}
	second := p.Variants[1]
	if second.Stock != nil {
		t.Errorf("null stock = %v, want nil", *second.Stock)
	}
	if _, ok := second.Options["fit"]; ok {
		t.Error("null option values should be dropped")
	}
	if second.Options["waist"] != "32" {
		t.Errorf("waist = %q, want \"32\"", second.Options["waist"])
	}

	if _, err := c.ProductBySlug(context.Background(), ""); !errors.Is(err, model.ErrInvalidRequest) {
		t.Errorf("empty slug error = %v", err)
	}
}

func TestProductBySlug_SharesConcurrentFetches(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		io.WriteString(w, `{"id": "p1", "slug": "tee", "title": "Tee", "price": 100}`)
	})

	const callers = 5
	var wg sync.WaitGroup
	results := make([]*model.Product, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			p, err := c.ProductBySlug(context.Background(), "tee")
			if err != nil {
				t.Errorf("caller %d: %v", i, err)
				return
			}
			results[i] = p
		}(i)
	}

	// Let every caller join the in-flight request before the server answers.
	time.Sleep(100 * time.Millisecond)
	close(release)
	wg.Wait()

	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
	if results[0] == results[1] {
		t.Error("callers should receive independent product values")
	}
}

func TestProductBySlug_CancelledCallerDoesNotFailOthers(t *testing.T) {
	var hits atomic.Int32
	release := make(chan struct{})
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		<-release
		io.WriteString(w, `{"id": "p1", "slug": "tee", "title": "Tee", "price": 100}`)
	})

	firstCtx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.ProductBySlug(firstCtx, "tee")
		firstErr <- err
	}()

	deadline := time.Now().Add(2 * time.Second)
	for hits.Load() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}

	type result struct {
		p   *model.Product
		err error
	}
	second := make(chan result, 1)
	go func() {
		p, err := c.ProductBySlug(context.Background(), "tee")
		second <- result{p, err}
	}()
	time.Sleep(50 * time.Millisecond)

	cancel()
	select {
	case err := <-firstErr:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("cancelled caller error = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("cancelled caller still waiting")
	}

	close(release)
	res := <-second
	if res.err != nil {
		t.Fatalf("second caller error: %v", res.err)
	}
	if res.p.ID != "p1" {
		t.Errorf("ID = %s, want p1", res.p.ID)
	}
	if hits.Load() != 1 {
		t.Errorf("server hits = %d, want 1", hits.Load())
	}
}
