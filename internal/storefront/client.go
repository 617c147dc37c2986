// Package storefront implements backend.Backend over the storefront's
// JSON REST API.
package storefront

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"golang.org/x/sync/singleflight"

	"storefront/internal/backend"
	"storefront/internal/model"
)

const userAgent = "storefront-go/1.0"

// maxErrorBody caps how much of an error reply is read.
const maxErrorBody = 64 << 10

// Config holds client configuration.
type Config struct {
	BaseURL string

	// Transport carries session headers; see transport.HeaderTransport.
	Transport http.RoundTripper
	Timeout   time.Duration
	Logger    *slog.Logger
}

// Client talks to the storefront API. Concurrent product-detail fetches for
// the same slug share one request.
type Client struct {
	httpClient *http.Client
	baseURL    string
	logger     *slog.Logger
	products   singleflight.Group
}

// New creates a client with the given configuration.
func New(cfg Config) (*Client, error) {
	if cfg.BaseURL == "" {
		return nil, fmt.Errorf("API base URL is required")
	}
	u, err := url.Parse(cfg.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid API base URL %q", cfg.BaseURL)
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 30 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Client{
		httpClient: &http.Client{Timeout: timeout, Transport: cfg.Transport},
		baseURL:    strings.TrimSuffix(cfg.BaseURL, "/"),
		logger:     logger,
	}, nil
}

// GetCart fetches the session's cart.
func (c *Client) GetCart(ctx context.Context) (model.CartSnapshot, error) {
	var resp CartResponse
	if err := c.do(ctx, http.MethodGet, "/cart", nil, &resp); err != nil {
		return model.CartSnapshot{}, err
	}
	return toSnapshot(&resp), nil
}

// AddItem adds a line.
func (c *Client) AddItem(ctx context.Context, req *backend.AddItemRequest) (model.CartSnapshot, error) {
	return c.mutateCart(ctx, "/cart/add", req)
}

// UpdateItem sets a line's quantity. Negative quantities are sent as 0.
func (c *Client) UpdateItem(ctx context.Context, req *backend.UpdateItemRequest) (model.CartSnapshot, error) {
	body := *req
	body.Qty = model.ClampQty(body.Qty)
	return c.mutateCart(ctx, "/cart/update", &body)
}

// RemoveItem deletes a line.
func (c *Client) RemoveItem(ctx context.Context, req *backend.RemoveItemRequest) (model.CartSnapshot, error) {
	return c.mutateCart(ctx, "/cart/remove", req)
}

func (c *Client) mutateCart(ctx context.Context, path string, body any) (model.CartSnapshot, error) {
	var resp CartResponse
	if err := c.do(ctx, http.MethodPost, path, body, &resp); err != nil {
		return model.CartSnapshot{}, err
	}
	return toSnapshot(&resp), nil
}

// CreateCheckoutSession returns the hosted checkout URL.
func (c *Client) CreateCheckoutSession(ctx context.Context, req *backend.CheckoutSessionRequest) (string, error) {
	if req == nil {
		req = &backend.CheckoutSessionRequest{}
	}
	var resp CheckoutSessionResponse
	if err := c.do(ctx, http.MethodPost, "/checkout/create-session", req, &resp); err != nil {
		return "", err
	}
	if resp.URL == "" {
		return "", model.NewOperationalError("CHECKOUT_SESSION_MISSING", "Checkout session could not be created", http.StatusOK)
	}
	return resp.URL, nil
}

// ProductBySlug loads a product with its variants. Concurrent calls for the
// same slug share one request. The shared request outlives any single
// caller's cancellation and is bounded by the client timeout; each caller
// stops waiting when its own ctx is done.
func (c *Client) ProductBySlug(ctx context.Context, slug string) (*model.Product, error) {
	if slug == "" {
		return nil, model.NewValidationError("slug", "must not be empty")
	}

	fetchCtx := context.WithoutCancel(ctx)
	ch := c.products.DoChan(slug, func() (any, error) {
		var resp ProductResponse
		if err := c.do(fetchCtx, http.MethodGet, "/products/slug/"+url.PathEscape(slug), nil, &resp); err != nil {
			return nil, err
		}
		return toProduct(&resp), nil
	})

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		if res.Shared {
			c.logger.Debug("product fetch shared", slog.String("slug", slug))
		}
		p := *res.Val.(*model.Product)
		return &p, nil
	}
}

// do sends a JSON request and decodes a JSON reply into out.
func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshaling %s request: %w", path, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("creating %s request: %w", path, err)
	}
	setAPIHeaders(req, in != nil)

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return model.NewTransportError(0, err)
	}
	defer resp.Body.Close()

	c.logger.Debug("storefront api call",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
		slog.Duration("duration", time.Since(start)),
	)

	if resp.StatusCode >= 400 {
		return c.handleErrorResponse(resp)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return model.NewTransportError(resp.StatusCode, err)
	}
	if out == nil || len(bytes.TrimSpace(data)) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewTransportError(resp.StatusCode, fmt.Errorf("parsing %s response: %w", path, err))
	}
	return nil
}

func setAPIHeaders(req *http.Request, hasBody bool) {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", userAgent)
	if hasBody {
		req.Header.Set("Content-Type", "application/json")
	}
}

func (c *Client) handleErrorResponse(resp *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return parseErrorResponse(resp.StatusCode, body)
}

// parseErrorResponse converts a non-2xx reply into an APIError.
// Replies without a structured body are transport failures.
func parseErrorResponse(statusCode int, body []byte) error {
	var errResp ErrorResponse
	json.Unmarshal(body, &errResp) // Best effort parse
	code, msg := errResp.codeAndMessage()

	if code == model.CodeNotConfigured {
		return model.NewNotConfiguredError(msg, statusCode)
	}
	if code == "" && msg == "" {
		return model.NewTransportError(statusCode, nil)
	}

	apiErr := model.NewOperationalError(code, msg, statusCode)
	switch statusCode {
	case http.StatusBadRequest:
		apiErr.Err = model.ErrInvalidRequest
	case http.StatusUnauthorized, http.StatusForbidden:
		apiErr.Err = model.ErrUnauthorized
	case http.StatusNotFound:
		apiErr.Err = model.ErrNotFound
	case http.StatusTooManyRequests:
		apiErr.Err = model.ErrRateLimited
	}
	return apiErr
}

// Verify Client implements Backend interface at compile time.
var _ backend.Backend = (*Client)(nil)
