// Package handler exposes the cart reconciler and variant picker over HTTP and MCP.
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"storefront/internal/cart"
	"storefront/internal/model"
)

// Catalog fetches product details with variants.
type Catalog interface {
	ProductBySlug(ctx context.Context, slug string) (*model.Product, error)
}

// Identity switches the signed-in user behind the cart.
type Identity interface {
	SignIn(ctx context.Context, userID, token string) error
	SignOut(ctx context.Context) error
}

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	cart     *cart.Reconciler
	catalog  Catalog
	identity Identity
	currency string
	logger   *slog.Logger
}

// New creates a Handler over the reconciler and catalog.
func New(r *cart.Reconciler, catalog Catalog, logger *slog.Logger) *Handler {
	return &Handler{
		cart:    r,
		catalog: catalog,
		logger:  logger,
	}
}

// WithIdentity enables the sign_in and sign_out tools.
func (h *Handler) WithIdentity(id Identity) *Handler {
	h.identity = id
	return h
}

// WithCurrency sets the currency code used in display amounts.
func (h *Handler) WithCurrency(code string) *Handler {
	h.currency = code
	return h
}

// RegisterRoutes registers all HTTP routes with the given ServeMux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /cart", h.handleGetCart)

	// MCP transport - JSON-RPC endpoint using official MCP SDK
	mux.Handle("/mcp", h.NewMCPHandler())

	// Health check
	mux.HandleFunc("GET /health", h.handleHealth)
	mux.HandleFunc("GET /healthz", h.handleHealth)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"cart":   h.cart.Status().String(),
	})
}

// handleGetCart returns the current snapshot. ?refresh=1 reloads it first.
func (h *Handler) handleGetCart(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("refresh") != "" {
		if err := h.cart.Refresh(r.Context()); err != nil {
			h.writeError(w, err)
			return
		}
	}
	h.writeJSON(w, http.StatusOK, h.cartView(nil))
}

// CartView is the cart as returned to clients: the snapshot plus derived totals.
type CartView struct {
	Items           []model.CartItem                `json:"items"`
	Products        map[string]model.ProductSummary `json:"products"`
	ItemCount       int                             `json:"item_count"`
	Subtotal        int64                           `json:"subtotal"`
	SubtotalDisplay string                          `json:"subtotal_display"`
	Status          string                          `json:"status"`
	Pending         []string                        `json:"pending,omitempty"`
	Changes         *cart.LineDiff                  `json:"changes,omitempty"`
}

// cartView renders the reconciler state. prev, when set, is diffed against the
// current snapshot.
func (h *Handler) cartView(prev *model.CartSnapshot) *CartView {
	snap := h.cart.Snapshot()
	view := &CartView{
		Items:           snap.Items,
		Products:        snap.Products,
		ItemCount:       snap.ItemCount(),
		Subtotal:        snap.Subtotal(),
		SubtotalDisplay: model.FormatCents(snap.Subtotal(), h.currency),
		Status:          h.cart.Status().String(),
	}
	for _, key := range h.cart.PendingKeys() {
		view.Pending = append(view.Pending, key.String())
	}
	if prev != nil {
		if d := cart.Diff(*prev, snap); !d.IsEmpty() {
			view.Changes = &d
		}
	}
	return view
}

// === Response Helpers ===

// writeJSON sends a JSON response with the given status code.
func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("failed to encode response", slog.String("error", err.Error()))
	}
}

// writeError sends an error response, extracting status/code from APIError if present.
// Uses errors.As() to unwrap error chains (e.g., gateway.OpError wrapping).
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	var apiErr *model.APIError

	if !errors.As(err, &apiErr) {
		apiErr = &model.APIError{
			Code:       "INTERNAL_ERROR",
			Message:    "an internal error occurred",
			StatusCode: http.StatusInternalServerError,
		}
		h.logger.Error("internal error", slog.String("error", err.Error()))
	}

	h.writeJSON(w, statusFor(err, apiErr), errorResponse{
		Error: errorBody{
			Code:    apiErr.Code,
			Message: apiErr.Message,
			Kind:    model.Classify(err).String(),
		},
	})
}

// statusFor picks an HTTP status for local errors, which carry none.
func statusFor(err error, apiErr *model.APIError) int {
	if apiErr.StatusCode != 0 {
		return apiErr.StatusCode
	}
	switch {
	case errors.Is(err, model.ErrAlreadyInFlight):
		return http.StatusConflict
	case model.Classify(err) == model.KindValidation:
		return http.StatusUnprocessableEntity
	default:
		return http.StatusBadGateway
	}
}

// errorResponse is the JSON structure for error responses.
type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Kind    string `json:"kind"`
}
