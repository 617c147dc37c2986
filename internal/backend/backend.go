// Package backend defines the contract between the cart layer and the
// storefront REST API.
package backend

import (
	"context"

	"storefront/internal/model"
)

// Backend abstracts the storefront's cart, checkout and catalog endpoints.
// Every cart mutation returns the full authoritative snapshot; callers never
// patch local state.
type Backend interface {
	// GetCart fetches the cart for the current session (GET /cart).
	GetCart(ctx context.Context) (model.CartSnapshot, error)

	// AddItem adds qty of a product line (POST /cart/add).
	AddItem(ctx context.Context, req *AddItemRequest) (model.CartSnapshot, error)

	// UpdateItem sets the quantity of a line (POST /cart/update).
	// Quantity 0 is valid and means removal.
	UpdateItem(ctx context.Context, req *UpdateItemRequest) (model.CartSnapshot, error)

	// RemoveItem deletes a line (POST /cart/remove).
	RemoveItem(ctx context.Context, req *RemoveItemRequest) (model.CartSnapshot, error)

	// CreateCheckoutSession asks the payment backend for a hosted checkout URL
	// (POST /checkout/create-session). An unconfigured payment provider
	// yields an error wrapping model.ErrNotConfigured.
	CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (string, error)

	// ProductBySlug loads one product with its variants (GET /products/slug/:slug).
	ProductBySlug(ctx context.Context, slug string) (*model.Product, error)
}

// AddItemRequest is the body of POST /cart/add.
type AddItemRequest struct {
	ProductID      string            `json:"productId"`
	Qty            int               `json:"qty"`
	VariantID      string            `json:"variantId,omitempty"`
	VariantLabel   string            `json:"variantLabel,omitempty"`
	VariantOptions map[string]string `json:"variantOptions,omitempty"`
	UnitPrice      *int64            `json:"unitPrice,omitempty"`
}

// UpdateItemRequest is the body of POST /cart/update.
type UpdateItemRequest struct {
	ProductID string `json:"productId"`
	Qty       int    `json:"qty"`
	VariantID string `json:"variantId,omitempty"`
}

// RemoveItemRequest is the body of POST /cart/remove.
type RemoveItemRequest struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
}

// CheckoutSessionRequest is the body of POST /checkout/create-session.
type CheckoutSessionRequest struct {
	SuccessURL string `json:"successUrl,omitempty"`
	CancelURL  string `json:"cancelUrl,omitempty"`
}

// NewAddItemRequest builds the add body from a product id, quantity and
// the options resolved by the variant picker. opts may be nil.
func NewAddItemRequest(productID string, qty int, opts *model.AddItemOptions) *AddItemRequest {
	req := &AddItemRequest{ProductID: productID, Qty: qty}
	if opts != nil {
		req.VariantID = opts.VariantID
		req.VariantLabel = opts.VariantLabel
		req.VariantOptions = opts.VariantOptions
		req.UnitPrice = opts.UnitPrice
	}
	return req
}
