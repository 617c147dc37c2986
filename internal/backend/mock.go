package backend

import (
	"context"

	"storefront/internal/model"
)

// Mock implements Backend for testing.
// Each method can be configured via function fields.
type Mock struct {
	GetCartFunc               func(ctx context.Context) (model.CartSnapshot, error)
	AddItemFunc               func(ctx context.Context, req *AddItemRequest) (model.CartSnapshot, error)
	UpdateItemFunc            func(ctx context.Context, req *UpdateItemRequest) (model.CartSnapshot, error)
	RemoveItemFunc            func(ctx context.Context, req *RemoveItemRequest) (model.CartSnapshot, error)
	CreateCheckoutSessionFunc func(ctx context.Context, req *CheckoutSessionRequest) (string, error)
	ProductBySlugFunc         func(ctx context.Context, slug string) (*model.Product, error)
}

// GetCart calls GetCartFunc or returns an empty cart.
func (m *Mock) GetCart(ctx context.Context) (model.CartSnapshot, error) {
	if m.GetCartFunc != nil {
		return m.GetCartFunc(ctx)
	}
	return model.EmptySnapshot(), nil
}

// AddItem calls AddItemFunc or returns an error.
func (m *Mock) AddItem(ctx context.Context, req *AddItemRequest) (model.CartSnapshot, error) {
	if m.AddItemFunc != nil {
		return m.AddItemFunc(ctx, req)
	}
	return model.CartSnapshot{}, model.NewInternalError(nil)
}

// UpdateItem calls UpdateItemFunc or returns an error.
func (m *Mock) UpdateItem(ctx context.Context, req *UpdateItemRequest) (model.CartSnapshot, error) {
	if m.UpdateItemFunc != nil {
		return m.UpdateItemFunc(ctx, req)
	}
	return model.CartSnapshot{}, model.NewInternalError(nil)
}

// RemoveItem calls RemoveItemFunc or returns an error.
func (m *Mock) RemoveItem(ctx context.Context, req *RemoveItemRequest) (model.CartSnapshot, error) {
	if m.RemoveItemFunc != nil {
		return m.RemoveItemFunc(ctx, req)
	}
	return model.CartSnapshot{}, model.NewInternalError(nil)
}

// CreateCheckoutSession calls CreateCheckoutSessionFunc or reports the
// payment provider as unconfigured.
func (m *Mock) CreateCheckoutSession(ctx context.Context, req *CheckoutSessionRequest) (string, error) {
	if m.CreateCheckoutSessionFunc != nil {
		return m.CreateCheckoutSessionFunc(ctx, req)
	}
	return "", model.NewNotConfiguredError("", 503)
}

// ProductBySlug calls ProductBySlugFunc or returns not found.
func (m *Mock) ProductBySlug(ctx context.Context, slug string) (*model.Product, error) {
	if m.ProductBySlugFunc != nil {
		return m.ProductBySlugFunc(ctx, slug)
	}
	return nil, model.NewNotFoundError("product")
}

// Verify Mock implements Backend interface at compile time.
var _ Backend = (*Mock)(nil)
