// Package model defines the storefront's catalog and cart data structures
// and the error taxonomy shared by every layer.
package model

// === Catalog ===

// Variant is one purchasable configuration of a product (e.g. red / M).
// Immutable snapshot fetched from the server. Option values are always strings;
// the storefront client normalizes them once at ingest.
type Variant struct {
	VariantID string            `json:"variant_id,omitempty"`
	Label     string            `json:"label,omitempty"`
	Price     *int64            `json:"price,omitempty"` // cents; nil = inherit product price
	Stock     *int              `json:"stock,omitempty"` // nil = unknown, treated as 0
	Options   map[string]string `json:"options"`
	Images    []string          `json:"images,omitempty"`
}

// StockLevel returns the variant stock, treating an unknown level as empty.
func (v Variant) StockLevel() int {
	if v.Stock == nil || *v.Stock < 0 {
		return 0
	}
	return *v.Stock
}

// Product is the detail snapshot returned by GET /products/slug/:slug.
// Owned by whoever fetched it; discarded on navigation.
type Product struct {
	ID               string    `json:"id"`
	Slug             string    `json:"slug,omitempty"`
	Title            string    `json:"title"`
	Price            int64     `json:"price"` // cents
	Currency         string    `json:"currency,omitempty"`
	Stock            *int      `json:"stock,omitempty"`
	Brand            string    `json:"brand,omitempty"`
	Images           []string  `json:"images,omitempty"`
	DefaultVariantID string    `json:"default_variant_id,omitempty"`
	Variants         []Variant `json:"variants,omitempty"`
}

// HasVariants reports whether the product needs a variant selection before purchase.
func (p *Product) HasVariants() bool {
	return p != nil && len(p.Variants) > 0
}

// Selection maps attribute key to the chosen value.
// Keys are always a subset of the product's attribute keys.
type Selection map[string]string

// Clone returns an independent copy.
func (s Selection) Clone() Selection {
	out := make(Selection, len(s))
	for k, v := range s {
		out[k] = v
	}
	return out
}

// OptionFacetValue is one selectable value for an attribute key.
// Recomputed on every selection change, never persisted.
type OptionFacetValue struct {
	Value string `json:"value"`

	// Stock is the sum over every variant carrying this value, regardless of the rest of the selection.
	Stock int `json:"stock"`

	// SelectableStock only counts variants that also match the selection on every other key.
	SelectableStock int `json:"selectable_stock"`

	// Available: at least one variant matching the other keys has stock.
	Available bool `json:"available"`
}
