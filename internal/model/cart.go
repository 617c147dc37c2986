package model

// === Cart ===

// CartItem is one line in the server-owned cart.
// Qty is clamped to ≥0 on ingest and before transmission; 0 means removal.
type CartItem struct {
	ProductID      string            `json:"product_id"`
	Qty            int               `json:"qty"`
	VariantID      string            `json:"variant_id,omitempty"`
	VariantLabel   string            `json:"variant_label,omitempty"`
	VariantOptions map[string]string `json:"variant_options,omitempty"`
	UnitPrice      *int64            `json:"unit_price,omitempty"` // server-recorded line price, cents
	VariantImage   string            `json:"variant_image,omitempty"`
}

// LineKey identifies the line within the cart (product + variant).
func (i CartItem) LineKey() string {
	if i.VariantID == "" {
		return i.ProductID
	}
	return i.ProductID + "::" + i.VariantID
}

// ProductSummary is the product metadata the server returns alongside the cart.
// Its price is the cart's authoritative price, independent of any product
// detail the client fetched while browsing.
type ProductSummary struct {
	ID     string   `json:"id"`
	Title  string   `json:"title"`
	Slug   string   `json:"slug,omitempty"`
	Price  int64    `json:"price"` // cents
	Images []string `json:"images,omitempty"`
	Brand  string   `json:"brand,omitempty"`
}

// CartSnapshot is the complete cart as last returned by the server.
// Replaced wholesale on every successful mutation or refresh; never edited in place.
type CartSnapshot struct {
	Items    []CartItem                `json:"items"`
	Products map[string]ProductSummary `json:"products"`
}

// EmptySnapshot returns a snapshot with non-nil collections.
func EmptySnapshot() CartSnapshot {
	return CartSnapshot{
		Items:    []CartItem{},
		Products: map[string]ProductSummary{},
	}
}

// Clone returns a deep copy. Nil collections come back empty.
func (s CartSnapshot) Clone() CartSnapshot {
	out := CartSnapshot{
		Items:    make([]CartItem, len(s.Items)),
		Products: make(map[string]ProductSummary, len(s.Products)),
	}
	for i, item := range s.Items {
		if item.VariantOptions != nil {
			opts := make(map[string]string, len(item.VariantOptions))
			for k, v := range item.VariantOptions {
				opts[k] = v
			}
			item.VariantOptions = opts
		}
		if item.UnitPrice != nil {
			price := *item.UnitPrice
			item.UnitPrice = &price
		}
		out.Items[i] = item
	}
	for id, p := range s.Products {
		if p.Images != nil {
			p.Images = append([]string(nil), p.Images...)
		}
		out.Products[id] = p
	}
	return out
}

// ItemCount is Σ qty over all lines.
func (s CartSnapshot) ItemCount() int {
	total := 0
	for _, item := range s.Items {
		total += item.Qty
	}
	return total
}

// Subtotal is Σ qty × unit price in cents.
// The unit price is the line's server-recorded UnitPrice when present, else the
// price of the ProductSummary returned with this cart. Unknown products count as 0.
func (s CartSnapshot) Subtotal() int64 {
	var total int64
	for _, item := range s.Items {
		total += int64(item.Qty) * s.UnitPrice(item)
	}
	return total
}

// UnitPrice resolves the price used for a line.
func (s CartSnapshot) UnitPrice(item CartItem) int64 {
	if item.UnitPrice != nil {
		return *item.UnitPrice
	}
	if p, ok := s.Products[item.ProductID]; ok {
		return p.Price
	}
	return 0
}

// AddItemOptions carries the resolved variant descriptor for an add-to-cart call.
type AddItemOptions struct {
	VariantID      string            `json:"variant_id,omitempty"`
	VariantLabel   string            `json:"variant_label,omitempty"`
	VariantOptions map[string]string `json:"variant_options,omitempty"`
	UnitPrice      *int64            `json:"unit_price,omitempty"`
}

// CheckoutOptions are the optional redirect targets for a checkout session.
type CheckoutOptions struct {
	SuccessURL string `json:"success_url,omitempty"`
	CancelURL  string `json:"cancel_url,omitempty"`
}

// ClampQty returns qty, or 0 when negative.
func ClampQty(qty int) int {
	if qty < 0 {
		return 0
	}
	return qty
}
