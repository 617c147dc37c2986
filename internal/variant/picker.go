package variant

import (
	"storefront/internal/model"
)

// Picker holds one shopper's partial selection for one product.
// It recomputes facets on demand and performs the local add-to-cart checks
// that must never reach the server. Not safe for concurrent use.
type Picker struct {
	product   model.Product
	index     Index
	selection model.Selection
}

// NewPicker builds the attribute index for p with an empty selection.
func NewPicker(p model.Product) *Picker {
	return &Picker{
		product:   p,
		index:     BuildIndex(p.Variants),
		selection: model.Selection{},
	}
}

// Reset swaps in a product snapshot. The selection is cleared when the product
// identity changes and pruned to known keys when it is a refresh of the same product.
func (pk *Picker) Reset(p model.Product) {
	sameProduct := p.ID == pk.product.ID
	pk.product = p
	pk.index = BuildIndex(p.Variants)

	if !sameProduct {
		pk.selection = model.Selection{}
		return
	}
	for key := range pk.selection {
		if !pk.index.Has(key) {
			delete(pk.selection, key)
		}
	}
}

// Product returns the current product snapshot.
func (pk *Picker) Product() model.Product { return pk.product }

// Keys returns the attribute keys in display order.
func (pk *Picker) Keys() []string { return pk.index.Keys }

// Selection returns a copy of the current selection.
func (pk *Picker) Selection() model.Selection { return pk.selection.Clone() }

// Toggle selects value for key, or clears it when already selected.
// Keys outside the product's attribute set are rejected.
func (pk *Picker) Toggle(key, value string) error {
	if !pk.index.Has(key) {
		return model.NewValidationError("attribute", "unknown key "+key)
	}
	pk.selection = Toggle(pk.selection, key, value)
	return nil
}

// Select applies a whole selection, e.g. one decoded from a request.
func (pk *Picker) Select(sel model.Selection) error {
	next := model.Selection{}
	for key, value := range sel {
		if !pk.index.Has(key) {
			return model.NewValidationError("attribute", "unknown key "+key)
		}
		if value != "" {
			next[key] = value
		}
	}
	pk.selection = next
	return nil
}

// Facets computes the option facets for the current selection.
func (pk *Picker) Facets() map[string][]model.OptionFacetValue {
	return ComputeFacets(pk.product.Variants, pk.index.Keys, pk.selection)
}

// Resolved returns the variant matching a complete selection.
func (pk *Picker) Resolved() (model.Variant, bool) {
	return ResolveVariant(pk.product.Variants, pk.index.Keys, pk.selection)
}

// Label renders the current selection, e.g. "Red / M".
func (pk *Picker) Label() string {
	return Label(pk.index.Keys, pk.selection)
}

// Price is the resolved variant's price when it has one, otherwise the product price.
func (pk *Picker) Price() int64 {
	if v, ok := pk.Resolved(); ok && v.Price != nil {
		return *v.Price
	}
	return pk.product.Price
}

// AddOptions validates the selection locally and returns the variant
// descriptor to submit with an add-to-cart call.
//
// Products without variants use their own stock; an untracked product stock is
// purchasable. For variant products every attribute must be chosen and the
// resolved variant must have stock.
func (pk *Picker) AddOptions() (*model.AddItemOptions, error) {
	if !pk.product.HasVariants() {
		if s := pk.product.Stock; s != nil && *s <= 0 {
			return nil, model.NewOutOfStockError(pk.product.Title)
		}
		return nil, nil
	}

	if missing := pk.index.Missing(pk.selection); len(missing) > 0 {
		return nil, model.NewIncompleteSelectionError(missing)
	}

	v, ok := pk.Resolved()
	if !ok || v.StockLevel() <= 0 {
		return nil, model.NewOutOfStockError(pk.Label())
	}

	label := v.Label
	if label == "" {
		label = pk.Label()
	}
	opts := make(map[string]string, len(v.Options))
	for k, val := range v.Options {
		opts[k] = val
	}
	return &model.AddItemOptions{
		VariantID:      v.VariantID,
		VariantLabel:   label,
		VariantOptions: opts,
		UnitPrice:      v.Price,
	}, nil
}

// DefaultAddOptions describes the product's default variant, for quick-add from a listing.
// Returns nil for products without variants.
func DefaultAddOptions(p *model.Product) *model.AddItemOptions {
	v, ok := DefaultVariant(p)
	if !ok {
		return nil
	}
	return &model.AddItemOptions{
		VariantID:      v.VariantID,
		VariantLabel:   v.Label,
		VariantOptions: v.Options,
		UnitPrice:      v.Price,
	}
}
