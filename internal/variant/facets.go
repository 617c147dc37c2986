package variant

import (
	"sort"
	"strings"

	"storefront/internal/model"
)

// ComputeFacets returns, for every attribute key, the values that appear in any
// variant with their aggregate stock and availability under sel.
//
// A value is available when some variant carrying it matches sel on every key
// other than the one being computed and has stock. The key's own selection never
// hides its values, so the shopper can always switch.
//
// Each list is sorted available-first, then by descending stock, then by value.
func ComputeFacets(variants []model.Variant, keys []string, sel model.Selection) map[string][]model.OptionFacetValue {
	facets := make(map[string][]model.OptionFacetValue, len(keys))

	for _, key := range keys {
		buckets := make(map[string]*model.OptionFacetValue)
		var order []string

		for _, v := range variants {
			value, ok := v.Options[key]
			if !ok {
				continue
			}
			b, exists := buckets[value]
			if !exists {
				b = &model.OptionFacetValue{Value: value}
				buckets[value] = b
				order = append(order, value)
			}

			stock := v.StockLevel()
			b.Stock += stock
			if matchesExcept(v, sel, key) {
				b.SelectableStock += stock
				if stock > 0 {
					b.Available = true
				}
			}
		}

		values := make([]model.OptionFacetValue, 0, len(order))
		for _, value := range order {
			values = append(values, *buckets[value])
		}
		sortFacetValues(values)
		facets[key] = values
	}

	return facets
}

func sortFacetValues(values []model.OptionFacetValue) {
	sort.SliceStable(values, func(i, j int) bool {
		a, b := values[i], values[j]
		if a.Available != b.Available {
			return a.Available
		}
		if a.Stock != b.Stock {
			return a.Stock > b.Stock
		}
		return a.Value < b.Value
	})
}

// matchesExcept reports whether v agrees with every selected value except the one for skip.
// A variant without the selected key does not match.
func matchesExcept(v model.Variant, sel model.Selection, skip string) bool {
	for key, want := range sel {
		if key == skip || want == "" {
			continue
		}
		if got, ok := v.Options[key]; !ok || got != want {
			return false
		}
	}
	return true
}

// ResolveVariant returns the variant matching sel once every key has a value.
// Multiple matches resolve to the first in source order: the catalog is
// external and is not assumed to be clean. With no keys any selection is
// complete and the first variant wins.
func ResolveVariant(variants []model.Variant, keys []string, sel model.Selection) (model.Variant, bool) {
	if len(variants) == 0 {
		return model.Variant{}, false
	}
	for _, key := range keys {
		if sel[key] == "" {
			return model.Variant{}, false
		}
	}

	for _, v := range variants {
		match := true
		for _, key := range keys {
			if v.Options[key] != sel[key] {
				match = false
				break
			}
		}
		if match {
			return v, true
		}
	}
	return model.Variant{}, false
}

// DefaultVariant picks the product's explicit default when it names a known
// variant, otherwise the first variant. Products without variants have none.
func DefaultVariant(p *model.Product) (model.Variant, bool) {
	if !p.HasVariants() {
		return model.Variant{}, false
	}
	if p.DefaultVariantID != "" {
		for _, v := range p.Variants {
			if v.VariantID == p.DefaultVariantID {
				return v, true
			}
		}
	}
	return p.Variants[0], true
}

// Toggle returns a new selection with key set to value, or with key cleared
// when value is already selected. Repeat clicks unset; this is not a radio group.
func Toggle(sel model.Selection, key, value string) model.Selection {
	next := sel.Clone()
	if next[key] == value {
		delete(next, key)
		return next
	}
	next[key] = value
	return next
}

// Label joins the selected values in key order, e.g. "Red / M".
func Label(keys []string, sel model.Selection) string {
	parts := make([]string, 0, len(keys))
	for _, key := range keys {
		if v := sel[key]; v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, " / ")
}
