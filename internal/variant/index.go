// Package variant computes selectable option facets from a product's variant
// matrix and resolves a concrete variant once the shopper has chosen a value
// for every attribute. Everything here is pure: no I/O, no shared state.
package variant

import (
	"sort"
	"strings"

	"storefront/internal/model"
)

// keyPriority puts color-like keys first and size next; the rest sort alphabetically.
// Display contract only, but it must be stable for a given variant list.
var keyPriority = map[string]int{
	"color":  0,
	"colour": 0,
	"size":   1,
}

// Index is the attribute layout of one product's variants.
type Index struct {
	// Keys in display order.
	Keys []string
	// Values holds the distinct values seen for each key, sorted.
	Values map[string][]string
}

// BuildIndex collects the union of option keys across variants.
// An empty variant list yields an empty index.
func BuildIndex(variants []model.Variant) Index {
	seen := make(map[string]map[string]struct{})
	for _, v := range variants {
		for key, value := range v.Options {
			if seen[key] == nil {
				seen[key] = make(map[string]struct{})
			}
			seen[key][value] = struct{}{}
		}
	}

	idx := Index{
		Keys:   make([]string, 0, len(seen)),
		Values: make(map[string][]string, len(seen)),
	}
	for key, values := range seen {
		idx.Keys = append(idx.Keys, key)
		list := make([]string, 0, len(values))
		for value := range values {
			list = append(list, value)
		}
		sort.Strings(list)
		idx.Values[key] = list
	}
	SortKeys(idx.Keys)
	return idx
}

// SortKeys orders attribute keys in place: priority keys first, then alphabetical.
func SortKeys(keys []string) {
	sort.SliceStable(keys, func(i, j int) bool {
		pi, iok := keyPriority[strings.ToLower(keys[i])]
		pj, jok := keyPriority[strings.ToLower(keys[j])]
		switch {
		case iok && jok && pi != pj:
			return pi < pj
		case iok != jok:
			return iok
		}
		return keys[i] < keys[j]
	})
}

// Has reports whether key is one of the product's attribute keys.
func (idx Index) Has(key string) bool {
	_, ok := idx.Values[key]
	return ok
}

// Missing returns the keys (in display order) with no value in sel.
func (idx Index) Missing(sel model.Selection) []string {
	var missing []string
	for _, key := range idx.Keys {
		if sel[key] == "" {
			missing = append(missing, key)
		}
	}
	return missing
}
