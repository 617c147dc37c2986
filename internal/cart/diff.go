package cart

import (
	"sort"

	"storefront/internal/model"
)

// LineDiff summarises how a cart changed between two snapshots.
// Lines are matched by product and variant, and each list is sorted by line key.
type LineDiff struct {
	Added   []model.CartItem `json:"added,omitempty"`
	Removed []model.CartItem `json:"removed,omitempty"`
	Changed []QtyChange      `json:"changed,omitempty"`
}

// QtyChange is a line present in both snapshots with a different quantity.
type QtyChange struct {
	ProductID string `json:"product_id"`
	VariantID string `json:"variant_id,omitempty"`
	OldQty    int    `json:"old_qty"`
	NewQty    int    `json:"new_qty"`
}

// IsEmpty returns true if the snapshots hold the same lines and quantities.
func (d LineDiff) IsEmpty() bool {
	return len(d.Added) == 0 && len(d.Removed) == 0 && len(d.Changed) == 0
}

// Diff computes the line changes from prev to next. Lines with qty 0 count
// as absent.
func Diff(prev, next model.CartSnapshot) LineDiff {
	before := indexLines(prev.Items)
	after := indexLines(next.Items)

	var d LineDiff
	for key, item := range after {
		old, ok := before[key]
		switch {
		case !ok:
			d.Added = append(d.Added, item)
		case old.Qty != item.Qty:
			d.Changed = append(d.Changed, QtyChange{
				ProductID: item.ProductID,
				VariantID: item.VariantID,
				OldQty:    old.Qty,
				NewQty:    item.Qty,
			})
		}
	}
	for key, item := range before {
		if _, ok := after[key]; !ok {
			d.Removed = append(d.Removed, item)
		}
	}

	sort.Slice(d.Added, func(i, j int) bool { return d.Added[i].LineKey() < d.Added[j].LineKey() })
	sort.Slice(d.Removed, func(i, j int) bool { return d.Removed[i].LineKey() < d.Removed[j].LineKey() })
	sort.Slice(d.Changed, func(i, j int) bool {
		a, b := d.Changed[i], d.Changed[j]
		if a.ProductID != b.ProductID {
			return a.ProductID < b.ProductID
		}
		return a.VariantID < b.VariantID
	})
	return d
}

// indexLines keys lines by product and variant. Duplicate lines are merged.
func indexLines(items []model.CartItem) map[string]model.CartItem {
	out := make(map[string]model.CartItem, len(items))
	for _, item := range items {
		if item.Qty <= 0 {
			continue
		}
		key := item.LineKey()
		if existing, ok := out[key]; ok {
			existing.Qty += item.Qty
			out[key] = existing
			continue
		}
		out[key] = item
	}
	return out
}
