package storefront

import (
	"fmt"
	"math"
	"strconv"

	"storefront/internal/model"
)

// toSnapshot converts a cart response. Quantities are clamped to ≥0 and
// lines without a product id are dropped.
func toSnapshot(resp *CartResponse) model.CartSnapshot {
	snap := model.EmptySnapshot()
	if resp == nil {
		return snap
	}

	for _, item := range resp.Items {
		if item.ProductID == "" {
			continue
		}
		line := model.CartItem{
			ProductID:      item.ProductID,
			Qty:            model.ClampQty(int(math.Round(item.Qty))),
			VariantID:      item.VariantID,
			VariantLabel:   item.VariantLabel,
			VariantOptions: normalizeOptions(item.VariantOptions),
			VariantImage:   item.VariantImage,
		}
		if item.UnitPrice != nil {
			cents := toCents(*item.UnitPrice)
			line.UnitPrice = &cents
		}
		snap.Items = append(snap.Items, line)
	}

	for key, p := range resp.Products {
		id := productID(p)
		if id == "" {
			id = key
		}
		snap.Products[key] = model.ProductSummary{
			ID:     id,
			Title:  p.Title,
			Slug:   p.Slug,
			Price:  toCents(p.Price),
			Images: p.Images,
			Brand:  p.Brand,
		}
	}
	return snap
}

// toProduct converts a product detail response, normalizing variant options
// to strings.
func toProduct(resp *ProductResponse) *model.Product {
	p := &model.Product{
		ID:               productID(*resp),
		Slug:             resp.Slug,
		Title:            resp.Title,
		Price:            toCents(resp.Price),
		Currency:         resp.Currency,
		Stock:            toStock(resp.Stock),
		Brand:            resp.Brand,
		Images:           resp.Images,
		DefaultVariantID: resp.DefaultVariantID,
	}
	if len(resp.Variants) > 0 {
		p.Variants = make([]model.Variant, 0, len(resp.Variants))
	}
	for _, v := range resp.Variants {
		mv := model.Variant{
			VariantID: v.VariantID,
			Label:     v.Label,
			Stock:     toStock(v.Stock),
			Options:   normalizeOptions(v.Options),
			Images:    v.Images,
		}
		if mv.Options == nil {
			mv.Options = map[string]string{}
		}
		if v.Price != nil {
			cents := toCents(*v.Price)
			mv.Price = &cents
		}
		p.Variants = append(p.Variants, mv)
	}
	return p
}

func productID(p ProductResponse) string {
	if p.ID != "" {
		return p.ID
	}
	return p.DocID
}

// Prices are integer cents on the wire; rounding absorbs float noise.
func toCents(v float64) int64 {
	return int64(math.Round(v))
}

func toStock(v *float64) *int {
	if v == nil {
		return nil
	}
	n := int(math.Round(*v))
	return &n
}

// normalizeOptions converts option values to strings. Null values are dropped.
func normalizeOptions(in map[string]any) map[string]string {
	if len(in) == 0 {
		return nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		s, ok := optionString(v)
		if !ok {
			continue
		}
		out[k] = s
	}
	return out
}

func optionString(v any) (string, bool) {
	switch val := v.(type) {
	case nil:
		return "", false
	case string:
		return val, true
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64), true
	case bool:
		return strconv.FormatBool(val), true
	default:
		return fmt.Sprint(val), true
	}
}
