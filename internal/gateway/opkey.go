// Package gateway serializes cart mutations per operation key and turns
// every outcome into exactly one notification.
package gateway

import "strings"

// OpKind identifies the kind of cart mutation.
type OpKind uint8

const (
	OpAdd OpKind = iota + 1
	OpUpdate
	OpRemove
	OpCheckout
)

func (k OpKind) String() string {
	switch k {
	case OpAdd:
		return "add"
	case OpUpdate:
		return "update"
	case OpRemove:
		return "remove"
	case OpCheckout:
		return "checkout"
	default:
		return "unknown"
	}
}

// OpKey identifies one in-flight mutation. Two calls with equal keys are
// mutually exclusive; calls with different keys run concurrently.
type OpKey struct {
	Kind      OpKind
	ProductID string
	VariantID string
}

// Add keys an add-to-cart for one product line.
func Add(productID, variantID string) OpKey {
	return OpKey{Kind: OpAdd, ProductID: productID, VariantID: variantID}
}

// Update keys a quantity change for one product line.
func Update(productID, variantID string) OpKey {
	return OpKey{Kind: OpUpdate, ProductID: productID, VariantID: variantID}
}

// Remove keys a line removal.
func Remove(productID, variantID string) OpKey {
	return OpKey{Kind: OpRemove, ProductID: productID, VariantID: variantID}
}

// Checkout keys the single checkout operation.
func Checkout() OpKey {
	return OpKey{Kind: OpCheckout}
}

// String renders the key as "add:<pid>", "add:<pid>::<vid>" or "checkout".
func (k OpKey) String() string {
	if k.Kind == OpCheckout {
		return k.Kind.String()
	}
	var b strings.Builder
	b.WriteString(k.Kind.String())
	b.WriteByte(':')
	b.WriteString(k.ProductID)
	if k.VariantID != "" {
		b.WriteString("::")
		b.WriteString(k.VariantID)
	}
	return b.String()
}

// ParseOpKey reverses String. It reports false for malformed input.
func ParseOpKey(s string) (OpKey, bool) {
	if s == "checkout" {
		return Checkout(), true
	}
	kind, rest, ok := strings.Cut(s, ":")
	if !ok || rest == "" {
		return OpKey{}, false
	}
	pid, vid, _ := strings.Cut(rest, "::")
	if pid == "" {
		return OpKey{}, false
	}
	switch kind {
	case "add":
		return Add(pid, vid), true
	case "update":
		return Update(pid, vid), true
	case "remove":
		return Remove(pid, vid), true
	}
	return OpKey{}, false
}
