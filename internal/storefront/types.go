package storefront

import "encoding/json"

// Wire types for the storefront REST API. Field names are camelCase and
// numbers may arrive as floats; transform.go converts them to model types.

// CartResponse is returned by GET /cart and every cart mutation.
type CartResponse struct {
	Items    []CartItem                 `json:"items"`
	Products map[string]ProductResponse `json:"products"`
}

// CartItem is one server cart line.
type CartItem struct {
	ProductID      string         `json:"productId"`
	Qty            float64        `json:"qty"`
	VariantID      string         `json:"variantId,omitempty"`
	VariantLabel   string         `json:"variantLabel,omitempty"`
	VariantOptions map[string]any `json:"variantOptions,omitempty"`
	VariantImage   string         `json:"variantImage,omitempty"`
	UnitPrice      *float64       `json:"unitPrice,omitempty"`
}

// ProductResponse is a catalog product. The cart's products map and the
// product detail endpoint share this shape; documents from the backing store
// carry "_id" instead of "id".
type ProductResponse struct {
	ID               string            `json:"id"`
	DocID            string            `json:"_id"`
	Slug             string            `json:"slug"`
	Title            string            `json:"title"`
	Brand            string            `json:"brand,omitempty"`
	Price            float64           `json:"price"`
	Currency         string            `json:"currency,omitempty"`
	Stock            *float64          `json:"stock,omitempty"`
	Images           []string          `json:"images,omitempty"`
	DefaultVariantID string            `json:"defaultVariantId,omitempty"`
	Variants         []VariantResponse `json:"variants,omitempty"`
}

// VariantResponse is one variant as served. Option values are not
// guaranteed to be strings.
type VariantResponse struct {
	VariantID string         `json:"variantId"`
	Label     string         `json:"label,omitempty"`
	SKU       string         `json:"sku,omitempty"`
	Price     *float64       `json:"price,omitempty"`
	Stock     *float64       `json:"stock,omitempty"`
	Options   map[string]any `json:"options"`
	Images    []string       `json:"images,omitempty"`
}

// CheckoutSessionResponse is returned by POST /checkout/create-session.
type CheckoutSessionResponse struct {
	URL string `json:"url"`
}

// ErrorResponse is the structured error body: {"error": CODE, "message": ...}.
// Some deployments nest it under "data".
type ErrorResponse struct {
	Error   json.RawMessage `json:"error"`
	Message string          `json:"message"`
	Data    *struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	} `json:"data"`
}

// codeAndMessage extracts the error code and message from either shape.
func (e ErrorResponse) codeAndMessage() (string, string) {
	var code string
	if len(e.Error) > 0 {
		json.Unmarshal(e.Error, &code) // non-string codes are ignored
	}
	msg := e.Message
	if e.Data != nil {
		if code == "" {
			code = e.Data.Error
		}
		if msg == "" {
			msg = e.Data.Message
		}
	}
	return code, msg
}
