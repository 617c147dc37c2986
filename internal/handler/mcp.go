// MCP transport handler using the official MCP Go SDK.
// Exposes the cart and variant picker as MCP tools so an agent can shop.
package handler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/modelcontextprotocol/go-sdk/mcp"

	"storefront/internal/cart"
	"storefront/internal/model"
	"storefront/internal/variant"
)

// === MCP Tool Input/Output Types ===
// Fields without omitempty are required by the generated input schema.

// GetCartInput is the input schema for get_cart.
type GetCartInput struct {
	Refresh bool `json:"refresh,omitempty" jsonschema:"reload the cart from the server before returning it"`
}

// AddItemInput is the input schema for add_item. Either slug (with an optional
// selection) or product_id must be given.
type AddItemInput struct {
	ProductID string            `json:"product_id,omitempty" jsonschema:"product ID, for products without variants or with a known variant_id"`
	Slug      string            `json:"slug,omitempty" jsonschema:"product slug; the variant is resolved from selection"`
	Qty       int               `json:"qty,omitempty" jsonschema:"quantity to add, defaults to 1"`
	Selection map[string]string `json:"selection,omitempty" jsonschema:"attribute selection, e.g. {\"color\":\"red\",\"size\":\"M\"}; empty picks the default variant"`
	VariantID string            `json:"variant_id,omitempty" jsonschema:"explicit variant ID when product_id is used"`
}

// UpdateItemInput is the input schema for update_item.
type UpdateItemInput struct {
	ProductID string `json:"product_id" jsonschema:"product ID of the cart line"`
	Qty       int    `json:"qty" jsonschema:"new quantity; 0 removes the line"`
	VariantID string `json:"variant_id,omitempty" jsonschema:"variant ID of the cart line"`
}

// RemoveItemInput is the input schema for remove_item.
type RemoveItemInput struct {
	ProductID string `json:"product_id" jsonschema:"product ID of the cart line"`
	VariantID string `json:"variant_id,omitempty" jsonschema:"variant ID of the cart line"`
}

// AddItemsInput is the input schema for add_items (reorder).
type AddItemsInput struct {
	Lines []cart.LineRequest `json:"lines" jsonschema:"lines to add in order"`
}

// AddItemsOutput reports a batch add.
type AddItemsOutput struct {
	Added  int          `json:"added"`
	Failed []FailedLine `json:"failed,omitempty"`
	Cart   *CartView    `json:"cart"`
}

// FailedLine is a batch line that was not added.
type FailedLine struct {
	ProductID string `json:"product_id"`
	Qty       int    `json:"qty"`
	Error     string `json:"error"`
}

// BeginCheckoutInput is the input schema for begin_checkout.
type BeginCheckoutInput struct {
	SuccessURL string `json:"success_url,omitempty" jsonschema:"URL to return to after payment"`
	CancelURL  string `json:"cancel_url,omitempty" jsonschema:"URL to return to when payment is abandoned"`
}

// CheckoutOutput carries the hosted payment page URL.
type CheckoutOutput struct {
	URL string `json:"url"`
}

// ProductFacetsInput is the input schema for product_facets.
type ProductFacetsInput struct {
	Slug      string            `json:"slug" jsonschema:"product slug"`
	Selection map[string]string `json:"selection,omitempty" jsonschema:"current attribute selection"`
}

// FacetsOutput describes the option facets of a product under a selection.
type FacetsOutput struct {
	ProductID    string                              `json:"product_id"`
	Title        string                              `json:"title"`
	Keys         []string                            `json:"keys"`
	Facets       map[string][]model.OptionFacetValue `json:"facets"`
	Selection    map[string]string                   `json:"selection"`
	Missing      []string                            `json:"missing,omitempty"`
	Resolved     *model.Variant                      `json:"resolved,omitempty"`
	Label        string                              `json:"label,omitempty"`
	Price        int64                               `json:"price"`
	PriceDisplay string                              `json:"price_display"`
	CanAdd       bool                                `json:"can_add"`
	Reason       string                              `json:"reason,omitempty"`
}

// SignInInput is the input schema for sign_in.
type SignInInput struct {
	UserID string `json:"user_id" jsonschema:"user ID"`
	Token  string `json:"token" jsonschema:"bearer token"`
}

// SignOutInput is the input schema for sign_out.
type SignOutInput struct{}

// NewMCPServer creates an MCP server with the cart tools registered.
func (h *Handler) NewMCPServer() *mcp.Server {
	server := mcp.NewServer(
		&mcp.Implementation{
			Name:    "storefront",
			Version: "1.0.0",
		},
		&mcp.ServerOptions{
			Instructions: "Storefront cart. Inspect product options with product_facets, " +
				"add the resolved variant with add_item, then begin_checkout for a payment URL.",
		},
	)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "get_cart",
		Description: "Get the cart with item count and subtotal.",
	}, h.mcpGetCart)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_item",
		Description: "Add a product to the cart. With slug, the variant is resolved and checked for stock before anything is sent.",
	}, h.mcpAddItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "update_item",
		Description: "Set the quantity of a cart line.",
	}, h.mcpUpdateItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "remove_item",
		Description: "Remove a cart line.",
	}, h.mcpRemoveItem)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "add_items",
		Description: "Add several lines, as when reordering. Failed lines are reported and the rest still go through.",
	}, h.mcpAddItems)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "begin_checkout",
		Description: "Create a checkout session and return the payment page URL.",
	}, h.mcpBeginCheckout)

	mcp.AddTool(server, &mcp.Tool{
		Name:        "product_facets",
		Description: "List a product's option values with stock and availability under a partial selection.",
	}, h.mcpProductFacets)

	if h.identity != nil {
		mcp.AddTool(server, &mcp.Tool{
			Name:        "sign_in",
			Description: "Attach a user to the session. The cart is reloaded for that user.",
		}, h.mcpSignIn)

		mcp.AddTool(server, &mcp.Tool{
			Name:        "sign_out",
			Description: "Drop the signed-in user. The cart is reloaded for the anonymous session.",
		}, h.mcpSignOut)
	}

	return server
}

// NewMCPHandler returns an HTTP handler for the MCP endpoint.
// Mount this at /mcp on your mux.
func (h *Handler) NewMCPHandler() http.Handler {
	server := h.NewMCPServer()
	return mcp.NewStreamableHTTPHandler(
		func(r *http.Request) *mcp.Server { return server },
		nil,
	)
}

// === Tool Handlers ===

func (h *Handler) mcpGetCart(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input GetCartInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.Refresh {
		if err := h.cart.Refresh(ctx); err != nil {
			return nil, nil, h.mcpError(err)
		}
	}
	return nil, h.cartView(nil), nil
}

func (h *Handler) mcpAddItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	qty := input.Qty
	if qty == 0 {
		qty = 1
	}

	productID := input.ProductID
	var opts *model.AddItemOptions
	switch {
	case input.Slug != "":
		p, err := h.catalog.ProductBySlug(ctx, input.Slug)
		if err != nil {
			return nil, nil, h.mcpError(err)
		}
		productID = p.ID
		if len(input.Selection) == 0 {
			opts = variant.DefaultAddOptions(p)
			break
		}
		picker := variant.NewPicker(*p)
		if err := picker.Select(input.Selection); err != nil {
			return nil, nil, h.mcpError(err)
		}
		if opts, err = picker.AddOptions(); err != nil {
			return nil, nil, h.mcpError(err)
		}
	case input.ProductID != "":
		if input.VariantID != "" {
			opts = &model.AddItemOptions{VariantID: input.VariantID}
		}
	default:
		return nil, nil, fmt.Errorf("slug or product_id is required")
	}

	prev := h.cart.Snapshot()
	if _, err := h.cart.AddItem(ctx, productID, qty, opts); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(&prev), nil
}

func (h *Handler) mcpUpdateItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input UpdateItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	prev := h.cart.Snapshot()
	if _, err := h.cart.UpdateItem(ctx, input.ProductID, input.Qty, input.VariantID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(&prev), nil
}

func (h *Handler) mcpRemoveItem(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input RemoveItemInput,
) (*mcp.CallToolResult, *CartView, error) {
	if input.ProductID == "" {
		return nil, nil, fmt.Errorf("product_id is required")
	}

	prev := h.cart.Snapshot()
	if _, err := h.cart.RemoveItem(ctx, input.ProductID, input.VariantID); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(&prev), nil
}

func (h *Handler) mcpAddItems(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input AddItemsInput,
) (*mcp.CallToolResult, *AddItemsOutput, error) {
	prev := h.cart.Snapshot()
	res, err := h.cart.AddItems(ctx, input.Lines)

	out := &AddItemsOutput{Added: res.Added}
	for _, f := range res.Failed {
		out.Failed = append(out.Failed, FailedLine{
			ProductID: f.Line.ProductID,
			Qty:       f.Line.Qty,
			Error:     model.Message(f.Err),
		})
	}
	if err != nil {
		// Lines may have been added even though the final refresh failed.
		h.logger.Warn("add_items refresh failed", slog.Int("added", res.Added), slog.String("error", err.Error()))
	}
	out.Cart = h.cartView(&prev)
	return nil, out, nil
}

func (h *Handler) mcpBeginCheckout(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input BeginCheckoutInput,
) (*mcp.CallToolResult, *CheckoutOutput, error) {
	url, err := h.cart.BeginCheckout(ctx, &model.CheckoutOptions{
		SuccessURL: input.SuccessURL,
		CancelURL:  input.CancelURL,
	})
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, &CheckoutOutput{URL: url}, nil
}

func (h *Handler) mcpProductFacets(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input ProductFacetsInput,
) (*mcp.CallToolResult, *FacetsOutput, error) {
	if input.Slug == "" {
		return nil, nil, fmt.Errorf("slug is required")
	}

	p, err := h.catalog.ProductBySlug(ctx, input.Slug)
	if err != nil {
		return nil, nil, h.mcpError(err)
	}
	picker := variant.NewPicker(*p)
	if err := picker.Select(input.Selection); err != nil {
		return nil, nil, h.mcpError(err)
	}

	sel := picker.Selection()
	out := &FacetsOutput{
		ProductID:    p.ID,
		Title:        p.Title,
		Keys:         picker.Keys(),
		Facets:       picker.Facets(),
		Selection:    sel,
		Label:        picker.Label(),
		Price:        picker.Price(),
		PriceDisplay: model.FormatCents(picker.Price(), p.Currency),
	}
	for _, key := range out.Keys {
		if sel[key] == "" {
			out.Missing = append(out.Missing, key)
		}
	}
	if v, ok := picker.Resolved(); ok {
		out.Resolved = &v
	}
	if _, err := picker.AddOptions(); err != nil {
		out.Reason = model.Message(err)
	} else {
		out.CanAdd = true
	}
	return nil, out, nil
}

func (h *Handler) mcpSignIn(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SignInInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.identity.SignIn(ctx, input.UserID, input.Token); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(nil), nil
}

func (h *Handler) mcpSignOut(
	ctx context.Context,
	req *mcp.CallToolRequest,
	input SignOutInput,
) (*mcp.CallToolResult, *CartView, error) {
	if err := h.identity.SignOut(ctx); err != nil {
		return nil, nil, h.mcpError(err)
	}
	return nil, h.cartView(nil), nil
}

// mcpError converts reconciler errors to MCP-friendly errors.
func (h *Handler) mcpError(err error) error {
	var apiErr *model.APIError
	if errors.As(err, &apiErr) {
		return fmt.Errorf("%s: %s", apiErr.Code, apiErr.Message)
	}
	// Don't leak internal error details
	h.logger.Error("mcp internal error", "error", err.Error())
	return fmt.Errorf("internal error")
}
