// storefront is a CLI for the shopping cart. Each command performs a single
// operation, making it composable for scripts. With REDIS_URL set the session
// (and therefore the cart) persists between runs.
//
// Commands:
//
//	storefront cart
//	storefront variants -slug SLUG [-opt key=value ...]
//	storefront add (-slug SLUG [-opt key=value ...] | -product ID [-variant ID]) [-qty N]
//	storefront update -product ID -qty N [-variant ID]
//	storefront remove -product ID [-variant ID]
//	storefront reorder -line ID:QTY [-line ID:QTY ...]
//	storefront checkout [-success URL] [-cancel URL]
//	storefront login -user ID -token TOKEN
//	storefront logout
//
// Examples:
//
//	storefront variants -api http://localhost:3000/api -slug classic-tee -opt size=M
//	storefront add -slug classic-tee -opt color=red -opt size=M -qty 2
//	URL=$(storefront checkout -q)
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strconv"
	"strings"

	"storefront/internal/app"
	"storefront/internal/cart"
	"storefront/internal/config"
	"storefront/internal/model"
	"storefront/internal/notify"
	"storefront/internal/variant"
)

const version = "1.0.0"

// Global flags (apply to all commands)
var (
	apiURL  string
	quiet   bool
	noColor bool
	verbose bool
	asJSON  bool

	// eventShown records that a failure event was printed this run.
	eventShown bool

	// currency is the configured display code for cart amounts.
	currency string
)

// ANSI color codes
var (
	colorReset  = "\033[0m"
	colorRed    = "\033[31m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorCyan   = "\033[36m"
	colorGray   = "\033[90m"
	colorBold   = "\033[1m"
)

func init() {
	if os.Getenv("NO_COLOR") != "" {
		disableColors()
	}
}

func disableColors() {
	colorReset, colorRed, colorGreen, colorYellow = "", "", "", ""
	colorCyan, colorGray, colorBold = "", "", ""
}

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	cmd := os.Args[1]
	args := os.Args[2:]

	switch cmd {
	case "cart":
		runCart(args)
	case "variants":
		runVariants(args)
	case "add":
		runAdd(args)
	case "update":
		runUpdate(args)
	case "remove":
		runRemove(args)
	case "reorder":
		runReorder(args)
	case "checkout":
		runCheckout(args)
	case "login":
		runLogin(args)
	case "logout":
		runLogout(args)
	case "-h", "-help", "--help", "help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n\n", cmd)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `storefront - shopping cart client

Usage:
  storefront <command> [options]

Commands:
  cart      Show the cart with totals
  variants  Show a product's options with stock and availability
  add       Add a product (resolving the variant from -opt selections)
  update    Set the quantity of a cart line
  remove    Remove a cart line
  reorder   Add several lines, continuing past failures
  checkout  Create a checkout session and print the payment URL
  login     Attach a user to the session
  logout    Drop the signed-in user

Configuration comes from the environment (API_BASE_URL, AUTH_TOKEN,
REDIS_URL, ...) or CONFIG_FILE; -api overrides API_BASE_URL.

Run 'storefront <command> -h' for command-specific options.
`)
}

// newFlagSet registers the global flags on a command's flag set.
func newFlagSet(name, usage string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	fs.StringVar(&apiURL, "api", "", "Storefront API base URL (overrides API_BASE_URL)")
	fs.BoolVar(&quiet, "q", false, "Quiet mode - only print the essential value")
	fs.BoolVar(&noColor, "no-color", false, "Disable colored output")
	fs.BoolVar(&verbose, "v", false, "Verbose - debug logging to stderr")
	fs.BoolVar(&asJSON, "json", false, "Print results as JSON")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: storefront %s %s\n\nOptions:\n", name, usage)
		fs.PrintDefaults()
	}
	return fs
}

// setup loads configuration and wires the cart for this run.
func setup(ctx context.Context) *app.App {
	if noColor {
		disableColors()
	}
	if apiURL != "" {
		os.Setenv("API_BASE_URL", apiURL)
	}

	cfg, err := config.Load(ctx)
	if err != nil {
		fatal("Configuration: %v", err)
	}
	currency = cfg.Currency

	a, err := app.New(ctx, cfg, app.Options{
		ClientName:    "storefront-cli",
		ClientVersion: version,
		Logger:        initLogger(),
		Notifier:      notify.Func(printEvent),
	})
	if err != nil {
		fatal("%v", err)
	}
	return a
}

// initLogger logs to stderr so stdout stays scriptable.
func initLogger() *slog.Logger {
	level := slog.LevelWarn
	if verbose || os.Getenv("LOG_LEVEL") == "debug" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// =============================================================================
// COMMANDS
// =============================================================================

func runCart(args []string) {
	fs := newFlagSet("cart", "[options]")
	fs.Parse(args)

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	if err := a.Cart.Refresh(ctx); err != nil {
		exitFor(err)
	}
	printCart(a.Cart.Snapshot(), nil)
}

func runVariants(args []string) {
	fs := newFlagSet("variants", "-slug SLUG [-opt key=value ...]")
	var slug string
	sel := selectionFlag{}
	fs.StringVar(&slug, "slug", "", "Product slug (required)")
	fs.Var(sel, "opt", "Selected option as key=value (repeatable)")
	fs.Parse(args)

	if slug == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	p, err := a.Client.ProductBySlug(ctx, slug)
	if err != nil {
		exitFor(err)
	}
	picker := variant.NewPicker(*p)
	if err := picker.Select(model.Selection(sel)); err != nil {
		exitFor(err)
	}

	facets := picker.Facets()
	if asJSON {
		printJSON(map[string]any{"product_id": p.ID, "keys": picker.Keys(), "facets": facets, "selection": picker.Selection()})
		return
	}

	fmt.Printf("%s%s%s  %s\n", colorBold, p.Title, colorReset, model.FormatCents(picker.Price(), p.Currency))
	current := picker.Selection()
	for _, key := range picker.Keys() {
		fmt.Printf("  %s%s%s:", colorCyan, key, colorReset)
		for _, fv := range facets[key] {
			mark := " "
			if current[key] == fv.Value {
				mark = "*"
			}
			color := colorGreen
			if !fv.Available {
				color = colorGray
			}
			fmt.Printf("  %s%s%s (%d)%s", color, mark, fv.Value, fv.SelectableStock, colorReset)
		}
		fmt.Println()
	}

	if _, err := picker.AddOptions(); err != nil {
		printWarning("%s", model.Message(err))
		return
	}
	if v, ok := picker.Resolved(); ok {
		printSuccess("Variant %s (%s) can be added", picker.Label(), v.VariantID)
		return
	}
	printSuccess("%s can be added", p.Title)
}

func runAdd(args []string) {
	fs := newFlagSet("add", "(-slug SLUG [-opt key=value ...] | -product ID [-variant ID]) [-qty N] [-price 19.99]")
	var slug, productID, variantID string
	var qty int
	var price centsFlag
	sel := selectionFlag{}
	fs.StringVar(&slug, "slug", "", "Product slug; the variant is resolved from -opt")
	fs.StringVar(&productID, "product", "", "Product ID")
	fs.StringVar(&variantID, "variant", "", "Variant ID, with -product")
	fs.IntVar(&qty, "qty", 1, "Quantity")
	fs.Var(sel, "opt", "Selected option as key=value (repeatable)")
	fs.Var(&price, "price", "Unit price to record on the line, e.g. 19.99")
	fs.Parse(args)

	if slug == "" && productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	var opts *model.AddItemOptions
	if slug != "" {
		p, err := a.Client.ProductBySlug(ctx, slug)
		if err != nil {
			exitFor(err)
		}
		productID = p.ID
		if len(sel) == 0 {
			opts = variant.DefaultAddOptions(p)
		} else {
			picker := variant.NewPicker(*p)
			if err := picker.Select(model.Selection(sel)); err != nil {
				exitFor(err)
			}
			if opts, err = picker.AddOptions(); err != nil {
				exitFor(err)
			}
		}
	} else if variantID != "" {
		opts = &model.AddItemOptions{VariantID: variantID}
	}
	if price.cents != nil {
		if opts == nil {
			opts = &model.AddItemOptions{}
		}
		opts.UnitPrice = price.cents
	}

	prev := loadCart(ctx, a)
	snap, err := a.Cart.AddItem(ctx, productID, qty, opts)
	if err != nil {
		exitFor(err)
	}
	printCart(snap, &prev)
}

func runUpdate(args []string) {
	fs := newFlagSet("update", "-product ID -qty N [-variant ID]")
	var productID, variantID string
	qty := -1
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.StringVar(&variantID, "variant", "", "Variant ID of the line")
	fs.IntVar(&qty, "qty", -1, "New quantity (required, 0 removes)")
	fs.Parse(args)

	if productID == "" || qty < 0 {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	prev := loadCart(ctx, a)
	snap, err := a.Cart.UpdateItem(ctx, productID, qty, variantID)
	if err != nil {
		exitFor(err)
	}
	printCart(snap, &prev)
}

func runRemove(args []string) {
	fs := newFlagSet("remove", "-product ID [-variant ID]")
	var productID, variantID string
	fs.StringVar(&productID, "product", "", "Product ID (required)")
	fs.StringVar(&variantID, "variant", "", "Variant ID of the line")
	fs.Parse(args)

	if productID == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	prev := loadCart(ctx, a)
	snap, err := a.Cart.RemoveItem(ctx, productID, variantID)
	if err != nil {
		exitFor(err)
	}
	printCart(snap, &prev)
}

func runReorder(args []string) {
	fs := newFlagSet("reorder", "-line ID:QTY [-line ID:QTY ...]")
	var lines lineFlag
	fs.Var(&lines, "line", "Line as productID:qty or productID:qty:variantID (repeatable)")
	fs.Parse(args)

	if len(lines) == 0 {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	prev := loadCart(ctx, a)
	res, err := a.Cart.AddItems(ctx, lines)
	for _, f := range res.Failed {
		printError("%s x%d: %s", f.Line.ProductID, f.Line.Qty, model.Message(f.Err))
	}
	if err != nil {
		exitFor(err)
	}
	printCart(a.Cart.Snapshot(), &prev)
	if len(res.Failed) > 0 {
		os.Exit(1)
	}
}

func runCheckout(args []string) {
	fs := newFlagSet("checkout", "[-success URL] [-cancel URL]")
	var success, cancel string
	fs.StringVar(&success, "success", "", "Return URL after payment")
	fs.StringVar(&cancel, "cancel", "", "Return URL when payment is abandoned")
	fs.Parse(args)

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	url, err := a.Cart.BeginCheckout(ctx, &model.CheckoutOptions{SuccessURL: success, CancelURL: cancel})
	if err != nil {
		exitFor(err)
	}
	if quiet {
		fmt.Println(url)
		return
	}
	fmt.Printf("  URL: %s%s%s\n", colorCyan, url, colorReset)
}

func runLogin(args []string) {
	fs := newFlagSet("login", "-user ID -token TOKEN")
	var userID, token string
	fs.StringVar(&userID, "user", "", "User ID (required)")
	fs.StringVar(&token, "token", "", "Bearer token (required)")
	fs.Parse(args)

	if userID == "" || token == "" {
		fs.Usage()
		os.Exit(1)
	}

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	if err := a.Session.SignIn(ctx, userID, token); err != nil {
		exitFor(err)
	}
	printSuccess("Signed in as %s", userID)
	printCart(a.Cart.Snapshot(), nil)
}

func runLogout(args []string) {
	fs := newFlagSet("logout", "[options]")
	fs.Parse(args)

	ctx := context.Background()
	a := setup(ctx)
	defer a.Close(ctx)

	if err := a.Session.SignOut(ctx); err != nil {
		exitFor(err)
	}
	printSuccess("Signed out")
}

// loadCart fetches the cart so the command can report what changed.
// A failed load is reported by the notifier and treated as empty.
func loadCart(ctx context.Context, a *app.App) model.CartSnapshot {
	if err := a.Cart.Refresh(ctx); err != nil {
		return model.EmptySnapshot()
	}
	return a.Cart.Snapshot()
}

// =============================================================================
// FLAG TYPES
// =============================================================================

// selectionFlag collects repeated -opt key=value flags.
type selectionFlag map[string]string

func (s selectionFlag) String() string {
	parts := make([]string, 0, len(s))
	for k, v := range s {
		parts = append(parts, k+"="+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (s selectionFlag) Set(v string) error {
	key, value, ok := strings.Cut(v, "=")
	if !ok || key == "" || value == "" {
		return fmt.Errorf("expected key=value, got %q", v)
	}
	s[key] = value
	return nil
}

// centsFlag parses a decimal price into cents. Unset leaves cents nil.
type centsFlag struct {
	cents *int64
}

func (c *centsFlag) String() string {
	if c.cents == nil {
		return ""
	}
	return model.FormatCents(*c.cents, "")
}

func (c *centsFlag) Set(v string) error {
	cents := model.ParseCents(v)
	if cents <= 0 {
		return fmt.Errorf("expected a positive price like 19.99, got %q", v)
	}
	c.cents = &cents
	return nil
}

// lineFlag collects repeated -line productID:qty[:variantID] flags.
type lineFlag []cart.LineRequest

func (l *lineFlag) String() string {
	parts := make([]string, 0, len(*l))
	for _, line := range *l {
		parts = append(parts, fmt.Sprintf("%s:%d", line.ProductID, line.Qty))
	}
	return strings.Join(parts, ",")
}

func (l *lineFlag) Set(v string) error {
	parts := strings.Split(v, ":")
	if len(parts) < 2 || len(parts) > 3 || parts[0] == "" {
		return fmt.Errorf("expected productID:qty[:variantID], got %q", v)
	}
	qty, err := strconv.Atoi(parts[1])
	if err != nil {
		return fmt.Errorf("invalid qty in %q: %w", v, err)
	}
	line := cart.LineRequest{ProductID: parts[0], Qty: qty}
	if len(parts) == 3 && parts[2] != "" {
		line.Options = &model.AddItemOptions{VariantID: parts[2]}
	}
	*l = append(*l, line)
	return nil
}

// =============================================================================
// OUTPUT
// =============================================================================

// printEvent renders reconciler events. Quiet events (reorder sub-steps) are
// shown only with -v.
func printEvent(_ context.Context, e notify.Event) {
	if quiet || asJSON || (e.Quiet && !verbose) {
		return
	}
	// Only failure events carry a kind.
	if e.Kind != model.KindNone {
		eventShown = true
	}
	msg := e.Title
	if e.Description != "" {
		msg += ": " + e.Description
	}
	switch {
	case e.Level == notify.LevelError:
		printError("%s", msg)
	case e.Level == notify.LevelInfo && e.Kind.Informational():
		printWarning("%s", msg)
	case e.Level == notify.LevelInfo:
		printInfo("%s", msg)
	default:
		printSuccess("%s", msg)
	}
}

func printCart(snap model.CartSnapshot, prev *model.CartSnapshot) {
	if asJSON {
		out := map[string]any{
			"items":      snap.Items,
			"products":   snap.Products,
			"item_count": snap.ItemCount(),
			"subtotal":   snap.Subtotal(),
		}
		if prev != nil {
			out["changes"] = cart.Diff(*prev, snap)
		}
		printJSON(out)
		return
	}
	if quiet {
		fmt.Println(model.FormatCents(snap.Subtotal(), ""))
		return
	}

	if len(snap.Items) == 0 {
		fmt.Printf("  %sCart is empty%s\n", colorGray, colorReset)
		return
	}
	for _, item := range snap.Items {
		title := item.ProductID
		if p, ok := snap.Products[item.ProductID]; ok && p.Title != "" {
			title = p.Title
		}
		if item.VariantLabel != "" {
			title += " (" + item.VariantLabel + ")"
		}
		unit := snap.UnitPrice(item)
		fmt.Printf("  %3d x %-40s %10s\n", item.Qty, title, model.FormatCents(unit*int64(item.Qty), currency))
	}
	fmt.Printf("  %s%d items, subtotal %s%s\n", colorBold, snap.ItemCount(), model.FormatCents(snap.Subtotal(), currency), colorReset)

	if prev != nil {
		d := cart.Diff(*prev, snap)
		for _, c := range d.Changed {
			fmt.Printf("  %s~ %s qty %d → %d%s\n", colorGray, c.ProductID, c.OldQty, c.NewQty, colorReset)
		}
	}
}

func printJSON(v any) {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		fatal("encoding output: %v", err)
	}
}

func printSuccess(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✓ %s%s\n", colorGreen, fmt.Sprintf(format, args...), colorReset)
}

func printError(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s✗ %s%s\n", colorRed, fmt.Sprintf(format, args...), colorReset)
}

func printInfo(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s→ %s%s\n", colorCyan, fmt.Sprintf(format, args...), colorReset)
}

func printWarning(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "%s! %s%s\n", colorYellow, fmt.Sprintf(format, args...), colorReset)
}

// exitFor reports err unless the notifier already showed it, then exits.
// Configuration failures are informational and exit 0.
func exitFor(err error) {
	kind := model.Classify(err)
	if !eventShown {
		if kind.Informational() {
			printWarning("%s", model.Message(err))
		} else {
			printError("%s", model.Message(err))
		}
	}
	if kind.Informational() {
		os.Exit(0)
	}
	os.Exit(1)
}

func fatal(format string, args ...any) {
	printError(format, args...)
	os.Exit(1)
}
