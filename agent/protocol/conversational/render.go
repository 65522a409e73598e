package conversational

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

var listPhrases = map[string]string{
	"list_products":  "List all available advertising products",
	"list_accounts":  "List all accounts",
	"list_orders":    "List all orders",
	"list_lines":     "List all line items",
	"list_creatives": "List all creatives",
}

// Renderer phrases a structured operation as a request a seller agent can
// act on. Output is deterministic for the same input.
type Renderer struct {
	printer *message.Printer
}

func NewRenderer() *Renderer {
	return &Renderer{printer: message.NewPrinter(language.English)}
}

// Describe satisfies the rendering half of the interpreter contract.
func (r *Renderer) Describe(_ context.Context, operation string, args map[string]any) (string, error) {
	return r.Render(operation, args), nil
}

func (r *Renderer) Render(operation string, args map[string]any) string {
	visible := withoutInternal(args)
	if phrase, ok := listPhrases[operation]; ok && len(visible) == 0 {
		return phrase
	}

	switch operation {
	case "create_account":
		kind := stringArg(visible, "type")
		if kind == "" {
			kind = "advertiser"
		}
		return fmt.Sprintf("Create an account named '%s' of type %s", stringArg(visible, "name"), kind)
	case "create_order":
		return r.printer.Sprintf("Create an order named '%s' for account %s with budget $%.2f",
			stringArg(visible, "name"), stringArg(visible, "accountId"), floatArg(visible, "budget"))
	case "create_line":
		return r.printer.Sprintf("Create a line item named '%s' for order %s using product %s with %d impressions",
			stringArg(visible, "name"), stringArg(visible, "orderId"), stringArg(visible, "productId"), intArg(visible, "quantity"))
	case "get_product":
		return "Get product with ID " + stringArg(visible, "id")
	case "get_account":
		return "Get account with ID " + stringArg(visible, "id")
	case "get_order":
		return "Get order with ID " + stringArg(visible, "id")
	case "search_products":
		if q := stringArg(visible, "query"); q != "" && len(visible) == 1 {
			return "Search for advertising products: " + q
		}
	}

	if len(visible) == 0 {
		return "Execute " + operation
	}
	keys := make([]string, 0, len(visible))
	for k := range visible {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, fmt.Sprintf("%s=%v", k, visible[k]))
	}
	return fmt.Sprintf("Execute %s with %s", operation, strings.Join(pairs, ", "))
}

func withoutInternal(args map[string]any) map[string]any {
	out := make(map[string]any, len(args))
	for k, v := range args {
		if k == "idempotencyKey" {
			continue
		}
		out[k] = v
	}
	return out
}

func stringArg(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case nil:
		return ""
	case string:
		return v
	default:
		return fmt.Sprint(v)
	}
}

func floatArg(args map[string]any, key string) float64 {
	switch v := args[key].(type) {
	case float64:
		return v
	case float32:
		return float64(v)
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case string:
		f, _ := strconv.ParseFloat(v, 64)
		return f
	default:
		return 0
	}
}

func intArg(args map[string]any, key string) int64 {
	switch v := args[key].(type) {
	case int:
		return int64(v)
	case int64:
		return v
	case float64:
		return int64(v)
	case string:
		n, _ := strconv.ParseInt(v, 10, 64)
		return n
	default:
		return 0
	}
}
