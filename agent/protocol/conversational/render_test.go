package conversational

import "testing"

func TestRendererMappings(t *testing.T) {
	t.Parallel()

	r := NewRenderer()
	tests := []struct {
		op   string
		args map[string]any
		want string
	}{
		{"list_products", nil, "List all available advertising products"},
		{"list_lines", map[string]any{}, "List all line items"},
		{"create_account", map[string]any{"name": "Acme", "idempotencyKey": "bk-1"}, "Create an account named 'Acme' of type advertiser"},
		{"create_order", map[string]any{"name": "Spring", "accountId": "acc-1", "budget": 1234.5}, "Create an order named 'Spring' for account acc-1 with budget $1,234.50"},
		{"create_line", map[string]any{"name": "CTV", "orderId": "ord-1", "productId": "prod-9", "quantity": 5000000}, "Create a line item named 'CTV' for order ord-1 using product prod-9 with 5,000,000 impressions"},
		{"get_product", map[string]any{"id": "prod-1"}, "Get product with ID prod-1"},
		{"search_products", map[string]any{"query": "sports video"}, "Search for advertising products: sports video"},
		{"list_orders", map[string]any{"accountId": "acc-1", "limit": 10}, "Execute list_orders with accountId=acc-1, limit=10"},
		{"delete_assignment", nil, "Execute delete_assignment"},
	}
	for _, tt := range tests {
		if got := r.Render(tt.op, tt.args); got != tt.want {
			t.Fatalf("Render(%s) = %q, want %q", tt.op, got, tt.want)
		}
	}
}
