package structured

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
)

func TestDefaultCatalogHasOpenDirectSurface(t *testing.T) {
	t.Parallel()

	names := DefaultCatalog().Names()
	if len(names) != 33 {
		t.Fatalf("expected 33 operations, got %d: %v", len(names), names)
	}
	for _, want := range []string{
		"create_account", "list_accounts", "get_product", "search_products",
		"delete_assignment", "create_change_request", "list_messages", "update_organization",
	} {
		if _, ok := DefaultCatalog().Lookup(want); !ok {
			t.Fatalf("missing operation %s", want)
		}
	}
	for _, absent := range []string{"create_product", "update_assignment", "delete_order"} {
		if _, ok := DefaultCatalog().Lookup(absent); ok {
			t.Fatalf("unexpected operation %s", absent)
		}
	}
}

func TestCatalogRequiredFields(t *testing.T) {
	t.Parallel()

	tests := map[string][]string{
		"create_account":    {"advertiserId", "name"},
		"create_order":      {"accountId", "budget", "endDate", "name", "startDate"},
		"create_line":       {"endDate", "name", "orderId", "productId", "quantity", "startDate"},
		"create_assignment": {"creativeId", "lineId"},
		"get_product":       {"id"},
		"update_line":       {"id"},
		"list_products":     nil,
	}
	for name, want := range tests {
		op, ok := DefaultCatalog().Lookup(name)
		if !ok {
			t.Fatalf("missing %s", name)
		}
		if !reflect.DeepEqual(op.Required, want) {
			t.Fatalf("%s required = %v, want %v", name, op.Required, want)
		}
	}
}

func TestToolInfosDescribeEveryOperation(t *testing.T) {
	t.Parallel()

	infos := DefaultCatalog().ToolInfos()
	if len(infos) != 33 {
		t.Fatalf("expected 33 tool infos, got %d", len(infos))
	}
	for _, info := range infos {
		if info.Desc == "" || info.ParamsOneOf == nil {
			t.Fatalf("tool %s lacks description or params", info.Name)
		}
	}
	op, _ := DefaultCatalog().Lookup("create_assignment")
	if op.Info.Desc != "Create an assignment." {
		t.Fatalf("unexpected description %q", op.Info.Desc)
	}
}

func TestValidatorRejectsMissingFields(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil)
	_, err := v.Validate("create_line", map[string]any{"name": "Q3 video", "orderId": "ord-1"})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	for _, field := range []string{"productId", "quantity", "startDate", "endDate"} {
		if !strings.Contains(err.Error(), field) {
			t.Fatalf("error %q does not name %s", err, field)
		}
	}
}

func TestValidatorRejectsBlankRequiredString(t *testing.T) {
	t.Parallel()

	_, err := NewValidator(nil).Validate("get_order", map[string]any{"id": "  "})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}

func TestValidatorChecksTypes(t *testing.T) {
	t.Parallel()

	v := NewValidator(nil)
	_, err := v.Validate("create_order", map[string]any{
		"name": "Spring", "accountId": "acc-1", "budget": "lots",
		"startDate": "2025-04-01", "endDate": "2025-04-30",
	})
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error for string budget, got %v", err)
	}

	op, err := v.Validate("create_order", map[string]any{
		"name": "Spring", "accountId": "acc-1", "budget": 50000,
		"startDate": "2025-04-01", "endDate": "2025-04-30", "idempotencyKey": "bk-1",
		"x-extension": true,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if op.Name != "create_order" || !op.Mutating() {
		t.Fatalf("unexpected operation %+v", op)
	}
}

func TestValidatorUnknownOperation(t *testing.T) {
	t.Parallel()

	_, err := NewValidator(nil).Validate("drop_database", nil)
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
}
