package interpreter

import (
	"context"
	"errors"
	"strings"
	"testing"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	"github.com/tanpawarit/ad-buyer-orchestrator/agent/prompt"
	structuredx "github.com/tanpawarit/ad-buyer-orchestrator/agent/protocol/structured"
)

type fakeToolCallingModel struct {
	responses []*schema.Message
	err       error
	idx       int
	inputs    [][]*schema.Message
}

func (f *fakeToolCallingModel) Generate(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.Message, error) {
	f.inputs = append(f.inputs, input)
	if f.err != nil {
		return nil, f.err
	}
	if f.idx >= len(f.responses) {
		return nil, errors.New("no fake response left")
	}
	msg := f.responses[f.idx]
	f.idx++
	return msg, nil
}

func (f *fakeToolCallingModel) Stream(ctx context.Context, input []*schema.Message, opts ...einomodel.Option) (*schema.StreamReader[*schema.Message], error) {
	return nil, errors.New("stream not implemented in fake model")
}

func (f *fakeToolCallingModel) WithTools(tools []*schema.ToolInfo) (einomodel.ToolCallingChatModel, error) {
	return f, nil
}

func newTestLLM(t *testing.T, fake *fakeToolCallingModel) *LLM {
	t.Helper()
	l, err := NewLLM(context.Background(), fake, prompt.LoadPromptSet().Interpreter, structuredx.DefaultCatalog())
	if err != nil {
		t.Fatalf("NewLLM() error = %v", err)
	}
	return l
}

func TestLLMInterpretStructuredIntent(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{
			{Content: `{"operation":"create_order","arguments":{"name":"Q4 push","accountId":"acc-1","budget":25000},"confidence":0.92}`},
		},
	}
	l := newTestLLM(t, fake)

	intent, err := l.Interpret(context.Background(), "open a Q4 push order on acc-1 for $25,000")
	if err != nil {
		t.Fatalf("Interpret() error = %v", err)
	}
	if intent.Operation != "create_order" {
		t.Fatalf("unexpected operation: %s", intent.Operation)
	}
	if intent.Args["accountId"] != "acc-1" {
		t.Fatalf("unexpected args: %v", intent.Args)
	}
	if intent.Confidence != 0.92 {
		t.Fatalf("unexpected confidence: %v", intent.Confidence)
	}

	if len(fake.inputs) != 1 || len(fake.inputs[0]) != 2 {
		t.Fatalf("expected system and user messages, got %v", fake.inputs)
	}
	system := fake.inputs[0][0].Content
	if !strings.Contains(system, "create_order: Create an order.") {
		t.Fatalf("system prompt misses the operation catalog: %s", system)
	}
	if fake.inputs[0][1].Content != "open a Q4 push order on acc-1 for $25,000" {
		t.Fatalf("unexpected user message: %s", fake.inputs[0][1].Content)
	}
}

func TestLLMInterpretExploratoryKeepsText(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Content: `{"operation":"","confidence":0.4}`}},
	}
	l := newTestLLM(t, fake)

	intent, err := l.Interpret(context.Background(), "which CTV packages reach sports fans?")
	if err != nil {
		t.Fatalf("Interpret() error = %v", err)
	}
	if intent.Operation != "" {
		t.Fatalf("expected exploratory intent, got %s", intent.Operation)
	}
	if intent.Reply != "which CTV packages reach sports fans?" {
		t.Fatalf("unexpected reply: %q", intent.Reply)
	}
	if intent.Args == nil {
		t.Fatal("args must never be nil")
	}
}

func TestLLMInterpretRejectsUnknownOperation(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Content: `{"operation":"drop_tables","confidence":0.9}`}},
	}
	l := newTestLLM(t, fake)

	_, err := l.Interpret(context.Background(), "please drop everything")
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestLLMInterpretRejectsConfidenceOutOfRange(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{
		responses: []*schema.Message{{Content: `{"operation":"list_products","confidence":3}`}},
	}
	l := newTestLLM(t, fake)

	_, err := l.Interpret(context.Background(), "list products")
	if !errors.Is(err, contractx.ErrSchemaViolation) {
		t.Fatalf("expected schema violation, got %v", err)
	}
}

func TestLLMInterpretModelFailure(t *testing.T) {
	t.Parallel()

	l := newTestLLM(t, &fakeToolCallingModel{err: errors.New("upstream 502")})

	_, err := l.Interpret(context.Background(), "list products")
	if !errors.Is(err, contractx.ErrModelInvoke) {
		t.Fatalf("expected model invoke error, got %v", err)
	}
}

func TestLLMInterpretRequiresText(t *testing.T) {
	t.Parallel()

	fake := &fakeToolCallingModel{}
	l := newTestLLM(t, fake)

	_, err := l.Interpret(context.Background(), "   ")
	if !errors.Is(err, contractx.ErrValidation) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if len(fake.inputs) != 0 {
		t.Fatal("model must not be called for empty text")
	}
}

func TestNewLLMRequiresPrompt(t *testing.T) {
	t.Parallel()

	_, err := NewLLM(context.Background(), &fakeToolCallingModel{}, "", nil)
	if !errors.Is(err, contractx.ErrPromptMissing) {
		t.Fatalf("expected prompt missing error, got %v", err)
	}
}

func TestLLMDescribeUsesRenderer(t *testing.T) {
	t.Parallel()

	l := newTestLLM(t, &fakeToolCallingModel{})
	text, err := l.Describe(context.Background(), "get_product", map[string]any{"id": "prod-7"})
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	if text != "Get product with ID prod-7" {
		t.Fatalf("unexpected text: %q", text)
	}
}

func TestOperationSummaryListsEveryOperation(t *testing.T) {
	t.Parallel()

	catalog := structuredx.DefaultCatalog()
	lines := strings.Split(OperationSummary(catalog), "\n")
	if len(lines) != len(catalog.Names()) {
		t.Fatalf("expected %d lines, got %d", len(catalog.Names()), len(lines))
	}
	if !strings.Contains(OperationSummary(catalog), "create_assignment: Create an assignment. [creativeId, lineId]") {
		t.Fatal("summary misses required arguments")
	}
}

func TestRulesInterpret(t *testing.T) {
	t.Parallel()

	tests := []struct {
		text string
		op   string
		args map[string]any
	}{
		{text: "List all available advertising products", op: "list_products"},
		{text: "show me the accounts", op: "list_accounts"},
		{text: "Get product with ID prod-42", op: "get_product", args: map[string]any{"id": "prod-42"}},
		{text: "Search for advertising products: sports video", op: "search_products", args: map[string]any{"query": "sports video"}},
		{text: "what works best for a B2B launch?", op: ""},
	}

	r := NewRules()
	for _, tc := range tests {
		intent, err := r.Interpret(context.Background(), tc.text)
		if err != nil {
			t.Fatalf("Interpret(%q) error = %v", tc.text, err)
		}
		if intent.Operation != tc.op {
			t.Fatalf("Interpret(%q) operation = %q, want %q", tc.text, intent.Operation, tc.op)
		}
		for k, v := range tc.args {
			if intent.Args[k] != v {
				t.Fatalf("Interpret(%q) arg %s = %v, want %v", tc.text, k, intent.Args[k], v)
			}
		}
		if tc.op == "" && intent.Reply != tc.text {
			t.Fatalf("exploratory reply = %q", intent.Reply)
		}
	}
}

func TestRulesRoundTripsRendererOutput(t *testing.T) {
	t.Parallel()

	r := NewRules()
	text, err := r.Describe(context.Background(), "get_order", map[string]any{"id": "ord-9"})
	if err != nil {
		t.Fatalf("Describe() error = %v", err)
	}
	intent, err := r.Interpret(context.Background(), text)
	if err != nil {
		t.Fatalf("Interpret() error = %v", err)
	}
	if intent.Operation != "get_order" || intent.Args["id"] != "ord-9" {
		t.Fatalf("unexpected intent: %+v", intent)
	}
}
