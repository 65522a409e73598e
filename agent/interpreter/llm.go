package interpreter

import (
	"context"
	"fmt"
	"math"
	"strings"

	einomodel "github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/compose"
	"github.com/rs/zerolog/log"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	conversationalx "github.com/tanpawarit/ad-buyer-orchestrator/agent/protocol/conversational"
	structuredx "github.com/tanpawarit/ad-buyer-orchestrator/agent/protocol/structured"
)

var _ contractx.NaturalLanguageInterpreter = (*LLM)(nil)

// LLM reads buyer text with a chat model constrained to the structured
// operation catalog.
type LLM struct {
	runner     compose.Runnable[map[string]any, intentLLMOutput]
	catalog    *structuredx.Catalog
	renderer   *conversationalx.Renderer
	operations string
}

func NewLLM(ctx context.Context, chatModel einomodel.BaseChatModel, systemPrompt string, catalog *structuredx.Catalog) (*LLM, error) {
	if chatModel == nil {
		return nil, fmt.Errorf("%w: chat model is required", contractx.ErrValidation)
	}
	if strings.TrimSpace(systemPrompt) == "" {
		return nil, fmt.Errorf("%w: interpreter prompt", contractx.ErrPromptMissing)
	}
	if catalog == nil {
		catalog = structuredx.DefaultCatalog()
	}

	runner, err := compileIntentGraph(ctx, chatModel, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("%w: compile intent graph: %v", contractx.ErrModelInvoke, err)
	}
	return &LLM{
		runner:     runner,
		catalog:    catalog,
		renderer:   conversationalx.NewRenderer(),
		operations: OperationSummary(catalog),
	}, nil
}

func (l *LLM) Interpret(ctx context.Context, text string) (contractx.Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return contractx.Intent{}, fmt.Errorf("%w: text is required", contractx.ErrValidation)
	}

	out, err := l.runner.Invoke(ctx, map[string]any{
		"input":      text,
		"operations": l.operations,
	})
	if err != nil {
		return contractx.Intent{}, fmt.Errorf("%w: interpreter invoke: %v", contractx.ErrModelInvoke, err)
	}

	intent, err := l.toIntent(out, text)
	if err != nil {
		return contractx.Intent{}, err
	}
	log.Debug().
		Str("operation", intent.Operation).
		Float64("confidence", intent.Confidence).
		Msg("interpreted buyer request")
	return intent, nil
}

func (l *LLM) toIntent(out intentLLMOutput, text string) (contractx.Intent, error) {
	op := strings.TrimSpace(out.Operation)
	if op != "" {
		if _, ok := l.catalog.Lookup(op); !ok {
			return contractx.Intent{}, fmt.Errorf("%w: unsupported operation=%q", contractx.ErrSchemaViolation, op)
		}
	}
	if math.IsNaN(out.Confidence) || out.Confidence < 0 || out.Confidence > 1 {
		return contractx.Intent{}, fmt.Errorf("%w: confidence must be within [0,1]", contractx.ErrSchemaViolation)
	}

	args := out.Arguments
	if args == nil {
		args = map[string]any{}
	}
	reply := strings.TrimSpace(out.Reply)
	if op == "" && reply == "" {
		reply = text
	}
	return contractx.Intent{
		Operation:  op,
		Args:       args,
		Confidence: out.Confidence,
		Reply:      reply,
	}, nil
}

func (l *LLM) Describe(ctx context.Context, operation string, args map[string]any) (string, error) {
	return l.renderer.Describe(ctx, operation, args)
}

// OperationSummary lists every catalog operation as
// "name: description [required, ...]", one per line.
func OperationSummary(catalog *structuredx.Catalog) string {
	var b strings.Builder
	for _, name := range catalog.Names() {
		op, _ := catalog.Lookup(name)
		b.WriteString(name)
		b.WriteString(": ")
		b.WriteString(op.Info.Desc)
		if len(op.Required) > 0 {
			b.WriteString(" [")
			b.WriteString(strings.Join(op.Required, ", "))
			b.WriteString("]")
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}
