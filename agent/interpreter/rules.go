package interpreter

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	contractx "github.com/tanpawarit/ad-buyer-orchestrator/agent/contract"
	conversationalx "github.com/tanpawarit/ad-buyer-orchestrator/agent/protocol/conversational"
)

var _ contractx.NaturalLanguageInterpreter = (*Rules)(nil)

type rulePattern struct {
	re        *regexp.Regexp
	operation string
	// arg names the capture group 1 argument, if any.
	arg string
}

// Matched in order; the first hit wins.
var rulePatterns = []rulePattern{
	{re: regexp.MustCompile(`(?i)^(?:list|show)(?: me)?(?: all)?(?: (?:the|available))? (?:advertising )?products\b`), operation: "list_products"},
	{re: regexp.MustCompile(`(?i)^(?:list|show)(?: me)?(?: all)?(?: the)? accounts\b`), operation: "list_accounts"},
	{re: regexp.MustCompile(`(?i)^(?:list|show)(?: me)?(?: all)?(?: the)? orders\b`), operation: "list_orders"},
	{re: regexp.MustCompile(`(?i)^(?:list|show)(?: me)?(?: all)?(?: the)? line items\b`), operation: "list_lines"},
	{re: regexp.MustCompile(`(?i)^(?:list|show)(?: me)?(?: all)?(?: the)? creatives\b`), operation: "list_creatives"},
	{re: regexp.MustCompile(`(?i)^get product(?: with id)? ([\w.-]+)$`), operation: "get_product", arg: "id"},
	{re: regexp.MustCompile(`(?i)^get account(?: with id)? ([\w.-]+)$`), operation: "get_account", arg: "id"},
	{re: regexp.MustCompile(`(?i)^get order(?: with id)? ([\w.-]+)$`), operation: "get_order", arg: "id"},
	{re: regexp.MustCompile(`(?i)^search(?: for)?(?: advertising)? products?(?: for|:)? (.+)$`), operation: "search_products", arg: "query"},
}

// Rules is a model-free interpreter for the fixed phrasings the renderer
// produces and a few common variants. Anything else is exploratory.
type Rules struct {
	renderer *conversationalx.Renderer
}

func NewRules() *Rules {
	return &Rules{renderer: conversationalx.NewRenderer()}
}

func (r *Rules) Interpret(_ context.Context, text string) (contractx.Intent, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return contractx.Intent{}, fmt.Errorf("%w: text is required", contractx.ErrValidation)
	}

	for _, p := range rulePatterns {
		m := p.re.FindStringSubmatch(text)
		if m == nil {
			continue
		}
		args := map[string]any{}
		if p.arg != "" && len(m) > 1 {
			args[p.arg] = strings.TrimSpace(m[1])
		}
		return contractx.Intent{Operation: p.operation, Args: args, Confidence: 1}, nil
	}
	return contractx.Intent{Args: map[string]any{}, Reply: text}, nil
}

func (r *Rules) Describe(ctx context.Context, operation string, args map[string]any) (string, error) {
	return r.renderer.Describe(ctx, operation, args)
}
