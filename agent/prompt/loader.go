package prompt

import (
	_ "embed"
	"strings"
)

var (
	//go:embed template/interpreter.txt
	interpreterRaw string

	//go:embed template/deal_brief.txt
	dealBriefRaw string
)

// PromptSet holds loaded prompt content.
type PromptSet struct {
	// Interpreter expects an {operations} variable and the buyer text as {input}.
	Interpreter string
	// DealBrief phrases a deal request for a conversational seller.
	DealBrief string
}

// LoadPromptSet returns a PromptSet with trimmed prompt strings.
func LoadPromptSet() PromptSet {
	return PromptSet{
		Interpreter: strings.TrimSpace(interpreterRaw),
		DealBrief:   strings.TrimSpace(dealBriefRaw),
	}
}
