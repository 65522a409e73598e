package contract

import "context"

// ProtocolAdapter executes one remote operation against a seller.
type ProtocolAdapter interface {
	Protocol() Protocol
	Connect(ctx context.Context) error
	IsConnected() bool
	Close() error
	Execute(ctx context.Context, operation string, args map[string]any) (NormalizedResult, error)
}

// Conversational is a ProtocolAdapter that also accepts free text.
type Conversational interface {
	ProtocolAdapter
	SendMessage(ctx context.Context, text string, context map[string]any) (ConversationReply, error)
}

// NaturalLanguageInterpreter turns free text into an intent and renders a
// structured operation as text.
type NaturalLanguageInterpreter interface {
	Interpret(ctx context.Context, text string) (Intent, error)
	Describe(ctx context.Context, operation string, args map[string]any) (string, error)
}

// EventPublisher receives booking events. Delivery is best effort.
type EventPublisher interface {
	PublishDealIssued(ctx context.Context, deal Deal) error
}
