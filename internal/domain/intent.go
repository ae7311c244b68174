package domain

// IntentKind classifies a parsed chat message.
type IntentKind string

const (
	// IntentBuy opens a position following a TradePlan.
	IntentBuy IntentKind = "buy"
	// IntentSell closes the position of a symbol now.
	IntentSell IntentKind = "sell"
	// IntentUnknown is a message that carries no trade instruction.
	IntentUnknown IntentKind = "unknown"
)

// Intent is a trade instruction received from the chat channel.
type Intent struct {
	Kind IntentKind
	// Plan is set for buy intents.
	Plan *TradePlan
	// Symbol is set for buy and sell intents.
	Symbol string

	Channel       string
	Content       string
	ParentContent string
}
