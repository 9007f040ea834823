// Package events publishes ledger lifecycle events (trades, settlements,
// payment confirmations) to downstream consumers. Publishing is best
// effort and happens after the owning transaction commits — a broker
// outage never blocks or rolls back the ledger.
package events

import "context"

// Topics.
const (
	TopicTradeExecuted    = "trade_executed"
	TopicMarketResolved   = "market_resolved"
	TopicPaymentConfirmed = "payment_confirmed"
)

// Publisher delivers one event to a topic.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}

// Nop is a Publisher that discards everything. Used when no broker is
// configured and in tests.
type Nop struct{}

func (Nop) Publish(context.Context, string, any) error { return nil }
func (Nop) Close() error                               { return nil }
