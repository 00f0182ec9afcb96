package broker

import (
	"context"
)

// MarketDataProvider delivers the per-tick market inputs for a symbol.
// Read-only; implementations must not block longer than one tick budget.
type MarketDataProvider interface {
	// Snapshot returns current prices plus volatility/momentum proxies
	Snapshot(ctx context.Context, symbol string) (MarketSnapshot, error)
}

// ExecutionGateway is the order-execution collaborator. All calls are
// blocking and synchronous; a failed call must leave no partial effect
// the engine has to compensate for.
type ExecutionGateway interface {
	// Open places a market order with attached protective levels and
	// returns the broker ticket on a confirmed fill.
	Open(ctx context.Context, req OpenRequest) (Ticket, error)

	// Modify replaces the stop-loss/take-profit of an open ticket.
	// A zero value leaves the corresponding level unchanged.
	Modify(ctx context.Context, ticket Ticket, stopLoss, takeProfit float64) error

	// PartialClose reduces the ticket's volume by the given lots
	PartialClose(ctx context.Context, ticket Ticket, volume float64) error

	// Close flattens the ticket completely
	Close(ctx context.Context, ticket Ticket) error

	// Status reports whether the ticket is still open; the gateway is
	// the source of truth for volume, price and protective levels.
	Status(ctx context.Context, ticket Ticket) (PositionStatus, error)
}

// AccountInfoProvider exposes balance and equity, read-only per tick
type AccountInfoProvider interface {
	Account(ctx context.Context) (AccountInfo, error)
}

// Broker bundles the three collaborator roles when one backend serves
// them all (the Bybit and paper implementations both do).
type Broker interface {
	MarketDataProvider
	ExecutionGateway
	AccountInfoProvider

	// Name identifies the backend ("bybit", "paper")
	Name() string
	// Connect performs a connectivity check before the engine starts
	Connect(ctx context.Context) error
	Disconnect() error
}
