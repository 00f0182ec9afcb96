// Package safety shields the execution gateway from a struggling or
// rate-limited venue. Every broker call the engine makes runs through
// a per-lane token bucket and circuit breaker.
package safety

import (
	"context"
	"fmt"
	"time"

	"github.com/oyi77/forex-trader-sub001/internal/broker"
	"github.com/oyi77/forex-trader-sub001/internal/logger"
)

// call lanes, each with its own limiter and breaker
const (
	laneOrders  = "orders"
	laneMarket  = "market_data"
	laneAccount = "account_data"
)

// LaneConfig sets the limits for one class of venue calls
type LaneConfig struct {
	Breaker   BreakerConfig
	Burst     int // token bucket capacity
	PerSecond int // token bucket refill rate
}

// GuardConfig holds the per-lane limits. Zero fields take defaults
// sized for Bybit's published limits.
type GuardConfig struct {
	Orders  LaneConfig
	Market  LaneConfig
	Account LaneConfig
}

func (c *GuardConfig) setDefaults() {
	if c.Orders.Breaker.FailureThreshold == 0 {
		c.Orders.Breaker = BreakerConfig{FailureThreshold: 3, SuccessThreshold: 2, Cooldown: 2 * time.Minute}
	}
	if c.Market.Breaker.FailureThreshold == 0 {
		c.Market.Breaker = BreakerConfig{FailureThreshold: 5, SuccessThreshold: 3, Cooldown: time.Minute}
	}
	if c.Account.Breaker.FailureThreshold == 0 {
		c.Account.Breaker = BreakerConfig{FailureThreshold: 5, SuccessThreshold: 3, Cooldown: time.Minute}
	}
	if c.Orders.Burst == 0 {
		c.Orders.Burst, c.Orders.PerSecond = 10, 10
	}
	if c.Market.Burst == 0 {
		c.Market.Burst, c.Market.PerSecond = 50, 50
	}
	if c.Account.Burst == 0 {
		c.Account.Burst, c.Account.PerSecond = 20, 20
	}
}

// Guard wraps a broker with rate limiting and circuit breaking. Order
// placement, market data and account queries each get their own lane
// so a storm on one cannot starve the others. Guard satisfies
// broker.Broker and is dropped in front of the real backend at wiring
// time.
type Guard struct {
	inner    broker.Broker
	breakers *BreakerManager
	limiters *LimiterManager
	log      *logger.Logger
}

// NewGuard wraps inner with per-lane protection
func NewGuard(inner broker.Broker, config GuardConfig, log *logger.Logger) *Guard {
	config.setDefaults()

	g := &Guard{
		inner:    inner,
		breakers: NewBreakerManager(),
		limiters: NewLimiterManager(),
		log:      log,
	}

	lanes := map[string]LaneConfig{
		laneOrders:  config.Orders,
		laneMarket:  config.Market,
		laneAccount: config.Account,
	}
	for name, lane := range lanes {
		g.limiters.GetOrCreate(name, lane.Burst, lane.PerSecond)
		b := g.breakers.GetOrCreate(name, lane.Breaker)

		b.SetStateChangeCallback(func(from, to BreakerState) {
			if g.log != nil {
				g.log.LogWarning("Circuit Breaker", "%s breaker state changed: %s -> %s", name, from, to)
			}
		})
	}

	return g
}

// protect applies the lane's rate limit, then runs fn under its breaker
func (g *Guard) protect(ctx context.Context, lane string, fn func() error) error {
	limiter, _ := g.limiters.Get(lane)
	if err := limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limiting failed: %w", err)
	}

	breaker, _ := g.breakers.Get(lane)
	return breaker.Call(fn)
}

// Open validates the request and forwards it on the orders lane
func (g *Guard) Open(ctx context.Context, req broker.OpenRequest) (broker.Ticket, error) {
	if err := CheckOpenRequest(req); err != nil {
		return "", err
	}

	var ticket broker.Ticket
	err := g.protect(ctx, laneOrders, func() error {
		var openErr error
		ticket, openErr = g.inner.Open(ctx, req)
		return openErr
	})
	return ticket, err
}

// Modify forwards a stop/target change on the orders lane
func (g *Guard) Modify(ctx context.Context, ticket broker.Ticket, stopLoss, takeProfit float64) error {
	return g.protect(ctx, laneOrders, func() error {
		return g.inner.Modify(ctx, ticket, stopLoss, takeProfit)
	})
}

// PartialClose forwards a volume reduction on the orders lane
func (g *Guard) PartialClose(ctx context.Context, ticket broker.Ticket, volume float64) error {
	return g.protect(ctx, laneOrders, func() error {
		return g.inner.PartialClose(ctx, ticket, volume)
	})
}

// Close forwards a full close on the orders lane
func (g *Guard) Close(ctx context.Context, ticket broker.Ticket) error {
	return g.protect(ctx, laneOrders, func() error {
		return g.inner.Close(ctx, ticket)
	})
}

// Status queries a ticket on the account lane
func (g *Guard) Status(ctx context.Context, ticket broker.Ticket) (broker.PositionStatus, error) {
	var st broker.PositionStatus
	err := g.protect(ctx, laneAccount, func() error {
		var stErr error
		st, stErr = g.inner.Status(ctx, ticket)
		return stErr
	})
	return st, err
}

// Snapshot fetches market data on its own lane
func (g *Guard) Snapshot(ctx context.Context, symbol string) (broker.MarketSnapshot, error) {
	var snap broker.MarketSnapshot
	err := g.protect(ctx, laneMarket, func() error {
		var snapErr error
		snap, snapErr = g.inner.Snapshot(ctx, symbol)
		return snapErr
	})
	return snap, err
}

// Account fetches balance and equity on the account lane
func (g *Guard) Account(ctx context.Context) (broker.AccountInfo, error) {
	var info broker.AccountInfo
	err := g.protect(ctx, laneAccount, func() error {
		var acctErr error
		info, acctErr = g.inner.Account(ctx)
		return acctErr
	})
	return info, err
}

// Name identifies the wrapped backend
func (g *Guard) Name() string {
	return g.inner.Name()
}

// Connect passes through, the connectivity check is not rate limited
func (g *Guard) Connect(ctx context.Context) error {
	return g.inner.Connect(ctx)
}

// Disconnect passes through
func (g *Guard) Disconnect() error {
	return g.inner.Disconnect()
}

// BreakerStats reports the state of every lane's breaker
func (g *Guard) BreakerStats() []BreakerStats {
	return g.breakers.Stats()
}

// LimiterStats reports the state of every lane's limiter
func (g *Guard) LimiterStats() []LimiterStats {
	return g.limiters.Stats()
}

// Degraded reports whether any lane's breaker is open
func (g *Guard) Degraded() bool {
	return g.breakers.AnyOpen()
}
