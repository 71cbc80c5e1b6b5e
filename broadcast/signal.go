// Package broadcast pushes executed trades to external listeners: websocket
// clients and HTTP webhooks. Delivery is best-effort and never blocks the
// simulation for long.
package broadcast

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"quantbt/backtest"
)

// Signal is the wire form of one executed entry or exit.
type Signal struct {
	Symbol    string          `json:"symbol"`
	Side      string          `json:"side"`
	Action    string          `json:"action"`
	Price     decimal.Decimal `json:"price"`
	Volume    decimal.Decimal `json:"volume"`
	Timestamp time.Time       `json:"timestamp"`
}

// pricePlaces keeps float noise out of the payload.
const pricePlaces = 8

func FromNotice(n backtest.TradeNotice) Signal {
	return Signal{
		Symbol:    n.Symbol,
		Side:      string(n.Side),
		Action:    string(n.Action),
		Price:     decimal.NewFromFloat(n.Price).Round(pricePlaces),
		Volume:    decimal.NewFromFloat(n.Volume).Round(pricePlaces),
		Timestamp: n.Time.UTC(),
	}
}

// Multi fans a notice out to every notifier. It reports true only when all
// deliveries succeeded.
type Multi []backtest.Notifier

func (m Multi) Notify(ctx context.Context, n backtest.TradeNotice) bool {
	ok := true
	for _, x := range m {
		if x == nil {
			continue
		}
		if !x.Notify(ctx, n) {
			ok = false
		}
	}
	return ok
}

// Nop accepts and drops every notice.
type Nop struct{}

func (Nop) Notify(context.Context, backtest.TradeNotice) bool { return true }
