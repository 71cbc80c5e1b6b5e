package backtest

import (
	"math"
	"time"
)

// PositionLedger owns cash, the single long position, the equity curve and
// the trade log of one run. State moves Flat -> Long -> Flat only through
// OpenLong and CloseLong.
type PositionLedger struct {
	initial     float64
	cash        float64
	pos         Position
	equity      []EquityPoint
	trades      []Trade
	maxEquity   float64
	maxDrawdown float64
}

func NewPositionLedger(initialCapital float64, bars int) *PositionLedger {
	return &PositionLedger{
		initial:   initialCapital,
		cash:      initialCapital,
		pos:       Position{Side: SideFlat},
		equity:    make([]EquityPoint, 0, bars),
		maxEquity: initialCapital,
	}
}

func (l *PositionLedger) Side() Side         { return l.pos.Side }
func (l *PositionLedger) Position() Position { return l.pos }
func (l *PositionLedger) Cash() float64      { return l.cash }
func (l *PositionLedger) MaxDrawdown() float64 {
	return l.maxDrawdown
}

// OpenLong enters a long position. The entry commission leaves cash now.
func (l *PositionLedger) OpenLong(t time.Time, f Fill) error {
	if l.pos.Side != SideFlat {
		return ErrPositionOpen
	}
	if f.Price <= 0 || f.Qty <= 0 {
		return ErrInvalidFill
	}
	l.cash -= f.Commission
	l.pos = Position{
		Side:       SideLong,
		Qty:        f.Qty,
		EntryTime:  t,
		EntryPrice: f.Price,
		EntryFee:   f.Commission,
	}
	return nil
}

// CloseLong realizes the open position and appends its Trade.
func (l *PositionLedger) CloseLong(t time.Time, f Fill) (Trade, error) {
	if l.pos.Side != SideLong {
		return Trade{}, ErrPositionFlat
	}
	if f.Price <= 0 {
		return Trade{}, ErrInvalidFill
	}
	gross := l.pos.Qty * (f.Price - l.pos.EntryPrice)
	l.cash += gross - f.Commission
	tr := Trade{
		EntryTime:  l.pos.EntryTime,
		ExitTime:   t,
		EntryPrice: l.pos.EntryPrice,
		ExitPrice:  f.Price,
		Qty:        l.pos.Qty,
		PnL:        gross - l.pos.EntryFee - f.Commission,
		Side:       SideLong,
	}
	l.trades = append(l.trades, tr)
	l.pos = Position{Side: SideFlat}
	return tr, nil
}

// Mark records mark-to-market equity for one bar and updates drawdown.
func (l *PositionLedger) Mark(t time.Time, closePrice float64) float64 {
	eq := l.cash
	if l.pos.Side == SideLong && closePrice > 0 {
		eq += l.pos.Qty * (closePrice - l.pos.EntryPrice)
	}
	l.equity = append(l.equity, EquityPoint{Time: t, Value: eq})

	if eq > l.maxEquity {
		l.maxEquity = eq
	}
	if l.maxEquity > 0 {
		dd := (l.maxEquity - eq) / l.maxEquity
		dd = math.Min(1, math.Max(0, dd))
		if dd > l.maxDrawdown {
			l.maxDrawdown = dd
		}
	}
	return eq
}

func (l *PositionLedger) EquityCurve() []EquityPoint { return l.equity }
func (l *PositionLedger) Trades() []Trade            { return l.trades }
