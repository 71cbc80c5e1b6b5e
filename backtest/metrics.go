package backtest

import (
	"math"

	"github.com/samber/lo"
	"gonum.org/v1/gonum/stat"
)

const tradingDaysPerYear = 252

// ComputeMetrics reduces a finished run. Every ratio has a finite sentinel
// so results stay totally ordered for optimization.
func ComputeMetrics(initialCapital float64, equity []EquityPoint, trades []Trade, maxDrawdown float64) Metrics {
	m := Metrics{
		InitialCapital: initialCapital,
		FinalCapital:   initialCapital,
		TotalTrades:    len(trades),
		MaxDrawdown:    maxDrawdown,
	}
	if len(equity) > 0 {
		m.FinalCapital = equity[len(equity)-1].Value
	}
	if initialCapital != 0 {
		m.TotalReturn = (m.FinalCapital - initialCapital) / initialCapital
	}

	for _, t := range trades {
		switch {
		case t.PnL > 0:
			m.WinningTrades++
			m.GrossProfit += t.PnL
		case t.PnL < 0:
			m.LosingTrades++
			m.GrossLoss -= t.PnL
		}
	}
	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades)
	}
	m.ProfitFactor = ProfitFactor(m.GrossProfit, m.GrossLoss)
	m.SharpeRatio = SharpeRatio(EquityReturns(equity))
	return m
}

// ProfitFactor is grossProfit/grossLoss, or grossProfit when nothing was lost.
func ProfitFactor(grossProfit, grossLoss float64) float64 {
	if grossLoss == 0 {
		return grossProfit
	}
	return grossProfit / grossLoss
}

// EquityReturns returns simple per-bar returns. Steps from a zero equity
// value are skipped.
func EquityReturns(equity []EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev := equity[i-1].Value
		if prev == 0 {
			continue
		}
		out = append(out, (equity[i].Value-prev)/prev)
	}
	return out
}

// SharpeRatio annualizes mean/stddev of per-bar returns by sqrt(252). It is
// 0 for fewer than two returns or zero variance.
func SharpeRatio(returns []float64) float64 {
	if len(returns) < 2 {
		return 0
	}
	mean, std := stat.MeanStdDev(returns, nil)
	if std == 0 || math.IsNaN(std) {
		return 0
	}
	return mean / std * math.Sqrt(tradingDaysPerYear)
}

// TotalPnL sums realized pnl over a trade log.
func TotalPnL(trades []Trade) float64 {
	return lo.SumBy(trades, func(t Trade) float64 { return t.PnL })
}
