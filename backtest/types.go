package backtest

import "time"

type Side string

const (
	SideFlat Side = "flat"
	SideLong Side = "long"
)

type Signal string

const (
	SignalHold Signal = "hold"
	SignalBuy  Signal = "buy"
	SignalSell Signal = "sell"
)

// Candle is one OHLCV bar. Series are ordered ascending by Time.
type Candle struct {
	Time   time.Time `json:"time"`
	Open   float64   `json:"open"`
	High   float64   `json:"high"`
	Low    float64   `json:"low"`
	Close  float64   `json:"close"`
	Volume float64   `json:"volume"`
}

type Position struct {
	Side       Side
	Qty        float64
	EntryTime  time.Time
	EntryPrice float64
	EntryFee   float64
}

type Trade struct {
	EntryTime  time.Time `json:"entry_time"`
	ExitTime   time.Time `json:"exit_time"`
	EntryPrice float64   `json:"entry_price"`
	ExitPrice  float64   `json:"exit_price"`
	Qty        float64   `json:"qty"`
	PnL        float64   `json:"pnl"`
	Side       Side      `json:"side"`
}

type EquityPoint struct {
	Time  time.Time `json:"time"`
	Value float64   `json:"value"`
}

type Metrics struct {
	InitialCapital float64 `json:"initial_capital"`
	FinalCapital   float64 `json:"final_capital"`
	TotalReturn    float64 `json:"total_return"`
	TotalTrades    int     `json:"total_trades"`
	WinningTrades  int     `json:"winning_trades"`
	LosingTrades   int     `json:"losing_trades"`
	WinRate        float64 `json:"win_rate"`
	SharpeRatio    float64 `json:"sharpe_ratio"`
	MaxDrawdown    float64 `json:"max_drawdown"`
	GrossProfit    float64 `json:"gross_profit"`
	GrossLoss      float64 `json:"gross_loss"`
	ProfitFactor   float64 `json:"profit_factor"`
}

// Result is the read-only output of one simulation run.
type Result struct {
	Symbol      string        `json:"symbol,omitempty"`
	Metrics     Metrics       `json:"metrics"`
	EquityCurve []EquityPoint `json:"equity_curve"`
	Trades      []Trade       `json:"trades"`
	Candles     []Candle      `json:"candles,omitempty"`
}

type OptimizationResult struct {
	BestFast         int     `json:"best_fast"`
	BestSlow         int     `json:"best_slow"`
	BestProfitFactor float64 `json:"best_profit_factor"`
	BestResult       *Result `json:"best_result"`
	IterationsRun    int     `json:"iterations_run"`
	Candidates       int     `json:"candidates"`
	Capped           bool    `json:"capped"`
	Fallback         bool    `json:"fallback"`
}
