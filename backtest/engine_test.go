package backtest

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func candlesFromCloses(closes []float64) []Candle {
	out := make([]Candle, 0, len(closes))
	for i, p := range closes {
		out = append(out, Candle{
			Time:   t0.Add(time.Duration(i) * 24 * time.Hour),
			Open:   p,
			High:   p,
			Low:    p,
			Close:  p,
			Volume: 1000,
		})
	}
	return out
}

// crossSeries is flat at 100 until bar 49, rises by 2 per bar to 180 at
// bar 89, holds 180 until bar 99 and drops to 150 from bar 100. With
// fast=5/slow=20 the only golden cross is bar 50 and the only dead cross
// is bar 100.
func crossSeries() []Candle {
	closes := make([]float64, 120)
	for i := range closes {
		switch {
		case i < 50:
			closes[i] = 100
		case i < 90:
			closes[i] = 100 + 2*float64(i-49)
		case i < 100:
			closes[i] = 180
		default:
			closes[i] = 150
		}
	}
	return candlesFromCloses(closes)
}

func frictionless() RunConfig {
	cfg := DefaultRunConfig()
	cfg.FastPeriod = 5
	cfg.SlowPeriod = 20
	cfg.CommissionRate = 0
	cfg.Slippage = 0
	return cfg
}

func TestRunSingleCrossoverRoundTrip(t *testing.T) {
	bars := crossSeries()
	res, err := Run(context.Background(), bars, frictionless(), RunOptions{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected 1 trade, got %d: %#v", len(res.Trades), res.Trades)
	}
	tr := res.Trades[0]
	if !tr.EntryTime.Equal(bars[50].Time) || !tr.ExitTime.Equal(bars[100].Time) {
		t.Fatalf("unexpected trade window %s -> %s", tr.EntryTime, tr.ExitTime)
	}
	if tr.EntryPrice != 102 || tr.ExitPrice != 150 {
		t.Fatalf("unexpected fills %v -> %v", tr.EntryPrice, tr.ExitPrice)
	}
	if tr.PnL <= 0 {
		t.Fatalf("expected positive pnl, got %v", tr.PnL)
	}
	if len(res.EquityCurve) != len(bars) {
		t.Fatalf("expected one equity point per bar, got %d", len(res.EquityCurve))
	}
	if res.Metrics.FinalCapital <= res.Metrics.InitialCapital {
		t.Fatalf("expected profit, final=%v", res.Metrics.FinalCapital)
	}
}

func TestRunGreedyRejectsOverboughtEntry(t *testing.T) {
	bars := crossSeries()
	ind := NewIndicatorCache(bars)
	if rsi := ind.RSI(50); rsi <= 80 {
		t.Fatalf("expected overbought RSI at the cross, got %v", rsi)
	}

	cfg := frictionless()
	cfg.Admission = Greedy{}
	res, err := Run(context.Background(), bars, cfg, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Trades) != 0 {
		t.Fatalf("expected no trades, got %d", len(res.Trades))
	}
	for _, p := range res.EquityCurve {
		if p.Value != cfg.InitialCapital {
			t.Fatalf("expected flat equity, got %v at %s", p.Value, p.Time)
		}
	}
}

func TestRunDeterministic(t *testing.T) {
	src := DefaultSyntheticSource()
	src.Bars = 600
	bars := src.Generate()

	cfg := DefaultRunConfig()
	cfg.Mode = Ensemble{Threshold: 0.3}
	cfg.Admission = Probabilistic{Temperature: 0.7}
	cfg.Seed = 99

	encode := func() []byte {
		res, err := Run(context.Background(), bars, cfg, RunOptions{})
		if err != nil {
			t.Fatalf("unexpected err: %v", err)
		}
		b, err := json.Marshal(res)
		if err != nil {
			t.Fatalf("marshal: %v", err)
		}
		return b
	}
	a, b := encode(), encode()
	if !bytes.Equal(a, b) {
		t.Fatalf("expected identical results for identical inputs")
	}
}

func TestRunDrawdownBounded(t *testing.T) {
	for seed := uint64(1); seed <= 8; seed++ {
		src := DefaultSyntheticSource()
		src.Seed = seed
		src.Volatility = 0.05
		src.Bars = 400
		cfg := DefaultRunConfig()
		cfg.FastPeriod = 3
		cfg.SlowPeriod = 8
		res, err := Run(context.Background(), src.Generate(), cfg, RunOptions{})
		if err != nil {
			t.Fatalf("seed %d: %v", seed, err)
		}
		dd := res.Metrics.MaxDrawdown
		if dd < 0 || dd > 1 {
			t.Fatalf("seed %d: drawdown out of range: %v", seed, dd)
		}
	}
}

func TestRunRejectsInvalidConfig(t *testing.T) {
	bars := crossSeries()

	cfg := frictionless()
	cfg.InitialCapital = 0
	_, err := Run(context.Background(), bars, cfg, RunOptions{})
	var ce *ConfigError
	if !errors.As(err, &ce) || ce.Field != "initial_capital" {
		t.Fatalf("expected initial_capital config error, got %v", err)
	}

	_, err = Run(context.Background(), nil, frictionless(), RunOptions{})
	if !errors.As(err, &ce) || !errors.Is(err, ErrNoCandles) {
		t.Fatalf("expected config error for empty candles, got %v", err)
	}

	cfg = frictionless()
	cfg.FastPeriod = 20
	if _, err := Run(context.Background(), bars, cfg, RunOptions{}); !errors.As(err, &ce) {
		t.Fatalf("expected config error for fast >= slow, got %v", err)
	}
}

func TestRunCloseAtEnd(t *testing.T) {
	bars := crossSeries()[:80]
	cfg := frictionless()

	open, err := Run(context.Background(), bars, cfg, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(open.Trades) != 0 {
		t.Fatalf("expected the position to stay open, got %d trades", len(open.Trades))
	}

	cfg.CloseAtEnd = true
	closed, err := Run(context.Background(), bars, cfg, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(closed.Trades) != 1 {
		t.Fatalf("expected a forced exit, got %d trades", len(closed.Trades))
	}
	if got, want := closed.Metrics.FinalCapital, open.Metrics.FinalCapital; got != want {
		t.Fatalf("frictionless forced exit should keep equity: got %v want %v", got, want)
	}
}

func TestRunCloseAtEndCountsExitCostsInDrawdown(t *testing.T) {
	// Rises into a plateau at 180, then dips to 160 on the final bar
	// without a dead cross, so the forced exit is the deepest point.
	bars := crossSeries()[:100]
	bars[99].Open, bars[99].High, bars[99].Low, bars[99].Close = 160, 160, 160, 160

	cfg := frictionless()
	cfg.CommissionRate = 0.001
	cfg.Slippage = 0.01
	cfg.CloseAtEnd = true
	res, err := Run(context.Background(), bars, cfg, RunOptions{})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Trades) != 1 || !res.Trades[0].ExitTime.Equal(bars[99].Time) {
		t.Fatalf("expected one forced exit on the last bar, got %#v", res.Trades)
	}

	peak, want := cfg.InitialCapital, 0.0
	for _, p := range res.EquityCurve {
		peak = max(peak, p.Value)
		want = max(want, (peak-p.Value)/peak)
	}
	if got := res.Metrics.MaxDrawdown; got < want-1e-12 || got > want+1e-12 {
		t.Fatalf("drawdown %v does not match the equity curve's %v", got, want)
	}
	last := res.EquityCurve[len(res.EquityCurve)-1].Value
	if last != res.Metrics.FinalCapital || last >= res.EquityCurve[98].Value {
		t.Fatalf("last point should hold the realized equity below the plateau, got %v", last)
	}
}

type recordingNotifier struct {
	notices []TradeNotice
}

func (r *recordingNotifier) Notify(_ context.Context, n TradeNotice) bool {
	r.notices = append(r.notices, n)
	return false
}

func TestRunNotifiesEntriesAndExits(t *testing.T) {
	rec := &recordingNotifier{}
	cfg := frictionless()
	cfg.Symbol = "TEST"
	res, err := Run(context.Background(), crossSeries(), cfg, RunOptions{Notifier: rec})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("failed deliveries must not change the run, got %d trades", len(res.Trades))
	}
	if len(rec.notices) != 2 {
		t.Fatalf("expected entry and exit notices, got %d", len(rec.notices))
	}
	if rec.notices[0].Action != SignalBuy || rec.notices[1].Action != SignalSell {
		t.Fatalf("unexpected actions: %#v", rec.notices)
	}
	if rec.notices[0].Symbol != "TEST" || rec.notices[0].Price != 102 {
		t.Fatalf("unexpected entry notice: %#v", rec.notices[0])
	}
}
