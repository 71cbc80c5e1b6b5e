package backtest

import (
	"math"

	"github.com/samber/lo"
)

// WarmupBuffer is added to the longest slow period before any signal is
// emitted, so the regime features (RSI 14, volume MA 20) are fully formed.
const WarmupBuffer = VolumeMAPeriod

// ExecutionMode selects how variant crossovers become a signal:
// Baseline or Ensemble.
type ExecutionMode interface {
	executionMode()
}

// Baseline uses only the core variant's raw crossover.
type Baseline struct{}

// Ensemble votes across the core variant and its faster/slower siblings.
type Ensemble struct {
	Threshold float64
}

func (Baseline) executionMode() {}
func (Ensemble) executionMode() {}

type StrategyVariant struct {
	FastPeriod int     `json:"fast_period"`
	SlowPeriod int     `json:"slow_period"`
	Weight     float64 `json:"weight"`
}

var variantScales = []float64{0.8, 1.0, 1.2}

// Variants derives the faster, core and slower siblings of a (fast, slow)
// pair. Periods are floored, with minimums of 2 and 5.
func Variants(fast, slow int) []StrategyVariant {
	return lo.Map(variantScales, func(scale float64, _ int) StrategyVariant {
		f := max(int(math.Floor(float64(fast)*scale)), 2)
		s := max(int(math.Floor(float64(slow)*scale)), 5)
		if f >= s {
			s = f + 1
		}
		return StrategyVariant{FastPeriod: f, SlowPeriod: s, Weight: 1}
	})
}

// Tally holds the weighted votes cast on one bar.
type Tally struct {
	BuyVotes    float64
	SellVotes   float64
	TotalWeight float64
}

// Decide turns a tally into a signal. Ties are always Hold.
func (t Tally) Decide(threshold float64) Signal {
	if t.TotalWeight <= 0 || t.BuyVotes == t.SellVotes {
		return SignalHold
	}
	buyConf := t.BuyVotes / t.TotalWeight
	sellConf := t.SellVotes / t.TotalWeight
	switch {
	case buyConf >= threshold && t.BuyVotes > t.SellVotes:
		return SignalBuy
	case sellConf >= threshold && t.SellVotes > t.BuyVotes:
		return SignalSell
	default:
		return SignalHold
	}
}

type SignalEnsemble struct {
	mode     ExecutionMode
	core     StrategyVariant
	variants []StrategyVariant
	warmup   int
}

func NewSignalEnsemble(fast, slow int, mode ExecutionMode) *SignalEnsemble {
	core := StrategyVariant{FastPeriod: fast, SlowPeriod: slow, Weight: 1}
	e := &SignalEnsemble{mode: mode, core: core}
	switch mode.(type) {
	case Ensemble:
		e.variants = Variants(fast, slow)
	default:
		e.variants = []StrategyVariant{core}
	}
	maxSlow := lo.MaxBy(e.variants, func(a, b StrategyVariant) bool {
		return a.SlowPeriod > b.SlowPeriod
	}).SlowPeriod
	e.warmup = maxSlow + WarmupBuffer
	return e
}

func (e *SignalEnsemble) Variants() []StrategyVariant { return e.variants }

// Warmup is the first bar index that may produce a signal.
func (e *SignalEnsemble) Warmup() int { return e.warmup }

// Signal evaluates bar i.
func (e *SignalEnsemble) Signal(ind *IndicatorCache, i int) Signal {
	if i < e.warmup || i >= ind.Len() {
		return SignalHold
	}
	switch m := e.mode.(type) {
	case Ensemble:
		return e.Tally(ind, i).Decide(m.Threshold)
	case Baseline:
		return crossover(ind, i, e.core)
	default:
		return SignalHold
	}
}

// Tally collects the weighted crossover votes of every variant at bar i.
func (e *SignalEnsemble) Tally(ind *IndicatorCache, i int) Tally {
	var t Tally
	for _, v := range e.variants {
		t.TotalWeight += v.Weight
		switch crossover(ind, i, v) {
		case SignalBuy:
			t.BuyVotes += v.Weight
		case SignalSell:
			t.SellVotes += v.Weight
		}
	}
	return t
}

func crossover(ind *IndicatorCache, i int, v StrategyVariant) Signal {
	if i < 1 {
		return SignalHold
	}
	fastNow, ok1 := ind.SMA(i, v.FastPeriod)
	slowNow, ok2 := ind.SMA(i, v.SlowPeriod)
	fastPrev, ok3 := ind.SMA(i-1, v.FastPeriod)
	slowPrev, ok4 := ind.SMA(i-1, v.SlowPeriod)
	if !ok1 || !ok2 || !ok3 || !ok4 {
		return SignalHold
	}
	switch {
	case fastPrev <= slowPrev && fastNow > slowNow:
		return SignalBuy
	case fastPrev >= slowPrev && fastNow < slowNow:
		return SignalSell
	default:
		return SignalHold
	}
}
