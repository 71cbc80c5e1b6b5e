package backtest

import (
	"context"
	"math"
	"testing"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

func approx(a, b float64) bool { return math.Abs(a-b) < 1e-9 }

func TestQualityScore(t *testing.T) {
	cases := []struct {
		sig  Signal
		f    Features
		want float64
	}{
		{SignalBuy, Features{RSI: 85, RelativeVolume: 1}, 0.2},
		{SignalBuy, Features{RSI: 60, RelativeVolume: 1.5}, 0.9},
		{SignalBuy, Features{RSI: 30, RelativeVolume: 0.5}, 0.4},
		{SignalBuy, Features{RSI: 78, RelativeVolume: 1}, 0.5},
		{SignalSell, Features{RSI: 10, RelativeVolume: 1}, 0.2},
		{SignalSell, Features{RSI: 50, RelativeVolume: 2}, 0.9},
		{SignalHold, Features{RSI: 50, RelativeVolume: 2}, 0.5},
	}
	for _, tc := range cases {
		if got := QualityScore(tc.sig, tc.f); !approx(got, tc.want) {
			t.Fatalf("%s %+v: got %v want %v", tc.sig, tc.f, got, tc.want)
		}
	}
}

func TestQualityScoreInRange(t *testing.T) {
	for _, sig := range []Signal{SignalBuy, SignalSell} {
		for rsi := 0.0; rsi <= 100; rsi += 5 {
			for rv := 0.0; rv <= 3; rv += 0.1 {
				s := QualityScore(sig, Features{RSI: rsi, RelativeVolume: rv})
				if s < 0 || s > 1 {
					t.Fatalf("score out of range: %v", s)
				}
			}
		}
	}
}

func TestAdjustSlippage(t *testing.T) {
	if got := AdjustSlippage(0.001, 2); !approx(got, 0.0008) {
		t.Fatalf("liquid: got %v", got)
	}
	if got := AdjustSlippage(0.001, 0.4); !approx(got, 0.0015) {
		t.Fatalf("illiquid: got %v", got)
	}
	if got := AdjustSlippage(0.001, 1); got != 0.001 {
		t.Fatalf("normal: got %v", got)
	}
}

func TestGreedyRejectsOverbought(t *testing.T) {
	f := NewAdmissionFilter(Greedy{}, nil)
	adm := f.Evaluate(SignalBuy, Features{RSI: 85, RelativeVolume: 1}, 0.001)
	if adm.Allowed {
		t.Fatalf("expected rejection, score=%v", adm.Score)
	}
	if adm.Score >= GreedyThreshold {
		t.Fatalf("expected score below threshold, got %v", adm.Score)
	}
	adm = f.Evaluate(SignalBuy, Features{RSI: 60, RelativeVolume: 1}, 0.001)
	if !adm.Allowed {
		t.Fatalf("expected admission, score=%v", adm.Score)
	}
}

func TestProbabilisticUsesInjectedRand(t *testing.T) {
	feat := Features{RSI: 60, RelativeVolume: 1.5} // score 0.9

	low := NewAdmissionFilter(Probabilistic{Temperature: 1}, fixedRand(0.5))
	if !low.Evaluate(SignalBuy, feat, 0).Allowed {
		t.Fatalf("draw below probability should admit")
	}
	high := NewAdmissionFilter(Probabilistic{Temperature: 1}, fixedRand(0.95))
	if high.Evaluate(SignalBuy, feat, 0).Allowed {
		t.Fatalf("draw above probability should reject")
	}

	// Lower temperature sharpens: 0.9^(1/0.5) = 0.81.
	sharp := NewAdmissionFilter(Probabilistic{Temperature: 0.5}, fixedRand(0.85))
	if sharp.Evaluate(SignalBuy, feat, 0).Allowed {
		t.Fatalf("sharpened probability should reject a 0.85 draw")
	}
}

type countingRand struct {
	draws int
}

func (c *countingRand) Float64() float64 {
	c.draws++
	return 0
}

func TestExitDoesNotDraw(t *testing.T) {
	rng := &countingRand{}
	f := NewAdmissionFilter(Probabilistic{Temperature: 1}, rng)
	adm := f.Exit(Features{RSI: 10, RelativeVolume: 0.4}, 0.001)
	if !adm.Allowed || !approx(adm.Slippage, 0.0015) || !approx(adm.Score, 0.2) {
		t.Fatalf("unexpected exit admission: %+v", adm)
	}
	if rng.draws != 0 {
		t.Fatalf("exits must not consume random draws, got %d", rng.draws)
	}
	f.Evaluate(SignalBuy, Features{RSI: 60, RelativeVolume: 1}, 0)
	if rng.draws != 1 {
		t.Fatalf("an entry should draw once, got %d", rng.draws)
	}
}

func TestRunExitsLeaveRandomStreamAlone(t *testing.T) {
	rng := &countingRand{}
	cfg := frictionless()
	cfg.Admission = Probabilistic{Temperature: 1}
	res, err := Run(context.Background(), crossSeries(), cfg, RunOptions{Rand: rng})
	if err != nil {
		t.Fatalf("unexpected err: %v", err)
	}
	if len(res.Trades) != 1 {
		t.Fatalf("expected one round trip, got %d", len(res.Trades))
	}
	if rng.draws != 1 {
		t.Fatalf("expected a single draw for the entry, got %d", rng.draws)
	}
}

func TestProbabilisticZeroTemperatureIsGreedy(t *testing.T) {
	f := NewAdmissionFilter(Probabilistic{}, fixedRand(0))
	if f.Evaluate(SignalBuy, Features{RSI: 85, RelativeVolume: 1}, 0).Allowed {
		t.Fatalf("expected greedy rejection")
	}
}

func TestAdmitAllAndHold(t *testing.T) {
	f := NewAdmissionFilter(nil, nil)
	if !f.Evaluate(SignalBuy, Features{RSI: 99, RelativeVolume: 0.1}, 0).Allowed {
		t.Fatalf("admit-all must allow every entry")
	}
	if f.Evaluate(SignalHold, Features{}, 0).Allowed {
		t.Fatalf("hold is never a trade")
	}
}

func TestCellSeedIndependent(t *testing.T) {
	if CellSeed(1, 5, 20) == CellSeed(1, 20, 5) {
		t.Fatalf("swapped cells must not share a seed")
	}
	if CellSeed(1, 5, 20) != CellSeed(1, 5, 20) {
		t.Fatalf("cell seed must be stable")
	}
	a, b := NewRand(3), NewRand(3)
	for i := 0; i < 10; i++ {
		if a.Float64() != b.Float64() {
			t.Fatalf("same seed must give the same stream")
		}
	}
}
