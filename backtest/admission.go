package backtest

import (
	"math"
	"math/rand/v2"
)

// GreedyThreshold is the minimum quality score the greedy policy admits.
const GreedyThreshold = 0.6

// AdmissionPolicy selects how a quality score gates entries:
// AdmitAll, Greedy or Probabilistic.
type AdmissionPolicy interface {
	admissionPolicy()
}

// AdmitAll disables the quality filter.
type AdmitAll struct{}

// Greedy admits iff score >= GreedyThreshold.
type Greedy struct{}

// Probabilistic admits with probability score^(1/Temperature).
type Probabilistic struct {
	Temperature float64
}

func (AdmitAll) admissionPolicy()      {}
func (Greedy) admissionPolicy()        {}
func (Probabilistic) admissionPolicy() {}

// Rand is the random source used by the probabilistic policy.
type Rand interface {
	Float64() float64
}

// NewRand returns a deterministic generator for seed.
func NewRand(seed uint64) *rand.Rand {
	return rand.New(rand.NewPCG(seed, splitmix64(seed)))
}

// CellSeed derives an independent seed for one (fast, slow) grid cell so
// results do not depend on which worker ran the cell.
func CellSeed(seed uint64, fast, slow int) uint64 {
	return splitmix64(seed ^ uint64(uint32(fast))<<32 ^ uint64(uint32(slow)))
}

func splitmix64(x uint64) uint64 {
	x += 0x9e3779b97f4a7c15
	x = (x ^ (x >> 30)) * 0xbf58476d1ce4e5b9
	x = (x ^ (x >> 27)) * 0x94d049bb133111eb
	return x ^ (x >> 31)
}

type Features struct {
	RSI            float64 `json:"rsi"`
	RelativeVolume float64 `json:"relative_volume"`
}

func FeaturesAt(ind *IndicatorCache, i int) Features {
	return Features{RSI: ind.RSI(i), RelativeVolume: ind.RelativeVolume(i)}
}

type Admission struct {
	Allowed  bool
	Score    float64
	Slippage float64
}

// QualityScore rates a candidate signal in [0,1] from its regime features.
func QualityScore(sig Signal, f Features) float64 {
	score := 0.5
	switch sig {
	case SignalBuy:
		if f.RSI > 40 && f.RSI < 75 {
			score += 0.2
		}
		if f.RSI > 80 {
			score -= 0.3
		}
		if f.RelativeVolume > 1.2 {
			score += 0.2
		}
		if f.RelativeVolume < 0.8 {
			score -= 0.1
		}
	case SignalSell:
		if f.RSI > 25 && f.RSI < 60 {
			score += 0.2
		}
		if f.RSI < 20 {
			score -= 0.3
		}
		if f.RelativeVolume > 1.2 {
			score += 0.2
		}
	}
	return math.Min(1, math.Max(0, score))
}

// AdjustSlippage widens or tightens base slippage with liquidity.
func AdjustSlippage(base, relVolume float64) float64 {
	switch {
	case relVolume > 1.5:
		return base * 0.8
	case relVolume < 0.5:
		return base * 1.5
	default:
		return base
	}
}

type AdmissionFilter struct {
	policy AdmissionPolicy
	rng    Rand
}

// NewAdmissionFilter builds a filter. rng is only consulted by the
// probabilistic policy and may be nil otherwise.
func NewAdmissionFilter(policy AdmissionPolicy, rng Rand) *AdmissionFilter {
	if policy == nil {
		policy = AdmitAll{}
	}
	return &AdmissionFilter{policy: policy, rng: rng}
}

// Evaluate scores a non-Hold signal. The adjusted slippage is returned
// whether or not the trade is allowed.
func (a *AdmissionFilter) Evaluate(sig Signal, f Features, baseSlippage float64) Admission {
	out := Admission{
		Score:    QualityScore(sig, f),
		Slippage: AdjustSlippage(baseSlippage, f.RelativeVolume),
	}
	if sig == SignalHold {
		return out
	}
	switch p := a.policy.(type) {
	case AdmitAll:
		out.Allowed = true
	case Greedy:
		out.Allowed = out.Score >= GreedyThreshold
	case Probabilistic:
		if p.Temperature <= 0 || a.rng == nil {
			out.Allowed = out.Score >= GreedyThreshold
			break
		}
		prob := math.Pow(out.Score, 1/p.Temperature)
		out.Allowed = a.rng.Float64() <= prob
	}
	return out
}

// Exit prices an exit. Exits are never blocked, so no policy runs and the
// random stream is left untouched for later entries.
func (a *AdmissionFilter) Exit(f Features, baseSlippage float64) Admission {
	return Admission{
		Allowed:  true,
		Score:    QualityScore(SignalSell, f),
		Slippage: AdjustSlippage(baseSlippage, f.RelativeVolume),
	}
}
