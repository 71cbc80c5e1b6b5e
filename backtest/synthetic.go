package backtest

import (
	"context"
	"math"
	"time"
)

// SyntheticSource generates a seeded geometric random walk. It is the
// fallback generator when no data source is configured.
type SyntheticSource struct {
	Bars       int
	Start      time.Time
	Interval   time.Duration
	StartPrice float64
	Drift      float64
	Volatility float64
	BaseVolume float64
	Seed       uint64
}

func DefaultSyntheticSource() SyntheticSource {
	return SyntheticSource{
		Bars:       500,
		Start:      time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:   24 * time.Hour,
		StartPrice: 100,
		Drift:      0.0003,
		Volatility: 0.02,
		BaseVolume: 1_000_000,
		Seed:       7,
	}
}

func (s SyntheticSource) Candles(_ context.Context) ([]Candle, error) {
	return s.Generate(), nil
}

// Generate is deterministic for a given source value.
func (s SyntheticSource) Generate() []Candle {
	def := DefaultSyntheticSource()
	if s.Bars <= 0 {
		return nil
	}
	if s.Interval <= 0 {
		s.Interval = def.Interval
	}
	if s.StartPrice <= 0 {
		s.StartPrice = def.StartPrice
	}
	if s.BaseVolume <= 0 {
		s.BaseVolume = def.BaseVolume
	}
	if s.Start.IsZero() {
		s.Start = def.Start
	}

	rng := NewRand(s.Seed)
	out := make([]Candle, 0, s.Bars)
	prev := s.StartPrice
	for i := 0; i < s.Bars; i++ {
		ret := s.Drift + s.Volatility*rng.NormFloat64()
		closePx := prev * math.Exp(ret)
		spread := math.Abs(closePx-prev) + prev*s.Volatility*0.5*rng.Float64()
		high := math.Max(prev, closePx) + spread*0.5
		low := math.Max(math.Min(prev, closePx)-spread*0.5, closePx*0.01)
		vol := s.BaseVolume * (0.5 + rng.Float64()) * (1 + 10*math.Abs(ret))
		out = append(out, Candle{
			Time:   s.Start.Add(time.Duration(i) * s.Interval),
			Open:   prev,
			High:   high,
			Low:    low,
			Close:  closePx,
			Volume: math.Round(vol),
		})
		prev = closePx
	}
	return out
}
