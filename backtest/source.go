package backtest

import (
	"context"
	"fmt"

	"quantbt/fetcher"
)

// CandleSource supplies an ordered OHLCV series.
type CandleSource interface {
	Candles(ctx context.Context) ([]Candle, error)
}

// KLineSource adapts the remote daily-kline fetcher.
type KLineSource struct {
	Fetcher *fetcher.KLineFetcher
	Code    string
	Days    int
}

func (s KLineSource) Candles(ctx context.Context) ([]Candle, error) {
	f := s.Fetcher
	if f == nil {
		f = fetcher.NewKLineFetcher("")
	}
	kl, err := f.Fetch(ctx, s.Code, s.Days)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", s.Code, err)
	}
	return CandlesFromKLines(kl), nil
}

// CandlesFromKLines converts fetched rows, dropping unparseable dates and
// invalid prices and re-sorting like CSV ingestion does.
func CandlesFromKLines(kl []fetcher.KLine) []Candle {
	out := make([]Candle, 0, len(kl))
	for _, k := range kl {
		t, err := parseTimestamp(k.Date)
		if err != nil {
			continue
		}
		c := Candle{Time: t, Open: k.Open, High: k.High, Low: k.Low, Close: k.Close, Volume: k.Volume}
		if !c.valid() {
			continue
		}
		out = append(out, c)
	}
	out, _ = sortDedupe(out)
	return out
}

// Source picks the configured source: CSV first, then remote, then the
// synthetic generator when fallback is allowed.
func (d DataConfig) Source() (CandleSource, error) {
	switch {
	case d.CSVPath != "":
		return CSVSource{Path: d.CSVPath, Encoding: d.Encoding}, nil
	case d.Remote != nil:
		return KLineSource{
			Fetcher: fetcher.NewKLineFetcher(d.Remote.BaseURL),
			Code:    d.Remote.Code,
			Days:    d.Remote.Days,
		}, nil
	case d.SyntheticFallback:
		return d.Synthetic, nil
	default:
		return nil, ErrUnknownSource
	}
}

// LoadCandles resolves and reads the configured source. An empty series is
// replaced by synthetic data when fallback is allowed, otherwise it is a
// configuration error.
func LoadCandles(ctx context.Context, d DataConfig) ([]Candle, error) {
	src, err := d.Source()
	if err != nil {
		return nil, configCause("data", err)
	}
	candles, err := src.Candles(ctx)
	if err != nil {
		return nil, err
	}
	if len(candles) == 0 && d.SyntheticFallback {
		candles = d.Synthetic.Generate()
	}
	if len(candles) == 0 {
		return nil, configCause("data", ErrNoCandles)
	}
	return candles, nil
}
