package backtest

const (
	RSIPeriod       = 14
	VolumeMAPeriod  = 20
	neutralRSI      = 50.0
	neutralRelative = 1.0
)

type seriesKind uint8

const (
	seriesClose seriesKind = iota
	seriesVolume
)

type smaKey struct {
	kind   seriesKind
	period int
	index  int
}

// IndicatorCache computes indicators on demand over one candle series and
// memoizes moving averages per (series, period, index). It belongs to a
// single run and is not safe for concurrent use.
type IndicatorCache struct {
	candles []Candle
	sma     map[smaKey]float64
}

func NewIndicatorCache(candles []Candle) *IndicatorCache {
	return &IndicatorCache{
		candles: candles,
		sma:     make(map[smaKey]float64),
	}
}

func (c *IndicatorCache) Len() int { return len(c.candles) }

// SMA returns the simple moving average of closes ending at i. ok is false
// when fewer than period bars are available.
func (c *IndicatorCache) SMA(i, period int) (float64, bool) {
	return c.average(seriesClose, i, period)
}

// VolumeSMA is SMA over volumes.
func (c *IndicatorCache) VolumeSMA(i, period int) (float64, bool) {
	return c.average(seriesVolume, i, period)
}

func (c *IndicatorCache) average(kind seriesKind, i, period int) (float64, bool) {
	if period <= 0 || i < period-1 || i >= len(c.candles) {
		return 0, false
	}
	k := smaKey{kind: kind, period: period, index: i}
	if v, ok := c.sma[k]; ok {
		return v, true
	}
	sum := 0.0
	for j := i - period + 1; j <= i; j++ {
		if kind == seriesVolume {
			sum += c.candles[j].Volume
		} else {
			sum += c.candles[j].Close
		}
	}
	v := sum / float64(period)
	c.sma[k] = v
	return v, true
}

// RSI is the 14-bar relative strength index at i using plain averages of
// gains and losses over the trailing window. A window without losses reads
// 100. Before enough history exists it reports a neutral 50.
func (c *IndicatorCache) RSI(i int) float64 {
	return c.rsi(i, RSIPeriod)
}

func (c *IndicatorCache) rsi(i, period int) float64 {
	if i < period || i >= len(c.candles) {
		return neutralRSI
	}
	gains, losses := 0.0, 0.0
	for j := i - period + 1; j <= i; j++ {
		d := c.candles[j].Close - c.candles[j-1].Close
		if d > 0 {
			gains += d
		} else {
			losses -= d
		}
	}
	if losses == 0 {
		return 100
	}
	rs := (gains / float64(period)) / (losses / float64(period))
	return 100 - 100/(1+rs)
}

// RelativeVolume is volume[i] divided by its 20-bar average (current bar
// included). It is 1.0 when the average is zero or not yet available.
func (c *IndicatorCache) RelativeVolume(i int) float64 {
	avg, ok := c.VolumeSMA(i, VolumeMAPeriod)
	if !ok || avg == 0 {
		return neutralRelative
	}
	return c.candles[i].Volume / avg
}
