package backtest

import (
	"context"
	"encoding/json"
	"io"
	"time"

	"github.com/rs/zerolog"
)

// TradeNotice is emitted for every executed entry and exit.
type TradeNotice struct {
	Symbol string
	Side   Side
	Action Signal
	Price  float64
	Volume float64
	Time   time.Time
}

// Notifier delivers trade notices. Delivery is best-effort: the boolean
// reports success and never affects the simulation.
type Notifier interface {
	Notify(ctx context.Context, n TradeNotice) bool
}

type RunOptions struct {
	// Rand feeds the probabilistic admission policy. Nil means a generator
	// seeded from RunConfig.Seed.
	Rand     Rand
	Notifier Notifier
	Logger   *zerolog.Logger
}

// Run replays candles bar by bar and returns the finished result. It is
// synchronous and single-threaded; candles are only read.
func Run(ctx context.Context, candles []Candle, cfg RunConfig, opt RunOptions) (*Result, error) {
	if len(candles) == 0 {
		return nil, configCause("candles", ErrNoCandles)
	}
	for i, c := range candles {
		if !c.valid() {
			return nil, configErr("candles", "bar %d has a non-finite or non-positive value", i)
		}
	}
	if cfg.Mode == nil {
		cfg.Mode = Baseline{}
	}
	if cfg.Admission == nil {
		cfg.Admission = AdmitAll{}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	log := loggerOrNop(opt.Logger)
	rng := opt.Rand
	if rng == nil {
		rng = NewRand(cfg.Seed)
	}

	ind := NewIndicatorCache(candles)
	ensemble := NewSignalEnsemble(cfg.FastPeriod, cfg.SlowPeriod, cfg.Mode)
	filter := NewAdmissionFilter(cfg.Admission, rng)
	exec := ExecutionModel{InitialCapital: cfg.InitialCapital, CommissionRate: cfg.CommissionRate}
	ledger := NewPositionLedger(cfg.InitialCapital, len(candles))

	rejected := 0
	for i, c := range candles {
		sig := ensemble.Signal(ind, i)
		switch sig {
		case SignalBuy:
			if ledger.Side() != SideFlat {
				break
			}
			adm := filter.Evaluate(sig, FeaturesAt(ind, i), cfg.Slippage)
			if !adm.Allowed {
				rejected++
				log.Debug().Int("bar", i).Float64("score", adm.Score).Msg("entry rejected")
				break
			}
			fill, err := exec.Entry(c.Close, adm.Slippage)
			if err != nil {
				log.Debug().Int("bar", i).Err(err).Msg("entry skipped")
				break
			}
			if err := ledger.OpenLong(c.Time, fill); err != nil {
				break
			}
			notify(ctx, opt.Notifier, cfg.Symbol, SignalBuy, fill, c.Time)
		case SignalSell:
			if ledger.Side() != SideLong {
				break
			}
			adm := filter.Exit(FeaturesAt(ind, i), cfg.Slippage)
			closeLong(ctx, ledger, exec, opt.Notifier, cfg.Symbol, c, adm.Slippage, log)
		}
		// The forced exit lands before the final mark so drawdown sees the
		// realized equity.
		if cfg.CloseAtEnd && i == len(candles)-1 && ledger.Side() == SideLong {
			closeLong(ctx, ledger, exec, opt.Notifier, cfg.Symbol, c, cfg.Slippage, log)
		}
		ledger.Mark(c.Time, c.Close)
	}

	res := &Result{
		Symbol:      cfg.Symbol,
		Metrics:     ComputeMetrics(cfg.InitialCapital, ledger.EquityCurve(), ledger.Trades(), ledger.MaxDrawdown()),
		EquityCurve: ledger.EquityCurve(),
		Trades:      ledger.Trades(),
	}
	if res.Trades == nil {
		res.Trades = []Trade{}
	}
	if cfg.IncludeCandles {
		res.Candles = candles
	}

	log.Debug().
		Int("fast", cfg.FastPeriod).
		Int("slow", cfg.SlowPeriod).
		Int("trades", res.Metrics.TotalTrades).
		Int("rejected", rejected).
		Float64("profit_factor", res.Metrics.ProfitFactor).
		Msg("run finished")
	return res, nil
}

func closeLong(ctx context.Context, l *PositionLedger, exec ExecutionModel, n Notifier, symbol string, c Candle, slippage float64, log zerolog.Logger) {
	fill, err := exec.Exit(c.Close, slippage, l.Position().Qty)
	if err != nil {
		log.Debug().Time("time", c.Time).Err(err).Msg("exit skipped")
		return
	}
	if _, err := l.CloseLong(c.Time, fill); err != nil {
		return
	}
	notify(ctx, n, symbol, SignalSell, fill, c.Time)
}

func notify(ctx context.Context, n Notifier, symbol string, action Signal, f Fill, t time.Time) {
	if n == nil {
		return
	}
	n.Notify(ctx, TradeNotice{
		Symbol: symbol,
		Side:   SideLong,
		Action: action,
		Price:  f.Price,
		Volume: f.Qty,
		Time:   t,
	})
}

func loggerOrNop(l *zerolog.Logger) zerolog.Logger {
	if l == nil {
		return zerolog.Nop()
	}
	return *l
}

func WriteResultJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
