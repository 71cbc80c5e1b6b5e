package btctl

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"quantbt/backtest"
	"quantbt/broadcast"
)

// loadPlan reads the plan file. A missing file is only tolerated when the
// path was not given explicitly.
func loadPlan(path string, flags *flag.FlagSet, log zerolog.Logger) (backtest.Plan, error) {
	explicit := false
	flags.Visit(func(f *flag.Flag) {
		if f.Name == "bt-config" {
			explicit = true
		}
	})
	plan, err := backtest.LoadPlan(path)
	if err != nil && !explicit && errors.Is(err, fs.ErrNotExist) {
		log.Info().Str("path", path).Msg("no backtest config found, using defaults")
		return backtest.DefaultPlan(), nil
	}
	return plan, err
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

func runBacktest(plan backtest.Plan, outPath, tradesPath, webhookURL string, log zerolog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	candles, err := backtest.LoadCandles(ctx, plan.Data)
	if err != nil {
		return err
	}
	log.Info().Str("symbol", plan.Run.Symbol).Int("bars", len(candles)).Msg("candles loaded")

	opt := backtest.RunOptions{Logger: &log}
	if webhookURL != "" {
		opt.Notifier = broadcast.NewWebhookNotifier(webhookURL, 3*time.Second, log)
	}
	res, err := backtest.Run(ctx, candles, plan.Run, opt)
	if err != nil {
		return err
	}
	m := res.Metrics
	log.Info().
		Int("trades", m.TotalTrades).
		Float64("total_pnl", backtest.TotalPnL(res.Trades)).
		Float64("return", m.TotalReturn).
		Float64("sharpe", m.SharpeRatio).
		Float64("max_drawdown", m.MaxDrawdown).
		Float64("profit_factor", m.ProfitFactor).
		Msg("backtest finished")

	if err := writeTrades(tradesPath, res.Trades); err != nil {
		return err
	}
	return writeJSON(outPath, res)
}

func runOptimize(plan backtest.Plan, outPath, tradesPath string, log zerolog.Logger) error {
	ctx, cancel := signalContext()
	defer cancel()

	candles, err := backtest.LoadCandles(ctx, plan.Data)
	if err != nil {
		return err
	}
	opt := backtest.NewOptimizer(plan.Grid, plan.Run, backtest.WithLogger(log))
	res, err := opt.Run(ctx, candles)
	if err != nil && res == nil {
		return err
	}
	if err != nil {
		log.Warn().Err(err).Msg("optimization interrupted, writing partial result")
	}
	if res.BestResult != nil {
		if werr := writeTrades(tradesPath, res.BestResult.Trades); werr != nil {
			return werr
		}
	}
	if werr := writeJSON(outPath, res); werr != nil {
		return werr
	}
	return err
}

func runGenCSV(plan backtest.Plan, path string, log zerolog.Logger) error {
	candles := plan.Data.Synthetic.Generate()
	if len(candles) == 0 {
		return fmt.Errorf("synthetic source produced no bars")
	}
	f, closeFn, err := createOutput(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer closeFn()
	if err := backtest.WriteCandlesCSV(f, candles); err != nil {
		return err
	}
	log.Info().Str("path", path).Int("bars", len(candles)).Msg("synthetic candles written")
	return nil
}

func writeJSON(path string, v any) error {
	f, closeFn, err := createOutput(path)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	defer closeFn()
	return backtest.WriteResultJSON(f, v)
}

func writeTrades(path string, trades []backtest.Trade) error {
	if path == "" {
		return nil
	}
	f, closeFn, err := createOutput(path)
	if err != nil {
		return fmt.Errorf("create trades csv: %w", err)
	}
	defer closeFn()
	return backtest.WriteTradesCSV(f, trades)
}
