package backtest

import (
	"context"
	"iter"
	"runtime"
	"slices"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// ProgressFunc is called after each finished grid cell. It may be called
// from several goroutines at once.
type ProgressFunc func(done, total int)

type GridCell struct {
	Fast int `json:"fast"`
	Slow int `json:"slow"`
}

// bounded reports whether the grid can be enumerated: positive starts and
// steps, End >= Start and nothing above MaxPeriod.
func (g GridConfig) bounded() bool {
	return g.FastStart > 0 && g.SlowStart > 0 &&
		g.FastStep > 0 && g.SlowStep > 0 &&
		g.FastEnd >= g.FastStart && g.SlowEnd >= g.SlowStart &&
		g.FastEnd <= MaxPeriod && g.SlowEnd <= MaxPeriod
}

// firstSlowAbove returns the smallest slow value of the grid greater than
// fast, or false when there is none.
func (g GridConfig) firstSlowAbove(fast int) (int, bool) {
	if fast < g.SlowStart {
		return g.SlowStart, true
	}
	k := (fast-g.SlowStart)/g.SlowStep + 1
	if k > (g.SlowEnd-g.SlowStart)/g.SlowStep {
		return 0, false
	}
	return g.SlowStart + k*g.SlowStep, true
}

// All yields the valid (fast < slow) pairs of the grid in row-major order:
// ascending fast, then ascending slow. Invalid bounds yield nothing. Steps
// never move past End, so huge steps cannot wrap around.
func (g GridConfig) All() iter.Seq[GridCell] {
	return func(yield func(GridCell) bool) {
		if !g.bounded() {
			return
		}
		for f := g.FastStart; ; f += g.FastStep {
			first, ok := g.firstSlowAbove(f)
			if !ok {
				// fast only grows from here.
				return
			}
			for s := first; ; s += g.SlowStep {
				if !yield(GridCell{Fast: f, Slow: s}) {
					return
				}
				if s > g.SlowEnd-g.SlowStep {
					break
				}
			}
			if f > g.FastEnd-g.FastStep {
				return
			}
		}
	}
}

// Count returns the number of pairs All yields without enumerating them.
func (g GridConfig) Count() int {
	if !g.bounded() {
		return 0
	}
	n := 0
	for f := g.FastStart; ; f += g.FastStep {
		first, ok := g.firstSlowAbove(f)
		if !ok {
			break
		}
		n += (g.SlowEnd-first)/g.SlowStep + 1
		if f > g.FastEnd-g.FastStep {
			break
		}
	}
	return n
}

// Cells collects All.
func (g GridConfig) Cells() []GridCell {
	return slices.Collect(g.All())
}

type Optimizer struct {
	grid     GridConfig
	base     RunConfig
	log      zerolog.Logger
	progress ProgressFunc
}

type OptimizerOption func(*Optimizer)

func WithLogger(l zerolog.Logger) OptimizerOption {
	return func(o *Optimizer) { o.log = l }
}

func WithProgress(fn ProgressFunc) OptimizerOption {
	return func(o *Optimizer) { o.progress = fn }
}

// NewOptimizer searches grid using base for every other parameter. Each
// cell runs in Baseline mode.
func NewOptimizer(grid GridConfig, base RunConfig, opts ...OptimizerOption) *Optimizer {
	if grid.MaxIterations <= 0 {
		grid.MaxIterations = DefaultMaxIterations
	}
	if grid.Workers <= 0 {
		grid.Workers = runtime.GOMAXPROCS(0)
	}
	o := &Optimizer{grid: grid, base: base, log: zerolog.Nop()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

type cellResult struct {
	cell GridCell
	res  *Result
}

// Run evaluates the grid and returns the cell with the highest profit
// factor (ties keep the earliest cell). The search stops after
// MaxIterations cells. When nothing could be evaluated a single fallback
// run at the grid's start is returned. On cancellation the best result so
// far is returned together with ctx.Err().
func (o *Optimizer) Run(ctx context.Context, candles []Candle) (*OptimizationResult, error) {
	started := time.Now()
	candidates := o.grid.Count()
	total := min(candidates, o.grid.MaxIterations)

	o.log.Info().
		Int("candidates", candidates).
		Int("budget", o.grid.MaxIterations).
		Int("workers", o.grid.Workers).
		Msg("grid search started")

	results := make([]cellResult, total)
	var done atomic.Int64

	var g errgroup.Group
	g.SetLimit(o.grid.Workers)
	idx := 0
	for cell := range o.grid.All() {
		if idx >= total || ctx.Err() != nil {
			break
		}
		slot := idx
		idx++
		g.Go(func() error {
			if ctx.Err() != nil {
				return nil
			}
			res, err := o.runCell(ctx, candles, cell)
			if err != nil {
				o.log.Warn().Err(err).Int("fast", cell.Fast).Int("slow", cell.Slow).Msg("cell failed")
				return nil
			}
			results[slot] = cellResult{cell: cell, res: res}
			n := int(done.Add(1))
			if o.progress != nil {
				o.progress(n, total)
			}
			return nil
		})
	}
	_ = g.Wait()

	out := &OptimizationResult{
		IterationsRun: int(done.Load()),
		Candidates:    candidates,
		Capped:        candidates > o.grid.MaxIterations,
	}
	for _, cr := range results {
		if cr.res == nil {
			continue
		}
		if out.BestResult == nil || cr.res.Metrics.ProfitFactor > out.BestProfitFactor {
			out.BestFast = cr.cell.Fast
			out.BestSlow = cr.cell.Slow
			out.BestProfitFactor = cr.res.Metrics.ProfitFactor
			out.BestResult = cr.res
		}
	}

	if out.BestResult == nil {
		if err := o.fallback(ctx, candles, out); err != nil {
			return nil, err
		}
	}
	if o.base.IncludeCandles {
		out.BestResult.Candles = candles
	}

	o.log.Info().
		Int("iterations", out.IterationsRun).
		Bool("capped", out.Capped).
		Bool("fallback", out.Fallback).
		Int("best_fast", out.BestFast).
		Int("best_slow", out.BestSlow).
		Float64("best_profit_factor", out.BestProfitFactor).
		Dur("duration", time.Since(started)).
		Msg("grid search finished")

	return out, ctx.Err()
}

func (o *Optimizer) runCell(ctx context.Context, candles []Candle, cell GridCell) (*Result, error) {
	cfg := o.base
	cfg.FastPeriod = cell.Fast
	cfg.SlowPeriod = cell.Slow
	cfg.Mode = Baseline{}
	cfg.IncludeCandles = false
	return Run(ctx, candles, cfg, RunOptions{Rand: NewRand(CellSeed(o.base.Seed, cell.Fast, cell.Slow))})
}

// fallback runs the grid's starting pair, repaired into a valid one.
func (o *Optimizer) fallback(ctx context.Context, candles []Candle, out *OptimizationResult) error {
	fast := min(max(o.grid.FastStart, 2), MaxPeriod-1)
	slow := min(o.grid.SlowStart, MaxPeriod)
	if slow <= fast {
		slow = fast + 1
	}
	o.log.Warn().Int("fast", fast).Int("slow", slow).Msg("no grid cell evaluated, using fallback run")

	res, err := o.runCell(ctx, candles, GridCell{Fast: fast, Slow: slow})
	if err != nil {
		return err
	}
	out.BestFast = fast
	out.BestSlow = slow
	out.BestProfitFactor = res.Metrics.ProfitFactor
	out.BestResult = res
	out.Fallback = true
	return nil
}
