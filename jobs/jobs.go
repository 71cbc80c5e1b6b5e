// Package jobs runs backtests and grid searches asynchronously on a fixed
// pool of workers and keeps their status and results in memory.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/samber/lo"

	"quantbt/backtest"
)

type Status string

const (
	StatusQueued    Status = "QUEUED"
	StatusRunning   Status = "RUNNING"
	StatusCompleted Status = "COMPLETED"
	StatusFailed    Status = "FAILED"
)

func (s Status) Finished() bool { return s == StatusCompleted || s == StatusFailed }

type Kind string

const (
	KindBacktest     Kind = "backtest"
	KindOptimization Kind = "optimization"
)

var (
	ErrNotFound  = errors.New("job not found")
	ErrNotReady  = errors.New("job has not completed")
	ErrQueueFull = errors.New("job queue is full")
	ErrClosed    = errors.New("job manager is closed")
	ErrFinished  = errors.New("job already finished")
	ErrCancelled = errors.New("job cancelled")
)

// Request is one unit of work.
type Request struct {
	Kind Kind
	Plan backtest.Plan
}

// Job is a point-in-time view of a job.
type Job struct {
	ID         string     `json:"id"`
	Kind       Kind       `json:"kind"`
	Symbol     string     `json:"symbol"`
	Status     Status     `json:"status"`
	Progress   float64    `json:"progress"`
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// Loader resolves a plan's data section into candles.
type Loader func(ctx context.Context, d backtest.DataConfig) ([]backtest.Candle, error)

type Options struct {
	Workers   int
	MaxQueued int
	// MaxJobs bounds retained records; the oldest finished jobs are evicted
	// first. Zero keeps everything.
	MaxJobs  int
	Notifier backtest.Notifier
	Logger   zerolog.Logger
	Loader   Loader
}

type record struct {
	job    Job
	req    Request
	result any
	cancel context.CancelFunc
}

type Manager struct {
	mu     sync.RWMutex
	jobs   map[string]*record
	order  []string
	queue  chan *record
	closed bool

	opt    Options
	log    zerolog.Logger
	ctx    context.Context
	stop   context.CancelFunc
	wg     sync.WaitGroup
	nowFn  func() time.Time
	loader Loader
}

func NewManager(opt Options) *Manager {
	if opt.Workers <= 0 {
		opt.Workers = 1
	}
	if opt.MaxQueued <= 0 {
		opt.MaxQueued = 64
	}
	ctx, stop := context.WithCancel(context.Background())
	m := &Manager{
		jobs:   make(map[string]*record),
		queue:  make(chan *record, opt.MaxQueued),
		opt:    opt,
		log:    opt.Logger,
		ctx:    ctx,
		stop:   stop,
		nowFn:  time.Now,
		loader: opt.Loader,
	}
	if m.loader == nil {
		m.loader = backtest.LoadCandles
	}
	for i := 0; i < opt.Workers; i++ {
		m.wg.Add(1)
		go m.worker(i)
	}
	return m
}

// Submit validates and enqueues a request. Configuration errors are
// returned immediately as *backtest.ConfigError.
func (m *Manager) Submit(req Request) (Job, error) {
	switch req.Kind {
	case KindBacktest, KindOptimization:
	default:
		return Job{}, fmt.Errorf("unknown job kind %q", req.Kind)
	}
	if err := req.Plan.Run.Validate(); err != nil {
		return Job{}, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return Job{}, ErrClosed
	}
	rec := &record{
		job: Job{
			ID:        uuid.NewString(),
			Kind:      req.Kind,
			Symbol:    req.Plan.Run.Symbol,
			Status:    StatusQueued,
			CreatedAt: m.nowFn(),
		},
		req: req,
	}
	select {
	case m.queue <- rec:
	default:
		return Job{}, ErrQueueFull
	}
	m.jobs[rec.job.ID] = rec
	m.order = append(m.order, rec.job.ID)
	m.log.Info().Str("job", rec.job.ID).Str("kind", string(req.Kind)).Msg("job queued")
	return rec.job, nil
}

func (m *Manager) Get(id string) (Job, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return rec.job, nil
}

// List returns every retained job in submission order.
func (m *Manager) List() []Job {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return lo.Map(m.order, func(id string, _ int) Job { return m.jobs[id].job })
}

// Result returns *backtest.Result or *backtest.OptimizationResult once the
// job has completed.
func (m *Manager) Result(id string) (any, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.jobs[id]
	if !ok {
		return nil, ErrNotFound
	}
	if rec.job.Status != StatusCompleted {
		return nil, ErrNotReady
	}
	return rec.result, nil
}

// Cancel stops a queued or running job. The job ends as FAILED.
func (m *Manager) Cancel(id string) (Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rec, ok := m.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	switch rec.job.Status {
	case StatusQueued:
		m.finishLocked(rec, nil, ErrCancelled)
	case StatusRunning:
		rec.cancel()
	default:
		return rec.job, ErrFinished
	}
	return rec.job, nil
}

// Close stops accepting work, cancels running jobs and waits for the
// workers to exit.
func (m *Manager) Close() {
	m.mu.Lock()
	if !m.closed {
		m.closed = true
		close(m.queue)
	}
	m.mu.Unlock()
	m.stop()
	m.wg.Wait()
}

func (m *Manager) worker(n int) {
	defer m.wg.Done()
	log := m.log.With().Int("worker", n).Logger()
	for rec := range m.queue {
		ctx, ok := m.start(rec)
		if !ok {
			continue
		}
		started := time.Now()
		result, err := m.execute(ctx, rec)
		if err == nil {
			err = ctx.Err()
		}

		m.mu.Lock()
		rec.cancel()
		if errors.Is(err, context.Canceled) {
			err = ErrCancelled
		}
		m.finishLocked(rec, result, err)
		m.mu.Unlock()

		var ev *zerolog.Event
		if err != nil {
			ev = log.Warn().Err(err)
		} else {
			ev = log.Info()
		}
		ev.Str("job", rec.job.ID).Dur("duration", time.Since(started)).Msg("job finished")
	}
}

// start moves a queued job to RUNNING. It reports false for jobs cancelled
// while queued or when the manager is shutting down.
func (m *Manager) start(rec *record) (context.Context, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if rec.job.Status != StatusQueued {
		return nil, false
	}
	if m.ctx.Err() != nil {
		m.finishLocked(rec, nil, ErrCancelled)
		return nil, false
	}
	ctx, cancel := context.WithCancel(m.ctx)
	rec.cancel = cancel
	now := m.nowFn()
	rec.job.Status = StatusRunning
	rec.job.StartedAt = &now
	return ctx, true
}

func (m *Manager) execute(ctx context.Context, rec *record) (any, error) {
	plan := rec.req.Plan
	candles, err := m.loader(ctx, plan.Data)
	if err != nil {
		return nil, fmt.Errorf("load candles: %w", err)
	}
	logger := m.log.With().Str("job", rec.job.ID).Logger()

	switch rec.req.Kind {
	case KindOptimization:
		opt := backtest.NewOptimizer(plan.Grid, plan.Run,
			backtest.WithLogger(logger),
			backtest.WithProgress(func(done, total int) {
				if total > 0 {
					m.setProgress(rec, float64(done)/float64(total))
				}
			}),
		)
		return opt.Run(ctx, candles)
	default:
		return backtest.Run(ctx, candles, plan.Run, backtest.RunOptions{
			Notifier: m.opt.Notifier,
			Logger:   &logger,
		})
	}
}

func (m *Manager) setProgress(rec *record, p float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if p > rec.job.Progress && rec.job.Status == StatusRunning {
		rec.job.Progress = min(p, 1)
	}
}

func (m *Manager) finishLocked(rec *record, result any, err error) {
	now := m.nowFn()
	rec.job.FinishedAt = &now
	if err != nil {
		rec.job.Status = StatusFailed
		rec.job.Error = err.Error()
	} else {
		rec.job.Status = StatusCompleted
		rec.job.Progress = 1
		rec.result = result
	}
	m.evictLocked()
}

func (m *Manager) evictLocked() {
	if m.opt.MaxJobs <= 0 {
		return
	}
	for len(m.order) > m.opt.MaxJobs {
		_, idx, ok := lo.FindIndexOf(m.order, func(id string) bool {
			return m.jobs[id].job.Status.Finished()
		})
		if !ok {
			return
		}
		delete(m.jobs, m.order[idx])
		m.order = append(m.order[:idx], m.order[idx+1:]...)
	}
}
