package backtest

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// PlanDocument is the on-disk (YAML) and on-wire (JSON) shape of a plan.
type PlanDocument struct {
	Symbol string `yaml:"symbol" json:"symbol"`

	Data struct {
		CSV      string `yaml:"csv" json:"csv"`
		Encoding string `yaml:"encoding" json:"encoding"`
		Remote   struct {
			Code    string `yaml:"code" json:"code"`
			Days    int    `yaml:"days" json:"days"`
			BaseURL string `yaml:"base_url" json:"base_url"`
		} `yaml:"remote" json:"remote"`
		Synthetic struct {
			Enabled    bool    `yaml:"enabled" json:"enabled"`
			Bars       int     `yaml:"bars" json:"bars"`
			Start      string  `yaml:"start" json:"start"`
			Interval   string  `yaml:"interval" json:"interval"`
			StartPrice float64 `yaml:"start_price" json:"start_price"`
			Drift      float64 `yaml:"drift" json:"drift"`
			Volatility float64 `yaml:"volatility" json:"volatility"`
			Seed       uint64  `yaml:"seed" json:"seed"`
		} `yaml:"synthetic" json:"synthetic"`
	} `yaml:"data" json:"data"`

	Backtest struct {
		InitialCapital float64  `yaml:"initial_capital" json:"initial_capital"`
		Commission     *float64 `yaml:"commission" json:"commission"`
		Slippage       *float64 `yaml:"slippage" json:"slippage"`
		FastPeriod     int      `yaml:"fast_period" json:"fast_period"`
		SlowPeriod     int      `yaml:"slow_period" json:"slow_period"`
		Seed           uint64   `yaml:"seed" json:"seed"`
		CloseAtEnd     bool     `yaml:"close_at_end" json:"close_at_end"`
		IncludeCandles *bool    `yaml:"include_candles" json:"include_candles"`
	} `yaml:"backtest" json:"backtest"`

	Ensemble struct {
		Enabled   bool    `yaml:"enabled" json:"enabled"`
		Threshold float64 `yaml:"threshold" json:"threshold"`
	} `yaml:"ensemble" json:"ensemble"`

	Admission struct {
		Policy      string  `yaml:"policy" json:"policy"`
		Temperature float64 `yaml:"temperature" json:"temperature"`
	} `yaml:"admission" json:"admission"`

	Optimize struct {
		FastStart     int `yaml:"fast_start" json:"fast_start"`
		FastEnd       int `yaml:"fast_end" json:"fast_end"`
		FastStep      int `yaml:"fast_step" json:"fast_step"`
		SlowStart     int `yaml:"slow_start" json:"slow_start"`
		SlowEnd       int `yaml:"slow_end" json:"slow_end"`
		SlowStep      int `yaml:"slow_step" json:"slow_step"`
		MaxIterations int `yaml:"max_iterations" json:"max_iterations"`
		Workers       int `yaml:"workers" json:"workers"`
	} `yaml:"optimize" json:"optimize"`
}

type RunConfig struct {
	Symbol         string
	InitialCapital float64
	CommissionRate float64
	Slippage       float64
	FastPeriod     int
	SlowPeriod     int
	Mode           ExecutionMode
	Admission      AdmissionPolicy
	Seed           uint64
	CloseAtEnd     bool
	IncludeCandles bool
}

type RemoteConfig struct {
	Code    string
	Days    int
	BaseURL string
}

type DataConfig struct {
	CSVPath           string
	Encoding          string
	Remote            *RemoteConfig
	Synthetic         SyntheticSource
	SyntheticFallback bool
}

type GridConfig struct {
	FastStart, FastEnd, FastStep int
	SlowStart, SlowEnd, SlowStep int
	MaxIterations                int
	Workers                      int
}

// Plan is everything needed to load candles and run or optimize.
type Plan struct {
	Run  RunConfig
	Data DataConfig
	Grid GridConfig
}

const DefaultMaxIterations = 5000

// MaxPeriod bounds every moving-average period, in run configs and in grid
// bounds alike.
const MaxPeriod = 1_000_000

func DefaultRunConfig() RunConfig {
	return RunConfig{
		Symbol:         "SYNTH",
		InitialCapital: 10_000,
		CommissionRate: 0.001,
		Slippage:       0.0005,
		FastPeriod:     10,
		SlowPeriod:     30,
		Mode:           Baseline{},
		Admission:      AdmitAll{},
		Seed:           42,
		IncludeCandles: true,
	}
}

func DefaultGridConfig() GridConfig {
	return GridConfig{
		FastStart: 5, FastEnd: 30, FastStep: 1,
		SlowStart: 20, SlowEnd: 120, SlowStep: 2,
		MaxIterations: DefaultMaxIterations,
		Workers:       4,
	}
}

func DefaultPlan() Plan {
	return Plan{
		Run:  DefaultRunConfig(),
		Data: DataConfig{Synthetic: DefaultSyntheticSource(), SyntheticFallback: true},
		Grid: DefaultGridConfig(),
	}
}

// Validate rejects configurations that cannot produce a meaningful run.
func (c RunConfig) Validate() error {
	if c.InitialCapital <= 0 {
		return configErr("initial_capital", "must be positive, got %v", c.InitialCapital)
	}
	if c.CommissionRate < 0 {
		return configErr("commission", "must not be negative, got %v", c.CommissionRate)
	}
	if c.Slippage < 0 || c.Slippage >= 1 {
		return configErr("slippage", "must be in [0,1), got %v", c.Slippage)
	}
	if c.FastPeriod <= 0 || c.SlowPeriod <= 0 {
		return configErr("periods", "must be positive, got fast=%d slow=%d", c.FastPeriod, c.SlowPeriod)
	}
	if c.SlowPeriod > MaxPeriod {
		return configErr("periods", "slow (%d) exceeds %d", c.SlowPeriod, MaxPeriod)
	}
	if c.FastPeriod >= c.SlowPeriod {
		return configErr("periods", "fast (%d) must be below slow (%d)", c.FastPeriod, c.SlowPeriod)
	}
	if m, ok := c.Mode.(Ensemble); ok && (m.Threshold < 0 || m.Threshold > 1) {
		return configErr("ensemble.threshold", "must be in [0,1], got %v", m.Threshold)
	}
	return nil
}

func LoadPlan(path string) (Plan, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Plan{}, fmt.Errorf("read config: %w", err)
	}
	return ParsePlan(raw)
}

// ParsePlan decodes YAML (or JSON, which YAML accepts) into a Plan.
func ParsePlan(raw []byte) (Plan, error) {
	doc, err := ParsePlanDocument(raw)
	if err != nil {
		return Plan{}, err
	}
	return doc.Plan()
}

// LoadPlanDocument reads a plan file without resolving it, so it can serve
// as the base for later requests.
func LoadPlanDocument(path string) (*PlanDocument, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	doc, err := ParsePlanDocument(raw)
	if err != nil {
		return nil, err
	}
	if _, err := doc.Plan(); err != nil {
		return nil, err
	}
	return doc, nil
}

func ParsePlanDocument(raw []byte) (*PlanDocument, error) {
	var doc PlanDocument
	if err := yaml.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("parse yaml: %w", err)
	}
	return &doc, nil
}

// Plan overlays the document on DefaultPlan.
func (d PlanDocument) Plan() (Plan, error) {
	p := DefaultPlan()

	if s := strings.TrimSpace(d.Symbol); s != "" {
		p.Run.Symbol = s
	}

	b := d.Backtest
	if b.InitialCapital > 0 {
		p.Run.InitialCapital = b.InitialCapital
	}
	if b.Commission != nil {
		p.Run.CommissionRate = *b.Commission
	}
	if b.Slippage != nil {
		p.Run.Slippage = *b.Slippage
	}
	if b.FastPeriod > 0 {
		p.Run.FastPeriod = b.FastPeriod
	}
	if b.SlowPeriod > 0 {
		p.Run.SlowPeriod = b.SlowPeriod
	}
	if b.Seed != 0 {
		p.Run.Seed = b.Seed
	}
	p.Run.CloseAtEnd = b.CloseAtEnd
	if b.IncludeCandles != nil {
		p.Run.IncludeCandles = *b.IncludeCandles
	}

	if d.Ensemble.Enabled {
		th := d.Ensemble.Threshold
		if th <= 0 {
			th = 0.6
		}
		p.Run.Mode = Ensemble{Threshold: th}
	}

	policy, err := ParseAdmissionPolicy(d.Admission.Policy, d.Admission.Temperature)
	if err != nil {
		return Plan{}, err
	}
	p.Run.Admission = policy

	data := d.Data
	p.Data.CSVPath = strings.TrimSpace(data.CSV)
	p.Data.Encoding = strings.TrimSpace(data.Encoding)
	if code := strings.TrimSpace(data.Remote.Code); code != "" {
		p.Data.Remote = &RemoteConfig{Code: code, Days: data.Remote.Days, BaseURL: data.Remote.BaseURL}
	}
	syn := data.Synthetic
	if syn.Bars > 0 {
		p.Data.Synthetic.Bars = syn.Bars
	}
	if syn.StartPrice > 0 {
		p.Data.Synthetic.StartPrice = syn.StartPrice
	}
	if syn.Drift != 0 {
		p.Data.Synthetic.Drift = syn.Drift
	}
	if syn.Volatility > 0 {
		p.Data.Synthetic.Volatility = syn.Volatility
	}
	if syn.Seed != 0 {
		p.Data.Synthetic.Seed = syn.Seed
	}
	if syn.Start != "" {
		t, err := time.Parse("2006-01-02", syn.Start)
		if err != nil {
			return Plan{}, fmt.Errorf("invalid data.synthetic.start: %w", err)
		}
		p.Data.Synthetic.Start = t
	}
	if syn.Interval != "" {
		iv, err := time.ParseDuration(syn.Interval)
		if err != nil {
			return Plan{}, fmt.Errorf("invalid data.synthetic.interval: %w", err)
		}
		p.Data.Synthetic.Interval = iv
	}
	// Explicit sources disable the synthetic fallback unless asked for.
	if p.Data.CSVPath != "" || p.Data.Remote != nil {
		p.Data.SyntheticFallback = syn.Enabled
	}

	o := d.Optimize
	g := &p.Grid
	setIfPositive(&g.FastStart, o.FastStart)
	setIfPositive(&g.FastEnd, o.FastEnd)
	setIfPositive(&g.FastStep, o.FastStep)
	setIfPositive(&g.SlowStart, o.SlowStart)
	setIfPositive(&g.SlowEnd, o.SlowEnd)
	setIfPositive(&g.SlowStep, o.SlowStep)
	setIfPositive(&g.MaxIterations, o.MaxIterations)
	setIfPositive(&g.Workers, o.Workers)

	return p, nil
}

func setIfPositive(dst *int, v int) {
	if v > 0 {
		*dst = v
	}
}

// ParseAdmissionPolicy maps a policy name to its variant. "softmax" is an
// alias of "probabilistic"; an empty name means no filtering.
func ParseAdmissionPolicy(name string, temperature float64) (AdmissionPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "none", "off":
		return AdmitAll{}, nil
	case "greedy", "argmax":
		return Greedy{}, nil
	case "probabilistic", "softmax":
		if temperature <= 0 {
			temperature = 1
		}
		return Probabilistic{Temperature: temperature}, nil
	default:
		return nil, configErr("admission.policy", "unknown policy %q", name)
	}
}
