// Package optimizer enumerates a parameter grid, evaluates every
// combination through the backtest pipeline on a bounded worker pool,
// and ranks the results by the chosen objective.
package optimizer

import (
	"context"
	"fmt"
	"math"
	"runtime"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/internal/modules/backtest"
	"github.com/aristath/stratlab/internal/modules/robustness"
)

// RangeType distinguishes how a parameter range is enumerated.
type RangeType string

const (
	RangeInt   RangeType = "int"
	RangeFloat RangeType = "float"
	RangeList  RangeType = "list"
)

// maxCombinations bounds the grid; a runaway product is an input
// error, not something to grind through.
const maxCombinations = 100_000

// maxWorkers caps the pool regardless of core count.
const maxWorkers = 8

// ParamRange describes one axis of the grid. Int and float ranges use
// Min/Max/Step; list ranges use explicit Values.
type ParamRange struct {
	Name   string    `json:"name"`
	Type   RangeType `json:"type"`
	Min    float64   `json:"min,omitempty"`
	Max    float64   `json:"max,omitempty"`
	Step   float64   `json:"step,omitempty"`
	Values []float64 `json:"values,omitempty"`
}

// expand enumerates the axis values.
func (r ParamRange) expand() ([]float64, error) {
	switch r.Type {
	case RangeList:
		if len(r.Values) == 0 {
			return nil, domain.InvalidInputf("range %q: list type requires values", r.Name)
		}
		return r.Values, nil
	case RangeInt, RangeFloat:
		step := r.Step
		if step == 0 && r.Type == RangeInt {
			step = 1
		}
		if step <= 0 {
			return nil, domain.InvalidInputf("range %q: step must be positive", r.Name)
		}
		if r.Max < r.Min {
			return nil, domain.InvalidInputf("range %q: max %v below min %v", r.Name, r.Max, r.Min)
		}
		var out []float64
		for v := r.Min; v <= r.Max+1e-9; v += step {
			if r.Type == RangeInt {
				out = append(out, math.Round(v))
			} else {
				out = append(out, v)
			}
		}
		return out, nil
	default:
		return nil, domain.InvalidInputf("range %q: unknown type %q", r.Name, r.Type)
	}
}

// Objective selects the score a candidate is ranked by.
type Objective string

const (
	ObjectiveSharpe       Objective = "sharpe"
	ObjectiveAnnualReturn Objective = "annual_return"
	ObjectiveCAGRMinusMDD Objective = "cagr_minus_mdd"
)

func objectiveScore(obj Objective, m domain.PerformanceMetrics) float64 {
	switch obj {
	case ObjectiveAnnualReturn:
		return m.AnnualReturn
	case ObjectiveCAGRMinusMDD:
		return m.AnnualReturn - math.Abs(m.MaxDrawdown)
	default:
		return m.SharpeRatio
	}
}

// ProgressCallback is invoked after each completed evaluation. It runs
// synchronously on the completing worker; keep it cheap.
type ProgressCallback func(completed, total int, message string)

// Request is one grid search.
type Request struct {
	Spec           domain.StrategySpec `json:"spec"`
	Broker         domain.BrokerConfig `json:"broker"`
	InitialCapital float64             `json:"initial_capital"`
	Ranges         []ParamRange        `json:"ranges"`
	Objective      Objective           `json:"objective"`
	TopN           int                 `json:"top_n"`
}

// Candidate is one evaluated parameter combination. Failed evaluations
// keep their params with a zero score so the grid stays complete.
type Candidate struct {
	Params  map[string]float64        `json:"params"`
	Score   float64                   `json:"score"`
	Rank    int                       `json:"rank"`
	Metrics domain.PerformanceMetrics `json:"metrics"`
	Failed  bool                      `json:"failed,omitempty"`
}

// Result carries the ranked top candidates plus the cross-grid
// statistics the robustness analyzer consumes.
type Result struct {
	Candidates           []Candidate `json:"candidates"`
	TotalCombinations    int         `json:"total_combinations"`
	Completed            int         `json:"completed"`
	Incomplete           bool        `json:"incomplete,omitempty"`
	ParameterSensitivity *float64    `json:"parameter_sensitivity,omitempty"`
}

// GridSearch runs evaluations on a bounded pool.
type GridSearch struct {
	backtest *backtest.Service
	workers  int
	log      zerolog.Logger
}

// NewGridSearch sizes the pool from the logical core count, capped at
// eight. Pass workers > 0 to override.
func NewGridSearch(svc *backtest.Service, workers int, log zerolog.Logger) *GridSearch {
	if workers <= 0 {
		workers = defaultWorkerCount()
	}
	return &GridSearch{
		backtest: svc,
		workers:  workers,
		log:      log.With().Str("module", "optimizer").Logger(),
	}
}

func defaultWorkerCount() int {
	n, err := cpu.Counts(true)
	if err != nil || n <= 0 {
		n = runtime.NumCPU()
	}
	if n > maxWorkers {
		n = maxWorkers
	}
	if n < 1 {
		n = 1
	}
	return n
}

// Run enumerates the grid and evaluates every combination. On context
// cancellation, in-flight evaluations finish, queued ones are dropped,
// and the partial result is returned with Incomplete set.
func (g *GridSearch) Run(ctx context.Context, bars []domain.Bar, req Request, progress ProgressCallback) (*Result, error) {
	combos, err := enumerate(req.Ranges)
	if err != nil {
		return nil, err
	}
	if req.TopN <= 0 {
		req.TopN = len(combos)
	}
	if req.Objective == "" {
		req.Objective = ObjectiveSharpe
	}

	total := len(combos)
	g.log.Info().
		Int("combinations", total).
		Int("workers", g.workers).
		Str("objective", string(req.Objective)).
		Msg("Grid search starting")

	jobs := make(chan int)
	candidates := make([]Candidate, total)

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		completed int
	)

	for w := 0; w < g.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for idx := range jobs {
				candidates[idx] = g.evaluate(bars, req, combos[idx])

				mu.Lock()
				completed++
				done := completed
				mu.Unlock()

				if progress != nil {
					progress(done, total, fmt.Sprintf("Evaluated %d/%d combinations", done, total))
				}
			}
		}()
	}

	cancelled := false
dispatch:
	for idx := range combos {
		select {
		case <-ctx.Done():
			cancelled = true
			break dispatch
		case jobs <- idx:
		}
	}
	close(jobs)
	wg.Wait()

	result := &Result{
		TotalCombinations: total,
		Completed:         completed,
		Incomplete:        cancelled,
	}

	evaluated := candidates[:0:0]
	var scores []float64
	for _, c := range candidates {
		if c.Params == nil {
			continue // never dispatched
		}
		evaluated = append(evaluated, c)
		scores = append(scores, c.Score)
	}

	// Descending by score; ties broken by parameter order for a
	// deterministic ranking across runs.
	sort.SliceStable(evaluated, func(i, j int) bool {
		return evaluated[i].Score > evaluated[j].Score
	})
	for i := range evaluated {
		evaluated[i].Rank = i + 1
	}
	if len(evaluated) > req.TopN {
		evaluated = evaluated[:req.TopN]
	}
	result.Candidates = evaluated

	if s, ok := robustness.ParameterSensitivity(scores); ok {
		result.ParameterSensitivity = &s
	}

	g.log.Info().
		Int("completed", completed).
		Bool("incomplete", cancelled).
		Msg("Grid search finished")

	return result, nil
}

func (g *GridSearch) evaluate(bars []domain.Bar, req Request, params map[string]float64) Candidate {
	spec := req.Spec.WithParams(params)
	report, err := g.backtest.Run(bars, backtest.Request{
		Spec:           spec,
		Broker:         req.Broker,
		InitialCapital: req.InitialCapital,
		SkipValidation: true,
	})
	if err != nil {
		g.log.Warn().Err(err).Interface("params", params).Msg("Evaluation failed; scored zero")
		return Candidate{Params: params, Failed: true}
	}
	return Candidate{
		Params:  params,
		Score:   objectiveScore(req.Objective, report.Metrics),
		Metrics: report.Metrics,
	}
}

// enumerate builds the Cartesian product of all ranges. Axes are
// processed in declaration order, so combination order is stable.
func enumerate(ranges []ParamRange) ([]map[string]float64, error) {
	if len(ranges) == 0 {
		return nil, domain.InvalidInputf("at least one parameter range is required")
	}

	axes := make([][]float64, len(ranges))
	total := 1
	for i, r := range ranges {
		values, err := r.expand()
		if err != nil {
			return nil, err
		}
		axes[i] = values
		total *= len(values)
		if total > maxCombinations {
			return nil, domain.InvalidInputf("grid exceeds %d combinations", maxCombinations)
		}
	}

	combos := make([]map[string]float64, 0, total)
	indices := make([]int, len(axes))
	for {
		combo := make(map[string]float64, len(axes))
		for i, r := range ranges {
			combo[r.Name] = axes[i][indices[i]]
		}
		combos = append(combos, combo)

		carry := len(axes) - 1
		for carry >= 0 {
			indices[carry]++
			if indices[carry] < len(axes[carry]) {
				break
			}
			indices[carry] = 0
			carry--
		}
		if carry < 0 {
			break
		}
	}
	return combos, nil
}
