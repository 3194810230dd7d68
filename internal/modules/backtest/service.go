// Package backtest orchestrates one full evaluation: indicators,
// scoring, signals, broker simulation, performance metrics, baseline
// comparison and SOP validation, per the pipeline every higher-level
// driver (walk-forward, grid search, HTTP API) delegates to.
package backtest

import (
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/internal/modules/broker"
	"github.com/aristath/stratlab/internal/modules/indicators"
	"github.com/aristath/stratlab/internal/modules/performance"
	"github.com/aristath/stratlab/internal/modules/scoring"
	"github.com/aristath/stratlab/internal/modules/signals"
	"github.com/aristath/stratlab/internal/modules/sop"
)

// Request describes one evaluation. Zero Start/End mean "use the full
// series"; a requested range wider than the data is narrowed and the
// adjustment reported (a warning, not an error).
type Request struct {
	Spec           domain.StrategySpec
	Broker         domain.BrokerConfig
	InitialCapital float64
	Start          time.Time
	End            time.Time
	Regime         string

	WithBaseline bool
	// SkipValidation leaves ValidationStatus empty; the walk-forward
	// driver validates once at the aggregate level instead.
	SkipValidation bool
	// LayersChanged feeds the SOP session-discipline warning.
	LayersChanged int
}

// Service wires the single-evaluation pipeline. It owns no mutable
// state and is safe for concurrent use by optimizer workers.
type Service struct {
	indicators  *indicators.Layer
	scoring     *scoring.Engine
	registry    *signals.Registry
	broker      *broker.Simulator
	performance *performance.Analyzer
	validator   *sop.Validator
	log         zerolog.Logger
}

// NewService constructs the evaluation pipeline.
func NewService(registry *signals.Registry, log zerolog.Logger) *Service {
	return &Service{
		indicators:  indicators.NewLayer(log),
		scoring:     scoring.NewEngine(log),
		registry:    registry,
		broker:      broker.NewSimulator(log),
		performance: performance.NewAnalyzer(log, 0),
		validator:   sop.NewValidator(log),
		log:         log.With().Str("module", "backtest").Logger(),
	}
}

// Run executes one evaluation over the shared, read-only bar series.
func (s *Service) Run(bars []domain.Bar, req Request) (*domain.BacktestReport, error) {
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}
	if err := req.Spec.Validate(); err != nil {
		return nil, err
	}
	req.Broker.Normalize()
	if err := req.Broker.Validate(); err != nil {
		return nil, err
	}
	if req.InitialCapital <= 0 {
		return nil, domain.InvalidInputf("initial capital must be positive")
	}

	window, adjusted, err := s.resolveWindow(bars, req)
	if err != nil {
		return nil, err
	}

	// Each evaluation owns its bar copies; PrevClose filling must not
	// mutate the shared series.
	owned := make([]domain.Bar, len(window))
	copy(owned, window)
	domain.FillPrevClose(owned)

	frame, err := s.buildFrame(owned, &req)
	if err != nil {
		return nil, err
	}

	scores := s.scoring.Score(frame, &req.Spec, req.Regime)

	generator, err := s.registry.Resolve(req.Spec.StrategyID)
	if err != nil {
		return nil, err
	}
	signalFrame, err := generator.Generate(frame, scores, &req.Spec)
	if err != nil {
		return nil, err
	}

	simResult, err := s.broker.Run(frame, signalFrame, req.Broker, req.InitialCapital)
	if err != nil {
		return nil, err
	}

	metrics, err := s.performance.Analyze(simResult.Trades, simResult.EquityCurve, req.InitialCapital)
	if err != nil {
		return nil, err
	}
	tradeReports, err := performance.PairTrades(simResult.Trades)
	if err != nil {
		return nil, err
	}

	report := &domain.BacktestReport{
		StrategyID:      req.Spec.StrategyID,
		StrategyVersion: req.Spec.StrategyVersion,
		Period:          domain.Period{Start: owned[0].Date, End: owned[len(owned)-1].Date},
		DateAdjusted:    adjusted,
		InitialCapital:  req.InitialCapital,
		FinalEquity:     simResult.EquityCurve[len(simResult.EquityCurve)-1].Equity,
		Metrics:         metrics,
		Trades:          simResult.Trades,
		TradeReports:    tradeReports,
		EquityCurve:     simResult.EquityCurve,
	}
	if adjusted {
		report.Messages = append(report.Messages, "requested date range narrowed to available data")
	}

	if req.WithBaseline {
		baseline, err := s.performance.Baseline(owned)
		if err != nil {
			return nil, err
		}
		comparison := performance.Compare(metrics, baseline)
		report.Baseline = &baseline
		report.Comparison = &comparison
	}

	if !req.SkipValidation {
		verdict := s.validator.Validate(sop.Input{
			TotalTrades:   metrics.TotalTrades,
			PeriodDays:    report.Period.Days(),
			LayersChanged: req.LayersChanged,
		})
		report.ValidationStatus = verdict.Status
		report.CanPromote = verdict.CanPromote
		report.Messages = append(report.Messages, verdict.Messages...)
	}

	return report, nil
}

// resolveWindow narrows the requested range to the available bars.
func (s *Service) resolveWindow(bars []domain.Bar, req Request) ([]domain.Bar, bool, error) {
	start := req.Start
	end := req.End
	if start.IsZero() {
		start = bars[0].Date
	}
	if end.IsZero() {
		end = bars[len(bars)-1].Date
	}
	if end.Before(start) {
		return nil, false, domain.InvalidInputf("end date %s before start date %s",
			end.Format(domain.DateLayout), start.Format(domain.DateLayout))
	}

	window := domain.SliceBars(bars, start, end)
	if len(window) == 0 {
		return nil, false, domain.InsufficientDataf("no bars between %s and %s",
			start.Format(domain.DateLayout), end.Format(domain.DateLayout))
	}

	adjusted := start.Before(bars[0].Date) || end.After(bars[len(bars)-1].Date)
	return window, adjusted, nil
}

// buildFrame computes the indicator frame, forcing an ATR column in
// when the broker's stops or sizing depend on it.
func (s *Service) buildFrame(bars []domain.Bar, req *Request) (*domain.IndicatorFrame, error) {
	specs, err := indicators.CatalogFromConfig(req.Spec.Config.Technical)
	if err != nil {
		return nil, err
	}

	needsATR := req.Broker.StopLossATRMult != nil ||
		req.Broker.TakeProfitATRMult != nil ||
		req.Broker.SizingMode == domain.SizeRiskBased
	if needsATR {
		hasATR := false
		for _, sp := range specs {
			if sp.Kind == indicators.KindATR {
				hasATR = true
				break
			}
		}
		if !hasATR {
			atrSpec, err := indicators.NewSpec(indicators.KindATR, indicators.Spec{Period: req.Broker.ATRPeriod})
			if err != nil {
				return nil, err
			}
			specs = append(specs, atrSpec)
		}
	}

	return s.indicators.Compute(bars, specs, req.Spec.Config.Patterns.Selected)
}
