// Package walkforward rolls (train, test) window pairs across a date
// range and evaluates the same strategy spec on both sides of each
// fold. No re-optimization happens between train and test; the test
// window is pure out-of-sample evidence.
package walkforward

import (
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/internal/modules/backtest"
	"github.com/aristath/stratlab/internal/modules/robustness"
)

// Config shapes the rolling windows. Months advance by calendar
// arithmetic, so fold lengths vary slightly with month lengths.
type Config struct {
	Start       time.Time `json:"start"`
	End         time.Time `json:"end"`
	TrainMonths int       `json:"train_months"`
	TestMonths  int       `json:"test_months"`
	StepMonths  int       `json:"step_months"`
	WarmupDays  int       `json:"warmup_days"`
}

// Validate checks the window parameters.
func (c Config) Validate() error {
	if c.TrainMonths <= 0 || c.TestMonths <= 0 || c.StepMonths <= 0 {
		return domain.InvalidInputf("train, test and step months must all be positive")
	}
	if c.WarmupDays < 0 {
		return domain.InvalidInputf("warmup_days must be non-negative")
	}
	if !c.End.After(c.Start) {
		return domain.InvalidInputf("walk-forward range is empty")
	}
	return nil
}

// Result aggregates the folds that completed. ConsistencyDefined is
// false when fewer than two folds survived.
type Result struct {
	Folds              []domain.WalkForwardFold `json:"folds"`
	SkippedFolds       int                      `json:"skipped_folds"`
	AvgDegradation     float64                  `json:"avg_degradation"`
	ConsistencyStd     float64                  `json:"consistency_std"`
	ConsistencyDefined bool                     `json:"consistency_defined"`
}

// Driver sequences folds; each fold delegates to the single-evaluation
// pipeline.
type Driver struct {
	backtest *backtest.Service
	log      zerolog.Logger
}

// NewDriver creates a walk-forward driver on top of an evaluation
// service.
func NewDriver(svc *backtest.Service, log zerolog.Logger) *Driver {
	return &Driver{
		backtest: svc,
		log:      log.With().Str("module", "walkforward").Logger(),
	}
}

// Run rolls the windows across [cfg.Start, cfg.End]. Folds that cannot
// be evaluated (insufficient data, simulator breach) are skipped and
// counted; configuration errors abort the run since they would fail
// every fold identically.
func (d *Driver) Run(bars []domain.Bar, spec domain.StrategySpec, broker domain.BrokerConfig, initialCapital float64, cfg Config) (*Result, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	result := &Result{}

	for cursor := cfg.Start; cursor.Before(cfg.End); cursor = cursor.AddDate(0, cfg.StepMonths, 0) {
		trainStart := cursor.AddDate(0, 0, cfg.WarmupDays)
		if !trainStart.Before(cfg.End) {
			break
		}
		trainEnd := trainStart.AddDate(0, cfg.TrainMonths, 0)
		if trainEnd.After(cfg.End) {
			break
		}
		testStart := trainEnd.AddDate(0, 0, 1)
		testEnd := testStart.AddDate(0, cfg.TestMonths, 0)
		if testEnd.After(cfg.End) {
			testEnd = cfg.End
		}
		if !testStart.Before(testEnd) {
			break
		}

		fold, err := d.runFold(bars, spec, broker, initialCapital, trainStart, trainEnd, testStart, testEnd, cfg.WarmupDays)
		if err != nil {
			if errors.Is(err, domain.ErrInvalidInput) {
				return nil, err
			}
			result.SkippedFolds++
			d.log.Warn().Err(err).
				Str("train_start", trainStart.Format(domain.DateLayout)).
				Str("test_end", testEnd.Format(domain.DateLayout)).
				Msg("Fold skipped")
			continue
		}
		result.Folds = append(result.Folds, *fold)
	}

	d.aggregate(result)
	return result, nil
}

// Split runs the degenerate single-fold mode: warmup carves an initial
// slice belonging to neither window, the remainder is cut at
// trainRatio.
func (d *Driver) Split(bars []domain.Bar, spec domain.StrategySpec, broker domain.BrokerConfig, initialCapital float64, trainRatio float64, warmupDays int) (*Result, error) {
	if trainRatio <= 0 || trainRatio >= 1 {
		return nil, domain.InvalidInputf("train_ratio must be in (0, 1), got %v", trainRatio)
	}
	if warmupDays < 0 {
		return nil, domain.InvalidInputf("warmup_days must be non-negative")
	}
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}

	usable := bars
	if warmupDays > 0 {
		cutoff := bars[0].Date.AddDate(0, 0, warmupDays)
		usable = domain.SliceBars(bars, cutoff, bars[len(bars)-1].Date)
	}
	if len(usable) < 2 {
		return nil, domain.InsufficientDataf("not enough bars after warmup for a train/test split")
	}

	cut := int(float64(len(usable)) * trainRatio)
	if cut < 1 {
		cut = 1
	}
	if cut >= len(usable) {
		cut = len(usable) - 1
	}

	trainStart := usable[0].Date
	trainEnd := usable[cut-1].Date
	testStart := usable[cut].Date
	testEnd := usable[len(usable)-1].Date

	fold, err := d.runFold(bars, spec, broker, initialCapital, trainStart, trainEnd, testStart, testEnd, warmupDays)
	if err != nil {
		return nil, err
	}

	result := &Result{Folds: []domain.WalkForwardFold{*fold}}
	d.aggregate(result)
	return result, nil
}

func (d *Driver) runFold(bars []domain.Bar, spec domain.StrategySpec, broker domain.BrokerConfig, initialCapital float64, trainStart, trainEnd, testStart, testEnd time.Time, warmupDays int) (*domain.WalkForwardFold, error) {
	train, err := d.backtest.Run(bars, backtest.Request{
		Spec:           spec,
		Broker:         broker,
		InitialCapital: initialCapital,
		Start:          trainStart,
		End:            trainEnd,
		SkipValidation: true,
	})
	if err != nil {
		return nil, err
	}

	test, err := d.backtest.Run(bars, backtest.Request{
		Spec:           spec,
		Broker:         broker,
		InitialCapital: initialCapital,
		Start:          testStart,
		End:            testEnd,
		SkipValidation: true,
	})
	if err != nil {
		return nil, err
	}

	return &domain.WalkForwardFold{
		TrainPeriod:  domain.Period{Start: trainStart, End: trainEnd},
		TestPeriod:   domain.Period{Start: testStart, End: testEnd},
		TrainMetrics: train.Metrics,
		TestMetrics:  test.Metrics,
		Degradation:  robustness.Degradation(train.Metrics, test.Metrics),
		Params:       spec.Params,
		WarmupDays:   warmupDays,
	}, nil
}

func (d *Driver) aggregate(result *Result) {
	if len(result.Folds) == 0 {
		return
	}
	var sum float64
	for _, f := range result.Folds {
		sum += f.Degradation
	}
	result.AvgDegradation = sum / float64(len(result.Folds))
	result.ConsistencyStd, result.ConsistencyDefined = robustness.ConsistencyStd(result.Folds)

	d.log.Info().
		Int("folds", len(result.Folds)).
		Int("skipped", result.SkippedFolds).
		Float64("avg_degradation", result.AvgDegradation).
		Msg("Walk-forward complete")
}
