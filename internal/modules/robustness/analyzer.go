// Package robustness evaluates how well a strategy generalizes:
// train/test degradation per fold, cross-fold consistency, and the
// aggregated overfitting risk score.
package robustness

import (
	"fmt"
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/pkg/formulas"
)

// Risk score thresholds: each signal contributes +1 past the first
// threshold, +2 past the second.
const (
	sensitivityWarn = 0.15
	sensitivityHigh = 0.30
	degradationWarn = 0.20
	degradationHigh = 0.40
	consistencyWarn = 0.30
	consistencyHigh = 0.50

	riskScoreHigh   = 4
	riskScoreMedium = 2
)

// Metric keys of the risk report.
const (
	MetricDegradation = "degradation"
	MetricConsistency = "consistency_std"
	MetricSensitivity = "parameter_sensitivity"
)

// Inputs carries the available robustness signals. A nil field means
// the signal was not measured; it contributes nothing to the score and
// is listed under missing_data (conservative).
type Inputs struct {
	Degradation          *float64
	ConsistencyStd       *float64
	ParameterSensitivity *float64
}

// Analyzer is stateless.
type Analyzer struct {
	log zerolog.Logger
}

// NewAnalyzer creates a robustness analyzer.
func NewAnalyzer(log zerolog.Logger) *Analyzer {
	return &Analyzer{log: log.With().Str("module", "robustness").Logger()}
}

// Degradation computes the normalized train-to-test drop for one fold.
// Sharpe is the reference metric when the train Sharpe is nonzero,
// else total return. Near-zero train metrics are unmeasurable and
// report 0.
func Degradation(train, test domain.PerformanceMetrics) float64 {
	trainMetric := train.SharpeRatio
	testMetric := test.SharpeRatio
	if trainMetric == 0 {
		trainMetric = train.TotalReturn
		testMetric = test.TotalReturn
	}
	if math.Abs(trainMetric) < 1e-9 {
		return 0
	}

	d := (trainMetric - testMetric) / math.Abs(trainMetric)
	if d < 0 {
		return 0
	}
	if d > 1 {
		return 1
	}
	return d
}

// ConsistencyStd computes the sample standard deviation of the test
// metric across folds, clamped to [0, 1]. With fewer than two folds
// the statistic is undefined and ok is false.
func ConsistencyStd(folds []domain.WalkForwardFold) (float64, bool) {
	if len(folds) < 2 {
		return 0, false
	}

	values := make([]float64, len(folds))
	allZeroSharpe := true
	for _, f := range folds {
		if f.TestMetrics.SharpeRatio != 0 {
			allZeroSharpe = false
			break
		}
	}
	for i, f := range folds {
		if allZeroSharpe {
			values[i] = f.TestMetrics.TotalReturn
		} else {
			values[i] = f.TestMetrics.SharpeRatio
		}
	}

	std := math.Abs(formulas.StdDev(values))
	if std > 1 {
		std = 1
	}
	return std, true
}

// ParameterSensitivity measures cross-parameter performance variance
// from an optimizer pass: the standard deviation of the candidate
// scores normalized by the mean absolute score, clamped to [0, 1].
func ParameterSensitivity(scores []float64) (float64, bool) {
	if len(scores) < 2 {
		return 0, false
	}

	var absSum float64
	for _, s := range scores {
		absSum += math.Abs(s)
	}
	meanAbs := absSum / float64(len(scores))
	if meanAbs < 1e-9 {
		return 0, true
	}

	s := formulas.StdDev(scores) / meanAbs
	if s > 1 {
		s = 1
	}
	return s, true
}

// Evaluate produces the overfitting risk report from the available
// signals.
func (a *Analyzer) Evaluate(in Inputs) domain.OverfittingRiskReport {
	report := domain.OverfittingRiskReport{
		Metrics:         map[string]float64{},
		Warnings:        []string{},
		Recommendations: []string{},
		MissingData:     []string{},
	}

	score := 0

	contribution := func(value *float64, key string, warn, high float64, warning, recommendation string) {
		if value == nil {
			report.MissingData = append(report.MissingData, key)
			return
		}
		report.Metrics[key] = *value
		switch {
		case *value >= high:
			score += 2
		case *value >= warn:
			score++
		default:
			return
		}
		report.Warnings = append(report.Warnings, fmt.Sprintf("%s %.2f exceeds %.2f: %s", key, *value, warn, warning))
		report.Recommendations = append(report.Recommendations, recommendation)
	}

	contribution(in.ParameterSensitivity, MetricSensitivity, sensitivityWarn, sensitivityHigh,
		"performance varies strongly across nearby parameter values",
		"prefer parameter plateaus over isolated peaks; widen the grid around the chosen values")
	contribution(in.Degradation, MetricDegradation, degradationWarn, degradationHigh,
		"out-of-sample performance drops sharply versus training",
		"re-test on a longer out-of-sample window before promoting")
	contribution(in.ConsistencyStd, MetricConsistency, consistencyWarn, consistencyHigh,
		"fold results are unstable across walk-forward windows",
		"collect more folds; inconsistent folds suggest regime dependence")

	report.RiskScore = score
	switch {
	case score >= riskScoreHigh:
		report.RiskLevel = domain.RiskHigh
	case score >= riskScoreMedium:
		report.RiskLevel = domain.RiskMedium
	default:
		report.RiskLevel = domain.RiskLow
	}

	a.log.Debug().
		Int("risk_score", report.RiskScore).
		Str("risk_level", string(report.RiskLevel)).
		Strs("missing", report.MissingData).
		Msg("Overfitting risk evaluated")

	return report
}
