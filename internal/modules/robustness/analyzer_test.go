package robustness

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/aristath/stratlab/internal/domain"
)

func newAnalyzer() *Analyzer {
	return NewAnalyzer(zerolog.New(nil).Level(zerolog.Disabled))
}

func f(v float64) *float64 { return &v }

func TestDegradation(t *testing.T) {
	tests := []struct {
		name        string
		trainSharpe float64
		testSharpe  float64
		trainReturn float64
		testReturn  float64
		want        float64
	}{
		{"half the sharpe survives", 2.0, 1.0, 0, 0, 0.5},
		{"test beats train clamps to zero", 1.0, 1.5, 0, 0, 0},
		{"full collapse clamps to one", 1.0, -3.0, 0, 0, 1},
		{"zero sharpe falls back to return", 0, 0, 0.4, 0.1, 0.75},
		{"unmeasurable train metric", 0, 0, 0, 0.2, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			train := domain.PerformanceMetrics{SharpeRatio: tt.trainSharpe, TotalReturn: tt.trainReturn}
			test := domain.PerformanceMetrics{SharpeRatio: tt.testSharpe, TotalReturn: tt.testReturn}
			got := Degradation(train, test)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestConsistencyStd_RequiresTwoFolds(t *testing.T) {
	_, ok := ConsistencyStd([]domain.WalkForwardFold{{}})
	assert.False(t, ok)

	folds := []domain.WalkForwardFold{
		{TestMetrics: domain.PerformanceMetrics{SharpeRatio: 1.0}},
		{TestMetrics: domain.PerformanceMetrics{SharpeRatio: 1.0}},
	}
	std, ok := ConsistencyStd(folds)
	assert.True(t, ok)
	assert.Zero(t, std)
}

func TestConsistencyStd_FallsBackToReturnWhenAllSharpesZero(t *testing.T) {
	folds := []domain.WalkForwardFold{
		{TestMetrics: domain.PerformanceMetrics{TotalReturn: 0.10}},
		{TestMetrics: domain.PerformanceMetrics{TotalReturn: 0.30}},
	}
	std, ok := ConsistencyStd(folds)
	assert.True(t, ok)
	assert.Greater(t, std, 0.0)
	assert.LessOrEqual(t, std, 1.0)
}

func TestParameterSensitivity(t *testing.T) {
	s, ok := ParameterSensitivity([]float64{1.0, 1.0, 1.0})
	assert.True(t, ok)
	assert.Zero(t, s)

	s, ok = ParameterSensitivity([]float64{0.1, 2.0, -1.5})
	assert.True(t, ok)
	assert.Greater(t, s, 0.0)
	assert.LessOrEqual(t, s, 1.0)

	_, ok = ParameterSensitivity([]float64{1.0})
	assert.False(t, ok)
}

func TestEvaluate_AllSignalsElevated(t *testing.T) {
	// degradation 0.45 (+2), consistency 0.55 (+2), sensitivity 0.16
	// (+1) => score 5, high risk, nothing missing.
	report := newAnalyzer().Evaluate(Inputs{
		Degradation:          f(0.45),
		ConsistencyStd:       f(0.55),
		ParameterSensitivity: f(0.16),
	})

	assert.Equal(t, 5, report.RiskScore)
	assert.Equal(t, domain.RiskHigh, report.RiskLevel)
	assert.Empty(t, report.MissingData)
	assert.Len(t, report.Warnings, 3)
	assert.Len(t, report.Recommendations, 3)
}

func TestEvaluate_MissingInputsAreConservative(t *testing.T) {
	report := newAnalyzer().Evaluate(Inputs{})

	assert.Zero(t, report.RiskScore)
	assert.Equal(t, domain.RiskLow, report.RiskLevel)
	assert.ElementsMatch(t, []string{MetricSensitivity, MetricDegradation, MetricConsistency}, report.MissingData)
	assert.Empty(t, report.Warnings)
}

func TestEvaluate_RiskLevels(t *testing.T) {
	tests := []struct {
		name string
		in   Inputs
		want domain.RiskLevel
	}{
		{"all calm", Inputs{Degradation: f(0.05), ConsistencyStd: f(0.1), ParameterSensitivity: f(0.05)}, domain.RiskLow},
		{"one warn", Inputs{Degradation: f(0.25)}, domain.RiskLow},
		{"two warns", Inputs{Degradation: f(0.25), ConsistencyStd: f(0.35)}, domain.RiskMedium},
		{"one high one warn", Inputs{Degradation: f(0.45), ConsistencyStd: f(0.35)}, domain.RiskMedium},
		{"two highs", Inputs{Degradation: f(0.45), ConsistencyStd: f(0.55)}, domain.RiskHigh},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			report := newAnalyzer().Evaluate(tt.in)
			assert.Equal(t, tt.want, report.RiskLevel)
			assert.GreaterOrEqual(t, report.RiskScore, 0)
			assert.LessOrEqual(t, report.RiskScore, 10)
		})
	}
}
