package performance

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stratlab/internal/domain"
)

func newAnalyzer() *Analyzer {
	return NewAnalyzer(zerolog.New(nil).Level(zerolog.Disabled), 0)
}

func day(i int) time.Time {
	return time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC).AddDate(0, 0, i)
}

func flatCurve(n int, equity float64) []domain.EquityPoint {
	curve := make([]domain.EquityPoint, n)
	for i := range curve {
		curve[i] = domain.EquityPoint{Date: day(i), Equity: equity, Cash: equity, Price: 100}
	}
	return curve
}

func TestAnalyze_ZeroTrades(t *testing.T) {
	m, err := newAnalyzer().Analyze(nil, flatCurve(250, 1_000_000), 1_000_000)
	require.NoError(t, err)

	assert.Zero(t, m.TotalReturn)
	assert.Zero(t, m.SharpeRatio)
	assert.Zero(t, m.MaxDrawdown)
	assert.Zero(t, m.TotalTrades)
	assert.Zero(t, m.WinRate)
	assert.Zero(t, m.ProfitFactor)
}

func TestAnalyze_SingleWinningRoundTrip(t *testing.T) {
	trades := []domain.Trade{
		{Date: day(10), Side: domain.SideBuy, Price: 110, Shares: 9090, GrossValue: 9090 * 110},
		{Date: day(90), Side: domain.SideSell, Price: 190, Shares: 9090, GrossValue: 9090 * 190},
	}

	curve := flatCurve(100, 1_000_000)
	final := float64(9090)*190 + (1_000_000 - float64(9090)*110)
	for i := 90; i < 100; i++ {
		curve[i].Equity = final
	}
	// Interpolate the held window so returns are sane.
	for i := 11; i < 90; i++ {
		curve[i].Equity = 1_000_000 + (final-1_000_000)*float64(i-10)/80
	}

	m, err := newAnalyzer().Analyze(trades, curve, 1_000_000)
	require.NoError(t, err)

	assert.InDelta(t, final/1_000_000-1, m.TotalReturn, 1e-9)
	assert.Equal(t, 1, m.TotalTrades)
	assert.Equal(t, 1.0, m.WinRate)
	assert.Greater(t, m.Expectancy, 0.0)
	assert.Greater(t, m.ProfitFactor, 0.0)
	assert.LessOrEqual(t, m.MaxDrawdown, 0.0)
}

func TestPairTrades_FIFO(t *testing.T) {
	trades := []domain.Trade{
		{Date: day(0), Side: domain.SideBuy, Price: 100, Shares: 1000, GrossValue: 100_000, Fee: 15},
		{Date: day(5), Side: domain.SideSell, Price: 110, Shares: 1000, GrossValue: 110_000, Fee: 16, Tax: 330},
	}

	reports, err := PairTrades(trades)
	require.NoError(t, err)
	require.Len(t, reports, 1)

	r := reports[0]
	assert.Equal(t, day(0), r.EntryDate)
	assert.Equal(t, day(5), r.ExitDate)
	assert.Equal(t, int64(1000), r.Shares)
	assert.InDelta(t, 10_000, r.GrossProfit, 1e-9)
	assert.InDelta(t, 10_000-15-16-330, r.NetProfit, 1e-9)
	assert.InDelta(t, r.NetProfit/100_000, r.ReturnPct, 1e-12)
	assert.Equal(t, 5, r.HoldingDays)
}

func TestPairTrades_PyramidLegsShareExitCosts(t *testing.T) {
	trades := []domain.Trade{
		{Date: day(0), Side: domain.SideBuy, Price: 100, Shares: 1000, GrossValue: 100_000},
		{Date: day(3), Side: domain.SideBuy, Price: 105, Shares: 3000, GrossValue: 315_000},
		{Date: day(9), Side: domain.SideSell, Price: 120, Shares: 4000, GrossValue: 480_000, Fee: 40, Tax: 1440},
	}

	reports, err := PairTrades(trades)
	require.NoError(t, err)
	require.Len(t, reports, 2)

	// Exit costs split 1:3 by shares.
	firstCosts := reports[0].GrossProfit - reports[0].NetProfit
	secondCosts := reports[1].GrossProfit - reports[1].NetProfit
	assert.InDelta(t, (40.0+1440)/4, firstCosts, 1e-9)
	assert.InDelta(t, (40.0+1440)*3/4, secondCosts, 1e-9)
}

func TestPairTrades_OrphanSellIsInvariant(t *testing.T) {
	trades := []domain.Trade{
		{Date: day(0), Side: domain.SideSell, Price: 100, Shares: 1000, GrossValue: 100_000},
	}
	_, err := PairTrades(trades)
	assert.ErrorIs(t, err, domain.ErrInvariant)
}

func TestAnalyze_ProfitFactorWithNoLosses(t *testing.T) {
	trades := []domain.Trade{
		{Date: day(0), Side: domain.SideBuy, Price: 100, Shares: 100, GrossValue: 10_000},
		{Date: day(5), Side: domain.SideSell, Price: 120, Shares: 100, GrossValue: 12_000},
	}
	curve := flatCurve(10, 1_000_000)
	curve[9].Equity = 1_002_000

	m, err := newAnalyzer().Analyze(trades, curve, 1_000_000)
	require.NoError(t, err)
	// No losses: profit factor reports the sum of wins.
	assert.InDelta(t, 2000, m.ProfitFactor, 1e-9)
}

func TestBaseline_RampSeries(t *testing.T) {
	bars := make([]domain.Bar, 100)
	for i := range bars {
		p := 100 + float64(i)
		bars[i] = domain.Bar{Date: day(i), Open: p, High: p, Low: p, Close: p, Volume: 1000}
	}

	b, err := newAnalyzer().Baseline(bars)
	require.NoError(t, err)
	assert.InDelta(t, 0.99, b.TotalReturn, 1e-9)
	assert.Equal(t, 0.0, b.MaxDrawdown)
	assert.Greater(t, b.AnnualizedReturn, 0.0)
}

func TestBaseline_ZeroVarianceSharpeIsZero(t *testing.T) {
	bars := make([]domain.Bar, 50)
	for i := range bars {
		bars[i] = domain.Bar{Date: day(i), Open: 100, High: 100, Low: 100, Close: 100, Volume: 1000}
	}
	b, err := newAnalyzer().Baseline(bars)
	require.NoError(t, err)
	assert.Zero(t, b.SharpeRatio)
	assert.Zero(t, b.TotalReturn)
}

func TestBaseline_DeterministicAcrossCalls(t *testing.T) {
	bars := make([]domain.Bar, 60)
	for i := range bars {
		p := 100 + float64(i%9)
		bars[i] = domain.Bar{Date: day(i), Open: p, High: p, Low: p, Close: p, Volume: 1000}
	}
	a := newAnalyzer()
	b1, err := a.Baseline(bars)
	require.NoError(t, err)
	b2, err := a.Baseline(bars)
	require.NoError(t, err)
	assert.Equal(t, b1, b2)
}

func TestCompare(t *testing.T) {
	strategy := domain.PerformanceMetrics{TotalReturn: 0.5, SharpeRatio: 1.2, MaxDrawdown: -0.1}
	baseline := domain.BaselineMetrics{TotalReturn: 0.3, SharpeRatio: 0.8, MaxDrawdown: -0.25}

	c := Compare(strategy, baseline)
	assert.InDelta(t, 0.2, c.ExcessReturn, 1e-12)
	assert.InDelta(t, 0.4, c.RelativeSharpe, 1e-12)
	assert.InDelta(t, 0.15, c.RelativeDrawdown, 1e-12)
	assert.True(t, c.Outperforms)
}
