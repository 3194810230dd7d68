package broker

import (
	"math"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stratlab/internal/domain"
)

func newSim() *Simulator {
	return NewSimulator(zerolog.New(nil).Level(zerolog.Disabled))
}

// costlessConfig disables every cost and feasibility knob so tests can
// assert exact arithmetic.
func costlessConfig() domain.BrokerConfig {
	cfg := domain.DefaultBrokerConfig()
	cfg.FeeBps = 0
	cfg.FeeFloor = 0
	cfg.TaxRate = 0
	cfg.SlippageBps = 0
	cfg.EnableLimitUpDown = false
	cfg.EnableVolumeConstraint = false
	cfg.ExecutionPrice = domain.ExecClose
	cfg.LotSize = 1
	return cfg
}

func frameOf(bars []domain.Bar) *domain.IndicatorFrame {
	domain.FillPrevClose(bars)
	return domain.NewIndicatorFrame(bars)
}

func holdFrame(bars []domain.Bar) *domain.DailySignalFrame {
	points := make([]domain.SignalPoint, len(bars))
	for i, b := range bars {
		points[i] = domain.SignalPoint{Date: b.Date}
	}
	return &domain.DailySignalFrame{Points: points}
}

func rampBars(n int, from, to float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		p := from + (to-from)*float64(i)/float64(n-1)
		bars[i] = domain.Bar{
			Date: start.AddDate(0, 0, i),
			Open: p, High: p * 1.02, Low: p * 0.98, Close: p,
			Volume: 10_000_000,
		}
	}
	return bars
}

func TestRun_NoTradeBaseline(t *testing.T) {
	// Constant price, only holds. Equity stays flat.
	bars := rampBars(250, 100, 100)
	frame := frameOf(bars)

	res, err := newSim().Run(frame, holdFrame(bars), costlessConfig(), 1_000_000)
	require.NoError(t, err)

	assert.Empty(t, res.Trades)
	require.Len(t, res.EquityCurve, 250)
	for _, p := range res.EquityCurve {
		assert.InDelta(t, 1_000_000, p.Equity, 0.01)
		assert.InDelta(t, p.Equity, p.Cash+float64(p.PositionShares)*p.Price, 0.01)
	}
}

func TestRun_SingleRoundTripWithoutCosts(t *testing.T) {
	// 100 bars 100->200, buy bar 10 (price ~110), sell
	// bar 90, all-in, lot 1, close execution, no costs.
	bars := make([]domain.Bar, 100)
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		p := 100 + float64(i)*100/99
		bars[i] = domain.Bar{
			Date: start.AddDate(0, 0, i),
			Open: p, High: p, Low: p, Close: p,
			Volume: 10_000_000,
		}
	}
	// Pin the decision bars to round prices so fills are exact.
	bars[10].Close = 110
	bars[90].Close = 190
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[10].Signal = 1
	signals.Points[90].Signal = -1

	res, err := newSim().Run(frame, signals, costlessConfig(), 1_000_000)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	buy, sell := res.Trades[0], res.Trades[1]
	assert.Equal(t, domain.SideBuy, buy.Side)
	assert.Equal(t, int64(math.Floor(1_000_000/110)), buy.Shares)
	assert.InDelta(t, 110, buy.Price, 1e-9)
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.InDelta(t, 190, sell.Price, 1e-9)
	assert.Equal(t, buy.Shares, sell.Shares)

	finalEquity := res.EquityCurve[len(res.EquityCurve)-1].Equity
	expected := float64(buy.Shares)*190 + (1_000_000 - float64(buy.Shares)*110)
	assert.InDelta(t, expected, finalEquity, 0.01)
	assert.InDelta(t, 1_727_272, finalEquity, 100)
}

func TestRun_LimitUpBlocksBuy(t *testing.T) {
	// Execution bar opens sealed at limit-up.
	bars := rampBars(20, 100, 100)
	for i := range bars {
		bars[i].PrevClose = 100
	}
	bars[5].Open = 110
	bars[5].High = 110
	bars[5].Close = 110
	frame := domain.NewIndicatorFrame(bars)

	signals := holdFrame(bars)
	signals.Points[5].Signal = 1

	cfg := costlessConfig()
	cfg.EnableLimitUpDown = true

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	assert.Empty(t, res.Trades)
}

func TestRun_NextOpenExecution(t *testing.T) {
	bars := rampBars(10, 100, 109)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[3].Signal = 1

	cfg := costlessConfig()
	cfg.ExecutionPrice = domain.ExecNextOpen

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	// Signal on bar 3 fills at bar 4's open.
	assert.Equal(t, bars[4].Date, res.Trades[0].Date)
	assert.InDelta(t, bars[4].Open, res.Trades[0].Price, 1e-9)
}

func TestRun_FinalBarSignalFallsBackToClose(t *testing.T) {
	bars := rampBars(10, 100, 109)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[9].Signal = 1

	cfg := costlessConfig()
	cfg.ExecutionPrice = domain.ExecNextOpen

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)

	// Buy fills at the final close, then settlement closes it on the
	// same bar: the ledger stays paired.
	require.Len(t, res.Trades, 2)
	assert.Equal(t, domain.SideBuy, res.Trades[0].Side)
	assert.Equal(t, domain.SideSell, res.Trades[1].Side)
	assert.Contains(t, res.Trades[1].ReasonTags, TagForceClose)
}

func TestRun_ForceCloseOnLastBar(t *testing.T) {
	bars := rampBars(30, 100, 130)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[5].Signal = 1

	res, err := newSim().Run(frame, signals, costlessConfig(), 1_000_000)
	require.NoError(t, err)

	require.Len(t, res.Trades, 2)
	assert.Equal(t, 0, len(res.Trades)%2)
	last := res.Trades[len(res.Trades)-1]
	assert.Equal(t, domain.SideSell, last.Side)
	assert.Contains(t, last.ReasonTags, TagForceClose)
	assert.Equal(t, bars[29].Date, last.Date)
}

func TestRun_VolumeParticipationCap(t *testing.T) {
	bars := rampBars(20, 100, 100)
	for i := range bars {
		bars[i].Volume = 100_000
	}
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1

	cfg := costlessConfig()
	cfg.EnableVolumeConstraint = true
	cfg.MaxParticipationRate = 0.05
	cfg.LotSize = 1000

	res, err := newSim().Run(frame, signals, cfg, 10_000_000)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	// 5% of 100k volume = 5000 shares, already lot-aligned.
	assert.Equal(t, int64(5000), res.Trades[0].Shares)
}

func TestRun_StopLossForcesSell(t *testing.T) {
	bars := rampBars(30, 100, 100)
	for i := 10; i < 30; i++ {
		p := 80.0
		bars[i].Open, bars[i].High, bars[i].Low, bars[i].Close = p, p, p, p
	}
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1

	cfg := costlessConfig()
	stop := 0.10
	cfg.StopLossPct = &stop

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	sell := res.Trades[1]
	assert.Contains(t, sell.ReasonTags, TagStopLoss)
	assert.Equal(t, bars[10].Date, sell.Date)
	assert.InDelta(t, 80, sell.Price, 1e-9)
}

func TestRun_TakeProfitForcesSell(t *testing.T) {
	bars := rampBars(30, 100, 100)
	for i := 15; i < 30; i++ {
		p := 125.0
		bars[i].Open, bars[i].High, bars[i].Low, bars[i].Close = p, p, p, p
	}
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1

	cfg := costlessConfig()
	tp := 0.20
	cfg.TakeProfitPct = &tp

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)
	assert.Contains(t, res.Trades[1].ReasonTags, TagTakeProfit)
}

func TestRun_NoReentryAfterRoundTrip(t *testing.T) {
	bars := rampBars(40, 100, 100)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1
	signals.Points[10].Signal = -1
	signals.Points[20].Signal = 1 // must be ignored

	cfg := costlessConfig()
	cfg.AllowReentry = false

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	assert.Len(t, res.Trades, 2)
}

func TestRun_ReentryCooldown(t *testing.T) {
	bars := rampBars(40, 100, 100)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1
	signals.Points[5].Signal = -1
	signals.Points[7].Signal = 1  // within cooldown, ignored
	signals.Points[20].Signal = 1 // past cooldown, executes

	cfg := costlessConfig()
	cfg.AllowReentry = true
	cfg.ReentryCooldownDays = 10

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)

	var buys int
	for _, tr := range res.Trades {
		if tr.Side == domain.SideBuy {
			buys++
		}
	}
	assert.Equal(t, 2, buys)
}

func TestRun_PyramidingAccumulates(t *testing.T) {
	bars := rampBars(40, 100, 100)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1
	signals.Points[10].Signal = 1 // adds to the position

	cfg := costlessConfig()
	cfg.AllowPyramid = true
	cfg.SizingMode = domain.SizeFixedAmount
	amount := 100_000.0
	cfg.FixedAmount = &amount

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)

	// Two buys plus the settlement sell closing the aggregate.
	require.Len(t, res.Trades, 3)
	assert.Equal(t, domain.SideBuy, res.Trades[0].Side)
	assert.Equal(t, domain.SideBuy, res.Trades[1].Side)
	sell := res.Trades[2]
	assert.Equal(t, domain.SideSell, sell.Side)
	assert.Equal(t, res.Trades[0].Shares+res.Trades[1].Shares, sell.Shares)
}

func TestRun_SecondBuyIgnoredWithoutPyramiding(t *testing.T) {
	bars := rampBars(40, 100, 100)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1
	signals.Points[10].Signal = 1

	res, err := newSim().Run(frame, signals, costlessConfig(), 1_000_000)
	require.NoError(t, err)

	var buys int
	for _, tr := range res.Trades {
		if tr.Side == domain.SideBuy {
			buys++
		}
	}
	assert.Equal(t, 1, buys)
}

func TestRun_FeesTaxSlippageAccounting(t *testing.T) {
	bars := rampBars(20, 100, 100)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1
	signals.Points[10].Signal = -1

	cfg := costlessConfig()
	cfg.FeeBps = 14.25
	cfg.FeeFloor = 20
	cfg.TaxRate = 0.003
	cfg.SlippageBps = 5

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	require.Len(t, res.Trades, 2)

	buy, sell := res.Trades[0], res.Trades[1]
	assert.InDelta(t, math.Max(buy.GrossValue*14.25/1e4, 20), buy.Fee, 1e-6)
	assert.Zero(t, buy.Tax)
	assert.InDelta(t, buy.GrossValue*5/1e4, buy.SlippageCost, 1e-6)
	assert.InDelta(t, sell.GrossValue*0.003, sell.Tax, 1e-6)

	// Costs always drag final equity below break-even on a flat price.
	final := res.EquityCurve[len(res.EquityCurve)-1].Equity
	assert.Less(t, final, 1_000_000.0)
}

func TestRun_EquityInvariantEveryBar(t *testing.T) {
	bars := rampBars(60, 100, 140)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[5].Signal = 1
	signals.Points[30].Signal = -1
	signals.Points[40].Signal = 1

	cfg := domain.DefaultBrokerConfig()
	cfg.LotSize = 1

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	require.Len(t, res.EquityCurve, 60)

	for _, p := range res.EquityCurve {
		assert.InDelta(t, p.Equity, p.Cash+float64(p.PositionShares)*p.Price, 0.01)
		assert.InDelta(t, p.PositionValue, float64(p.PositionShares)*p.Price, 0.01)
	}
	assert.Equal(t, 0, len(res.Trades)%2)
}

func TestRun_RiskBasedSizing(t *testing.T) {
	bars := rampBars(20, 100, 100)
	frame := frameOf(bars)

	signals := holdFrame(bars)
	signals.Points[2].Signal = 1

	cfg := costlessConfig()
	cfg.SizingMode = domain.SizeRiskBased
	risk := 0.02
	stop := 0.10
	cfg.RiskPct = &risk
	cfg.StopLossPct = &stop

	res, err := newSim().Run(frame, signals, cfg, 1_000_000)
	require.NoError(t, err)
	require.NotEmpty(t, res.Trades)

	// risk budget 20k / stop distance 10 = 2000 shares.
	assert.Equal(t, int64(2000), res.Trades[0].Shares)
}

func TestRun_InvalidConfigRejected(t *testing.T) {
	bars := rampBars(10, 100, 100)
	frame := frameOf(bars)

	cfg := costlessConfig()
	cfg.SizingMode = domain.SizeFixedAmount // no fixed_amount set

	_, err := newSim().Run(frame, holdFrame(bars), cfg, 1_000_000)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestRun_ZeroCapitalRejected(t *testing.T) {
	bars := rampBars(10, 100, 100)
	frame := frameOf(bars)

	_, err := newSim().Run(frame, holdFrame(bars), costlessConfig(), 0)
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}
