// Package performance aggregates a simulation's trades and equity
// curve into return/risk metrics, the trade-by-trade ledger, and the
// buy-and-hold baseline comparison.
package performance

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/pkg/formulas"
)

// Analyzer is stateless; shared across optimizer workers.
type Analyzer struct {
	log          zerolog.Logger
	riskFreeRate float64
}

// NewAnalyzer creates a performance analyzer. riskFreeRate is annual
// (0 by default in every caller).
func NewAnalyzer(log zerolog.Logger, riskFreeRate float64) *Analyzer {
	return &Analyzer{
		log:          log.With().Str("module", "performance").Logger(),
		riskFreeRate: riskFreeRate,
	}
}

// Analyze computes the performance metrics for one simulation.
func (a *Analyzer) Analyze(trades []domain.Trade, curve []domain.EquityPoint, initialCapital float64) (domain.PerformanceMetrics, error) {
	if initialCapital <= 0 {
		return domain.PerformanceMetrics{}, domain.InvalidInputf("initial capital must be positive")
	}
	if len(curve) == 0 {
		return domain.PerformanceMetrics{}, domain.InvalidInputf("empty equity curve")
	}

	var m domain.PerformanceMetrics

	finalEquity := curve[len(curve)-1].Equity
	m.TotalReturn = finalEquity/initialCapital - 1

	days := curve[len(curve)-1].Date.Sub(curve[0].Date).Hours() / 24
	m.AnnualReturn = formulas.CAGR(initialCapital, finalEquity, days)

	equities := make([]float64, len(curve))
	for i, p := range curve {
		equities[i] = p.Equity
	}
	m.SharpeRatio = formulas.DailySharpe(formulas.CalculateReturns(equities), a.riskFreeRate)
	m.MaxDrawdown = formulas.MaxDrawdown(equities)

	reports, err := PairTrades(trades)
	if err != nil {
		return domain.PerformanceMetrics{}, err
	}

	m.TotalTrades = len(reports)
	if len(reports) == 0 {
		return m, nil
	}

	var wins, losses int
	var winSum, lossSum, returnSum float64
	for _, r := range reports {
		returnSum += r.ReturnPct
		if r.NetProfit > 0 {
			wins++
			winSum += r.NetProfit
			if r.NetProfit > m.LargestWin {
				m.LargestWin = r.NetProfit
			}
		} else {
			losses++
			lossSum += r.NetProfit
			if r.NetProfit < m.LargestLoss {
				m.LargestLoss = r.NetProfit
			}
		}
	}

	m.WinRate = float64(wins) / float64(len(reports))
	m.Expectancy = returnSum / float64(len(reports))
	if wins > 0 {
		m.AvgWin = winSum / float64(wins)
	}
	if losses > 0 {
		m.AvgLoss = lossSum / float64(losses)
	}
	if lossSum < 0 {
		m.ProfitFactor = winSum / math.Abs(lossSum)
	} else if winSum > 0 {
		m.ProfitFactor = winSum
	}

	return m, nil
}

// PairTrades pairs buys with sells FIFO into round-trip reports. Under
// pyramiding, each buy leg pairs against the single closing sell, with
// the sell's costs and proceeds allocated pro-rata by shares.
func PairTrades(trades []domain.Trade) ([]domain.TradeReport, error) {
	var reports []domain.TradeReport
	var open []domain.Trade

	for _, t := range trades {
		switch t.Side {
		case domain.SideBuy:
			open = append(open, t)
		case domain.SideSell:
			if len(open) == 0 {
				return nil, domain.Invariantf("sell at %s without prior buy", t.Date.Format(domain.DateLayout))
			}
			var openShares int64
			for _, b := range open {
				openShares += b.Shares
			}
			if t.Shares != openShares {
				return nil, domain.Invariantf("sell of %d shares against %d open at %s", t.Shares, openShares, t.Date.Format(domain.DateLayout))
			}

			for _, b := range open {
				frac := float64(b.Shares) / float64(openShares)
				sellGross := t.GrossValue * frac
				sellCosts := (t.Fee + t.Tax + t.SlippageCost) * frac
				buyCosts := b.Fee + b.SlippageCost

				gross := sellGross - b.GrossValue
				net := gross - buyCosts - sellCosts

				report := domain.TradeReport{
					EntryDate:       b.Date,
					ExitDate:        t.Date,
					EntryPrice:      b.Price,
					ExitPrice:       t.Price,
					Shares:          b.Shares,
					GrossProfit:     gross,
					NetProfit:       net,
					HoldingDays:     int(t.Date.Sub(b.Date).Hours() / 24),
					ReasonTagsEntry: b.ReasonTags,
					ReasonTagsExit:  t.ReasonTags,
				}
				if b.GrossValue > 0 {
					report.ReturnPct = net / b.GrossValue
				}
				reports = append(reports, report)
			}
			open = nil
		}
	}

	return reports, nil
}

// Baseline computes buy-and-hold metrics for the same price window.
func (a *Analyzer) Baseline(bars []domain.Bar) (domain.BaselineMetrics, error) {
	if len(bars) == 0 {
		return domain.BaselineMetrics{}, domain.InvalidInputf("empty price series")
	}

	closes := make([]float64, len(bars))
	for i, b := range bars {
		closes[i] = b.Close
	}

	var m domain.BaselineMetrics
	m.TotalReturn = closes[len(closes)-1]/closes[0] - 1

	days := bars[len(bars)-1].Date.Sub(bars[0].Date).Hours() / 24
	m.AnnualizedReturn = formulas.CAGR(closes[0], closes[len(closes)-1], days)
	m.MaxDrawdown = formulas.MaxDrawdown(closes)
	// Zero-variance series yields Sharpe 0 by construction.
	m.SharpeRatio = formulas.DailySharpe(formulas.CalculateReturns(closes), a.riskFreeRate)

	return m, nil
}

// Compare produces element-wise deltas of strategy versus baseline.
func Compare(strategy domain.PerformanceMetrics, baseline domain.BaselineMetrics) domain.BaselineComparison {
	return domain.BaselineComparison{
		ExcessReturn:     strategy.TotalReturn - baseline.TotalReturn,
		RelativeSharpe:   strategy.SharpeRatio - baseline.SharpeRatio,
		RelativeDrawdown: strategy.MaxDrawdown - baseline.MaxDrawdown,
		Outperforms:      strategy.TotalReturn > baseline.TotalReturn,
	}
}
