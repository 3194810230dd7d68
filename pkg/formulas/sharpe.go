package formulas

import (
	"math"
)

// TradingDaysPerYear is the annualization basis for daily series.
const TradingDaysPerYear = 252

// SharpeRatio calculates the annualized Sharpe ratio from periodic
// returns. riskFreeRate is annual; it is spread evenly across the
// periods. Zero-variance return series yield 0, not NaN.
func SharpeRatio(returns []float64, riskFreeRate float64, periodsPerYear int) float64 {
	if len(returns) < 2 {
		return 0
	}

	stdDev := StdDev(returns)
	if stdDev == 0 {
		return 0
	}

	periodicRiskFree := riskFreeRate / float64(periodsPerYear)
	sharpe := (Mean(returns) - periodicRiskFree) / stdDev

	return sharpe * math.Sqrt(float64(periodsPerYear))
}

// DailySharpe is SharpeRatio with the daily annualization basis.
func DailySharpe(returns []float64, riskFreeRate float64) float64 {
	return SharpeRatio(returns, riskFreeRate, TradingDaysPerYear)
}

// CAGR calculates the compound annual growth rate of a value over a
// calendar span measured in days. Non-positive spans or values yield 0.
func CAGR(initial, final float64, days float64) float64 {
	if initial <= 0 || final <= 0 {
		return 0
	}
	years := days / 365.25
	if years <= 0 {
		return 0
	}
	return math.Pow(final/initial, 1/years) - 1
}

// MaxDrawdown calculates the largest peak-to-trough fractional decline
// of a value series. The result is <= 0 (0 for monotone series).
func MaxDrawdown(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}

	maxDD := 0.0
	peak := values[0]
	for _, v := range values {
		if v > peak {
			peak = v
		}
		if peak > 0 {
			dd := (v - peak) / peak
			if dd < maxDD {
				maxDD = dd
			}
		}
	}
	return maxDD
}
