package domain

import (
	"time"
)

// TradeSide distinguishes trade direction; shares are always positive.
type TradeSide string

const (
	SideBuy  TradeSide = "buy"
	SideSell TradeSide = "sell"
)

// Trade is one executed leg. Fees/taxes are tracked separately from
// price; SlippageCost is the currency impact of the slippage-adjusted
// fill versus the raw execution price.
type Trade struct {
	Date         time.Time `json:"date"`
	Side         TradeSide `json:"side"`
	Price        float64   `json:"price"`
	Shares       int64     `json:"shares"`
	GrossValue   float64   `json:"gross_value"`
	Fee          float64   `json:"fee"`
	Tax          float64   `json:"tax"`
	SlippageCost float64   `json:"slippage_cost"`
	ReasonTags   []string  `json:"reason_tags,omitempty"`
	Signal       int       `json:"signal"`
}

// EquityPoint is one bar of the equity curve.
// Invariant: Equity == Cash + PositionShares*Price on every bar.
type EquityPoint struct {
	Date           time.Time `json:"date"`
	Equity         float64   `json:"equity"`
	Cash           float64   `json:"cash"`
	PositionShares int64     `json:"position_shares"`
	PositionValue  float64   `json:"position_value"`
	Price          float64   `json:"price"`
}

// TradeReport is one FIFO round trip (buy legs aggregated under
// pyramiding, closed by a single sell).
type TradeReport struct {
	EntryDate       time.Time `json:"entry_date"`
	ExitDate        time.Time `json:"exit_date"`
	EntryPrice      float64   `json:"entry_price"`
	ExitPrice       float64   `json:"exit_price"`
	Shares          int64     `json:"shares"`
	GrossProfit     float64   `json:"gross_profit"`
	NetProfit       float64   `json:"net_profit"`
	ReturnPct       float64   `json:"return_pct"`
	HoldingDays     int       `json:"holding_days"`
	ReasonTagsEntry []string  `json:"reason_tags_entry,omitempty"`
	ReasonTagsExit  []string  `json:"reason_tags_exit,omitempty"`
}

// PerformanceMetrics aggregates one simulation's return/risk and
// trade statistics.
type PerformanceMetrics struct {
	TotalReturn  float64 `json:"total_return"`
	AnnualReturn float64 `json:"annual_return"`
	SharpeRatio  float64 `json:"sharpe_ratio"`
	MaxDrawdown  float64 `json:"max_drawdown"` // always <= 0
	WinRate      float64 `json:"win_rate"`     // [0, 1]
	TotalTrades  int     `json:"total_trades"` // round trips
	Expectancy   float64 `json:"expectancy"`
	ProfitFactor float64 `json:"profit_factor"`
	AvgWin       float64 `json:"avg_win"`
	AvgLoss      float64 `json:"avg_loss"`
	LargestWin   float64 `json:"largest_win"`
	LargestLoss  float64 `json:"largest_loss"`
}

// BaselineMetrics is the buy-and-hold reference on the same window.
type BaselineMetrics struct {
	TotalReturn      float64 `json:"total_return"`
	AnnualizedReturn float64 `json:"annualized_return"`
	MaxDrawdown      float64 `json:"max_drawdown"`
	SharpeRatio      float64 `json:"sharpe_ratio"`
}

// BaselineComparison holds element-wise deltas against buy-and-hold.
type BaselineComparison struct {
	ExcessReturn     float64 `json:"excess_return"`
	RelativeSharpe   float64 `json:"relative_sharpe"`
	RelativeDrawdown float64 `json:"relative_drawdown"`
	Outperforms      bool    `json:"outperforms"`
}

// Period is a closed date interval.
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Days returns the calendar length of the period, inclusive bounds.
func (p Period) Days() int {
	return int(p.End.Sub(p.Start).Hours()/24) + 1
}

// WalkForwardFold is one (train, test) pair of a walk-forward run.
type WalkForwardFold struct {
	TrainPeriod  Period             `json:"train_period"`
	TestPeriod   Period             `json:"test_period"`
	TrainMetrics PerformanceMetrics `json:"train_metrics"`
	TestMetrics  PerformanceMetrics `json:"test_metrics"`
	Degradation  float64            `json:"degradation"` // [0, 1]
	Params       map[string]float64 `json:"params,omitempty"`
	WarmupDays   int                `json:"warmup_days"`
}

// RiskLevel is the ordinal overfitting verdict.
type RiskLevel string

const (
	RiskLow    RiskLevel = "low"
	RiskMedium RiskLevel = "medium"
	RiskHigh   RiskLevel = "high"
)

// OverfittingRiskReport is the composite robustness verdict.
type OverfittingRiskReport struct {
	RiskLevel       RiskLevel          `json:"risk_level"`
	RiskScore       int                `json:"risk_score"` // [0, 10]
	Metrics         map[string]float64 `json:"metrics"`
	Warnings        []string           `json:"warnings"`
	Recommendations []string           `json:"recommendations"`
	MissingData     []string           `json:"missing_data"`
}

// ValidationStatus is the SOP validator verdict.
type ValidationStatus string

const (
	StatusPass    ValidationStatus = "pass"
	StatusWarning ValidationStatus = "warning"
	StatusFail    ValidationStatus = "fail"
)

// BacktestReport aggregates one full evaluation.
type BacktestReport struct {
	StrategyID      string             `json:"strategy_id"`
	StrategyVersion string             `json:"strategy_version"`
	Period          Period             `json:"period"`
	DateAdjusted    bool               `json:"date_adjusted,omitempty"`
	InitialCapital  float64            `json:"initial_capital"`
	FinalEquity     float64            `json:"final_equity"`

	Metrics      PerformanceMetrics  `json:"metrics"`
	Baseline     *BaselineMetrics    `json:"baseline,omitempty"`
	Comparison   *BaselineComparison `json:"comparison,omitempty"`
	Trades       []Trade             `json:"trades"`
	TradeReports []TradeReport       `json:"trade_reports"`
	EquityCurve  []EquityPoint       `json:"equity_curve"`

	Folds      []WalkForwardFold      `json:"folds,omitempty"`
	RiskReport *OverfittingRiskReport `json:"risk_report,omitempty"`

	ValidationStatus ValidationStatus `json:"validation_status"`
	CanPromote       bool             `json:"can_promote"`
	Messages         []string         `json:"messages,omitempty"`
}
