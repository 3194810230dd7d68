package domain

// ExecutionPrice selects which price a signal executes at.
type ExecutionPrice string

const (
	// ExecNextOpen executes a bar-t signal at the open of bar t+1 (the
	// final bar falls back to its own close). Default; prevents look-ahead.
	ExecNextOpen ExecutionPrice = "next_open"
	// ExecClose executes a bar-t signal at the close of bar t.
	ExecClose ExecutionPrice = "close"
)

// SizingMode selects how target shares are computed for a buy.
type SizingMode string

const (
	SizeAllIn       SizingMode = "all_in"
	SizeFixedAmount SizingMode = "fixed_amount"
	SizeRiskBased   SizingMode = "risk_based"
)

// BrokerConfig holds every execution-side knob of the simulator.
// Zero-value fields are filled in by Normalize; optional knobs use
// pointers (nil = disabled).
type BrokerConfig struct {
	FeeBps   float64 `json:"fee_bps"`
	FeeFloor float64 `json:"fee_floor"`
	TaxRate  float64 `json:"tax_rate"`

	SlippageBps float64 `json:"slippage_bps"`

	StopLossPct       *float64 `json:"stop_loss_pct,omitempty"`
	TakeProfitPct     *float64 `json:"take_profit_pct,omitempty"`
	StopLossATRMult   *float64 `json:"stop_loss_atr_mult,omitempty"`
	TakeProfitATRMult *float64 `json:"take_profit_atr_mult,omitempty"`
	ATRPeriod         int      `json:"atr_period"`

	ExecutionPrice ExecutionPrice `json:"execution_price"`

	EnableLimitUpDown bool    `json:"enable_limit_up_down"`
	LimitUpDownPct    float64 `json:"limit_up_down_pct"`

	EnableVolumeConstraint bool    `json:"enable_volume_constraint"`
	MaxParticipationRate   float64 `json:"max_participation_rate"`

	SizingMode  SizingMode `json:"sizing_mode"`
	FixedAmount *float64   `json:"fixed_amount,omitempty"`
	RiskPct     *float64   `json:"risk_pct,omitempty"`

	AllowPyramid        bool `json:"allow_pyramid"`
	AllowReentry        bool `json:"allow_reentry"`
	ReentryCooldownDays int  `json:"reentry_cooldown_days"`

	MaxPositions int `json:"max_positions,omitempty"`
	LotSize      int `json:"lot_size"`
}

// DefaultBrokerConfig returns the documented defaults (source-market
// fee/tax conventions).
func DefaultBrokerConfig() BrokerConfig {
	return BrokerConfig{
		FeeBps:                 14.25,
		FeeFloor:               20,
		TaxRate:                0.003,
		SlippageBps:            5.0,
		ATRPeriod:              14,
		ExecutionPrice:         ExecNextOpen,
		EnableLimitUpDown:      true,
		LimitUpDownPct:         0.10,
		EnableVolumeConstraint: true,
		MaxParticipationRate:   0.05,
		SizingMode:             SizeAllIn,
		AllowReentry:           true,
		LotSize:                1000,
	}
}

// Normalize fills zero-valued required knobs with defaults. It does
// not touch knobs where zero is meaningful (fees, toggles).
func (c *BrokerConfig) Normalize() {
	if c.ExecutionPrice == "" {
		c.ExecutionPrice = ExecNextOpen
	}
	if c.SizingMode == "" {
		c.SizingMode = SizeAllIn
	}
	if c.ATRPeriod <= 0 {
		c.ATRPeriod = 14
	}
	if c.LotSize <= 0 {
		c.LotSize = 1000
	}
	if c.LimitUpDownPct <= 0 {
		c.LimitUpDownPct = 0.10
	}
	if c.MaxParticipationRate <= 0 {
		c.MaxParticipationRate = 0.05
	}
	// Single-instrument core: max_positions beyond 1 is a no-op.
	if c.MaxPositions <= 0 || c.MaxPositions > 1 {
		c.MaxPositions = 1
	}
}

// Validate checks cross-field coherence.
func (c *BrokerConfig) Validate() error {
	switch c.ExecutionPrice {
	case ExecNextOpen, ExecClose:
	default:
		return InvalidInputf("unknown execution_price %q", c.ExecutionPrice)
	}
	switch c.SizingMode {
	case SizeAllIn:
	case SizeFixedAmount:
		if c.FixedAmount == nil || *c.FixedAmount <= 0 {
			return InvalidInputf("sizing_mode=fixed_amount requires positive fixed_amount")
		}
	case SizeRiskBased:
		if c.RiskPct == nil || *c.RiskPct <= 0 {
			return InvalidInputf("sizing_mode=risk_based requires positive risk_pct")
		}
	default:
		return InvalidInputf("unknown sizing_mode %q", c.SizingMode)
	}
	if c.FeeBps < 0 || c.TaxRate < 0 || c.SlippageBps < 0 {
		return InvalidInputf("fee, tax and slippage rates must be non-negative")
	}
	return nil
}
