// Package indicators computes the derived series the scoring engine
// consumes: a fixed catalog of technical indicators (go-talib backed)
// and per-bar boolean chart-pattern flags. Indicators are computed
// left-to-right; outputs inside an indicator's warm-up window carry
// the NotYetValid marker rather than a silent zero.
package indicators

import (
	"fmt"

	"github.com/aristath/stratlab/internal/domain"
)

// Kind identifies one indicator of the closed catalog. Unknown kinds
// are a construction-time error, never a silent skip.
type Kind string

const (
	KindRSI       Kind = "rsi"
	KindMACD      Kind = "macd"
	KindATR       Kind = "atr"
	KindADX       Kind = "adx"
	KindBollinger Kind = "bollinger"
	KindKD        Kind = "kd"
	KindMA        Kind = "ma"
)

// Column names attached to the frame per indicator.
const (
	ColRSI        = "RSI"
	ColMACD       = "MACD"
	ColMACDSignal = "MACD_signal"
	ColMACDHist   = "MACD_hist"
	ColATR        = "ATR"
	ColADX        = "ADX"
	ColBBUpper    = "BB_upper"
	ColBBMiddle   = "BB_middle"
	ColBBLower    = "BB_lower"
	ColKDK        = "KD_K"
	ColKDD        = "KD_D"
)

// MACol returns the column name for an n-bar moving average.
func MACol(n int) string { return fmt.Sprintf("MA_%d", n) }

/// Spec is one catalog entry: a kind plus its parameters. Each kind
// reads only the fields that belong to it.
type Spec struct {
	Kind Kind

	Period int // RSI, ATR, ADX, Bollinger, KD, MA

	// MACD only.
	Fast   int
	Slow   int
	Signal int
}

// Default periods per indicator kind.
const (
	defaultRSIPeriod       = 14
	defaultMACDFast        = 12
	defaultMACDSlow        = 26
	defaultMACDSignal      = 9
	defaultATRPeriod       = 14
	defaultADXPeriod       = 14
	defaultBollingerPeriod = 20
	defaultKDPeriod        = 9
)

// NewSpec validates a kind/params pair and fills default periods.
func NewSpec(kind Kind, spec Spec) (Spec, error) {
	spec.Kind = kind
	switch kind {
	case KindRSI:
		if spec.Period <= 0 {
			spec.Period = defaultRSIPeriod
		}
	case KindMACD:
		if spec.Fast <= 0 {
			spec.Fast = defaultMACDFast
		}
		if spec.Slow <= 0 {
			spec.Slow = defaultMACDSlow
		}
		if spec.Signal <= 0 {
			spec.Signal = defaultMACDSignal
		}
		if spec.Fast >= spec.Slow {
			return Spec{}, domain.InvalidInputf("macd fast period %d must be below slow period %d", spec.Fast, spec.Slow)
		}
	case KindATR:
		if spec.Period <= 0 {
			spec.Period = defaultATRPeriod
		}
	case KindADX:
		if spec.Period <= 0 {
			spec.Period = defaultADXPeriod
		}
	case KindBollinger:
		if spec.Period <= 0 {
			spec.Period = defaultBollingerPeriod
		}
	case KindKD:
		if spec.Period <= 0 {
			spec.Period = defaultKDPeriod
		}
	case KindMA:
		if spec.Period <= 0 {
			return Spec{}, domain.InvalidInputf("moving average requires an explicit period")
		}
	default:
		return Spec{}, domain.InvalidInputf("unknown indicator kind %q", kind)
	}
	return spec, nil
}

// CatalogFromConfig translates the strategy spec's technical section
// into the list of indicator specs to compute. ATR is always included
// when the broker uses ATR stops, so callers may append it themselves;
// here we follow only the toggles.
func CatalogFromConfig(cfg domain.TechnicalConfig) ([]Spec, error) {
	var specs []Spec

	add := func(kind Kind, s Spec) error {
		spec, err := NewSpec(kind, s)
		if err != nil {
			return err
		}
		specs = append(specs, spec)
		return nil
	}

	if cfg.RSIEnabled {
		if err := add(KindRSI, Spec{Period: cfg.RSIPeriod}); err != nil {
			return nil, err
		}
	}
	if cfg.MACDEnabled {
		if err := add(KindMACD, Spec{Fast: cfg.MACDFast, Slow: cfg.MACDSlow, Signal: cfg.MACDSignal}); err != nil {
			return nil, err
		}
	}
	if cfg.ADXEnabled {
		if err := add(KindADX, Spec{Period: cfg.ADXPeriod}); err != nil {
			return nil, err
		}
	}
	if cfg.ATREnabled {
		if err := add(KindATR, Spec{Period: cfg.ATRPeriod}); err != nil {
			return nil, err
		}
	}
	if cfg.BollingerEnabled {
		if err := add(KindBollinger, Spec{Period: cfg.BollingerPeriod}); err != nil {
			return nil, err
		}
	}
	if cfg.KDEnabled {
		if err := add(KindKD, Spec{Period: cfg.KDPeriod}); err != nil {
			return nil, err
		}
	}
	for _, n := range cfg.MAPeriods {
		if err := add(KindMA, Spec{Period: n}); err != nil {
			return nil, err
		}
	}

	return specs, nil
}
