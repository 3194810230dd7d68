package domain

import (
	"encoding/json"
	"math"
)

// SignalWeights blends the three sub-scores into TotalScore. The three
// weights are expected to sum to ~1.0.
type SignalWeights struct {
	Pattern   float64 `json:"pattern"`
	Technical float64 `json:"technical"`
	Volume    float64 `json:"volume"`
}

// Valid reports whether the weights are non-negative and sum to ~1.
func (w SignalWeights) Valid() bool {
	if w.Pattern < 0 || w.Technical < 0 || w.Volume < 0 {
		return false
	}
	return math.Abs(w.Pattern+w.Technical+w.Volume-1.0) < 0.01
}

// TechnicalConfig holds per-indicator toggles and periods. Zero values
// fall back to the catalog defaults at construction time.
type TechnicalConfig struct {
	RSIEnabled       bool `json:"rsi_enabled"`
	RSIPeriod        int  `json:"rsi_period,omitempty"`
	MACDEnabled      bool `json:"macd_enabled"`
	MACDFast         int  `json:"macd_fast,omitempty"`
	MACDSlow         int  `json:"macd_slow,omitempty"`
	MACDSignal       int  `json:"macd_signal,omitempty"`
	ADXEnabled       bool `json:"adx_enabled"`
	ADXPeriod        int  `json:"adx_period,omitempty"`
	ATREnabled       bool `json:"atr_enabled"`
	ATRPeriod        int  `json:"atr_period,omitempty"`
	BollingerEnabled bool `json:"bollinger_enabled"`
	BollingerPeriod  int  `json:"bollinger_period,omitempty"`
	KDEnabled        bool `json:"kd_enabled"`
	KDPeriod         int  `json:"kd_period,omitempty"`
	MAPeriods        []int `json:"ma_periods,omitempty"`
}

// PatternConfig selects the chart patterns the pattern layer flags.
type PatternConfig struct {
	Selected []string `json:"selected,omitempty"`
}

// StrategyConfig groups the spec's config subsections.
type StrategyConfig struct {
	Technical TechnicalConfig   `json:"technical"`
	Patterns  PatternConfig     `json:"patterns"`
	Weights   SignalWeights     `json:"signals_weights"`
	Filters   map[string]string `json:"filters,omitempty"`
}

// StrategySpec is the immutable, serializable description of one
// strategy under evaluation. Params carries the threshold/confirmation
// knobs keyed by name (buy_score, sell_score, buy_confirm_days,
// sell_confirm_days, cooldown_days, ...).
type StrategySpec struct {
	StrategyID      string             `json:"strategy_id"`
	StrategyVersion string             `json:"strategy_version"`
	Params          map[string]float64 `json:"params"`
	Config          StrategyConfig     `json:"config"`
	Regime          []string           `json:"regime,omitempty"`
}

// Param returns the named parameter or the fallback when absent.
func (s *StrategySpec) Param(name string, fallback float64) float64 {
	if v, ok := s.Params[name]; ok {
		return v
	}
	return fallback
}

// WithParams returns a copy of the spec with the given parameters
// merged over the existing ones. The receiver is not mutated; the
// optimizer relies on this to share one base spec across workers.
func (s *StrategySpec) WithParams(overrides map[string]float64) StrategySpec {
	out := *s
	out.Params = make(map[string]float64, len(s.Params)+len(overrides))
	for k, v := range s.Params {
		out.Params[k] = v
	}
	for k, v := range overrides {
		out.Params[k] = v
	}
	return out
}

// MatchesRegime reports whether the supplied regime label is one the
// spec declares itself applicable to.
func (s *StrategySpec) MatchesRegime(regime string) bool {
	if regime == "" {
		return false
	}
	for _, r := range s.Regime {
		if r == regime {
			return true
		}
	}
	return false
}

// Validate checks the structural coherence of the spec.
func (s *StrategySpec) Validate() error {
	if s.StrategyID == "" {
		return InvalidInputf("strategy_id is required")
	}
	if !s.Config.Weights.Valid() {
		return InvalidInputf("signals.weights must be non-negative and sum to 1.0")
	}
	return nil
}

// Clone returns a deep copy via JSON round-trip. Used where a caller
// must guarantee no aliasing with the original spec.
func (s *StrategySpec) Clone() (StrategySpec, error) {
	raw, err := json.Marshal(s)
	if err != nil {
		return StrategySpec{}, err
	}
	var out StrategySpec
	if err := json.Unmarshal(raw, &out); err != nil {
		return StrategySpec{}, err
	}
	return out, nil
}
