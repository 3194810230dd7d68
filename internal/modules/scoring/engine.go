// Package scoring combines indicator, pattern and volume sub-scores
// into a per-bar TotalScore in [0, 100], optionally boosted when the
// supplied market regime matches the strategy spec.
package scoring

import (
	"math"

	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/internal/modules/indicators"
)

const (
	// patternDecayWindow bounds how far back a fired pattern still
	// contributes to the pattern score.
	patternDecayWindow = 20
	// patternDecayFactor is the per-bar geometric decay of a fired flag.
	patternDecayFactor = 0.85

	// volumeWindow is the trailing average window for the volume ratio.
	volumeWindow = 20

	// regimeBoost scales TotalScore when the regime matches the spec.
	regimeBoost = 1.2
)

// BarScore is the scoring output for one bar.
type BarScore struct {
	TotalScore     float64
	IndicatorScore float64
	PatternScore   float64
	VolumeScore    float64
	ReasonTags     []string
	RegimeMatch    bool
}

// Engine computes per-bar scores over an indicator frame. Stateless;
// shared across workers.
type Engine struct {
	log zerolog.Logger
}

// NewEngine creates a scoring engine.
func NewEngine(log zerolog.Logger) *Engine {
	return &Engine{log: log.With().Str("module", "scoring").Logger()}
}

// Score produces one BarScore per bar. regime is the active market
// regime label ("" when unknown); when it is one the spec declares,
// TotalScore is boosted and RegimeMatch set.
func (e *Engine) Score(frame *domain.IndicatorFrame, spec *domain.StrategySpec, regime string) []BarScore {
	n := frame.Len()
	out := make([]BarScore, n)

	// The scoring engine owns gap filling: upstream layers keep the
	// NotYetValid marker, here each column is forward- then
	// backward-filled on a private copy before scoring.
	filled := make(map[string][]float64, len(frame.Cols))
	for name, col := range frame.Cols {
		filled[name] = fillGaps(col)
	}

	weights := spec.Config.Weights
	regimeMatch := spec.MatchesRegime(regime)

	for i := 0; i < n; i++ {
		indicatorScore, indicatorTags := e.indicatorScore(frame, filled, i)
		patternScore, patternTags := e.patternScore(frame, i)
		volumeScore, volumeTags := e.volumeScore(frame.Bars, i)

		total := weights.Pattern*patternScore +
			weights.Technical*indicatorScore +
			weights.Volume*volumeScore

		if regimeMatch {
			total *= regimeBoost
		}
		total = clampScore(total)

		tags := append(indicatorTags, patternTags...)
		tags = append(tags, volumeTags...)

		out[i] = BarScore{
			TotalScore:     total,
			IndicatorScore: indicatorScore,
			PatternScore:   patternScore,
			VolumeScore:    volumeScore,
			ReasonTags:     tags,
			RegimeMatch:    regimeMatch,
		}
	}

	return out
}

// indicatorScore maps each available indicator to a partial score via
// a monotone bounded function and averages the contributors.
func (e *Engine) indicatorScore(frame *domain.IndicatorFrame, filled map[string][]float64, i int) (float64, []string) {
	var sum float64
	var count int
	var tags []string

	at := func(name string) (float64, bool) {
		col := filled[name]
		if col == nil || i >= len(col) || !domain.IsValid(col[i]) {
			return 0, false
		}
		return col[i], true
	}

	// RSI: momentum above neutral scores up, deep oversold tags a
	// mean-reversion opportunity.
	if rsi, ok := at(indicators.ColRSI); ok {
		sum += clampScore(rsi)
		count++
		if rsi <= 30 {
			tags = append(tags, "rsi_oversold")
		} else if rsi >= 70 {
			tags = append(tags, "rsi_overbought")
		}
	}

	// MACD histogram: bounded through tanh of the histogram relative
	// to price, positive momentum scoring above 50.
	if hist, ok := at(indicators.ColMACDHist); ok {
		price := frame.Bars[i].Close
		scaled := 0.0
		if price > 0 {
			scaled = math.Tanh(hist / price * 100)
		}
		sum += 50 + 50*scaled
		count++
		if hist > 0 {
			tags = append(tags, "macd_bullish")
		}
	}

	// ADX: trend strength, saturating at 50.
	if adx, ok := at(indicators.ColADX); ok {
		sum += clampScore(adx * 2)
		count++
		if adx >= 25 {
			tags = append(tags, "adx_strong_trend")
		}
	}

	// Bollinger %B: position of close inside the band.
	if upper, ok := at(indicators.ColBBUpper); ok {
		if lower, ok2 := at(indicators.ColBBLower); ok2 && upper > lower {
			pctB := (frame.Bars[i].Close - lower) / (upper - lower)
			sum += clampScore(pctB * 100)
			count++
			if pctB <= 0.05 {
				tags = append(tags, "bb_lower_touch")
			}
		}
	}

	// Stochastic %K.
	if k, ok := at(indicators.ColKDK); ok {
		sum += clampScore(k)
		count++
		if d, ok2 := at(indicators.ColKDD); ok2 && k > d {
			tags = append(tags, "kd_golden_cross")
		}
	}

	// Moving averages: close above MA contributes 100, below 0.
	for _, name := range frame.ColNames() {
		if len(name) > 3 && name[:3] == "MA_" {
			if ma, ok := at(name); ok && ma > 0 {
				if frame.Bars[i].Close >= ma {
					sum += 100
					tags = append(tags, "above_"+name)
				}
				count++
			}
		}
	}

	if count == 0 {
		return 0, tags
	}
	return sum / float64(count), tags
}

// patternScore is the decayed proportion (x100) of recent bars where
// an enabled pattern fired.
func (e *Engine) patternScore(frame *domain.IndicatorFrame, i int) (float64, []string) {
	if len(frame.Flags) == 0 {
		return 0, nil
	}

	var tags []string
	var fired, total float64

	weight := 1.0
	for age := 0; age <= patternDecayWindow && i-age >= 0; age++ {
		idx := i - age
		anyFired := false
		for name := range frame.Flags {
			if frame.FlagAt(name, idx) {
				anyFired = true
				if age == 0 {
					tags = append(tags, "pattern_"+name)
				}
			}
		}
		total += weight
		if anyFired {
			fired += weight
		}
		weight *= patternDecayFactor
	}

	if total == 0 {
		return 0, tags
	}
	return clampScore(fired / total * 100), tags
}

// volumeScore normalizes current volume against its trailing average;
// a ratio of 2x maps to 100.
func (e *Engine) volumeScore(bars []domain.Bar, i int) (float64, []string) {
	start := i - volumeWindow
	if start < 0 {
		start = 0
	}
	if i-start < 1 {
		return 0, nil
	}

	var sum float64
	for _, b := range bars[start:i] {
		sum += float64(b.Volume)
	}
	avg := sum / float64(i-start)
	if avg <= 0 {
		return 0, nil
	}

	ratio := float64(bars[i].Volume) / avg
	score := clampScore(ratio * 50)

	var tags []string
	if ratio >= 2 {
		tags = append(tags, "volume_surge")
	}
	return score, tags
}

// fillGaps forward-fills then backward-fills NotYetValid cells on a
// copy of the column.
func fillGaps(col []float64) []float64 {
	out := make([]float64, len(col))
	copy(out, col)

	last := domain.NotYetValid
	for i := range out {
		if domain.IsValid(out[i]) {
			last = out[i]
		} else if domain.IsValid(last) {
			out[i] = last
		}
	}
	next := domain.NotYetValid
	for i := len(out) - 1; i >= 0; i-- {
		if domain.IsValid(out[i]) {
			next = out[i]
		} else if domain.IsValid(next) {
			out[i] = next
		}
	}
	return out
}

func clampScore(v float64) float64 {
	return math.Max(0, math.Min(100, v))
}
