package indicators

import (
	"github.com/markcheno/go-talib"
	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
)

// Layer computes indicator columns and pattern flags over an OHLCV
// series, producing a fresh IndicatorFrame per call. It is stateless
// and safe to share across optimizer workers.
type Layer struct {
	log zerolog.Logger
}

// NewLayer creates a new indicator layer.
func NewLayer(log zerolog.Logger) *Layer {
	return &Layer{log: log.With().Str("module", "indicators").Logger()}
}

// Compute builds an IndicatorFrame from bars, attaching one column set
// per catalog spec and one flag column per selected pattern.
func (l *Layer) Compute(bars []domain.Bar, specs []Spec, patterns []string) (*domain.IndicatorFrame, error) {
	if err := domain.ValidateBars(bars); err != nil {
		return nil, err
	}

	frame := domain.NewIndicatorFrame(bars)

	high := make([]float64, len(bars))
	low := make([]float64, len(bars))
	closes := make([]float64, len(bars))
	for i, b := range bars {
		high[i] = b.High
		low[i] = b.Low
		closes[i] = b.Close
	}

	for _, spec := range specs {
		if err := l.computeOne(frame, spec, high, low, closes); err != nil {
			return nil, err
		}
	}

	detector := NewPatternDetector()
	for _, name := range patterns {
		flags, err := detector.Detect(name, bars)
		if err != nil {
			return nil, err
		}
		frame.SetFlag(name, flags)
	}

	l.log.Debug().
		Int("bars", len(bars)).
		Int("indicators", len(specs)).
		Int("patterns", len(patterns)).
		Msg("Computed indicator frame")

	return frame, nil
}

// computeOne dispatches a single catalog entry. talib leaves zeros in
// the unstable lookback region; maskWarmup replaces them with the
// NotYetValid marker so downstream layers can tell "no value yet"
// from a genuine zero.
func (l *Layer) computeOne(frame *domain.IndicatorFrame, spec Spec, high, low, closes []float64) error {
	n := len(closes)

	switch spec.Kind {
	case KindRSI:
		if n <= spec.Period {
			frame.SetCol(ColRSI, allInvalid(n))
			return nil
		}
		frame.SetCol(ColRSI, maskWarmup(talib.Rsi(closes, spec.Period), spec.Period))

	case KindMACD:
		warm := spec.Slow + spec.Signal - 2
		if n <= warm {
			frame.SetCol(ColMACD, allInvalid(n))
			frame.SetCol(ColMACDSignal, allInvalid(n))
			frame.SetCol(ColMACDHist, allInvalid(n))
			return nil
		}
		macd, signal, hist := talib.Macd(closes, spec.Fast, spec.Slow, spec.Signal)
		frame.SetCol(ColMACD, maskWarmup(macd, spec.Slow-1))
		frame.SetCol(ColMACDSignal, maskWarmup(signal, warm))
		frame.SetCol(ColMACDHist, maskWarmup(hist, warm))

	case KindATR:
		if n <= spec.Period {
			frame.SetCol(ColATR, allInvalid(n))
			return nil
		}
		frame.SetCol(ColATR, maskWarmup(talib.Atr(high, low, closes, spec.Period), spec.Period))

	case KindADX:
		warm := 2*spec.Period - 1
		if n <= warm {
			frame.SetCol(ColADX, allInvalid(n))
			return nil
		}
		frame.SetCol(ColADX, maskWarmup(talib.Adx(high, low, closes, spec.Period), warm))

	case KindBollinger:
		if n < spec.Period {
			frame.SetCol(ColBBUpper, allInvalid(n))
			frame.SetCol(ColBBMiddle, allInvalid(n))
			frame.SetCol(ColBBLower, allInvalid(n))
			return nil
		}
		upper, middle, lower := talib.BBands(closes, spec.Period, 2.0, 2.0, talib.SMA)
		frame.SetCol(ColBBUpper, maskWarmup(upper, spec.Period-1))
		frame.SetCol(ColBBMiddle, maskWarmup(middle, spec.Period-1))
		frame.SetCol(ColBBLower, maskWarmup(lower, spec.Period-1))

	case KindKD:
		// Slow stochastic: %K smoothed over 3 bars, %D over 3 more.
		warmK := spec.Period + 1
		warmD := warmK + 2
		if n <= warmD {
			frame.SetCol(ColKDK, allInvalid(n))
			frame.SetCol(ColKDD, allInvalid(n))
			return nil
		}
		k, d := talib.Stoch(high, low, closes, spec.Period, 3, talib.SMA, 3, talib.SMA)
		frame.SetCol(ColKDK, maskWarmup(k, warmK))
		frame.SetCol(ColKDD, maskWarmup(d, warmD))

	case KindMA:
		if n < spec.Period {
			frame.SetCol(MACol(spec.Period), allInvalid(n))
			return nil
		}
		frame.SetCol(MACol(spec.Period), maskWarmup(talib.Sma(closes, spec.Period), spec.Period-1))

	default:
		return domain.InvalidInputf("unknown indicator kind %q", spec.Kind)
	}

	return nil
}

// maskWarmup overwrites the first `warm` cells with NotYetValid.
func maskWarmup(values []float64, warm int) []float64 {
	if warm > len(values) {
		warm = len(values)
	}
	for i := 0; i < warm; i++ {
		values[i] = domain.NotYetValid
	}
	return values
}

// allInvalid returns a column of n NotYetValid cells.
func allInvalid(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = domain.NotYetValid
	}
	return out
}
