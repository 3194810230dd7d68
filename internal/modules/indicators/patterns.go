package indicators

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/aristath/stratlab/internal/domain"
)

// Pattern names accepted by the detector. The library is an extension
// point; the contract downstream is only "one flag column per enabled
// pattern".
const (
	PatternDoubleBottom      = "double_bottom"
	PatternHeadAndShoulders  = "head_and_shoulders"
	PatternFallingWedge      = "falling_wedge"
	PatternBullishEngulfing  = "bullish_engulfing"
	PatternBreakoutHigh      = "breakout_high"
)

// PatternDetector emits per-bar boolean flags for named chart patterns.
type PatternDetector struct {
	lookback int
}

// NewPatternDetector creates a detector with the default lookback.
func NewPatternDetector() *PatternDetector {
	return &PatternDetector{lookback: 40}
}

// Detect returns a bar-aligned flag series for one pattern name.
// Unknown names are a construction-time error.
func (d *PatternDetector) Detect(name string, bars []domain.Bar) ([]bool, error) {
	switch name {
	case PatternDoubleBottom:
		return d.doubleBottom(bars), nil
	case PatternHeadAndShoulders:
		return d.headAndShoulders(bars), nil
	case PatternFallingWedge:
		return d.fallingWedge(bars), nil
	case PatternBullishEngulfing:
		return d.bullishEngulfing(bars), nil
	case PatternBreakoutHigh:
		return d.breakoutHigh(bars), nil
	default:
		return nil, domain.InvalidInputf("unknown pattern %q", name)
	}
}

// doubleBottom flags bars where the trailing window shows two distinct
// lows within 2% of each other separated by a rebound of at least 3%.
func (d *PatternDetector) doubleBottom(bars []domain.Bar) []bool {
	flags := make([]bool, len(bars))
	for i := d.lookback; i < len(bars); i++ {
		window := bars[i-d.lookback : i+1]

		firstLow, firstIdx := minLow(window[:len(window)/2])
		secondLow, secondIdx := minLow(window[len(window)/2:])
		secondIdx += len(window) / 2

		if firstLow <= 0 || secondIdx-firstIdx < 5 {
			continue
		}
		if math.Abs(secondLow-firstLow)/firstLow > 0.02 {
			continue
		}
		// A rebound between the two lows confirms the W shape.
		peak := 0.0
		for _, b := range window[firstIdx : secondIdx+1] {
			if b.High > peak {
				peak = b.High
			}
		}
		if peak >= firstLow*1.03 {
			flags[i] = true
		}
	}
	return flags
}

// headAndShoulders flags the bearish three-peak shape: a higher middle
// peak flanked by two shoulders of similar height.
func (d *PatternDetector) headAndShoulders(bars []domain.Bar) []bool {
	flags := make([]bool, len(bars))
	for i := d.lookback; i < len(bars); i++ {
		window := bars[i-d.lookback : i+1]
		third := len(window) / 3

		left, _ := maxHigh(window[:third])
		head, _ := maxHigh(window[third : 2*third])
		right, _ := maxHigh(window[2*third:])

		if left <= 0 || right <= 0 {
			continue
		}
		shouldersMatch := math.Abs(left-right)/left < 0.03
		headAbove := head > left*1.02 && head > right*1.02
		if shouldersMatch && headAbove {
			flags[i] = true
		}
	}
	return flags
}

// fallingWedge flags converging lower highs and lower lows where the
// high trendline falls faster than the low trendline.
func (d *PatternDetector) fallingWedge(bars []domain.Bar) []bool {
	flags := make([]bool, len(bars))
	for i := d.lookback; i < len(bars); i++ {
		window := bars[i-d.lookback : i+1]
		highSlope := slope(highs(window))
		lowSlope := slope(lows(window))
		if highSlope < 0 && lowSlope < 0 && highSlope < lowSlope {
			flags[i] = true
		}
	}
	return flags
}

// bullishEngulfing flags a down candle fully engulfed by the next up
// candle.
func (d *PatternDetector) bullishEngulfing(bars []domain.Bar) []bool {
	flags := make([]bool, len(bars))
	for i := 1; i < len(bars); i++ {
		prev, cur := bars[i-1], bars[i]
		prevDown := prev.Close < prev.Open
		curUp := cur.Close > cur.Open
		engulfs := cur.Open <= prev.Close && cur.Close >= prev.Open
		if prevDown && curUp && engulfs {
			flags[i] = true
		}
	}
	return flags
}

// breakoutHigh flags a close above the trailing window's highest high.
func (d *PatternDetector) breakoutHigh(bars []domain.Bar) []bool {
	flags := make([]bool, len(bars))
	for i := d.lookback; i < len(bars); i++ {
		prior, _ := maxHigh(bars[i-d.lookback : i])
		if bars[i].Close > prior {
			flags[i] = true
		}
	}
	return flags
}

func minLow(bars []domain.Bar) (float64, int) {
	low := math.Inf(1)
	idx := 0
	for i, b := range bars {
		if b.Low < low {
			low = b.Low
			idx = i
		}
	}
	return low, idx
}

func maxHigh(bars []domain.Bar) (float64, int) {
	high := math.Inf(-1)
	idx := 0
	for i, b := range bars {
		if b.High > high {
			high = b.High
			idx = i
		}
	}
	return high, idx
}

func highs(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.High
	}
	return out
}

func lows(bars []domain.Bar) []float64 {
	out := make([]float64, len(bars))
	for i, b := range bars {
		out[i] = b.Low
	}
	return out
}

// slope fits a least-squares line over the series and returns its
// gradient per bar.
func slope(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	xs := make([]float64, len(values))
	for i := range xs {
		xs[i] = float64(i)
	}
	_, beta := stat.LinearRegression(xs, values, nil, false)
	return beta
}
