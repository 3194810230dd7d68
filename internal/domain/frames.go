package domain

import (
	"math"
	"sort"
	"time"
)

// NotYetValid marks indicator cells that lack enough history. The
// scoring engine is the only layer allowed to fill it.
var NotYetValid = math.NaN()

// IsValid reports whether an indicator value has left its warm-up.
func IsValid(v float64) bool {
	return !math.IsNaN(v)
}

// IndicatorFrame is the OHLCV series augmented with derived columns
// (one float64 series per indicator) and boolean pattern flags. Frames
// are append-only: each stage adds columns, never rewrites bars.
type IndicatorFrame struct {
	Bars  []Bar
	Cols  map[string][]float64
	Flags map[string][]bool
}

// NewIndicatorFrame wraps a bar series in an empty frame.
func NewIndicatorFrame(bars []Bar) *IndicatorFrame {
	return &IndicatorFrame{
		Bars:  bars,
		Cols:  make(map[string][]float64),
		Flags: make(map[string][]bool),
	}
}

// Len returns the number of bars.
func (f *IndicatorFrame) Len() int { return len(f.Bars) }

// SetCol attaches a derived column. The series must be bar-aligned.
func (f *IndicatorFrame) SetCol(name string, values []float64) {
	f.Cols[name] = values
}

// Col returns the named column, or nil when absent.
func (f *IndicatorFrame) Col(name string) []float64 {
	return f.Cols[name]
}

// At returns the named column's value at index i, NotYetValid when the
// column is absent.
func (f *IndicatorFrame) At(name string, i int) float64 {
	col := f.Cols[name]
	if col == nil || i < 0 || i >= len(col) {
		return NotYetValid
	}
	return col[i]
}

// SetFlag attaches a pattern flag column.
func (f *IndicatorFrame) SetFlag(name string, values []bool) {
	f.Flags[name] = values
}

// FlagAt returns the named pattern flag at index i.
func (f *IndicatorFrame) FlagAt(name string, i int) bool {
	col := f.Flags[name]
	if col == nil || i < 0 || i >= len(col) {
		return false
	}
	return col[i]
}

// ColNames returns the derived column names in sorted order.
func (f *IndicatorFrame) ColNames() []string {
	names := make([]string, 0, len(f.Cols))
	for name := range f.Cols {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Closes extracts the close series.
func (f *IndicatorFrame) Closes() []float64 {
	out := make([]float64, len(f.Bars))
	for i, b := range f.Bars {
		out[i] = b.Close
	}
	return out
}

// SignalPoint is one row of the daily decision frame.
type SignalPoint struct {
	Date           time.Time `json:"date"`
	Signal         int       `json:"signal"` // -1 sell, 0 hold, +1 buy
	TotalScore     float64   `json:"total_score"`
	IndicatorScore float64   `json:"indicator_score"`
	PatternScore   float64   `json:"pattern_score"`
	VolumeScore    float64   `json:"volume_score"`
	ReasonTags     []string  `json:"reason_tags,omitempty"`
	RegimeMatch    bool      `json:"regime_match"`
}

// DailySignalFrame aligns 1:1 with the input bars.
type DailySignalFrame struct {
	Points []SignalPoint `json:"points"`
}

// Len returns the number of signal points.
func (f *DailySignalFrame) Len() int { return len(f.Points) }
