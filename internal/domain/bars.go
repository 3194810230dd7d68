// Package domain defines the core data model shared by every subsystem:
// OHLCV bars, strategy specifications, signal frames, trades, equity
// points and the report DTOs. The domain layer is pure - no database,
// no HTTP, no logging.
package domain

import (
	"time"
)

// DateLayout is the canonical on-the-wire date format (ISO 8601).
const DateLayout = "2006-01-02"

// Bar is one daily OHLCV row. Bars are chronologically ordered and
// unique by date; weekends and holidays are simply absent.
type Bar struct {
	Date      time.Time `json:"date"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    int64     `json:"volume"`
	PrevClose float64   `json:"prev_close,omitempty"` // 0 = unknown (first bar)
}

// ValidateBars checks the structural requirements of an input series:
// non-empty, strictly increasing dates, positive prices.
func ValidateBars(bars []Bar) error {
	if len(bars) == 0 {
		return InvalidInputf("empty price series")
	}
	for i, b := range bars {
		if b.Open <= 0 || b.High <= 0 || b.Low <= 0 || b.Close <= 0 {
			return InvalidInputf("non-positive price at %s", b.Date.Format(DateLayout))
		}
		if b.High < b.Low {
			return InvalidInputf("high < low at %s", b.Date.Format(DateLayout))
		}
		if i > 0 && !bars[i-1].Date.Before(b.Date) {
			return InvalidInputf("bars not strictly ordered at %s", b.Date.Format(DateLayout))
		}
	}
	return nil
}

// SliceBars returns the sub-series with start <= date <= end. The
// returned slice aliases the input; callers treat it as read-only.
func SliceBars(bars []Bar, start, end time.Time) []Bar {
	lo := 0
	for lo < len(bars) && bars[lo].Date.Before(start) {
		lo++
	}
	hi := len(bars)
	for hi > lo && bars[hi-1].Date.After(end) {
		hi--
	}
	return bars[lo:hi]
}

// FillPrevClose populates PrevClose from the prior bar's close where it
// was not supplied by the loader. The first bar keeps whatever it had.
func FillPrevClose(bars []Bar) {
	for i := 1; i < len(bars); i++ {
		if bars[i].PrevClose == 0 {
			bars[i].PrevClose = bars[i-1].Close
		}
	}
}
