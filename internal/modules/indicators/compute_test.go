package indicators

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stratlab/internal/domain"
)

func testBars(n int, pricer func(i int) float64) []domain.Bar {
	bars := make([]domain.Bar, n)
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		p := pricer(i)
		bars[i] = domain.Bar{
			Date:   start.AddDate(0, 0, i),
			Open:   p,
			High:   p * 1.01,
			Low:    p * 0.99,
			Close:  p,
			Volume: 1_000_000,
		}
	}
	domain.FillPrevClose(bars)
	return bars
}

func TestCompute_WarmupIsMarkedInvalid(t *testing.T) {
	layer := NewLayer(zerolog.New(nil).Level(zerolog.Disabled))
	bars := testBars(60, func(i int) float64 { return 100 + float64(i) })

	spec, err := NewSpec(KindRSI, Spec{Period: 14})
	require.NoError(t, err)

	frame, err := layer.Compute(bars, []Spec{spec}, nil)
	require.NoError(t, err)

	rsi := frame.Col(ColRSI)
	require.Len(t, rsi, 60)
	for i := 0; i < 14; i++ {
		assert.False(t, domain.IsValid(rsi[i]), "bar %d should be warm-up", i)
	}
	for i := 14; i < 60; i++ {
		assert.True(t, domain.IsValid(rsi[i]), "bar %d should be valid", i)
	}
}

func TestCompute_RSIOfMonotoneRampIsHigh(t *testing.T) {
	layer := NewLayer(zerolog.New(nil).Level(zerolog.Disabled))
	bars := testBars(60, func(i int) float64 { return 100 + float64(i) })

	spec, _ := NewSpec(KindRSI, Spec{})
	frame, err := layer.Compute(bars, []Spec{spec}, nil)
	require.NoError(t, err)

	last := frame.At(ColRSI, 59)
	assert.True(t, domain.IsValid(last))
	assert.Greater(t, last, 90.0)
}

func TestCompute_TooFewBarsYieldsAllInvalid(t *testing.T) {
	layer := NewLayer(zerolog.New(nil).Level(zerolog.Disabled))
	bars := testBars(5, func(i int) float64 { return 100 })

	spec, _ := NewSpec(KindRSI, Spec{Period: 14})
	frame, err := layer.Compute(bars, []Spec{spec}, nil)
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		assert.False(t, domain.IsValid(frame.At(ColRSI, i)))
	}
}

func TestCompute_BollingerBracketsPrice(t *testing.T) {
	layer := NewLayer(zerolog.New(nil).Level(zerolog.Disabled))
	bars := testBars(60, func(i int) float64 { return 100 + float64(i%7) })

	spec, _ := NewSpec(KindBollinger, Spec{Period: 20})
	frame, err := layer.Compute(bars, []Spec{spec}, nil)
	require.NoError(t, err)

	for i := 25; i < 60; i++ {
		upper := frame.At(ColBBUpper, i)
		lower := frame.At(ColBBLower, i)
		middle := frame.At(ColBBMiddle, i)
		require.True(t, domain.IsValid(upper))
		assert.Greater(t, upper, middle)
		assert.Less(t, lower, middle)
	}
}

func TestNewSpec_UnknownKind(t *testing.T) {
	_, err := NewSpec(Kind("vortex"), Spec{})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestNewSpec_MACDFastMustBeBelowSlow(t *testing.T) {
	_, err := NewSpec(KindMACD, Spec{Fast: 26, Slow: 12})
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPatternDetector_UnknownPattern(t *testing.T) {
	d := NewPatternDetector()
	_, err := d.Detect("cup_and_handle", testBars(50, func(i int) float64 { return 100 }))
	assert.ErrorIs(t, err, domain.ErrInvalidInput)
}

func TestPatternDetector_BullishEngulfing(t *testing.T) {
	bars := testBars(3, func(i int) float64 { return 100 })
	// Bar 1: down candle. Bar 2: engulfing up candle.
	bars[1].Open, bars[1].Close = 101, 99
	bars[2].Open, bars[2].Close = 98.5, 102

	d := NewPatternDetector()
	flags, err := d.Detect(PatternBullishEngulfing, bars)
	require.NoError(t, err)
	assert.False(t, flags[1])
	assert.True(t, flags[2])
}

func TestPatternDetector_BreakoutHigh(t *testing.T) {
	bars := testBars(45, func(i int) float64 { return 100 })
	bars[44].Close = 150
	bars[44].High = 151

	d := NewPatternDetector()
	flags, err := d.Detect(PatternBreakoutHigh, bars)
	require.NoError(t, err)
	assert.True(t, flags[44])
	assert.False(t, flags[43])
}

func TestCatalogFromConfig(t *testing.T) {
	cfg := domain.TechnicalConfig{
		RSIEnabled:  true,
		MACDEnabled: true,
		MAPeriods:   []int{5, 20},
	}
	specs, err := CatalogFromConfig(cfg)
	require.NoError(t, err)
	assert.Len(t, specs, 4)
	assert.Equal(t, KindRSI, specs[0].Kind)
	assert.Equal(t, defaultRSIPeriod, specs[0].Period)
}
