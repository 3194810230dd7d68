package scoring

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aristath/stratlab/internal/domain"
)

func flatBars(n int) []domain.Bar {
	bars := make([]domain.Bar, n)
	start := time.Date(2023, 1, 2, 0, 0, 0, 0, time.UTC)
	for i := range bars {
		bars[i] = domain.Bar{
			Date: start.AddDate(0, 0, i),
			Open: 100, High: 101, Low: 99, Close: 100,
			Volume: 1_000_000,
		}
	}
	return bars
}

func testSpec() *domain.StrategySpec {
	return &domain.StrategySpec{
		StrategyID:      "score-threshold",
		StrategyVersion: "1",
		Params:          map[string]float64{},
		Config: domain.StrategyConfig{
			Weights: domain.SignalWeights{Pattern: 0.3, Technical: 0.4, Volume: 0.3},
		},
	}
}

func TestScore_RangeAndLength(t *testing.T) {
	engine := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	bars := flatBars(50)
	frame := domain.NewIndicatorFrame(bars)

	rsi := make([]float64, 50)
	for i := range rsi {
		if i < 14 {
			rsi[i] = domain.NotYetValid
		} else {
			rsi[i] = 65
		}
	}
	frame.SetCol("RSI", rsi)

	scores := engine.Score(frame, testSpec(), "")
	require.Len(t, scores, 50)
	for _, s := range scores {
		assert.GreaterOrEqual(t, s.TotalScore, 0.0)
		assert.LessOrEqual(t, s.TotalScore, 100.0)
		assert.False(t, s.RegimeMatch)
	}
}

func TestScore_WarmupIsBackfilledBeforeScoring(t *testing.T) {
	engine := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	bars := flatBars(20)
	frame := domain.NewIndicatorFrame(bars)

	col := make([]float64, 20)
	for i := range col {
		if i < 10 {
			col[i] = domain.NotYetValid
		} else {
			col[i] = 80
		}
	}
	frame.SetCol("RSI", col)

	scores := engine.Score(frame, testSpec(), "")
	// Backward fill makes bar 0 score from the same RSI as bar 10.
	assert.InDelta(t, scores[10].IndicatorScore, scores[0].IndicatorScore, 1e-9)
}

func TestScore_RegimeBoost(t *testing.T) {
	engine := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	bars := flatBars(30)
	frame := domain.NewIndicatorFrame(bars)

	rsi := make([]float64, 30)
	for i := range rsi {
		rsi[i] = 60
	}
	frame.SetCol("RSI", rsi)

	spec := testSpec()
	spec.Regime = []string{"bull"}

	plain := engine.Score(frame, spec, "")
	boosted := engine.Score(frame, spec, "bull")
	mismatched := engine.Score(frame, spec, "bear")

	assert.True(t, boosted[20].RegimeMatch)
	assert.False(t, plain[20].RegimeMatch)
	assert.False(t, mismatched[20].RegimeMatch)
	assert.InDelta(t, plain[20].TotalScore*regimeBoost, boosted[20].TotalScore, 1e-9)
	assert.Equal(t, plain[20].TotalScore, mismatched[20].TotalScore)
}

func TestScore_VolumeSurgeTag(t *testing.T) {
	engine := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	bars := flatBars(30)
	bars[29].Volume = 5_000_000

	frame := domain.NewIndicatorFrame(bars)
	scores := engine.Score(frame, testSpec(), "")

	assert.Contains(t, scores[29].ReasonTags, "volume_surge")
	assert.Equal(t, 100.0, scores[29].VolumeScore)
}

func TestScore_PatternDecay(t *testing.T) {
	engine := NewEngine(zerolog.New(nil).Level(zerolog.Disabled))
	bars := flatBars(30)
	frame := domain.NewIndicatorFrame(bars)

	flags := make([]bool, 30)
	flags[10] = true
	frame.SetFlag("double_bottom", flags)

	scores := engine.Score(frame, testSpec(), "")

	// The score decays as the fired bar ages out.
	assert.Greater(t, scores[10].PatternScore, scores[15].PatternScore)
	assert.Greater(t, scores[15].PatternScore, scores[25].PatternScore)
	assert.Contains(t, scores[10].ReasonTags, "pattern_double_bottom")
	assert.NotContains(t, scores[11].ReasonTags, "pattern_double_bottom")
}
