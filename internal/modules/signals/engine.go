// Package signals turns per-bar scores into the trinary decision frame
// the broker simulator consumes. The default strategy is a threshold
// state machine with confirmation and cooldown; alternative strategies
// register under their strategy_id in a Registry resolved at startup.
package signals

import (
	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/internal/modules/scoring"
)

// Default state-machine parameters, used when the spec omits them.
const (
	defaultBuyScore        = 70.0
	defaultSellScore       = 30.0
	defaultBuyConfirmDays  = 1
	defaultSellConfirmDays = 1
	defaultCooldownDays    = 0
)

// Generator produces a DailySignalFrame from scored bars. The frame
// aligns 1:1 with the input bars.
type Generator interface {
	Generate(frame *domain.IndicatorFrame, scores []scoring.BarScore, spec *domain.StrategySpec) (*domain.DailySignalFrame, error)
}

// state of the threshold machine.
type state int

const (
	stateFlat state = iota
	stateLong
)

// ThresholdStrategy is the default score-threshold strategy: buy when
// TotalScore holds above buy_score for buy_confirm_days consecutive
// bars, sell symmetrically, with a calendar-day cooldown after each
// trade that suppresses both sides (the stricter semantics, applied
// consistently).
type ThresholdStrategy struct {
	log zerolog.Logger
}

// NewThresholdStrategy creates the default strategy.
func NewThresholdStrategy(log zerolog.Logger) *ThresholdStrategy {
	return &ThresholdStrategy{log: log.With().Str("module", "signals").Logger()}
}

// Generate runs the state machine over the scored bars.
func (s *ThresholdStrategy) Generate(frame *domain.IndicatorFrame, scores []scoring.BarScore, spec *domain.StrategySpec) (*domain.DailySignalFrame, error) {
	if len(scores) != frame.Len() {
		return nil, domain.Invariantf("score series length %d != bar count %d", len(scores), frame.Len())
	}

	buyScore := spec.Param("buy_score", defaultBuyScore)
	sellScore := spec.Param("sell_score", defaultSellScore)
	buyConfirm := int(spec.Param("buy_confirm_days", defaultBuyConfirmDays))
	sellConfirm := int(spec.Param("sell_confirm_days", defaultSellConfirmDays))
	cooldownDays := int(spec.Param("cooldown_days", defaultCooldownDays))

	if buyConfirm < 1 {
		buyConfirm = 1
	}
	if sellConfirm < 1 {
		sellConfirm = 1
	}

	points := make([]domain.SignalPoint, frame.Len())

	machine := stateFlat
	buyStreak := 0
	sellStreak := 0
	var lastTrade *domain.SignalPoint

	for i := range scores {
		bar := frame.Bars[i]
		sc := scores[i]

		if sc.TotalScore >= buyScore {
			buyStreak++
		} else {
			buyStreak = 0
		}
		if sc.TotalScore <= sellScore {
			sellStreak++
		} else {
			sellStreak = 0
		}

		inCooldown := false
		if lastTrade != nil && cooldownDays > 0 {
			elapsed := int(bar.Date.Sub(lastTrade.Date).Hours() / 24)
			inCooldown = elapsed < cooldownDays
		}

		signal := 0
		switch machine {
		case stateFlat:
			if buyStreak >= buyConfirm && !inCooldown {
				signal = 1
				machine = stateLong
			}
		case stateLong:
			if sellStreak >= sellConfirm && !inCooldown {
				signal = -1
				machine = stateFlat
			}
		}

		points[i] = domain.SignalPoint{
			Date:           bar.Date,
			Signal:         signal,
			TotalScore:     sc.TotalScore,
			IndicatorScore: sc.IndicatorScore,
			PatternScore:   sc.PatternScore,
			VolumeScore:    sc.VolumeScore,
			ReasonTags:     sc.ReasonTags,
			RegimeMatch:    sc.RegimeMatch,
		}

		if signal != 0 {
			lastTrade = &points[i]
			buyStreak = 0
			sellStreak = 0
		}
	}

	return &domain.DailySignalFrame{Points: points}, nil
}
