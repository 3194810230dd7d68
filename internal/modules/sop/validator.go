// Package sop gates whether a backtest result may be promoted to a
// strategy version: sample-size, period-length and fold-count rules,
// plus the overfitting-risk veto.
package sop

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
)

// Hard gates and warning thresholds.
const (
	MinTrades     = 10
	MinPeriodDays = 90
	MinFolds      = 3
)

// Input describes the research session under validation.
type Input struct {
	TotalTrades   int
	PeriodDays    int
	FoldCount     int  // 0 when walk-forward did not run
	WalkForward   bool // whether walk-forward ran at all
	LayersChanged int  // strategy layers touched in this session
	RiskLevel     domain.RiskLevel
}

// Result is the validator verdict with its human-readable messages.
type Result struct {
	Status     domain.ValidationStatus `json:"status"`
	CanPromote bool                    `json:"can_promote"`
	Messages   []string                `json:"messages"`
}

// Validator applies the promotion rules. Messages are rendered in the
// configured locale; only English is bundled.
type Validator struct {
	log zerolog.Logger
}

// NewValidator creates a SOP validator.
func NewValidator(log zerolog.Logger) *Validator {
	return &Validator{log: log.With().Str("module", "sop").Logger()}
}

// Validate never returns an error: a rule breach is a verdict, not a
// failure.
func (v *Validator) Validate(in Input) Result {
	var fails, warnings []string

	if in.TotalTrades < MinTrades {
		fails = append(fails, fmt.Sprintf("only %d trades; at least %d required for a meaningful sample", in.TotalTrades, MinTrades))
	}
	if in.PeriodDays < MinPeriodDays {
		fails = append(fails, fmt.Sprintf("backtest period of %d days is below the %d-day minimum", in.PeriodDays, MinPeriodDays))
	}
	if in.WalkForward && in.FoldCount < MinFolds {
		fails = append(fails, fmt.Sprintf("walk-forward produced %d folds; at least %d required", in.FoldCount, MinFolds))
	}

	if len(fails) == 0 {
		if in.LayersChanged > 1 {
			warnings = append(warnings, fmt.Sprintf("%d strategy layers changed in this session; change one layer at a time", in.LayersChanged))
		}
		if !in.WalkForward {
			warnings = append(warnings, "walk-forward validation was not executed")
		}
	}

	result := Result{Status: domain.StatusPass, Messages: []string{}}
	switch {
	case len(fails) > 0:
		result.Status = domain.StatusFail
		result.Messages = append(result.Messages, fails...)
	case len(warnings) > 0:
		result.Status = domain.StatusWarning
		result.Messages = append(result.Messages, warnings...)
	}

	result.CanPromote = result.Status != domain.StatusFail

	// High overfitting risk vetoes promotion independently of the
	// pass/warning status.
	if in.RiskLevel == domain.RiskHigh {
		result.CanPromote = false
		result.Messages = append(result.Messages, "overfitting risk is high; promotion blocked")
	}

	v.log.Debug().
		Str("status", string(result.Status)).
		Bool("can_promote", result.CanPromote).
		Msg("SOP validation complete")

	return result
}
