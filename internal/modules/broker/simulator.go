// Package broker simulates trade execution over a daily signal frame:
// a deterministic event loop applying execution-price policy, limit
// band and volume-participation feasibility, position sizing, fees,
// taxes, slippage, stops, re-entry rules and final-bar settlement.
package broker

import (
	"math"
	"time"

	"github.com/rs/zerolog"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/internal/modules/indicators"
)

// Reason tags emitted by the simulator itself.
const (
	TagStopLoss      = "stop_loss"
	TagTakeProfit    = "take_profit"
	TagStopLossATR   = "stop_loss_atr"
	TagTakeProfitATR = "take_profit_atr"
	TagForceClose    = "force_close"
)

// limitSealEpsilon: the band counts as sealed only when the bar's
// extreme is within 0.1% of the limit price.
const limitSealEpsilon = 0.001

// Result is the simulator output: a chronological trade list and an
// equity curve aligned 1:1 with the input bars.
type Result struct {
	Trades      []domain.Trade
	EquityCurve []domain.EquityPoint
}

// Simulator is stateless between runs; every Run owns its working set.
type Simulator struct {
	log zerolog.Logger
}

// NewSimulator creates a broker simulator.
func NewSimulator(log zerolog.Logger) *Simulator {
	return &Simulator{log: log.With().Str("module", "broker").Logger()}
}

// order is a decided-but-not-yet-executed trade.
type order struct {
	side   domain.TradeSide
	tags   []string
	signal int
	forced bool // stop or final-bar settlement
}

// runState is the mutable state of one simulation.
type runState struct {
	cash       float64
	shares     int64
	entryPrice float64 // volume-weighted average entry of the open position
	lastATR    float64 // most recent valid ATR, for risk-based sizing

	roundTrips   int
	lastExitDate int64 // unix days, -1 = never
	pending      *order

	trades []domain.Trade
	curve  []domain.EquityPoint
}

// Run simulates the signal frame under the given broker config. The
// frame must carry an ATR column when ATR stops are configured; an
// invalid ATR simply deactivates the stop for that bar.
func (s *Simulator) Run(frame *domain.IndicatorFrame, signalFrame *domain.DailySignalFrame, cfg domain.BrokerConfig, initialCapital float64) (*Result, error) {
	cfg.Normalize()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if initialCapital <= 0 {
		return nil, domain.InvalidInputf("initial capital must be positive")
	}
	if signalFrame.Len() != frame.Len() {
		return nil, domain.Invariantf("signal frame length %d != bar count %d", signalFrame.Len(), frame.Len())
	}
	if frame.Len() == 0 {
		return nil, domain.InvalidInputf("empty price series")
	}

	st := &runState{
		cash:         initialCapital,
		lastExitDate: -1,
	}

	bars := frame.Bars
	lastIdx := len(bars) - 1

	for i := range bars {
		bar := bars[i]

		// 1. Execute the order decided on the previous bar at this
		// bar's open.
		if st.pending != nil {
			s.execute(st, *st.pending, bar.Open, bar, cfg)
			st.pending = nil
		}

		// Track the freshest ATR for risk-based sizing and ATR stops.
		if atr := frame.At(indicators.ColATR, i); domain.IsValid(atr) {
			st.lastATR = atr
		}

		// 2. Stops, evaluated before signal processing.
		if st.shares > 0 {
			if stop := s.checkStops(st, frame, i, cfg); stop != nil {
				s.place(st, *stop, i, lastIdx, frame, cfg)
			}
		}

		// 3. The bar's own signal. A stop already queued for the next
		// open takes precedence over a same-bar signal.
		point := signalFrame.Points[i]
		if point.Signal != 0 && st.pending == nil {
			ord := order{
				side:   domain.SideBuy,
				tags:   point.ReasonTags,
				signal: point.Signal,
			}
			if point.Signal < 0 {
				ord.side = domain.SideSell
			}
			if s.admissible(st, ord, bar, cfg) {
				s.place(st, ord, i, lastIdx, frame, cfg)
			}
		}

		// 4. Final-bar settlement: close any open position at this
		// close so the ledger has matched pairs.
		if i == lastIdx && st.shares > 0 {
			s.execute(st, order{
				side:   domain.SideSell,
				tags:   []string{TagForceClose},
				signal: -1,
				forced: true,
			}, bar.Close, bar, cfg)
			st.pending = nil
		}

		// 5. One equity point per bar.
		equity := st.cash + float64(st.shares)*bar.Close
		st.curve = append(st.curve, domain.EquityPoint{
			Date:           bar.Date,
			Equity:         equity,
			Cash:           st.cash,
			PositionShares: st.shares,
			PositionValue:  float64(st.shares) * bar.Close,
			Price:          bar.Close,
		})

		if err := s.checkInvariants(st, bar); err != nil {
			return nil, err
		}
	}

	s.log.Debug().
		Int("bars", len(bars)).
		Int("trades", len(st.trades)).
		Float64("final_equity", st.curve[len(st.curve)-1].Equity).
		Msg("Simulation complete")

	return &Result{Trades: st.trades, EquityCurve: st.curve}, nil
}

// admissible applies the decision-time gates: position state,
// re-entry and pyramiding rules. Feasibility at the execution bar is
// checked later, in execute.
func (s *Simulator) admissible(st *runState, ord order, bar domain.Bar, cfg domain.BrokerConfig) bool {
	switch ord.side {
	case domain.SideBuy:
		if st.shares > 0 && !cfg.AllowPyramid {
			return false
		}
		if st.shares == 0 {
			if !cfg.AllowReentry && st.roundTrips > 0 {
				return false
			}
			if cfg.ReentryCooldownDays > 0 && st.lastExitDate >= 0 {
				elapsed := unixDays(bar.Date) - st.lastExitDate
				if elapsed < int64(cfg.ReentryCooldownDays) {
					return false
				}
			}
		}
		return true
	case domain.SideSell:
		return st.shares > 0
	}
	return false
}

// place routes an order through the execution-price policy: close
// executes immediately at this bar's close, next_open queues for the
// following bar's open with a final-bar fallback to this close.
func (s *Simulator) place(st *runState, ord order, i, lastIdx int, frame *domain.IndicatorFrame, cfg domain.BrokerConfig) {
	bar := frame.Bars[i]
	if cfg.ExecutionPrice == domain.ExecClose || i == lastIdx {
		s.execute(st, ord, bar.Close, bar, cfg)
		return
	}
	st.pending = &ord
}

// execute applies feasibility, sizing and accounting for one order at
// its execution bar. Skipped trades leave the position unchanged.
func (s *Simulator) execute(st *runState, ord order, execPrice float64, bar domain.Bar, cfg domain.BrokerConfig) {
	// Re-check decision gates: position state may have changed between
	// decision bar and execution bar.
	if !ord.forced && !s.admissible(st, ord, bar, cfg) {
		return
	}
	if ord.side == domain.SideSell && st.shares == 0 {
		return
	}

	// Feasibility gate 1: limit-up/down sealing. Settlement bypasses
	// it - matched pairs are guaranteed.
	if !ord.forced || !hasTag(ord.tags, TagForceClose) {
		if cfg.EnableLimitUpDown && !s.limitFeasible(ord.side, execPrice, bar, cfg) {
			return
		}
	}

	switch ord.side {
	case domain.SideBuy:
		s.executeBuy(st, ord, execPrice, bar, cfg)
	case domain.SideSell:
		s.executeSell(st, ord, execPrice, bar, cfg)
	}
}

func (s *Simulator) executeBuy(st *runState, ord order, execPrice float64, bar domain.Bar, cfg domain.BrokerConfig) {
	lot := int64(cfg.LotSize)
	fillPrice := execPrice * (1 + cfg.SlippageBps/1e4)

	shares := s.targetShares(st, execPrice, fillPrice, cfg)
	if shares <= 0 {
		return
	}

	// Feasibility gate 2: volume participation cap.
	if cfg.EnableVolumeConstraint {
		maxShares := int64(float64(bar.Volume)*cfg.MaxParticipationRate) / lot * lot
		if shares > maxShares {
			shares = maxShares
		}
		if shares <= 0 {
			return
		}
	}

	gross := float64(shares) * execPrice
	fee := tradeFee(gross, cfg)
	slipCost := float64(shares) * (fillPrice - execPrice)

	// Shrink until affordable; sizing on the slippage-adjusted price
	// plus the flat fee floor can overshoot by a lot.
	for shares > 0 && gross+fee+slipCost > st.cash {
		shares -= lot
		gross = float64(shares) * execPrice
		fee = tradeFee(gross, cfg)
		slipCost = float64(shares) * (fillPrice - execPrice)
	}
	if shares <= 0 {
		return
	}

	st.cash -= gross + fee + slipCost
	if st.shares > 0 {
		// Pyramiding: weighted-average the entry.
		total := float64(st.shares) + float64(shares)
		st.entryPrice = (st.entryPrice*float64(st.shares) + execPrice*float64(shares)) / total
	} else {
		st.entryPrice = execPrice
	}
	st.shares += shares

	st.trades = append(st.trades, domain.Trade{
		Date:         bar.Date,
		Side:         domain.SideBuy,
		Price:        execPrice,
		Shares:       shares,
		GrossValue:   gross,
		Fee:          fee,
		SlippageCost: slipCost,
		ReasonTags:   ord.tags,
		Signal:       1,
	})
}

func (s *Simulator) executeSell(st *runState, ord order, execPrice float64, bar domain.Bar, cfg domain.BrokerConfig) {
	shares := st.shares // exits always close the full aggregate
	fillPrice := execPrice * (1 - cfg.SlippageBps/1e4)

	gross := float64(shares) * execPrice
	fee := tradeFee(gross, cfg)
	tax := gross * cfg.TaxRate
	slipCost := float64(shares) * (execPrice - fillPrice)

	st.cash += gross - fee - tax - slipCost
	st.shares = 0
	st.entryPrice = 0
	st.roundTrips++
	st.lastExitDate = unixDays(bar.Date)

	st.trades = append(st.trades, domain.Trade{
		Date:         bar.Date,
		Side:         domain.SideSell,
		Price:        execPrice,
		Shares:       shares,
		GrossValue:   gross,
		Fee:          fee,
		Tax:          tax,
		SlippageCost: slipCost,
		ReasonTags:   ord.tags,
		Signal:       -1,
	})
}

// targetShares sizes a buy before the volume cap, rounded down to the
// lot. Risk-based sizing derives the stop distance from the ATR
// multiple when set, else from the percentage stop.
func (s *Simulator) targetShares(st *runState, execPrice, fillPrice float64, cfg domain.BrokerConfig) int64 {
	lot := int64(cfg.LotSize)
	lotCost := fillPrice * float64(lot)
	if lotCost <= 0 {
		return 0
	}

	switch cfg.SizingMode {
	case domain.SizeAllIn:
		return int64(st.cash/lotCost) * lot

	case domain.SizeFixedAmount:
		target := int64(*cfg.FixedAmount/lotCost) * lot
		cap := int64(st.cash/lotCost) * lot
		if target > cap {
			target = cap
		}
		return target

	case domain.SizeRiskBased:
		var stopDistance float64
		if cfg.StopLossATRMult != nil && st.lastATR > 0 {
			stopDistance = *cfg.StopLossATRMult * st.lastATR
		} else if cfg.StopLossPct != nil {
			stopDistance = execPrice * *cfg.StopLossPct
		}
		if stopDistance <= 0 {
			return 0
		}
		riskBudget := st.cash * *cfg.RiskPct
		target := int64(riskBudget/stopDistance) / lot * lot
		cap := int64(st.cash/lotCost) * lot
		if target > cap {
			target = cap
		}
		return target
	}
	return 0
}

// checkStops evaluates the stop policy on the bar's close. ATR mode
// takes priority when configured; an undefined ATR deactivates it for
// the bar.
func (s *Simulator) checkStops(st *runState, frame *domain.IndicatorFrame, i int, cfg domain.BrokerConfig) *order {
	barClose := frame.Bars[i].Close
	atr := frame.At(indicators.ColATR, i)

	if cfg.StopLossATRMult != nil || cfg.TakeProfitATRMult != nil {
		if !domain.IsValid(atr) {
			return nil
		}
		move := barClose - st.entryPrice
		if cfg.StopLossATRMult != nil && move <= -*cfg.StopLossATRMult*atr {
			return &order{side: domain.SideSell, tags: []string{TagStopLossATR}, signal: -1, forced: true}
		}
		if cfg.TakeProfitATRMult != nil && move >= *cfg.TakeProfitATRMult*atr {
			return &order{side: domain.SideSell, tags: []string{TagTakeProfitATR}, signal: -1, forced: true}
		}
		return nil
	}

	if st.entryPrice <= 0 {
		return nil
	}
	ret := (barClose - st.entryPrice) / st.entryPrice
	if cfg.StopLossPct != nil && ret <= -*cfg.StopLossPct {
		return &order{side: domain.SideSell, tags: []string{TagStopLoss}, signal: -1, forced: true}
	}
	if cfg.TakeProfitPct != nil && ret >= *cfg.TakeProfitPct {
		return &order{side: domain.SideSell, tags: []string{TagTakeProfit}, signal: -1, forced: true}
	}
	return nil
}

// limitFeasible rejects buys against a sealed limit-up and sells
// against a sealed limit-down. Without a prev_close the gate is moot.
func (s *Simulator) limitFeasible(side domain.TradeSide, execPrice float64, bar domain.Bar, cfg domain.BrokerConfig) bool {
	if bar.PrevClose <= 0 {
		return true
	}

	if side == domain.SideBuy {
		limitUp := bar.PrevClose * (1 + cfg.LimitUpDownPct)
		atLimit := math.Abs(execPrice-limitUp) <= limitSealEpsilon*limitUp
		sealed := math.Abs(bar.High-limitUp) <= limitSealEpsilon*limitUp
		return !(atLimit && sealed)
	}

	limitDown := bar.PrevClose * (1 - cfg.LimitUpDownPct)
	atLimit := math.Abs(execPrice-limitDown) <= limitSealEpsilon*limitDown
	sealed := math.Abs(bar.Low-limitDown) <= limitSealEpsilon*limitDown
	return !(atLimit && sealed)
}

// checkInvariants aborts the run on accounting breaches; these are
// programmer errors, never silently corrected.
func (s *Simulator) checkInvariants(st *runState, bar domain.Bar) error {
	if st.cash < -0.01 {
		return domain.Invariantf("negative cash %.4f at %s", st.cash, bar.Date.Format(domain.DateLayout))
	}
	last := st.curve[len(st.curve)-1]
	if math.Abs(last.Equity-(last.Cash+float64(last.PositionShares)*last.Price)) >= 0.01 {
		return domain.Invariantf("equity accounting broken at %s", bar.Date.Format(domain.DateLayout))
	}
	return nil
}

func tradeFee(gross float64, cfg domain.BrokerConfig) float64 {
	if gross <= 0 {
		return 0
	}
	return math.Max(gross*cfg.FeeBps/1e4, cfg.FeeFloor)
}

func hasTag(tags []string, want string) bool {
	for _, t := range tags {
		if t == want {
			return true
		}
	}
	return false
}

func unixDays(t time.Time) int64 {
	return t.Unix() / 86400
}
