package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/aristath/stratlab/internal/domain"
	"github.com/aristath/stratlab/internal/modules/backtest"
	"github.com/aristath/stratlab/internal/modules/optimizer"
	"github.com/aristath/stratlab/internal/modules/robustness"
	"github.com/aristath/stratlab/internal/modules/runs"
	"github.com/aristath/stratlab/internal/modules/walkforward"
)

// apiBar is the wire form of a bar; dates travel as "2006-01-02".
type apiBar struct {
	Date      string  `json:"date"`
	Open      float64 `json:"open"`
	High      float64 `json:"high"`
	Low       float64 `json:"low"`
	Close     float64 `json:"close"`
	Volume    int64   `json:"volume"`
	PrevClose float64 `json:"prev_close,omitempty"`
}

func toBars(in []apiBar) ([]domain.Bar, error) {
	bars := make([]domain.Bar, len(in))
	for i, b := range in {
		date, err := time.Parse(domain.DateLayout, b.Date)
		if err != nil {
			return nil, domain.InvalidInputf("bad bar date %q", b.Date)
		}
		bars[i] = domain.Bar{
			Date: date, Open: b.Open, High: b.High, Low: b.Low,
			Close: b.Close, Volume: b.Volume, PrevClose: b.PrevClose,
		}
	}
	return bars, nil
}

func parseDate(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, nil
	}
	return time.Parse(domain.DateLayout, s)
}

type backtestRequest struct {
	Bars           []apiBar            `json:"bars"`
	Spec           domain.StrategySpec `json:"spec"`
	Broker         domain.BrokerConfig `json:"broker"`
	InitialCapital float64             `json:"initial_capital"`
	Start          string              `json:"start,omitempty"`
	End            string              `json:"end,omitempty"`
	Regime         string              `json:"regime,omitempty"`
	WithBaseline   bool                `json:"with_baseline,omitempty"`
	LayersChanged  int                 `json:"layers_changed,omitempty"`
	Save           bool                `json:"save,omitempty"`
}

type backtestResponse struct {
	RunID  string                 `json:"run_id,omitempty"`
	Report *domain.BacktestReport `json:"report"`
}

// handleBacktest runs one evaluation.
func (s *Server) handleBacktest(w http.ResponseWriter, r *http.Request) {
	var req backtestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.InvalidInputf("malformed request body: %v", err))
		return
	}

	bars, err := toBars(req.Bars)
	if err != nil {
		s.writeError(w, err)
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		s.writeError(w, domain.InvalidInputf("bad start date %q", req.Start))
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		s.writeError(w, domain.InvalidInputf("bad end date %q", req.End))
		return
	}

	report, err := s.backtest.Run(bars, backtest.Request{
		Spec:           req.Spec,
		Broker:         req.Broker,
		InitialCapital: req.InitialCapital,
		Start:          start,
		End:            end,
		Regime:         req.Regime,
		WithBaseline:   req.WithBaseline,
		LayersChanged:  req.LayersChanged,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	resp := backtestResponse{Report: report}
	if req.Save {
		resp.RunID = s.persistRun(r, runs.KindBacktest, report)
	}
	s.writeJSON(w, http.StatusOK, resp)
}

type walkforwardRequest struct {
	Bars           []apiBar            `json:"bars"`
	Spec           domain.StrategySpec `json:"spec"`
	Broker         domain.BrokerConfig `json:"broker"`
	InitialCapital float64             `json:"initial_capital"`
	Start          string              `json:"start"`
	End            string              `json:"end"`
	TrainMonths    int                 `json:"train_months"`
	TestMonths     int                 `json:"test_months"`
	StepMonths     int                 `json:"step_months"`
	WarmupDays     int                 `json:"warmup_days,omitempty"`
}

type walkforwardResponse struct {
	Result     *walkforward.Result           `json:"result"`
	RiskReport *domain.OverfittingRiskReport `json:"risk_report,omitempty"`
}

// handleWalkForward rolls folds and attaches the robustness verdict.
func (s *Server) handleWalkForward(w http.ResponseWriter, r *http.Request) {
	var req walkforwardRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.InvalidInputf("malformed request body: %v", err))
		return
	}

	bars, err := toBars(req.Bars)
	if err != nil {
		s.writeError(w, err)
		return
	}
	start, err := parseDate(req.Start)
	if err != nil {
		s.writeError(w, domain.InvalidInputf("bad start date %q", req.Start))
		return
	}
	end, err := parseDate(req.End)
	if err != nil {
		s.writeError(w, domain.InvalidInputf("bad end date %q", req.End))
		return
	}

	result, err := s.walkforward.Run(bars, req.Spec, req.Broker, req.InitialCapital, walkforward.Config{
		Start:       start,
		End:         end,
		TrainMonths: req.TrainMonths,
		TestMonths:  req.TestMonths,
		StepMonths:  req.StepMonths,
		WarmupDays:  req.WarmupDays,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	inputs := robustness.Inputs{}
	if len(result.Folds) > 0 {
		avg := result.AvgDegradation
		inputs.Degradation = &avg
	}
	if result.ConsistencyDefined {
		std := result.ConsistencyStd
		inputs.ConsistencyStd = &std
	}
	riskReport := s.robustness.Evaluate(inputs)

	s.hub.Publish(ProgressEvent{
		Source:    "walkforward",
		Completed: len(result.Folds),
		Total:     len(result.Folds) + result.SkippedFolds,
		Message:   "Walk-forward complete",
	})

	s.writeJSON(w, http.StatusOK, walkforwardResponse{
		Result:     result,
		RiskReport: &riskReport,
	})
}

type optimizeRequest struct {
	Bars           []apiBar               `json:"bars"`
	Spec           domain.StrategySpec    `json:"spec"`
	Broker         domain.BrokerConfig    `json:"broker"`
	InitialCapital float64                `json:"initial_capital"`
	Ranges         []optimizer.ParamRange `json:"ranges"`
	Objective      optimizer.Objective    `json:"objective,omitempty"`
	TopN           int                    `json:"top_n,omitempty"`
}

// handleOptimize runs a grid search, streaming progress to the hub.
func (s *Server) handleOptimize(w http.ResponseWriter, r *http.Request) {
	var req optimizeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, domain.InvalidInputf("malformed request body: %v", err))
		return
	}

	bars, err := toBars(req.Bars)
	if err != nil {
		s.writeError(w, err)
		return
	}

	result, err := s.optimizer.Run(r.Context(), bars, optimizer.Request{
		Spec:           req.Spec,
		Broker:         req.Broker,
		InitialCapital: req.InitialCapital,
		Ranges:         req.Ranges,
		Objective:      req.Objective,
		TopN:           req.TopN,
	}, func(completed, total int, message string) {
		s.hub.Publish(ProgressEvent{
			Source:    "optimizer",
			Completed: completed,
			Total:     total,
			Message:   message,
		})
	})
	if err != nil {
		s.writeError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, result)
}

// handleListRuns lists saved run metadata.
func (s *Server) handleListRuns(w http.ResponseWriter, r *http.Request) {
	records, err := s.runs.ListRuns(0)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if records == nil {
		records = []runs.Record{}
	}
	s.writeJSON(w, http.StatusOK, records)
}

// handleGetRun returns the full stored report for one run.
func (s *Server) handleGetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	report, rec, err := s.runs.LoadRun(id)
	if err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]interface{}{
		"record": rec,
		"report": report,
	})
}

// handleDeleteRun removes a stored run.
func (s *Server) handleDeleteRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.runs.DeleteRun(id); err != nil {
		s.writeError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "deleted", "id": id})
}

// persistRun saves the report, exports CSV artifacts and (best-effort)
// backs them up. Persistence failures are logged, not returned; the
// caller already has the full report in hand.
func (s *Server) persistRun(r *http.Request, kind runs.Kind, report *domain.BacktestReport) string {
	id, err := s.runs.SaveRun(kind, report)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to persist run")
		return ""
	}

	paths, err := runs.ExportCSV(s.exportDir, id, report)
	if err != nil {
		s.log.Warn().Err(err).Str("run_id", id).Msg("CSV export failed")
		return id
	}
	if s.backup != nil {
		if err := s.backup.Upload(r.Context(), id, paths); err != nil {
			s.log.Warn().Err(err).Str("run_id", id).Msg("Artifact backup failed")
		}
	}
	return id
}

type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
	case errors.Is(err, domain.ErrInsufficientData):
		status = http.StatusUnprocessableEntity
	}
	s.log.Warn().Err(err).Int("status", status).Msg("Request failed")
	s.writeJSON(w, status, errorResponse{Error: err.Error()})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error().Err(err).Msg("Failed to encode response")
	}
}
