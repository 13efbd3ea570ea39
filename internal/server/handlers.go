package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/etf-advisor/internal/allocation"
	"github.com/sells-group/etf-advisor/internal/engine"
	"github.com/sells-group/etf-advisor/internal/ingest"
	"github.com/sells-group/etf-advisor/internal/model"
	"github.com/sells-group/etf-advisor/internal/store"
)

const maxBodyBytes = 1 << 20

type errorResponse struct {
	Error   string   `json:"error"`
	Details []string `json:"details,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("server: encode response", zap.Error(err))
	}
}

func writeError(w http.ResponseWriter, status int, msg string, details ...string) {
	writeJSON(w, status, errorResponse{Error: msg, Details: details})
}

// current returns the served batch or writes 503 when none is loaded yet.
func (s *Server) current(w http.ResponseWriter) (*engine.Batch, bool) {
	b := s.Batch()
	if b == nil {
		writeError(w, http.StatusServiceUnavailable, "no instrument batch loaded")
		return nil, false
	}
	return b, true
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	resp := map[string]any{"status": "ok"}
	if b := s.Batch(); b != nil {
		resp["instruments"] = len(b.Instruments)
		resp["selected"] = b.SelectedCount()
		resp["config_hash"] = b.ConfigHash
		resp["built_at"] = b.BuiltAt
	} else {
		resp["status"] = "loading"
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleInstruments lists the scored table by tier and rank. Optional
// filters: tier=low|medium|high and selected=true|false.
func (s *Server) handleInstruments(w http.ResponseWriter, r *http.Request) {
	b, ok := s.current(w)
	if !ok {
		return
	}

	q := r.URL.Query()
	var tier model.RiskTier
	if raw := q.Get("tier"); raw != "" {
		t, err := model.ParseRiskTier(strings.ToLower(raw))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid tier", err.Error())
			return
		}
		tier = t
	}
	var selected *bool
	if raw := q.Get("selected"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid selected flag", err.Error())
			return
		}
		selected = &v
	}

	out := make([]model.ScoredInstrument, 0, len(b.Instruments))
	for _, it := range b.Ranked() {
		if tier != "" && it.Tier != tier {
			continue
		}
		if selected != nil && it.Selected != *selected {
			continue
		}
		out = append(out, it)
	}
	writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleInstrument(w http.ResponseWriter, r *http.Request) {
	b, ok := s.current(w)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")
	it, found := b.Lookup(id)
	if !found {
		writeError(w, http.StatusNotFound, "instrument not found", id)
		return
	}
	writeJSON(w, http.StatusOK, it)
}

func (s *Server) handleSelection(w http.ResponseWriter, _ *http.Request) {
	b, ok := s.current(w)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, b.Selection)
}

// tolerance accepts a risk tolerance as a JSON number or a label string.
type tolerance string

func (t *tolerance) UnmarshalJSON(data []byte) error {
	var label string
	if err := json.Unmarshal(data, &label); err == nil {
		*t = tolerance(label)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return eris.New("risk_tolerance must be a number or a label")
	}
	*t = tolerance(n.String())
	return nil
}

type projectionRequest struct {
	PeriodsPerYear *int     `json:"periods_per_year,omitempty"`
	RateConversion string   `json:"rate_conversion,omitempty"`
	InitialValue   *float64 `json:"initial_value,omitempty"`
}

type recommendRequest struct {
	ID                   string             `json:"id"`
	Age                  int                `json:"age"`
	AnnualIncome         float64            `json:"annual_income"`
	NetWorth             float64            `json:"net_worth"`
	HorizonYears         int                `json:"horizon_years"`
	RiskTolerance        tolerance          `json:"risk_tolerance"`
	PeriodicContribution float64            `json:"periodic_contribution"`
	Projection           *projectionRequest `json:"projection,omitempty"`
}

// handleRecommend derives a recommendation for one client against the
// served batch. Projection settings in the request override the configured
// ones for this request only.
func (s *Server) handleRecommend(w http.ResponseWriter, r *http.Request) {
	b, ok := s.current(w)
	if !ok {
		return
	}

	var req recommendRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body", err.Error())
		return
	}

	cfg := s.eng.Config()
	tol, err := allocation.ParseTolerance(string(req.RiskTolerance), cfg.Allocation)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid risk_tolerance", strings.TrimPrefix(err.Error(), "allocation: "))
		return
	}
	profile := model.ClientProfile{
		ID:                   req.ID,
		Age:                  req.Age,
		AnnualIncome:         req.AnnualIncome,
		NetWorth:             req.NetWorth,
		HorizonYears:         req.HorizonYears,
		RiskTolerance:        tol,
		PeriodicContribution: req.PeriodicContribution,
	}
	if err := ingest.ValidateProfile(profile); err != nil {
		writeError(w, http.StatusBadRequest, "invalid profile", ingest.Messages(err)...)
		return
	}

	eng := s.eng
	if p := req.Projection; p != nil {
		if p.PeriodsPerYear != nil {
			cfg.Projection.PeriodsPerYear = *p.PeriodsPerYear
		}
		if p.RateConversion != "" {
			cfg.Projection.RateConversion = p.RateConversion
		}
		if p.InitialValue != nil {
			cfg.Projection.InitialValue = *p.InitialValue
		}
		var opts []engine.Option
		if s.metrics != nil {
			opts = append(opts, engine.WithRecorder(s.metrics))
		}
		eng, err = engine.New(cfg, opts...)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid projection settings", err.Error())
			return
		}
	}

	rec, err := eng.Recommend(b, profile)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, rec)
	case errors.Is(err, model.ErrInvalidAllocationSum):
		zap.L().Error("server: recommendation contract violation", zap.String("client_id", profile.ID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "recommendation failed")
	default:
		writeError(w, http.StatusUnprocessableEntity, "recommendation failed", err.Error())
	}
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := s.Reload(r.Context()); err != nil {
		zap.L().Error("server: reload failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reload failed", err.Error())
		return
	}
	b := s.Batch()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "reloaded",
		"instruments": len(b.Instruments),
		"selected":    b.SelectedCount(),
	})
}

func (s *Server) handleRuns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var filter store.RunFilter
	if raw := q.Get("status"); raw != "" {
		filter.Status = model.RunStatus(raw)
	}
	for name, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		raw := q.Get(name)
		if raw == "" {
			continue
		}
		v, err := strconv.Atoi(raw)
		if err != nil || v < 0 {
			writeError(w, http.StatusBadRequest, "invalid "+name)
			return
		}
		*dst = v
	}

	runs, err := s.store.ListRuns(r.Context(), filter)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if runs == nil {
		runs = []model.Run{}
	}
	writeJSON(w, http.StatusOK, runs)
}

func (s *Server) handleRun(w http.ResponseWriter, r *http.Request) {
	run, err := s.store.GetRun(r.Context(), chi.URLParam(r, "runID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

func (s *Server) handleRunInstruments(w http.ResponseWriter, r *http.Request) {
	runID := chi.URLParam(r, "runID")
	if _, err := s.store.GetRun(r.Context(), runID); err != nil {
		s.storeError(w, err)
		return
	}
	items, err := s.store.ListScored(r.Context(), runID)
	if err != nil {
		s.storeError(w, err)
		return
	}
	if items == nil {
		items = []model.ScoredInstrument{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleRunRecommendation(w http.ResponseWriter, r *http.Request) {
	rec, err := s.store.GetRecommendation(r.Context(), chi.URLParam(r, "runID"), chi.URLParam(r, "clientID"))
	if err != nil {
		s.storeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (s *Server) storeError(w http.ResponseWriter, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not found")
		return
	}
	zap.L().Error("server: store", zap.Error(err))
	writeError(w, http.StatusInternalServerError, "store error")
}
