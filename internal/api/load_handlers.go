package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/metrics"
	"github.com/JakeFAU/loadstate/internal/progress"
	"github.com/JakeFAU/loadstate/internal/progress/sinks"
)

const maxReportBody = 64 << 10

// reportRequest is the body of POST /v1/loads and PUT /v1/loads/{load_id}.
type reportRequest struct {
	Phase      string   `json:"phase"`
	Categories []string `json:"categories"`
	Progress   *float64 `json:"progress,omitempty"`
	Message    string   `json:"message,omitempty"`
}

type loadDTO struct {
	ID         string    `json:"id"`
	Phase      string    `json:"phase"`
	PhaseName  string    `json:"phase_name"`
	Terminal   bool      `json:"terminal"`
	Outcome    string    `json:"outcome"`
	Progress   float64   `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Categories []string  `json:"categories"`
	Timestamp  time.Time `json:"timestamp"`
}

func (s *Server) listLoads(w http.ResponseWriter, r *http.Request) {
	mask, err := s.tracker.Categories().Parse(r.URL.Query().Get("categories"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var states []progress.LoadingState
	if mask.IsNone() {
		states, err = s.tracker.All(r.Context())
	} else {
		states, err = s.tracker.ByCategories(r.Context(), mask)
	}
	if err != nil {
		s.logger.Error("list loads failed", zap.Error(err))
		writeError(w, trackerStatus(err), "failed to list loads")
		return
	}
	out := make([]loadDTO, 0, len(states))
	for _, st := range states {
		out = append(out, s.toLoadDTO(st))
	}
	writeJSON(w, http.StatusOK, map[string]any{"loads": out})
}

func (s *Server) createLoad(w http.ResponseWriter, r *http.Request) {
	id, err := s.idGen.NewID()
	if err != nil {
		s.logger.Error("generate load id failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to allocate load id")
		return
	}
	st, ok := s.report(w, r, id, false)
	if !ok {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"load_id": id,
		"load":    s.toLoadDTO(st),
	})
}

func (s *Server) reportLoad(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, ok := s.report(w, r, id, true)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"load": s.toLoadDTO(st)})
}

// report decodes the body, forwards it to the tracker and reads back the
// stored state. It writes the error response itself and returns false on
// failure. Only updates to an existing id are throttled; a freshly allocated
// id has no history to limit.
func (s *Server) report(w http.ResponseWriter, r *http.Request, id string, throttle bool) (progress.LoadingState, bool) {
	if throttle && s.limiter != nil && !s.limiter.Allow(id) {
		metrics.ObserveThrottledReport()
		writeError(w, http.StatusTooManyRequests, "report rate exceeded")
		return progress.LoadingState{}, false
	}
	var req reportRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxReportBody))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return progress.LoadingState{}, false
	}
	phase, ok := s.tracker.Phases().Lookup(strings.TrimSpace(req.Phase))
	if !ok {
		writeError(w, http.StatusBadRequest, "unknown phase")
		return progress.LoadingState{}, false
	}
	categories, err := s.parseCategoryList(req.Categories)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return progress.LoadingState{}, false
	}
	fraction := 0.0
	switch {
	case req.Progress != nil:
		fraction = *req.Progress
	case phase.IsTerminal():
		fraction = 1
	}
	if err := s.tracker.Report(r.Context(), id, phase, categories, fraction, req.Message); err != nil {
		s.logger.Error("report load failed", zap.String("load_id", id), zap.Error(err))
		writeError(w, trackerStatus(err), "failed to report load")
		return progress.LoadingState{}, false
	}
	metrics.ObserveReport(phase.ID)
	st, found, err := s.tracker.Get(r.Context(), id)
	if err != nil {
		writeError(w, trackerStatus(err), "failed to read load")
		return progress.LoadingState{}, false
	}
	if !found {
		// Cleared by a concurrent request between the two calls.
		writeError(w, http.StatusConflict, "load removed concurrently")
		return progress.LoadingState{}, false
	}
	return st, true
}

func (s *Server) getLoad(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	st, found, err := s.tracker.Get(r.Context(), id)
	if err != nil {
		writeError(w, trackerStatus(err), "failed to read load")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "load not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"load": s.toLoadDTO(st)})
}

func (s *Server) clearLoad(w http.ResponseWriter, r *http.Request) {
	id, err := parseLoadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, found, err := s.tracker.Get(r.Context(), id)
	if err != nil {
		writeError(w, trackerStatus(err), "failed to read load")
		return
	}
	if !found {
		writeError(w, http.StatusNotFound, "load not found")
		return
	}
	if err := s.tracker.Clear(r.Context(), id); err != nil {
		writeError(w, trackerStatus(err), "failed to clear load")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// isAnyActive handles GET /v1/active?categories=&ignore=.
func (s *Server) isAnyActive(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	mask, err := s.tracker.Categories().Parse(q.Get("categories"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if mask.IsNone() {
		writeError(w, http.StatusBadRequest, "categories required")
		return
	}
	var ignore []string
	for _, id := range strings.Split(q.Get("ignore"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ignore = append(ignore, id)
		}
	}
	active, err := s.tracker.IsAnyActive(r.Context(), mask, ignore...)
	if err != nil {
		writeError(w, trackerStatus(err), "failed to query loads")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"active":     active,
		"categories": s.tracker.Categories().Names(mask),
	})
}

func (s *Server) parseCategoryList(names []string) (progress.CategorySet, error) {
	set := progress.CategoryNone
	for _, name := range names {
		c, ok := s.tracker.Categories().Lookup(name)
		if !ok {
			return progress.CategoryNone, fmt.Errorf("unknown category %q", strings.TrimSpace(name))
		}
		set = set.Union(c)
	}
	return set, nil
}

func (s *Server) toLoadDTO(st progress.LoadingState) loadDTO {
	names := s.tracker.Categories().Names(st.Categories)
	if names == nil {
		names = []string{}
	}
	return loadDTO{
		ID:         st.ID,
		Phase:      st.Phase.ID,
		PhaseName:  st.Phase.DisplayName,
		Terminal:   st.IsTerminal(),
		Outcome:    string(sinks.OutcomeOf(st)),
		Progress:   st.Progress,
		Message:    st.Message,
		Categories: names,
		Timestamp:  st.Timestamp,
	}
}
