package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/JakeFAU/loadstate/internal/store"
)

const (
	defaultHistoryLimit = 100
	maxHistoryLimit     = 1000
	historyTimeout      = 3 * time.Second
)

// HistoryHandler exposes read-only change history endpoints.
type HistoryHandler struct {
	repo    store.HistoryRepository
	timeout time.Duration
	logger  *zap.Logger
}

// NewHistoryHandler wires the repository and logger.
func NewHistoryHandler(repo store.HistoryRepository, logger *zap.Logger) *HistoryHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HistoryHandler{
		repo:    repo,
		timeout: historyTimeout,
		logger:  logger,
	}
}

// ListRecent handles GET /v1/history?outcome=&limit=&offset=. It returns
// {"changes": [...]} newest first, 400 for invalid filters, 503 when the repo
// is unavailable, or 500 if the repository call fails.
func (h *HistoryHandler) ListRecent(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history repository unavailable")
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	var outcome *store.Outcome
	if raw := strings.TrimSpace(r.URL.Query().Get("outcome")); raw != "" {
		val, parseErr := parseOutcome(raw)
		if parseErr != nil {
			writeError(w, http.StatusBadRequest, parseErr.Error())
			return
		}
		outcome = &val
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.repo.ListRecent(ctx, outcome, limit, offset)
	if err != nil {
		h.logger.Error("list recent changes failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": toChangeDTOs(records)})
}

// ListLoadHistory handles GET /v1/loads/{load_id}/history?limit=&offset=. It
// returns {"changes": [...]} oldest first or 404 for a load never recorded.
func (h *HistoryHandler) ListLoadHistory(w http.ResponseWriter, r *http.Request) {
	if h.repo == nil {
		writeError(w, http.StatusServiceUnavailable, "history repository unavailable")
		return
	}
	loadID, err := parseLoadID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	limit, offset, err := parseLimitOffset(r, defaultHistoryLimit, maxHistoryLimit)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	records, err := h.repo.ListChanges(ctx, loadID, limit, offset)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "load history not found")
			return
		}
		h.logger.Error("list load changes failed", zap.String("load_id", loadID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list changes")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"changes": toChangeDTOs(records)})
}

func parseLoadID(r *http.Request) (string, error) {
	id := strings.TrimSpace(chi.URLParam(r, "load_id"))
	if id == "" {
		return "", errors.New("load_id is required")
	}
	return id, nil
}

func parseLimitOffset(r *http.Request, def, maxLimit int) (int, int, error) {
	q := r.URL.Query()
	limit := def
	if limStr := q.Get("limit"); limStr != "" {
		val, err := strconv.Atoi(limStr)
		if err != nil || val <= 0 {
			return 0, 0, errors.New("invalid limit")
		}
		if val > maxLimit {
			val = maxLimit
		}
		limit = val
	}
	offset := 0
	if offStr := q.Get("offset"); offStr != "" {
		val, err := strconv.Atoi(offStr)
		if err != nil || val < 0 {
			return 0, 0, errors.New("invalid offset")
		}
		offset = val
	}
	return limit, offset, nil
}

func parseOutcome(input string) (store.Outcome, error) {
	switch strings.ToLower(input) {
	case "active", "running":
		return store.OutcomeActive, nil
	case "success", "succeeded":
		return store.OutcomeSuccess, nil
	case "failure", "failed", "error":
		return store.OutcomeFailure, nil
	default:
		return "", errors.New("invalid outcome")
	}
}

type changeDTO struct {
	Seq        int64     `json:"seq"`
	LoadID     string    `json:"load_id"`
	Kind       string    `json:"kind"`
	PhaseID    string    `json:"phase"`
	PhaseName  string    `json:"phase_name"`
	Outcome    string    `json:"outcome"`
	Progress   float64   `json:"progress"`
	Message    string    `json:"message,omitempty"`
	Categories uint64    `json:"categories"`
	RecordedAt time.Time `json:"recorded_at"`
}

func toChangeDTOs(in []store.ChangeRecord) []changeDTO {
	out := make([]changeDTO, 0, len(in))
	for _, rec := range in {
		out = append(out, changeDTO{
			Seq:        rec.Seq,
			LoadID:     rec.LoadID,
			Kind:       rec.Kind,
			PhaseID:    rec.PhaseID,
			PhaseName:  rec.PhaseName,
			Outcome:    string(rec.Outcome),
			Progress:   rec.Progress,
			Message:    rec.Message,
			Categories: rec.Categories,
			RecordedAt: rec.RecordedAt,
		})
	}
	return out
}
