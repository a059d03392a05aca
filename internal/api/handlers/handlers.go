// Package handlers implements the HTTP handlers for the RagLens API. All
// handlers depend on the Store interface and the pipeline/harness services,
// never on concrete transports.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/raglens/raglens/internal/harness"
	"github.com/raglens/raglens/internal/store"
	"github.com/raglens/raglens/pkg/contracts"
	"github.com/raglens/raglens/pkg/models"
)

// Handlers holds all handler dependencies.
type Handlers struct {
	Store   store.Store
	Service contracts.QueryService
	Harness *harness.Harness
}

// New creates a Handlers instance.
func New(s store.Store, svc contracts.QueryService, h *harness.Harness) *Handlers {
	return &Handlers{Store: s, Service: svc, Harness: h}
}

// ── Query ───────────────────────────────────────────────────

func (h *Handlers) RunQuery(w http.ResponseWriter, r *http.Request) {
	var req models.QueryRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		respondError(w, http.StatusBadRequest, "query must not be empty")
		return
	}

	result, err := h.Service.Query(r.Context(), req.Query)
	if err != nil {
		var unavailable *models.UpstreamUnavailableError
		if errors.As(err, &unavailable) {
			respondError(w, http.StatusBadGateway, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}

	log.Info().Str("app", result.App).Str("run_id", result.RecordID).
		Int64("latency_ms", result.LatencyMs).Msg("query answered")
	respondJSON(w, http.StatusOK, result)
}

// ── Evaluation runs ─────────────────────────────────────────

func (h *Handlers) RunEval(w http.ResponseWriter, r *http.Request) {
	var req models.EvalRunRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.Queries) == 0 {
		respondError(w, http.StatusBadRequest, "queries must not be empty")
		return
	}

	resp := h.Harness.RunAndScore(r.Context(), req.Queries)
	log.Info().Str("app", resp.App).Int("total", resp.Total).
		Int("succeeded", resp.Succeeded).Int("failed", resp.Failed).Msg("eval batch finished")
	respondJSON(w, http.StatusOK, resp)
}

// ── Leaderboard ─────────────────────────────────────────────

func (h *Handlers) GetLeaderboard(w http.ResponseWriter, r *http.Request) {
	rows, err := harness.Leaderboard(r.Context(), h.Store)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if rows == nil {
		rows = []models.LeaderboardRow{}
	}
	respondJSON(w, http.StatusOK, rows)
}

// ── Runs ────────────────────────────────────────────────────

func (h *Handlers) ListRuns(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	limit := queryInt(r, "limit", 100)

	runs, err := h.Store.ListRuns(r.Context(), app, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if runs == nil {
		runs = []models.RunRecord{}
	}
	respondJSON(w, http.StatusOK, runs)
}

func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "runId")

	run, err := h.Store.GetRun(r.Context(), id)
	if err != nil {
		var notFound *store.ErrNotFound
		if errors.As(err, &notFound) {
			respondError(w, http.StatusNotFound, err.Error())
			return
		}
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	respondJSON(w, http.StatusOK, run)
}

// ── Results & apps ──────────────────────────────────────────

func (h *Handlers) ListResults(w http.ResponseWriter, r *http.Request) {
	app := r.URL.Query().Get("app")
	limit := queryInt(r, "limit", 1000)

	results, err := h.Store.ListResults(r.Context(), app, limit)
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if results == nil {
		results = []models.FeedbackResult{}
	}
	respondJSON(w, http.StatusOK, results)
}

func (h *Handlers) ListApps(w http.ResponseWriter, r *http.Request) {
	apps, err := h.Store.ListApps(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if apps == nil {
		apps = []models.Application{}
	}
	respondJSON(w, http.StatusOK, apps)
}

// ── Helpers ─────────────────────────────────────────────────

func queryInt(r *http.Request, name string, fallback int) int {
	if v := r.URL.Query().Get(name); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}
