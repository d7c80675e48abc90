/*
handlers.go - HTTP API handlers for the prediction engine

PURPOSE:
  Exposes the current prediction rows, history, snapshots, and digest
  previews as a read-only REST surface, plus manual triggers for the batch
  jobs. All computation happens in the batch cycles; handlers only read
  and serialize.

ENDPOINTS:
  Accounts:
    GET  /api/accounts                 List prediction rows (?rep= filter)
    GET  /api/accounts/{code}          Full account detail
    GET  /api/accounts/{code}/history  Per-year revenue rollups
    GET  /api/accounts/{code}/snapshots Run-over-run trend (?limit=)

  Reps:
    GET  /api/reps                     Reps with accounts
    GET  /api/reps/{id}/digest         Digest preview (pure read)

  Jobs:
    GET  /api/runs/latest?kind=        Last run of a job kind
    POST /api/jobs/aggregate           Trigger the weekly recompute
    POST /api/jobs/reminders           Trigger the daily reminder pass
    POST /api/jobs/digests             Trigger digest fan-out

ERROR HANDLING:
  Errors are returned as JSON with appropriate HTTP status:
  - 400: Invalid input
  - 404: Account not found
  - 500: Internal errors

SECURITY NOTE:
  No authentication middleware. Deploy behind the gateway that handles it.

SEE ALSO:
  - dto.go: Request/response data structures
  - server.go: Router setup and middleware
*/
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/keystone/account-pulse/config"
	"github.com/keystone/account-pulse/engine"
)

// JobTrigger runs the batch jobs on demand. Satisfied by jobs.Runner.
type JobTrigger interface {
	RunAggregate(ctx context.Context) error
	RunReminders(ctx context.Context) error
	RunDigests(ctx context.Context) error
}

// Handler holds all dependencies for HTTP handlers.
type Handler struct {
	Predictions engine.PredictionStore
	Snapshots   engine.SnapshotStore
	History     engine.HistoryStore
	Runs        engine.RunStore
	Jobs        JobTrigger
	Clock       engine.Clock
	Log         *zap.Logger
	Cfg         config.Config
}

// =============================================================================
// ACCOUNT HANDLERS
// =============================================================================

// ListAccounts returns the current prediction rows, optionally filtered by
// rep.
func (h *Handler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	var (
		preds []*engine.AccountPrediction
		err   error
	)
	if rep := r.URL.Query().Get("rep"); rep != "" {
		preds, err = h.Predictions.ListByRep(r.Context(), engine.RepID(rep))
	} else {
		preds, err = h.Predictions.List(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list accounts", err)
		return
	}

	today := h.Clock.Today()
	dtos := make([]AccountSummaryDTO, len(preds))
	for i, p := range preds {
		dtos[i] = toSummaryDTO(p, today, h.Cfg.Digest.FollowUpAfterDays)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccount returns the full detail for one account.
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	code := engine.AccountCode(chi.URLParam(r, "code"))
	pred, err := h.Predictions.Get(r.Context(), code)
	if err != nil {
		if errors.Is(err, engine.ErrAccountNotFound) {
			writeError(w, http.StatusNotFound, "Account not found", nil)
			return
		}
		writeError(w, http.StatusInternalServerError, "Failed to load account", err)
		return
	}
	writeJSON(w, http.StatusOK, toDetailDTO(pred, h.Clock.Today()))
}

// GetAccountHistory returns the per-year revenue rollups.
func (h *Handler) GetAccountHistory(w http.ResponseWriter, r *http.Request) {
	code := engine.AccountCode(chi.URLParam(r, "code"))
	years, err := h.History.ListYears(r.Context(), code)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load history", err)
		return
	}
	dtos := make([]HistoryYearDTO, len(years))
	for i, y := range years {
		dtos[i] = toHistoryDTO(y)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetAccountSnapshots returns the run-over-run trend, newest first.
func (h *Handler) GetAccountSnapshots(w http.ResponseWriter, r *http.Request) {
	code := engine.AccountCode(chi.URLParam(r, "code"))
	limit := 12
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "limit must be a positive integer", err)
			return
		}
		limit = n
	}

	snaps, err := h.Snapshots.ListByAccount(r.Context(), code, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load snapshots", err)
		return
	}
	dtos := make([]SnapshotDTO, len(snaps))
	for i, s := range snaps {
		dtos[i] = toSnapshotDTO(s)
	}
	writeJSON(w, http.StatusOK, dtos)
}

// =============================================================================
// REP HANDLERS
// =============================================================================

// ListReps returns every rep with at least one account.
func (h *Handler) ListReps(w http.ResponseWriter, r *http.Request) {
	reps, err := h.Predictions.DistinctReps(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list reps", err)
		return
	}
	dtos := make([]RepDTO, len(reps))
	for i, rep := range reps {
		dtos[i] = RepDTO{ID: string(rep.ID), Name: rep.Name}
	}
	writeJSON(w, http.StatusOK, dtos)
}

// GetRepDigest assembles the rep's digest on demand. Same pure read the
// weekly job performs; nothing is sent and nothing is mutated.
func (h *Handler) GetRepDigest(w http.ResponseWriter, r *http.Request) {
	rep := engine.RepID(chi.URLParam(r, "id"))
	preds, err := h.Predictions.ListByRep(r.Context(), rep)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load accounts", err)
		return
	}
	if len(preds) == 0 {
		writeError(w, http.StatusNotFound, "No accounts for rep", nil)
		return
	}

	name := preds[0].SalesRepName
	today := h.Clock.Today()
	d := engine.BuildDigest(engine.RepRef{ID: rep, Name: name}, preds, today, today, engine.DigestConfig{
		FollowUpAfterDays: h.Cfg.Digest.FollowUpAfterDays,
		CrossSellAccounts: h.Cfg.Digest.CrossSellAccounts,
		GapsPerAccount:    h.Cfg.Digest.GapsPerAccount,
		LowHealthBelow:    h.Cfg.Digest.LowHealthBelow,
		Bands: engine.PaceBands{
			SeverelyBehindPct: decimal.NewFromFloat(h.Cfg.Digest.SeverelyBehindPct),
			BehindPct:         decimal.NewFromFloat(h.Cfg.Digest.BehindPct),
			AheadPct:          decimal.Zero,
		},
	})
	writeJSON(w, http.StatusOK, d)
}

// =============================================================================
// JOB HANDLERS
// =============================================================================

// GetLatestRun reports the most recent run of a job kind.
func (h *Handler) GetLatestRun(w http.ResponseWriter, r *http.Request) {
	kind := r.URL.Query().Get("kind")
	switch kind {
	case "aggregate", "reminders", "digest":
	default:
		writeError(w, http.StatusBadRequest, "kind must be one of aggregate, reminders, digest", nil)
		return
	}

	rec, err := h.Runs.Latest(r.Context(), kind)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to load run", err)
		return
	}
	if rec == nil {
		writeError(w, http.StatusNotFound, "No runs recorded", nil)
		return
	}
	writeJSON(w, http.StatusOK, toRunDTO(rec))
}

// TriggerAggregate runs the weekly recompute now.
func (h *Handler) TriggerAggregate(w http.ResponseWriter, r *http.Request) {
	h.triggerJob(w, r, "aggregate", h.Jobs.RunAggregate)
}

// TriggerReminders runs the daily reminder pass now.
func (h *Handler) TriggerReminders(w http.ResponseWriter, r *http.Request) {
	h.triggerJob(w, r, "reminders", h.Jobs.RunReminders)
}

// TriggerDigests runs the digest fan-out now.
func (h *Handler) TriggerDigests(w http.ResponseWriter, r *http.Request) {
	h.triggerJob(w, r, "digests", h.Jobs.RunDigests)
}

// triggerJob runs the job synchronously. These are operator endpoints; the
// caller wants to know whether the run succeeded.
func (h *Handler) triggerJob(w http.ResponseWriter, r *http.Request, name string, fn func(context.Context) error) {
	h.Log.Info("manual job trigger", zap.String("job", name))
	if err := fn(r.Context()); err != nil {
		writeError(w, http.StatusInternalServerError, "Job failed", err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "completed", "job": name})
}

// =============================================================================
// HELPERS
// =============================================================================

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string, err error) {
	resp := ErrorResponse{Error: message}
	if err != nil {
		resp.Details = err.Error()
	}
	writeJSON(w, status, resp)
}
