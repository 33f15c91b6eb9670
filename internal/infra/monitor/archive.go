package monitor

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"essim_battery/internal/domain"
)

// RunArchive is the read and delete side of the run archive.
type RunArchive interface {
	ListRuns(simulationID string) ([]domain.RunRecord, error)
	GetRun(id uint) (*domain.RunRecord, error)
	GetSteps(runID uint) ([]domain.StepRecord, error)
	DeleteRun(id uint) error
}

// SetArchive exposes archived runs under /runs. Call before Handler.
func (h *Hub) SetArchive(a RunArchive) {
	h.archive = a
}

func (h *Hub) serveRuns(w http.ResponseWriter, r *http.Request) {
	sim := r.URL.Query().Get("simulation")
	if sim == "" {
		http.Error(w, "simulation query parameter required", http.StatusBadRequest)
		return
	}
	runs, err := h.archive.ListRuns(sim)
	if err != nil {
		archiveError(w, "list runs", err)
		return
	}
	if runs == nil {
		runs = []domain.RunRecord{}
	}
	writeJSON(w, runs)
}

func (h *Hub) serveRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.archive.GetRun(id)
	if err != nil {
		archiveError(w, "get run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}
	writeJSON(w, run)
}

func (h *Hub) serveRunSteps(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.archive.GetRun(id)
	if err != nil {
		archiveError(w, "get run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}
	steps, err := h.archive.GetSteps(id)
	if err != nil {
		archiveError(w, "get steps", err)
		return
	}
	if steps == nil {
		steps = []domain.StepRecord{}
	}
	writeJSON(w, steps)
}

func (h *Hub) deleteRun(w http.ResponseWriter, r *http.Request) {
	id, ok := runID(w, r)
	if !ok {
		return
	}
	run, err := h.archive.GetRun(id)
	if err != nil {
		archiveError(w, "get run", err)
		return
	}
	if run == nil {
		http.NotFound(w, r)
		return
	}
	if err := h.archive.DeleteRun(id); err != nil {
		archiveError(w, "delete run", err)
		return
	}
	slog.Info("Archived run deleted", slog.Uint64("run", uint64(id)))
	w.WriteHeader(http.StatusNoContent)
}

func runID(w http.ResponseWriter, r *http.Request) (uint, bool) {
	id, err := strconv.ParseUint(r.PathValue("id"), 10, 32)
	if err != nil || id == 0 {
		http.Error(w, "invalid run id", http.StatusBadRequest)
		return 0, false
	}
	return uint(id), true
}

func archiveError(w http.ResponseWriter, op string, err error) {
	slog.Error("Run archive query failed", slog.String("op", op), slog.Any("error", err))
	http.Error(w, "archive unavailable", http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
