package handler

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"paintops/internal/jobs"
	"paintops/internal/logger"
	"paintops/internal/store"
)

type HistoryHandler struct {
	Store store.Store
	Log   *logger.Logger
}

type phaseChangeDTO struct {
	ID        string    `json:"id"`
	JobID     string    `json:"job_id"`
	From      phaseDTO  `json:"from"`
	To        phaseDTO  `json:"to"`
	ChangedBy string    `json:"changed_by"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

type phaseDTO struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Color string `json:"color"`
}

// Timeline lists the phase transitions of a job, newest first. History
// outlives the job, so a deleted job still has one.
func (h *HistoryHandler) Timeline(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if _, err := uuid.Parse(id); err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	changes, err := h.Store.ListPhaseChanges(r.Context(), id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	all, err := h.Store.ListPhases(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	byID := make(map[string]jobs.Phase, len(all))
	for _, p := range all {
		byID[p.ID] = p
	}
	label := func(id string) phaseDTO {
		p := byID[id]
		return phaseDTO{ID: id, Label: p.Label, Color: p.Color}
	}

	out := make([]phaseChangeDTO, 0, len(changes))
	for _, c := range changes {
		out = append(out, phaseChangeDTO{
			ID:        c.ID,
			JobID:     c.JobID,
			From:      label(c.FromPhaseID),
			To:        label(c.ToPhaseID),
			ChangedBy: c.ChangedBy,
			Reason:    c.Reason,
			CreatedAt: c.CreatedAt,
		})
	}
	writeJSON(w, http.StatusOK, out)
}
