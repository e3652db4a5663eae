package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"paintops/internal/auth"
	"paintops/internal/bulk"
	"paintops/internal/logger"
	"paintops/internal/views"
)

type BulkHandler struct {
	Views *views.Registry
	Ctrl  *bulk.Controller
	Log   *logger.Logger
}

type bulkReq struct {
	Phases []string `json:"phases"`
	IDs    []string `json:"ids"`
	Reason string   `json:"reason"`
}

// Apply runs archive, unarchive or delete on the selected rows of the view
// named by phases.
func (h *BulkHandler) Apply(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())

	var run func(context.Context, bulk.Request) (bulk.Result, error)
	switch chi.URLParam(r, "action") {
	case "archive":
		run = h.Ctrl.Archive
	case "unarchive":
		run = h.Ctrl.Unarchive
	case "delete":
		run = h.Ctrl.Delete
	default:
		http.Error(w, "unknown action", http.StatusNotFound)
		return
	}

	var req bulkReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "bad json", http.StatusBadRequest)
		return
	}
	if len(req.Phases) == 0 {
		http.Error(w, "phases required", http.StatusBadRequest)
		return
	}

	v, err := h.Views.View(req.Phases)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if err := waitReady(r.Context(), v.Ready()); err != nil {
		return
	}
	if v.Failed() {
		writeError(w, h.Log, v.State().Err)
		return
	}

	res, err := run(r.Context(), bulk.Request{
		Actor:     actor,
		Reason:    strings.TrimSpace(req.Reason),
		Rendered:  v.State().Jobs,
		Selection: bulk.NewSelection(req.IDs...),
		Refetch: func(ctx context.Context) error {
			_, err := v.Refetch(ctx, true)
			return err
		},
	})
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}
