package handler

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"paintops/internal/jobs"
	"paintops/internal/logger"
	"paintops/internal/views"
)

type JobsHandler struct {
	Views *views.Registry
	Log   *logger.Logger
}

type viewDTO struct {
	Phases  []string   `json:"phases"`
	Jobs    []jobs.Job `json:"jobs"`
	Loading bool       `json:"loading"`
	Error   string     `json:"error,omitempty"`
}

func toViewDTO(st views.State) viewDTO {
	list := st.Jobs
	if list == nil {
		list = []jobs.Job{}
	}
	return viewDTO{Phases: st.Labels, Jobs: list, Loading: st.Loading, Error: errString(st.Err)}
}

// mount returns the ready view for the ?phase= labels of r.
func (h *JobsHandler) mount(w http.ResponseWriter, r *http.Request) (*views.PhaseView, bool) {
	labels := r.URL.Query()["phase"]
	if len(labels) == 0 {
		http.Error(w, "phase required", http.StatusBadRequest)
		return nil, false
	}
	v, err := h.Views.View(labels)
	if err != nil {
		writeError(w, h.Log, err)
		return nil, false
	}
	if err := waitReady(r.Context(), v.Ready()); err != nil {
		return nil, false
	}
	if v.Failed() {
		writeError(w, h.Log, v.State().Err)
		return nil, false
	}
	return v, true
}

func (h *JobsHandler) List(w http.ResponseWriter, r *http.Request) {
	v, ok := h.mount(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, toViewDTO(v.State()))
}

type refetchReq struct {
	Force bool `json:"force"`
}

func (h *JobsHandler) Refetch(w http.ResponseWriter, r *http.Request) {
	var req refetchReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "bad json", http.StatusBadRequest)
			return
		}
	}
	v, ok := h.mount(w, r)
	if !ok {
		return
	}
	ran, err := v.Refetch(r.Context(), req.Force)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"refetched": ran,
		"view":      toViewDTO(v.State()),
	})
}

// Stream pushes the view over server-sent events: one snapshot on connect
// and one after every change.
func (h *JobsHandler) Stream(w http.ResponseWriter, r *http.Request) {
	v, ok := h.mount(w, r)
	if !ok {
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	updates, stop := v.Updates()
	defer stop()

	send := func() {
		raw, err := json.Marshal(toViewDTO(v.State()))
		if err != nil {
			h.Log.Warn("failed to marshal view snapshot", "error", err)
			return
		}
		_, _ = fmt.Fprintf(w, "event: view\n")
		_, _ = fmt.Fprintf(w, "data: %s\n\n", raw)
		flusher.Flush()
	}
	send()

	heartbeat := time.NewTicker(15 * time.Second)
	defer heartbeat.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			_, _ = fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()
		case <-updates:
			send()
		}
	}
}
