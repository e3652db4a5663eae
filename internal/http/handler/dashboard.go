package handler

import (
	"net/http"

	"paintops/internal/jobs"
	"paintops/internal/logger"
	"paintops/internal/store"
	"paintops/internal/views"
)

type DashboardHandler struct {
	Views *views.Registry
	Log   *logger.Logger
}

type dashboardDTO struct {
	JobRequests []jobs.Job `json:"job_requests"`
	WorkOrders  []jobs.Job `json:"work_orders"`
	Invoicing   []jobs.Job `json:"invoicing"`
	Today       []jobs.Job `json:"today"`
	Loading     bool       `json:"loading"`
	Error       string     `json:"error,omitempty"`
}

func nonNil(list []jobs.Job) []jobs.Job {
	if list == nil {
		return []jobs.Job{}
	}
	return list
}

func (h *DashboardHandler) dashboard(w http.ResponseWriter, r *http.Request) (*views.Dashboard, bool) {
	d, err := h.Views.Dashboard()
	if err != nil {
		writeError(w, h.Log, err)
		return nil, false
	}
	if err := waitReady(r.Context(), d.Ready()); err != nil {
		return nil, false
	}
	return d, true
}

func (h *DashboardHandler) write(w http.ResponseWriter, st views.DashboardState) {
	writeJSON(w, http.StatusOK, dashboardDTO{
		JobRequests: nonNil(st.JobRequests),
		WorkOrders:  nonNil(st.WorkOrders),
		Invoicing:   nonNil(st.Invoicing),
		Today:       nonNil(st.Today),
		Loading:     st.Loading,
		Error:       errString(st.Err),
	})
}

func (h *DashboardHandler) Get(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	h.write(w, d.State())
}

func (h *DashboardHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	d, ok := h.dashboard(w, r)
	if !ok {
		return
	}
	if err := d.Refresh(r.Context()); err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.write(w, d.State())
}

type PhasesHandler struct {
	Store store.Store
	Log   *logger.Logger
}

func (h *PhasesHandler) List(w http.ResponseWriter, r *http.Request) {
	all, err := h.Store.ListPhases(r.Context())
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	if all == nil {
		all = []jobs.Phase{}
	}
	writeJSON(w, http.StatusOK, all)
}
