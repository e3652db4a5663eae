package handler

import (
	"net/http"

	"paintops/internal/auth"
)

type MeHandler struct{}

// Me echoes the actor that bulk actions will be recorded under.
func (h *MeHandler) Me(w http.ResponseWriter, r *http.Request) {
	actor, _ := auth.ActorFromContext(r.Context())
	writeJSON(w, http.StatusOK, map[string]string{"actor_id": actor})
}
