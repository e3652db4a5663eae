package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"

	"paintops/internal/bulk"
	"paintops/internal/logger"
	"paintops/internal/phases"
	"paintops/internal/store"
)

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps domain errors to status codes. Anything unrecognised is a
// 500 and gets logged.
func writeError(w http.ResponseWriter, log *logger.Logger, err error) {
	switch {
	case errors.Is(err, bulk.ErrPrecondition), errors.Is(err, bulk.ErrEmptySelection):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, store.ErrConflict):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, phases.ErrNotFound), errors.Is(err, store.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, context.Canceled):
		// client went away
	default:
		log.Error("request failed", "error", err)
		http.Error(w, "server error", http.StatusInternalServerError)
	}
}

func waitReady(ctx context.Context, ready <-chan struct{}) error {
	select {
	case <-ready:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
