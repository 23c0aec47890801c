package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"courier/cmd/internal/auth"
	"courier/cmd/internal/chat"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type errorBody struct {
	Error string `json:"error"`
}

// writeError maps the error taxonomy onto HTTP statuses. Validation and
// not-found translate without altering any state; storage failures abort
// the one operation and tell the caller to retry.
func writeError(w http.ResponseWriter, log *slog.Logger, err error) {
	switch {
	case errors.Is(err, chat.ErrValidation):
		writeJSON(w, http.StatusBadRequest, errorBody{Error: err.Error()})
	case errors.Is(err, chat.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "not found"})
	case errors.Is(err, auth.ErrUnauthorized):
		writeJSON(w, http.StatusUnauthorized, errorBody{Error: "unauthorized"})
	case errors.Is(err, chat.ErrStorageUnavailable):
		log.Error("http.storage.unavailable", "err", err)
		writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "storage unavailable, retry"})
	default:
		log.Error("http.internal", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
