package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/aagnone3/toolqueue"
)

type errorResponse struct {
	Error string `json:"error"`
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.logger.Warn("encode response", slog.String("error", err.Error()))
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, errorResponse{Error: msg})
}

// writeStoreError maps toolqueue sentinel errors to HTTP statuses.
// Anything unrecognised is logged and reported as a 500 without detail.
func (a *API) writeStoreError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, toolqueue.ErrJobNotFound):
		a.writeError(w, http.StatusNotFound, "job not found")
	case errors.Is(err, toolqueue.ErrEmptyToolSlug),
		errors.Is(err, toolqueue.ErrUnknownQueue):
		a.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, toolqueue.ErrJobTerminal),
		errors.Is(err, toolqueue.ErrInvalidTransition),
		errors.Is(err, toolqueue.ErrJobAlreadyExists):
		a.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, toolqueue.ErrStoreClosed):
		a.writeError(w, http.StatusServiceUnavailable, "store unavailable")
	default:
		a.logger.Error("request failed",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.String("error", err.Error()),
		)
		a.writeError(w, http.StatusInternalServerError, "internal error")
	}
}
