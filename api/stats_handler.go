package api

import (
	"net/http"
)

// stats reports queue depths and job counts across every owner. It is an
// operator endpoint behind the cron secret.
func (a *API) stats(w http.ResponseWriter, r *http.Request) {
	st, err := a.eng.Stats(r.Context())
	if err != nil {
		a.writeStoreError(w, r, err)
		return
	}
	a.writeJSON(w, http.StatusOK, st)
}

type healthResponse struct {
	Status string `json:"status"`
}

func (a *API) healthz(w http.ResponseWriter, r *http.Request) {
	if err := a.eng.Ping(r.Context()); err != nil {
		a.writeJSON(w, http.StatusServiceUnavailable, healthResponse{Status: err.Error()})
		return
	}
	a.writeJSON(w, http.StatusOK, healthResponse{Status: "ok"})
}
