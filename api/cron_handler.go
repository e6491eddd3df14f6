package api

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// sweep runs one sweep synchronously and returns its report. It runs
// regardless of the in-process scheduler's leader lock; store claims keep
// concurrent sweeps from double-processing a job.
func (a *API) sweep(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, a.eng.Sweep(r.Context()))
}

// requireCronSecret guards operator endpoints with the cron bearer token.
func (a *API) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !a.authorizedCron(r) {
			a.writeError(w, http.StatusUnauthorized, "unauthorized")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (a *API) authorizedCron(r *http.Request) bool {
	if a.cronSecret == "" {
		return false
	}
	token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(a.cronSecret)) == 1
}
