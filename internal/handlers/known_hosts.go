package handlers

import (
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gluk-w/termgate/internal/logutil"
	"github.com/gluk-w/termgate/internal/sshkeys"
)

// ListKnownHosts returns every host key remembered on first use.
func (s *Server) ListKnownHosts(w http.ResponseWriter, r *http.Request) {
	if s.KnownHosts == nil {
		writeError(w, http.StatusServiceUnavailable, "Host key store not configured")
		return
	}
	hosts, err := s.KnownHosts.List()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to list known hosts")
		return
	}
	if hosts == nil {
		hosts = []sshkeys.KnownHost{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"hosts": hosts})
}

// ForgetKnownHost drops the remembered key for an address ("host:port"), so
// the next connect trusts whatever key the server presents.
func (s *Server) ForgetKnownHost(w http.ResponseWriter, r *http.Request) {
	if s.KnownHosts == nil {
		writeError(w, http.StatusServiceUnavailable, "Host key store not configured")
		return
	}
	address := chi.URLParam(r, "address")
	if err := s.KnownHosts.Forget(address); err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to forget host key")
		return
	}
	log.Printf("[handlers] forgot host key for %s", logutil.SanitizeForLog(address))
	w.WriteHeader(http.StatusNoContent)
}
