// Package handlers exposes the connection registry, command executor and
// completer over HTTP and a WebSocket request channel.
package handlers

import (
	"net"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"gorm.io/gorm"

	"github.com/gluk-w/termgate/internal/shell"
	"github.com/gluk-w/termgate/internal/sshaudit"
	"github.com/gluk-w/termgate/internal/sshkeys"
	"github.com/gluk-w/termgate/internal/sshproxy"
)

// Server holds everything the handlers need. Registry, Executor and
// Completer are required; the rest may be nil, in which case the endpoints
// that need them answer 503.
type Server struct {
	Registry   *sshproxy.Registry
	Executor   *shell.Executor
	Completer  *shell.Completer
	Auditor    *sshaudit.Auditor
	KnownHosts sshkeys.Store
	DB         *gorm.DB

	// AllowedClients limits which client addresses may use /api/v1.
	AllowedClients []*net.IPNet
	// TrustedProxies are the only peers whose X-Forwarded-For and
	// X-Real-IP headers are honoured.
	TrustedProxies []*net.IPNet
	// AllowedOrigins are host patterns for cross-origin browser pages.
	// Same-origin pages are always allowed.
	AllowedOrigins []string

	// MaxInFlight caps concurrent requests per WebSocket. Zero means
	// defaultMaxInFlight.
	MaxInFlight int
}

const defaultMaxInFlight = 8

// Router builds the chi router serving every endpoint.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(RealIPFrom(s.TrustedProxies))

	r.Get("/health", s.HealthCheck)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(RestrictClients(s.AllowedClients))
		r.Use(CheckOrigin(s.AllowedOrigins))

		r.Get("/servers", s.ListServers)
		r.Route("/servers/{id}", func(r chi.Router) {
			r.Delete("/", s.Disconnect)
			r.Get("/status", s.ServerStatus)
			r.Post("/connect", s.Connect)
			r.Post("/reconnect", s.Reconnect)
			r.Post("/execute", s.Execute)
			r.Post("/complete", s.Complete)
		})

		r.Get("/ws", s.RequestSocket)

		r.Get("/audit", s.GetAuditLogs)
		r.Post("/audit/purge", s.PurgeAuditLogs)

		r.Get("/known-hosts", s.ListKnownHosts)
		r.Delete("/known-hosts/{address}", s.ForgetKnownHost)

		r.Get("/logs", GetServerLogs)
		r.Delete("/logs", ClearServerLogs)
	})

	return r
}
