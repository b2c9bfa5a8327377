package handlers

import (
	"net/http"
)

func (s *Server) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if s.DB != nil {
		sqlDB, err := s.DB.DB()
		if err == nil {
			if err := sqlDB.Ping(); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	if dbStatus != "connected" {
		status = "unhealthy"
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":      status,
		"database":    dbStatus,
		"connections": len(s.Registry.List()),
	})
}
