package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gluk-w/termgate/internal/sshaudit"
)

// GetAuditLogs returns paginated audit log entries.
//
// Query parameters:
//
//	server_id  - filter by server id
//	event_type - filter by event type
//	username   - filter by username
//	since      - RFC3339 timestamp, only entries after this time
//	until      - RFC3339 timestamp, only entries before this time
//	limit      - max entries to return (default 50, max 1000)
//	offset     - pagination offset
func (s *Server) GetAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}

	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		ServerID:  q.Get("server_id"),
		EventType: q.Get("event_type"),
		Username:  q.Get("username"),
	}

	if v := q.Get("since"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid since timestamp (use RFC3339)")
			return
		}
		opts.Since = &t
	}
	if v := q.Get("until"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid until timestamp (use RFC3339)")
			return
		}
		opts.Until = &t
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid limit")
			return
		}
		opts.Limit = n
	}
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "Invalid offset")
			return
		}
		opts.Offset = n
	}

	result, err := s.Auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit logs")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

// PurgeAuditLogs deletes old audit entries now instead of waiting for the
// scheduled job.
//
// Query parameters:
//
//	days - number of days to retain (uses configured default if omitted)
func (s *Server) PurgeAuditLogs(w http.ResponseWriter, r *http.Request) {
	if s.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit system not initialized")
		return
	}

	days := 0
	if v := r.URL.Query().Get("days"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			writeError(w, http.StatusBadRequest, "Invalid days parameter")
			return
		}
		days = n
	}

	deleted, err := s.Auditor.PurgeOlderThan(days)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to purge audit logs")
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{
		"deleted":        deleted,
		"retention_days": s.Auditor.RetentionDays(),
	})
}
