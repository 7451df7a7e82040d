package api

import (
	"net/http"
	"strconv"

	"github.com/nerrad567/gray-logic-kg/internal/audit"
)

// handleListIntegrations returns paginated integration decisions, newest first.
//
// Query parameters:
//   - device_id: filter by integrated device
//   - outcome: filter by outcome (matched, unmatched, deferred)
//   - limit: max results (default 50, max 200)
//   - offset: pagination offset
func (s *Server) handleListIntegrations(w http.ResponseWriter, r *http.Request) {
	if s.integrations == nil {
		writeUnavailable(w, "integration log not configured")
		return
	}

	q := r.URL.Query()
	filter := audit.Filter{
		DeviceID: q.Get("device_id"),
		Outcome:  q.Get("outcome"),
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			filter.Offset = n
		}
	}

	result, err := s.integrations.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("failed to list integrations", "error", err)
		writeInternalError(w, "failed to list integrations")
		return
	}

	writeJSON(w, http.StatusOK, result)
}
