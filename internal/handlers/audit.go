package handlers

import (
	"net/http"
	"time"

	"github.com/gluk-w/sshdeck/internal/sshaudit"
)

// QueryAudit returns audit entries, newest first.
//
// Query parameters:
//   - server_id, identity, event_type: exact-match filters
//   - since, until: RFC 3339 timestamps
//   - limit (default 50, max 1000), offset
func (h *Handler) QueryAudit(w http.ResponseWriter, r *http.Request) {
	if h.Auditor == nil {
		writeError(w, http.StatusServiceUnavailable, "Audit log not available")
		return
	}

	q := r.URL.Query()
	opts := sshaudit.QueryOptions{
		ServerID:  q.Get("server_id"),
		Identity:  q.Get("identity"),
		EventType: q.Get("event_type"),
		Limit:     queryInt(r, "limit", 0),
		Offset:    queryInt(r, "offset", 0),
	}
	for key, dst := range map[string]**time.Time{"since": &opts.Since, "until": &opts.Until} {
		v := q.Get(key)
		if v == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "Invalid "+key+" timestamp, expected RFC 3339")
			return
		}
		*dst = &t
	}

	result, err := h.Auditor.Query(opts)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to query audit log")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
