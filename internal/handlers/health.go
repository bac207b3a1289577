package handlers

import (
	"net/http"
)

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	dbStatus := "disconnected"
	if h.Store != nil {
		sqlDB, err := h.Store.DB().DB()
		if err == nil {
			if err := sqlDB.PingContext(r.Context()); err == nil {
				dbStatus = "connected"
			}
		}
	}

	status := "healthy"
	code := http.StatusOK
	if dbStatus != "connected" {
		status = "unhealthy"
		code = http.StatusServiceUnavailable
	}

	connections := 0
	if h.Console != nil {
		connections = len(h.Console.Connections())
	}

	writeJSON(w, code, map[string]interface{}{
		"status":      status,
		"database":    dbStatus,
		"connections": connections,
	})
}
