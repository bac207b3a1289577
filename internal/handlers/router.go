package handlers

import (
	"github.com/gluk-w/sshdeck/internal/console"
	"github.com/gluk-w/sshdeck/internal/database"
	"github.com/gluk-w/sshdeck/internal/sshaudit"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"
)

// Default terminal input limits, used when the Handler leaves them unset.
const (
	defaultInputRate  = 200
	defaultInputBurst = 200
)

// Handler serves the HTTP and WebSocket API over a console service.
type Handler struct {
	Console  *console.Service
	Store    *database.Store
	Auditor  *sshaudit.Auditor
	Gatherer prometheus.Gatherer

	// InputRate and InputBurst bound terminal input messages per WebSocket.
	InputRate  rate.Limit
	InputBurst int
}

// Routes returns the router for every endpoint.
func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Get("/health", h.HealthCheck)
	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{}))
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/groups", h.ListGroups)
		r.Post("/groups", h.CreateGroup)
		r.Get("/groups/{id}", h.GetGroup)
		r.Put("/groups/{id}", h.UpdateGroup)
		r.Delete("/groups/{id}", h.DeleteGroup)

		r.Get("/servers", h.ListServers)
		r.Post("/servers", h.CreateServer)
		r.Get("/servers/{id}", h.GetServer)
		r.Put("/servers/{id}", h.UpdateServer)
		r.Delete("/servers/{id}", h.DeleteServer)
		r.Post("/servers/{id}/connect", h.Connect)
		r.Post("/servers/{id}/disconnect", h.Disconnect)
		r.Post("/servers/{id}/identities", h.NewIdentity)
		r.Get("/servers/{id}/metrics", h.CachedMetrics)

		r.Get("/connections", h.ListConnections)
		r.Get("/connections/{identity}", h.ConnectionStatus)
		r.Post("/connections/{identity}/exec", h.ExecuteCommand)
		r.Get("/connections/{identity}/metrics", h.LiveMetrics)
		r.Get("/connections/{identity}/terminal", h.TerminalWS)

		r.Get("/proxies", h.ListProxies)
		r.Post("/proxies", h.CreateProxy)
		r.Get("/proxies/{id}", h.GetProxy)
		r.Put("/proxies/{id}", h.UpdateProxy)
		r.Delete("/proxies/{id}", h.DeleteProxy)
		r.Post("/proxies/{id}/toggle", h.ToggleProxy)
		r.Post("/proxies/{id}/test", h.TestProxy)

		r.Get("/export", h.ExportInventory)
		r.Post("/import", h.ImportInventory)

		r.Get("/audit", h.QueryAudit)
		r.Get("/logs", h.GetServerLogs)
		r.Delete("/logs", h.ClearServerLogs)
		r.Post("/keys", h.GenerateKey)

		r.Get("/events", h.EventsWS)
	})

	return r
}

func (h *Handler) inputLimiter() *rate.Limiter {
	limit, burst := h.InputRate, h.InputBurst
	if limit <= 0 {
		limit = defaultInputRate
	}
	if burst <= 0 {
		burst = defaultInputBurst
	}
	return rate.NewLimiter(limit, burst)
}
