package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/gluk-w/sshdeck/internal/crypto"
	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/models"
	"github.com/go-chi/chi/v5"
)

// proxyTestTimeout bounds a single proxy test negotiation.
const proxyTestTimeout = 10 * time.Second

func maskProxy(p models.Proxy) models.Proxy {
	p.Password = crypto.Mask(p.Password)
	return p
}

// ListProxies returns every proxy, or those matching ?q=.
func (h *Handler) ListProxies(w http.ResponseWriter, r *http.Request) {
	var (
		list []models.Proxy
		err  error
	)
	if q := r.URL.Query().Get("q"); q != "" {
		list, err = h.Store.SearchProxies(q)
	} else {
		list, err = h.Store.ListProxies()
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	out := make([]models.Proxy, 0, len(list))
	for _, p := range list {
		out = append(out, maskProxy(p))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) GetProxy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProxy(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskProxy(p))
}

func (h *Handler) CreateProxy(w http.ResponseWriter, r *http.Request) {
	p := models.Proxy{Enabled: true}
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.Store.CreateProxy(p)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.Printf("[api] proxy created: %s (%s %s)", logutil.SanitizeForLog(created.Name), created.Type, created.Addr())
	writeJSON(w, http.StatusCreated, maskProxy(created))
}

func (h *Handler) UpdateProxy(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.Store.GetProxy(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	p := existing
	if err := decodeJSON(r, &p); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	p.ID = id
	if p.Password != "" && p.Password == crypto.Mask(existing.Password) {
		p.Password = existing.Password
	}
	updated, err := h.Store.UpdateProxy(p)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskProxy(updated))
}

func (h *Handler) DeleteProxy(w http.ResponseWriter, r *http.Request) {
	if err := h.Store.DeleteProxy(chi.URLParam(r, "id")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) ToggleProxy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.ToggleProxy(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskProxy(p))
}

type proxyTestRequest struct {
	Host string `json:"host"`
	Port int    `json:"port"`
}

// TestProxy negotiates a tunnel through the proxy to the requested target
// and closes it. Negotiation failures are reported in the body with 200.
func (h *Handler) TestProxy(w http.ResponseWriter, r *http.Request) {
	p, err := h.Store.GetProxy(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	var req proxyTestRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	req.Host = strings.TrimSpace(req.Host)
	if req.Host == "" {
		writeError(w, http.StatusBadRequest, "host is required")
		return
	}
	if req.Port == 0 {
		req.Port = 22
	}
	if req.Port < 0 || req.Port > 65535 {
		writeError(w, http.StatusBadRequest, "port out of range")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), proxyTestTimeout)
	defer cancel()
	start := time.Now()
	if err := h.Console.TestProxy(ctx, p, req.Host, req.Port); err != nil {
		log.Printf("[api] proxy test %s -> %s:%d failed: %v", logutil.SanitizeForLog(p.Name), logutil.SanitizeForLog(req.Host), req.Port, err)
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success":    true,
		"latency_ms": time.Since(start).Milliseconds(),
	})
}
