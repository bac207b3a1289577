package handlers

import (
	"errors"
	"log"
	"math"
	"net/http"
	"strconv"
	"strings"

	"github.com/gluk-w/sshdeck/internal/console"
	"github.com/gluk-w/sshdeck/internal/database"
	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/sshaudit"
	"github.com/gluk-w/sshdeck/internal/sshmanager"
	"github.com/go-chi/chi/v5"
)

type connectRequest struct {
	// Identity names the terminal. Empty means the server's default terminal.
	Identity string `json:"identity"`
	// NewTerminal asks for a fresh identity next to any existing ones.
	NewTerminal bool `json:"new_terminal"`
}

type connectResponse struct {
	Success  bool   `json:"success"`
	Identity string `json:"identity"`
	Error    string `json:"error,omitempty"`
}

// Connect opens an SSH session for the server. Connection failures are
// reported in the body with 200; an unknown server is a 404 and a throttled
// attempt a 429.
func (h *Handler) Connect(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	var req connectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	identity := strings.TrimSpace(req.Identity)
	if req.NewTerminal {
		identity = h.Console.NewIdentity(serverID)
	}
	if identity == "" {
		identity = serverID
	}

	log.Printf("[api] connect %s as %s from %s", serverID, logutil.SanitizeForLog(identity), sshaudit.ExtractSourceIP(r))
	ok, err := h.Console.Connect(r.Context(), serverID, identity)
	if errors.Is(err, database.ErrNotFound) {
		writeError(w, http.StatusNotFound, "Server not found")
		return
	}
	var limited *console.RateLimitedError
	if errors.As(err, &limited) {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(limited.RetryAfter.Seconds()))))
		writeError(w, http.StatusTooManyRequests, err.Error())
		return
	}
	resp := connectResponse{Success: ok, Identity: identity}
	if err != nil {
		resp.Error = err.Error()
	}
	writeJSON(w, http.StatusOK, resp)
}

type disconnectRequest struct {
	Identity string `json:"identity"`
}

// Disconnect closes one identity, or every identity of the server when
// ?all=true.
func (h *Handler) Disconnect(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	var req disconnectRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	closed := 0
	if queryBool(r, "all") {
		for _, rec := range h.Console.Connections() {
			if rec.ServerID == serverID && h.Console.Disconnect(serverID, rec.ID) {
				closed++
			}
		}
	} else if h.Console.Disconnect(serverID, req.Identity) {
		closed = 1
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"closed":  closed,
	})
}

// NewIdentity allocates an identity for an additional terminal without
// connecting it.
func (h *Handler) NewIdentity(w http.ResponseWriter, r *http.Request) {
	serverID := chi.URLParam(r, "id")
	if _, err := h.Store.GetServer(serverID); err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"identity": h.Console.NewIdentity(serverID)})
}

func (h *Handler) ListConnections(w http.ResponseWriter, r *http.Request) {
	records := h.Console.Connections()
	if records == nil {
		records = []sshmanager.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *Handler) ConnectionStatus(w http.ResponseWriter, r *http.Request) {
	rec, ok := h.Console.Status(chi.URLParam(r, "identity"))
	if !ok {
		writeError(w, http.StatusNotFound, "Connection not found")
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type execRequest struct {
	Command string `json:"command"`
}

// ExecuteCommand runs one command on the identity's connection. The result
// is returned as-is; a missing connection shows up in its error field.
func (h *Handler) ExecuteCommand(w http.ResponseWriter, r *http.Request) {
	var req execRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command is required")
		return
	}
	res := h.Console.ExecuteCommand(r.Context(), chi.URLParam(r, "identity"), req.Command)
	writeJSON(w, http.StatusOK, res)
}

// LiveMetrics samples the host behind the identity now.
func (h *Handler) LiveMetrics(w http.ResponseWriter, r *http.Request) {
	sample, err := h.Console.Sample(r.Context(), chi.URLParam(r, "identity"))
	if err != nil {
		if errors.Is(err, sshmanager.ErrNotConnected) {
			writeError(w, http.StatusConflict, sshmanager.ErrNotConnected.Error())
			return
		}
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, sample)
}

// CachedMetrics returns the last sample collected for the server.
func (h *Handler) CachedMetrics(w http.ResponseWriter, r *http.Request) {
	sample, ok := h.Console.CachedSample(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "No metrics collected")
		return
	}
	writeJSON(w, http.StatusOK, sample)
}
