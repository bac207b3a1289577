package handlers

import (
	"log"
	"net/http"

	"github.com/gluk-w/sshdeck/internal/crypto"
	"github.com/gluk-w/sshdeck/internal/logutil"
	"github.com/gluk-w/sshdeck/internal/models"
	"github.com/go-chi/chi/v5"
)

// maskServer hides credentials in API responses. Clients echo the masked
// values back unchanged to keep the stored ones.
func maskServer(srv models.Server) models.Server {
	srv.Password = crypto.Mask(srv.Password)
	srv.PrivateKey = crypto.Mask(srv.PrivateKey)
	return srv
}

func maskServers(list []models.Server) []models.Server {
	out := make([]models.Server, 0, len(list))
	for _, srv := range list {
		out = append(out, maskServer(srv))
	}
	return out
}

// ListServers returns every server. ?q= searches name and host, ?group_id=
// restricts the list to one group.
func (h *Handler) ListServers(w http.ResponseWriter, r *http.Request) {
	var (
		list []models.Server
		err  error
	)
	switch {
	case r.URL.Query().Get("q") != "":
		list, err = h.Store.SearchServers(r.URL.Query().Get("q"))
	case r.URL.Query().Get("group_id") != "":
		list, err = h.Store.ListServersByGroup(r.URL.Query().Get("group_id"))
	default:
		list, err = h.Store.ListServers()
	}
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskServers(list))
}

func (h *Handler) GetServer(w http.ResponseWriter, r *http.Request) {
	srv, err := h.Store.GetServer(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskServer(srv))
}

func (h *Handler) CreateServer(w http.ResponseWriter, r *http.Request) {
	var srv models.Server
	if err := decodeJSON(r, &srv); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	srv.ID = ""
	created, err := h.Store.CreateServer(srv)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	log.Printf("[api] server created: %s (%s)", logutil.SanitizeForLog(created.Name), created.ID)
	writeJSON(w, http.StatusCreated, maskServer(created))
}

// UpdateServer applies the request body on top of the stored server, so
// omitted fields keep their values.
func (h *Handler) UpdateServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	existing, err := h.Store.GetServer(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}

	srv := existing
	if err := decodeJSON(r, &srv); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	srv.ID = id
	if srv.Password != "" && srv.Password == crypto.Mask(existing.Password) {
		srv.Password = existing.Password
	}
	if srv.PrivateKey != "" && srv.PrivateKey == crypto.Mask(existing.PrivateKey) {
		srv.PrivateKey = existing.PrivateKey
	}

	updated, err := h.Store.UpdateServer(srv)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, maskServer(updated))
}

// DeleteServer disconnects every terminal of the server before removing it.
func (h *Handler) DeleteServer(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := h.Console.RemoveServer(id); err != nil {
		writeStoreError(w, err)
		return
	}
	log.Printf("[api] server deleted: %s", id)
	w.WriteHeader(http.StatusNoContent)
}
