package handlers

import (
	"net/http"

	"github.com/gluk-w/sshdeck/internal/models"
	"github.com/go-chi/chi/v5"
)

// ListGroups returns the group hierarchy with servers attached.
func (h *Handler) ListGroups(w http.ResponseWriter, r *http.Request) {
	tree, err := h.Console.GetAllGroups()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if tree == nil {
		tree = []*models.Group{}
	}
	writeJSON(w, http.StatusOK, tree)
}

func (h *Handler) GetGroup(w http.ResponseWriter, r *http.Request) {
	g, err := h.Store.GetGroup(chi.URLParam(r, "id"))
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, g)
}

func (h *Handler) CreateGroup(w http.ResponseWriter, r *http.Request) {
	var g models.Group
	if err := decodeJSON(r, &g); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	created, err := h.Store.CreateGroup(g)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (h *Handler) UpdateGroup(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	g, err := h.Store.GetGroup(id)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if err := decodeJSON(r, &g); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	g.ID = id
	updated, err := h.Store.UpdateGroup(g)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, updated)
}

// DeleteGroup removes an empty group. ?force=true also removes everything
// below it, disconnecting affected servers first.
func (h *Handler) DeleteGroup(w http.ResponseWriter, r *http.Request) {
	if err := h.Console.RemoveGroup(chi.URLParam(r, "id"), queryBool(r, "force")); err != nil {
		writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
