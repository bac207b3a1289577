package handlers

import (
	"io"
	"log"
	"net/http"
)

// maxImportSize bounds uploaded inventory documents.
const maxImportSize = 8 << 20

// ExportInventory returns groups, servers and proxies as YAML. Credentials
// are never exported.
func (h *Handler) ExportInventory(w http.ResponseWriter, r *http.Request) {
	data, err := h.Store.ExportYAML()
	if err != nil {
		writeStoreError(w, err)
		return
	}
	w.Header().Set("Content-Type", "application/yaml")
	w.Header().Set("Content-Disposition", `attachment; filename="sshdeck-inventory.yaml"`)
	w.WriteHeader(http.StatusOK)
	w.Write(data)
}

// ImportInventory loads a YAML inventory from the request body. With
// ?replace=true every existing group, server and proxy is removed first.
func (h *Handler) ImportInventory(w http.ResponseWriter, r *http.Request) {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxImportSize+1))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read body")
		return
	}
	if len(data) > maxImportSize {
		writeError(w, http.StatusRequestEntityTooLarge, "Inventory too large")
		return
	}

	replace := queryBool(r, "replace")
	res, err := h.Store.ImportYAML(data, replace)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	if replace {
		// Stored servers were replaced; open sessions point at stale rows.
		for _, rec := range h.Console.Connections() {
			h.Console.Disconnect(rec.ServerID, rec.ID)
		}
	}
	log.Printf("[api] inventory imported (replace=%v): %d groups, %d servers, %d proxies", replace, res.Groups, res.Servers, res.Proxies)
	writeJSON(w, http.StatusOK, res)
}
