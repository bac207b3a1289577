package handlers

import (
	"net/http"

	"github.com/gluk-w/sshdeck/internal/logging"
)

func (h *Handler) GetServerLogs(w http.ResponseWriter, r *http.Request) {
	lines := queryInt(r, "lines", 200)
	if lines == 0 {
		lines = 200
	}

	content, err := logging.ReadTail(lines)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"logs": content})
}

func (h *Handler) ClearServerLogs(w http.ResponseWriter, r *http.Request) {
	if err := logging.Clear(); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
