package api

import (
	"net/http"

	"github.com/danielbchen/raker/internal/store"
)

type AdminHandler struct {
	store store.Store
}

func NewAdminHandler(s store.Store) *AdminHandler {
	return &AdminHandler{store: s}
}

func (h *AdminHandler) Stats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
