package handler

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/dukerupert/orderlyflow/internal/auth"
	"github.com/dukerupert/orderlyflow/internal/store"
)

type HomeHandler struct {
	homes  *store.HomeStore
	logger *slog.Logger
}

func NewHomeHandler(hs *store.HomeStore, logger *slog.Logger) *HomeHandler {
	return &HomeHandler{homes: hs, logger: logger}
}

func (h *HomeHandler) List(w http.ResponseWriter, r *http.Request) {
	homes, err := h.homes.ListForUser(auth.UserID(r.Context()))
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to list homes")
		return
	}
	writeJSON(w, http.StatusOK, homes)
}

func (h *HomeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name    string  `json:"name" validate:"required,max=200"`
		Address *string `json:"address" validate:"omitempty,max=500"`
	}
	if !decodeJSON(w, r, &req) {
		return
	}
	name := strings.TrimSpace(req.Name)
	if name == "" {
		writeError(w, http.StatusBadRequest, "name is required")
		return
	}

	home, err := h.homes.Create(auth.UserID(r.Context()), name, req.Address)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to create home")
		return
	}
	writeJSON(w, http.StatusCreated, home)
}
