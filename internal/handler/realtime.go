package handler

import (
	"log/slog"
	"net/http"

	"github.com/dukerupert/orderlyflow/internal/auth"
	"github.com/dukerupert/orderlyflow/internal/realtime"
	"github.com/dukerupert/orderlyflow/internal/store"
)

type RealtimeHandler struct {
	hub    *realtime.Hub
	homes  *store.HomeStore
	logger *slog.Logger
}

func NewRealtimeHandler(hub *realtime.Hub, hs *store.HomeStore, logger *slog.Logger) *RealtimeHandler {
	return &RealtimeHandler{hub: hub, homes: hs, logger: logger}
}

// Subscribe upgrades to a WebSocket carrying the change events of one table
// of one home.
func (h *RealtimeHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	topic := realtime.Topic{Table: q.Get("table"), HomeID: q.Get("home_id")}
	if !store.IsTable(topic.Table) {
		writeError(w, http.StatusBadRequest, "unknown table")
		return
	}
	if topic.HomeID == "" {
		writeError(w, http.StatusBadRequest, "home_id is required")
		return
	}

	userID := auth.UserID(r.Context())
	ok, err := h.homes.CanAccess(userID, topic.HomeID)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to check home access")
		return
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to home")
		return
	}

	realtime.Serve(h.hub, w, r, userID, topic)
}
