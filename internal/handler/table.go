package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/dukerupert/orderlyflow/internal/auth"
	"github.com/dukerupert/orderlyflow/internal/model"
	"github.com/dukerupert/orderlyflow/internal/store"
)

// TableHandler serves row CRUD for the home-scoped entity tables. Every
// operation requires access to the row's home.
type TableHandler struct {
	tables *store.TableStore
	homes  *store.HomeStore
	logger *slog.Logger
}

func NewTableHandler(ts *store.TableStore, hs *store.HomeStore, logger *slog.Logger) *TableHandler {
	return &TableHandler{tables: ts, homes: hs, logger: logger}
}

// table resolves the {table} path value, writing 404 for unknown tables.
func (h *TableHandler) table(w http.ResponseWriter, r *http.Request) (string, bool) {
	t := r.PathValue("table")
	if !store.IsTable(t) {
		writeError(w, http.StatusNotFound, "unknown table")
		return "", false
	}
	return t, true
}

// authorize writes 403 and returns false when the caller cannot access homeID.
func (h *TableHandler) authorize(w http.ResponseWriter, r *http.Request, homeID string) bool {
	ok, err := h.homes.CanAccess(auth.UserID(r.Context()), homeID)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to check home access")
		return false
	}
	if !ok {
		writeError(w, http.StatusForbidden, "no access to home")
		return false
	}
	return true
}

// visibleRow loads table/{id} and checks access to its home. Rows in
// homes the caller cannot access are reported as not found.
func (h *TableHandler) visibleRow(w http.ResponseWriter, r *http.Request, table string) (model.Row, bool) {
	id := r.PathValue("id")
	row, err := h.tables.Get(table, id)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to load row")
		return nil, false
	}
	if row == nil {
		writeError(w, http.StatusNotFound, "row not found")
		return nil, false
	}
	ok, err := h.homes.CanAccess(auth.UserID(r.Context()), row.String("home_id"))
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to check home access")
		return nil, false
	}
	if !ok {
		writeError(w, http.StatusNotFound, "row not found")
		return nil, false
	}
	return row, true
}

func decodeRow(w http.ResponseWriter, r *http.Request) (model.Row, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBody)
	var row model.Row
	if err := json.NewDecoder(r.Body).Decode(&row); err != nil || row == nil {
		writeError(w, http.StatusBadRequest, "invalid JSON object")
		return nil, false
	}
	return row, true
}

func (h *TableHandler) Select(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	homeID := r.URL.Query().Get("home_id")
	if homeID == "" {
		writeError(w, http.StatusBadRequest, "home_id is required")
		return
	}
	if !h.authorize(w, r, homeID) {
		return
	}

	rows, err := h.tables.Select(table, homeID)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to select rows")
		return
	}
	writeJSON(w, http.StatusOK, rows)
}

func (h *TableHandler) Insert(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	data, ok := decodeRow(w, r)
	if !ok {
		return
	}
	homeID := data.String("home_id")
	if homeID == "" {
		writeError(w, http.StatusBadRequest, "home_id is required")
		return
	}
	if !h.authorize(w, r, homeID) {
		return
	}

	row, err := h.tables.Insert(table, data)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to insert row")
		return
	}
	writeJSON(w, http.StatusCreated, row)
}

func (h *TableHandler) Update(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	data, ok := decodeRow(w, r)
	if !ok {
		return
	}
	current, ok := h.visibleRow(w, r, table)
	if !ok {
		return
	}

	row, err := h.tables.Update(table, current.String("id"), data)
	if err != nil {
		writeStoreError(w, h.logger, err, "failed to update row")
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (h *TableHandler) Delete(w http.ResponseWriter, r *http.Request) {
	table, ok := h.table(w, r)
	if !ok {
		return
	}
	current, ok := h.visibleRow(w, r, table)
	if !ok {
		return
	}

	if err := h.tables.Delete(table, current.String("id")); err != nil {
		writeStoreError(w, h.logger, err, "failed to delete row")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
