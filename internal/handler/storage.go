package handler

import (
	"errors"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/dukerupert/orderlyflow/internal/auth"
	"github.com/dukerupert/orderlyflow/internal/storage"
)

// imageTypes are the upload types browsers render as inert images.
var imageTypes = map[string]bool{
	"image/png":  true,
	"image/jpeg": true,
	"image/webp": true,
	"image/gif":  true,
}

// StorageHandler uploads and serves public objects. Users may only write
// under avatars/<their user id>/.
type StorageHandler struct {
	objects  storage.Store
	maxBytes int64
	logger   *slog.Logger
}

func NewStorageHandler(objects storage.Store, maxBytes int64, logger *slog.Logger) *StorageHandler {
	return &StorageHandler{objects: objects, maxBytes: maxBytes, logger: logger}
}

func (h *StorageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanKey(r.PathValue("path"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if !strings.HasPrefix(key, "avatars/"+auth.UserID(r.Context())+"/") {
		writeError(w, http.StatusForbidden, "uploads are limited to your own avatar folder")
		return
	}

	contentType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || !imageTypes[contentType] {
		writeError(w, http.StatusUnsupportedMediaType, "only png, jpeg, webp and gif uploads are accepted")
		return
	}

	body := http.MaxBytesReader(w, r.Body, h.maxBytes)
	if err := h.objects.Put(r.Context(), key, contentType, body); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "upload too large")
			return
		}
		h.logger.Error("store object", "key", key, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to store object")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"key": key})
}

// Public serves avatar objects without authentication. Other prefixes,
// such as database backups, are never public.
func (h *StorageHandler) Public(w http.ResponseWriter, r *http.Request) {
	key, err := storage.CleanKey(r.PathValue("path"))
	if err != nil || !strings.HasPrefix(key, "avatars/") {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	obj, err := h.objects.Get(r.Context(), key)
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		h.logger.Error("load object", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to load object")
		return
	}
	defer obj.Body.Close()

	if obj.ContentType != "" {
		w.Header().Set("Content-Type", obj.ContentType)
	}
	if obj.Size > 0 {
		w.Header().Set("Content-Length", strconv.FormatInt(obj.Size, 10))
	}
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	io.Copy(w, obj.Body)
}
