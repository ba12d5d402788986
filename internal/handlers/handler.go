package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/eldtechnologies/courier/internal/hub"
	"github.com/eldtechnologies/courier/internal/store"
)

// UploadConfig controls where chat images are written.
type UploadConfig struct {
	Dir      string // root served under /uploads/
	MaxBytes int64
}

// Handler contains shared dependencies for all HTTP handlers.
type Handler struct {
	store    store.DataStore
	redis    *store.RedisStore
	registry *hub.Registry
	uploads  UploadConfig
	logger   zerolog.Logger
}

// NewHandler creates a new Handler. redis may be nil.
func NewHandler(ds store.DataStore, redis *store.RedisStore, registry *hub.Registry, uploads UploadConfig, logger zerolog.Logger) *Handler {
	return &Handler{store: ds, redis: redis, registry: registry, uploads: uploads, logger: logger}
}

// JSON sends a JSON response with the given status code.
func (h *Handler) JSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// Error sends a JSON error response with the given status code.
func (h *Handler) Error(w http.ResponseWriter, status int, message string) {
	h.JSON(w, status, map[string]string{"error": message})
}
