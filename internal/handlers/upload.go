package handlers

import (
	"errors"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"

	"github.com/eldtechnologies/courier/internal/api/middleware"
	"github.com/eldtechnologies/courier/internal/crypto"
	"github.com/eldtechnologies/courier/internal/metrics"
)

// ChatImagesDir is the uploads subdirectory for chat images.
const ChatImagesDir = "chat_images"

// allowedImageTypes maps accepted content types to stored extensions.
var allowedImageTypes = map[string]string{
	"image/jpeg": ".jpg",
	"image/png":  ".png",
	"image/gif":  ".gif",
}

// UploadResponse is returned by Upload.
type UploadResponse struct {
	URL string `json:"url"`
}

// Upload stores a single chat image from the multipart field "image" and
// returns a relative URL usable as media_url in a later send.
func (h *Handler) Upload(w http.ResponseWriter, r *http.Request) {
	me, ok := middleware.GetIdentityFromContext(r.Context())
	if !ok {
		h.Error(w, http.StatusUnauthorized, "authentication required")
		return
	}
	log := h.logger.With().Int64("user_id", me.ID).Logger()

	r.Body = http.MaxBytesReader(w, r.Body, h.uploads.MaxBytes+64*1024)
	if err := r.ParseMultipartForm(h.uploads.MaxBytes); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			metrics.Uploads.WithLabelValues("too_large").Inc()
			h.Error(w, http.StatusRequestEntityTooLarge, "file too large")
			return
		}
		metrics.Uploads.WithLabelValues("bad_request").Inc()
		h.Error(w, http.StatusBadRequest, "invalid multipart body")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("image")
	if err != nil {
		metrics.Uploads.WithLabelValues("bad_request").Inc()
		h.Error(w, http.StatusBadRequest, "no file uploaded")
		return
	}
	defer file.Close()

	if header.Size > h.uploads.MaxBytes {
		metrics.Uploads.WithLabelValues("too_large").Inc()
		h.Error(w, http.StatusRequestEntityTooLarge, "file too large")
		return
	}

	mt, err := mimetype.DetectReader(file)
	if err != nil {
		metrics.Uploads.WithLabelValues("bad_request").Inc()
		h.Error(w, http.StatusBadRequest, "unreadable file")
		return
	}
	ext, ok := allowedImageTypes[mt.String()]
	if !ok {
		metrics.Uploads.WithLabelValues("bad_type").Inc()
		h.Error(w, http.StatusUnsupportedMediaType, "invalid file type, only JPEG, PNG and GIF are allowed")
		return
	}
	if _, err := file.Seek(0, io.SeekStart); err != nil {
		h.Error(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	name := crypto.NewFileName(ext)
	if err := h.saveChatImage(name, file); err != nil {
		metrics.Uploads.WithLabelValues("error").Inc()
		log.Error().Err(err).Msg("failed to store chat image")
		h.Error(w, http.StatusInternalServerError, "failed to store file")
		return
	}

	metrics.Uploads.WithLabelValues("ok").Inc()
	log.Info().Str("file", name).Str("mime", mt.String()).Int64("size", header.Size).Msg("chat image uploaded")
	h.JSON(w, http.StatusOK, UploadResponse{URL: path.Join("/uploads", ChatImagesDir, name)})
}

func (h *Handler) saveChatImage(name string, src io.Reader) error {
	dir := filepath.Join(h.uploads.Dir, ChatImagesDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	dst, err := os.OpenFile(filepath.Join(dir, name), os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(dst, src); err != nil {
		dst.Close()
		os.Remove(dst.Name())
		return err
	}
	return dst.Close()
}
