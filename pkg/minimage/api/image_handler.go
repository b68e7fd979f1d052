package api

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"
	"github.com/tendant/minimage/pkg/minimage"
)

// multipartOverhead is room for multipart framing and small form fields on
// top of the file size limit.
const multipartOverhead = 1 << 20

// AllowedExtensions are the upload extensions accepted at the HTTP boundary
var AllowedExtensions = map[string]bool{
	"png":  true,
	"jpg":  true,
	"jpeg": true,
	"gif":  true,
	"bmp":  true,
	"webp": true,
}

// Config holds the HTTP-facing settings of the image handler
type Config struct {
	UploadPassword         string
	MaxUploadBytes         int64
	DefaultTTLSeconds      int64
	Version                string
	ReaperEnabled          bool
	CleanupIntervalSeconds int
}

// ImageHandler serves the upload, image, delete, health and index endpoints
type ImageHandler struct {
	service minimage.Service
	config  Config
	clock   minimage.Clock
	logger  *slog.Logger
}

// HandlerOption configures an ImageHandler
type HandlerOption func(*ImageHandler)

// WithHandlerClock sets the clock used for Cache-Control lifetimes
func WithHandlerClock(clock minimage.Clock) HandlerOption {
	return func(h *ImageHandler) {
		h.clock = clock
	}
}

// WithHandlerLogger sets the handler logger
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *ImageHandler) {
		h.logger = logger
	}
}

func NewImageHandler(service minimage.Service, config Config, opts ...HandlerOption) *ImageHandler {
	h := &ImageHandler{
		service: service,
		config:  config,
		clock:   time.Now,
		logger:  slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Routes returns the router for all image endpoints
func (h *ImageHandler) Routes() chi.Router {
	r := chi.NewRouter()
	h.RegisterRoutes(r)
	return r
}

// RegisterRoutes mounts the endpoints on r
func (h *ImageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/", h.Index)
	r.Get("/health", h.Health)
	r.Get("/image/{id}", h.GetImage)
	r.Get("/i/{id}", h.GetImage)

	r.Group(func(r chi.Router) {
		r.Use(RequireUploadPassword(h.config.UploadPassword, h.logger))
		r.Post("/upload", h.Upload)
		r.Post("/delete", h.Delete)
	})
}

// UploadResponse is returned by a successful upload
type UploadResponse struct {
	Success   bool   `json:"success"`
	Message   string `json:"message"`
	Filename  string `json:"filename"`
	URL       string `json:"url"`
	Size      int64  `json:"size"`
	ExpiresIn int64  `json:"expires_in"`
}

// DeleteResponse is returned by a successful delete
type DeleteResponse struct {
	Success  bool   `json:"success"`
	Message  string `json:"message"`
	Filename string `json:"filename"`
}

// ErrorResponse is the body of every failed request
type ErrorResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// Upload stores a multipart "file" with an optional "expires_in" in seconds
func (h *ImageHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.config.MaxUploadBytes+multipartOverhead)
	if err := r.ParseMultipartForm(8 << 20); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.badRequest(w, r, fmt.Sprintf("file too large, limit is %d bytes", h.config.MaxUploadBytes))
			return
		}
		h.badRequest(w, r, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, header, err := r.FormFile("file")
	if err != nil {
		h.badRequest(w, r, "no file provided")
		return
	}
	defer file.Close()

	if header.Filename == "" {
		h.badRequest(w, r, "no file selected")
		return
	}

	ext := strings.ToLower(strings.TrimPrefix(filepath.Ext(header.Filename), "."))
	if !AllowedExtensions[ext] {
		h.badRequest(w, r, "file type not allowed")
		return
	}

	if header.Size > h.config.MaxUploadBytes {
		h.badRequest(w, r, fmt.Sprintf("file too large, limit is %d bytes", h.config.MaxUploadBytes))
		return
	}

	ttl := h.config.DefaultTTLSeconds
	if raw := r.FormValue("expires_in"); raw != "" {
		ttl, err = strconv.ParseInt(raw, 10, 64)
		if err != nil || ttl < 0 {
			h.badRequest(w, r, "expires_in must be a non-negative integer")
			return
		}
		if ttl > minimage.MaxTTLSeconds {
			h.badRequest(w, r, fmt.Sprintf("expires_in must be at most %d seconds", minimage.MaxTTLSeconds))
			return
		}
	}

	result, err := h.service.Put(r.Context(), minimage.PutRequest{
		Reader:     file,
		Extension:  ext,
		TTLSeconds: ttl,
	})
	if err != nil {
		h.writeError(w, r, "Failed to store upload", err)
		return
	}

	h.logger.Info("Image uploaded", "id", result.ID, "size", result.Size, "ttl_seconds", result.TTLSeconds)

	render.JSON(w, r, UploadResponse{
		Success:   true,
		Message:   "upload succeeded",
		Filename:  result.ID,
		URL:       "/image/" + result.ID,
		Size:      result.Size,
		ExpiresIn: result.TTLSeconds,
	})
}

// GetImage streams a live image
func (h *ImageHandler) GetImage(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rc, rec, err := h.service.Get(r.Context(), id)
	if err != nil {
		if errors.Is(err, minimage.ErrInvalidArgument) {
			// Malformed ids cannot name an image.
			err = minimage.ErrNotFound
		}
		h.writeError(w, r, "Failed to read image", err)
		return
	}
	defer rc.Close()

	contentType := mime.TypeByExtension("." + minimage.ExtensionOf(id))
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", h.cacheControl(rec))

	if _, err := io.Copy(w, rc); err != nil {
		h.logger.Error("Failed to stream image", "id", id, "error", err)
	}
}

// cacheControl never lets a cache outlive the image
func (h *ImageHandler) cacheControl(rec *minimage.Record) string {
	expiresAt, ok := rec.ExpiresAt()
	if !ok {
		return "public, max-age=86400"
	}
	remaining := int64(expiresAt.Sub(h.clock()) / time.Second)
	if remaining <= 0 {
		return "no-store"
	}
	if remaining > 86400 {
		remaining = 86400
	}
	return fmt.Sprintf("public, max-age=%d", remaining)
}

// Delete removes the image named by form field "filename" (or "id")
func (h *ImageHandler) Delete(w http.ResponseWriter, r *http.Request) {
	id := r.FormValue("filename")
	if id == "" {
		id = r.FormValue("id")
	}
	if id == "" {
		h.badRequest(w, r, "filename is required")
		return
	}

	if err := h.service.Delete(r.Context(), id); err != nil {
		h.writeError(w, r, "Failed to delete image", err)
		return
	}

	h.logger.Info("Image deleted", "id", id)
	render.JSON(w, r, DeleteResponse{Success: true, Message: "deleted", Filename: id})
}

// Health reports liveness
func (h *ImageHandler) Health(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]string{
		"status":  "healthy",
		"message": "minimage is running",
	})
}

// Index describes the service, its settings and counters
func (h *ImageHandler) Index(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, map[string]interface{}{
		"name":    "minimage",
		"version": h.config.Version,
		"features": map[string]interface{}{
			"auto_cleanup":             h.config.ReaperEnabled,
			"file_lifetime_seconds":    h.config.DefaultTTLSeconds,
			"cleanup_interval_seconds": h.config.CleanupIntervalSeconds,
			"max_file_size_mb":         h.config.MaxUploadBytes / (1024 * 1024),
			"allowed_extensions":       []string{"png", "jpg", "jpeg", "gif", "bmp", "webp"},
		},
		"endpoints": map[string]string{
			"upload": "POST /upload",
			"image":  "GET /image/{filename}",
			"delete": "POST /delete",
			"health": "GET /health",
		},
		"stats": h.service.Metrics().Snapshot(),
	})
}

func (h *ImageHandler) badRequest(w http.ResponseWriter, r *http.Request, message string) {
	render.Status(r, http.StatusBadRequest)
	render.JSON(w, r, ErrorResponse{Success: false, Message: message})
}

// writeError maps service errors to status codes
func (h *ImageHandler) writeError(w http.ResponseWriter, r *http.Request, logMsg string, err error) {
	switch {
	case errors.Is(err, minimage.ErrInvalidArgument):
		h.badRequest(w, r, err.Error())
	case errors.Is(err, minimage.ErrNotFound):
		render.Status(r, http.StatusNotFound)
		render.JSON(w, r, ErrorResponse{Success: false, Message: "image not found"})
	default:
		h.logger.Error(logMsg, "error", err)
		render.Status(r, http.StatusInternalServerError)
		render.JSON(w, r, ErrorResponse{Success: false, Message: "internal storage error"})
	}
}
