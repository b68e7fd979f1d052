package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"

	"github.com/go-chi/render"
)

const (
	// UploadPasswordHeader carries the shared secret for upload and delete
	UploadPasswordHeader = "X-Upload-Password"
	// UploadTokenHeader is the older name of UploadPasswordHeader, still accepted
	UploadTokenHeader = "X-Upload-Token"
)

// RequireUploadPassword rejects requests whose password header does not
// match secret with 401. A nil logger falls back to slog.Default.
func RequireUploadPassword(secret string, logger *slog.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			presented := r.Header.Get(UploadPasswordHeader)
			if presented == "" {
				presented = r.Header.Get(UploadTokenHeader)
			}

			if secret == "" || subtle.ConstantTimeCompare([]byte(presented), []byte(secret)) != 1 {
				logger.Warn("Rejected request with bad upload password", "path", r.URL.Path, "remote_addr", r.RemoteAddr)
				render.Status(r, http.StatusUnauthorized)
				render.JSON(w, r, ErrorResponse{Success: false, Message: "invalid upload password"})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
