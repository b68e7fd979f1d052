package api

import (
	"bytes"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequireUploadPassword(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	tests := []struct {
		name     string
		secret   string
		headers  map[string]string
		wantCode int
	}{
		{"match", "pw", map[string]string{UploadPasswordHeader: "pw"}, http.StatusNoContent},
		{"legacy header", "pw", map[string]string{UploadTokenHeader: "pw"}, http.StatusNoContent},
		{"primary header wins", "pw", map[string]string{UploadPasswordHeader: "bad", UploadTokenHeader: "pw"}, http.StatusUnauthorized},
		{"mismatch", "pw", map[string]string{UploadPasswordHeader: "pwx"}, http.StatusUnauthorized},
		{"missing", "pw", nil, http.StatusUnauthorized},
		{"empty secret rejects all", "", map[string]string{UploadPasswordHeader: ""}, http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/upload", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			RequireUploadPassword(tt.secret, nil)(ok).ServeHTTP(w, req)
			assert.Equal(t, tt.wantCode, w.Code)
		})
	}
}

func TestRequireUploadPassword_LogsToGivenLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})

	req := httptest.NewRequest(http.MethodPost, "/delete", nil)
	req.Header.Set(UploadPasswordHeader, "wrong")
	w := httptest.NewRecorder()
	RequireUploadPassword("pw", logger)(ok).ServeHTTP(w, req)

	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Contains(t, buf.String(), "Rejected request with bad upload password")
	assert.Contains(t, buf.String(), "path=/delete")
}
