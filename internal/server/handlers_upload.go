package server

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"
)

// maxUploadBytes bounds a single uploaded file.
const maxUploadBytes = 32 << 20

// handleUpload stores a plain file in the shared surface directory. Uploads
// are foreign to the surface listing: anything without the content suffix is
// ignored by List, and an uploaded <name>.html simply becomes that surface's
// backing content (last write wins).
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid multipart form: "+err.Error())
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "file field required")
		return
	}
	defer file.Close()

	filename := filepath.Base(header.Filename)
	if filename == "." || filename == ".." || strings.ContainsAny(filename, "/\\") {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid filename")
		return
	}

	if err := os.MkdirAll(s.store.Dir(), 0755); err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	dst, err := os.Create(filepath.Join(s.store.Dir(), filename))
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}
	defer dst.Close()

	size, err := io.Copy(dst, io.LimitReader(file, maxUploadBytes))
	if err != nil {
		writeError(w, http.StatusInternalServerError, ErrCodeInternalError, err.Error())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"filename": filename,
		"size":     size,
		"url":      fmt.Sprintf("/upload/%s", filename),
	})
}

// handleGetUpload serves a previously uploaded file.
func (s *Server) handleGetUpload(w http.ResponseWriter, r *http.Request) {
	filename := filepath.Base(chi.URLParam(r, "filename"))
	if filename == "." || filename == ".." {
		writeError(w, http.StatusBadRequest, ErrCodeInvalidRequest, "invalid filename")
		return
	}

	path := filepath.Join(s.store.Dir(), filename)
	if _, err := os.Stat(path); err != nil {
		writeError(w, http.StatusNotFound, ErrCodeNotFound, "no such file")
		return
	}
	http.ServeFile(w, r, path)
}
