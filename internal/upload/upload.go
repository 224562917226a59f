// Package upload implements the file-transfer boundary: clients POST a blob
// here and get back a fetchable URL plus display name, which they then pass
// to their partner in a file-message. Matchmaking state is never involved.
package upload

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Result is the JSON response for a stored blob.
type Result struct {
	URL  string `json:"url"`
	Name string `json:"name"`
	Mime string `json:"mime"`
}

// Handler accepts multipart uploads and stores them under a local
// directory. Files are served back under BaseURL by a plain file server.
type Handler struct {
	log      zerolog.Logger
	dir      string
	baseURL  string
	maxBytes int64
}

// NewHandler creates an upload handler. baseURL is the public path prefix
// the stored files are served from, e.g. "/files/".
func NewHandler(log zerolog.Logger, dir, baseURL string, maxBytes int64) (*Handler, error) {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("failed to create upload dir: %w", err)
	}
	return &Handler{
		log:      log.With().Str("component", "upload").Logger(),
		dir:      dir,
		baseURL:  baseURL,
		maxBytes: maxBytes,
	}, nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, h.maxBytes)

	file, header, err := r.FormFile("file")
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		http.Error(w, "missing file field", http.StatusBadRequest)
		return
	}
	defer func() { _ = file.Close() }()

	// Stored name is uuid-prefixed so uploads never collide and the
	// original name cannot traverse out of the upload dir.
	name := filepath.Base(header.Filename)
	stored := uuid.NewString() + "-" + name

	dst, err := os.Create(filepath.Join(h.dir, stored))
	if err != nil {
		h.log.Error().Err(err).Msg("failed to create upload file")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}
	defer func() { _ = dst.Close() }()

	if _, err := io.Copy(dst, file); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			http.Error(w, "file too large", http.StatusRequestEntityTooLarge)
			return
		}
		h.log.Error().Err(err).Msg("failed to write upload file")
		http.Error(w, "storage failure", http.StatusInternalServerError)
		return
	}

	mime := header.Header.Get("Content-Type")
	if mime == "" {
		mime = "application/octet-stream"
	}

	result := Result{
		URL:  h.baseURL + stored,
		Name: name,
		Mime: mime,
	}

	h.log.Info().Str("name", name).Str("url", result.URL).Msg("file uploaded")

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// FileServer returns a handler that serves previously uploaded files.
func (h *Handler) FileServer() http.Handler {
	return http.StripPrefix(h.baseURL, http.FileServer(http.Dir(h.dir)))
}
