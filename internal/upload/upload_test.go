package upload

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

func newTestHandler(t *testing.T, maxBytes int64) *Handler {
	t.Helper()

	h, err := NewHandler(zerolog.Nop(), t.TempDir(), "/files/", maxBytes)
	require.NoError(t, err)
	return h
}

func multipartBody(t *testing.T, filename, contentType, content string) (*bytes.Buffer, string) {
	t.Helper()

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)

	hdr := make(map[string][]string)
	hdr["Content-Disposition"] = []string{`form-data; name="file"; filename="` + filename + `"`}
	if contentType != "" {
		hdr["Content-Type"] = []string{contentType}
	}

	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = io.WriteString(part, content)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	return &buf, mw.FormDataContentType()
}

func TestUploadRoundTrip(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	body, contentType := multipartBody(t, "cat.png", "image/png", "not really a png")

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Equal(t, "cat.png", result.Name)
	require.Equal(t, "image/png", result.Mime)
	require.True(t, strings.HasPrefix(result.URL, "/files/"))
	require.True(t, strings.HasSuffix(result.URL, "-cat.png"))

	// The stored blob is fetchable through the file server.
	fetch := httptest.NewRequest(http.MethodGet, result.URL, nil)
	fetchRec := httptest.NewRecorder()
	h.FileServer().ServeHTTP(fetchRec, fetch)

	require.Equal(t, http.StatusOK, fetchRec.Code)
	require.Equal(t, "not really a png", fetchRec.Body.String())
}

func TestUploadStripsPathFromFilename(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	body, contentType := multipartBody(t, "../../etc/passwd", "", "x")

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var result Result
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&result))
	require.Equal(t, "passwd", result.Name)
	require.NotContains(t, result.URL, "..")
	require.Equal(t, "application/octet-stream", result.Mime)
}

func TestUploadRejectsOversize(t *testing.T) {
	h := newTestHandler(t, 16)

	body, contentType := multipartBody(t, "big.bin", "", strings.Repeat("a", 1024))

	req := httptest.NewRequest(http.MethodPost, "/upload", body)
	req.Header.Set("Content-Type", contentType)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestUploadRejectsNonPost(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	req := httptest.NewRequest(http.MethodGet, "/upload", nil)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestUploadRejectsMissingFileField(t *testing.T) {
	h := newTestHandler(t, 1<<20)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	require.NoError(t, mw.WriteField("other", "value"))
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/upload", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	require.Equal(t, http.StatusBadRequest, rec.Code)
}
