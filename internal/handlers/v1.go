package handlers

import (
	"bufio"
	"context"
	"encoding/json"
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

	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/jonno85/videovault-chunkstore/internal/service"
)

type ProcessRequest struct {
	Path      string `json:"path"`
	Owner     string `json:"owner,omitempty"`
	ChunkSize int64  `json:"chunk_size,omitempty"`
}

type URLUploadRequest struct {
	URL       string `json:"url"`
	Filename  string `json:"filename,omitempty"`
	Owner     string `json:"owner"`
	ChunkSize int64  `json:"chunk_size,omitempty"`
}

type FileListResponse struct {
	Owner string            `json:"owner"`
	Files []domain.Manifest `json:"files"`
}

type HistoryExport struct {
	Owner      string            `json:"owner"`
	Files      []domain.Manifest `json:"files"`
	ExportDate time.Time         `json:"export_date"`
}

type V1Handler struct {
	Uploader    *service.Uploader
	Downloader  *service.Downloader
	PathWatcher service.PathWatcherAdminAction
	// FetchClient performs URL uploads; nil means http.DefaultClient.
	FetchClient *http.Client
	// DefaultOwner and DefaultChunkSize fill in watched path requests.
	DefaultOwner     string
	DefaultChunkSize int64
	Now              func() time.Time
}

func (h *V1Handler) now() time.Time {
	if h.Now != nil {
		return h.Now()
	}
	return time.Now()
}

// UploadFile stores the raw request body.
func (h *V1Handler) UploadFile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filename := q.Get("filename")
	if filename == "" {
		writeError(w, fmt.Errorf("%w: filename is required", domain.ErrInvalidInput))
		return
	}
	chunkSize, err := parseChunkSize(q.Get("chunk_size"))
	if err != nil {
		writeError(w, err)
		return
	}
	manifest, err := h.Uploader.Upload(r.Context(), service.UploadRequest{
		Source:    service.ReaderSource{Reader: r.Body, Name: filename},
		Filename:  filename,
		ChunkSize: h.Uploader.ChunkSizeOrDefault(chunkSize),
		Owner:     q.Get("owner"),
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, manifest)
}

// UploadFromURL streams a remote file into the chunk store.
func (h *V1Handler) UploadFromURL(w http.ResponseWriter, r *http.Request) {
	var request URLUploadRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		writeError(w, fmt.Errorf("%w: %v", domain.ErrInvalidInput, err))
		return
	}
	if request.URL == "" {
		writeError(w, fmt.Errorf("%w: url is required", domain.ErrInvalidInput))
		return
	}
	if service.IsYouTubeURL(request.URL) {
		writeError(w, fmt.Errorf("%w: YouTube links are not supported, upload the file itself", domain.ErrInvalidInput))
		return
	}
	manifest, err := h.Uploader.Upload(r.Context(), service.UploadRequest{
		Source:    service.URLSource{URL: request.URL, Client: h.FetchClient, Now: h.Now},
		Filename:  request.Filename,
		ChunkSize: h.Uploader.ChunkSizeOrDefault(request.ChunkSize),
		Owner:     request.Owner,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, manifest)
}

// DownloadFile streams the reassembled file. The first chunk is fetched before
// any header is written so an unreadable file still gets an error status.
func (h *V1Handler) DownloadFile(w http.ResponseWriter, r *http.Request) {
	rc, manifest, err := h.Downloader.Download(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	defer rc.Close()

	br := bufio.NewReaderSize(rc, 64*1024)
	if _, err := br.Peek(1); err != nil && err != io.EOF {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Type", contentTypeFor(manifest.Filename))
	w.Header().Set("Content-Length", strconv.FormatInt(manifest.TotalSize, 10))
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": manifest.Filename}))
	w.WriteHeader(http.StatusOK)
	if n, err := io.Copy(w, br); err != nil {
		// Headers are gone; dropping the connection is all that is left.
		slog.Error("Download aborted", "fileID", manifest.FileID, "written", n, "err", err)
		panic(http.ErrAbortHandler)
	}
}

func (h *V1Handler) GetManifest(w http.ResponseWriter, r *http.Request) {
	manifest, err := h.Downloader.Manifest(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manifest)
}

func (h *V1Handler) ListFiles(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	files, err := h.Downloader.ListByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, FileListResponse{Owner: owner, Files: files})
}

// ExportHistory returns the owner's manifests as a downloadable JSON document.
func (h *V1Handler) ExportHistory(w http.ResponseWriter, r *http.Request) {
	owner := r.PathValue("owner")
	files, err := h.Downloader.ListByOwner(r.Context(), owner)
	if err != nil {
		writeError(w, err)
		return
	}
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": "video_history_export.json"}))
	writeJSON(w, http.StatusOK, HistoryExport{Owner: owner, Files: files, ExportDate: h.now().UTC()})
}

func (h *V1Handler) ListWatchedPaths(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.PathWatcher.WatchedPaths())
}

func (h *V1Handler) AddPathToWatch(w http.ResponseWriter, r *http.Request) {
	var request ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if request.Path == "" {
		http.Error(w, "Path is required", http.StatusBadRequest)
		return
	}
	if request.ChunkSize == 0 {
		request.ChunkSize = h.DefaultChunkSize
	}
	if request.Owner == "" {
		request.Owner = h.DefaultOwner
	}

	err := h.PathWatcher.AddAndWatchPath(r.Context(), domain.WatchedPath{
		Path:      request.Path,
		Owner:     request.Owner,
		ChunkSize: request.ChunkSize,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("Path added to watchlist"))
}

func (h *V1Handler) RemovePathFromWatch(w http.ResponseWriter, r *http.Request) {
	var request ProcessRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	if err := h.PathWatcher.DeleteWatchPath(r.Context(), request.Path); err != nil {
		writeError(w, err)
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func parseChunkSize(v string) (int64, error) {
	if v == "" {
		return 0, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: chunk_size must be a positive integer", domain.ErrInvalidInput)
	}
	return n, nil
}

func contentTypeFor(filename string) string {
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".mp4":
		return "video/mp4"
	case ".mp3":
		return "audio/mpeg"
	default:
		return "application/octet-stream"
	}
}

// statusFor maps the error taxonomy onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, domain.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound) && !errors.Is(err, domain.ErrChunkUnavailable):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, domain.ErrSourceUnreachable),
		errors.Is(err, domain.ErrRemoteStore),
		errors.Is(err, domain.ErrChunkUnavailable):
		return http.StatusBadGateway
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		slog.Error("Request failed", "status", status, "err", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("Failed to encode response", "err", err)
	}
}
