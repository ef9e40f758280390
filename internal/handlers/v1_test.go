package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/jonno85/videovault-chunkstore/internal/service"
)

type memoryBlobs struct {
	mu    sync.Mutex
	blobs map[string][]byte
}

func (m *memoryBlobs) Backend() string { return "memory" }

func (m *memoryBlobs) Store(_ context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.blobs[name] = append([]byte(nil), data...)
	return name, nil
}

func (m *memoryBlobs) Fetch(_ context.Context, remoteID string) ([]byte, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	data, ok := m.blobs[remoteID]
	if !ok {
		return nil, fmt.Errorf("blob %s: %w", remoteID, domain.ErrNotFound)
	}
	return data, nil
}

func (m *memoryBlobs) Delete(_ context.Context, remoteID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.blobs, remoteID)
	return nil
}

type fakeWatcher struct {
	added   []domain.WatchedPath
	removed []string
}

func (f *fakeWatcher) AddAndWatchPath(_ context.Context, watch domain.WatchedPath) error {
	if watch.Path == "/missing" {
		return fmt.Errorf("%w: not a directory", domain.ErrInvalidInput)
	}
	f.added = append(f.added, watch)
	return nil
}

func (f *fakeWatcher) DeleteWatchPath(_ context.Context, path string) error {
	for _, w := range f.added {
		if w.Path == path {
			f.removed = append(f.removed, path)
			return nil
		}
	}
	return fmt.Errorf("watched path %s: %w", path, domain.ErrNotFound)
}

func (f *fakeWatcher) WatchedPaths() []domain.WatchedPath { return f.added }

type testAPI struct {
	server  *httptest.Server
	blobs   *memoryBlobs
	watcher *fakeWatcher
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	blobs := &memoryBlobs{blobs: make(map[string][]byte)}
	manifests, err := adapter.OpenSQLiteManifestStore(filepath.Join(t.TempDir(), "m.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = manifests.Close() })

	watcher := &fakeWatcher{}
	h := &V1Handler{
		Uploader:         service.NewUploader(blobs, manifests, service.UploaderConfig{DefaultChunkSize: 4, MaxChunkSize: 1024}),
		Downloader:       service.NewDownloader(blobs, manifests),
		PathWatcher:      watcher,
		DefaultOwner:     "local",
		DefaultChunkSize: 1024,
		Now:              func() time.Time { return time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC) },
	}
	srv := httptest.NewServer(NewRouter(h))
	t.Cleanup(srv.Close)
	return &testAPI{server: srv, blobs: blobs, watcher: watcher}
}

func (a *testAPI) do(t *testing.T, method, path string, body io.Reader) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, a.server.URL+path, body)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestHealthCheck(t *testing.T) {
	api := newTestAPI(t)
	resp := api.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestUploadAndDownloadFile(t *testing.T) {
	api := newTestAPI(t)
	content := "0123456789abcdef-tail"

	resp := api.do(t, http.MethodPost, "/v1/files?filename=clip.mp4&owner=alice&chunk_size=8", strings.NewReader(content))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	m := decode[domain.Manifest](t, resp)
	assert.Equal(t, 3, m.ChunkCount)
	assert.EqualValues(t, len(content), m.TotalSize)
	assert.Equal(t, "alice", m.Owner)

	resp = api.do(t, http.MethodGet, "/v1/files/"+m.FileID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "video/mp4", resp.Header.Get("Content-Type"))
	assert.Equal(t, `attachment; filename=clip.mp4`, resp.Header.Get("Content-Disposition"))
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, content, string(body))

	resp = api.do(t, http.MethodGet, "/v1/files/"+m.FileID+"/manifest", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, m.Chunks, decode[domain.Manifest](t, resp).Chunks)
}

func TestUploadFileValidation(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/v1/files", strings.NewReader("data"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/v1/files?filename=a.bin&chunk_size=zero", strings.NewReader("data"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/v1/files?filename=a.bin&chunk_size=4096", strings.NewReader("data"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/v1/files?filename=a.bin", strings.NewReader(""))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestDownloadErrors(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodGet, "/v1/files/unknown", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/v1/files?filename=song.mp3&chunk_size=4", strings.NewReader("abcdefgh"))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	m := decode[domain.Manifest](t, resp)
	require.NoError(t, api.blobs.Delete(context.Background(), m.Chunks[0].RemoteID))

	resp = api.do(t, http.MethodGet, "/v1/files/"+m.FileID, nil)
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "chunk 0")
}

func TestUploadFromURL(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/media/track.mp3" {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "audio/mpeg")
		_, _ = w.Write([]byte("not really an mp3"))
	}))
	defer origin.Close()
	api := newTestAPI(t)

	payload, _ := json.Marshal(URLUploadRequest{URL: origin.URL + "/media/track.mp3", Owner: "bob"})
	resp := api.do(t, http.MethodPost, "/v1/files/url", bytes.NewReader(payload))
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	m := decode[domain.Manifest](t, resp)
	assert.Equal(t, "track.mp3", m.Filename)
	assert.EqualValues(t, 4, m.ChunkSize)
	assert.Equal(t, origin.URL+"/media/track.mp3", m.SourceURL)

	payload, _ = json.Marshal(URLUploadRequest{URL: origin.URL + "/missing.mp4"})
	resp = api.do(t, http.MethodPost, "/v1/files/url", bytes.NewReader(payload))
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)

	payload, _ = json.Marshal(URLUploadRequest{URL: "https://www.youtube.com/watch?v=x"})
	resp = api.do(t, http.MethodPost, "/v1/files/url", bytes.NewReader(payload))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/v1/files/url", strings.NewReader("{"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestListAndExport(t *testing.T) {
	api := newTestAPI(t)
	for _, name := range []string{"a.mp4", "b.mp4"} {
		resp := api.do(t, http.MethodPost, "/v1/files?owner=carol&filename="+name, strings.NewReader(name))
		require.Equal(t, http.StatusCreated, resp.StatusCode)
	}

	resp := api.do(t, http.MethodGet, "/v1/owners/carol/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	list := decode[FileListResponse](t, resp)
	assert.Equal(t, "carol", list.Owner)
	assert.Len(t, list.Files, 2)

	resp = api.do(t, http.MethodGet, "/v1/owners/nobody/files", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[FileListResponse](t, resp).Files)

	resp = api.do(t, http.MethodGet, "/v1/owners/carol/export", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "video_history_export.json")
	export := decode[HistoryExport](t, resp)
	assert.Len(t, export.Files, 2)
	assert.Equal(t, time.Date(2026, 5, 4, 3, 2, 1, 0, time.UTC), export.ExportDate)
}

func TestWatchedPathEndpoints(t *testing.T) {
	api := newTestAPI(t)

	resp := api.do(t, http.MethodPost, "/v1/path/add", strings.NewReader(`{"path":"/videos"}`))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Len(t, api.watcher.added, 1)
	assert.Equal(t, domain.WatchedPath{Path: "/videos", Owner: "local", ChunkSize: 1024}, api.watcher.added[0])

	resp = api.do(t, http.MethodPost, "/v1/path/add", strings.NewReader(`{"path":""}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodPost, "/v1/path/add", strings.NewReader(`{"path":"/missing"}`))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/v1/path", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]domain.WatchedPath](t, resp), 1)

	resp = api.do(t, http.MethodDelete, "/v1/path/remove", strings.NewReader(`{"path":"/elsewhere"}`))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = api.do(t, http.MethodDelete, "/v1/path/remove", strings.NewReader(`{"path":"/videos"}`))
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp = api.do(t, http.MethodGet, "/v1/path/add", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}

func TestStatusFor(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{domain.ErrInvalidInput, http.StatusBadRequest},
		{fmt.Errorf("x: %w", domain.ErrNotFound), http.StatusNotFound},
		{domain.ErrDuplicateID, http.StatusConflict},
		{domain.ErrSourceUnreachable, http.StatusBadGateway},
		{domain.ErrRemoteStore, http.StatusBadGateway},
		{&domain.ChunkUnavailableError{Index: 2, Err: domain.ErrNotFound}, http.StatusBadGateway},
		{context.DeadlineExceeded, http.StatusGatewayTimeout},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, statusFor(tc.err), tc.err.Error())
	}
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "video/mp4", contentTypeFor("A.MP4"))
	assert.Equal(t, "audio/mpeg", contentTypeFor("b.mp3"))
	assert.Equal(t, "application/octet-stream", contentTypeFor("c.mkv"))
}
