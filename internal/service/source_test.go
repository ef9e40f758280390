package service

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

func TestURLSourceStreamsBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/media/song.mp3":
			w.Header().Set("Content-Type", "audio/mpeg")
			_, _ = w.Write([]byte("ID3 data"))
		case "/stream":
			w.Header().Set("Content-Type", "video/mp4")
			_, _ = w.Write([]byte("mp4 data"))
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()
	now := func() time.Time { return time.Unix(1700000000, 0) }

	rc, name, err := URLSource{URL: srv.URL + "/media/song.mp3", Now: now}.Open(context.Background())
	require.NoError(t, err)
	body, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.NoError(t, rc.Close())
	assert.Equal(t, "song.mp3", name)
	assert.Equal(t, "ID3 data", string(body))

	rc, name, err = URLSource{URL: srv.URL + "/stream", Now: now}.Open(context.Background())
	require.NoError(t, err)
	_ = rc.Close()
	assert.Equal(t, "download_1700000000.mp4", name)

	_, _, err = URLSource{URL: srv.URL + "/missing"}.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
}

func TestURLSourceRejectsBadURL(t *testing.T) {
	for _, raw := range []string{"", "ftp://example.com/a.mp4", "not a url", "http://"} {
		_, _, err := URLSource{URL: raw}.Open(context.Background())
		assert.ErrorIs(t, err, domain.ErrInvalidInput, raw)
	}
}

func TestURLSourceUnreachableHost(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	_, _, err := URLSource{URL: addr + "/a.mp4"}.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
}

func TestFilenameFromURL(t *testing.T) {
	now := time.Unix(42, 0)
	cases := []struct {
		raw, contentType, want string
	}{
		{"https://cdn.example.com/v/clip.mp4?sig=abc", "", "clip.mp4"},
		{"https://cdn.example.com/", "", "download_42.bin"},
		{"https://cdn.example.com/watch", "application/octet-stream", "download_42.bin"},
		{"https://cdn.example.com/watch", "garbage;;", "download_42.bin"},
	}
	for _, tc := range cases {
		u, err := url.Parse(tc.raw)
		require.NoError(t, err)
		assert.Equal(t, tc.want, FilenameFromURL(u, tc.contentType, now), tc.raw)
	}
}

func TestSafeFilename(t *testing.T) {
	assert.Equal(t, "my clip_01.mp4", SafeFilename("my clip_01.mp4"))
	assert.Equal(t, "..etcpasswd", SafeFilename("../etc/passwd"))
	assert.Equal(t, "vidéo", SafeFilename("vidéo<>  "))
	assert.Equal(t, "", SafeFilename("///"))
}

func TestIsYouTubeURL(t *testing.T) {
	assert.True(t, IsYouTubeURL("https://www.youtube.com/watch?v=abc"))
	assert.True(t, IsYouTubeURL("https://youtu.be/abc"))
	assert.False(t, IsYouTubeURL("https://example.com/youtube.com.mp4"))
	assert.True(t, IsYouTubeURL("https://m.youtube.co.uk/watch?v=abc"))
	assert.False(t, IsYouTubeURL("https://notyoutube.com/watch"))
	assert.False(t, IsYouTubeURL("::"))
}

func TestFileSource(t *testing.T) {
	path := filepath.Join(t.TempDir(), "movie.mkv")
	require.NoError(t, os.WriteFile(path, []byte("frames"), 0o644))

	rc, name, err := FileSource{Path: path}.Open(context.Background())
	require.NoError(t, err)
	defer rc.Close()
	assert.Equal(t, "movie.mkv", name)

	_, _, err = FileSource{Path: filepath.Join(t.TempDir(), "gone.mkv")}.Open(context.Background())
	assert.ErrorIs(t, err, domain.ErrSourceUnreachable)
}
