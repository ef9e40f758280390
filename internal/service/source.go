package service

import (
	"context"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"
	"unicode"

	"golang.org/x/net/publicsuffix"

	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

// Source opens the byte stream of an upload.
type Source interface {
	// Open returns the stream and, when known, a suggested filename.
	Open(ctx context.Context) (io.ReadCloser, string, error)
	// Describe returns a short label for logs and the manifest's source_url.
	Describe() string
}

// FileSource reads a local file.
type FileSource struct {
	Path string
}

func (s FileSource) Open(_ context.Context) (io.ReadCloser, string, error) {
	f, err := os.Open(s.Path)
	if err != nil {
		return nil, "", fmt.Errorf("open %s: %w: %v", s.Path, domain.ErrSourceUnreachable, err)
	}
	return f, filepath.Base(s.Path), nil
}

func (s FileSource) Describe() string { return "" }

// ReaderSource wraps an already open stream, such as a request body.
type ReaderSource struct {
	Reader io.Reader
	Name   string
}

func (s ReaderSource) Open(_ context.Context) (io.ReadCloser, string, error) {
	if s.Reader == nil {
		return nil, "", fmt.Errorf("%w: empty reader", domain.ErrSourceUnreachable)
	}
	return io.NopCloser(s.Reader), s.Name, nil
}

func (s ReaderSource) Describe() string { return "" }

// URLSource streams a remote URL with an HTTP GET.
type URLSource struct {
	URL    string
	Client *http.Client
	// Now is used to name downloads whose URL carries no filename.
	Now func() time.Time
}

func (s URLSource) Open(ctx context.Context) (io.ReadCloser, string, error) {
	u, err := url.Parse(s.URL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, "", fmt.Errorf("%w: invalid url %q", domain.ErrInvalidInput, s.URL)
	}
	client := s.Client
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.URL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", domain.ErrInvalidInput, err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w: %v", s.URL, domain.ErrSourceUnreachable, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		resp.Body.Close()
		return nil, "", fmt.Errorf("fetch %s: %w: status %d", s.URL, domain.ErrSourceUnreachable, resp.StatusCode)
	}
	now := time.Now
	if s.Now != nil {
		now = s.Now
	}
	return resp.Body, FilenameFromURL(u, resp.Header.Get("Content-Type"), now()), nil
}

func (s URLSource) Describe() string { return s.URL }

// mediaExtensions pins the extensions of common media types; the system mime tables list several per type.
var mediaExtensions = map[string]string{
	"video/mp4":                ".mp4",
	"video/webm":               ".webm",
	"video/quicktime":          ".mov",
	"video/x-matroska":         ".mkv",
	"audio/mpeg":               ".mp3",
	"audio/mp4":                ".m4a",
	"application/octet-stream": ".bin",
}

// FilenameFromURL picks the last path segment of u, falling back to
// download_<unix>.<ext> with the extension guessed from the content type.
func FilenameFromURL(u *url.URL, contentType string, now time.Time) string {
	name := path.Base(u.Path)
	if name != "." && name != "/" && strings.Contains(name, ".") {
		return name
	}
	ext := ".bin"
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		if known, ok := mediaExtensions[mediaType]; ok {
			ext = known
		} else if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			ext = exts[0]
		}
	}
	return fmt.Sprintf("download_%d%s", now.Unix(), ext)
}

// SafeFilename keeps letters, digits, spaces and "._-", trimming trailing spaces.
func SafeFilename(name string) string {
	var b strings.Builder
	for _, r := range name {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || strings.ContainsRune(" ._-", r) {
			b.WriteRune(r)
		}
	}
	return strings.TrimRight(b.String(), " ")
}

// IsYouTubeURL reports whether raw points at a YouTube site (youtube.<tld> or youtu.be).
func IsYouTubeURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}
	site, err := publicsuffix.EffectiveTLDPlusOne(host)
	if err != nil {
		return false
	}
	return site == "youtu.be" || strings.HasPrefix(site, "youtube.")
}
