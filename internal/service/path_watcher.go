package service

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/jonno85/videovault-chunkstore/internal/metrics"
)

// FsPathWatcher is an alias for fsnotify.Watcher, used for file system event watching.
type FsPathWatcher = fsnotify.Watcher

// PathWatcherService watches one directory and queues every file that stops changing.
type PathWatcherService struct {
	fsPathWatcher *FsPathWatcher
	redisClient   adapter.RedisOperationalClient
	watch         domain.WatchedPath
	streamTimeout time.Duration
	done          chan struct{}

	mu         sync.Mutex
	fileTimers map[string]*time.Timer
}

// PathWatcherAdminAction is the watch registry as seen by the HTTP handlers.
type PathWatcherAdminAction interface {
	AddAndWatchPath(ctx context.Context, watch domain.WatchedPath) error
	DeleteWatchPath(ctx context.Context, path string) error
	WatchedPaths() []domain.WatchedPath
}

// PathWatcherAdmin manages the PathWatcherService of every watched directory.
type PathWatcherAdmin struct {
	mu            sync.Mutex
	watchers      map[string]*PathWatcherService
	redisClient   adapter.RedisOperationalClient
	streamTimeout time.Duration
}

func NewPathWatcherAdmin(redisClient adapter.RedisOperationalClient, streamTimeout time.Duration) *PathWatcherAdmin {
	return &PathWatcherAdmin{
		watchers:      make(map[string]*PathWatcherService),
		redisClient:   redisClient,
		streamTimeout: streamTimeout,
	}
}

// analyseFile queues path for upload. Empty files are skipped.
func (pw *PathWatcherService) analyseFile(ctx context.Context, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		slog.Error("Failed to stat file", "path", path, "err", err)
		metrics.FilesIngestedErrors.WithLabelValues(pw.watch.Path).Inc()
		return err
	}
	if !info.Mode().IsRegular() {
		return nil
	}
	size := info.Size()
	if size == 0 {
		slog.Warn("File is empty", "path", path)
		metrics.FilesIngestedErrors.WithLabelValues(pw.watch.Path).Inc()
		return fmt.Errorf("%w: %s is empty", domain.ErrInvalidInput, path)
	}
	slog.Info("Queueing file", "path", path, "size", size, "owner", pw.watch.Owner)

	job := domain.IngestJob{
		Path:       path,
		Owner:      pw.watch.Owner,
		ChunkSize:  pw.watch.ChunkSize,
		TotalBytes: size,
		Status:     domain.IngestStatusQueued,
		QueuedAt:   time.Now().UTC(),
	}
	if err := pw.redisClient.Enqueue(ctx, job); err != nil {
		slog.Error("Failed to enqueue file", "path", path, "err", err)
		metrics.FilesIngestedErrors.WithLabelValues(pw.watch.Path).Inc()
		return err
	}
	metrics.FilesIngested.WithLabelValues(pw.watch.Path).Inc()
	return nil
}

// startOrResetTimer debounces file events: the file is queued once it has been quiet for streamTimeout.
func (pw *PathWatcherService) startOrResetTimer(filePath string) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if timer, exists := pw.fileTimers[filePath]; exists {
		timer.Stop()
	}

	pw.fileTimers[filePath] = time.AfterFunc(pw.streamTimeout, func() {
		slog.Info("No updates, processing file", "timeout", pw.streamTimeout.String(), "path", filePath)
		pw.mu.Lock()
		delete(pw.fileTimers, filePath)
		pw.mu.Unlock()
		_ = pw.analyseFile(context.Background(), filePath)
	})
}

func (pw *PathWatcherService) stopTimer(filePath string) {
	pw.mu.Lock()
	defer pw.mu.Unlock()
	if timer, exists := pw.fileTimers[filePath]; exists {
		timer.Stop()
		delete(pw.fileTimers, filePath)
	}
}

func (pw *PathWatcherService) stop() {
	close(pw.done)
	pw.fsPathWatcher.Close()
	pw.mu.Lock()
	for path, timer := range pw.fileTimers {
		timer.Stop()
		delete(pw.fileTimers, path)
	}
	pw.mu.Unlock()
}

// ignored skips hidden and temporary files written by editors and downloaders.
func ignored(path string) bool {
	base := filepath.Base(path)
	return strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") || strings.HasSuffix(base, ".tmp")
}

// handleWatcherEvents consumes file system events until done is closed.
func (pw *PathWatcherService) handleWatcherEvents() {
	for {
		select {
		case event, ok := <-pw.fsPathWatcher.Events:
			if !ok {
				return
			}
			slog.Debug("event", "action", event.Op, "path", event.Name)
			if ignored(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				pw.startOrResetTimer(event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				slog.Debug("file renamed/removed", "path", event.Name)
				pw.stopTimer(event.Name)
			}
		case err, ok := <-pw.fsPathWatcher.Errors:
			if !ok {
				return
			}
			slog.Error("watcher error", "err", err)
		case <-pw.done:
			slog.Info("Shutting down path watcher goroutine", "path", pw.watch.Path)
			return
		}
	}
}

// AddAndWatchPath starts watching watch.Path and records it in Redis. Adding a path
// that is already watched replaces its owner and chunk size.
func (pa *PathWatcherAdmin) AddAndWatchPath(ctx context.Context, watch domain.WatchedPath) error {
	if watch.Path == "" {
		return fmt.Errorf("%w: path required", domain.ErrInvalidInput)
	}
	watch.Path = filepath.Clean(watch.Path)
	info, err := os.Stat(watch.Path)
	if err != nil || !info.IsDir() {
		return fmt.Errorf("%w: %s is not a directory", domain.ErrInvalidInput, watch.Path)
	}

	fsPathWatcher, err := fsnotify.NewWatcher()
	if err != nil {
		slog.Error("Failed to create pathWatcher", "err", err)
		return err
	}
	if err := fsPathWatcher.Add(watch.Path); err != nil {
		fsPathWatcher.Close()
		return err
	}
	if err := pa.redisClient.SetPathWatcher(ctx, watch.Path, watch); err != nil {
		fsPathWatcher.Close()
		return err
	}

	pws := &PathWatcherService{
		fsPathWatcher: fsPathWatcher,
		redisClient:   pa.redisClient,
		watch:         watch,
		streamTimeout: pa.streamTimeout,
		done:          make(chan struct{}),
		fileTimers:    make(map[string]*time.Timer),
	}
	pa.mu.Lock()
	if previous, ok := pa.watchers[watch.Path]; ok {
		previous.stop()
	}
	pa.watchers[watch.Path] = pws
	pa.mu.Unlock()

	slog.Info("Path added to watchlist", "path", watch.Path, "owner", watch.Owner)
	go pws.handleWatcherEvents()
	return nil
}

// DeleteWatchPath stops watching path and removes it from Redis.
func (pa *PathWatcherAdmin) DeleteWatchPath(ctx context.Context, path string) error {
	path = filepath.Clean(path)
	slog.Info("Deleting watch path", "path", path)

	pa.mu.Lock()
	pws, ok := pa.watchers[path]
	delete(pa.watchers, path)
	pa.mu.Unlock()

	if !ok {
		exists, err := pa.redisClient.HasPathWatcher(ctx, path)
		if err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("watched path %s: %w", path, domain.ErrNotFound)
		}
	} else {
		pws.stop()
	}
	if err := pa.redisClient.DelPathWatcher(ctx, path); err != nil {
		return err
	}
	slog.Info("Path removed from watchlist", "path", path)
	return nil
}

// RestoreWatches resumes every path registered by a previous run. Paths that
// no longer exist are logged and skipped.
func (pa *PathWatcherAdmin) RestoreWatches(ctx context.Context) error {
	watches, err := pa.redisClient.ListPathWatchers(ctx)
	if err != nil {
		return err
	}
	for _, w := range watches {
		if err := pa.AddAndWatchPath(ctx, w); err != nil {
			slog.Warn("Could not restore watched path", "path", w.Path, "err", err)
		}
	}
	return nil
}

// WatchedPaths returns the paths watched by this process.
func (pa *PathWatcherAdmin) WatchedPaths() []domain.WatchedPath {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	out := make([]domain.WatchedPath, 0, len(pa.watchers))
	for _, pws := range pa.watchers {
		out = append(out, pws.watch)
	}
	return out
}

// Close stops every watcher. Registrations stay in Redis for the next start.
func (pa *PathWatcherAdmin) Close() {
	pa.mu.Lock()
	defer pa.mu.Unlock()
	for path, pws := range pa.watchers {
		pws.stop()
		delete(pa.watchers, path)
	}
}
