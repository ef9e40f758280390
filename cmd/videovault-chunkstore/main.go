// Package main is the videovault chunk store: an HTTP service that splits uploads into chunks,
// stores them in a blob backend and keeps a manifest per file, plus one-shot CLI commands.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jonno85/videovault-chunkstore/internal/config"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/jonno85/videovault-chunkstore/internal/handlers"
	"github.com/jonno85/videovault-chunkstore/internal/middleware"
	"github.com/jonno85/videovault-chunkstore/internal/service"
)

const usage = `usage: videovault-chunkstore <command> [flags] [args]

commands:
  serve                              run the HTTP API, metrics and watched-folder ingest (default)
  upload [flags] <file|url>          upload a local file or URL and print its manifest
  download <file-id> <output|->      rebuild a file from its manifest
  list <owner>                       print the owner's manifests, newest first
`

func main() {
	config.LoadEnv()
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("Invalid configuration", "err", err)
		os.Exit(1)
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel})))

	command, args := "serve", []string{}
	if len(os.Args) > 1 {
		command, args = os.Args[1], os.Args[2:]
	}
	switch command {
	case "serve":
		err = serve(cfg)
	case "upload":
		err = uploadCommand(cfg, args)
	case "download":
		err = downloadCommand(cfg, args)
	case "list":
		err = listCommand(cfg, args)
	case "help", "-h", "--help":
		fmt.Fprint(os.Stdout, usage)
	default:
		fmt.Fprint(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		slog.Error("Command failed", "command", command, "err", err)
		os.Exit(1)
	}
}

func newUploader(cfg config.Config, clients *config.AppClients) *service.Uploader {
	return service.NewUploader(clients.Blobs, clients.Manifests, service.UploaderConfig{
		DefaultChunkSize: cfg.ChunkSize,
		MaxChunkSize:     cfg.MaxChunkSize,
		Workers:          cfg.UploadWorkers,
		Compression:      clients.Codec,
	})
}

// serve runs until SIGINT or SIGTERM.
func serve(cfg config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Instantiate external clients
	clients, err := config.NewAppClients(ctx, cfg, true)
	if err != nil {
		return err
	}

	// Instantiate services
	uploader := newUploader(cfg, clients)
	downloader := service.NewDownloader(clients.Blobs, clients.Manifests)
	ingestProcessor := service.NewIngestProcessorService(clients.RedisClient, clients.Manifests, uploader, service.IngestConfig{
		NumWorkers:   cfg.StreamProcessor.NumWorkers,
		DefaultOwner: cfg.StreamProcessor.Owner,
	})
	pathWatcherAdmin := service.NewPathWatcherAdmin(clients.RedisClient, cfg.StreamProcessor.StreamTimeout)

	workersDone := runBackgroundTasks(ctx, ingestProcessor, pathWatcherAdmin, cfg.StreamProcessor)

	server, metricsServer := setupHTTPServer(cfg, uploader, downloader, pathWatcherAdmin)
	go func() {
		slog.Info("Starting server", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	gracefulShutdown(server, metricsServer, pathWatcherAdmin, clients, workersDone)
	return nil
}

// runBackgroundTasks drains jobs left in progress by a previous run, restores the watched
// paths and starts the ingest workers. The returned channel closes when the workers stop.
func runBackgroundTasks(ctx context.Context, ingestProcessor *service.IngestProcessorService, pathWatcher *service.PathWatcherAdmin, streamProcessorConfig config.StreamProcessorConfig) <-chan struct{} {
	slog.Info("Running background: RestoreWatches")
	if err := pathWatcher.RestoreWatches(ctx); err != nil {
		slog.Error("Failed to restore watched paths", "err", err)
	}
	if streamProcessorConfig.Path != "" {
		slog.Info("Running background: AddAndWatchPath", "path", streamProcessorConfig.Path)
		err := pathWatcher.AddAndWatchPath(ctx, domain.WatchedPath{
			Path:      streamProcessorConfig.Path,
			Owner:     streamProcessorConfig.Owner,
			ChunkSize: streamProcessorConfig.ChunkSize,
		})
		if err != nil {
			slog.Error("Failed to watch default input path", "path", streamProcessorConfig.Path, "err", err)
		}
	}

	done := make(chan struct{})
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		slog.Info("Running background: ProcessPendingQueue")
		if err := ingestProcessor.ProcessPendingQueue(ctx); err != nil {
			slog.Error("Pending queue failed", "err", err)
		}
		slog.Info("Running background: ProcessQueue")
		_ = ingestProcessor.ProcessQueue(ctx)
	}()
	go func() {
		wg.Wait()
		close(done)
	}()
	return done
}

// setupHTTPServer builds the API server and starts the Prometheus metrics server.
func setupHTTPServer(cfg config.Config, uploader *service.Uploader, downloader *service.Downloader, pathWatcher *service.PathWatcherAdmin) (*http.Server, *http.Server) {
	v1Handler := &handlers.V1Handler{
		Uploader:         uploader,
		Downloader:       downloader,
		PathWatcher:      pathWatcher,
		FetchClient:      &http.Client{Timeout: cfg.SourceFetchTimeout},
		DefaultOwner:     cfg.StreamProcessor.Owner,
		DefaultChunkSize: cfg.StreamProcessor.ChunkSize,
	}
	handlersRouter := handlers.NewRouter(v1Handler)
	wrappedHandler := middleware.RequestLogger(handlersRouter)

	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: cfg.MetricsAddr, Handler: metricsMux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		slog.Info("Starting Prometheus metrics server", "addr", cfg.MetricsAddr)
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("Prometheus metrics server error", "err", err)
		}
	}()

	return config.NewHTTPServer(cfg.ServerPort, wrappedHandler), metricsServer
}

// gracefulShutdown stops accepting requests, waits for the ingest workers and closes the clients.
func gracefulShutdown(server, metricsServer *http.Server, pathWatcher *service.PathWatcherAdmin, clients *config.AppClients, workersDone <-chan struct{}) {
	slog.Info("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("Server forced to shutdown", "err", err)
	} else {
		slog.Info("Server exited gracefully")
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("Metrics server forced to shutdown", "err", err)
	}

	pathWatcher.Close()
	select {
	case <-workersDone:
		slog.Info("Ingest workers stopped")
	case <-ctx.Done():
		slog.Warn("Ingest workers still running at shutdown")
	}

	if err := clients.Close(); err != nil {
		slog.Error("Failed to close clients", "err", err)
	} else {
		slog.Info("Clients closed")
	}
}

func uploadCommand(cfg config.Config, args []string) error {
	fs := flag.NewFlagSet("upload", flag.ExitOnError)
	owner := fs.String("owner", cfg.StreamProcessor.Owner, "Owner recorded in the manifest")
	filename := fs.String("filename", "", "Filename recorded in the manifest (defaults to the source name)")
	chunkSize := fs.Int64("chunk-size", cfg.ChunkSize, "The number of bytes (pre-compressed) of each stored chunk")
	workers := fs.Int("workers", cfg.UploadWorkers, "The number of chunks stored concurrently")
	compression := fs.String("compression", cfg.Compression, "The compression algorithm and level (where applicable) to use")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if fs.NArg() != 1 {
		return errors.New("upload needs exactly one file path or URL")
	}
	cfg.UploadWorkers = *workers
	cfg.Compression = *compression

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clients, err := config.NewAppClients(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer clients.Close()

	target := fs.Arg(0)
	var source service.Source = service.FileSource{Path: target}
	if strings.HasPrefix(target, "http://") || strings.HasPrefix(target, "https://") {
		source = service.URLSource{URL: target, Client: &http.Client{Timeout: cfg.SourceFetchTimeout}}
	}
	manifest, err := newUploader(cfg, clients).Upload(ctx, service.UploadRequest{
		Source:    source,
		Filename:  *filename,
		ChunkSize: *chunkSize,
		Owner:     *owner,
		Progress: func(p service.Progress) {
			slog.Info("Progress", "fileID", p.FileID, "chunks", p.ChunksDone, "bytes", p.BytesDone)
		},
	})
	if err != nil {
		return err
	}
	return printJSON(manifest)
}

func downloadCommand(cfg config.Config, args []string) error {
	if len(args) != 2 {
		return errors.New("download needs <file-id> <output|->")
	}
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	clients, err := config.NewAppClients(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer clients.Close()

	downloader := service.NewDownloader(clients.Blobs, clients.Manifests)
	if args[1] == "-" {
		_, err := downloader.DownloadTo(ctx, args[0], os.Stdout)
		return err
	}
	f, err := os.Create(args[1])
	if err != nil {
		return err
	}
	defer f.Close()
	n, err := downloader.DownloadTo(ctx, args[0], f)
	if err != nil {
		_ = os.Remove(args[1])
		return err
	}
	slog.Info("Done", "fileID", args[0], "bytes", n, "output", args[1])
	return f.Sync()
}

func listCommand(cfg config.Config, args []string) error {
	if len(args) != 1 {
		return errors.New("list needs <owner>")
	}
	ctx := context.Background()
	clients, err := config.NewAppClients(ctx, cfg, false)
	if err != nil {
		return err
	}
	defer clients.Close()

	manifests, err := service.NewDownloader(clients.Blobs, clients.Manifests).ListByOwner(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(manifests)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
