package config

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
	"github.com/jonno85/videovault-chunkstore/internal/chunk"
	"github.com/jonno85/videovault-chunkstore/internal/compress"
)

const (
	DEFAULT_CHUNK_SIZE     = chunk.DefaultSize
	DEFAULT_MAX_CHUNK_SIZE = 1900 * 1024 * 1024

	BlobBackendMinio    = "minio"
	BlobBackendS3       = "s3"
	BlobBackendTelegram = "telegram"

	ManifestBackendRedis    = "redis"
	ManifestBackendSQLite   = "sqlite"
	ManifestBackendPostgres = "postgres"
)

// StreamProcessorConfig drives the watched-folder ingest.
type StreamProcessorConfig struct {
	Path          string
	Owner         string
	ChunkSize     int64
	StreamTimeout time.Duration
	NumWorkers    int
}

// Config is the whole runtime configuration, read from the environment.
type Config struct {
	ServerPort  string
	MetricsAddr string
	LogLevel    slog.Level

	ChunkSize          int64
	MaxChunkSize       int64
	UploadWorkers      int
	Compression        string
	SourceFetchTimeout time.Duration

	StreamProcessor StreamProcessorConfig

	BlobBackend   string
	BlobRateLimit float64
	Minio         adapter.MinioOptions
	S3Bucket      string
	AWSRegion     string
	Telegram      adapter.TelegramOptions

	ManifestBackend string
	Redis           adapter.RedisOptions
	SQLitePath      string
	DatabaseURL     string
}

// AppClients holds the external clients shared by the commands.
type AppClients struct {
	// RedisClient backs the ingest queue. It is nil when the command did not ask for it
	// and the manifest backend is not redis.
	RedisClient *adapter.RedisClientImpl
	Blobs       adapter.BlobStore
	Manifests   adapter.ManifestStore
	Codec       compress.Codec
}

// NewAppClients connects the configured blob and manifest stores. withQueue also
// connects Redis for the ingest queue.
func NewAppClients(ctx context.Context, cfg Config, withQueue bool) (*AppClients, error) {
	codec, err := compress.ForName(cfg.Compression)
	if err != nil {
		return nil, err
	}
	clients := &AppClients{Codec: codec}

	if withQueue || cfg.ManifestBackend == ManifestBackendRedis {
		clients.RedisClient = adapter.NewRedisClientImpl(cfg.Redis)
	}

	blobs, err := newBlobStore(ctx, cfg)
	if err != nil {
		_ = clients.Close()
		return nil, err
	}
	clients.Blobs = adapter.NewRateLimitedBlobStore(blobs, cfg.BlobRateLimit, 1)

	manifests, err := newManifestStore(ctx, cfg, clients.RedisClient)
	if err != nil {
		_ = clients.Close()
		return nil, err
	}
	clients.Manifests = manifests
	slog.Info("Clients ready", "blobBackend", clients.Blobs.Backend(), "manifestBackend", cfg.ManifestBackend, "compression", codec.Name())
	return clients, nil
}

func newBlobStore(ctx context.Context, cfg Config) (adapter.BlobStore, error) {
	switch cfg.BlobBackend {
	case BlobBackendMinio:
		store, err := adapter.NewMinioBlobStore(cfg.Minio)
		if err != nil {
			return nil, err
		}
		if err := store.EnsureBucket(ctx); err != nil {
			return nil, fmt.Errorf("ensure bucket %s: %w", cfg.Minio.Bucket, err)
		}
		return store, nil
	case BlobBackendS3:
		return adapter.NewS3BlobStore(cfg.AWSRegion, cfg.S3Bucket)
	case BlobBackendTelegram:
		return adapter.NewTelegramBlobStore(cfg.Telegram)
	default:
		return nil, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}
}

func newManifestStore(ctx context.Context, cfg Config, redisClient *adapter.RedisClientImpl) (adapter.ManifestStore, error) {
	switch cfg.ManifestBackend {
	case ManifestBackendRedis:
		return redisClient, nil
	case ManifestBackendSQLite:
		store, err := adapter.OpenSQLiteManifestStore(cfg.SQLitePath)
		if err != nil {
			return nil, err
		}
		return store, nil
	case ManifestBackendPostgres:
		store, err := adapter.ConnectPostgresManifestStore(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		return store, nil
	default:
		return nil, fmt.Errorf("unknown MANIFEST_BACKEND %q", cfg.ManifestBackend)
	}
}

// Close releases every client. The redis client may double as the manifest store.
func (c *AppClients) Close() error {
	var errs []error
	if c.Manifests != nil && c.Manifests != adapter.ManifestStore(c.RedisClient) {
		if err := c.Manifests.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close manifest store: %w", err))
		}
	}
	if c.RedisClient != nil {
		if err := c.RedisClient.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	return errors.Join(errs...)
}
