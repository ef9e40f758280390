package config

import (
	"context"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
)

func setMinioEnv(t *testing.T) {
	t.Helper()
	t.Setenv("BLOB_BACKEND", "minio")
	t.Setenv("S3_BUCKET", "videos")
	t.Setenv("MINIO_ACCESS_KEY", "key")
	t.Setenv("MINIO_SECRET_KEY", "secret")
}

func TestLoadConfigDefaults(t *testing.T) {
	setMinioEnv(t)

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "8080", cfg.ServerPort)
	assert.Equal(t, ":2112", cfg.MetricsAddr)
	assert.Equal(t, slog.LevelInfo, cfg.LogLevel)
	assert.EqualValues(t, 4<<20, cfg.ChunkSize)
	assert.EqualValues(t, DEFAULT_MAX_CHUNK_SIZE, cfg.MaxChunkSize)
	assert.Equal(t, 1, cfg.UploadWorkers)
	assert.Equal(t, "none", cfg.Compression)
	assert.Equal(t, ManifestBackendRedis, cfg.ManifestBackend)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, "localhost:9000", cfg.Minio.Endpoint)
	assert.Equal(t, "videos", cfg.Minio.Bucket)
	assert.Equal(t, 30*time.Second, cfg.StreamProcessor.StreamTimeout)
	assert.Equal(t, "local", cfg.StreamProcessor.Owner)
}

func TestLoadConfigOverrides(t *testing.T) {
	setMinioEnv(t)
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("CHUNK_SIZE", "1048576")
	t.Setenv("UPLOAD_WORKERS", "4")
	t.Setenv("NUM_WORKERS", "3")
	t.Setenv("STREAM_TIMEOUT_SEC", "5")
	t.Setenv("COMPRESSION", "zstd:1")
	t.Setenv("MANIFEST_BACKEND", "SQLite")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("BLOB_RATE_LIMIT", "0.5")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, slog.LevelDebug, cfg.LogLevel)
	assert.EqualValues(t, 1<<20, cfg.ChunkSize)
	assert.EqualValues(t, 1<<20, cfg.StreamProcessor.ChunkSize)
	assert.Equal(t, 4, cfg.UploadWorkers)
	assert.Equal(t, 3, cfg.StreamProcessor.NumWorkers)
	assert.Equal(t, 5*time.Second, cfg.StreamProcessor.StreamTimeout)
	assert.Equal(t, "zstd:1", cfg.Compression)
	assert.Equal(t, ManifestBackendSQLite, cfg.ManifestBackend)
	assert.Equal(t, 2, cfg.Redis.DB)
	assert.InDelta(t, 0.5, cfg.BlobRateLimit, 1e-9)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	cases := map[string]map[string]string{
		"chunk size not a number": {"CHUNK_SIZE": "big"},
		"chunk size above max":    {"CHUNK_SIZE": "2048", "MAX_CHUNK_SIZE": "1024"},
		"unknown blob backend":    {"BLOB_BACKEND": "floppy"},
		"unknown manifest store":  {"MANIFEST_BACKEND": "csv"},
		"postgres without url":    {"MANIFEST_BACKEND": "postgres"},
		"bad log level":           {"LOG_LEVEL": "loud"},
		"minio without bucket":    {"S3_BUCKET": ""},
		"telegram without token":  {"BLOB_BACKEND": "telegram", "TELEGRAM_CHANNEL_ID": "@vault"},
		"telegram chunk too big":  {"BLOB_BACKEND": "telegram", "TELEGRAM_BOT_TOKEN": "123:abc", "TELEGRAM_CHANNEL_ID": "@vault", "CHUNK_SIZE": "52428800"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			setMinioEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			_, err := LoadConfig()
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigTelegram(t *testing.T) {
	t.Setenv("BLOB_BACKEND", "telegram")
	t.Setenv("TELEGRAM_BOT_TOKEN", "123:abc")
	t.Setenv("TELEGRAM_CHANNEL_ID", "-100200300")

	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "123:abc", cfg.Telegram.Token)
	assert.Equal(t, "-100200300", cfg.Telegram.ChannelID)
	assert.EqualValues(t, adapter.TelegramMaxChunkSize, cfg.MaxChunkSize)
	assert.EqualValues(t, DEFAULT_CHUNK_SIZE, cfg.ChunkSize)
}

func TestNewAppClientsWithSQLiteAndTelegram(t *testing.T) {
	cfg := Config{
		BlobBackend:     BlobBackendTelegram,
		Telegram:        adapter.TelegramOptions{Token: "123:abc", ChannelID: "@vault"},
		ManifestBackend: ManifestBackendSQLite,
		SQLitePath:      filepath.Join(t.TempDir(), "m.db"),
		Compression:     "s2",
		BlobRateLimit:   10,
	}
	clients, err := NewAppClients(context.Background(), cfg, false)
	require.NoError(t, err)
	defer clients.Close()

	assert.Nil(t, clients.RedisClient)
	assert.Equal(t, "telegram", clients.Blobs.Backend())
	assert.Equal(t, "s2", clients.Codec.Name())
	require.NotNil(t, clients.Manifests)
}

func TestNewAppClientsRejectsUnknownCompression(t *testing.T) {
	_, err := NewAppClients(context.Background(), Config{Compression: "lzma"}, false)
	assert.Error(t, err)
}

func TestNewHTTPServer(t *testing.T) {
	assert.Equal(t, ":9090", NewHTTPServer("9090", nil).Addr)
	assert.Equal(t, ":8080", NewHTTPServer("", nil).Addr)
}
