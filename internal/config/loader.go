package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	"github.com/jonno85/videovault-chunkstore/internal/adapter"
)

// LoadEnv loads a .env file when one is present. Variables already set win.
func LoadEnv() {
	if err := godotenv.Load(); err != nil {
		slog.Debug("No .env file found or error loading .env file", "err", err)
	}
}

// LoadConfig reads the configuration from the environment.
func LoadConfig() (Config, error) {
	var err error
	cfg := Config{
		ServerPort:      getEnv("SERVER_PORT", "8080"),
		MetricsAddr:     getEnv("METRICS_ADDR", ":2112"),
		Compression:     getEnv("COMPRESSION", "none"),
		BlobBackend:     strings.ToLower(getEnv("BLOB_BACKEND", BlobBackendMinio)),
		ManifestBackend: strings.ToLower(getEnv("MANIFEST_BACKEND", ManifestBackendRedis)),
		S3Bucket:        os.Getenv("S3_BUCKET"),
		AWSRegion:       getEnv("AWS_REGION", "eu-west-1"),
		SQLitePath:      getEnv("SQLITE_PATH", "videovault.db"),
		DatabaseURL:     os.Getenv("DATABASE_URL"),
	}
	if cfg.LogLevel, err = parseLogLevel(getEnv("LOG_LEVEL", "info")); err != nil {
		return cfg, err
	}
	if cfg.ChunkSize, err = getEnvInt64("CHUNK_SIZE", DEFAULT_CHUNK_SIZE); err != nil {
		return cfg, err
	}
	if cfg.MaxChunkSize, err = getEnvInt64("MAX_CHUNK_SIZE", DEFAULT_MAX_CHUNK_SIZE); err != nil {
		return cfg, err
	}
	if cfg.UploadWorkers, err = getEnvInt("UPLOAD_WORKERS", 1); err != nil {
		return cfg, err
	}
	if cfg.BlobRateLimit, err = getEnvFloat("BLOB_RATE_LIMIT", 0); err != nil {
		return cfg, err
	}
	fetchTimeout, err := getEnvInt("SOURCE_FETCH_TIMEOUT_SEC", 300)
	if err != nil {
		return cfg, err
	}
	cfg.SourceFetchTimeout = time.Duration(fetchTimeout) * time.Second

	streamTimeout, err := getEnvInt("STREAM_TIMEOUT_SEC", 30)
	if err != nil {
		return cfg, err
	}
	workers, err := getEnvInt("NUM_WORKERS", 1)
	if err != nil {
		return cfg, err
	}
	cfg.StreamProcessor = StreamProcessorConfig{
		Path:          os.Getenv("DEFAULT_INPUT_PATH"),
		Owner:         getEnv("DEFAULT_OWNER", "local"),
		ChunkSize:     cfg.ChunkSize,
		StreamTimeout: time.Duration(streamTimeout) * time.Second,
		NumWorkers:    workers,
	}

	cfg.Redis = adapter.RedisOptions{
		Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
		Password: os.Getenv("REDIS_PASSWORD"),
		DB:       adapter.ParseRedisDB(os.Getenv("REDIS_DB")),
	}

	switch cfg.BlobBackend {
	case BlobBackendMinio:
		cfg.Minio = adapter.MinioOptions{
			Endpoint:  getEnv("MINIO_ENDPOINT", "localhost:9000"),
			AccessKey: os.Getenv("MINIO_ACCESS_KEY"),
			SecretKey: os.Getenv("MINIO_SECRET_KEY"),
			UseSSL:    strings.ToLower(os.Getenv("MINIO_USE_SSL")) == "true",
			Bucket:    cfg.S3Bucket,
			Region:    cfg.AWSRegion,
		}
		if cfg.Minio.AccessKey == "" || cfg.Minio.SecretKey == "" {
			return cfg, errors.New("MINIO_ACCESS_KEY and MINIO_SECRET_KEY are required for the minio backend")
		}
		if cfg.S3Bucket == "" {
			return cfg, errors.New("S3_BUCKET is not set")
		}
	case BlobBackendS3:
		if cfg.S3Bucket == "" {
			return cfg, errors.New("S3_BUCKET is not set")
		}
	case BlobBackendTelegram:
		cfg.Telegram = adapter.TelegramOptions{
			Token:     os.Getenv("TELEGRAM_BOT_TOKEN"),
			ChannelID: os.Getenv("TELEGRAM_CHANNEL_ID"),
			APIURL:    os.Getenv("TELEGRAM_API_URL"),
		}
		if cfg.Telegram.Token == "" || cfg.Telegram.ChannelID == "" {
			return cfg, errors.New("TELEGRAM_BOT_TOKEN and TELEGRAM_CHANNEL_ID are required for the telegram backend")
		}
		if cfg.MaxChunkSize > adapter.TelegramMaxChunkSize {
			cfg.MaxChunkSize = adapter.TelegramMaxChunkSize
		}
	default:
		return cfg, fmt.Errorf("unknown BLOB_BACKEND %q", cfg.BlobBackend)
	}

	if cfg.ChunkSize <= 0 || cfg.ChunkSize > cfg.MaxChunkSize {
		return cfg, fmt.Errorf("CHUNK_SIZE must be between 1 and MAX_CHUNK_SIZE (%d), got %d", cfg.MaxChunkSize, cfg.ChunkSize)
	}

	switch cfg.ManifestBackend {
	case ManifestBackendRedis, ManifestBackendSQLite:
	case ManifestBackendPostgres:
		if cfg.DatabaseURL == "" {
			return cfg, errors.New("DATABASE_URL is required for the postgres manifest backend")
		}
	default:
		return cfg, fmt.Errorf("unknown MANIFEST_BACKEND %q", cfg.ManifestBackend)
	}
	return cfg, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) (int, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid integer: %w", key, err)
	}
	return n, nil
}

func getEnvFloat(key string, fallback float64) (float64, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s is not a valid number: %w", key, err)
	}
	return f, nil
}

func parseLogLevel(v string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(v)); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL: %w", err)
	}
	return level, nil
}
