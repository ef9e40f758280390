package adapter

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	redis "github.com/redis/go-redis/v9"
)

const (
	QueueNew        = "queue:new"
	QueueInProgress = "queue:in-progress"
	QueueCompleted  = "queue:completed"
	WatchedPaths    = "watch:paths"
	TTL_INFINITE    = 0

	jobKeyPrefix      = "ingest:job:"
	manifestKeyPrefix = "manifest:"
	ownerKeyPrefix    = "owner:"
)

type FilePath = string

// RedisOperationalClient is the ingest side of the Redis adapter: the work queue and the watch registry.
type RedisOperationalClient interface {
	Enqueue(ctx context.Context, job domain.IngestJob) error
	DequeueInProgress(ctx context.Context, timeout time.Duration) (FilePath, error)
	DequeueStaleFile(ctx context.Context) (FilePath, error)
	PendingCount(ctx context.Context) (int64, error)
	DequeueCompleted(ctx context.Context, key FilePath) error
	RequeueFailed(ctx context.Context, key FilePath) error
	SetPathWatcher(ctx context.Context, path FilePath, watch domain.WatchedPath) error
	HasPathWatcher(ctx context.Context, path FilePath) (bool, error)
	ListPathWatchers(ctx context.Context) ([]domain.WatchedPath, error)
	DelPathWatcher(ctx context.Context, path FilePath) error
	SetIngestJob(ctx context.Context, job domain.IngestJob) error
	UpdateIngestJob(ctx context.Context, job domain.IngestJob) (bool, error)
	GetIngestJob(ctx context.Context, key FilePath) (domain.IngestJob, error)
	Close() error
}

// RedisOptions configures the Redis connection.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
}

// RedisClientImpl implements both RedisOperationalClient and ManifestStore.
type RedisClientImpl struct {
	redisClient *redis.Client
}

func NewRedisClientImpl(opts RedisOptions) *RedisClientImpl {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		slog.Error("Failed to connect to Redis", "addr", opts.Addr, "err", err)
	}
	return &RedisClientImpl{
		redisClient: client,
	}
}

// NewRedisClientFromClient wraps an existing go-redis client.
func NewRedisClientFromClient(client *redis.Client) *RedisClientImpl {
	return &RedisClientImpl{redisClient: client}
}

func jobKey(path FilePath) string { return jobKeyPrefix + path }

func manifestKey(fileID string) string { return manifestKeyPrefix + fileID }

func ownerManifestsKey(owner string) string { return ownerKeyPrefix + owner + ":manifests" }

// Enqueue pushes the path on the new-jobs queue and writes its record. A job without
// a JobID is a fresh enqueue and gets one; retries keep theirs.
func (r *RedisClientImpl) Enqueue(ctx context.Context, job domain.IngestJob) error {
	if job.JobID == "" {
		job.JobID = uuid.NewString()
	}
	jsonBytes, err := json.Marshal(job)
	if err != nil {
		return err
	}
	_, err = r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		// 1. Push the key to the queue
		pipe.LPush(ctx, QueueNew, job.Path)
		// 2. Set the job record
		pipe.Set(ctx, jobKey(job.Path), jsonBytes, TTL_INFINITE)
		return nil
	})
	slog.Debug("Enqueued", "key", job.Path, "err", err)
	return err
}

// DequeueInProgress blocks up to timeout for a new job and moves it to the in-progress list.
// It returns redis.Nil when the timeout expires.
func (r *RedisClientImpl) DequeueInProgress(ctx context.Context, timeout time.Duration) (FilePath, error) {
	return r.redisClient.BLMove(ctx, QueueNew, QueueInProgress, "RIGHT", "LEFT", timeout).Result()
}

// DequeueStaleFile returns a job left in progress by a previous run. The entry is rotated
// to the head of the in-progress list, not removed, so it survives until the job is
// completed or requeued.
func (r *RedisClientImpl) DequeueStaleFile(ctx context.Context) (FilePath, error) {
	return r.redisClient.LMove(ctx, QueueInProgress, QueueInProgress, "RIGHT", "LEFT").Result()
}

// PendingCount returns the number of entries in the in-progress list.
func (r *RedisClientImpl) PendingCount(ctx context.Context) (int64, error) {
	return r.redisClient.LLen(ctx, QueueInProgress).Result()
}

func (r *RedisClientImpl) DequeueCompleted(ctx context.Context, key FilePath) error {
	_, err := r.redisClient.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LRem(ctx, QueueInProgress, 1, key)
		pipe.LPush(ctx, QueueCompleted, key)
		return nil
	})
	slog.Debug("DequeueCompleted", "key", key, "err", err)
	return err
}

// RequeueFailed takes a job off the in-progress list without marking it completed.
func (r *RedisClientImpl) RequeueFailed(ctx context.Context, key FilePath) error {
	return r.redisClient.LRem(ctx, QueueInProgress, 1, key).Err()
}

func (r *RedisClientImpl) SetPathWatcher(ctx context.Context, path FilePath, watch domain.WatchedPath) error {
	jsonBytes, err := json.Marshal(watch)
	if err != nil {
		return err
	}
	return r.redisClient.HSet(ctx, WatchedPaths, path, jsonBytes).Err()
}

func (r *RedisClientImpl) HasPathWatcher(ctx context.Context, path FilePath) (bool, error) {
	return r.redisClient.HExists(ctx, WatchedPaths, path).Result()
}

func (r *RedisClientImpl) ListPathWatchers(ctx context.Context) ([]domain.WatchedPath, error) {
	entries, err := r.redisClient.HGetAll(ctx, WatchedPaths).Result()
	if err != nil {
		return nil, err
	}
	watches := make([]domain.WatchedPath, 0, len(entries))
	for path, raw := range entries {
		var w domain.WatchedPath
		if err := json.Unmarshal([]byte(raw), &w); err != nil {
			slog.Warn("Skipping malformed watched path", "path", path, "err", err)
			continue
		}
		watches = append(watches, w)
	}
	return watches, nil
}

func (r *RedisClientImpl) DelPathWatcher(ctx context.Context, path FilePath) error {
	return r.redisClient.HDel(ctx, WatchedPaths, path).Err()
}

func (r *RedisClientImpl) SetIngestJob(ctx context.Context, job domain.IngestJob) error {
	jsonBytes, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return r.redisClient.Set(ctx, jobKey(job.Path), jsonBytes, TTL_INFINITE).Err()
}

// UpdateIngestJob writes job only while the stored record still carries the same JobID.
// It returns false, without writing, when the path was queued again in the meantime.
func (r *RedisClientImpl) UpdateIngestJob(ctx context.Context, job domain.IngestJob) (bool, error) {
	jsonBytes, err := json.Marshal(job)
	if err != nil {
		return false, err
	}
	key := jobKey(job.Path)
	updated := false
	err = r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, key).Bytes()
		if errors.Is(err, redis.Nil) {
			return nil
		}
		if err != nil {
			return err
		}
		var stored domain.IngestJob
		if err := json.Unmarshal(current, &stored); err != nil {
			return err
		}
		if stored.JobID != job.JobID {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, jsonBytes, TTL_INFINITE)
			return nil
		})
		if err == nil {
			updated = true
		}
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// The record changed between WATCH and EXEC.
		return false, nil
	}
	return updated, err
}

func (r *RedisClientImpl) GetIngestJob(ctx context.Context, key FilePath) (domain.IngestJob, error) {
	var job domain.IngestJob
	jsonBytes, err := r.redisClient.Get(ctx, jobKey(key)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return job, fmt.Errorf("ingest job %s: %w", key, domain.ErrNotFound)
		}
		return job, err
	}
	if err := json.Unmarshal(jsonBytes, &job); err != nil {
		return job, err
	}
	return job, nil
}

// Create stores the manifest and indexes it under its owner in one MULTI/EXEC, guarded by WATCH.
func (r *RedisClientImpl) Create(ctx context.Context, m domain.Manifest) error {
	if err := m.Validate(); err != nil {
		return err
	}
	jsonBytes, err := json.Marshal(m)
	if err != nil {
		return err
	}
	key := manifestKey(m.FileID)
	err = r.redisClient.Watch(ctx, func(tx *redis.Tx) error {
		n, err := tx.Exists(ctx, key).Result()
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("manifest %s: %w", m.FileID, domain.ErrDuplicateID)
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, jsonBytes, TTL_INFINITE)
			pipe.ZAdd(ctx, ownerManifestsKey(m.Owner), redis.Z{
				Score:  float64(m.CreatedAt.UnixMilli()),
				Member: m.FileID,
			})
			return nil
		})
		return err
	}, key)
	if errors.Is(err, redis.TxFailedErr) {
		// Someone wrote the same key between WATCH and EXEC.
		return fmt.Errorf("manifest %s: %w", m.FileID, domain.ErrDuplicateID)
	}
	return err
}

func (r *RedisClientImpl) Get(ctx context.Context, fileID string) (domain.Manifest, error) {
	var m domain.Manifest
	jsonBytes, err := r.redisClient.Get(ctx, manifestKey(fileID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return m, fmt.Errorf("manifest %s: %w", fileID, domain.ErrNotFound)
		}
		return m, err
	}
	if err := json.Unmarshal(jsonBytes, &m); err != nil {
		return m, fmt.Errorf("manifest %s: %w", fileID, err)
	}
	return m, m.Validate()
}

func (r *RedisClientImpl) ListByOwner(ctx context.Context, owner string) ([]domain.Manifest, error) {
	ids, err := r.redisClient.ZRevRange(ctx, ownerManifestsKey(owner), 0, -1).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return []domain.Manifest{}, nil
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = manifestKey(id)
	}
	values, err := r.redisClient.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}
	manifests := make([]domain.Manifest, 0, len(values))
	for i, v := range values {
		raw, ok := v.(string)
		if !ok {
			slog.Warn("Owner index references a missing manifest", "owner", owner, "fileID", ids[i])
			continue
		}
		var m domain.Manifest
		if err := json.Unmarshal([]byte(raw), &m); err != nil {
			return nil, fmt.Errorf("manifest %s: %w", ids[i], err)
		}
		manifests = append(manifests, m)
	}
	return manifests, nil
}

func (r *RedisClientImpl) Close() error {
	return r.redisClient.Close()
}

// ParseRedisDB parses a REDIS_DB value, falling back to 0.
func ParseRedisDB(value string) int {
	if value == "" {
		return 0
	}
	db, err := strconv.Atoi(value)
	if err != nil {
		return 0
	}
	return db
}
