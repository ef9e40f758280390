package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jonno85/videovault-chunkstore/internal/chunk"
	"github.com/jonno85/videovault-chunkstore/internal/domain"
	"github.com/jonno85/videovault-chunkstore/internal/service/utils"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

const (
	maxUploadAttempts = 5
	initialBackoff    = 1 * time.Millisecond

	// MinIO/S3 prefixes user metadata with "X-Amz-Meta-"
	hashMetadataKey = "X-Amz-Meta-Hash"
)

var errHashMismatch = errors.New("chunk already exists but hash does not match")

// MinioOptions configures the MinIO blob store.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	UseSSL    bool
	Bucket    string
	Region    string
}

// MinioBlobStore stores chunks as objects in a MinIO (or S3 compatible) bucket.
type MinioBlobStore struct {
	s3Client *minio.Client
	bucket   string
	region   string
}

func NewMinioBlobStore(opts MinioOptions) (*MinioBlobStore, error) {
	if opts.Bucket == "" {
		return nil, errors.New("minio: bucket required")
	}
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("create minio client: %w", err)
	}
	return &MinioBlobStore{
		s3Client: client,
		bucket:   opts.Bucket,
		region:   opts.Region,
	}, nil
}

func (s *MinioBlobStore) Backend() string { return "minio" }

// EnsureBucket creates the bucket when it does not exist yet.
func (s *MinioBlobStore) EnsureBucket(ctx context.Context) error {
	exists, err := s.s3Client.BucketExists(ctx, s.bucket)
	if err != nil {
		return fmt.Errorf("check bucket %s: %w", s.bucket, err)
	}
	if exists {
		return nil
	}
	if err := s.s3Client.MakeBucket(ctx, s.bucket, minio.MakeBucketOptions{Region: s.region}); err != nil {
		return fmt.Errorf("create bucket %s: %w", s.bucket, err)
	}
	slog.Info("Bucket created", "bucket", s.bucket)
	return nil
}

// Store uploads data under the object key name. Re-storing identical bytes is a no-op.
func (s *MinioBlobStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	hash := chunk.Hash(data)
	objInfo, err := s.s3Client.StatObject(ctx, s.bucket, name, minio.StatObjectOptions{})
	if err == nil {
		remoteHash := objInfo.UserMetadata[hashMetadataKey]
		if remoteHash == hash {
			slog.Info("Chunk already exists and hash matches", "chunkName", name, "hash", hash)
			return name, nil
		}
		slog.Warn("Chunk already exists but hash does not match", "chunkName", name, "remoteHash", remoteHash, "hash", hash)
		return "", fmt.Errorf("store %s: %w", name, errHashMismatch)
	}

	slog.Debug("Uploading chunk", "chunkName", name, "size", len(data))
	_, err = utils.Retry(ctx, maxUploadAttempts, initialBackoff, isRetryableMinioError, func() (minio.UploadInfo, error) {
		return s.s3Client.PutObject(ctx, s.bucket, name, bytes.NewReader(data), int64(len(data)), minio.PutObjectOptions{
			ContentType:  "application/octet-stream",
			UserMetadata: map[string]string{"hash": hash},
		})
	})
	if err != nil {
		return "", fmt.Errorf("store %s: %w", name, err)
	}
	return name, nil
}

func (s *MinioBlobStore) Fetch(ctx context.Context, remoteID string) ([]byte, error) {
	data, err := utils.Retry(ctx, maxUploadAttempts, initialBackoff, isRetryableMinioError, func() ([]byte, error) {
		obj, err := s.s3Client.GetObject(ctx, s.bucket, remoteID, minio.GetObjectOptions{})
		if err != nil {
			return nil, err
		}
		defer obj.Close()
		return io.ReadAll(obj)
	})
	if err != nil {
		if isMissingObject(err) {
			return nil, fmt.Errorf("fetch %s: %w", remoteID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("fetch %s: %w", remoteID, err)
	}
	return data, nil
}

func (s *MinioBlobStore) Delete(ctx context.Context, remoteID string) error {
	return s.s3Client.RemoveObject(ctx, s.bucket, remoteID, minio.RemoveObjectOptions{})
}

func isMissingObject(err error) bool {
	code := minio.ToErrorResponse(err).Code
	return code == "NoSuchKey" || code == "NoSuchBucket"
}

func isRetryableMinioError(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	return !isMissingObject(err) && !errors.Is(err, errHashMismatch)
}
