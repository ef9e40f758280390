package adapter

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/session"
	s3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"

	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

// S3BlobStore stores chunks in an AWS S3 bucket using the shared AWS credential chain.
type S3BlobStore struct {
	svc    s3iface.S3API
	bucket string
}

func NewS3BlobStore(region, bucket string) (*S3BlobStore, error) {
	if bucket == "" {
		return nil, errors.New("s3: bucket required")
	}
	cfg := aws.NewConfig()
	if region != "" {
		cfg = cfg.WithRegion(region)
	}
	sess, err := session.NewSession(cfg)
	if err != nil {
		return nil, fmt.Errorf("create aws session: %w", err)
	}
	return &S3BlobStore{svc: s3.New(sess), bucket: bucket}, nil
}

// NewS3BlobStoreWithClient wraps an existing S3 client.
func NewS3BlobStoreWithClient(svc s3iface.S3API, bucket string) *S3BlobStore {
	return &S3BlobStore{svc: svc, bucket: bucket}
}

func (s *S3BlobStore) Backend() string { return "s3" }

func (s *S3BlobStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	_, err := s.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(name),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/octet-stream"),
	})
	if err != nil {
		return "", fmt.Errorf("put s3://%s/%s: %w", s.bucket, name, err)
	}
	return name, nil
}

func (s *S3BlobStore) Fetch(ctx context.Context, remoteID string) ([]byte, error) {
	obj, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remoteID),
	})
	if err != nil {
		var aerr awserr.Error
		if errors.As(err, &aerr) && aerr.Code() == s3.ErrCodeNoSuchKey {
			return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, remoteID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("get s3://%s/%s: %w", s.bucket, remoteID, err)
	}
	defer obj.Body.Close()
	return io.ReadAll(obj.Body)
}

func (s *S3BlobStore) Delete(ctx context.Context, remoteID string) error {
	_, err := s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(remoteID),
	})
	return err
}
