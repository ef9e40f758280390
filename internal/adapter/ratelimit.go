package adapter

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimitedBlobStore throttles calls to an underlying blob store with a token bucket.
type RateLimitedBlobStore struct {
	next    BlobStore
	limiter *rate.Limiter
}

// NewRateLimitedBlobStore allows opsPerSecond calls with the given burst. A non-positive rate disables throttling.
func NewRateLimitedBlobStore(next BlobStore, opsPerSecond float64, burst int) BlobStore {
	if opsPerSecond <= 0 {
		return next
	}
	if burst < 1 {
		burst = 1
	}
	return &RateLimitedBlobStore{
		next:    next,
		limiter: rate.NewLimiter(rate.Limit(opsPerSecond), burst),
	}
}

func (r *RateLimitedBlobStore) Backend() string { return r.next.Backend() }

func (r *RateLimitedBlobStore) Store(ctx context.Context, name string, data []byte) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", err
	}
	return r.next.Store(ctx, name, data)
}

func (r *RateLimitedBlobStore) Fetch(ctx context.Context, remoteID string) ([]byte, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return r.next.Fetch(ctx, remoteID)
}

func (r *RateLimitedBlobStore) Delete(ctx context.Context, remoteID string) error {
	if err := r.limiter.Wait(ctx); err != nil {
		return err
	}
	return r.next.Delete(ctx, remoteID)
}
