package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput      = errors.New("invalid input")
	ErrSourceUnreachable = errors.New("source unreachable")
	ErrRemoteStore       = errors.New("remote store error")
	ErrDuplicateID       = errors.New("duplicate file id")
	ErrNotFound          = errors.New("not found")
	ErrChunkUnavailable  = errors.New("chunk unavailable")
	ErrInvalidManifest   = errors.New("invalid manifest")
)

// ChunkUnavailableError names the chunk that could not be read back during a download.
type ChunkUnavailableError struct {
	Index    int
	RemoteID string
	Err      error
}

func (e *ChunkUnavailableError) Error() string {
	return fmt.Sprintf("chunk %d (%s) unavailable: %v", e.Index, e.RemoteID, e.Err)
}

func (e *ChunkUnavailableError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrChunkUnavailable) match without wrapping the sentinel.
func (e *ChunkUnavailableError) Is(target error) bool {
	return target == ErrChunkUnavailable
}
