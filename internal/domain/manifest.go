package domain

import (
	"fmt"
	"time"
)

// ChunkRef points at one stored chunk of an original file.
type ChunkRef struct {
	Index    int    `json:"index"`
	RemoteID string `json:"remote_id"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// Manifest is the ordered record of chunk references needed to rebuild one file.
type Manifest struct {
	FileID      string     `json:"file_id"`
	Filename    string     `json:"filename"`
	TotalSize   int64      `json:"total_size"`
	ChunkCount  int        `json:"chunk_count"`
	ChunkSize   int64      `json:"chunk_size"`
	Chunks      []ChunkRef `json:"chunks"`
	CreatedAt   time.Time  `json:"created_at"`
	Owner       string     `json:"owner"`
	Compression string     `json:"compression,omitempty"`
	Backend     string     `json:"backend,omitempty"`
	SourceURL   string     `json:"source_url,omitempty"`
}

// Validate checks the structural invariants of a manifest.
func (m Manifest) Validate() error {
	if m.FileID == "" {
		return fmt.Errorf("%w: empty file id", ErrInvalidManifest)
	}
	if m.ChunkCount < 1 {
		return fmt.Errorf("%w: chunk count %d", ErrInvalidManifest, m.ChunkCount)
	}
	if len(m.Chunks) != m.ChunkCount {
		return fmt.Errorf("%w: %d chunks, chunk count %d", ErrInvalidManifest, len(m.Chunks), m.ChunkCount)
	}
	var total int64
	for i, ref := range m.Chunks {
		if ref.Index != i {
			return fmt.Errorf("%w: chunk %d has index %d", ErrInvalidManifest, i, ref.Index)
		}
		if ref.RemoteID == "" {
			return fmt.Errorf("%w: chunk %d has no remote id", ErrInvalidManifest, i)
		}
		if ref.Size <= 0 {
			return fmt.Errorf("%w: chunk %d has size %d", ErrInvalidManifest, i, ref.Size)
		}
		total += ref.Size
	}
	if total != m.TotalSize {
		return fmt.Errorf("%w: chunks sum to %d, total size %d", ErrInvalidManifest, total, m.TotalSize)
	}
	return nil
}
