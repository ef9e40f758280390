// Package chunk splits byte streams into fixed-size chunks and joins them back in order.
package chunk

import (
	"errors"
	"fmt"
	"io"

	"github.com/jonno85/videovault-chunkstore/internal/domain"
)

// DefaultSize is the default chunk size (4 MiB).
const DefaultSize = 4 << 20

// ErrNotRestartable is returned by Reset when the underlying reader cannot seek.
var ErrNotRestartable = errors.New("chunk: reader is not restartable")

// Chunk is one slice of the source stream.
type Chunk struct {
	Index    int
	Data     []byte
	Checksum string
}

// Count returns how many chunks a stream of total bytes produces.
func Count(total, size int64) int64 {
	if total <= 0 || size <= 0 {
		return 0
	}
	n := total / size
	if total%size != 0 {
		n++
	}
	return n
}

// Splitter reads a stream lazily and returns one chunk per Next call.
type Splitter struct {
	r     io.Reader
	size  int
	index int
	done  bool
}

// NewSplitter returns a splitter producing chunks of size bytes.
func NewSplitter(r io.Reader, size int) (*Splitter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size %d", domain.ErrInvalidInput, size)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: nil reader", domain.ErrInvalidInput)
	}
	return &Splitter{r: r, size: size}, nil
}

// Next returns the next chunk, or io.EOF once the stream is exhausted.
// Every chunk except the last holds exactly size bytes.
func (s *Splitter) Next() (Chunk, error) {
	if s.done {
		return Chunk{}, io.EOF
	}
	buf := make([]byte, s.size)
	n, err := io.ReadFull(s.r, buf)
	switch {
	case err == io.EOF:
		s.done = true
		return Chunk{}, io.EOF
	case err == io.ErrUnexpectedEOF:
		s.done = true
	case err != nil:
		return Chunk{}, err
	}
	data := buf[:n]
	c := Chunk{
		Index:    s.index,
		Data:     data,
		Checksum: Hash(data),
	}
	s.index++
	return c, nil
}

// Reset rewinds the splitter to the start of the stream.
func (s *Splitter) Reset() error {
	seeker, ok := s.r.(io.Seeker)
	if !ok {
		return ErrNotRestartable
	}
	if _, err := seeker.Seek(0, io.SeekStart); err != nil {
		return err
	}
	s.index = 0
	s.done = false
	return nil
}

// Split streams chunks of r to fn in order; the final chunk may be smaller.
func Split(r io.Reader, size int, fn func(Chunk) error) error {
	s, err := NewSplitter(r, size)
	if err != nil {
		return err
	}
	for {
		c, err := s.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
		if err := fn(c); err != nil {
			return err
		}
	}
}
