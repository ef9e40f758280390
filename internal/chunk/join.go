package chunk

import (
	"bytes"
	"context"
	"io"
)

// Join concatenates the given chunk buffers in order.
func Join(parts ...[]byte) io.Reader {
	readers := make([]io.Reader, len(parts))
	for i, p := range parts {
		readers[i] = bytes.NewReader(p)
	}
	return io.MultiReader(readers...)
}

// FetchFunc returns the bytes of chunk i.
type FetchFunc func(ctx context.Context, i int) ([]byte, error)

// Reader joins count chunks lazily: chunk i is fetched only once chunk i-1 has been consumed.
type Reader struct {
	ctx    context.Context
	count  int
	fetch  FetchFunc
	index  int
	buf    []byte
	off    int
	err    error
	closed bool
}

// NewReader returns a reader that streams count chunks obtained from fetch.
func NewReader(ctx context.Context, count int, fetch FetchFunc) *Reader {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Reader{ctx: ctx, count: count, fetch: fetch}
}

func (r *Reader) Read(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	n := 0
	for n < len(p) {
		if r.off >= len(r.buf) {
			if err := r.loadNext(); err != nil {
				if n > 0 && err == io.EOF {
					return n, nil
				}
				return n, err
			}
			continue
		}
		copied := copy(p[n:], r.buf[r.off:])
		r.off += copied
		n += copied
	}
	return n, nil
}

func (r *Reader) loadNext() error {
	if r.err != nil {
		return r.err
	}
	if r.closed {
		r.err = io.ErrClosedPipe
		return r.err
	}
	if r.index >= r.count {
		r.err = io.EOF
		return r.err
	}
	if err := r.ctx.Err(); err != nil {
		r.err = err
		return err
	}
	data, err := r.fetch(r.ctx, r.index)
	if err != nil {
		r.err = err
		return err
	}
	r.buf = data
	r.off = 0
	r.index++
	return nil
}

// Close releases the current buffer and stops further fetches.
func (r *Reader) Close() error {
	r.closed = true
	r.buf = nil
	r.off = 0
	return nil
}
