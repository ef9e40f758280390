// Package compress wraps the chunk compression algorithms a manifest can name.
package compress

import (
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/klauspost/compress/s2"
	"github.com/klauspost/compress/snappy"
	"github.com/klauspost/compress/zlib"
	"github.com/klauspost/compress/zstd"
)

// None is the signature of the identity codec.
const None = "none"

// Codec compresses and decompresses whole chunks.
type Codec interface {
	// Name is the signature recorded in manifests, e.g. "zstd:3".
	Name() string
	Compress(in []byte) ([]byte, error)
	Decompress(in []byte) ([]byte, error)
}

// ForName parses an "alg[:level]" signature. An empty signature means None.
func ForName(sig string) (Codec, error) {
	if sig == "" {
		sig = None
	}
	parts := strings.Split(sig, ":")
	level := -1
	if len(parts) > 1 {
		var err error
		level, err = strconv.Atoi(parts[1])
		if err != nil {
			return nil, fmt.Errorf("compress: bad level in %q: %w", sig, err)
		}
	}
	switch alg := parts[0]; alg {
	case None:
		return identity{}, nil
	case "zstd":
		if level == -1 {
			level = 3
		}
		return &zstdCodec{level: level}, nil
	case "zlib":
		if level == -1 {
			level = 6
		}
		return &zlibCodec{level: level}, nil
	case "s2":
		return s2Codec{}, nil
	case "snappy":
		return snappyCodec{}, nil
	default:
		return nil, fmt.Errorf("compress: unknown algorithm %q", alg)
	}
}

type identity struct{}

func (identity) Name() string                         { return None }
func (identity) Compress(in []byte) ([]byte, error)   { return in, nil }
func (identity) Decompress(in []byte) ([]byte, error) { return in, nil }

type zstdCodec struct {
	level int
}

func (c *zstdCodec) Name() string { return "zstd:" + strconv.Itoa(c.level) }

func (c *zstdCodec) Compress(in []byte) ([]byte, error) {
	enc, err := zstd.NewWriter(nil, zstd.WithEncoderLevel(zstd.EncoderLevelFromZstd(c.level)))
	if err != nil {
		return nil, err
	}
	defer enc.Close()
	return enc.EncodeAll(in, make([]byte, 0, len(in)/2)), nil
}

func (c *zstdCodec) Decompress(in []byte) ([]byte, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return dec.DecodeAll(in, nil)
}

type zlibCodec struct {
	level int
}

func (c *zlibCodec) Name() string { return "zlib:" + strconv.Itoa(c.level) }

func (c *zlibCodec) Compress(in []byte) ([]byte, error) {
	var buf bytes.Buffer
	enc, err := zlib.NewWriterLevel(&buf, c.level)
	if err != nil {
		return nil, err
	}
	if _, err := enc.Write(in); err != nil {
		return nil, err
	}
	if err := enc.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *zlibCodec) Decompress(in []byte) ([]byte, error) {
	dec, err := zlib.NewReader(bytes.NewReader(in))
	if err != nil {
		return nil, err
	}
	defer dec.Close()
	return io.ReadAll(dec)
}

type s2Codec struct{}

func (s2Codec) Name() string                         { return "s2" }
func (s2Codec) Compress(in []byte) ([]byte, error)   { return s2.Encode(nil, in), nil }
func (s2Codec) Decompress(in []byte) ([]byte, error) { return s2.Decode(nil, in) }

type snappyCodec struct{}

func (snappyCodec) Name() string                         { return "snappy" }
func (snappyCodec) Compress(in []byte) ([]byte, error)   { return snappy.Encode(nil, in), nil }
func (snappyCodec) Decompress(in []byte) ([]byte, error) { return snappy.Decode(nil, in) }
