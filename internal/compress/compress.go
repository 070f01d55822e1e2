// Copyright 2025 Google LLC. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package compress decompresses image payloads selected by compression id,
// refusing output larger than the caller's limit.
package compress

import (
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"

	"github.com/google/bootcore/internal/image"
	"github.com/klauspost/compress/zstd"
	gzip "github.com/klauspost/pgzip"
	"github.com/pierrec/lz4/v4"
	"github.com/ulikunitz/xz/lzma"
)

var (
	// ErrTooLarge is returned when the output would exceed the limit.
	ErrTooLarge = errors.New("image too large")
	// ErrUnsupported is returned for compression methods with no codec.
	ErrUnsupported = errors.New("unsupported compression")
)

type decoder func(r io.Reader) (io.ReadCloser, error)

var decoders = map[image.Comp]decoder{
	image.CompGzip: func(r io.Reader) (io.ReadCloser, error) {
		zr, err := gzip.NewReader(r)
		if err != nil {
			return nil, err
		}
		// Images are often followed by unrelated bytes in memory.
		zr.Multistream(false)
		return zr, nil
	},
	image.CompBzip2: func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(bzip2.NewReader(r)), nil
	},
	image.CompLZMA: func(r io.Reader) (io.ReadCloser, error) {
		lr, err := lzma.NewReader(r)
		if err != nil {
			return nil, err
		}
		return io.NopCloser(lr), nil
	},
	image.CompLZ4: func(r io.Reader) (io.ReadCloser, error) {
		return io.NopCloser(lz4.NewReader(r)), nil
	},
	image.CompZstd: func(r io.Reader) (io.ReadCloser, error) {
		d, err := zstd.NewReader(r)
		if err != nil {
			return nil, err
		}
		return d.IOReadCloser(), nil
	},
}

// Decompress expands src. If limit is positive, output longer than limit
// bytes fails with ErrTooLarge.
func Decompress(c image.Comp, src []byte, limit int) ([]byte, error) {
	if c == image.CompNone {
		if limit > 0 && len(src) > limit {
			return nil, fmt.Errorf("%w: %d bytes, limit %d", ErrTooLarge, len(src), limit)
		}
		return src, nil
	}
	dec, ok := decoders[c]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupported, c.Description())
	}
	rc, err := dec(bytes.NewReader(src))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, int64(limit)+1)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", c, err)
	}
	if limit > 0 && len(out) > limit {
		return nil, fmt.Errorf("%w: more than %d bytes after %s decompression", ErrTooLarge, limit, c)
	}
	return out, nil
}

type encoder func(w io.Writer) (io.WriteCloser, error)

var encoders = map[image.Comp]encoder{
	image.CompGzip: func(w io.Writer) (io.WriteCloser, error) {
		return gzip.NewWriterLevel(w, gzip.BestCompression)
	},
	image.CompLZMA: func(w io.Writer) (io.WriteCloser, error) {
		return lzma.NewWriter(w)
	},
	image.CompLZ4: func(w io.Writer) (io.WriteCloser, error) {
		return lz4.NewWriter(w), nil
	},
	image.CompZstd: func(w io.Writer) (io.WriteCloser, error) {
		return zstd.NewWriter(w)
	},
}

// Compress compresses src, for building images.
func Compress(c image.Comp, src []byte) ([]byte, error) {
	if c == image.CompNone {
		return src, nil
	}
	enc, ok := encoders[c]
	if !ok {
		return nil, fmt.Errorf("%w: cannot create %s data", ErrUnsupported, c)
	}
	var b bytes.Buffer
	w, err := enc(&b)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(src); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return b.Bytes(), nil
}
