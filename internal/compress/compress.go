// Package compress provides read-side decompression for downloaded files.
//
// Atlas buckets occasionally publish metadata compressed; cached files keep
// the remote key's extension, so the extension decides the decoder.
package compress

import (
	"compress/gzip"
	"io"

	"github.com/klauspost/compress/zstd"
)

// Decompress wraps a reader with decompression.
type Decompress func(r io.Reader) (io.ReadCloser, error)

// ForExtension returns the decompressor for a file extension, or false when
// the extension names no known compression format.
func ForExtension(ext string) (Decompress, bool) {
	switch ext {
	case ".gz":
		return gzipDecompress, true
	case ".zst":
		return zstdDecompress, true
	}
	return nil, false
}

func gzipDecompress(r io.Reader) (io.ReadCloser, error) {
	return gzip.NewReader(r)
}

func zstdDecompress(r io.Reader) (io.ReadCloser, error) {
	decoder, err := zstd.NewReader(r)
	if err != nil {
		return nil, err
	}
	return decoder.IOReadCloser(), nil
}
