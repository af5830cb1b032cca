package gesture

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

var (
	gzipMagic = []byte{0x1f, 0x8b}
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
)

// Decompress transparently unwraps a gesture archive that was stored
// gzip- or zstd-compressed, detected by file extension first and magic
// bytes second. Uncompressed data passes through unchanged.
func Decompress(name string, data []byte) ([]byte, error) {
	switch {
	case strings.HasSuffix(name, ".gz"),
		bytes.HasPrefix(data, gzipMagic):
		return gunzip(data)
	case strings.HasSuffix(name, ".zst"),
		strings.HasSuffix(name, ".zstd"),
		bytes.HasPrefix(data, zstdMagic):
		return unzstd(data)
	default:
		return data, nil
	}
}

func gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening gzip stream: %w", err)
	}

	defer func() { _ = r.Close() }()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing gzip stream: %w", err)
	}

	return out, nil
}

func unzstd(data []byte) ([]byte, error) {
	r, err := zstd.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("opening zstd stream: %w", err)
	}

	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("decompressing zstd stream: %w", err)
	}

	return out, nil
}
