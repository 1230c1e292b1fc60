package content

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
)

// gzipMagic is the two-byte header every gzip stream starts with.
var gzipMagic = []byte{0x1f, 0x8b}

// IsGzip reports whether data begins with the gzip magic bytes. The index
// store uses this to tell a compressed index file apart from the `_raw`
// uncompressed backup sibling without relying on file extension alone.
func IsGzip(data []byte) bool {
	return len(data) >= 2 && bytes.Equal(data[:2], gzipMagic)
}

// Compress gzips data at the default compression level.
func Compress(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		return nil, fmt.Errorf("content: gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("content: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decompress reads data, transparently gunzipping it if it carries the
// gzip magic header and returning it verbatim otherwise.
func Decompress(data []byte) ([]byte, error) {
	if !IsGzip(data) {
		return data, nil
	}

	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("content: gzip reader: %w", err)
	}
	defer r.Close()

	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("content: gzip read: %w", err)
	}
	return out, nil
}
