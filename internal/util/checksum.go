package util

import (
	"crypto/sha1"
	"fmt"
	"io"
	"os"
	"strings"
)

// FileSHA1 computes the SHA-1 digest of the file at path, streaming the
// contents in fixed-size chunks so arbitrarily large files never need to
// be buffered whole. The digest is returned as uppercase hex.
func FileSHA1(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s for checksum: %w", path, err)
	}
	defer f.Close()

	h := sha1.New()
	buf := make([]byte, 4096)
	if _, err := io.CopyBuffer(h, f, buf); err != nil {
		return "", fmt.Errorf("read %s for checksum: %w", path, err)
	}

	return fmt.Sprintf("%X", h.Sum(nil)), nil
}

// ChecksumsEqual compares two hex digests case-insensitively.
func ChecksumsEqual(a, b string) bool {
	return strings.EqualFold(a, b)
}
