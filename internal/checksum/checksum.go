// Package checksum computes content digests used to detect changed files.
package checksum

import (
	"encoding/hex"
	"io"
	"os"

	"github.com/zeebo/blake3"
)

// Sum returns the hex-encoded BLAKE3 digest of data.
func Sum(data []byte) string {
	h := blake3.Sum256(data)
	return hex.EncodeToString(h[:])
}

// File returns the digest of the file at path.
func File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := blake3.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
