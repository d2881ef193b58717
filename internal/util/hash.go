package util

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
)

// Digest reads r to the end and returns its hex sha256 and length.
func Digest(r io.Reader) (string, int64, error) {
	h := sha256.New()
	n, err := io.Copy(h, r)
	if err != nil {
		return "", n, fmt.Errorf("digest: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ContentName hashes r and lays the digest out with ContentPath. The reader
// is consumed.
func ContentName(r io.Reader, ext string) (name string, size int64, err error) {
	digest, size, err := Digest(r)
	if err != nil {
		return "", size, err
	}
	return ContentPath(digest, ext), size, nil
}
