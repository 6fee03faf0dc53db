// Package hash computes stable content fingerprints used to detect whether
// a file's bytes changed between two scans.
package hash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
)

// Error kinds distinguishable with errors.Is.
var (
	ErrNotFound         = errors.New("hash: not found")
	ErrPermissionDenied = errors.New("hash: permission denied")
	ErrIsDirectory      = errors.New("hash: is a directory")
	ErrIO               = errors.New("hash: io error")
)

// blockSize is the read chunk size; it bounds memory use to O(1) in file size.
const blockSize = 64 * 1024

// EmptyHash is the well-known SHA-256 digest of zero bytes.
const EmptyHash = "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"

// File streams the file at path through SHA-256 and returns the lowercase
// hex digest. Hashing a directory fails with ErrIsDirectory.
func File(path string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", mapStatError(path, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s", ErrIsDirectory, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", mapStatError(path, err)
	}
	defer f.Close()

	return Reader(f)
}

// Reader streams r through SHA-256 and returns the lowercase hex digest.
func Reader(r io.Reader) (string, error) {
	h := sha256.New()
	buf := make([]byte, blockSize)
	if _, err := io.CopyBuffer(h, r, buf); err != nil {
		return "", fmt.Errorf("%w: %s", ErrIO, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func mapStatError(path string, err error) error {
	switch {
	case errors.Is(err, os.ErrNotExist):
		return fmt.Errorf("%w: %s", ErrNotFound, path)
	case errors.Is(err, os.ErrPermission):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, path)
	default:
		return fmt.Errorf("%w: %s", ErrIO, err)
	}
}
