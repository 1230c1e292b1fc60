// Package content provides the content-addressing primitives the
// reconciliation and index components share: a streaming hash over file
// bytes, and the gzip codec the on-disk index is stored under.
package content

import (
	"encoding/hex"
	"fmt"
	"hash"
	"io"
	"os"
)

// HashFile computes the content hash of the file at fsPath and returns it
// as a lowercase hex digest. Uses streaming I/O so memory stays constant
// regardless of file size.
func HashFile(fsPath string) (string, error) {
	f, err := os.Open(fsPath)
	if err != nil {
		return "", fmt.Errorf("content: opening %s for hashing: %w", fsPath, err)
	}
	defer f.Close()

	return HashReader(f)
}

// HashReader computes the content hash of r and returns it as a lowercase
// hex digest.
func HashReader(r io.Reader) (string, error) {
	h := newDigest()
	if _, err := io.Copy(h, r); err != nil {
		return "", fmt.Errorf("content: hashing: %w", err)
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// newDigest returns the hash.Hash implementation used for content digests
// across the engine (index entries, conflict-record ancestor hashes, the
// reconciler's local/remote change detection).
func newDigest() hash.Hash {
	return md5New()
}
