// Package fileid derives stable identifiers for source documents.
package fileid

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
)

const prefix = "sha256:"

// Fingerprint returns a content hash of a source document. Identical bytes always give the
// same fingerprint regardless of path or modification time.
func Fingerprint(content []byte) string {
	hash := sha256.Sum256(content)
	return prefix + hex.EncodeToString(hash[:])
}

// FileFingerprint reads path and returns its Fingerprint.
func FileFingerprint(path string) (string, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return Fingerprint(content), nil
}

// SourceName is the name stored in each record's payload: the base name of the cleaned path.
func SourceName(path string) string {
	return filepath.Base(filepath.Clean(path))
}
