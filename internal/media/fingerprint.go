package media

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/codebuildervaibhav/trigger-engine/internal/types"
)

// Fingerprint returns the hex SHA-256 over every file of the artifact, in
// order.
func Fingerprint(artifact types.Artifact) (string, error) {
	if len(artifact.Paths) == 0 {
		return "", errors.New("media: artifact has no files")
	}
	h := sha256.New()
	for _, path := range artifact.Paths {
		if err := hashFile(h, path); err != nil {
			return "", err
		}
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

func hashFile(w io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("fingerprint: %w", err)
	}
	defer f.Close()
	if _, err := io.Copy(w, f); err != nil {
		return fmt.Errorf("fingerprint %s: %w", path, err)
	}
	return nil
}
