package pipeline

import (
	"fmt"
	"os"
	"path/filepath"
)

// SaveEvidence writes a captured frame image next to its record. Files are
// named after the record uuid so pruning can remove them together.
func SaveEvidence(dir, recordID string, data []byte) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create evidence directory %s: %w", dir, err)
	}

	path := filepath.Join(dir, recordID+".jpg")
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("failed to write evidence file: %w", err)
	}
	return path, nil
}
