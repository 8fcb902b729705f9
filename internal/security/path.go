package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidateFilePath rejects empty paths, NUL bytes and any ".." element.
// It guards the config and database paths, which may come from the environment.
func ValidateFilePath(path string) error {
	if path == "" {
		return fmt.Errorf("file path cannot be empty")
	}

	if strings.ContainsRune(path, '\x00') {
		return fmt.Errorf("path contains NUL byte")
	}

	// Reject traversal in the raw path; Clean would silently resolve it
	for _, part := range strings.Split(filepath.ToSlash(path), "/") {
		if part == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	return nil
}
