package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath performs general path validation
func ValidatePath(path string) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	if strings.Contains(path, "\x00") {
		return fmt.Errorf("path contains null bytes: %s", path)
	}

	if len(path) > 4096 {
		return fmt.Errorf("path too long: %d characters", len(path))
	}

	return nil
}

// SanitizePath sanitizes a file path for safe use
func SanitizePath(path string) string {
	cleaned := filepath.Clean(path)
	return strings.ReplaceAll(cleaned, "\x00", "")
}
