package security

import (
	"fmt"
	"path/filepath"
	"regexp"
	"strings"
)

var (
	// ValidPackageNameRegex matches dotted application ids (com.example.app)
	ValidPackageNameRegex = regexp.MustCompile(`^[a-zA-Z][a-zA-Z0-9_]*(\.[a-zA-Z][a-zA-Z0-9_]*)+$`)

	// ValidFileNameRegex allows alphanumeric, dash, underscore, plus and dot
	ValidFileNameRegex = regexp.MustCompile(`^[a-zA-Z0-9._+-]+$`)

	// ValidUserIDRegex matches an Android user id
	ValidUserIDRegex = regexp.MustCompile(`^[0-9]+$`)
)

// ValidatePackageName validates an application id for safety
func ValidatePackageName(name string) error {
	if name == "" {
		return fmt.Errorf("package name cannot be empty")
	}

	if len(name) > 255 {
		return fmt.Errorf("package name too long (max 255 characters)")
	}

	if !ValidPackageNameRegex.MatchString(name) {
		return fmt.Errorf("invalid package name %q: must be dotted segments of letters, digits or underscores", name)
	}

	return nil
}

// ValidateFileName validates the name of a cached artifact.
// It must be a single path element.
func ValidateFileName(name string) error {
	if name == "" {
		return fmt.Errorf("file name cannot be empty")
	}

	if len(name) > 255 {
		return fmt.Errorf("file name too long (max 255 characters)")
	}

	if strings.Contains(name, "\x00") {
		return fmt.Errorf("file name contains null byte")
	}

	if name == "." || name == ".." || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("file name must not contain path elements: %s", name)
	}

	if strings.HasPrefix(name, ".") {
		return fmt.Errorf("file name must not be hidden: %s", name)
	}

	if !ValidFileNameRegex.MatchString(name) {
		return fmt.Errorf("invalid file name %q: must contain only alphanumeric, dot, dash, underscore or plus characters", name)
	}

	return nil
}

// ValidateUserID validates a user id reported by the device
func ValidateUserID(id string) error {
	if !ValidUserIDRegex.MatchString(id) {
		return fmt.Errorf("invalid user id: %q", id)
	}
	return nil
}

// ValidateCommandArg validates a command-line argument for safety
func ValidateCommandArg(arg string) error {
	if strings.Contains(arg, "\x00") {
		return fmt.Errorf("argument contains null byte")
	}

	dangerousChars := []string{
		";", "&", "|", "`", "$", "(", ")", "<", ">", "\n", "\r",
	}

	for _, char := range dangerousChars {
		if strings.Contains(arg, char) {
			return fmt.Errorf("argument contains dangerous character: %s", char)
		}
	}

	return nil
}

// IsPathWithinDirectory checks if a target path is within a given base directory
func IsPathWithinDirectory(targetPath, basePath string) (bool, error) {
	if !filepath.IsAbs(targetPath) {
		return false, fmt.Errorf("target path must be absolute, got relative path: %s", targetPath)
	}
	if !filepath.IsAbs(basePath) {
		return false, fmt.Errorf("base path must be absolute, got relative path: %s", basePath)
	}

	rel, err := filepath.Rel(filepath.Clean(basePath), filepath.Clean(targetPath))
	if err != nil {
		return false, fmt.Errorf("failed to compute relative path: %w", err)
	}

	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return false, nil
	}

	return true, nil
}
