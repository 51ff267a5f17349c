package utils

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePath rejects an empty local file path, one that still climbs out
// of its starting directory once cleaned, and an absolute one unless
// allowAbsolute is set. ".." counts only as a whole path element, so
// names such as "site..css" are fine.
//
//	if err := ValidatePath(cfg.Gallery.StylesheetPath, true); err != nil {
//		return fmt.Errorf("invalid stylesheet path: %w", err)
//	}
func ValidatePath(path string, allowAbsolute bool) error {
	if path == "" {
		return fmt.Errorf("path cannot be empty")
	}

	cleaned := filepath.Clean(path)
	for _, elem := range strings.Split(filepath.ToSlash(cleaned), "/") {
		if elem == ".." {
			return fmt.Errorf("path contains directory traversal: %s", path)
		}
	}

	if !allowAbsolute && filepath.IsAbs(cleaned) {
		return fmt.Errorf("absolute paths not allowed: %s", path)
	}
	return nil
}
