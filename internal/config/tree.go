package config

import (
	"fmt"
	"strings"

	"github.com/s3gallery/s3gallery/pkg/utils"
)

// Kinds of a declared tree entry.
const (
	KindLeaf      = "leaf"
	KindDirectory = "directory"
)

// TreeEntry declares one gallery node in configuration. Declaring the tree
// replaces discovery from the source listing. The node path is the entry
// name joined onto its parents' names.
type TreeEntry struct {
	Name     string      `yaml:"name"`
	Kind     string      `yaml:"kind"`
	Children []TreeEntry `yaml:"children,omitempty"`
}

// ValidateTree checks names, kinds and sibling uniqueness recursively.
func ValidateTree(entries []TreeEntry) error {
	return validateTree(entries, "")
}

func validateTree(entries []TreeEntry, parent string) error {
	seen := make(map[string]bool, len(entries))
	for _, e := range entries {
		if e.Name == "" || strings.Contains(e.Name, "/") {
			return fmt.Errorf("tree entry under %q has invalid name %q", parent, e.Name)
		}
		path := utils.JoinKey(parent, e.Name)
		if err := utils.ValidateKey(path); err != nil {
			return fmt.Errorf("tree entry %q: %w", path, err)
		}
		if seen[e.Name] {
			return fmt.Errorf("tree entry %q declared twice", path)
		}
		seen[e.Name] = true

		switch e.Kind {
		case KindLeaf:
			if len(e.Children) > 0 {
				return fmt.Errorf("tree entry %q is a leaf but declares children", path)
			}
		case KindDirectory:
			if err := validateTree(e.Children, path); err != nil {
				return err
			}
		default:
			return fmt.Errorf("tree entry %q has invalid kind %q (must be %s or %s)",
				path, e.Kind, KindLeaf, KindDirectory)
		}
	}
	return nil
}
