package utils

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// Fixed object names of a published gallery.
const (
	ThumbPrefix    = "thumb/"
	IndexName      = "index.html"
	StylesheetName = "gallery.css"
	KeySeparator   = "/"
)

// JoinKey joins key segments with "/", dropping empty segments and any
// surrounding slashes.
func JoinKey(parts ...string) string {
	segs := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.Trim(p, KeySeparator)
		if p != "" {
			segs = append(segs, p)
		}
	}
	return strings.Join(segs, KeySeparator)
}

// SplitKey returns the non-empty segments of a key or node path.
func SplitKey(key string) []string {
	var segs []string
	for _, s := range strings.Split(key, KeySeparator) {
		if s != "" {
			segs = append(segs, s)
		}
	}
	return segs
}

// DirPrefix returns the listing prefix for a node path: "" for the root,
// otherwise the path with a trailing slash.
func DirPrefix(nodePath string) string {
	nodePath = strings.Trim(nodePath, KeySeparator)
	if nodePath == "" {
		return ""
	}
	return nodePath + KeySeparator
}

// IndexKey returns the index page key for a node path.
func IndexKey(nodePath string) string {
	return JoinKey(nodePath, IndexName)
}

// ThumbKey returns the derivative key for a source key.
func ThumbKey(sourceKey string) string {
	return ThumbPrefix + strings.TrimPrefix(sourceKey, KeySeparator)
}

// RelativeRoot returns the "../" chain leading from the page of nodePath
// back to the namespace root. The root page gets "./" so that a first key
// segment containing ":" is never read as a URL scheme.
func RelativeRoot(nodePath string) string {
	n := len(SplitKey(nodePath))
	if n == 0 {
		return "./"
	}
	return strings.Repeat("../", n)
}

// EscapeKey path-escapes every segment of key so it can be used as a
// relative URL. "#", "?", "%" and spaces stay part of the object name.
func EscapeKey(key string) string {
	segs := strings.Split(key, KeySeparator)
	for i, s := range segs {
		segs[i] = url.PathEscape(s)
	}
	return strings.Join(segs, KeySeparator)
}

// KeyHref returns the link to key from the page of nodePath.
func KeyHref(nodePath, key string) string {
	return RelativeRoot(nodePath) + EscapeKey(key)
}

// BaseName returns the last segment of a key or node path.
func BaseName(key string) string {
	segs := SplitKey(key)
	if len(segs) == 0 {
		return ""
	}
	return segs[len(segs)-1]
}

// ValidateKey rejects keys that cannot be addressed as gallery objects:
// empty, absolute, or containing empty or dot segments.
func ValidateKey(key string) error {
	if key == "" {
		return fmt.Errorf("key cannot be empty")
	}
	if strings.HasPrefix(key, KeySeparator) {
		return fmt.Errorf("key must not start with %q: %s", KeySeparator, key)
	}
	for _, s := range strings.Split(strings.TrimSuffix(key, KeySeparator), KeySeparator) {
		switch s {
		case "":
			return fmt.Errorf("key contains an empty segment: %s", key)
		case ".", "..":
			return fmt.Errorf("key contains a relative segment: %s", key)
		}
	}
	return nil
}

// HasExtension reports whether key ends in one of exts, ignoring case.
// Extensions are given with their leading dot.
func HasExtension(key string, exts []string) bool {
	ext := strings.ToLower(path.Ext(key))
	if ext == "" {
		return false
	}
	for _, e := range exts {
		if strings.ToLower(e) == ext {
			return true
		}
	}
	return false
}

// IsImageKey reports whether key names a gallery image: its base name
// starts with prefix and its extension is one of exts.
func IsImageKey(key, prefix string, exts []string) bool {
	if strings.HasSuffix(key, KeySeparator) {
		return false
	}
	if !strings.HasPrefix(BaseName(key), prefix) {
		return false
	}
	return HasExtension(key, exts)
}
