package core

import (
	"fmt"
	"net/url"
	"path"
	"strings"
)

// NormalizePath applies the canonical path form used as the lookup key
// across file, version and permission records: percent-encoding is
// decoded, backslashes become forward slashes, and repeated slashes
// collapse to one. Two paths differing only in slash style or encoding
// resolve to the same record. Callers outside the core must apply the
// same normalization before any lookup.
func NormalizePath(p string) (string, error) {
	decoded, err := url.PathUnescape(p)
	if err != nil {
		return "", fmt.Errorf("decoding path %q: %w", p, ErrValidation)
	}
	normalized := strings.ReplaceAll(decoded, "\\", "/")
	for strings.Contains(normalized, "//") {
		normalized = strings.ReplaceAll(normalized, "//", "/")
	}
	return normalized, nil
}

// BaseName returns the last element of a normalized path.
func BaseName(normalized string) string {
	return path.Base(normalized)
}
