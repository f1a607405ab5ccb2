package util

import (
	"errors"
	"path/filepath"
	"strings"
)

var ErrInvalidFileName = errors.New("invalid file name")

// SanitizeFileName replaces path separators and drops control characters.
// Names that reduce to nothing or to a bare dot entry are rejected.
func SanitizeFileName(name string) (string, error) {
	s := strings.TrimSpace(name)
	s = strings.ReplaceAll(s, "/", "_")
	s = strings.ReplaceAll(s, "\\", "_")
	s = strings.Map(func(r rune) rune {
		if r < 0x20 || r == 0x7f {
			return -1
		}
		return r
	}, s)
	if s == "" || s == "." || s == ".." {
		return "", ErrInvalidFileName
	}
	return s, nil
}

// Extension returns the lower-cased extension of name including the dot.
func Extension(name string) string {
	return strings.ToLower(filepath.Ext(strings.TrimSpace(name)))
}
