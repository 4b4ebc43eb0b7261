package utils

import (
	"net/url"
	"path"
	"regexp"
	"strings"
)

// Anything outside this set is replaced in album directory names
var unsafeDirChars = regexp.MustCompile(`[^a-zA-Z0-9_\- #]`)

// SafeDirName turns an album title into a directory name.
// Every rune outside [A-Za-z0-9_\- #] becomes a single underscore; multi-byte runes
// (accented letters, emoji) are replaced as one character, not per byte.
func SafeDirName(title string) string {
	return unsafeDirChars.ReplaceAllString(title, "_")
}

// URLBasename returns the last path segment of a URL, ignoring query and fragment.
// Falls back to the raw string's last segment when it does not parse as a URL.
func URLBasename(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil && u.Path != "" {
		return path.Base(u.Path)
	}
	trimmed := rawURL
	if i := strings.IndexAny(trimmed, "?#"); i >= 0 {
		trimmed = trimmed[:i]
	}
	return path.Base(trimmed)
}
