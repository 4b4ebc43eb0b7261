package parse

import (
	"fmt"
	"net"
	"net/url"
	"strings"

	"gallery2disk/pkg/archive"
	"gallery2disk/pkg/utils"
)

// resolveHref resolves a link found on a page against the page's own URL.
// With a nil base the href is returned as written.
func resolveHref(base *url.URL, href string) (string, error) {
	href = strings.TrimSpace(href)
	if base == nil {
		return href, nil
	}
	ref, err := url.Parse(href)
	if err != nil {
		return "", fmt.Errorf("%w: invalid URL '%s': %w", utils.ErrParsing, href, err)
	}
	return base.ResolveReference(ref).String(), nil
}

// AlbumKey identifies an album independently of which snapshot it was reached through.
// It strips the archive prefix, lowercases the scheme and host, removes default ports,
// a trailing slash and the fragment. The query is kept because gallery item ids live there.
func AlbumKey(href string) string {
	original := archive.UnarchivedURL(href)
	u, err := url.Parse(original)
	if err != nil {
		return original
	}
	return NormalizeURL(u)
}

// NormalizeURL standardizes a URL for comparison and storage
// Does not modify the input *url.URL
func NormalizeURL(u *url.URL) string {
	if u == nil {
		return ""
	}
	normalized := *u

	normalized.Scheme = strings.ToLower(normalized.Scheme)
	normalized.Host = strings.ToLower(normalized.Host)

	host, port, err := net.SplitHostPort(normalized.Host)
	if err == nil {
		if (normalized.Scheme == "http" && port == "80") ||
			(normalized.Scheme == "https" && port == "443") {
			normalized.Host = host
		}
	}

	if normalized.Path == "" {
		normalized.Path = "/"
	} else if len(normalized.Path) > 1 && strings.HasSuffix(normalized.Path, "/") {
		normalized.Path = normalized.Path[:len(normalized.Path)-1]
	}
	normalized.RawPath = ""
	normalized.Fragment = ""

	return normalized.String()
}
