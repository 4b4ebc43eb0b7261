package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"gallery2disk/pkg/utils"
)

// Validate checks AppConfig fields and applies sensible defaults.
// Returns collected warnings and any fatal error.
// Modifies receiver in place to apply defaults.
func (c *AppConfig) Validate() (warnings []string, err error) {
	// OutputDir
	if c.OutputDir == "" {
		warnings = append(warnings, "output_dir is empty, defaulting to 'output/'")
		c.OutputDir = "output/"
	}

	// CacheDir
	if c.CacheDir == "" {
		warnings = append(warnings, "cache_dir is empty, defaulting to 'cache/'")
		c.CacheDir = "cache/"
	}

	// StateDir
	if c.StateDir == "" {
		warnings = append(warnings, "state_dir is empty, defaulting to 'state/'")
		c.StateDir = "state/"
	}

	// ContentBefore
	if c.ContentBefore == "" {
		warnings = append(warnings, "content_before is empty, the newest snapshot of every URL will be used")
	} else if err := validateWaybackTimestamp(c.ContentBefore); err != nil {
		return warnings, err
	}

	// RequestDelay
	if c.RequestDelay < 0 {
		warnings = append(warnings, "request_delay cannot be negative, setting to 0 (no delay)")
		c.RequestDelay = 0
	} else if c.RequestDelay == 0 {
		warnings = append(warnings, "request_delay is 0, requests to the archive will not be spaced")
	}

	// AvailabilityURL
	if c.AvailabilityURL == "" {
		c.AvailabilityURL = DefaultAvailabilityURL
	}
	if u, errParse := url.Parse(c.AvailabilityURL); errParse != nil || u.Scheme == "" || u.Host == "" {
		return warnings, fmt.Errorf("%w: availability_url '%s' is not an absolute URL", utils.ErrConfigValidation, c.AvailabilityURL)
	}

	if c.UserAgent == "" {
		c.UserAgent = DefaultUserAgent
	}

	// AlbumListPagePath
	if c.AlbumListPagePath == "" {
		c.AlbumListPagePath = DefaultAlbumListPagePath
	}
	if c.GalleryPageParam == "" {
		c.GalleryPageParam = DefaultGalleryPageParam
	}

	// MaxAlbumDepth
	if c.MaxAlbumDepth <= 0 {
		warnings = append(warnings, "max_album_depth should be > 0, defaulting to 32")
		c.MaxAlbumDepth = 32
	}

	// CommentTimeZone
	if _, errLoc := c.CommentLocation(); errLoc != nil {
		return warnings, fmt.Errorf("%w: comment_time_zone '%s': %w", utils.ErrConfigValidation, c.CommentTimeZone, errLoc)
	}

	// Output filenames
	if c.WriteSummary && c.SummaryFilename == "" {
		warnings = append(warnings, "'write_summary' is true but 'summary_filename' is empty. Defaulting to 'crawl_summary.yaml'")
		c.SummaryFilename = "crawl_summary.yaml"
	}
	if c.WriteAlbumTree && c.AlbumTreeFilename == "" {
		warnings = append(warnings, "'write_album_tree' is true but 'album_tree_filename' is empty. Defaulting to 'album_tree.txt'")
		c.AlbumTreeFilename = "album_tree.txt"
	}

	c.validateHTTPClientSettings()

	return warnings, nil
}

// validateWaybackTimestamp accepts YYYYMMDD or a full 14-digit YYYYMMDDhhmmss timestamp
func validateWaybackTimestamp(ts string) error {
	layout := ""
	switch len(ts) {
	case 8:
		layout = "20060102"
	case 14:
		layout = "20060102150405"
	default:
		return fmt.Errorf("%w: content_before '%s' must be YYYYMMDD", utils.ErrConfigValidation, ts)
	}
	if strings.Trim(ts, "0123456789") != "" {
		return fmt.Errorf("%w: content_before '%s' must contain only digits", utils.ErrConfigValidation, ts)
	}
	if _, err := time.Parse(layout, ts); err != nil {
		return fmt.Errorf("%w: content_before '%s' is not a valid date: %w", utils.ErrConfigValidation, ts, err)
	}
	return nil
}

// validateHTTPClientSettings applies defaults to HTTP client settings.
func (c *AppConfig) validateHTTPClientSettings() {
	h := &c.HTTPClientSettings
	if h.Timeout <= 0 {
		h.Timeout = 60 * time.Second
	}
	if h.MaxIdleConns <= 0 {
		h.MaxIdleConns = 10
	}
	if h.MaxIdleConnsPerHost <= 0 {
		h.MaxIdleConnsPerHost = 2
	}
	if h.IdleConnTimeout <= 0 {
		h.IdleConnTimeout = 90 * time.Second
	}
	if h.TLSHandshakeTimeout <= 0 {
		h.TLSHandshakeTimeout = 10 * time.Second
	}
	if h.DialerTimeout <= 0 {
		h.DialerTimeout = 15 * time.Second
	}
	if h.DialerKeepAlive <= 0 {
		h.DialerKeepAlive = 30 * time.Second
	}
	if h.MaxRedirects <= 0 {
		h.MaxRedirects = 10
	}
}
