package config

import (
	"fmt"
	"os"
	"time"
	_ "time/tzdata" // comment dates are normalised to a named zone on any host

	"gopkg.in/yaml.v3"
)

const (
	DefaultAvailabilityURL   = "https://archive.org/wayback/available"
	DefaultAlbumListPagePath = "albums.php?set_albumListPage="
	DefaultGalleryPageParam  = "page"
	DefaultContentBefore     = "20080101"
	DefaultCommentTimeZone   = "Europe/Oslo"
	DefaultUserAgent         = "gallery2disk/1.0 (+archive recovery)"
)

// AppConfig holds the application configuration
type AppConfig struct {
	OutputDir          string           `yaml:"output_dir"`
	CacheDir           string           `yaml:"cache_dir"`
	StateDir           string           `yaml:"state_dir"`
	ContentBefore      string           `yaml:"content_before"` // YYYYMMDD cutoff, empty = latest snapshot
	RequestDelay       time.Duration    `yaml:"request_delay"`  // Minimum gap between network requests
	AvailabilityURL    string           `yaml:"availability_url"`
	UserAgent          string           `yaml:"user_agent,omitempty"`
	AlbumListPagePath  string           `yaml:"album_list_page_path,omitempty"` // Relative path + query prefix, page number appended
	GalleryPageParam   string           `yaml:"gallery_page_param,omitempty"`
	MaxAlbumDepth      int              `yaml:"max_album_depth,omitempty"`
	CommentTimeZone    string           `yaml:"comment_time_zone,omitempty"`
	WriteSummary       bool             `yaml:"write_summary"`
	SummaryFilename    string           `yaml:"summary_filename,omitempty"`
	WriteAlbumTree     bool             `yaml:"write_album_tree"`
	AlbumTreeFilename  string           `yaml:"album_tree_filename,omitempty"`
	HTTPClientSettings HTTPClientConfig `yaml:"http_client_settings,omitempty"`
}

// HTTPClientConfig holds settings for the shared HTTP client
type HTTPClientConfig struct {
	Timeout             time.Duration `yaml:"timeout,omitempty"`                 // Overall request timeout
	MaxIdleConns        int           `yaml:"max_idle_conns,omitempty"`          // Max total idle connections
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host,omitempty"` // Max idle connections per host
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout,omitempty"`       // Timeout for idle connections
	TLSHandshakeTimeout time.Duration `yaml:"tls_handshake_timeout,omitempty"`   // Timeout for TLS handshake
	DialerTimeout       time.Duration `yaml:"dialer_timeout,omitempty"`          // Connection dial timeout
	DialerKeepAlive     time.Duration `yaml:"dialer_keep_alive,omitempty"`       // TCP keep-alive interval
	MaxRedirects        int           `yaml:"max_redirects,omitempty"`
}

// DefaultAppConfig returns the configuration used when no config file is given.
// A YAML file is decoded on top of it, so absent keys keep these values.
func DefaultAppConfig() *AppConfig {
	return &AppConfig{
		OutputDir:         "output/",
		CacheDir:          "cache/",
		StateDir:          "state/",
		ContentBefore:     DefaultContentBefore,
		RequestDelay:      10 * time.Second,
		AvailabilityURL:   DefaultAvailabilityURL,
		UserAgent:         DefaultUserAgent,
		AlbumListPagePath: DefaultAlbumListPagePath,
		GalleryPageParam:  DefaultGalleryPageParam,
		MaxAlbumDepth:     32,
		CommentTimeZone:   DefaultCommentTimeZone,
		WriteSummary:      true,
		SummaryFilename:   "crawl_summary.yaml",
		WriteAlbumTree:    true,
		AlbumTreeFilename: "album_tree.txt",
	}
}

// LoadFile reads a YAML config file over the defaults.
// An empty path returns the defaults unchanged.
func LoadFile(path string) (*AppConfig, error) {
	cfg := DefaultAppConfig()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	return cfg, nil
}

// CommentLocation resolves CommentTimeZone, falling back to UTC when unset
func (c *AppConfig) CommentLocation() (*time.Location, error) {
	if c.CommentTimeZone == "" {
		return time.UTC, nil
	}
	return time.LoadLocation(c.CommentTimeZone)
}
