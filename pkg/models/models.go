package models

import "time"

// Album is a gallery album as linked from the front index or from a parent album
type Album struct {
	Title string `json:"title"`
	Href  string `json:"href"` // Archive-rewritten or original gallery-page URL
}

// FrontPage is the parsed gallery front index
type FrontPage struct {
	Albums   []Album
	LastPage int // 0 when the index carries no pagination marker
}

// GalleryPage is one page of an album's thumbnail grid
type GalleryPage struct {
	Albums   []Album // Sub-albums shown on this page
	Images   []Image
	LastPage int // Page count of this album's own pagination, at least 1
}

// Image is one thumbnail on a gallery page
type Image struct {
	URLs    []string // Candidate original-site URLs, largest first: full, sized, thumb
	Caption *string
	Views   *int
	PageURL string // Link to the image's detail page, may be empty
}

// Comment is a single entry of an image's comment thread
type Comment struct {
	Name    string `json:"name"`
	Date    string `json:"date"` // RFC 3339 in the configured zone, or the raw text if unparseable
	Comment string `json:"comment"`
}

// ImageMetadata is written next to each image as <basename>.metadata
type ImageMetadata struct {
	Comments []Comment `json:"comments"`
	Caption  *string   `json:"caption"`
}

// AlbumDBEntry records a visited album in the crawl ledger
type AlbumDBEntry struct {
	Title     string    `json:"title"`
	Dir       string    `json:"dir"`
	Depth     int       `json:"depth"`
	VisitedAt time.Time `json:"visited_at"`
	Visits    int       `json:"visits"`
}

// ImageDBEntry records the persistence outcome of one image in the crawl ledger
type ImageDBEntry struct {
	Status       ImageStatus `json:"status"`
	LocalPath    string      `json:"local_path,omitempty"`    // Saved image path (on success)
	MetadataPath string      `json:"metadata_path,omitempty"` // Written sidecar path, if any
	SavedFrom    string      `json:"saved_from,omitempty"`    // Candidate URL that succeeded
	MissingURLs  []string    `json:"missing_urls,omitempty"`  // Candidates and pages logged to notfound.urls
	ErrorType    string      `json:"error_type,omitempty"`    // Category of the last failure
	LastAttempt  time.Time   `json:"last_attempt"`
}

// LedgerStats aggregates the crawl ledger
type LedgerStats struct {
	AlbumsVisited    int `yaml:"albums_visited"`
	AlbumRevisits    int `yaml:"album_revisits"`
	ImagesSaved      int `yaml:"images_saved"`
	ImagesMissing    int `yaml:"images_missing"`
	MetadataWritten  int `yaml:"metadata_written"`
	NotFoundURLCount int `yaml:"not_found_urls"`
}

// CrawlSummary is written to the output directory at the end of a run
type CrawlSummary struct {
	RunID          string      `yaml:"run_id"`
	BaseURL        string      `yaml:"base_url"`
	ContentBefore  string      `yaml:"content_before,omitempty"`
	CrawlStartTime time.Time   `yaml:"crawl_start_time"`
	CrawlEndTime   time.Time   `yaml:"crawl_end_time"`
	TopLevelAlbums int         `yaml:"top_level_albums"`
	SkippedAlbums  int         `yaml:"skipped_albums"`
	SkippedPages   int         `yaml:"skipped_pages"`
	Ledger         LedgerStats `yaml:"ledger"`
}
