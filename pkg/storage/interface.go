package storage

import (
	"context"
	"time"

	"gallery2disk/pkg/models"
)

// AlbumLedger records which albums a crawl has entered
type AlbumLedger interface {
	// MarkAlbumVisited records a visit to the album identified by albumKey.
	// Returns true if this is the first visit in this run; later visits only bump the visit count.
	MarkAlbumVisited(albumKey string, entry *models.AlbumDBEntry) (bool, error)
}

// ImageLedger records the persistence outcome of each image
type ImageLedger interface {
	// CheckImageStatus retrieves the recorded outcome of an image.
	// Returns ImageStatusNotFound when the image was never recorded, ImageStatusDBError on read failure.
	CheckImageStatus(imageKey string) (status models.ImageStatus, entry *models.ImageDBEntry, err error)

	// UpdateImageStatus stores the outcome of an image, replacing any previous one
	UpdateImageStatus(imageKey string, entry *models.ImageDBEntry) error
}

// StoreAdmin handles reporting and lifecycle operations
type StoreAdmin interface {
	// Stats aggregates every recorded album and image
	Stats() (models.LedgerStats, error)

	// WriteVisitedLog writes all album and image keys to the specified file path
	WriteVisitedLog(filePath string) error

	// RunGC runs periodic garbage collection. Should be run in a goroutine
	RunGC(ctx context.Context, interval time.Duration)

	// Close cleanly closes the database connection
	Close() error
}

// CrawlLedger combines all store interfaces for components that need full access
type CrawlLedger interface {
	AlbumLedger
	ImageLedger
	StoreAdmin
}
