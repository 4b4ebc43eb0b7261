package crawler

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"gallery2disk/pkg/archive"
	"gallery2disk/pkg/config"
	"gallery2disk/pkg/fetch"
	"gallery2disk/pkg/models"
	"gallery2disk/pkg/storage"
	"gallery2disk/pkg/utils"
)

// Crawler recovers one gallery from the archive into the output directory.
// It is sequential: every network request goes through the fetcher's rate limiter.
type Crawler struct {
	log    *logrus.Entry
	cfg    *config.AppConfig
	runID  string
	loc    *time.Location // Zone comment dates are converted to
	ledger storage.CrawlLedger

	// Core components
	fetcher fetch.Fetcher
	mirror  *archive.Mirror

	// Tracking
	skippedAlbums int // Albums dropped by the depth or cycle guard
	skippedPages  int // Gallery and index pages that could not be fetched or parsed

	output *OutputManager
}

// New creates a Crawler. cfg must have been validated.
func New(cfg *config.AppConfig, fetcher fetch.Fetcher, ledger storage.CrawlLedger, baseLogger *logrus.Entry) (*Crawler, error) {
	loc, err := cfg.CommentLocation()
	if err != nil {
		return nil, fmt.Errorf("%w: comment_time_zone '%s': %w", utils.ErrConfigValidation, cfg.CommentTimeZone, err)
	}

	runID := uuid.NewString()
	logger := baseLogger.WithField("run_id", runID[:8])

	return &Crawler{
		log:     logger,
		cfg:     cfg,
		runID:   runID,
		loc:     loc,
		ledger:  ledger,
		fetcher: fetcher,
		mirror:  archive.NewMirror(fetcher, cfg, logger),
		output:  NewOutputManager(logger.WithField("component", "output"), cfg, runID),
	}, nil
}

// RunID identifies this crawl in logs and in the summary
func (c *Crawler) RunID() string {
	return c.runID
}

// Run collects every top-level album of the gallery at baseURL and downloads each one
// into the output directory, then writes the crawl summary and album tree.
// The summary is returned even when the crawl stopped on an error.
func (c *Crawler) Run(ctx context.Context, baseURL string) (*models.CrawlSummary, error) {
	c.output.crawlStartTime = time.Now()
	runLog := c.log.WithField("base_url", baseURL)
	runLog.Info("Crawl starting...")

	if _, err := url.ParseRequestURI(baseURL); err != nil {
		return nil, fmt.Errorf("%w: base URL '%s': %w", utils.ErrParsing, baseURL, err)
	}

	albums, err := c.CollectAllAlbums(ctx, baseURL)
	if err != nil {
		return nil, err
	}
	runLog.Infof("Found %d top-level albums", len(albums))

	if err := os.MkdirAll(c.cfg.OutputDir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating output dir '%s': %w", utils.ErrFilesystem, c.cfg.OutputDir, err)
	}

	var crawlErr error
	for i, album := range albums {
		runLog.WithFields(logrus.Fields{"album": album.Title, "index": i + 1, "total": len(albums)}).Info("Downloading album")
		if crawlErr = c.DownloadAlbum(ctx, album, c.cfg.OutputDir); crawlErr != nil {
			runLog.Errorf("Crawl stopped: %v", crawlErr)
			break
		}
	}

	summary := c.output.Summary(baseURL, len(albums), c.skippedAlbums, c.skippedPages)
	if stats, err := c.ledger.Stats(); err != nil {
		runLog.Warnf("Could not read ledger stats: %v", err)
	} else {
		summary.Ledger = stats
	}
	if err := c.output.Close(summary); err != nil && crawlErr == nil {
		crawlErr = err
	}

	runLog.WithFields(logrus.Fields{
		"albums_visited": summary.Ledger.AlbumsVisited,
		"images_saved":   summary.Ledger.ImagesSaved,
		"images_missing": summary.Ledger.ImagesMissing,
		"skipped_albums": summary.SkippedAlbums,
		"skipped_pages":  summary.SkippedPages,
		"duration":       summary.CrawlEndTime.Sub(summary.CrawlStartTime).Round(time.Millisecond),
	}).Info("Crawl finished")
	return summary, crawlErr
}
