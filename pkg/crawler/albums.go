package crawler

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"gallery2disk/pkg/archive"
	"gallery2disk/pkg/fetch"
	"gallery2disk/pkg/models"
	"gallery2disk/pkg/parse"
	"gallery2disk/pkg/utils"
)

// albumTask is one pending album on the traversal stack
type albumTask struct {
	album     models.Album
	parentDir string
	depth     int
	ancestors []string // Album keys from the top-level album down to the parent
}

// CollectAllAlbums returns every album listed on the gallery front index at baseURL,
// following the index's own pagination. Order is page order, then in-page order.
// A front page that is not archived is an error; a missing later index page is skipped.
func (c *Crawler) CollectAllAlbums(ctx context.Context, baseURL string) ([]models.Album, error) {
	front, err := c.fetchArchivedFront(ctx, baseURL)
	if err != nil {
		return nil, fmt.Errorf("gallery front page '%s': %w", baseURL, err)
	}
	albums := front.Albums

	if front.LastPage <= 1 {
		return albums, nil
	}

	base, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("%w: base URL '%s': %w", utils.ErrParsing, baseURL, err)
	}
	for n := 2; n <= front.LastPage; n++ {
		ref, err := url.Parse(c.cfg.AlbumListPagePath + strconv.Itoa(n))
		if err != nil {
			return nil, fmt.Errorf("%w: album_list_page_path: %w", utils.ErrParsing, err)
		}
		pageURL := base.ResolveReference(ref).String()

		page, err := c.fetchArchivedFront(ctx, pageURL)
		if err != nil {
			if utils.IsSkippable(err) || isPageParseError(err) {
				c.skippedPages++
				c.log.WithField("url", pageURL).Warnf("Skipping album index page %d/%d: %v", n, front.LastPage, err)
				continue
			}
			return nil, err
		}
		albums = append(albums, page.Albums...)
	}
	return albums, nil
}

// DownloadAlbum downloads album and all of its sub-albums into destDir/<album title>.
// Albums are processed from an explicit stack; an album deeper than max_album_depth or
// already on its own ancestor path is skipped with a warning. Sibling repeats are not prevented.
// Only fatal errors (filesystem, ledger, cancellation, broken availability answers) are returned.
func (c *Crawler) DownloadAlbum(ctx context.Context, album models.Album, destDir string) error {
	stack := []albumTask{{album: album, parentDir: destDir}}

	for len(stack) > 0 {
		if err := ctx.Err(); err != nil {
			return err
		}

		task := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		children, err := c.processAlbum(ctx, task)
		if err != nil {
			return err
		}
		// Reverse so sub-albums are entered in the order they were found
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, children[i])
		}
	}
	return nil
}

// processAlbum downloads every page of one album and returns its sub-albums
func (c *Crawler) processAlbum(ctx context.Context, task albumTask) ([]albumTask, error) {
	album := task.album
	key := parse.AlbumKey(album.Href)
	albumLog := c.log.WithFields(logrus.Fields{"album": album.Title, "depth": task.depth})

	if task.depth > c.cfg.MaxAlbumDepth {
		c.skippedAlbums++
		albumLog.WithField("error_type", utils.CategorizeError(utils.ErrMaxDepthExceeded)).
			Warnf("Skipping album: %v (%d)", utils.ErrMaxDepthExceeded, c.cfg.MaxAlbumDepth)
		return nil, nil
	}
	if slices.Contains(task.ancestors, key) {
		c.skippedAlbums++
		albumLog.WithField("error_type", utils.CategorizeError(utils.ErrCycleDetected)).
			Warnf("Skipping album: %v (%s)", utils.ErrCycleDetected, key)
		return nil, nil
	}

	outputPath := filepath.Join(task.parentDir, utils.SafeDirName(album.Title))
	albumLog.Infof("Downloading %s into %s", album.Title, outputPath)
	if err := os.MkdirAll(outputPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating album dir '%s': %w", utils.ErrFilesystem, outputPath, err)
	}

	added, err := c.ledger.MarkAlbumVisited(key, &models.AlbumDBEntry{
		Title:     album.Title,
		Dir:       outputPath,
		Depth:     task.depth,
		VisitedAt: time.Now().UTC(),
	})
	if err != nil {
		return nil, err
	}
	if !added {
		albumLog.Debugf("Album %s was already visited in this run", key)
	}

	// Page 1 is the href itself, fetched without another archive lookup
	body, err := c.fetcher.Fetch(ctx, album.Href, nil, fetch.ModeText)
	if err != nil {
		if utils.IsSkippable(err) {
			c.skippedPages++
			albumLog.WithField("url", album.Href).Warnf("Did not find any valid HTML for gallery page: %v", err)
			return nil, nil
		}
		return nil, err
	}
	first, err := parse.ParseGalleryPage(bytes.NewReader(body), parseBase(album.Href))
	if err != nil {
		c.skippedPages++
		albumLog.WithField("url", album.Href).Warnf("Skipping album, first gallery page did not parse: %v", err)
		return nil, nil
	}

	childAncestors := append(slices.Clip(task.ancestors), key)
	var children []albumTask
	handlePage := func(page *models.GalleryPage) error {
		for _, sub := range page.Albums {
			children = append(children, albumTask{
				album:     sub,
				parentDir: outputPath,
				depth:     task.depth + 1,
				ancestors: childAncestors,
			})
		}
		for _, image := range page.Images {
			if err := c.SaveImage(ctx, image, outputPath); err != nil {
				return err
			}
		}
		return nil
	}

	if err := handlePage(first); err != nil {
		return nil, err
	}

	for n := 2; n <= first.LastPage; n++ {
		pageURL := withPageParam(archive.UnarchivedURL(album.Href), c.cfg.GalleryPageParam, n)
		pageLog := albumLog.WithFields(logrus.Fields{"url": pageURL, "page": n, "last_page": first.LastPage})

		body, snapshotURL, err := c.mirror.FetchSnapshot(ctx, pageURL, fetch.ModeText)
		if err != nil {
			if utils.IsSkippable(err) {
				c.skippedPages++
				pageLog.Warnf("Did not get HTML for gallery page: %v", err)
				continue
			}
			return nil, err
		}
		page, err := parse.ParseGalleryPage(bytes.NewReader(body), parseBase(snapshotURL))
		if err != nil {
			c.skippedPages++
			pageLog.Warnf("Skipping gallery page that did not parse: %v", err)
			continue
		}
		if err := handlePage(page); err != nil {
			return nil, err
		}
	}

	return children, nil
}

// fetchArchivedFront fetches and parses one album index page through the archive
func (c *Crawler) fetchArchivedFront(ctx context.Context, originalURL string) (*models.FrontPage, error) {
	body, snapshotURL, err := c.mirror.FetchSnapshot(ctx, originalURL, fetch.ModeText)
	if err != nil {
		return nil, err
	}
	page, err := parse.ParseGalleryFront(bytes.NewReader(body), parseBase(snapshotURL))
	if err != nil {
		return nil, &pageParseError{url: snapshotURL, err: err}
	}
	return page, nil
}

// pageParseError marks a parse failure of fetched HTML, as opposed to a broken availability answer
type pageParseError struct {
	url string
	err error
}

func (e *pageParseError) Error() string { return fmt.Sprintf("parsing '%s': %v", e.url, e.err) }
func (e *pageParseError) Unwrap() error { return e.err }

func isPageParseError(err error) bool {
	var pe *pageParseError
	return errors.As(err, &pe)
}

// withPageParam appends "<param>=<n>" to rawURL's query
func withPageParam(rawURL, param string, n int) string {
	sep := "?"
	if strings.Contains(rawURL, "?") {
		sep = "&"
	}
	return rawURL + sep + url.QueryEscape(param) + "=" + strconv.Itoa(n)
}

// parseBase returns the URL links on a page are resolved against, nil if it does not parse
func parseBase(pageURL string) *url.URL {
	u, err := url.Parse(pageURL)
	if err != nil {
		return nil
	}
	return u
}
