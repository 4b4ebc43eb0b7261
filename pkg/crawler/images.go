package crawler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"gallery2disk/pkg/archive"
	"gallery2disk/pkg/fetch"
	"gallery2disk/pkg/models"
	"gallery2disk/pkg/parse"
	"gallery2disk/pkg/utils"
)

// notFoundLog appends unresolved URLs to an album's notfound.urls.
// The file is opened on the first write and closed by close.
type notFoundLog struct {
	path string
	file *os.File
	urls []string
}

func (n *notFoundLog) write(rawURL string) error {
	if n.file == nil {
		f, err := os.OpenFile(n.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return fmt.Errorf("%w: opening '%s': %w", utils.ErrFilesystem, n.path, err)
		}
		n.file = f
	}
	if _, err := n.file.WriteString(rawURL + "\n"); err != nil {
		return fmt.Errorf("%w: writing '%s': %w", utils.ErrFilesystem, n.path, err)
	}
	n.urls = append(n.urls, rawURL)
	return nil
}

func (n *notFoundLog) close() error {
	if n.file == nil {
		return nil
	}
	if err := n.file.Close(); err != nil {
		return fmt.Errorf("%w: closing '%s': %w", utils.ErrFilesystem, n.path, err)
	}
	return nil
}

// SaveImage downloads the first candidate URL of image that the archive has into destDir,
// named after that URL's basename, and writes the image's caption and comments next to it
// as <basename>.metadata. Candidates tried before the first success, and an unresolvable
// detail page, are appended to destDir/notfound.urls. Without candidates nothing happens.
// Only fatal errors are returned.
func (c *Crawler) SaveImage(ctx context.Context, image models.Image, destDir string) (err error) {
	if len(image.URLs) == 0 {
		c.log.WithField("page_url", image.PageURL).Debug("Image has no candidate URLs, nothing to save")
		return nil
	}

	imageKey := image.URLs[0]
	imgLog := c.log.WithField("image", utils.URLBasename(imageKey))

	notFound := &notFoundLog{path: filepath.Join(destDir, utils.NotFoundLogName)}
	defer func() {
		if closeErr := notFound.close(); closeErr != nil && err == nil {
			err = closeErr
		}
	}()

	entry := &models.ImageDBEntry{Status: models.ImageStatusMissing}
	// Metadata is named after the first candidate unless another one gets saved
	outputName := utils.URLBasename(image.URLs[0])

	for _, candidate := range image.URLs {
		data, fetchErr := c.mirror.FetchArchived(ctx, candidate, fetch.ModeBinary)
		if fetchErr != nil {
			if !utils.IsSkippable(fetchErr) {
				return fetchErr
			}
			imgLog.WithField("error_type", utils.CategorizeError(fetchErr)).Debugf("Candidate not available: %s", candidate)
			entry.ErrorType = utils.CategorizeError(fetchErr)
			if err := notFound.write(candidate); err != nil {
				return err
			}
			continue
		}

		outputName = utils.URLBasename(candidate)
		filePath := filepath.Join(destDir, outputName)
		imgLog.Debugf("Writing %s", filePath)
		if err := os.WriteFile(filePath, data, 0644); err != nil {
			return fmt.Errorf("%w: writing image '%s': %w", utils.ErrFilesystem, filePath, err)
		}
		entry.Status = models.ImageStatusSaved
		entry.LocalPath = filePath
		entry.SavedFrom = candidate
		entry.ErrorType = ""
		break
	}
	if entry.Status == models.ImageStatusMissing {
		imgLog.Warnf("None of %d candidates is archived", len(image.URLs))
	}

	if image.PageURL != "" {
		metadataPath := filepath.Join(destDir, outputName+utils.MetadataExtension)
		written, err := c.saveMetadata(ctx, image.PageURL, metadataPath, notFound, imgLog)
		if err != nil {
			return err
		}
		if written {
			entry.MetadataPath = metadataPath
		}
	}

	entry.MissingURLs = notFound.urls
	entry.LastAttempt = time.Now().UTC()
	return c.ledger.UpdateImageStatus(imageKey, entry)
}

// saveMetadata fetches the image detail page, directly first and through the archive on a miss,
// and writes its parsed metadata as JSON. An unreachable page is logged to notFound.
func (c *Crawler) saveMetadata(ctx context.Context, pageURL, metadataPath string, notFound *notFoundLog, imgLog *logrus.Entry) (bool, error) {
	base := pageURL
	body, err := c.fetcher.Fetch(ctx, pageURL, nil, fetch.ModeText)
	if utils.IsSkippable(err) {
		original := archive.UnarchivedURL(pageURL)
		body, base, err = c.mirror.FetchSnapshot(ctx, original, fetch.ModeText)
		if utils.IsSkippable(err) {
			imgLog.WithField("error_type", utils.CategorizeError(err)).Debugf("Image page not available: %s", original)
			return false, notFound.write(original)
		}
	}
	if err != nil {
		return false, err
	}

	meta, err := parse.ParseImagePage(bytes.NewReader(body), c.loc)
	if err != nil {
		imgLog.WithField("url", base).Warnf("Image page did not parse, no metadata written: %v", err)
		return false, nil
	}

	data, err := json.Marshal(meta)
	if err != nil {
		return false, fmt.Errorf("%w: encoding metadata JSON: %w", utils.ErrParsing, err)
	}
	if err := os.WriteFile(metadataPath, data, 0644); err != nil {
		return false, fmt.Errorf("%w: writing metadata '%s': %w", utils.ErrFilesystem, metadataPath, err)
	}
	return true, nil
}
