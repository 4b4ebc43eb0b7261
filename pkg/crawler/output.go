package crawler

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"

	"gallery2disk/pkg/config"
	"gallery2disk/pkg/models"
	"gallery2disk/pkg/utils"
)

// OutputManager writes the end-of-crawl files in the output directory
type OutputManager struct {
	log            *logrus.Entry
	appCfg         *config.AppConfig
	runID          string
	crawlStartTime time.Time
}

// NewOutputManager creates an OutputManager for one crawl run
func NewOutputManager(log *logrus.Entry, appCfg *config.AppConfig, runID string) *OutputManager {
	return &OutputManager{
		log:            log,
		appCfg:         appCfg,
		runID:          runID,
		crawlStartTime: time.Now(),
	}
}

// Summary builds the crawl summary as of now
func (om *OutputManager) Summary(baseURL string, topLevelAlbums, skippedAlbums, skippedPages int) *models.CrawlSummary {
	return &models.CrawlSummary{
		RunID:          om.runID,
		BaseURL:        baseURL,
		ContentBefore:  om.appCfg.ContentBefore,
		CrawlStartTime: om.crawlStartTime,
		CrawlEndTime:   time.Now(),
		TopLevelAlbums: topLevelAlbums,
		SkippedAlbums:  skippedAlbums,
		SkippedPages:   skippedPages,
	}
}

// Close writes the summary YAML and the album tree, each if enabled.
// Both are attempted; the first error is returned.
func (om *OutputManager) Close(summary *models.CrawlSummary) error {
	var firstErr error
	if err := om.writeSummaryYAML(summary); err != nil {
		firstErr = err
	}
	if err := om.writeAlbumTree(); err != nil && firstErr == nil {
		firstErr = err
	}
	return firstErr
}

func (om *OutputManager) writeSummaryYAML(summary *models.CrawlSummary) error {
	if !om.appCfg.WriteSummary {
		om.log.Debug("Crawl summary output is disabled.")
		return nil
	}

	yamlFilePath := filepath.Join(om.appCfg.OutputDir, om.appCfg.SummaryFilename)
	yamlData, errMarshal := yaml.Marshal(summary)
	if errMarshal != nil {
		om.log.Errorf("Failed to marshal crawl summary to YAML: %v", errMarshal)
		return fmt.Errorf("failed to marshal crawl summary to YAML: %w", errMarshal)
	}

	if err := os.MkdirAll(om.appCfg.OutputDir, 0755); err != nil {
		return fmt.Errorf("%w: creating output dir '%s': %w", utils.ErrFilesystem, om.appCfg.OutputDir, err)
	}
	if err := os.WriteFile(yamlFilePath, yamlData, 0644); err != nil {
		om.log.Errorf("Failed to write crawl summary '%s': %v", yamlFilePath, err)
		return fmt.Errorf("%w: writing crawl summary '%s': %w", utils.ErrFilesystem, yamlFilePath, err)
	}

	om.log.Infof("Wrote crawl summary to %s", yamlFilePath)
	return nil
}

func (om *OutputManager) writeAlbumTree() error {
	if !om.appCfg.WriteAlbumTree {
		om.log.Debug("Album tree output is disabled.")
		return nil
	}
	if _, err := os.Stat(om.appCfg.OutputDir); os.IsNotExist(err) {
		om.log.Debug("Output directory does not exist, no album tree written.")
		return nil
	}

	treePath := filepath.Join(om.appCfg.OutputDir, om.appCfg.AlbumTreeFilename)
	if err := utils.WriteAlbumTree(om.appCfg.OutputDir, treePath, om.log); err != nil {
		om.log.Errorf("Failed to write album tree: %v", err)
		return err
	}
	om.log.Infof("Wrote album tree to %s", treePath)
	return nil
}
