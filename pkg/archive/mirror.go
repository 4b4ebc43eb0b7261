package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"regexp"

	"github.com/sirupsen/logrus"

	"gallery2disk/pkg/config"
	"gallery2disk/pkg/fetch"
	"gallery2disk/pkg/utils"
)

// availabilityResponse is the subset of the availability API answer we read
type availabilityResponse struct {
	ArchivedSnapshots struct {
		Closest *Snapshot `json:"closest"`
	} `json:"archived_snapshots"`
}

// Snapshot is one archived capture as reported by the availability API
type Snapshot struct {
	URL       string `json:"url"`
	Timestamp string `json:"timestamp"` // 14-digit format: YYYYMMDDhhmmss
	Status    string `json:"status"`
	Available bool   `json:"available"`
}

// Mirror resolves original URLs to archived snapshots and fetches them.
// Availability lookups go through the same cached, rate-limited fetcher as content.
type Mirror struct {
	fetcher         fetch.Fetcher
	availabilityURL string
	contentBefore   string
	log             *logrus.Entry
}

// NewMirror creates a Mirror using the availability endpoint and cutoff from cfg
func NewMirror(fetcher fetch.Fetcher, cfg *config.AppConfig, log *logrus.Entry) *Mirror {
	return &Mirror{
		fetcher:         fetcher,
		availabilityURL: cfg.AvailabilityURL,
		contentBefore:   cfg.ContentBefore,
		log:             log.WithField("component", "archive"),
	}
}

// Resolve returns the archived URL of the snapshot closest to (at or before) the cutoff.
// Returns utils.ErrNotArchived when no snapshot exists or the lookup itself failed.
// A lookup answer that is not valid JSON is returned as utils.ErrParsing.
func (m *Mirror) Resolve(ctx context.Context, originalURL string) (string, error) {
	params := url.Values{}
	params.Set("url", originalURL)
	if m.contentBefore != "" {
		params.Set("timestamp", m.contentBefore)
	}

	body, err := m.fetcher.Fetch(ctx, m.availabilityURL, params, fetch.ModeText)
	if err != nil {
		if errors.Is(err, utils.ErrFetchFailed) {
			m.log.WithField("url", originalURL).Debugf("Availability lookup failed: %v", err)
			return "", fmt.Errorf("%w: %s: %w", utils.ErrNotArchived, originalURL, err)
		}
		return "", err
	}

	var resp availabilityResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("%w: availability JSON for '%s': %w", utils.ErrParsing, originalURL, err)
	}

	closest := resp.ArchivedSnapshots.Closest
	if closest == nil || closest.URL == "" {
		m.log.WithField("url", originalURL).Debug("No archived snapshot")
		return "", fmt.Errorf("%w: %s", utils.ErrNotArchived, originalURL)
	}

	m.log.WithFields(logrus.Fields{"url": originalURL, "snapshot": closest.URL}).Debug("Resolved snapshot")
	return closest.URL, nil
}

// FetchArchived resolves originalURL and fetches the snapshot in the given mode
func (m *Mirror) FetchArchived(ctx context.Context, originalURL string, mode fetch.Mode) ([]byte, error) {
	body, _, err := m.FetchSnapshot(ctx, originalURL, mode)
	return body, err
}

// FetchSnapshot is FetchArchived that also returns the snapshot URL,
// which is the base for links found in the body.
func (m *Mirror) FetchSnapshot(ctx context.Context, originalURL string, mode fetch.Mode) ([]byte, string, error) {
	archivedURL, err := m.Resolve(ctx, originalURL)
	if err != nil {
		return nil, "", err
	}
	body, err := m.fetcher.Fetch(ctx, archivedURL, nil, mode)
	if err != nil {
		return nil, archivedURL, err
	}
	return body, archivedURL, nil
}

// Matches the archive prefix "<scheme>://<host>/web/<timestamp>[<flag>_]/" or its host-relative form
var archivePrefix = regexp.MustCompile(`^(?:https?://[^/]+)?/web/\d{1,14}(?:[a-z]{2}_)?/`)

// UnarchivedURL strips the archive prefix from a rewritten URL, leaving the original URL.
// URLs without the prefix are returned unchanged.
func UnarchivedURL(u string) string {
	return archivePrefix.ReplaceAllString(u, "")
}
