package fetch

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"

	"gallery2disk/pkg/utils"
)

// Mode selects how a response body is stored and returned
type Mode int

const (
	// ModeText decodes the body to UTF-8 using the response charset
	ModeText Mode = iota
	// ModeBinary keeps the body bytes untouched
	ModeBinary
)

func (m Mode) String() string {
	if m == ModeBinary {
		return "binary"
	}
	return "text"
}

// CacheKey returns the content address of a request.
// Binary requests get a distinct key so one URL can be cached in both modes.
func CacheKey(rawURL string, params url.Values, mode Mode) string {
	material := rawURL + "|" + params.Encode()
	if mode == ModeBinary {
		material += "|raw"
	}
	return utils.CacheDigest(material)
}

// DiskCache stores one file per cache key. An empty file is a negative entry.
// Entries are written once and never expire.
type DiskCache struct {
	dir string
	log *logrus.Entry
}

// NewDiskCache creates the cache directory if needed
func NewDiskCache(dir string, log *logrus.Entry) (*DiskCache, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("%w: creating cache dir '%s': %w", utils.ErrFilesystem, dir, err)
	}
	return &DiskCache{dir: dir, log: log}, nil
}

// Path returns the file backing key
func (c *DiskCache) Path(key string) string {
	return filepath.Join(c.dir, key)
}

// Get returns the stored content and whether the key exists.
// A hit with empty content is a negative entry.
func (c *DiskCache) Get(key string) ([]byte, bool, error) {
	data, err := os.ReadFile(c.Path(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("%w: reading cache entry '%s': %w", utils.ErrFilesystem, key, err)
	}
	return data, true, nil
}

// Put writes data under key through a temp file and rename,
// so a crash never leaves a truncated entry that would read as negative.
func (c *DiskCache) Put(key string, data []byte) error {
	tmp, err := os.CreateTemp(c.dir, key+".*.tmp")
	if err != nil {
		return fmt.Errorf("%w: creating temp cache file: %w", utils.ErrFilesystem, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("%w: writing cache entry '%s': %w", utils.ErrFilesystem, key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: closing cache entry '%s': %w", utils.ErrFilesystem, key, err)
	}
	if err := os.Rename(tmpName, c.Path(key)); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("%w: renaming cache entry '%s': %w", utils.ErrFilesystem, key, err)
	}

	c.log.WithFields(logrus.Fields{"key": key, "bytes": len(data)}).Debug("Cache entry written")
	return nil
}
