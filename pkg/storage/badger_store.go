package storage

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	badger "github.com/dgraph-io/badger/v4"
	"github.com/sirupsen/logrus"

	"gallery2disk/pkg/log"
	"gallery2disk/pkg/models"
	"gallery2disk/pkg/utils"
)

const (
	albumKeyPrefix = "album:"   // Prefix for album keys in DB
	imageKeyPrefix = "img:"     // Prefix for image keys in DB
	ledgerDBDir    = "crawl_db" // Subdirectory name within stateDir for Badger DB files
)

// BadgerStore implements the CrawlLedger interface using BadgerDB
type BadgerStore struct {
	db  *badger.DB
	log *logrus.Entry
	ctx context.Context // Parent context
}

var _ CrawlLedger = (*BadgerStore)(nil)

// NewBadgerStore opens a fresh ledger for siteHost under stateDir.
// Any ledger left by a previous run is removed; the fetch cache is what makes re-runs cheap.
func NewBadgerStore(ctx context.Context, stateDir, siteHost string, logger *logrus.Entry) (*BadgerStore, error) {
	store := &BadgerStore{
		log: logger,
		ctx: ctx,
	}

	dbPath := filepath.Join(stateDir, utils.SafeDirName(siteHost)+"_"+ledgerDBDir)

	if err := os.RemoveAll(dbPath); err != nil {
		logger.Errorf("Failed to remove previous ledger %s: %v", dbPath, err)
	}
	logger.Infof("Initializing crawl ledger at: %s", dbPath)

	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, fmt.Errorf("%w: cannot create state directory %s: %w", utils.ErrFilesystem, dbPath, err)
	}

	badgerLogger := log.NewBadgerLogrusAdapter(logger.WithField("component", "badgerdb"))
	opts := badger.DefaultOptions(dbPath).
		WithLogger(badgerLogger).
		WithNumVersionsToKeep(1)

	var err error
	store.db, err = badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to open badger database at %s: %w", utils.ErrDatabase, dbPath, err)
	}

	logger.Debug("Crawl ledger initialized.")
	return store, nil
}

const maxConflictRetries = 10

// dbUpdate wraps db.Update with a retry loop for BadgerDB transaction conflicts
func (s *BadgerStore) dbUpdate(fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflictRetries; i++ {
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
		s.log.Debugf("BadgerDB transaction conflict (attempt %d/%d), retrying", i+1, maxConflictRetries)
	}
	return fmt.Errorf("%w: transaction conflict not resolved after %d retries", utils.ErrDatabase, maxConflictRetries)
}

// MarkAlbumVisited implements the AlbumLedger interface
func (s *BadgerStore) MarkAlbumVisited(albumKey string, entry *models.AlbumDBEntry) (bool, error) {
	if s.db == nil {
		return false, fmt.Errorf("%w: ledger not initialized", utils.ErrDatabase)
	}
	key := []byte(albumKeyPrefix + albumKey)
	added := false

	err := s.dbUpdate(func(txn *badger.Txn) error {
		added = false
		stored := *entry

		item, errGet := txn.Get(key)
		switch {
		case errors.Is(errGet, badger.ErrKeyNotFound):
			added = true
			stored.Visits = 1
		case errGet != nil:
			return errGet
		default:
			// Revisit: keep the first entry, count the visit
			errVal := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &stored)
			})
			if errVal != nil {
				s.log.Warnf("Failed to decode album entry '%s': %v. Overwriting.", string(key), errVal)
				stored = *entry
			}
			stored.Visits++
		}

		val, errJSON := json.Marshal(&stored)
		if errJSON != nil {
			return fmt.Errorf("%w: marshal AlbumDBEntry: %w", utils.ErrParsing, errJSON)
		}
		return txn.SetEntry(badger.NewEntry(key, val))
	})

	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in MarkAlbumVisited: %v", err)
		return false, fmt.Errorf("%w: marking album key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return added, nil
}

// CheckImageStatus implements the ImageLedger interface
func (s *BadgerStore) CheckImageStatus(imageKey string) (models.ImageStatus, *models.ImageDBEntry, error) {
	status := models.ImageStatusNotFound
	var entry *models.ImageDBEntry
	key := []byte(imageKeyPrefix + imageKey)

	errView := s.db.View(func(txn *badger.Txn) error {
		item, errGet := txn.Get(key)
		if errors.Is(errGet, badger.ErrKeyNotFound) {
			return nil
		}
		if errGet != nil {
			return fmt.Errorf("%w: failed getting image key '%s': %w", utils.ErrDatabase, string(key), errGet)
		}

		return item.Value(func(val []byte) error {
			if len(val) == 0 {
				s.log.Warnf("Image key '%s' found with empty value, invalid state. Treating as 'not_found'.", string(key))
				return nil
			}

			var decoded models.ImageDBEntry
			if errJSON := json.Unmarshal(val, &decoded); errJSON != nil {
				s.log.Warnf("Failed to unmarshal ImageDBEntry for key '%s': %v. Treating as 'not_found'.", string(key), errJSON)
				return nil
			}

			entry = &decoded
			status = decoded.Status
			return nil
		})
	})

	if errView != nil {
		s.log.Errorf("DB View error in CheckImageStatus for key '%s': %v", string(key), errView)
		return models.ImageStatusDBError, nil, errView
	}
	return status, entry, nil
}

// UpdateImageStatus implements the ImageLedger interface
func (s *BadgerStore) UpdateImageStatus(imageKey string, entry *models.ImageDBEntry) error {
	if s.db == nil {
		return fmt.Errorf("%w: ledger not initialized", utils.ErrDatabase)
	}
	key := []byte(imageKeyPrefix + imageKey)

	entryBytes, errJSON := json.Marshal(entry)
	if errJSON != nil {
		wrappedErr := fmt.Errorf("%w: failed to marshal ImageDBEntry for key '%s': %w", utils.ErrParsing, string(key), errJSON)
		s.log.Error(wrappedErr)
		return wrappedErr
	}

	err := s.dbUpdate(func(txn *badger.Txn) error {
		return txn.SetEntry(badger.NewEntry(key, entryBytes))
	})
	if err != nil {
		s.log.WithField("key", string(key)).Errorf("DB Update error in UpdateImageStatus: %v", err)
		return fmt.Errorf("%w: failed setting image status for key '%s': %w", utils.ErrDatabase, string(key), err)
	}
	return nil
}

// Stats implements the StoreAdmin interface
func (s *BadgerStore) Stats() (models.LedgerStats, error) {
	var stats models.LedgerStats

	err := s.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()

		albumPrefix := []byte(albumKeyPrefix)
		for it.Seek(albumPrefix); it.ValidForPrefix(albumPrefix); it.Next() {
			var album models.AlbumDBEntry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &album) }); err != nil {
				s.log.Warnf("Stats: skipping undecodable album key '%s': %v", string(it.Item().Key()), err)
				continue
			}
			stats.AlbumsVisited++
			if album.Visits > 1 {
				stats.AlbumRevisits += album.Visits - 1
			}
		}

		imgPrefix := []byte(imageKeyPrefix)
		for it.Seek(imgPrefix); it.ValidForPrefix(imgPrefix); it.Next() {
			var img models.ImageDBEntry
			if err := it.Item().Value(func(val []byte) error { return json.Unmarshal(val, &img) }); err != nil {
				s.log.Warnf("Stats: skipping undecodable image key '%s': %v", string(it.Item().Key()), err)
				continue
			}
			switch img.Status {
			case models.ImageStatusSaved:
				stats.ImagesSaved++
			case models.ImageStatusMissing:
				stats.ImagesMissing++
			}
			if img.MetadataPath != "" {
				stats.MetadataWritten++
			}
			stats.NotFoundURLCount += len(img.MissingURLs)
		}
		return nil
	})
	if err != nil {
		return stats, fmt.Errorf("%w: computing ledger stats: %w", utils.ErrDatabase, err)
	}
	return stats, nil
}

// RunGC runs BadgerDB's garbage collection periodically
func (s *BadgerStore) RunGC(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	s.log.Debug("BadgerDB GC goroutine started.")

	for {
		select {
		case <-ticker.C:
			if s.db == nil || s.db.IsClosed() {
				s.log.Debug("DB GC: Database is nil or closed, skipping GC cycle.")
				continue
			}

			var err error
			for {
				// Run GC if log is at least 50% reclaimable space
				if err = s.db.RunValueLogGC(0.5); err != nil {
					break
				}
			}
			if !errors.Is(err, badger.ErrNoRewrite) {
				s.log.Errorf("BadgerDB GC error: %v", err)
			}

		case <-ctx.Done():
			s.log.Debugf("Stopping BadgerDB garbage collection goroutine: %v", ctx.Err())
			return
		}
	}
}

// WriteVisitedLog implements the StoreAdmin interface.
// Each line is "album <key>" or "image <key>", in key order.
func (s *BadgerStore) WriteVisitedLog(filePath string) error {
	file, err := os.Create(filePath)
	if err != nil {
		s.log.Errorf("Failed create visited log '%s': %v", filePath, err)
		return fmt.Errorf("%w: create visited log '%s': %w", utils.ErrFilesystem, filePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	var writeErr error
	writtenCount := 0

	iterErr := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()
		albumPrefixBytes := []byte(albumKeyPrefix)
		imgPrefixBytes := []byte(imageKeyPrefix)

		for it.Rewind(); it.Valid(); it.Next() {
			if err := s.ctx.Err(); err != nil {
				s.log.Warnf("WriteVisitedLog scan interrupted by context cancellation: %v", err)
				return err
			}

			key := it.Item().KeyCopy(nil)
			var line string
			switch {
			case bytes.HasPrefix(key, albumPrefixBytes):
				line = "album " + string(key[len(albumPrefixBytes):])
			case bytes.HasPrefix(key, imgPrefixBytes):
				line = "image " + string(key[len(imgPrefixBytes):])
			default:
				s.log.Warnf("Skipping unexpected key in DB (no album/img prefix): %s", string(key))
				continue
			}

			if _, err := writer.WriteString(line + "\n"); err != nil && writeErr == nil {
				writeErr = err
			}
			writtenCount++
		}
		return nil
	})

	if flushErr := writer.Flush(); flushErr != nil && writeErr == nil {
		writeErr = flushErr
	}
	if iterErr != nil {
		return iterErr
	}
	if writeErr != nil {
		return fmt.Errorf("%w: writing visited log '%s': %w", utils.ErrFilesystem, filePath, writeErr)
	}

	s.log.Infof("Wrote %d keys to visited log: %s", writtenCount, filePath)
	return nil
}

// Close implements the StoreAdmin interface
func (s *BadgerStore) Close() error {
	if s.db != nil && !s.db.IsClosed() {
		s.log.Debug("Closing crawl ledger...")
		if err := s.db.Close(); err != nil {
			s.log.Errorf("Error closing crawl ledger: %v", err)
			return err
		}
		return nil
	}
	return nil
}
