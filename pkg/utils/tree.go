package utils

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/sirupsen/logrus"
)

const (
	indentPrefix    = "    "
	entryPrefix     = "├── "
	lastEntryPrefix = "└── "
	verticalLine    = "│   "

	NotFoundLogName   = "notfound.urls"
	MetadataExtension = ".metadata"
)

// albumCounts summarises the files of a single album directory
type albumCounts struct {
	images   int
	metadata int
	missing  int
}

// WriteAlbumTree walks rootDir and writes a text tree of the album directories it contains,
// annotating each album with its image, metadata and not-found counts
func WriteAlbumTree(rootDir, outputFilePath string, log *logrus.Entry) error {
	if _, err := os.Stat(rootDir); err != nil {
		return fmt.Errorf("%w: checking album root '%s': %w", ErrFilesystem, rootDir, err)
	}

	file, err := os.Create(outputFilePath)
	if err != nil {
		return fmt.Errorf("%w: creating tree file '%s': %w", ErrFilesystem, outputFilePath, err)
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if _, err := fmt.Fprintf(writer, "Albums under: %s\n%s\n\n%s/\n", rootDir, strings.Repeat("=", 14+len(rootDir)), filepath.Base(rootDir)); err != nil {
		return err
	}

	if err := writeAlbumLevel(writer, rootDir, "", log); err != nil {
		return fmt.Errorf("writing album tree for '%s': %w", rootDir, err)
	}
	return writer.Flush()
}

// writeAlbumLevel writes one line per sub-directory of dirPath and recurses into it
func writeAlbumLevel(writer io.Writer, dirPath, indent string, log *logrus.Entry) error {
	entries, err := os.ReadDir(dirPath)
	if err != nil {
		log.Warnf("Failed to read album directory '%s': %v", dirPath, err)
		return fmt.Errorf("%w: reading '%s': %w", ErrFilesystem, dirPath, err)
	}

	dirs := slices.DeleteFunc(entries, func(e os.DirEntry) bool { return !e.IsDir() })
	slices.SortFunc(dirs, func(a, b os.DirEntry) int {
		return strings.Compare(strings.ToLower(a.Name()), strings.ToLower(b.Name()))
	})

	for i, entry := range dirs {
		isLast := i == len(dirs)-1
		connector, nextIndent := entryPrefix, indent+verticalLine
		if isLast {
			connector, nextIndent = lastEntryPrefix, indent+indentPrefix
		}

		subDir := filepath.Join(dirPath, entry.Name())
		counts, err := countAlbumFiles(subDir)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(writer, "%s%s%s/ (%d images, %d metadata, %d not found)\n",
			indent, connector, entry.Name(), counts.images, counts.metadata, counts.missing); err != nil {
			return err
		}
		if err := writeAlbumLevel(writer, subDir, nextIndent, log); err != nil {
			return err
		}
	}
	return nil
}

func countAlbumFiles(dir string) (albumCounts, error) {
	var counts albumCounts
	entries, err := os.ReadDir(dir)
	if err != nil {
		return counts, fmt.Errorf("%w: reading '%s': %w", ErrFilesystem, dir, err)
	}
	for _, e := range entries {
		switch {
		case e.IsDir():
		case e.Name() == NotFoundLogName:
			data, err := os.ReadFile(filepath.Join(dir, e.Name()))
			if err != nil {
				return counts, fmt.Errorf("%w: reading '%s': %w", ErrFilesystem, e.Name(), err)
			}
			counts.missing = bytes.Count(data, []byte("\n"))
		case strings.HasSuffix(e.Name(), MetadataExtension):
			counts.metadata++
		default:
			counts.images++
		}
	}
	return counts, nil
}
