package parse

import (
	"fmt"
	"io"
	"net/url"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"gallery2disk/pkg/archive"
	"gallery2disk/pkg/models"
	"gallery2disk/pkg/utils"
)

// ParseGalleryFront parses the gallery front index (or one page of the album list).
// Every element whose class is exactly "title" is an album; hrefs are resolved against base.
func ParseGalleryFront(r io.Reader, base *url.URL) (*models.FrontPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading HTML: %w", utils.ErrParsing, err)
	}

	page := &models.FrontPage{Albums: []models.Album{}}

	var parseErr error
	doc.Find(`[class="title"]`).EachWithBreak(func(i int, s *goquery.Selection) bool {
		href, ok := s.Find("a").First().Attr("href")
		if !ok {
			parseErr = fmt.Errorf("%w: album title %d has no link in HTML", utils.ErrParsing, i)
			return false
		}
		resolved, err := resolveHref(base, href)
		if err != nil {
			parseErr = err
			return false
		}
		page.Albums = append(page.Albums, models.Album{
			Title: strings.TrimSpace(s.Text()),
			Href:  resolved,
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	page.LastPage, err = lastPage(doc, 0)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// ParseGalleryPage parses one page of an album: sub-album tiles, image thumbnails
// and the album's own page count.
func ParseGalleryPage(r io.Reader, base *url.URL) (*models.GalleryPage, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading HTML: %w", utils.ErrParsing, err)
	}

	page := &models.GalleryPage{
		Albums: []models.Album{},
		Images: []models.Image{},
	}

	var parseErr error
	doc.Find(".vathumbs").EachWithBreak(func(i int, thumb *goquery.Selection) bool {
		album, image, err := parseThumb(thumb, base)
		if err != nil {
			parseErr = fmt.Errorf("thumbnail %d: %w", i, err)
			return false
		}
		if album != nil {
			page.Albums = append(page.Albums, *album)
		} else {
			page.Images = append(page.Images, *image)
		}
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	page.LastPage, err = lastPage(doc, 1)
	if err != nil {
		return nil, err
	}
	return page, nil
}

// parseThumb returns either a sub-album or an image for one .vathumbs tile
func parseThumb(thumb *goquery.Selection, base *url.URL) (*models.Album, *models.Image, error) {
	image := &models.Image{URLs: []string{}}

	caption := thumb.Find(".modcaption").First()
	if caption.Length() > 0 {
		if b := caption.Find("center").First().Find("b").First(); b.Length() > 0 {
			href, ok := b.Find("a").First().Attr("href")
			if !ok {
				return nil, nil, fmt.Errorf("%w: sub-album caption has no link in HTML", utils.ErrParsing)
			}
			resolved, err := resolveHref(base, href)
			if err != nil {
				return nil, nil, err
			}
			title := strings.TrimPrefix(strings.TrimSpace(b.Text()), "Album: ")
			return &models.Album{Title: title, Href: resolved}, nil, nil
		}

		divs := caption.Find("div")
		if divs.Length() < 2 {
			return nil, nil, fmt.Errorf("%w: image caption has %d divs in HTML, want 2", utils.ErrParsing, divs.Length())
		}
		text := strings.Trim(cleanText(strings.TrimSpace(divs.Eq(0).Text())), " *")
		image.Caption = &text

		viewWords := strings.Fields(divs.Eq(1).Text())
		if len(viewWords) < 2 {
			return nil, nil, fmt.Errorf("%w: view count missing in HTML", utils.ErrParsing)
		}
		views, err := strconv.Atoi(viewWords[1])
		if err != nil {
			return nil, nil, fmt.Errorf("%w: view count '%s': %w", utils.ErrParsing, viewWords[1], err)
		}
		image.Views = &views
	}

	if href, ok := thumb.Find(".vafloat2").First().Find("a").First().Attr("href"); ok {
		resolved, err := resolveHref(base, href)
		if err != nil {
			return nil, nil, err
		}
		image.PageURL = resolved
	}

	var srcErr error
	thumb.Find("img").EachWithBreak(func(_ int, img *goquery.Selection) bool {
		src, ok := img.Attr("src")
		if !ok || !strings.Contains(src, "/albums/") {
			return true
		}
		resolved, err := resolveHref(base, src)
		if err != nil {
			srcErr = err
			return false
		}
		image.URLs = CandidateURLs(archive.UnarchivedURL(resolved))
		return false
	})
	if srcErr != nil {
		return nil, nil, srcErr
	}

	return nil, image, nil
}

// CandidateURLs expands a thumbnail URL into its size variants, largest first:
// the full image, the ".sized" variant and the thumbnail itself.
func CandidateURLs(thumbURL string) []string {
	return []string{
		strings.ReplaceAll(thumbURL, ".thumb", ""),
		strings.ReplaceAll(thumbURL, ".thumb", ".sized"),
		thumbURL,
	}
}

// lastPage reads the page number from the link around the "Last Page" button.
// Returns def when the page has no such button.
func lastPage(doc *goquery.Document, def int) (int, error) {
	img := doc.Find(`[alt="Last Page"]`).First()
	if img.Length() == 0 {
		return def, nil
	}
	href, ok := img.Closest("a").Attr("href")
	if !ok {
		return 0, fmt.Errorf("%w: 'Last Page' button has no link in HTML", utils.ErrParsing)
	}
	parts := strings.Split(href, "=")
	n, err := strconv.Atoi(parts[len(parts)-1])
	if err != nil {
		return 0, fmt.Errorf("%w: last page number in '%s': %w", utils.ErrParsing, href, err)
	}
	return n, nil
}

// Mis-decoded replacement characters left by the gallery software
func cleanText(s string) string {
	return strings.ReplaceAll(s, "ï¿½", "_")
}
