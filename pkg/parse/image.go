package parse

import (
	"fmt"
	"io"
	"net/mail"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"gallery2disk/pkg/models"
	"gallery2disk/pkg/utils"
)

// ParseImagePage parses an image detail page into its caption and comment thread.
// Comment dates are converted to loc. A page without a comment box or caption
// yields no comments and a nil caption.
func ParseImagePage(r io.Reader, loc *time.Location) (*models.ImageMetadata, error) {
	doc, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return nil, fmt.Errorf("%w: reading HTML: %w", utils.ErrParsing, err)
	}

	meta := &models.ImageMetadata{Comments: []models.Comment{}}

	// Each comment is two rows: [icon, name, (date)] then the comment text
	rows := doc.Find(".commentbox").First().Find("tr")
	if rows.Length()%2 != 0 {
		return nil, fmt.Errorf("%w: comment box has %d rows in HTML, want pairs", utils.ErrParsing, rows.Length())
	}
	for i := 0; i < rows.Length(); i += 2 {
		cells := rows.Eq(i).Find("td")
		if cells.Length() != 3 {
			return nil, fmt.Errorf("%w: comment header has %d cells in HTML, want 3", utils.ErrParsing, cells.Length())
		}
		meta.Comments = append(meta.Comments, models.Comment{
			Name:    strings.TrimSpace(cells.Eq(1).Text()),
			Date:    NormalizeCommentDate(cells.Eq(2).Text(), loc),
			Comment: strings.TrimSpace(rows.Eq(i + 1).Find("td").First().Text()),
		})
	}

	if caption := doc.Find(".pcaption").First(); caption.Length() > 0 {
		text := strings.TrimSpace(caption.Text())
		meta.Caption = &text
	}

	return meta, nil
}

// Central European abbreviations the gallery printed instead of numeric offsets
var zoneAbbreviations = strings.NewReplacer("CEST", "+0200", "CET", "+0100")

// Layouts tried after net/mail's RFC 5322 parser
var fallbackDateLayouts = []string{
	"Mon Jan _2 15:04:05 -0700 2006",
	"2006-01-02 15:04:05 -0700",
	"02.01.2006 15:04 -0700",
}

// NormalizeCommentDate parses a comment date such as "(Sat, 12 May 2007 14:03:00 CEST)"
// and formats it as RFC 3339 in loc. Text that cannot be parsed is returned trimmed.
func NormalizeCommentDate(raw string, loc *time.Location) string {
	text := strings.Trim(strings.TrimSpace(raw), "()")
	if loc == nil {
		loc = time.UTC
	}

	numeric := zoneAbbreviations.Replace(text)
	if t, err := mail.ParseDate(numeric); err == nil {
		return t.In(loc).Format(time.RFC3339)
	}
	for _, layout := range fallbackDateLayouts {
		if t, err := time.Parse(layout, numeric); err == nil {
			return t.In(loc).Format(time.RFC3339)
		}
	}
	return text
}
