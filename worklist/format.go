package worklist

import (
	"fmt"
	"strings"

	"vidmigrate/internal"
)

// descriptionIntro opens every video description: "source sheets and audio on the lesson page of the yeshiva site"
const descriptionIntro = "דפי מקורות וקובץ שמע בעמוד השיעור באתר הישיבה"

// dateLabel prefixes the lesson date line
const dateLabel = "תאריך: "

// Title joins rabi, category and title, dropping the rabi when the category is missing
func Title(row *Row) string {
	rabi, cat, title := row.Get(ColRabi), row.Get(ColCat), row.Get(ColTitle)
	switch {
	case rabi != "" && cat != "":
		return fmt.Sprintf("%s - %s - %s", rabi, cat, title)
	case cat != "":
		return fmt.Sprintf("%s - %s", cat, title)
	default:
		return title
	}
}

// Description builds the video description with a link to the lesson page and its date
func Description(row *Row, websiteURL string) string {
	var b strings.Builder
	b.WriteString(descriptionIntro)

	if id := row.Get(ColID); id != "" {
		link := websiteURL + id
		fmt.Fprintf(&b, "\n\n<a href=\"%s\">%s</a>", link, link)
	}

	if added := strings.ReplaceAll(row.Get(ColAdded), " 0:00", ""); added != "" {
		b.WriteString("\n\n")
		b.WriteString(dateLabel)
		b.WriteString(added)
	}
	return b.String()
}

// Metadata is the video snippet for row
func Metadata(row *Row, cfg internal.YouTubeConfig) internal.VideoMetadata {
	return internal.VideoMetadata{
		Title:         Title(row),
		Description:   Description(row, cfg.WebsiteURL),
		Tags:          []string{},
		PrivacyStatus: cfg.PrivacyStatus,
	}
}
