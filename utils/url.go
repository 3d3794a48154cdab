package utils

import (
	"fmt"
	"net/url"
	"path"
	"strings"

	"vidmigrate/internal"
)

// Locator is a worklist url cell resolved against the storage container
type Locator struct {
	Raw string

	// URL is the unsigned absolute address of the object
	URL string

	// ObjectPath is the unescaped path below the container with a leading slash,
	// empty when the locator points outside the container
	ObjectPath string

	// FileName is the local name for the download, without query parameters
	FileName string
}

// External reports whether the locator is an absolute URL outside the container
func (l *Locator) External() bool {
	return l.ObjectPath == ""
}

// ResolveLocator turns a worklist cell into a Locator. The cell is either a full
// http(s) URL or a path relative to containerURL.
func ResolveLocator(raw, containerURL string) (*Locator, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, internal.NewValidationError("url", "locator cannot be empty")
	}

	base := strings.TrimRight(containerURL, "/")
	loc := &Locator{Raw: raw}

	if strings.HasPrefix(strings.ToLower(raw), "http") {
		if err := ValidateURL(raw); err != nil {
			return nil, err
		}
		loc.URL = raw
		withoutQuery, _, _ := strings.Cut(raw, "?")
		if base != "" && strings.HasPrefix(withoutQuery, base+"/") {
			loc.ObjectPath = unescapePath(strings.TrimPrefix(withoutQuery, base))
		}
		parsed, _ := url.Parse(raw)
		loc.FileName = path.Base(parsed.Path)
	} else {
		if base == "" {
			return nil, internal.NewValidationError("storage.base_url", "relative locator needs a container URL").
				WithContext("locator", raw)
		}
		objectPath, _, _ := strings.Cut(raw, "?")
		loc.ObjectPath = "/" + strings.TrimLeft(unescapePath(objectPath), "/")
		loc.URL = base + "/" + strings.TrimLeft(raw, "/")
		loc.FileName = path.Base(loc.ObjectPath)
	}

	if loc.FileName == "" || loc.FileName == "." || loc.FileName == "/" {
		return nil, internal.NewValidationErrorWithValue("url", "locator has no file name", raw)
	}
	return loc, nil
}

// unescapePath decodes percent escapes so signing and deletion escape the path
// exactly once. Malformed escapes are kept verbatim.
func unescapePath(p string) string {
	if decoded, err := url.PathUnescape(p); err == nil {
		return decoded
	}
	return p
}

// SplitContainerURL separates a container URL into its origin and its path, the two
// halves temp URL signing needs
func SplitContainerURL(containerURL string) (origin, basePath string, err error) {
	parsed, err := url.Parse(strings.TrimRight(containerURL, "/"))
	if err != nil {
		return "", "", internal.NewValidationError("storage.base_url", fmt.Sprintf("invalid URL: %v", err))
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return "", "", internal.NewValidationErrorWithValue("storage.base_url", "URL must be absolute", containerURL)
	}
	return parsed.Scheme + "://" + parsed.Host, parsed.Path, nil
}

// ValidateURL checks that rawURL is an absolute http or https URL
func ValidateURL(rawURL string) error {
	if rawURL == "" {
		return internal.NewValidationError("url", "URL cannot be empty")
	}

	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return internal.NewValidationError("url", fmt.Sprintf("invalid URL format: %v", err))
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return internal.NewValidationErrorWithValue("url", "URL must use http or https protocol", rawURL)
	}
	if parsedURL.Host == "" {
		return internal.NewValidationErrorWithValue("url", "URL must include a host", rawURL)
	}
	return nil
}

// YouTubeURL returns the short watch link stored in the worklist
func YouTubeURL(videoID string) string {
	return "https://youtu.be/" + videoID
}
