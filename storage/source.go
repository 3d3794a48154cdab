package storage

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"vidmigrate/internal"
	"vidmigrate/utils"
)

// URLFunc returns the address to read from. It is called once per chunk so
// signed URLs can be renewed during long downloads.
type URLFunc func() (string, error)

// StaticURL wraps a fixed address
func StaticURL(rawURL string) URLFunc {
	return func() (string, error) { return rawURL, nil }
}

// RangeSource reads an object with HTTP Range requests. It does not throttle;
// bandwidth limits are applied by the transfer engine between chunks.
type RangeSource struct {
	client *utils.HTTPClient
	urlFor URLFunc
}

var _ internal.Source = (*RangeSource)(nil)

// NewRangeSource creates a RangeSource
func NewRangeSource(client *utils.HTTPClient, urlFor URLFunc) *RangeSource {
	return &RangeSource{client: client, urlFor: urlFor}
}

// Size asks the server for the object length with a HEAD request.
// It returns internal.SizeUnknown when the server does not say.
func (s *RangeSource) Size(ctx context.Context) (int64, error) {
	rawURL, err := s.urlFor()
	if err != nil {
		return internal.SizeUnknown, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return internal.SizeUnknown, fmt.Errorf("failed to create HEAD request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return internal.SizeUnknown, utils.ClassifyError(err, "head")
	}
	if err := utils.ClassifyResponse(resp, "head"); err != nil {
		return internal.SizeUnknown, err
	}
	resp.Body.Close()

	if resp.ContentLength < 0 {
		return internal.SizeUnknown, nil
	}
	return resp.ContentLength, nil
}

// ReadChunk fetches up to maxBytes starting at offset
func (s *RangeSource) ReadChunk(ctx context.Context, offset, maxBytes int64) ([]byte, error) {
	if maxBytes <= 0 {
		return nil, internal.NewInvalidInputError("max_bytes", "must be positive")
	}

	rawURL, err := s.urlFor()
	if err != nil {
		return nil, err
	}

	headers := map[string]string{
		"Range": fmt.Sprintf("bytes=%d-%d", offset, offset+maxBytes-1),
	}
	resp, err := s.client.GetWithContext(ctx, rawURL, headers)
	if err != nil {
		return nil, utils.ClassifyError(err, "download")
	}

	if resp.StatusCode == http.StatusRequestedRangeNotSatisfiable {
		resp.Body.Close()
		return nil, io.EOF
	}
	if err := utils.ClassifyResponse(resp, "download"); err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body := io.Reader(resp.Body)
	end := int64(-1)
	total := internal.SizeUnknown

	switch resp.StatusCode {
	case http.StatusPartialContent:
		_, end, total = parseContentRange(resp.Header.Get("Content-Range"))
	default:
		// the server ignored the range and sent the whole object
		if offset > 0 {
			if _, err := io.CopyN(io.Discard, body, offset); err != nil {
				if err == io.EOF {
					return nil, io.EOF
				}
				return nil, utils.ClassifyError(err, "download")
			}
		}
		total = resp.ContentLength
	}

	data, err := io.ReadAll(io.LimitReader(body, maxBytes))
	if err != nil {
		return data, utils.ClassifyError(err, "download")
	}

	if total >= 0 && offset+int64(len(data)) >= total {
		return data, io.EOF
	}
	if end >= 0 && total < 0 && int64(len(data)) < maxBytes && offset+int64(len(data)) == end+1 {
		// a short range with an unknown total is the tail of the object
		return data, io.EOF
	}
	if len(data) == 0 {
		return nil, io.EOF
	}
	return data, nil
}

// parseContentRange reads "bytes start-end/total". Missing parts are -1.
func parseContentRange(header string) (start, end, total int64) {
	start, end, total = -1, -1, -1
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes ")
	if !ok {
		return
	}
	span, size, ok := strings.Cut(spec, "/")
	if !ok {
		return
	}
	if size != "*" {
		if n, err := strconv.ParseInt(size, 10, 64); err == nil {
			total = n
		}
	}
	first, last, ok := strings.Cut(span, "-")
	if !ok {
		return
	}
	if n, err := strconv.ParseInt(first, 10, 64); err == nil {
		start = n
	}
	if n, err := strconv.ParseInt(last, 10, 64); err == nil {
		end = n
	}
	return
}
