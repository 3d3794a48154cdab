package youtube

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"

	"google.golang.org/api/googleapi"
	ytapi "google.golang.org/api/youtube/v3"

	"vidmigrate/internal"
	"vidmigrate/utils"
)

// DefaultUploadURL starts a resumable video insert with snippet and status parts
const DefaultUploadURL = "https://www.googleapis.com/upload/youtube/v3/videos?uploadType=resumable&part=snippet,status"

// statusResumeIncomplete is the 308 the upload endpoint answers for accepted partial data
const statusResumeIncomplete = http.StatusPermanentRedirect

// Uploader opens resumable upload sessions
type Uploader struct {
	client    *utils.HTTPClient
	uploadURL string
}

// NewUploader creates an Uploader. client must already carry OAuth credentials.
func NewUploader(client *utils.HTTPClient, uploadURL string) *Uploader {
	if uploadURL == "" {
		uploadURL = DefaultUploadURL
	}
	return &Uploader{client: client, uploadURL: uploadURL}
}

// VideoResource builds the insert body for meta
func VideoResource(meta internal.VideoMetadata) *ytapi.Video {
	tags := meta.Tags
	if tags == nil {
		tags = []string{}
	}
	return &ytapi.Video{
		Snippet: &ytapi.VideoSnippet{
			Title:       meta.Title,
			Description: meta.Description,
			Tags:        tags,
		},
		Status: &ytapi.VideoStatus{
			PrivacyStatus: meta.PrivacyStatus,
		},
	}
}

// CreateSession registers the video metadata and returns the session URI chunks are sent to
func (u *Uploader) CreateSession(ctx context.Context, meta internal.VideoMetadata, size int64) (string, error) {
	if meta.Title == "" {
		return "", internal.NewInvalidInputError("title", "cannot be empty")
	}

	body, err := json.Marshal(VideoResource(meta))
	if err != nil {
		return "", fmt.Errorf("failed to encode video resource: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.uploadURL, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create session request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	if size >= 0 {
		req.Header.Set("X-Upload-Content-Length", strconv.FormatInt(size, 10))
	}
	contentType := meta.ContentType
	if contentType == "" {
		contentType = "video/*"
	}
	req.Header.Set("X-Upload-Content-Type", contentType)

	resp, err := u.client.Do(req)
	if err != nil {
		return "", utils.ClassifyError(err, "create upload session")
	}
	defer resp.Body.Close()

	if err := checkResponse(resp, "create upload session"); err != nil {
		return "", err
	}

	location := resp.Header.Get("Location")
	if location == "" {
		return "", internal.NewFatalRemoteError(resp.StatusCode, "upload session response has no Location header")
	}
	internal.LogDebug("Opened upload session for %q", meta.Title)
	return location, nil
}

// Session returns a handle on an existing session URI, new or restored from a sidecar
func (u *Uploader) Session(uri string) internal.UploadSession {
	return &Session{client: u.client, uri: uri}
}

// Session is one resumable upload
type Session struct {
	client *utils.HTTPClient
	uri    string
}

var (
	_ internal.UploadSession = (*Session)(nil)
	_ internal.OffsetQuerier = (*Session)(nil)
)

// URI is the session address
func (s *Session) URI() string {
	return s.uri
}

// PushChunk sends chunk.Data at chunk.Offset
func (s *Session) PushChunk(ctx context.Context, chunk internal.Chunk) (internal.ChunkResponse, error) {
	if len(chunk.Data) == 0 {
		return internal.ChunkResponse{}, internal.NewInvalidInputError("chunk", "empty chunk")
	}

	end := chunk.Offset + int64(len(chunk.Data)) - 1
	total := "*"
	if chunk.Total >= 0 {
		total = strconv.FormatInt(chunk.Total, 10)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.uri, bytes.NewReader(chunk.Data))
	if err != nil {
		return internal.ChunkResponse{}, fmt.Errorf("failed to create chunk request: %w", err)
	}
	req.ContentLength = int64(len(chunk.Data))
	req.Header.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%s", chunk.Offset, end, total))

	return s.send(req, "upload chunk")
}

// QueryOffset asks the server how many bytes it holds
func (s *Session) QueryOffset(ctx context.Context, total int64) (internal.ChunkResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.uri, http.NoBody)
	if err != nil {
		return internal.ChunkResponse{}, fmt.Errorf("failed to create status request: %w", err)
	}
	size := "*"
	if total >= 0 {
		size = strconv.FormatInt(total, 10)
	}
	req.ContentLength = 0
	req.Header.Set("Content-Range", "bytes */"+size)

	return s.send(req, "query upload offset")
}

func (s *Session) send(req *http.Request, operation string) (internal.ChunkResponse, error) {
	resp, err := s.client.Do(req)
	if err != nil {
		return internal.ChunkResponse{}, utils.ClassifyError(err, operation)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case statusResumeIncomplete:
		return internal.ChunkResponse{Offset: parseRange(resp.Header.Get("Range"))}, nil
	case http.StatusOK, http.StatusCreated:
		video := &ytapi.Video{}
		if err := json.NewDecoder(resp.Body).Decode(video); err != nil {
			return internal.ChunkResponse{}, internal.NewFatalRemoteError(resp.StatusCode, "upload completed but the response is not a video resource").WithCause(err)
		}
		if video.Id == "" {
			return internal.ChunkResponse{}, internal.NewFatalRemoteError(resp.StatusCode, "upload completed without a video id")
		}
		var offset int64
		if cr := req.Header.Get("Content-Range"); cr != "" {
			offset = completedOffset(cr)
		}
		return internal.ChunkResponse{Offset: offset, Complete: true, RemoteID: video.Id}, nil
	}

	return internal.ChunkResponse{}, checkResponse(resp, operation)
}

// parseRange reads "bytes=0-N" and returns N+1, or 0 when nothing was received
func parseRange(header string) int64 {
	spec, ok := strings.CutPrefix(strings.TrimSpace(header), "bytes=")
	if !ok {
		return 0
	}
	_, last, ok := strings.Cut(spec, "-")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(last, 10, 64)
	if err != nil {
		return 0
	}
	return n + 1
}

// completedOffset is the total from a request Content-Range, "bytes a-b/total" or "bytes */total"
func completedOffset(contentRange string) int64 {
	_, size, ok := strings.Cut(contentRange, "/")
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(size, 10, 64)
	if err != nil {
		return 0
	}
	return n
}

// checkResponse decodes a Google API error body and maps its status onto the error taxonomy
func checkResponse(resp *http.Response, operation string) error {
	apiErr := googleapi.CheckResponse(resp)
	if apiErr == nil {
		return nil
	}

	classified := utils.ClassifyStatus(resp.StatusCode, operation)
	var te *internal.TransferError
	if !errors.As(classified, &te) {
		return apiErr
	}

	var gErr *googleapi.Error
	if errors.As(apiErr, &gErr) {
		if gErr.Message != "" {
			te.WithContext("message", gErr.Message)
		}
		for _, item := range gErr.Errors {
			if item.Reason == "quotaExceeded" || item.Reason == "uploadLimitExceeded" {
				te = internal.NewFatalRemoteError(resp.StatusCode, fmt.Sprintf("%s: %s", operation, item.Reason)).
					WithSuggestion("The daily YouTube upload quota is used up, try again tomorrow")
				break
			}
		}
	}
	return te.WithCause(apiErr)
}
