package internal

import (
	"fmt"
	"net/url"
	"time"
)

// SizeUnknown marks a TransferTask whose total size is not known ahead of time
const SizeUnknown int64 = -1

// TransferTask describes one download or upload. It is not modified during an attempt.
type TransferTask struct {
	Source      string `json:"source"`
	Destination string `json:"destination"`
	TotalSize   int64  `json:"total_size"`
	ChunkSize   int64  `json:"chunk_size"`

	// Label is shown on progress bars and in logs
	Label string `json:"label,omitempty"`

	// Resume marks an upload into a session that may already hold bytes. The engine
	// asks the session for its offset before sending anything.
	Resume bool `json:"resume,omitempty"`
}

// TransferStatus is the state machine position of a transfer
type TransferStatus int

const (
	StatusIdle TransferStatus = iota
	StatusInProgress
	StatusSucceeded
	StatusFailed
	StatusCancelled
)

// String returns the string representation of the status
func (s TransferStatus) String() string {
	switch s {
	case StatusIdle:
		return "Idle"
	case StatusInProgress:
		return "InProgress"
	case StatusSucceeded:
		return "Succeeded"
	case StatusFailed:
		return "Failed"
	case StatusCancelled:
		return "Cancelled"
	default:
		return "Unknown"
	}
}

// TransferState is owned by exactly one in-flight transfer
type TransferState struct {
	BytesTransferred int64
	Attempts         int
	LastError        error
	Status           TransferStatus
}

// TransferResult is the terminal outcome of a transfer
type TransferResult struct {
	State    TransferState
	RemoteID string
	Duration time.Duration
}

// SignatureRequest is the input to temp URL signing
type SignatureRequest struct {
	Method  string
	Path    string
	Expires time.Time
}

// SignedURL is a time-limited storage URL. It is only valid before Expires.
type SignedURL struct {
	BaseURL   string `json:"base_url"`
	Path      string `json:"path"`
	Signature string `json:"signature"`
	Expires   int64  `json:"expires"`
}

// String renders the URL with the path escaped and the signature in the query
func (s SignedURL) String() string {
	escaped := (&url.URL{Path: s.Path}).EscapedPath()
	return fmt.Sprintf("%s%s?temp_url_sig=%s&temp_url_expires=%d", s.BaseURL, escaped, s.Signature, s.Expires)
}

// ExpiredAt reports whether the URL can no longer be used at now
func (s SignedURL) ExpiredAt(now time.Time) bool {
	return now.Unix() >= s.Expires
}

// Chunk is one bounded slice of an upload
type Chunk struct {
	Offset int64
	Data   []byte

	// Total is the full upload size, or SizeUnknown
	Total int64
}

// Last reports whether the chunk ends the upload
func (c Chunk) Last() bool {
	return c.Total >= 0 && c.Offset+int64(len(c.Data)) >= c.Total
}

// ChunkResponse is what an upload session reports after accepting a chunk
type ChunkResponse struct {
	// Offset is the next byte the server expects
	Offset   int64
	Complete bool
	RemoteID string
}

// VideoMetadata is the snippet sent when an upload session is created
type VideoMetadata struct {
	Title         string
	Description   string
	Tags          []string
	PrivacyStatus string
	ContentType   string
}
