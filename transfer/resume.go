package transfer

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"vidmigrate/internal"
)

// ResumeMetadataExt is the suffix of the sidecar that remembers an open upload session
const ResumeMetadataExt = ".vidmigrate.json"

// MaxResumeAge bounds how long an upload session URI is trusted. YouTube
// resumable sessions expire after about a week.
const MaxResumeAge = 7 * 24 * time.Hour

// ResumeMetadata is persisted next to a local file while its upload is in flight
type ResumeMetadata struct {
	Source     string    `json:"source"`
	Size       int64     `json:"size"`
	ModTime    time.Time `json:"mod_time"`
	SessionURI string    `json:"session_uri"`
	CreatedAt  time.Time `json:"created_at"`
	LastUpdate time.Time `json:"last_update"`
}

// ResumeStore reads and writes upload sidecars
type ResumeStore struct {
	clock internal.Clock
}

// NewResumeStore creates a ResumeStore
func NewResumeStore(clock internal.Clock) *ResumeStore {
	return &ResumeStore{clock: clock}
}

func metadataPath(localPath string) string {
	return localPath + ResumeMetadataExt
}

// Save writes the sidecar for localPath
func (s *ResumeStore) Save(localPath string, meta *ResumeMetadata) error {
	now := s.clock.Now()
	if meta.CreatedAt.IsZero() {
		meta.CreatedAt = now
	}
	meta.LastUpdate = now

	if err := os.MkdirAll(filepath.Dir(localPath), 0755); err != nil {
		return fmt.Errorf("failed to create metadata directory: %w", err)
	}

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal resume metadata: %w", err)
	}

	tmp := metadataPath(localPath) + ".tmp"
	if err := os.WriteFile(tmp, data, 0600); err != nil {
		return fmt.Errorf("failed to write resume metadata: %w", err)
	}
	return os.Rename(tmp, metadataPath(localPath))
}

// Load returns the sidecar for localPath, or nil when there is none
func (s *ResumeStore) Load(localPath string) (*ResumeMetadata, error) {
	data, err := os.ReadFile(metadataPath(localPath))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read resume metadata: %w", err)
	}

	var meta ResumeMetadata
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, internal.NewResumeIncompatibleError("metadata is not valid JSON").WithCause(err)
	}
	return &meta, nil
}

// Cleanup removes the sidecar after the upload finished
func (s *ResumeStore) Cleanup(localPath string) error {
	if err := os.Remove(metadataPath(localPath)); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("failed to cleanup resume metadata: %w", err)
	}
	return nil
}

// Validate checks that meta still describes the file at localPath
func (s *ResumeStore) Validate(meta *ResumeMetadata, localPath string) error {
	if meta.SessionURI == "" {
		return internal.NewResumeIncompatibleError("no session URI recorded")
	}

	info, err := os.Stat(localPath)
	if err != nil {
		return internal.NewResumeIncompatibleError("local file is missing").WithCause(err)
	}
	if info.Size() != meta.Size {
		return internal.NewResumeIncompatibleError(
			fmt.Sprintf("file size changed: resume=%d, current=%d", meta.Size, info.Size()))
	}
	if !meta.ModTime.IsZero() && !info.ModTime().Equal(meta.ModTime) {
		return internal.NewResumeIncompatibleError("file was modified since the session was opened")
	}

	if age := s.clock.Now().Sub(meta.CreatedAt); age > MaxResumeAge {
		return internal.NewResumeIncompatibleError(
			fmt.Sprintf("session is too old (created %s)", meta.CreatedAt.Format(time.RFC3339)))
	}
	return nil
}

// Describe fills Size and ModTime from the file at localPath
func Describe(localPath, source string) (*ResumeMetadata, error) {
	info, err := os.Stat(localPath)
	if err != nil {
		return nil, err
	}
	return &ResumeMetadata{
		Source:  source,
		Size:    info.Size(),
		ModTime: info.ModTime(),
	}, nil
}
