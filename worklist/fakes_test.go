package worklist

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"
	"time"

	"vidmigrate/internal"
	"vidmigrate/transfer"
	"vidmigrate/utils"
)

type instantClock struct{}

func (instantClock) Now() time.Time                                   { return time.Unix(1_700_000_000, 0) }
func (instantClock) Sleep(ctx context.Context, d time.Duration) error { return ctx.Err() }

type bytesSource struct{ data []byte }

func (s *bytesSource) ReadChunk(ctx context.Context, offset, maxBytes int64) ([]byte, error) {
	if offset >= int64(len(s.data)) {
		return nil, io.EOF
	}
	end := offset + maxBytes
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	return append([]byte(nil), s.data[offset:end]...), nil
}

// memSources serves objects by file name
type memSources struct {
	mu      sync.Mutex
	objects map[string][]byte
	errs    map[string]error
	opened  []string
}

func (m *memSources) Open(ctx context.Context, loc *utils.Locator) (internal.Source, int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.opened = append(m.opened, loc.FileName)
	if err, ok := m.errs[loc.FileName]; ok {
		return nil, internal.SizeUnknown, err
	}
	data, ok := m.objects[loc.FileName]
	if !ok {
		return nil, internal.SizeUnknown, internal.NewNotFoundError(loc.URL)
	}
	return &bytesSource{data: data}, int64(len(data)), nil
}

// memDestination keeps upload sessions in memory. Remote ids are "v" plus the file size.
type memDestination struct {
	mu       sync.Mutex
	sessions map[string]*memSession
	created  []internal.VideoMetadata
}

func newMemDestination() *memDestination {
	return &memDestination{sessions: map[string]*memSession{}}
}

func (m *memDestination) CreateSession(ctx context.Context, meta internal.VideoMetadata, size int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.created = append(m.created, meta)
	uri := fmt.Sprintf("https://upload.example/session/%d", len(m.created))
	m.sessions[uri] = &memSession{}
	return uri, nil
}

func (m *memDestination) Session(uri string) internal.UploadSession {
	m.mu.Lock()
	defer m.mu.Unlock()
	if s, ok := m.sessions[uri]; ok {
		return s
	}
	return &memSession{gone: true}
}

func (m *memDestination) Titles() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var titles []string
	for _, meta := range m.created {
		titles = append(titles, meta.Title)
	}
	sort.Strings(titles)
	return titles
}

type memSession struct {
	mu       sync.Mutex
	received []byte
	gone     bool
	queries  int
}

func (s *memSession) PushChunk(ctx context.Context, chunk internal.Chunk) (internal.ChunkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.gone {
		return internal.ChunkResponse{}, internal.NewNotFoundError("session")
	}
	if chunk.Offset == int64(len(s.received)) {
		s.received = append(s.received, chunk.Data...)
	}
	if chunk.Total >= 0 && int64(len(s.received)) == chunk.Total {
		return internal.ChunkResponse{Offset: chunk.Total, Complete: true, RemoteID: fmt.Sprintf("v%d", chunk.Total)}, nil
	}
	return internal.ChunkResponse{Offset: int64(len(s.received))}, nil
}

func (s *memSession) QueryOffset(ctx context.Context, total int64) (internal.ChunkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.gone {
		return internal.ChunkResponse{}, internal.NewNotFoundError("session")
	}
	return internal.ChunkResponse{Offset: int64(len(s.received))}, nil
}

type recordingDeleter struct {
	paths    []string
	statuses map[string]string
	errs     map[string]error
}

func (d *recordingDeleter) DeleteObject(ctx context.Context, objectPath string) (string, error) {
	d.paths = append(d.paths, objectPath)
	if err, ok := d.errs[objectPath]; ok {
		return "", err
	}
	if status, ok := d.statuses[objectPath]; ok {
		return status, nil
	}
	return "yes", nil
}

type recordingPublisher struct {
	calls map[int64]string
}

func (p *recordingPublisher) Publish(ctx context.Context, id int64, youtubeURL string) (string, error) {
	if p.calls == nil {
		p.calls = map[int64]string{}
	}
	p.calls[id] = youtubeURL
	if id == 404 {
		return "not_found", nil
	}
	return "yes", nil
}

func testConfig(t *testing.T) *internal.Config {
	cfg := internal.DefaultConfig()
	cfg.DownloadDir = filepath.Join(t.TempDir(), "downloads")
	cfg.Workers = 2
	cfg.Storage.BaseURL = "https://storage.example/v1/AUTH_x/videos"
	cfg.YouTube.WebsiteURL = "https://site.example/lesson/"
	return cfg
}

func testEngine() *transfer.Engine {
	return transfer.New(transfer.Options{
		DownloadChunkSize: 7,
		UploadChunkSize:   5,
		Clock:             instantClock{},
	})
}

// writeWorklist writes a CSV worklist and returns its store
func writeWorklist(t *testing.T, content string) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "videos.csv")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	store, err := NewStore(path)
	if err != nil {
		t.Fatal(err)
	}
	return store
}

func rowByID(t *testing.T, table *Table, id string) *Row {
	t.Helper()
	for _, row := range table.Rows {
		if row.Get(ColID) == id {
			return row
		}
	}
	t.Fatalf("no row with id %s", id)
	return nil
}
