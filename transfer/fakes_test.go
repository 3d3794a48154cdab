package transfer

import (
	"context"
	"errors"
	"io"
	"sync"
	"time"

	"vidmigrate/internal"
)

// fakeClock advances instantly and records every sleep
type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	sleeps []time.Duration

	// onSleep, when set, runs before the sleep returns
	onSleep func()
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1_700_000_000, 0)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Sleep(ctx context.Context, d time.Duration) error {
	c.mu.Lock()
	c.sleeps = append(c.sleeps, d)
	c.now = c.now.Add(d)
	hook := c.onSleep
	c.mu.Unlock()

	if hook != nil {
		hook()
	}
	return ctx.Err()
}

func (c *fakeClock) Sleeps() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]time.Duration(nil), c.sleeps...)
}

func (c *fakeClock) Total() time.Duration {
	var total time.Duration
	for _, d := range c.Sleeps() {
		total += d
	}
	return total
}

// memSource serves data from memory. errs[i] replaces the i-th call's result.
type memSource struct {
	mu      sync.Mutex
	data    []byte
	errs    map[int]error
	always  error
	offsets []int64
}

func (s *memSource) ReadChunk(ctx context.Context, offset, maxBytes int64) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.offsets)
	s.offsets = append(s.offsets, offset)

	if s.always != nil {
		return nil, s.always
	}
	if err, ok := s.errs[call]; ok {
		return nil, err
	}
	if offset >= int64(len(s.data)) {
		return nil, io.EOF
	}
	end := offset + maxBytes
	if end > int64(len(s.data)) {
		end = int64(len(s.data))
	}
	return append([]byte(nil), s.data[offset:end]...), nil
}

func (s *memSource) Calls() []int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]int64(nil), s.offsets...)
}

// step scripts one PushChunk outcome
type step struct {
	resp *internal.ChunkResponse
	err  error
}

// scriptedSession replays steps, then acknowledges every chunk in full
type scriptedSession struct {
	mu       sync.Mutex
	steps    []step
	always   error
	remoteID string
	chunks   []internal.Chunk
}

func (s *scriptedSession) PushChunk(ctx context.Context, chunk internal.Chunk) (internal.ChunkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.chunks)
	s.chunks = append(s.chunks, internal.Chunk{Offset: chunk.Offset, Total: chunk.Total, Data: append([]byte(nil), chunk.Data...)})

	if s.always != nil {
		return internal.ChunkResponse{}, s.always
	}
	if call < len(s.steps) {
		st := s.steps[call]
		if st.err != nil {
			return internal.ChunkResponse{}, st.err
		}
		if st.resp != nil {
			return *st.resp, nil
		}
	}

	next := chunk.Offset + int64(len(chunk.Data))
	if chunk.Last() {
		id := s.remoteID
		if id == "" {
			id = "remote-1"
		}
		return internal.ChunkResponse{Offset: next, Complete: true, RemoteID: id}, nil
	}
	return internal.ChunkResponse{Offset: next}, nil
}

func (s *scriptedSession) Chunks() []internal.Chunk {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]internal.Chunk(nil), s.chunks...)
}

// queryingSession also reports the acknowledged offset
type queryingSession struct {
	scriptedSession
	acknowledged int64
	queries      int
	queryErr     error
}

func (s *queryingSession) QueryOffset(ctx context.Context, total int64) (internal.ChunkResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries++
	if s.queryErr != nil {
		err := s.queryErr
		s.queryErr = nil
		return internal.ChunkResponse{}, err
	}
	return internal.ChunkResponse{Offset: s.acknowledged}, nil
}

// recordingProgress keeps every update
type recordingProgress struct {
	mu       sync.Mutex
	label    string
	total    int64
	initial  int64
	updates  []int64
	finished bool
}

func (p *recordingProgress) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.updates = append(p.updates, current)
}

func (p *recordingProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.finished = true
}

func transient() error {
	return internal.NewTransientError(503, "test", errors.New("HTTP 503 Service Unavailable"))
}

func fatal() error {
	return internal.NewFatalRemoteError(403, "forbidden")
}
