package internal

import (
	"context"
	"time"
)

// Source yields the bytes of a remote object in bounded chunks.
// ReadChunk returns io.EOF (optionally with trailing data) once the object is exhausted.
type Source interface {
	ReadChunk(ctx context.Context, offset, maxBytes int64) ([]byte, error)
}

// UploadSession is a stateful remote upload that accepts chunks in order
type UploadSession interface {
	PushChunk(ctx context.Context, chunk Chunk) (ChunkResponse, error)
}

// OffsetQuerier is implemented by sessions that can report the server-acknowledged offset
type OffsetQuerier interface {
	QueryOffset(ctx context.Context, total int64) (ChunkResponse, error)
}

// Clock is injected wherever wall time or sleeping is needed
type Clock interface {
	Now() time.Time
	Sleep(ctx context.Context, d time.Duration) error
}

// Progress receives byte counts for one transfer
type Progress interface {
	Update(current int64)
	Finish()
}

// RateLimiter controls bandwidth usage
type RateLimiter interface {
	Wait(ctx context.Context, n int) error
	SetRate(bytesPerSecond int64)
}
