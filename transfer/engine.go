// Package transfer moves one object at a time in bounded chunks, retrying
// transient failures from the last acknowledged offset.
package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"vidmigrate/internal"
	"vidmigrate/utils"
)

// Options configures an Engine. Zero fields take the defaults of DefaultOptions.
type Options struct {
	DownloadChunkSize   int64
	UploadChunkSize     int64
	MaxDownloadAttempts int
	MaxUploadAttempts   int
	DownloadBaseDelay   time.Duration
	MaxUploadBackoff    time.Duration
	ChunkTimeout        time.Duration
	UploadChunkTimeout  time.Duration

	Clock   internal.Clock
	Metrics *Metrics

	// Limiter throttles downloaded bytes between chunks; nil means unlimited
	Limiter internal.RateLimiter

	// Progress is called once per transfer; nil disables progress output
	Progress func(label string, total, initial int64) internal.Progress
}

// DefaultOptions returns the stock retry budget and chunk sizes
func DefaultOptions() Options {
	return Options{
		DownloadChunkSize:   1024 * 1024,
		UploadChunkSize:     8 * 1024 * 1024,
		MaxDownloadAttempts: 3,
		MaxUploadAttempts:   5,
		DownloadBaseDelay:   5 * time.Second,
		MaxUploadBackoff:    60 * time.Second,
		ChunkTimeout:        30 * time.Second,
		UploadChunkTimeout:  5 * time.Minute,
		Clock:               RealClock{},
	}
}

// OptionsFromConfig maps the transfer section of the configuration
func OptionsFromConfig(cfg internal.TransferConfig) Options {
	opts := DefaultOptions()
	opts.DownloadChunkSize = cfg.DownloadChunkSize
	opts.UploadChunkSize = cfg.UploadChunkSize
	opts.MaxDownloadAttempts = cfg.MaxDownloadAttempts
	opts.MaxUploadAttempts = cfg.MaxUploadAttempts
	opts.DownloadBaseDelay = cfg.DownloadBaseDelay
	opts.MaxUploadBackoff = cfg.MaxUploadBackoff
	opts.ChunkTimeout = cfg.ChunkTimeout
	opts.UploadChunkTimeout = cfg.UploadChunkTimeout
	return opts
}

// Engine runs downloads and uploads. It keeps no per-transfer state, so one
// Engine may serve many concurrent transfers.
type Engine struct {
	opts    Options
	fileOps *utils.FileOperations
}

// New creates an Engine
func New(opts Options) *Engine {
	d := DefaultOptions()
	if opts.DownloadChunkSize <= 0 {
		opts.DownloadChunkSize = d.DownloadChunkSize
	}
	if opts.UploadChunkSize <= 0 {
		opts.UploadChunkSize = d.UploadChunkSize
	}
	if opts.MaxDownloadAttempts <= 0 {
		opts.MaxDownloadAttempts = d.MaxDownloadAttempts
	}
	if opts.MaxUploadAttempts <= 0 {
		opts.MaxUploadAttempts = d.MaxUploadAttempts
	}
	if opts.DownloadBaseDelay <= 0 {
		opts.DownloadBaseDelay = d.DownloadBaseDelay
	}
	if opts.MaxUploadBackoff <= 0 {
		opts.MaxUploadBackoff = d.MaxUploadBackoff
	}
	if opts.ChunkTimeout <= 0 {
		opts.ChunkTimeout = d.ChunkTimeout
	}
	if opts.UploadChunkTimeout <= 0 {
		opts.UploadChunkTimeout = d.UploadChunkTimeout
	}
	if opts.Clock == nil {
		opts.Clock = d.Clock
	}
	return &Engine{opts: opts, fileOps: utils.NewFileOperations()}
}

// attempt tracks one transfer from start to terminal outcome
type attempt struct {
	op       string
	label    string
	start    time.Time
	state    internal.TransferState
	progress internal.Progress
}

func (e *Engine) begin(op string, task *internal.TransferTask) *attempt {
	label := task.Label
	if label == "" {
		label = filepath.Base(task.Destination)
		if op == opUpload {
			label = filepath.Base(task.Source)
		}
	}
	return &attempt{
		op:    op,
		label: label,
		start: e.opts.Clock.Now(),
		state: internal.TransferState{Status: internal.StatusInProgress},
	}
}

func (e *Engine) startProgress(a *attempt, total, initial int64) {
	if e.opts.Progress != nil {
		a.progress = e.opts.Progress(a.label, total, initial)
	}
}

func (a *attempt) advance(offset int64) {
	a.state.BytesTransferred = offset
	if a.progress != nil {
		a.progress.Update(offset)
	}
}

func (e *Engine) finish(a *attempt, remoteID string, err error) (*internal.TransferResult, error) {
	switch {
	case err == nil:
		a.state.Status = internal.StatusSucceeded
	case errors.Is(err, internal.ErrKind(internal.ErrCancelled)):
		a.state.Status = internal.StatusCancelled
		a.state.LastError = err
	default:
		a.state.Status = internal.StatusFailed
		a.state.LastError = err
	}

	if a.progress != nil {
		a.progress.Finish()
	}

	elapsed := e.opts.Clock.Now().Sub(a.start)
	e.opts.Metrics.outcome(a.op, a.state.Status, elapsed)

	if err != nil {
		internal.LogWarn("%s %s ended %s at %d bytes: %v", a.op, a.label, a.state.Status, a.state.BytesTransferred, err)
	} else {
		internal.LogInfo("%s %s succeeded (%s)", a.op, a.label, utils.FormatBytes(a.state.BytesTransferred))
	}

	return &internal.TransferResult{
		State:    a.state,
		RemoteID: remoteID,
		Duration: elapsed,
	}, err
}

// normalize maps errors that collaborators did not classify onto the taxonomy
func normalize(err error, op string) error {
	if _, ok := internal.KindOf(err); ok {
		return err
	}
	return utils.ClassifyError(err, op)
}

// backoff records a transient failure and sleeps. It returns a terminal error when the
// budget is spent or the context ends during the sleep.
func (e *Engine) backoff(ctx context.Context, a *attempt, err error, maxAttempts int, delay func(int) time.Duration) error {
	a.state.Attempts++
	a.state.LastError = err

	if a.state.Attempts >= maxAttempts {
		return internal.NewRetriesExhaustedError(a.op, a.state.Attempts, err)
	}

	wait := delay(a.state.Attempts)
	internal.LogWarn("%s %s: attempt %d/%d failed at offset %d: %v; retrying in %v",
		a.op, a.label, a.state.Attempts, maxAttempts, a.state.BytesTransferred, err, wait)
	e.opts.Metrics.retry(a.op)

	if sleepErr := e.opts.Clock.Sleep(ctx, wait); sleepErr != nil {
		return internal.NewCancelledError(a.op, sleepErr)
	}
	return nil
}

// throttle holds the download back to the configured rate. It runs outside the
// per-chunk deadline so a slow limit never fails a chunk that already arrived.
func (e *Engine) throttle(ctx context.Context, n int) error {
	if e.opts.Limiter == nil {
		return nil
	}
	if err := e.opts.Limiter.Wait(ctx, n); err != nil {
		if ctx.Err() != nil {
			return internal.NewCancelledError(opDownload, ctx.Err())
		}
		return fmt.Errorf("bandwidth limiter: %w", err)
	}
	return nil
}

// Download copies source into task.Destination through a .part sink, resuming from
// whatever the sink already holds. An existing destination counts as done.
func (e *Engine) Download(ctx context.Context, task *internal.TransferTask, source internal.Source) (*internal.TransferResult, error) {
	a := e.begin(opDownload, task)

	if task.Destination == "" {
		return e.finish(a, "", internal.NewInvalidInputError("destination", "download destination cannot be empty"))
	}
	if source == nil {
		return e.finish(a, "", internal.NewInvalidInputError("source", "download source cannot be nil"))
	}

	if e.fileOps.FileExists(task.Destination) {
		size, _ := e.fileOps.FileSize(task.Destination)
		internal.LogInfo("%s already present (%s), skipping download", task.Destination, utils.FormatBytes(size))
		a.state.BytesTransferred = size
		return e.finish(a, "", nil)
	}

	file, offset, err := e.fileOps.OpenPartial(task.Destination, task.TotalSize)
	if err != nil {
		return e.finish(a, "", err)
	}
	if offset > 0 {
		internal.LogInfo("Resuming download of %s at byte %d", a.label, offset)
	}
	a.state.BytesTransferred = offset
	e.startProgress(a, task.TotalSize, offset)

	chunkSize := task.ChunkSize
	if chunkSize <= 0 {
		chunkSize = e.opts.DownloadChunkSize
	}

	delay := func(n int) time.Duration { return LinearBackoff(n, e.opts.DownloadBaseDelay) }

	for {
		if task.TotalSize >= 0 && offset >= task.TotalSize {
			break
		}
		if err := ctx.Err(); err != nil {
			file.Close()
			return e.finish(a, "", internal.NewCancelledError(opDownload, err))
		}

		want := chunkSize
		if task.TotalSize >= 0 && task.TotalSize-offset < want {
			want = task.TotalSize - offset
		}

		chunkCtx, cancel := context.WithTimeout(ctx, e.opts.ChunkTimeout)
		data, readErr := source.ReadChunk(chunkCtx, offset, want)
		cancel()

		if len(data) > 0 {
			if _, err := file.Write(data); err != nil {
				file.Close()
				return e.finish(a, "", fmt.Errorf("failed to write %s: %w", file.Name(), err))
			}
			offset += int64(len(data))
			a.advance(offset)
			a.state.Attempts = 0
			e.opts.Metrics.chunk(opDownload, len(data))

			if err := e.throttle(ctx, len(data)); err != nil {
				file.Close()
				return e.finish(a, "", err)
			}
		}

		if errors.Is(readErr, io.EOF) {
			if task.TotalSize >= 0 && offset < task.TotalSize {
				file.Close()
				return e.finish(a, "", internal.NewFatalRemoteError(0,
					fmt.Sprintf("source ended at %d of %d bytes", offset, task.TotalSize)))
			}
			break
		}

		if readErr == nil && len(data) == 0 {
			readErr = internal.NewTransientError(0, opDownload, errors.New("source returned an empty chunk"))
		}
		if readErr == nil {
			continue
		}

		if ctx.Err() != nil {
			file.Close()
			return e.finish(a, "", internal.NewCancelledError(opDownload, ctx.Err()))
		}

		readErr = normalize(readErr, opDownload)
		if !internal.IsRetryable(readErr) {
			file.Close()
			return e.finish(a, "", readErr)
		}
		if err := e.backoff(ctx, a, readErr, e.opts.MaxDownloadAttempts, delay); err != nil {
			file.Close()
			return e.finish(a, "", err)
		}
	}

	if err := e.fileOps.Finalize(file, task.Destination); err != nil {
		return e.finish(a, "", err)
	}
	return e.finish(a, "", nil)
}

// Upload pushes the local file task.Source into session in fixed-size chunks. Each
// chunk is sent only after the previous one is acknowledged, and a retry resends
// from the last acknowledged offset. When task.Resume is set and the session
// implements OffsetQuerier, the server is asked for its offset before any bytes
// are sent. Every failed call counts against MaxUploadAttempts; progress does not
// restore the budget.
func (e *Engine) Upload(ctx context.Context, task *internal.TransferTask, session internal.UploadSession) (*internal.TransferResult, error) {
	a := e.begin(opUpload, task)

	if task.Source == "" {
		return e.finish(a, "", internal.NewInvalidInputError("source", "upload source cannot be empty"))
	}
	if session == nil {
		return e.finish(a, "", internal.NewInvalidInputError("session", "upload session cannot be nil"))
	}

	file, err := os.Open(task.Source)
	if err != nil {
		return e.finish(a, "", internal.NewInvalidInputError("source", err.Error()).WithCause(err))
	}
	defer file.Close()

	info, err := file.Stat()
	if err != nil {
		return e.finish(a, "", fmt.Errorf("failed to stat %s: %w", task.Source, err))
	}
	total := info.Size()
	if task.TotalSize >= 0 && task.TotalSize != total {
		return e.finish(a, "", internal.NewInvalidInputError("source",
			fmt.Sprintf("file is %d bytes, task expects %d", total, task.TotalSize)))
	}

	chunkSize := task.ChunkSize
	if chunkSize <= 0 {
		chunkSize = e.opts.UploadChunkSize
	}

	querier, canQuery := session.(internal.OffsetQuerier)
	query := canQuery && task.Resume
	var offset int64
	e.startProgress(a, total, 0)

	delay := func(n int) time.Duration { return ExponentialBackoff(n, e.opts.MaxUploadBackoff) }
	buf := make([]byte, chunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return e.finish(a, "", internal.NewCancelledError(opUpload, err))
		}

		var resp internal.ChunkResponse
		var pushErr error
		var sent int

		if query {
			queryCtx, cancel := context.WithTimeout(ctx, e.opts.ChunkTimeout)
			resp, pushErr = querier.QueryOffset(queryCtx, total)
			cancel()
		} else {
			n := chunkSize
			if remaining := total - offset; remaining < n {
				n = remaining
			}
			m, err := file.ReadAt(buf[:n], offset)
			if err != nil && !errors.Is(err, io.EOF) {
				return e.finish(a, "", fmt.Errorf("failed to read %s at %d: %w", task.Source, offset, err))
			}
			if int64(m) < n {
				return e.finish(a, "", internal.NewInvalidInputError("source",
					fmt.Sprintf("%s shrank to %d bytes during upload, expected %d", task.Source, offset+int64(m), total)))
			}
			data := buf[:m]
			sent = len(data)

			pushCtx, cancel := context.WithTimeout(ctx, e.opts.UploadChunkTimeout)
			resp, pushErr = session.PushChunk(pushCtx, internal.Chunk{Offset: offset, Data: data, Total: total})
			cancel()
		}

		if pushErr != nil {
			if ctx.Err() != nil {
				return e.finish(a, "", internal.NewCancelledError(opUpload, ctx.Err()))
			}
			pushErr = normalize(pushErr, opUpload)
			if !internal.IsRetryable(pushErr) {
				return e.finish(a, "", pushErr)
			}
			if err := e.backoff(ctx, a, pushErr, e.opts.MaxUploadAttempts, delay); err != nil {
				return e.finish(a, "", err)
			}
			continue
		}

		if resp.Complete {
			if !query {
				e.opts.Metrics.chunk(opUpload, sent)
			}
			a.advance(total)
			return e.finish(a, resp.RemoteID, nil)
		}

		if resp.Offset < offset {
			return e.finish(a, "", internal.NewFatalRemoteError(0,
				fmt.Sprintf("server offset went backwards from %d to %d", offset, resp.Offset)))
		}
		if resp.Offset > total {
			return e.finish(a, "", internal.NewFatalRemoteError(0,
				fmt.Sprintf("server acknowledged %d bytes of a %d byte file", resp.Offset, total)))
		}
		if !query && resp.Offset == total {
			return e.finish(a, "", internal.NewFatalRemoteError(0,
				"server acknowledged every byte without completing the upload"))
		}

		if !query && sent > 0 && resp.Offset == offset {
			stalled := internal.NewTransientError(0, opUpload, fmt.Errorf("server accepted no bytes of the chunk at %d", offset))
			if err := e.backoff(ctx, a, stalled, e.opts.MaxUploadAttempts, delay); err != nil {
				return e.finish(a, "", err)
			}
			continue
		}

		if resp.Offset > offset {
			if !query {
				e.opts.Metrics.chunk(opUpload, int(resp.Offset-offset))
			}
			offset = resp.Offset
			a.advance(offset)
		}
		if query && offset > 0 {
			internal.LogInfo("Resuming upload of %s at byte %d", a.label, offset)
		}
		query = false
	}
}
