package transfer

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/goleak"

	"vidmigrate/internal"
)

func TestMain(m *testing.M) {
	internal.SetLogger(internal.NewSecureLogger(io.Discard, internal.LogLevelDebug, false, false))
	goleak.VerifyTestMain(m)
}

func testEngine(clock *fakeClock, mutate func(*Options)) *Engine {
	opts := DefaultOptions()
	opts.Clock = clock
	opts.DownloadChunkSize = 8
	opts.UploadChunkSize = 8
	if mutate != nil {
		mutate(&opts)
	}
	return New(opts)
}

func payload(n int) []byte {
	data := make([]byte, n)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	return data
}

func writeFile(t *testing.T, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "video.mp4")
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func kindOf(t *testing.T, err error) internal.ErrorType {
	t.Helper()
	kind, ok := internal.KindOf(err)
	if !ok {
		t.Fatalf("error %v (%T) is not a TransferError", err, err)
	}
	return kind
}

// Download

func TestDownload_Fresh(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	data := payload(20)
	source := &memSource{data: data}
	dest := filepath.Join(t.TempDir(), "out", "a.mp4")

	result, err := engine.Download(context.Background(), &internal.TransferTask{Destination: dest, TotalSize: 20}, source)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	if result.State.Status != internal.StatusSucceeded {
		t.Errorf("status = %v, want Succeeded", result.State.Status)
	}
	if result.State.BytesTransferred != 20 {
		t.Errorf("BytesTransferred = %d, want 20", result.State.BytesTransferred)
	}
	if diff := cmp.Diff([]int64{0, 8, 16}, source.Calls()); diff != "" {
		t.Errorf("read offsets (-want +got):\n%s", diff)
	}

	got, err := os.ReadFile(dest)
	if err != nil || !bytes.Equal(got, data) {
		t.Errorf("destination content mismatch, err = %v", err)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Error("part file should be renamed away")
	}
	if len(clock.Sleeps()) != 0 {
		t.Errorf("no backoff expected, got %v", clock.Sleeps())
	}
}

func TestDownload_ResumesFromPartialFile(t *testing.T) {
	const k = 13
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	data := payload(30)
	source := &memSource{data: data}
	dest := filepath.Join(t.TempDir(), "a.mp4")

	if err := os.WriteFile(dest+".part", data[:k], 0644); err != nil {
		t.Fatal(err)
	}

	result, err := engine.Download(context.Background(), &internal.TransferTask{Destination: dest, TotalSize: 30}, source)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}

	calls := source.Calls()
	if len(calls) == 0 || calls[0] != k {
		t.Fatalf("first read offset = %v, want %d", calls, k)
	}
	for _, off := range calls {
		if off < k {
			t.Errorf("read at offset %d, before the resume point", off)
		}
	}

	got, _ := os.ReadFile(dest)
	if !bytes.Equal(got, data) {
		t.Error("resumed file content mismatch")
	}
	if result.State.BytesTransferred != 30 {
		t.Errorf("BytesTransferred = %d", result.State.BytesTransferred)
	}
}

func TestDownload_UnknownSizeEndsOnEOF(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)
	data := payload(19)
	dest := filepath.Join(t.TempDir(), "a.mp4")

	result, err := engine.Download(context.Background(),
		&internal.TransferTask{Destination: dest, TotalSize: internal.SizeUnknown}, &memSource{data: data})
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if result.State.BytesTransferred != 19 {
		t.Errorf("BytesTransferred = %d, want 19", result.State.BytesTransferred)
	}
}

func TestDownload_TransientErrorsBackOffLinearly(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	source := &memSource{data: payload(8), errs: map[int]error{0: transient(), 1: transient()}}
	dest := filepath.Join(t.TempDir(), "a.mp4")

	result, err := engine.Download(context.Background(), &internal.TransferTask{Destination: dest, TotalSize: 8}, source)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if result.State.Status != internal.StatusSucceeded {
		t.Errorf("status = %v", result.State.Status)
	}
	if diff := cmp.Diff([]time.Duration{5 * time.Second, 10 * time.Second}, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
}

func TestDownload_RetriesExhausted(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	source := &memSource{always: transient()}
	dest := filepath.Join(t.TempDir(), "a.mp4")

	result, err := engine.Download(context.Background(), &internal.TransferTask{Destination: dest, TotalSize: 100}, source)
	if kindOf(t, err) != internal.ErrRetriesExhausted {
		t.Fatalf("error kind = %v, want RetriesExhausted", kindOf(t, err))
	}
	if result.State.Status != internal.StatusFailed {
		t.Errorf("status = %v, want Failed", result.State.Status)
	}
	if result.State.Attempts != 3 {
		t.Errorf("Attempts = %d, want 3", result.State.Attempts)
	}
	if got := len(source.Calls()); got != 3 {
		t.Errorf("source calls = %d, want 3", got)
	}
	if diff := cmp.Diff([]time.Duration{5 * time.Second, 10 * time.Second}, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
	if !errors.Is(err, internal.ErrKind(internal.ErrTransientNetwork)) {
		t.Error("exhausted error should wrap the last transient error")
	}
}

func TestDownload_ProgressResetsAttempts(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	// Failures separated by successful chunks never exhaust the budget of 3.
	source := &memSource{data: payload(32), errs: map[int]error{0: transient(), 1: transient(), 3: transient(), 4: transient()}}
	dest := filepath.Join(t.TempDir(), "a.mp4")

	if _, err := engine.Download(context.Background(), &internal.TransferTask{Destination: dest, TotalSize: 32}, source); err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	want := []time.Duration{5 * time.Second, 10 * time.Second, 5 * time.Second, 10 * time.Second}
	if diff := cmp.Diff(want, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
}

func TestDownload_ThrottlesOutsideChunkDeadline(t *testing.T) {
	limiter := &recordingLimiter{}
	engine := testEngine(newFakeClock(), func(o *Options) {
		o.ChunkTimeout = time.Millisecond
		o.Limiter = limiter
	})
	source := &memSource{data: payload(20)}
	dest := filepath.Join(t.TempDir(), "a.mp4")

	result, err := engine.Download(context.Background(), &internal.TransferTask{Destination: dest, TotalSize: 20}, source)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if result.State.Status != internal.StatusSucceeded || result.State.Attempts != 0 {
		t.Errorf("state = %+v", result.State)
	}
	if diff := cmp.Diff([]int{8, 8, 4}, limiter.waits); diff != "" {
		t.Errorf("limiter waits (-want +got):\n%s", diff)
	}
}

func TestDownload_CancelledWhileThrottled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	limiter := &recordingLimiter{onWait: cancel}
	engine := testEngine(newFakeClock(), func(o *Options) { o.Limiter = limiter })
	source := &memSource{data: payload(20)}
	dest := filepath.Join(t.TempDir(), "a.mp4")

	result, err := engine.Download(ctx, &internal.TransferTask{Destination: dest, TotalSize: 20}, source)
	if kindOf(t, err) != internal.ErrCancelled {
		t.Fatalf("error kind = %v, want Cancelled", kindOf(t, err))
	}
	if result.State.BytesTransferred != 8 {
		t.Errorf("BytesTransferred = %d, want 8", result.State.BytesTransferred)
	}
	if _, err := os.Stat(dest + ".part"); err != nil {
		t.Errorf("partial file should survive cancellation: %v", err)
	}
}

// recordingLimiter fails like rate.Limiter would if the wait ran under a chunk deadline
type recordingLimiter struct {
	waits  []int
	onWait func()
}

func (l *recordingLimiter) Wait(ctx context.Context, n int) error {
	if _, ok := ctx.Deadline(); ok {
		return errors.New("rate: Wait(n) would exceed context deadline")
	}
	l.waits = append(l.waits, n)
	if l.onWait != nil {
		l.onWait()
	}
	return ctx.Err()
}

func (l *recordingLimiter) SetRate(bytesPerSecond int64) {}

func TestDownload_FatalErrorFailsImmediately(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	source := &memSource{always: fatal()}

	result, err := engine.Download(context.Background(),
		&internal.TransferTask{Destination: filepath.Join(t.TempDir(), "a.mp4"), TotalSize: 10}, source)
	if kindOf(t, err) != internal.ErrFatalRemote {
		t.Errorf("error kind = %v, want FatalRemote", kindOf(t, err))
	}
	if result.State.Status != internal.StatusFailed {
		t.Errorf("status = %v", result.State.Status)
	}
	if len(source.Calls()) != 1 || len(clock.Sleeps()) != 0 {
		t.Errorf("calls = %d, sleeps = %v; want 1 call and no sleeps", len(source.Calls()), clock.Sleeps())
	}
}

func TestDownload_ShortSourceIsFatal(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)
	dest := filepath.Join(t.TempDir(), "a.mp4")

	_, err := engine.Download(context.Background(),
		&internal.TransferTask{Destination: dest, TotalSize: 100}, &memSource{data: payload(60)})
	if kindOf(t, err) != internal.ErrFatalRemote {
		t.Errorf("error kind = %v, want FatalRemote", kindOf(t, err))
	}
	if info, err := os.Stat(dest + ".part"); err != nil || info.Size() != 60 {
		t.Error("the received prefix should stay on disk")
	}
}

func TestDownload_SkipsExistingDestination(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)
	dest := writeFile(t, payload(42))
	source := &memSource{data: payload(100)}

	result, err := engine.Download(context.Background(), &internal.TransferTask{Destination: dest, TotalSize: 100}, source)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if len(source.Calls()) != 0 {
		t.Error("source should not be read when the destination exists")
	}
	if result.State.BytesTransferred != 42 {
		t.Errorf("BytesTransferred = %d, want 42", result.State.BytesTransferred)
	}
}

func TestDownload_UnclassifiedTimeoutIsRetried(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	source := &memSource{data: payload(4), errs: map[int]error{0: fmt.Errorf("read body: %w", context.DeadlineExceeded)}}

	_, err := engine.Download(context.Background(),
		&internal.TransferTask{Destination: filepath.Join(t.TempDir(), "a.mp4"), TotalSize: 4}, source)
	if err != nil {
		t.Fatalf("Download() error = %v", err)
	}
	if len(clock.Sleeps()) != 1 {
		t.Errorf("sleeps = %v, want one backoff", clock.Sleeps())
	}
}

func TestDownload_Cancelled(t *testing.T) {
	t.Run("before_start", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		source := &memSource{data: payload(10)}

		result, err := testEngine(newFakeClock(), nil).Download(ctx,
			&internal.TransferTask{Destination: filepath.Join(t.TempDir(), "a.mp4"), TotalSize: 10}, source)
		if kindOf(t, err) != internal.ErrCancelled {
			t.Errorf("error kind = %v, want Cancelled", kindOf(t, err))
		}
		if result.State.Status != internal.StatusCancelled {
			t.Errorf("status = %v, want Cancelled", result.State.Status)
		}
		if len(source.Calls()) != 0 {
			t.Error("no chunk should be requested after cancellation")
		}
	})

	t.Run("during_backoff", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		clock := newFakeClock()
		clock.onSleep = cancel
		source := &memSource{data: payload(10), errs: map[int]error{1: transient()}}
		dest := filepath.Join(t.TempDir(), "a.mp4")

		result, err := testEngine(clock, nil).Download(ctx, &internal.TransferTask{Destination: dest, TotalSize: 10}, source)
		if kindOf(t, err) != internal.ErrCancelled {
			t.Fatalf("error kind = %v, want Cancelled", kindOf(t, err))
		}
		if result.State.Status != internal.StatusCancelled {
			t.Errorf("status = %v", result.State.Status)
		}
		if info, err := os.Stat(dest + ".part"); err != nil || info.Size() != 8 {
			t.Error("acknowledged bytes should be kept in the part file")
		}
		if len(source.Calls()) != 2 {
			t.Errorf("source calls = %d, want 2", len(source.Calls()))
		}
	})
}

func TestDownload_InvalidInput(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)

	_, err := engine.Download(context.Background(), &internal.TransferTask{}, &memSource{})
	if kindOf(t, err) != internal.ErrInvalidInput {
		t.Errorf("empty destination kind = %v", kindOf(t, err))
	}

	_, err = engine.Download(context.Background(), &internal.TransferTask{Destination: "x"}, nil)
	if kindOf(t, err) != internal.ErrInvalidInput {
		t.Errorf("nil source kind = %v", kindOf(t, err))
	}
}

// Upload

func TestUpload_ChunksInOrder(t *testing.T) {
	clock := newFakeClock()
	var progress *recordingProgress
	engine := testEngine(clock, func(o *Options) {
		o.Progress = func(label string, total, initial int64) internal.Progress {
			progress = &recordingProgress{label: label, total: total, initial: initial}
			return progress
		}
	})
	data := payload(20)
	path := writeFile(t, data)
	session := &scriptedSession{remoteID: "abc123"}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: internal.SizeUnknown}, session)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.RemoteID != "abc123" || result.State.Status != internal.StatusSucceeded {
		t.Errorf("result = %+v", result)
	}

	chunks := session.Chunks()
	var offsets []int64
	var joined []byte
	for _, c := range chunks {
		offsets = append(offsets, c.Offset)
		joined = append(joined, c.Data...)
		if c.Total != 20 {
			t.Errorf("chunk total = %d, want 20", c.Total)
		}
	}
	if diff := cmp.Diff([]int64{0, 8, 16}, offsets); diff != "" {
		t.Errorf("chunk offsets (-want +got):\n%s", diff)
	}
	if !bytes.Equal(joined, data) {
		t.Error("chunks do not reassemble the file")
	}
	if !chunks[2].Last() || chunks[1].Last() {
		t.Error("only the final chunk should be last")
	}

	if progress == nil || !progress.finished {
		t.Fatal("progress should be created and finished")
	}
	if progress.label != "video.mp4" || progress.total != 20 {
		t.Errorf("progress label/total = %q/%d", progress.label, progress.total)
	}
	if diff := cmp.Diff([]int64{8, 16, 20}, progress.updates); diff != "" {
		t.Errorf("progress updates (-want +got):\n%s", diff)
	}
}

func TestUpload_BackoffThenComplete(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, func(o *Options) { o.UploadChunkSize = 64 })
	path := writeFile(t, payload(20))
	session := &scriptedSession{
		steps:    []step{{err: transient()}, {err: transient()}, {err: transient()}},
		remoteID: "vid-42",
	}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.State.Status != internal.StatusSucceeded || result.RemoteID != "vid-42" {
		t.Errorf("result = %+v", result)
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second}, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
	if clock.Total() != 14*time.Second {
		t.Errorf("total backoff = %v, want 14s", clock.Total())
	}
	if len(session.Chunks()) != 4 {
		t.Errorf("push calls = %d, want 4", len(session.Chunks()))
	}
}

func TestUpload_RetriesExhaustedAfterExactlyFiveCalls(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, func(o *Options) { o.MaxUploadAttempts = 5 })
	path := writeFile(t, payload(20))
	session := &scriptedSession{always: transient()}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if kindOf(t, err) != internal.ErrRetriesExhausted {
		t.Fatalf("error kind = %v, want RetriesExhausted", kindOf(t, err))
	}
	if result.State.Status != internal.StatusFailed {
		t.Errorf("status = %v, want Failed", result.State.Status)
	}
	if got := len(session.Chunks()); got != 5 {
		t.Errorf("push calls = %d, want exactly 5", got)
	}
	want := []time.Duration{2 * time.Second, 4 * time.Second, 8 * time.Second, 16 * time.Second}
	if diff := cmp.Diff(want, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
}

func TestUpload_FatalErrorShortCircuits(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	path := writeFile(t, payload(20))
	session := &scriptedSession{steps: []step{{err: fatal()}}}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if kindOf(t, err) != internal.ErrFatalRemote {
		t.Errorf("error kind = %v, want FatalRemote", kindOf(t, err))
	}
	if result.State.Status != internal.StatusFailed || result.State.Attempts != 0 {
		t.Errorf("state = %+v", result.State)
	}
	if len(session.Chunks()) != 1 || len(clock.Sleeps()) != 0 {
		t.Errorf("calls = %d, sleeps = %v", len(session.Chunks()), clock.Sleeps())
	}
}

func TestUpload_RetryResendsFromAcknowledgedOffset(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	path := writeFile(t, payload(20))
	// The server keeps only 5 of the first 8 bytes, then fails once.
	session := &scriptedSession{steps: []step{
		{resp: &internal.ChunkResponse{Offset: 5}},
		{err: transient()},
	}}

	if _, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}

	var offsets []int64
	for _, c := range session.Chunks() {
		offsets = append(offsets, c.Offset)
	}
	if diff := cmp.Diff([]int64{0, 5, 5, 13}, offsets); diff != "" {
		t.Errorf("chunk offsets (-want +got):\n%s", diff)
	}
}

func TestUpload_QueriesOffsetBeforeFirstChunk(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	path := writeFile(t, payload(20))
	session := &queryingSession{acknowledged: 16}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20, Resume: true}, session)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	chunks := session.Chunks()
	if len(chunks) != 1 || chunks[0].Offset != 16 || len(chunks[0].Data) != 4 {
		t.Errorf("chunks = %+v, want one 4 byte chunk at 16", chunks)
	}
	if session.queries != 1 {
		t.Errorf("queries = %d, want 1", session.queries)
	}
	if result.State.BytesTransferred != 20 {
		t.Errorf("BytesTransferred = %d", result.State.BytesTransferred)
	}
}

func TestUpload_NewSessionSkipsOffsetQuery(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)
	path := writeFile(t, payload(20))
	session := &queryingSession{acknowledged: 16}

	if _, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if session.queries != 0 {
		t.Errorf("queries = %d, want 0 for a session that holds no bytes", session.queries)
	}
	if first := session.Chunks()[0]; first.Offset != 0 {
		t.Errorf("first chunk offset = %d, want 0", first.Offset)
	}
}

func TestUpload_TransientErrorsCostOneCallEach(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, func(o *Options) { o.MaxUploadAttempts = 5 })
	path := writeFile(t, payload(20))
	session := &queryingSession{scriptedSession: scriptedSession{always: transient()}}

	_, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if kindOf(t, err) != internal.ErrRetriesExhausted {
		t.Fatalf("error kind = %v, want RetriesExhausted", kindOf(t, err))
	}
	if got := len(session.Chunks()) + session.queries; got != 5 {
		t.Errorf("network calls = %d (%d pushes, %d queries), want exactly 5",
			got, len(session.Chunks()), session.queries)
	}
}

func TestUpload_FailedResumeQueryCountsAsAttempt(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, nil)
	path := writeFile(t, payload(20))
	session := &queryingSession{acknowledged: 8, queryErr: transient()}

	if _, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20, Resume: true}, session); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if session.queries != 2 {
		t.Errorf("queries = %d, want 2", session.queries)
	}
	if first := session.Chunks()[0]; first.Offset != 8 {
		t.Errorf("first chunk offset = %d, want 8", first.Offset)
	}
	if diff := cmp.Diff([]time.Duration{2 * time.Second}, clock.Sleeps()); diff != "" {
		t.Errorf("sleeps (-want +got):\n%s", diff)
	}
}

func TestUpload_ProgressDoesNotRestoreAttempts(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, func(o *Options) { o.MaxUploadAttempts = 5 })
	path := writeFile(t, payload(64))
	// Every other call fails; each success acknowledges one 8 byte chunk.
	session := &scriptedSession{steps: []step{
		{err: transient()}, {},
		{err: transient()}, {},
		{err: transient()}, {},
		{err: transient()}, {},
		{err: transient()},
	}}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 64}, session)
	if kindOf(t, err) != internal.ErrRetriesExhausted {
		t.Fatalf("error kind = %v, want RetriesExhausted", kindOf(t, err))
	}
	if result.State.Attempts != 5 {
		t.Errorf("Attempts = %d, want 5", result.State.Attempts)
	}
	if result.State.BytesTransferred != 32 {
		t.Errorf("BytesTransferred = %d, want 32", result.State.BytesTransferred)
	}
	if got := len(session.Chunks()); got != 9 {
		t.Errorf("push calls = %d, want 9", got)
	}
}

func TestUpload_QueryReportsComplete(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)
	path := writeFile(t, payload(20))
	session := &completedSession{}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20, Resume: true}, session)
	if err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if result.RemoteID != "done-before" {
		t.Errorf("RemoteID = %q", result.RemoteID)
	}
	if len(session.Chunks()) != 0 {
		t.Error("no chunk should be pushed for a finished session")
	}
}

type completedSession struct{ scriptedSession }

func (s *completedSession) QueryOffset(ctx context.Context, total int64) (internal.ChunkResponse, error) {
	return internal.ChunkResponse{Offset: total, Complete: true, RemoteID: "done-before"}, nil
}

func TestUpload_OffsetRegressionIsFatal(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)
	path := writeFile(t, payload(20))
	session := &scriptedSession{steps: []step{
		{resp: &internal.ChunkResponse{Offset: 8}},
		{resp: &internal.ChunkResponse{Offset: 3}},
	}}

	_, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if kindOf(t, err) != internal.ErrFatalRemote {
		t.Errorf("error kind = %v, want FatalRemote", kindOf(t, err))
	}
}

func TestUpload_StalledChunkCountsAsAttempt(t *testing.T) {
	clock := newFakeClock()
	engine := testEngine(clock, func(o *Options) { o.MaxUploadAttempts = 2 })
	path := writeFile(t, payload(20))
	stalled := &internal.ChunkResponse{Offset: 0}
	session := &scriptedSession{steps: []step{{resp: stalled}, {resp: stalled}}}

	_, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if kindOf(t, err) != internal.ErrRetriesExhausted {
		t.Errorf("error kind = %v, want RetriesExhausted", kindOf(t, err))
	}
}

func TestUpload_CancelledDuringBackoffKeepsSession(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	clock := newFakeClock()
	clock.onSleep = cancel
	engine := testEngine(clock, nil)
	path := writeFile(t, payload(20))
	session := &scriptedSession{steps: []step{{}, {err: transient()}}}

	result, err := engine.Upload(ctx, &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if kindOf(t, err) != internal.ErrCancelled {
		t.Fatalf("error kind = %v, want Cancelled", kindOf(t, err))
	}
	if result.State.Status != internal.StatusCancelled {
		t.Errorf("status = %v", result.State.Status)
	}
	if result.State.BytesTransferred != 8 {
		t.Errorf("BytesTransferred = %d, want the acknowledged 8", result.State.BytesTransferred)
	}
	if len(session.Chunks()) != 2 {
		t.Errorf("push calls = %d, want 2", len(session.Chunks()))
	}
}

func TestUpload_FileShrinkingMidUploadFails(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)
	path := writeFile(t, payload(20))
	session := &truncatingSession{path: path, size: 10}

	result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session)
	if kindOf(t, err) != internal.ErrInvalidInput {
		t.Fatalf("error kind = %v, want InvalidInput", kindOf(t, err))
	}
	if got := len(session.Chunks()); got != 1 {
		t.Errorf("push calls = %d, want 1; a short read must not be sent", got)
	}
	if result.State.BytesTransferred != 8 {
		t.Errorf("BytesTransferred = %d, want 8", result.State.BytesTransferred)
	}
}

// truncatingSession shrinks the source file after acknowledging the first chunk
type truncatingSession struct {
	scriptedSession
	path string
	size int64
}

func (s *truncatingSession) PushChunk(ctx context.Context, chunk internal.Chunk) (internal.ChunkResponse, error) {
	resp, err := s.scriptedSession.PushChunk(ctx, chunk)
	if err == nil && chunk.Offset == 0 {
		if terr := os.Truncate(s.path, s.size); terr != nil {
			return resp, terr
		}
	}
	return resp, err
}

func TestUpload_PushUsesUploadTimeout(t *testing.T) {
	engine := testEngine(newFakeClock(), func(o *Options) {
		o.ChunkTimeout = time.Second
		o.UploadChunkTimeout = 10 * time.Minute
	})
	path := writeFile(t, payload(4))
	session := &deadlineSession{}

	if _, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 4}, session); err != nil {
		t.Fatalf("Upload() error = %v", err)
	}
	if session.remaining < 5*time.Minute {
		t.Errorf("push deadline = %v away, want the upload timeout", session.remaining)
	}
}

// deadlineSession records how far away the push deadline was
type deadlineSession struct {
	scriptedSession
	remaining time.Duration
}

func (s *deadlineSession) PushChunk(ctx context.Context, chunk internal.Chunk) (internal.ChunkResponse, error) {
	if deadline, ok := ctx.Deadline(); ok {
		s.remaining = time.Until(deadline)
	}
	return s.scriptedSession.PushChunk(ctx, chunk)
}

func TestUpload_InvalidInput(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)

	tests := []struct {
		name    string
		task    *internal.TransferTask
		session internal.UploadSession
	}{
		{"empty_source", &internal.TransferTask{}, &scriptedSession{}},
		{"missing_file", &internal.TransferTask{Source: filepath.Join(t.TempDir(), "nope.mp4"), TotalSize: -1}, &scriptedSession{}},
		{"nil_session", &internal.TransferTask{Source: writeFile(t, payload(1)), TotalSize: -1}, nil},
		{"size_mismatch", &internal.TransferTask{Source: writeFile(t, payload(3)), TotalSize: 4}, &scriptedSession{}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := engine.Upload(context.Background(), tt.task, tt.session)
			if kindOf(t, err) != internal.ErrInvalidInput {
				t.Errorf("error kind = %v, want InvalidInput", kindOf(t, err))
			}
		})
	}
}

func TestEngine_ConcurrentUploads(t *testing.T) {
	engine := testEngine(newFakeClock(), nil)

	const n = 8
	var wg sync.WaitGroup
	errs := make([]error, n)
	ids := make([]string, n)
	for i := 0; i < n; i++ {
		path := writeFile(t, payload(10+i))
		session := &scriptedSession{
			steps:    []step{{err: transient()}},
			remoteID: fmt.Sprintf("id-%d", i),
		}
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: -1}, session)
			errs[i] = err
			if result != nil {
				ids[i] = result.RemoteID
			}
		}(i)
	}
	wg.Wait()

	for i := 0; i < n; i++ {
		if errs[i] != nil {
			t.Errorf("upload %d: %v", i, errs[i])
		}
		if ids[i] != fmt.Sprintf("id-%d", i) {
			t.Errorf("upload %d RemoteID = %q", i, ids[i])
		}
	}
}

func TestEngine_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	engine := testEngine(newFakeClock(), func(o *Options) { o.Metrics = metrics })
	path := writeFile(t, payload(20))
	session := &scriptedSession{steps: []step{{err: transient()}}}

	if _, err := engine.Upload(context.Background(), &internal.TransferTask{Source: path, TotalSize: 20}, session); err != nil {
		t.Fatal(err)
	}

	if got := testutil.ToFloat64(metrics.Chunks.WithLabelValues("upload")); got != 3 {
		t.Errorf("chunks = %v, want 3", got)
	}
	if got := testutil.ToFloat64(metrics.Bytes.WithLabelValues("upload")); got != 20 {
		t.Errorf("bytes = %v, want 20", got)
	}
	if got := testutil.ToFloat64(metrics.Retries.WithLabelValues("upload")); got != 1 {
		t.Errorf("retries = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.Outcomes.WithLabelValues("upload", "Succeeded")); got != 1 {
		t.Errorf("succeeded outcomes = %v, want 1", got)
	}
}

func TestNew_FillsDefaults(t *testing.T) {
	engine := New(Options{})
	if engine.opts.UploadChunkSize != 8*1024*1024 || engine.opts.MaxUploadAttempts != 5 || engine.opts.MaxDownloadAttempts != 3 {
		t.Errorf("defaults not applied: %+v", engine.opts)
	}
	if engine.opts.UploadChunkTimeout != 5*time.Minute || engine.opts.ChunkTimeout != 30*time.Second {
		t.Errorf("timeouts = %v/%v", engine.opts.ChunkTimeout, engine.opts.UploadChunkTimeout)
	}
	if _, ok := engine.opts.Clock.(RealClock); !ok {
		t.Errorf("default clock = %T, want RealClock", engine.opts.Clock)
	}
}

func TestOptionsFromConfig(t *testing.T) {
	cfg := internal.DefaultConfig().Transfer
	cfg.MaxUploadAttempts = 9
	opts := OptionsFromConfig(cfg)
	if opts.MaxUploadAttempts != 9 || opts.UploadChunkSize != cfg.UploadChunkSize {
		t.Errorf("OptionsFromConfig() = %+v", opts)
	}
}
