package worklist

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"path/filepath"
	"strconv"
	"sync"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"vidmigrate/internal"
	"vidmigrate/transfer"
	"vidmigrate/utils"
)

// Transferer moves bytes; *transfer.Engine implements it
type Transferer interface {
	Download(ctx context.Context, task *internal.TransferTask, source internal.Source) (*internal.TransferResult, error)
	Upload(ctx context.Context, task *internal.TransferTask, session internal.UploadSession) (*internal.TransferResult, error)
}

// SourceOpener turns a locator into a readable source and its size
type SourceOpener interface {
	Open(ctx context.Context, loc *utils.Locator) (internal.Source, int64, error)
}

// Destination opens upload sessions; *youtube.Uploader implements it
type Destination interface {
	CreateSession(ctx context.Context, meta internal.VideoMetadata, size int64) (string, error)
	Session(uri string) internal.UploadSession
}

// ObjectDeleter removes objects from the container; *storage.Client implements it
type ObjectDeleter interface {
	DeleteObject(ctx context.Context, objectPath string) (string, error)
}

// LinkPublisher writes the video link to the website; *publish.Publisher implements it
type LinkPublisher interface {
	Publish(ctx context.Context, id int64, youtubeURL string) (string, error)
}

// Deps are the collaborators of a Driver. Each run only needs its own subset.
type Deps struct {
	Engine      Transferer
	Sources     SourceOpener
	Destination Destination
	Resume      *transfer.ResumeStore
	Deleter     ObjectDeleter
	Publisher   LinkPublisher

	// Throttle spaces out purge deletes; nil means no spacing
	Throttle *rate.Limiter
}

// Summary counts row outcomes of one run
type Summary struct {
	Total     int
	Skipped   int
	Succeeded int
	Failed    int
	Cancelled int
}

// String returns a one-line report
func (s *Summary) String() string {
	return fmt.Sprintf("%d rows: %d done, %d skipped, %d failed, %d cancelled",
		s.Total, s.Succeeded, s.Skipped, s.Failed, s.Cancelled)
}

// Driver runs migrate, purge and publish over a worklist. Row updates and saves are
// serialized by mu; transfers run concurrently.
type Driver struct {
	cfg     *internal.Config
	store   *Store
	table   *Table
	deps    Deps
	fileOps *utils.FileOperations

	mu      sync.Mutex
	summary Summary
}

// NewDriver creates a Driver over a loaded table
func NewDriver(cfg *internal.Config, store *Store, table *Table, deps Deps) *Driver {
	return &Driver{
		cfg:     cfg,
		store:   store,
		table:   table,
		deps:    deps,
		fileOps: utils.NewFileOperations(),
	}
}

// Table exposes the worklist being processed
func (d *Driver) Table() *Table {
	return d.table
}

func (d *Driver) reset() {
	d.mu.Lock()
	d.summary = Summary{Total: len(d.table.Rows)}
	d.mu.Unlock()
}

func (d *Driver) result(ctx context.Context, runErr error) (*Summary, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	summary := d.summary
	if err := d.store.Save(d.table); err != nil && runErr == nil {
		runErr = err
	}
	if runErr == nil && ctx.Err() != nil {
		runErr = internal.NewCancelledError("worklist", ctx.Err())
	}
	return &summary, runErr
}

// Migrate downloads and uploads every row not yet marked uploaded. Failures are written to
// the row's error column and do not stop the run.
func (d *Driver) Migrate(ctx context.Context) (*Summary, error) {
	if d.deps.Engine == nil || d.deps.Sources == nil || d.deps.Destination == nil || d.deps.Resume == nil {
		return nil, internal.NewInvalidInputError("driver", "migrate needs an engine, sources, a destination and a resume store")
	}
	d.reset()

	uploaded, remaining := d.table.Counts()
	internal.LogInfo("Worklist has %d rows: %d uploaded, %d remaining", len(d.table.Rows), uploaded, remaining)

	if err := d.fileOps.EnsureDir(filepath.Join(d.cfg.DownloadDir, "x")); err != nil {
		return nil, fmt.Errorf("failed to create download directory: %w", err)
	}

	workers := d.cfg.Workers
	if workers < 1 {
		workers = 1
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)

	for _, row := range d.table.Rows {
		if row.Is(ColUploaded) {
			internal.LogDebug("Skipping row %d, already uploaded: %s", row.Index+1, row.Get(ColTitle))
			d.count(func(s *Summary) { s.Skipped++ })
			continue
		}
		if gctx.Err() != nil {
			d.count(func(s *Summary) { s.Cancelled++ })
			continue
		}
		g.Go(func() error { return d.migrateRow(gctx, row) })
	}

	return d.result(ctx, g.Wait())
}

func (d *Driver) count(fn func(*Summary)) {
	d.mu.Lock()
	fn(&d.summary)
	d.mu.Unlock()
}

func (d *Driver) migrateRow(ctx context.Context, row *Row) error {
	title := Title(row)
	internal.LogInfo("Processing row %d/%d: %s", row.Index+1, len(d.table.Rows), title)

	remoteID, err := d.migrate(ctx, row)

	d.mu.Lock()
	defer d.mu.Unlock()

	if err != nil {
		if kind, _ := internal.KindOf(err); kind == internal.ErrCancelled || ctx.Err() != nil {
			d.summary.Cancelled++
			return nil
		}
		d.summary.Failed++
		row.Set(ColError, err.Error())
		internal.LogError("Row %d failed: %v", row.Index+1, err)
		return nil
	}

	link := utils.YouTubeURL(remoteID)
	row.Set(ColUploaded, yes)
	row.Set(ColYouTubeURL, link)
	row.Set(ColError, "")
	d.summary.Succeeded++
	internal.LogInfo("Uploaded %s as %s", title, link)

	if err := d.store.Save(d.table); err != nil {
		return fmt.Errorf("failed to save worklist after row %d: %w", row.Index+1, err)
	}
	return nil
}

func (d *Driver) migrate(ctx context.Context, row *Row) (string, error) {
	loc, err := utils.ResolveLocator(row.Get(ColURL), d.cfg.Storage.BaseURL)
	if err != nil {
		return "", err
	}
	local := filepath.Join(d.cfg.DownloadDir, loc.FileName)

	if d.fileOps.FileExists(local) {
		internal.LogInfo("%s already downloaded, continuing to upload", loc.FileName)
	} else {
		source, size, err := d.deps.Sources.Open(ctx, loc)
		if err != nil {
			return "", fmt.Errorf("download: %w", err)
		}
		task := &internal.TransferTask{
			Source:      loc.Raw,
			Destination: local,
			TotalSize:   size,
			Label:       loc.FileName,
		}
		if _, err := d.deps.Engine.Download(ctx, task, source); err != nil {
			return "", fmt.Errorf("download: %w", err)
		}
	}

	remoteID, err := d.upload(ctx, row, loc, local)
	if err != nil {
		return "", fmt.Errorf("upload: %w", err)
	}

	if err := d.fileOps.RemoveIfExists(local); err != nil {
		internal.LogWarn("Could not delete %s: %v", local, err)
	}
	if err := d.deps.Resume.Cleanup(local); err != nil {
		internal.LogWarn("Could not delete resume metadata of %s: %v", local, err)
	}
	return remoteID, nil
}

func (d *Driver) upload(ctx context.Context, row *Row, loc *utils.Locator, local string) (string, error) {
	meta := Metadata(row, d.cfg.YouTube)
	uri, resumed, err := d.openSession(ctx, meta, loc, local)
	if err != nil {
		return "", err
	}

	task := &internal.TransferTask{
		Source:    local,
		TotalSize: internal.SizeUnknown,
		Label:     loc.FileName,
		Resume:    resumed,
	}
	result, err := d.deps.Engine.Upload(ctx, task, d.deps.Destination.Session(uri))
	if err != nil && resumed && sessionExpired(err) {
		internal.LogWarn("Stored upload session for %s has expired, starting a new one", loc.FileName)
		if cerr := d.deps.Resume.Cleanup(local); cerr != nil {
			return "", cerr
		}
		if uri, _, err = d.openSession(ctx, meta, loc, local); err != nil {
			return "", err
		}
		task.Resume = false
		result, err = d.deps.Engine.Upload(ctx, task, d.deps.Destination.Session(uri))
	}
	if err != nil {
		return "", err
	}
	if result.RemoteID == "" {
		return "", internal.NewFatalRemoteError(0, "upload finished without a video id")
	}
	return result.RemoteID, nil
}

// openSession reuses a valid session recorded next to local, or creates and records a new one
func (d *Driver) openSession(ctx context.Context, meta internal.VideoMetadata, loc *utils.Locator, local string) (string, bool, error) {
	stored, err := d.deps.Resume.Load(local)
	switch {
	case err != nil:
		internal.LogWarn("Ignoring resume metadata of %s: %v", loc.FileName, err)
	case stored != nil:
		verr := d.deps.Resume.Validate(stored, local)
		if verr == nil {
			internal.LogInfo("Resuming upload session of %s", loc.FileName)
			return stored.SessionURI, true, nil
		}
		internal.LogInfo("Discarding upload session of %s: %v", loc.FileName, verr)
	}

	desc, err := transfer.Describe(local, loc.Raw)
	if err != nil {
		return "", false, internal.NewInvalidInputError("source", err.Error()).WithCause(err)
	}
	uri, err := d.deps.Destination.CreateSession(ctx, meta, desc.Size)
	if err != nil {
		return "", false, err
	}
	desc.SessionURI = uri
	if err := d.deps.Resume.Save(local, desc); err != nil {
		internal.LogWarn("Could not record upload session of %s: %v", loc.FileName, err)
	}
	return uri, false, nil
}

// sessionExpired reports errors meaning the session URI is no longer accepted
func sessionExpired(err error) bool {
	if kind, _ := internal.KindOf(err); kind == internal.ErrNotFound {
		return true
	}
	var te *internal.TransferError
	return errors.As(err, &te) && te.Code == http.StatusGone
}

// Purge deletes the storage copy of every uploaded row not yet removed. Deletes run one
// at a time, spaced by the throttle.
func (d *Driver) Purge(ctx context.Context) (*Summary, error) {
	if d.deps.Deleter == nil {
		return nil, internal.NewInvalidInputError("driver", "purge needs an object deleter")
	}
	d.reset()

	for _, row := range d.table.Rows {
		if !row.Is(ColUploaded) || row.Get(ColYouTubeURL) == "" || row.Is(ColRemoteDeleted) {
			d.summary.Skipped++
			continue
		}
		if ctx.Err() != nil {
			d.summary.Cancelled++
			continue
		}
		if d.deps.Throttle != nil {
			if err := d.deps.Throttle.Wait(ctx); err != nil {
				d.summary.Cancelled++
				continue
			}
		}

		status, err := d.purgeRow(ctx, row)
		d.mu.Lock()
		if err != nil {
			if ctx.Err() != nil {
				d.summary.Cancelled++
			} else {
				row.Set(ColRemoteDeleted, "error: "+err.Error())
				d.summary.Failed++
				internal.LogError("Row %d: delete failed: %v", row.Index+1, err)
			}
		} else {
			row.Set(ColRemoteDeleted, status)
			d.summary.Succeeded++
			internal.LogInfo("Row %d: remote copy %s", row.Index+1, status)
		}
		d.mu.Unlock()
	}

	return d.result(ctx, nil)
}

func (d *Driver) purgeRow(ctx context.Context, row *Row) (string, error) {
	loc, err := utils.ResolveLocator(row.Get(ColURL), d.cfg.Storage.BaseURL)
	if err != nil {
		return "", err
	}
	if loc.External() {
		return "", internal.NewInvalidInputError("url", "object is not in the storage container")
	}
	return d.deps.Deleter.DeleteObject(ctx, loc.ObjectPath)
}

// Publish writes the YouTube link of every uploaded row to the website database
func (d *Driver) Publish(ctx context.Context) (*Summary, error) {
	if d.deps.Publisher == nil {
		return nil, internal.NewInvalidInputError("driver", "publish needs a publisher")
	}
	d.reset()

	for _, row := range d.table.Rows {
		link := row.Get(ColYouTubeURL)
		if !row.Is(ColUploaded) || link == "" || row.Is(ColProviderSynced) {
			d.summary.Skipped++
			continue
		}
		if ctx.Err() != nil {
			d.summary.Cancelled++
			continue
		}

		var status string
		id, err := strconv.ParseInt(row.Get(ColID), 10, 64)
		if err != nil {
			err = internal.NewInvalidInputError("id", fmt.Sprintf("%q is not an integer", row.Get(ColID)))
		} else {
			status, err = d.deps.Publisher.Publish(ctx, id, link)
		}

		d.mu.Lock()
		if err != nil {
			row.Set(ColProviderSynced, "error: "+err.Error())
			d.summary.Failed++
			internal.LogError("Row %d: publish failed: %v", row.Index+1, err)
		} else {
			row.Set(ColProviderSynced, status)
			d.summary.Succeeded++
		}
		d.mu.Unlock()
	}

	return d.result(ctx, nil)
}
