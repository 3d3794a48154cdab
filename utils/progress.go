package utils

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/cheggaaa/pb/v3"
	"github.com/dustin/go-humanize"

	"vidmigrate/internal"
)

const barTemplate = `{{string . "prefix"}}{{counters . }} {{bar . }} {{percent . }} {{speed . }} {{rtime . "ETA %s"}}`

// ProgressTracker renders one transfer on a terminal progress bar and
// keeps enough numbers to summarize it afterwards
type ProgressTracker struct {
	mu        sync.Mutex
	bar       *pb.ProgressBar
	label     string
	quiet     bool
	startTime time.Time
	total     int64
	initial   int64
	current   int64
	finished  bool
}

// TransferSummary contains final statistics for one transfer
type TransferSummary struct {
	Label        string
	TotalBytes   int64
	SessionBytes int64
	TotalTime    time.Duration
	AverageSpeed float64 // bytes per second, this session only
}

// String formats the summary for a log line
func (s *TransferSummary) String() string {
	return fmt.Sprintf("%s: %s in %v (%s/s)",
		s.Label,
		FormatBytes(s.TotalBytes),
		s.TotalTime.Round(time.Millisecond),
		FormatBytes(int64(s.AverageSpeed)))
}

// NewProgressTracker creates a tracker for a transfer of total bytes (internal.SizeUnknown when unknown)
// that resumes at initial. Output goes to w unless quiet is set.
func NewProgressTracker(w io.Writer, label string, total, initial int64, quiet bool) *ProgressTracker {
	tracker := &ProgressTracker{
		label:     label,
		quiet:     quiet,
		startTime: time.Now(),
		total:     total,
		initial:   initial,
		current:   initial,
	}

	if !quiet {
		barTotal := total
		if barTotal < 0 {
			barTotal = 0
		}
		bar := pb.ProgressBarTemplate(barTemplate).New(0)
		bar.SetTotal(barTotal)
		bar.SetWriter(w)
		bar.Set(pb.Bytes, true)
		bar.Set("prefix", label+": ")
		bar.SetCurrent(initial)
		tracker.bar = bar.Start()
	}

	return tracker
}

// Update moves the bar to current bytes
func (p *ProgressTracker) Update(current int64) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished || current < p.current {
		return
	}
	p.current = current
	if p.bar != nil {
		p.bar.SetCurrent(current)
	}
}

// Finish stops the bar. Calling it more than once is harmless.
func (p *ProgressTracker) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.finished {
		return
	}
	p.finished = true
	if p.bar != nil {
		p.bar.Finish()
	}
}

// Summary returns statistics for the bytes moved so far
func (p *ProgressTracker) Summary() *TransferSummary {
	p.mu.Lock()
	defer p.mu.Unlock()

	elapsed := time.Since(p.startTime)
	session := p.current - p.initial

	var speed float64
	if elapsed > 0 {
		speed = float64(session) / elapsed.Seconds()
	}

	return &TransferSummary{
		Label:        p.label,
		TotalBytes:   p.current,
		SessionBytes: session,
		TotalTime:    elapsed,
		AverageSpeed: speed,
	}
}

// Percent returns completion in percent, or -1 when the total is unknown
func (p *ProgressTracker) Percent() float64 {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.total <= 0 {
		return -1
	}
	return float64(p.current) / float64(p.total) * 100
}

// IsQuiet returns whether the tracker is in quiet mode
func (p *ProgressTracker) IsQuiet() bool {
	return p.quiet
}

// ProgressBars returns a factory the transfer engine calls once per transfer
func ProgressBars(w io.Writer, quiet bool) func(label string, total, initial int64) internal.Progress {
	return func(label string, total, initial int64) internal.Progress {
		return NewProgressTracker(w, label, total, initial, quiet)
	}
}

// FormatBytes formats a byte count with binary prefixes
func FormatBytes(bytes int64) string {
	if bytes < 0 {
		return "unknown"
	}
	return humanize.IBytes(uint64(bytes))
}
