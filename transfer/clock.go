package transfer

import (
	"context"
	"time"

	"vidmigrate/internal"
)

// RealClock reads the wall clock and sleeps on a timer
type RealClock struct{}

// Now returns time.Now
func (RealClock) Now() time.Time {
	return time.Now()
}

// Sleep waits for d or until ctx is done, whichever comes first
func (RealClock) Sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

var _ internal.Clock = RealClock{}
