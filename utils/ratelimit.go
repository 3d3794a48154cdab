package utils

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/time/rate"

	"vidmigrate/internal"
)

// minBurst keeps tiny rates from rejecting ordinary socket reads
const minBurst = 32 * 1024

// BandwidthLimiter throttles byte throughput. A rate of zero or less means unlimited.
type BandwidthLimiter struct {
	mu      sync.RWMutex
	limiter *rate.Limiter
}

// NewBandwidthLimiter creates a limiter allowing bytesPerSecond on average
func NewBandwidthLimiter(bytesPerSecond int64) *BandwidthLimiter {
	return &BandwidthLimiter{limiter: newByteLimiter(bytesPerSecond)}
}

func newByteLimiter(bytesPerSecond int64) *rate.Limiter {
	if bytesPerSecond <= 0 {
		return rate.NewLimiter(rate.Inf, 0)
	}
	burst := bytesPerSecond
	if burst < minBurst {
		burst = minBurst
	}
	if burst > math.MaxInt32 {
		burst = math.MaxInt32
	}
	return rate.NewLimiter(rate.Limit(bytesPerSecond), int(burst))
}

// Wait blocks until n bytes may pass. Requests larger than the burst are split.
func (b *BandwidthLimiter) Wait(ctx context.Context, n int) error {
	b.mu.RLock()
	limiter := b.limiter
	b.mu.RUnlock()

	if limiter.Limit() == rate.Inf {
		return ctx.Err()
	}

	burst := limiter.Burst()
	for n > 0 {
		take := n
		if take > burst {
			take = burst
		}
		if err := limiter.WaitN(ctx, take); err != nil {
			return err
		}
		n -= take
	}
	return nil
}

// SetRate replaces the limit. In-flight waits finish under the old rate.
func (b *BandwidthLimiter) SetRate(bytesPerSecond int64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.limiter = newByteLimiter(bytesPerSecond)
}

// Rate returns the current limit in bytes per second, or 0 when unlimited
func (b *BandwidthLimiter) Rate() int64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.limiter.Limit() == rate.Inf {
		return 0
	}
	return int64(b.limiter.Limit())
}

var _ internal.RateLimiter = (*BandwidthLimiter)(nil)

// NewThrottle returns a limiter that lets one event through per interval,
// used to space out storage deletes
func NewThrottle(interval time.Duration) *rate.Limiter {
	if interval <= 0 {
		return rate.NewLimiter(rate.Inf, 1)
	}
	return rate.NewLimiter(rate.Every(interval), 1)
}

// ParseRateLimit parses strings like "512K", "1.5MB" or "2GiB" into bytes per second.
// Single-letter and two-letter suffixes are binary (K = 1024), matching wget and curl.
func ParseRateLimit(rateStr string) (int64, error) {
	rateStr = strings.TrimSpace(rateStr)
	if rateStr == "" {
		return 0, nil
	}

	normalized := strings.ToUpper(rateStr)
	if strings.HasSuffix(normalized, "IB") {
		normalized = normalized[:len(normalized)-2] + "iB"
	} else {
		trimmed := strings.TrimSuffix(normalized, "B")
		if n := len(trimmed); n > 0 && strings.ContainsRune("KMGTP", rune(trimmed[n-1])) {
			normalized = trimmed + "iB"
		}
	}

	value, err := humanize.ParseBytes(normalized)
	if err != nil {
		return 0, fmt.Errorf("invalid rate format %q: %w", rateStr, err)
	}
	if value > math.MaxInt64 {
		return 0, fmt.Errorf("rate value overflow: %s", rateStr)
	}
	return int64(value), nil
}
