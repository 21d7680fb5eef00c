// Package retry implements bounded retries with exponential backoff,
// used by the notification pipeline when talking to the mail API.
package retry

import (
	"context"
	"math"
	"math/rand"
	"strings"
	"time"
)

// Config controls retry behavior.
type Config struct {
	MaxRetries int           // retries after the first attempt
	BaseDelay  time.Duration // delay before the first retry
	MaxDelay   time.Duration // cap on any single delay
	Multiplier float64       // exponential growth factor
	Jitter     bool          // spread delays to avoid thundering herd
}

// DefaultConfig returns the general-purpose retry configuration.
func DefaultConfig() Config {
	return Config{
		MaxRetries: 3,
		BaseDelay:  time.Second,
		MaxDelay:   30 * time.Second,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// MailerConfig is tuned for the external mail API, which throttles
// aggressively but recovers fast.
func MailerConfig() Config {
	return Config{
		MaxRetries: 4,
		BaseDelay:  2 * time.Second,
		MaxDelay:   time.Minute,
		Multiplier: 2.0,
		Jitter:     true,
	}
}

// Do runs op, retrying retryable failures with exponential backoff until it
// succeeds, retries are exhausted, or the context is done. The last error
// is returned.
func Do(ctx context.Context, cfg Config, op func() error) error {
	var lastErr error
	for attempt := 0; ; attempt++ {
		lastErr = op()
		if lastErr == nil {
			return nil
		}
		if attempt >= cfg.MaxRetries || !IsRetryable(lastErr) {
			return lastErr
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay(cfg, attempt)):
		}
	}
}

func delay(cfg Config, attempt int) time.Duration {
	d := float64(cfg.BaseDelay) * math.Pow(cfg.Multiplier, float64(attempt))
	if d > float64(cfg.MaxDelay) {
		d = float64(cfg.MaxDelay)
	}
	if cfg.Jitter {
		// up to 10% either way
		d += (rand.Float64() - 0.5) * 0.2 * d
		if d < 0 {
			d = float64(cfg.BaseDelay)
		}
	}
	return time.Duration(d)
}

// IsRetryable reports whether an error looks like a transient network or
// throttling failure worth retrying.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, s := range []string{
		"connection refused",
		"connection reset",
		"timeout",
		"temporary failure",
		"service unavailable",
		"too many requests",
		"rate limit",
		"429",
		"502",
		"503",
		"504",
		"no such host",
		"network unreachable",
		"broken pipe",
	} {
		if strings.Contains(msg, s) {
			return true
		}
	}
	return false
}
