package embed

import (
	"context"
	"math/rand"
	"time"

	"github.com/chunkhound/chunkhound/internal/chunkerr"
)

// RetryConfig configures exponential backoff with jitter (grounded on
// the teacher's DownloadWithRetry, adapted for provider rate-limit
// responses per §4.5: "exponential backoff with jitter, bounded
// retries").
type RetryConfig struct {
	MaxRetries   int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Multiplier   float64
}

// DefaultRetryConfig mirrors the teacher's defaults; cloud embedding
// APIs rate-limit on a similar timescale to model downloads.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxRetries:   DefaultMaxRetries,
		InitialDelay: 500 * time.Millisecond,
		MaxDelay:     16 * time.Second,
		Multiplier:   2.0,
	}
}

// withRetry runs fn, retrying on errors where chunkerr.IsRetryable
// reports true (transient I/O or rate-limit categories). A non-retryable
// error returns immediately. Each retry delay is jittered by +/-25% to
// avoid synchronized retry storms across concurrent batches.
func withRetry(ctx context.Context, cfg RetryConfig, fn func() error) error {
	delay := cfg.InitialDelay
	var lastErr error

	for attempt := 0; attempt <= cfg.MaxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if !chunkerr.IsRetryable(err) || attempt >= cfg.MaxRetries {
			return err
		}

		jittered := jitter(delay)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(jittered):
		}

		delay = time.Duration(float64(delay) * cfg.Multiplier)
		if delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}

	return lastErr
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	spread := float64(d) * 0.25
	offset := (rand.Float64()*2 - 1) * spread
	return time.Duration(float64(d) + offset)
}
