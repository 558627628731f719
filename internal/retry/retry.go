package retry

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"time"

	"github.com/gxo-labs/converge/internal/secrets"
	"github.com/gxo-labs/converge/internal/template"
	convergeerrors "github.com/gxo-labs/converge/pkg/converge/v1/errors"
	convergelog "github.com/gxo-labs/converge/pkg/converge/v1/log"
)

// Operation is one attempt of a retried unit of work.
type Operation func(ctx context.Context) error

// Config controls how an Operation is retried. Attempts counts the first
// try, so Attempts=1 means no retry.
type Config struct {
	Attempts      int
	Delay         time.Duration
	MaxDelay      time.Duration
	BackoffFactor float64
	Jitter        float64
	// Label prefixes log lines, e.g. "host=web1 task=fetch configs".
	Label string
	// ShouldRetry decides whether an error is worth another attempt. Nil
	// retries every error.
	ShouldRetry func(error) bool
}

// Helper runs operations with retry, backoff and secret-safe logging.
type Helper struct {
	log        convergelog.Logger
	randSource *rand.Rand
	tracker    *secrets.SecretTracker
	sleep      func(ctx context.Context, d time.Duration) error
}

// NewHelper creates a Helper. log must not be nil.
func NewHelper(log convergelog.Logger) *Helper {
	if log == nil {
		panic("retry.NewHelper requires a non-nil logger")
	}
	return &Helper{
		log:        log,
		randSource: rand.New(rand.NewSource(time.Now().UnixNano())),
		sleep:      sleepContext,
	}
}

// SetTracker makes the helper redact tracked secrets from logged errors.
func (h *Helper) SetTracker(tracker *secrets.SecretTracker) {
	h.tracker = tracker
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *Helper) redact(err error) string {
	if err == nil {
		return ""
	}
	return template.RedactMessage(err.Error(), h.tracker)
}

// Do runs op until it succeeds, the attempts are exhausted, ShouldRetry
// rejects the error, or ctx is done. The last error is returned unchanged.
func (h *Helper) Do(ctx context.Context, cfg Config, op Operation) error {
	if cfg.Attempts <= 0 {
		cfg.Attempts = 1
	}
	if cfg.BackoffFactor < 1.0 {
		cfg.BackoffFactor = 1.0
	}
	if cfg.Jitter < 0.0 {
		cfg.Jitter = 0.0
	} else if cfg.Jitter > 1.0 {
		cfg.Jitter = 1.0
	}
	if cfg.Delay < 0 {
		cfg.Delay = 0
	}

	logPrefix := ""
	if cfg.Label != "" {
		logPrefix = cfg.Label + " "
	}

	var lastErr error
	for attempt := 1; attempt <= cfg.Attempts; attempt++ {
		if ctx.Err() != nil {
			if lastErr == nil {
				return ctx.Err()
			}
			return fmt.Errorf("retry cancelled after %d attempts: %w", attempt-1, lastErr)
		}

		err := op(ctx)
		if err == nil {
			if attempt > 1 {
				h.log.Infof("%sSucceeded on attempt %d/%d", logPrefix, attempt, cfg.Attempts)
			}
			return nil
		}
		lastErr = err

		if attempt == cfg.Attempts || (cfg.ShouldRetry != nil && !cfg.ShouldRetry(err)) {
			break
		}

		wait := h.backoff(cfg, attempt)
		h.log.Warnf("%sAttempt %d/%d failed (retrying in %v): %s",
			logPrefix, attempt, cfg.Attempts, wait.Truncate(time.Millisecond), h.redact(err))

		if sleepErr := h.sleep(ctx, wait); sleepErr != nil {
			return fmt.Errorf("retry delay cancelled after attempt %d: %w", attempt, lastErr)
		}
	}

	if lastErr != nil {
		h.log.Debugf("%sGiving up after %d attempts: %s", logPrefix, cfg.Attempts, h.redact(lastErr))
		return lastErr
	}
	return convergeerrors.NewConfigError("retry loop finished without success or error", nil)
}

func (h *Helper) backoff(cfg Config, attempt int) time.Duration {
	base := float64(cfg.Delay)
	if cfg.BackoffFactor > 1.0 {
		base *= math.Pow(cfg.BackoffFactor, float64(attempt-1))
	}
	if base > float64(math.MaxInt64) {
		base = float64(math.MaxInt64)
	}
	wait := time.Duration(base)
	if cfg.Jitter > 0.0 {
		factor := cfg.Jitter * (h.randSource.Float64()*2.0 - 1.0)
		wait += time.Duration(float64(wait) * factor)
		if wait < 0 {
			wait = 0
		}
	}
	if cfg.MaxDelay > 0 && wait > cfg.MaxDelay {
		wait = cfg.MaxDelay
	}
	return wait
}
