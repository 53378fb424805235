package github

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"syscall"
	"time"
)

// RetryConfig holds retry configuration.
type RetryConfig struct {
	MaxAttempts int
	InitialWait time.Duration // doubled after each failed attempt
	MaxWait     time.Duration
}

// DefaultRetryConfig waits 1s, 2s between three attempts.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		InitialWait: time.Second,
		MaxWait:     4 * time.Second,
	}
}

// statusError is a non-2xx answer from the API.
type statusError struct {
	Status int
}

func (e *statusError) Error() string { return fmt.Sprintf("github api: status %d", e.Status) }

// IsRetryableError reports 429, 5xx and transient network failures.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var rl *RateLimitError
	if errors.As(err, &rl) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.Status == 429 || se.Status >= 500
	}

	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNRESET, syscall.ECONNABORTED, syscall.ECONNREFUSED,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{
		"timeout",
		"timed out",
		"connection reset",
		"connection refused",
		"broken pipe",
		"no route to host",
		"temporary failure",
		"unexpected eof",
	} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// retryWithBackoff runs op until it succeeds, fails permanently, or runs out of attempts.
func retryWithBackoff[T any](ctx context.Context, cfg RetryConfig, sleep func(context.Context, time.Duration) error, op func() (T, error), name string) (T, error) {
	var result T
	var err error
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	wait := cfg.InitialWait

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		result, err = op()
		if err == nil {
			if attempt > 1 {
				slog.Debug("github retry succeeded", "op", name, "attempt", attempt)
			}
			return result, nil
		}
		if !IsRetryableError(err) {
			return result, err
		}
		if attempt == cfg.MaxAttempts {
			slog.Warn("github retries exhausted", "op", name, "attempts", cfg.MaxAttempts, "error", err)
			return result, fmt.Errorf("max retries exceeded (%d attempts): %w", cfg.MaxAttempts, err)
		}
		slog.Debug("github retrying", "op", name, "attempt", attempt, "wait", wait, "error", err)
		if serr := sleep(ctx, wait); serr != nil {
			return result, serr
		}
		wait *= 2
		if wait > cfg.MaxWait {
			wait = cfg.MaxWait
		}
	}
	return result, err
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
