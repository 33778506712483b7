// Package probe runs bounded startup connectivity checks. The fact store
// and the ledger must both answer before a run starts; a service that never
// answers within the retry budget aborts the whole batch.
package probe

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"fmt"
	"log/slog"
	"time"
)

// ConnectivityError reports a service that stayed unreachable through the
// whole probe budget. Fatal to the run.
type ConnectivityError struct {
	Service  string
	Attempts int
	Err      error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s unreachable after %d attempts: %v", e.Service, e.Attempts, e.Err)
}

func (e *ConnectivityError) Unwrap() error { return e.Err }

// Policy bounds the probe loop. Jitter is deterministic: it is derived from
// the service name, run id, and attempt index, so a given run always probes
// on the same schedule.
type Policy struct {
	BaseMs      int64
	MaxMs       int64
	MaxJitterMs int64
	MaxAttempts int
}

// DefaultPolicy probes with 500ms base delay, 5s cap, up to 10 attempts.
func DefaultPolicy() Policy {
	return Policy{BaseMs: 500, MaxMs: 5000, MaxJitterMs: 250, MaxAttempts: 10}
}

// Backoff returns the delay before the given attempt.
func (p Policy) Backoff(service, runID string, attempt int) time.Duration {
	factor := int64(1)
	if attempt > 0 {
		if attempt > 30 {
			factor = 1 << 30
		} else {
			factor = 1 << attempt
		}
	}
	delay := p.BaseMs * factor
	if delay > p.MaxMs {
		delay = p.MaxMs
	}
	return time.Duration(delay+p.jitter(service, runID, attempt)) * time.Millisecond
}

func (p Policy) jitter(service, runID string, attempt int) int64 {
	if p.MaxJitterMs == 0 {
		return 0
	}
	seed := fmt.Sprintf("%s:%s:%d", service, runID, attempt)
	hash := sha256.Sum256([]byte(seed))
	basis := binary.BigEndian.Uint64(hash[:8])
	return int64(basis % uint64(p.MaxJitterMs))
}

// Wait probes fn until it succeeds or the budget runs out.
func Wait(ctx context.Context, policy Policy, service, runID string, logger *slog.Logger, fn func(context.Context) error) error {
	if logger == nil {
		logger = slog.Default()
	}
	var lastErr error
	for attempt := 0; attempt < policy.MaxAttempts; attempt++ {
		if attempt > 0 {
			delay := policy.Backoff(service, runID, attempt-1)
			logger.Debug("probe retry", "service", service, "attempt", attempt, "delay", delay)
			select {
			case <-ctx.Done():
				return &ConnectivityError{Service: service, Attempts: attempt, Err: ctx.Err()}
			case <-time.After(delay):
			}
		}
		if lastErr = fn(ctx); lastErr == nil {
			logger.Info("service reachable", "service", service, "attempt", attempt)
			return nil
		}
	}
	return &ConnectivityError{Service: service, Attempts: policy.MaxAttempts, Err: lastErr}
}
