package faults

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/teracloudstack/failover-tester/internal/metrics"
)

// ErrNotApplied is returned when cleanup is requested for a handle that was
// never produced by a successful Apply.
var ErrNotApplied = errors.New("fault was never applied")

// Coordinator applies faults through the registered injectors, verifies them
// independently, and guarantees bounded-retry cleanup.
type Coordinator struct {
	injectors []Injector
	retries   int
	backoff   time.Duration
	logger    *slog.Logger
}

func NewCoordinator(injectors []Injector, retries int, backoff time.Duration, logger *slog.Logger) *Coordinator {
	if retries < 1 {
		retries = 1
	}
	return &Coordinator{
		injectors: injectors,
		retries:   retries,
		backoff:   backoff,
		logger:    logger,
	}
}

// Apply injects the fault described by spec and verifies it through a check
// independent of the injection path. A fault that applied but failed
// verification still yields a handle so cleanup can run; the handle is
// marked Unverified.
func (c *Coordinator) Apply(ctx context.Context, spec Spec) (*Handle, error) {
	inj := c.injectorFor(spec.Type)
	if inj == nil {
		return nil, &ApplyError{Type: spec.Type, Err: fmt.Errorf("unsupported fault type")}
	}

	c.logger.Info("applying fault", "fault_type", spec.Type, "host", spec.Host)
	fault, err := inj.Apply(ctx, spec)
	if err != nil {
		metrics.ObserveFaultApplied(string(spec.Type), false)
		return nil, &ApplyError{Type: spec.Type, Err: err}
	}

	handle := &Handle{
		Type:         spec.Type,
		Target:       fault.Describe(),
		AppliedAt:    time.Now().UTC(),
		Verification: Unverified,
		CleanupToken: uuid.NewString(),
		fault:        fault,
	}

	ok, verr := fault.Verify(ctx)
	if verr != nil {
		c.logger.Warn("fault verification errored", "fault_type", spec.Type, "error", verr)
	} else if ok {
		handle.Verification = Verified
	} else {
		c.logger.Warn("fault applied but not verified", "fault_type", spec.Type, "target", handle.Target)
	}
	metrics.ObserveFaultApplied(string(spec.Type), handle.IsVerified())

	c.logger.Info("fault applied",
		"fault_type", spec.Type,
		"target", handle.Target,
		"verification", handle.Verification,
		"cleanup_token", handle.CleanupToken)
	return handle, nil
}

// Cleanup undoes the fault behind handle. It is idempotent: a second call
// after success returns nil immediately. Failures are retried with a fixed
// backoff up to the configured attempt count; exhaustion produces a
// CleanupError and a residual-fault warning, never a panic or a fatal.
func (c *Coordinator) Cleanup(ctx context.Context, handle *Handle) error {
	if handle == nil || handle.fault == nil {
		return ErrNotApplied
	}
	if handle.cleaned {
		return nil
	}

	var lastErr error
	for attempt := 1; attempt <= c.retries; attempt++ {
		if attempt > 1 {
			metrics.ObserveCleanupRetry()
			select {
			case <-time.After(c.backoff):
			case <-ctx.Done():
				lastErr = ctx.Err()
				return &CleanupError{Token: handle.CleanupToken, Attempts: attempt - 1, Err: lastErr}
			}
		}
		lastErr = handle.fault.Remove(ctx)
		if lastErr == nil {
			handle.cleaned = true
			c.logger.Info("fault cleaned up",
				"fault_type", handle.Type,
				"cleanup_token", handle.CleanupToken,
				"attempts", attempt)
			return nil
		}
		c.logger.Warn("fault cleanup attempt failed",
			"fault_type", handle.Type,
			"cleanup_token", handle.CleanupToken,
			"attempt", attempt,
			"error", lastErr)
	}

	metrics.ObserveResidualFault()
	c.logger.Error("fault cleanup exhausted retries, fault may still be active",
		"fault_type", handle.Type,
		"target", handle.Target,
		"cleanup_token", handle.CleanupToken)
	return &CleanupError{Token: handle.CleanupToken, Attempts: c.retries, Err: lastErr}
}

func (c *Coordinator) injectorFor(t Type) Injector {
	for _, inj := range c.injectors {
		if inj.Supports(t) {
			return inj
		}
	}
	return nil
}
