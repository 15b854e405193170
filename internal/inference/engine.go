package inference

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/teracloudstack/failover-tester/internal/metrics"
	"github.com/teracloudstack/failover-tester/internal/models"
	"github.com/teracloudstack/failover-tester/internal/utils"
)

// ErrNoSources signals that the engine was constructed without any signal
// source. This is a configuration error and is fatal before monitoring
// begins; everything else the engine encounters is absorbed into history.
var ErrNoSources = errors.New("no signal sources configured")

// Engine turns noisy partial observations into a single failover verdict.
// There is no direct failover-status API on the platform; the engine infers
// state purely from what the sources happen to answer.
type Engine struct {
	poller             *Poller
	detectors          []Detector
	pollInterval       time.Duration
	stabilizationDelay time.Duration
	logger             *slog.Logger
	latencies          *utils.LatencyTracker
}

// Options tunes the monitoring loop.
type Options struct {
	PollInterval       time.Duration
	SourceTimeout      time.Duration
	StabilizationDelay time.Duration
}

// NewEngine constructs the inference engine. Detectors run in the given
// order on every snapshot; pass them most-reliable first.
func NewEngine(sources Sources, detectors []Detector, opts Options, logger *slog.Logger) (*Engine, error) {
	if sources.empty() {
		return nil, ErrNoSources
	}
	if logger == nil {
		logger = slog.Default()
	}
	if opts.PollInterval <= 0 {
		opts.PollInterval = 10 * time.Second
	}
	if opts.StabilizationDelay <= 0 {
		opts.StabilizationDelay = opts.PollInterval
	}
	return &Engine{
		poller:             NewPoller(sources, opts.SourceTimeout, logger),
		detectors:          detectors,
		pollInterval:       opts.PollInterval,
		stabilizationDelay: opts.StabilizationDelay,
		logger:             logger,
		latencies:          utils.NewLatencyTracker(1024),
	}, nil
}

// Monitor polls until the failover signature is observed and confirmed, the
// timeout elapses, or ctx is cancelled. The returned verdict always carries
// the full snapshot history, including error-only snapshots. Once the
// verdict turns detected it never reverts within this session.
func (e *Engine) Monitor(ctx context.Context, timeout time.Duration) (models.FailoverVerdict, error) {
	verdict := models.FailoverVerdict{}
	deadline := time.Now().Add(timeout)

	e.logger.Info("monitoring for failover",
		slog.Duration("timeout", timeout),
		slog.Duration("interval", e.pollInterval))

	for {
		snap := e.observe(ctx)
		verdict.History = append(verdict.History, snap)

		if det, ok := e.examine(snap); ok {
			e.logger.Info("failover signature observed, confirming",
				slog.String("detector", string(det.Source)),
				slog.String("reason", det.Reason))

			if confirmed, confirmSnap := e.confirm(ctx, det); confirmed.ok {
				verdict.History = append(verdict.History, confirmSnap)
				verdict.FailoverDetected = true
				verdict.DetectedAt = det.At
				verdict.Source = confirmed.source
				metrics.ObserveDetection(time.Since(det.At), string(confirmed.source))
				e.logger.Info("failover detected",
					slog.Time("detected_at", det.At),
					slog.String("source", string(confirmed.source)))
				return verdict, nil
			} else {
				verdict.History = append(verdict.History, confirmSnap)
				e.logger.Warn("failover signature did not hold through stabilization, continuing",
					slog.String("detector", string(det.Source)))
			}
		}

		if time.Now().After(deadline) {
			e.logger.Warn("monitoring timeout elapsed without detection",
				slog.Duration("timeout", timeout))
			return verdict, nil
		}

		if err := sleepCtx(ctx, e.pollInterval); err != nil {
			return verdict, err
		}
	}
}

// observe wraps one poll with latency accounting.
func (e *Engine) observe(ctx context.Context) models.StatusSnapshot {
	start := time.Now()
	snap := e.poller.PollOnce(ctx)
	e.latencies.Observe(time.Since(start))

	outcome := metrics.PollOutcomeClean
	if len(snap.Errors) > 0 {
		outcome = metrics.PollOutcomeDegraded
	}
	metrics.ObservePoll(outcome)

	if count := e.latencies.Count(); count >= 20 && count%20 == 0 {
		e.logger.Debug("poll latency",
			slog.Duration("p95", e.latencies.Percentile(95)),
			slog.Int("samples", count))
	}
	return snap
}

func (e *Engine) examine(snap models.StatusSnapshot) (Detection, bool) {
	for _, d := range e.detectors {
		if det, ok := d.Examine(snap); ok {
			return det, true
		}
	}
	return Detection{}, false
}

type confirmation struct {
	ok     bool
	source models.ConfidenceSource
}

// confirm waits the stabilization delay and re-examines a fresh snapshot.
// A flapping signature that does not survive the extra poll is discarded.
// When the confirming evidence comes from a different detector than the
// initial one, the verdict is attributed to both.
func (e *Engine) confirm(ctx context.Context, initial Detection) (confirmation, models.StatusSnapshot) {
	if err := sleepCtx(ctx, e.stabilizationDelay); err != nil {
		return confirmation{}, models.StatusSnapshot{Timestamp: time.Now().UTC()}
	}

	snap := e.observe(ctx)
	det, ok := e.examine(snap)
	if !ok {
		return confirmation{}, snap
	}

	source := initial.Source
	if det.Source != initial.Source {
		source = models.SourceCombined
	}
	return confirmation{ok: true, source: source}, snap
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
