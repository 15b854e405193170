package inference

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/teracloudstack/failover-tester/internal/models"
)

// Poller produces StatusSnapshots by querying all configured signal sources
// concurrently. Each sub-query is guarded by its own timeout so one slow
// source cannot stall the others, and a failure in one source never aborts
// the rest: partial snapshots are valid, and an all-failed snapshot still
// records the absence of signal.
type Poller struct {
	sources       Sources
	sourceTimeout time.Duration
	logger        *slog.Logger
}

// NewPoller constructs a Poller over the given sources.
func NewPoller(sources Sources, sourceTimeout time.Duration, logger *slog.Logger) *Poller {
	if logger == nil {
		logger = slog.Default()
	}
	if sourceTimeout <= 0 {
		sourceTimeout = 5 * time.Second
	}
	return &Poller{
		sources:       sources,
		sourceTimeout: sourceTimeout,
		logger:        logger,
	}
}

// PollOnce runs one poll cycle and always returns a snapshot; sub-query
// errors are recorded in the snapshot, never raised.
func (p *Poller) PollOnce(ctx context.Context) models.StatusSnapshot {
	snap := models.StatusSnapshot{Timestamp: time.Now().UTC()}

	var mu sync.Mutex
	note := func(source string, err error) {
		mu.Lock()
		defer mu.Unlock()
		snap.Errors = append(snap.Errors, fmt.Sprintf("%s: %v", source, err))
	}

	g, gctx := errgroup.WithContext(ctx)

	if p.sources.Status != nil {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, p.sourceTimeout)
			defer cancel()
			health, err := p.sources.Status.Health(qctx, models.RolePrimary)
			mu.Lock()
			snap.PrimaryHealth = health
			mu.Unlock()
			if err != nil {
				note("status/primary", err)
			}
			return nil
		})
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, p.sourceTimeout)
			defer cancel()
			health, err := p.sources.Status.Health(qctx, models.RoleSecondary)
			mu.Lock()
			snap.SecondaryHealth = health
			mu.Unlock()
			if err != nil {
				note("status/secondary", err)
			}
			return nil
		})
	}

	if p.sources.Metrics != nil {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, p.sourceTimeout)
			defer cancel()
			values, err := p.sources.Metrics.Query(qctx)
			if err != nil {
				note("metrics", err)
				return nil
			}
			mu.Lock()
			snap.Metrics = values
			mu.Unlock()
			return nil
		})
	}

	if p.sources.Logs != nil {
		g.Go(func() error {
			qctx, cancel := context.WithTimeout(gctx, p.sourceTimeout)
			defer cancel()
			lines, err := p.sources.Logs.Query(qctx)
			if err != nil {
				note("logs", err)
				return nil
			}
			mu.Lock()
			snap.LogHits = lines
			mu.Unlock()
			return nil
		})
	}

	// Sub-queries never return errors; Wait only synchronises.
	_ = g.Wait()

	if len(snap.Errors) > 0 {
		p.logger.Debug("poll completed with source errors",
			slog.Int("errors", len(snap.Errors)),
			slog.Time("at", snap.Timestamp))
	}
	return snap
}
