package dataset

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/time/rate"

	"github.com/teracloudstack/failover-tester/internal/streams"
)

// Injector pushes a deterministic test dataset into a job at a controlled
// rate, so the orchestrator can later reconcile what came out against what
// went in.
type Injector struct {
	client    *streams.Client
	batchSize int
	limiter   *rate.Limiter
	logger    *slog.Logger
}

func NewInjector(client *streams.Client, batchSize int, ratePerSecond float64, logger *slog.Logger) *Injector {
	if batchSize < 1 {
		batchSize = 100
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if ratePerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(ratePerSecond), batchSize)
	}
	return &Injector{
		client:    client,
		batchSize: batchSize,
		limiter:   limiter,
		logger:    logger,
	}
}

// GenerateEvents builds count events with identifiers derived from runID, so
// concurrent or repeated runs never collide.
func GenerateEvents(runID string, count int) []streams.Event {
	now := time.Now().UTC().UnixMilli()
	events := make([]streams.Event, count)
	for i := range events {
		events[i] = streams.Event{
			ID:        fmt.Sprintf("%s-%06d", runID, i),
			Sequence:  i,
			Timestamp: now + int64(i),
			Value:     float64(i),
		}
	}
	return events
}

// Inject pushes events in rate-limited batches and returns the identifiers
// the service acknowledged.
func (inj *Injector) Inject(ctx context.Context, instanceID, jobID string, events []streams.Event) ([]string, error) {
	accepted := make([]string, 0, len(events))
	for start := 0; start < len(events); start += inj.batchSize {
		end := start + inj.batchSize
		if end > len(events) {
			end = len(events)
		}
		batch := events[start:end]
		if err := inj.limiter.WaitN(ctx, len(batch)); err != nil {
			return accepted, err
		}
		ids, err := inj.client.InjectEvents(ctx, instanceID, jobID, batch)
		if err != nil {
			return accepted, fmt.Errorf("batch starting at %d: %w", start, err)
		}
		accepted = append(accepted, ids...)
	}
	inj.logger.Info("test dataset injected",
		"job_id", jobID,
		"injected", len(events),
		"accepted", len(accepted))
	return accepted, nil
}
