package inference

import (
	"context"

	"github.com/teracloudstack/failover-tester/internal/models"
	"github.com/teracloudstack/failover-tester/internal/streams"
)

// StatusSource reports lifecycle health for one datacenter role.
type StatusSource interface {
	Health(ctx context.Context, role models.DatacenterRole) (models.DatacenterHealth, error)
}

// MetricsSource returns current values for the configured metric patterns on
// the secondary side. An empty map is a valid answer.
type MetricsSource interface {
	Query(ctx context.Context) (map[string]float64, error)
}

// LogsSource returns recent secondary-side log lines matching the configured
// keyword patterns. Best-effort evidence only.
type LogsSource interface {
	Query(ctx context.Context) ([]string, error)
}

// Sources bundles the signal sources available to the engine. Any field may
// be nil when that source is not configured; at least one must be set.
type Sources struct {
	Status  StatusSource
	Metrics MetricsSource
	Logs    LogsSource
}

func (s Sources) empty() bool {
	return s.Status == nil && s.Metrics == nil && s.Logs == nil
}

// Endpoint identifies one job inside one datacenter.
type Endpoint struct {
	Client     *streams.Client
	InstanceID string
	JobID      string
}

// streamsStatusSource queries the management API of both datacenters.
// Any API error is mapped to "unreachable" rather than propagated, because
// an unreachable primary is exactly the signal a real outage produces.
type streamsStatusSource struct {
	primary   Endpoint
	secondary Endpoint
}

// NewStreamsStatusSource builds a StatusSource over two lifecycle APIs.
func NewStreamsStatusSource(primary, secondary Endpoint) StatusSource {
	return &streamsStatusSource{primary: primary, secondary: secondary}
}

func (s *streamsStatusSource) Health(ctx context.Context, role models.DatacenterRole) (models.DatacenterHealth, error) {
	ep := s.primary
	if role == models.RoleSecondary {
		ep = s.secondary
	}

	instance, err := ep.Client.GetInstance(ctx, ep.InstanceID)
	if err != nil {
		return models.DatacenterHealth{Reachable: false}, err
	}

	health := models.DatacenterHealth{
		Reachable:     true,
		InstanceState: instance.Status,
	}

	job, err := ep.Client.GetJob(ctx, ep.InstanceID, ep.JobID)
	if err != nil {
		// Instance answered but the job is gone; reachable with no job
		// state is a meaningful distinction from a dead API.
		return health, err
	}
	health.JobState = job.State
	health.JobHealth = job.Health
	return health, nil
}

// streamsMetricsSource queries secondary-side job metrics by name pattern.
type streamsMetricsSource struct {
	endpoint Endpoint
	patterns []string
}

// NewStreamsMetricsSource builds a MetricsSource filtering on the given
// metric name patterns.
func NewStreamsMetricsSource(endpoint Endpoint, patterns []string) MetricsSource {
	return &streamsMetricsSource{endpoint: endpoint, patterns: patterns}
}

func (s *streamsMetricsSource) Query(ctx context.Context) (map[string]float64, error) {
	return s.endpoint.Client.QueryMetrics(ctx, s.endpoint.InstanceID, s.endpoint.JobID, s.patterns)
}

// streamsLogsSource queries secondary-side job logs by keyword.
type streamsLogsSource struct {
	endpoint Endpoint
	keywords []string
	maxLines int
}

// NewStreamsLogsSource builds a LogsSource filtering on the given keywords.
func NewStreamsLogsSource(endpoint Endpoint, keywords []string, maxLines int) LogsSource {
	return &streamsLogsSource{endpoint: endpoint, keywords: keywords, maxLines: maxLines}
}

func (s *streamsLogsSource) Query(ctx context.Context) ([]string, error) {
	return s.endpoint.Client.QueryLogs(ctx, s.endpoint.InstanceID, s.endpoint.JobID, s.keywords, s.maxLines)
}
