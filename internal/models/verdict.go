package models

import "time"

// ConfidenceSource enumerates which detector produced a failover verdict.
type ConfidenceSource string

const (
	SourceStatus   ConfidenceSource = "status"
	SourceMetrics  ConfidenceSource = "metrics"
	SourceLogs     ConfidenceSource = "logs"
	SourceCombined ConfidenceSource = "combined"
)

// FailoverVerdict is the engine's conclusion about whether and when the
// secondary datacenter took over. DetectedAt is set if and only if
// FailoverDetected is true; once true it never reverts within a session.
type FailoverVerdict struct {
	FailoverDetected bool
	DetectedAt       time.Time
	Source           ConfidenceSource
	History          []StatusSnapshot
}
