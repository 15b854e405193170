package inference

import (
	"strings"
	"time"

	"github.com/teracloudstack/failover-tester/internal/config"
	"github.com/teracloudstack/failover-tester/internal/models"
)

// Detection is one detector's positive conclusion for a single snapshot.
type Detection struct {
	At     time.Time
	Source models.ConfidenceSource
	Reason string
}

// Detector examines one snapshot for failover evidence. Detectors are
// consulted in priority order; the first positive answer in a poll cycle
// wins, which gives status-based detection precedence over the metrics and
// log fallbacks.
type Detector interface {
	Name() string
	Examine(snap models.StatusSnapshot) (Detection, bool)
}

// statusDetector looks for the failover signature: primary unreachable or
// unhealthy while the secondary reports a healthy running job. This is the
// most structurally reliable signal when the primary API still answers.
type statusDetector struct{}

// NewStatusDetector returns the status-transition detector.
func NewStatusDetector() Detector { return statusDetector{} }

func (statusDetector) Name() string { return "status" }

func (statusDetector) Examine(snap models.StatusSnapshot) (Detection, bool) {
	primaryDown := !snap.PrimaryHealth.Reachable || !snap.PrimaryHealth.Healthy()
	if primaryDown && snap.SecondaryHealth.Healthy() {
		return Detection{
			At:     snap.Timestamp,
			Source: models.SourceStatus,
			Reason: "primary down, secondary healthy",
		}, true
	}
	return Detection{}, false
}

// metricsDetector fires when any configured takeover metric crosses its
// threshold. It exists for the common outage case where status polling of
// the primary is itself degraded.
type metricsDetector struct {
	patterns []config.MetricPattern
}

// NewMetricsDetector returns a detector over the configured metric
// thresholds; with no patterns it never fires.
func NewMetricsDetector(patterns []config.MetricPattern) Detector {
	return metricsDetector{patterns: patterns}
}

func (metricsDetector) Name() string { return "metrics" }

func (d metricsDetector) Examine(snap models.StatusSnapshot) (Detection, bool) {
	for _, p := range d.patterns {
		for name, value := range snap.Metrics {
			if strings.Contains(strings.ToLower(name), strings.ToLower(p.Name)) && value >= p.Threshold {
				return Detection{
					At:     snap.Timestamp,
					Source: models.SourceMetrics,
					Reason: name,
				}, true
			}
		}
	}
	return Detection{}, false
}

// logsDetector fires when the log source surfaced any matched line. The
// keyword filtering already happened at the source; a non-empty hit list is
// the evidence.
type logsDetector struct{}

// NewLogsDetector returns the log-evidence detector.
func NewLogsDetector() Detector { return logsDetector{} }

func (logsDetector) Name() string { return "logs" }

func (logsDetector) Examine(snap models.StatusSnapshot) (Detection, bool) {
	if len(snap.LogHits) > 0 {
		return Detection{
			At:     snap.Timestamp,
			Source: models.SourceLogs,
			Reason: snap.LogHits[0],
		}, true
	}
	return Detection{}, false
}
