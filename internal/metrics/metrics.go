package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	// PollOutcomeClean labels polls where every signal source answered.
	PollOutcomeClean = "clean"
	// PollOutcomeDegraded labels polls where at least one source failed.
	PollOutcomeDegraded = "degraded"
)

var (
	pollsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "failover_tester",
			Name:      "polls_total",
			Help:      "Signal-source poll cycles, partitioned by outcome.",
		},
		[]string{"outcome"},
	)

	detectionSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "failover_tester",
			Name:      "detection_confirm_seconds",
			Help:      "Time from first failover signature to confirmed verdict.",
			Buckets:   []float64{1, 5, 10, 20, 30, 60, 120, 300, 600},
		},
		[]string{"source"},
	)

	phaseSeconds = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "failover_tester",
			Name:      "phase_seconds",
			Help:      "Duration of each orchestrator phase.",
			Buckets:   []float64{0.5, 1, 5, 15, 30, 60, 120, 300, 600, 1200},
		},
		[]string{"phase", "outcome"},
	)

	faultsAppliedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "failover_tester",
			Name:      "faults_applied_total",
			Help:      "Faults applied, partitioned by type and verification result.",
		},
		[]string{"fault_type", "verified"},
	)

	cleanupRetriesTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "failover_tester",
			Name:      "fault_cleanup_retries_total",
			Help:      "Fault cleanup attempts beyond the first.",
		},
	)

	residualFaultsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "failover_tester",
			Name:      "residual_faults_total",
			Help:      "Faults whose cleanup exhausted its retries.",
		},
	)
)

// Register attaches all collectors to the supplied Prometheus registerer.
func Register(reg prometheus.Registerer) error {
	collectors := []prometheus.Collector{
		pollsTotal,
		detectionSeconds,
		phaseSeconds,
		faultsAppliedTotal,
		cleanupRetriesTotal,
		residualFaultsTotal,
	}

	for _, collector := range collectors {
		if err := reg.Register(collector); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); ok {
				continue
			}
			return err
		}
	}
	return nil
}

// ObservePoll counts one poll cycle.
func ObservePoll(outcome string) {
	if outcome != PollOutcomeDegraded {
		outcome = PollOutcomeClean
	}
	pollsTotal.WithLabelValues(outcome).Inc()
}

// ObserveDetection records how long confirmation took after the first
// failover signature, labelled by the confirming source.
func ObserveDetection(confirmDelay time.Duration, source string) {
	if confirmDelay < 0 {
		confirmDelay = 0
	}
	detectionSeconds.WithLabelValues(source).Observe(confirmDelay.Seconds())
}

// ObservePhase records one phase execution.
func ObservePhase(phase string, outcome string, duration time.Duration) {
	if duration < 0 {
		duration = 0
	}
	phaseSeconds.WithLabelValues(phase, outcome).Observe(duration.Seconds())
}

// ObserveFaultApplied counts one fault application.
func ObserveFaultApplied(faultType string, verified bool) {
	label := "false"
	if verified {
		label = "true"
	}
	faultsAppliedTotal.WithLabelValues(faultType, label).Inc()
}

// ObserveCleanupRetry counts one cleanup retry.
func ObserveCleanupRetry() { cleanupRetriesTotal.Inc() }

// ObserveResidualFault counts one cleanup that gave up.
func ObserveResidualFault() { residualFaultsTotal.Inc() }
