package models

import "time"

// Phase names of one test run, in execution order.
type Phase string

const (
	PhaseSetup          Phase = "setup"
	PhaseDataInjection  Phase = "data_injection"
	PhaseFaultInjection Phase = "fault_injection"
	PhaseMonitoring     Phase = "failover_monitoring"
	PhasePostFailover   Phase = "post_failover_validation"
	PhaseDataValidation Phase = "data_validation"
	PhaseCleanup        Phase = "cleanup"
)

// PhaseOutcome classifies how a phase ended.
type PhaseOutcome string

const (
	OutcomePhaseSuccess PhaseOutcome = "success"
	OutcomePhaseFailure PhaseOutcome = "failure"
	OutcomePhaseSkipped PhaseOutcome = "skipped"
)

// PhaseRecord is one entry of the run's audit trail. Immutable after
// EndTime is set.
type PhaseRecord struct {
	Phase       Phase        `json:"phase"`
	StartTime   time.Time    `json:"start_time"`
	EndTime     time.Time    `json:"end_time"`
	Outcome     PhaseOutcome `json:"outcome"`
	ErrorDetail string       `json:"error_detail,omitempty"`
}

// ComparisonResult captures dataset reconciliation output. Recomputed whole
// on each validation, never partially updated.
type ComparisonResult struct {
	InjectedCount  int      `json:"injected_count"`
	RetrievedCount int      `json:"retrieved_count"`
	MissingIDs     []string `json:"missing_ids,omitempty"`
	DuplicateIDs   []string `json:"duplicate_ids,omitempty"`
	LossPercentage float64  `json:"loss_percentage"`
}

// RunResult aggregates everything one test run produced. It is the sole
// artifact handed to the reporting side and is immutable once the
// orchestrator reaches its terminal phase.
type RunResult struct {
	RunID               string           `json:"run_id"`
	ScenarioID          string           `json:"scenario_id"`
	Passed              bool             `json:"passed"`
	FailureReasons      []string         `json:"failure_reasons,omitempty"`
	StartTime           time.Time        `json:"start_time"`
	EndTime             time.Time        `json:"end_time"`
	FaultAppliedAt      time.Time        `json:"fault_applied_at,omitempty"`
	FaultVerified       bool             `json:"fault_verified"`
	Verdict             FailoverVerdict  `json:"-"`
	FailoverDetected    bool             `json:"failover_detected"`
	RecoveryTimeSeconds float64          `json:"recovery_time_seconds,omitempty"`
	Comparison          ComparisonResult `json:"comparison"`
	Phases              []PhaseRecord    `json:"phases"`
	// ResidualFaultWarning is set when fault cleanup exhausted its
	// retries and an operator must intervene manually.
	ResidualFaultWarning string `json:"residual_fault_warning,omitempty"`
}
