package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/teracloudstack/failover-tester/internal/config"
	"github.com/teracloudstack/failover-tester/internal/dataset"
	"github.com/teracloudstack/failover-tester/internal/faults"
	"github.com/teracloudstack/failover-tester/internal/metrics"
	"github.com/teracloudstack/failover-tester/internal/models"
	"github.com/teracloudstack/failover-tester/internal/streams"
)

// Monitor watches the deployment until failover is detected or the budget
// runs out.
type Monitor interface {
	Monitor(ctx context.Context, timeout time.Duration) (models.FailoverVerdict, error)
}

// FaultCoordinator applies and cleans up faults.
type FaultCoordinator interface {
	Apply(ctx context.Context, spec faults.Spec) (*faults.Handle, error)
	Cleanup(ctx context.Context, handle *faults.Handle) error
}

// DataInjector pushes the test dataset into the primary job.
type DataInjector interface {
	Inject(ctx context.Context, instanceID, jobID string, events []streams.Event) ([]string, error)
}

// JobAPI is the slice of the Streams management client the orchestrator
// needs for setup checks and post-failover validation.
type JobAPI interface {
	GetInstance(ctx context.Context, instanceID string) (streams.Instance, error)
	GetJob(ctx context.Context, instanceID, jobID string) (streams.Job, error)
	RetrieveEvents(ctx context.Context, instanceID, jobID string) ([]string, error)
}

// Options collects the orchestrator's collaborators and run flags.
type Options struct {
	Config      *config.Config
	Scenario    *config.Scenario
	Monitor     Monitor
	Coordinator FaultCoordinator
	Injector    DataInjector
	Primary     JobAPI
	Secondary   JobAPI
	SkipCleanup bool
	Logger      *slog.Logger
}

// Orchestrator drives one scenario through its phases in strict order:
// setup, data injection, fault injection, failover monitoring, post-failover
// validation, data validation, cleanup. A phase failure after the fault is
// applied never skips cleanup.
type Orchestrator struct {
	opts   Options
	logger *slog.Logger

	result      *models.RunResult
	injectedIDs []string
	handle      *faults.Handle
}

func New(opts Options) *Orchestrator {
	return &Orchestrator{
		opts:   opts,
		logger: opts.Logger,
	}
}

// Run executes the scenario end to end and always returns a result, even
// when phases fail. The error is non-nil only for pre-run misuse.
func (o *Orchestrator) Run(ctx context.Context) (*models.RunResult, error) {
	if o.opts.Config == nil || o.opts.Scenario == nil {
		return nil, fmt.Errorf("orchestrator requires a config and a scenario")
	}
	if o.result != nil {
		return nil, fmt.Errorf("orchestrator instances are single-use")
	}

	o.result = &models.RunResult{
		RunID:      uuid.NewString(),
		ScenarioID: o.opts.Scenario.ID,
		StartTime:  time.Now().UTC(),
	}
	o.logger.Info("starting failover test run",
		"run_id", o.result.RunID,
		"scenario_id", o.opts.Scenario.ID,
		"fault_type", o.opts.Scenario.FaultType)

	proceed := o.runPhase(ctx, models.PhaseSetup, o.setup)
	if proceed {
		proceed = o.runPhase(ctx, models.PhaseDataInjection, o.injectData)
	}
	faultApplied := false
	if proceed {
		// Once injection starts the run owns a live fault, so this phase
		// must finish even if the caller is already cancelling.
		faultCtx := context.WithoutCancel(ctx)
		proceed = o.runPhase(faultCtx, models.PhaseFaultInjection, o.injectFault)
		faultApplied = o.handle != nil
	}
	if proceed {
		// A monitoring timeout fails the phase but not the run flow: the
		// comparison and validation results still belong in the report.
		o.runPhase(ctx, models.PhaseMonitoring, o.monitorFailover)
		o.runPhase(ctx, models.PhasePostFailover, o.validateSecondary)
		o.runPhase(ctx, models.PhaseDataValidation, o.validateData)
	}

	switch {
	case o.opts.SkipCleanup:
		o.logger.Warn("skipping cleanup as requested, faults may still be active")
		o.recordSkipped(models.PhaseCleanup)
	case !faultApplied:
		o.recordSkipped(models.PhaseCleanup)
	default:
		// Record the cleanup outcome but keep it out of the pass criteria:
		// exhausted retries become a residual-fault warning instead.
		_ = o.recordPhase(context.WithoutCancel(ctx), models.PhaseCleanup, o.cleanup)
	}

	o.result.EndTime = time.Now().UTC()
	o.result.Passed = len(o.result.FailureReasons) == 0
	o.logger.Info("failover test run finished",
		"run_id", o.result.RunID,
		"passed", o.result.Passed,
		"failure_reasons", strings.Join(o.result.FailureReasons, "; "),
		"duration", o.result.EndTime.Sub(o.result.StartTime))
	return o.result, nil
}

// runPhase times fn, records its outcome, appends a failure reason on error,
// and reports whether the run should proceed to the next phase.
func (o *Orchestrator) runPhase(ctx context.Context, phase models.Phase, fn func(ctx context.Context) error) bool {
	err := o.recordPhase(ctx, phase, fn)
	if err != nil {
		o.fail(fmt.Sprintf("phase %s: %v", phase, err))
	}
	return err == nil
}

// recordPhase times fn and writes its audit record without judging the run.
// Cleanup goes through here directly: a residual fault is reported for the
// operator, it does not turn a passing experiment into a failed one.
func (o *Orchestrator) recordPhase(ctx context.Context, phase models.Phase, fn func(ctx context.Context) error) error {
	o.logger.Info("starting phase", "phase", phase)
	record := models.PhaseRecord{
		Phase:     phase,
		StartTime: time.Now().UTC(),
		Outcome:   models.OutcomePhaseSuccess,
	}
	err := fn(ctx)
	record.EndTime = time.Now().UTC()
	if err != nil {
		record.Outcome = models.OutcomePhaseFailure
		record.ErrorDetail = err.Error()
		o.logger.Error("phase failed", "phase", phase, "error", err)
	}
	metrics.ObservePhase(string(phase), string(record.Outcome), record.EndTime.Sub(record.StartTime))
	o.result.Phases = append(o.result.Phases, record)
	return err
}

func (o *Orchestrator) recordSkipped(phase models.Phase) {
	now := time.Now().UTC()
	o.result.Phases = append(o.result.Phases, models.PhaseRecord{
		Phase:     phase,
		StartTime: now,
		EndTime:   now,
		Outcome:   models.OutcomePhaseSkipped,
	})
}

func (o *Orchestrator) fail(reason string) {
	o.result.FailureReasons = append(o.result.FailureReasons, reason)
}

// setup confirms both datacenters are reachable and the primary job is
// running before anything destructive happens.
func (o *Orchestrator) setup(ctx context.Context) error {
	dcs := o.opts.Config.Datacenters
	if _, err := o.opts.Primary.GetInstance(ctx, dcs.Primary.InstanceID); err != nil {
		return fmt.Errorf("primary datacenter unreachable: %w", err)
	}
	job, err := o.opts.Primary.GetJob(ctx, dcs.Primary.InstanceID, dcs.Primary.JobID)
	if err != nil {
		return fmt.Errorf("primary job lookup: %w", err)
	}
	if !strings.EqualFold(job.State, "running") {
		return fmt.Errorf("primary job %s is %s, expected running", dcs.Primary.JobID, job.State)
	}
	if _, err := o.opts.Secondary.GetInstance(ctx, dcs.Secondary.InstanceID); err != nil {
		return fmt.Errorf("secondary datacenter unreachable: %w", err)
	}
	return nil
}

func (o *Orchestrator) injectData(ctx context.Context) error {
	dc := o.opts.Config.Datacenters.Primary
	events := dataset.GenerateEvents(o.result.RunID, o.opts.Scenario.EventCount)

	injectCtx := ctx
	if timeout := o.opts.Config.Data.Timeout; timeout > 0 {
		var cancel context.CancelFunc
		injectCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	ids, err := o.opts.Injector.Inject(injectCtx, dc.InstanceID, dc.JobID, events)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return fmt.Errorf("no events were accepted")
	}
	o.injectedIDs = ids
	return nil
}

func (o *Orchestrator) injectFault(ctx context.Context) error {
	dc := o.opts.Config.Datacenters.Primary
	spec := faults.SpecFromScenario(o.opts.Scenario, o.opts.Config.Faults.Network, dc.InstanceID, dc.JobID)
	handle, err := o.opts.Coordinator.Apply(ctx, spec)
	if err != nil {
		return err
	}
	o.handle = handle
	o.result.FaultAppliedAt = handle.AppliedAt
	o.result.FaultVerified = handle.IsVerified()
	if !handle.IsVerified() {
		return fmt.Errorf("fault %s applied but not verified", handle.Type)
	}
	return nil
}

func (o *Orchestrator) monitorFailover(ctx context.Context) error {
	budget := o.monitoringBudget()
	o.logger.Info("monitoring for failover", "budget", budget)
	verdict, err := o.opts.Monitor.Monitor(ctx, budget)
	o.result.Verdict = verdict
	o.result.FailoverDetected = verdict.FailoverDetected
	if err != nil {
		return err
	}
	if !verdict.FailoverDetected {
		return fmt.Errorf("failover not detected within %s", budget)
	}
	recovery := verdict.DetectedAt.Sub(o.result.FaultAppliedAt).Seconds()
	o.result.RecoveryTimeSeconds = recovery
	o.logger.Info("failover detected",
		"source", verdict.Source,
		"recovery_time_seconds", recovery)
	if objective := o.opts.Config.Thresholds.RTOSeconds; objective > 0 && recovery > objective {
		o.fail(fmt.Sprintf("recovery took %.1fs, RTO objective is %.1fs", recovery, objective))
	}
	return nil
}

func (o *Orchestrator) monitoringBudget() time.Duration {
	factor := o.opts.Config.Monitoring.SafetyFactor
	if factor < 1 {
		factor = 1
	}
	return time.Duration(float64(o.opts.Scenario.ExpectedRecoveryTime) * factor)
}

// validateSecondary confirms the secondary picked up the workload.
func (o *Orchestrator) validateSecondary(ctx context.Context) error {
	dc := o.opts.Config.Datacenters.Secondary
	job, err := o.opts.Secondary.GetJob(ctx, dc.InstanceID, dc.JobID)
	if err != nil {
		return fmt.Errorf("secondary job lookup: %w", err)
	}
	if !strings.EqualFold(job.State, "running") || !strings.EqualFold(job.Health, "healthy") {
		return fmt.Errorf("secondary job %s is %s/%s, expected running/healthy", dc.JobID, job.State, job.Health)
	}
	return nil
}

func (o *Orchestrator) validateData(ctx context.Context) error {
	dc := o.opts.Config.Datacenters.Secondary
	retrieved, err := o.opts.Secondary.RetrieveEvents(ctx, dc.InstanceID, dc.JobID)
	if err != nil {
		return fmt.Errorf("retrieve events: %w", err)
	}
	comparison := dataset.Compare(o.injectedIDs, retrieved)
	o.result.Comparison = comparison
	o.logger.Info("data validation complete",
		"injected", comparison.InjectedCount,
		"retrieved", comparison.RetrievedCount,
		"missing", len(comparison.MissingIDs),
		"duplicates", len(comparison.DuplicateIDs),
		"loss_percent", comparison.LossPercentage)
	if objective := o.opts.Config.Thresholds.RPOLossPercent; comparison.LossPercentage > objective {
		o.fail(fmt.Sprintf("data loss %.2f%% exceeds RPO objective %.2f%%",
			comparison.LossPercentage, objective))
	}
	return nil
}

func (o *Orchestrator) cleanup(ctx context.Context) error {
	if err := o.opts.Coordinator.Cleanup(ctx, o.handle); err != nil {
		o.result.ResidualFaultWarning = err.Error()
		return err
	}
	return nil
}
