package orchestrator

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/teracloudstack/failover-tester/internal/config"
	"github.com/teracloudstack/failover-tester/internal/faults"
	"github.com/teracloudstack/failover-tester/internal/models"
	"github.com/teracloudstack/failover-tester/internal/streams"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testConfig() *config.Config {
	return &config.Config{
		Datacenters: config.DatacentersConfig{
			Primary:   config.DatacenterConfig{APIURL: "http://dc1", InstanceID: "i1", JobID: "j1"},
			Secondary: config.DatacenterConfig{APIURL: "http://dc2", InstanceID: "i2", JobID: "j1"},
		},
		Monitoring: config.MonitoringConfig{SafetyFactor: 2},
		Thresholds: config.ThresholdsConfig{RTOSeconds: 60, RPOLossPercent: 0},
	}
}

func testScenario() *config.Scenario {
	return &config.Scenario{
		ID:                   "scn-1",
		FaultType:            "api_stop_job",
		ExpectedRecoveryTime: 30 * time.Second,
		EventCount:           100,
	}
}

type fakeMonitor struct {
	verdict models.FailoverVerdict
	err     error
	budget  time.Duration
}

func (f *fakeMonitor) Monitor(_ context.Context, timeout time.Duration) (models.FailoverVerdict, error) {
	f.budget = timeout
	return f.verdict, f.err
}

type fakeCoordinator struct {
	handle     *faults.Handle
	applyErr   error
	cleanupErr error
	cleanups   int
}

func (f *fakeCoordinator) Apply(context.Context, faults.Spec) (*faults.Handle, error) {
	if f.applyErr != nil {
		return nil, f.applyErr
	}
	return f.handle, nil
}

func (f *fakeCoordinator) Cleanup(context.Context, *faults.Handle) error {
	f.cleanups++
	return f.cleanupErr
}

type fakeDataInjector struct {
	err error
}

func (f *fakeDataInjector) Inject(_ context.Context, _, _ string, events []streams.Event) ([]string, error) {
	if f.err != nil {
		return nil, f.err
	}
	ids := make([]string, len(events))
	for i, ev := range events {
		ids[i] = ev.ID
	}
	return ids, nil
}

type fakeJobAPI struct {
	instanceErr error
	job         streams.Job
	jobErr      error
	events      []string
	retrieveErr error
	// retrieveHook, when set, supplies the event IDs at call time so a test
	// can answer with what the run actually injected.
	retrieveHook func() []string
}

func (f *fakeJobAPI) GetInstance(_ context.Context, instanceID string) (streams.Instance, error) {
	if f.instanceErr != nil {
		return streams.Instance{}, f.instanceErr
	}
	return streams.Instance{ID: instanceID, Status: "running"}, nil
}

func (f *fakeJobAPI) GetJob(context.Context, string, string) (streams.Job, error) {
	return f.job, f.jobErr
}

func (f *fakeJobAPI) RetrieveEvents(context.Context, string, string) ([]string, error) {
	if f.retrieveErr != nil {
		return nil, f.retrieveErr
	}
	if f.retrieveHook != nil {
		return f.retrieveHook(), nil
	}
	return f.events, nil
}

func healthyRunOptions(mon *fakeMonitor, coord *fakeCoordinator) (Options, *fakeJobAPI) {
	secondary := &fakeJobAPI{job: streams.Job{ID: "j1", State: "running", Health: "healthy"}}
	return Options{
		Config:      testConfig(),
		Scenario:    testScenario(),
		Monitor:     mon,
		Coordinator: coord,
		Injector:    &fakeDataInjector{},
		Primary:     &fakeJobAPI{job: streams.Job{ID: "j1", State: "running", Health: "healthy"}},
		Secondary:   secondary,
		Logger:      testLogger(),
	}, secondary
}

func verifiedHandle() *faults.Handle {
	return &faults.Handle{
		Type:         faults.APIStopJob,
		AppliedAt:    time.Now().UTC(),
		Verification: faults.Verified,
		CleanupToken: "token-1",
	}
}

func TestRunPassesOnCleanFailover(t *testing.T) {
	handle := verifiedHandle()
	mon := &fakeMonitor{verdict: models.FailoverVerdict{
		FailoverDetected: true,
		DetectedAt:       handle.AppliedAt.Add(12 * time.Second),
		Source:           models.SourceStatus,
	}}
	coord := &fakeCoordinator{handle: handle}
	opts, secondary := healthyRunOptions(mon, coord)

	orch := New(opts)
	result, err := runWithMirroredEvents(orch, secondary)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.Passed {
		t.Fatalf("run failed: %v", result.FailureReasons)
	}
	if !result.FailoverDetected || !result.FaultVerified {
		t.Errorf("detected=%v verified=%v, want both true", result.FailoverDetected, result.FaultVerified)
	}
	if result.RecoveryTimeSeconds < 11.9 || result.RecoveryTimeSeconds > 12.1 {
		t.Errorf("recovery = %fs, want ~12s", result.RecoveryTimeSeconds)
	}
	if mon.budget != 60*time.Second {
		t.Errorf("monitoring budget = %s, want 60s (expected recovery x safety factor)", mon.budget)
	}
	if coord.cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", coord.cleanups)
	}
	wantPhases := []models.Phase{
		models.PhaseSetup,
		models.PhaseDataInjection,
		models.PhaseFaultInjection,
		models.PhaseMonitoring,
		models.PhasePostFailover,
		models.PhaseDataValidation,
		models.PhaseCleanup,
	}
	if len(result.Phases) != len(wantPhases) {
		t.Fatalf("recorded %d phases, want %d", len(result.Phases), len(wantPhases))
	}
	for i, want := range wantPhases {
		if result.Phases[i].Phase != want {
			t.Errorf("phase %d = %s, want %s", i, result.Phases[i].Phase, want)
		}
	}
}

// runWithMirroredEvents runs the orchestrator once with the secondary fake
// answering retrieval with exactly the IDs the run injected, so data
// validation sees zero loss.
func runWithMirroredEvents(orch *Orchestrator, secondary *fakeJobAPI) (*models.RunResult, error) {
	secondary.retrieveHook = func() []string {
		return orch.injectedIDs
	}
	return orch.Run(context.Background())
}

func TestRunFailsWhenFailoverNotDetected(t *testing.T) {
	handle := verifiedHandle()
	mon := &fakeMonitor{verdict: models.FailoverVerdict{FailoverDetected: false}}
	coord := &fakeCoordinator{handle: handle}
	opts, secondary := healthyRunOptions(mon, coord)

	orch := New(opts)
	result, err := runWithMirroredEvents(orch, secondary)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Passed {
		t.Fatal("run must fail without a detection")
	}
	if result.RecoveryTimeSeconds != 0 {
		t.Errorf("recovery time must stay unset, got %f", result.RecoveryTimeSeconds)
	}
	for _, p := range result.Phases {
		if p.Phase == models.PhaseMonitoring && p.Outcome != models.OutcomePhaseFailure {
			t.Errorf("monitoring outcome = %s, want failure", p.Outcome)
		}
	}
	// Validation and cleanup still run after a detection timeout.
	if coord.cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", coord.cleanups)
	}
	if result.Comparison.InjectedCount == 0 {
		t.Error("data validation must still run")
	}
}

func TestRunFailsOnUnverifiedFault(t *testing.T) {
	handle := verifiedHandle()
	handle.Verification = faults.Unverified
	mon := &fakeMonitor{verdict: models.FailoverVerdict{
		FailoverDetected: true,
		DetectedAt:       handle.AppliedAt.Add(5 * time.Second),
		Source:           models.SourceStatus,
	}}
	coord := &fakeCoordinator{handle: handle}
	opts, secondary := healthyRunOptions(mon, coord)

	orch := New(opts)
	result, err := runWithMirroredEvents(orch, secondary)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Passed {
		t.Fatal("an unverified fault must fail the run")
	}
	if result.FaultVerified {
		t.Error("FaultVerified must be false")
	}
	// The run goes straight to cleanup: no point measuring recovery from a
	// fault that may never have landed, but the handle must still be undone.
	if result.FailoverDetected {
		t.Error("monitoring must not run after an unverified fault")
	}
	if coord.cleanups != 1 {
		t.Errorf("cleanup ran %d times, want 1", coord.cleanups)
	}
	wantPhases := []models.Phase{
		models.PhaseSetup,
		models.PhaseDataInjection,
		models.PhaseFaultInjection,
		models.PhaseCleanup,
	}
	if len(result.Phases) != len(wantPhases) {
		t.Fatalf("recorded %d phases, want %d", len(result.Phases), len(wantPhases))
	}
}

func TestRunSkipsEverythingAfterSetupFailure(t *testing.T) {
	mon := &fakeMonitor{}
	coord := &fakeCoordinator{handle: verifiedHandle()}
	opts, _ := healthyRunOptions(mon, coord)
	opts.Primary = &fakeJobAPI{instanceErr: errors.New("connection refused")}

	result, err := New(opts).Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Passed {
		t.Fatal("run must fail when setup fails")
	}
	if coord.cleanups != 0 {
		t.Error("cleanup must not run when no fault was applied")
	}
	last := result.Phases[len(result.Phases)-1]
	if last.Phase != models.PhaseCleanup || last.Outcome != models.OutcomePhaseSkipped {
		t.Errorf("final phase = %s/%s, want cleanup/skipped", last.Phase, last.Outcome)
	}
}

func TestRunSkipCleanupFlag(t *testing.T) {
	handle := verifiedHandle()
	mon := &fakeMonitor{verdict: models.FailoverVerdict{
		FailoverDetected: true,
		DetectedAt:       handle.AppliedAt.Add(5 * time.Second),
	}}
	coord := &fakeCoordinator{handle: handle}
	opts, secondary := healthyRunOptions(mon, coord)
	opts.SkipCleanup = true

	orch := New(opts)
	result, err := runWithMirroredEvents(orch, secondary)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if coord.cleanups != 0 {
		t.Error("cleanup must not run with SkipCleanup set")
	}
	last := result.Phases[len(result.Phases)-1]
	if last.Outcome != models.OutcomePhaseSkipped {
		t.Errorf("cleanup outcome = %s, want skipped", last.Outcome)
	}
}

func TestRunRecordsResidualFaultWarning(t *testing.T) {
	handle := verifiedHandle()
	mon := &fakeMonitor{verdict: models.FailoverVerdict{
		FailoverDetected: true,
		DetectedAt:       handle.AppliedAt.Add(5 * time.Second),
	}}
	coord := &fakeCoordinator{
		handle:     handle,
		cleanupErr: &faults.CleanupError{Token: "token-1", Attempts: 3, Err: errors.New("busy")},
	}
	opts, secondary := healthyRunOptions(mon, coord)

	orch := New(opts)
	result, err := runWithMirroredEvents(orch, secondary)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if !result.Passed {
		t.Fatalf("a residual fault must not fail an otherwise passing run: %v", result.FailureReasons)
	}
	if result.ResidualFaultWarning == "" {
		t.Error("residual fault warning must be recorded")
	}
	last := result.Phases[len(result.Phases)-1]
	if last.Phase != models.PhaseCleanup || last.Outcome != models.OutcomePhaseFailure {
		t.Errorf("final phase = %s/%s, want cleanup/failure", last.Phase, last.Outcome)
	}
}

func TestRunFailsWhenLossExceedsRPO(t *testing.T) {
	handle := verifiedHandle()
	mon := &fakeMonitor{verdict: models.FailoverVerdict{
		FailoverDetected: true,
		DetectedAt:       handle.AppliedAt.Add(5 * time.Second),
	}}
	coord := &fakeCoordinator{handle: handle}
	opts, secondary := healthyRunOptions(mon, coord)
	// The secondary returns one event short of what was injected.
	orch := New(opts)
	secondary.retrieveHook = func() []string {
		ids := orch.injectedIDs
		if len(ids) > 0 {
			return ids[:len(ids)-1]
		}
		return ids
	}

	result, err := orch.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Passed {
		t.Fatal("loss above the RPO objective must fail the run")
	}
	if len(result.Comparison.MissingIDs) != 1 {
		t.Errorf("missing = %d, want 1", len(result.Comparison.MissingIDs))
	}
}

func TestRunFailsWhenRecoveryExceedsRTO(t *testing.T) {
	handle := verifiedHandle()
	mon := &fakeMonitor{verdict: models.FailoverVerdict{
		FailoverDetected: true,
		DetectedAt:       handle.AppliedAt.Add(90 * time.Second),
	}}
	coord := &fakeCoordinator{handle: handle}
	opts, secondary := healthyRunOptions(mon, coord)

	orch := New(opts)
	result, err := runWithMirroredEvents(orch, secondary)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if result.Passed {
		t.Fatal("recovery above the RTO objective must fail the run")
	}
	if !result.FailoverDetected {
		t.Error("the run still detected the failover")
	}
}

func TestRunIsSingleUse(t *testing.T) {
	mon := &fakeMonitor{}
	coord := &fakeCoordinator{handle: verifiedHandle()}
	opts, _ := healthyRunOptions(mon, coord)

	orch := New(opts)
	if _, err := orch.Run(context.Background()); err != nil {
		t.Fatalf("first Run: %v", err)
	}
	if _, err := orch.Run(context.Background()); err == nil {
		t.Fatal("second Run on the same orchestrator must error")
	}
}
