package faults

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teracloudstack/failover-tester/internal/streams"
)

// APIInjector drives faults through the Streams management API instead of
// the host layer: stopping or cancelling the job under test.
type APIInjector struct {
	client *streams.Client
	logger *slog.Logger
}

func NewAPIInjector(client *streams.Client, logger *slog.Logger) *APIInjector {
	return &APIInjector{client: client, logger: logger}
}

func (a *APIInjector) Supports(t Type) bool {
	return t == APIStopJob || t == APICancelJob
}

func (a *APIInjector) Apply(ctx context.Context, spec Spec) (AppliedFault, error) {
	if spec.InstanceID == "" || spec.JobID == "" {
		return nil, fmt.Errorf("instance and job IDs are required for API faults")
	}
	var err error
	switch spec.Type {
	case APIStopJob:
		err = a.client.StopJob(ctx, spec.InstanceID, spec.JobID)
	case APICancelJob:
		err = a.client.CancelJob(ctx, spec.InstanceID, spec.JobID)
	default:
		return nil, fmt.Errorf("unsupported API fault %s", spec.Type)
	}
	if err != nil {
		return nil, err
	}
	return &apiFault{
		client:     a.client,
		logger:     a.logger,
		faultType:  spec.Type,
		instanceID: spec.InstanceID,
		jobID:      spec.JobID,
	}, nil
}

type apiFault struct {
	client     *streams.Client
	logger     *slog.Logger
	faultType  Type
	instanceID string
	jobID      string
}

func (f *apiFault) Describe() string {
	return fmt.Sprintf("%s for job %s on instance %s", f.faultType, f.jobID, f.instanceID)
}

// Verify checks that the job actually left the running state.
func (f *apiFault) Verify(ctx context.Context) (bool, error) {
	job, err := f.client.GetJob(ctx, f.instanceID, f.jobID)
	if err != nil {
		// A cancelled job may disappear from the API entirely.
		if f.faultType == APICancelJob {
			return true, nil
		}
		return false, err
	}
	return !strings.EqualFold(job.State, "running"), nil
}

// Remove cannot restore a stopped or cancelled job; recovery happens through
// the platform's own failover machinery or operator action. It only logs so
// cleanup of a mixed fault set is not derailed.
func (f *apiFault) Remove(_ context.Context) error {
	f.logger.Warn("API fault requires platform-side recovery, nothing to undo",
		"fault_type", f.faultType,
		"job_id", f.jobID,
		"instance_id", f.instanceID)
	return nil
}
