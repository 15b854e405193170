package faults

import (
	"context"
	"fmt"
	"time"

	"github.com/teracloudstack/failover-tester/internal/config"
)

// Type names one supported fault variant.
type Type string

const (
	NetworkPartition   Type = "network_partition"
	NetworkLatency     Type = "network_latency"
	NetworkPacketLoss  Type = "network_packet_loss"
	NetworkBandwidth   Type = "network_bandwidth"
	ProcessKill        Type = "process_kill"
	ProcessHang        Type = "process_hang"
	ResourceExhaustion Type = "resource_exhaustion"
	APIStopJob         Type = "api_stop_job"
	APICancelJob       Type = "api_cancel_job"
)

// Spec describes the fault to inject and where.
type Spec struct {
	Type               Type
	Host               string
	TargetNetwork      string
	Interface          string
	ProcessName        string
	LatencyMs          int
	PacketLossPercent  float64
	BandwidthLimitKbps int
	Resource           string
	InstanceID         string
	JobID              string
}

// SpecFromScenario maps a loaded scenario onto a fault spec, filling gaps
// from the network defaults.
func SpecFromScenario(sc *config.Scenario, network config.NetworkConfig, instanceID, jobID string) Spec {
	spec := Spec{
		Type:               Type(sc.FaultType),
		Host:               sc.Target.Host,
		TargetNetwork:      sc.Target.Network,
		Interface:          sc.Target.Interface,
		ProcessName:        sc.Target.ProcessName,
		LatencyMs:          sc.LatencyMs,
		PacketLossPercent:  sc.PacketLossPercent,
		BandwidthLimitKbps: sc.BandwidthLimitKbps,
		Resource:           sc.Resource,
		InstanceID:         instanceID,
		JobID:              jobID,
	}
	if spec.TargetNetwork == "" {
		spec.TargetNetwork = network.PrimaryNetwork
	}
	if spec.Interface == "" && sc.Target.Host != "" {
		spec.Interface = network.Interfaces[sc.Target.Host]
	}
	return spec
}

// VerificationStatus records whether the independent post-apply check
// confirmed the fault took effect.
type VerificationStatus string

const (
	Verified   VerificationStatus = "verified"
	Unverified VerificationStatus = "unverified"
)

// Handle represents one applied fault. It is created by the coordinator on
// successful application, owned by a single orchestrator run, and
// invalidated when cleanup succeeds.
type Handle struct {
	Type         Type
	Target       string
	AppliedAt    time.Time
	Verification VerificationStatus
	CleanupToken string

	fault   AppliedFault
	cleaned bool
}

// IsVerified reports whether the independent verification passed.
func (h *Handle) IsVerified() bool {
	return h != nil && h.Verification == Verified
}

// AppliedFault is a live fault instance that knows how to check and undo
// itself. Remove must tolerate the underlying fault already being gone.
type AppliedFault interface {
	Describe() string
	Verify(ctx context.Context) (bool, error)
	Remove(ctx context.Context) error
}

// Injector creates faults of one family (network, process, API).
type Injector interface {
	Supports(t Type) bool
	Apply(ctx context.Context, spec Spec) (AppliedFault, error)
}

// ApplyError means the fault action itself could not be performed. It is
// fatal for the fault-injection phase.
type ApplyError struct {
	Type Type
	Err  error
}

func (e *ApplyError) Error() string {
	return fmt.Sprintf("apply fault %s: %v", e.Type, e.Err)
}

func (e *ApplyError) Unwrap() error { return e.Err }

// CleanupError means cleanup retries were exhausted and the fault may still
// be active. It is reported, never raised as fatal.
type CleanupError struct {
	Token    string
	Attempts int
	Err      error
}

func (e *CleanupError) Error() string {
	return fmt.Sprintf("cleanup of fault %s failed after %d attempts: %v", e.Token, e.Attempts, e.Err)
}

func (e *CleanupError) Unwrap() error { return e.Err }
