package faults

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/teracloudstack/failover-tester/internal/sshexec"
)

// NetworkInjector manipulates connectivity on remote hosts via tc and
// iptables over SSH.
type NetworkInjector struct {
	runner sshexec.Runner
	logger *slog.Logger
}

func NewNetworkInjector(runner sshexec.Runner, logger *slog.Logger) *NetworkInjector {
	return &NetworkInjector{runner: runner, logger: logger}
}

func (n *NetworkInjector) Supports(t Type) bool {
	switch t {
	case NetworkPartition, NetworkLatency, NetworkPacketLoss, NetworkBandwidth:
		return true
	}
	return false
}

func (n *NetworkInjector) Apply(ctx context.Context, spec Spec) (AppliedFault, error) {
	if spec.Host == "" {
		return nil, fmt.Errorf("host is required for network faults")
	}
	switch spec.Type {
	case NetworkPartition:
		return n.applyPartition(ctx, spec)
	case NetworkLatency:
		return n.applyQdisc(ctx, spec, fmt.Sprintf("netem delay %dms", spec.LatencyMs),
			fmt.Sprintf("latency %dms on %s (%s)", spec.LatencyMs, spec.Host, spec.Interface))
	case NetworkPacketLoss:
		return n.applyQdisc(ctx, spec, fmt.Sprintf("netem loss %g%%", spec.PacketLossPercent),
			fmt.Sprintf("packet loss %g%% on %s (%s)", spec.PacketLossPercent, spec.Host, spec.Interface))
	case NetworkBandwidth:
		return n.applyBandwidth(ctx, spec)
	}
	return nil, fmt.Errorf("unsupported network fault %s", spec.Type)
}

func (n *NetworkInjector) applyPartition(ctx context.Context, spec Spec) (AppliedFault, error) {
	if spec.TargetNetwork == "" {
		return nil, fmt.Errorf("target network is required for a partition")
	}
	cmd := fmt.Sprintf("sudo iptables -A INPUT -s %s -j DROP && sudo iptables -A OUTPUT -d %s -j DROP",
		spec.TargetNetwork, spec.TargetNetwork)
	res, err := n.runner.Run(ctx, spec.Host, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		// The INPUT rule may have landed before the OUTPUT rule failed.
		undo := fmt.Sprintf("sudo iptables -D INPUT -s %s -j DROP", spec.TargetNetwork)
		if _, uerr := n.runner.Run(ctx, spec.Host, undo); uerr != nil {
			n.logger.Warn("could not undo partial partition", "host", spec.Host, "error", uerr)
		}
		return nil, fmt.Errorf("iptables rules not installed: %s", strings.TrimSpace(res.Stderr))
	}
	return &partitionFault{
		runner:        n.runner,
		host:          spec.Host,
		targetNetwork: spec.TargetNetwork,
	}, nil
}

func (n *NetworkInjector) applyQdisc(ctx context.Context, spec Spec, netem, desc string) (AppliedFault, error) {
	if spec.Interface == "" {
		return nil, fmt.Errorf("interface is required for tc faults")
	}
	if err := n.checkTC(ctx, spec.Host); err != nil {
		return nil, err
	}
	// A leftover root qdisc makes the add fail, so clear it first. The del
	// exits non-zero when nothing is installed, which is fine.
	clear := fmt.Sprintf("sudo tc qdisc del dev %s root", spec.Interface)
	if _, err := n.runner.Run(ctx, spec.Host, clear); err != nil {
		return nil, err
	}
	add := fmt.Sprintf("sudo tc qdisc add dev %s root %s", spec.Interface, netem)
	res, err := n.runner.Run(ctx, spec.Host, add)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("tc qdisc add failed: %s", strings.TrimSpace(res.Stderr))
	}
	return &qdiscFault{
		runner: n.runner,
		host:   spec.Host,
		iface:  spec.Interface,
		desc:   desc,
	}, nil
}

func (n *NetworkInjector) applyBandwidth(ctx context.Context, spec Spec) (AppliedFault, error) {
	if spec.Interface == "" {
		return nil, fmt.Errorf("interface is required for tc faults")
	}
	if spec.BandwidthLimitKbps <= 0 {
		return nil, fmt.Errorf("bandwidth limit must be positive")
	}
	if err := n.checkTC(ctx, spec.Host); err != nil {
		return nil, err
	}
	clear := fmt.Sprintf("sudo tc qdisc del dev %s root", spec.Interface)
	if _, err := n.runner.Run(ctx, spec.Host, clear); err != nil {
		return nil, err
	}
	cmd := fmt.Sprintf(
		"sudo tc qdisc add dev %s root handle 1: htb default 10 && "+
			"sudo tc class add dev %s parent 1: classid 1:10 htb rate %dkbit",
		spec.Interface, spec.Interface, spec.BandwidthLimitKbps)
	res, err := n.runner.Run(ctx, spec.Host, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		// The root qdisc may have landed before the class add failed.
		if _, uerr := n.runner.Run(ctx, spec.Host, clear); uerr != nil {
			n.logger.Warn("could not undo partial htb setup", "host", spec.Host, "error", uerr)
		}
		return nil, fmt.Errorf("tc htb setup failed: %s", strings.TrimSpace(res.Stderr))
	}
	return &qdiscFault{
		runner: n.runner,
		host:   spec.Host,
		iface:  spec.Interface,
		desc:   fmt.Sprintf("bandwidth %dkbit on %s (%s)", spec.BandwidthLimitKbps, spec.Host, spec.Interface),
	}, nil
}

func (n *NetworkInjector) checkTC(ctx context.Context, host string) error {
	res, err := n.runner.Run(ctx, host, "which tc")
	if err != nil {
		return err
	}
	if res.ExitCode != 0 {
		return fmt.Errorf("tc not available on %s", host)
	}
	return nil
}

// partitionFault is a pair of iptables DROP rules.
type partitionFault struct {
	runner        sshexec.Runner
	host          string
	targetNetwork string
}

func (f *partitionFault) Describe() string {
	return fmt.Sprintf("partition of %s on %s", f.targetNetwork, f.host)
}

func (f *partitionFault) Verify(ctx context.Context) (bool, error) {
	res, err := f.runner.Run(ctx, f.host, "sudo iptables -L -n")
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("iptables -L failed: %s", strings.TrimSpace(res.Stderr))
	}
	return strings.Contains(res.Stdout, "DROP"), nil
}

func (f *partitionFault) Remove(ctx context.Context) error {
	cmd := fmt.Sprintf("sudo iptables -D INPUT -s %s -j DROP; sudo iptables -D OUTPUT -d %s -j DROP",
		f.targetNetwork, f.targetNetwork)
	res, err := f.runner.Run(ctx, f.host, cmd)
	if err != nil {
		return err
	}
	// A missing rule means somebody already removed it, which is the state
	// we want anyway.
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "does a matching rule exist") &&
		!strings.Contains(res.Stderr, "No chain/target/match") {
		return fmt.Errorf("iptables rule removal failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}

// qdiscFault is a tc root qdisc (netem or htb) on one interface.
type qdiscFault struct {
	runner sshexec.Runner
	host   string
	iface  string
	desc   string
}

func (f *qdiscFault) Describe() string { return f.desc }

func (f *qdiscFault) Verify(ctx context.Context) (bool, error) {
	res, err := f.runner.Run(ctx, f.host, fmt.Sprintf("sudo tc qdisc show dev %s", f.iface))
	if err != nil {
		return false, err
	}
	if res.ExitCode != 0 {
		return false, fmt.Errorf("tc qdisc show failed: %s", strings.TrimSpace(res.Stderr))
	}
	return strings.Contains(res.Stdout, "netem") || strings.Contains(res.Stdout, "htb"), nil
}

func (f *qdiscFault) Remove(ctx context.Context) error {
	res, err := f.runner.Run(ctx, f.host, fmt.Sprintf("sudo tc qdisc del dev %s root", f.iface))
	if err != nil {
		return err
	}
	if res.ExitCode != 0 && !strings.Contains(res.Stderr, "Cannot delete qdisc with handle of zero") &&
		!strings.Contains(res.Stderr, "No such file or directory") {
		return fmt.Errorf("tc qdisc del failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}
