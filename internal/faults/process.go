package faults

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/teracloudstack/failover-tester/internal/sshexec"
)

// ProcessInjector kills, suspends, or starves processes on remote hosts
// over SSH.
type ProcessInjector struct {
	runner sshexec.Runner
	logger *slog.Logger
}

func NewProcessInjector(runner sshexec.Runner, logger *slog.Logger) *ProcessInjector {
	return &ProcessInjector{runner: runner, logger: logger}
}

func (p *ProcessInjector) Supports(t Type) bool {
	switch t {
	case ProcessKill, ProcessHang, ResourceExhaustion:
		return true
	}
	return false
}

func (p *ProcessInjector) Apply(ctx context.Context, spec Spec) (AppliedFault, error) {
	if spec.Host == "" {
		return nil, fmt.Errorf("host is required for process faults")
	}
	switch spec.Type {
	case ProcessKill:
		return p.applyKill(ctx, spec)
	case ProcessHang:
		return p.applyHang(ctx, spec)
	case ResourceExhaustion:
		return p.applyExhaustion(ctx, spec)
	}
	return nil, fmt.Errorf("unsupported process fault %s", spec.Type)
}

func (p *ProcessInjector) applyKill(ctx context.Context, spec Spec) (AppliedFault, error) {
	pids, err := p.findPIDs(ctx, spec.Host, spec.ProcessName)
	if err != nil {
		return nil, err
	}
	killed := make([]int, 0, len(pids))
	for _, pid := range pids {
		res, rerr := p.runner.Run(ctx, spec.Host, fmt.Sprintf("sudo kill -9 %d", pid))
		if rerr != nil {
			return nil, rerr
		}
		if res.ExitCode != 0 {
			p.logger.Warn("failed to kill process", "host", spec.Host, "pid", pid, "stderr", res.Stderr)
			continue
		}
		killed = append(killed, pid)
	}
	if len(killed) == 0 {
		return nil, fmt.Errorf("no %q process could be killed on %s", spec.ProcessName, spec.Host)
	}
	return &killFault{
		runner:      p.runner,
		host:        spec.Host,
		processName: spec.ProcessName,
		pids:        killed,
	}, nil
}

func (p *ProcessInjector) applyHang(ctx context.Context, spec Spec) (AppliedFault, error) {
	pids, err := p.findPIDs(ctx, spec.Host, spec.ProcessName)
	if err != nil {
		return nil, err
	}
	stopped := make([]int, 0, len(pids))
	for _, pid := range pids {
		res, rerr := p.runner.Run(ctx, spec.Host, fmt.Sprintf("sudo kill -STOP %d", pid))
		if rerr != nil {
			return nil, rerr
		}
		if res.ExitCode != 0 {
			p.logger.Warn("failed to suspend process", "host", spec.Host, "pid", pid, "stderr", res.Stderr)
			continue
		}
		stopped = append(stopped, pid)
	}
	if len(stopped) == 0 {
		return nil, fmt.Errorf("no %q process could be suspended on %s", spec.ProcessName, spec.Host)
	}
	return &hangFault{
		runner:      p.runner,
		host:        spec.Host,
		processName: spec.ProcessName,
		pids:        stopped,
	}, nil
}

func (p *ProcessInjector) applyExhaustion(ctx context.Context, spec Spec) (AppliedFault, error) {
	res, err := p.runner.Run(ctx, spec.Host, "which stress-ng")
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("stress-ng not available on %s", spec.Host)
	}

	resource := spec.Resource
	if resource == "" {
		resource = "cpu"
	}
	var cmd string
	switch resource {
	case "cpu":
		cmd = "stress-ng --cpu 0 --timeout 600s &"
	case "memory":
		cmd = "stress-ng --vm 2 --vm-bytes 75% --timeout 600s &"
	case "disk":
		cmd = "stress-ng --io 4 --hdd 2 --timeout 600s &"
	default:
		return nil, fmt.Errorf("unsupported resource %q", resource)
	}
	res, err = p.runner.Run(ctx, spec.Host, cmd)
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("stress-ng failed to start: %s", strings.TrimSpace(res.Stderr))
	}
	return &exhaustionFault{
		runner:   p.runner,
		host:     spec.Host,
		resource: resource,
	}, nil
}

func (p *ProcessInjector) findPIDs(ctx context.Context, host, processName string) ([]int, error) {
	if processName == "" {
		return nil, fmt.Errorf("process name is required")
	}
	res, err := p.runner.Run(ctx, host, fmt.Sprintf("pgrep -f %q", processName))
	if err != nil {
		return nil, err
	}
	if res.ExitCode != 0 {
		return nil, fmt.Errorf("no process matching %q on %s", processName, host)
	}
	var pids []int
	for _, line := range strings.Fields(res.Stdout) {
		pid, perr := strconv.Atoi(line)
		if perr != nil {
			continue
		}
		pids = append(pids, pid)
	}
	if len(pids) == 0 {
		return nil, fmt.Errorf("no process matching %q on %s", processName, host)
	}
	return pids, nil
}

// killFault is a set of processes terminated with SIGKILL.
type killFault struct {
	runner      sshexec.Runner
	host        string
	processName string
	pids        []int
}

func (f *killFault) Describe() string {
	return fmt.Sprintf("killed %d %q process(es) on %s", len(f.pids), f.processName, f.host)
}

func (f *killFault) Verify(ctx context.Context) (bool, error) {
	for _, pid := range f.pids {
		res, err := f.runner.Run(ctx, f.host, fmt.Sprintf("kill -0 %d", pid))
		if err != nil {
			return false, err
		}
		if res.ExitCode == 0 {
			return false, nil
		}
	}
	return true, nil
}

// Remove is a no-op: a killed process comes back through the platform's own
// supervision, not through this tool.
func (f *killFault) Remove(_ context.Context) error { return nil }

// hangFault is a set of processes suspended with SIGSTOP.
type hangFault struct {
	runner      sshexec.Runner
	host        string
	processName string
	pids        []int
}

func (f *hangFault) Describe() string {
	return fmt.Sprintf("suspended %d %q process(es) on %s", len(f.pids), f.processName, f.host)
}

func (f *hangFault) Verify(ctx context.Context) (bool, error) {
	for _, pid := range f.pids {
		res, err := f.runner.Run(ctx, f.host, fmt.Sprintf("ps -o stat= -p %d", pid))
		if err != nil {
			return false, err
		}
		if res.ExitCode != 0 || !strings.HasPrefix(strings.TrimSpace(res.Stdout), "T") {
			return false, nil
		}
	}
	return true, nil
}

func (f *hangFault) Remove(ctx context.Context) error {
	var failed []int
	for _, pid := range f.pids {
		res, err := f.runner.Run(ctx, f.host, fmt.Sprintf("sudo kill -CONT %d", pid))
		if err != nil {
			return err
		}
		// Non-zero means the process is gone, which also counts as resumed.
		_ = res
		check, err := f.runner.Run(ctx, f.host, fmt.Sprintf("ps -o stat= -p %d", pid))
		if err != nil {
			return err
		}
		if check.ExitCode == 0 && strings.HasPrefix(strings.TrimSpace(check.Stdout), "T") {
			failed = append(failed, pid)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("processes still suspended on %s: %v", f.host, failed)
	}
	return nil
}

// exhaustionFault is a background stress-ng workload.
type exhaustionFault struct {
	runner   sshexec.Runner
	host     string
	resource string
}

func (f *exhaustionFault) Describe() string {
	return fmt.Sprintf("%s exhaustion on %s", f.resource, f.host)
}

func (f *exhaustionFault) Verify(ctx context.Context) (bool, error) {
	res, err := f.runner.Run(ctx, f.host, "pgrep stress-ng")
	if err != nil {
		return false, err
	}
	return res.ExitCode == 0, nil
}

func (f *exhaustionFault) Remove(ctx context.Context) error {
	res, err := f.runner.Run(ctx, f.host, "sudo pkill -9 stress-ng")
	if err != nil {
		return err
	}
	// Exit 1 means no process matched: already gone.
	if res.ExitCode > 1 {
		return fmt.Errorf("pkill stress-ng failed: %s", strings.TrimSpace(res.Stderr))
	}
	return nil
}
