package faults

import (
	"context"
	"strings"
	"testing"

	"github.com/teracloudstack/failover-tester/internal/sshexec"
)

func TestProcessKillLifecycle(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string]sshexec.Result{
			"pgrep -f": {ExitCode: 0, Stdout: "4242\n4243\n"},
			"kill -0":  {ExitCode: 1},
		},
	}
	inj := NewProcessInjector(runner, testLogger())

	fault, err := inj.Apply(context.Background(), Spec{
		Type:        ProcessKill,
		Host:        "dc1-node1",
		ProcessName: "streams-pe",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !runner.ran("kill -9 4242") || !runner.ran("kill -9 4243") {
		t.Error("both matched processes must be killed")
	}

	ok, err := fault.Verify(context.Background())
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}
	// A killed process has nothing to undo.
	if err := fault.Remove(context.Background()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}

func TestProcessKillRequiresMatch(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string]sshexec.Result{
			"pgrep -f": {ExitCode: 1},
		},
	}
	inj := NewProcessInjector(runner, testLogger())
	_, err := inj.Apply(context.Background(), Spec{
		Type:        ProcessKill,
		Host:        "dc1-node1",
		ProcessName: "ghost",
	})
	if err == nil || !strings.Contains(err.Error(), "no process matching") {
		t.Fatalf("expected a no-match error, got %v", err)
	}
}

func TestProcessHangSuspendsAndResumes(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string]sshexec.Result{
			"pgrep -f":   {ExitCode: 0, Stdout: "5000\n"},
			"ps -o stat": {ExitCode: 1},
		},
	}
	inj := NewProcessInjector(runner, testLogger())

	fault, err := inj.Apply(context.Background(), Spec{
		Type:        ProcessHang,
		Host:        "dc1-node1",
		ProcessName: "streams-pe",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !runner.ran("kill -STOP 5000") {
		t.Error("SIGSTOP was not sent")
	}

	if err := fault.Remove(context.Background()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !runner.ran("kill -CONT 5000") {
		t.Error("cleanup must send SIGCONT")
	}
}

func TestProcessHangVerifyChecksStoppedState(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string]sshexec.Result{
			"pgrep -f":   {ExitCode: 0, Stdout: "5000\n"},
			"ps -o stat": {ExitCode: 0, Stdout: "Tl\n"},
		},
	}
	inj := NewProcessInjector(runner, testLogger())

	fault, err := inj.Apply(context.Background(), Spec{
		Type:        ProcessHang,
		Host:        "dc1-node1",
		ProcessName: "streams-pe",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	ok, err := fault.Verify(context.Background())
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !ok {
		t.Error("a process in state T must verify as hung")
	}
}

func TestResourceExhaustionLifecycle(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string]sshexec.Result{
			"pgrep stress-ng": {ExitCode: 0, Stdout: "6100\n"},
		},
	}
	inj := NewProcessInjector(runner, testLogger())

	fault, err := inj.Apply(context.Background(), Spec{
		Type:     ResourceExhaustion,
		Host:     "dc1-node1",
		Resource: "memory",
	})
	if err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if !runner.ran("stress-ng --vm") {
		t.Error("memory stress workload was not started")
	}

	ok, err := fault.Verify(context.Background())
	if err != nil || !ok {
		t.Fatalf("Verify = %v, %v; want true, nil", ok, err)
	}
	if err := fault.Remove(context.Background()); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if !runner.ran("pkill -9 stress-ng") {
		t.Error("cleanup must kill the stress workload")
	}
}

func TestResourceExhaustionRequiresStressNG(t *testing.T) {
	runner := &fakeRunner{
		responses: map[string]sshexec.Result{
			"which stress-ng": {ExitCode: 1},
		},
	}
	inj := NewProcessInjector(runner, testLogger())
	_, err := inj.Apply(context.Background(), Spec{
		Type: ResourceExhaustion,
		Host: "dc1-node1",
	})
	if err == nil || !strings.Contains(err.Error(), "stress-ng not available") {
		t.Fatalf("expected a stress-ng availability error, got %v", err)
	}
}
