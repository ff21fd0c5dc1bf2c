//go:build linux

package trace

import (
	"context"
	"errors"
	"os/exec"
	"testing"

	"golang.org/x/sys/unix"

	"bina/internal/disasm/disasmtest"
)

func TestLaunchNoTrap(t *testing.T) {
	ctx := disasmtest.ContextNoTrap(t, nops(1)...)
	_, err := Launch(context.Background(), ctx, "/bin/true", nil, 0, nil)
	if !errors.Is(err, ErrNoTrap) {
		t.Fatalf("Launch() error = %v, want ErrNoTrap", err)
	}
}

func TestLaunchCancelled(t *testing.T) {
	ctx := disasmtest.Context(t, nops(1)...)
	cctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := Launch(cctx, ctx, "/bin/true", nil, 0, nil); !errors.Is(err, context.Canceled) {
		t.Fatalf("Launch() error = %v, want context.Canceled", err)
	}
}

func TestLaunchRunsToExit(t *testing.T) {
	path, err := exec.LookPath("true")
	if err != nil {
		t.Skip("no true(1) on PATH")
	}
	ctx := disasmtest.Context(t, nops(1)...)
	s, err := Launch(context.Background(), ctx, path, nil, 0, nil)
	if err != nil {
		t.Skipf("ptrace unavailable: %v", err)
	}
	defer s.Close()

	if s.Process().Pid() <= 0 {
		t.Errorf("Pid() = %d", s.Process().Pid())
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.State() != StateExited || s.ExitEvent().Status != 0 {
		t.Errorf("state = %v, exit = %+v", s.State(), s.ExitEvent())
	}
}

func TestDiscard(t *testing.T) {
	path, err := exec.LookPath("sleep")
	if err != nil {
		t.Skip("no sleep(1) on PATH")
	}
	cmd := exec.Command(path, "30")
	if err := cmd.Start(); err != nil {
		t.Fatalf("start sleep: %v", err)
	}
	pid := cmd.Process.Pid

	discard(pid, false)
	if err := unix.Kill(pid, 0); !errors.Is(err, unix.ESRCH) {
		t.Errorf("child %d still exists after discard: %v", pid, err)
	}
}
