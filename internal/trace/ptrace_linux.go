//go:build linux

package trace

import (
	"fmt"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"syscall"

	"golang.org/x/sys/unix"
)

// ptraceProcess serializes every ptrace request onto one locked OS thread:
// the kernel only accepts requests from the thread that became the tracer.
type ptraceProcess struct {
	pid     int
	reqs    chan func()
	done    chan struct{}
	once    sync.Once
	pending syscall.Signal
	exited  bool
}

func start(path string, args []string, o *options) (Process, error) {
	p := &ptraceProcess{
		reqs: make(chan func()),
		done: make(chan struct{}),
	}
	started := make(chan error, 1)
	go p.loop(path, args, o, started)
	if err := <-started; err != nil {
		return nil, err
	}
	return p, nil
}

func (p *ptraceProcess) loop(path string, args []string, o *options, started chan<- error) {
	// Never unlocked: the thread exits with the goroutine.
	runtime.LockOSThread()

	cmd := exec.Command(path, args...)
	cmd.Stdin, cmd.Stdout, cmd.Stderr = o.stdin, o.stdout, o.stderr
	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}
	if err := cmd.Start(); err != nil {
		started <- fmt.Errorf("start %s: %w", path, err)
		return
	}
	p.pid = cmd.Process.Pid

	var ws unix.WaitStatus
	if _, err := unix.Wait4(p.pid, &ws, 0, nil); err != nil {
		discard(p.pid, false)
		started <- fmt.Errorf("wait for exec of %s: %w", path, err)
		return
	}
	if !ws.Stopped() {
		discard(p.pid, ws.Exited() || ws.Signaled())
		started <- fmt.Errorf("%s did not stop at exec (status %#x)", path, uint32(ws))
		return
	}
	if err := unix.PtraceSetOptions(p.pid, unix.PTRACE_O_EXITKILL); err != nil {
		discard(p.pid, false)
		started <- fmt.Errorf("ptrace options: %w", err)
		return
	}
	started <- nil

	for {
		select {
		case fn := <-p.reqs:
			fn()
		case <-p.done:
			return
		}
	}
}

// discard kills and reaps a child that never became a usable tracee.
// reaped is set when a wait has already collected its exit.
func discard(pid int, reaped bool) {
	if reaped {
		return
	}
	_ = unix.Kill(pid, unix.SIGKILL)
	_, _ = unix.Wait4(pid, nil, 0, nil)
}

func (p *ptraceProcess) do(fn func() error) error {
	errc := make(chan error, 1)
	select {
	case p.reqs <- func() { errc <- fn() }:
	case <-p.done:
		return os.ErrProcessDone
	}
	return <-errc
}

func (p *ptraceProcess) release() {
	p.once.Do(func() { close(p.done) })
}

func (p *ptraceProcess) Pid() int { return p.pid }

func (p *ptraceProcess) ReadMemory(addr uintptr, buf []byte) error {
	return p.do(func() error {
		n, err := unix.PtracePeekText(p.pid, addr, buf)
		if err != nil {
			return err
		}
		if n != len(buf) {
			return fmt.Errorf("short read at %#x: %d of %d bytes", addr, n, len(buf))
		}
		return nil
	})
}

func (p *ptraceProcess) WriteMemory(addr uintptr, data []byte) error {
	return p.do(func() error {
		n, err := unix.PtracePokeText(p.pid, addr, data)
		if err != nil {
			return err
		}
		if n != len(data) {
			return fmt.Errorf("short write at %#x: %d of %d bytes", addr, n, len(data))
		}
		return nil
	})
}

func (p *ptraceProcess) PC() (uintptr, error) {
	var pc uintptr
	err := p.do(func() error {
		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
			return err
		}
		pc = uintptr(regs.PC())
		return nil
	})
	return pc, err
}

func (p *ptraceProcess) SetPC(pc uintptr) error {
	return p.do(func() error {
		var regs unix.PtraceRegs
		if err := unix.PtraceGetRegs(p.pid, &regs); err != nil {
			return err
		}
		regs.SetPC(uint64(pc))
		return unix.PtraceSetRegs(p.pid, &regs)
	})
}

func (p *ptraceProcess) Step() error {
	return p.do(func() error { return unix.PtraceSingleStep(p.pid) })
}

func (p *ptraceProcess) Continue() error {
	return p.do(func() error {
		sig := p.pending
		p.pending = 0
		return unix.PtraceCont(p.pid, int(sig))
	})
}

func (p *ptraceProcess) Wait() (Event, error) {
	var ev Event
	err := p.do(func() error {
		var ws unix.WaitStatus
		if _, err := unix.Wait4(p.pid, &ws, 0, nil); err != nil {
			return err
		}
		ev = p.event(ws)
		return nil
	})
	if err == nil && ev.Kind == EventExited {
		p.release()
	}
	return ev, err
}

func (p *ptraceProcess) event(ws unix.WaitStatus) Event {
	switch {
	case ws.Exited():
		p.exited = true
		return Event{Kind: EventExited, Status: ws.ExitStatus()}
	case ws.Signaled():
		p.exited = true
		return Event{Kind: EventExited, Status: -1, Signal: ws.Signal()}
	case ws.Stopped() && ws.StopSignal() == unix.SIGTRAP:
		return Event{Kind: EventTrap, Signal: unix.SIGTRAP}
	}
	p.pending = ws.StopSignal()
	return Event{Kind: EventSignal, Signal: p.pending}
}

func (p *ptraceProcess) Kill() error {
	if p.exited {
		p.release()
		return nil
	}
	err := p.do(func() error {
		if err := unix.Kill(p.pid, unix.SIGKILL); err != nil {
			return err
		}
		for {
			var ws unix.WaitStatus
			if _, err := unix.Wait4(p.pid, &ws, 0, nil); err != nil {
				return err
			}
			if ws.Exited() || ws.Signaled() {
				p.exited = true
				return nil
			}
		}
	})
	p.release()
	return err
}
