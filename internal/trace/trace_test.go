package trace

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"syscall"
	"testing"

	"bina/internal/cfg"
	"bina/internal/disasm"
	"bina/internal/disasm/disasmtest"
)

const fakeBase = 0x400000

const (
	modeNone = iota
	modeCont
	modeStep
)

// fakeProcess executes a fixed list of code offsets against its memory
// image, stopping wherever it finds a 0xcc byte.
type fakeProcess struct {
	mem  []byte
	path []uint64
	pos  int
	pc   uintptr
	mode int

	signals   map[int]syscall.Signal // raised before path[pos] runs
	pending   syscall.Signal
	delivered []syscall.Signal

	executedTraps int
	exited        bool
	killed        bool
}

func newFake(ctx *disasm.Context, path ...uint64) *fakeProcess {
	mem := make([]byte, len(ctx.Code())+WordSize)
	for i := range mem {
		mem[i] = byte(0x10 + i)
	}
	return &fakeProcess{mem: mem, path: path, signals: map[int]syscall.Signal{}}
}

func (f *fakeProcess) Pid() int { return 42 }

func (f *fakeProcess) span(addr uintptr, n int) ([]byte, error) {
	if addr < fakeBase || int(addr-fakeBase)+n > len(f.mem) {
		return nil, fmt.Errorf("address %#x unmapped", addr)
	}
	off := int(addr - fakeBase)
	return f.mem[off : off+n], nil
}

func (f *fakeProcess) ReadMemory(addr uintptr, buf []byte) error {
	src, err := f.span(addr, len(buf))
	if err != nil {
		return err
	}
	copy(buf, src)
	return nil
}

func (f *fakeProcess) WriteMemory(addr uintptr, data []byte) error {
	dst, err := f.span(addr, len(data))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

func (f *fakeProcess) PC() (uintptr, error) { return f.pc, nil }

func (f *fakeProcess) SetPC(pc uintptr) error {
	f.pc = pc
	return nil
}

func (f *fakeProcess) Step() error {
	if f.exited {
		return os.ErrProcessDone
	}
	f.mode = modeStep
	return nil
}

func (f *fakeProcess) Continue() error {
	if f.exited {
		return os.ErrProcessDone
	}
	if f.pending != 0 {
		f.delivered = append(f.delivered, f.pending)
		f.pending = 0
	}
	f.mode = modeCont
	return nil
}

func (f *fakeProcess) Wait() (Event, error) {
	mode := f.mode
	f.mode = modeNone
	switch mode {
	case modeStep:
		return f.step()
	case modeCont:
		return f.run(), nil
	}
	return Event{}, errors.New("wait on a stopped process")
}

func (f *fakeProcess) step() (Event, error) {
	off := f.path[f.pos]
	if want := uintptr(fakeBase + off); f.pc != want {
		return Event{}, fmt.Errorf("step from %#x, program is at %#x", f.pc, want)
	}
	if f.mem[off] == 0xcc {
		f.executedTraps++
	}
	f.pos++
	if f.pos == len(f.path) {
		return f.exit(), nil
	}
	f.pc = uintptr(fakeBase + f.path[f.pos])
	return Event{Kind: EventTrap, Signal: syscall.SIGTRAP}, nil
}

func (f *fakeProcess) run() Event {
	for f.pos < len(f.path) {
		off := f.path[f.pos]
		if sig, ok := f.signals[f.pos]; ok {
			delete(f.signals, f.pos)
			f.pending = sig
			f.pc = uintptr(fakeBase + off)
			return Event{Kind: EventSignal, Signal: sig}
		}
		if f.mem[off] == 0xcc {
			f.pc = uintptr(fakeBase + off + 1)
			return Event{Kind: EventTrap, Signal: syscall.SIGTRAP}
		}
		f.pos++
	}
	return f.exit()
}

func (f *fakeProcess) exit() Event {
	f.exited = true
	return Event{Kind: EventExited}
}

func (f *fakeProcess) Kill() error {
	f.killed = true
	f.exited = true
	return nil
}

func nops(n int) []disasmtest.Ins {
	insns := make([]disasmtest.Ins, n)
	for i := range insns {
		insns[i] = disasmtest.Nop()
	}
	return insns
}

func session(t *testing.T, ctx *disasm.Context, proc Process, h Handler) *Session {
	t.Helper()
	s, err := Attach(ctx, proc, fakeBase, h)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	return s
}

func TestInstallRemoveRoundTrip(t *testing.T) {
	wide := disasmtest.Ins{Kind: disasm.KindOther, Size: 3, To: disasmtest.Unresolved}
	ctx := disasmtest.Context(t, wide, wide, wide)
	proc := newFake(ctx)
	before := bytes.Clone(proc.mem)
	s := session(t, ctx, proc, nil)

	bp, err := s.Install(1, "state")
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if bp.Offset != 3 || bp.Addr != fakeBase+3 || bp.State != "state" {
		t.Errorf("breakpoint = %+v", bp)
	}
	if !bytes.Equal(bp.Original, before[3:3+WordSize]) {
		t.Errorf("Original = % x, want % x", bp.Original, before[3:3+WordSize])
	}
	if bp.Patched[0] != 0xcc || !bytes.Equal(bp.Patched[1:], bp.Original[1:]) {
		t.Errorf("Patched = % x", bp.Patched)
	}
	if proc.mem[3] != 0xcc || proc.mem[4] != before[4] {
		t.Errorf("image after Install = % x", proc.mem[:8])
	}

	if err := s.Remove(bp); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if !bytes.Equal(proc.mem, before) {
		t.Errorf("image after Remove = % x, want % x", proc.mem, before)
	}
	if len(s.Breakpoints()) != 0 {
		t.Errorf("Breakpoints() = %v after Remove", s.Breakpoints())
	}
	if err := s.Remove(bp); err == nil {
		t.Errorf("second Remove() succeeded")
	}
}

func TestOneHit(t *testing.T) {
	ctx := disasmtest.Context(t, append(nops(4), disasmtest.Ret())...)
	proc := newFake(ctx, 0, 1, 2, 3, 4)

	var hits []int
	s := session(t, ctx, proc, func(s *Session, bp *Breakpoint) error {
		hits = append(hits, bp.Instruction)
		if bp.State != "mark" {
			t.Errorf("handler state = %v", bp.State)
		}
		return nil
	})
	if _, err := s.Install(2, "mark"); err != nil {
		t.Fatalf("Install() error = %v", err)
	}

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(hits) != 1 || hits[0] != 2 {
		t.Errorf("handler calls = %v, want [2]", hits)
	}
	if s.State() != StateExited || s.Hits() != 1 {
		t.Errorf("state = %v, hits = %d", s.State(), s.Hits())
	}
	if proc.executedTraps != 0 {
		t.Errorf("program executed %d trap bytes", proc.executedTraps)
	}
	if len(s.Breakpoints()) != 0 {
		t.Errorf("breakpoints left after exit: %d", len(s.Breakpoints()))
	}
	if err := s.Close(); err != nil || proc.killed {
		t.Errorf("Close() = %v, killed = %v", err, proc.killed)
	}
}

func TestRepeatedHits(t *testing.T) {
	ctx := disasmtest.Context(t, nops(4)...)
	proc := newFake(ctx, 0, 1, 2, 1, 2, 1, 2, 3)
	s := session(t, ctx, proc, nil)

	bp, err := s.Install(1, nil)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if bp.Hits != 3 || s.Hits() != 3 {
		t.Errorf("hits = %d/%d, want 3", bp.Hits, s.Hits())
	}
	if proc.executedTraps != 0 {
		t.Errorf("program executed %d trap bytes", proc.executedTraps)
	}
}

func TestExitDuringStep(t *testing.T) {
	ctx := disasmtest.Context(t, disasmtest.Nop(), disasmtest.Ret())
	proc := newFake(ctx, 0, 1)
	s := session(t, ctx, proc, nil)

	if _, err := s.Install(1, nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.State() != StateExited || s.Hits() != 1 {
		t.Errorf("state = %v, hits = %d", s.State(), s.Hits())
	}
}

func TestNeighbouringBreakpoints(t *testing.T) {
	ctx := disasmtest.Context(t, nops(4)...)
	proc := newFake(ctx, 0, 1, 2, 3)
	s := session(t, ctx, proc, nil)

	first, err := s.Install(1, nil)
	if err != nil {
		t.Fatalf("Install(1) error = %v", err)
	}
	if _, err := s.Install(2, nil); err != nil {
		t.Fatalf("Install(2) error = %v", err)
	}
	if err := s.Remove(first); err != nil {
		t.Fatalf("Remove() error = %v", err)
	}
	if proc.mem[1] == 0xcc || proc.mem[2] != 0xcc {
		t.Fatalf("image = % x", proc.mem[:4])
	}

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if s.Hits() != 1 {
		t.Errorf("hits = %d, want 1", s.Hits())
	}
}

func TestInstallErrors(t *testing.T) {
	ctx := disasmtest.Context(t, nops(3)...)
	s := session(t, ctx, newFake(ctx), nil)

	if _, err := s.Install(1, nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if _, err := s.Install(1, nil); !errors.Is(err, ErrDuplicateBreakpoint) {
		t.Errorf("duplicate Install() error = %v, want ErrDuplicateBreakpoint", err)
	}
	for _, i := range []int{-1, 3} {
		if _, err := s.Install(i, nil); err == nil {
			t.Errorf("Install(%d) succeeded", i)
		}
	}
}

func TestNoTrap(t *testing.T) {
	ctx := disasmtest.ContextNoTrap(t, nops(2)...)
	if _, err := Attach(ctx, newFake(ctx), fakeBase, nil); !errors.Is(err, ErrNoTrap) {
		t.Fatalf("Attach() error = %v, want ErrNoTrap", err)
	}
}

func TestUnregisteredTrap(t *testing.T) {
	ctx := disasmtest.Context(t, nops(4)...)
	proc := newFake(ctx, 0, 1, 2, 3)
	proc.mem[2] = 0xcc
	s := session(t, ctx, proc, nil)

	if err := s.Run(); !errors.Is(err, ErrUnregisteredTrap) {
		t.Fatalf("Run() error = %v, want ErrUnregisteredTrap", err)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %v, want failed", s.State())
	}
	if _, err := s.Install(0, nil); !errors.Is(err, ErrNotRunning) {
		t.Errorf("Install() after failure error = %v, want ErrNotRunning", err)
	}
}

func TestHandlerAbort(t *testing.T) {
	ctx := disasmtest.Context(t, nops(4)...)
	proc := newFake(ctx, 0, 1, 2, 3)
	before := bytes.Clone(proc.mem)
	errStop := errors.New("stop")
	s := session(t, ctx, proc, func(*Session, *Breakpoint) error { return errStop })

	if _, err := s.Install(2, nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := s.Run(); !errors.Is(err, errStop) {
		t.Fatalf("Run() error = %v, want handler error", err)
	}
	if s.State() != StateFailed {
		t.Errorf("state = %v, want failed", s.State())
	}
	if proc.mem[2] != before[2] {
		t.Errorf("trap byte left at the aborted breakpoint")
	}
	if err := s.Close(); err != nil || !proc.killed {
		t.Errorf("Close() = %v, killed = %v", err, proc.killed)
	}
}

func TestReentrantHandler(t *testing.T) {
	ctx := disasmtest.Context(t, nops(3)...)
	proc := newFake(ctx, 0, 1, 2)

	var errs []error
	s := session(t, ctx, proc, func(s *Session, bp *Breakpoint) error {
		_, err := s.Install(0, nil)
		errs = append(errs, err, s.Run(), s.Close())
		return nil
	})
	if _, err := s.Install(1, nil); err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(errs) != 3 {
		t.Fatalf("handler ran %d times", len(errs)/3)
	}
	for i, err := range errs {
		if !errors.Is(err, ErrReentrant) {
			t.Errorf("call %d from handler: error = %v, want ErrReentrant", i, err)
		}
	}
	if s.State() != StateExited {
		t.Errorf("state = %v, want exited", s.State())
	}
}

func TestRemoveFromHandler(t *testing.T) {
	ctx := disasmtest.Context(t, nops(3)...)
	// 1 runs three times
	proc := newFake(ctx, 0, 1, 2, 1, 2, 1, 2)
	before := bytes.Clone(proc.mem)

	s := session(t, ctx, proc, func(s *Session, bp *Breakpoint) error {
		return s.Remove(bp)
	})
	bp, err := s.Install(1, nil)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if bp.Hits != 1 || s.Hits() != 1 {
		t.Errorf("hits = %d/%d, want 1", bp.Hits, s.Hits())
	}
	if !bytes.Equal(proc.mem, before) {
		t.Errorf("image not restored: % x", proc.mem[:4])
	}
	if proc.executedTraps != 0 {
		t.Errorf("executed %d trap bytes", proc.executedTraps)
	}
	if s.State() != StateExited {
		t.Errorf("state = %v, want exited", s.State())
	}
}

func TestSignalRedelivered(t *testing.T) {
	ctx := disasmtest.Context(t, nops(3)...)
	proc := newFake(ctx, 0, 1, 2)
	proc.signals[1] = syscall.SIGUSR1
	s := session(t, ctx, proc, nil)

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if len(proc.delivered) != 1 || proc.delivered[0] != syscall.SIGUSR1 {
		t.Errorf("delivered = %v, want [SIGUSR1]", proc.delivered)
	}
}

func TestRunAfterExit(t *testing.T) {
	ctx := disasmtest.Context(t, nops(1)...)
	s := session(t, ctx, newFake(ctx, 0), nil)

	if err := s.Run(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if err := s.Run(); !errors.Is(err, ErrNotRunning) {
		t.Errorf("second Run() error = %v, want ErrNotRunning", err)
	}
}

func TestInstallBlocks(t *testing.T) {
	ctx := disasmtest.Context(t, disasmtest.Nop(), disasmtest.Jcc(3), disasmtest.Nop(), disasmtest.Ret())
	s := session(t, ctx, newFake(ctx), nil)

	if _, err := s.InstallBlocks(nil); err == nil {
		t.Fatalf("InstallBlocks() without blocks succeeded")
	}
	if _, err := cfg.Build(ctx); err != nil {
		t.Fatalf("cfg.Build() error = %v", err)
	}
	bps, err := s.InstallBlocks(nil)
	if err != nil {
		t.Fatalf("InstallBlocks() error = %v", err)
	}
	var got []int
	for _, bp := range s.Breakpoints() {
		got = append(got, bp.Instruction)
	}
	if len(bps) != 3 || fmt.Sprint(got) != "[0 2 3]" {
		t.Errorf("breakpoints on %v, want [0 2 3]", got)
	}
}

func TestRebase(t *testing.T) {
	ctx := disasmtest.Context(t, nops(3)...)
	proc := newFake(ctx, 0, 1, 2)
	s, err := Attach(ctx, proc, 0, nil)
	if err != nil {
		t.Fatalf("Attach() error = %v", err)
	}
	if s.State() != StateLaunching {
		t.Errorf("state = %v, want launching", s.State())
	}

	if err := s.Rebase(fakeBase); err != nil {
		t.Fatalf("Rebase() error = %v", err)
	}
	bp, err := s.Install(1, nil)
	if err != nil {
		t.Fatalf("Install() error = %v", err)
	}
	if bp.Addr != fakeBase+1 {
		t.Errorf("Addr = %#x, want %#x", bp.Addr, fakeBase+1)
	}
	if s.State() != StateStopped {
		t.Errorf("state after Install = %v, want stopped", s.State())
	}
	if err := s.Rebase(0); err == nil {
		t.Errorf("Rebase() after Install succeeded")
	}
}

func TestStateString(t *testing.T) {
	tests := map[State]string{
		StateLaunching: "launching",
		StateStopped:   "stopped",
		StateRunning:   "running",
		StateExited:    "exited",
		StateFailed:    "failed",
		State(9):       "state(9)",
	}
	for s, want := range tests {
		if got := s.String(); got != want {
			t.Errorf("State(%d).String() = %q, want %q", int(s), got, want)
		}
	}
}
