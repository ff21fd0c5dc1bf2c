// Package trace runs a program under ptrace and reports every time it
// reaches a chosen instruction. Breakpoints are placed by instruction index
// into a disassembled code buffer, loaded at a known base address.
package trace

import (
	"context"
	"errors"
	"fmt"
	"io"
	"slices"

	"github.com/charmbracelet/log"

	"bina/internal/disasm"
)

var (
	// ErrDuplicateBreakpoint is returned when an instruction already has a
	// breakpoint.
	ErrDuplicateBreakpoint = errors.New("breakpoint already installed")
	// ErrUnregisteredTrap is returned by Run when the process stops on a
	// trap the session did not plant.
	ErrUnregisteredTrap = errors.New("trap at unregistered address")
	// ErrNoTrap is returned for backends without a breakpoint encoding.
	ErrNoTrap = errors.New("architecture has no breakpoint encoding")
	// ErrReentrant is returned when a handler calls back into its session.
	ErrReentrant = errors.New("session called from its own handler")
	// ErrNotRunning is returned when the process is gone.
	ErrNotRunning = errors.New("process is not running")
	// ErrUnsupported is returned by Launch on platforms without ptrace.
	ErrUnsupported = errors.New("tracing is not supported on this platform")
)

// State is the lifecycle of a Session.
type State int

const (
	StateLaunching State = iota // base may still be rebased
	StateStopped
	StateRunning
	StateExited
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateLaunching:
		return "launching"
	case StateStopped:
		return "stopped"
	case StateRunning:
		return "running"
	case StateExited:
		return "exited"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Handler is called each time the process reaches bp, before the original
// instruction runs. Returning an error stops tracing.
type Handler func(s *Session, bp *Breakpoint) error

type options struct {
	logger *log.Logger
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer
}

// Option configures a Session.
type Option func(*options)

// WithLogger sets the logger. The default is the Context's logger.
func WithLogger(lg *log.Logger) Option {
	return func(o *options) { o.logger = lg }
}

// WithStdio connects the launched program's standard streams. They are
// discarded by default.
func WithStdio(stdin io.Reader, stdout, stderr io.Writer) Option {
	return func(o *options) {
		o.stdin, o.stdout, o.stderr = stdin, stdout, stderr
	}
}

// Session owns a traced process and its breakpoints. It is not safe for
// concurrent use.
type Session struct {
	proc    Process
	code    *disasm.Context
	trap    disasm.Trap
	base    uint64
	handler Handler
	logger  *log.Logger

	bps       map[uintptr]*Breakpoint
	state     State
	inHandler bool
	hits      int
	exit      Event
}

// Launch starts path with args, stopped before its first instruction, and
// returns a Session for it. code describes the program's code as loaded at
// base. ctx is only consulted while the process is being started.
func Launch(ctx context.Context, code *disasm.Context, path string, args []string, base uint64, handler Handler, opts ...Option) (*Session, error) {
	o := newOptions(code, opts)
	if _, ok := code.Arch().(disasm.Trapper); !ok {
		return nil, fmt.Errorf("%s: %w", code.Arch().Name(), ErrNoTrap)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	proc, err := start(path, args, o)
	if err != nil {
		return nil, err
	}
	o.logger.Debug("launched", "path", path, "pid", proc.Pid())

	s, err := attach(code, proc, base, handler, o)
	if err != nil {
		_ = proc.Kill()
		return nil, err
	}
	return s, nil
}

// Attach wraps an already stopped process.
func Attach(code *disasm.Context, proc Process, base uint64, handler Handler, opts ...Option) (*Session, error) {
	return attach(code, proc, base, handler, newOptions(code, opts))
}

func newOptions(code *disasm.Context, opts []Option) *options {
	o := &options{logger: code.Logger()}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func attach(code *disasm.Context, proc Process, base uint64, handler Handler, o *options) (*Session, error) {
	t, ok := code.Arch().(disasm.Trapper)
	if !ok {
		return nil, fmt.Errorf("%s: %w", code.Arch().Name(), ErrNoTrap)
	}
	trap := t.Trap()
	if len(trap.Code) == 0 || len(trap.Code) > WordSize {
		return nil, fmt.Errorf("%s: trap code of %d bytes: %w", code.Arch().Name(), len(trap.Code), ErrNoTrap)
	}
	if handler == nil {
		handler = func(*Session, *Breakpoint) error { return nil }
	}
	return &Session{
		proc:    proc,
		code:    code,
		trap:    trap,
		base:    base,
		handler: handler,
		logger:  o.logger,
		bps:     make(map[uintptr]*Breakpoint),
		state:   StateLaunching,
	}, nil
}

func (s *Session) Process() Process { return s.proc }

func (s *Session) Context() *disasm.Context { return s.code }

func (s *Session) Base() uint64 { return s.base }

// Rebase moves the code to base, for programs whose load address is known
// once started. It is only allowed while the session is still launching,
// before the first Install or Run.
func (s *Session) Rebase(base uint64) error {
	if err := s.guard(); err != nil {
		return err
	}
	if s.state != StateLaunching {
		return fmt.Errorf("rebase in state %s", s.state)
	}
	s.base = base
	return nil
}

func (s *Session) State() State { return s.state }

// Hits is the number of breakpoint stops handled so far.
func (s *Session) Hits() int { return s.hits }

// ExitEvent is the event that ended the process, once State is
// StateExited.
func (s *Session) ExitEvent() Event { return s.exit }

// Breakpoints returns the installed breakpoints in address order.
func (s *Session) Breakpoints() []*Breakpoint {
	out := make([]*Breakpoint, 0, len(s.bps))
	for _, bp := range s.bps {
		out = append(out, bp)
	}
	slices.SortFunc(out, func(a, b *Breakpoint) int {
		switch {
		case a.Addr < b.Addr:
			return -1
		case a.Addr > b.Addr:
			return 1
		}
		return 0
	})
	return out
}

func (s *Session) guard() error {
	if s.inHandler {
		return ErrReentrant
	}
	return s.live()
}

func (s *Session) live() error {
	if s.state == StateExited || s.state == StateFailed {
		return fmt.Errorf("%w (%s)", ErrNotRunning, s.state)
	}
	return nil
}

// settle fixes the base address: the launch is over.
func (s *Session) settle() {
	if s.state == StateLaunching {
		s.state = StateStopped
	}
}

// Install plants a breakpoint on instruction i. state is handed back in
// Breakpoint.State.
func (s *Session) Install(i int, state any) (*Breakpoint, error) {
	if err := s.guard(); err != nil {
		return nil, err
	}
	s.settle()
	if i < 0 || i >= len(s.code.Instructions) {
		return nil, fmt.Errorf("instruction %d out of range", i)
	}
	ins := &s.code.Instructions[i]
	addr := uintptr(s.base + ins.Offset)
	if old, ok := s.bps[addr]; ok {
		return nil, fmt.Errorf("instruction %d at %#x: %w", old.Instruction, addr, ErrDuplicateBreakpoint)
	}

	n := len(s.trap.Code)
	orig, err := s.readWord(addr, n)
	if err != nil {
		return nil, err
	}
	patched := slices.Clone(orig)
	copy(patched, s.trap.Code)

	bp := &Breakpoint{
		Instruction: i,
		Offset:      ins.Offset,
		Addr:        addr,
		State:       state,
		Original:    orig,
		Patched:     patched,
		n:           n,
	}
	if err := bp.patch(s.proc); err != nil {
		return nil, fmt.Errorf("patch %#x: %w", addr, err)
	}
	s.bps[addr] = bp
	s.logger.Debug("breakpoint installed", "ins", i, "addr", fmt.Sprintf("%#x", addr))
	return bp, nil
}

// readWord reads WordSize bytes at addr, or only the n trap bytes when the
// word runs off the mapping.
func (s *Session) readWord(addr uintptr, n int) ([]byte, error) {
	word := make([]byte, WordSize)
	if err := s.proc.ReadMemory(addr, word); err == nil {
		return word, nil
	}
	word = word[:n]
	if err := s.proc.ReadMemory(addr, word); err != nil {
		return nil, fmt.Errorf("read %#x: %w", addr, err)
	}
	return word, nil
}

// InstallBlocks plants a breakpoint on the leader of every basic block.
// ctx.Blocks must have been built.
func (s *Session) InstallBlocks(state any) ([]*Breakpoint, error) {
	if len(s.code.Blocks) == 0 {
		return nil, errors.New("no basic blocks to trace")
	}
	out := make([]*Breakpoint, 0, len(s.code.Blocks))
	for _, b := range s.code.Blocks {
		bp, err := s.Install(b.First, state)
		if err != nil {
			return out, fmt.Errorf("block %d: %w", b.Index, err)
		}
		out = append(out, bp)
	}
	return out, nil
}

// Remove restores the original bytes under bp and forgets it. It may be
// called from a handler; a breakpoint removed there is not re-armed.
func (s *Session) Remove(bp *Breakpoint) error {
	if err := s.live(); err != nil {
		return err
	}
	if s.bps[bp.Addr] != bp {
		return fmt.Errorf("breakpoint at %#x is not installed", bp.Addr)
	}
	if err := bp.restore(s.proc); err != nil {
		return fmt.Errorf("restore %#x: %w", bp.Addr, err)
	}
	delete(s.bps, bp.Addr)
	return nil
}

// Run resumes the process and handles breakpoint stops until it exits.
// It returns nil on a normal exit. A handler error or an unregistered trap
// leave the session in StateFailed.
func (s *Session) Run() error {
	if err := s.guard(); err != nil {
		return err
	}
	s.settle()
	for {
		s.state = StateRunning
		if err := s.proc.Continue(); err != nil {
			return s.fail(fmt.Errorf("continue: %w", err))
		}
		ev, err := s.proc.Wait()
		if err != nil {
			return s.fail(fmt.Errorf("wait: %w", err))
		}

		switch ev.Kind {
		case EventExited:
			s.exited(ev)
			return nil
		case EventSignal:
			s.logger.Debug("signal stop", "signal", ev.Signal)
			continue
		}

		s.state = StateStopped
		done, err := s.stopped()
		if err != nil {
			return s.fail(err)
		}
		if done {
			return nil
		}
	}
}

// stopped handles a trap stop. It reports whether the process exited
// while stepping over the breakpoint.
func (s *Session) stopped() (bool, error) {
	pc, err := s.proc.PC()
	if err != nil {
		return false, fmt.Errorf("read pc: %w", err)
	}
	addr := pc - uintptr(s.trap.Rewind)
	bp, ok := s.bps[addr]
	if !ok {
		return false, fmt.Errorf("%w %#x", ErrUnregisteredTrap, addr)
	}
	bp.Hits++
	s.hits++

	s.inHandler = true
	herr := s.handler(s, bp)
	s.inHandler = false

	// Remove has put the original bytes back already.
	removed := s.bps[addr] != bp
	if !removed {
		if err := bp.restore(s.proc); err != nil {
			return false, fmt.Errorf("restore %#x: %w", addr, err)
		}
	}
	if herr != nil {
		return false, fmt.Errorf("handler at %#x: %w", addr, herr)
	}
	if err := s.proc.SetPC(addr); err != nil {
		return false, fmt.Errorf("rewind pc: %w", err)
	}
	if removed {
		return false, nil
	}

	for {
		if err := s.proc.Step(); err != nil {
			return false, fmt.Errorf("step %#x: %w", addr, err)
		}
		ev, err := s.proc.Wait()
		if err != nil {
			return false, fmt.Errorf("wait: %w", err)
		}
		if ev.Kind == EventExited {
			s.exited(ev)
			return true, nil
		}
		if ev.Kind == EventTrap {
			break
		}
	}

	if err := bp.patch(s.proc); err != nil {
		return false, fmt.Errorf("patch %#x: %w", addr, err)
	}
	return false, nil
}

func (s *Session) exited(ev Event) {
	s.state = StateExited
	s.exit = ev
	// The image is gone with the process.
	clear(s.bps)
	s.logger.Debug("process exited", "status", ev.Status, "signal", ev.Signal, "hits", s.hits)
}

func (s *Session) fail(err error) error {
	s.state = StateFailed
	return err
}

// Close kills the process if it is still alive. It is safe to call more
// than once.
func (s *Session) Close() error {
	if s.inHandler {
		return ErrReentrant
	}
	if s.state == StateExited {
		return nil
	}
	err := s.proc.Kill()
	s.state = StateExited
	clear(s.bps)
	if err != nil {
		return fmt.Errorf("kill %d: %w", s.proc.Pid(), err)
	}
	return nil
}
