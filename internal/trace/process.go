package trace

import (
	"fmt"
	"syscall"
)

// EventKind classifies a stop reported by Process.Wait.
type EventKind int

const (
	// EventExited means the process is gone: it exited or was killed.
	EventExited EventKind = iota
	// EventTrap is a SIGTRAP stop: a breakpoint or a completed single step.
	EventTrap
	// EventSignal is a stop for any other signal. The signal is delivered
	// when the process is next continued.
	EventSignal
)

func (k EventKind) String() string {
	switch k {
	case EventExited:
		return "exited"
	case EventTrap:
		return "trap"
	case EventSignal:
		return "signal"
	}
	return fmt.Sprintf("event(%d)", int(k))
}

// Event is one stop of the traced process.
type Event struct {
	Kind   EventKind
	Status int            // exit status, for EventExited
	Signal syscall.Signal // stop or termination signal
}

// Process is OS-level control over one traced process. Implementations
// need not be safe for concurrent use.
type Process interface {
	Pid() int
	ReadMemory(addr uintptr, buf []byte) error
	WriteMemory(addr uintptr, data []byte) error
	PC() (uintptr, error)
	SetPC(pc uintptr) error
	// Step executes exactly one instruction. Wait reports its completion.
	Step() error
	// Continue resumes the process, delivering the signal of a preceding
	// EventSignal stop.
	Continue() error
	// Wait blocks until the next stop.
	Wait() (Event, error)
	Kill() error
}
