// Package session implements the interpreter core of spec.md §4.D: the
// state machine that walks a compiled pkg/protocol.Program, issuing
// pkg/bus requests and pkg/record callbacks, one step at a time, under a
// single per-session mutex. Every externally invoked method (lock/write/
// read/event/timer callbacks, StartProtocol, Abort) takes that mutex on
// entry and releases it on every exit path, matching the teacher's own
// sync.RWMutex-guarded Device in internal/driver/device/controller.go.
package session

// State is one of the interpreter's seven states (spec.md §4.D).
type State int

const (
	Idle State = iota
	AwaitLock
	AwaitWrite
	AwaitRead
	AwaitEvent
	Sleeping
	AwaitExec
)

func (s State) String() string {
	switch s {
	case Idle:
		return "Idle"
	case AwaitLock:
		return "AwaitLock"
	case AwaitWrite:
		return "AwaitWrite"
	case AwaitRead:
		return "AwaitRead"
	case AwaitEvent:
		return "AwaitEvent"
	case Sleeping:
		return "Sleeping"
	case AwaitExec:
		return "AwaitExec"
	default:
		return "Unknown"
	}
}

// Mode selects how a protocol run is driven, per spec.md's Session
// fields (`mode: Normal|Init|Async`).
type Mode int

const (
	ModeNormal Mode = iota
	ModeInit
	ModeAsync
)

// Status is one of the nine terminal statuses of spec.md §7.
type Status int

const (
	Success Status = iota
	LockTimeout
	WriteTimeout
	ReplyTimeout
	ReadTimeout
	ScanError
	FormatError
	Abort
	Fault
)

func (s Status) String() string {
	switch s {
	case Success:
		return "Success"
	case LockTimeout:
		return "LockTimeout"
	case WriteTimeout:
		return "WriteTimeout"
	case ReplyTimeout:
		return "ReplyTimeout"
	case ReadTimeout:
		return "ReadTimeout"
	case ScanError:
		return "ScanError"
	case FormatError:
		return "FormatError"
	case Abort:
		return "Abort"
	case Fault:
		return "Fault"
	default:
		return "Unknown"
	}
}

// FaultError is the structured error carried out of a session run when a
// caller wants machine-readable detail instead of just a Status — the
// same tiny code+message shape as the teacher's internal/hasher/errors.go
// HasherError, generalized from hashing-specific codes to session
// Status values.
type FaultError struct {
	Status  Status
	Message string
	Details string
}

func (e *FaultError) Error() string {
	if e.Details != "" {
		return e.Status.String() + ": " + e.Message + " (" + e.Details + ")"
	}
	return e.Status.String() + ": " + e.Message
}
