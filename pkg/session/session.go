package session

import (
	"context"
	"log"
	"os/exec"
	"sync"

	"github.com/google/uuid"

	"streamdrive/pkg/arbiter"
	"streamdrive/pkg/bus"
	"streamdrive/pkg/protocol"
	"streamdrive/pkg/record"
	"streamdrive/pkg/stimer"
	"streamdrive/pkg/streambuf"
)

// Config supplies everything a Session needs beyond the compiled
// protocol itself.
type Config struct {
	ChannelName string
	Priority    int
	Bus         bus.Bus
	Arbiter     *arbiter.Channel
	Bridge      record.Bridge
	// OnFinish is invoked (on its own goroutine) every time a protocol
	// run reaches a terminal status outside of a handler — the
	// bridge-side protocolFinishHook of spec.md §4.D.
	OnFinish func(sessionID string, status Status)
	// Exec runs an EXEC command's formatted line. If nil, defaults to
	// running it through "sh -c" via os/exec — the standard library is
	// used here deliberately: the pack has no ecosystem shell-exec
	// library, and EXEC's contract ("invoke the host's shell-
	// equivalent") is inherently a thin os/exec.CommandContext wrapper.
	Exec   func(ctx context.Context, line string) error
	Logger *log.Logger
}

// Session is one live protocol run bound to one record and one channel
// (spec.md's Session, D-instance). Every exported method acquires mu on
// entry and releases it on every exit path.
type Session struct {
	mu sync.Mutex

	id          string
	channelName string
	priority    int

	bus       bus.Bus
	arbiterCh *arbiter.Channel
	bridge    record.Bridge
	execFunc  func(ctx context.Context, line string) error
	onFinish  func(sessionID string, status Status)
	log       *log.Logger

	prog *protocol.Program
	cmds []protocol.Command
	pc   int

	state State
	mode  Mode

	inputBuf      *streambuf.Buffer
	outputBuf     *streambuf.Buffer
	consumedInput int

	separatorArmed bool

	handlerActive bool
	handlerOrig   Status

	busOwner bool

	lockTimer stimer.Timer
	stepTimer stimer.Timer

	opGen      uint64
	readCancel context.CancelFunc

	// earlyInput holds device bytes that arrived before the IN command
	// that will consume them actually started: either an OUT's
	// pre-armed AcceptInput racing the write, or the tail left over
	// after a previous IN's terminator matched mid-buffer. The next
	// continueInLocked call consults it and, if it already holds a
	// complete response, parses immediately instead of issuing a fresh
	// bus.Read (spec.md §4.D's early-input scenario). earlyCmd is set by
	// continueInLocked to claim a still-in-flight pre-armed read in
	// place, so only one goroutine (consumeEarlyRead) ever ranges over
	// its channel.
	earlyInput  *streambuf.Buffer
	earlyArmed  bool
	earlyDone   bool
	earlyStatus bus.Status
	earlyCancel context.CancelFunc
	earlyCmd    *protocol.Command

	initDone chan struct{}

	lastStatus Status

	// runCtx is the context passed to the StartProtocol call that began
	// the run currently in flight. Every async continuation (lock/write/
	// read/event/timer callback) reads it under mu rather than having it
	// threaded through every method signature, since a run is always
	// driven by exactly one caller-supplied context from start to finish.
	runCtx context.Context
}

// New creates a session bound to prog, idle until StartProtocol is
// called.
func New(prog *protocol.Program, cfg Config) *Session {
	execFn := cfg.Exec
	if execFn == nil {
		execFn = func(ctx context.Context, line string) error {
			return exec.CommandContext(ctx, "sh", "-c", line).Run()
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = log.Default()
	}
	return &Session{
		id:          uuid.NewString(),
		channelName: cfg.ChannelName,
		priority:    cfg.Priority,
		bus:         cfg.Bus,
		arbiterCh:   cfg.Arbiter,
		bridge:      cfg.Bridge,
		execFunc:    execFn,
		onFinish:    cfg.OnFinish,
		log:         logger,
		prog:        prog,
		inputBuf:    streambuf.New(),
		outputBuf:   streambuf.New(),
		earlyInput:  streambuf.New(),
		state:       Idle,
	}
}

// ID returns the session's UUID, used in log correlation and the admin
// surface's session listing.
func (s *Session) ID() string { return s.id }

// Channel returns the bus channel name this session was configured
// against, used by the admin surface's session listing to group runs by
// shared transport.
func (s *Session) Channel() string { return s.channelName }

// State reports the current interpreter state (for diagnostics/UI use
// only; callers must not infer anything timing-sensitive from it without
// also holding a snapshot of LastStatus).
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// LastStatus reports the most recent terminal status reached, or
// Success if the session has never finished a run.
func (s *Session) LastStatus() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastStatus
}

// StartProtocol begins a new run in mode: it resets per-run state,
// selects the main body (Normal/Async) or the @init body (Init),
// installs the input terminator on the transport (best-effort), and
// evaluates the first command. For mode == ModeInit, StartProtocol
// blocks the calling goroutine until the run reaches a terminal status
// (the one session-level blocking entry point the concurrency model
// allows, per spec.md §5).
func (s *Session) StartProtocol(ctx context.Context, mode Mode) Status {
	s.mu.Lock()
	s.mode = mode
	s.pc = 0
	s.runCtx = ctx
	s.inputBuf.Reset()
	s.outputBuf.Reset()
	s.consumedInput = 0
	s.separatorArmed = false
	s.handlerActive = false
	s.opGen++
	s.abandonEarlyLocked()

	if mode == ModeInit {
		s.cmds = s.prog.Handlers[protocol.HandlerInit]
	} else {
		s.cmds = s.prog.Main
	}

	var done chan struct{}
	if mode == ModeInit {
		done = make(chan struct{})
		s.initDone = done
	}

	if s.bus != nil {
		term := s.prog.Params.InTerminator
		s.bus.SetEOS(term)
	}

	s.runNextLocked()
	s.mu.Unlock()

	if done != nil {
		<-done
		return s.LastStatus()
	}
	return Success
}

// Abort terminates the current run immediately: pending input is
// cleared, the current async wait is invalidated (late callbacks are
// discarded), and finishProtocol(Abort) runs.
func (s *Session) Abort() {
	s.mu.Lock()
	s.finishProtocolLocked(Abort)
	s.mu.Unlock()
}

// runNextLocked captures the command at pc as the active command,
// advances pc, and dispatches it. Must be called with mu held.
func (s *Session) runNextLocked() {
	if s.pc >= len(s.cmds) {
		s.finishProtocolLocked(Success)
		return
	}
	cmd := s.cmds[s.pc]
	s.pc++
	s.evalCommandLocked(cmd)
}

func (s *Session) evalCommandLocked(cmd protocol.Command) {
	s.separatorArmed = false
	switch cmd.Op {
	case protocol.OpEND:
		s.finishProtocolLocked(Success)
	case protocol.OpOUT:
		s.doOutLocked(cmd)
	case protocol.OpIN:
		s.doInLocked(cmd)
	case protocol.OpWAIT:
		s.doWaitLocked(cmd)
	case protocol.OpEVENT:
		s.doEventLocked(cmd)
	case protocol.OpEXEC:
		s.doExecLocked(cmd)
	default:
		s.finishProtocolLocked(Fault)
	}
}

func (s *Session) errorf(format string, args ...interface{}) {
	s.log.Printf("session %s: "+format, append([]interface{}{s.id}, args...)...)
}
