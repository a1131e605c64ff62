package session

import "streamdrive/pkg/protocol"

// handlerFor maps a terminal status to the handler body that should run
// before the protocol actually finishes, per spec.md §4.D. LockTimeout,
// FormatError, Abort and Fault never dispatch a handler: a lock that was
// never granted leaves nothing to talk to, and a fault/abort is already
// the system giving up.
func handlerFor(status Status) (protocol.HandlerName, bool) {
	switch status {
	case WriteTimeout:
		return protocol.HandlerWriteTimeout, true
	case ReplyTimeout:
		return protocol.HandlerReplyTimeout, true
	case ReadTimeout:
		return protocol.HandlerReadTimeout, true
	case ScanError:
		return protocol.HandlerMismatch, true
	default:
		return 0, false
	}
}

// finishProtocolLocked ends the run at status, possibly detouring through
// a handler body first. If a handler is already running when this is
// called (the handler body itself hit a new terminal condition, or simply
// ran off its own end), the run collapses back to the status that
// triggered the handler in the first place — a handler can narrate the
// failure, not redefine it. Must be called with mu held.
func (s *Session) finishProtocolLocked(status Status) {
	s.opGen++
	s.lockTimer.Cancel()
	s.stepTimer.Cancel()
	if s.readCancel != nil {
		s.readCancel()
		s.readCancel = nil
	}
	s.abandonEarlyLocked()

	if s.handlerActive {
		s.handlerActive = false
		status = s.handlerOrig
	} else if hname, ok := handlerFor(status); ok && s.prog.HasHandler(hname) {
		s.handlerActive = true
		s.handlerOrig = status
		s.cmds = s.prog.Handlers[hname]
		s.pc = 0
		s.separatorArmed = false
		s.runNextLocked()
		return
	}

	s.finalizeLocked(status)
}

// finalizeLocked is the true bottom of a run: release the bus, reset
// transient buffers on an abnormal end, record the outcome, and wake
// whoever is blocked on it.
func (s *Session) finalizeLocked(status Status) {
	s.state = Idle
	s.releaseBusLocked()

	if status == Abort || status == Fault {
		s.inputBuf.Reset()
		s.outputBuf.Reset()
	}

	s.lastStatus = status

	if s.initDone != nil {
		done := s.initDone
		s.initDone = nil
		close(done)
	}

	if s.onFinish != nil {
		id, onFinish := s.id, s.onFinish
		go onFinish(id, status)
	}
}
