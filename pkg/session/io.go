package session

import (
	"context"

	"streamdrive/pkg/arbiter"
	"streamdrive/pkg/bus"
	"streamdrive/pkg/protocol"
	"streamdrive/pkg/streambuf"
)

// mapBusStatus translates a transport-level bus.Status into the session
// Status reported when the transport's lock attempt fails.
func mapBusStatus(st bus.Status) Status {
	switch st {
	case bus.StatusSuccess:
		return Success
	case bus.StatusTimeout:
		return LockTimeout
	default:
		return Fault
	}
}

// beginLockLocked requests the channel's lock (through the arbiter first,
// then the transport's own Lock, per spec.md §4.E/§4.H) and invokes cont
// once both have granted. Must be called with mu held; cont runs with mu
// held too, from whatever goroutine observes the grant.
func (s *Session) beginLockLocked(cont func()) {
	s.state = AwaitLock
	gen := s.opGen
	timeoutMS := s.prog.Params.LockTimeoutMS
	owner := arbiter.Owner(s.id)

	if s.arbiterCh == nil {
		s.grantBusLockLocked(gen, timeoutMS, cont)
		return
	}

	if timeoutMS > 0 {
		s.lockTimer.Start(timeoutMS, func() {
			s.arbiterCh.Cancel(owner)
		})
	}
	s.arbiterCh.Lock(owner, s.priority, func(granted bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.opGen {
			return
		}
		s.lockTimer.Cancel()
		if !granted {
			s.finishProtocolLocked(LockTimeout)
			return
		}
		s.grantBusLockLocked(gen, timeoutMS, cont)
	})
}

// grantBusLockLocked confirms lock ownership with the transport itself
// (a no-op for transports that don't need their own exclusive open) and,
// on success, marks the bus owned and runs cont.
func (s *Session) grantBusLockLocked(gen uint64, timeoutMS int, cont func()) {
	st := bus.StatusSuccess
	if s.bus != nil {
		st = s.bus.Lock(s.runCtx, timeoutMS)
	}
	if st != bus.StatusSuccess {
		if s.arbiterCh != nil {
			s.arbiterCh.Unlock(arbiter.Owner(s.id))
		}
		s.finishProtocolLocked(mapBusStatus(st))
		return
	}
	s.busOwner = true
	cont()
}

// releaseBusLocked relinquishes both the transport lock and the arbiter's
// channel ownership, if held. Safe to call unconditionally.
func (s *Session) releaseBusLocked() {
	if !s.busOwner {
		return
	}
	if s.bus != nil {
		s.bus.Unlock()
	}
	if s.arbiterCh != nil {
		s.arbiterCh.Unlock(arbiter.Owner(s.id))
	}
	s.busOwner = false
}

func (s *Session) doOutLocked(cmd protocol.Command) {
	if !s.busOwner {
		s.beginLockLocked(func() { s.continueOutLocked(cmd) })
		return
	}
	s.continueOutLocked(cmd)
}

// continueOutLocked formats and writes cmd's template. Before issuing the
// write itself, it pre-arms an early read if the command right after
// this OUT is an IN, so device bytes that arrive while the write is
// still in flight aren't lost waiting for the IN to start its own Read
// (spec.md §4.D's "OUT pre-arms AcceptInput when the next command is
// IN").
func (s *Session) continueOutLocked(cmd protocol.Command) {
	s.state = AwaitWrite
	s.outputBuf.Reset()
	if err := s.formatOutputLocked(cmd); err != nil {
		s.finishProtocolLocked(FormatError)
		return
	}
	data := append([]byte(nil), s.outputBuf.Bytes()...)
	data = append(data, s.prog.Params.OutTerminator...)
	gen := s.opGen
	timeoutMS := s.prog.Params.WriteTimeoutMS
	ctx := s.runCtx

	s.armEarlyInputLocked(gen)

	go func() {
		st := bus.StatusSuccess
		if s.bus != nil {
			st = s.bus.Write(ctx, data, timeoutMS)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.opGen {
			return
		}
		if st != bus.StatusSuccess {
			s.finishProtocolLocked(WriteTimeout)
			return
		}
		s.runNextLocked()
	}()
}

// armEarlyInputLocked starts listening for the upcoming IN command's
// response right away, if s.cmds[s.pc] (the command this OUT will hand
// off to) is an IN. The goroutine it starts (consumeEarlyRead) keeps
// draining that one bus.Read channel for as long as the read lives,
// whether or not an IN has claimed it yet — continueInLocked claims an
// unresolved read in place via s.earlyCmd rather than starting a second
// reader on the same channel. Must be called with mu held; gen is the
// opGen this run step belongs to.
func (s *Session) armEarlyInputLocked(gen uint64) {
	if s.earlyArmed {
		// A terminator-tail stash from an earlier IN is still pending for
		// the upcoming IN; nothing new can have arrived on the device
		// before this OUT's write even goes out, so leave it as is.
		return
	}
	if s.bus == nil || s.pc >= len(s.cmds) || s.cmds[s.pc].Op != protocol.OpIN {
		return
	}
	async := s.mode == ModeAsync
	replyMS := s.prog.Params.ReplyTimeoutMS
	if async {
		replyMS = s.prog.Params.PollPeriodMS
	}
	readMS := s.prog.Params.ReadTimeoutMS
	maxInput := s.prog.Params.MaxInput

	rctx, cancel := context.WithCancel(s.runCtx)
	ch := s.bus.Read(rctx, replyMS, readMS, maxInput, async)

	s.earlyInput.Reset()
	s.earlyArmed = true
	s.earlyDone = false
	s.earlyCmd = nil
	s.earlyCancel = cancel

	go s.consumeEarlyRead(gen, ch)
}

// consumeEarlyRead is the single goroutine draining one pre-armed read
// for its whole lifetime. Until an IN command claims it (s.earlyCmd set
// by continueInLocked), deliveries accumulate in s.earlyInput and are
// judged by earlyDecideLocked; once claimed, it behaves exactly like
// consumeRead, feeding s.inputBuf and readDecideLocked instead — the
// claim happens in place so only one goroutine ever ranges over ch.
func (s *Session) consumeEarlyRead(gen uint64, ch <-chan bus.ReadResult) {
	for r := range ch {
		s.mu.Lock()
		if gen != s.opGen {
			s.mu.Unlock()
			continue
		}
		if s.earlyCmd != nil {
			cmd := *s.earlyCmd
			if len(r.Data) > 0 {
				s.inputBuf.Append(r.Data)
			}
			decided := s.readDecideLocked(cmd, r)
			if decided {
				s.earlyCmd = nil
			}
			s.mu.Unlock()
			if decided {
				return
			}
			continue
		}
		if len(r.Data) > 0 {
			s.earlyInput.Append(r.Data)
		}
		decided := s.earlyDecideLocked(r)
		s.mu.Unlock()
		if decided {
			return
		}
	}
}

// earlyDecideLocked applies readDecideLocked's end-of-response search to
// the still-unconsumed early buffer, recording the outcome in
// s.earlyDone/s.earlyStatus instead of acting on it immediately (there's
// no IN command dispatched yet to hand the result to). Must be called
// with mu held.
func (s *Session) earlyDecideLocked(r bus.ReadResult) bool {
	term := s.prog.Params.InTerminator
	maxInput := s.prog.Params.MaxInput

	switch {
	case len(term) > 0 && s.earlyInput.Find(term, 0) >= 0:
		s.earlyDone = true
		s.earlyStatus = bus.StatusSuccess
		return true
	case r.Status == bus.StatusEnd:
		s.earlyDone = true
		s.earlyStatus = bus.StatusEnd
		return true
	case maxInput > 0 && s.earlyInput.Len() >= maxInput:
		s.earlyInput.Truncate(maxInput)
		s.earlyDone = true
		s.earlyStatus = bus.StatusSuccess
		return true
	case r.Final && r.Status != bus.StatusSuccess:
		s.earlyDone = true
		s.earlyStatus = r.Status
		return true
	case r.Final:
		// Last delivery the transport will ever send for this Read, and
		// it came back clean: nothing more is coming, so whatever's
		// accumulated is the whole response.
		s.earlyDone = true
		s.earlyStatus = bus.StatusSuccess
		return true
	default:
		return false
	}
}

// splitAtTerminator truncates buf at the first occurrence of term and
// returns whatever followed it, which the caller retains as unparsed
// input for the next IN command instead of discarding (spec.md §4.D).
func splitAtTerminator(buf *streambuf.Buffer, term []byte) []byte {
	idx := buf.Find(term, 0)
	if idx < 0 {
		return nil
	}
	full := buf.Bytes()
	after := idx + len(term)
	var tail []byte
	if after < len(full) {
		tail = append([]byte(nil), full[after:]...)
	}
	buf.Truncate(idx)
	return tail
}

// clearEarlyLocked drops any buffered early input without cancelling an
// in-flight read. Must be called with mu held.
func (s *Session) clearEarlyLocked() {
	s.earlyArmed = false
	s.earlyDone = false
	s.earlyCmd = nil
	s.earlyCancel = nil
}

// abandonEarlyLocked cancels any in-flight pre-armed read and drops
// buffered early input — used when a run ends or restarts, so a stale
// early read doesn't leak into the next one. Must be called with mu
// held.
func (s *Session) abandonEarlyLocked() {
	if s.earlyCancel != nil {
		s.earlyCancel()
	}
	s.clearEarlyLocked()
	s.earlyInput.Reset()
}

// stashUnparsedLocked arms the early-input buffer from bytes left over
// after a just-matched terminator, so the next IN command can try
// parsing them before waiting on the bus at all (spec.md §4.D's
// readCallback retaining "unparsed input" for the next IN). It re-runs
// the same end-of-response search against the retained tail immediately,
// since no further I/O is needed to know whether it's already complete;
// there is no live read behind this buffer (earlyCancel stays nil), so
// continueInLocked knows to start a fresh Read if the tail alone isn't
// already a whole response.
func (s *Session) stashUnparsedLocked(tail []byte) {
	if len(tail) == 0 {
		return
	}
	s.earlyInput.Reset()
	s.earlyInput.Append(tail)
	s.earlyArmed = true
	s.earlyCmd = nil
	s.earlyCancel = nil

	term := s.prog.Params.InTerminator
	maxInput := s.prog.Params.MaxInput
	switch {
	case len(term) > 0 && s.earlyInput.Find(term, 0) >= 0:
		s.earlyDone = true
		s.earlyStatus = bus.StatusSuccess
	case maxInput > 0 && s.earlyInput.Len() >= maxInput:
		s.earlyInput.Truncate(maxInput)
		s.earlyDone = true
		s.earlyStatus = bus.StatusSuccess
	default:
		s.earlyDone = false
	}
}

func (s *Session) doInLocked(cmd protocol.Command) {
	if !s.busOwner {
		s.beginLockLocked(func() { s.continueInLocked(cmd) })
		return
	}
	s.continueInLocked(cmd)
}

// continueInLocked starts an IN command's response wait. If early input
// is already buffered (pre-armed by the previous OUT, or left over from
// the previous IN's terminator match), it's consulted first: a complete
// early response is parsed immediately, bypassing a fresh Read entirely
// (spec.md §4.D). An unresolved pre-armed read is claimed in place
// (s.earlyCmd) rather than raced by a second reader on the same
// channel; a stashed tail with no live read behind it just seeds the
// next fresh Read instead. In Async mode, the bus lock is released once
// the read is underway (or already resolved) instead of held for the
// duration of the poll.
func (s *Session) continueInLocked(cmd protocol.Command) {
	s.state = AwaitRead
	s.separatorArmed = false
	gen := s.opGen
	async := s.mode == ModeAsync

	s.inputBuf.Reset()

	if s.earlyArmed {
		s.inputBuf.Append(s.earlyInput.Bytes())
		done, status, cancel := s.earlyDone, s.earlyStatus, s.earlyCancel

		if done {
			s.clearEarlyLocked()
			if cancel != nil {
				cancel()
			}
			if async {
				s.releaseBusLocked()
			}
			if status == bus.StatusSuccess || status == bus.StatusEnd {
				if term := s.prog.Params.InTerminator; len(term) > 0 {
					s.stashUnparsedLocked(splitAtTerminator(s.inputBuf, term))
				}
				s.finishReadLocked(cmd)
			} else {
				s.handleReadTimeoutLocked(cmd)
			}
			return
		}

		if cancel != nil {
			// A live pre-armed read is still in flight for this exact
			// command: claim it instead of starting a second one.
			// consumeEarlyRead picks up the claim on its next delivery.
			s.earlyCmd = &cmd
			s.earlyArmed = false
			s.readCancel = cancel
			s.earlyCancel = nil
			if async {
				s.releaseBusLocked()
			}
			return
		}

		s.clearEarlyLocked()
	}

	rctx, cancel := context.WithCancel(s.runCtx)
	s.readCancel = cancel

	replyMS := s.prog.Params.ReplyTimeoutMS
	if async {
		replyMS = s.prog.Params.PollPeriodMS
	}
	readMS := s.prog.Params.ReadTimeoutMS
	maxInput := s.prog.Params.MaxInput

	var ch <-chan bus.ReadResult
	if s.bus != nil {
		ch = s.bus.Read(rctx, replyMS, readMS, maxInput, async)
	} else {
		closed := make(chan bus.ReadResult)
		close(closed)
		ch = closed
	}
	if async {
		s.releaseBusLocked()
	}
	go s.consumeRead(gen, cmd, ch)
}

// consumeRead drains one Read call's result channel, feeding each
// delivery through readDecideLocked until the read is decided one way or
// another (spec.md §4.D's readCallback). gen guards against a stale
// goroutine outliving the run that started it (e.g. after Abort).
func (s *Session) consumeRead(gen uint64, cmd protocol.Command, ch <-chan bus.ReadResult) {
	for r := range ch {
		s.mu.Lock()
		if gen != s.opGen {
			s.mu.Unlock()
			continue
		}
		if len(r.Data) > 0 {
			s.inputBuf.Append(r.Data)
		}
		decided := s.readDecideLocked(cmd, r)
		s.mu.Unlock()
		if decided {
			return
		}
	}
}

// readDecideLocked implements spec.md §4.D's end-of-response search:
// an explicit input terminator wins first, then a transport End signal,
// then the maxInput cap; short of those, a terminal (non-success) result
// ends the read on a timeout, and anything else means "want more." A
// terminator match retains anything after it as unparsed input for the
// next IN command rather than discarding it. Must be called with mu
// held.
func (s *Session) readDecideLocked(cmd protocol.Command, r bus.ReadResult) bool {
	term := s.prog.Params.InTerminator
	maxInput := s.prog.Params.MaxInput

	switch {
	case len(term) > 0 && s.inputBuf.Find(term, 0) >= 0:
		tail := splitAtTerminator(s.inputBuf, term)
		s.stashUnparsedLocked(tail)
		return s.finishReadLocked(cmd)
	case r.Status == bus.StatusEnd:
		return s.finishReadLocked(cmd)
	case maxInput > 0 && s.inputBuf.Len() >= maxInput:
		s.inputBuf.Truncate(maxInput)
		return s.finishReadLocked(cmd)
	case r.Final && r.Status != bus.StatusSuccess:
		return s.handleReadTimeoutLocked(cmd)
	case r.Final:
		// Last delivery the transport will ever send for this Read, and
		// it came back clean: nothing more is coming, so whatever's
		// accumulated is the whole response.
		return s.finishReadLocked(cmd)
	default:
		return false
	}
}

// finishReadLocked runs matchInput against the terminated response and
// advances to the next command, or reports ScanError on mismatch.
func (s *Session) finishReadLocked(cmd protocol.Command) bool {
	if s.readCancel != nil {
		s.readCancel()
		s.readCancel = nil
	}
	if err := s.matchInputLocked(cmd); err != nil {
		s.finishProtocolLocked(ScanError)
		return true
	}
	s.runNextLocked()
	return true
}

// handleReadTimeoutLocked reports ReplyTimeout (nothing ever arrived) or
// ReadTimeout (a partial response arrived, then stalled). It still runs
// matchInput over whatever was received, for the handler body's benefit,
// but the timeout status wins regardless of whether the partial data
// would otherwise have matched (spec.md §4.D).
func (s *Session) handleReadTimeoutLocked(cmd protocol.Command) bool {
	if s.readCancel != nil {
		s.readCancel()
		s.readCancel = nil
	}
	status := ReadTimeout
	if s.inputBuf.Len() == 0 {
		status = ReplyTimeout
	}
	_ = s.matchInputLocked(cmd)
	s.finishProtocolLocked(status)
	return true
}

func (s *Session) doWaitLocked(cmd protocol.Command) {
	s.state = Sleeping
	gen := s.opGen
	s.stepTimer.Start(int(cmd.WaitMS), func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.opGen {
			return
		}
		s.runNextLocked()
	})
}

// doEventLocked waits for cmd's event mask. AcceptEvent itself already
// returns immediately when the mask has already arrived (bus.Bus's
// zero-timeout contract), so "early" delivery needs no session-side
// buffering the way IN's does; in Async mode with a zero timeout, the
// bus lock is released before waiting, since a non-blocking poll
// shouldn't hold the channel (spec.md §4.D).
func (s *Session) doEventLocked(cmd protocol.Command) {
	s.state = AwaitEvent
	gen := s.opGen
	ctx := s.runCtx
	mask := cmd.EventMask
	timeoutMS := int(cmd.EventTimeoutMS)

	if s.mode == ModeAsync && timeoutMS == 0 {
		s.releaseBusLocked()
	}

	go func() {
		var st bus.Status = bus.StatusSuccess
		if s.bus != nil {
			st = s.bus.AcceptEvent(ctx, mask, timeoutMS)
		}
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.opGen {
			return
		}
		if st != bus.StatusSuccess {
			s.finishProtocolLocked(ReplyTimeout)
			return
		}
		s.runNextLocked()
	}()
}

func (s *Session) doExecLocked(cmd protocol.Command) {
	s.state = AwaitExec
	s.outputBuf.Reset()
	if err := s.formatOutputLocked(cmd); err != nil {
		s.finishProtocolLocked(FormatError)
		return
	}
	line := string(s.outputBuf.Bytes())
	gen := s.opGen
	ctx := s.runCtx
	go func() {
		err := s.execFunc(ctx, line)
		s.mu.Lock()
		defer s.mu.Unlock()
		if gen != s.opGen {
			return
		}
		if err != nil {
			s.errorf("exec %q: %v", line, err)
			s.finishProtocolLocked(Fault)
			return
		}
		s.runNextLocked()
	}()
}
