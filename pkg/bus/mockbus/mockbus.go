// Package mockbus is an in-memory bus.Bus used by pkg/session's test
// suite (and available to any other package that wants to drive a
// session without real hardware): writes are recorded, reads are served
// from a pre-loaded script of canned replies, and lock/event calls
// resolve immediately unless a test arranges otherwise.
package mockbus

import (
	"context"
	"sync"
	"time"

	"streamdrive/pkg/bus"
)

// Reply is one scripted response to a Read call: either Data arriving
// (possibly split across multiple chunks) or a bare Status with no data
// (e.g. a timeout).
type Reply struct {
	Chunks [][]byte
	Status bus.Status
}

// Bus is a scripted, in-memory bus.Bus.
type Bus struct {
	mu      sync.Mutex
	Written [][]byte

	replies []Reply
	events  []bus.Status

	lockOwner bool
	eos       []byte

	// ReadDelay, if non-zero, is applied before each chunk of a
	// scripted Reply is sent, to exercise timeout interactions.
	ReadDelay time.Duration

	// ReadCalls counts every Read invocation, so a test can assert a
	// session consumed an already-buffered response without issuing a
	// fresh one.
	ReadCalls int
}

// New returns an idle mock bus with no scripted replies.
func New() *Bus {
	return &Bus{}
}

// QueueReply appends one scripted response to the Read queue.
func (b *Bus) QueueReply(r Reply) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.replies = append(b.replies, r)
}

// QueueReplyBytes is shorthand for a single successful chunk.
func (b *Bus) QueueReplyBytes(data []byte) {
	b.QueueReply(Reply{Chunks: [][]byte{data}, Status: bus.StatusSuccess})
}

// QueueEvent appends one scripted AcceptEvent outcome.
func (b *Bus) QueueEvent(status bus.Status) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, status)
}

func (b *Bus) Lock(ctx context.Context, timeoutMS int) bus.Status {
	b.mu.Lock()
	b.lockOwner = true
	b.mu.Unlock()
	return bus.StatusSuccess
}

func (b *Bus) Unlock() {
	b.mu.Lock()
	b.lockOwner = false
	b.mu.Unlock()
}

func (b *Bus) Write(ctx context.Context, data []byte, timeoutMS int) bus.Status {
	b.mu.Lock()
	cp := append([]byte(nil), data...)
	b.Written = append(b.Written, cp)
	b.mu.Unlock()
	return bus.StatusSuccess
}

func (b *Bus) Read(ctx context.Context, replyTimeoutMS, readTimeoutMS, expected int, async bool) <-chan bus.ReadResult {
	out := make(chan bus.ReadResult, 4)
	b.mu.Lock()
	b.ReadCalls++
	var r Reply
	has := false
	if len(b.replies) > 0 {
		r = b.replies[0]
		b.replies = b.replies[1:]
		has = true
	}
	delay := b.ReadDelay
	b.mu.Unlock()

	go func() {
		defer close(out)
		if !has {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			out <- bus.ReadResult{Status: bus.StatusTimeout, Final: true}
			return
		}
		for i, chunk := range r.Chunks {
			if delay > 0 {
				select {
				case <-ctx.Done():
					return
				case <-time.After(delay):
				}
			}
			final := i == len(r.Chunks)-1
			status := bus.StatusSuccess
			if final {
				status = r.Status
			}
			select {
			case <-ctx.Done():
				return
			case out <- bus.ReadResult{Status: status, Data: chunk, Final: final}:
			}
		}
		if len(r.Chunks) == 0 {
			out <- bus.ReadResult{Status: r.Status, Final: true}
		}
	}()
	return out
}

func (b *Bus) AcceptEvent(ctx context.Context, mask uint32, timeoutMS int) bus.Status {
	b.mu.Lock()
	var status bus.Status
	if len(b.events) > 0 {
		status = b.events[0]
		b.events = b.events[1:]
	} else {
		status = bus.StatusTimeout
	}
	b.mu.Unlock()
	return status
}

func (b *Bus) SetEOS(terminator []byte) {
	b.mu.Lock()
	b.eos = terminator
	b.mu.Unlock()
}

func (b *Bus) Connect(ctx context.Context) error { return nil }
func (b *Bus) Disconnect() error                 { return nil }

// LastWrite returns the most recent bytes passed to Write, for
// assertions.
func (b *Bus) LastWrite() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.Written) == 0 {
		return nil
	}
	return b.Written[len(b.Written)-1]
}

// ReadCallCount returns how many times Read has been called so far.
func (b *Bus) ReadCallCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.ReadCalls
}

var _ bus.Bus = (*Bus)(nil)
