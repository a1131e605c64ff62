// Package serialbus implements pkg/bus.Bus over a termios-controlled
// serial port, grounded on Daedaluz-goserial's port_linux.go/
// ioctl_linux.go Termios/ioctl design, but built directly against
// golang.org/x/sys/unix rather than goserial's own companion modules
// (see DESIGN.md for why daedaluz/goioctl and daedaluz/fdev are not
// wired in).
package serialbus

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sys/unix"

	"streamdrive/pkg/bus"
)

// Baud enumerates the line speeds SetAttr understands, named after the
// termios CBAUD constants goserial exposes (port_linux.go).
type Baud uint32

const (
	B9600   Baud = unix.B9600
	B19200  Baud = unix.B19200
	B38400  Baud = unix.B38400
	B57600  Baud = unix.B57600
	B115200 Baud = unix.B115200
	B230400 Baud = unix.B230400
)

// Config configures Open.
type Config struct {
	Device string
	Baud   Baud
	// DataBits, StopBits, Parity follow termios conventions; zero values
	// default to 8/1/none, the common lab-instrument wiring.
	DataBits int
	StopBits int
	Parity   byte // 'N', 'E', 'O'
}

// Bus is a pkg/bus.Bus backed by one serial port. Locking is purely the
// arbiter/bus-level contract (spec.md §4.E); the OS file descriptor has
// no concept of "locked" beyond what flock-equivalent callers add
// themselves, so Lock/Unlock here are no-ops delegated entirely to
// pkg/arbiter by the caller wiring this Bus into a session.
type Bus struct {
	mu  sync.Mutex
	fd  int
	eos []byte
}

// Open opens and configures the serial port in raw mode, per goserial's
// MakeRaw (port_linux.go), translated onto golang.org/x/sys/unix's own
// Termios type and IoctlSetTermios/IoctlGetTermios helpers instead of
// goserial's hand-rolled ioctl wrapper.
func Open(cfg Config) (*Bus, error) {
	fd, err := unix.Open(cfg.Device, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return nil, fmt.Errorf("serialbus: open %s: %w", cfg.Device, err)
	}
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serialbus: get attrs: %w", err)
	}

	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB | unix.CSTOPB
	t.Cflag |= unix.CREAD | unix.CLOCAL

	switch cfg.DataBits {
	case 5:
		t.Cflag |= unix.CS5
	case 6:
		t.Cflag |= unix.CS6
	case 7:
		t.Cflag |= unix.CS7
	default:
		t.Cflag |= unix.CS8
	}
	if cfg.StopBits == 2 {
		t.Cflag |= unix.CSTOPB
	}
	switch cfg.Parity {
	case 'E':
		t.Cflag |= unix.PARENB
	case 'O':
		t.Cflag |= unix.PARENB | unix.PARODD
	}

	baud := cfg.Baud
	if baud == 0 {
		baud = B9600
	}
	t.Cflag &^= unix.CBAUD
	t.Cflag |= uint32(baud)
	t.Ispeed = uint32(baud)
	t.Ospeed = uint32(baud)

	// Non-canonical polling reads: Cc[VMIN]=0, Cc[VTIME]=0 so each read
	// attempt returns immediately with whatever is available; timeout
	// pacing is implemented in Go over a poll loop instead, so callers
	// get a context-cancellable read rather than one pinned to a fixed
	// decisecond granularity.
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0

	if err := unix.IoctlSetTermios(fd, unix.TCSETS, t); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("serialbus: set attrs: %w", err)
	}

	return &Bus{fd: fd}, nil
}

func (b *Bus) Lock(ctx context.Context, timeoutMS int) bus.Status { return bus.StatusSuccess }
func (b *Bus) Unlock()                                            {}

func (b *Bus) Write(ctx context.Context, data []byte, timeoutMS int) bus.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	deadline := deadlineFor(timeoutMS)
	for len(data) > 0 {
		if !deadline.IsZero() && time.Now().After(deadline) {
			return bus.StatusTimeout
		}
		n, err := unix.Write(b.fd, data)
		if err != nil {
			if err == unix.EAGAIN {
				time.Sleep(2 * time.Millisecond)
				continue
			}
			return bus.StatusFault
		}
		data = data[n:]
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
	buf := make([]byte, 256)
	received := 0
	timeoutMS := replyTimeoutMS

	for {
		deadline := deadlineFor(timeoutMS)
		for {
			select {
			case <-ctx.Done():
				return
			default:
			}
			if !deadline.IsZero() && time.Now().After(deadline) {
				out <- bus.ReadResult{Status: bus.StatusTimeout, Final: true}
				return
			}
			b.mu.Lock()
			n, err := unix.Read(b.fd, buf)
			b.mu.Unlock()
			if err != nil && err != unix.EAGAIN {
				out <- bus.ReadResult{Status: bus.StatusFault, Final: true}
				return
			}
			if n > 0 {
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
				break
			}
			time.Sleep(2 * time.Millisecond)
		}
	}
}

func (b *Bus) AcceptEvent(ctx context.Context, mask uint32, timeoutMS int) bus.Status {
	return bus.StatusTimeout
}

func (b *Bus) SetEOS(terminator []byte) {
	b.mu.Lock()
	b.eos = terminator
	b.mu.Unlock()
}

func (b *Bus) Connect(ctx context.Context) error { return nil }

func (b *Bus) Disconnect() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.fd < 0 {
		return nil
	}
	err := unix.Close(b.fd)
	b.fd = -1
	return err
}

func deadlineFor(ms int) time.Time {
	if ms <= 0 {
		return time.Time{}
	}
	return time.Now().Add(time.Duration(ms) * time.Millisecond)
}

var _ bus.Bus = (*Bus)(nil)
