package session

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"streamdrive/pkg/arbiter"
	"streamdrive/pkg/bus"
	"streamdrive/pkg/bus/mockbus"
	"streamdrive/pkg/protocol"
	"streamdrive/pkg/record"
	"streamdrive/pkg/sformat"
)

func compile(t *testing.T, src string) *protocol.Program {
	t.Helper()
	prog, err := protocol.Compile([]byte(src), "test.proto", "p", nil)
	require.NoError(t, err)
	return prog
}

func waitFinished(t *testing.T, s *Session, timeout time.Duration) Status {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if s.State() == Idle {
			return s.LastStatus()
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("session did not finish within %s (state=%s)", timeout, s.State())
	return Fault
}

func TestEchoRoundTrip(t *testing.T) {
	prog := compile(t, `p { out "GET"; in "%d"; }`)
	mb := mockbus.New()
	mb.QueueReplyBytes([]byte("42"))
	bridge := record.NewMapBridge("ch0")

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: bridge})
	s.StartProtocol(context.Background(), ModeNormal)

	status := waitFinished(t, s, time.Second)
	require.Equal(t, Success, status)
	require.Equal(t, []byte("GET"), mb.LastWrite())
	v, ok := bridge.Get("ch0")
	require.True(t, ok)
	require.Equal(t, int64(42), v.I)
}

func TestReplyTimeoutRunsHandler(t *testing.T) {
	prog := compile(t, `
p {
	out "GET";
	in "%d";
	replytimeout = 20;
	@replytimeout { out "TIMED_OUT"; }
}`)
	mb := mockbus.New()
	// no reply queued: Read delivers a bare timeout with nothing received.
	bridge := record.NewMapBridge("ch0")

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: bridge})
	s.StartProtocol(context.Background(), ModeNormal)

	status := waitFinished(t, s, time.Second)
	require.Equal(t, ReplyTimeout, status)
	require.Equal(t, []byte("TIMED_OUT"), mb.LastWrite())
}

// TestReplyTimeoutHandlerReparsesValue covers spec.md §8 scenario 2's
// full flow: the original IN times out, @replytimeout's own `out "\?";
// in "V=%d";` pair (an escaped, literal '?') runs and parses the
// device's real reply. The terminal
// status still collapses to the original ReplyTimeout per this
// project's "reentrant finishProtocol" resolution (DESIGN.md) — a
// handler narrates the failure, it doesn't redefine it — but the value
// it parsed along the way lands in the bridge regardless.
func TestReplyTimeoutHandlerReparsesValue(t *testing.T) {
	prog := compile(t, `
p {
	out "GET";
	in "%d";
	replytimeout = 20;
	@replytimeout { out "\?"; in "V=%d"; }
}`)
	mb := mockbus.New()
	// The original IN's pre-armed read gets an explicit timeout (device
	// silent); the handler's own IN then gets the real reply.
	mb.QueueReply(mockbus.Reply{Status: bus.StatusTimeout})
	mb.QueueReplyBytes([]byte("V=42"))
	bridge := record.NewMapBridge("ch0")

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: bridge})
	s.StartProtocol(context.Background(), ModeNormal)

	status := waitFinished(t, s, time.Second)
	require.Equal(t, ReplyTimeout, status)
	require.Equal(t, []byte("?"), mb.LastWrite())
	v, ok := bridge.Get("ch0")
	require.True(t, ok)
	require.Equal(t, int64(42), v.I)
}

// TestAsyncEarlyInputConsumedWithoutFreshRead covers spec.md §8 scenario
// 4: the device's reply is already on the wire before the main body
// even reaches its IN command (continueOutLocked pre-arms the read
// while OUT's write is still going out), so IN must parse it straight
// away instead of issuing its own Read.
func TestAsyncEarlyInputConsumedWithoutFreshRead(t *testing.T) {
	prog := compile(t, `p { terminator = "\r\n"; out "HELLO"; in "READY"; }`)
	mb := mockbus.New()
	mb.QueueReplyBytes([]byte("READY\r\n"))
	bridge := record.NewMapBridge("ch0")

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: bridge})
	s.StartProtocol(context.Background(), ModeNormal)

	status := waitFinished(t, s, time.Second)
	require.Equal(t, Success, status)
	require.Equal(t, []byte("HELLO\r\n"), mb.LastWrite())
	require.Equal(t, 1, mb.ReadCallCount())
}

// TestUnparsedTailCarriesToNextIn covers the other half of scenario 4:
// bytes left over after one IN's terminator match are retained as
// unparsed input rather than discarded, so a second IN in the same run
// can consume them without its own Read either.
func TestUnparsedTailCarriesToNextIn(t *testing.T) {
	prog := compile(t, `p { terminator = "\r\n"; out "GET"; in "%d"; in "DONE"; }`)
	mb := mockbus.New()
	mb.QueueReplyBytes([]byte("42\r\nDONE\r\n"))
	bridge := record.NewMapBridge("ch0")

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: bridge})
	s.StartProtocol(context.Background(), ModeNormal)

	status := waitFinished(t, s, time.Second)
	require.Equal(t, Success, status)
	v, ok := bridge.Get("ch0")
	require.True(t, ok)
	require.Equal(t, int64(42), v.I)
	require.Equal(t, 1, mb.ReadCallCount())
}

func TestPackedBCDScan(t *testing.T) {
	prog := compile(t, `p { out "READ"; in "%4D"; }`)
	mb := mockbus.New()
	mb.QueueReplyBytes([]byte{0x12, 0x34, 0x56, 0x78})
	bridge := record.NewMapBridge("ch0")

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: bridge})
	s.StartProtocol(context.Background(), ModeNormal)

	status := waitFinished(t, s, time.Second)
	require.Equal(t, Success, status)
	v, ok := bridge.Get("ch0")
	require.True(t, ok)
	require.Equal(t, int64(12345678), v.I)
}

func TestLockArbitrationByPriority(t *testing.T) {
	mb := mockbus.New()
	mb.QueueReplyBytes([]byte("1"))
	mb.QueueReplyBytes([]byte("2"))
	reg := arbiter.NewRegistry()
	ch := reg.Channel("shared")

	progLow := compile(t, `p { out "A"; in "%d"; }`)
	progHigh := compile(t, `p { out "B"; in "%d"; }`)

	bridgeLow := record.NewMapBridge("low")
	bridgeHigh := record.NewMapBridge("high")

	low := New(progLow, Config{ChannelName: "shared", Bus: mb, Arbiter: ch, Bridge: bridgeLow, Priority: 0})
	high := New(progHigh, Config{ChannelName: "shared", Bus: mb, Arbiter: ch, Bridge: bridgeHigh, Priority: 100})

	holder := make(chan bool, 1)
	blocker := arbiter.Owner("blocker")
	ch.Lock(blocker, 0, func(granted bool) { holder <- granted })
	require.True(t, <-holder)

	go low.StartProtocol(context.Background(), ModeNormal)
	time.Sleep(5 * time.Millisecond)
	go high.StartProtocol(context.Background(), ModeNormal)
	time.Sleep(5 * time.Millisecond)

	ch.Unlock(blocker)

	require.Equal(t, Success, waitFinished(t, high, time.Second))
	require.Equal(t, Success, waitFinished(t, low, time.Second))
	require.Equal(t, [][]byte{[]byte("B"), []byte("A")}, mb.Written)
}

func TestSeparatorBetweenValues(t *testing.T) {
	prog := compile(t, `p { separator = ","; out "SET"; in "%d%d"; }`)
	mb := mockbus.New()
	mb.QueueReplyBytes([]byte("3,4"))
	bridge := record.NewMapBridge("ch0")

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: bridge})
	s.StartProtocol(context.Background(), ModeNormal)

	status := waitFinished(t, s, time.Second)
	require.Equal(t, Success, status)
	v, ok := bridge.Get("ch0")
	require.True(t, ok)
	require.Equal(t, int64(4), v.I)
}

// failBridge always refuses WriteData, exercising the FormatError path
// of finishProtocolLocked.
type failBridge struct{ record.Bridge }

func (failBridge) WriteData(sessionID string, f *sformat.Format, sink record.ValueSink) error {
	return fmt.Errorf("bridge refuses to supply a value")
}

func TestFormatErrorWhenBridgeRefuses(t *testing.T) {
	prog := compile(t, `p { out "%d"; }`)
	mb := mockbus.New()

	s := New(prog, Config{ChannelName: "ch0", Bus: mb, Arbiter: arbiter.NewChannel(), Bridge: failBridge{record.NewMapBridge("ch0")}})
	s.StartProtocol(context.Background(), ModeNormal)
	status := waitFinished(t, s, time.Second)
	require.Equal(t, FormatError, status)
	require.Nil(t, mb.LastWrite())
}
