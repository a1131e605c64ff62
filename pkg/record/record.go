// Package record defines the record bridge contract of spec.md §4.F/§6.3
// — the two callbacks the interpreter core invokes while walking a
// template's FORMAT tokens — plus an in-memory MapBridge implementation
// used by tests and by the cmd/streamdrv and cmd/streamdrv-admind
// binaries. A real control
// system (EPICS-equivalent) implements Bridge against its own process
// variables; pkg/session never depends on a concrete one.
package record

import (
	"fmt"
	"sync"

	"streamdrive/pkg/sformat"
)

// Action is ReadData's report of how it finished handling an IN
// template's FORMAT token.
type Action int

const (
	// Convert means the bridge called scan to run the token through
	// sformat itself and store the result (the common case).
	Convert Action = iota
	// DoNotConvert means the bridge consumed the raw bytes itself (a
	// pseudo conversion outside sformat's repertoire) without calling
	// scan; n still reports how many bytes it consumed.
	DoNotConvert
)

// ScanFunc is the default sformat scan ReadData can call on raw to get
// the value it would store on Convert: n is the number of bytes
// consumed, or an error if raw doesn't match the token's conversion.
type ScanFunc func(raw []byte) (v sformat.Value, n int, err error)

// Bridge is the record-side contract. SessionID identifies the calling
// session (pkg/session.Session implements it trivially by returning its
// own UUID), so a bridge serving many sessions can route by caller.
type Bridge interface {
	// WriteData is called while formatting an OUT template's FORMAT
	// token: the bridge supplies the outgoing value by calling
	// sink.PrintValue, or returns an error to abort the OUT.
	WriteData(sessionID string, f *sformat.Format, sink ValueSink) error

	// ReadData is called while matching an IN template's FORMAT token,
	// with raw holding the yet-unconsumed input from that point. A
	// bridge that wants the standard conversion calls scan(raw) itself,
	// stores the result, and reports Convert; one that wants to consume
	// raw directly (bypassing sformat) reports DoNotConvert. Either way
	// n is how many bytes of raw the token consumed.
	ReadData(sessionID string, f *sformat.Format, raw []byte, scan ScanFunc) (action Action, n int, err error)

	// GetFieldAddress resolves a FORMAT_FIELD path (e.g.
	// "setpoint.VAL") to an opaque handle the bridge can later use to
	// read or write that specific field instead of the calling
	// session's own channel.
	GetFieldAddress(path string) ([]byte, error)

	// FormatValue and MatchValue are the field-addressed variants of
	// WriteData/ReadData: addr came from a prior GetFieldAddress call.
	FormatValue(addr []byte, f *sformat.Format, sink ValueSink) error
	MatchValue(addr []byte, f *sformat.Format, v sformat.Value) error
}

// ValueSink is the minimal surface WriteData needs to hand a value back
// to the interpreter for printing.
type ValueSink interface {
	PrintValue(v sformat.Value) error
}

// MapBridge is a minimal in-memory Bridge: a named-value store guarded
// by one mutex, generalized from the teacher's Device exposing
// GetStats/ComputeHash behind its own lock (internal/driver/device/
// controller.go) to an arbitrary string-keyed value store instead of
// hash-method dispatch. Suitable for tests and for the command-line
// binaries, where "fields" are just named in-memory slots.
type MapBridge struct {
	mu     sync.Mutex
	values map[string]sformat.Value
	// ChannelName is the key of "this session's own value" (as opposed
	// to a FORMAT_FIELD path), which WriteData and ReadData use.
	ChannelName string
}

// NewMapBridge returns an empty bridge whose own channel is named
// channelName (used to key WriteData/ReadData, as opposed to
// FORMAT_FIELD lookups which address other entries by path).
func NewMapBridge(channelName string) *MapBridge {
	return &MapBridge{values: make(map[string]sformat.Value), ChannelName: channelName}
}

// Set stores a value under name, visible to both GetFieldAddress lookups
// and this bridge's own channel if name matches ChannelName.
func (b *MapBridge) Set(name string, v sformat.Value) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.values[name] = v
}

// Get returns the stored value under name, if any.
func (b *MapBridge) Get(name string) (sformat.Value, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.values[name]
	return v, ok
}

func (b *MapBridge) WriteData(sessionID string, f *sformat.Format, sink ValueSink) error {
	b.mu.Lock()
	v, ok := b.values[b.ChannelName]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("record: no value set for channel %q", b.ChannelName)
	}
	return sink.PrintValue(v)
}

func (b *MapBridge) ReadData(sessionID string, f *sformat.Format, raw []byte, scan ScanFunc) (Action, int, error) {
	v, n, err := scan(raw)
	if err != nil {
		return Convert, 0, err
	}
	b.mu.Lock()
	b.values[b.ChannelName] = v
	b.mu.Unlock()
	return Convert, n, nil
}

func (b *MapBridge) GetFieldAddress(path string) ([]byte, error) {
	b.mu.Lock()
	_, ok := b.values[path]
	b.mu.Unlock()
	if !ok {
		// A field can be addressed before it's ever been written; an
		// empty initial value is created lazily rather than failing,
		// mirroring how a process-variable field exists before its
		// first put.
		b.mu.Lock()
		b.values[path] = sformat.Value{}
		b.mu.Unlock()
	}
	return []byte(path), nil
}

func (b *MapBridge) FormatValue(addr []byte, f *sformat.Format, sink ValueSink) error {
	name := string(addr)
	b.mu.Lock()
	v, ok := b.values[name]
	b.mu.Unlock()
	if !ok {
		return fmt.Errorf("record: no value set for field %q", name)
	}
	return sink.PrintValue(v)
}

func (b *MapBridge) MatchValue(addr []byte, f *sformat.Format, v sformat.Value) error {
	name := string(addr)
	b.mu.Lock()
	b.values[name] = v
	b.mu.Unlock()
	return nil
}
