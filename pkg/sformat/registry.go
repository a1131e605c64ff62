package sformat

import "sync"

// Registry is a lookup table from conversion character to Converter,
// populated at package init by the built-in converters and extendable
// by a caller that wants a device-specific letter (mirroring the
// name-to-implementation map the reference pack uses for pluggable hash
// methods, generalized here to single-byte keys instead of strings).
type Registry struct {
	mu    sync.RWMutex
	convs map[byte]Converter
}

// NewRegistry returns an empty registry.
func NewRegistry() *Registry {
	return &Registry{convs: make(map[byte]Converter)}
}

// Register installs conv under letter, replacing any previous entry.
func (r *Registry) Register(letter byte, conv Converter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.convs[letter] = conv
}

// Lookup returns the converter registered for letter, if any.
func (r *Registry) Lookup(letter byte) (Converter, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.convs[letter]
	return c, ok
}

// Default is the process-wide registry carrying every built-in
// conversion. The protocol compiler consults it at compile time so an
// unknown conversion letter is a compile error, not a runtime surprise.
var Default = NewRegistry()

func init() {
	Default.Register('d', signedConv{})
	Default.Register('i', signedConv{})
	Default.Register('u', unsignedConv{base: 10})
	Default.Register('o', unsignedConv{base: 8})
	Default.Register('x', unsignedConv{base: 16})
	Default.Register('X', unsignedConv{base: 16, upper: true})
	Default.Register('b', binaryConv{})
	Default.Register('r', rawConv{})
	Default.Register('D', bcdConv{})

	Default.Register('f', floatConv{style: 'f'})
	Default.Register('e', floatConv{style: 'e'})
	Default.Register('E', floatConv{style: 'E'})
	Default.Register('g', floatConv{style: 'g'})
	Default.Register('G', floatConv{style: 'G'})

	Default.Register('s', stringConv{})
	Default.Register('c', charConv{})
	Default.Register('[', bracketConv{})
	Default.Register('{', enumConv{})

	Default.Register('T', timestampConv{})
	Default.Register('C', checksumConv{})
}
