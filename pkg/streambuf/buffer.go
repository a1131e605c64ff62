// Package streambuf implements the growable byte buffer shared by every
// phase of a protocol session: the outgoing template is printf'd into one,
// incoming bytes are appended to another, and both are reset before the
// next command reuses them.
package streambuf

import (
	"bytes"
	"fmt"
)

// DefaultCeiling is the hard growth ceiling applied when a Buffer is
// constructed with New. A protocol that legitimately needs more than this
// in one message should raise maxinput explicitly and construct the
// buffer with NewWithCeiling instead of silently growing forever.
const DefaultCeiling = 10000

// inlineSize is the size of the inline backing array new buffers start
// with, avoiding a heap allocation for the common case of short commands.
const inlineSize = 64

// Buffer is an owned, resizable byte sequence with a read offset, a
// length, and a capacity. Valid content occupies data[off : off+len].
// Bytes in data[off+len:cap(data)] are always zero.
type Buffer struct {
	data    []byte
	off     int
	len     int
	ceiling int
	inline  [inlineSize]byte
}

// New returns an empty Buffer that aborts growth past DefaultCeiling.
func New() *Buffer {
	return NewWithCeiling(DefaultCeiling)
}

// NewWithCeiling returns an empty Buffer that aborts growth past ceiling.
// A ceiling of 0 means unlimited.
func NewWithCeiling(ceiling int) *Buffer {
	b := &Buffer{ceiling: ceiling}
	b.data = b.inline[:0]
	return b
}

// Len returns the number of valid bytes currently held.
func (b *Buffer) Len() int { return b.len }

// Cap returns the current backing capacity.
func (b *Buffer) Cap() int { return cap(b.data) }

// Bytes returns the valid content as a slice aliasing the buffer's
// storage. The slice is invalidated by any mutating call.
func (b *Buffer) Bytes() []byte { return b.data[b.off : b.off+b.len] }

// Reset discards all content without releasing storage.
func (b *Buffer) Reset() {
	for i := 0; i < b.off+b.len; i++ {
		b.data[i] = 0
	}
	b.off = 0
	b.len = 0
}

// invariant panics with a diagnostic if the buffer's bookkeeping has
// drifted out of the documented invariant. Kept cheap enough to call
// from every mutator in debug builds of callers that want it.
func (b *Buffer) invariant() {
	if b.off < 0 || b.off+b.len > cap(b.data) {
		panic(fmt.Sprintf("streambuf: invariant violated: off=%d len=%d cap=%d", b.off, b.len, cap(b.data)))
	}
}

// slideToFront copies valid content to offset 0, reclaiming the leading
// gap left by prior front-trims. O(len), only called when an operation
// actually needs the room.
func (b *Buffer) slideToFront() {
	if b.off == 0 {
		return
	}
	copy(b.data[0:b.len], b.data[b.off:b.off+b.len])
	for i := b.len; i < b.off+b.len; i++ {
		b.data[i] = 0
	}
	b.off = 0
}

// grow ensures at least n more bytes are available after off+len,
// doubling capacity until the target fits. It aborts (panics) past the
// configured ceiling: this is a fatal programming error per spec, not a
// recoverable one, because a protocol file that produces unbounded
// output has no sane record-level mitigation.
func (b *Buffer) grow(n int) {
	if b.ceiling > 0 && b.len+n > b.ceiling {
		panic(fmt.Sprintf("streambuf: growth to %d bytes exceeds ceiling %d", b.len+n, b.ceiling))
	}
	need := b.off + b.len + n
	if need <= cap(b.data) {
		if len(b.data) < need {
			b.data = b.data[:need]
		}
		return
	}
	if b.off > 0 && b.len+n <= cap(b.data) {
		b.slideToFront()
		if b.len+n <= cap(b.data) {
			if len(b.data) < b.len+n {
				b.data = b.data[:b.len+n]
			}
			return
		}
	}
	newCap := cap(b.data)
	if newCap == 0 {
		newCap = inlineSize
	}
	for newCap < need {
		newCap *= 2
	}
	if b.ceiling > 0 && newCap > b.ceiling {
		if need > b.ceiling {
			panic(fmt.Sprintf("streambuf: growth to %d bytes exceeds ceiling %d", need, b.ceiling))
		}
		newCap = b.ceiling
	}
	nd := make([]byte, need, newCap)
	copy(nd, b.data[:b.off+b.len])
	b.data = nd
}

// Append extends the buffer with p. A negative-length append is not
// expressible with a []byte argument; use Truncate for that case.
func (b *Buffer) Append(p []byte) {
	if len(p) == 0 {
		return
	}
	b.grow(len(p))
	copy(b.data[b.off+b.len:], p)
	b.len += len(p)
}

// AppendByte appends a single byte.
func (b *Buffer) AppendByte(c byte) {
	b.grow(1)
	b.data[b.off+b.len] = c
	b.len++
}

// Truncate sets the valid length to n, zeroing any bytes vacated when n
// is smaller than the current length. Negative n truncates from the end
// relative to the current length (Truncate(-k) drops the last k bytes).
func (b *Buffer) Truncate(n int) {
	if n < 0 {
		n = b.len + n
	}
	if n < 0 {
		n = 0
	}
	if n > b.len {
		return
	}
	for i := n; i < b.len; i++ {
		b.data[b.off+i] = 0
	}
	b.len = n
}

// TrimFront discards the first n bytes in O(1) by bumping off. n is
// clamped to [0, len].
func (b *Buffer) TrimFront(n int) {
	if n <= 0 {
		return
	}
	if n > b.len {
		n = b.len
	}
	b.off += n
	b.len -= n
}

// Find searches for needle starting at start, returning its offset
// within the valid content or -1. A negative start wraps relative to
// Len(). An empty needle matches at start (clamped into range).
func (b *Buffer) Find(needle []byte, start int) int {
	if start < 0 {
		start += b.len
	}
	if start < 0 {
		start = 0
	}
	if start > b.len {
		return -1
	}
	if len(needle) == 0 {
		return start
	}
	idx := bytes.Index(b.data[b.off+start:b.off+b.len], needle)
	if idx < 0 {
		return -1
	}
	return start + idx
}

// Replace removes rem bytes at at and inserts ins in their place.
// Negative at and overlong rem are clamped to valid ranges. Removing a
// prefix (at==0) only bumps off instead of copying.
func (b *Buffer) Replace(at, rem int, ins []byte) {
	if at < 0 {
		at += b.len
	}
	if at < 0 {
		at = 0
	}
	if at > b.len {
		at = b.len
	}
	if rem < 0 {
		rem = 0
	}
	if at+rem > b.len {
		rem = b.len - at
	}

	if at == 0 && rem > 0 && len(ins) == 0 {
		b.TrimFront(rem)
		return
	}

	tailLen := b.len - at - rem
	delta := len(ins) - rem
	if delta > 0 {
		b.grow(delta)
	}
	if tailLen > 0 {
		copy(b.data[b.off+at+len(ins):], b.data[b.off+at+rem:b.off+at+rem+tailLen])
	}
	copy(b.data[b.off+at:], ins)
	newLen := at + len(ins) + tailLen
	if delta < 0 {
		for i := newLen; i < b.len; i++ {
			b.data[b.off+i] = 0
		}
	}
	b.len = newLen
}

// Printf formats with fmt.Sprintf and appends the result to the tail of
// the buffer, growing it as needed. It must byte-match fmt.Sprintf for the
// verbs and flags Go's fmt package shares with C's printf; callers
// needing printf verbs fmt doesn't support (binary %b-as-ASCII-digits,
// raw endian dumps, packed BCD) go through pkg/sformat instead, which
// calls AppendByte/Append directly rather than through this method.
func (b *Buffer) Printf(format string, args ...interface{}) {
	s := fmt.Sprintf(format, args...)
	b.Append([]byte(s))
}

// Expand renders bytes[from:to] (clamped into range) as an ASCII debug
// string: printable bytes pass through, everything else (including 0x7F)
// is rendered as <hh>.
func (b *Buffer) Expand(from, to int) string {
	if from < 0 {
		from = 0
	}
	if to > b.len {
		to = b.len
	}
	if from > to {
		from = to
	}
	var out bytes.Buffer
	for _, c := range b.data[b.off+from : b.off+to] {
		if c < 0x20 || c == 0x7F {
			fmt.Fprintf(&out, "<%02x>", c)
		} else {
			out.WriteByte(c)
		}
	}
	return out.String()
}
