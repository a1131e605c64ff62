// Package sformat implements StreamFormat, the immutable descriptor a
// compiled protocol carries for every `%...` conversion in an out/in
// template, and the registry of converters that print and scan against
// it. Converters are dispatched by a single character exactly as the
// protocol source spells it (`d i o u x X f e E g G c s [ b r D { T`,
// plus whatever a caller registers under its own letter).
package sformat

import "fmt"

// Kind classifies the shape of value a Format's converter expects.
type Kind int

const (
	Signed Kind = iota
	Unsigned
	EnumKind
	Double
	StringKind
	Pseudo
)

// Flag is a bitset of the printf-style modifiers a conversion recognizes.
type Flag uint8

const (
	// FlagLeft left-justifies within Width instead of right-justifying.
	FlagLeft Flag = 1 << iota
	// FlagSign always emits a sign for numeric conversions.
	FlagSign
	// FlagSpace emits a leading space in place of a sign for non-negative
	// numeric conversions.
	FlagSpace
	// FlagAlt is converter-specific: for `r` it selects little-endian
	// instead of big-endian; for `#`-style conversions it would request
	// the alternate form.
	FlagAlt
	// FlagZero zero-pads instead of space-padding.
	FlagZero
	// FlagSkip discards a scanned value instead of returning it, and is
	// an error if used on a print.
	FlagSkip
)

// Format is the immutable per-conversion descriptor produced by the
// protocol compiler. Info is opaque converter-specific payload: the
// bracket-set body for `[`, the `|`-separated branch list for `{`.
type Format struct {
	Conv  byte
	Kind  Kind
	Flags Flag
	Width uint16
	Prec  int16
	Info  []byte
}

// HasPrec reports whether a precision was explicitly given (as opposed
// to defaulting); the compiler encodes "not given" as Prec == -1.
func (f *Format) HasPrec() bool { return f.Prec >= 0 }

// Value is the small tagged union values move through between the
// record bridge and a converter: exactly one of the typed fields is
// meaningful, selected by Kind.
type Value struct {
	Kind Kind
	I    int64
	U    uint64
	F    float64
	S    []byte
}

func IntValue(i int64) Value     { return Value{Kind: Signed, I: i} }
func UintValue(u uint64) Value   { return Value{Kind: Unsigned, U: u} }
func FloatValue(f float64) Value { return Value{Kind: Double, F: f} }
func StringValue(s []byte) Value { return Value{Kind: StringKind, S: s} }

// Converter prints and scans the field described by a Format. Scan
// returns the number of bytes consumed from source on success, or a
// negative number on mismatch.
type Converter interface {
	Print(f *Format, out *Sink, v Value) error
	Scan(f *Format, source []byte, v *Value) int
}

// Sink is the minimal surface a converter needs from the output buffer;
// pkg/streambuf.Buffer satisfies it, and tests can supply a bytes.Buffer
// wrapper without importing streambuf.
type Sink interface {
	Append(p []byte)
	AppendByte(c byte)
	Bytes() []byte
}

// MismatchErr describes a conversion letter that has no registered
// converter. Registry.Lookup reports that case through its boolean
// result instead, and Converter.Scan signals a mismatch via a negative
// count; nothing in this package returns MismatchErr itself.
type MismatchErr struct{ Conv byte }

func (e *MismatchErr) Error() string {
	return fmt.Sprintf("sformat: no converter registered for %%%c", e.Conv)
}
