package sformat

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type byteSink struct{ buf []byte }

func (s *byteSink) Append(p []byte)  { s.buf = append(s.buf, p...) }
func (s *byteSink) AppendByte(c byte) { s.buf = append(s.buf, c) }
func (s *byteSink) Bytes() []byte     { return s.buf }

func roundTrip(t *testing.T, conv Converter, f *Format, v Value) Value {
	t.Helper()
	sink := &byteSink{}
	var s Sink = sink
	require.NoError(t, conv.Print(f, &s, v))
	var out Value
	n := conv.Scan(f, sink.buf, &out)
	require.GreaterOrEqual(t, n, 0, "scan should not mismatch on %q", sink.buf)
	return out
}

func TestSignedRoundTrip(t *testing.T) {
	f := &Format{Conv: 'd', Kind: Signed, Prec: -1}
	for _, v := range []int64{0, 42, -42, 1234567890} {
		out := roundTrip(t, signedConv{}, f, IntValue(v))
		require.Equal(t, v, out.I)
	}
}

func TestUnsignedHexRoundTrip(t *testing.T) {
	f := &Format{Conv: 'x', Kind: Unsigned, Prec: -1}
	out := roundTrip(t, unsignedConv{base: 16}, f, UintValue(0xDEADBEEF))
	require.Equal(t, uint64(0xDEADBEEF), out.U)
}

func TestRawBigEndianSignExtend(t *testing.T) {
	f := &Format{Conv: 'r', Kind: Signed, Prec: 2}
	out := roundTrip(t, rawConv{}, f, IntValue(-1))
	require.Equal(t, int64(-1), out.I)
}

func TestRawLittleEndian(t *testing.T) {
	f := &Format{Conv: 'r', Kind: Unsigned, Prec: 2, Flags: FlagAlt}
	out := roundTrip(t, rawConv{}, f, UintValue(0x1234))
	require.Equal(t, int64(0x1234), out.I)
}

func TestPackedBCD(t *testing.T) {
	f := &Format{Conv: 'D', Kind: Signed, Prec: 4}
	sink := &byteSink{}
	var s Sink = sink
	require.NoError(t, bcdConv{}.Print(f, &s, IntValue(12345678)))
	require.Equal(t, []byte{0x12, 0x34, 0x56, 0x78}, sink.buf)
	var out Value
	n := bcdConv{}.Scan(f, sink.buf, &out)
	require.Equal(t, 4, n)
	require.Equal(t, int64(12345678), out.I)
}

func TestPackedBCDInvalidNibbleIsMismatch(t *testing.T) {
	f := &Format{Conv: 'D', Kind: Signed, Prec: 4}
	bad := []byte{0x12, 0x34, 0x56, 0x7A}
	var out Value
	n := bcdConv{}.Scan(f, bad, &out)
	require.Equal(t, -1, n)
}

func TestFloatRoundTripToPrintedPrecision(t *testing.T) {
	f := &Format{Conv: 'f', Kind: Double, Prec: 3}
	out := roundTrip(t, floatConv{style: 'f'}, f, FloatValue(3.14159))
	require.InDelta(t, 3.142, out.F, 0.0005)
}

func TestEnumPrintScan(t *testing.T) {
	f := &Format{Conv: '{', Kind: EnumKind, Info: []byte("OFF|ON|FAULT")}
	out := roundTrip(t, enumConv{}, f, IntValue(1))
	require.Equal(t, int64(1), out.I)
}

func TestBracketSet(t *testing.T) {
	f := &Format{Conv: '[', Kind: StringKind, Info: []byte("0-9")}
	var out Value
	n := bracketConv{}.Scan(f, []byte("12345abc"), &out)
	require.Equal(t, 5, n)
	require.Equal(t, "12345", string(out.S))
}

func TestSkipFlagDiscardsOnScan(t *testing.T) {
	f := &Format{Conv: 'd', Kind: Signed, Flags: FlagSkip, Prec: -1}
	var out Value
	n := signedConv{}.Scan(f, []byte("123"), &out)
	require.Equal(t, 3, n)
	require.Equal(t, Value{}, out)
}

func TestSkipFlagOnPrintIsError(t *testing.T) {
	f := &Format{Conv: 'd', Kind: Signed, Flags: FlagSkip, Prec: -1}
	sink := &byteSink{}
	var s Sink = sink
	require.Error(t, signedConv{}.Print(f, &s, IntValue(1)))
}

func TestChecksumPseudo(t *testing.T) {
	f := &Format{Conv: 'C', Kind: Pseudo}
	sink := &byteSink{}
	sink.buf = []byte("HELLO")
	var s Sink = sink
	require.NoError(t, checksumConv{}.Print(f, &s, Value{}))
	require.Equal(t, 9, len(sink.buf))
}
