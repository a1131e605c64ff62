package protocol

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompileSimpleBlock(t *testing.T) {
	src := `
identify {
    terminator = "\r\n";
    out "*IDN?";
    in "%39s";
}
`
	prog, err := Compile([]byte(src), "identify.proto", "identify", nil)
	require.NoError(t, err)
	require.Equal(t, "\r\n", string(prog.Params.InTerminator))
	require.Equal(t, "\r\n", string(prog.Params.OutTerminator))
	require.Len(t, prog.Main, 2)
	require.Equal(t, OpOUT, prog.Main[0].Op)
	require.Equal(t, OpIN, prog.Main[1].Op)
	require.Len(t, prog.Main[1].Template, 1)
	require.Equal(t, ElemFormat, prog.Main[1].Template[0].Kind)
	require.Equal(t, byte('s'), prog.Main[1].Template[0].Format.Conv)
}

func TestCompileHandlers(t *testing.T) {
	src := `
poll {
    replytimeout = 200;
    out "READ";
    in "%d";
    @replytimeout {
        out "READ";
        in "%d";
    }
    @mismatch {
        out "RESET";
    }
}
`
	prog, err := Compile([]byte(src), "poll.proto", "poll", nil)
	require.NoError(t, err)
	require.True(t, prog.HasHandler(HandlerReplyTimeout))
	require.True(t, prog.HasHandler(HandlerMismatch))
	require.False(t, prog.HasHandler(HandlerInit))
	require.Len(t, prog.Handlers[HandlerReplyTimeout], 2)
}

func TestCompileBlockArguments(t *testing.T) {
	src := `
setpoint {
    out "SET $1 $2";
    in "OK";
}
`
	prog, err := Compile([]byte(src), "setpoint.proto", "setpoint", []string{"CH1", "3.14"})
	require.NoError(t, err)
	require.Len(t, prog.Main, 2)
	lit, ok := soleLiteral(prog.Main[0].Template)
	require.True(t, ok)
	require.Equal(t, "SET CH1 3.14", lit)
}

func TestParseInvocation(t *testing.T) {
	name, args, err := ParseInvocation("setpoint(CH1, 3.14)")
	require.NoError(t, err)
	require.Equal(t, "setpoint", name)
	require.Equal(t, []string{"CH1", "3.14"}, args)

	name, args, err = ParseInvocation("identify")
	require.NoError(t, err)
	require.Equal(t, "identify", name)
	require.Nil(t, args)

	_, _, err = ParseInvocation("broken(a, b")
	require.Error(t, err)
}

func TestSkipWildcardAndLiteralQuestionMark(t *testing.T) {
	src := `
ack {
    out "PING";
    in "OK?\?";
}
`
	prog, err := Compile([]byte(src), "ack.proto", "ack", nil)
	require.NoError(t, err)
	elems := prog.Main[1].Template
	require.Len(t, elems, 3)
	require.Equal(t, ElemLiteral, elems[0].Kind)
	require.Equal(t, "OK", string(elems[0].Literal))
	require.Equal(t, ElemSkip, elems[1].Kind)
	require.Equal(t, ElemLiteral, elems[2].Kind)
	require.Equal(t, "?", string(elems[2].Literal))
}

func TestFieldAddressedFormat(t *testing.T) {
	src := `
report {
    out "%(setpoint.VAL)d";
}
`
	prog, err := Compile([]byte(src), "report.proto", "report", nil)
	require.NoError(t, err)
	elems := prog.Main[0].Template
	require.Len(t, elems, 1)
	require.Equal(t, ElemFormatField, elems[0].Kind)
	require.Equal(t, "setpoint.VAL", elems[0].FieldPath)
	require.Equal(t, byte('d'), elems[0].Format.Conv)
}

func TestUnknownConversionIsCompileError(t *testing.T) {
	src := `
bad {
    out "%Q";
}
`
	_, err := Compile([]byte(src), "bad.proto", "bad", nil)
	require.Error(t, err)
}

func TestUnknownBlockNameIsCompileError(t *testing.T) {
	src := `known { out "X"; }`
	_, err := Compile([]byte(src), "f.proto", "missing", nil)
	require.Error(t, err)
}

func TestPrettyRoundTrip(t *testing.T) {
	src := `
cycle {
    terminator = "\r\n";
    separator = ", ";
    out "START";
    in "%d,%d";
    wait 50;
    event(1, 500);
    @init {
        out "RESET";
    }
}
`
	prog, err := Compile([]byte(src), "cycle.proto", "cycle", nil)
	require.NoError(t, err)

	rendered := Pretty(prog)
	prog2, err := Compile([]byte(rendered), "cycle.proto", "cycle", nil)
	require.NoError(t, err, "re-compiling pretty-printed output: %s", rendered)

	require.Equal(t, prog.Params, prog2.Params)
	require.Equal(t, len(prog.Main), len(prog2.Main))
	require.True(t, prog2.HasHandler(HandlerInit))
}

func soleLiteral(elems []Element) (string, bool) {
	if len(elems) != 1 || elems[0].Kind != ElemLiteral {
		return "", false
	}
	return string(elems[0].Literal), true
}
