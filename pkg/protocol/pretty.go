package protocol

import (
	"fmt"
	"strings"
)

// Pretty renders prog back into protocol source text. Recompiling the
// result with the same block name and no arguments reproduces an
// equivalent Program (spec.md §8's round-trip law) — equivalent, not
// byte-identical, since the original's block nesting, comments and
// $N substitutions are already gone by the time a Program exists.
func Pretty(prog *Program) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s {\n", prog.Name)
	writeParams(&b, prog.Params)
	for _, cmd := range prog.Main {
		writeCommand(&b, cmd, "    ")
	}
	for h := HandlerName(0); h < numHandlers; h++ {
		if !prog.HasHandler(h) {
			continue
		}
		fmt.Fprintf(&b, "    @%s {\n", h)
		for _, cmd := range prog.Handlers[h] {
			writeCommand(&b, cmd, "        ")
		}
		b.WriteString("    }\n")
	}
	b.WriteString("}\n")
	return b.String()
}

func writeParams(b *strings.Builder, p Params) {
	d := DefaultParams()
	if p.LockTimeoutMS != d.LockTimeoutMS {
		fmt.Fprintf(b, "    locktimeout = %d;\n", p.LockTimeoutMS)
	}
	if p.WriteTimeoutMS != d.WriteTimeoutMS {
		fmt.Fprintf(b, "    writetimeout = %d;\n", p.WriteTimeoutMS)
	}
	if p.ReplyTimeoutMS != d.ReplyTimeoutMS {
		fmt.Fprintf(b, "    replytimeout = %d;\n", p.ReplyTimeoutMS)
	}
	if p.ReadTimeoutMS != d.ReadTimeoutMS {
		fmt.Fprintf(b, "    readtimeout = %d;\n", p.ReadTimeoutMS)
	}
	if p.PollPeriodMS != d.PollPeriodMS {
		fmt.Fprintf(b, "    pollperiod = %d;\n", p.PollPeriodMS)
	}
	if p.MaxInput != d.MaxInput {
		fmt.Fprintf(b, "    maxinput = %d;\n", p.MaxInput)
	}
	if len(p.InTerminator) > 0 && string(p.InTerminator) == string(p.OutTerminator) {
		fmt.Fprintf(b, "    terminator = %s;\n", quoteProtocolString(p.InTerminator))
	} else {
		if len(p.InTerminator) > 0 {
			fmt.Fprintf(b, "    interminator = %s;\n", quoteProtocolString(p.InTerminator))
		}
		if len(p.OutTerminator) > 0 {
			fmt.Fprintf(b, "    outterminator = %s;\n", quoteProtocolString(p.OutTerminator))
		}
	}
	if len(p.Separator) > 0 {
		fmt.Fprintf(b, "    separator = %s;\n", quoteProtocolString(p.Separator))
	}
	if p.ExtraInput != d.ExtraInput {
		b.WriteString("    extrainput = ignore;\n")
	}
}

// quoteProtocolString renders s as a protocol string literal using this
// grammar's own escapes, not Go's — renderTemplate already does the
// equivalent for literal runs inside a template.
func quoteProtocolString(s []byte) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, c := range s {
		switch c {
		case '"':
			b.WriteString(`\"`)
		case '\\':
			b.WriteString(`\\`)
		case '\n':
			b.WriteString(`\n`)
		case '\r':
			b.WriteString(`\r`)
		case '\t':
			b.WriteString(`\t`)
		default:
			if c < 0x20 || c == 0x7F {
				b.WriteString(escapeControlByte(c))
			} else {
				b.WriteByte(c)
			}
		}
	}
	b.WriteByte('"')
	return b.String()
}

func writeCommand(b *strings.Builder, cmd Command, indent string) {
	switch cmd.Op {
	case OpIN:
		fmt.Fprintf(b, "%sin \"%s\";\n", indent, renderTemplate(cmd.Template))
	case OpOUT:
		fmt.Fprintf(b, "%sout \"%s\";\n", indent, renderTemplate(cmd.Template))
	case OpEXEC:
		fmt.Fprintf(b, "%sexec \"%s\";\n", indent, renderTemplate(cmd.Template))
	case OpWAIT:
		fmt.Fprintf(b, "%swait %d;\n", indent, cmd.WaitMS)
	case OpEVENT:
		if cmd.EventTimeoutMS != 0 {
			fmt.Fprintf(b, "%sevent(%d, %d);\n", indent, cmd.EventMask, cmd.EventTimeoutMS)
		} else {
			fmt.Fprintf(b, "%sevent(%d);\n", indent, cmd.EventMask)
		}
	}
}
