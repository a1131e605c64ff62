package session

import (
	"fmt"

	"streamdrive/pkg/protocol"
	"streamdrive/pkg/record"
	"streamdrive/pkg/sformat"
)

// formatOutputLocked renders cmd's template (an OUT or EXEC command) into
// s.outputBuf, consulting s.bridge for every FORMAT/FORMAT_FIELD token and
// applying separator semantics between consecutive formatted values
// (spec.md §6.1's separator: the first value in a command clears the
// armed flag without emitting anything, every later one emits the
// separator first). Must be called with mu held.
func (s *Session) formatOutputLocked(cmd protocol.Command) error {
	for _, e := range cmd.Template {
		switch e.Kind {
		case protocol.ElemLiteral:
			s.outputBuf.Append(e.Literal)
		case protocol.ElemSkip:
			// SKIP emits nothing on output.
		case protocol.ElemFormat, protocol.ElemFormatField:
			if s.separatorArmed {
				s.outputBuf.Append(s.prog.Params.Separator)
			}
			s.separatorArmed = true
			if err := s.printOneLocked(e); err != nil {
				return err
			}
		}
	}
	return nil
}

func (s *Session) printOneLocked(e protocol.Element) error {
	conv, ok := sformat.Default.Lookup(e.Format.Conv)
	if !ok {
		return fmt.Errorf("session: no converter for %%%c", e.Format.Conv)
	}
	var sink sformat.Sink = s.outputBuf
	printer := printSink{conv: conv, f: e.Format, sink: &sink}
	if e.Kind == protocol.ElemFormatField {
		addr, err := s.bridge.GetFieldAddress(e.FieldPath)
		if err != nil {
			return err
		}
		return s.bridge.FormatValue(addr, e.Format, printer)
	}
	return s.bridge.WriteData(s.id, e.Format, printer)
}

// printSink is the record.ValueSink a formatOutputLocked hands to the
// bridge: PrintValue runs the registered converter against the value the
// bridge supplies.
type printSink struct {
	conv sformat.Converter
	f    *sformat.Format
	sink *sformat.Sink
}

func (p printSink) PrintValue(v sformat.Value) error {
	return p.conv.Print(p.f, p.sink, v)
}

// matchInputLocked scans cmd's template (an IN command) against
// s.inputBuf's current content, consuming bytes front to back and
// reporting the first point of mismatch as a plain error (the caller maps
// that to ScanError). Must be called with mu held.
func (s *Session) matchInputLocked(cmd protocol.Command) error {
	data := s.inputBuf.Bytes()
	pos := 0
	for _, e := range cmd.Template {
		switch e.Kind {
		case protocol.ElemLiteral:
			if pos+len(e.Literal) > len(data) {
				return fmt.Errorf("session: input too short for literal %q", e.Literal)
			}
			for i, c := range e.Literal {
				if data[pos+i] != c {
					return fmt.Errorf("session: literal mismatch, want %q at offset %d", e.Literal, pos+i)
				}
			}
			pos += len(e.Literal)
		case protocol.ElemSkip:
			if pos >= len(data) {
				return fmt.Errorf("session: SKIP found no byte to consume at offset %d", pos)
			}
			pos++
		case protocol.ElemFormat, protocol.ElemFormatField:
			if s.separatorArmed {
				n, ok := consumeSeparator(data[pos:], s.prog.Params.Separator)
				if !ok {
					return fmt.Errorf("session: separator mismatch at offset %d", pos)
				}
				pos += n
			}
			s.separatorArmed = true
			n, err := s.scanOneLocked(e, data[pos:])
			if err != nil {
				return err
			}
			pos += n
		}
	}
	s.consumedInput = pos
	if pos < len(data) && s.prog.Params.ExtraInput == protocol.ExtraInputError {
		return fmt.Errorf("session: %d unconsumed trailing byte(s)", len(data)-pos)
	}
	return nil
}

// scanOneLocked scans one FORMAT/FORMAT_FIELD token out of source. For a
// plain FORMAT token it hands the bridge both the raw bytes and a scan
// closure running the usual sformat conversion, so a bridge that wants
// to consume the bytes itself (record.DoNotConvert) can skip sformat
// entirely; FORMAT_FIELD always goes through the standard conversion,
// since only readData is a documented pseudo-conversion hook (spec.md
// §4.F/§6.3).
func (s *Session) scanOneLocked(e protocol.Element, source []byte) (int, error) {
	conv, ok := sformat.Default.Lookup(e.Format.Conv)
	if !ok {
		return 0, fmt.Errorf("session: no converter for %%%c", e.Format.Conv)
	}
	scan := func(raw []byte) (sformat.Value, int, error) {
		var v sformat.Value
		n := conv.Scan(e.Format, raw, &v)
		if n < 0 {
			return sformat.Value{}, 0, fmt.Errorf("session: scan mismatch for %%%c against %q", e.Format.Conv, raw)
		}
		return v, n, nil
	}

	if e.Kind == protocol.ElemFormatField {
		v, n, err := scan(source)
		if err != nil {
			return 0, err
		}
		addr, err := s.bridge.GetFieldAddress(e.FieldPath)
		if err != nil {
			return 0, err
		}
		if err := s.bridge.MatchValue(addr, e.Format, v); err != nil {
			return 0, err
		}
		return n, nil
	}

	action, n, err := s.bridge.ReadData(s.id, e.Format, source, scan)
	if err != nil {
		return 0, err
	}
	if action == record.DoNotConvert {
		s.log.Printf("session %s: bridge consumed %%%c directly (DoNotConvert)", s.id, e.Format.Conv)
	}
	return n, nil
}

// consumeSeparator matches sep against the front of data. A leading space
// in sep means "skip any amount of whitespace" before the remaining,
// literal part of sep must match exactly (spec.md §6.1).
func consumeSeparator(data, sep []byte) (int, bool) {
	if len(sep) == 0 {
		return 0, true
	}
	pos := 0
	rest := sep
	if sep[0] == ' ' {
		for pos < len(data) && isSpace(data[pos]) {
			pos++
		}
		rest = sep[1:]
	}
	if pos+len(rest) > len(data) {
		return 0, false
	}
	for i, c := range rest {
		if data[pos+i] != c {
			return 0, false
		}
	}
	return pos + len(rest), true
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r'
}

var _ record.ValueSink = printSink{}
