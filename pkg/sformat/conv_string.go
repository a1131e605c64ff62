package sformat

// --- %s: string, scanf-style: stops at whitespace or Width ---

type stringConv struct{}

func (stringConv) Print(f *Format, out *Sink, v Value) error {
	if f.Flags&FlagSkip != 0 {
		return &skipPrintErr{}
	}
	s := v.S
	if f.HasPrec() && int(f.Prec) < len(s) {
		s = s[:f.Prec]
	}
	(*out).Append([]byte(pad(f, "", string(s))))
	return nil
}

func (stringConv) Scan(f *Format, source []byte, v *Value) int {
	limit := fieldWidth(f, len(source))
	end := 0
	for end < limit && end < len(source) && source[end] != ' ' && source[end] != '\t' && source[end] != '\r' && source[end] != '\n' {
		end++
	}
	if end == 0 {
		return -1
	}
	if f.Flags&FlagSkip == 0 {
		*v = StringValue(append([]byte(nil), source[:end]...))
	}
	return end
}

// --- %c: a single raw byte, or Width bytes if given ---

type charConv struct{}

func (charConv) Print(f *Format, out *Sink, v Value) error {
	if f.Flags&FlagSkip != 0 {
		return &skipPrintErr{}
	}
	(*out).Append(v.S)
	return nil
}

func (charConv) Scan(f *Format, source []byte, v *Value) int {
	n := 1
	if f.Width > 1 {
		n = int(f.Width)
	}
	if len(source) < n {
		return -1
	}
	if f.Flags&FlagSkip == 0 {
		*v = StringValue(append([]byte(nil), source[:n]...))
	}
	return n
}

// --- %[...]: bracket set, the scanf "scanset" conversion ---

type bracketConv struct{}

func parseBracketSet(info []byte) (negate bool, member func(byte) bool) {
	i := 0
	if i < len(info) && info[i] == '^' {
		negate = true
		i++
	}
	set := make(map[byte]bool)
	var ranges [][2]byte
	for i < len(info) {
		if i+2 < len(info) && info[i+1] == '-' {
			ranges = append(ranges, [2]byte{info[i], info[i+2]})
			i += 3
			continue
		}
		set[info[i]] = true
		i++
	}
	member = func(c byte) bool {
		if set[c] {
			return true
		}
		for _, r := range ranges {
			if c >= r[0] && c <= r[1] {
				return true
			}
		}
		return false
	}
	return negate, member
}

func (bracketConv) Print(f *Format, out *Sink, v Value) error {
	if f.Flags&FlagSkip != 0 {
		return &skipPrintErr{}
	}
	(*out).Append([]byte(pad(f, "", string(v.S))))
	return nil
}

func (bracketConv) Scan(f *Format, source []byte, v *Value) int {
	negate, member := parseBracketSet(f.Info)
	limit := fieldWidth(f, len(source))
	end := 0
	for end < limit && end < len(source) {
		in := member(source[end])
		if in == negate {
			break
		}
		end++
	}
	if end == 0 {
		return -1
	}
	if f.Flags&FlagSkip == 0 {
		*v = StringValue(append([]byte(nil), source[:end]...))
	}
	return end
}
