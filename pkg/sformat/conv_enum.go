package sformat

import "bytes"

// enumConv implements %{a|b|c}: Info holds the '|'-separated branch
// list. Printing selects branch v.I/v.U; scanning matches the first
// branch whose literal text is present at the current position and
// reports its index as the scanned value, per spec 4.B.
type enumConv struct{}

func splitBranches(info []byte) [][]byte {
	return bytes.Split(info, []byte{'|'})
}

func (enumConv) Print(f *Format, out *Sink, v Value) error {
	if f.Flags&FlagSkip != 0 {
		return &skipPrintErr{}
	}
	branches := splitBranches(f.Info)
	idx := int(v.I)
	if v.Kind == Unsigned {
		idx = int(v.U)
	}
	if idx < 0 || idx >= len(branches) {
		return &enumRangeErr{idx: idx, n: len(branches)}
	}
	(*out).Append(branches[idx])
	return nil
}

func (enumConv) Scan(f *Format, source []byte, v *Value) int {
	branches := splitBranches(f.Info)
	for idx, branch := range branches {
		if len(branch) == 0 {
			continue
		}
		if bytes.HasPrefix(source, branch) {
			if f.Flags&FlagSkip == 0 {
				*v = IntValue(int64(idx))
			}
			return len(branch)
		}
	}
	return -1
}

type enumRangeErr struct {
	idx, n int
}

func (e *enumRangeErr) Error() string {
	return "sformat: enum index out of range"
}
