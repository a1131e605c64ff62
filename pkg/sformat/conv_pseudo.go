package sformat

import "time"

// timestampConv implements %T, a pseudo conversion that injects the
// current absolute time rather than transferring a value from the
// record bridge. Info, if non-empty, is a Go reference-time layout
// string; it defaults to RFC3339.
type timestampConv struct{}

func (timestampConv) layout(f *Format) string {
	if len(f.Info) > 0 {
		return string(f.Info)
	}
	return time.RFC3339
}

func (c timestampConv) Print(f *Format, out *Sink, v Value) error {
	(*out).Append([]byte(time.Now().UTC().Format(c.layout(f))))
	return nil
}

// Scan consumes a run of characters that could plausibly be a rendered
// timestamp, without validating its content: a pseudo field doesn't
// transfer a value, it just needs to not desynchronize the match.
func (timestampConv) Scan(f *Format, source []byte, v *Value) int {
	end := 0
	for end < len(source) && isTimestampByte(source[end]) {
		end++
	}
	if end == 0 {
		return -1
	}
	return end
}

func isTimestampByte(c byte) bool {
	return isDigit(c) || c == '-' || c == ':' || c == 'T' || c == 'Z' || c == '.' || c == '+'
}

// checksumConv implements %C, a pseudo conversion that emits a CRC-16
// (Modbus polynomial) of everything written to the output buffer so
// far. FlagAlt selects raw big-endian bytes instead of 4 uppercase hex
// digits. On input it consumes the same width without validating it:
// end-to-end checksum verification belongs to the record bridge, which
// can always recompute and compare against the raw bytes if it cares.
type checksumConv struct{}

func (checksumConv) Print(f *Format, out *Sink, v Value) error {
	sum := crc16Modbus((*out).Bytes())
	if f.Flags&FlagAlt != 0 {
		(*out).Append([]byte{byte(sum >> 8), byte(sum)})
		return nil
	}
	const hex = "0123456789ABCDEF"
	buf := [4]byte{hex[sum>>12&0xF], hex[sum>>8&0xF], hex[sum>>4&0xF], hex[sum&0xF]}
	(*out).Append(buf[:])
	return nil
}

func (checksumConv) Scan(f *Format, source []byte, v *Value) int {
	n := 4
	if f.Flags&FlagAlt != 0 {
		n = 2
	}
	if len(source) < n {
		return -1
	}
	return n
}

// crc16Modbus computes the standard Modbus CRC-16 (poly 0xA001,
// reflected, init 0xFFFF) bit-by-bit rather than via a lookup table,
// trading a little throughput for a self-contained implementation.
func crc16Modbus(data []byte) uint16 {
	crc := uint16(0xFFFF)
	for _, b := range data {
		crc ^= uint16(b)
		for i := 0; i < 8; i++ {
			if crc&1 != 0 {
				crc = (crc >> 1) ^ 0xA001
			} else {
				crc >>= 1
			}
		}
	}
	return crc
}
