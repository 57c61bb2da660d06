package dump

import "github.com/pkg/errors"

// errFormat marks a malformed dump file: a bad magic, an unsupported
// value type, a special string-encoding tag other than 0/1/2, or a CRC
// mismatch. A restore failure is logged and the store simply starts
// empty — the caller decides that, not this package.
var errFormat = errors.New("dump: malformed file")

// decodeLength reads a length-encoded integer: the first byte's top two
// bits select a 6-bit, 14-bit, 32-bit, or "special" encoding. special is true
// when the special-encoding bit (flag 3) was set, in which case n is the
// special tag, not a length.
func decodeLength(get func(int) ([]byte, error)) (n uint64, special bool, err error) {
	b, err := get(1)
	if err != nil {
		return 0, false, err
	}
	l := b[0]
	flag := l >> 6

	switch flag {
	case lenFlag6Bit:
		return uint64(l & 0x3F), false, nil
	case lenFlag14Bit:
		m, err := get(1)
		if err != nil {
			return 0, false, err
		}
		return uint64(l&0x3F)<<8 | uint64(m[0]), false, nil
	case lenFlag32Bit:
		b4, err := get(4)
		if err != nil {
			return 0, false, err
		}
		return uint64(b4[0])<<24 | uint64(b4[1])<<16 | uint64(b4[2])<<8 | uint64(b4[3]), false, nil
	case lenFlagSpecial:
		return uint64(l & 0x3F), true, nil
	default:
		panic("unreachable: flag is two bits")
	}
}

// encodeLength appends the length-prefix encoding of v to dst, choosing
// the smallest form that represents it.
func encodeLength(dst []byte, v uint64) []byte {
	switch {
	case v < 64:
		return append(dst, byte(v))
	case v < 16384:
		return append(dst, byte(0x40|(v>>8)), byte(v&0xFF))
	default:
		dst = append(dst, 0x80)
		return append(dst,
			byte(v>>24), byte(v>>16), byte(v>>8), byte(v))
	}
}
