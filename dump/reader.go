package dump

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// Database is one parsed database section: its number, the size from its
// resize hint (the expiring-size half of the hint is read and discarded),
// and its entries. A dump file may contain
// more than one database section; this server's Store only ever holds
// database 0, so Read returns just the last section parsed.
type Database struct {
	Number  uint64
	Size    uint64
	Entries []ValueEntry
}

// ValueEntry is one decoded (key, value, expiry) triple from a database
// section. ExpiresAtMs is an absolute epoch-millisecond instant, or nil
// if the entry has no TTL.
type ValueEntry struct {
	Key         string
	Value       []byte
	ExpiresAtMs *int64
}

// countingReader wraps a *bufio.Reader and folds every byte read into a
// running CRC-64, so that by the time the 0xFF end-opcode is consumed the
// checksum over everything from the magic through that byte is known.
type countingReader struct {
	br  *bufio.Reader
	crc uint64
}

func (c *countingReader) get(n int) ([]byte, error) {
	buf := make([]byte, n)
	if _, err := io.ReadFull(c.br, buf); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return nil, errors.Wrap(errFormat, "unexpected end of file")
		}
		return nil, err
	}
	c.crc = updateCRC(c.crc, buf)
	return buf, nil
}

func (c *countingReader) byte() (byte, error) {
	b, err := c.get(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (c *countingReader) length() (uint64, bool, error) {
	return decodeLength(c.get)
}

// string reads a "string encoding" value: either length-prefixed raw
// bytes, or one of the three special integer tags decimal-stringified.
func (c *countingReader) string() ([]byte, error) {
	n, special, err := c.length()
	if err != nil {
		return nil, err
	}
	if !special {
		return c.get(int(n))
	}

	switch n {
	case specialUint8:
		b, err := c.byte()
		if err != nil {
			return nil, err
		}
		return []byte(itoa(int64(b))), nil
	case specialInt16:
		b, err := c.get(2)
		if err != nil {
			return nil, err
		}
		v := int16(binary.BigEndian.Uint16(b))
		return []byte(itoa(int64(v))), nil
	case specialInt32:
		b, err := c.get(4)
		if err != nil {
			return nil, err
		}
		v := int32(binary.BigEndian.Uint32(b))
		return []byte(itoa(int64(v))), nil
	default:
		return nil, errors.Wrapf(errFormat, "unsupported special string tag %d", n)
	}
}

// Read parses a dump file stream and returns the last database section
// encountered, or a zero-value, non-nil *Database (Entries == nil) if the
// file never declares one (e.g. a freshly-initialized empty dump). The
// returned pointer is never nil on success. When verifyCRC is true, the
// CRC-64 computed from the magic through the final 0xFF byte is compared
// against the file's declared trailer, which is treated as disabling
// verification when it is the all-zero sentinel (the 8-byte trailer is
// either the true checksum or all zero to disable verification). When
// verifyCRC is false, any trailer is accepted without inspection.
func Read(r io.Reader, verifyCRC bool) (*Database, error) {
	br := bufio.NewReader(r)

	header := make([]byte, headerLen)
	if _, err := io.ReadFull(br, header); err != nil {
		return nil, errors.Wrap(errFormat, "truncated header")
	}
	if string(header[:magicLen]) != Magic {
		return nil, errors.Wrap(errFormat, "bad magic")
	}

	c := &countingReader{br: br}
	c.crc = updateCRC(0, header)

	last := &Database{}

	for {
		opByte, err := c.byte()
		if err != nil {
			return nil, err
		}

		switch opcode(opByte) {
		case opEOF:
			trailer, err := io.ReadAll(io.LimitReader(br, crcLen))
			if err != nil {
				return nil, errors.Wrap(err, "dump: reading CRC trailer")
			}
			if len(trailer) != crcLen {
				return nil, errors.Wrap(errFormat, "short CRC trailer")
			}
			if verifyCRC {
				declared := binary.BigEndian.Uint64(trailer)
				if declared != 0 && declared != c.crc {
					return nil, errors.Wrapf(errFormat, "CRC-64 mismatch: file says %#x, computed %#x", declared, c.crc)
				}
			}
			return last, nil

		case opMetadata:
			if _, err := c.string(); err != nil {
				return nil, err
			}
			if _, err := c.string(); err != nil {
				return nil, err
			}

		case opSelectDB:
			dbNum, _, err := c.length()
			if err != nil {
				return nil, err
			}

			resizeOp, err := c.byte()
			if err != nil {
				return nil, err
			}
			if opcode(resizeOp) != opResizeDB {
				return nil, errors.Wrap(errFormat, "expected resize-db opcode after select-db")
			}
			dbSize, _, err := c.length()
			if err != nil {
				return nil, err
			}
			expireSize, _, err := c.length()
			if err != nil {
				return nil, err
			}

			db := &Database{Number: dbNum, Size: dbSize}
			for i := uint64(0); i < dbSize; i++ {
				entry, err := c.readEntry()
				if err != nil {
					return nil, err
				}
				db.Entries = append(db.Entries, entry)
			}
			_ = expireSize
			last = db

		default:
			return nil, errors.Wrapf(errFormat, "unexpected opcode %#x", opByte)
		}
	}
}

// readEntry reads one "[<expiry>]<type><key><value>" entry. It peeks the
// leading byte itself so it can also consume the optional expiry prefix,
// rather than requiring the caller to recognize it first.
func (c *countingReader) readEntry() (ValueEntry, error) {
	b, err := c.byte()
	if err != nil {
		return ValueEntry{}, err
	}

	var expiresAt *int64
	switch opcode(b) {
	case opExpireSec:
		raw, err := c.get(4)
		if err != nil {
			return ValueEntry{}, err
		}
		secs := binary.LittleEndian.Uint32(raw)
		ms := int64(secs) * 1000
		expiresAt = &ms
		b, err = c.byte()
		if err != nil {
			return ValueEntry{}, err
		}
	case opExpireMs:
		raw, err := c.get(8)
		if err != nil {
			return ValueEntry{}, err
		}
		ms := int64(binary.LittleEndian.Uint64(raw))
		expiresAt = &ms
		b, err = c.byte()
		if err != nil {
			return ValueEntry{}, err
		}
	}

	if valueType(b) != TypeString {
		return ValueEntry{}, errors.Wrapf(errFormat, "unsupported value type %#x", b)
	}

	key, err := c.string()
	if err != nil {
		return ValueEntry{}, err
	}
	val, err := c.string()
	if err != nil {
		return ValueEntry{}, err
	}

	return ValueEntry{Key: string(key), Value: val, ExpiresAtMs: expiresAt}, nil
}
