package dump

import (
	"bufio"
	"encoding/binary"
	"io"

	"github.com/pkg/errors"
)

// countingWriter wraps a *bufio.Writer, folding every written byte into a
// running CRC-64 so the trailer can be computed without a second pass.
type countingWriter struct {
	bw  *bufio.Writer
	crc uint64
}

func (c *countingWriter) write(p []byte) error {
	if _, err := c.bw.Write(p); err != nil {
		return err
	}
	c.crc = updateCRC(c.crc, p)
	return nil
}

func (c *countingWriter) writeByte(b byte) error {
	return c.write([]byte{b})
}

func (c *countingWriter) writeLength(v uint64) error {
	return c.write(encodeLength(nil, v))
}

// writeString writes a length-prefixed string. Unlike the reader, the
// writer never chooses a special integer encoding — it always emits the
// raw length-prefixed form, which is always a legal decoding even when
// the payload happens to look like a small integer.
func (c *countingWriter) writeString(s []byte) error {
	if err := c.writeLength(uint64(len(s))); err != nil {
		return err
	}
	return c.write(s)
}

// Write serializes entries as a complete dump file: header, optional metadata
// pairs, one select-db section with a resize hint, the entries (each
// using the smallest applicable expiry opcode), the EOF opcode, and an
// 8-byte CRC-64 trailer (or eight zero bytes when includeCRC is false).
//
// Exactly one database section is emitted (database 0) even though the
// format itself allows more — this server only ever holds one logical
// database.
func Write(w io.Writer, entries []ValueEntry, metadata map[string]string, includeCRC bool) error {
	bw := bufio.NewWriter(w)
	c := &countingWriter{bw: bw}

	if err := c.write([]byte(Magic + Version)); err != nil {
		return errors.Wrap(err, "dump: writing header")
	}

	for k, v := range metadata {
		if err := c.writeByte(byte(opMetadata)); err != nil {
			return err
		}
		if err := c.writeString([]byte(k)); err != nil {
			return err
		}
		if err := c.writeString([]byte(v)); err != nil {
			return err
		}
	}

	if err := c.writeByte(byte(opSelectDB)); err != nil {
		return err
	}
	if err := c.writeLength(0); err != nil { // database 0
		return err
	}

	expiring := 0
	for _, e := range entries {
		if e.ExpiresAtMs != nil {
			expiring++
		}
	}

	if err := c.writeByte(byte(opResizeDB)); err != nil {
		return err
	}
	if err := c.writeLength(uint64(len(entries))); err != nil {
		return err
	}
	if err := c.writeLength(uint64(expiring)); err != nil {
		return err
	}

	for _, e := range entries {
		if err := c.writeEntry(e); err != nil {
			return err
		}
	}

	if err := c.writeByte(byte(opEOF)); err != nil {
		return err
	}

	trailer := make([]byte, crcLen)
	if includeCRC {
		binary.BigEndian.PutUint64(trailer, c.crc)
	}
	if err := c.bw.Flush(); err != nil {
		return errors.Wrap(err, "dump: flushing")
	}
	if _, err := w.Write(trailer); err != nil {
		return errors.Wrap(err, "dump: writing CRC trailer")
	}

	return nil
}

// writeEntry chooses the smallest expiry opcode that represents e's ttl:
// none, seconds (when the millisecond remainder is exactly zero), or
// milliseconds otherwise. Both expiry fields are written little-endian.
func (c *countingWriter) writeEntry(e ValueEntry) error {
	if e.ExpiresAtMs != nil {
		ms := *e.ExpiresAtMs
		if ms >= 0 && ms%1000 == 0 {
			if err := c.writeByte(byte(opExpireSec)); err != nil {
				return err
			}
			buf := make([]byte, 4)
			binary.LittleEndian.PutUint32(buf, uint32(ms/1000))
			if err := c.write(buf); err != nil {
				return err
			}
		} else {
			if err := c.writeByte(byte(opExpireMs)); err != nil {
				return err
			}
			buf := make([]byte, 8)
			binary.LittleEndian.PutUint64(buf, uint64(ms))
			if err := c.write(buf); err != nil {
				return err
			}
		}
	}

	if err := c.writeByte(byte(TypeString)); err != nil {
		return err
	}
	if err := c.writeString([]byte(e.Key)); err != nil {
		return err
	}
	return c.writeString(e.Value)
}
