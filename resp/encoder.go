package resp

import (
	"bufio"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Writer encodes RESP values to an underlying byte stream. It is the
// inverse of Reader and always emits CRLF, never a bare LF, matching the
// teacher's writeValue.
type Writer struct {
	bw *bufio.Writer
}

// NewWriter wraps an io.Writer with RESP encoding.
func NewWriter(w io.Writer) *Writer {
	if bw, ok := w.(*bufio.Writer); ok {
		return &Writer{bw: bw}
	}
	return &Writer{bw: bufio.NewWriter(w)}
}

// WriteValue serializes v to the underlying stream. Callers must call
// Flush to force buffered bytes onto the wire.
func (w *Writer) WriteValue(v Value) error {
	switch v.Type {
	case SimpleString:
		_, err := w.bw.WriteString("+" + v.Str + "\r\n")
		return errors.Wrap(err, "resp: writing simple string")
	case Error:
		_, err := w.bw.WriteString("-" + v.Str + "\r\n")
		return errors.Wrap(err, "resp: writing error")
	case Integer:
		_, err := w.bw.WriteString(":" + strconv.FormatInt(v.Int, 10) + "\r\n")
		return errors.Wrap(err, "resp: writing integer")
	case BulkString:
		if v.Null {
			_, err := w.bw.WriteString("$-1\r\n")
			return errors.Wrap(err, "resp: writing null bulk string")
		}
		if _, err := w.bw.WriteString("$" + strconv.Itoa(len(v.Bulk)) + "\r\n"); err != nil {
			return errors.Wrap(err, "resp: writing bulk string header")
		}
		if _, err := w.bw.Write(v.Bulk); err != nil {
			return errors.Wrap(err, "resp: writing bulk string payload")
		}
		_, err := w.bw.WriteString("\r\n")
		return errors.Wrap(err, "resp: writing bulk string trailer")
	case Array:
		if v.Null {
			_, err := w.bw.WriteString("*-1\r\n")
			return errors.Wrap(err, "resp: writing null array")
		}
		if _, err := w.bw.WriteString("*" + strconv.Itoa(len(v.Elems)) + "\r\n"); err != nil {
			return errors.Wrap(err, "resp: writing array header")
		}
		for _, e := range v.Elems {
			if err := w.WriteValue(e); err != nil {
				return err
			}
		}
		return nil
	default:
		return errors.Errorf("resp: unsupported value type %v", v.Type)
	}
}

// Flush forces buffered bytes to the underlying writer.
func (w *Writer) Flush() error {
	return errors.Wrap(w.bw.Flush(), "resp: flushing writer")
}
