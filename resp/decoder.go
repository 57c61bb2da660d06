package resp

import (
	"bufio"
	"bytes"
	"io"
	"strconv"

	"github.com/pkg/errors"
)

// Reader incrementally decodes RESP frames from a buffered byte stream:
// every non-payload line is CRLF-terminated, and a frame begins with a
// single type-prefix byte (+ - : $ *).
//
// Decoding failures split three ways: a plain io.EOF with nothing yet
// consumed for a new frame (caller may treat as a clean disconnect),
// ErrIncomplete once bytes for the current frame have started arriving
// but run out before the frame is whole (caller may retry once more
// bytes are available — this is what server.Loop's non-blocking reads
// rely on), and ErrProtocol for bytes that are actually malformed
// (caller must drop the connection).
type Reader struct {
	br *bufio.Reader
}

// NewReader wraps an io.Reader with RESP decoding. If r is already a
// *bufio.Reader it is used directly; otherwise it is wrapped.
func NewReader(r io.Reader) *Reader {
	if br, ok := r.(*bufio.Reader); ok {
		return &Reader{br: br}
	}
	return &Reader{br: bufio.NewReader(r)}
}

// ReadValue reads and decodes exactly one RESP value. io.EOF is returned
// verbatim when the stream ends cleanly before any byte of a new frame is
// read; a frame that starts but runs out of bytes before completing
// reports ErrIncomplete; any other malformed input is a protocol error.
func (r *Reader) ReadValue() (Value, error) {
	line, err := r.readLine()
	if err != nil {
		return Value{}, err
	}

	if len(line) == 0 {
		return Value{}, errProtocolf("empty line where a frame was expected")
	}

	switch line[0] {
	case '+':
		return SimpleStringValue(string(line[1:])), nil
	case '-':
		return ErrorValue(string(line[1:])), nil
	case ':':
		n, err := strconv.ParseInt(string(line[1:]), 10, 64)
		if err != nil {
			return Value{}, errProtocolf("invalid integer %q", line[1:])
		}
		return IntegerValue(n), nil
	case '$':
		return r.readBulkString(line[1:])
	case '*':
		return r.readArray(line[1:])
	default:
		return Value{}, errProtocolf("invalid type prefix %q", line[0])
	}
}

// ReadRequest reads one client request: a non-null array of bulk or
// simple strings, flattened into plain Go strings. The first element is
// the command name; the rest are its arguments.
func (r *Reader) ReadRequest() (name string, args []string, err error) {
	v, err := r.ReadValue()
	if err != nil {
		return "", nil, err
	}

	if v.Type != Array || v.Null {
		return "", nil, errProtocolf("expected a non-null array request frame")
	}
	if len(v.Elems) == 0 {
		return "", nil, errProtocolf("empty request array")
	}

	strs := make([]string, len(v.Elems))
	for i, e := range v.Elems {
		switch e.Type {
		case BulkString:
			if e.Null {
				return "", nil, errProtocolf("null bulk string in request array")
			}
			strs[i] = string(e.Bulk)
		case SimpleString:
			strs[i] = e.Str
		default:
			return "", nil, errProtocolf("unsupported request element type %v", e.Type)
		}
	}

	return strs[0], strs[1:], nil
}

// readLine reads up to and including the next CRLF, returning the line
// without its terminator. A bare LF not preceded by CR, or a CR inside
// the line that is not followed by LF, is a protocol error.
func (r *Reader) readLine() ([]byte, error) {
	line, err := r.br.ReadBytes('\n')
	if err != nil {
		if err == io.EOF {
			if len(line) == 0 {
				return nil, io.EOF
			}
			// Partial line buffered, terminator not seen yet: more bytes
			// may still arrive (see ErrIncomplete).
			return nil, ErrIncomplete
		}
		return nil, errors.Wrap(err, "resp: reading line")
	}

	if len(line) < 2 || line[len(line)-2] != '\r' {
		return nil, errProtocolf("line not terminated by CRLF")
	}

	line = line[:len(line)-2]
	if bytes.IndexByte(line, '\r') >= 0 {
		return nil, errProtocolf("CR not followed by LF")
	}

	return line, nil
}

func (r *Reader) readBulkString(sizeBytes []byte) (Value, error) {
	size, err := strconv.Atoi(string(sizeBytes))
	if err != nil {
		return Value{}, errProtocolf("invalid bulk string length %q", sizeBytes)
	}

	if size == -1 {
		return NullBulkString(), nil
	}
	if size < 0 {
		return Value{}, errProtocolf("negative bulk string length %d", size)
	}

	data := make([]byte, size+2)
	if _, err := io.ReadFull(r.br, data); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return Value{}, ErrIncomplete
		}
		return Value{}, errors.Wrap(err, "resp: reading bulk string")
	}
	if data[size] != '\r' || data[size+1] != '\n' {
		return Value{}, errProtocolf("bulk string payload not terminated by CRLF")
	}

	return BulkStringValue(data[:size]), nil
}

func (r *Reader) readArray(sizeBytes []byte) (Value, error) {
	size, err := strconv.Atoi(string(sizeBytes))
	if err != nil {
		return Value{}, errProtocolf("invalid array length %q", sizeBytes)
	}

	if size == -1 {
		return NullArray(), nil
	}
	if size < 0 {
		return Value{}, errProtocolf("negative array length %d", size)
	}

	elems := make([]Value, size)
	for i := 0; i < size; i++ {
		v, err := r.ReadValue()
		if err != nil {
			if err == io.EOF {
				// The array's own header was already consumed, so running
				// dry before an element even starts is "more to come", not
				// malformed framing.
				return Value{}, ErrIncomplete
			}
			return Value{}, err
		}
		elems[i] = v
	}

	return ArrayValue(elems), nil
}
