package resp

import "github.com/pkg/errors"

// ErrProtocol marks a framing violation: a CR not followed by LF, an
// unrecognized type prefix, a negative length other than -1, or an
// array/bulk string whose declared size doesn't parse as a decimal
// integer. A connection that produces this error is dropped without a
// response.
var ErrProtocol = errors.New("resp: protocol error")

// errProtocolf wraps a formatted message with ErrProtocol so callers can
// still errors.Is(err, ErrProtocol).
func errProtocolf(format string, args ...any) error {
	return errors.Wrapf(ErrProtocol, format, args...)
}

// ErrIncomplete marks a frame that ran out of bytes partway through
// decoding — the bytes seen so far are well-formed, but more are needed
// to finish the frame. This is the caller-may-retry case: a reader fed
// from a non-blocking socket should keep what it has buffered and try
// again once more bytes arrive, rather than treating this as a framing
// violation. A plain io.EOF with zero bytes consumed for the frame (the
// ordinary "nothing buffered yet" case at a request boundary) is
// reported as io.EOF, not ErrIncomplete.
var ErrIncomplete = errors.New("resp: incomplete frame")
