// Package replica implements the outbound four-step handshake a server
// performs against a master on startup when configured with --replicaof.
package replica

import (
	"net"
	"strconv"
	"time"

	"github.com/pkg/errors"

	"github.com/redcask/redcask/resp"
)

// pollTimeout is the per-step read deadline. The handshake is a short,
// synchronous, startup-only exchange that runs entirely before the
// reactor starts — it does not reuse server's non-blocking sockets.
const pollTimeout = 5 * time.Second

// Handshake dials masterHost:masterPort and performs the four-step
// handshake (PING, REPLCONF listening-port, REPLCONF capa psync2, PSYNC).
// ownPort is advertised as this server's own listening port. Any
// deviation — wrong frame type, wrong payload, I/O error, or timeout —
// aborts the handshake and returns a non-nil error; the caller should
// log and exit without binding.
func Handshake(masterHost, masterPort string, ownPort uint16) error {
	if masterHost == "localhost" {
		masterHost = "127.0.0.1"
	}
	addr := net.JoinHostPort(masterHost, masterPort)

	conn, err := net.DialTimeout("tcp", addr, pollTimeout)
	if err != nil {
		return errors.Wrapf(err, "replica: dialing master %s", addr)
	}
	defer conn.Close()

	r := resp.NewReader(conn)
	w := resp.NewWriter(conn)

	if err := step(conn, r, w, []string{"PING"}, "PONG"); err != nil {
		return err
	}
	if err := step(conn, r, w, []string{"REPLCONF", "listening-port", strconv.Itoa(int(ownPort))}, "OK"); err != nil {
		return err
	}
	if err := step(conn, r, w, []string{"REPLCONF", "capa", "psync2"}, "OK"); err != nil {
		return err
	}

	if err := conn.SetDeadline(time.Now().Add(pollTimeout)); err != nil {
		return errors.Wrap(err, "replica: setting deadline")
	}
	if err := writeCommand(w, []string{"PSYNC", "?", "-1"}); err != nil {
		return errors.Wrap(err, "replica: sending PSYNC")
	}
	// The reply's content is ignored; the subsequent streaming RDB
	// payload is not consumed.
	if _, err := r.ReadValue(); err != nil {
		return errors.Wrap(err, "replica: reading PSYNC reply")
	}

	return nil
}

// step sends one command and requires the reply to be a simple string
// exactly equal to want.
func step(conn net.Conn, r *resp.Reader, w *resp.Writer, cmd []string, want string) error {
	if err := conn.SetDeadline(time.Now().Add(pollTimeout)); err != nil {
		return errors.Wrap(err, "replica: setting deadline")
	}
	if err := writeCommand(w, cmd); err != nil {
		return errors.Wrapf(err, "replica: sending %s", cmd[0])
	}

	v, err := r.ReadValue()
	if err != nil {
		return errors.Wrapf(err, "replica: reading %s reply", cmd[0])
	}
	if v.Type != resp.SimpleString || v.Str != want {
		return errors.Errorf("replica: unexpected reply to %s: %+v", cmd[0], v)
	}
	return nil
}

func writeCommand(w *resp.Writer, parts []string) error {
	elems := make([]resp.Value, len(parts))
	for i, p := range parts {
		elems[i] = resp.BulkStringValue([]byte(p))
	}
	if err := w.WriteValue(resp.ArrayValue(elems)); err != nil {
		return err
	}
	return w.Flush()
}
