// Package server implements a single-threaded, non-blocking event loop:
// one epoll instance drives listener-accept readiness and per-connection
// read/write readiness, dispatching complete requests to a
// handler.Dispatcher and writing back exactly one response frame per
// request. Connections are never handled on a dedicated goroutine; all
// I/O happens on whichever goroutine calls Run.
package server

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"strconv"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/redcask/redcask/handler"
	"github.com/redcask/redcask/internal/epoll"
	"github.com/redcask/redcask/logger"
	"github.com/redcask/redcask/resp"
)

// StateHook, if set, is called whenever a connection's observable state
// changes: StateActive once it is accepted and registered, StateClosed
// when it is dropped. It is not called for StateNew.
type StateHook func(remoteAddr string, state ConnState)

// Loop is the reactor: one epoll instance, the listening socket, and the
// token→connection registry. It is not safe for concurrent use — Run must
// only ever be called from one goroutine.
type Loop struct {
	poller     *epoll.Poller
	listenFd   int
	conns      map[int32]*conn
	dispatcher *handler.Dispatcher
	hook       StateHook
}

// NewLoop binds a non-blocking listener on 127.0.0.1:port and registers it
// with a fresh epoll instance. It does not start serving; call Run.
func NewLoop(port uint16, d *handler.Dispatcher, hook StateHook) (*Loop, error) {
	listenFd, err := listen(port)
	if err != nil {
		return nil, err
	}

	p, err := epoll.New()
	if err != nil {
		unix.Close(listenFd)
		return nil, err
	}
	if err := p.Add(listenFd, epoll.Readable); err != nil {
		p.Close()
		unix.Close(listenFd)
		return nil, err
	}

	return &Loop{
		poller:     p,
		listenFd:   listenFd,
		conns:      make(map[int32]*conn),
		dispatcher: d,
		hook:       hook,
	}, nil
}

// Run drives the reactor until Wait returns a fatal error. It never
// returns on its own during normal operation — the poll call is the
// loop's only suspension point and may block indefinitely.
func (l *Loop) Run() error {
	events := make([]epoll.Event, 256)
	for {
		n, err := l.poller.Wait(events)
		if err != nil {
			return err
		}

		for i := 0; i < n; i++ {
			ev := events[i]
			if int(ev.Fd) == l.listenFd {
				l.acceptAll()
				continue
			}
			l.handleReady(ev)
		}
	}
}

// Close releases every resource the loop owns: all live connections, the
// listening socket, and the epoll instance itself.
func (l *Loop) Close() error {
	for _, c := range l.conns {
		l.drop(c)
	}
	unix.Close(l.listenFd)
	return l.poller.Close()
}

// acceptAll drains the accept queue entirely before returning to Wait,
// registering each new socket with both read and write interest. The first
// write-readiness event finds nothing queued, so flushWrites drops write
// interest; it is added back only once there are bytes queued that a
// non-blocking write couldn't drain, avoiding a busy-spin of spurious
// EPOLLOUT events on an idle connection.
func (l *Loop) acceptAll() {
	for {
		fd, sa, err := unix.Accept4(l.listenFd, unix.SOCK_NONBLOCK)
		if err != nil {
			if err == unix.EAGAIN {
				return
			}
			logger.Warnf("server: accept: %v", err)
			return
		}

		c := newConn(int32(fd), sockaddrString(sa))
		if err := l.poller.Add(fd, epoll.Readable|epoll.Writable); err != nil {
			logger.Warnf("server: registering fd %d: %v", fd, err)
			unix.Close(fd)
			continue
		}
		c.writeReady = true
		l.conns[c.token] = c
		l.setState(c, StateActive)
	}
}

// handleReady dispatches one readiness event to its connection. An event
// reporting EPOLLERR or EPOLLHUP drops the connection; any other event with
// neither read nor write readiness set is ignored.
func (l *Loop) handleReady(ev epoll.Event) {
	c, ok := l.conns[ev.Fd]
	if !ok {
		return
	}

	if ev.Mask&(unix.EPOLLERR|unix.EPOLLHUP) != 0 {
		l.drop(c)
		return
	}

	if ev.Mask&epoll.Readable != 0 {
		if !l.readAndDispatch(c) {
			return
		}
	}
	if ev.Mask&epoll.Writable != 0 {
		l.flushWrites(c)
	}
}

const readChunkSize = 4096

// readAndDispatch drains the socket non-blockingly, feeds whatever
// complete requests are now buffered to the dispatcher, and attempts to
// flush the responses. It returns false if the connection was dropped
// (peer closed, I/O error, or malformed/connection-fatal request).
func (l *Loop) readAndDispatch(c *conn) bool {
	buf := make([]byte, readChunkSize)
	peerClosed := false

	for {
		n, err := unix.Read(int(c.token), buf)
		if err != nil {
			if err == unix.EAGAIN {
				break
			}
			l.drop(c)
			return false
		}
		if n == 0 {
			peerClosed = true
			break
		}
		c.in = append(c.in, buf[:n]...)
	}

	if err := l.drainRequests(c); err != nil {
		logger.Warnf("server: %s: %v", c.remoteAddr, err)
		l.drop(c)
		return false
	}

	if !l.flushWrites(c) {
		return false
	}

	if peerClosed {
		l.drop(c)
		return false
	}
	return true
}

// drainRequests parses and answers every complete request currently
// buffered in c.in, so pipelined requests on one connection are processed
// in receive order. It stops cleanly (nil error) once c.in holds only an
// incomplete trailing frame, leaving those bytes in place for the next
// readiness event. A malformed frame, or a handler error classified
// connection-fatal, is returned as an error — the caller drops the
// connection.
func (l *Loop) drainRequests(c *conn) error {
	for len(c.in) > 0 {
		br := bytes.NewReader(c.in)
		bufR := bufio.NewReader(br)

		name, args, err := resp.NewReader(bufR).ReadRequest()
		if err != nil {
			if err == io.EOF || errors.Is(err, resp.ErrIncomplete) {
				return nil
			}
			return errors.Wrap(err, "malformed request")
		}

		// bufio may have pulled ahead of what it actually handed back to
		// the parser; only the latter was truly consumed by this request.
		pulled := len(c.in) - br.Len()
		consumed := pulled - bufR.Buffered()
		c.in = c.in[consumed:]

		v, err := l.dispatcher.Handle(name, args)
		if err != nil {
			switch handler.ClassifyOf(err) {
			case handler.KindConn:
				return err
			case handler.KindServer:
				logger.Errorf("server: %s: %s: %v", c.remoteAddr, name, err)
			}
			v = resp.ErrorValue(err.Error())
		}

		if err := encodeInto(&c.out, v); err != nil {
			return errors.Wrap(err, "encoding response")
		}
	}
	return nil
}

func encodeInto(out *[]byte, v resp.Value) error {
	var buf bytes.Buffer
	w := resp.NewWriter(&buf)
	if err := w.WriteValue(v); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return err
	}
	*out = append(*out, buf.Bytes()...)
	return nil
}

// flushWrites writes as much of c.out as the socket accepts without
// blocking. When the socket can't take it all, write interest is
// registered so the reactor resumes the flush on the next EPOLLOUT; when
// c.out drains, write interest is dropped again. Returns false if the
// connection was dropped on a write error.
func (l *Loop) flushWrites(c *conn) bool {
	for len(c.out) > 0 {
		n, err := unix.Write(int(c.token), c.out)
		if err != nil {
			if err == unix.EAGAIN {
				l.wantWrite(c, true)
				return true
			}
			l.drop(c)
			return false
		}
		c.out = c.out[n:]
	}
	l.wantWrite(c, false)
	return true
}

func (l *Loop) wantWrite(c *conn, want bool) {
	if want == c.writeReady {
		return
	}
	mask := epoll.Readable
	if want {
		mask |= epoll.Writable
	}
	if err := l.poller.Modify(int(c.token), mask); err != nil {
		logger.Warnf("server: modifying interest for %s: %v", c.remoteAddr, err)
		return
	}
	c.writeReady = want
}

func (l *Loop) drop(c *conn) {
	l.poller.Remove(int(c.token))
	unix.Close(int(c.token))
	delete(l.conns, c.token)
	l.setState(c, StateClosed)
}

func (l *Loop) setState(c *conn, s ConnState) {
	c.state = s
	if l.hook != nil {
		l.hook(c.remoteAddr, s)
	}
}

func sockaddrString(sa unix.Sockaddr) string {
	if a, ok := sa.(*unix.SockaddrInet4); ok {
		return net.JoinHostPort(net.IP(a.Addr[:]).String(), strconv.Itoa(a.Port))
	}
	return "unknown"
}
