// Package epoll wraps the Linux epoll(7) syscalls this server's single
// reactor thread needs: epoll_create1, epoll_ctl, epoll_wait. It exists
// because no higher-level net package exposes raw readiness-event
// semantics; everything else in the server package talks to the kernel
// exclusively through this thin layer.
package epoll

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// Event interest bits, mirroring EPOLLIN/EPOLLOUT so callers never need to
// import golang.org/x/sys/unix directly.
const (
	Readable uint32 = unix.EPOLLIN
	Writable uint32 = unix.EPOLLOUT
)

// Event is one readiness notification returned by Wait: Fd identifies the
// socket (the fd itself is used directly as the connection token, reused
// only when the kernel reuses the descriptor) and Mask carries the
// EPOLLIN/EPOLLOUT/EPOLLERR/EPOLLHUP bits the kernel reported.
type Event struct {
	Fd   int32
	Mask uint32
}

// Poller is a single epoll instance. It is not safe for concurrent use —
// exactly one goroutine (the reactor) calls Wait/Add/Modify/Remove.
type Poller struct {
	fd int
}

// New creates a new epoll instance.
func New() (*Poller, error) {
	fd, err := unix.EpollCreate1(0)
	if err != nil {
		return nil, errors.Wrap(err, "epoll: create1")
	}
	return &Poller{fd: fd}, nil
}

// Add registers fd for the given interest mask.
func (p *Poller) Add(fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_ADD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll: add fd %d", fd)
	}
	return nil
}

// Modify changes the interest mask already registered for fd.
func (p *Poller) Modify(fd int, mask uint32) error {
	ev := unix.EpollEvent{Events: mask, Fd: int32(fd)}
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_MOD, fd, &ev); err != nil {
		return errors.Wrapf(err, "epoll: modify fd %d", fd)
	}
	return nil
}

// Remove deregisters fd. It is not an error to remove an fd that was
// already closed out from under the poller by the kernel.
func (p *Poller) Remove(fd int) error {
	if err := unix.EpollCtl(p.fd, unix.EPOLL_CTL_DEL, fd, nil); err != nil && err != unix.ENOENT && err != unix.EBADF {
		return errors.Wrapf(err, "epoll: remove fd %d", fd)
	}
	return nil
}

// Wait blocks until at least one registered fd is ready, or indefinitely
// if no event ever arrives — there is no timeout. It is interrupted and
// retried transparently on EINTR.
func (p *Poller) Wait(events []Event) (int, error) {
	raw := make([]unix.EpollEvent, len(events))
	for {
		n, err := unix.EpollWait(p.fd, raw, -1)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return 0, errors.Wrap(err, "epoll: wait")
		}
		for i := 0; i < n; i++ {
			events[i] = Event{Fd: raw[i].Fd, Mask: raw[i].Events}
		}
		return n, nil
	}
}

// Close releases the epoll instance's file descriptor.
func (p *Poller) Close() error {
	return unix.Close(p.fd)
}
