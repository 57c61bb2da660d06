package server

import (
	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

// listen opens a non-blocking IPv4 listening socket bound to
// 127.0.0.1:port. It is built directly on golang.org/x/sys/unix rather
// than net.Listen because the
// reactor needs the raw fd to register with epoll and to accept4 with
// SOCK_NONBLOCK already set on the accepted sockets.
func listen(port uint16) (int, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_NONBLOCK, 0)
	if err != nil {
		return -1, errors.Wrap(err, "server: socket")
	}

	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "server: setsockopt SO_REUSEADDR")
	}

	addr := &unix.SockaddrInet4{Port: int(port), Addr: [4]byte{127, 0, 0, 1}}
	if err := unix.Bind(fd, addr); err != nil {
		unix.Close(fd)
		return -1, errors.Wrapf(err, "server: bind 127.0.0.1:%d", port)
	}

	const backlog = 1024
	if err := unix.Listen(fd, backlog); err != nil {
		unix.Close(fd)
		return -1, errors.Wrap(err, "server: listen")
	}

	return fd, nil
}
