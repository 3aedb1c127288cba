//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"fmt"
	"io"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
	"golang.org/x/sys/unix"
)

// Conn is one connected (or connectable) stream endpoint.
type Conn struct {
	fd     int
	peer   Addr
	closed atomic.Bool
}

// NewConn creates an unconnected IPv4 stream socket for client use.
func NewConn() (*Conn, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeResource, "socket create", err)
	}
	return &Conn{fd: fd}, nil
}

// newConnFromFd adopts an accepted descriptor.
func newConnFromFd(fd int, peer Addr) *Conn {
	return &Conn{fd: fd, peer: peer}
}

// Fd returns the underlying descriptor.
func (c *Conn) Fd() int {
	return c.fd
}

// Peer returns the remote endpoint; zero until Connect succeeds on client sockets.
func (c *Conn) Peer() Addr {
	return c.peer
}

// LocalAddr returns the locally bound endpoint.
func (c *Conn) LocalAddr() (Addr, error) {
	if c.closed.Load() {
		return Addr{}, api.ErrClosed
	}
	sa, err := unix.Getsockname(c.fd)
	if err != nil {
		return Addr{}, fmt.Errorf("getsockname: %w", err)
	}
	return AddrFromSockaddr(sa), nil
}

// SetNonBlocking switches the descriptor to non-blocking mode. Idempotent.
func (c *Conn) SetNonBlocking() error {
	if c.closed.Load() {
		return api.ErrClosed
	}
	if err := unix.SetNonblock(c.fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	return nil
}

// SetNoDelay toggles Nagle's algorithm.
func (c *Conn) SetNoDelay(noDelay bool) error {
	v := 0
	if noDelay {
		v = 1
	}
	if err := unix.SetsockoptInt(c.fd, unix.IPPROTO_TCP, unix.TCP_NODELAY, v); err != nil {
		return fmt.Errorf("set TCP_NODELAY: %w", err)
	}
	return nil
}

// SetLinger sets SO_LINGER. sec == 0 makes Close send RST instead of FIN.
func (c *Conn) SetLinger(sec int) error {
	l := &unix.Linger{Onoff: 1, Linger: int32(sec)}
	if sec < 0 {
		l.Onoff = 0
		l.Linger = 0
	}
	if err := unix.SetsockoptLinger(c.fd, unix.SOL_SOCKET, unix.SO_LINGER, l); err != nil {
		return fmt.Errorf("set SO_LINGER: %w", err)
	}
	return nil
}

// Connect initiates a TCP connection to addr. A refused connection is an
// ordinary error value. In non-blocking mode an in-progress connect is
// reported as api.ErrWouldBlock.
func (c *Conn) Connect(addr Addr) error {
	if c.closed.Load() {
		return api.ErrClosed
	}
	err := unix.Connect(c.fd, addr.Sockaddr())
	if err == unix.EINTR {
		err = c.awaitConnect()
	}
	switch {
	case err == nil:
		c.peer = addr
		return nil
	case err == unix.EINPROGRESS || err == unix.EALREADY:
		c.peer = addr
		return api.WrapError(api.ErrCodeWouldBlock, "connect in progress", err)
	default:
		return fmt.Errorf("connect %s: %w", addr, err)
	}
}

// awaitConnect settles a connect interrupted by a signal. The kernel keeps
// connecting; a non-blocking socket reports that as in progress, a blocking
// one waits for the outcome.
func (c *Conn) awaitConnect() error {
	flags, err := unix.FcntlInt(uintptr(c.fd), unix.F_GETFL, 0)
	if err != nil {
		return err
	}
	if flags&unix.O_NONBLOCK != 0 {
		return unix.EINPROGRESS
	}
	fds := []unix.PollFd{{Fd: int32(c.fd), Events: unix.POLLOUT}}
	if err := ignoreEINTR(func() error {
		_, err := unix.Poll(fds, -1)
		return err
	}); err != nil {
		return err
	}
	soErr, err := unix.GetsockoptInt(c.fd, unix.SOL_SOCKET, unix.SO_ERROR)
	if err != nil {
		return err
	}
	if soErr != 0 {
		return unix.Errno(soErr)
	}
	return nil
}

// Send performs exactly one write. It may accept fewer bytes than len(p);
// the caller owns requeueing the remainder.
func (c *Conn) Send(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrClosed
	}
	if len(p) == 0 {
		return 0, nil
	}
	for {
		n, err := unix.SendmsgN(c.fd, p, nil, nil, unix.MSG_NOSIGNAL)
		if err == nil {
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		if isWouldBlock(err) {
			return 0, api.ErrWouldBlock
		}
		return 0, fmt.Errorf("send: %w", err)
	}
}

// Recv performs exactly one read. End of stream is reported as io.EOF.
func (c *Conn) Recv(p []byte) (int, error) {
	if c.closed.Load() {
		return 0, api.ErrClosed
	}
	for {
		n, err := unix.Read(c.fd, p)
		if err == nil {
			if n == 0 && len(p) > 0 {
				return 0, io.EOF
			}
			return n, nil
		}
		if err == unix.EINTR {
			continue
		}
		if isWouldBlock(err) {
			return 0, api.ErrWouldBlock
		}
		return 0, fmt.Errorf("recv: %w", err)
	}
}

// Close releases the descriptor. Only the first call reaches the kernel.
func (c *Conn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return api.ErrClosed
	}
	if err := unix.Close(c.fd); err != nil {
		return fmt.Errorf("close: %w", err)
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Conn) Closed() bool {
	return c.closed.Load()
}
