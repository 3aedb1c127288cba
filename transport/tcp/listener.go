//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
	"golang.org/x/sys/unix"
)

// Listener is a passive IPv4 stream socket.
type Listener struct {
	fd     int
	closed atomic.Bool
}

// NewListener allocates a listening-socket resource.
func NewListener() (*Listener, error) {
	fd, err := unix.Socket(unix.AF_INET, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeResource, "socket create", err)
	}
	return &Listener{fd: fd}, nil
}

// Fd returns the listening descriptor.
func (l *Listener) Fd() int {
	return l.fd
}

// SetReusableAddress sets SO_REUSEADDR so a restart can rebind without waiting out TIME_WAIT.
func (l *Listener) SetReusableAddress() error {
	if err := unix.SetsockoptInt(l.fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		return fmt.Errorf("set SO_REUSEADDR: %w", err)
	}
	return nil
}

// SetNonBlocking switches the listener to non-blocking accepts.
func (l *Listener) SetNonBlocking() error {
	if err := unix.SetNonblock(l.fd, true); err != nil {
		return fmt.Errorf("set nonblock: %w", err)
	}
	return nil
}

// Bind binds the wildcard address on port. Port 0 picks an ephemeral port.
func (l *Listener) Bind(port uint16) error {
	return l.BindAddr(Addr{}.withPort(port))
}

// BindAddr binds a specific local address.
func (l *Listener) BindAddr(addr Addr) error {
	if err := unix.Bind(l.fd, addr.Sockaddr()); err != nil {
		return api.WrapError(api.ErrCodeBind, "bind", err).WithContext("addr", addr.String())
	}
	return nil
}

// Listen marks the socket passive with the given pending-connection queue depth.
func (l *Listener) Listen(backlog int) error {
	if err := unix.Listen(l.fd, backlog); err != nil {
		return api.WrapError(api.ErrCodeListen, "listen", err).WithContext("backlog", backlog)
	}
	return nil
}

// Accept returns one connected endpoint with its peer address. On a
// non-blocking listener with nothing pending it returns api.ErrWouldBlock.
func (l *Listener) Accept() (*Conn, error) {
	if l.closed.Load() {
		return nil, api.ErrClosed
	}
	for {
		nfd, sa, err := unix.Accept4(l.fd, unix.SOCK_CLOEXEC)
		if err == nil {
			return newConnFromFd(nfd, AddrFromSockaddr(sa)), nil
		}
		if err == unix.EINTR {
			continue
		}
		if isWouldBlock(err) {
			return nil, api.ErrWouldBlock
		}
		return nil, fmt.Errorf("accept: %w", err)
	}
}

// Addr returns the bound local address.
func (l *Listener) Addr() (Addr, error) {
	sa, err := unix.Getsockname(l.fd)
	if err != nil {
		return Addr{}, fmt.Errorf("getsockname: %w", err)
	}
	return AddrFromSockaddr(sa), nil
}

// Close releases the listening descriptor exactly once.
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return api.ErrClosed
	}
	if err := unix.Close(l.fd); err != nil {
		return fmt.Errorf("close listener: %w", err)
	}
	return nil
}
