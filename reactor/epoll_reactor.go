//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package reactor - Linux epoll implementation.

package reactor

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
	"golang.org/x/sys/unix"
)

type registration struct {
	interest Interest
	tag      uint32
}

// Epoll is an edge-triggered epoll instance. Register, Modify and Unregister
// are safe from any goroutine; Wait must be driven by a single goroutine.
type Epoll struct {
	epfd   int
	mu     sync.Mutex
	regs   map[int]registration
	events []unix.EpollEvent
	batch  []Event
	closed atomic.Bool
}

var _ EventReactor = (*Epoll)(nil)

// NewEpoll creates an epoll instance returning at most batchSize events per Wait.
func NewEpoll(batchSize int) (*Epoll, error) {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeResource, "epoll create", err)
	}
	return &Epoll{
		epfd:   epfd,
		regs:   make(map[int]registration),
		events: make([]unix.EpollEvent, batchSize),
		batch:  make([]Event, 0, batchSize),
	}, nil
}

func toEpoll(fd int, interest Interest, tag uint32) *unix.EpollEvent {
	ev := &unix.EpollEvent{Events: unix.EPOLLET, Fd: int32(fd), Pad: int32(tag)}
	if interest&Readable != 0 {
		ev.Events |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if interest&Writable != 0 {
		ev.Events |= unix.EPOLLOUT
	}
	return ev
}

// Register adds fd to the interest set.
func (e *Epoll) Register(fd int, interest Interest, tag uint32) error {
	if e.closed.Load() {
		return api.ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, dup := e.regs[fd]; dup {
		return api.NewError(api.ErrCodeRegistration, "fd already registered").WithContext("fd", fd)
	}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, fd, toEpoll(fd, interest, tag)); err != nil {
		return api.WrapError(api.ErrCodeRegistration, "epoll ctl add", err).WithContext("fd", fd)
	}
	e.regs[fd] = registration{interest: interest, tag: tag}
	return nil
}

// Modify replaces the interest and tag of a registered fd.
func (e *Epoll) Modify(fd int, interest Interest, tag uint32) error {
	if e.closed.Load() {
		return api.ErrClosed
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.regs[fd]; !ok {
		return api.NewError(api.ErrCodeRegistration, "fd not registered").WithContext("fd", fd)
	}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, fd, toEpoll(fd, interest, tag)); err != nil {
		return api.WrapError(api.ErrCodeRegistration, "epoll ctl mod", err).WithContext("fd", fd)
	}
	e.regs[fd] = registration{interest: interest, tag: tag}
	return nil
}

// Unregister removes fd. The kernel side is best effort: a descriptor that
// was already closed has left the epoll set on its own.
func (e *Epoll) Unregister(fd int) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.regs[fd]; !ok {
		return false
	}
	delete(e.regs, fd)
	if !e.closed.Load() {
		_ = unix.EpollCtl(e.epfd, unix.EPOLL_CTL_DEL, fd, nil)
	}
	return true
}

// Registered returns the interest of fd and whether it is in the set.
func (e *Epoll) Registered(fd int) (Interest, bool) {
	e.mu.Lock()
	r, ok := e.regs[fd]
	e.mu.Unlock()
	return r.interest, ok
}

// Len returns the number of registered descriptors.
func (e *Epoll) Len() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.regs)
}

// Wait blocks for readiness. A signal interruption yields an empty batch.
func (e *Epoll) Wait(timeoutMs int) ([]Event, error) {
	if e.closed.Load() {
		return nil, api.ErrClosed
	}
	if timeoutMs < 0 {
		timeoutMs = Infinite
	}
	n, err := unix.EpollWait(e.epfd, e.events, timeoutMs)
	if err != nil {
		if err == unix.EINTR {
			return e.batch[:0], nil
		}
		return nil, fmt.Errorf("epoll wait: %w", err)
	}
	out := e.batch[:0]
	for i := 0; i < n; i++ {
		raw := e.events[i]
		ev := Event{Fd: int(raw.Fd), Tag: uint32(raw.Pad)}
		if raw.Events&(unix.EPOLLIN|unix.EPOLLRDHUP|unix.EPOLLPRI) != 0 {
			ev.Events |= Readable
		}
		if raw.Events&unix.EPOLLOUT != 0 {
			ev.Events |= Writable
		}
		ev.Hangup = raw.Events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0
		ev.Err = raw.Events&unix.EPOLLERR != 0
		out = append(out, ev)
	}
	e.batch = out
	return out, nil
}

// Close releases the epoll descriptor. Registered fds are not closed.
func (e *Epoll) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return api.ErrClosed
	}
	e.mu.Lock()
	e.regs = make(map[int]registration)
	e.mu.Unlock()
	if err := unix.Close(e.epfd); err != nil {
		return fmt.Errorf("close epoll: %w", err)
	}
	return nil
}
