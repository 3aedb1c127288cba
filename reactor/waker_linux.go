//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package reactor

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"

	"github.com/momentics/hioload-tcp/api"
	"golang.org/x/sys/unix"
)

// Waker is an eventfd registered alongside sockets so that other goroutines
// can interrupt a blocking Wait.
type Waker struct {
	fd     int
	closed atomic.Bool
}

// NewWaker creates a non-blocking eventfd.
func NewWaker() (*Waker, error) {
	fd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		return nil, api.WrapError(api.ErrCodeResource, "eventfd create", err)
	}
	return &Waker{fd: fd}, nil
}

// Fd returns the descriptor to register for Readable interest.
func (w *Waker) Fd() int {
	return w.fd
}

// Wake makes the eventfd readable. Safe for concurrent use.
func (w *Waker) Wake() error {
	if w.closed.Load() {
		return api.ErrClosed
	}
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], 1)
	for {
		_, err := unix.Write(w.fd, buf[:])
		switch err {
		case nil, unix.EAGAIN:
			// EAGAIN: counter saturated, a wakeup is already pending.
			return nil
		case unix.EINTR:
			continue
		default:
			return fmt.Errorf("eventfd write: %w", err)
		}
	}
}

// Drain resets the counter so the next Wake produces a new edge.
func (w *Waker) Drain() {
	var buf [8]byte
	for {
		_, err := unix.Read(w.fd, buf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return
		}
	}
}

func (w *Waker) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return api.ErrClosed
	}
	return unix.Close(w.fd)
}
