//go:build linux
// +build linux

// File: server/run.go
// Package server implements the reactor loop, connection acceptor, and
// graceful shutdown.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"errors"
	"fmt"
	"io"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/reactor"
	"github.com/momentics/hioload-tcp/transport/tcp"
	"go.uber.org/zap"
	"golang.org/x/sys/unix"
)

// Run initializes the server if needed and dispatches readiness events
// until Shutdown. It returns api.ErrServerClosed after a clean shutdown.
func (s *Server) Run() error {
	s.lifeMu.Lock()
	if s.running {
		s.lifeMu.Unlock()
		return api.NewError(api.ErrCodeInternal, "server already running")
	}
	if err := s.initializeLocked(); err != nil {
		s.lifeMu.Unlock()
		return err
	}
	s.running = true
	s.setState(api.ServerRunning)
	s.lifeMu.Unlock()

	defer s.stop()

	listenFd, wakeFd := s.listener.Fd(), s.waker.Fd()
	for {
		events, err := s.poller.Wait(reactor.Infinite)
		if err != nil {
			s.log.Error("reactor wait failed", zap.Error(err))
			return fmt.Errorf("server loop: %w", err)
		}
		for _, ev := range events {
			switch {
			case ev.Fd == wakeFd && ev.Tag == wakerTag:
				s.waker.Drain()
				if s.runCommands() {
					s.log.Info("shutdown requested")
					return api.ErrServerClosed
				}
			case ev.Fd == listenFd && ev.Tag == listenerTag:
				s.acceptAll()
			default:
				s.handleEvent(ev)
			}
		}
	}
}

// stop tears down every connection and releases server resources.
func (s *Server) stop() {
	for _, c := range s.Connections() {
		s.teardown(c, nil)
	}
	// Drop commands that can no longer be served.
	s.takeCommands()

	s.lifeMu.Lock()
	s.running = false
	s.releaseResources()
	s.lifeMu.Unlock()
	s.log.Info("server stopped",
		zap.Uint64("accepted", s.accepted.Load()),
		zap.Uint64("closed", s.closed.Load()))
}

// acceptAll drains the accept queue; with edge-triggered readiness a
// partial drain would strand pending connections.
func (s *Server) acceptAll() {
	for {
		sock, err := s.cfg.OnAccept(s.listener)
		if err != nil {
			if api.CodeOf(err) == api.ErrCodeWouldBlock {
				return
			}
			if errors.Is(err, unix.ECONNABORTED) {
				continue
			}
			s.log.Warn("accept failed", zap.Error(err))
			return
		}
		if sock == nil {
			return
		}
		s.admit(sock)
	}
}

func (s *Server) admit(sock *tcp.Conn) {
	if err := sock.SetNonBlocking(); err != nil {
		s.log.Warn("set nonblock on accepted socket", zap.Int("fd", sock.Fd()), zap.Error(err))
		_ = sock.Close()
		return
	}

	s.mu.Lock()
	if limit := s.maxConns.Load(); limit > 0 && int64(len(s.conns)) >= limit {
		s.mu.Unlock()
		s.log.Warn("connection limit reached, rejecting",
			zap.Stringer("peer", sock.Peer()), zap.Int64("limit", limit))
		_ = sock.Close()
		return
	}
	tag := s.nextTag
	s.nextTag++
	if s.nextTag < firstConnTag {
		s.nextTag = firstConnTag
	}
	c := newConn(sock, tag)
	if err := s.poller.Register(c.fd, reactor.ReadWrite, tag); err != nil {
		s.mu.Unlock()
		s.log.Warn("register accepted socket", zap.Int("fd", c.fd), zap.Error(err))
		_ = sock.Close()
		return
	}
	s.conns[c.fd] = c
	s.outbound[c.fd] = newOutboundQueue()
	c.setState(api.ConnActive)
	s.mu.Unlock()

	s.accepted.Add(1)
	s.log.Debug("connection accepted",
		zap.String("conn_id", c.ID()), zap.Int("fd", c.fd), zap.Stringer("peer", c.peer))
}

func (s *Server) handleEvent(ev reactor.Event) {
	s.mu.Lock()
	c := s.conns[ev.Fd]
	s.mu.Unlock()
	if c == nil || c.tag != ev.Tag {
		s.log.Debug("dropping stale event", zap.Int("fd", ev.Fd), zap.Uint32("tag", ev.Tag))
		return
	}
	if ev.Readable() || ev.Hangup || ev.Err {
		if !s.handleReadable(c) {
			return
		}
	}
	if ev.Writable() {
		s.handleWritable(c)
	}
}

// handleReadable reads until the kernel has nothing more, then hands the
// bytes to OnData once. It reports false when the connection was torn down.
func (s *Server) handleReadable(c *Conn) bool {
	buf := s.accum.Get()
	defer s.accum.Put(buf)

	var rerr error
	for {
		n, err := c.sock.Recv(s.readBuf)
		if n > 0 {
			*buf = append(*buf, s.readBuf[:n]...)
			s.bytesIn.Add(uint64(n))
		}
		if err == nil {
			continue
		}
		if api.CodeOf(err) != api.ErrCodeWouldBlock {
			rerr = err
		}
		break
	}

	if rerr == nil {
		s.dispatchData(c, *buf)
		return true
	}
	if len(*buf) > 0 {
		s.dispatchData(c, *buf)
	}
	if rerr == io.EOF {
		s.log.Debug("peer closed connection", zap.String("conn_id", c.ID()), zap.Int("fd", c.fd))
		rerr = nil
	} else {
		s.log.Warn("read failed", zap.String("conn_id", c.ID()), zap.Int("fd", c.fd), zap.Error(rerr))
	}
	s.teardown(c, rerr)
	return false
}

func (s *Server) handleWritable(c *Conn) {
	s.mu.Lock()
	var err error
	if q := s.outbound[c.fd]; q != nil && s.conns[c.fd] == c {
		err = s.flushLocked(c, q)
	}
	s.mu.Unlock()
	if err != nil {
		s.sendErrors.Add(1)
		s.log.Warn("flush failed", zap.String("conn_id", c.ID()), zap.Int("fd", c.fd), zap.Error(err))
		s.teardown(c, err)
	}
}

func (s *Server) dispatchData(c *Conn, payload []byte) {
	s.safeCall("data", c, func() { s.cfg.OnData(c, payload, s) })
}

// teardown runs OnClose while c is still registered, then removes it from
// the registry, the outbound map and the reactor, and closes the socket.
// Loop goroutine only.
func (s *Server) teardown(c *Conn, cause error) {
	if c.tornDown {
		return
	}
	c.tornDown = true
	c.markClosing()

	if s.cfg.OnClose != nil {
		s.safeCall("close", c, func() { s.cfg.OnClose(c, s) })
	}

	s.mu.Lock()
	if s.conns[c.fd] == c {
		delete(s.conns, c.fd)
		if q := s.outbound[c.fd]; q != nil {
			q.reset()
		}
		delete(s.outbound, c.fd)
		s.poller.Unregister(c.fd)
		if err := c.sock.Close(); err != nil {
			s.log.Warn("close connection", zap.Int("fd", c.fd), zap.Error(err))
		}
		s.closed.Add(1)
	}
	c.setState(api.ConnClosed)
	s.mu.Unlock()

	s.log.Debug("connection closed",
		zap.String("conn_id", c.ID()), zap.Int("fd", c.fd), zap.NamedError("cause", cause))
}

// safeCall keeps a panicking callback from taking the loop down.
func (s *Server) safeCall(name string, c *Conn, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("callback panicked",
				zap.String("callback", name),
				zap.String("conn_id", c.ID()),
				zap.Any("panic", r),
				zap.Stack("stack"))
		}
	}()
	fn()
}
