//go:build linux
// +build linux

// File: server/server.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Server ties a listening socket, an epoll reactor and a connection registry
// into a single-goroutine, non-blocking event loop.

package server

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/momentics/hioload-tcp/adapters"
	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/control"
	"github.com/momentics/hioload-tcp/pool"
	"github.com/momentics/hioload-tcp/reactor"
	"github.com/momentics/hioload-tcp/transport/tcp"
	"go.uber.org/zap"
)

const (
	msgNotStarted = "the server was not started"
	msgRunning    = "the server is running normally"
	msgClosed     = "the server is closed"
)

// Registration tags. Connections get tags from firstConnTag upward.
const (
	wakerTag uint32 = iota
	listenerTag
	firstConnTag
)

// Server is the event loop server. Run must be called from exactly one goroutine.
type Server struct {
	cfg     Config
	log     *zap.Logger
	control api.Control

	lifeMu  sync.Mutex
	state   atomic.Int32 // api.ServerState
	running bool
	lastErr error
	done    chan struct{}
	once    sync.Once

	listener *tcp.Listener
	poller   *reactor.Epoll
	waker    *reactor.Waker
	wake     atomic.Pointer[reactor.Waker] // read by post from any goroutine
	readBuf  []byte
	accum    *pool.BytePool

	// mu guards the registry, the outbound map and the reactor interest set.
	mu       sync.Mutex
	conns    map[int]*Conn
	outbound map[int]*outboundQueue
	nextTag  uint32

	// acceptSet records an explicit WithAcceptHandler, nil included.
	acceptSet bool

	cmdMu sync.Mutex
	cmds  commandQueue

	maxConns    atomic.Int64
	maxOutbound atomic.Int64

	accepted   atomic.Uint64
	closed     atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
	sendErrors atomic.Uint64
	startedAt  atomic.Int64 // unix nanos, 0 until initialized
}

var _ api.GracefulShutdown = (*Server)(nil)

// New builds a Server. cfg is copied; nil means DefaultConfig.
func New(cfg *Config, opts ...Option) *Server {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	s := &Server{
		cfg:      *cfg,
		log:      zap.NewNop(),
		done:     make(chan struct{}),
		conns:    make(map[int]*Conn),
		outbound: make(map[int]*outboundQueue),
		nextTag:  firstConnTag,
		cmds:     newCommandQueue(),
	}
	for _, o := range opts {
		o(s)
	}
	if s.cfg.OnAccept == nil && !s.acceptSet {
		s.cfg.OnAccept = DefaultAccept
	}
	s.cfg.normalize()
	s.maxConns.Store(int64(s.cfg.MaxConnections))
	s.maxOutbound.Store(int64(s.cfg.MaxOutboundBytes))
	s.accum = pool.NewBytePool(s.cfg.ReadBufferSize, 4*s.cfg.ReadBufferSize)
	if s.control == nil {
		s.control = adapters.NewControlAdapter()
	}
	s.wireControl()
	return s
}

func (s *Server) wireControl() {
	if err := s.control.SetConfig(s.cfg.asMap()); err != nil {
		s.log.Warn("publish config failed", zap.Error(err))
	}
	s.control.OnReload(s.applyReload)
	s.control.SetMetric("server.state", api.ServerNew.String())

	s.control.RegisterDebugProbe("server.connections.active", func() any { return s.ConnCount() })
	s.control.RegisterDebugProbe("server.connections.accepted", func() any { return s.accepted.Load() })
	s.control.RegisterDebugProbe("server.connections.closed", func() any { return s.closed.Load() })
	s.control.RegisterDebugProbe("server.bytes.in", func() any { return s.bytesIn.Load() })
	s.control.RegisterDebugProbe("server.bytes.out", func() any { return s.bytesOut.Load() })
	s.control.RegisterDebugProbe("server.send.errors", func() any { return s.sendErrors.Load() })
}

// applyReload picks up hot-reloadable limits. Other keys need a restart.
func (s *Server) applyReload() {
	cfg := s.control.GetConfig()
	if v, ok := cfg["max_connections"]; ok {
		if n, err := control.IntValue(v); err == nil && n >= 0 {
			if old := s.maxConns.Swap(int64(n)); old != int64(n) {
				s.log.Info("max_connections reloaded", zap.Int64("old", old), zap.Int("new", n))
			}
		} else {
			s.log.Warn("ignoring max_connections", zap.Any("value", v))
		}
	}
	if v, ok := cfg["max_outbound_bytes"]; ok {
		if n, err := control.IntValue(v); err == nil && n >= 0 {
			if old := s.maxOutbound.Swap(int64(n)); old != int64(n) {
				s.log.Info("max_outbound_bytes reloaded", zap.Int64("old", old), zap.Int("new", n))
			}
		} else {
			s.log.Warn("ignoring max_outbound_bytes", zap.Any("value", v))
		}
	}
}

func (s *Server) setState(st api.ServerState) {
	s.state.Store(int32(st))
	s.control.SetMetric("server.state", st.String())
}

func (s *Server) serverState() api.ServerState {
	return api.ServerState(s.state.Load())
}

// Initialize acquires the listener, reactor and waker. Every failure releases
// what was acquired so far; the error is also kept for Error().
func (s *Server) Initialize() error {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	return s.initializeLocked()
}

func (s *Server) initializeLocked() (err error) {
	switch s.serverState() {
	case api.ServerListening, api.ServerRunning:
		return nil
	case api.ServerClosed:
		return api.ErrServerClosed
	}
	defer func() {
		s.lastErr = err
		if err != nil {
			s.log.Error("server initialization failed", zap.Error(err))
			s.releaseHandles()
		}
	}()

	if s.cfg.OnData == nil || s.cfg.OnAccept == nil {
		return api.NewError(api.ErrCodeConfiguration,
			"the callback functions for receiving messages and accepting connections are not set")
	}
	s.readBuf = make([]byte, s.cfg.ReadBufferSize)

	if s.listener, err = tcp.NewListener(); err != nil {
		return err
	}
	if err = s.listener.SetReusableAddress(); err != nil {
		return api.WrapError(api.ErrCodeBind, "the port multiplexing setting failed", err)
	}
	if err = s.listener.SetNonBlocking(); err != nil {
		return api.WrapError(api.ErrCodeResource, "failed to set the listener non-blocking", err)
	}
	if err = s.listener.Bind(s.cfg.Port); err != nil {
		return api.WrapError(api.ErrCodeBind, "failed to bind the port", err).
			WithContext("port", s.cfg.Port)
	}
	if err = s.listener.Listen(s.cfg.Backlog); err != nil {
		return api.WrapError(api.ErrCodeListen, "listening failed", err)
	}
	if s.poller, err = reactor.NewEpoll(s.cfg.EventBatchSize); err != nil {
		return err
	}
	if s.waker, err = reactor.NewWaker(); err != nil {
		return err
	}
	s.wake.Store(s.waker)
	if err = s.poller.Register(s.waker.Fd(), reactor.Readable, wakerTag); err != nil {
		return api.WrapError(api.ErrCodeRegistration, "failed to add the wake descriptor to the epoll model", err)
	}
	if err = s.poller.Register(s.listener.Fd(), reactor.Readable, listenerTag); err != nil {
		return api.WrapError(api.ErrCodeRegistration, "failed to add server-side sockets to the epoll model", err)
	}

	s.startedAt.Store(time.Now().UnixNano())
	s.setState(api.ServerListening)
	addr, _ := s.listener.Addr()
	s.log.Info("server listening", zap.Stringer("addr", addr), zap.Int("backlog", s.cfg.Backlog))
	return nil
}

// Error describes the startup outcome.
func (s *Server) Error() string {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	if s.lastErr != nil {
		return s.lastErr.Error()
	}
	switch s.serverState() {
	case api.ServerNew:
		return msgNotStarted
	case api.ServerClosed:
		return msgClosed
	default:
		return msgRunning
	}
}

// Addr returns the bound listening address.
func (s *Server) Addr() (tcp.Addr, error) {
	s.lifeMu.Lock()
	defer s.lifeMu.Unlock()
	st := s.serverState()
	if st != api.ServerListening && st != api.ServerRunning {
		return tcp.Addr{}, api.NewError(api.ErrCodeClosed, msgNotStarted).WithContext("state", st.String())
	}
	return s.listener.Addr()
}

// Control exposes runtime config, metrics and debug probes.
func (s *Server) Control() api.Control {
	return s.control
}

// Done is closed once every resource has been released.
func (s *Server) Done() <-chan struct{} {
	return s.done
}

func (s *Server) lookup(c *Conn) bool {
	if c == nil {
		return false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conns[c.fd] == c
}

// Connections returns a snapshot of live connections ordered by fd.
func (s *Server) Connections() []*Conn {
	s.mu.Lock()
	out := make([]*Conn, 0, len(s.conns))
	for _, c := range s.conns {
		out = append(out, c)
	}
	s.mu.Unlock()
	slices.SortFunc(out, func(a, b *Conn) int { return a.fd - b.fd })
	return out
}

func (s *Server) ConnCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// OutboundLen returns bytes queued for c that the kernel has not accepted yet.
func (s *Server) OutboundLen(c *Conn) int {
	if c == nil {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conns[c.fd] != c {
		return 0
	}
	if q := s.outbound[c.fd]; q != nil {
		return q.Len()
	}
	return 0
}

func (s *Server) Stats() api.ServerStats {
	var started time.Time
	if ns := s.startedAt.Load(); ns != 0 {
		started = time.Unix(0, ns)
	}
	return api.ServerStats{
		ActiveConns:   s.ConnCount(),
		AcceptedConns: s.accepted.Load(),
		ClosedConns:   s.closed.Load(),
		BytesIn:       s.bytesIn.Load(),
		BytesOut:      s.bytesOut.Load(),
		SendErrors:    s.sendErrors.Load(),
		StartedAt:     started,
	}
}

// SendAll queues p for c and flushes as much as the kernel accepts right away.
// The remainder goes out when the socket becomes writable. Safe from any goroutine.
func (s *Server) SendAll(c *Conn, p []byte) error {
	if c == nil {
		return api.NewError(api.ErrCodeInvalidArgument, "nil connection")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	q := s.outbound[c.fd]
	if s.conns[c.fd] != c || q == nil || c.State() >= api.ConnClosing {
		return api.ErrClosed
	}
	if limit := s.maxOutbound.Load(); limit > 0 && int64(q.Len()+len(p)) > limit {
		return api.NewError(api.ErrCodeQueueFull, "outbound queue full").
			WithContext("queued", q.Len()).
			WithContext("limit", limit)
	}
	q.push(p)
	if err := s.flushLocked(c, q); err != nil {
		s.sendErrors.Add(1)
		if c.markClosing() {
			s.post(command{kind: cmdDisconnect, conn: c})
		}
		s.log.Warn("send failed", zap.String("conn_id", c.ID()), zap.Int("fd", c.fd), zap.Error(err))
		return fmt.Errorf("send to %s: %w", c, err)
	}
	return nil
}

// flushLocked writes queued bytes until the queue is empty or the kernel pushes back.
func (s *Server) flushLocked(c *Conn, q *outboundQueue) error {
	for q.Len() > 0 {
		n, err := c.sock.Send(q.front())
		if n > 0 {
			q.advance(n)
			s.bytesOut.Add(uint64(n))
		}
		if err != nil {
			if api.CodeOf(err) == api.ErrCodeWouldBlock {
				return nil
			}
			return err
		}
		if n == 0 {
			return nil
		}
	}
	return nil
}

// Disconnect schedules teardown of c on the loop goroutine. Unknown or
// already closing connections are ignored.
func (s *Server) Disconnect(c *Conn) {
	if !s.lookup(c) {
		return
	}
	if !c.markClosing() {
		return
	}
	s.post(command{kind: cmdDisconnect, conn: c})
}

// Shutdown stops the server. A running loop tears down every connection,
// releases its descriptors and makes Run return api.ErrServerClosed;
// Shutdown waits for that or for ctx. Do not call it from a callback: the
// loop cannot finish while a callback waits for it. Use Disconnect there.
func (s *Server) Shutdown(ctx context.Context) error {
	s.lifeMu.Lock()
	switch {
	case s.serverState() == api.ServerClosed:
		s.lifeMu.Unlock()
		return nil
	case !s.running:
		s.releaseResources()
		s.lifeMu.Unlock()
		return nil
	}
	s.lifeMu.Unlock()

	s.post(command{kind: cmdShutdown})
	select {
	case <-s.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// releaseHandles closes whatever of listener, reactor and waker exists.
func (s *Server) releaseHandles() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener != nil {
		if err := s.listener.Close(); err != nil && api.CodeOf(err) != api.ErrCodeClosed {
			s.log.Warn("close listener", zap.Error(err))
		}
		s.listener = nil
	}
	if s.poller != nil {
		_ = s.poller.Close()
		s.poller = nil
	}
	if s.waker != nil {
		s.wake.Store(nil)
		_ = s.waker.Close()
	}
}

// releaseResources releases the handles and marks the server closed.
// Connections must already be gone.
func (s *Server) releaseResources() {
	s.releaseHandles()
	s.setState(api.ServerClosed)
	s.once.Do(func() { close(s.done) })
}
