//go:build linux
// +build linux

// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/momentics/hioload-tcp/transport/tcp"

// AcceptFunc produces one connection from the listener. It must return
// api.ErrWouldBlock when nothing is pending.
type AcceptFunc func(l *tcp.Listener) (*tcp.Conn, error)

// DataFunc is invoked once per readiness cycle with everything read in that
// cycle. payload is only valid for the duration of the call.
type DataFunc func(c *Conn, payload []byte, s *Server)

// CloseFunc is invoked exactly once before a connection is released. It must
// not perform I/O on c.
type CloseFunc func(c *Conn, s *Server)

// Config holds all server-side configuration parameters.
type Config struct {
	Port             uint16 // 0 picks an ephemeral port
	ReadBufferSize   int    // bytes per read call
	Backlog          int    // listen queue depth
	EventBatchSize   int    // max events per Wait
	MaxConnections   int    // 0 = unlimited
	MaxOutboundBytes int    // per-connection pending bytes, 0 = unlimited

	OnAccept AcceptFunc
	OnData   DataFunc
	OnClose  CloseFunc
}

const (
	DefaultPort             = 8080
	DefaultReadBufferSize   = 4096
	DefaultBacklog          = 128
	DefaultEventBatchSize   = 128
	DefaultMaxOutboundBytes = 4 << 20
)

// DefaultConfig returns sensible defaults. OnData is left unset.
func DefaultConfig() *Config {
	return &Config{
		Port:             DefaultPort,
		ReadBufferSize:   DefaultReadBufferSize,
		Backlog:          DefaultBacklog,
		EventBatchSize:   DefaultEventBatchSize,
		MaxOutboundBytes: DefaultMaxOutboundBytes,
		OnAccept:         DefaultAccept,
	}
}

// DefaultAccept is the plain accept(2) strategy.
func DefaultAccept(l *tcp.Listener) (*tcp.Conn, error) {
	return l.Accept()
}

func (c *Config) normalize() {
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = DefaultReadBufferSize
	}
	if c.Backlog <= 0 {
		c.Backlog = DefaultBacklog
	}
	if c.EventBatchSize <= 0 {
		c.EventBatchSize = DefaultEventBatchSize
	}
	if c.MaxConnections < 0 {
		c.MaxConnections = 0
	}
	if c.MaxOutboundBytes < 0 {
		c.MaxOutboundBytes = 0
	}
}

// asMap is the snapshot published to api.Control.
func (c *Config) asMap() map[string]any {
	return map[string]any{
		"port":               int(c.Port),
		"read_buffer_size":   c.ReadBufferSize,
		"backlog":            c.Backlog,
		"event_batch_size":   c.EventBatchSize,
		"max_connections":    c.MaxConnections,
		"max_outbound_bytes": c.MaxOutboundBytes,
	}
}
