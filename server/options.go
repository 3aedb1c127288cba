//go:build linux
// +build linux

// File: server/options.go
// Package server defines functional options for the Server.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/momentics/hioload-tcp/api"
	"go.uber.org/zap"
)

// Option customizes server construction.
type Option func(*Server)

// WithLogger sets the structured logger. nil keeps the no-op logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.log = l
		}
	}
}

// WithControl publishes config, metrics and probes to ctrl instead of a private adapter.
func WithControl(ctrl api.Control) Option {
	return func(s *Server) {
		if ctrl != nil {
			s.control = ctrl
		}
	}
}

func WithDataHandler(fn DataFunc) Option {
	return func(s *Server) { s.cfg.OnData = fn }
}

func WithAcceptHandler(fn AcceptFunc) Option {
	return func(s *Server) {
		s.cfg.OnAccept = fn
		s.acceptSet = true
	}
}

func WithCloseHandler(fn CloseFunc) Option {
	return func(s *Server) { s.cfg.OnClose = fn }
}

func WithPort(port uint16) Option {
	return func(s *Server) { s.cfg.Port = port }
}

func WithBacklog(n int) Option {
	return func(s *Server) { s.cfg.Backlog = n }
}

// WithReadBufferSize overrides the per-read chunk size.
func WithReadBufferSize(n int) Option {
	return func(s *Server) { s.cfg.ReadBufferSize = n }
}

// WithEventBatchSize overrides default reactor batch size.
func WithEventBatchSize(n int) Option {
	return func(s *Server) { s.cfg.EventBatchSize = n }
}

func WithMaxConnections(n int) Option {
	return func(s *Server) { s.cfg.MaxConnections = n }
}

func WithMaxOutboundBytes(n int) Option {
	return func(s *Server) { s.cfg.MaxOutboundBytes = n }
}
