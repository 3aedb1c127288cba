//go:build linux
// +build linux

// File: server/commands.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"github.com/eapache/queue"
	"go.uber.org/zap"
)

type commandKind int

const (
	cmdDisconnect commandKind = iota
	cmdShutdown
)

// command is work posted by other goroutines for the loop goroutine.
type command struct {
	kind commandKind
	conn *Conn
}

type commandQueue struct {
	q *queue.Queue
}

func newCommandQueue() commandQueue {
	return commandQueue{q: queue.New()}
}

// post enqueues cmd and interrupts Wait. Safe from any goroutine.
func (s *Server) post(cmd command) {
	s.cmdMu.Lock()
	s.cmds.q.Add(cmd)
	s.cmdMu.Unlock()
	w := s.wake.Load()
	if w == nil {
		return
	}
	if err := w.Wake(); err != nil {
		s.log.Debug("wake failed", zap.Error(err))
	}
}

func (s *Server) takeCommands() []command {
	s.cmdMu.Lock()
	defer s.cmdMu.Unlock()
	n := s.cmds.q.Length()
	if n == 0 {
		return nil
	}
	out := make([]command, 0, n)
	for s.cmds.q.Length() > 0 {
		out = append(out, s.cmds.q.Remove().(command))
	}
	return out
}

// runCommands executes queued commands on the loop goroutine and reports
// whether a shutdown was requested.
func (s *Server) runCommands() (shutdown bool) {
	for _, cmd := range s.takeCommands() {
		switch cmd.kind {
		case cmdDisconnect:
			if s.lookup(cmd.conn) {
				s.teardown(cmd.conn, nil)
			}
		case cmdShutdown:
			shutdown = true
		}
	}
	return shutdown
}
