//go:build linux
// +build linux

// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/transport/tcp"
)

// Conn is the server-side handle passed to callbacks. The socket itself is
// owned by the server; callers write through Server.SendAll and close
// through Server.Disconnect.
type Conn struct {
	id       uuid.UUID
	sock     *tcp.Conn
	fd       int
	peer     tcp.Addr
	tag      uint32
	state    atomic.Int32
	since    time.Time
	tornDown bool // loop goroutine only
}

func newConn(sock *tcp.Conn, tag uint32) *Conn {
	c := &Conn{
		id:    uuid.New(),
		sock:  sock,
		fd:    sock.Fd(),
		peer:  sock.Peer(),
		tag:   tag,
		since: time.Now(),
	}
	c.state.Store(int32(api.ConnAccepted))
	return c
}

// ID is a process-unique identifier, stable across fd reuse.
func (c *Conn) ID() string { return c.id.String() }

func (c *Conn) Fd() int { return c.fd }

func (c *Conn) Peer() tcp.Addr { return c.peer }

func (c *Conn) AcceptedAt() time.Time { return c.since }

func (c *Conn) State() api.ConnState {
	return api.ConnState(c.state.Load())
}

func (c *Conn) setState(st api.ConnState) {
	c.state.Store(int32(st))
}

// markClosing moves a live connection to Closing. It reports false if the
// connection was already closing or closed.
func (c *Conn) markClosing() bool {
	for {
		cur := c.state.Load()
		if api.ConnState(cur) >= api.ConnClosing {
			return false
		}
		if c.state.CompareAndSwap(cur, int32(api.ConnClosing)) {
			return true
		}
	}
}

func (c *Conn) String() string {
	return fmt.Sprintf("conn(fd=%d peer=%s)", c.fd, c.peer)
}
