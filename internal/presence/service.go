//go:build linux
// +build linux

// File: internal/presence/service.go
// Author: momentics <momentics@gmail.com>

package presence

import (
	"bytes"
	"context"
	"encoding/json"
	"time"

	"github.com/momentics/hioload-tcp/api"
	"github.com/momentics/hioload-tcp/server"
	"go.uber.org/zap"
)

const (
	PingMessage = "ping"
	PongMessage = "pang"
)

// Sender is the part of *server.Server the heartbeat needs.
type Sender interface {
	SendAll(c *server.Conn, p []byte) error
	Disconnect(c *server.Conn)
}

type loginRequest struct {
	UserName *string `json:"user_name"`
}

// Service keeps the tracker in sync with server callbacks and runs the heartbeat.
type Service struct {
	tracker  *Tracker
	notifier Notifier
	interval time.Duration
	log      *zap.Logger
}

// NewService wires a tracker and notifier. interval is the heartbeat period.
func NewService(tracker *Tracker, notifier Notifier, interval time.Duration, log *zap.Logger) *Service {
	if tracker == nil {
		tracker = NewTracker(0)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Service{tracker: tracker, notifier: notifier, interval: interval, log: log}
}

func (s *Service) Tracker() *Tracker {
	return s.tracker
}

// HandleData is a server.DataFunc. A heartbeat answer from an unknown
// connection, or anything that is not a valid login, disconnects the client.
func (s *Service) HandleData(c *server.Conn, payload []byte, srv *server.Server) {
	msg := bytes.TrimSpace(payload)
	if len(msg) == 0 {
		return
	}
	if string(msg) == PongMessage {
		if !s.tracker.MarkAlive(c.ID()) {
			s.log.Error("heartbeat answer from unknown connection", zap.String("conn_id", c.ID()))
			srv.Disconnect(c)
		}
		return
	}

	var req loginRequest
	if err := json.Unmarshal(msg, &req); err != nil {
		s.log.Error("invalid login message", zap.String("conn_id", c.ID()), zap.Error(err))
		srv.Disconnect(c)
		return
	}
	if req.UserName == nil {
		s.log.Error("login message has no user_name field", zap.String("conn_id", c.ID()))
		srv.Disconnect(c)
		return
	}
	relogin := s.tracker.Login(c.ID(), *req.UserName, c)
	s.log.Info("user logged in",
		zap.String("user", *req.UserName),
		zap.String("conn_id", c.ID()),
		zap.Stringer("peer", c.Peer()),
		zap.Bool("relogin", relogin))
}

// HandleClose is a server.CloseFunc. Untracked connections are ignored.
func (s *Service) HandleClose(c *server.Conn, _ *server.Server) {
	e, ok := s.tracker.Remove(c.ID())
	if !ok {
		return
	}
	connected := zap.Duration("connected", time.Since(c.AcceptedAt()).Round(time.Millisecond))
	if e.Alive {
		s.log.Info("user went offline", zap.String("user", e.User), zap.String("conn_id", e.ID), connected)
	} else {
		s.log.Info("heartbeat not answered", zap.String("user", e.User), zap.String("conn_id", e.ID), connected)
	}
	if s.notifier != nil {
		s.notifier.NotifyOffline(e.User)
	}
}

// Sweep runs one heartbeat round: connections that did not answer the
// previous ping are disconnected, the others are pinged again.
func (s *Service) Sweep(sender Sender) {
	for _, e := range s.tracker.Snapshot() {
		if !e.Alive {
			sender.Disconnect(e.Conn)
			continue
		}
		// Cleared before sending so a fast answer is not overwritten.
		s.tracker.SetAlive(e.ID, false)
		if err := sender.SendAll(e.Conn, []byte(PingMessage)); err != nil {
			level := zap.WarnLevel
			if api.CodeOf(err) == api.ErrCodeClosed {
				level = zap.DebugLevel
			}
			s.log.Check(level, "heartbeat send failed").
				Write(zap.String("user", e.User), zap.String("conn_id", e.ID), zap.Error(err))
		}
	}
}

// Run sweeps every interval until ctx is done.
func (s *Service) Run(ctx context.Context, sender Sender) error {
	if s.interval <= 0 {
		return api.NewError(api.ErrCodeConfiguration, "heartbeat interval must be positive").
			WithContext("interval", s.interval.String())
	}
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(sender)
		}
	}
}
