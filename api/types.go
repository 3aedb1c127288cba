// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations, DTOs, and constants.

package api

import "time"

// ConnState enumerates the lifecycle of a server-side connection.
type ConnState int32

const (
	ConnAccepted ConnState = iota
	ConnActive
	ConnClosing
	ConnClosed
)

func (s ConnState) String() string {
	switch s {
	case ConnAccepted:
		return "accepted"
	case ConnActive:
		return "active"
	case ConnClosing:
		return "closing"
	case ConnClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerState enumerates the lifecycle of the event loop server.
type ServerState int32

const (
	ServerNew ServerState = iota
	ServerListening
	ServerRunning
	ServerClosed
)

func (s ServerState) String() string {
	switch s {
	case ServerNew:
		return "new"
	case ServerListening:
		return "listening"
	case ServerRunning:
		return "running"
	case ServerClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// ServerStats provides a standard layout for server health/statistics reporting.
type ServerStats struct {
	ActiveConns   int
	AcceptedConns uint64
	ClosedConns   uint64
	BytesIn       uint64 // bytes received
	BytesOut      uint64 // bytes accepted by the kernel
	SendErrors    uint64
	StartedAt     time.Time
}
