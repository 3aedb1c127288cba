// Package server implements a readiness-based TCP server: one goroutine runs
// an edge-triggered epoll loop, accepts connections, drains reads into a
// single OnData call per readiness cycle and flushes per-connection outbound
// queues as sockets become writable.
//
// SendAll and Disconnect may be called from any goroutine. Descriptors are
// closed only by the loop goroutine.
package server
