//go:build linux
// +build linux

// File: server/outbound.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import "github.com/eapache/queue"

// outboundQueue holds bytes accepted by SendAll but not yet by the kernel.
// Chunks leave the front only after they were fully written.
type outboundQueue struct {
	chunks *queue.Queue
	head   int // offset into the front chunk
	size   int // unsent bytes
}

func newOutboundQueue() *outboundQueue {
	return &outboundQueue{chunks: queue.New()}
}

func (q *outboundQueue) Len() int { return q.size }

// push copies p; the caller may reuse its buffer.
func (q *outboundQueue) push(p []byte) {
	if len(p) == 0 {
		return
	}
	q.chunks.Add(append([]byte(nil), p...))
	q.size += len(p)
}

func (q *outboundQueue) front() []byte {
	if q.chunks.Length() == 0 {
		return nil
	}
	return q.chunks.Peek().([]byte)[q.head:]
}

// advance drops n sent bytes from the front.
func (q *outboundQueue) advance(n int) {
	q.size -= n
	for n > 0 && q.chunks.Length() > 0 {
		rest := len(q.chunks.Peek().([]byte)) - q.head
		if n < rest {
			q.head += n
			return
		}
		n -= rest
		q.chunks.Remove()
		q.head = 0
	}
}

func (q *outboundQueue) reset() {
	for q.chunks.Length() > 0 {
		q.chunks.Remove()
	}
	q.head, q.size = 0, 0
}
