//go:build linux
// +build linux

// File: internal/presence/tracker.go
// Author: momentics <momentics@gmail.com>
//
// Sharded, thread-safe map of logged-in connections.

package presence

import (
	"hash/fnv"
	"sync"
	"time"

	"github.com/momentics/hioload-tcp/server"
)

// Entry is the presence record of one connection.
type Entry struct {
	ID    string // connection id
	User  string
	Alive bool // answered the last heartbeat
	Conn  *server.Conn
	Since time.Time
}

// Tracker implements sharded storage for presence entries.
type Tracker struct {
	shards []*trackerShard
	mask   uint32
}

type trackerShard struct {
	mu      sync.RWMutex
	entries map[string]*Entry
}

// NewTracker constructs a tracker with shardCount shards, rounded up to a power of two.
func NewTracker(shardCount int) *Tracker {
	if shardCount <= 0 {
		shardCount = 16
	}
	m := nextPowerOfTwo(uint32(shardCount))
	shards := make([]*trackerShard, m)
	for i := range shards {
		shards[i] = &trackerShard{entries: make(map[string]*Entry)}
	}
	return &Tracker{shards: shards, mask: m - 1}
}

func (t *Tracker) shard(id string) *trackerShard {
	return t.shards[fnv32(id)&t.mask]
}

// Login records user on connection id as alive. A repeated login replaces
// the user name and reports true.
func (t *Tracker) Login(id, user string, c *server.Conn) (relogin bool) {
	sh := t.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	if e, ok := sh.entries[id]; ok {
		e.User = user
		e.Alive = true
		return true
	}
	sh.entries[id] = &Entry{ID: id, User: user, Alive: true, Conn: c, Since: time.Now()}
	return false
}

// MarkAlive records a heartbeat answer. It reports false for unknown ids.
func (t *Tracker) MarkAlive(id string) bool {
	return t.SetAlive(id, true)
}

// SetAlive sets the liveness flag of a tracked connection.
func (t *Tracker) SetAlive(id string, alive bool) bool {
	sh := t.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if ok {
		e.Alive = alive
	}
	return ok
}

// Get returns a copy of the entry.
func (t *Tracker) Get(id string) (Entry, bool) {
	sh := t.shard(id)
	sh.mu.RLock()
	defer sh.mu.RUnlock()
	if e, ok := sh.entries[id]; ok {
		return *e, true
	}
	return Entry{}, false
}

// Remove deletes the entry and returns what it held.
func (t *Tracker) Remove(id string) (Entry, bool) {
	sh := t.shard(id)
	sh.mu.Lock()
	defer sh.mu.Unlock()
	e, ok := sh.entries[id]
	if !ok {
		return Entry{}, false
	}
	delete(sh.entries, id)
	return *e, true
}

// Snapshot copies all entries. Later changes do not affect the copy.
func (t *Tracker) Snapshot() []Entry {
	var out []Entry
	for _, sh := range t.shards {
		sh.mu.RLock()
		for _, e := range sh.entries {
			out = append(out, *e)
		}
		sh.mu.RUnlock()
	}
	return out
}

func (t *Tracker) Len() int {
	n := 0
	for _, sh := range t.shards {
		sh.mu.RLock()
		n += len(sh.entries)
		sh.mu.RUnlock()
	}
	return n
}

// fnv32 hashes a string to uint32.
func fnv32(key string) uint32 {
	h := fnv.New32a()
	h.Write([]byte(key))
	return h.Sum32()
}

// nextPowerOfTwo returns the next power-of-two >= v.
func nextPowerOfTwo(v uint32) uint32 {
	v--
	v |= v >> 1
	v |= v >> 2
	v |= v >> 4
	v |= v >> 8
	v |= v >> 16
	v++
	return v
}
