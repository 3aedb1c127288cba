// control/hotreload.go
// Manages hot-reload hooks for config changes.
// Hooks run synchronously so callers read the new values right after SetConfig.

package control

import "sync"

// ReloadHooks is a list of component reload listeners.
type ReloadHooks struct {
	mu    sync.Mutex
	hooks []func()
}

func NewReloadHooks() *ReloadHooks {
	return &ReloadHooks{}
}

// Register adds a new component reload listener.
func (r *ReloadHooks) Register(fn func()) {
	if fn == nil {
		return
	}
	r.mu.Lock()
	r.hooks = append(r.hooks, fn)
	r.mu.Unlock()
}

func (r *ReloadHooks) snapshot() []func() {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]func(){}, r.hooks...)
}

// TriggerSync invokes all hooks in registration order on the calling goroutine.
func (r *ReloadHooks) TriggerSync() {
	for _, fn := range r.snapshot() {
		fn()
	}
}
