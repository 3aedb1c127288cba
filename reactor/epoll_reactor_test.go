//go:build linux
// +build linux

package reactor

import (
	"errors"
	"testing"
	"time"

	"github.com/momentics/hioload-tcp/api"
	"golang.org/x/sys/unix"
)

func newPipe(t *testing.T) (r, w int) {
	t.Helper()
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	t.Cleanup(func() {
		unix.Close(p[0])
		unix.Close(p[1])
	})
	return p[0], p[1]
}

func newEpoll(t *testing.T) *Epoll {
	t.Helper()
	ep, err := NewEpoll(8)
	if err != nil {
		t.Fatalf("NewEpoll: %v", err)
	}
	t.Cleanup(func() { ep.Close() })
	return ep
}

func TestEpollReadableCarriesTag(t *testing.T) {
	ep := newEpoll(t)
	r, w := newPipe(t)

	if err := ep.Register(r, Readable, 42); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if evs, err := ep.Wait(0); err != nil || len(evs) != 0 {
		t.Fatalf("Wait on idle pipe = %v, %v", evs, err)
	}

	unix.Write(w, []byte("x"))
	evs, err := ep.Wait(1000)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(evs) != 1 {
		t.Fatalf("got %d events, want 1", len(evs))
	}
	if evs[0].Fd != r || evs[0].Tag != 42 || !evs[0].Readable() || evs[0].Writable() {
		t.Errorf("unexpected event %+v", evs[0])
	}

	// Edge triggered: no new edge until more data arrives.
	if evs, _ := ep.Wait(0); len(evs) != 0 {
		t.Errorf("expected no repeat notification, got %+v", evs)
	}
}

func TestEpollHangup(t *testing.T) {
	ep := newEpoll(t)
	var p [2]int
	if err := unix.Pipe2(p[:], unix.O_NONBLOCK|unix.O_CLOEXEC); err != nil {
		t.Fatalf("pipe2: %v", err)
	}
	defer unix.Close(p[0])
	if err := ep.Register(p[0], Readable, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	unix.Close(p[1])
	evs, err := ep.Wait(1000)
	if err != nil || len(evs) != 1 {
		t.Fatalf("Wait = %v, %v", evs, err)
	}
	if !evs[0].Hangup {
		t.Errorf("expected hangup, got %+v", evs[0])
	}
}

func TestEpollRegistrationBookkeeping(t *testing.T) {
	ep := newEpoll(t)
	r, w := newPipe(t)

	if err := ep.Register(r, Readable, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := ep.Register(r, Readable, 2); !errors.Is(err, api.ErrRegistration) {
		t.Fatalf("duplicate Register = %v, want ErrRegistration", err)
	}
	if err := ep.Register(w, Writable, 3); err != nil {
		t.Fatalf("Register writer: %v", err)
	}
	if ep.Len() != 2 {
		t.Fatalf("Len = %d, want 2", ep.Len())
	}
	if in, ok := ep.Registered(w); !ok || in != Writable {
		t.Fatalf("Registered(w) = %v, %v", in, ok)
	}

	if err := ep.Modify(r, ReadWrite, 7); err != nil {
		t.Fatalf("Modify: %v", err)
	}
	if in, _ := ep.Registered(r); in != ReadWrite {
		t.Errorf("interest after Modify = %v, want ReadWrite", in)
	}
	if err := ep.Modify(12345, Readable, 7); !errors.Is(err, api.ErrRegistration) {
		t.Errorf("Modify unknown fd = %v, want ErrRegistration", err)
	}

	if !ep.Unregister(r) {
		t.Errorf("first Unregister should report true")
	}
	if ep.Unregister(r) {
		t.Errorf("second Unregister should report false")
	}
	if ep.Len() != 1 {
		t.Errorf("Len = %d, want 1", ep.Len())
	}
}

func TestWakerInterruptsWait(t *testing.T) {
	ep := newEpoll(t)
	wk, err := NewWaker()
	if err != nil {
		t.Fatalf("NewWaker: %v", err)
	}
	defer wk.Close()
	if err := ep.Register(wk.Fd(), Readable, 0); err != nil {
		t.Fatalf("Register: %v", err)
	}

	go func() {
		time.Sleep(20 * time.Millisecond)
		wk.Wake()
		wk.Wake()
	}()

	start := time.Now()
	evs, err := ep.Wait(Infinite)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	if len(evs) != 1 || evs[0].Fd != wk.Fd() {
		t.Fatalf("unexpected events %+v", evs)
	}
	if time.Since(start) > 2*time.Second {
		t.Errorf("wake took too long")
	}
	wk.Drain()

	// After draining, a new Wake produces a fresh edge.
	if err := wk.Wake(); err != nil {
		t.Fatalf("Wake: %v", err)
	}
	evs, err = ep.Wait(1000)
	if err != nil || len(evs) != 1 {
		t.Fatalf("second Wait = %v, %v", evs, err)
	}
}

func TestClosedEpoll(t *testing.T) {
	ep, err := NewEpoll(0)
	if err != nil {
		t.Fatalf("NewEpoll: %v", err)
	}
	if err := ep.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if _, err := ep.Wait(0); !errors.Is(err, api.ErrClosed) {
		t.Errorf("Wait after Close = %v, want ErrClosed", err)
	}
	if err := ep.Register(0, Readable, 0); !errors.Is(err, api.ErrClosed) {
		t.Errorf("Register after Close = %v, want ErrClosed", err)
	}
	if err := ep.Close(); !errors.Is(err, api.ErrClosed) {
		t.Errorf("double Close = %v, want ErrClosed", err)
	}
}
