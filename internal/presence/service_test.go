//go:build linux
// +build linux

package presence

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/momentics/hioload-tcp/server"
)

const testTimeout = 5 * time.Second

type fakeNotifier struct {
	mu    sync.Mutex
	users []string
}

func (f *fakeNotifier) NotifyOffline(user string) {
	f.mu.Lock()
	f.users = append(f.users, user)
	f.mu.Unlock()
}

func (f *fakeNotifier) reported() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.users...)
}

func startPresence(t *testing.T) (*Service, *server.Server, *fakeNotifier, string) {
	t.Helper()
	fn := &fakeNotifier{}
	svc := NewService(NewTracker(4), fn, time.Hour, nil)
	cfg := server.DefaultConfig()
	cfg.Port = 0
	srv := server.New(cfg,
		server.WithDataHandler(svc.HandleData),
		server.WithCloseHandler(svc.HandleClose))
	if err := srv.Initialize(); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	a, _ := srv.Addr()
	go srv.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
		defer cancel()
		srv.Shutdown(ctx)
	})
	return svc, srv, fn, fmt.Sprintf("127.0.0.1:%d", a.Port())
}

func dial(t *testing.T, addr string) net.Conn {
	t.Helper()
	c, err := net.DialTimeout("tcp", addr, testTimeout)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	c.SetDeadline(time.Now().Add(testTimeout))
	t.Cleanup(func() { c.Close() })
	return c
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(testTimeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func expectPing(t *testing.T, c net.Conn) {
	t.Helper()
	buf := make([]byte, len(PingMessage))
	if _, err := io.ReadFull(c, buf); err != nil || string(buf) != PingMessage {
		t.Fatalf("expected ping, got %q, %v", buf, err)
	}
}

func expectEOF(t *testing.T, c net.Conn) {
	t.Helper()
	if _, err := c.Read(make([]byte, 16)); err == nil {
		t.Fatalf("expected the server to close the connection")
	}
}

func onlyEntry(t *testing.T, svc *Service) Entry {
	t.Helper()
	snap := svc.Tracker().Snapshot()
	if len(snap) != 1 {
		t.Fatalf("tracked %d entries, want 1", len(snap))
	}
	return snap[0]
}

func TestHeartbeatLifecycle(t *testing.T) {
	svc, srv, fn, addr := startPresence(t)
	c := dial(t, addr)

	c.Write([]byte(`{"user_name":"alice"}`))
	waitFor(t, "login", func() bool { return svc.Tracker().Len() == 1 })
	if e := onlyEntry(t, svc); e.User != "alice" || !e.Alive {
		t.Fatalf("unexpected entry %+v", e)
	}

	svc.Sweep(srv)
	expectPing(t, c)
	if onlyEntry(t, svc).Alive {
		t.Fatalf("entry must be marked pending after ping")
	}
	id := onlyEntry(t, svc).ID
	c.Write([]byte("pang\n"))
	waitFor(t, "heartbeat answer", func() bool {
		e, _ := svc.Tracker().Get(id)
		return e.Alive
	})

	svc.Sweep(srv)
	expectPing(t, c)
	// No answer this time: the next sweep disconnects.
	svc.Sweep(srv)
	expectEOF(t, c)

	waitFor(t, "offline report", func() bool { return len(fn.reported()) == 1 })
	if got := fn.reported(); got[0] != "alice" {
		t.Fatalf("reported %v", got)
	}
	if svc.Tracker().Len() != 0 {
		t.Fatalf("tracker still holds %d entries", svc.Tracker().Len())
	}
}

func TestClientCloseReportsOffline(t *testing.T) {
	svc, _, fn, addr := startPresence(t)
	c := dial(t, addr)
	c.Write([]byte(`{"user_name":"bob"}`))
	waitFor(t, "login", func() bool { return svc.Tracker().Len() == 1 })
	c.Close()
	waitFor(t, "offline report", func() bool { return len(fn.reported()) == 1 })
	if fn.reported()[0] != "bob" {
		t.Fatalf("reported %v", fn.reported())
	}
}

func TestInvalidMessagesDisconnect(t *testing.T) {
	svc, srv, fn, addr := startPresence(t)
	for _, msg := range []string{"not json", `{"name":"x"}`, "pang", `{"user_name":5}`} {
		c := dial(t, addr)
		c.Write([]byte(msg))
		expectEOF(t, c)
	}
	waitFor(t, "connections to close", func() bool { return srv.ConnCount() == 0 })
	if svc.Tracker().Len() != 0 || len(fn.reported()) != 0 {
		t.Fatalf("untracked clients must not be reported: %v", fn.reported())
	}
}

func TestRunDisconnectsSilentClients(t *testing.T) {
	svc, srv, fn, addr := startPresence(t)
	svc.interval = 20 * time.Millisecond
	c := dial(t, addr)
	c.Write([]byte(`{"user_name":"carol"}`))
	waitFor(t, "login", func() bool { return svc.Tracker().Len() == 1 })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Run(ctx, srv) }()

	expectPing(t, c)
	expectEOF(t, c)
	waitFor(t, "offline report", func() bool { return len(fn.reported()) == 1 })

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Run returned %v", err)
		}
	case <-time.After(testTimeout):
		t.Fatal("Run did not stop")
	}
}

func TestRunRejectsZeroInterval(t *testing.T) {
	svc := NewService(nil, nil, 0, nil)
	if err := svc.Run(context.Background(), nil); err == nil {
		t.Fatal("expected an error for a zero interval")
	}
}
