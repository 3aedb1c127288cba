//go:build linux
// +build linux

package presence

import (
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"sync"
	"testing"

	"github.com/momentics/hioload-tcp/api"
)

type recordingBackend struct {
	mu     sync.Mutex
	bodies []string
	ctypes []string
	paths  []string
	status int
}

func (b *recordingBackend) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	b.mu.Lock()
	b.bodies = append(b.bodies, string(body))
	b.ctypes = append(b.ctypes, r.Header.Get("Content-Type"))
	b.paths = append(b.paths, r.Method+" "+r.URL.Path)
	status := b.status
	b.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func notifierConfigFor(t *testing.T, ts *httptest.Server) NotifierConfig {
	t.Helper()
	u, err := url.Parse(ts.URL)
	if err != nil {
		t.Fatal(err)
	}
	host, portStr, err := net.SplitHostPort(u.Host)
	if err != nil {
		t.Fatal(err)
	}
	port, _ := strconv.Atoi(portStr)
	return NotifierConfig{IP: host, Port: port, RequestURL: "user/offline"}
}

func TestHTTPNotifierPostsOfflineReport(t *testing.T) {
	backend := &recordingBackend{}
	ts := httptest.NewServer(backend)
	defer ts.Close()

	n, err := NewHTTPNotifier(notifierConfigFor(t, ts), nil)
	if err != nil {
		t.Fatalf("NewHTTPNotifier: %v", err)
	}
	n.NotifyOffline("alice")
	n.NotifyOffline("bob")
	if err := n.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := n.Close(); !errors.Is(err, api.ErrClosed) {
		t.Errorf("second Close = %v", err)
	}
	n.NotifyOffline("late") // dropped, must not panic

	backend.mu.Lock()
	defer backend.mu.Unlock()
	if len(backend.bodies) != 2 {
		t.Fatalf("backend got %d requests, want 2", len(backend.bodies))
	}
	if backend.bodies[0] != `{"username":"alice"}` || backend.bodies[1] != `{"username":"bob"}` {
		t.Errorf("bodies = %q", backend.bodies)
	}
	if backend.ctypes[0] != "application/json" {
		t.Errorf("content type = %q", backend.ctypes[0])
	}
	if backend.paths[0] != "POST /user/offline" {
		t.Errorf("request = %q", backend.paths[0])
	}
}

func TestHTTPNotifierReportsBadStatus(t *testing.T) {
	backend := &recordingBackend{status: http.StatusInternalServerError}
	ts := httptest.NewServer(backend)
	defer ts.Close()

	n, err := NewHTTPNotifier(notifierConfigFor(t, ts), nil)
	if err != nil {
		t.Fatalf("NewHTTPNotifier: %v", err)
	}
	defer n.Close()
	if err := n.post("carol"); err == nil {
		t.Fatal("expected an error for status 500")
	}
}

func TestNotifierConfig(t *testing.T) {
	cfg := NotifierConfig{IP: "10.0.0.1", Port: 8081, RequestURL: "/api/offline"}
	if got := cfg.URL(); got != "http://10.0.0.1:8081/api/offline" {
		t.Errorf("URL = %q", got)
	}
	if _, err := NewHTTPNotifier(NotifierConfig{IP: "", Port: 80}, nil); !errors.Is(err, api.ErrConfiguration) {
		t.Errorf("empty ip = %v", err)
	}
	if _, err := NewHTTPNotifier(NotifierConfig{IP: "127.0.0.1", Port: 0}, nil); !errors.Is(err, api.ErrConfiguration) {
		t.Errorf("zero port = %v", err)
	}
}
