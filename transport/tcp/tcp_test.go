//go:build linux
// +build linux

package tcp

import (
	"bytes"
	"errors"
	"io"
	"net"
	"strconv"
	"testing"
	"time"

	"github.com/momentics/hioload-tcp/api"
	"golang.org/x/sys/unix"
)

func TestNewAddr(t *testing.T) {
	a, err := NewAddr("127.0.0.1", 9000)
	if err != nil {
		t.Fatalf("NewAddr: %v", err)
	}
	if a.IP() != "127.0.0.1" || a.Port() != 9000 {
		t.Errorf("unexpected addr %s", a)
	}
	if a != MustAddr("127.0.0.1", 9000) {
		t.Errorf("equal addresses must compare equal")
	}
	if a == MustAddr("127.0.0.1", 9001) {
		t.Errorf("addresses with different ports must differ")
	}

	for _, bad := range []string{"", "localhost", "300.1.1.1", "::1", "1.2.3", "::ffff:1.2.3.4"} {
		if _, err := NewAddr(bad, 80); !errors.Is(err, api.ErrInvalidArgument) {
			t.Errorf("NewAddr(%q) = %v, want invalid argument", bad, err)
		}
	}
}

func TestAddrSockaddrRoundTrip(t *testing.T) {
	a := MustAddr("10.1.2.3", 4567)
	sa := a.Sockaddr()
	if sa.Port != 4567 || sa.Addr != [4]byte{10, 1, 2, 3} {
		t.Fatalf("unexpected sockaddr %+v", sa)
	}
	if back := AddrFromSockaddr(sa); back != a {
		t.Errorf("round trip mismatch: %s != %s", back, a)
	}
	if !AddrFromSockaddr(&unix.SockaddrUnix{Name: "/tmp/x"}).IsZero() {
		t.Errorf("non-inet sockaddr must produce zero Addr")
	}
}

func newTestListener(t *testing.T) (*Listener, Addr) {
	t.Helper()
	l, err := NewListener()
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	t.Cleanup(func() { _ = l.Close() })
	if err := l.SetReusableAddress(); err != nil {
		t.Fatalf("SetReusableAddress: %v", err)
	}
	if err := l.BindAddr(MustAddr("127.0.0.1", 0)); err != nil {
		t.Fatalf("BindAddr: %v", err)
	}
	if err := l.Listen(16); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	addr, err := l.Addr()
	if err != nil {
		t.Fatalf("Addr: %v", err)
	}
	if addr.Port() == 0 {
		t.Fatalf("expected ephemeral port to be assigned")
	}
	return l, addr
}

func TestListenerAcceptWouldBlock(t *testing.T) {
	l, _ := newTestListener(t)
	if err := l.SetNonBlocking(); err != nil {
		t.Fatalf("SetNonBlocking: %v", err)
	}
	if _, err := l.Accept(); !errors.Is(err, api.ErrWouldBlock) {
		t.Fatalf("Accept with empty queue = %v, want ErrWouldBlock", err)
	}
}

func TestConnectSendRecv(t *testing.T) {
	l, addr := newTestListener(t)

	client, err := NewConn()
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	defer client.Close()
	if err := client.Connect(addr); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if client.Peer() != addr {
		t.Errorf("client peer = %s, want %s", client.Peer(), addr)
	}

	srv, err := l.Accept()
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	defer srv.Close()
	local, err := client.LocalAddr()
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}
	if srv.Peer() != local {
		t.Errorf("accepted peer = %s, want %s", srv.Peer(), local)
	}

	msg := []byte("hello over raw sockets")
	n, err := client.Send(msg)
	if err != nil || n != len(msg) {
		t.Fatalf("Send = %d, %v", n, err)
	}

	if err := srv.SetNonBlocking(); err != nil {
		t.Fatalf("SetNonBlocking: %v", err)
	}
	buf := make([]byte, 64)
	var got []byte
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < len(msg) && time.Now().Before(deadline) {
		n, err := srv.Recv(buf)
		if errors.Is(err, api.ErrWouldBlock) {
			time.Sleep(5 * time.Millisecond)
			continue
		}
		if err != nil {
			t.Fatalf("Recv: %v", err)
		}
		got = append(got, buf[:n]...)
	}
	if !bytes.Equal(got, msg) {
		t.Fatalf("received %q, want %q", got, msg)
	}

	if err := client.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	deadline = time.Now().Add(2 * time.Second)
	for {
		_, err := srv.Recv(buf)
		if err == io.EOF {
			break
		}
		if !errors.Is(err, api.ErrWouldBlock) {
			t.Fatalf("expected EOF, got %v", err)
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for EOF")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestConnectRefusedIsError(t *testing.T) {
	// Grab a free port, then release it so nothing listens there.
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("net.Listen: %v", err)
	}
	_, portStr, _ := net.SplitHostPort(ln.Addr().String())
	ln.Close()
	port, _ := strconv.Atoi(portStr)

	c, err := NewConn()
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	defer c.Close()
	if err := c.Connect(MustAddr("127.0.0.1", uint16(port))); !errors.Is(err, unix.ECONNREFUSED) {
		t.Fatalf("Connect to closed port = %v, want ECONNREFUSED", err)
	}
}

func TestCloseIsIdempotent(t *testing.T) {
	c, err := NewConn()
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	if err := c.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	if err := c.Close(); !errors.Is(err, api.ErrClosed) {
		t.Errorf("second Close = %v, want ErrClosed", err)
	}
	if _, err := c.Send([]byte("x")); !errors.Is(err, api.ErrClosed) {
		t.Errorf("Send after Close = %v, want ErrClosed", err)
	}
	if !c.Closed() {
		t.Errorf("Closed() should report true")
	}
}

func TestBindPortInUse(t *testing.T) {
	_, addr := newTestListener(t)

	l2, err := NewListener()
	if err != nil {
		t.Fatalf("NewListener: %v", err)
	}
	defer l2.Close()
	if err := l2.BindAddr(addr); !errors.Is(err, api.ErrBind) {
		t.Fatalf("second bind = %v, want ErrBind", err)
	}
}

func TestAwaitConnectAfterInterrupt(t *testing.T) {
	_, addr := newTestListener(t)

	blocking, err := NewConn()
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	defer blocking.Close()
	if err := unix.Connect(blocking.Fd(), addr.Sockaddr()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if err := blocking.awaitConnect(); err != nil {
		t.Errorf("blocking socket: awaitConnect = %v, want nil", err)
	}

	nonblocking, err := NewConn()
	if err != nil {
		t.Fatalf("NewConn: %v", err)
	}
	defer nonblocking.Close()
	if err := nonblocking.SetNonBlocking(); err != nil {
		t.Fatalf("SetNonBlocking: %v", err)
	}
	if err := nonblocking.awaitConnect(); err != unix.EINPROGRESS {
		t.Errorf("non-blocking socket: awaitConnect = %v, want EINPROGRESS", err)
	}
	err = nonblocking.Connect(addr)
	if err != nil && !errors.Is(err, api.ErrWouldBlock) {
		t.Errorf("non-blocking Connect = %v, want nil or ErrWouldBlock", err)
	}
}
