// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

// Package tcp wraps raw IPv4 stream sockets for the readiness-based server:
// an address value (Addr), a connected endpoint (Conn) and a listening
// endpoint (Listener). Every handle owns exactly one descriptor and releases
// it at most once.
package tcp
