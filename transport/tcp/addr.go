//go:build linux
// +build linux

// Copyright (c) 2025
// Author: momentics <momentics@gmail.com>

package tcp

import (
	"net/netip"

	"github.com/momentics/hioload-tcp/api"
	"golang.org/x/sys/unix"
)

// Addr is an IPv4 endpoint. It is a comparable value type; equality is by (ip, port).
type Addr struct {
	ap netip.AddrPort
}

// NewAddr builds an Addr from a dotted-quad ip and a port.
func NewAddr(ip string, port uint16) (Addr, error) {
	a, err := netip.ParseAddr(ip)
	if err != nil {
		return Addr{}, api.WrapError(api.ErrCodeInvalidArgument, "invalid ip address", err).
			WithContext("ip", ip)
	}
	if !a.Is4() {
		return Addr{}, api.NewError(api.ErrCodeInvalidArgument, "not an IPv4 address").
			WithContext("ip", ip)
	}
	return Addr{ap: netip.AddrPortFrom(a, port)}, nil
}

// MustAddr is NewAddr that panics on error. Intended for constants in tests and examples.
func MustAddr(ip string, port uint16) Addr {
	a, err := NewAddr(ip, port)
	if err != nil {
		panic(err)
	}
	return a
}

// AddrFromSockaddr converts an already resolved kernel address. Non-IPv4 values yield the zero Addr.
func AddrFromSockaddr(sa unix.Sockaddr) Addr {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		return Addr{ap: netip.AddrPortFrom(netip.AddrFrom4(v.Addr), uint16(v.Port))}
	case *unix.SockaddrInet6:
		a := netip.AddrFrom16(v.Addr).Unmap()
		if a.Is4() {
			return Addr{ap: netip.AddrPortFrom(a, uint16(v.Port))}
		}
	}
	return Addr{}
}

// IP returns the address in dotted-quad form.
func (a Addr) IP() string {
	if !a.ap.IsValid() {
		return "0.0.0.0"
	}
	return a.ap.Addr().String()
}

// Port returns the port in host byte order.
func (a Addr) Port() uint16 {
	return a.ap.Port()
}

// AddrPort exposes the netip representation.
func (a Addr) AddrPort() netip.AddrPort {
	return a.ap
}

// IsZero reports whether a was never set.
func (a Addr) IsZero() bool {
	return !a.ap.IsValid()
}

// Sockaddr returns the kernel representation used by bind/connect.
func (a Addr) Sockaddr() *unix.SockaddrInet4 {
	sa := &unix.SockaddrInet4{Port: int(a.ap.Port())}
	if a.ap.IsValid() {
		sa.Addr = a.ap.Addr().As4()
	}
	return sa
}

// withPort keeps the ip (wildcard when unset) and replaces the port.
func (a Addr) withPort(port uint16) Addr {
	ip := a.ap.Addr()
	if !ip.IsValid() {
		ip = netip.IPv4Unspecified()
	}
	return Addr{ap: netip.AddrPortFrom(ip, port)}
}

func (a Addr) String() string {
	if !a.ap.IsValid() {
		return "<nil>"
	}
	return a.ap.String()
}
