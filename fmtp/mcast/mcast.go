/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package mcast sets up the IPv4 multicast UDP sockets shared by
// sender egress and receiver ingress: TTL, outbound/inbound interface,
// group join, SO_REUSEPORT. Generalized from
// ptp/ptp4u/server/worker.go's raw-socket setup, using the idiomatic
// golang.org/x/net/ipv4 multicast control surface in place of hand
// rolled setsockopt calls wherever x/net exposes the operation.
package mcast

import (
	"fmt"
	"net"
	"os"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"
)

// Config describes a multicast group binding.
type Config struct {
	Group     net.IP
	Port      int
	Interface string
	TTL       int
}

func (c Config) addr() *net.UDPAddr {
	return &net.UDPAddr{IP: c.Group, Port: c.Port}
}

// reusablePacketConn opens a UDP socket with SO_REUSEPORT set before
// bind, so multiple sockets (e.g. across send workers) can share the
// port, mirroring the use of unix.SetsockoptInt(..., SO_REUSEPORT, 1)
// in ptp/ptp4u/server/worker.go:listen.
func reusablePacketConn(laddr *net.UDPAddr) (net.PacketConn, error) {
	domain := unix.AF_INET
	fd, err := unix.Socket(domain, unix.SOCK_DGRAM, unix.IPPROTO_UDP)
	if err != nil {
		return nil, fmt.Errorf("mcast: creating socket: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEADDR, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mcast: SO_REUSEADDR: %w", err)
	}
	if err := unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_REUSEPORT, 1); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mcast: SO_REUSEPORT: %w", err)
	}
	sa := &unix.SockaddrInet4{Port: laddr.Port}
	if ip4 := laddr.IP.To4(); ip4 != nil {
		copy(sa.Addr[:], ip4)
	}
	if err := unix.Bind(fd, sa); err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("mcast: bind: %w", err)
	}
	f := os.NewFile(uintptr(fd), "mcast-socket")
	defer f.Close()
	pc, err := net.FilePacketConn(f)
	if err != nil {
		return nil, fmt.Errorf("mcast: wrapping fd: %w", err)
	}
	return pc, nil
}

// OpenSender opens the multicast egress socket: bound to an ephemeral
// local port, outbound interface and TTL set for the group.
func OpenSender(c Config) (*ipv4.PacketConn, error) {
	pc, err := reusablePacketConn(&net.UDPAddr{Port: 0})
	if err != nil {
		return nil, err
	}
	p := ipv4.NewPacketConn(pc)

	if c.Interface != "" {
		iface, err := net.InterfaceByName(c.Interface)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("mcast: interface %q: %w", c.Interface, err)
		}
		if err := p.SetMulticastInterface(iface); err != nil {
			pc.Close()
			return nil, fmt.Errorf("mcast: setting multicast interface: %w", err)
		}
	}
	ttl := c.TTL
	if ttl <= 0 {
		ttl = 1
	}
	if err := p.SetMulticastTTL(ttl); err != nil {
		pc.Close()
		return nil, fmt.Errorf("mcast: setting multicast TTL: %w", err)
	}
	if err := p.SetMulticastLoopback(false); err != nil {
		pc.Close()
		return nil, fmt.Errorf("mcast: disabling multicast loopback: %w", err)
	}
	return p, nil
}

// OpenReceiver opens the multicast ingress socket: bound to the group
// port and joined to the group on the given interface.
func OpenReceiver(c Config) (*ipv4.PacketConn, error) {
	pc, err := reusablePacketConn(c.addr())
	if err != nil {
		return nil, err
	}
	p := ipv4.NewPacketConn(pc)

	var iface *net.Interface
	if c.Interface != "" {
		iface, err = net.InterfaceByName(c.Interface)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("mcast: interface %q: %w", c.Interface, err)
		}
	}
	if err := p.JoinGroup(iface, &net.UDPAddr{IP: c.Group}); err != nil {
		pc.Close()
		return nil, fmt.Errorf("mcast: joining group %s: %w", c.Group, err)
	}
	return p, nil
}

// GroupAddr returns the net.Addr to pass to WriteTo for a sender's
// datagrams.
func (c Config) GroupAddr() net.Addr {
	return c.addr()
}
