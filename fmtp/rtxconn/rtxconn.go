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

// Package rtxconn wraps the per-receiver unicast TCP connection used
// for retransmission requests/replies: a stream of
// Header(12 bytes BE) || Payload(payloadlen bytes), no MAC suffix,
// keep-alive enabled. Generalized from ptp/sptp/client/connection.go's
// thin socket wrapper and ptp/ptp4u/server/worker.go's per-connection
// read loop.
package rtxconn

import (
	"fmt"
	"io"
	"net"
	"time"

	"github.com/unidata/fmtp/fmtp/ferrors"
	"github.com/unidata/fmtp/fmtp/wire"
)

// keepAliveInterval is the TCP keep-alive probe interval enabled on
// every retransmission connection.
const keepAliveInterval = 30 * time.Second

// Conn frames Header||Payload messages over a TCP connection in both
// directions.
type Conn struct {
	tcp *net.TCPConn
}

// New wraps an already-established TCP connection and enables
// keep-alive.
func New(tcp *net.TCPConn) (*Conn, error) {
	if err := tcp.SetKeepAlive(true); err != nil {
		return nil, fmt.Errorf("%w: enabling keepalive: %v", ferrors.ErrIO, err)
	}
	if err := tcp.SetKeepAlivePeriod(keepAliveInterval); err != nil {
		return nil, fmt.Errorf("%w: setting keepalive period: %v", ferrors.ErrIO, err)
	}
	return &Conn{tcp: tcp}, nil
}

// WriteMessage sends flags/payload as a single framed message: the
// 12-byte header followed by the payload, no MAC suffix.
func (c *Conn) WriteMessage(h wire.Header, payload []byte) error {
	h.PayloadLen = uint16(len(payload))
	buf := make([]byte, wire.HeaderLen+len(payload))
	if err := h.Encode(buf); err != nil {
		return err
	}
	copy(buf[wire.HeaderLen:], payload)
	if _, err := c.tcp.Write(buf); err != nil {
		return fmt.Errorf("%w: writing unicast message: %v", ferrors.ErrIO, err)
	}
	return nil
}

// ReadMessage blocks for the next framed message. A clean EOF before a
// header propagates as bare io.EOF so callers can distinguish connection
// teardown from other failures, which are wrapped with ferrors.ErrIO.
func (c *Conn) ReadMessage() (wire.Header, []byte, error) {
	var hbuf [wire.HeaderLen]byte
	if _, err := io.ReadFull(c.tcp, hbuf[:]); err != nil {
		if err == io.EOF {
			return wire.Header{}, nil, err
		}
		return wire.Header{}, nil, fmt.Errorf("%w: reading unicast header: %v", ferrors.ErrIO, err)
	}
	h, err := wire.DecodeHeader(hbuf[:])
	if err != nil {
		return wire.Header{}, nil, err
	}
	payload := make([]byte, h.PayloadLen)
	if _, err := io.ReadFull(c.tcp, payload); err != nil {
		return wire.Header{}, nil, fmt.Errorf("%w: reading unicast payload: %v", ferrors.ErrIO, err)
	}
	return h, payload, nil
}

// Close tears down the underlying TCP connection, which is also what
// unblocks a concurrent ReadMessage per the REDESIGN FLAGS shutdown
// policy.
func (c *Conn) Close() error {
	return c.tcp.Close()
}

// RemoteAddr returns the peer address, used as a human-readable
// connection identifier in logs.
func (c *Conn) RemoteAddr() net.Addr {
	return c.tcp.RemoteAddr()
}
