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

package sender

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/ipv4"

	"github.com/unidata/fmtp/fmtp/mac"
	"github.com/unidata/fmtp/fmtp/ratelimit"
	"github.com/unidata/fmtp/fmtp/rtxconn"
	"github.com/unidata/fmtp/fmtp/stats"
	"github.com/unidata/fmtp/fmtp/wire"
)

// newLoopbackServer builds a Server whose "multicast" egress is a
// plain unicast UDP socket pair on loopback, so SendProduct can be
// exercised without the real join-a-multicast-group path (which needs
// a live multicast-capable interface).
func newLoopbackServer(t *testing.T) (*Server, *net.UDPConn) {
	t.Helper()
	m, err := mac.New(mac.ModeHMAC)
	require.NoError(t, err)

	rx, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1)})
	require.NoError(t, err)
	t.Cleanup(func() { rx.Close() })

	txPC, err := net.ListenPacket("udp4", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { txPC.Close() })

	s := &Server{
		Notifier:    noopNotifier{},
		Stats:       stats.Noop{},
		mac:         m,
		table:       NewRetentionTable(),
		delayQ:      NewDelayQueue(),
		shaper:      ratelimit.NewShaper(0),
		connections: make(map[connID]*rtxconn.Conn),
		shutdown:    make(chan struct{}),
		mcastConn:   ipv4.NewPacketConn(txPC),
		groupAddr:   rx.LocalAddr(),
	}
	s.cfg.MaxPayload = 4
	return s, rx
}

func readDatagram(t *testing.T, rx *net.UDPConn) (wire.Header, []byte) {
	t.Helper()
	buf := make([]byte, 2048)
	require.NoError(t, rx.SetReadDeadline(time.Now().Add(time.Second)))
	n, err := rx.Read(buf)
	require.NoError(t, err)
	h, err := wire.DecodeHeader(buf[:n])
	require.NoError(t, err)
	payload := append([]byte(nil), buf[wire.HeaderLen:n-sha256TagLen(t)]...)
	return h, payload
}

// sha256TagLen isolates the HMAC-SHA256 tag length so readDatagram can
// strip it without importing crypto/sha256 just for a constant.
func sha256TagLen(t *testing.T) int {
	t.Helper()
	m, err := mac.New(mac.ModeHMAC)
	require.NoError(t, err)
	return m.Len()
}

func TestSendProductEmitsBOPDataEOP(t *testing.T) {
	s, rx := newLoopbackServer(t)
	data := []byte("0123456789")

	prodIndex, err := s.SendProduct(data, []byte("meta"))
	require.NoError(t, err)

	h, payload := readDatagram(t, rx)
	assert.Equal(t, wire.FlagBOP, h.Flags)
	assert.Equal(t, prodIndex, h.ProdIndex)
	bop, err := wire.DecodeBOPMsg(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(len(data)), bop.ProdSize)
	assert.Equal(t, []byte("meta"), bop.Metadata)

	var chunks [][]byte
	for {
		h, payload := readDatagram(t, rx)
		if h.Flags == wire.FlagEOP {
			assert.Equal(t, uint32(len(data)), h.SeqNum)
			break
		}
		assert.Equal(t, wire.FlagMemData, h.Flags)
		chunks = append(chunks, payload)
	}

	var reassembled []byte
	for _, c := range chunks {
		reassembled = append(reassembled, c...)
	}
	assert.Equal(t, data, reassembled)
	assert.Equal(t, 1, s.table.Len())
}

func TestSendProductRejectsOversizedMetadata(t *testing.T) {
	s, _ := newLoopbackServer(t)
	_, err := s.SendProduct([]byte("x"), make([]byte, wire.MaxBOPMetadata+1))
	assert.Error(t, err)
}

func pipeConns(t *testing.T) (*rtxconn.Conn, *rtxconn.Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	accepted := make(chan *net.TCPConn)
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		accepted <- c.(*net.TCPConn)
	}()
	clientRaw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	serverRaw := <-accepted

	client, err := rtxconn.New(clientRaw.(*net.TCPConn))
	require.NoError(t, err)
	server, err := rtxconn.New(serverRaw)
	require.NoError(t, err)
	return client, server
}

func TestConnWorkerRetxReqServesStoredBytes(t *testing.T) {
	s, _ := newLoopbackServer(t)
	s.table.Add(&retentionEntry{
		prodIndex:  3,
		prodSize:   10,
		data:       []byte("abcdefghij"),
		unfinished: map[connID]struct{}{},
	})

	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()
	w := &connWorker{server: s, id: 1, conn: server}

	req := wire.RetxReqMsg{StartPos: 2, Length: 4}.Encode()
	w.dispatch(wire.Header{ProdIndex: 3, Flags: wire.FlagRetxReq}, req)

	h, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.FlagRetxData, h.Flags)
	assert.Equal(t, []byte("cdef"), payload)
}

func TestConnWorkerRetxReqOutOfRangeRejects(t *testing.T) {
	s, _ := newLoopbackServer(t)
	s.table.Add(&retentionEntry{prodIndex: 3, prodSize: 10, data: make([]byte, 10), unfinished: map[connID]struct{}{}})

	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()
	w := &connWorker{server: s, id: 1, conn: server}

	req := wire.RetxReqMsg{StartPos: 8, Length: 100}.Encode()
	w.dispatch(wire.Header{ProdIndex: 3, Flags: wire.FlagRetxReq}, req)

	h, _, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.FlagRetxRej, h.Flags)
}

func TestConnWorkerUnknownProductRejects(t *testing.T) {
	s, _ := newLoopbackServer(t)
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()
	w := &connWorker{server: s, id: 1, conn: server}

	w.dispatch(wire.Header{ProdIndex: 77, Flags: wire.FlagBopReq}, nil)

	h, _, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.FlagRetxRej, h.Flags)
}

func TestConnWorkerBopReqAndEopReq(t *testing.T) {
	s, _ := newLoopbackServer(t)
	s.table.Add(&retentionEntry{
		prodIndex:  4,
		prodSize:   6,
		metadata:   []byte("md"),
		data:       []byte("abcdef"),
		unfinished: map[connID]struct{}{},
	})
	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()
	w := &connWorker{server: s, id: 1, conn: server}

	w.dispatch(wire.Header{ProdIndex: 4, Flags: wire.FlagBopReq}, nil)
	h, payload, err := client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.FlagRetxBop, h.Flags)
	bop, err := wire.DecodeBOPMsg(payload)
	require.NoError(t, err)
	assert.Equal(t, uint32(6), bop.ProdSize)
	assert.Equal(t, []byte("md"), bop.Metadata)

	w.dispatch(wire.Header{ProdIndex: 4, Flags: wire.FlagEopReq}, nil)
	h, _, err = client.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, wire.FlagRetxEop, h.Flags)
	assert.Equal(t, uint32(6), h.SeqNum)
}

func TestConnWorkerRetxEndRemovesLastReceiverAndNotifies(t *testing.T) {
	s, _ := newLoopbackServer(t)
	notified := make(chan uint32, 1)
	s.Notifier = testNotifier{complete: notified}
	s.table.Add(&retentionEntry{prodIndex: 5, unfinished: map[connID]struct{}{1: {}}})

	client, server := pipeConns(t)
	defer client.Close()
	defer server.Close()
	w := &connWorker{server: s, id: 1, conn: server}

	w.dispatch(wire.Header{ProdIndex: 5, Flags: wire.FlagRetxEnd}, nil)

	select {
	case got := <-notified:
		assert.Equal(t, uint32(5), got)
	case <-time.After(time.Second):
		t.Fatal("OnProductComplete was never called")
	}
	assert.Equal(t, 0, s.table.Len())
}

type testNotifier struct {
	complete chan uint32
}

func (n testNotifier) OnProductComplete(prodIndex uint32) { n.complete <- prodIndex }
func (testNotifier) OnProductTimedOut(uint32, int)        {}

func TestRemoveConnectionSweepsRetentionTable(t *testing.T) {
	s, _ := newLoopbackServer(t)
	notified := make(chan uint32, 1)
	s.Notifier = testNotifier{complete: notified}
	s.table.Add(&retentionEntry{prodIndex: 9, unfinished: map[connID]struct{}{42: {}}})

	s.removeConnection(42)

	select {
	case got := <-notified:
		assert.Equal(t, uint32(9), got)
	case <-time.After(time.Second):
		t.Fatal("OnProductComplete was never called")
	}
}
