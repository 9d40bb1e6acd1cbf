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

package rtxconn

import (
	"errors"
	"io"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unidata/fmtp/fmtp/wire"
)

func pipe(t *testing.T) (*Conn, *Conn) {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	var serverConn *net.TCPConn
	accepted := make(chan struct{})
	go func() {
		c, err := ln.Accept()
		require.NoError(t, err)
		serverConn = c.(*net.TCPConn)
		close(accepted)
	}()

	clientRaw, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	<-accepted

	client, err := New(clientRaw.(*net.TCPConn))
	require.NoError(t, err)
	server, err := New(serverConn)
	require.NoError(t, err)
	return client, server
}

func TestWriteReadMessageRoundTrip(t *testing.T) {
	client, server := pipe(t)
	defer client.Close()
	defer server.Close()

	h := wire.Header{ProdIndex: 7, SeqNum: 0, Flags: wire.FlagRetxReq}
	payload := wire.RetxReqMsg{StartPos: 100, Length: 50}.Encode()

	require.NoError(t, client.WriteMessage(h, payload))

	gotH, gotPayload, err := server.ReadMessage()
	require.NoError(t, err)
	assert.Equal(t, uint32(7), gotH.ProdIndex)
	assert.Equal(t, wire.FlagRetxReq, gotH.Flags)
	assert.Equal(t, payload, gotPayload)
}

func TestReadMessageEOFOnClose(t *testing.T) {
	client, server := pipe(t)
	defer server.Close()
	client.Close()

	_, _, err := server.ReadMessage()
	assert.True(t, errors.Is(err, io.EOF))
}
