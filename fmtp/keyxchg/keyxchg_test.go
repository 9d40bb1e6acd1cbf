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

package keyxchg

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHandshakeRoundTrip(t *testing.T) {
	recv, err := NewReceiverIdentity()
	require.NoError(t, err)

	var pubFrame bytes.Buffer
	require.NoError(t, recv.WritePublicKey(&pubFrame))

	pub, err := ReadReceiverPublicKey(&pubFrame)
	require.NoError(t, err)

	macKey := []byte("0123456789abcdef0123456789abcdef0123456789abcdef0123456789abcd")
	var ctFrame bytes.Buffer
	require.NoError(t, EncryptKey(&ctFrame, pub, macKey))

	got, err := recv.ReadKey(&ctFrame)
	require.NoError(t, err)
	assert.Equal(t, macKey, got)
}

func TestReadReceiverPublicKeyRejectsGarbage(t *testing.T) {
	var frame bytes.Buffer
	require.NoError(t, writeFrame(&frame, []byte("not pem")))
	_, err := ReadReceiverPublicKey(&frame)
	assert.Error(t, err)
}

func TestReadFrameRejectsOversizedLength(t *testing.T) {
	var buf bytes.Buffer
	lenBuf := []byte{0xff, 0xff, 0xff, 0xff}
	buf.Write(lenBuf)
	_, err := readFrame(&buf)
	assert.Error(t, err)
}
