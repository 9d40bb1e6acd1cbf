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

package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHeaderRoundTrip(t *testing.T) {
	cases := []Header{
		{ProdIndex: 0, SeqNum: 0, PayloadLen: 0, Flags: FlagBOP},
		{ProdIndex: 42, SeqNum: 1460, PayloadLen: 1460, Flags: FlagMemData},
		{ProdIndex: 0xffffffff, SeqNum: 0xffffffff, PayloadLen: 0xffff, Flags: FlagRetxEop},
	}
	for _, h := range cases {
		b := h.Bytes()
		require.Len(t, b, HeaderLen)
		got, err := DecodeHeader(b)
		require.NoError(t, err)
		assert.Equal(t, h, got)
	}
}

func TestHeaderRejectsNonOneHotFlags(t *testing.T) {
	b := make([]byte, HeaderLen)
	h := Header{Flags: FlagBOP | FlagEOP}
	require.NoError(t, h.Encode(b))
	_, err := DecodeHeader(b)
	assert.Error(t, err)
}

func TestHeaderEncodeShortBuffer(t *testing.T) {
	h := Header{Flags: FlagBOP}
	err := h.Encode(make([]byte, HeaderLen-1))
	assert.Error(t, err)
}

func TestCheckDatagramLength(t *testing.T) {
	assert.NoError(t, CheckDatagramLength(HeaderLen+10+32, 10, 32))
	assert.Error(t, CheckDatagramLength(HeaderLen+10+32-1, 10, 32))
}

func TestBOPMsgRoundTrip(t *testing.T) {
	m := BOPMsg{
		StartTimeSecHigh: 0,
		StartTimeSecLow:  1722400000,
		StartTimeNanos:   123456,
		ProdSize:         3000,
		Metadata:         []byte("station=KOKX;product=NEXRAD"),
	}
	b, err := m.Encode()
	require.NoError(t, err)
	got, err := DecodeBOPMsg(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestBOPMsgEmptyMetadata(t *testing.T) {
	m := BOPMsg{ProdSize: 11}
	b, err := m.Encode()
	require.NoError(t, err)
	got, err := DecodeBOPMsg(b)
	require.NoError(t, err)
	assert.Empty(t, got.Metadata)
	assert.Equal(t, uint32(11), got.ProdSize)
}

func TestBOPMsgMetadataTooLarge(t *testing.T) {
	m := BOPMsg{Metadata: make([]byte, MaxBOPMetadata+1)}
	_, err := m.Encode()
	assert.Error(t, err)
}

func TestDecodeBOPMsgTruncated(t *testing.T) {
	m := BOPMsg{Metadata: []byte("abcd")}
	b, err := m.Encode()
	require.NoError(t, err)
	_, err = DecodeBOPMsg(b[:len(b)-2])
	assert.Error(t, err)
}

func TestRetxReqMsgRoundTrip(t *testing.T) {
	m := RetxReqMsg{StartPos: 1460, Length: 1460}
	b := m.Encode()
	got, err := DecodeRetxReqMsg(b)
	require.NoError(t, err)
	assert.Equal(t, m, got)
}

func TestFlagIsOneHot(t *testing.T) {
	assert.True(t, FlagBOP.IsOneHot())
	assert.True(t, FlagRetxEop.IsOneHot())
	assert.False(t, Flag(0).IsOneHot())
	assert.False(t, (FlagBOP | FlagEOP).IsOneHot())
}
