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

// Package wire implements the FMTPv3 fixed header and control message
// codec. All multi-byte fields are big-endian on the wire.
package wire

import (
	"encoding/binary"
	"fmt"
)

// HeaderLen is the size in bytes of the fixed FmtpHeader prefix.
const HeaderLen = 12

// MaxBOPMetadata bounds the opaque application metadata carried in a BOP.
const MaxBOPMetadata = 1024

// MaxPayloadDefault is the default chunk size for MEM_DATA/RETX_DATA,
// sized for a 1500-byte path MTU with the HMAC MAC mode (32 bytes).
const MaxPayloadDefault = 1500 - 20 - 8 - HeaderLen - 32

// Flag is a one-hot message-kind bit in FmtpHeader.Flags.
type Flag uint16

// One-hot flag values. Exactly one is set in any valid header.
const (
	FlagBOP Flag = 1 << iota
	FlagEOP
	FlagMemData
	FlagRetxReq
	FlagRetxRej
	FlagRetxEnd
	FlagRetxData
	FlagBopReq
	FlagRetxBop
	FlagEopReq
	FlagRetxEop
)

var flagNames = map[Flag]string{
	FlagBOP:      "BOP",
	FlagEOP:      "EOP",
	FlagMemData:  "MEM_DATA",
	FlagRetxReq:  "RETX_REQ",
	FlagRetxRej:  "RETX_REJ",
	FlagRetxEnd:  "RETX_END",
	FlagRetxData: "RETX_DATA",
	FlagBopReq:   "BOP_REQ",
	FlagRetxBop:  "RETX_BOP",
	FlagEopReq:   "EOP_REQ",
	FlagRetxEop:  "RETX_EOP",
}

// String implements fmt.Stringer.
func (f Flag) String() string {
	if n, ok := flagNames[f]; ok {
		return n
	}
	return fmt.Sprintf("Flag(0x%04x)", uint16(f))
}

// IsOneHot reports whether exactly one bit is set.
func (f Flag) IsOneHot() bool {
	return f != 0 && f&(f-1) == 0
}

// Header is the fixed prefix of every multicast datagram and every
// unicast control message.
type Header struct {
	ProdIndex  uint32
	SeqNum     uint32
	PayloadLen uint16
	Flags      Flag
}

// Encode writes the header to the front of b, which must have length
// >= HeaderLen.
func (h *Header) Encode(b []byte) error {
	if len(b) < HeaderLen {
		return fmt.Errorf("wire: buffer too small for header: %d < %d", len(b), HeaderLen)
	}
	binary.BigEndian.PutUint32(b[0:4], h.ProdIndex)
	binary.BigEndian.PutUint32(b[4:8], h.SeqNum)
	binary.BigEndian.PutUint16(b[8:10], h.PayloadLen)
	binary.BigEndian.PutUint16(b[10:12], uint16(h.Flags))
	return nil
}

// Bytes returns a freshly allocated HeaderLen-byte encoding.
func (h *Header) Bytes() []byte {
	b := make([]byte, HeaderLen)
	_ = h.Encode(b)
	return b
}

// DecodeHeader parses a Header from the front of b.
func DecodeHeader(b []byte) (Header, error) {
	var h Header
	if len(b) < HeaderLen {
		return h, fmt.Errorf("wire: short header: %d < %d", len(b), HeaderLen)
	}
	h.ProdIndex = binary.BigEndian.Uint32(b[0:4])
	h.SeqNum = binary.BigEndian.Uint32(b[4:8])
	h.PayloadLen = binary.BigEndian.Uint16(b[8:10])
	h.Flags = Flag(binary.BigEndian.Uint16(b[10:12]))
	if !h.Flags.IsOneHot() {
		return h, fmt.Errorf("wire: header flags not one-hot: 0x%04x", uint16(h.Flags))
	}
	return h, nil
}

// CheckDatagramLength validates that a received multicast datagram's
// total length matches HeaderLen + payloadlen + macLen exactly.
func CheckDatagramLength(total int, payloadLen uint16, macLen int) error {
	want := HeaderLen + int(payloadLen) + macLen
	if total != want {
		return fmt.Errorf("wire: datagram length %d != expected %d (header %d + payload %d + mac %d)", total, want, HeaderLen, payloadLen, macLen)
	}
	return nil
}

// BOPMsg is the payload of a BOP/RETX_BOP datagram.
type BOPMsg struct {
	// StartTimeSecHigh/Low together form a monotonic 64-bit transmission
	// start time in seconds; StartTimeNanos is the sub-second remainder.
	StartTimeSecHigh uint32
	StartTimeSecLow  uint32
	StartTimeNanos   uint32
	ProdSize         uint32
	Metadata         []byte
}

// bopFixedLen is the size of BOPMsg excluding the metadata payload:
// secHigh(4) + secLow(4) + nanos(4) + prodsize(4) + metalen(2).
const bopFixedLen = 4 + 4 + 4 + 4 + 2

// Encode serializes the BOPMsg to a freshly allocated byte slice.
func (m *BOPMsg) Encode() ([]byte, error) {
	if len(m.Metadata) > MaxBOPMetadata {
		return nil, fmt.Errorf("wire: metadata length %d exceeds MaxBOPMetadata %d", len(m.Metadata), MaxBOPMetadata)
	}
	b := make([]byte, bopFixedLen+len(m.Metadata))
	binary.BigEndian.PutUint32(b[0:4], m.StartTimeSecHigh)
	binary.BigEndian.PutUint32(b[4:8], m.StartTimeSecLow)
	binary.BigEndian.PutUint32(b[8:12], m.StartTimeNanos)
	binary.BigEndian.PutUint32(b[12:16], m.ProdSize)
	binary.BigEndian.PutUint16(b[16:18], uint16(len(m.Metadata)))
	copy(b[18:], m.Metadata)
	return b, nil
}

// DecodeBOPMsg parses a BOPMsg from b.
func DecodeBOPMsg(b []byte) (BOPMsg, error) {
	var m BOPMsg
	if len(b) < bopFixedLen {
		return m, fmt.Errorf("wire: short BOP payload: %d < %d", len(b), bopFixedLen)
	}
	m.StartTimeSecHigh = binary.BigEndian.Uint32(b[0:4])
	m.StartTimeSecLow = binary.BigEndian.Uint32(b[4:8])
	m.StartTimeNanos = binary.BigEndian.Uint32(b[8:12])
	m.ProdSize = binary.BigEndian.Uint32(b[12:16])
	metaLen := binary.BigEndian.Uint16(b[16:18])
	if metaLen > MaxBOPMetadata {
		return m, fmt.Errorf("wire: BOP metadata length %d exceeds MaxBOPMetadata %d", metaLen, MaxBOPMetadata)
	}
	if len(b) < bopFixedLen+int(metaLen) {
		return m, fmt.Errorf("wire: short BOP metadata: %d < %d", len(b)-bopFixedLen, metaLen)
	}
	m.Metadata = append([]byte(nil), b[bopFixedLen:bopFixedLen+int(metaLen)]...)
	return m, nil
}

// RetxReqMsg is the payload of a RETX_REQ datagram: a contiguous byte
// range to retransmit within header.ProdIndex.
type RetxReqMsg struct {
	StartPos uint32
	Length   uint16
}

// retxReqLen is the wire size of RetxReqMsg.
const retxReqLen = 4 + 2

// Encode serializes the RetxReqMsg.
func (m RetxReqMsg) Encode() []byte {
	b := make([]byte, retxReqLen)
	binary.BigEndian.PutUint32(b[0:4], m.StartPos)
	binary.BigEndian.PutUint16(b[4:6], m.Length)
	return b
}

// DecodeRetxReqMsg parses a RetxReqMsg from b.
func DecodeRetxReqMsg(b []byte) (RetxReqMsg, error) {
	var m RetxReqMsg
	if len(b) < retxReqLen {
		return m, fmt.Errorf("wire: short RetxReqMsg: %d < %d", len(b), retxReqLen)
	}
	m.StartPos = binary.BigEndian.Uint32(b[0:4])
	m.Length = binary.BigEndian.Uint16(b[4:6])
	return m, nil
}
