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

package receiver

import (
	log "github.com/sirupsen/logrus"

	"github.com/unidata/fmtp/fmtp/wire"
)

// maxDatagramSize comfortably bounds any FMTP multicast datagram; the
// wire format itself caps payload well under this.
const maxDatagramSize = 65536

// ingressLoop reads multicast datagrams until the socket is closed by
// Stop.
func (r *Receiver) ingressLoop() error {
	buf := make([]byte, maxDatagramSize)
	for {
		n, _, _, err := r.mcastConn.ReadFrom(buf)
		if err != nil {
			select {
			case <-r.shutdown:
				return nil
			default:
				return err
			}
		}
		r.handleDatagram(buf[:n])
	}
}

// handleDatagram verifies the MAC and dispatches a single multicast
// datagram by message kind.
func (r *Receiver) handleDatagram(b []byte) {
	macLen := r.mac.Len()
	if len(b) < wire.HeaderLen+macLen {
		return
	}
	h, err := wire.DecodeHeader(b)
	if err != nil {
		log.Debugf("fmtp receiver: dropping malformed header: %v", err)
		return
	}
	if err := wire.CheckDatagramLength(len(b), h.PayloadLen, macLen); err != nil {
		log.Debugf("fmtp receiver: dropping datagram: %v", err)
		return
	}
	payload := b[wire.HeaderLen : wire.HeaderLen+int(h.PayloadLen)]
	tag := b[wire.HeaderLen+int(h.PayloadLen):]
	if !r.mac.Verify(b[:wire.HeaderLen], payload, tag) {
		r.Stats.IncMACFailure()
		return
	}
	r.applyMessage(h, payload)
}

// applyMessage updates the named product's record for one message,
// whether it arrived over multicast or as a unicast retransmission
// reply; the two are otherwise handled identically.
func (r *Receiver) applyMessage(h wire.Header, payload []byte) {
	switch h.Flags {
	case wire.FlagBOP, wire.FlagRetxBop:
		bop, err := wire.DecodeBOPMsg(payload)
		if err != nil {
			log.Debugf("fmtp receiver: malformed BOP for product %d: %v", h.ProdIndex, err)
			return
		}
		rec := r.track(h.ProdIndex)
		rec.applyBOP(bop.ProdSize, bop.Metadata)
		r.checkComplete(rec)
	case wire.FlagMemData, wire.FlagRetxData:
		rec := r.track(h.ProdIndex)
		rec.applyData(h.SeqNum, payload)
		r.checkComplete(rec)
	case wire.FlagEOP, wire.FlagRetxEop:
		rec := r.track(h.ProdIndex)
		rec.applyEOP(h.SeqNum)
		r.checkComplete(rec)
	case wire.FlagRetxRej:
		r.checkAbandoned(h.ProdIndex)
	default:
		log.Warnf("fmtp receiver: unexpected message kind %s for product %d", h.Flags, h.ProdIndex)
	}
}
