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
	"context"
	"errors"
	"io"
	"math"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/unidata/fmtp/fmtp/wire"
)

// rtxReplyLoop reads replies on the unicast connection to the sender
// until it closes, feeding them through the same dispatch as multicast
// ingress.
func (r *Receiver) rtxReplyLoop() error {
	for {
		h, payload, err := r.rtxConn.ReadMessage()
		if err != nil {
			select {
			case <-r.shutdown:
				return nil
			default:
			}
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		r.applyMessage(h, payload)
	}
}

// gapScanLoop periodically requests missing BOPs, EOPs and data ranges
// for every tracked product.
func (r *Receiver) gapScanLoop(ctx context.Context) error {
	ticker := time.NewTicker(r.cfg.ScanInterval)
	defer ticker.Stop()
	for {
		select {
		case <-r.shutdown:
			return nil
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.scanOnce()
		}
	}
}

func (r *Receiver) scanOnce() {
	r.mu.Lock()
	prodIndexes := append([]uint32(nil), r.order...)
	r.mu.Unlock()

	for _, prodIndex := range prodIndexes {
		r.mu.Lock()
		rec, ok := r.products[prodIndex]
		r.mu.Unlock()
		if !ok {
			continue
		}
		r.scanProduct(prodIndex, rec)
	}
}

func (r *Receiver) scanProduct(prodIndex uint32, rec *productRecord) {
	if rec.snapshotState() == stateComplete {
		return
	}
	delay := r.cfg.GapRequestDelay

	if rec.needsBopReq() && rec.duePending(bopPendingKey, delay) {
		r.writeRequest(wire.Header{ProdIndex: prodIndex, Flags: wire.FlagBopReq}, nil)
		rec.markPending(bopPendingKey)
	}
	if rec.needsEopReq() && rec.duePending(eopPendingKey, delay) {
		r.writeRequest(wire.Header{ProdIndex: prodIndex, Flags: wire.FlagEopReq}, nil)
		rec.markPending(eopPendingKey)
	}
	for _, g := range rec.dueGaps(delay) {
		length := g.end - g.start
		if length > math.MaxUint16 {
			length = math.MaxUint16
		}
		req := wire.RetxReqMsg{StartPos: g.start, Length: uint16(length)}.Encode()
		r.writeRequest(wire.Header{ProdIndex: prodIndex, Flags: wire.FlagRetxReq}, req)
		rec.markPending(g.start)
		r.Stats.IncGapRequests()
	}
}

// writeRequest serializes writes to the shared unicast connection; the
// gap scanner is its sole writer, but the lock keeps that invariant
// explicit rather than implicit.
func (r *Receiver) writeRequest(h wire.Header, payload []byte) {
	r.rtxMu.Lock()
	defer r.rtxMu.Unlock()
	if err := r.rtxConn.WriteMessage(h, payload); err != nil {
		log.Debugf("fmtp receiver: writing request for product %d: %v", h.ProdIndex, err)
	}
}
