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
	log "github.com/sirupsen/logrus"

	"github.com/unidata/fmtp/fmtp/rtxconn"
	"github.com/unidata/fmtp/fmtp/wire"
)

// connWorker owns one accepted retransmission connection for its
// lifetime: it reads requests and replies until the connection closes,
// mirroring ptp/ptp4u/server/worker.go's per-connection read-dispatch
// loop but one goroutine per TCP connection rather than per pooled
// worker slot.
type connWorker struct {
	server *Server
	id     connID
	conn   *rtxconn.Conn
}

func (w *connWorker) run() {
	defer w.server.removeConnection(w.id)
	defer w.conn.Close()

	for {
		h, payload, err := w.conn.ReadMessage()
		if err != nil {
			return
		}
		w.dispatch(h, payload)
	}
}

func (w *connWorker) dispatch(h wire.Header, payload []byte) {
	switch h.Flags {
	case wire.FlagRetxReq:
		w.handleRetxReq(h, payload)
	case wire.FlagBopReq:
		w.handleBopReq(h)
	case wire.FlagEopReq:
		w.handleEopReq(h)
	case wire.FlagRetxEnd:
		w.handleRetxEnd(h)
	default:
		log.Warnf("fmtp sender: connection %d sent unexpected message kind %s", w.id, h.Flags)
	}
}

func (w *connWorker) handleRetxReq(h wire.Header, payload []byte) {
	w.server.Stats.IncGapRequests()

	req, err := wire.DecodeRetxReqMsg(payload)
	if err != nil {
		log.Warnf("fmtp sender: connection %d sent malformed RETX_REQ: %v", w.id, err)
		return
	}

	entry, ok := w.server.table.Get(h.ProdIndex)
	if !ok {
		w.reject(h.ProdIndex)
		return
	}
	defer entry.Release()

	data := entry.Data()
	start := int(req.StartPos)
	end := start + int(req.Length)
	if start < 0 || end > len(data) || start > end {
		w.reject(h.ProdIndex)
		return
	}

	if err := w.conn.WriteMessage(wire.Header{ProdIndex: h.ProdIndex, SeqNum: req.StartPos, Flags: wire.FlagRetxData}, data[start:end]); err != nil {
		log.Debugf("fmtp sender: sending RETX_DATA to connection %d: %v", w.id, err)
		return
	}
	w.server.Stats.IncBytesRetx(end - start)
}

func (w *connWorker) handleBopReq(h wire.Header) {
	entry, ok := w.server.table.Get(h.ProdIndex)
	if !ok {
		w.reject(h.ProdIndex)
		return
	}
	defer entry.Release()

	bop := wire.BOPMsg{ProdSize: entry.ProdSize(), Metadata: entry.Metadata()}
	payload, err := bop.Encode()
	if err != nil {
		log.Warnf("fmtp sender: re-encoding BOP for connection %d: %v", w.id, err)
		return
	}
	if err := w.conn.WriteMessage(wire.Header{ProdIndex: h.ProdIndex, SeqNum: 0, Flags: wire.FlagRetxBop}, payload); err != nil {
		log.Debugf("fmtp sender: sending RETX_BOP to connection %d: %v", w.id, err)
	}
}

func (w *connWorker) handleEopReq(h wire.Header) {
	entry, ok := w.server.table.Get(h.ProdIndex)
	if !ok {
		w.reject(h.ProdIndex)
		return
	}
	prodSize := entry.ProdSize()
	entry.Release()

	if err := w.conn.WriteMessage(wire.Header{ProdIndex: h.ProdIndex, SeqNum: prodSize, Flags: wire.FlagRetxEop}, nil); err != nil {
		log.Debugf("fmtp sender: sending RETX_EOP to connection %d: %v", w.id, err)
	}
}

func (w *connWorker) handleRetxEnd(h wire.Header) {
	entry, ok := w.server.table.Get(h.ProdIndex)
	if !ok {
		return
	}
	emptied := entry.MarkReceiverDone(w.id)
	if emptied {
		entry.MarkForRemoval()
	}
	entry.Release()

	w.server.Stats.SetRetentionSize(w.server.table.Len())
	if emptied {
		w.server.Stats.IncProductsCompleted()
		w.server.Notifier.OnProductComplete(h.ProdIndex)
	}
}

func (w *connWorker) reject(prodIndex uint32) {
	if err := w.conn.WriteMessage(wire.Header{ProdIndex: prodIndex, Flags: wire.FlagRetxRej}, nil); err != nil {
		log.Debugf("fmtp sender: sending RETX_REJ to connection %d: %v", w.id, err)
	}
}
