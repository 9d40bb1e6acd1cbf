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
	"sync"
	"time"
)

// productState is the per-product assembly state machine:
// Unseen -> HaveBop -> Assembling -> Complete/Abandoned.
type productState int

const (
	stateUnseen productState = iota
	stateHaveBop
	stateAssembling
	stateComplete
	stateAbandoned
)

// productRecord tracks one in-flight product: which byte ranges have
// arrived, whether BOP/EOP have been seen, and which gaps already have
// an outstanding retransmission request.
type productRecord struct {
	mu sync.Mutex

	prodIndex uint32
	state     productState

	haveBop  bool
	haveEop  bool
	prodSize uint32
	metadata []byte
	data     []byte

	received rangeSet
	// pending maps a gap's start offset to when it was requested, so
	// the gap scanner does not re-request a span it is still waiting
	// to hear back about.
	pending map[uint32]time.Time

	// notified latches once a terminal-state notification has been
	// delivered, so a stray duplicate datagram arriving after
	// completion or abandonment cannot fire a second notification.
	notified bool

	firstSeen time.Time
}

func newProductRecord(prodIndex uint32) *productRecord {
	return &productRecord{
		prodIndex: prodIndex,
		state:     stateUnseen,
		pending:   make(map[uint32]time.Time),
		firstSeen: time.Now(),
	}
}

// ensureSized grows data to hold prodSize bytes once known.
func (r *productRecord) ensureSized() {
	if r.data == nil && r.prodSize > 0 {
		r.data = make([]byte, r.prodSize)
	}
}

// applyBOP records the product's declared size and metadata. Safe to
// call more than once (e.g. original BOP then a RETX_BOP reply); later
// calls are no-ops once the size is already known.
func (r *productRecord) applyBOP(size uint32, metadata []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateComplete || r.state == stateAbandoned || r.haveBop {
		return
	}
	r.haveBop = true
	r.prodSize = size
	r.metadata = metadata
	r.ensureSized()
	if r.state == stateUnseen {
		r.state = stateHaveBop
	}
	r.advanceLocked()
}

// applyData records a MEM_DATA/RETX_DATA chunk at byte offset.
func (r *productRecord) applyData(offset uint32, payload []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateComplete || r.state == stateAbandoned {
		return
	}
	end := offset + uint32(len(payload))
	if r.haveBop && end > r.prodSize {
		end = r.prodSize
	}
	if r.data == nil || uint32(len(r.data)) < end {
		grown := make([]byte, end)
		copy(grown, r.data)
		r.data = grown
	}
	copy(r.data[offset:end], payload[:end-offset])
	r.received.insert(offset, end)
	delete(r.pending, offset)
	if r.state == stateUnseen || r.state == stateHaveBop {
		r.state = stateAssembling
	}
	r.advanceLocked()
}

// applyEOP records the product's total size as announced by EOP,
// which is authoritative even if BOP was never seen.
func (r *productRecord) applyEOP(totalSize uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateComplete || r.state == stateAbandoned {
		return
	}
	r.haveEop = true
	if !r.haveBop {
		r.prodSize = totalSize
		r.ensureSized()
	}
	r.advanceLocked()
}

// advanceLocked promotes the record to Complete once every byte has
// arrived and EOP has been seen. Caller must hold r.mu.
func (r *productRecord) advanceLocked() {
	if r.state == stateComplete || r.state == stateAbandoned {
		return
	}
	if r.haveEop && r.received.covers(r.prodSize) {
		r.state = stateComplete
	}
}

// markAbandoned transitions the record terminally, e.g. on RETX_REJ.
// Returns true the first time the record becomes abandoned, so the
// caller notifies exactly once.
func (r *productRecord) markAbandoned() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state == stateComplete || r.state == stateAbandoned {
		return false
	}
	r.state = stateAbandoned
	r.notified = true
	return true
}

func (r *productRecord) snapshotState() productState {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// snapshotComplete returns the assembled bytes and metadata the first
// time the record is found Complete; ok is false otherwise, including
// on every call after the first (the "notified exactly once"
// invariant, mirrored from the sender side).
func (r *productRecord) snapshotComplete() (data, metadata []byte, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != stateComplete || r.notified {
		return nil, nil, false
	}
	r.notified = true
	return r.data, r.metadata, true
}

// needsBopReq reports whether the product has data or EOP but no BOP,
// which can only be recovered via BOP_REQ.
func (r *productRecord) needsBopReq() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return !r.haveBop && (r.haveEop || len(r.received.spans) > 0)
}

// needsEopReq reports whether every known byte has arrived but EOP has
// not, which happens when EOP itself was lost on the wire.
func (r *productRecord) needsEopReq() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.haveBop && !r.haveEop && r.received.covers(r.prodSize)
}

// dueGaps returns the missing spans, skipping any whose retransmission
// request was issued less than delay ago.
func (r *productRecord) dueGaps(delay time.Duration) []byteRange {
	r.mu.Lock()
	defer r.mu.Unlock()
	if !r.haveBop && !r.haveEop {
		return nil
	}
	total := r.prodSize
	now := time.Now()
	var due []byteRange
	for _, g := range r.received.gaps(total) {
		if ts, ok := r.pending[g.start]; ok && now.Sub(ts) < delay {
			continue
		}
		due = append(due, g)
	}
	return due
}

// markPending records that a request keyed by key was just issued, to
// suppress duplicate requests until delay has passed. Regular gaps are
// keyed by their start offset; BOP_REQ/EOP_REQ use the reserved
// sentinel keys below since they have no byte position of their own.
func (r *productRecord) markPending(key uint32) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[key] = time.Now()
}

// duePending reports whether a request keyed by key is not currently
// suppressed by a recent prior request.
func (r *productRecord) duePending(key uint32, delay time.Duration) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if ts, ok := r.pending[key]; ok && time.Since(ts) < delay {
		return false
	}
	return true
}

// Reserved pending-map keys for requests with no byte position.
const (
	bopPendingKey uint32 = 1<<32 - 1
	eopPendingKey uint32 = 1<<32 - 2
)
