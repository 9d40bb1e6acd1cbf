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
	"sync"
	"time"
)

// connID identifies a retransmission connection within a single
// server's connection registry.
type connID uint64

// retentionEntry is the per-product retransmission record. Its mutex
// *is* the exclusive-access latch described for RetxMetadata: a holder
// of the lock has in_use effectively set, and remove is a tombstone
// that is only ever read or written while the lock is held, so
// eviction can never race a concurrent retransmission dispatch.
type retentionEntry struct {
	mu sync.Mutex

	prodIndex  uint32
	prodSize   uint32
	metadata   []byte
	data       []byte
	startTime  time.Time
	unfinished map[connID]struct{}

	remove bool
}

// RetentionTable maps prodindex to retentionEntry, guarded by a single
// mutex for membership changes. Per-entry mutual exclusion is handled
// by the entry's own mutex via EntryHandle.
type RetentionTable struct {
	mu      sync.Mutex
	entries map[uint32]*retentionEntry
}

// NewRetentionTable returns an empty table.
func NewRetentionTable() *RetentionTable {
	return &RetentionTable{entries: make(map[uint32]*retentionEntry)}
}

// Add registers a new retention entry. Callers must not call Add twice
// for the same prodIndex.
func (t *RetentionTable) Add(e *retentionEntry) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[e.prodIndex] = e
}

// Len reports the number of retained products.
func (t *RetentionTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.entries)
}

// ProdIndexes returns a snapshot of every currently retained product,
// used by connection teardown to scan for entries still listing the
// closed connection as unfinished.
func (t *RetentionTable) ProdIndexes() []uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]uint32, 0, len(t.entries))
	for id := range t.entries {
		ids = append(ids, id)
	}
	return ids
}

// EntryHandle is exclusive, RAII-style access to a retentionEntry:
// acquiring one blocks any other holder (including the timeout thread)
// until Release is called. Release performs the deferred eviction if
// MarkForRemoval was called while the handle was held.
type EntryHandle struct {
	table *RetentionTable
	entry *retentionEntry
}

// Get blocks until it has exclusive access to the named product's
// retention entry, or returns false if no such entry exists.
func (t *RetentionTable) Get(prodIndex uint32) (*EntryHandle, bool) {
	t.mu.Lock()
	e, ok := t.entries[prodIndex]
	t.mu.Unlock()
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	if e.remove {
		// Evicted by the holder this call was waiting behind.
		e.mu.Unlock()
		return nil, false
	}
	return &EntryHandle{table: t, entry: e}, true
}

// ProdSize returns the product's advertised byte length.
func (h *EntryHandle) ProdSize() uint32 { return h.entry.prodSize }

// Data returns the product's retained bytes.
func (h *EntryHandle) Data() []byte { return h.entry.data }

// Metadata returns the product's BOP metadata.
func (h *EntryHandle) Metadata() []byte { return h.entry.metadata }

// StartTime returns when the product was first transmitted.
func (h *EntryHandle) StartTime() time.Time { return h.entry.startTime }

// UnfinishedReceivers returns a snapshot of the connection IDs that
// have not yet sent RETX_END for this product.
func (h *EntryHandle) UnfinishedReceivers() []connID {
	ids := make([]connID, 0, len(h.entry.unfinished))
	for id := range h.entry.unfinished {
		ids = append(ids, id)
	}
	return ids
}

// MarkReceiverDone removes id from the unfinished set and reports
// whether the set is now empty.
func (h *EntryHandle) MarkReceiverDone(id connID) (emptied bool) {
	delete(h.entry.unfinished, id)
	return len(h.entry.unfinished) == 0
}

// MarkForRemoval latches the tombstone; Release will then delete the
// entry from the table instead of merely unlocking it.
func (h *EntryHandle) MarkForRemoval() { h.entry.remove = true }

// Release ends exclusive access. If MarkForRemoval was called during
// the held window, the entry is evicted from the table before the
// per-entry lock is dropped, so a concurrent Get can never observe a
// half-evicted entry.
func (h *EntryHandle) Release() {
	if h.entry.remove {
		h.table.mu.Lock()
		delete(h.table.entries, h.entry.prodIndex)
		h.table.mu.Unlock()
	}
	h.entry.mu.Unlock()
}
