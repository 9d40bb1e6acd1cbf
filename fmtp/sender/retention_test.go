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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetentionTableAddGetRelease(t *testing.T) {
	tbl := NewRetentionTable()
	tbl.Add(&retentionEntry{
		prodIndex:  1,
		prodSize:   10,
		data:       []byte("0123456789"),
		unfinished: map[connID]struct{}{1: {}, 2: {}},
	})
	assert.Equal(t, 1, tbl.Len())

	h, ok := tbl.Get(1)
	require.True(t, ok)
	assert.Equal(t, uint32(10), h.ProdSize())
	assert.Equal(t, []byte("0123456789"), h.Data())
	h.Release()

	_, ok = tbl.Get(99)
	assert.False(t, ok)
}

func TestRetentionTableGetBlocksConcurrentHolder(t *testing.T) {
	tbl := NewRetentionTable()
	tbl.Add(&retentionEntry{prodIndex: 1, unfinished: map[connID]struct{}{}})

	h, ok := tbl.Get(1)
	require.True(t, ok)

	acquired := make(chan struct{})
	go func() {
		h2, ok := tbl.Get(1)
		require.True(t, ok)
		close(acquired)
		h2.Release()
	}()

	select {
	case <-acquired:
		t.Fatal("second Get acquired the entry while the first handle was still held")
	case <-time.After(20 * time.Millisecond):
	}

	h.Release()
	select {
	case <-acquired:
	case <-time.After(time.Second):
		t.Fatal("second Get never acquired the entry after Release")
	}
}

func TestRetentionTableMarkForRemovalEvictsOnRelease(t *testing.T) {
	tbl := NewRetentionTable()
	tbl.Add(&retentionEntry{prodIndex: 1, unfinished: map[connID]struct{}{}})

	h, ok := tbl.Get(1)
	require.True(t, ok)
	h.MarkForRemoval()
	assert.Equal(t, 1, tbl.Len(), "entry must not be evicted before Release")
	h.Release()
	assert.Equal(t, 0, tbl.Len())

	_, ok = tbl.Get(1)
	assert.False(t, ok)
}

func TestEntryHandleMarkReceiverDone(t *testing.T) {
	tbl := NewRetentionTable()
	tbl.Add(&retentionEntry{prodIndex: 1, unfinished: map[connID]struct{}{1: {}, 2: {}}})

	h, _ := tbl.Get(1)
	assert.False(t, h.MarkReceiverDone(1))
	assert.ElementsMatch(t, []connID{2}, h.UnfinishedReceivers())
	assert.True(t, h.MarkReceiverDone(2))
	h.Release()
}

func TestRetentionTableProdIndexes(t *testing.T) {
	tbl := NewRetentionTable()
	tbl.Add(&retentionEntry{prodIndex: 1, unfinished: map[connID]struct{}{}})
	tbl.Add(&retentionEntry{prodIndex: 2, unfinished: map[connID]struct{}{}})
	assert.ElementsMatch(t, []uint32{1, 2}, tbl.ProdIndexes())
}

func TestRetentionTableConcurrentDistinctProductsDoNotBlock(t *testing.T) {
	tbl := NewRetentionTable()
	tbl.Add(&retentionEntry{prodIndex: 1, unfinished: map[connID]struct{}{}})
	tbl.Add(&retentionEntry{prodIndex: 2, unfinished: map[connID]struct{}{}})

	h1, _ := tbl.Get(1)
	var wg sync.WaitGroup
	wg.Add(1)
	done := make(chan struct{})
	go func() {
		defer wg.Done()
		h2, ok := tbl.Get(2)
		require.True(t, ok)
		h2.Release()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Get on a distinct product blocked behind an unrelated held entry")
	}
	wg.Wait()
	h1.Release()
}
