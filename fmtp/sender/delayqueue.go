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
	"container/heap"
	"sync"
	"time"

	"github.com/unidata/fmtp/fmtp/ferrors"
)

// delayItem is one pending timeout entry. prodIndex doubles as the
// tie-breaker for entries that share a reveal time, since prodindex is
// assigned in strictly increasing insertion order.
type delayItem struct {
	prodIndex  uint32
	revealTime time.Time
}

type delayHeap []delayItem

func (h delayHeap) Len() int { return len(h) }
func (h delayHeap) Less(i, j int) bool {
	if h[i].revealTime.Equal(h[j].revealTime) {
		return h[i].prodIndex < h[j].prodIndex
	}
	return h[i].revealTime.Before(h[j].revealTime)
}
func (h delayHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }
func (h *delayHeap) Push(x any)   { *h = append(*h, x.(delayItem)) }
func (h *delayHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	*h = old[:n-1]
	return item
}

// DelayQueue is a priority queue of product timeouts ordered by reveal
// time, guarded by a mutex and condition variable. Pop blocks until the
// earliest entry's reveal time has passed, or until the queue is
// disabled.
type DelayQueue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	h        delayHeap
	disabled bool
}

// NewDelayQueue returns an empty, enabled DelayQueue.
func NewDelayQueue() *DelayQueue {
	q := &DelayQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Push schedules prodIndex to become due after d has elapsed.
func (q *DelayQueue) Push(prodIndex uint32, d time.Duration) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.disabled {
		return ferrors.ErrShutdown
	}
	heap.Push(&q.h, delayItem{prodIndex: prodIndex, revealTime: time.Now().Add(d)})
	q.cond.Broadcast()
	return nil
}

// Len reports the current queue depth.
func (q *DelayQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.h)
}

// Pop blocks until the earliest entry is due and returns its prodIndex,
// or returns ferrors.ErrShutdown once Disable has been called and no
// further entries remain reachable.
func (q *DelayQueue) Pop() (uint32, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for {
		if q.disabled {
			return 0, ferrors.ErrShutdown
		}
		if len(q.h) == 0 {
			q.cond.Wait()
			continue
		}
		top := q.h[0]
		now := time.Now()
		if !now.Before(top.revealTime) {
			item := heap.Pop(&q.h).(delayItem)
			return item.prodIndex, nil
		}
		wait := top.revealTime.Sub(now)
		timer := time.AfterFunc(wait, func() {
			q.mu.Lock()
			q.cond.Broadcast()
			q.mu.Unlock()
		})
		q.cond.Wait()
		timer.Stop()
	}
}

// Disable wakes every blocked Pop with ferrors.ErrShutdown and rejects
// further Push calls. Idempotent.
func (q *DelayQueue) Disable() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.disabled = true
	q.cond.Broadcast()
}
