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

// Package ratelimit is a minimal single-writer token-bucket shaper for
// the multicast egress thread, giving SendProduct and SetRate a
// concrete shaper to block against.
package ratelimit

import (
	"sync"
	"time"
)

// Shaper is a single-writer token bucket: Wait blocks the caller until
// n bytes worth of budget is available at the configured rate.
type Shaper struct {
	mu sync.Mutex

	bps       float64 // bytes per second, 0 means unlimited
	tokens    float64
	burst     float64
	lastCheck time.Time
}

// NewShaper creates a Shaper with an initial rate in bits per second.
// A rate of 0 disables shaping.
func NewShaper(bps int64) *Shaper {
	s := &Shaper{
		lastCheck: time.Now(),
	}
	s.SetRate(bps)
	return s
}

// SetRate reconfigures the sustained rate in bits per second. Called
// only from the single egress thread (§5 "single-writer from the
// egress thread").
func (s *Shaper) SetRate(bps int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.bps = float64(bps) / 8
	s.burst = s.bps // one second worth of burst
	if s.burst <= 0 {
		s.burst = 0
	}
	if s.tokens > s.burst {
		s.tokens = s.burst
	}
}

// Wait blocks the caller until n bytes of budget are available, then
// debits the bucket. It is the sole back-pressure mechanism in front
// of send_product (§5: "there is no queue in front of the multicast
// socket").
func (s *Shaper) Wait(n int) {
	for {
		s.mu.Lock()
		if s.bps <= 0 {
			s.mu.Unlock()
			return
		}
		now := time.Now()
		elapsed := now.Sub(s.lastCheck).Seconds()
		s.lastCheck = now
		s.tokens += elapsed * s.bps
		if s.tokens > s.burst {
			s.tokens = s.burst
		}
		need := float64(n)
		if s.tokens >= need {
			s.tokens -= need
			s.mu.Unlock()
			return
		}
		deficit := need - s.tokens
		wait := time.Duration(deficit / s.bps * float64(time.Second))
		s.mu.Unlock()
		if wait <= 0 {
			wait = time.Millisecond
		}
		time.Sleep(wait)
	}
}
