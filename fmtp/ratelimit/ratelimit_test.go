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

package ratelimit

import (
	"testing"
	"time"
)

func TestUnlimitedShaperDoesNotBlock(t *testing.T) {
	s := NewShaper(0)
	start := time.Now()
	s.Wait(10 << 20)
	if time.Since(start) > 50*time.Millisecond {
		t.Fatalf("unlimited shaper blocked for %v", time.Since(start))
	}
}

func TestShaperThrottles(t *testing.T) {
	s := NewShaper(8000) // 1000 bytes/sec, burst 1000 bytes
	s.Wait(1000)         // bucket starts empty: takes ~1s and leaves it empty
	start := time.Now()
	s.Wait(500) // needs ~0.5s to refill
	elapsed := time.Since(start)
	if elapsed < 200*time.Millisecond {
		t.Fatalf("expected shaper to throttle, only waited %v", elapsed)
	}
}

func TestSetRateIsSafeDuringWait(t *testing.T) {
	s := NewShaper(8000)
	done := make(chan struct{})
	go func() {
		s.Wait(2000)
		close(done)
	}()
	s.SetRate(80000)
	<-done
}
