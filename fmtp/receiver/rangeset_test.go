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
	"reflect"
	"testing"
)

func TestRangeSetInsertMerge(t *testing.T) {
	var s rangeSet
	s.insert(100, 200)
	s.insert(0, 100)
	s.insert(300, 400)

	want := []byteRange{{0, 200}, {300, 400}}
	if !reflect.DeepEqual(s.spans, want) {
		t.Fatalf("spans = %v, want %v", s.spans, want)
	}
}

func TestRangeSetInsertOverlap(t *testing.T) {
	var s rangeSet
	s.insert(0, 50)
	s.insert(40, 90)

	want := []byteRange{{0, 90}}
	if !reflect.DeepEqual(s.spans, want) {
		t.Fatalf("spans = %v, want %v", s.spans, want)
	}
}

func TestRangeSetInsertEmptyIgnored(t *testing.T) {
	var s rangeSet
	s.insert(10, 10)
	s.insert(20, 15)
	if len(s.spans) != 0 {
		t.Fatalf("expected no spans from empty/inverted inserts, got %v", s.spans)
	}
}

func TestRangeSetCovers(t *testing.T) {
	var s rangeSet
	if !s.covers(0) {
		t.Fatal("empty set should cover a zero-length product")
	}
	s.insert(0, 100)
	if s.covers(200) {
		t.Fatal("partial span should not cover the full product")
	}
	s.insert(100, 200)
	if !s.covers(200) {
		t.Fatal("merged contiguous spans should cover the full product")
	}
}

func TestRangeSetGaps(t *testing.T) {
	var s rangeSet
	s.insert(50, 100)
	s.insert(150, 200)

	got := s.gaps(200)
	want := []byteRange{{0, 50}, {100, 150}}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("gaps = %v, want %v", got, want)
	}
}

func TestRangeSetGapsNoneWhenComplete(t *testing.T) {
	var s rangeSet
	s.insert(0, 100)
	if gaps := s.gaps(100); gaps != nil {
		t.Fatalf("expected no gaps, got %v", gaps)
	}
}
