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

import "sort"

// byteRange is a half-open [start, end) span of product bytes.
type byteRange struct {
	start, end uint32
}

// rangeSet is a sorted, merged set of received byte spans for one
// product. There is no interval-set library anywhere in the retrieval
// pack, so this is a small justified stdlib component (sort only).
type rangeSet struct {
	spans []byteRange
}

// insert records [start, end) as received, merging with any
// overlapping or adjacent existing span.
func (s *rangeSet) insert(start, end uint32) {
	if end <= start {
		return
	}
	spans := append(s.spans, byteRange{start, end})
	sort.Slice(spans, func(i, j int) bool { return spans[i].start < spans[j].start })

	merged := spans[:0:0]
	cur := spans[0]
	for _, r := range spans[1:] {
		if r.start <= cur.end {
			if r.end > cur.end {
				cur.end = r.end
			}
			continue
		}
		merged = append(merged, cur)
		cur = r
	}
	merged = append(merged, cur)
	s.spans = merged
}

// covers reports whether every byte in [0, total) has been received.
func (s *rangeSet) covers(total uint32) bool {
	if total == 0 {
		return true
	}
	if len(s.spans) != 1 {
		return false
	}
	return s.spans[0].start == 0 && s.spans[0].end >= total
}

// gaps returns the missing spans within [0, total), in ascending order.
func (s *rangeSet) gaps(total uint32) []byteRange {
	var gaps []byteRange
	pos := uint32(0)
	for _, r := range s.spans {
		if r.start > pos {
			gaps = append(gaps, byteRange{pos, r.start})
		}
		if r.end > pos {
			pos = r.end
		}
	}
	if pos < total {
		gaps = append(gaps, byteRange{pos, total})
	}
	return gaps
}
