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

// Package receiver implements the FMTPv3 receiver: multicast ingress,
// per-product gap tracking, and the unicast retransmission requester,
// supervised the way ptp/sptp/client/client.go supervises its read
// loops with an errgroup.
package receiver

import (
	"time"

	"github.com/unidata/fmtp/fmtp/mac"
)

// Config holds the options needed to join the multicast group and
// connect back to the sender's retransmission listener.
type Config struct {
	Group     string
	Port      int
	Interface string

	// SenderAddr is the sender's unicast retransmission listener,
	// dialed once at Start for the handshake and subsequent requests.
	SenderAddr string
	MacMode    mac.Mode

	// GapRequestDelay bounds how often an unresolved gap is
	// re-requested.
	GapRequestDelay time.Duration

	// ScanInterval is how often the gap scanner wakes to look for due
	// gaps, missing BOPs and missing EOPs.
	ScanInterval time.Duration

	// MaxTrackedProducts bounds the receiver's in-memory product table;
	// the oldest tracked product is evicted to make room, and reported
	// abandoned if it was still incomplete.
	MaxTrackedProducts int
}
