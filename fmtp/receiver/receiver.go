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
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"golang.org/x/net/ipv4"
	"golang.org/x/sync/errgroup"

	"github.com/unidata/fmtp/fmtp/ferrors"
	"github.com/unidata/fmtp/fmtp/keyxchg"
	"github.com/unidata/fmtp/fmtp/mac"
	"github.com/unidata/fmtp/fmtp/mcast"
	"github.com/unidata/fmtp/fmtp/rtxconn"
	"github.com/unidata/fmtp/fmtp/stats"
)

// Receiver is the FMTP receiver: it joins the multicast group, dials
// the sender's retransmission listener, and assembles products while
// requesting retransmission for any gaps it detects. Goroutines are
// supervised with an errgroup, mirroring ptp/sptp/client/client.go.
type Receiver struct {
	Notifier ProductNotifier
	Stats    stats.Stats

	cfg Config
	mac mac.Mac

	mcastConn *ipv4.PacketConn
	rtxConn   *rtxconn.Conn
	rtxMu     sync.Mutex // serializes writes to rtxConn from the gap scanner

	mu       sync.Mutex
	products map[uint32]*productRecord
	order    []uint32

	shutdownOnce sync.Once
	shutdown     chan struct{}
}

// NewReceiver constructs an unstarted Receiver.
func NewReceiver(cfg Config) *Receiver {
	if cfg.GapRequestDelay <= 0 {
		cfg.GapRequestDelay = 2 * time.Second
	}
	if cfg.ScanInterval <= 0 {
		cfg.ScanInterval = 500 * time.Millisecond
	}
	if cfg.MaxTrackedProducts <= 0 {
		cfg.MaxTrackedProducts = 64
	}
	return &Receiver{
		Notifier: noopNotifier{},
		Stats:    stats.Noop{},
		cfg:      cfg,
		products: make(map[uint32]*productRecord),
		shutdown: make(chan struct{}),
	}
}

// handshake dials the sender's retransmission listener and performs
// the key-exchange handshake that establishes r.mac, then wraps the
// connection for framed requests/replies.
func (r *Receiver) handshake() error {
	raw, err := net.Dial("tcp", r.cfg.SenderAddr)
	if err != nil {
		return fmt.Errorf("%w: dialing sender %s: %v", ferrors.ErrIO, r.cfg.SenderAddr, err)
	}
	tcp := raw.(*net.TCPConn)

	identity, err := keyxchg.NewReceiverIdentity()
	if err != nil {
		tcp.Close()
		return err
	}
	if err := identity.WritePublicKey(tcp); err != nil {
		tcp.Close()
		return err
	}
	key, err := identity.ReadKey(tcp)
	if err != nil {
		tcp.Close()
		return err
	}
	m, err := mac.FromKey(r.cfg.MacMode, key)
	if err != nil {
		tcp.Close()
		return err
	}
	r.mac = m

	conn, err := rtxconn.New(tcp)
	if err != nil {
		tcp.Close()
		return err
	}
	r.rtxConn = conn
	return nil
}

// Start joins the multicast group, completes the handshake, and runs
// the ingress, retransmission-reply and gap-scanner goroutines until
// Stop is called or one of them fails.
func (r *Receiver) Start() error {
	mc, err := mcast.OpenReceiver(mcast.Config{
		Group:     net.ParseIP(r.cfg.Group),
		Port:      r.cfg.Port,
		Interface: r.cfg.Interface,
	})
	if err != nil {
		return fmt.Errorf("receiver: joining multicast group: %w", err)
	}
	r.mcastConn = mc

	if err := r.handshake(); err != nil {
		mc.Close()
		return fmt.Errorf("receiver: handshake with sender: %w", err)
	}

	g, ctx := errgroup.WithContext(context.Background())
	g.Go(func() error { return r.ingressLoop() })
	g.Go(func() error { return r.rtxReplyLoop() })
	g.Go(func() error { return r.gapScanLoop(ctx) })
	// A failing goroutine cancels ctx; closing both sockets then
	// unblocks the reads the other goroutines are parked in.
	go func() {
		<-ctx.Done()
		r.mcastConn.Close()
		r.rtxConn.Close()
	}()

	err = g.Wait()
	select {
	case <-r.shutdown:
		return nil
	default:
		r.Stop()
		return err
	}
}

// Stop tears down the multicast and unicast sockets, which unblocks
// every goroutine's blocking read, per the shutdown-by-socket-close
// policy. Idempotent.
func (r *Receiver) Stop() {
	r.shutdownOnce.Do(func() {
		close(r.shutdown)
		if r.mcastConn != nil {
			r.mcastConn.Close()
		}
		if r.rtxConn != nil {
			r.rtxConn.Close()
		}
	})
}

// track returns the productRecord for prodIndex, creating one if
// necessary and evicting the oldest tracked product once the table
// exceeds MaxTrackedProducts.
func (r *Receiver) track(prodIndex uint32) *productRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	if rec, ok := r.products[prodIndex]; ok {
		return rec
	}
	rec := newProductRecord(prodIndex)
	r.products[prodIndex] = rec
	r.order = append(r.order, prodIndex)
	if len(r.order) > r.cfg.MaxTrackedProducts {
		oldest := r.order[0]
		r.order = r.order[1:]
		if old, ok := r.products[oldest]; ok && old.markAbandoned() {
			r.Stats.IncProductsTimedOut()
			r.Notifier.OnProductAbandoned(oldest)
		}
		delete(r.products, oldest)
	}
	return rec
}

// checkComplete notifies the first time rec reaches Complete. The
// record is left in the table (rather than deleted) so a stray
// duplicate datagram arriving afterward is recognized as terminal
// instead of restarting assembly from scratch; it ages out later via
// the normal MaxTrackedProducts eviction in track.
func (r *Receiver) checkComplete(rec *productRecord) {
	data, metadata, ok := rec.snapshotComplete()
	if !ok {
		return
	}
	r.Stats.IncProductsCompleted()
	r.Notifier.OnProductComplete(rec.prodIndex, data, metadata)
}

// checkAbandoned marks prodIndex abandoned and notifies the first time
// this is observed, e.g. on a RETX_REJ reply.
func (r *Receiver) checkAbandoned(prodIndex uint32) {
	r.mu.Lock()
	rec, ok := r.products[prodIndex]
	r.mu.Unlock()
	if !ok {
		return
	}
	if !rec.markAbandoned() {
		return
	}
	r.Stats.IncProductsTimedOut()
	r.Notifier.OnProductAbandoned(prodIndex)
}
