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
	"fmt"
	"math"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/unidata/fmtp/fmtp/ferrors"
	"github.com/unidata/fmtp/fmtp/keyxchg"
	"github.com/unidata/fmtp/fmtp/mac"
	"github.com/unidata/fmtp/fmtp/mcast"
	"github.com/unidata/fmtp/fmtp/ratelimit"
	"github.com/unidata/fmtp/fmtp/rtxconn"
	"github.com/unidata/fmtp/fmtp/stats"
	"github.com/unidata/fmtp/fmtp/wire"
)

// Server is the FMTP sender: it owns the multicast egress socket, the
// unicast retransmission listener, the retention table and delay queue,
// and fans out one goroutine per accepted retransmission connection.
// Generalized from ptp/ptp4u/server.Server's acceptor+worker-pool
// wiring in a single sync.WaitGroup-supervised Start.
type Server struct {
	Notifier ProductNotifier
	Gate     ConnectionGate
	Stats    stats.Stats

	cfg Config
	mac mac.Mac

	table  *RetentionTable
	delayQ *DelayQueue
	shaper *ratelimit.Shaper

	mcastConn *ipv4.PacketConn
	groupAddr net.Addr
	listener  net.Listener

	mu            sync.Mutex
	connections   map[connID]*rtxconn.Conn
	nextConnID    connID
	nextProdIndex uint32

	shutdownOnce sync.Once
	shutdown     chan struct{}
	wg           sync.WaitGroup

	ready chan struct{}
}

// NewServer constructs a Server with a fresh MAC key for cfg.MacMode.
// The key is available via Server.MacKey for the operator to publish
// out of band, though the normal path is the per-connection handshake
// in acceptConn.
func NewServer(cfg Config) (*Server, error) {
	m, err := mac.New(cfg.MacMode)
	if err != nil {
		return nil, fmt.Errorf("sender: %w", err)
	}
	return &Server{
		Notifier:    noopNotifier{},
		Stats:       stats.Noop{},
		cfg:         cfg,
		mac:         m,
		table:       NewRetentionTable(),
		delayQ:      NewDelayQueue(),
		shaper:      ratelimit.NewShaper(cfg.RateBps),
		connections: make(map[connID]*rtxconn.Conn),
		shutdown:    make(chan struct{}),
		ready:       make(chan struct{}),
	}, nil
}

// MacKey returns the MAC key bytes that acceptConn publishes in-band to
// every receiver, for an operator who also distributes them out of band.
func (s *Server) MacKey() []byte { return s.mac.Key() }

// Ready closes once the multicast egress socket and retransmission
// listener are open, i.e. once SendProduct is safe to call. It never
// closes if Start fails before reaching that point; callers running
// Start in a goroutine should select on Ready() alongside Start's
// returned error rather than wait on Ready() alone.
func (s *Server) Ready() <-chan struct{} { return s.ready }

// Start opens the multicast egress socket and the unicast listener,
// then runs the acceptor and timeout threads until Stop is called or
// either thread fails unexpectedly.
func (s *Server) Start() error {
	mc, err := mcast.OpenSender(mcast.Config{
		Group:     s.cfg.Group,
		Port:      s.cfg.Port,
		Interface: s.cfg.Interface,
		TTL:       s.cfg.TTL,
	})
	if err != nil {
		return fmt.Errorf("sender: opening multicast egress socket: %w", err)
	}
	s.mcastConn = mc
	s.groupAddr = mcast.Config{Group: s.cfg.Group, Port: s.cfg.Port}.GroupAddr()

	ln, err := net.Listen("tcp", s.cfg.ListenAddr)
	if err != nil {
		mc.Close()
		return fmt.Errorf("sender: opening retransmission listener: %w", err)
	}
	s.listener = ln
	close(s.ready)

	errCh := make(chan error, 2)
	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		if err := s.acceptLoop(); err != nil {
			errCh <- err
		}
	}()
	go func() {
		defer s.wg.Done()
		s.timeoutLoop()
	}()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-s.shutdown:
		<-done
		return nil
	case err := <-errCh:
		s.Stop()
		return err
	}
}

// Stop disables the delay queue, closes the listener and multicast
// socket (unblocking any goroutine reading them), and closes every
// live retransmission connection, which unblocks each connWorker's
// ReadMessage per the shutdown-by-socket-close policy. Idempotent.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		s.delayQ.Disable()
		if s.listener != nil {
			s.listener.Close()
		}
		if s.mcastConn != nil {
			s.mcastConn.Close()
		}
		s.mu.Lock()
		for _, c := range s.connections {
			c.Close()
		}
		s.mu.Unlock()
	})
}

// SetRate reconfigures the sustained multicast egress rate in
// bits/sec, 0 meaning unlimited.
func (s *Server) SetRate(bps int64) {
	s.shaper.SetRate(bps)
}

// SendProduct transmits a new product: a BOP datagram, the product
// bytes chunked across MEM_DATA datagrams, and a closing EOP datagram,
// then registers a retention entry and schedules its timeout. Every
// receiver connected once the EOP has gone out is recorded as
// unfinished for this product; a receiver that connects later is not
// tracked for it.
func (s *Server) SendProduct(data []byte, metadata []byte) (uint32, error) {
	if len(data) > math.MaxUint32 {
		return 0, fmt.Errorf("%w: product of %d bytes exceeds the wire size limit", ferrors.ErrInvalidArgument, len(data))
	}
	if len(metadata) > wire.MaxBOPMetadata {
		return 0, fmt.Errorf("%w: metadata of %d bytes exceeds MaxBOPMetadata", ferrors.ErrInvalidArgument, len(metadata))
	}

	s.mu.Lock()
	prodIndex := s.nextProdIndex
	s.nextProdIndex++
	s.mu.Unlock()

	now := time.Now()
	bop := wire.BOPMsg{
		StartTimeSecHigh: uint32(now.Unix() >> 32),
		StartTimeSecLow:  uint32(now.Unix()),
		StartTimeNanos:   uint32(now.Nanosecond()),
		ProdSize:         uint32(len(data)),
		Metadata:         metadata,
	}
	bopPayload, err := bop.Encode()
	if err != nil {
		return 0, fmt.Errorf("%w: encoding BOP: %v", ferrors.ErrInvalidArgument, err)
	}
	if err := s.sendDatagram(wire.Header{ProdIndex: prodIndex, SeqNum: 0, Flags: wire.FlagBOP}, bopPayload); err != nil {
		return 0, err
	}

	chunkLen := s.cfg.MaxPayload
	if chunkLen <= 0 {
		chunkLen = wire.MaxPayloadDefault
	}
	for offset := 0; offset < len(data); offset += chunkLen {
		end := offset + chunkLen
		if end > len(data) {
			end = len(data)
		}
		h := wire.Header{ProdIndex: prodIndex, SeqNum: uint32(offset), Flags: wire.FlagMemData}
		if err := s.sendDatagram(h, data[offset:end]); err != nil {
			return 0, err
		}
	}

	if err := s.sendDatagram(wire.Header{ProdIndex: prodIndex, SeqNum: uint32(len(data)), Flags: wire.FlagEOP}, nil); err != nil {
		return 0, err
	}

	s.mu.Lock()
	unfinished := make(map[connID]struct{}, len(s.connections))
	for id := range s.connections {
		unfinished[id] = struct{}{}
	}
	s.mu.Unlock()
	entry := &retentionEntry{
		prodIndex:  prodIndex,
		prodSize:   uint32(len(data)),
		metadata:   metadata,
		data:       data,
		startTime:  now,
		unfinished: unfinished,
	}
	s.table.Add(entry)
	s.Stats.SetRetentionSize(s.table.Len())
	s.Stats.SetUnfinishedReceivers(prodIndex, len(unfinished))

	if err := s.delayQ.Push(prodIndex, s.cfg.RetxTimeoutPeriod); err != nil {
		log.Warnf("fmtp sender: delay queue rejected product %d: %v", prodIndex, err)
	}
	s.Stats.SetDelayQueueDepth(s.delayQ.Len())

	return prodIndex, nil
}

// sendDatagram rate-shapes and transmits one multicast datagram:
// header || payload || MAC tag.
func (s *Server) sendDatagram(h wire.Header, payload []byte) error {
	h.PayloadLen = uint16(len(payload))
	hbuf := h.Bytes()
	tag := s.mac.Tag(hbuf, payload)
	buf := make([]byte, 0, len(hbuf)+len(payload)+len(tag))
	buf = append(buf, hbuf...)
	buf = append(buf, payload...)
	buf = append(buf, tag...)

	s.shaper.Wait(len(buf))
	if _, err := s.mcastConn.WriteTo(buf, nil, s.groupAddr); err != nil {
		return fmt.Errorf("%w: writing multicast datagram: %v", ferrors.ErrIO, err)
	}
	s.Stats.IncBytesTX(len(payload))
	return nil
}

// acceptLoop accepts retransmission connections until the listener is
// closed by Stop.
func (s *Server) acceptLoop() error {
	for {
		raw, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return nil
			default:
				return fmt.Errorf("%w: accepting retransmission connection: %v", ferrors.ErrIO, err)
			}
		}
		go s.acceptConn(raw)
	}
}

// acceptConn runs the handshake for one newly accepted connection and,
// on success, hands it to a connWorker goroutine.
func (s *Server) acceptConn(raw net.Conn) {
	tcp, ok := raw.(*net.TCPConn)
	if !ok {
		raw.Close()
		return
	}

	if s.Gate != nil && !s.Gate.Admit(tcp.RemoteAddr().String()) {
		tcp.Close()
		return
	}

	// Handshake happens over the raw stream before message framing
	// begins: read the receiver's ephemeral public key, then publish
	// the MAC key encrypted to it.
	pub, err := keyxchg.ReadReceiverPublicKey(tcp)
	if err != nil {
		log.Errorf("fmtp sender: handshake with %s failed: %v", tcp.RemoteAddr(), err)
		tcp.Close()
		return
	}
	if err := keyxchg.EncryptKey(tcp, pub, s.mac.Key()); err != nil {
		log.Errorf("fmtp sender: publishing MAC key to %s failed: %v", tcp.RemoteAddr(), err)
		tcp.Close()
		return
	}

	conn, err := rtxconn.New(tcp)
	if err != nil {
		log.Errorf("fmtp sender: wrapping retransmission connection: %v", err)
		tcp.Close()
		return
	}

	s.mu.Lock()
	id := s.nextConnID
	s.nextConnID++
	s.connections[id] = conn
	s.mu.Unlock()
	s.Stats.IncConnectedReceivers()

	w := &connWorker{server: s, id: id, conn: conn}
	w.run()
}

// removeConnection drops id from the live connection registry and
// marks it done in every retention entry still listing it as
// unfinished, releasing receivers that disconnect mid-product.
func (s *Server) removeConnection(id connID) {
	s.mu.Lock()
	delete(s.connections, id)
	s.mu.Unlock()
	s.Stats.DecConnectedReceivers()

	for _, prodIndex := range s.table.ProdIndexes() {
		h, ok := s.table.Get(prodIndex)
		if !ok {
			continue
		}
		emptied := h.MarkReceiverDone(id)
		if emptied {
			h.MarkForRemoval()
		}
		h.Release()
		if emptied {
			s.Stats.SetRetentionSize(s.table.Len())
			s.Stats.IncProductsCompleted()
			s.Notifier.OnProductComplete(prodIndex)
		}
	}
}

// sendTo best-effort writes a unicast message to a still-registered
// connection; a missing id (already disconnected) is not an error.
func (s *Server) sendTo(id connID, h wire.Header, payload []byte) {
	s.mu.Lock()
	conn, ok := s.connections[id]
	s.mu.Unlock()
	if !ok {
		return
	}
	if err := conn.WriteMessage(h, payload); err != nil {
		log.Debugf("fmtp sender: writing to connection %d: %v", id, err)
	}
}

// timeoutLoop evicts products whose delay has elapsed, notifying the
// application and best-effort informing any still-unfinished receivers.
func (s *Server) timeoutLoop() {
	for {
		prodIndex, err := s.delayQ.Pop()
		if err != nil {
			return
		}
		s.evict(prodIndex)
		s.Stats.SetDelayQueueDepth(s.delayQ.Len())
	}
}

func (s *Server) evict(prodIndex uint32) {
	h, ok := s.table.Get(prodIndex)
	if !ok {
		return
	}
	unfinished := h.UnfinishedReceivers()
	for _, id := range unfinished {
		s.sendTo(id, wire.Header{ProdIndex: prodIndex, SeqNum: h.ProdSize(), Flags: wire.FlagRetxEop}, nil)
	}
	h.MarkForRemoval()
	h.Release()

	s.Stats.SetRetentionSize(s.table.Len())
	if len(unfinished) == 0 {
		s.Stats.IncProductsCompleted()
		s.Notifier.OnProductComplete(prodIndex)
	} else {
		s.Stats.IncProductsTimedOut()
		s.Notifier.OnProductTimedOut(prodIndex, len(unfinished))
	}
}
