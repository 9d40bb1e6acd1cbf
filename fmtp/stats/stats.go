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

// Package stats implements the observability surface named in
// SPEC_FULL's SUPPLEMENTED FEATURES: counters/gauges for retention
// table size, unfinished-receiver counts, delay-queue depth, MAC
// failures and bytes sent/retransmitted. Shape generalized from
// ptp/ptp4u/stats.Stats (an interface with a concrete implementation
// behind it) and ptp/sptp/stats/prom_exporter.go (registry + promhttp).
package stats

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"
)

// Stats is the metric collection interface shared by sender and
// receiver instances.
type Stats interface {
	// Start runs the /metrics HTTP endpoint. Blocks; call in a goroutine.
	Start(addr string)

	// SetRetentionSize reports the current number of entries in the
	// sender's retention table.
	SetRetentionSize(n int)
	// SetDelayQueueDepth reports the current delay queue length.
	SetDelayQueueDepth(n int)
	// SetUnfinishedReceivers reports the unfinished-receiver count for
	// a single product.
	SetUnfinishedReceivers(prodindex uint32, n int)

	// IncConnectedReceivers/DecConnectedReceivers track live unicast
	// retransmission connections.
	IncConnectedReceivers()
	DecConnectedReceivers()

	// IncBytesTX/IncBytesRetx count multicast and unicast-retransmit
	// payload bytes sent.
	IncBytesTX(n int)
	IncBytesRetx(n int)

	// IncMACFailure counts datagrams discarded for a bad MAC.
	IncMACFailure()
	// IncProductsCompleted/IncProductsTimedOut count terminal
	// product outcomes (mutually exclusive per product, per §5's
	// "notified exactly once" invariant).
	IncProductsCompleted()
	IncProductsTimedOut()
	// IncGapRequests counts RETX_REQ messages: issued, on a receiver;
	// received, on a sender.
	IncGapRequests()
}

// Prometheus is a Stats implementation backed by a prometheus.Registry.
type Prometheus struct {
	registry *prometheus.Registry

	retentionSize       prometheus.Gauge
	delayQueueDepth     prometheus.Gauge
	unfinishedReceivers *prometheus.GaugeVec
	connectedReceivers  prometheus.Gauge
	bytesTX             prometheus.Counter
	bytesRetx           prometheus.Counter
	macFailures         prometheus.Counter
	productsCompleted   prometheus.Counter
	productsTimedOut    prometheus.Counter
	gapRequests         prometheus.Counter
}

// NewPrometheus builds and registers the FMTP metric family.
func NewPrometheus() *Prometheus {
	p := &Prometheus{registry: prometheus.NewRegistry()}

	p.retentionSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fmtp_retention_table_size",
		Help: "Current number of products held in the sender retention table.",
	})
	p.delayQueueDepth = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fmtp_delay_queue_depth",
		Help: "Current number of pending timeout entries in the delay queue.",
	})
	p.unfinishedReceivers = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "fmtp_unfinished_receivers",
		Help: "Number of receivers that have not yet acknowledged a product.",
	}, []string{"prodindex"})
	p.connectedReceivers = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "fmtp_connected_receivers",
		Help: "Number of live unicast retransmission connections.",
	})
	p.bytesTX = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fmtp_bytes_tx_total",
		Help: "Total multicast payload bytes sent.",
	})
	p.bytesRetx = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fmtp_bytes_retx_total",
		Help: "Total unicast retransmission payload bytes sent.",
	})
	p.macFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fmtp_mac_failures_total",
		Help: "Total datagrams discarded for failing MAC verification.",
	})
	p.productsCompleted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fmtp_products_completed_total",
		Help: "Total products for which every receiver acknowledged delivery.",
	})
	p.productsTimedOut = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fmtp_products_timed_out_total",
		Help: "Total products evicted by timeout with receivers still unfinished.",
	})
	p.gapRequests = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "fmtp_gap_requests_total",
		Help: "Total RETX_REQ messages issued (receiver) or received (sender).",
	})

	p.registry.MustRegister(
		p.retentionSize, p.delayQueueDepth, p.unfinishedReceivers,
		p.connectedReceivers, p.bytesTX, p.bytesRetx, p.macFailures,
		p.productsCompleted, p.productsTimedOut, p.gapRequests,
	)
	return p
}

// Start implements Stats.
func (p *Prometheus) Start(addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}))
	log.Infof("Starting stats endpoint on %s", addr)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Errorf("Stats endpoint stopped: %v", err)
	}
}

func (p *Prometheus) SetRetentionSize(n int)   { p.retentionSize.Set(float64(n)) }
func (p *Prometheus) SetDelayQueueDepth(n int) { p.delayQueueDepth.Set(float64(n)) }
func (p *Prometheus) SetUnfinishedReceivers(prodindex uint32, n int) {
	p.unfinishedReceivers.WithLabelValues(fmt.Sprintf("%d", prodindex)).Set(float64(n))
}

func (p *Prometheus) IncConnectedReceivers() { p.connectedReceivers.Inc() }
func (p *Prometheus) DecConnectedReceivers() { p.connectedReceivers.Dec() }
func (p *Prometheus) IncBytesTX(n int)       { p.bytesTX.Add(float64(n)) }
func (p *Prometheus) IncBytesRetx(n int)     { p.bytesRetx.Add(float64(n)) }
func (p *Prometheus) IncMACFailure()         { p.macFailures.Inc() }
func (p *Prometheus) IncProductsCompleted()  { p.productsCompleted.Inc() }
func (p *Prometheus) IncProductsTimedOut()   { p.productsTimedOut.Inc() }
func (p *Prometheus) IncGapRequests()        { p.gapRequests.Inc() }

// Noop discards every metric; used where no Stats is configured.
type Noop struct{}

func (Noop) Start(string)                     {}
func (Noop) SetRetentionSize(int)              {}
func (Noop) SetDelayQueueDepth(int)            {}
func (Noop) SetUnfinishedReceivers(uint32, int) {}
func (Noop) IncConnectedReceivers()            {}
func (Noop) DecConnectedReceivers()            {}
func (Noop) IncBytesTX(int)                    {}
func (Noop) IncBytesRetx(int)                  {}
func (Noop) IncMACFailure()                    {}
func (Noop) IncProductsCompleted()             {}
func (Noop) IncProductsTimedOut()              {}
func (Noop) IncGapRequests()                   {}

var _ Stats = Noop{}
