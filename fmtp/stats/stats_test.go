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

package stats

import (
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusCountersExport(t *testing.T) {
	p := NewPrometheus()
	p.SetRetentionSize(3)
	p.SetDelayQueueDepth(2)
	p.SetUnfinishedReceivers(42, 1)
	p.IncConnectedReceivers()
	p.IncBytesTX(100)
	p.IncBytesRetx(50)
	p.IncMACFailure()
	p.IncProductsCompleted()
	p.IncProductsTimedOut()
	p.IncGapRequests()

	rr := httptest.NewRecorder()
	req := httptest.NewRequest("GET", "/metrics", nil)
	promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{}).ServeHTTP(rr, req)
	require.Equal(t, 200, rr.Code)

	body := rr.Body.String()
	assert.Contains(t, body, "fmtp_retention_table_size 3")
	assert.Contains(t, body, "fmtp_mac_failures_total 1")
	assert.Contains(t, body, `fmtp_unfinished_receivers{prodindex="42"} 1`)
}

var _ Stats = (*Prometheus)(nil)
