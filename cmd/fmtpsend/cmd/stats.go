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

package cmd

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/olekukonko/tablewriter"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

// wantedMetrics is the subset of fmtp_* Prometheus gauges/counters shown
// by the stats subcommand, in display order.
var wantedMetrics = []struct {
	name  string
	label string
}{
	{"fmtp_retention_table_size", "retained products"},
	{"fmtp_delay_queue_depth", "delay queue depth"},
	{"fmtp_connected_receivers", "connected receivers"},
	{"fmtp_bytes_tx_total", "bytes sent"},
	{"fmtp_bytes_retx_total", "bytes retransmitted"},
	{"fmtp_mac_failures_total", "MAC failures"},
	{"fmtp_products_completed_total", "products completed"},
	{"fmtp_products_timed_out_total", "products timed out"},
}

func init() {
	RootCmd.AddCommand(statsCmd)
}

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print sender metrics fetched from --metrics-addr",
	Run: func(_ *cobra.Command, _ []string) {
		ConfigureVerbosity()

		values, err := fetchMetrics(rootMetricsAddrFlag)
		if err != nil {
			log.Fatal(err)
		}
		printMetrics(values)
	},
}

// fetchMetrics GETs the Prometheus text exposition format from a
// running sender's /metrics endpoint and picks out bare counter/gauge
// values (no label matching; none of wantedMetrics carry labels).
func fetchMetrics(addr string) (map[string]float64, error) {
	c := http.Client{Timeout: 2 * time.Second}
	resp, err := c.Get(fmt.Sprintf("http://%s/metrics", addr))
	if err != nil {
		return nil, fmt.Errorf("fetching metrics from %s: %w", addr, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading metrics response: %w", err)
	}

	values := make(map[string]float64)
	for _, line := range strings.Split(string(body), "\n") {
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Fields(line)
		if len(fields) != 2 {
			continue
		}
		v, err := strconv.ParseFloat(fields[1], 64)
		if err != nil {
			continue
		}
		values[fields[0]] = v
	}
	return values, nil
}

func printMetrics(values map[string]float64) {
	table := tablewriter.NewWriter(os.Stdout)
	table.SetHeader([]string{"metric", "value"})

	warn := color.New(color.FgYellow).SprintFunc()
	for _, m := range wantedMetrics {
		v, ok := values[m.name]
		val := fmt.Sprintf("%g", v)
		if !ok {
			val = warn("unavailable")
		} else if strings.Contains(m.label, "timed out") && v > 0 {
			val = warn(val)
		}
		table.Append([]string{m.label, val})
	}
	table.Render()
}
