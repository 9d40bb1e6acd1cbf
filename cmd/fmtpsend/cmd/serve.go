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
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/sys/unix"

	"github.com/unidata/fmtp/fmtp/mac"
	"github.com/unidata/fmtp/fmtp/sender"
	"github.com/unidata/fmtp/fmtp/stats"
)

var (
	serveGroupFlag      string
	servePortFlag       int
	serveIfaceFlag      string
	serveTTLFlag        int
	serveListenFlag     string
	serveMaxPayloadFlag int
	serveRetxTimeout    time.Duration
	serveRateBps        int64
	serveConfigFlag     string
)

func init() {
	RootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveGroupFlag, "group", "", "multicast group to send to (required)")
	serveCmd.Flags().IntVar(&servePortFlag, "port", 6000, "multicast port")
	serveCmd.Flags().StringVar(&serveIfaceFlag, "iface", "", "outbound interface for multicast egress")
	serveCmd.Flags().IntVar(&serveTTLFlag, "ttl", 1, "multicast TTL")
	serveCmd.Flags().StringVar(&serveListenFlag, "listen", ":6001", "host:port the retransmission listener binds to")
	serveCmd.Flags().IntVar(&serveMaxPayloadFlag, "max-payload", 0, "MEM_DATA chunk size in bytes, 0 for the MTU-sized default")
	serveCmd.Flags().DurationVar(&serveRetxTimeout, "retx-timeout", 30*time.Second, "per-product retention timeout")
	serveCmd.Flags().Int64Var(&serveRateBps, "rate", 0, "sustained multicast egress rate in bits/sec, 0 for unlimited")
	serveCmd.Flags().StringVar(&serveConfigFlag, "config", "", "path to a YAML file of dynamic settings, overriding retx-timeout/rate")
	_ = serveCmd.MarkFlagRequired("group")
}

var serveCmd = &cobra.Command{
	Use:   "serve [files...]",
	Short: "Run the sender and transmit each named file as a product",
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()

		macMode, err := mac.ModeFromEnv()
		if err != nil {
			log.Fatal(err)
		}

		cfg := sender.Config{
			StaticConfig: sender.StaticConfig{
				Group:      net.ParseIP(serveGroupFlag),
				Port:       servePortFlag,
				Interface:  serveIfaceFlag,
				TTL:        serveTTLFlag,
				ListenAddr: serveListenFlag,
				MacMode:    macMode,
				MaxPayload: serveMaxPayloadFlag,
			},
			DynamicConfig: sender.DynamicConfig{
				RetxTimeoutPeriod: serveRetxTimeout,
				RateBps:           serveRateBps,
			},
		}
		if serveConfigFlag != "" {
			dc, err := sender.ReadDynamicConfig(serveConfigFlag)
			if err != nil {
				log.Fatal(err)
			}
			cfg.DynamicConfig = *dc
		}
		if cfg.Group == nil {
			log.Fatalf("invalid multicast group %q", serveGroupFlag)
		}

		st := stats.NewPrometheus()
		go st.Start(rootMetricsAddrFlag)

		s, err := sender.NewServer(cfg)
		if err != nil {
			log.Fatal(err)
		}
		s.Stats = st
		s.Notifier = logNotifier{}
		log.Infof("MAC mode %s, key published via handshake", macMode)

		serveRun(s, args)
	},
}

// logNotifier reports terminal product outcomes to the log, standing
// in for an application-supplied sender.ProductNotifier.
type logNotifier struct{}

func (logNotifier) OnProductComplete(prodIndex uint32) {
	log.Infof("product %d: delivered to every receiver", prodIndex)
}

func (logNotifier) OnProductTimedOut(prodIndex uint32, unfinished int) {
	log.Warnf("product %d: evicted by timeout with %d receiver(s) unfinished", prodIndex, unfinished)
}

func serveRun(s *sender.Server, files []string) {
	errCh := make(chan error, 1)
	go func() { errCh <- s.Start() }()

	select {
	case <-s.Ready():
	case err := <-errCh:
		log.Fatalf("sender failed to start: %v", err)
	}

	for _, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Errorf("reading %s: %v", path, err)
			continue
		}
		prodIndex, err := s.SendProduct(data, []byte(filepath.Base(path)))
		if err != nil {
			log.Errorf("sending %s: %v", path, err)
			continue
		}
		log.Infof("sent %s as product %d (%d bytes)", path, prodIndex, len(data))
	}

	sigStop := make(chan os.Signal, 1)
	signal.Notify(sigStop, unix.SIGINT, unix.SIGTERM)

	select {
	case <-sigStop:
		log.Warning("shutting down")
		s.Stop()
	case err := <-errCh:
		if err != nil {
			log.Fatalf("sender stopped: %v", err)
		}
	}
}
