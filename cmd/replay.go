// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gchux/pcap-eve/pkg/pcap"
	"github.com/gchux/pcap-eve/pkg/transformer"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/wissance/stringFormatter"
)

var (
	capturePath  string
	alertsPath   string
	timeout      time.Duration
	stopTimeout  time.Duration
	flowDeadline time.Duration
	networks     []string
	ports        []uint
	protos       []string
	tcpFlags     []string
)

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a capture file and write its alerts",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		filters, err := newPcapFilters()
		if err != nil {
			return err
		}

		outputConfig, err := newOutputConfig(cfg)
		if err != nil {
			return err
		}

		replay, err := pcap.NewReplay(&pcap.PcapConfig{
			Path:         capturePath,
			Alerts:       alertsPath,
			Filters:      filters,
			StopTimeout:  stopTimeout,
			FlowDeadline: flowDeadline,
		})
		if err != nil {
			return err
		}

		sink, err := newOutputWriter(cfg)
		if err != nil {
			return err
		}
		defer sink.Close()

		id := stringFormatter.Format("cli/{0}", uuid.New().String())
		ctx := context.WithValue(context.Background(), pcap.PcapContextID, id)

		var cancel context.CancelFunc
		if timeout > 0 {
			ctx, cancel = context.WithTimeout(ctx, timeout)
		} else {
			ctx, cancel = context.WithCancel(ctx)
		}
		defer cancel()

		signals := make(chan os.Signal, 1)
		signal.Notify(signals, os.Interrupt, syscall.SIGTERM)
		defer signal.Stop(signals)
		go func() {
			select {
			case <-signals:
				cancel()
			case <-ctx.Done():
			}
		}()

		stopMetrics, err := startMetricsServer(cfg.Metrics.Listen)
		if err != nil {
			return err
		}
		defer stopMetrics()

		fn, err := transformer.NewTransformer(ctx, sink, transformer.Options{
			Workers: cfg.EveLog.Workers,
			Ordered: cfg.EveLog.Ordered,
			Output:  outputConfig,
		})
		if err != nil {
			return err
		}

		stats, err := replay.Run(ctx, fn)
		if stats != nil {
			logger.Infof("[%s] packets: %d | alerts: %d | flows: %d", id, stats.Packets, stats.Alerts, stats.Flows)
		}
		return handleError(stringFormatter.Format("[{0}]", id), err)
	},
}

func newPcapFilters() (pcap.PcapFilters, error) {
	if len(networks) == 0 && len(ports) == 0 && len(protos) == 0 && len(tcpFlags) == 0 {
		return nil, nil
	}

	filters := pcap.NewPcapFilters()

	if err := filters.AddNetworks(networks...); err != nil {
		return nil, err
	}

	for _, port := range ports {
		if port > 0xffff {
			return nil, errors.Errorf("invalid port: %d", port)
		}
		filters.AddPorts(uint16(port))
	}

	for _, name := range protos {
		proto, err := pcap.ParseL4Proto(name)
		if err != nil {
			return nil, err
		}
		filters.AddL4Protos(proto)
	}

	for _, name := range tcpFlags {
		flag, err := pcap.ParseTCPFlag(name)
		if err != nil {
			return nil, err
		}
		filters.AddTCPFlags(flag)
	}

	return filters, nil
}

func init() {
	flags := replayCmd.Flags()

	flags.StringVarP(&capturePath, "read", "r", "", "pcap or pcapng file to replay")
	flags.StringVarP(&alertsPath, "alerts", "a", "", "YAML file with the alerts raised on each packet")
	flags.DurationVarP(&timeout, "timeout", "t", 0, "Stop replaying after this long")
	flags.DurationVar(&stopTimeout, "stop-timeout", 5*time.Second, "How long to wait for pending records on exit")
	flags.DurationVar(&flowDeadline, "flow-timeout", 0, "Drop flows idle for longer than this")
	flags.StringSliceVar(&networks, "net", nil, "Only replay packets from or to these networks")
	flags.UintSliceVar(&ports, "port", nil, "Only replay packets from or to these ports")
	flags.StringSliceVar(&protos, "proto", nil, "Only replay these protocols: tcp, udp, icmp4, icmp6")
	flags.StringSliceVar(&tcpFlags, "tcp-flags", nil, "Only replay TCP segments with any of these flags")

	_ = replayCmd.MarkFlagRequired("read")

	rootCmd.AddCommand(replayCmd)
}
