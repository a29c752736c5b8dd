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

package pcap

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"os"
	"time"

	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/gchux/pcap-eve/pkg/transformer"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	"github.com/pkg/errors"
	"github.com/wissance/stringFormatter"
)

type packetReader interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

var pcapngMagic = []byte{0x0a, 0x0d, 0x0d, 0x0a}

// openReader accepts both pcap and pcapng files.
func openReader(r io.Reader) (packetReader, error) {
	buffered := bufio.NewReader(r)

	magic, err := buffered.Peek(len(pcapngMagic))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read capture header")
	}

	if bytes.Equal(magic, pcapngMagic) {
		reader, err := pcapgo.NewNgReader(buffered, pcapgo.DefaultNgReaderOptions)
		if err != nil {
			return nil, errors.Wrap(err, "invalid pcapng file")
		}
		return reader, nil
	}

	reader, err := pcapgo.NewReader(buffered)
	if err != nil {
		return nil, errors.Wrap(err, "invalid pcap file")
	}
	return reader, nil
}

func (r *Replay) Start(ctx context.Context, fn transformer.IAlertTransformer) error {
	_, err := r.Run(ctx, fn)
	return err
}

// Run replays the capture file through fn and waits for every document to be written.
func (r *Replay) Run(ctx context.Context, fn transformer.IAlertTransformer) (*ReplayStats, error) {
	// atomically activate the replay
	if !r.isActive.CompareAndSwap(false, true) {
		return nil, errors.New("already started")
	}
	defer r.isActive.Store(false)

	cfg := *r.config

	f, err := os.Open(cfg.Path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open capture file")
	}
	defer f.Close()

	reader, err := openReader(f)
	if err != nil {
		return nil, err
	}

	id, _ := ctx.Value(PcapContextID).(string)
	loggerPrefix := stringFormatter.Format("[{0}/{1}]", id, reader.LinkType().String())

	// the flow table lives as long as the replay
	flowsCtx, cancelFlows := context.WithCancel(ctx)
	defer cancelFlows()
	flows := newFlowTable(flowsCtx, cfg.FlowDeadline)

	source := gopacket.NewPacketSource(reader, reader.LinkType())
	source.DecodeOptions = gopacket.DecodeOptions{
		Lazy:               false,
		NoCopy:             true,
		SkipDecodeRecovery: false,
	}

	pcapLogger.Infof("%s - replaying '%s' | alerts: %d", loggerPrefix, cfg.Path, r.alerts.Len())

	stats := &ReplayStats{}
	ts := time.Now()

	var replayErr error
	for serial := uint64(1); ; serial++ {
		if ctx.Err() != nil {
			replayErr = ctx.Err()
			pcapLogger.Warnf("%s - #:%d | replay interrupted", loggerPrefix, serial)
			break
		}

		packet, err := source.NextPacket()
		if err == io.EOF {
			break
		} else if err != nil {
			// truncated or corrupt records end the replay
			pcapLogger.Warnf("%s - #:%d | failed to read packet: %v", loggerPrefix, serial, err)
			break
		}
		stats.Packets++

		p := engine.Decode(serial, packet)
		if cfg.Filters != nil && !cfg.Filters.Allows(p) {
			stats.Filtered++
			continue
		}

		flows.Track(p)

		p.Alerts = r.alerts.For(serial)
		if len(p.Alerts) == 0 {
			continue
		}
		stats.Alerts += uint64(len(p.Alerts))

		if err := fn.Apply(ctx, p); err != nil {
			pcapLogger.Warnf("%s - #:%d | failed to apply alerts: %v", loggerPrefix, serial, err)
		}
	}

	stats.Flows = flows.Len()

	fn.WaitDone(ctx, cfg.StopTimeout)

	pcapLogger.Infof("%s - packets: %d | filtered: %d | alerts: %d | flows: %d | latency: %v",
		loggerPrefix, stats.Packets, stats.Filtered, stats.Alerts, stats.Flows, time.Since(ts))

	return stats, replayErr
}
