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

package engine

import (
	"bytes"
	"context"
	"net/netip"
	"time"

	"github.com/alphadose/haxmap"
	"github.com/gchux/pcap-eve/pkg/logging"
	"github.com/segmentio/fasthash/fnv1a"
	"github.com/wissance/stringFormatter"
)

type (
	// FlowTable tracks flows by a direction-agnostic id.
	FlowTable struct {
		flows    *haxmap.Map[uint64, *Flow]
		deadline time.Duration
	}
)

const flowDeadline = 600 * time.Second /* 10m */

var engineLogger = logging.New("engine")

// NewFlowTable starts a reaper that drops flows idle for longer than deadline;
// it stops when ctx is done. A zero deadline disables reaping.
func NewFlowTable(ctx context.Context, deadline time.Duration) *FlowTable {
	ft := &FlowTable{
		flows:    haxmap.New[uint64, *Flow](),
		deadline: deadline,
	}
	if deadline > 0 {
		go ft.startReaper(ctx) // don't fear the reaper
	}
	return ft
}

func NewDefaultFlowTable(ctx context.Context) *FlowTable {
	return NewFlowTable(ctx, flowDeadline)
}

func (ft *FlowTable) startReaper(ctx context.Context) {
	// long running idle flows are dropped to reclaim memory
	ticker := time.NewTicker(ft.deadline)

	for {
		select {
		case <-ctx.Done():
			ticker.Stop()
			return
		case <-ticker.C:
			ft.flows.ForEach(func(flowID uint64, flow *Flow) bool {
				if !flow.mu.TryLock() {
					return true
				}
				idle := time.Since(flow.lastSeenAt)
				flow.mu.Unlock()
				if idle >= ft.deadline {
					ft.flows.Del(flowID)
					engineLogger.Debug(stringFormatter.Format("reaped flow '{0}' after {1}", flowID, idle))
				}
				return true
			})
		}
	}
}

// FlowID hashes the 5-tuple so that both directions share the same id.
func FlowID(proto uint8, a, b netip.AddrPort) uint64 {
	lo, hi := a, b
	if cmp := bytes.Compare(a.Addr().AsSlice(), b.Addr().AsSlice()); cmp > 0 ||
		(cmp == 0 && a.Port() > b.Port()) {
		lo, hi = b, a
	}

	flowID := fnv1a.AddUint64(fnv1a.Init64, uint64(proto))
	flowID = fnv1a.AddString64(flowID, lo.Addr().String())
	flowID = fnv1a.AddUint64(flowID, uint64(lo.Port()))
	flowID = fnv1a.AddString64(flowID, hi.Addr().String())
	flowID = fnv1a.AddUint64(flowID, uint64(hi.Port()))
	return flowID
}

func isServerReply(p *Packet) bool {
	// a SYN+ACK is sent by the server; its destination opened the flow
	return p.TCPFlags&(TCPFlagSYN|TCPFlagACK) == (TCPFlagSYN | TCPFlagACK)
}

// Track assigns the packet to its flow, creating the flow on first sight,
// sets the packet direction and feeds its payload into the flow state.
// Packets without a network layer are not tracked.
func (ft *FlowTable) Track(p *Packet) *Flow {
	if !p.HasIP() {
		return nil
	}

	src := netip.AddrPortFrom(p.SrcIP, p.SrcPort)
	dst := netip.AddrPortFrom(p.DstIP, p.DstPort)
	flowID := FlowID(p.Proto, src, dst)

	flow, _ := ft.flows.GetOrCompute(flowID, func() *Flow {
		client := src
		if p.IsTCP() && isServerReply(p) {
			client = dst
		}
		return NewFlow(flowID, client, p.Proto)
	})

	p.Flow = flow
	p.Direction = flow.DirectionOf(src)

	flow.observe(p)

	return flow
}

func (ft *FlowTable) Len() int {
	return int(ft.flows.Len())
}
