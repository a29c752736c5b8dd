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
	"context"
	"sync/atomic"
	"time"

	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/gchux/pcap-eve/pkg/logging"
	"github.com/gchux/pcap-eve/pkg/transformer"
)

type (
	PcapConfig struct {
		// pcap or pcapng file to replay
		Path string
		// YAML file describing the alerts raised on each packet
		Alerts string
		// packets not allowed by `Filters` are neither tracked nor logged
		Filters PcapFilters
		// how long to wait for pending documents once the file is exhausted
		StopTimeout time.Duration
		// idle flows are dropped after this long; zero keeps every flow
		FlowDeadline time.Duration
	}

	PcapEngine interface {
		Start(context.Context, transformer.IAlertTransformer) error
		IsActive() bool
	}

	Replay struct {
		config   *PcapConfig
		isActive *atomic.Bool
		alerts   *AlertBook
	}

	// ReplayStats summarizes one run of the replay engine.
	ReplayStats struct {
		Packets  uint64
		Filtered uint64
		Alerts   uint64
		Flows    int
	}
)

const (
	PcapContextID = transformer.ContextID

	defaultStopTimeout = 5 * time.Second
)

var pcapLogger = logging.New("pcap")

func (r *Replay) IsActive() bool {
	return r.isActive.Load()
}

// NewReplay loads the alerts file eagerly so that fixture errors surface before any packet is read.
func NewReplay(config *PcapConfig) (*Replay, error) {
	var isActive atomic.Bool
	isActive.Store(false)

	if config.StopTimeout <= 0 {
		config.StopTimeout = defaultStopTimeout
	}

	alerts := NewAlertBook()
	if config.Alerts != "" {
		var err error
		if alerts, err = LoadAlertBook(config.Alerts); err != nil {
			return nil, err
		}
	}

	return &Replay{
		config:   config,
		isActive: &isActive,
		alerts:   alerts,
	}, nil
}

func newFlowTable(ctx context.Context, deadline time.Duration) *engine.FlowTable {
	if deadline < 0 {
		deadline = 0
	}
	return engine.NewFlowTable(ctx, deadline)
}
