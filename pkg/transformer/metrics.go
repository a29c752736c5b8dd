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

package transformer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	eventAlert        = "alert"
	eventDecoderEvent = "decoder_event"

	skipNoSignature = "no_signature"
	skipBuildFailed = "build_failed"
	skipWriteFailed = "write_failed"
)

var (
	PacketsApplied = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pcap_eve_packets_applied_total",
			Help: "Total number of packets handed to the alert transformer",
		},
	)

	DocumentsWritten = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcap_eve_documents_written_total",
			Help: "Total number of alert documents written to the sink",
		},
		[]string{"event"},
	)

	AlertsSkipped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcap_eve_alerts_skipped_total",
			Help: "Total number of alerts that did not produce a document",
		},
		[]string{"reason"},
	)

	XFFResolved = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pcap_eve_xff_resolved_total",
			Help: "Total number of alerts enriched with a forwarded-for address",
		},
		[]string{"mode"},
	)
)
