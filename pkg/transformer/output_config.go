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
	"github.com/gchux/pcap-eve/pkg/config"
	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/gchux/pcap-eve/pkg/xff"
)

type (
	// OutputConfig selects which optional fields alert documents carry.
	// It is read-only once built and shared by value among all loggers.
	OutputConfig struct {
		// base64 encoded payload: `payload`
		Payload bool
		// sanitized payload: `payload_printable`
		PayloadPrintable bool
		// base64 encoded raw packet: `packet`
		Packet bool
		// HTTP metadata: `http`
		HTTP bool

		XFF        xff.Config
		EngineMode engine.Mode
	}
)

const (
	payloadKey          = "payload"
	payloadBase64Key    = "payload-base64"
	payloadPrintableKey = "payload-printable"
	packetKey           = "packet"
	httpKey             = "http"
)

// NewOutputConfig reads the alert output section; node must not be nil.
func NewOutputConfig(node config.Node, mode engine.Mode) OutputConfig {
	return OutputConfig{
		Payload:          node.ChildValueIsTrue(payloadKey) || node.ChildValueIsTrue(payloadBase64Key),
		PayloadPrintable: node.ChildValueIsTrue(payloadPrintableKey),
		Packet:           node.ChildValueIsTrue(packetKey),
		HTTP:             node.ChildValueIsTrue(httpKey),
		XFF:              xff.BuildConfig(node),
		EngineMode:       mode,
	}
}

func (c *OutputConfig) logsPayload() bool {
	return c.Payload || c.PayloadPrintable
}
