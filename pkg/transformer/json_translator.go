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
	"bytes"

	"github.com/Jeffail/gabs/v2"
	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/gchux/pcap-eve/pkg/xff"
	"github.com/pkg/errors"
)

type (
	// JSONAlertTranslator turns packet alerts into EVE documents.
	// It holds no mutable state and may be shared by all loggers.
	JSONAlertTranslator struct {
		cfg *OutputConfig
	}

	// alertView is what one alert reads from its flow.
	// It is captured before the next packet of the flow is tracked.
	alertView struct {
		tx     *engine.HTTPTransaction
		stream []byte
		xff    string
		hasXFF bool
	}
)

const (
	actionAllowed = "allowed"
	actionBlocked = "blocked"

	eventTypeAlert = "alert"

	fieldTimestamp        = "timestamp"
	fieldFlowID           = "flow_id"
	fieldEventType        = "event_type"
	fieldSrcIP            = "src_ip"
	fieldSrcPort          = "src_port"
	fieldDestIP           = "dest_ip"
	fieldDestPort         = "dest_port"
	fieldProto            = "proto"
	fieldICMPType         = "icmp_type"
	fieldICMPCode         = "icmp_code"
	fieldAlert            = "alert"
	fieldHTTP             = "http"
	fieldPayload          = "payload"
	fieldPayloadPrintable = "payload_printable"
	fieldStream           = "stream"
	fieldPacket           = "packet"
	fieldXFF              = "xff"
)

// fields added by `translateAlert`; removed before the next alert of the same packet
var perAlertFields = []string{
	fieldAlert,
	fieldHTTP,
	fieldPayload,
	fieldPayloadPrintable,
	fieldStream,
	fieldPacket,
	fieldXFF,
}

var errMissingSignature = errors.New("alert has no signature")

func newJSONAlertTranslator(cfg *OutputConfig) *JSONAlertTranslator {
	return &JSONAlertTranslator{cfg: cfg}
}

func withFlowReadLock(flow *engine.Flow, fn func()) {
	flow.RLock()
	defer flow.RUnlock()
	fn()
}

func (t *JSONAlertTranslator) action(pa *engine.PacketAlert) string {
	if pa.IsBlocked(t.cfg.EngineMode) {
		return actionBlocked
	}
	return actionAllowed
}

func (t *JSONAlertTranslator) setAddresses(json *gabs.Container, p *engine.Packet) {
	json.Set(p.SrcIP.String(), fieldSrcIP)
	json.Set(p.DstIP.String(), fieldDestIP)
}

// header builds the fields shared by every alert of an IP packet.
func (t *JSONAlertTranslator) header(p *engine.Packet) *gabs.Container {
	json := gabs.New()

	json.Set(formatTimestamp(p.Timestamp), fieldTimestamp)
	if p.Flow != nil {
		json.Set(p.Flow.ID, fieldFlowID)
	}
	json.Set(eventTypeAlert, fieldEventType)

	t.setAddresses(json, p)
	if p.HasPorts() {
		json.Set(p.SrcPort, fieldSrcPort)
		json.Set(p.DstPort, fieldDestPort)
	}
	json.Set(p.ProtoName(), fieldProto)

	if p.IsICMP() {
		json.Set(p.ICMPType, fieldICMPType)
		json.Set(p.ICMPCode, fieldICMPCode)
	}

	return json
}

// clearAlert restores the header after an alert was serialized.
func (t *JSONAlertTranslator) clearAlert(json *gabs.Container, p *engine.Packet) {
	for _, field := range perAlertFields {
		// missing fields are not an error here
		_ = json.Delete(field)
	}
	// `overwrite` mode may have replaced an address
	t.setAddresses(json, p)
}

func (t *JSONAlertTranslator) translateAlertObject(
	json *gabs.Container,
	pa *engine.PacketAlert,
	withTx bool,
) error {
	sig := pa.Signature
	if sig == nil {
		return errMissingSignature
	}

	alert, err := json.Object(fieldAlert)
	if err != nil {
		return errors.Wrap(err, "failed to create alert object")
	}

	alert.Set(t.action(pa), "action")
	alert.Set(sig.GID, "gid")
	alert.Set(sig.ID, "signature_id")
	alert.Set(sig.Rev, "rev")
	alert.Set(sig.Msg, "signature")
	alert.Set(sig.ClassMsg, "category")
	alert.Set(sig.Prio, "severity")

	if withTx && pa.HasTx() {
		alert.Set(pa.TxID, "tx_id")
	}

	return nil
}

func (t *JSONAlertTranslator) translateHTTP(json *gabs.Container, tx *engine.HTTPTransaction) error {
	L7, err := json.Object(fieldHTTP)
	if err != nil {
		return errors.Wrap(err, "failed to create http object")
	}

	if tx.Hostname != "" {
		L7.Set(tx.Hostname, "hostname")
	}
	L7.Set(tx.URI, "url")
	if tx.UserAgent != "" {
		L7.Set(tx.UserAgent, "http_user_agent")
	}

	if tx.ContentType != "" {
		L7.Set(tx.ContentType, "http_content_type")
	}
	if tx.Referer != "" {
		L7.Set(tx.Referer, "http_refer")
	}
	L7.Set(tx.Method, "http_method")
	L7.Set(tx.Protocol, "protocol")
	if tx.HasResponse {
		L7.Set(tx.Status, "status")
		if tx.Location != "" {
			L7.Set(tx.Location, "redirect")
		}
	}
	if tx.Length >= 0 {
		L7.Set(tx.Length, "length")
	} else {
		L7.Set(0, "length")
	}

	return nil
}

// capture copies the flow state read by each alert of p; the result is aligned with `p.Alerts`.
func (t *JSONAlertTranslator) capture(p *engine.Packet) []alertView {
	if p == nil || p.Flow == nil || !p.HasIP() || len(p.Alerts) == 0 {
		return nil
	}

	views := make([]alertView, len(p.Alerts))

	withFlowReadLock(p.Flow, func() {
		isHTTP := p.Flow.AppProto() == engine.AppProtoHTTP

		var tx *engine.HTTPTransaction
		if t.cfg.HTTP && isHTTP {
			if current, ok := p.Flow.HTTP().Transaction(p.Flow.LogTxID()); ok {
				// later responses update the transaction in place
				snapshot := *current
				tx = &snapshot
			}
		}

		for i := range p.Alerts {
			pa := &p.Alerts[i]
			view := &views[i]
			view.tx = tx

			if t.cfg.logsPayload() && p.IsTCP() && pa.IsStreamMatch() {
				// the alerted side is the one opposite to this packet
				buffer := bytes.NewBuffer(make([]byte, 0, streamBufferSize))
				gatherStream(p.Flow, p.Direction.Opposite(), buffer)
				view.stream = buffer.Bytes()
			}

			if t.cfg.XFF.Enabled() && isHTTP {
				selector := xff.ScanAll
				if pa.HasTx() {
					selector = xff.ByTx(pa.TxID)
				}
				view.xff, view.hasXFF = xff.Resolve(p.Flow.HTTP(), t.cfg.XFF.Header, selector)
			}
		}
	})

	return views
}

func (t *JSONAlertTranslator) addPayload(json *gabs.Container, p *engine.Packet, pa *engine.PacketAlert, view *alertView) {
	stream := p.IsTCP() && pa.IsStreamMatch()

	data := p.Payload
	if stream {
		data = view.stream
	}

	if t.cfg.Payload {
		json.Set(encodeBase64(data), fieldPayload)
	}
	if t.cfg.PayloadPrintable {
		json.Set(printable(data), fieldPayloadPrintable)
	}

	if stream {
		json.Set(1, fieldStream)
	} else {
		json.Set(0, fieldStream)
	}
}

func (t *JSONAlertTranslator) addXFF(json *gabs.Container, p *engine.Packet, address string) {
	switch t.cfg.XFF.Mode {
	case xff.ExtraData:
		json.Set(address, fieldXFF)
	case xff.Overwrite:
		// when travelling towards the client, the client is the destination
		if p.Direction == engine.ToClient {
			json.Set(address, fieldDestIP)
		} else {
			json.Set(address, fieldSrcIP)
		}
	default:
		return
	}

	XFFResolved.WithLabelValues(t.cfg.XFF.Mode.String()).Inc()
}

// translateAlert adds the fields of one alert to the packet header in json.
func (t *JSONAlertTranslator) translateAlert(
	json *gabs.Container,
	p *engine.Packet,
	pa *engine.PacketAlert,
	view *alertView,
) error {
	if err := t.translateAlertObject(json, pa, true /* withTx */); err != nil {
		return err
	}

	if t.cfg.HTTP && view.tx != nil {
		if err := t.translateHTTP(json, view.tx); err != nil {
			return err
		}
	}

	if t.cfg.logsPayload() {
		t.addPayload(json, p, pa, view)
	}

	if t.cfg.Packet {
		json.Set(encodeBase64(p.Data), fieldPacket)
	}

	if t.cfg.XFF.Enabled() && view.hasXFF {
		t.addXFF(json, p, view.xff)
	}

	return nil
}

// translateDecoderEvent builds the reduced document of an alert on a packet without IP addressing.
func (t *JSONAlertTranslator) translateDecoderEvent(p *engine.Packet, pa *engine.PacketAlert) (*gabs.Container, error) {
	json := gabs.New()
	json.Set(formatTimestamp(p.Timestamp), fieldTimestamp)
	if err := t.translateAlertObject(json, pa, false /* withTx */); err != nil {
		return nil, err
	}
	return json, nil
}
