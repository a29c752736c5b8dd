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
	"fmt"
	"net/netip"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

type (
	Direction uint8

	Packet struct {
		Serial    uint64
		Timestamp time.Time

		// raw bytes as captured, starting at the link layer
		Data []byte
		// application layer bytes
		Payload []byte

		IPVersion uint8
		SrcIP     netip.Addr
		DstIP     netip.Addr
		Proto     uint8

		SrcPort uint16
		DstPort uint16

		TCPSeq   uint32
		TCPFlags uint8

		ICMPType uint8
		ICMPCode uint8

		Direction Direction
		Flow      *Flow

		// in detection order
		Alerts []PacketAlert
	}
)

const (
	ToServer Direction = iota
	ToClient
)

const (
	ProtoICMP   = uint8(layers.IPProtocolICMPv4)
	ProtoTCP    = uint8(layers.IPProtocolTCP)
	ProtoUDP    = uint8(layers.IPProtocolUDP)
	ProtoICMPv6 = uint8(layers.IPProtocolICMPv6)
)

const (
	TCPFlagFIN uint8 = 1 << iota
	TCPFlagSYN
	TCPFlagRST
	TCPFlagPSH
	TCPFlagACK
	TCPFlagURG
	TCPFlagECE
	TCPFlagCWR
)

var protoNames = map[uint8]string{
	ProtoICMP:   "ICMP",
	ProtoTCP:    "TCP",
	ProtoUDP:    "UDP",
	ProtoICMPv6: "IPv6-ICMP",
}

func (d Direction) Opposite() Direction {
	if d == ToServer {
		return ToClient
	}
	return ToServer
}

func (d Direction) String() string {
	if d == ToClient {
		return "to_client"
	}
	return "to_server"
}

func (p *Packet) HasIP() bool {
	return p.IPVersion == 4 || p.IPVersion == 6
}

func (p *Packet) IsTCP() bool {
	return p.HasIP() && p.Proto == ProtoTCP
}

func (p *Packet) IsICMP() bool {
	return p.HasIP() && (p.Proto == ProtoICMP || p.Proto == ProtoICMPv6)
}

func (p *Packet) HasPorts() bool {
	return p.HasIP() && (p.Proto == ProtoTCP || p.Proto == ProtoUDP)
}

// ProtoName returns the IANA name of the transport protocol, or its zero padded number.
func (p *Packet) ProtoName() string {
	if name, ok := protoNames[p.Proto]; ok {
		return name
	}
	return fmt.Sprintf("%03d", p.Proto)
}

func parseTCPflags(tcp *layers.TCP) uint8 {
	var setFlags uint8 = 0

	if tcp.FIN {
		setFlags |= TCPFlagFIN
	}
	if tcp.SYN {
		setFlags |= TCPFlagSYN
	}
	if tcp.RST {
		setFlags |= TCPFlagRST
	}
	if tcp.PSH {
		setFlags |= TCPFlagPSH
	}
	if tcp.ACK {
		setFlags |= TCPFlagACK
	}
	if tcp.URG {
		setFlags |= TCPFlagURG
	}
	if tcp.ECE {
		setFlags |= TCPFlagECE
	}
	if tcp.CWR {
		setFlags |= TCPFlagCWR
	}

	return setFlags
}

// Decode extracts the fields used by alert logging out of a `gopacket` packet.
// Packets without a network layer are returned with `IPVersion` 0.
func Decode(serial uint64, packet gopacket.Packet) *Packet {
	p := &Packet{
		Serial: serial,
		Data:   packet.Data(),
	}

	if metadata := packet.Metadata(); metadata != nil {
		p.Timestamp = metadata.Timestamp
	}

	if ipv4, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		p.IPVersion = 4
		p.SrcIP, _ = netip.AddrFromSlice(ipv4.SrcIP.To4())
		p.DstIP, _ = netip.AddrFromSlice(ipv4.DstIP.To4())
		p.Proto = uint8(ipv4.Protocol)
	} else if ipv6, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		p.IPVersion = 6
		p.SrcIP, _ = netip.AddrFromSlice(ipv6.SrcIP.To16())
		p.DstIP, _ = netip.AddrFromSlice(ipv6.DstIP.To16())
		p.Proto = uint8(ipv6.NextHeader)
	}

	switch transport := packet.TransportLayer().(type) {
	case *layers.TCP:
		p.Proto = ProtoTCP
		p.SrcPort = uint16(transport.SrcPort)
		p.DstPort = uint16(transport.DstPort)
		p.TCPSeq = transport.Seq
		p.TCPFlags = parseTCPflags(transport)
		p.Payload = transport.LayerPayload()
	case *layers.UDP:
		p.Proto = ProtoUDP
		p.SrcPort = uint16(transport.SrcPort)
		p.DstPort = uint16(transport.DstPort)
		p.Payload = transport.LayerPayload()
	}

	if icmp4, ok := packet.Layer(layers.LayerTypeICMPv4).(*layers.ICMPv4); ok {
		p.Proto = ProtoICMP
		p.ICMPType = icmp4.TypeCode.Type()
		p.ICMPCode = icmp4.TypeCode.Code()
		p.Payload = icmp4.LayerPayload()
	} else if icmp6, ok := packet.Layer(layers.LayerTypeICMPv6).(*layers.ICMPv6); ok {
		p.Proto = ProtoICMPv6
		p.ICMPType = icmp6.TypeCode.Type()
		p.ICMPCode = icmp6.TypeCode.Code()
		p.Payload = icmp6.LayerPayload()
	}

	return p
}
