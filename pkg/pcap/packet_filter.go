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
	"bytes"
	"net/netip"
	"strings"

	mapset "github.com/deckarep/golang-set/v2"
	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/google/btree"
	"github.com/pkg/errors"
)

type (
	TCPFlag string

	L4Proto uint8

	pcapL3Filters struct {
		// filter IPs in O(log N)
		networks4 *btree.BTreeG[netip.Prefix]
		networks6 *btree.BTreeG[netip.Prefix]
	}

	pcapL4Filters struct {
		// filter ports and flags in O(1)
		ports  mapset.Set[uint16]
		flags  uint8
		protos mapset.Set[uint8]
	}

	pcapFilters struct {
		l3 *pcapL3Filters
		l4 *pcapL4Filters
	}

	// PcapFilters decides which replayed packets reach flow tracking and alert logging.
	// Every dimension without entries allows all packets.
	PcapFilters interface {
		HasIPs() bool
		HasL4Protos() bool
		HasTCPflags() bool
		HasL4Addrs() bool

		AllowsIP(*netip.Addr) bool
		AllowsL4Proto(*uint8) bool
		AllowsL4Addr(*uint16) bool
		AllowsAnyL4Addr(...uint16) bool
		AllowsAnyTCPflags(*uint8) bool

		Allows(*engine.Packet) bool
	}
)

const (
	TCP_FLAG_SYN = TCPFlag("SYN")
	TCP_FLAG_ACK = TCPFlag("ACK")
	TCP_FLAG_PSH = TCPFlag("PSH")
	TCP_FLAG_FIN = TCPFlag("FIN")
	TCP_FLAG_RST = TCPFlag("RST")
	TCP_FLAG_URG = TCPFlag("URG")
	TCP_FLAG_ECE = TCPFlag("ECE")
	TCP_FLAG_CWR = TCPFlag("CWR")

	L4_PROTO_TCP   = L4Proto(engine.ProtoTCP)
	L4_PROTO_UDP   = L4Proto(engine.ProtoUDP)
	L4_PROTO_ICMP  = L4Proto(engine.ProtoICMP)
	L4_PROTO_ICMP4 = L4_PROTO_ICMP
	L4_PROTO_ICMP6 = L4Proto(engine.ProtoICMPv6)

	tcpFlagNil = uint8(0)
)

var tcpFlags = map[string]uint8{
	"FIN": engine.TCPFlagFIN,
	"SYN": engine.TCPFlagSYN,
	"RST": engine.TCPFlagRST,
	"PSH": engine.TCPFlagPSH,
	"ACK": engine.TCPFlagACK,
	"URG": engine.TCPFlagURG,
	"ECE": engine.TCPFlagECE,
	"CWR": engine.TCPFlagCWR,
}

var l4Protos = map[string]L4Proto{
	"tcp":   L4_PROTO_TCP,
	"udp":   L4_PROTO_UDP,
	"icmp":  L4_PROTO_ICMP4,
	"icmp4": L4_PROTO_ICMP4,
	"icmp6": L4_PROTO_ICMP6,
}

func (flag TCPFlag) materialize() uint8 {
	if f, ok := tcpFlags[strings.ToUpper(string(flag))]; ok {
		return f
	}
	return tcpFlagNil
}

func ParseL4Proto(proto string) (L4Proto, error) {
	if p, ok := l4Protos[strings.ToLower(proto)]; ok {
		return p, nil
	}
	return 0, errors.Errorf("unknown protocol: %s", proto)
}

func ParseTCPFlag(flag string) (TCPFlag, error) {
	f := TCPFlag(flag)
	if f.materialize() == tcpFlagNil {
		return "", errors.Errorf("unknown TCP flag: %s", flag)
	}
	return f, nil
}

func (f *pcapFilters) addNetwork(
	networks *btree.BTreeG[netip.Prefix],
	isIPv6 bool, ipRange string,
) error {
	prefix, err := netip.ParsePrefix(ipRange)
	if err != nil {
		return errors.Wrap(err, "invalid network")
	}
	if isIPv6 != prefix.Addr().Is6() {
		return errors.Errorf("unexpected address family: %s", ipRange)
	}
	networks.ReplaceOrInsert(prefix.Masked())
	return nil
}

// AddNetworks accepts IPv4 and IPv6 CIDRs; single addresses are taken as host routes.
func (f *pcapFilters) AddNetworks(ipRanges ...string) error {
	for _, ipRange := range ipRanges {
		if !strings.Contains(ipRange, "/") {
			addr, err := netip.ParseAddr(ipRange)
			if err != nil {
				return errors.Wrap(err, "invalid address")
			}
			ipRange = netip.PrefixFrom(addr, addr.BitLen()).String()
		}
		isIPv6 := strings.Contains(ipRange, ":")
		networks := f.l3.networks4
		if isIPv6 {
			networks = f.l3.networks6
		}
		if err := f.addNetwork(networks, isIPv6, ipRange); err != nil {
			return err
		}
	}
	return nil
}

func (f *pcapFilters) AddPorts(ports ...uint16) {
	f.l4.ports.Append(ports...)
}

func (f *pcapFilters) AddTCPFlags(flags ...TCPFlag) {
	for _, flag := range flags {
		f.l4.flags |= flag.materialize()
	}
}

func (f *pcapFilters) AddL4Protos(protos ...L4Proto) {
	for _, proto := range protos {
		f.l4.protos.Add(uint8(proto))
	}
}

func (f *pcapFilters) HasIPv4s() bool {
	return f.l3.networks4.Len() > 0
}

func (f *pcapFilters) HasIPv6s() bool {
	return f.l3.networks6.Len() > 0
}

func (f *pcapFilters) HasIPs() bool {
	return f.HasIPv4s() || f.HasIPv6s()
}

func (f *pcapFilters) allowsIPaddr(
	networks *btree.BTreeG[netip.Prefix],
	network *netip.Prefix,
) bool {
	// overlapping prefixes compare as equal; see `ipLessThanFunc`
	return networks.Has(*network)
}

func (f *pcapFilters) AllowsIPv4Addr(ip4 *netip.Addr) bool {
	prefix := netip.PrefixFrom(*ip4, 32)
	return f.allowsIPaddr(f.l3.networks4, &prefix)
}

func (f *pcapFilters) AllowsIPv6Addr(ip6 *netip.Addr) bool {
	prefix := netip.PrefixFrom(*ip6, 128)
	return f.allowsIPaddr(f.l3.networks6, &prefix)
}

func (f *pcapFilters) AllowsIP(ip *netip.Addr) bool {
	if ip.Is4() {
		return f.AllowsIPv4Addr(ip)
	}
	return f.AllowsIPv6Addr(ip)
}

func (f *pcapFilters) HasL4Protos() bool {
	return !f.l4.protos.IsEmpty()
}

func (f *pcapFilters) AllowsL4Proto(proto *uint8) bool {
	return f.l4.protos.Contains(*proto)
}

func (f *pcapFilters) HasL4Addrs() bool {
	return !f.l4.ports.IsEmpty()
}

func (f *pcapFilters) AllowsL4Addr(port *uint16) bool {
	return f.l4.ports.Contains(*port)
}

func (f *pcapFilters) AllowsAnyL4Addr(ports ...uint16) bool {
	return f.l4.ports.ContainsAny(ports...)
}

func (f *pcapFilters) HasTCPflags() bool {
	return f.l4.flags > tcpFlagNil
}

func (f *pcapFilters) AllowsAnyTCPflags(flags *uint8) bool {
	return (*flags & f.l4.flags) > 0
}

// Allows applies every configured dimension to p.
// Packets without IP addressing are only allowed when no filter is set.
func (f *pcapFilters) Allows(p *engine.Packet) bool {
	if !p.HasIP() {
		return !f.HasIPs() && !f.HasL4Protos() && !f.HasL4Addrs() && !f.HasTCPflags()
	}

	if f.HasIPs() && !f.AllowsIP(&p.SrcIP) && !f.AllowsIP(&p.DstIP) {
		return false
	}

	if f.HasL4Protos() && !f.AllowsL4Proto(&p.Proto) {
		return false
	}

	if f.HasL4Addrs() && (!p.HasPorts() || !f.AllowsAnyL4Addr(p.SrcPort, p.DstPort)) {
		return false
	}

	// TCP flags only constrain TCP packets
	if f.HasTCPflags() && p.IsTCP() && !f.AllowsAnyTCPflags(&p.TCPFlags) {
		return false
	}

	return true
}

func ipLessThanFunc(a, b netip.Prefix) bool {
	if a.Overlaps(b) {
		return false
	}
	return bytes.Compare(a.Addr().AsSlice(), b.Addr().AsSlice()) < 0
}

func NewPcapFilters() *pcapFilters {
	return &pcapFilters{
		l3: &pcapL3Filters{
			networks4: btree.NewG[netip.Prefix](2, ipLessThanFunc),
			networks6: btree.NewG[netip.Prefix](2, ipLessThanFunc),
		},
		l4: &pcapL4Filters{
			ports:  mapset.NewSet[uint16](),
			flags:  tcpFlagNil,
			protos: mapset.NewSet[uint8](),
		},
	}
}
