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
	"net/netip"
	"strconv"
	"testing"

	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPcapFilters(t *testing.T) *pcapFilters {
	t.Helper()

	filters := NewPcapFilters()

	require.NoError(t, filters.AddNetworks("169.254.0.0/16", "127.0.0.1", "::1/128"))

	filters.AddL4Protos(L4_PROTO_TCP, L4_PROTO_UDP, L4_PROTO_ICMP4, L4_PROTO_ICMP6)
	filters.AddTCPFlags(TCP_FLAG_SYN, TCP_FLAG_FIN, TCP_FLAG_RST)
	filters.AddPorts(8022)

	return filters
}

func TestAllowIPv6Filter(t *testing.T) {
	filters := newPcapFilters(t)

	srcIPv6 := netip.MustParseAddr("::1")
	srcPort := uint16(8022)
	tcpFlags := engine.TCPFlagRST

	t.Run("must-allow-IPv6", func(t *testing.T) {
		assert.Truef(t, filters.AllowsIP(&srcIPv6), "must allow: %s", srcIPv6)
	})

	t.Run("must-allow-TCP-port", func(t *testing.T) {
		assert.Truef(t, filters.AllowsL4Addr(&srcPort), "must allow TCP port: %d", srcPort)
	})

	t.Run("must-allow-RST-TCP-flag", func(t *testing.T) {
		assert.Truef(t, filters.AllowsAnyTCPflags(&tcpFlags),
			"must allow TCP flag: 0b%s", strconv.FormatUint(uint64(tcpFlags), 2))
	})
}

func TestRejectIPv6Filter(t *testing.T) {
	filters := newPcapFilters(t)

	srcIPv6 := netip.MustParseAddr("fddf:3978:feb1:d745::c001")
	srcPort := uint16(52552)
	dstIPv6 := netip.MustParseAddr("2607:f8b0:4001:c08::cf")
	dstPort := uint16(443)
	tcpFlags := engine.TCPFlagACK

	t.Run("must-reject-IPv6", func(t *testing.T) {
		assert.False(t, filters.AllowsIP(&srcIPv6))
		assert.False(t, filters.AllowsIP(&dstIPv6))
	})

	t.Run("must-reject-TCP-ports", func(t *testing.T) {
		assert.False(t, filters.AllowsL4Addr(&srcPort))
		assert.False(t, filters.AllowsL4Addr(&dstPort))
	})

	t.Run("must-reject-ACK-TCP-flag", func(t *testing.T) {
		assert.False(t, filters.AllowsAnyTCPflags(&tcpFlags))
	})
}

func TestIPv4Networks(t *testing.T) {
	filters := newPcapFilters(t)

	for _, addr := range []string{"169.254.0.1", "169.254.169.254", "127.0.0.1"} {
		ip := netip.MustParseAddr(addr)
		assert.Truef(t, filters.AllowsIP(&ip), "must allow: %s", addr)
	}
	for _, addr := range []string{"127.0.0.2", "10.0.0.1", "169.255.0.1"} {
		ip := netip.MustParseAddr(addr)
		assert.Falsef(t, filters.AllowsIP(&ip), "must reject: %s", addr)
	}

	assert.Error(t, filters.AddNetworks("not-a-network"))
	assert.Error(t, filters.AddNetworks("10.0.0.0/33"))
}

func TestAllowsPacket(t *testing.T) {
	packet := func(src, dst string, sport, dport uint16, flags uint8) *engine.Packet {
		return &engine.Packet{
			IPVersion: 4,
			SrcIP:     netip.MustParseAddr(src),
			DstIP:     netip.MustParseAddr(dst),
			Proto:     engine.ProtoTCP,
			SrcPort:   sport,
			DstPort:   dport,
			TCPFlags:  flags,
		}
	}

	t.Run("empty-filters-allow-everything", func(t *testing.T) {
		filters := NewPcapFilters()
		assert.True(t, filters.Allows(packet("10.0.0.1", "10.0.0.2", 1, 2, 0)))
		assert.True(t, filters.Allows(&engine.Packet{}))
	})

	t.Run("either-endpoint-matches", func(t *testing.T) {
		filters := NewPcapFilters()
		require.NoError(t, filters.AddNetworks("192.0.2.0/24"))
		filters.AddPorts(80)

		assert.True(t, filters.Allows(packet("192.0.2.1", "198.51.100.2", 40000, 80, 0)))
		assert.True(t, filters.Allows(packet("198.51.100.2", "192.0.2.1", 80, 40000, 0)))
		assert.False(t, filters.Allows(packet("198.51.100.2", "203.0.113.1", 80, 40000, 0)))
		assert.False(t, filters.Allows(packet("192.0.2.1", "198.51.100.2", 40000, 443, 0)))
		// non-IP packets cannot satisfy network filters
		assert.False(t, filters.Allows(&engine.Packet{}))
	})

	t.Run("protocols-and-flags", func(t *testing.T) {
		filters := NewPcapFilters()
		udp, err := ParseL4Proto("UDP")
		require.NoError(t, err)
		filters.AddL4Protos(L4_PROTO_TCP, udp)

		syn, err := ParseTCPFlag("syn")
		require.NoError(t, err)
		filters.AddTCPFlags(syn)

		assert.True(t, filters.Allows(packet("10.0.0.1", "10.0.0.2", 1, 2, engine.TCPFlagSYN)))
		assert.False(t, filters.Allows(packet("10.0.0.1", "10.0.0.2", 1, 2, engine.TCPFlagACK)))

		datagram := packet("10.0.0.1", "10.0.0.2", 53, 53, 0)
		datagram.Proto = engine.ProtoUDP
		assert.True(t, filters.Allows(datagram))

		datagram.Proto = engine.ProtoICMP
		assert.False(t, filters.Allows(datagram))

		_, err = ParseL4Proto("sctp")
		assert.Error(t, err)
		_, err = ParseTCPFlag("XYZ")
		assert.Error(t, err)
	})
}
