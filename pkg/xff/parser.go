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

// Package xff resolves the original client address of proxied HTTP traffic
// out of a forwarded-address header chain.
package xff

import (
	"bytes"
	"net/netip"
)

const (
	// shortest chain worth parsing; anything below cannot hold an address
	ChainMinLen = 7
	// chains of this length or longer are rejected without parsing
	ChainMaxLen = 256
	// longest textual IPv6 address: `ffff:ffff:ffff:ffff:ffff:ffff:255.255.255.255`
	AddressMaxLen = 45
)

var chainSeparator = []byte{' '}

// ParseLastAddress returns the last hop of a forwarded-address chain.
//
// The last hop is whatever follows the last space; when there is no space the
// whole chain is the candidate. The candidate is returned verbatim only if it
// is a valid IPv4 or IPv6 literal.
func ParseLastAddress(chain []byte) (string, bool) {
	if len(chain) < ChainMinLen || len(chain) >= ChainMaxLen {
		return "", false
	}

	candidate := chain
	if i := bytes.LastIndex(chain, chainSeparator); i >= 0 {
		candidate = chain[i+1:]
	}

	if len(candidate) == 0 || len(candidate) > AddressMaxLen {
		return "", false
	}

	addr, err := netip.ParseAddr(string(candidate))
	if err != nil || addr.Zone() != "" {
		return "", false
	}

	return string(candidate), true
}
