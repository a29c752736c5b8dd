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
	"net/netip"
	"sync"
	"time"

	"github.com/zhangyunhao116/skipmap"
)

type (
	AppProto uint16

	// SSM maps TCP sequence numbers to segment payloads
	SSM = *skipmap.Uint32Map[[]byte]

	// Flow is a bidirectional conversation shared by every packet that belongs to it.
	// Readers must hold `RLock` while inspecting application layer state.
	Flow struct {
		ID uint64

		mu sync.RWMutex

		// the endpoint that opened the flow; packets sent by it are `ToServer`
		client netip.AddrPort
		proto  uint8

		appProto AppProto
		http     *HTTPState

		segments [2]SSM

		createdAt  time.Time
		lastSeenAt time.Time
	}
)

const (
	AppProtoUnknown AppProto = iota
	AppProtoHTTP
)

func NewFlow(id uint64, client netip.AddrPort, proto uint8) *Flow {
	now := time.Now()
	return &Flow{
		ID:         id,
		client:     client,
		proto:      proto,
		segments:   [2]SSM{skipmap.NewUint32[[]byte](), skipmap.NewUint32[[]byte]()},
		createdAt:  now,
		lastSeenAt: now,
	}
}

func (f *Flow) RLock()   { f.mu.RLock() }
func (f *Flow) RUnlock() { f.mu.RUnlock() }
func (f *Flow) Lock()    { f.mu.Lock() }
func (f *Flow) Unlock()  { f.mu.Unlock() }

// AppProto must be called with the flow lock held.
func (f *Flow) AppProto() AppProto {
	return f.appProto
}

// HTTP must be called with the flow lock held; it is nil until HTTP is detected.
func (f *Flow) HTTP() *HTTPState {
	return f.http
}

// SetHTTP must be called with the flow write lock held.
func (f *Flow) SetHTTP(state *HTTPState) {
	f.http = state
	f.appProto = AppProtoHTTP
}

// LogTxID must be called with the flow lock held.
func (f *Flow) LogTxID() uint64 {
	return f.http.LogTxID()
}

func (f *Flow) DirectionOf(src netip.AddrPort) Direction {
	if src == f.client {
		return ToServer
	}
	return ToClient
}

// AddSegment stores a copy of a TCP segment payload sent in direction dir.
func (f *Flow) AddSegment(dir Direction, sequence uint32, payload []byte) {
	if len(payload) == 0 {
		return
	}
	segment := make([]byte, len(payload))
	copy(segment, payload)
	f.segments[dir].Store(sequence, segment)
}

// StreamSegmentForEach visits the stored segments of direction dir in ascending sequence order
// until fn returns false. Sequence number wrap-around is not accounted for.
func (f *Flow) StreamSegmentForEach(dir Direction, fn func(sequence uint32, segment []byte) bool) {
	f.segments[dir].Range(fn)
}

// observe updates the flow with a packet whose direction is already known.
func (f *Flow) observe(p *Packet) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.lastSeenAt = time.Now()

	if !p.IsTCP() || len(p.Payload) == 0 {
		return
	}

	f.AddSegment(p.Direction, p.TCPSeq, p.Payload)

	switch p.Direction {
	case ToServer:
		if IsHTTPRequest(p.Payload) {
			if f.http == nil {
				f.SetHTTP(NewHTTPState())
			}
			if _, err := f.http.AddRequest(p.Payload); err != nil {
				engineLogger.WithField("flow", f.ID).Debugf("#:%d | %v", p.Serial, err)
			}
		}
	case ToClient:
		if f.http != nil && IsHTTPResponse(p.Payload) {
			if _, err := f.http.AddResponse(p.Payload); err != nil {
				engineLogger.WithField("flow", f.ID).Debugf("#:%d | %v", p.Serial, err)
			}
		}
	}
}
