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
	"io"
	"os"

	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

type (
	alertEntry struct {
		// 1-based position of the packet in the capture file
		Packet    uint64  `yaml:"packet"`
		GID       uint32  `yaml:"gid"`
		SID       uint32  `yaml:"sid"`
		Rev       uint32  `yaml:"rev"`
		Msg       string  `yaml:"msg"`
		ClassType string  `yaml:"classtype"`
		Priority  int     `yaml:"priority"`
		Action    string  `yaml:"action"`
		TxID      *uint64 `yaml:"tx_id"`
		Stream    bool    `yaml:"stream"`
		State     bool    `yaml:"state"`
	}

	alertFile struct {
		Alerts []alertEntry `yaml:"alerts"`
	}

	// AlertBook maps packet serials to the alerts raised on them, in file order.
	AlertBook struct {
		byPacket map[uint64][]engine.PacketAlert
		size     int
	}
)

func NewAlertBook() *AlertBook {
	return &AlertBook{byPacket: make(map[uint64][]engine.PacketAlert)}
}

func (e *alertEntry) toPacketAlert() (engine.PacketAlert, error) {
	action, err := engine.ParseAction(e.Action)
	if err != nil {
		return engine.PacketAlert{}, err
	}

	gid := e.GID
	if gid == 0 {
		gid = 1
	}

	pa := engine.PacketAlert{
		Signature: &engine.Signature{
			GID:      gid,
			ID:       e.SID,
			Rev:      e.Rev,
			Msg:      e.Msg,
			ClassMsg: e.ClassType,
			Prio:     e.Priority,
		},
		Action: action,
	}

	if e.TxID != nil {
		pa.Flags |= engine.AlertFlagTx
		pa.TxID = *e.TxID
	}
	if e.Stream {
		pa.Flags |= engine.AlertFlagStreamMatch
	}
	if e.State {
		pa.Flags |= engine.AlertFlagStateMatch
	}

	return pa, nil
}

// Add appends pa to the alerts of packet serial.
func (b *AlertBook) Add(serial uint64, pa engine.PacketAlert) {
	b.byPacket[serial] = append(b.byPacket[serial], pa)
	b.size++
}

// For returns a copy of the alerts of packet serial; callers may modify it.
func (b *AlertBook) For(serial uint64) []engine.PacketAlert {
	alerts, ok := b.byPacket[serial]
	if !ok {
		return nil
	}
	out := make([]engine.PacketAlert, len(alerts))
	copy(out, alerts)
	return out
}

func (b *AlertBook) Len() int {
	return b.size
}

func ReadAlertBook(r io.Reader) (*AlertBook, error) {
	decoder := yaml.NewDecoder(r)
	decoder.KnownFields(true)

	var file alertFile
	if err := decoder.Decode(&file); err != nil && !errors.Is(err, io.EOF) {
		return nil, errors.Wrap(err, "invalid alerts file")
	}

	book := NewAlertBook()
	for i := range file.Alerts {
		entry := &file.Alerts[i]
		if entry.Packet == 0 {
			return nil, errors.Errorf("alert #%d: packet must be >= 1", i)
		}
		if entry.SID == 0 {
			return nil, errors.Errorf("alert #%d: missing sid", i)
		}
		pa, err := entry.toPacketAlert()
		if err != nil {
			return nil, errors.Wrapf(err, "alert #%d", i)
		}
		book.Add(entry.Packet, pa)
	}

	return book, nil
}

func LoadAlertBook(path string) (*AlertBook, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open alerts file")
	}
	defer f.Close()
	return ReadAlertBook(f)
}
