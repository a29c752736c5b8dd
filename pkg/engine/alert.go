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
	"strings"

	"github.com/pkg/errors"
)

type (
	ActionFlags uint8

	AlertFlags uint8

	Mode uint8

	Signature struct {
		GID      uint32
		ID       uint32
		Rev      uint32
		Msg      string
		ClassMsg string
		Prio     int
	}

	// PacketAlert is one detection match attached to a packet.
	// A nil Signature marks an entry that must not be logged.
	PacketAlert struct {
		Signature *Signature
		Action    ActionFlags
		Flags     AlertFlags
		TxID      uint64
	}
)

const (
	ActionAlert ActionFlags = 1 << iota
	ActionDrop
	ActionReject
	ActionRejectDst
	ActionRejectBoth
	ActionPass

	ActionRejectAny = ActionReject | ActionRejectDst | ActionRejectBoth
)

const (
	// the alert matched on reassembled stream state
	AlertFlagStateMatch AlertFlags = 1 << iota
	AlertFlagStreamMatch
	// the alert is tied to an application-layer transaction; `TxID` is meaningful
	AlertFlagTx
)

const (
	ModeIDS Mode = iota
	ModeIPS
)

var actionNames = map[string]ActionFlags{
	"alert":      ActionAlert,
	"drop":       ActionDrop,
	"reject":     ActionReject,
	"rejectsrc":  ActionReject,
	"rejectdst":  ActionRejectDst,
	"rejectboth": ActionRejectBoth,
	"pass":       ActionPass,
}

var errUnknownAction = errors.New("unknown action")

func ParseAction(action string) (ActionFlags, error) {
	if action == "" {
		return ActionAlert, nil
	}
	if flags, ok := actionNames[strings.ToLower(action)]; ok {
		return flags, nil
	}
	return 0, errors.Wrap(errUnknownAction, action)
}

func ParseMode(mode string) (Mode, error) {
	switch strings.ToLower(mode) {
	case "", "ids":
		return ModeIDS, nil
	case "ips":
		return ModeIPS, nil
	}
	return ModeIDS, errors.Errorf("unknown engine mode: %s", mode)
}

func (m Mode) String() string {
	if m == ModeIPS {
		return "ips"
	}
	return "ids"
}

func (a ActionFlags) Has(flags ActionFlags) bool {
	return a&flags != 0
}

func (f AlertFlags) Has(flags AlertFlags) bool {
	return f&flags != 0
}

// IsBlocked reports whether the packet was (or would be) blocked by this alert.
func (pa *PacketAlert) IsBlocked(mode Mode) bool {
	if pa.Action.Has(ActionRejectAny) {
		return true
	}
	return pa.Action.Has(ActionDrop) && mode == ModeIPS
}

func (pa *PacketAlert) IsStreamMatch() bool {
	return pa.Flags.Has(AlertFlagStateMatch | AlertFlagStreamMatch)
}

func (pa *PacketAlert) HasTx() bool {
	return pa.Flags.Has(AlertFlagTx)
}
