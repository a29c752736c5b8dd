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

package xff

import (
	"strings"

	"github.com/gchux/pcap-eve/pkg/config"
	"github.com/gchux/pcap-eve/pkg/logging"
)

type (
	Mode uint8

	// Config is built once and then shared by value; it is never mutated.
	Config struct {
		Mode   Mode
		Header string
	}
)

const (
	Disabled Mode = iota
	ExtraData
	Overwrite
)

const (
	DefaultHeader = "X-Forwarded-For"

	sectionKey    = "xff"
	enabledKey    = "enabled"
	modeKey       = "mode"
	headerKey     = "header"
	modeOverwrite = "overwrite"
	modeExtraData = "extra-data"
)

var modeNames = map[Mode]string{
	Disabled:  "disabled",
	ExtraData: modeExtraData,
	Overwrite: modeOverwrite,
}

var xffLogger = logging.New("xff")

func (m Mode) String() string {
	if name, ok := modeNames[m]; ok {
		return name
	}
	return "unknown"
}

func (c Config) Enabled() bool {
	return c.Mode != Disabled
}

// BuildConfig reads the `xff` child of node.
//
// A nil node is a wiring bug and panics.
func BuildConfig(node config.Node) Config {
	if node == nil {
		panic("xff: nil configuration node")
	}

	section, ok := node.LookupChild(sectionKey)
	if !ok || !section.ChildValueIsTrue(enabledKey) {
		return Config{Mode: Disabled}
	}

	cfg := Config{Mode: ExtraData}

	mode, ok := section.LookupChildValue(modeKey)
	switch {
	case !ok:
		xffLogger.Warn("The XFF mode hasn't been defined, falling back to extra-data mode")
	case strings.EqualFold(mode, modeOverwrite):
		cfg.Mode = Overwrite
	case strings.EqualFold(mode, modeExtraData):
		cfg.Mode = ExtraData
	default:
		xffLogger.Warnf("The XFF mode %s is invalid, falling back to extra-data mode", mode)
	}

	header, ok := section.LookupChildValue(headerKey)
	if !ok {
		xffLogger.Warnf("The XFF header hasn't been defined, using the default %s", DefaultHeader)
		header = DefaultHeader
	}
	cfg.Header = header

	return cfg
}
