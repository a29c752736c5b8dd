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
	"encoding/base64"
	"fmt"
	"time"

	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/itchyny/timefmt-go"
)

const (
	// upper bound of reassembled stream bytes attached to one alert
	streamBufferSize = 4096
	// initial capacity of the per-logger document buffer
	outputBufferSize = 65535

	timestampPrefixFmt = "%Y-%m-%dT%H:%M:%S."
	timestampZoneFmt   = "%z"

	printablePlaceholder = '.'
)

// formatTimestamp renders ts as `2024-05-01T12:00:00.000123+0000`.
func formatTimestamp(ts time.Time) string {
	b := make([]byte, 0, 32)
	b = timefmt.AppendFormat(b, ts, timestampPrefixFmt)
	b = fmt.Appendf(b, "%06d", ts.Nanosecond()/int(time.Microsecond))
	b = timefmt.AppendFormat(b, ts, timestampZoneFmt)
	return string(b)
}

func isPrintable(c byte) bool {
	return (c >= 0x20 && c <= 0x7e) || c == '\n' || c == '\r'
}

// printable replaces every byte that is neither printable ASCII nor CR/LF.
func printable(data []byte) string {
	out := make([]byte, len(data))
	for i, c := range data {
		if isPrintable(c) {
			out[i] = c
		} else {
			out[i] = printablePlaceholder
		}
	}
	return string(out)
}

func encodeBase64(data []byte) string {
	return base64.StdEncoding.EncodeToString(data)
}

// gatherStream copies the stored segments sent in direction dir into buffer,
// up to `streamBufferSize` bytes.
func gatherStream(flow *engine.Flow, dir engine.Direction, buffer *bytes.Buffer) {
	buffer.Reset()
	if flow == nil {
		return
	}
	flow.StreamSegmentForEach(dir, func(_ uint32, segment []byte) bool {
		room := streamBufferSize - buffer.Len()
		if len(segment) > room {
			segment = segment[:room]
		}
		buffer.Write(segment)
		return buffer.Len() < streamBufferSize
	})
}
