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
	"context"
	"fmt"
	"runtime/debug"

	"github.com/gchux/pcap-eve/pkg/engine"
)

type (
	alertTranslatorWorker struct {
		packet       *engine.Packet
		views        []alertView
		loggers      chan *AlertLogger
		loggerPrefix *string
	}

	// alertTranslation is the rendered output of one packet
	alertTranslation struct {
		serial    uint64
		documents []byte
		count     int
		err       error
	}
)

// borrow hands an `AlertLogger` exclusively to fn; blocks until one is available.
func (w *alertTranslatorWorker) borrow(fn func(*AlertLogger)) {
	logger := <-w.loggers
	defer func() { w.loggers <- logger }()
	fn(logger)
}

// log writes the packet documents straight into the sink.
func (w *alertTranslatorWorker) log(ctx context.Context) (written int, err error) {
	w.borrow(func(logger *AlertLogger) {
		written, err = logger.emit(ctx, w.packet, w.views, logger.write)
	})
	return written, err
}

// Run renders the packet documents; used when output order must match packet order.
func (w *alertTranslatorWorker) Run(ctx context.Context) (translation interface{}) {
	result := &alertTranslation{serial: w.packet.Serial}

	defer func() {
		if r := recover(); r != nil {
			transformerLogger.Errorf("%s #:%d | panic: %s\n%s",
				*w.loggerPrefix, w.packet.Serial, r, string(debug.Stack()))
			result.documents = nil
			result.count = 0
			result.err = fmt.Errorf("panic: %v", r)
		}
		translation = result
	}()

	w.borrow(func(logger *AlertLogger) {
		documents, count, err := logger.render(ctx, w.packet, w.views)
		// `Render` output is backed by a buffer that is not reused
		result.documents = documents
		result.count = count
		result.err = err
	})

	return result
}

func newAlertTranslatorWorker(
	packet *engine.Packet,
	views []alertView,
	loggers chan *AlertLogger,
	loggerPrefix *string,
) *alertTranslatorWorker {
	return &alertTranslatorWorker{
		packet:       packet,
		views:        views,
		loggers:      loggers,
		loggerPrefix: loggerPrefix,
	}
}
