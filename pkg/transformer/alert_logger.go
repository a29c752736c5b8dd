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
	"context"
	"encoding/json"
	"fmt"
	"io"
	"runtime/debug"

	"github.com/Jeffail/gabs/v2"
	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

type (
	// AlertLogger writes one document per alert of a packet.
	// It owns its buffers and must be used by a single goroutine at a time.
	AlertLogger struct {
		id            int
		translator    *JSONAlertTranslator
		sink          io.Writer
		jsonBuffer    *bytes.Buffer
		encoder       *json.Encoder
		logger        *logrus.Entry
	}

	documentSink = func([]byte) error
)

func NewAlertLogger(id int, cfg *OutputConfig, sink io.Writer) *AlertLogger {
	jsonBuffer := bytes.NewBuffer(make([]byte, 0, outputBufferSize))

	encoder := json.NewEncoder(jsonBuffer)
	encoder.SetEscapeHTML(false)

	return &AlertLogger{
		id:            id,
		translator:    newJSONAlertTranslator(cfg),
		sink:          sink,
		jsonBuffer:    jsonBuffer,
		encoder:       encoder,
		logger:        transformerLogger.WithField("logger", id),
	}
}

func (l *AlertLogger) write(document []byte) error {
	n, err := l.sink.Write(document)
	if err != nil {
		return errors.Wrap(err, "failed to write JSON document")
	}
	if n != len(document) {
		return errors.Errorf("document(%d) != written(%d)", len(document), n)
	}
	return nil
}

// serialize leaves the newline terminated document in `jsonBuffer`.
func (l *AlertLogger) serialize(document *gabs.Container) error {
	l.jsonBuffer.Reset()
	if err := l.encoder.Encode(document.Data()); err != nil {
		return errors.Wrap(err, "JSON translation failed")
	}
	return nil
}

// build runs fn, turning a panic into an error so that only the current document is lost.
func (l *AlertLogger) build(p *engine.Packet, fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Errorf("#:%d | panic: %v\n%s", p.Serial, r, string(debug.Stack()))
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

func (l *AlertLogger) emitAlerts(ctx context.Context, p *engine.Packet, views []alertView, sink documentSink) (int, error) {
	var document *gabs.Container
	if err := l.build(p, func() error {
		document = l.translator.header(p)
		return nil
	}); err != nil {
		AlertsSkipped.WithLabelValues(skipBuildFailed).Add(float64(len(p.Alerts)))
		return 0, err
	}

	written := 0
	var writeErr error

	for i := range p.Alerts {
		pa := &p.Alerts[i]
		if pa.Signature == nil {
			AlertsSkipped.WithLabelValues(skipNoSignature).Inc()
			continue
		}

		var view alertView
		if i < len(views) {
			view = views[i]
		}

		err := l.build(p, func() error {
			return l.translator.translateAlert(document, p, pa, &view)
		})
		if err == nil {
			err = l.serialize(document)
		}
		l.translator.clearAlert(document, p)

		if err != nil {
			AlertsSkipped.WithLabelValues(skipBuildFailed).Inc()
			l.logger.WithContext(ctx).Warnf("#:%d | sid:%d | %v", p.Serial, pa.Signature.ID, err)
			continue
		}

		if err := sink(l.jsonBuffer.Bytes()); err != nil {
			AlertsSkipped.WithLabelValues(skipWriteFailed).Inc()
			writeErr = err
			continue
		}

		written++
		DocumentsWritten.WithLabelValues(eventAlert).Inc()
	}

	return written, writeErr
}

func (l *AlertLogger) emitDecoderEvents(ctx context.Context, p *engine.Packet, sink documentSink) (int, error) {
	written := 0
	var writeErr error

	for i := range p.Alerts {
		pa := &p.Alerts[i]
		if pa.Signature == nil {
			AlertsSkipped.WithLabelValues(skipNoSignature).Inc()
			continue
		}

		var document *gabs.Container
		err := l.build(p, func() (err error) {
			document, err = l.translator.translateDecoderEvent(p, pa)
			return err
		})
		if err == nil {
			err = l.serialize(document)
		}
		if err != nil {
			AlertsSkipped.WithLabelValues(skipBuildFailed).Inc()
			l.logger.WithContext(ctx).Warnf("#:%d | sid:%d | %v", p.Serial, pa.Signature.ID, err)
			continue
		}

		if err := sink(l.jsonBuffer.Bytes()); err != nil {
			AlertsSkipped.WithLabelValues(skipWriteFailed).Inc()
			writeErr = err
			continue
		}

		written++
		DocumentsWritten.WithLabelValues(eventDecoderEvent).Inc()
	}

	return written, writeErr
}

// emit uses views captured by `JSONAlertTranslator.capture` instead of reading the flow.
func (l *AlertLogger) emit(ctx context.Context, p *engine.Packet, views []alertView, sink documentSink) (int, error) {
	if p == nil || len(p.Alerts) == 0 {
		return 0, nil
	}
	if p.HasIP() {
		return l.emitAlerts(ctx, p, views, sink)
	}
	return l.emitDecoderEvents(ctx, p, sink)
}

// Log writes every alert of p to the sink, one write per document,
// and returns how many documents were written.
func (l *AlertLogger) Log(ctx context.Context, p *engine.Packet) (int, error) {
	return l.emit(ctx, p, l.translator.capture(p), l.write)
}

// Render returns the documents of every alert of p, concatenated in alert order.
func (l *AlertLogger) Render(ctx context.Context, p *engine.Packet) ([]byte, int, error) {
	return l.render(ctx, p, l.translator.capture(p))
}

func (l *AlertLogger) render(ctx context.Context, p *engine.Packet, views []alertView) ([]byte, int, error) {
	var out bytes.Buffer
	n, err := l.emit(ctx, p, views, func(document []byte) error {
		_, err := out.Write(document)
		return err
	})
	return out.Bytes(), n, err
}
