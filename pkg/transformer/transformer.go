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
	"io"
	"sync"
	"time"

	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/gchux/pcap-eve/pkg/logging"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"github.com/wissance/stringFormatter"

	concurrently "github.com/tejzpr/ordered-concurrently/v3"
)

var transformerLogger = logging.New("transformer")

type (
	IAlertTransformer interface {
		WaitDone(context.Context, time.Duration)
		Apply(context.Context, *engine.Packet) error
	}

	Options struct {
		// number of `AlertLogger`s; each one owns its own buffers
		Workers int
		// write documents in the order in which packets were applied
		Ordered bool
		Output  OutputConfig
	}

	AlertTransformer struct {
		ctx           context.Context
		loggerPrefix  *string
		sink          io.Writer
		translator    *JSONAlertTranslator
		loggers       chan *AlertLogger
		numLoggers    int
		loggerPool    *ants.PoolWithFunc
		ich           chan concurrently.WorkFunction
		och           <-chan concurrently.OrderedOutput
		ichCloser     *sync.Once
		writerDone    chan struct{}
		wg            *sync.WaitGroup
		preserveOrder bool
		apply         func(*alertTranslatorWorker) error
	}

	ContextKey string
)

const (
	ContextID = ContextKey("id")
)

var (
	errUnavailableTranslation = errors.New("alert translation is unavailable")
	errNilPacket              = errors.New("nil packet")
)

// returns when all packets have been transformed and written, or when timeout expires
func (t *AlertTransformer) WaitDone(ctx context.Context, timeout time.Duration) {
	ts := time.Now()
	timer := time.NewTimer(timeout)

	writeDoneChan := make(chan struct{})

	go func() {
		if !t.preserveOrder {
			transformerLogger.Infof("%s gracefully terminating | pool: %d/%d | deadline: %v",
				*t.loggerPrefix, t.loggerPool.Running(), t.loggerPool.Waiting(), timeout)
		} else {
			transformerLogger.Infof("%s gracefully terminating | deadline: %v", *t.loggerPrefix, timeout)
		}
		t.wg.Wait() // wait for all documents to be written
		close(writeDoneChan)
	}()

	timedOut := false
	select {
	case <-timer.C:
		timedOut = true
		transformerLogger.Warnf("%s timed out waiting for graceful termination", *t.loggerPrefix)
	case <-writeDoneChan:
		timer.Stop()
		transformerLogger.Infof("%s STOPPED | latency: %v", *t.loggerPrefix, time.Since(ts))
	}

	if t.preserveOrder {
		// no more work will be enqueued
		t.closeInput()
		if !timedOut {
			<-t.writerDone
		}
	} else if remaining := timeout - time.Since(ts); remaining > 0 {
		if err := t.loggerPool.ReleaseTimeout(remaining); err != nil {
			transformerLogger.Warnf("%s failed to release worker pool: %v", *t.loggerPrefix, err)
		}
	} else {
		t.loggerPool.Release()
	}

	transformerLogger.Infof("%s TERMINATED | latency: %v", *t.loggerPrefix, time.Since(ts))
}

func (t *AlertTransformer) closeInput() {
	t.ichCloser.Do(func() {
		close(t.ich)
	})
}

// Apply schedules the alerts of packet for logging; it does not wait for them to be written.
// The flow state read by the alerts is captured before Apply returns,
// so the caller may track the next packet of the same flow right away.
func (t *AlertTransformer) Apply(ctx context.Context, packet *engine.Packet) error {
	if packet == nil {
		return errNilPacket
	}

	select {
	case <-ctx.Done():
		// reject applying transformer if context is already done.
		return ctx.Err()
	default:
		// applying transformer commits to write all documents of the packet.
		t.wg.Add(1)
	}

	PacketsApplied.Inc()

	views := t.translator.capture(packet)
	worker := newAlertTranslatorWorker(packet, views, t.loggers, t.loggerPrefix)
	if err := t.apply(worker); err != nil {
		// rollback write commitment
		t.wg.Done()
		return err
	}
	return nil
}

func (t *AlertTransformer) logAlertsFn(ctx context.Context, task interface{}) {
	defer t.wg.Done()

	worker := task.(*alertTranslatorWorker)
	if _, err := worker.log(ctx); err != nil {
		transformerLogger.Warnf("%s #:%d | %v", *t.loggerPrefix, worker.packet.Serial, err)
	}
}

// writeTranslations runs in a single goroutine; translations arrive in packet order.
func (t *AlertTransformer) writeTranslations(ctx context.Context) {
	defer close(t.writerDone)

	for output := range t.och {
		translation, ok := output.Value.(*alertTranslation)
		if !ok || translation == nil {
			transformerLogger.Errorf("%s %v", *t.loggerPrefix, errUnavailableTranslation)
			t.wg.Done()
			continue
		}
		if translation.err != nil {
			transformerLogger.Warnf("%s #:%d | %v", *t.loggerPrefix, translation.serial, translation.err)
		}
		if len(translation.documents) > 0 {
			if _, err := t.sink.Write(translation.documents); err != nil {
				AlertsSkipped.WithLabelValues(skipWriteFailed).Add(float64(translation.count))
				transformerLogger.Warnf("%s #:%d | failed to write documents: %v",
					*t.loggerPrefix, translation.serial, err)
			}
		}
		t.wg.Done()
	}
}

// if order is not required, packets are logged concurrently and each worker writes its own documents.
func provideWorkerPool(ctx context.Context, transformer *AlertTransformer) error {
	poolOpts := ants.Options{
		PreAlloc:       true,
		Nonblocking:    false,
		ExpiryDuration: 10 * time.Second,
	}

	poolOpts.PanicHandler = func(i interface{}) {
		transformerLogger.Errorf("%s panic: %v", *transformer.loggerPrefix, i)
	}

	loggerPoolFn := func(i interface{}) {
		transformer.logAlertsFn(ctx, i)
	}

	loggerPool, err := ants.NewPoolWithFunc(transformer.numLoggers, loggerPoolFn, ants.WithOptions(poolOpts))
	if err != nil {
		return errors.Wrap(err, "failed to create worker pool")
	}
	transformer.loggerPool = loggerPool

	transformer.apply = func(worker *alertTranslatorWorker) error {
		return transformer.loggerPool.Invoke(worker)
	}

	return nil
}

// if order is required, documents are rendered concurrently but written by a single goroutine in packet order.
func provideConcurrentQueue(ctx context.Context, transformer *AlertTransformer) {
	ochOpts := &concurrently.Options{
		PoolSize:         transformer.numLoggers,
		OutChannelBuffer: 100,
	}

	transformer.ich = make(chan concurrently.WorkFunction, 100)
	transformer.och = concurrently.Process(ctx, transformer.ich, ochOpts)
	transformer.writerDone = make(chan struct{})

	// Enqueue workers in packet order; when the queue is saturated `Apply` blocks until slots are available.
	transformer.apply = func(worker *alertTranslatorWorker) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case transformer.ich <- worker:
		}
		return nil
	}

	go transformer.writeTranslations(ctx)
}

// NewTransformer creates `opts.Workers` loggers sharing the same sink;
// sink must be safe for concurrent use when order is not preserved.
func NewTransformer(ctx context.Context, sink io.Writer, opts Options) (*AlertTransformer, error) {
	if sink == nil {
		return nil, errors.New("nil sink")
	}

	numLoggers := opts.Workers
	if numLoggers <= 0 {
		numLoggers = 1
	}

	id, _ := ctx.Value(ContextID).(string)
	loggerPrefix := stringFormatter.Format("[{0}] -", id)

	output := opts.Output
	loggers := make(chan *AlertLogger, numLoggers)
	for i := 0; i < numLoggers; i++ {
		loggers <- NewAlertLogger(i, &output, sink)
	}

	transformer := &AlertTransformer{
		ctx:           ctx,
		loggerPrefix:  &loggerPrefix,
		sink:          sink,
		translator:    newJSONAlertTranslator(&output),
		loggers:       loggers,
		numLoggers:    numLoggers,
		ichCloser:     new(sync.Once),
		wg:            new(sync.WaitGroup),
		preserveOrder: opts.Ordered,
	}

	if opts.Ordered {
		provideConcurrentQueue(ctx, transformer)
	} else if err := provideWorkerPool(ctx, transformer); err != nil {
		return nil, err
	}

	transformerLogger.Infof("%s CREATED | workers:%d | ordered:%t | xff:%s | mode:%s",
		loggerPrefix, numLoggers, opts.Ordered, output.XFF.Mode, output.EngineMode)

	return transformer, nil
}

func NewOrderedTransformer(ctx context.Context, sink io.Writer, workers int, output OutputConfig) (*AlertTransformer, error) {
	return NewTransformer(ctx, sink, Options{Workers: workers, Ordered: true, Output: output})
}
