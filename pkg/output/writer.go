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

// Package output provides the sink alert documents are written to.
package output

import (
	"io"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/easyCZ/logrotate"
	"github.com/gchux/pcap-eve/pkg/logging"
	"github.com/itchyny/timefmt-go"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/wissance/stringFormatter"
)

type (
	Options struct {
		Directory string
		Filename  string
		// rotation is enabled when any of these is set
		MaxSizeMB int64
		MaxAge    time.Duration
		Stdout    bool
		// disables the file output; only meaningful along with `Stdout`
		NoFile bool
	}

	// Writer fans every document out to all outputs; it is safe for concurrent use
	// and every call to Write is delivered as one unit.
	Writer struct {
		mu      sync.Mutex
		writers []io.Writer
		closers []io.Closer
	}
)

const (
	rotatedFileTemplate = "{0}-{1}{2}"
	rotatedFileTimefmt  = "%Y%m%dT%H%M%S"
)

var (
	outputLogger = logging.New("output")

	errNoOutputs = errors.New("no outputs configured")
)

func (o *Options) rotates() bool {
	return o.MaxSizeMB > 0 || o.MaxAge > 0
}

func rotatedFileNameFunc(filename string) func() string {
	ext := filepath.Ext(filename)
	name := strings.TrimSuffix(filename, ext)
	return func() string {
		return stringFormatter.Format(rotatedFileTemplate,
			name, timefmt.Format(time.Now().UTC(), rotatedFileTimefmt), ext)
	}
}

func newRotatingWriter(opts *Options) (*logrotate.Writer, error) {
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %s", opts.Directory)
	}
	logger := log.New(outputLogger.WriterLevel(logrus.DebugLevel), "", 0)
	return logrotate.New(logger, logrotate.Options{
		Directory:            opts.Directory,
		MaximumFileSize:      opts.MaxSizeMB * 1024 * 1024,
		MaximumLifetime:      opts.MaxAge,
		FileNameFunc:         rotatedFileNameFunc(opts.Filename),
		FlushAfterEveryWrite: true,
	})
}

func newFileWriter(opts *Options) (*os.File, error) {
	if err := os.MkdirAll(opts.Directory, 0o755); err != nil {
		return nil, errors.Wrapf(err, "failed to create directory %s", opts.Directory)
	}
	path := filepath.Join(opts.Directory, opts.Filename)
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o640)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	return file, nil
}

func NewWriter(opts Options) (*Writer, error) {
	w := &Writer{}

	if !opts.NoFile {
		if opts.Directory == "" {
			opts.Directory = "."
		}
		if opts.Filename == "" {
			return nil, errors.New("file output requires a filename")
		}

		if opts.rotates() {
			rotating, err := newRotatingWriter(&opts)
			if err != nil {
				return nil, err
			}
			w.writers = append(w.writers, rotating)
			w.closers = append(w.closers, rotating)
		} else {
			file, err := newFileWriter(&opts)
			if err != nil {
				return nil, err
			}
			w.writers = append(w.writers, file)
			w.closers = append(w.closers, file)
		}
		outputLogger.Infof("writing alerts to %s (rotate: %t)",
			filepath.Join(opts.Directory, opts.Filename), opts.rotates())
	}

	if opts.Stdout {
		w.writers = append(w.writers, os.Stdout)
	}

	if len(w.writers) == 0 {
		return nil, errNoOutputs
	}

	return w, nil
}

// NewWriterFrom wraps existing writers; they are closed by Close if they implement `io.Closer`.
func NewWriterFrom(writers ...io.Writer) *Writer {
	w := &Writer{writers: writers}
	for _, writer := range writers {
		if closer, ok := writer.(io.Closer); ok {
			w.closers = append(w.closers, closer)
		}
	}
	return w
}

func (w *Writer) Write(document []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	var errs error
	for _, writer := range w.writers {
		n, err := writer.Write(document)
		if err == nil && n != len(document) {
			err = io.ErrShortWrite
		}
		if err != nil {
			errs = errors.Wrap(err, "failed to write document")
		}
	}
	if errs != nil {
		return 0, errs
	}
	return len(document), nil
}

func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var firstErr error
	for _, closer := range w.closers {
		if err := closer.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "failed to close output")
		}
	}
	w.closers = nil
	return firstErr
}
