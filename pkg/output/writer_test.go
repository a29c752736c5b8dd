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

package output

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWriterRequiresOutputs(t *testing.T) {
	_, err := NewWriter(Options{NoFile: true})
	assert.ErrorIs(t, err, errNoOutputs)

	_, err = NewWriter(Options{Directory: t.TempDir()})
	assert.Error(t, err)
}

func TestFileWriterAppends(t *testing.T) {
	dir := t.TempDir()

	for _, line := range []string{"{\"n\":1}\n", "{\"n\":2}\n"} {
		w, err := NewWriter(Options{Directory: dir, Filename: "alert.json"})
		require.NoError(t, err)
		n, err := w.Write([]byte(line))
		require.NoError(t, err)
		assert.Equal(t, len(line), n)
		require.NoError(t, w.Close())
	}

	content, err := os.ReadFile(filepath.Join(dir, "alert.json"))
	require.NoError(t, err)
	assert.Equal(t, "{\"n\":1}\n{\"n\":2}\n", string(content))
}

func TestRotatingWriter(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "eve")

	w, err := NewWriter(Options{Directory: dir, Filename: "alert.json", MaxSizeMB: 1, MaxAge: time.Hour})
	require.NoError(t, err)

	_, err = w.Write([]byte("{\"n\":1}\n"))
	require.NoError(t, err)
	require.NoError(t, w.Close())

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)
	assert.True(t, strings.HasPrefix(entries[0].Name(), "alert-"))
	assert.True(t, strings.HasSuffix(entries[0].Name(), ".json"))
}

func TestRotatedFileName(t *testing.T) {
	name := rotatedFileNameFunc("alert.json")()
	assert.Regexp(t, `^alert-\d{8}T\d{6}\.json$`, name)
}

func TestWriterIsSafeForConcurrentUse(t *testing.T) {
	var a, b bytes.Buffer
	w := NewWriterFrom(&a, &b)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = w.Write([]byte("{\"event_type\":\"alert\"}\n"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 50, strings.Count(a.String(), "\n"))
	assert.Equal(t, a.String(), b.String())
	assert.NoError(t, w.Close())
}
