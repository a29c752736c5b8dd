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

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleConfig = `
engine:
  mode: ips
eve-log:
  filename: eve.json
  workers: 2
  ordered: false
  rotate:
    max-size-mb: 16
    max-age: 1h
  alert:
    payload: yes
    payload-printable: "on"
    packet: no
    http: true
    xff:
      enabled: yes
      mode: overwrite
      header: X-Real-IP
`

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "eve.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestIsTrue(t *testing.T) {
	for _, value := range []string{"1", "yes", "YES", "true", "True", "on", " on "} {
		assert.Truef(t, IsTrue(value), "must be truthy: %q", value)
	}
	for _, value := range []string{"", "0", "no", "false", "off", "enabled", "y"} {
		assert.Falsef(t, IsTrue(value), "must not be truthy: %q", value)
	}
}

func TestLoad(t *testing.T) {
	t.Run("must-apply-defaults", func(t *testing.T) {
		cfg, err := Load("")
		require.NoError(t, err)

		assert.Equal(t, "ids", cfg.Engine.Mode)
		assert.Equal(t, DefaultFilename, cfg.EveLog.Filename)
		assert.Equal(t, ".", cfg.EveLog.Directory)
		assert.Equal(t, 4, cfg.EveLog.Workers)
		assert.True(t, cfg.EveLog.Ordered)
		assert.Equal(t, "info", cfg.Logging.Level)

		alert := cfg.AlertSection()
		require.NotNil(t, alert)
		_, ok := alert.LookupChild("xff")
		assert.False(t, ok)
	})

	t.Run("must-read-file", func(t *testing.T) {
		cfg, err := Load(writeConfig(t, sampleConfig))
		require.NoError(t, err)

		assert.Equal(t, "ips", cfg.Engine.Mode)
		assert.Equal(t, "eve.json", cfg.EveLog.Filename)
		assert.Equal(t, 2, cfg.EveLog.Workers)
		assert.False(t, cfg.EveLog.Ordered)
		assert.Equal(t, int64(16), cfg.EveLog.Rotate.MaxSizeMB)
		assert.Equal(t, time.Hour, cfg.EveLog.Rotate.MaxAge)

		alert := cfg.AlertSection()
		assert.True(t, alert.ChildValueIsTrue("payload"))
		assert.True(t, alert.ChildValueIsTrue("payload-printable"))
		assert.False(t, alert.ChildValueIsTrue("packet"))
		assert.True(t, alert.ChildValueIsTrue("http"))

		xff, ok := alert.LookupChild("xff")
		require.True(t, ok)
		assert.True(t, xff.ChildValueIsTrue("enabled"))
		mode, ok := xff.LookupChildValue("mode")
		require.True(t, ok)
		assert.Equal(t, "overwrite", mode)
		header, ok := xff.LookupChildValue("header")
		require.True(t, ok)
		assert.Equal(t, "X-Real-IP", header)
	})

	t.Run("must-fail-on-missing-file", func(t *testing.T) {
		_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
		assert.Error(t, err)
	})

	t.Run("must-read-env-overrides", func(t *testing.T) {
		t.Setenv("EVE_ENGINE_MODE", "ips")
		cfg, err := Load("")
		require.NoError(t, err)
		assert.Equal(t, "ips", cfg.Engine.Mode)
	})
}

func TestNodeLookups(t *testing.T) {
	node, err := FromYAML(strings.NewReader(sampleConfig))
	require.NoError(t, err)

	eve, ok := node.LookupChild("eve-log")
	require.True(t, ok)

	t.Run("sections-are-not-values", func(t *testing.T) {
		_, ok := eve.LookupChildValue("alert")
		assert.False(t, ok)
	})

	t.Run("values-are-not-sections", func(t *testing.T) {
		_, ok := eve.LookupChild("filename")
		assert.False(t, ok)
	})

	t.Run("missing-children", func(t *testing.T) {
		_, ok := eve.LookupChild("nope")
		assert.False(t, ok)
		_, ok = eve.LookupChildValue("nope")
		assert.False(t, ok)
		assert.False(t, eve.ChildValueIsTrue("nope"))
	})

	t.Run("from-map", func(t *testing.T) {
		node := FromMap(map[string]interface{}{
			"xff": map[string]interface{}{"enabled": true},
		})
		xff, ok := node.LookupChild("xff")
		require.True(t, ok)
		assert.True(t, xff.ChildValueIsTrue("enabled"))
	})
}
