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
	"strings"
	"time"

	"github.com/gchux/pcap-eve/pkg/logging"
	"github.com/pkg/errors"
	"github.com/spf13/viper"
)

type (
	Config struct {
		Engine  EngineConfig   `mapstructure:"engine"`
		Logging logging.Config `mapstructure:"logging"`
		EveLog  EveLogConfig   `mapstructure:"eve-log"`
		Metrics MetricsConfig  `mapstructure:"metrics"`

		v *viper.Viper
	}

	EngineConfig struct {
		Mode string `mapstructure:"mode"`
	}

	EveLogConfig struct {
		Directory string       `mapstructure:"directory"`
		Filename  string       `mapstructure:"filename"`
		Stdout    bool         `mapstructure:"stdout"`
		Rotate    RotateConfig `mapstructure:"rotate"`
		Workers   int          `mapstructure:"workers"`
		Ordered   bool         `mapstructure:"ordered"`
	}

	RotateConfig struct {
		MaxSizeMB int64         `mapstructure:"max-size-mb"`
		MaxAge    time.Duration `mapstructure:"max-age"`
	}

	MetricsConfig struct {
		Listen string `mapstructure:"listen"`
	}
)

const (
	EnvPrefix       = "EVE"
	DefaultFilename = "alert.json"

	alertSectionKey = "eve-log.alert"
)

func setDefaults(v *viper.Viper) {
	v.SetDefault("engine.mode", "ids")
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.file.max-size-mb", 100)
	v.SetDefault("logging.file.max-backups", 5)
	v.SetDefault("logging.file.max-age-days", 30)
	v.SetDefault("eve-log.directory", ".")
	v.SetDefault("eve-log.filename", DefaultFilename)
	v.SetDefault("eve-log.workers", 4)
	v.SetDefault("eve-log.ordered", true)
}

// Load reads the YAML file at path; an empty path yields the defaults.
// Values may be overridden with `EVE_` prefixed environment variables, i/e: `EVE_ENGINE_MODE=ips`.
func Load(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read config file %s", path)
		}
	}

	cfg := &Config{v: v}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal config")
	}

	if cfg.EveLog.Workers <= 0 {
		cfg.EveLog.Workers = 1
	}

	return cfg, nil
}

// Section returns the node at key, or an empty node when it is not configured.
func (c *Config) Section(key string) Node {
	if c.v == nil || !c.v.IsSet(key) {
		return EmptyNode()
	}
	if sub := c.v.Sub(key); sub != nil {
		return NewNode(sub)
	}
	return EmptyNode()
}

// AlertSection returns the `eve-log.alert` output section.
func (c *Config) AlertSection() Node {
	return c.Section(alertSectionKey)
}
