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

package main

import (
	"context"
	"errors"
	"os"

	"github.com/gchux/pcap-eve/pkg/config"
	"github.com/gchux/pcap-eve/pkg/engine"
	"github.com/gchux/pcap-eve/pkg/logging"
	"github.com/gchux/pcap-eve/pkg/output"
	"github.com/gchux/pcap-eve/pkg/transformer"
	"github.com/spf13/cobra"
)

var configPath string

var logger = logging.New("cli")

var rootCmd = &cobra.Command{
	Use:   "pcap-eve",
	Short: "Replay packet captures and write EVE alert records",
	Long: `
Replay a packet capture together with the alerts raised on its packets and
write one EVE JSON record per alert, optionally resolving the original client
address from the X-Forwarded-For chain of HTTP requests.

Examples:
  pcap-eve validate -c eve.yaml
  pcap-eve replay -c eve.yaml -r http.pcap -a alerts.yaml
  pcap-eve replay -c eve.yaml -r http.pcap -a alerts.yaml --net 192.0.2.0/24 --port 80
`,
	SilenceUsage: true,
}

// handleError logs the outcome of a run; a reached `--timeout` is not a failure.
// Errors are returned so that deferred cleanup runs before `main` exits.
func handleError(prefix string, err error) error {
	if errors.Is(err, context.Canceled) {
		logger.Warnf("%s cancelled", prefix)
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		logger.Infof("%s complete", prefix)
		return nil
	}

	if err != nil {
		logger.Errorf("%s %v", prefix, err)
	}
	return err
}

// loadConfig reads the configuration file and applies its logging section.
func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := logging.Init(cfg.Logging); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newOutputConfig(cfg *config.Config) (transformer.OutputConfig, error) {
	mode, err := engine.ParseMode(cfg.Engine.Mode)
	if err != nil {
		return transformer.OutputConfig{}, err
	}
	return transformer.NewOutputConfig(cfg.AlertSection(), mode), nil
}

func newOutputWriter(cfg *config.Config) (*output.Writer, error) {
	return output.NewWriter(output.Options{
		Directory: cfg.EveLog.Directory,
		Filename:  cfg.EveLog.Filename,
		MaxSizeMB: cfg.EveLog.Rotate.MaxSizeMB,
		MaxAge:    cfg.EveLog.Rotate.MaxAge,
		Stdout:    cfg.EveLog.Stdout,
	})
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to the YAML configuration file")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
