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
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/gchux/pcap-eve/pkg/pcap"
	"github.com/pterm/pterm"
	"github.com/spf13/cobra"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check the configuration and, optionally, an alerts file",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}

		// configuration warnings are logged while building the output settings
		outputConfig, err := newOutputConfig(cfg)
		if err != nil {
			return err
		}

		data := pterm.TableData{
			{"setting", "value"},
			{"engine.mode", outputConfig.EngineMode.String()},
			{"eve-log.file", filepath.Join(cfg.EveLog.Directory, cfg.EveLog.Filename)},
			{"eve-log.stdout", strconv.FormatBool(cfg.EveLog.Stdout)},
			{"eve-log.workers", strconv.Itoa(cfg.EveLog.Workers)},
			{"eve-log.ordered", strconv.FormatBool(cfg.EveLog.Ordered)},
			{"alert.payload", strconv.FormatBool(outputConfig.Payload)},
			{"alert.payload-printable", strconv.FormatBool(outputConfig.PayloadPrintable)},
			{"alert.packet", strconv.FormatBool(outputConfig.Packet)},
			{"alert.http", strconv.FormatBool(outputConfig.HTTP)},
			{"alert.xff.mode", outputConfig.XFF.Mode.String()},
			{"alert.xff.header", outputConfig.XFF.Header},
		}

		if alertsPath != "" {
			book, err := pcap.LoadAlertBook(alertsPath)
			if err != nil {
				return err
			}
			data = append(data, []string{"alerts", strconv.Itoa(book.Len())})
		}

		table, err := pterm.DefaultTable.WithHasHeader().WithData(data).Srender()
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), table)

		return nil
	},
}

func init() {
	validateCmd.Flags().StringVarP(&alertsPath, "alerts", "a", "", "YAML file with the alerts raised on each packet")
	rootCmd.AddCommand(validateCmd)
}
