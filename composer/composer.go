/**
 * Licensed to the Apache Software Foundation (ASF) under one
 * or more contributor license agreements.  See the NOTICE file
 * distributed with this work for additional information
 * regarding copyright ownership.  The ASF licenses this file
 * to you under the Apache License, Version 2.0 (the
 * "License"); you may not use this file except in compliance
 * with the License.  You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing,
 * software distributed under the License is distributed on an
 * "AS IS" BASIS, WITHOUT WARRANTIES OR CONDITIONS OF ANY
 * KIND, either express or implied.  See the License for the
 * specific language governing permissions and limitations
 * under the License.
 */

package main

import (
	"fmt"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/georgik/esp32-image-composer/composer/cli"
	"github.com/georgik/esp32-image-composer/util"
)

var ComposerLogLevel log.Level
var composerVersion = "0.1.0"

var composerSilent bool
var composerQuiet bool
var composerVerbose bool
var composerLogFile string
var composerConfigFile string

func composerCmd() *cobra.Command {
	composerHelpText := cli.FormatHelp(`espcomposer combines an ESP32 boot
		loader and a set of application images into a single flash image with
		a generated partition table.  It can also inspect existing images and
		raw flash dumps.`)
	composerHelpText += "\n\n" + cli.FormatHelp(`Settings are read from
		espcomposer.yml in the current directory or next to the executable;
		command-line flags take precedence.`)
	composerHelpEx := "  espcomposer compose -d firmwares -o combined-image.bin\n"
	composerHelpEx += "  espcomposer inspect combined-image.bin --detailed"

	logLevelStr := ""
	cmd := &cobra.Command{
		Use:     "espcomposer",
		Short:   "espcomposer builds and inspects ESP32 flash images",
		Long:    composerHelpText,
		Example: composerHelpEx,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			verbosity := util.VERBOSITY_DEFAULT
			if composerSilent {
				verbosity = util.VERBOSITY_SILENT
			} else if composerQuiet {
				verbosity = util.VERBOSITY_QUIET
			} else if composerVerbose {
				verbosity = util.VERBOSITY_VERBOSE
			}

			var err error
			ComposerLogLevel, err = log.ParseLevel(logLevelStr)
			if err != nil {
				cli.ComposerUsage(nil, util.ChildComposerError(err))
			}

			err = util.Init(ComposerLogLevel, composerLogFile, verbosity)
			if err != nil {
				cli.ComposerUsage(nil, err)
			}

			if err := cli.LoadConfig(composerConfigFile); err != nil {
				cli.ComposerUsage(nil, err)
			}

			if cli.Cfg.Verbose && verbosity == util.VERBOSITY_DEFAULT {
				util.Verbosity = util.VERBOSITY_VERBOSE
			}
		},
		Run: func(cmd *cobra.Command, args []string) {
			cmd.Help()
		},
	}

	cmd.PersistentFlags().BoolVarP(&composerVerbose, "verbose", "v", false,
		"Enable verbose output when executing commands")
	cmd.PersistentFlags().BoolVarP(&composerQuiet, "quiet", "q", false,
		"Be quiet; only display error output")
	cmd.PersistentFlags().BoolVarP(&composerSilent, "silent", "s", false,
		"Be silent; don't output anything")
	cmd.PersistentFlags().StringVarP(&logLevelStr, "loglevel", "l",
		"WARN", "Log level")
	cmd.PersistentFlags().StringVar(&composerLogFile, "logfile", "",
		"Filename to tee output to")
	cmd.PersistentFlags().StringVarP(&composerConfigFile, "config", "c", "",
		"Configuration file")

	versHelpText := cli.FormatHelp(`Display the espcomposer version number`)
	versHelpEx := "  espcomposer version"
	versCmd := &cobra.Command{
		Use:     "version",
		Short:   "Display the espcomposer version number",
		Long:    versHelpText,
		Example: versHelpEx,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s\n", composerVersion)
		},
	}

	cmd.AddCommand(versCmd)

	return cmd
}

func main() {
	cmd := composerCmd()

	cli.AddComposeCommands(cmd)
	cli.AddInspectCommands(cmd)

	cmd.Execute()
}
