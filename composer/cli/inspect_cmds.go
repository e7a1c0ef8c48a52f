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

package cli

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/spf13/cobra"

	"github.com/georgik/esp32-image-composer/composer/firmware"
	"github.com/georgik/esp32-image-composer/composer/inspect"
	"github.com/georgik/esp32-image-composer/util"
)

var OptVerifyChecksums bool
var OptJson bool

func inspectOptions(cmd *cobra.Command) (inspect.Options, error) {
	c, err := effectiveConfig(cmd)
	if err != nil {
		return inspect.Options{}, err
	}

	return inspect.Options{
		Detailed:        OptDetailed,
		VerifyChecksums: OptVerifyChecksums,
		Layout:          c.Layout,
	}, nil
}

func runInspectCmd(cmd *cobra.Command, args []string) {
	if len(args) < 1 {
		ComposerUsage(cmd, util.NewComposerError("Must specify image file"))
	}

	opts, err := inspectOptions(cmd)
	if err != nil {
		ComposerUsage(nil, err)
	}

	raw, err := ReadImage(args[0])
	if err != nil {
		ComposerUsage(nil, err)
	}

	rep := inspect.Inspect(raw, opts)

	if OptJson {
		s, err := rep.Json()
		if err != nil {
			ComposerUsage(nil, err)
		}
		fmt.Printf("%s\n", s)
		return
	}

	b := &bytes.Buffer{}
	if err := rep.WriteText(b); err != nil {
		ComposerUsage(nil, err)
	}
	util.StatusMessage(util.VERBOSITY_QUIET, "%s", b.String())
}

func runSplitCmd(cmd *cobra.Command, args []string) {
	if len(args) < 2 {
		ComposerUsage(cmd, util.NewComposerError(
			"Must specify image file and output directory"))
	}

	opts, err := inspectOptions(cmd)
	if err != nil {
		ComposerUsage(nil, err)
	}
	opts.Detailed = true

	raw, err := ReadImage(args[0])
	if err != nil {
		ComposerUsage(nil, err)
	}

	outDir := args[1]
	if util.NodeExist(outDir) {
		ComposerUsage(nil, util.FmtComposerError(
			"Destination \"%s\" already exists", outDir))
	}

	rep := inspect.Inspect(raw, opts)
	parts := inspect.Split(raw, rep)
	if len(parts) == 0 {
		ComposerUsage(nil, util.FmtComposerError(
			"No regions found in %s", args[0]))
	}

	if err := os.MkdirAll(outDir, 0755); err != nil {
		ComposerUsage(nil, util.ChildComposerError(err))
	}

	names := make([]string, 0, len(parts))
	for name := range parts {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		path := filepath.Join(outDir, name+firmware.BIN_EXT)
		if err := util.WriteFileAtomic(path, parts[name], 0644); err != nil {
			ComposerUsage(nil, err)
		}
		util.StatusMessage(util.VERBOSITY_DEFAULT, "Wrote %s (%s)\n", path,
			util.FormatSize(len(parts[name])))
	}
}

func AddInspectCommands(cmd *cobra.Command) {
	inspectHelpText := FormatHelp(`Analyzes a flash image or a raw flash
dump.  Reports the boot loader, partition table, factory and OTA regions it
finds.  Malformed or partial input is reported, never rejected.  Accepts raw
binaries, gzip-compressed binaries (.gz) and Intel HEX files (.hex).`)

	inspectCmd := &cobra.Command{
		Use:   "inspect <image>",
		Short: "Analyzes a flash image",
		Long:  inspectHelpText,
		Run:   runInspectCmd,
	}

	inspectCmd.Flags().StringVar(&OptLayout, "layout", "",
		"Fixed-region layout preset")
	inspectCmd.Flags().BoolVar(&OptDetailed, "detailed", false,
		"Include image headers, segments and flash usage")
	inspectCmd.Flags().BoolVar(&OptVerifyChecksums, "verify-checksums",
		false, "Verify the checksum of each application image")
	inspectCmd.Flags().BoolVar(&OptJson, "json", false,
		"Print the report as JSON")

	cmd.AddCommand(inspectCmd)

	splitCmd := &cobra.Command{
		Use:   "split <image> <out-dir>",
		Short: "Writes each region of a flash image to a separate file",
		Run:   runSplitCmd,
	}

	splitCmd.Flags().StringVar(&OptLayout, "layout", "",
		"Fixed-region layout preset")

	cmd.AddCommand(splitCmd)
}
