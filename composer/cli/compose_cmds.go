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
	"errors"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/georgik/esp32-image-composer/artifact/espimage"
	"github.com/georgik/esp32-image-composer/artifact/partition"
	"github.com/georgik/esp32-image-composer/composer/config"
	"github.com/georgik/esp32-image-composer/composer/firmware"
	"github.com/georgik/esp32-image-composer/composer/flashargs"
	"github.com/georgik/esp32-image-composer/composer/flashimg"
	"github.com/georgik/esp32-image-composer/composer/flashmap"
	"github.com/georgik/esp32-image-composer/composer/platform"
	"github.com/georgik/esp32-image-composer/util"
)

const (
	FLASH_ARGS_FILENAME     = "flash_args"
	PART_TABLE_BIN_FILENAME = "partition-table.bin"
	PART_TABLE_CSV_FILENAME = "partitions.csv"
	BUNDLE_FIRMWARE_DIRNAME = "firmwares"
)

var OptFirmwareDir string
var OptOutput string
var OptFlashSize string
var OptMaxOtaSlots int
var OptPadFlash bool
var OptEncrypted bool
var OptLayout string
var OptDryRun bool
var OptHex bool
var OptFlashArgs string
var OptBundle string
var OptFromFlashArgs string
var OptCsv bool
var OptDetailed bool
var OptShowSizes bool

func addFirmwareFlags(fs *pflag.FlagSet) {
	fs.StringVarP(&OptFirmwareDir, "firmware-dir", "d", "",
		"Directory containing the ranked firmware binaries")
	fs.StringVar(&OptFlashSize, "flash-size", "",
		"Flash size (4MB, 8MB, 16MB or 32MB)")
	fs.IntVar(&OptMaxOtaSlots, "max-ota-partitions", 0,
		"Maximum number of OTA partitions to create")
	fs.StringVar(&OptLayout, "layout", "",
		"Fixed-region layout preset")
}

// effectiveConfig overlays the flags that were explicitly set on `cmd` onto
// the loaded configuration.
func effectiveConfig(cmd *cobra.Command) (config.Config, error) {
	c := Cfg
	flags := cmd.Flags()

	if flags.Changed("firmware-dir") {
		c.FirmwareDir = OptFirmwareDir
	}
	if flags.Changed("output") {
		c.OutputFile = OptOutput
	}
	if flags.Changed("flash-size") {
		fs, err := platform.ParseFlashSize(OptFlashSize)
		if err != nil {
			return c, err
		}
		c.FlashSize = fs
	}
	if flags.Changed("max-ota-partitions") {
		c.MaxOtaSlots = OptMaxOtaSlots
	}
	if flags.Changed("pad-flash") {
		c.PadFlash = OptPadFlash
	}
	if flags.Changed("encrypted") {
		c.Encrypted = OptEncrypted
	}
	if flags.Changed("layout") {
		l, err := platform.Preset(OptLayout)
		if err != nil {
			return c, err
		}
		c.Layout = l
	}

	if err := c.Validate(); err != nil {
		return c, err
	}

	return c, nil
}

func assembleOptions(c config.Config) flashimg.Options {
	mode := flashimg.MODE_MINIMAL
	if c.PadFlash {
		mode = flashimg.MODE_PADDED
	}

	return flashimg.Options{
		Mode:      mode,
		Capacity:  c.FlashSize.Bytes(),
		Encrypted: c.Encrypted,
		Layout:    c.Layout,
	}
}

func flashArgsOptions(c config.Config) flashargs.Options {
	return flashargs.Options{
		FlashMode: c.FlashMode,
		FlashFreq: c.FlashFreq,
		FlashSize: c.FlashSize.String(),
	}
}

// loadFlashArgs reads the components listed in an esptool argument file.
// Components are ranked in offset order.  The entry at the layout's
// partition table offset is skipped; a new table is always generated.
func loadFlashArgs(path string,
	layout platform.Layout) ([]firmware.Component, error) {

	f, err := os.Open(path)
	if err != nil {
		return nil, util.FmtChildComposerError(err,
			"Failed to read flash args: %s", err.Error())
	}
	defer f.Close()

	args, err := flashargs.Read(f)
	if err != nil {
		return nil, util.PreComposerError(err, "Invalid flash args file %s",
			path)
	}
	flashargs.SortEntries(args.Entries)

	dir := filepath.Dir(path)

	comps := []firmware.Component{}
	for _, e := range args.Entries {
		if e.Offset == layout.PartitionTable.Offset {
			log.Debugf("Skipping partition table entry %s", e.Path)
			continue
		}

		p := e.Path
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}

		comp, err := firmware.LoadFile(p, len(comps))
		if err != nil {
			return nil, err
		}
		comps = append(comps, comp)
	}

	if len(comps) == 0 {
		return nil, util.FmtComposerError(
			"No firmware entries in flash args file %s", path)
	}

	return comps, nil
}

func loadComponents(c config.Config) ([]firmware.Component, error) {
	var comps []firmware.Component
	var err error

	if OptFromFlashArgs != "" {
		comps, err = loadFlashArgs(OptFromFlashArgs, c.Layout)
	} else {
		comps, err = firmware.LoadDir(c.FirmwareDir)
	}
	if err != nil {
		return nil, err
	}

	statusMessage(util.VERBOSITY_DEFAULT,
		"Loaded %d firmware files\n", len(comps))
	for i, comp := range comps {
		statusMessage(util.VERBOSITY_VERBOSE,
			"    %02d %-24s %10s  %s\n", comp.Rank, comp.Name,
			util.FormatSize(comp.Len()), firmware.RoleName(i))
	}

	return comps, nil
}

func writeTable(level int, tbl partition.Table) {
	statusMessage(level, "Partition table:\n")
	for _, e := range tbl.Sorted() {
		statusMessage(level, "    %-16s %-4s %-8s 0x%08x 0x%08x %10s\n",
			e.Name, partition.TypeName(e.Type),
			partition.SubTypeName(e.Type, e.SubType), e.Offset, e.Size,
			util.FormatSize(e.Size))
	}
}

func buildTable(c config.Config,
	comps []firmware.Component) (partition.Table, error) {

	tbl, err := flashmap.Build(comps, c.FlashSize.Bytes(), c.MaxOtaSlots,
		c.Layout)
	if err != nil {
		return tbl, util.PreComposerError(err,
			"Failed to build partition table")
	}

	return tbl, nil
}

func relPath(base string, target string) string {
	rel, err := filepath.Rel(base, target)
	if err != nil {
		abs, err := filepath.Abs(target)
		if err != nil {
			return target
		}
		return abs
	}
	return rel
}

func writeFlashArgs(path string, c config.Config,
	entries []flashargs.Entry) error {

	b := &bytes.Buffer{}
	if err := flashargs.Write(b, flashArgsOptions(c), entries); err != nil {
		return err
	}

	return util.WriteFileAtomic(path, b.Bytes(), 0644)
}

// writeBundle populates `dir` with the image, each region as a separate
// file named after its partition, the partition table in both encodings, a flash_args file listing the
// regions, and a copy of the firmware directory.
func writeBundle(dir string, c config.Config, res flashimg.Result,
	tbl partition.Table) error {

	imgName := filepath.Base(c.OutputFile)
	if c.OutputFile == STDOUT_PATH || isGzipPath(imgName) {
		imgName = config.DEFAULT_OUTPUT_FILE
	}
	if err := util.WriteFileAtomic(filepath.Join(dir, imgName), res.Image,
		0644); err != nil {

		return err
	}

	byOffset := map[int]string{}
	for _, e := range tbl.Entries {
		byOffset[e.Offset] = e.Name
	}

	entries := []flashargs.Entry{}
	for _, r := range res.Regions {
		name := r.Name
		if n, ok := byOffset[r.Offset]; ok {
			name = n
		}
		name += firmware.BIN_EXT
		if err := util.WriteFileAtomic(filepath.Join(dir, name), r.Data,
			0644); err != nil {

			return err
		}
		entries = append(entries, flashargs.Entry{
			Offset: r.Offset,
			Path:   name,
		})
	}

	csv, err := tbl.MarshalCSV()
	if err != nil {
		return err
	}
	if err := util.WriteFileAtomic(
		filepath.Join(dir, PART_TABLE_CSV_FILENAME), csv, 0644); err != nil {

		return err
	}

	if err := writeFlashArgs(filepath.Join(dir, FLASH_ARGS_FILENAME), c,
		entries); err != nil {

		return err
	}

	if OptFromFlashArgs == "" {
		if err := util.CopyDir(c.FirmwareDir,
			filepath.Join(dir, BUNDLE_FIRMWARE_DIRNAME)); err != nil {

			return err
		}
	}

	statusMessage(util.VERBOSITY_DEFAULT, "Wrote bundle to %s\n", dir)
	return nil
}

// checkComposeOutputs rejects output combinations that cannot be written.
// It runs before anything is loaded or written.
func checkComposeOutputs(c config.Config, hex bool,
	flashArgsPath string) error {

	if flashArgsPath == "" {
		return nil
	}

	if c.OutputFile == STDOUT_PATH || hex || isGzipPath(c.OutputFile) {
		return util.NewComposerError(
			"--flash-args requires a raw binary output file")
	}

	return nil
}

func runComposeCmd(cmd *cobra.Command, args []string) {
	if len(args) != 0 {
		ComposerUsage(cmd, util.FmtComposerError(
			"Unexpected argument: %s", args[0]))
	}

	c, err := effectiveConfig(cmd)
	if err != nil {
		ComposerUsage(nil, err)
	}

	if err := checkComposeOutputs(c, OptHex, OptFlashArgs); err != nil {
		ComposerUsage(nil, err)
	}
	stdoutBusy = c.OutputFile == STDOUT_PATH

	comps, err := loadComponents(c)
	if err != nil {
		ComposerUsage(nil, err)
	}

	tbl, err := buildTable(c, comps)
	if err != nil {
		ComposerUsage(nil, err)
	}

	opts := assembleOptions(c)

	if OptDryRun {
		writeTable(util.VERBOSITY_DEFAULT, tbl)
		s := flashmap.Summarize(tbl, opts.Capacity)
		statusMessage(util.VERBOSITY_DEFAULT,
			"Dry run: %s image, %s of %s allocated (%.1f%%)\n",
			opts.Mode, util.FormatSize(s.Used), util.FormatSize(s.Capacity),
			s.Percent)
		return
	}
	writeTable(util.VERBOSITY_VERBOSE, tbl)

	if opts.Mode == flashimg.MODE_PADDED {
		CheckMemory(opts.Capacity)
	}

	res, err := flashimg.AssembleResult(comps, tbl, opts)
	if err != nil {
		ComposerUsage(nil, err)
	}

	if OptHex {
		b := &bytes.Buffer{}
		if err := flashimg.WriteIntelHex(b, res.Regions); err != nil {
			ComposerUsage(nil, err)
		}
		if err := WriteOutput(c.OutputFile, b.Bytes(), false); err != nil {
			ComposerUsage(nil, err)
		}
	} else {
		if err := WriteOutput(c.OutputFile, res.Image, true); err != nil {
			ComposerUsage(nil, err)
		}
	}

	if c.OutputFile != STDOUT_PATH {
		statusMessage(util.VERBOSITY_DEFAULT,
			"Wrote %s image %s (%s, %d regions)\n", opts.Mode, c.OutputFile,
			util.FormatSize(len(res.Image)), len(res.Regions))
	}

	if OptFlashArgs != "" {
		entries := []flashargs.Entry{{
			Offset: 0,
			Path:   relPath(filepath.Dir(OptFlashArgs), c.OutputFile),
		}}
		if err := writeFlashArgs(OptFlashArgs, c, entries); err != nil {
			ComposerUsage(nil, err)
		}
	}

	if OptBundle != "" {
		if err := writeBundle(OptBundle, c, res, tbl); err != nil {
			ComposerUsage(nil, err)
		}
	}
}

// loadPartitionTableComponents loads the firmware that sizes the partition
// table.  Placeholder images stand in when no firmware is available.
func loadPartitionTableComponents(
	c config.Config) ([]firmware.Component, error) {

	if OptFromFlashArgs == "" && util.NodeNotExist(c.FirmwareDir) {
		statusMessage(util.VERBOSITY_DEFAULT,
			"Firmware directory %s not found; sizing with placeholder "+
				"images\n", c.FirmwareDir)
		return flashmap.Placeholders(c.Layout), nil
	}

	comps, err := loadComponents(c)
	if err != nil {
		if !util.IsNotExist(err) && !errors.Is(err, firmware.ErrNoFirmware) {
			return nil, err
		}

		log.Debugf("Firmware not loaded: %s", err.Error())
		statusMessage(util.VERBOSITY_DEFAULT,
			"No firmware available; sizing with placeholder images\n")
		return flashmap.Placeholders(c.Layout), nil
	}

	return comps, nil
}

func runPartitionTableCmd(cmd *cobra.Command, args []string) {
	if len(args) > 1 {
		ComposerUsage(cmd, util.NewComposerError("Too many arguments"))
	}

	c, err := effectiveConfig(cmd)
	if err != nil {
		ComposerUsage(nil, err)
	}

	outPath := PART_TABLE_BIN_FILENAME
	if OptCsv {
		outPath = PART_TABLE_CSV_FILENAME
	}
	if len(args) > 0 {
		outPath = args[0]
	}
	stdoutBusy = outPath == STDOUT_PATH

	comps, err := loadPartitionTableComponents(c)
	if err != nil {
		ComposerUsage(nil, err)
	}

	tbl, err := buildTable(c, comps)
	if err != nil {
		ComposerUsage(nil, err)
	}

	writeTable(util.VERBOSITY_VERBOSE, tbl)
	if OptDryRun {
		writeTable(util.VERBOSITY_DEFAULT, tbl)
		return
	}

	var data []byte
	if OptCsv {
		data, err = tbl.MarshalCSV()
	} else {
		data, err = flashimg.PartitionTableOnly(tbl)
	}
	if err != nil {
		ComposerUsage(nil, err)
	}

	if err := WriteOutput(outPath, data, !OptCsv); err != nil {
		ComposerUsage(nil, err)
	}

	if outPath != STDOUT_PATH {
		statusMessage(util.VERBOSITY_DEFAULT,
			"Wrote partition table %s (%d entries)\n", outPath,
			len(tbl.Entries))
	}
}

func runValidateCmd(cmd *cobra.Command, args []string) {
	c, err := effectiveConfig(cmd)
	if err != nil {
		ComposerUsage(nil, err)
	}

	comps, err := loadComponents(c)
	if err != nil {
		ComposerUsage(nil, err)
	}

	for _, comp := range comps {
		if sz, err := espimage.ImageSizeOf(comp.Data); err == nil &&
			sz > comp.Len() {

			log.Warnf("Firmware \"%s\" is truncated: header declares %d "+
				"bytes, file has %d", comp.Name, sz, comp.Len())
		}
	}

	tbl, err := buildTable(c, comps)
	if err != nil {
		ComposerUsage(nil, err)
	}

	// Assembly checks headers, alignment and region bounds; the image itself
	// is discarded.
	opts := assembleOptions(c)
	opts.Mode = flashimg.MODE_MINIMAL
	if _, err := flashimg.AssembleResult(comps, tbl, opts); err != nil {
		ComposerUsage(nil, err)
	}

	if OptDetailed {
		writeTable(util.VERBOSITY_DEFAULT, tbl)

		s := flashmap.Summarize(tbl, c.FlashSize.Bytes())
		statusMessage(util.VERBOSITY_DEFAULT,
			"Flash usage: %s of %s (%.1f%%)\n", util.FormatSize(s.Used),
			util.FormatSize(s.Capacity), s.Percent)
	}

	statusMessage(util.VERBOSITY_DEFAULT,
		"Validation passed: %d firmware files, %d partitions\n",
		len(comps), len(tbl.Entries))
}

// imageSizeText describes the image length declared by a component's
// header.
func imageSizeText(comp firmware.Component) string {
	sz, err := espimage.ImageSizeOf(comp.Data)
	if err != nil {
		return "[no image header]"
	}
	if sz > comp.Len() {
		return fmt.Sprintf("[truncated; header declares %s]",
			util.FormatSize(sz))
	}
	return fmt.Sprintf("[image %s]", util.FormatSize(sz))
}

func runInfoCmd(cmd *cobra.Command, args []string) {
	c, err := effectiveConfig(cmd)
	if err != nil {
		ComposerUsage(nil, err)
	}

	comps, err := firmware.LoadDir(c.FirmwareDir)
	if err != nil {
		ComposerUsage(nil, err)
	}

	statusMessage(util.VERBOSITY_QUIET, "Firmware directory: %s\n",
		c.FirmwareDir)

	total := 0
	for i, comp := range comps {
		if OptShowSizes {
			statusMessage(util.VERBOSITY_QUIET,
				"    %02d %-24s %-12s %10s (0x%x) %s\n", comp.Rank, comp.Name,
				firmware.RoleName(i), util.FormatSize(comp.Len()),
				comp.Len(), imageSizeText(comp))
		} else {
			statusMessage(util.VERBOSITY_QUIET,
				"    %02d %-24s %s\n", comp.Rank, comp.Name,
				firmware.RoleName(i))
		}
		total += comp.Len()
	}

	if OptShowSizes {
		statusMessage(util.VERBOSITY_QUIET, "Total: %s\n",
			util.FormatSize(total))
	}
}

func AddComposeCommands(cmd *cobra.Command) {
	composeHelpText := FormatHelp(`Builds a flash image from the ranked
binaries in the firmware directory.  The first binary is the boot loader,
the second the factory application, and each further binary an OTA
application.  A partition table is generated and placed in the image.`)

	composeCmd := &cobra.Command{
		Use:   "compose",
		Short: "Builds a combined flash image",
		Long:  composeHelpText,
		Run:   runComposeCmd,
	}

	addFirmwareFlags(composeCmd.Flags())
	composeCmd.Flags().StringVarP(&OptOutput, "output", "o", "",
		"Output file; \"-\" for stdout, \".gz\" suffix compresses")
	composeCmd.Flags().BoolVar(&OptPadFlash, "pad-flash", false,
		"Pad the image to the full flash size")
	composeCmd.Flags().BoolVar(&OptEncrypted, "encrypted", false,
		"Require 16-byte application alignment for flash encryption")
	composeCmd.Flags().BoolVar(&OptDryRun, "dry-run", false,
		"Show the partition layout without writing anything")
	composeCmd.Flags().BoolVar(&OptHex, "hex", false,
		"Write the image in Intel HEX format")
	composeCmd.Flags().StringVar(&OptFlashArgs, "flash-args", "",
		"Also write an esptool flash_args file for the image")
	composeCmd.Flags().StringVar(&OptBundle, "bundle", "",
		"Also write a directory with the image, its regions and flash_args")
	composeCmd.Flags().StringVar(&OptFromFlashArgs, "from-flash-args", "",
		"Load firmware from an esptool flash_args file")

	cmd.AddCommand(composeCmd)

	ptCmd := &cobra.Command{
		Use:   "partition-table [output]",
		Short: "Writes only the partition table",
		Run:   runPartitionTableCmd,
	}

	addFirmwareFlags(ptCmd.Flags())
	ptCmd.Flags().BoolVar(&OptCsv, "csv", false,
		"Write the table in ESP-IDF CSV format")
	ptCmd.Flags().BoolVar(&OptDryRun, "dry-run", false,
		"Show the partition table without writing it")

	cmd.AddCommand(ptCmd)

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Checks the firmware files and the resulting layout",
		Run:   runValidateCmd,
	}

	addFirmwareFlags(validateCmd.Flags())
	validateCmd.Flags().BoolVar(&OptEncrypted, "encrypted", false,
		"Require 16-byte application alignment for flash encryption")
	validateCmd.Flags().BoolVar(&OptDetailed, "detailed", false,
		"Show the partition table and flash usage")

	cmd.AddCommand(validateCmd)

	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Lists the firmware files",
		Run:   runInfoCmd,
	}

	addFirmwareFlags(infoCmd.Flags())
	infoCmd.Flags().BoolVar(&OptShowSizes, "show-sizes", false,
		"Show file sizes")

	cmd.AddCommand(infoCmd)
}
