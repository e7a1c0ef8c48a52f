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

// Package config reads the composer's YAML configuration file.
package config

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/kardianos/osext"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cast"
	"gopkg.in/yaml.v3"

	"github.com/georgik/esp32-image-composer/composer/platform"
	"github.com/georgik/esp32-image-composer/util"
)

const CONFIG_FILENAME = "espcomposer.yml"

const (
	DEFAULT_FIRMWARE_DIR = "firmwares"
	DEFAULT_OUTPUT_FILE  = "combined-image.bin"
	DEFAULT_FLASH_MODE   = "dio"
	DEFAULT_FLASH_FREQ   = "80m"
)

var flashModes = []string{"qio", "qout", "dio", "dout"}

var flashFreqs = []string{
	"80m", "60m", "48m", "40m", "30m", "26m", "24m", "20m", "16m", "15m",
	"12m",
}

type Config struct {
	FlashSize   platform.FlashSize
	FirmwareDir string
	OutputFile  string
	MaxOtaSlots int
	PadFlash    bool
	Encrypted   bool
	Layout      platform.Layout
	FlashMode   string
	FlashFreq   string
	Verbose     bool

	// Path of the file the configuration was read from; empty for defaults.
	Path string
}

func Default() Config {
	return Config{
		FlashSize:   platform.DEFAULT_FLASH_SIZE,
		FirmwareDir: DEFAULT_FIRMWARE_DIR,
		OutputFile:  DEFAULT_OUTPUT_FILE,
		MaxOtaSlots: platform.MAX_OTA_SLOTS,
		Layout:      platform.Default(),
		FlashMode:   DEFAULT_FLASH_MODE,
		FlashFreq:   DEFAULT_FLASH_FREQ,
	}
}

func readSettings(path string) (map[string]interface{}, error) {
	file, err := os.ReadFile(path)
	if err != nil {
		return nil, util.ChildComposerError(err)
	}

	settings := map[string]interface{}{}
	if err := yaml.Unmarshal(file, &settings); err != nil {
		return nil, util.FmtComposerError("Failure parsing \"%s\": %s",
			path, err.Error())
	}

	return settings, nil
}

func settingErr(path string, key string, val interface{}) error {
	return util.FmtComposerError(
		"%s: invalid value for \"%s\": %v", path, key, val)
}

func parseLayout(val interface{}) (platform.Layout, error) {
	if name, ok := val.(string); ok {
		return platform.Preset(name)
	}

	m, err := cast.ToStringMapE(val)
	if err != nil {
		return platform.Layout{}, util.FmtComposerError(
			"layout must be a preset name or a mapping")
	}

	return platform.Parse(m)
}

// Apply overlays the settings in a parsed YAML mapping onto the
// configuration.  Unrecognized keys produce a warning.
func (c *Config) Apply(path string, settings map[string]interface{}) error {
	var err error

	for k, v := range settings {
		switch k {
		case "flash_size":
			c.FlashSize, err = platform.ParseFlashSize(cast.ToString(v))
			if err != nil {
				return util.PreComposerError(err, "%s", path)
			}

		case "firmware_dir":
			c.FirmwareDir = cast.ToString(v)

		case "output_file":
			c.OutputFile = cast.ToString(v)

		case "max_ota_partitions", "max_ota_slots":
			c.MaxOtaSlots, err = cast.ToIntE(v)
			if err != nil {
				return settingErr(path, k, v)
			}

		case "pad_flash":
			c.PadFlash, err = cast.ToBoolE(v)
			if err != nil {
				return settingErr(path, k, v)
			}

		case "encrypted":
			c.Encrypted, err = cast.ToBoolE(v)
			if err != nil {
				return settingErr(path, k, v)
			}

		case "verbose":
			c.Verbose, err = cast.ToBoolE(v)
			if err != nil {
				return settingErr(path, k, v)
			}

		case "layout":
			c.Layout, err = parseLayout(v)
			if err != nil {
				return util.PreComposerError(err, "%s", path)
			}

		case "flash_mode":
			c.FlashMode = strings.ToLower(cast.ToString(v))

		case "flash_freq":
			c.FlashFreq = strings.ToLower(cast.ToString(v))

		default:
			util.StatusMessage(util.VERBOSITY_QUIET,
				"Warning: %s contains unrecognized setting: %s\n", path, k)
		}
	}

	return nil
}

// Load reads a configuration file.  Settings absent from the file keep their
// default values.
func Load(path string) (Config, error) {
	c := Default()

	settings, err := readSettings(path)
	if err != nil {
		return c, err
	}

	if err := c.Apply(path, settings); err != nil {
		return c, err
	}
	c.Path = path

	log.Debugf("Loaded configuration from %s", path)

	return c, nil
}

// Find looks for a configuration file in the working directory, then in the
// directory holding the executable.  The second return value is false if
// neither exists.
func Find() (string, bool) {
	candidates := []string{CONFIG_FILENAME}

	if exeDir, err := osext.ExecutableFolder(); err == nil {
		candidates = append(candidates, filepath.Join(exeDir, CONFIG_FILENAME))
	} else {
		log.Debugf("Cannot determine executable folder: %s", err.Error())
	}

	for _, path := range candidates {
		if util.NodeExist(path) {
			return path, true
		}
	}

	return "", false
}

func contains(list []string, s string) bool {
	for _, e := range list {
		if e == s {
			return true
		}
	}
	return false
}

func (c *Config) Validate() error {
	if _, err := platform.ParseFlashSize(c.FlashSize.String()); err != nil {
		return err
	}

	if c.MaxOtaSlots < 0 || c.MaxOtaSlots > c.Layout.MaxOtaSlots {
		return util.FmtComposerError(
			"max OTA partitions must be in [0, %d]; have %d",
			c.Layout.MaxOtaSlots, c.MaxOtaSlots)
	}

	if err := c.Layout.Validate(); err != nil {
		return err
	}

	if !contains(flashModes, c.FlashMode) {
		return util.FmtComposerError(
			"invalid flash mode \"%s\"; valid modes: %s",
			c.FlashMode, strings.Join(flashModes, ", "))
	}
	if !contains(flashFreqs, c.FlashFreq) {
		return util.FmtComposerError(
			"invalid flash frequency \"%s\"; valid frequencies: %s",
			c.FlashFreq, strings.Join(flashFreqs, ", "))
	}

	return nil
}
