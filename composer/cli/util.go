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
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/klauspost/pgzip"
	"github.com/shirou/gopsutil/mem"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/georgik/esp32-image-composer/composer/config"
	"github.com/georgik/esp32-image-composer/composer/flashimg"
	"github.com/georgik/esp32-image-composer/util"
)

const STDOUT_PATH = "-"

// Configuration in effect for the current invocation: defaults, overlaid by
// the configuration file.  Command-line flags are applied per command.
var Cfg = config.Default()

// Set while stdout carries an artifact; status output then goes to stderr.
var stdoutBusy bool

func statusMessage(level int, message string, args ...interface{}) {
	if stdoutBusy {
		util.ErrorMessage(level, message, args...)
	} else {
		util.StatusMessage(level, message, args...)
	}
}

func ComposerUsage(cmd *cobra.Command, err error) {
	if err != nil {
		var ce *util.ComposerError
		if errors.As(err, &ce) {
			log.Debugf("%s", ce.StackTrace)
		}
		fmt.Fprintf(os.Stderr, "Error: %s\n", err.Error())
	}

	if cmd != nil {
		fmt.Printf("\n")
		fmt.Printf("%s - ", cmd.Name())
		cmd.Help()
	}
	os.Exit(1)
}

func FormatHelp(text string) string {
	// first compress all new lines and extra spaces
	words := regexp.MustCompile("\\s+").Split(text, -1)
	linelen := 0
	fmtText := ""
	for _, word := range words {
		word = strings.Trim(word, "\n ") + " "
		tmplen := linelen + len(word)
		if tmplen >= 80 {
			fmtText += "\n"
			linelen = 0
		}
		fmtText += word
		linelen += len(word)
	}
	return fmtText
}

// LoadConfig reads the specified configuration file, or the one found by
// config.Find when `path` is empty.  Defaults are used when no file exists.
func LoadConfig(path string) error {
	if path == "" {
		var ok bool
		path, ok = config.Find()
		if !ok {
			log.Debugf("No configuration file found; using defaults")
			Cfg = config.Default()
			return nil
		}
	}

	c, err := config.Load(path)
	if err != nil {
		return err
	}

	Cfg = c
	return nil
}

func isGzipPath(path string) bool {
	return strings.HasSuffix(strings.ToLower(path), ".gz")
}

func isHexPath(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	return ext == ".hex" || ext == ".ihex"
}

// ReadImage reads a raw flash image.  Gzip-compressed (".gz") and Intel HEX
// (".hex") files are decoded.
func ReadImage(path string) ([]byte, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, util.FmtChildComposerError(err,
			"Failed to read image: %s", err.Error())
	}
	defer f.Close()

	var r io.Reader = f
	if isGzipPath(path) {
		zr, err := pgzip.NewReader(f)
		if err != nil {
			return nil, util.FmtChildComposerError(err,
				"Failed to decompress \"%s\": %s", path, err.Error())
		}
		defer zr.Close()
		r = zr
		path = strings.TrimSuffix(path, filepath.Ext(path))
	}

	if isHexPath(path) {
		return flashimg.ReadIntelHex(r)
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, util.FmtChildComposerError(err,
			"Failed to read image: %s", err.Error())
	}

	return data, nil
}

func gzipBytes(data []byte) ([]byte, error) {
	b := &bytes.Buffer{}

	zw := pgzip.NewWriter(b)
	if _, err := zw.Write(data); err != nil {
		return nil, util.ChildComposerError(err)
	}
	if err := zw.Close(); err != nil {
		return nil, util.ChildComposerError(err)
	}

	return b.Bytes(), nil
}

// WriteOutput writes an artifact to `path`.  A path of "-" selects stdout,
// which is refused for binary data when stdout is a terminal.  Paths ending
// in ".gz" are compressed.  Files are replaced atomically.
func WriteOutput(path string, data []byte, binary bool) error {
	if isGzipPath(path) {
		var err error
		if data, err = gzipBytes(data); err != nil {
			return err
		}
		binary = true
	}

	if path == STDOUT_PATH {
		if binary && term.IsTerminal(int(os.Stdout.Fd())) {
			return util.NewComposerError(
				"Refusing to write binary output to a terminal")
		}
		if _, err := os.Stdout.Write(data); err != nil {
			return util.ChildComposerError(err)
		}
		return nil
	}

	return util.WriteFileAtomic(path, data, 0644)
}

// CheckMemory warns when a buffer of `size` bytes exceeds the memory
// currently available.
func CheckMemory(size int) {
	vm, err := mem.VirtualMemory()
	if err != nil {
		log.Debugf("Cannot determine available memory: %s", err.Error())
		return
	}

	if uint64(size) > vm.Available {
		log.Warnf("Image size %s exceeds available memory %s",
			util.FormatSize(size), util.FormatSize(int(vm.Available)))
	}
}
