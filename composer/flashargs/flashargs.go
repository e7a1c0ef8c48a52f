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

// Package flashargs reads and writes esptool argument files ("flash_args"):
// a line of flash options followed by offset / path pairs.
package flashargs

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kballard/go-shellquote"
	log "github.com/sirupsen/logrus"

	"github.com/georgik/esp32-image-composer/util"
)

const (
	OPT_FLASH_MODE = "flash_mode"
	OPT_FLASH_FREQ = "flash_freq"
	OPT_FLASH_SIZE = "flash_size"
)

type Options struct {
	FlashMode string
	FlashFreq string
	FlashSize string
}

type Entry struct {
	Offset int
	Path   string
}

type Args struct {
	Options
	Entries []Entry
}

func SortEntries(entries []Entry) {
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Offset < entries[j].Offset
	})
}

// Write emits a flash_args file.  Paths are shell-quoted as needed.
func Write(w io.Writer, opts Options, entries []Entry) error {
	b := &bytes.Buffer{}

	optToks := []string{}
	for _, o := range []struct {
		name string
		val  string
	}{
		{OPT_FLASH_MODE, opts.FlashMode},
		{OPT_FLASH_FREQ, opts.FlashFreq},
		{OPT_FLASH_SIZE, opts.FlashSize},
	} {
		if o.val != "" {
			optToks = append(optToks, "--"+o.name, shellquote.Join(o.val))
		}
	}
	b.WriteString(strings.Join(optToks, " "))
	b.WriteString("\n")

	sorted := append([]Entry{}, entries...)
	SortEntries(sorted)
	for _, e := range sorted {
		fmt.Fprintf(b, "0x%x %s\n", e.Offset, shellquote.Join(e.Path))
	}

	if _, err := w.Write(b.Bytes()); err != nil {
		return util.ChildComposerError(err)
	}

	return nil
}

func isNumber(s string) bool {
	_, ok := util.AtoiNoOctTry(s)
	return ok
}

// Read parses a flash_args file.  Options and offset / path pairs may appear
// on any line.  Unrecognized options are ignored.  Entries are returned in
// offset order.
func Read(r io.Reader) (Args, error) {
	args := Args{}

	toks := []string{}
	scanner := bufio.NewScanner(r)
	lineNum := 0
	for scanner.Scan() {
		lineNum++
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		lineToks, err := shellquote.Split(line)
		if err != nil {
			return args, util.FmtComposerError(
				"flash_args line %d: %s", lineNum, err.Error())
		}
		toks = append(toks, lineToks...)
	}
	if err := scanner.Err(); err != nil {
		return args, util.ChildComposerError(err)
	}

	for i := 0; i < len(toks); i++ {
		tok := toks[i]

		if strings.HasPrefix(tok, "--") {
			name := strings.TrimPrefix(tok, "--")
			val := ""
			if eq := strings.IndexByte(name, '='); eq >= 0 {
				val = name[eq+1:]
				name = name[:eq]
			} else if i+1 < len(toks) &&
				!strings.HasPrefix(toks[i+1], "--") &&
				!isNumber(toks[i+1]) {

				i++
				val = toks[i]
			}

			switch name {
			case OPT_FLASH_MODE:
				args.FlashMode = val
			case OPT_FLASH_FREQ:
				args.FlashFreq = val
			case OPT_FLASH_SIZE:
				args.FlashSize = val
			default:
				log.Debugf("Ignoring flash_args option \"%s\"", tok)
			}
			continue
		}

		off, err := util.AtoiNoOct(tok)
		if err != nil {
			return args, util.FmtComposerError(
				"flash_args: expected offset; have \"%s\"", tok)
		}
		if i+1 >= len(toks) {
			return args, util.FmtComposerError(
				"flash_args: offset 0x%x has no file", off)
		}
		i++

		args.Entries = append(args.Entries, Entry{
			Offset: off,
			Path:   toks[i],
		})
	}

	SortEntries(args.Entries)

	return args, nil
}
