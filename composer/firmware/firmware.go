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

// Package firmware discovers the binaries that make up a flash image.
package firmware

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/georgik/esp32-image-composer/util"
)

const BIN_EXT = ".bin"

// ErrNoFirmware is the parent of the error LoadDir returns for a directory
// without ranked binaries.
var ErrNoFirmware = errors.New("no valid firmware files")

// Position of a component in rank order determines its role.
const (
	ROLE_BOOTLOADER = 0
	ROLE_FACTORY    = 1
	ROLE_OTA_FIRST  = 2
)

// Component is one input binary.  Components are created by the loader and
// never modified afterwards; consumers that patch bytes work on a copy.
type Component struct {
	Name string
	Rank int
	Path string
	Data []byte
}

func (c *Component) Len() int {
	return len(c.Data)
}

// Bytes returns a private copy of the component's contents.
func (c *Component) Bytes() []byte {
	b := make([]byte, len(c.Data))
	copy(b, c.Data)
	return b
}

func RoleName(idx int) string {
	switch {
	case idx == ROLE_BOOTLOADER:
		return "bootloader"
	case idx == ROLE_FACTORY:
		return "factory"
	default:
		return "ota_" + strconv.Itoa(idx-ROLE_OTA_FIRST)
	}
}

// ParseFileName extracts the rank and display name from a file name such as
// "01-bootloader.bin".  The text before the first dash must consist of at
// least two decimal digits.  The final return value is false if the name
// does not follow this convention.
func ParseFileName(base string) (int, string, bool) {
	if !strings.EqualFold(filepath.Ext(base), BIN_EXT) {
		return 0, "", false
	}

	stem := base[:len(base)-len(BIN_EXT)]
	dash := strings.IndexByte(stem, '-')
	if dash < 2 {
		return 0, "", false
	}

	prefix := stem[:dash]
	for _, c := range prefix {
		if c < '0' || c > '9' {
			return 0, "", false
		}
	}

	rank, err := strconv.Atoi(prefix)
	if err != nil {
		return 0, "", false
	}

	return rank, stem[dash+1:], true
}

func SortByRank(comps []Component) {
	sort.SliceStable(comps, func(i, j int) bool {
		return comps[i].Rank < comps[j].Rank
	})
}

// LoadFile reads a single binary and assigns it the specified rank.  The
// display name is taken from the file name.
func LoadFile(path string, rank int) (Component, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Component{}, util.FmtChildComposerError(err,
			"Failed to read firmware file \"%s\": %s", path, err.Error())
	}

	base := filepath.Base(path)
	_, name, ok := ParseFileName(base)
	if !ok {
		name = strings.TrimSuffix(base, filepath.Ext(base))
	}

	return Component{
		Name: name,
		Rank: rank,
		Path: path,
		Data: data,
	}, nil
}

// LoadDir recursively scans `dir` for ranked binaries and returns them in
// ascending rank order.  When two files share a rank, the one visited later
// in lexical walk order is kept.
func LoadDir(dir string) ([]Component, error) {
	info, err := os.Stat(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, util.FmtChildComposerError(err,
				"Firmware directory does not exist: %s", dir)
		}
		return nil, util.ChildComposerError(err)
	}
	if !info.IsDir() {
		return nil, util.FmtComposerError("Not a directory: %s", dir)
	}

	byRank := map[int]Component{}

	err = filepath.WalkDir(dir, func(path string, d fs.DirEntry,
		err error) error {

		if err != nil {
			return err
		}
		if !d.Type().IsRegular() {
			return nil
		}

		rank, name, ok := ParseFileName(d.Name())
		if !ok {
			log.Debugf("Ignoring file without rank prefix: %s", path)
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}

		if prev, ok := byRank[rank]; ok {
			log.Warnf("Firmware files %s and %s share rank %02d; "+
				"using %s", prev.Path, path, rank, path)
		}

		byRank[rank] = Component{
			Name: name,
			Rank: rank,
			Path: path,
			Data: data,
		}

		return nil
	})
	if err != nil {
		return nil, util.ChildComposerError(err)
	}

	if len(byRank) == 0 {
		return nil, util.FmtChildComposerError(ErrNoFirmware,
			"No valid firmware files found in directory: %s", dir)
	}

	comps := make([]Component, 0, len(byRank))
	for _, c := range byRank {
		comps = append(comps, c)
	}
	SortByRank(comps)

	log.Infof("Loaded %d firmware files", len(comps))
	for _, c := range comps {
		log.Debugf("%s: %d bytes (rank %02d)", c.Name, c.Len(), c.Rank)
	}

	return comps, nil
}
