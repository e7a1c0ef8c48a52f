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

// Package partition models an ESP-IDF partition table and converts it to and
// from its on-device binary form and its CSV text form.
package partition

import (
	"fmt"
	"strings"

	"github.com/georgik/esp32-image-composer/util"
)

type Type uint8
type SubType uint8
type Flags uint32

const (
	TYPE_APP  Type = 0x00
	TYPE_DATA Type = 0x01
)

// App subtypes.
const (
	SUBTYPE_FACTORY SubType = 0x00
	SUBTYPE_OTA_MIN SubType = 0x10
	SUBTYPE_OTA_MAX SubType = 0x1f
	SUBTYPE_TEST    SubType = 0x20
)

// Data subtypes.
const (
	SUBTYPE_DATA_OTA       SubType = 0x00
	SUBTYPE_DATA_PHY       SubType = 0x01
	SUBTYPE_DATA_NVS       SubType = 0x02
	SUBTYPE_DATA_COREDUMP  SubType = 0x03
	SUBTYPE_DATA_NVS_KEYS  SubType = 0x04
	SUBTYPE_DATA_EFUSE     SubType = 0x05
	SUBTYPE_DATA_UNDEFINED SubType = 0x06
	SUBTYPE_DATA_FAT       SubType = 0x81
	SUBTYPE_DATA_SPIFFS    SubType = 0x82
)

const (
	FLAG_ENCRYPTED Flags = 1 << 0
	FLAG_READONLY  Flags = 1 << 1
)

const NAME_MAX_LEN = 16

const (
	ENTRY_NAME_BOOTLOADER = "bootloader"
	ENTRY_NAME_PART_TABLE = "partition-table"
	ENTRY_NAME_NVS        = "nvs"
	ENTRY_NAME_OTADATA    = "otadata"
	ENTRY_NAME_FACTORY    = "factory"
	ENTRY_NAME_OTA_PREFIX = "ota_"
)

var typeNames = map[Type]string{
	TYPE_APP:  "app",
	TYPE_DATA: "data",
}

var appSubTypeNames = map[SubType]string{
	SUBTYPE_FACTORY: "factory",
	SUBTYPE_TEST:    "test",
}

var dataSubTypeNames = map[SubType]string{
	SUBTYPE_DATA_OTA:       "ota",
	SUBTYPE_DATA_PHY:       "phy",
	SUBTYPE_DATA_NVS:       "nvs",
	SUBTYPE_DATA_COREDUMP:  "coredump",
	SUBTYPE_DATA_NVS_KEYS:  "nvs_keys",
	SUBTYPE_DATA_EFUSE:     "efuse",
	SUBTYPE_DATA_UNDEFINED: "undefined",
	SUBTYPE_DATA_FAT:       "fat",
	SUBTYPE_DATA_SPIFFS:    "spiffs",
}

var flagNames = []struct {
	flag Flags
	name string
}{
	{FLAG_ENCRYPTED, "encrypted"},
	{FLAG_READONLY, "readonly"},
}

type Entry struct {
	Name    string
	Type    Type
	SubType SubType
	Offset  int
	Size    int
	Flags   Flags
}

// OtaSubType returns the app subtype of OTA slot `idx`.
func OtaSubType(idx int) SubType {
	return SUBTYPE_OTA_MIN + SubType(idx)
}

func OtaName(idx int) string {
	return fmt.Sprintf("%s%d", ENTRY_NAME_OTA_PREFIX, idx)
}

func (e *Entry) End() int {
	return e.Offset + e.Size
}

// OtaIndex returns the slot index of an OTA app entry.  The second return
// value is false for any other entry.
func (e *Entry) OtaIndex() (int, bool) {
	if e.Type != TYPE_APP ||
		e.SubType < SUBTYPE_OTA_MIN || e.SubType > SUBTYPE_OTA_MAX {

		return 0, false
	}

	return int(e.SubType - SUBTYPE_OTA_MIN), true
}

// IsAppImage indicates whether the entry holds a loadable application
// (factory or OTA slot).  The boot loader region is excluded.
func (e *Entry) IsAppImage() bool {
	if e.Type != TYPE_APP || e.Name == ENTRY_NAME_BOOTLOADER {
		return false
	}

	if e.SubType == SUBTYPE_FACTORY {
		return true
	}
	_, ok := e.OtaIndex()
	return ok
}

func TypeName(t Type) string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("0x%02x", uint8(t))
}

func SubTypeName(t Type, st SubType) string {
	switch t {
	case TYPE_APP:
		if s, ok := appSubTypeNames[st]; ok {
			return s
		}
		if st >= SUBTYPE_OTA_MIN && st <= SUBTYPE_OTA_MAX {
			return OtaName(int(st - SUBTYPE_OTA_MIN))
		}

	case TYPE_DATA:
		if s, ok := dataSubTypeNames[st]; ok {
			return s
		}
	}

	return fmt.Sprintf("0x%02x", uint8(st))
}

func ParseType(s string) (Type, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for t, name := range typeNames {
		if name == s {
			return t, nil
		}
	}

	n, err := util.AtoiNoOct(s)
	if err != nil || n < 0 || n > 0xfe {
		return 0, util.FmtComposerError("invalid partition type \"%s\"", s)
	}

	return Type(n), nil
}

func ParseSubType(t Type, s string) (SubType, error) {
	s = strings.ToLower(strings.TrimSpace(s))

	var names map[SubType]string
	switch t {
	case TYPE_APP:
		names = appSubTypeNames
		if strings.HasPrefix(s, ENTRY_NAME_OTA_PREFIX) {
			idx, err := util.AtoiNoOct(
				strings.TrimPrefix(s, ENTRY_NAME_OTA_PREFIX))
			if err == nil && idx >= 0 &&
				OtaSubType(idx) <= SUBTYPE_OTA_MAX {

				return OtaSubType(idx), nil
			}
		}
	case TYPE_DATA:
		names = dataSubTypeNames
	}

	for st, name := range names {
		if name == s {
			return st, nil
		}
	}

	n, err := util.AtoiNoOct(s)
	if err != nil || n < 0 || n > 0xfe {
		return 0, util.FmtComposerError(
			"invalid subtype \"%s\" for partition type %s", s, TypeName(t))
	}

	return SubType(n), nil
}

func FlagsString(f Flags) string {
	names := []string{}
	for _, fn := range flagNames {
		if f&fn.flag != 0 {
			names = append(names, fn.name)
		}
	}

	return strings.Join(names, ":")
}

func ParseFlags(s string) (Flags, error) {
	var f Flags

	for _, tok := range strings.Split(s, ":") {
		tok = strings.ToLower(strings.TrimSpace(tok))
		if tok == "" {
			continue
		}

		found := false
		for _, fn := range flagNames {
			if fn.name == tok {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, util.FmtComposerError(
				"invalid partition flag \"%s\"", tok)
		}
	}

	return f, nil
}

func (e *Entry) Map() map[string]interface{} {
	return map[string]interface{}{
		"name":    e.Name,
		"type":    TypeName(e.Type),
		"subtype": SubTypeName(e.Type, e.SubType),
		"offset":  fmt.Sprintf("0x%x", e.Offset),
		"size":    e.Size,
		"flags":   FlagsString(e.Flags),
	}
}

func (e Entry) String() string {
	return fmt.Sprintf("%s (%s/%s) 0x%08x-0x%08x",
		e.Name, TypeName(e.Type), SubTypeName(e.Type, e.SubType),
		e.Offset, e.End())
}
