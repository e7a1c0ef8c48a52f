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

// Package platform describes the fixed-offset flash layout of a chip family
// and the flash capacities it supports.
package platform

import (
	"fmt"
	"sort"
	"strings"

	"github.com/spf13/cast"

	"github.com/georgik/esp32-image-composer/artifact/partition"
	"github.com/georgik/esp32-image-composer/util"
)

const (
	APP_ALIGN       = 0x10000
	DATA_ALIGN      = 0x1000
	MAX_OTA_SLOTS   = 16
	DEFAULT_LAYOUT  = "esp32p4"
	LEGACY_LAYOUT   = "esp32c3"
	OTA_SCAN_STRIDE = 0x100000
)

type Region struct {
	Offset int
	Size   int
}

func (r Region) End() int {
	return r.Offset + r.Size
}

// Layout is the set of fixed flash regions for one chip family.  A single
// value is shared by the table builder, the assembler and the inspector.
type Layout struct {
	Name           string
	Bootloader     Region
	PartitionTable Region
	Nvs            Region
	OtaData        Region
	FactoryOffset  int

	AppAlign             int
	DataAlign            int
	MaxOtaSlots          int
	PartitionTableMaxLen int
}

var presets = map[string]Layout{
	"esp32p4": {
		Name:                 "esp32p4",
		Bootloader:           Region{0x2000, 0x6000},
		PartitionTable:       Region{0x10000, 0x1000},
		Nvs:                  Region{0x9000, 0x1000},
		OtaData:              Region{0xa000, 0x2000},
		FactoryOffset:        0x20000,
		AppAlign:             APP_ALIGN,
		DataAlign:            DATA_ALIGN,
		MaxOtaSlots:          MAX_OTA_SLOTS,
		PartitionTableMaxLen: partition.TABLE_MAX_LEN,
	},
	"esp32c3": {
		Name:                 "esp32c3",
		Bootloader:           Region{0x0, 0x8000},
		PartitionTable:       Region{0x8000, 0x1000},
		Nvs:                  Region{0x9000, 0x4000},
		OtaData:              Region{0xd000, 0x2000},
		FactoryOffset:        0x10000,
		AppAlign:             APP_ALIGN,
		DataAlign:            DATA_ALIGN,
		MaxOtaSlots:          MAX_OTA_SLOTS,
		PartitionTableMaxLen: partition.TABLE_MAX_LEN,
	},
}

func PresetNames() []string {
	names := make([]string, 0, len(presets))
	for name := range presets {
		names = append(names, name)
	}
	sort.Strings(names)

	return names
}

func Preset(name string) (Layout, error) {
	l, ok := presets[strings.ToLower(name)]
	if !ok {
		return Layout{}, util.FmtComposerError(
			"unknown layout \"%s\"; valid layouts: %s",
			name, strings.Join(PresetNames(), ", "))
	}

	return l, nil
}

func Default() Layout {
	return presets[DEFAULT_LAYOUT]
}

// FixedEntries returns the partition entries for the layout's fixed
// regions, in emission order.
func (l *Layout) FixedEntries() []partition.Entry {
	return []partition.Entry{
		{
			Name:    partition.ENTRY_NAME_BOOTLOADER,
			Type:    partition.TYPE_APP,
			SubType: partition.SUBTYPE_FACTORY,
			Offset:  l.Bootloader.Offset,
			Size:    l.Bootloader.Size,
		},
		{
			Name:    partition.ENTRY_NAME_PART_TABLE,
			Type:    partition.TYPE_DATA,
			SubType: partition.SUBTYPE_DATA_PHY,
			Offset:  l.PartitionTable.Offset,
			Size:    l.PartitionTable.Size,
		},
		{
			Name:    partition.ENTRY_NAME_NVS,
			Type:    partition.TYPE_DATA,
			SubType: partition.SUBTYPE_DATA_NVS,
			Offset:  l.Nvs.Offset,
			Size:    l.Nvs.Size,
		},
		{
			Name:    partition.ENTRY_NAME_OTADATA,
			Type:    partition.TYPE_DATA,
			SubType: partition.SUBTYPE_DATA_OTA,
			Offset:  l.OtaData.Offset,
			Size:    l.OtaData.Size,
		},
	}
}

// FixedEnd is the first offset past every fixed region.
func (l *Layout) FixedEnd() int {
	end := 0
	for _, e := range l.FixedEntries() {
		if e.End() > end {
			end = e.End()
		}
	}

	return end
}

// FixedOffsets returns the start offsets of the fixed regions and the
// factory region in ascending order.
func (l *Layout) FixedOffsets() []int {
	offs := []int{l.FactoryOffset}
	for _, e := range l.FixedEntries() {
		offs = append(offs, e.Offset)
	}
	sort.Ints(offs)

	return offs
}

// LegacyOtaOffset is the offset at which OTA slot `idx` is looked for when a
// flash dump carries no readable partition table.
func (l *Layout) LegacyOtaOffset(idx int) int {
	return l.FactoryOffset + OTA_SCAN_STRIDE*(idx+1)
}

func (l *Layout) Validate() error {
	if l.AppAlign <= 0 || l.DataAlign <= 0 {
		return util.FmtComposerError(
			"layout \"%s\": alignments must be positive", l.Name)
	}
	if l.MaxOtaSlots < 0 || l.MaxOtaSlots > MAX_OTA_SLOTS {
		return util.FmtComposerError(
			"layout \"%s\": max OTA slots must be in [0, %d]",
			l.Name, MAX_OTA_SLOTS)
	}
	if l.PartitionTable.Size < l.PartitionTableMaxLen {
		return util.FmtComposerError(
			"layout \"%s\": partition table region (0x%x bytes) cannot "+
				"hold a 0x%x byte table",
			l.Name, l.PartitionTable.Size, l.PartitionTableMaxLen)
	}
	if l.FactoryOffset%l.AppAlign != 0 {
		return util.FmtComposerError(
			"layout \"%s\": factory offset 0x%x is not aligned to 0x%x",
			l.Name, l.FactoryOffset, l.AppAlign)
	}
	if l.FactoryOffset < l.FixedEnd() {
		return util.FmtComposerError(
			"layout \"%s\": factory offset 0x%x precedes the end of the "+
				"fixed regions (0x%x)", l.Name, l.FactoryOffset, l.FixedEnd())
	}

	tbl := partition.Table{Entries: l.FixedEntries()}
	if err := tbl.Validate(l.FactoryOffset, l.AppAlign,
		l.DataAlign); err != nil {

		return util.PreComposerError(err, "layout \"%s\"", l.Name)
	}

	return nil
}

func layoutErr(name string, format string, args ...interface{}) error {
	return util.NewComposerError(
		"failure while parsing layout \"" + name + "\": " +
			fmt.Sprintf(format, args...))
}

func parseRegion(name string, field string,
	val interface{}) (Region, error) {

	r := Region{}

	fields := cast.ToStringMapString(val)
	offsetPresent := false
	sizePresent := false

	var err error
	for k, v := range fields {
		switch k {
		case "offset":
			r.Offset, err = util.AtoiNoOct(v)
			if err != nil {
				return r, layoutErr(name, "%s: invalid offset: %s", field, v)
			}
			offsetPresent = true

		case "size":
			r.Size, err = util.ParseSize(v)
			if err != nil {
				return r, layoutErr(name, "%s: %s", field, err.Error())
			}
			sizePresent = true

		default:
			util.StatusMessage(util.VERBOSITY_QUIET,
				"Warning: layout \"%s\" region \"%s\" contains "+
					"unrecognized field: %s\n", name, field, k)
		}
	}

	if !offsetPresent {
		return r, layoutErr(name,
			"%s: required field \"offset\" missing", field)
	}
	if !sizePresent {
		return r, layoutErr(name,
			"%s: required field \"size\" missing", field)
	}

	return r, nil
}

// Parse builds a layout from a YAML mapping.  Regions not mentioned keep the
// values of the preset named by the "base" key (the default layout when
// absent).  The result is validated.
func Parse(ymlFields map[string]interface{}) (Layout, error) {
	fields := cast.ToStringMap(ymlFields)

	base := DEFAULT_LAYOUT
	if v, ok := fields["base"]; ok {
		base = cast.ToString(v)
	}

	l, err := Preset(base)
	if err != nil {
		return l, err
	}

	if v, ok := fields["name"]; ok {
		l.Name = cast.ToString(v)
	} else {
		l.Name = "custom"
	}

	regions := map[string]*Region{
		"bootloader":      &l.Bootloader,
		"partition_table": &l.PartitionTable,
		"nvs":             &l.Nvs,
		"otadata":         &l.OtaData,
	}

	for k, v := range fields {
		if dst, ok := regions[k]; ok {
			r, err := parseRegion(l.Name, k, v)
			if err != nil {
				return l, err
			}
			*dst = r
			continue
		}

		switch k {
		case "base", "name":

		case "factory_offset":
			l.FactoryOffset, err = util.AtoiNoOct(cast.ToString(v))
			if err != nil {
				return l, layoutErr(l.Name, "invalid factory offset: %v", v)
			}

		case "max_ota_slots":
			l.MaxOtaSlots, err = cast.ToIntE(v)
			if err != nil {
				return l, layoutErr(l.Name, "invalid max OTA slots: %v", v)
			}

		default:
			util.StatusMessage(util.VERBOSITY_QUIET,
				"Warning: layout \"%s\" contains unrecognized field: %s\n",
				l.Name, k)
		}
	}

	if err := l.Validate(); err != nil {
		return l, err
	}

	return l, nil
}
