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

// Package flashmap derives a partition table from a ranked set of firmware
// components and a platform layout.
package flashmap

import (
	log "github.com/sirupsen/logrus"

	"github.com/georgik/esp32-image-composer/artifact/partition"
	"github.com/georgik/esp32-image-composer/composer/firmware"
	"github.com/georgik/esp32-image-composer/composer/platform"
	"github.com/georgik/esp32-image-composer/util"
)

const PLACEHOLDER_FACTORY_SIZE = 1024 * 1024

// Build generates the partition table for `comps`, which must be sorted by
// rank.  The layout's fixed regions are always present.  The second
// component sizes the factory region; each further component gets an OTA
// slot placed directly after the previous application region.  At most
// `maxOtaSlots` slots are created; surplus components are skipped.
func Build(comps []firmware.Component, capacity int, maxOtaSlots int,
	layout platform.Layout) (partition.Table, error) {

	tbl := partition.Table{}

	if maxOtaSlots < 0 || maxOtaSlots > layout.MaxOtaSlots {
		return tbl, &partition.LayoutError{
			Kind:      partition.LAYOUT_ERR_TOO_MANY_SLOTS,
			Needed:    maxOtaSlots,
			Available: layout.MaxOtaSlots,
		}
	}

	for _, e := range layout.FixedEntries() {
		tbl.Add(e)
	}

	if len(comps) <= firmware.ROLE_FACTORY {
		log.Debugf("No application components; table holds fixed " +
			"regions only")
		return tbl, tbl.Validate(capacity, layout.AppAlign, layout.DataAlign)
	}

	factory := partition.Entry{
		Name:    partition.ENTRY_NAME_FACTORY,
		Type:    partition.TYPE_APP,
		SubType: partition.SUBTYPE_FACTORY,
		Offset:  layout.FactoryOffset,
		Size:    util.AlignUp(comps[firmware.ROLE_FACTORY].Len(), layout.AppAlign),
	}
	tbl.Add(factory)

	// A factory region past the end of flash leaves no room for OTA slots;
	// validation reports it.
	if factory.End() > capacity {
		return tbl, tbl.Validate(capacity, layout.AppAlign, layout.DataAlign)
	}

	cursor := factory.End()
	for i, c := range comps[firmware.ROLE_OTA_FIRST:] {
		if i >= maxOtaSlots {
			log.Warnf("Skipping firmware \"%s\": only %d OTA slots allowed",
				c.Name, maxOtaSlots)
			continue
		}

		ota := partition.Entry{
			Name:    partition.OtaName(i),
			Type:    partition.TYPE_APP,
			SubType: partition.OtaSubType(i),
			Offset:  cursor,
			Size:    util.AlignUp(c.Len(), layout.AppAlign),
		}

		if ota.End() > capacity {
			return tbl, &partition.LayoutError{
				Kind:      partition.LAYOUT_ERR_INSUFFICIENT_SPACE,
				Name:      ota.Name,
				Needed:    ota.Size,
				Available: availableAt(cursor, capacity),
				Placed:    append([]partition.Entry{}, tbl.Entries...),
			}
		}

		log.Debugf("Placed %s (%s) at 0x%x, %d bytes",
			ota.Name, c.Name, ota.Offset, ota.Size)

		tbl.Add(ota)
		cursor = ota.End()
	}

	if err := tbl.Validate(capacity, layout.AppAlign,
		layout.DataAlign); err != nil {

		return tbl, err
	}

	return tbl, nil
}

func availableAt(offset int, capacity int) int {
	if offset >= capacity {
		return 0
	}
	return capacity - offset
}

// Placeholders returns a boot loader and factory component of nominal size,
// for generating a table when no firmware is at hand.
func Placeholders(layout platform.Layout) []firmware.Component {
	return []firmware.Component{
		{
			Name: "bootloader",
			Rank: 1,
			Data: make([]byte, layout.Bootloader.Size),
		},
		{
			Name: "factory",
			Rank: 2,
			Data: make([]byte, PLACEHOLDER_FACTORY_SIZE),
		},
	}
}

type Summary struct {
	Used     int
	Capacity int
	Percent  float64
}

// Summarize totals the sizes of all entries in the table.
func Summarize(tbl partition.Table, capacity int) Summary {
	s := Summary{Capacity: capacity}
	for _, e := range tbl.Entries {
		s.Used += e.Size
	}

	if capacity > 0 {
		s.Percent = float64(s.Used) / float64(capacity) * 100.0
	}

	return s
}
