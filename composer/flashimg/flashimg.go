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

// Package flashimg lays firmware components and the partition table out in
// a single flash image.
package flashimg

import (
	"bytes"
	"sort"

	log "github.com/sirupsen/logrus"

	"github.com/georgik/esp32-image-composer/artifact/espimage"
	"github.com/georgik/esp32-image-composer/artifact/partition"
	"github.com/georgik/esp32-image-composer/composer/firmware"
	"github.com/georgik/esp32-image-composer/composer/platform"
	"github.com/georgik/esp32-image-composer/util"
)

type Mode int

const (
	// The image ends with the highest written region.
	MODE_MINIMAL Mode = iota

	// The image spans the whole flash device.
	MODE_PADDED
)

const (
	APP_LEN_ALIGN       = 4
	APP_LEN_ALIGN_CRYPT = 16
	FILL_VAL            = 0xff
)

func (m Mode) String() string {
	if m == MODE_PADDED {
		return "padded"
	}
	return "minimal"
}

type Options struct {
	Mode      Mode
	Capacity  int
	Encrypted bool
	Layout    platform.Layout
}

// Region is a span of the image that holds written content.
type Region struct {
	Name   string
	Offset int
	Data   []byte
}

func (r *Region) End() int {
	return r.Offset + len(r.Data)
}

type Result struct {
	Image   []byte
	Regions []Region
}

func lookup(tbl partition.Table, name string) (partition.Entry, error) {
	e, ok := tbl.Find(name)
	if !ok {
		return e, util.FmtComposerError(
			"partition table has no \"%s\" entry", name)
	}

	return e, nil
}

func fitRegion(name string, data []byte, entry partition.Entry) (Region, error) {
	if len(data) > entry.Size {
		return Region{}, &RegionOverflowError{
			Name:   name,
			Length: len(data),
			Size:   entry.Size,
		}
	}

	return Region{
		Name:   entry.Name,
		Offset: entry.Offset,
		Data:   data,
	}, nil
}

// prepareApp validates an application image and returns a copy with its
// checksum patched.
func prepareApp(c firmware.Component, encrypted bool) ([]byte, error) {
	data := c.Bytes()

	if _, err := espimage.ParseHeader(data); err != nil {
		return nil, util.PreComposerError(err, "firmware \"%s\"", c.Name)
	}

	align := APP_LEN_ALIGN
	if encrypted {
		align = APP_LEN_ALIGN_CRYPT
	}
	if len(data)%align != 0 {
		return nil, &AlignmentError{
			Name:      c.Name,
			Length:    len(data),
			Alignment: align,
		}
	}

	csum, err := espimage.PatchChecksum(data)
	if err != nil {
		return nil, util.PreComposerError(err, "firmware \"%s\"", c.Name)
	}

	log.Debugf("Firmware \"%s\": checksum 0x%02x", c.Name, csum)

	return data, nil
}

// checkLayout verifies that the table places the layout's fixed regions and
// the factory application where the layout expects them.
func checkLayout(tbl partition.Table, layout platform.Layout) error {
	want := layout.FixedEntries()
	want = append(want, partition.Entry{
		Name:   partition.ENTRY_NAME_FACTORY,
		Offset: layout.FactoryOffset,
	})

	for _, w := range want {
		e, ok := tbl.Find(w.Name)
		if !ok {
			if w.Name == partition.ENTRY_NAME_FACTORY {
				continue
			}
			return util.FmtComposerError(
				"partition table has no \"%s\" entry", w.Name)
		}
		if e.Offset != w.Offset {
			return util.FmtComposerError(
				"partition \"%s\" is at 0x%x; layout %s places it at 0x%x",
				e.Name, e.Offset, layout.Name, w.Offset)
		}
	}

	return nil
}

// collectRegions determines the content and location of every region to be
// written.
func collectRegions(comps []firmware.Component, tbl partition.Table,
	opts Options) ([]Region, error) {

	regions := []Region{}

	if len(comps) > firmware.ROLE_BOOTLOADER {
		bl := comps[firmware.ROLE_BOOTLOADER]

		// The boot loader carries its own valid checksum; its bytes are
		// written unchanged.
		if _, err := espimage.ParseHeader(bl.Data); err != nil {
			return nil, util.PreComposerError(err, "bootloader \"%s\"",
				bl.Name)
		}

		entry, err := lookup(tbl, partition.ENTRY_NAME_BOOTLOADER)
		if err != nil {
			return nil, err
		}
		r, err := fitRegion(bl.Name, bl.Bytes(), entry)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}

	blob, err := tbl.MarshalBinary()
	if err != nil {
		return nil, err
	}
	if len(blob) > opts.Layout.PartitionTableMaxLen {
		return nil, &RegionOverflowError{
			Name:   partition.ENTRY_NAME_PART_TABLE,
			Length: len(blob),
			Size:   opts.Layout.PartitionTableMaxLen,
		}
	}
	entry, err := lookup(tbl, partition.ENTRY_NAME_PART_TABLE)
	if err != nil {
		return nil, err
	}
	r, err := fitRegion(partition.ENTRY_NAME_PART_TABLE, blob, entry)
	if err != nil {
		return nil, err
	}
	regions = append(regions, r)

	for i := firmware.ROLE_FACTORY; i < len(comps); i++ {
		c := comps[i]

		name := partition.ENTRY_NAME_FACTORY
		if i >= firmware.ROLE_OTA_FIRST {
			name = partition.OtaName(i - firmware.ROLE_OTA_FIRST)
		}

		entry, ok := tbl.Find(name)
		if !ok {
			if i == firmware.ROLE_FACTORY {
				return nil, util.FmtComposerError(
					"partition table has no \"%s\" entry", name)
			}
			log.Warnf("No partition for firmware \"%s\" (%s); skipping",
				c.Name, name)
			continue
		}

		data, err := prepareApp(c, opts.Encrypted)
		if err != nil {
			return nil, err
		}

		r, err := fitRegion(c.Name, data, entry)
		if err != nil {
			return nil, err
		}
		regions = append(regions, r)
	}

	sort.SliceStable(regions, func(i, j int) bool {
		return regions[i].Offset < regions[j].Offset
	})

	return regions, nil
}

// AssembleResult builds the flash image and reports the regions written to
// it.
func AssembleResult(comps []firmware.Component, tbl partition.Table,
	opts Options) (Result, error) {

	res := Result{}

	if opts.Mode == MODE_PADDED && opts.Capacity <= 0 {
		return res, util.FmtComposerError(
			"padded image requires a positive capacity; have %d",
			opts.Capacity)
	}

	if err := checkLayout(tbl, opts.Layout); err != nil {
		return res, err
	}

	regions, err := collectRegions(comps, tbl, opts)
	if err != nil {
		return res, err
	}

	end := 0
	for _, r := range regions {
		if opts.Capacity > 0 && r.End() > opts.Capacity {
			return res, &OutOfBoundsError{
				Name:   r.Name,
				Offset: r.Offset,
				Length: len(r.Data),
				Limit:  opts.Capacity,
			}
		}
		if r.End() > end {
			end = r.End()
		}
	}

	size := end
	if opts.Mode == MODE_PADDED {
		size = opts.Capacity
	}

	img := bytes.Repeat([]byte{FILL_VAL}, size)
	for _, r := range regions {
		copy(img[r.Offset:], r.Data)
		log.Debugf("Wrote %s at 0x%x (%d bytes)",
			r.Name, r.Offset, len(r.Data))
	}

	log.Infof("Assembled %s image: %d bytes, %d regions",
		opts.Mode, len(img), len(regions))

	res.Image = img
	res.Regions = regions
	return res, nil
}

// Assemble builds the flash image for `comps` according to `tbl`.  The
// first component is the boot loader, the second the factory application,
// and each further one an OTA application.  Inputs are not modified.
func Assemble(comps []firmware.Component, tbl partition.Table,
	opts Options) ([]byte, error) {

	res, err := AssembleResult(comps, tbl, opts)
	if err != nil {
		return nil, err
	}

	return res.Image, nil
}

// PartitionTableOnly returns the encoded partition table.
func PartitionTableOnly(tbl partition.Table) ([]byte, error) {
	return tbl.MarshalBinary()
}
