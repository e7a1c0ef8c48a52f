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

// Package inspect analyzes a raw flash image and recovers the components
// written to it.  Analysis never fails; unreadable regions are reported as
// missing or invalid.
package inspect

import (
	"bytes"
	"fmt"

	"github.com/georgik/esp32-image-composer/artifact/espimage"
	"github.com/georgik/esp32-image-composer/artifact/partition"
	"github.com/georgik/esp32-image-composer/composer/platform"
)

const (
	OTA_SOURCE_TABLE = "partition table"
	OTA_SOURCE_SCAN  = "scan"
)

type Options struct {
	Detailed        bool
	VerifyChecksums bool
	Layout          platform.Layout
}

type ChecksumStatus struct {
	Stored     uint8
	Calculated uint8
	Valid      bool

	// Set when no checksum location could be determined.
	Err string
}

// ImageRegion describes one executable image region.
type ImageRegion struct {
	Name   string
	Offset int
	Found  bool

	// Set when a header was decoded; Size is then the image's true length
	// (clamped to the buffer).  Otherwise Size is the raw span up to the
	// next known region.
	Interpreted bool
	Size        int
	Magic       uint8

	Header   *espimage.ImageHeader
	Checksum *ChecksumStatus
}

type TableRegion struct {
	Offset int
	Found  bool
	Size   int
	Magic  [2]byte

	// Raw record scan.
	Count int
	Names []string

	// Full decode.
	Table     partition.Table
	MD5Valid  bool
	DecodeErr string
}

type Usage struct {
	Used    int
	Percent float64
}

type Report struct {
	Size   int
	Layout string

	Bootloader     ImageRegion
	PartitionTable TableRegion
	Factory        ImageRegion

	// Populated in detailed mode only.
	Ota       []ImageRegion
	OtaSource string
	Usage     *Usage
}

func isErased(b []byte) bool {
	for _, c := range b {
		if c != espimage.ERASE_VAL {
			return false
		}
	}
	return true
}

func nextOffset(offset int, known []int, limit int) int {
	next := limit
	for _, k := range known {
		if k > offset && k < next {
			next = k
		}
	}

	return next
}

func verify(data []byte) *ChecksumStatus {
	cs := &ChecksumStatus{}

	stored, calc, err := espimage.ReadChecksum(data)
	if err != nil {
		cs.Err = err.Error()
		return cs
	}

	cs.Stored = stored
	cs.Calculated = calc
	cs.Valid = stored == calc

	return cs
}

// inspectImage analyzes the image expected at `offset`.  When no header can
// be decoded, the region extends to `next`.
func inspectImage(raw []byte, name string, offset int, next int,
	opts Options) ImageRegion {

	r := ImageRegion{
		Name:   name,
		Offset: offset,
	}

	if offset < 0 || offset >= len(raw) {
		return r
	}

	r.Magic = raw[offset]

	hdr, err := espimage.ParseHeader(raw[offset:])
	if err == nil {
		r.Found = true
		r.Interpreted = true
		r.Header = &hdr
		r.Size = hdr.ImageSize()
		if offset+r.Size > len(raw) {
			r.Size = len(raw) - offset
		}
	} else {
		if next > len(raw) {
			next = len(raw)
		}
		span := raw[offset:next]
		if len(span) == 0 || isErased(span) {
			return r
		}
		r.Found = true
		r.Size = len(span)
	}

	if opts.VerifyChecksums && r.Interpreted {
		r.Checksum = verify(raw[offset : offset+r.Size])
	}

	return r
}

func inspectTable(raw []byte, region platform.Region) TableRegion {
	tr := TableRegion{
		Offset: region.Offset,
	}

	if region.Offset < 0 || region.Offset >= len(raw) {
		return tr
	}

	end := region.End()
	if end > len(raw) {
		end = len(raw)
	}
	data := raw[region.Offset:end]
	tr.Size = len(data)
	copy(tr.Magic[:], data)

	for off := 0; off+partition.RECORD_SIZE <= len(data); off += partition.RECORD_SIZE {
		rec := data[off : off+partition.RECORD_SIZE]
		if rec[0] == 0xeb && rec[1] == 0xeb {
			break
		}
		if rec[0] != 0xaa || rec[1] != 0x50 {
			continue
		}

		tr.Count++
		name := string(bytes.TrimRight(rec[12:28], "\x00"))
		if name != "" {
			tr.Names = append(tr.Names, name)
		}
	}

	tr.Found = tr.Count > 0
	if !tr.Found {
		return tr
	}

	tbl, err := partition.UnmarshalBinary(data)
	tr.Table = tbl
	if err != nil {
		tr.DecodeErr = err.Error()
	} else {
		tr.MD5Valid = true
	}

	return tr
}

func usage(raw []byte) *Usage {
	u := &Usage{}

	for i := len(raw) - 1; i >= 0; i-- {
		if raw[i] != espimage.ERASE_VAL {
			u.Used = i + 1
			break
		}
	}

	if len(raw) > 0 {
		u.Percent = float64(u.Used) / float64(len(raw)) * 100.0
	}

	return u
}

// otaRegionName names the region of an OTA entry read from an image.  Empty
// or already used names are replaced by the slot name, then by one derived
// from the offset.
func otaRegionName(e partition.Entry, used map[string]bool) string {
	if e.Name != "" && !used[e.Name] {
		return e.Name
	}

	if idx, ok := e.OtaIndex(); ok && !used[partition.OtaName(idx)] {
		return partition.OtaName(idx)
	}

	return fmt.Sprintf("%s0x%x", partition.ENTRY_NAME_OTA_PREFIX, e.Offset)
}

// Inspect analyzes `raw`, which is not modified.
func Inspect(raw []byte, opts Options) Report {
	layout := opts.Layout

	rep := Report{
		Size:   len(raw),
		Layout: layout.Name,
	}

	known := layout.FixedOffsets()

	rep.PartitionTable = inspectTable(raw, layout.PartitionTable)

	otaEntries := []partition.Entry{}
	if rep.PartitionTable.MD5Valid {
		otaEntries = rep.PartitionTable.Table.OtaEntries()
		for _, e := range otaEntries {
			known = append(known, e.Offset)
		}
	}

	rep.Bootloader = inspectImage(raw, partition.ENTRY_NAME_BOOTLOADER,
		layout.Bootloader.Offset,
		nextOffset(layout.Bootloader.Offset, known, len(raw)), opts)

	rep.Factory = inspectImage(raw, partition.ENTRY_NAME_FACTORY,
		layout.FactoryOffset,
		nextOffset(layout.FactoryOffset, known, len(raw)), opts)

	if !opts.Detailed {
		return rep
	}

	if len(otaEntries) > 0 {
		rep.OtaSource = OTA_SOURCE_TABLE
		used := map[string]bool{
			partition.ENTRY_NAME_BOOTLOADER: true,
			partition.ENTRY_NAME_PART_TABLE: true,
			partition.ENTRY_NAME_FACTORY:    true,
		}
		for _, e := range otaEntries {
			name := otaRegionName(e, used)
			used[name] = true

			r := inspectImage(raw, name, e.Offset, e.End(), opts)
			if r.Interpreted {
				rep.Ota = append(rep.Ota, r)
			}
		}
	} else {
		rep.OtaSource = OTA_SOURCE_SCAN
		for i := 0; i < layout.MaxOtaSlots; i++ {
			off := layout.LegacyOtaOffset(i)
			r := inspectImage(raw, partition.OtaName(i), off,
				off+platform.OTA_SCAN_STRIDE, opts)
			if r.Interpreted {
				rep.Ota = append(rep.Ota, r)
			}
		}
	}

	rep.Usage = usage(raw)

	return rep
}

// Regions returns the image regions found in the report, in offset order.
func (rep *Report) Regions() []ImageRegion {
	regions := []ImageRegion{}
	for _, r := range append([]ImageRegion{rep.Bootloader, rep.Factory},
		rep.Ota...) {

		if r.Found {
			regions = append(regions, r)
		}
	}

	return regions
}

// Split returns the bytes of each region found by Inspect, keyed by region
// name.  Image regions are trimmed to their true length; the partition
// table is trimmed to its maximum encoded length.
func Split(raw []byte, rep Report) map[string][]byte {
	m := map[string][]byte{}

	for _, r := range rep.Regions() {
		if r.Name == "" {
			continue
		}
		b := make([]byte, r.Size)
		copy(b, raw[r.Offset:r.Offset+r.Size])
		m[r.Name] = b
	}

	if rep.PartitionTable.Found {
		sz := rep.PartitionTable.Size
		if sz > partition.TABLE_MAX_LEN {
			sz = partition.TABLE_MAX_LEN
		}
		off := rep.PartitionTable.Offset
		b := make([]byte, sz)
		copy(b, raw[off:off+sz])
		m[partition.ENTRY_NAME_PART_TABLE] = b
	}

	return m
}
