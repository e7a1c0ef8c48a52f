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

// Package espimage decodes the header of ESP32-family application and boot
// loader images and maintains their trailing XOR checksum.
package espimage

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/georgik/esp32-image-composer/util"
)

const (
	IMAGE_MAGIC = 0xe9
)

const (
	IMAGE_HEADER_SIZE         = 24
	IMAGE_EXT_HEADER_SIZE     = 16
	IMAGE_SEGMENT_HEADER_SIZE = 8
	IMAGE_CHECKSUM_SIZE       = 1
	IMAGE_MAX_SEGMENTS        = 16
)

/*
 * Bit 7 of the flash size / frequency byte indicates that a fixed-size
 * extended header block follows the base header.
 */
const (
	IMAGE_F_EXT_HEADER = 0x80
)

// ImageHdr is the fixed 24-byte base header.
type ImageHdr struct {
	Magic        uint8
	SegmentCount uint8
	SpiMode      uint8
	SpiSpeedSize uint8
	EntryAddr    uint32
	WpPin        uint8
	SpiPinDrv    [3]uint8
	ChipId       uint16
	MinChipRev   uint8
	MinRevFull   uint16
	MaxRevFull   uint16
	Reserved     [4]uint8
	HashAppended uint8
}

// Segment is one load unit.  Length is the declared data length; it is
// never recomputed.
type Segment struct {
	LoadAddr uint32
	Length   uint32
}

// ImageHeader is a read-only view of an image's leading bytes.
type ImageHeader struct {
	ImageHdr
	Segments []Segment

	// Set when the segment table extends past the end of the parsed buffer.
	// Segments then holds only the descriptors that were fully present.
	Truncated bool
}

var spiModeNames = map[uint8]string{
	0: "qio",
	1: "qout",
	2: "dio",
	3: "dout",
	4: "fast_read",
	5: "slow_read",
}

func SpiModeName(mode uint8) string {
	name, ok := spiModeNames[mode]
	if !ok {
		return "???"
	}

	return name
}

func (h *ImageHeader) HasExtHeader() bool {
	return h.SpiSpeedSize&IMAGE_F_EXT_HEADER != 0
}

// HeaderSize is the number of bytes occupied by the base header, the
// optional extended header and the full declared segment table.
func (h *ImageHeader) HeaderSize() int {
	sz := IMAGE_HEADER_SIZE
	if h.HasExtHeader() {
		sz += IMAGE_EXT_HEADER_SIZE
	}
	sz += int(h.SegmentCount) * IMAGE_SEGMENT_HEADER_SIZE

	return sz
}

// DataSize is the sum of the declared lengths of all parsed segments.
func (h *ImageHeader) DataSize() int {
	sz := 0
	for _, seg := range h.Segments {
		sz += int(seg.Length)
	}

	return sz
}

// ImageSize is the true length of the image: header, segment data and the
// trailing checksum byte.  Any padding after the checksum is excluded.
func (h *ImageHeader) ImageSize() int {
	return h.HeaderSize() + h.DataSize() + IMAGE_CHECKSUM_SIZE
}

func (h *ImageHeader) ChecksumOffset() int {
	return h.ImageSize() - IMAGE_CHECKSUM_SIZE
}

func (s *Segment) Map() map[string]interface{} {
	return map[string]interface{}{
		"load_addr": fmt.Sprintf("0x%08x", s.LoadAddr),
		"length":    s.Length,
	}
}

func (h *ImageHeader) Map(offset int) map[string]interface{} {
	segMaps := []map[string]interface{}{}
	for i := range h.Segments {
		segMaps = append(segMaps, h.Segments[i].Map())
	}

	return map[string]interface{}{
		"magic":         h.Magic,
		"segment_count": h.SegmentCount,
		"spi_mode":      SpiModeName(h.SpiMode),
		"entry_addr":    fmt.Sprintf("0x%08x", h.EntryAddr),
		"chip_id":       h.ChipId,
		"ext_header":    h.HasExtHeader(),
		"hash_appended": h.HashAppended != 0,
		"header_size":   h.HeaderSize(),
		"image_size":    h.ImageSize(),
		"segments":      segMaps,
		"truncated":     h.Truncated,
		"_offset":       offset,
	}
}

func (h *ImageHeader) Json(offset int) (string, error) {
	b, err := json.MarshalIndent(h.Map(offset), "", "    ")
	if err != nil {
		return "", util.ChildComposerError(err)
	}

	return string(b), nil
}

// ParseHeader decodes the base header, the optional extended header and the
// segment table.  The segment table is read as consecutive 8-byte
// descriptors immediately following the header(s).  A descriptor that does
// not fit in `data` ends the walk; this is reported via `Truncated` rather
// than as an error so that incomplete flash dumps can still be sized.
func ParseHeader(data []byte) (ImageHeader, error) {
	hdr := ImageHeader{}

	if len(data) < IMAGE_HEADER_SIZE {
		return hdr, &ParseError{Kind: PARSE_ERR_TOO_SMALL, Got: len(data)}
	}

	if data[0] != IMAGE_MAGIC {
		return hdr, &ParseError{Kind: PARSE_ERR_BAD_MAGIC, Got: int(data[0])}
	}

	r := bytes.NewReader(data[:IMAGE_HEADER_SIZE])
	if err := binary.Read(r, binary.LittleEndian, &hdr.ImageHdr); err != nil {
		return hdr, util.FmtComposerError(
			"Error reading image header: %s", err.Error())
	}

	if hdr.SegmentCount > IMAGE_MAX_SEGMENTS {
		return hdr, &ParseError{
			Kind: PARSE_ERR_TOO_MANY_SEGMENTS,
			Got:  int(hdr.SegmentCount),
		}
	}

	off := IMAGE_HEADER_SIZE
	if hdr.HasExtHeader() {
		off += IMAGE_EXT_HEADER_SIZE
	}

	hdr.Segments = make([]Segment, 0, hdr.SegmentCount)
	for i := 0; i < int(hdr.SegmentCount); i++ {
		end := off + IMAGE_SEGMENT_HEADER_SIZE
		if end > len(data) {
			hdr.Truncated = true
			break
		}

		hdr.Segments = append(hdr.Segments, Segment{
			LoadAddr: binary.LittleEndian.Uint32(data[off:]),
			Length:   binary.LittleEndian.Uint32(data[off+4:]),
		})
		off = end
	}

	return hdr, nil
}

// ImageSizeOf parses the header in `data` and returns the image's true
// length.
func ImageSizeOf(data []byte) (int, error) {
	hdr, err := ParseHeader(data)
	if err != nil {
		return 0, err
	}

	return hdr.ImageSize(), nil
}
