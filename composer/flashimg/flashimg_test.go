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

package flashimg

import (
	"bytes"
	"encoding/binary"
	"errors"
	"testing"

	"github.com/georgik/esp32-image-composer/artifact/espimage"
	"github.com/georgik/esp32-image-composer/artifact/partition"
	"github.com/georgik/esp32-image-composer/composer/firmware"
	"github.com/georgik/esp32-image-composer/composer/flashmap"
	"github.com/georgik/esp32-image-composer/composer/platform"
)

const capacity4MB = 4 * 1024 * 1024

// makeImage returns a single-segment image of exactly `size` bytes whose
// final byte is a valid checksum distinct from the erase value.  `size`
// must be at least 34.
func makeImage(t *testing.T, size int, seed byte) []byte {
	t.Helper()

	hdrLen := espimage.IMAGE_HEADER_SIZE + espimage.IMAGE_SEGMENT_HEADER_SIZE
	dataLen := size - hdrLen - espimage.IMAGE_CHECKSUM_SIZE

	img := make([]byte, size)
	img[0] = espimage.IMAGE_MAGIC
	img[1] = 1
	img[2] = 2
	img[3] = 0x40
	binary.LittleEndian.PutUint32(img[4:], 0x40380000)
	binary.LittleEndian.PutUint32(img[24:], 0x3fc80000)
	binary.LittleEndian.PutUint32(img[28:], uint32(dataLen))
	for i := 0; i < dataLen; i++ {
		img[hdrLen+i] = byte(i) ^ seed
	}

	for {
		csum, err := espimage.Checksum(img[:size-1])
		if err != nil {
			t.Fatal(err)
		}
		if csum != espimage.ERASE_VAL {
			img[size-1] = csum
			return img
		}
		img[hdrLen] ^= 1
	}
}

func component(t *testing.T, idx int, size int) firmware.Component {
	return firmware.Component{
		Name: firmware.RoleName(idx),
		Rank: idx + 1,
		Data: makeImage(t, size, byte(idx*17)),
	}
}

func build(t *testing.T, layout platform.Layout,
	sizes ...int) ([]firmware.Component, partition.Table) {

	t.Helper()

	comps := make([]firmware.Component, len(sizes))
	for i, sz := range sizes {
		comps[i] = component(t, i, sz)
	}

	tbl, err := flashmap.Build(comps, capacity4MB, 16, layout)
	if err != nil {
		t.Fatal(err)
	}

	return comps, tbl
}

func legacyLayout(t *testing.T) platform.Layout {
	l, err := platform.Preset("esp32c3")
	if err != nil {
		t.Fatal(err)
	}
	return l
}

func TestAssembleMinimal(t *testing.T) {
	layout := legacyLayout(t)
	comps, tbl := build(t, layout, 0x8000, 100*1024, 50*1024)

	img, err := Assemble(comps, tbl, Options{
		Mode:     MODE_MINIMAL,
		Capacity: capacity4MB,
		Layout:   layout,
	})
	if err != nil {
		t.Fatal(err)
	}

	ota, ok := tbl.FindOta(0)
	if !ok {
		t.Fatal("no ota_0 entry")
	}
	if len(img) != ota.Offset+comps[2].Len() {
		t.Fatalf("image length 0x%x, want 0x%x",
			len(img), ota.Offset+comps[2].Len())
	}

	if img[0] != comps[0].Data[0] {
		t.Fatalf("byte 0 is 0x%02x, want boot loader byte 0x%02x",
			img[0], comps[0].Data[0])
	}
	if !bytes.Equal(img[:0x8000], comps[0].Data) {
		t.Fatal("boot loader not copied verbatim")
	}

	pt := img[layout.PartitionTable.Offset:]
	if pt[0] != 0xaa || pt[1] != 0x50 {
		t.Fatalf("no partition table at 0x%x", layout.PartitionTable.Offset)
	}
	if img[layout.Nvs.Offset] != FILL_VAL {
		t.Fatal("NVS region not erased")
	}

	factory := img[layout.FactoryOffset : layout.FactoryOffset+comps[1].Len()]
	if ok, err := espimage.VerifyChecksum(factory); err != nil || !ok {
		t.Fatalf("factory checksum invalid: %v", err)
	}
}

func TestAssemblePadded(t *testing.T) {
	layout := legacyLayout(t)
	comps, tbl := build(t, layout, 0x8000, 100*1024)

	img, err := Assemble(comps, tbl, Options{
		Mode:     MODE_PADDED,
		Capacity: capacity4MB,
		Layout:   layout,
	})
	if err != nil {
		t.Fatal(err)
	}

	if len(img) != capacity4MB {
		t.Fatalf("image length %d, want %d", len(img), capacity4MB)
	}
	if img[0] != comps[0].Data[0] {
		t.Fatal("byte 0 does not match boot loader")
	}

	factoryEnd := layout.FactoryOffset + comps[1].Len()
	for off := factoryEnd; off < len(img); off++ {
		if img[off] != FILL_VAL {
			t.Fatalf("unwritten byte 0x%x is 0x%02x", off, img[off])
		}
	}
}

func TestAssembleSixteenMegabytes(t *testing.T) {
	const capacity16MB = 16 * 1024 * 1024

	layout := legacyLayout(t)
	comps := []firmware.Component{
		component(t, 0, 32*1024),
		component(t, 1, 100*1024),
	}
	tbl, err := flashmap.Build(comps, capacity16MB, 16, layout)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		mode   Mode
		minLen int
		maxLen int
		erased bool
	}{
		{MODE_MINIMAL, 100*1024 + 1, capacity16MB - 1, false},
		{MODE_PADDED, capacity16MB, capacity16MB, true},
	}

	for _, tc := range tests {
		img, err := Assemble(comps, tbl, Options{
			Mode:     tc.mode,
			Capacity: capacity16MB,
			Layout:   layout,
		})
		if err != nil {
			t.Fatalf("%s: %v", tc.mode, err)
		}

		if len(img) < tc.minLen || len(img) > tc.maxLen {
			t.Fatalf("%s: image length %d, want [%d, %d]", tc.mode,
				len(img), tc.minLen, tc.maxLen)
		}
		if img[0] != comps[0].Data[0] {
			t.Errorf("%s: byte 0 is 0x%02x, want 0x%02x", tc.mode, img[0],
				comps[0].Data[0])
		}
		if img[layout.FactoryOffset] != comps[1].Data[0] {
			t.Errorf("%s: factory byte is 0x%02x, want 0x%02x", tc.mode,
				img[layout.FactoryOffset], comps[1].Data[0])
		}

		if tc.erased {
			n := bytes.Count(img, []byte{FILL_VAL})
			if n <= len(img)/2 {
				t.Errorf("%s: %d of %d bytes erased", tc.mode, n, len(img))
			}
		}
	}
}

func TestAssembleDefaultLayout(t *testing.T) {
	layout := platform.Default()
	comps, tbl := build(t, layout, 0x6000, 0x10000, 0x8000)

	img, err := Assemble(comps, tbl, Options{
		Mode:     MODE_MINIMAL,
		Capacity: capacity4MB,
		Layout:   layout,
	})
	if err != nil {
		t.Fatal(err)
	}

	for off := 0; off < layout.Bootloader.Offset; off++ {
		if img[off] != FILL_VAL {
			t.Fatalf("byte 0x%x before boot loader is 0x%02x", off, img[off])
		}
	}
	if img[layout.Bootloader.Offset] != espimage.IMAGE_MAGIC {
		t.Fatal("boot loader magic missing")
	}
	if img[layout.FactoryOffset] != espimage.IMAGE_MAGIC {
		t.Fatal("factory magic missing")
	}
}

func TestAssembleDoesNotModifyInputs(t *testing.T) {
	layout := legacyLayout(t)
	comps, tbl := build(t, layout, 0x8000, 0x1000)

	// Invalidate the stored checksum; the assembler must repair its own
	// copy.  The flip is chosen so that the repaired checksum is not the
	// erase value.
	flip := byte(0x01)
	if comps[1].Data[comps[1].Len()-1]^flip == espimage.ERASE_VAL {
		flip = 0x02
	}
	comps[1].Data[40] ^= flip
	orig := append([]byte{}, comps[1].Data...)

	img, err := Assemble(comps, tbl, Options{
		Mode:     MODE_MINIMAL,
		Capacity: capacity4MB,
		Layout:   layout,
	})
	if err != nil {
		t.Fatal(err)
	}

	if !bytes.Equal(comps[1].Data, orig) {
		t.Fatal("input component modified")
	}

	factory := img[layout.FactoryOffset:]
	if ok, err := espimage.VerifyChecksum(factory); err != nil || !ok {
		t.Fatalf("patched checksum invalid: %v", err)
	}
}

func TestAssembleAlignment(t *testing.T) {
	layout := legacyLayout(t)

	comps, tbl := build(t, layout, 0x8000, 0x1002)
	_, err := Assemble(comps, tbl, Options{Capacity: capacity4MB,
		Layout: layout})

	if !IsAlignmentError(err) {
		t.Fatalf("expected alignment error; got %v", err)
	}
	var ae *AlignmentError
	if !errors.As(err, &ae) || ae.Alignment != 4 || ae.Length != 0x1002 {
		t.Fatalf("expected alignment error; got %v", err)
	}

	comps, tbl = build(t, layout, 0x8000, 0x1004)
	if _, err := Assemble(comps, tbl, Options{Capacity: capacity4MB,
		Layout: layout}); err != nil {

		t.Fatalf("unencrypted 4-byte aligned image rejected: %v", err)
	}

	_, err = Assemble(comps, tbl, Options{Capacity: capacity4MB,
		Encrypted: true, Layout: layout})
	if !IsAlignmentError(err) || !errors.As(err, &ae) || ae.Alignment != 16 {
		t.Fatalf("expected 16-byte alignment error; got %v", err)
	}
}

func TestAssembleBadMagic(t *testing.T) {
	layout := legacyLayout(t)
	comps, tbl := build(t, layout, 0x8000, 0x1000)
	comps[1].Data[0] = 0x00

	_, err := Assemble(comps, tbl, Options{Capacity: capacity4MB,
		Layout: layout})
	if !espimage.IsParseError(err, espimage.PARSE_ERR_BAD_MAGIC) {
		t.Fatalf("expected bad magic error; got %v", err)
	}
}

func TestAssembleRegionOverflow(t *testing.T) {
	// A 32 KiB boot loader does not fit the default layout's 24 KiB region.
	layout := platform.Default()
	comps, tbl := build(t, layout, 0x8000, 0x1000)

	_, err := Assemble(comps, tbl, Options{Capacity: capacity4MB,
		Layout: layout})

	if !IsRegionOverflowError(err) {
		t.Fatalf("expected region overflow; got %v", err)
	}
	var re *RegionOverflowError
	if !errors.As(err, &re) || re.Size != layout.Bootloader.Size {
		t.Fatalf("expected region overflow; got %v", err)
	}
}

func TestAssembleOutOfBounds(t *testing.T) {
	layout := legacyLayout(t)
	comps, tbl := build(t, layout, 0x8000, 0x10000)

	_, err := Assemble(comps, tbl, Options{
		Mode:     MODE_PADDED,
		Capacity: 0x18000,
		Layout:   layout,
	})
	if !IsOutOfBoundsError(err) {
		t.Fatalf("expected out-of-bounds error; got %v", err)
	}

	_, err = Assemble(comps, tbl, Options{Mode: MODE_PADDED, Layout: layout})
	if err == nil {
		t.Fatal("expected error for padded image without capacity")
	}
}

func TestAssembleLayoutMismatch(t *testing.T) {
	comps, tbl := build(t, legacyLayout(t), 0x6000, 0x1000)

	_, err := Assemble(comps, tbl, Options{Capacity: capacity4MB,
		Layout: platform.Default()})
	if err == nil {
		t.Fatal("table built for another layout accepted")
	}
}

func TestAssemblePartitionTableTooLong(t *testing.T) {
	layout := legacyLayout(t)
	comps, tbl := build(t, layout, 0x8000, 0x1000)

	layout.PartitionTableMaxLen = 0x800
	_, err := Assemble(comps, tbl, Options{Capacity: capacity4MB,
		Layout: layout})

	var re *RegionOverflowError
	if !errors.As(err, &re) || re.Name != partition.ENTRY_NAME_PART_TABLE ||
		re.Length != partition.TABLE_MAX_LEN {

		t.Fatalf("expected partition table overflow; got %v", err)
	}
}

func TestAssembleSkipsUnmappedOta(t *testing.T) {
	layout := legacyLayout(t)

	comps := []firmware.Component{
		component(t, 0, 0x8000),
		component(t, 1, 0x1000),
		component(t, 2, 0x1000),
	}
	tbl, err := flashmap.Build(comps, capacity4MB, 0, layout)
	if err != nil {
		t.Fatal(err)
	}

	res, err := AssembleResult(comps, tbl, Options{Capacity: capacity4MB,
		Layout: layout})
	if err != nil {
		t.Fatal(err)
	}

	if len(res.Regions) != 3 {
		t.Fatalf("%d regions written, want 3", len(res.Regions))
	}
	if len(res.Image) != layout.FactoryOffset+0x1000 {
		t.Fatalf("image length 0x%x", len(res.Image))
	}
}

func TestIntelHexRoundTrip(t *testing.T) {
	layout := legacyLayout(t)
	comps, tbl := build(t, layout, 0x8000, 0x2000, 0x1000)

	res, err := AssembleResult(comps, tbl, Options{
		Mode:     MODE_MINIMAL,
		Capacity: capacity4MB,
		Layout:   layout,
	})
	if err != nil {
		t.Fatal(err)
	}

	buf := &bytes.Buffer{}
	if err := WriteIntelHex(buf, res.Regions); err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(buf.Bytes(), []byte(":")) {
		t.Fatalf("output is not Intel HEX")
	}

	img, err := ReadIntelHex(buf)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(img, res.Image) {
		t.Fatal("Intel HEX round trip does not reproduce the image")
	}
}

func TestPartitionTableOnly(t *testing.T) {
	layout := platform.Default()
	tbl, err := flashmap.Build(flashmap.Placeholders(layout), capacity4MB,
		16, layout)
	if err != nil {
		t.Fatal(err)
	}

	blob, err := PartitionTableOnly(tbl)
	if err != nil {
		t.Fatal(err)
	}
	if len(blob) != partition.TABLE_MAX_LEN {
		t.Fatalf("blob length %d", len(blob))
	}

	got, err := partition.UnmarshalBinary(blob)
	if err != nil {
		t.Fatal(err)
	}
	if len(got.Entries) != 5 {
		t.Fatalf("%d entries", len(got.Entries))
	}
}
