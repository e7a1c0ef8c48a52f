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

package platform

import (
	"testing"

	"github.com/georgik/esp32-image-composer/artifact/partition"
)

func TestPresetsValid(t *testing.T) {
	for _, name := range PresetNames() {
		l, err := Preset(name)
		if err != nil {
			t.Fatal(err)
		}
		if err := l.Validate(); err != nil {
			t.Errorf("preset %s invalid: %v", name, err)
		}
	}
}

func TestDefaultLayout(t *testing.T) {
	l := Default()
	if l.Name != "esp32p4" {
		t.Fatalf("default layout %s", l.Name)
	}

	want := map[string]Region{
		partition.ENTRY_NAME_BOOTLOADER: {0x2000, 0x6000},
		partition.ENTRY_NAME_PART_TABLE: {0x10000, 0x1000},
		partition.ENTRY_NAME_NVS:        {0x9000, 0x1000},
		partition.ENTRY_NAME_OTADATA:    {0xa000, 0x2000},
	}

	entries := l.FixedEntries()
	if len(entries) != 4 {
		t.Fatalf("%d fixed entries", len(entries))
	}
	for _, e := range entries {
		r := want[e.Name]
		if e.Offset != r.Offset || e.Size != r.Size {
			t.Errorf("%s: 0x%x/0x%x, want 0x%x/0x%x",
				e.Name, e.Offset, e.Size, r.Offset, r.Size)
		}
	}
	if l.FactoryOffset != 0x20000 {
		t.Errorf("factory offset 0x%x", l.FactoryOffset)
	}
}

func TestLegacyLayout(t *testing.T) {
	l, err := Preset("ESP32C3")
	if err != nil {
		t.Fatal(err)
	}
	if l.Bootloader.Offset != 0 || l.PartitionTable.Offset != 0x8000 ||
		l.FactoryOffset != 0x10000 {

		t.Fatalf("unexpected legacy layout %+v", l)
	}
	if l.LegacyOtaOffset(0) != 0x110000 || l.LegacyOtaOffset(2) != 0x310000 {
		t.Fatalf("unexpected OTA scan offsets")
	}

	offs := l.FixedOffsets()
	want := []int{0x0, 0x8000, 0x9000, 0xd000, 0x10000}
	for i := range want {
		if offs[i] != want[i] {
			t.Fatalf("FixedOffsets() = %x", offs)
		}
	}
}

func TestUnknownPreset(t *testing.T) {
	if _, err := Preset("esp8266"); err == nil {
		t.Fatal("expected error")
	}
}

func TestParse(t *testing.T) {
	l, err := Parse(map[string]interface{}{
		"base": "esp32c3",
		"name": "big-nvs",
		"nvs": map[string]interface{}{
			"offset": 0x9000,
			"size":   "24kb",
		},
		"otadata": map[string]interface{}{
			"offset": "0xf000",
			"size":   "8K",
		},
		"factory_offset": "0x20000",
		"max_ota_slots":  4,
	})
	if err != nil {
		t.Fatal(err)
	}

	if l.Name != "big-nvs" || l.Nvs.Size != 0x6000 ||
		l.OtaData.Offset != 0xf000 || l.FactoryOffset != 0x20000 ||
		l.MaxOtaSlots != 4 {

		t.Fatalf("unexpected layout %+v", l)
	}
	if l.Bootloader.Offset != 0 {
		t.Fatalf("bootloader not inherited from base")
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name   string
		fields map[string]interface{}
	}{
		{
			name: "overlap",
			fields: map[string]interface{}{
				"nvs": map[string]interface{}{
					"offset": "0x9000",
					"size":   "0x2000",
				},
			},
		},
		{
			name: "missing size",
			fields: map[string]interface{}{
				"nvs": map[string]interface{}{
					"offset": "0x9000",
				},
			},
		},
		{
			name: "misaligned factory",
			fields: map[string]interface{}{
				"factory_offset": "0x21000",
			},
		},
		{
			name: "too many slots",
			fields: map[string]interface{}{
				"max_ota_slots": 17,
			},
		},
		{
			name: "bad base",
			fields: map[string]interface{}{
				"base": "nope",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Parse(tt.fields); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

func TestFlashSize(t *testing.T) {
	for _, fs := range FlashSizes {
		parsed, err := ParseFlashSize(fs.String())
		if err != nil {
			t.Fatal(err)
		}
		if parsed != fs {
			t.Fatalf("%s parsed as %s", fs, parsed)
		}
	}

	fs, err := ParseFlashSize("8m")
	if err != nil || fs != FLASH_SIZE_8MB {
		t.Fatalf("8m parsed as %v, %v", fs, err)
	}
	if FLASH_SIZE_16MB.Bytes() != 16777216 {
		t.Fatalf("16MB = %d bytes", FLASH_SIZE_16MB.Bytes())
	}
	if _, err := ParseFlashSize("2MB"); err == nil {
		t.Fatal("expected error for 2MB")
	}
}
