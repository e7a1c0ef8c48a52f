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

package partition

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/apache/mynewt-artifact/flash"

	"github.com/georgik/esp32-image-composer/util"
)

type Table struct {
	Entries []Entry
}

func (t *Table) Add(e Entry) {
	t.Entries = append(t.Entries, e)
}

func (t *Table) Find(name string) (Entry, bool) {
	for _, e := range t.Entries {
		if e.Name == name {
			return e, true
		}
	}

	return Entry{}, false
}

// FindOta returns the entry for OTA slot `idx`.
func (t *Table) FindOta(idx int) (Entry, bool) {
	return t.Find(OtaName(idx))
}

// OtaEntries returns the OTA app entries in slot order.
func (t *Table) OtaEntries() []Entry {
	var otas []Entry
	for i := 0; OtaSubType(i) <= SUBTYPE_OTA_MAX; i++ {
		for _, e := range t.Entries {
			if idx, ok := e.OtaIndex(); ok && idx == i {
				otas = append(otas, e)
				break
			}
		}
	}

	return otas
}

// FlashAreas converts the table's entries to flash areas on a single device.
// Area IDs are the entries' indices.
func (t *Table) FlashAreas() []flash.FlashArea {
	areas := make([]flash.FlashArea, len(t.Entries))
	for i, e := range t.Entries {
		areas[i] = flash.FlashArea{
			Name:   e.Name,
			Id:     i,
			Device: 0,
			Offset: e.Offset,
			Size:   e.Size,
		}
	}

	return areas
}

// Sorted returns a copy of the entries ordered by offset.
func (t *Table) Sorted() []Entry {
	areas := flash.SortFlashAreasByDevOff(t.FlashAreas())

	sorted := make([]Entry, len(areas))
	for i, a := range areas {
		sorted[i] = t.Entries[a.Id]
	}

	return sorted
}

// End returns the highest end offset of any entry.
func (t *Table) End() int {
	end := 0
	for _, e := range t.Entries {
		if e.End() > end {
			end = e.End()
		}
	}

	return end
}

func (t *Table) checkEntries() error {
	for _, e := range t.Entries {
		if e.Name == "" {
			return &LayoutError{
				Kind:   LAYOUT_ERR_INVALID_ENTRY,
				Detail: "empty name",
			}
		}
		if len(e.Name) > NAME_MAX_LEN {
			return &LayoutError{
				Kind: LAYOUT_ERR_INVALID_ENTRY,
				Name: e.Name,
				Detail: fmt.Sprintf("name longer than %d bytes",
					NAME_MAX_LEN),
			}
		}
		if e.Offset < 0 || e.Size < 0 || int64(e.End()) > math.MaxUint32 {
			return &LayoutError{
				Kind: LAYOUT_ERR_INVALID_ENTRY,
				Name: e.Name,
				Detail: fmt.Sprintf("offset 0x%x / size 0x%x out of range",
					e.Offset, e.Size),
			}
		}
	}

	return nil
}

// Validate checks the table against a flash device of the specified
// capacity.  Loadable application regions must be aligned to `appAlign`;
// every other region except the boot loader must be aligned to `dataAlign`.
// An alignment of zero disables the corresponding check.
func (t *Table) Validate(capacity int, appAlign int, dataAlign int) error {
	if err := t.checkEntries(); err != nil {
		return err
	}

	for _, e := range t.Entries {
		if e.End() > capacity {
			return &LayoutError{
				Kind:      LAYOUT_ERR_EXCEEDS_CAPACITY,
				Name:      e.Name,
				Needed:    e.End(),
				Available: capacity,
			}
		}
	}

	// Empty regions occupy no flash; leave them out of the overlap scan.
	nonEmpty := Table{}
	for _, e := range t.Entries {
		if e.Size > 0 {
			nonEmpty.Add(e)
		}
	}
	areas := flash.SortFlashAreasByDevOff(nonEmpty.FlashAreas())
	overlaps, _ := flash.DetectErrors(areas)
	if len(overlaps) > 0 {
		text := flash.ErrorText(overlaps, nil)
		return &LayoutError{
			Kind:   LAYOUT_ERR_OVERLAP,
			Name:   overlaps[0][0].Name,
			Other:  overlaps[0][1].Name,
			Detail: text,
		}
	}

	for _, e := range t.Entries {
		align := 0
		if e.IsAppImage() {
			align = appAlign
		} else if e.Name != ENTRY_NAME_BOOTLOADER {
			align = dataAlign
		}

		if align > 0 && e.Offset%align != 0 {
			return &LayoutError{
				Kind:      LAYOUT_ERR_MISALIGNED,
				Name:      e.Name,
				Offset:    e.Offset,
				Alignment: align,
			}
		}
	}

	names := map[string]struct{}{}
	for _, e := range t.Entries {
		if _, ok := names[e.Name]; ok {
			return &LayoutError{
				Kind: LAYOUT_ERR_DUPLICATE_NAME,
				Name: e.Name,
			}
		}
		names[e.Name] = struct{}{}
	}

	return nil
}

func (t *Table) Map() []map[string]interface{} {
	m := []map[string]interface{}{}
	for i := range t.Entries {
		m = append(m, t.Entries[i].Map())
	}

	return m
}

func (t *Table) Json() (string, error) {
	b, err := json.MarshalIndent(t.Map(), "", "    ")
	if err != nil {
		return "", util.ChildComposerError(err)
	}

	return string(b), nil
}
