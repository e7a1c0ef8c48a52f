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
	"io"

	"github.com/marcinbor85/gohex"

	"github.com/georgik/esp32-image-composer/util"
)

const HEX_LINE_LEN = 16

// WriteIntelHex writes the specified regions as Intel HEX.  Unwritten flash
// is omitted.
func WriteIntelHex(w io.Writer, regions []Region) error {
	mem := gohex.NewMemory()
	for _, r := range regions {
		if err := mem.AddBinary(uint32(r.Offset), r.Data); err != nil {
			return util.FmtChildComposerError(err,
				"Failed to add \"%s\" to hex image: %s", r.Name, err.Error())
		}
	}

	if err := mem.DumpIntelHex(w, HEX_LINE_LEN); err != nil {
		return util.ChildComposerError(err)
	}

	return nil
}

// ReadIntelHex parses Intel HEX text into a flat image.  Gaps between data
// records are filled with the erase value.
func ReadIntelHex(r io.Reader) ([]byte, error) {
	mem := gohex.NewMemory()
	if err := mem.ParseIntelHex(r); err != nil {
		return nil, util.FmtChildComposerError(err,
			"Failed to parse Intel HEX: %s", err.Error())
	}

	end := 0
	segs := mem.GetDataSegments()
	for _, seg := range segs {
		if e := int(seg.Address) + len(seg.Data); e > end {
			end = e
		}
	}

	img := make([]byte, end)
	for i := range img {
		img[i] = FILL_VAL
	}
	for _, seg := range segs {
		copy(img[seg.Address:], seg.Data)
	}

	return img, nil
}
