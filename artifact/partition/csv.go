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
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
	"strings"

	"github.com/georgik/esp32-image-composer/util"
)

const csvHeader = "# ESP-IDF Partition Table\n" +
	"# Name, Type, SubType, Offset, Size, Flags\n"

// MarshalCSV renders the table in the ESP-IDF tabular text format.
func (t *Table) MarshalCSV() ([]byte, error) {
	b := &bytes.Buffer{}
	b.WriteString(csvHeader)

	w := csv.NewWriter(b)
	for _, e := range t.Entries {
		rec := []string{
			e.Name,
			TypeName(e.Type),
			SubTypeName(e.Type, e.SubType),
			fmt.Sprintf("0x%x", e.Offset),
			fmt.Sprintf("0x%x", e.Size),
			FlagsString(e.Flags),
		}
		if err := w.Write(rec); err != nil {
			return nil, util.ChildComposerError(err)
		}
	}

	w.Flush()
	if err := w.Error(); err != nil {
		return nil, util.ChildComposerError(err)
	}

	return b.Bytes(), nil
}

// UnmarshalCSV parses the ESP-IDF tabular text format.  Lines starting with
// '#' are ignored.  Offsets and sizes may be decimal, hexadecimal or carry a
// K/M suffix.  Every row must specify an explicit offset.
func UnmarshalCSV(r io.Reader) (Table, error) {
	t := Table{}

	cr := csv.NewReader(r)
	cr.Comment = '#'
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return t, &CodecError{Kind: CODEC_ERR_SYNTAX, Text: err.Error()}
		}

		line, _ := cr.FieldPos(0)

		e, err := parseCSVRecord(rec)
		if err != nil {
			return t, &CodecError{
				Kind:   CODEC_ERR_SYNTAX,
				Offset: line,
				Text:   err.Error(),
			}
		}

		t.Add(e)
	}

	return t, nil
}

func parseCSVRecord(rec []string) (Entry, error) {
	e := Entry{}

	for i := range rec {
		rec[i] = strings.TrimSpace(rec[i])
	}

	if len(rec) < 5 {
		return e, util.FmtComposerError(
			"expected at least 5 fields; have %d", len(rec))
	}

	e.Name = rec[0]
	if e.Name == "" {
		return e, util.NewComposerError("empty partition name")
	}

	var err error
	if e.Type, err = ParseType(rec[1]); err != nil {
		return e, err
	}
	if e.SubType, err = ParseSubType(e.Type, rec[2]); err != nil {
		return e, err
	}

	if rec[3] == "" {
		return e, util.FmtComposerError(
			"partition \"%s\" has no offset", e.Name)
	}
	if e.Offset, err = util.ParseSize(rec[3]); err != nil {
		return e, err
	}
	if e.Size, err = util.ParseSize(rec[4]); err != nil {
		return e, err
	}

	if len(rec) > 5 {
		if e.Flags, err = ParseFlags(rec[5]); err != nil {
			return e, err
		}
	}

	return e, nil
}
