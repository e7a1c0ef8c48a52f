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
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"math"

	log "github.com/sirupsen/logrus"
)

const (
	RECORD_SIZE   = 32
	RECORD_MAGIC  = 0x50aa
	MD5_MAGIC     = 0xebeb
	TABLE_MAX_LEN = 0xc00
	ERASE_VAL     = 0xff
)

// MAX_ENTRIES leaves room for the MD5 record.
const MAX_ENTRIES = TABLE_MAX_LEN/RECORD_SIZE - 1

type rawEntry struct {
	Magic   uint16
	Type    uint8
	SubType uint8
	Offset  uint32
	Size    uint32
	Name    [NAME_MAX_LEN]byte
	Flags   uint32
}

func encodeEntry(e Entry) ([]byte, error) {
	if len(e.Name) > NAME_MAX_LEN {
		return nil, &LayoutError{
			Kind:   LAYOUT_ERR_INVALID_ENTRY,
			Name:   e.Name,
			Detail: fmt.Sprintf("name longer than %d bytes", NAME_MAX_LEN),
		}
	}
	if e.Offset < 0 || e.Size < 0 ||
		int64(e.Offset) > math.MaxUint32 || int64(e.Size) > math.MaxUint32 {

		return nil, &LayoutError{
			Kind:   LAYOUT_ERR_INVALID_ENTRY,
			Name:   e.Name,
			Detail: "offset or size does not fit in 32 bits",
		}
	}

	raw := rawEntry{
		Magic:   RECORD_MAGIC,
		Type:    uint8(e.Type),
		SubType: uint8(e.SubType),
		Offset:  uint32(e.Offset),
		Size:    uint32(e.Size),
		Flags:   uint32(e.Flags),
	}
	copy(raw.Name[:], e.Name)

	b := &bytes.Buffer{}
	if err := binary.Write(b, binary.LittleEndian, &raw); err != nil {
		return nil, err
	}

	return b.Bytes(), nil
}

func md5Record(body []byte) []byte {
	rec := bytes.Repeat([]byte{ERASE_VAL}, RECORD_SIZE)
	binary.LittleEndian.PutUint16(rec, MD5_MAGIC)

	sum := md5.Sum(body)
	copy(rec[16:], sum[:])

	return rec
}

// MarshalBinary encodes the table in the on-device format: one 32-byte
// record per entry, an MD5 record, and erase-value padding up to
// TABLE_MAX_LEN bytes.
func (t *Table) MarshalBinary() ([]byte, error) {
	if len(t.Entries) > MAX_ENTRIES {
		return nil, &CodecError{
			Kind: CODEC_ERR_TOO_LONG,
			Text: fmt.Sprintf("%d entries; at most %d supported",
				len(t.Entries), MAX_ENTRIES),
		}
	}

	body := []byte{}
	for _, e := range t.Entries {
		rec, err := encodeEntry(e)
		if err != nil {
			return nil, err
		}
		body = append(body, rec...)
	}

	blob := append(body, md5Record(body)...)
	blob = append(blob,
		bytes.Repeat([]byte{ERASE_VAL}, TABLE_MAX_LEN-len(blob))...)

	log.Debugf("Encoded partition table: %d entries, %d bytes",
		len(t.Entries), len(blob))

	return blob, nil
}

func isErased(b []byte) bool {
	for _, c := range b {
		if c != ERASE_VAL {
			return false
		}
	}
	return true
}

// UnmarshalBinary decodes an on-device partition table.  Decoding stops at
// the MD5 record, at an erased record or after TABLE_MAX_LEN bytes.  A table
// without an MD5 record is accepted.  On an MD5 mismatch the decoded table is
// returned along with a CODEC_ERR_BAD_MD5 error.
func UnmarshalBinary(data []byte) (Table, error) {
	t := Table{}

	if len(data) > TABLE_MAX_LEN {
		data = data[:TABLE_MAX_LEN]
	}

	for off := 0; off+RECORD_SIZE <= len(data); off += RECORD_SIZE {
		rec := data[off : off+RECORD_SIZE]

		if isErased(rec) {
			break
		}

		magic := binary.LittleEndian.Uint16(rec)
		if magic == MD5_MAGIC {
			want := md5.Sum(data[:off])
			if !bytes.Equal(rec[16:], want[:]) {
				return t, &CodecError{Kind: CODEC_ERR_BAD_MD5, Offset: off}
			}
			break
		}

		if magic != RECORD_MAGIC {
			return t, &CodecError{
				Kind:   CODEC_ERR_BAD_RECORD,
				Offset: off,
				Text:   fmt.Sprintf("bad magic 0x%04x", magic),
			}
		}

		raw := rawEntry{}
		if err := binary.Read(bytes.NewReader(rec), binary.LittleEndian,
			&raw); err != nil {

			return t, &CodecError{
				Kind:   CODEC_ERR_BAD_RECORD,
				Offset: off,
				Text:   err.Error(),
			}
		}

		t.Add(Entry{
			Name:    string(bytes.TrimRight(raw.Name[:], "\x00")),
			Type:    Type(raw.Type),
			SubType: SubType(raw.SubType),
			Offset:  int(raw.Offset),
			Size:    int(raw.Size),
			Flags:   Flags(raw.Flags),
		})
	}

	return t, nil
}
