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

package espimage

import (
	"encoding/binary"

	log "github.com/sirupsen/logrus"
)

const (
	CHECKSUM_SEED = 0xef
	ERASE_VAL     = 0xff
)

// Checksum computes the ROM boot loader's image checksum: a 32-bit XOR over
// little-endian words, seeded with 0xef, with a trailing partial word
// zero-padded on the right.  The four bytes of the accumulator are then
// XORed together.
func Checksum(data []byte) (uint8, error) {
	if len(data) == 0 {
		return 0, &ChecksumError{Kind: CSUM_ERR_EMPTY_INPUT}
	}

	acc := uint32(CHECKSUM_SEED)

	full := len(data) &^ 3
	for i := 0; i < full; i += 4 {
		acc ^= binary.LittleEndian.Uint32(data[i:])
	}

	if full < len(data) {
		var word [4]byte
		copy(word[:], data[full:])
		acc ^= binary.LittleEndian.Uint32(word[:])
	}

	return uint8(acc>>24) ^ uint8(acc>>16) ^ uint8(acc>>8) ^ uint8(acc), nil
}

// LocateChecksum finds the checksum byte by scanning backward from the end of
// `data` past trailing erase-state bytes.  The result is the index of the
// last byte that is not 0xff.  Images padded to an alignment boundary after
// their true end are thus handled without knowing the unpadded length.
func LocateChecksum(data []byte) (int, error) {
	if len(data) == 0 {
		return 0, &ChecksumError{Kind: CSUM_ERR_EMPTY_INPUT}
	}

	off := len(data) - 1
	for off > 0 && data[off] == ERASE_VAL {
		off--
	}

	// The checksum covers everything before it; at least one byte must
	// precede it.
	if off == 0 {
		return 0, &ChecksumError{Kind: CSUM_ERR_NO_LOCATION, Len: len(data)}
	}

	return off, nil
}

// PatchChecksum computes the checksum of all bytes preceding the checksum
// location and writes it there.  The calculated value is returned.
func PatchChecksum(data []byte) (uint8, error) {
	off, err := LocateChecksum(data)
	if err != nil {
		return 0, err
	}

	csum, err := Checksum(data[:off])
	if err != nil {
		return 0, err
	}

	data[off] = csum

	if csum == ERASE_VAL {
		log.Warnf("Patched checksum equals the erase value (0x%02x) at "+
			"offset 0x%x; it cannot be located by a tail scan", csum, off)
	}

	log.Debugf("Patched checksum 0x%02x at offset 0x%x "+
		"(calculated over %d bytes)", csum, off, off)

	return csum, nil
}

// ReadChecksum returns the stored checksum and the value calculated over the
// bytes preceding it.
func ReadChecksum(data []byte) (uint8, uint8, error) {
	off, err := LocateChecksum(data)
	if err != nil {
		return 0, 0, err
	}

	calc, err := Checksum(data[:off])
	if err != nil {
		return 0, 0, err
	}

	return data[off], calc, nil
}

// VerifyChecksum indicates whether the stored checksum matches the contents.
func VerifyChecksum(data []byte) (bool, error) {
	stored, calc, err := ReadChecksum(data)
	if err != nil {
		return false, err
	}

	return stored == calc, nil
}
