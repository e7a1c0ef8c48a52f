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
	"errors"
	"fmt"
)

type LayoutErrorKind int

const (
	LAYOUT_ERR_INSUFFICIENT_SPACE LayoutErrorKind = iota
	LAYOUT_ERR_EXCEEDS_CAPACITY
	LAYOUT_ERR_OVERLAP
	LAYOUT_ERR_MISALIGNED
	LAYOUT_ERR_DUPLICATE_NAME
	LAYOUT_ERR_TOO_MANY_SLOTS
	LAYOUT_ERR_INVALID_ENTRY
)

var layoutErrorKindNames = map[LayoutErrorKind]string{
	LAYOUT_ERR_INSUFFICIENT_SPACE: "insufficient space",
	LAYOUT_ERR_EXCEEDS_CAPACITY:   "exceeds capacity",
	LAYOUT_ERR_OVERLAP:            "overlap",
	LAYOUT_ERR_MISALIGNED:         "misaligned",
	LAYOUT_ERR_DUPLICATE_NAME:     "duplicate name",
	LAYOUT_ERR_TOO_MANY_SLOTS:     "too many slots",
	LAYOUT_ERR_INVALID_ENTRY:      "invalid entry",
}

func (k LayoutErrorKind) String() string {
	if s, ok := layoutErrorKindNames[k]; ok {
		return s
	}
	return fmt.Sprintf("layout error %d", int(k))
}

// LayoutError indicates that a partition table cannot be built or is not
// valid.  Only the fields relevant to the kind are populated.
type LayoutError struct {
	Kind LayoutErrorKind

	// Entry the error refers to; for overlaps, the lower of the two.
	Name string

	// Second entry of an overlapping pair.
	Other string

	Needed    int
	Available int
	Offset    int
	Alignment int

	// Entries successfully placed before an insufficient-space failure.
	Placed []Entry

	// Free-form detail for invalid entries.
	Detail string
}

func (e *LayoutError) Error() string {
	switch e.Kind {
	case LAYOUT_ERR_INSUFFICIENT_SPACE:
		return fmt.Sprintf("insufficient flash space for partition \"%s\": "+
			"needed %d bytes, available %d bytes",
			e.Name, e.Needed, e.Available)

	case LAYOUT_ERR_EXCEEDS_CAPACITY:
		return fmt.Sprintf("partition \"%s\" ends at 0x%x, "+
			"past flash capacity 0x%x", e.Name, e.Needed, e.Available)

	case LAYOUT_ERR_OVERLAP:
		return fmt.Sprintf("partitions \"%s\" and \"%s\" overlap",
			e.Name, e.Other)

	case LAYOUT_ERR_MISALIGNED:
		return fmt.Sprintf("partition \"%s\" offset 0x%x is not aligned "+
			"to 0x%x", e.Name, e.Offset, e.Alignment)

	case LAYOUT_ERR_DUPLICATE_NAME:
		return fmt.Sprintf("duplicate partition name \"%s\"", e.Name)

	case LAYOUT_ERR_TOO_MANY_SLOTS:
		return fmt.Sprintf("%d OTA slots requested; at most %d supported",
			e.Needed, e.Available)

	case LAYOUT_ERR_INVALID_ENTRY:
		return fmt.Sprintf("invalid partition \"%s\": %s", e.Name, e.Detail)

	default:
		return e.Kind.String()
	}
}

// IsLayoutError indicates whether err is, or wraps, a layout error of the
// specified kind.
func IsLayoutError(err error, kind LayoutErrorKind) bool {
	var le *LayoutError
	if !errors.As(err, &le) {
		return false
	}

	return le.Kind == kind
}

type CodecErrorKind int

const (
	CODEC_ERR_BAD_RECORD CodecErrorKind = iota
	CODEC_ERR_BAD_MD5
	CODEC_ERR_TOO_LONG
	CODEC_ERR_SYNTAX
)

// CodecError indicates a malformed binary or CSV partition table.
type CodecError struct {
	Kind CodecErrorKind

	// Byte offset (binary) or line number (CSV) of the problem.
	Offset int
	Text   string
}

func (e *CodecError) Error() string {
	switch e.Kind {
	case CODEC_ERR_BAD_RECORD:
		return fmt.Sprintf("bad partition record at offset 0x%x: %s",
			e.Offset, e.Text)
	case CODEC_ERR_BAD_MD5:
		return fmt.Sprintf("partition table MD5 mismatch at offset 0x%x",
			e.Offset)
	case CODEC_ERR_TOO_LONG:
		return fmt.Sprintf("partition table too long: %s", e.Text)
	default:
		return fmt.Sprintf("line %d: %s", e.Offset, e.Text)
	}
}

func IsCodecError(err error, kind CodecErrorKind) bool {
	var ce *CodecError
	if !errors.As(err, &ce) {
		return false
	}

	return ce.Kind == kind
}
