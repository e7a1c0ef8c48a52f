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
	"errors"
	"fmt"
)

type ParseErrorKind int

const (
	PARSE_ERR_TOO_SMALL ParseErrorKind = iota
	PARSE_ERR_BAD_MAGIC
	PARSE_ERR_TOO_MANY_SEGMENTS
)

var parseErrorKindNames = map[ParseErrorKind]string{
	PARSE_ERR_TOO_SMALL:         "too small",
	PARSE_ERR_BAD_MAGIC:         "bad magic",
	PARSE_ERR_TOO_MANY_SEGMENTS: "too many segments",
}

func (k ParseErrorKind) String() string {
	name, ok := parseErrorKindNames[k]
	if !ok {
		return "???"
	}
	return name
}

// ParseError indicates that an image header could not be decoded.
type ParseError struct {
	Kind ParseErrorKind

	// Number of bytes available for TooSmall; the offending magic byte for
	// BadMagic; the declared segment count for TooManySegments.
	Got int
}

func (e *ParseError) Error() string {
	switch e.Kind {
	case PARSE_ERR_TOO_SMALL:
		return fmt.Sprintf("image too small for header; need %d bytes, have %d",
			IMAGE_HEADER_SIZE, e.Got)

	case PARSE_ERR_BAD_MAGIC:
		return fmt.Sprintf(
			"invalid image magic byte; expected 0x%02x, got 0x%02x",
			IMAGE_MAGIC, e.Got)

	case PARSE_ERR_TOO_MANY_SEGMENTS:
		return fmt.Sprintf("invalid segment count %d; max is %d",
			e.Got, IMAGE_MAX_SEGMENTS)

	default:
		return fmt.Sprintf("image header error: %s", e.Kind)
	}
}

func IsParseError(err error, kind ParseErrorKind) bool {
	var pe *ParseError
	return errors.As(err, &pe) && pe.Kind == kind
}

type ChecksumErrorKind int

const (
	CSUM_ERR_EMPTY_INPUT ChecksumErrorKind = iota
	CSUM_ERR_NO_LOCATION
)

// ChecksumError indicates that a checksum could not be computed or located.
type ChecksumError struct {
	Kind ChecksumErrorKind
	Len  int
}

func (e *ChecksumError) Error() string {
	switch e.Kind {
	case CSUM_ERR_EMPTY_INPUT:
		return "cannot calculate checksum of empty data"

	default:
		return fmt.Sprintf(
			"cannot find checksum location in %d bytes; "+
				"data is empty or entirely fill bytes", e.Len)
	}
}

func IsChecksumError(err error, kind ChecksumErrorKind) bool {
	var ce *ChecksumError
	return errors.As(err, &ce) && ce.Kind == kind
}
