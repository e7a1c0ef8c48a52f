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
	"errors"
	"fmt"
)

// AlignmentError indicates that an application image's length is not a
// multiple of the required alignment.
type AlignmentError struct {
	Name      string
	Length    int
	Alignment int
}

func (e *AlignmentError) Error() string {
	return fmt.Sprintf("firmware \"%s\" length %d is not a multiple of %d",
		e.Name, e.Length, e.Alignment)
}

// OutOfBoundsError indicates a write past the end of the output buffer.
type OutOfBoundsError struct {
	Name   string
	Offset int
	Length int
	Limit  int
}

func (e *OutOfBoundsError) Error() string {
	return fmt.Sprintf("\"%s\" at 0x%x (%d bytes) ends at 0x%x, past the "+
		"image limit 0x%x", e.Name, e.Offset, e.Length, e.Offset+e.Length,
		e.Limit)
}

// RegionOverflowError indicates a component larger than its partition.
type RegionOverflowError struct {
	Name   string
	Length int
	Size   int
}

func (e *RegionOverflowError) Error() string {
	return fmt.Sprintf("\"%s\" is %d bytes; its partition holds only %d",
		e.Name, e.Length, e.Size)
}

func IsAlignmentError(err error) bool {
	var ae *AlignmentError
	return errors.As(err, &ae)
}

func IsOutOfBoundsError(err error) bool {
	var oe *OutOfBoundsError
	return errors.As(err, &oe)
}

func IsRegionOverflowError(err error) bool {
	var re *RegionOverflowError
	return errors.As(err, &re)
}
