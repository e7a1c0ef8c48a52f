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
	"fmt"
	"strings"

	"github.com/georgik/esp32-image-composer/util"
)

type FlashSize int

const (
	FLASH_SIZE_4MB  FlashSize = 4 * 1024 * 1024
	FLASH_SIZE_8MB  FlashSize = 8 * 1024 * 1024
	FLASH_SIZE_16MB FlashSize = 16 * 1024 * 1024
	FLASH_SIZE_32MB FlashSize = 32 * 1024 * 1024
)

const DEFAULT_FLASH_SIZE = FLASH_SIZE_16MB

var FlashSizes = []FlashSize{
	FLASH_SIZE_4MB,
	FLASH_SIZE_8MB,
	FLASH_SIZE_16MB,
	FLASH_SIZE_32MB,
}

func (fs FlashSize) Bytes() int {
	return int(fs)
}

func (fs FlashSize) String() string {
	return fmt.Sprintf("%dMB", int(fs)/(1024*1024))
}

// ParseFlashSize accepts "4MB", "8MB", "16MB" or "32MB" (case-insensitive;
// the trailing "B" is optional).
func ParseFlashSize(s string) (FlashSize, error) {
	norm := strings.ToUpper(strings.TrimSpace(s))
	if !strings.HasSuffix(norm, "B") {
		norm += "B"
	}

	for _, fs := range FlashSizes {
		if fs.String() == norm {
			return fs, nil
		}
	}

	names := make([]string, len(FlashSizes))
	for i, fs := range FlashSizes {
		names[i] = fs.String()
	}

	return 0, util.FmtComposerError(
		"invalid flash size \"%s\"; valid sizes: %s",
		s, strings.Join(names, ", "))
}
