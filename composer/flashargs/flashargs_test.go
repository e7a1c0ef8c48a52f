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

package flashargs

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestWrite(t *testing.T) {
	b := &bytes.Buffer{}
	err := Write(b, Options{
		FlashMode: "dio",
		FlashFreq: "80m",
		FlashSize: "16MB",
	}, []Entry{
		{0x20000, "factory.bin"},
		{0x2000, "bootloader.bin"},
		{0x10000, "partition table.bin"},
	})
	if err != nil {
		t.Fatal(err)
	}

	want := "--flash_mode dio --flash_freq 80m --flash_size 16MB\n" +
		"0x2000 bootloader.bin\n" +
		"0x10000 'partition table.bin'\n" +
		"0x20000 factory.bin\n"
	if b.String() != want {
		t.Fatalf("unexpected output:\n%s\nwant:\n%s", b.String(), want)
	}
}

func TestRoundTrip(t *testing.T) {
	opts := Options{FlashMode: "qio", FlashFreq: "40m", FlashSize: "4MB"}
	entries := []Entry{
		{0x0, "/tmp/a b/01-bootloader.bin"},
		{0x8000, "pt.bin"},
		{0x10000, "it's.bin"},
	}

	b := &bytes.Buffer{}
	if err := Write(b, opts, entries); err != nil {
		t.Fatal(err)
	}

	args, err := Read(b)
	if err != nil {
		t.Fatal(err)
	}

	want := Args{Options: opts, Entries: entries}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestReadEsptoolStyle(t *testing.T) {
	text := `# generated by the build system
--flash_mode=dio --flash_freq 80m --flash_size 2MB --before default_reset
0x10000 build/app.bin 0x1000 bootloader/bootloader.bin
0x8000 partition_table/partition-table.bin
`
	args, err := Read(strings.NewReader(text))
	if err != nil {
		t.Fatal(err)
	}

	want := Args{
		Options: Options{FlashMode: "dio", FlashFreq: "80m", FlashSize: "2MB"},
		Entries: []Entry{
			{0x1000, "bootloader/bootloader.bin"},
			{0x8000, "partition_table/partition-table.bin"},
			{0x10000, "build/app.bin"},
		},
	}
	if diff := cmp.Diff(want, args); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestReadErrors(t *testing.T) {
	for _, text := range []string{
		"0x1000\n",
		"app.bin 0x1000\n",
		"0x1000 'unterminated\n",
	} {
		if _, err := Read(strings.NewReader(text)); err == nil {
			t.Errorf("%q: expected error", text)
		}
	}
}
