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

package firmware

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/georgik/esp32-image-composer/util"
)

func TestParseFileName(t *testing.T) {
	tests := []struct {
		file string
		rank int
		name string
		ok   bool
	}{
		{"01-bootloader.bin", 1, "bootloader", true},
		{"02-app.bin", 2, "app", true},
		{"10-final.bin", 10, "final", true},
		{"003-ota-extra.BIN", 3, "ota-extra", true},
		{"1-short.bin", 0, "", false},
		{"no-prefix.bin", 0, "", false},
		{"abc-bootloader.bin", 0, "", false},
		{"01.bin", 0, "", false},
		{"01-notes.txt", 0, "", false},
	}

	for _, tt := range tests {
		rank, name, ok := ParseFileName(tt.file)
		if ok != tt.ok || rank != tt.rank || name != tt.name {
			t.Errorf("ParseFileName(%q) = %d,%q,%v; want %d,%q,%v",
				tt.file, rank, name, ok, tt.rank, tt.name, tt.ok)
		}
	}
}

func writeFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadDir(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "03-ota.bin"), []byte{3})
	writeFile(t, filepath.Join(dir, "01-bootloader.bin"), []byte{1, 1})
	writeFile(t, filepath.Join(dir, "sub", "02-app.bin"), []byte{2, 2, 2})
	writeFile(t, filepath.Join(dir, "readme.bin"), []byte{9})
	writeFile(t, filepath.Join(dir, "04-notes.txt"), []byte{9})

	comps, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}

	type summary struct {
		Name string
		Rank int
		Len  int
	}
	got := []summary{}
	for _, c := range comps {
		got = append(got, summary{c.Name, c.Rank, c.Len()})
	}

	want := []summary{
		{"bootloader", 1, 2},
		{"app", 2, 3},
		{"ota", 3, 1},
	}
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("mismatch (-want +got):\n%s", diff)
	}
}

func TestLoadDirDuplicateRank(t *testing.T) {
	dir := t.TempDir()

	writeFile(t, filepath.Join(dir, "01-a.bin"), []byte{0xa})
	writeFile(t, filepath.Join(dir, "01-b.bin"), []byte{0xb})

	comps, err := LoadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(comps) != 1 || comps[0].Name != "b" {
		t.Fatalf("expected the later file to win; got %+v", comps)
	}
}

func TestLoadDirErrors(t *testing.T) {
	_, err := LoadDir(filepath.Join(t.TempDir(), "missing"))
	if !util.IsNotExist(err) {
		t.Fatalf("expected not-exist error for missing directory; got %v",
			err)
	}

	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "bootloader.bin"), []byte{1})
	_, err = LoadDir(dir)
	if !errors.Is(err, ErrNoFirmware) {
		t.Fatalf("expected no-firmware error; got %v", err)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "app.bin")
	writeFile(t, path, []byte{1, 2, 3})

	c, err := LoadFile(path, 7)
	if err != nil {
		t.Fatal(err)
	}
	if c.Name != "app" || c.Rank != 7 || c.Len() != 3 {
		t.Fatalf("unexpected component %+v", c)
	}

	b := c.Bytes()
	b[0] = 0xff
	if c.Data[0] != 1 {
		t.Fatal("Bytes() does not return a copy")
	}
}

func TestRoleName(t *testing.T) {
	for idx, want := range []string{"bootloader", "factory", "ota_0", "ota_1"} {
		if got := RoleName(idx); got != want {
			t.Errorf("RoleName(%d) = %s, want %s", idx, got, want)
		}
	}
}
