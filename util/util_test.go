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

package util

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestAtoiNoOct(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"0", 0, true},
		{"10", 10, true},
		{"010", 10, true},
		{"0x10", 16, true},
		{"0X1f", 31, true},
		{"00x10", 16, true},
		{"-5", -5, true},
		{"", 0, false},
		{"ten", 0, false},
		{"0x", 0, false},
	}

	for _, tc := range tests {
		got, ok := AtoiNoOctTry(tc.in)
		if ok != tc.ok || got != tc.want {
			t.Errorf("AtoiNoOctTry(%q): have (%d, %v), want (%d, %v)",
				tc.in, got, ok, tc.want, tc.ok)
		}
	}
}

func TestParseSize(t *testing.T) {
	tests := []struct {
		in   string
		want int
		ok   bool
	}{
		{"4096", 4096, true},
		{"0x1000", 0x1000, true},
		{"4K", 4096, true},
		{"4kb", 4096, true},
		{"2M", 2 * 1024 * 1024, true},
		{" 1MB ", 1024 * 1024, true},
		{"0xb", 0xb, true},
		{"K", 0, false},
		{"4G", 0, false},
	}

	for _, tc := range tests {
		got, err := ParseSize(tc.in)
		if (err == nil) != tc.ok || got != tc.want {
			t.Errorf("ParseSize(%q): have (%d, %v), want %d", tc.in, got,
				err, tc.want)
		}
	}
}

func TestFormatSize(t *testing.T) {
	tests := []struct {
		in   int
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KB"},
		{100 * 1024, "100.0 KB"},
		{1536 * 1024, "1.5 MB"},
		{16 * 1024 * 1024, "16.0 MB"},
	}

	for _, tc := range tests {
		if got := FormatSize(tc.in); got != tc.want {
			t.Errorf("FormatSize(%d): have %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestAlignUp(t *testing.T) {
	tests := []struct {
		size  int
		align int
		want  int
	}{
		{0, 0x10000, 0},
		{1, 0x10000, 0x10000},
		{0x10000, 0x10000, 0x10000},
		{0x10001, 0x10000, 0x20000},
		{13, 4, 16},
	}

	for _, tc := range tests {
		if got := AlignUp(tc.size, tc.align); got != tc.want {
			t.Errorf("AlignUp(%d, %d): have %d, want %d",
				tc.size, tc.align, got, tc.want)
		}
	}
}

func TestComposerErrorChain(t *testing.T) {
	base := os.ErrNotExist

	ce := FmtChildComposerError(base, "reading %s", "x.bin")
	if ce.Error() != "reading x.bin" {
		t.Errorf("unexpected text: %s", ce.Error())
	}
	if !errors.Is(ce, os.ErrNotExist) {
		t.Errorf("parent not reachable through Unwrap")
	}
	if len(ce.StackTrace) == 0 {
		t.Errorf("no stack trace captured")
	}

	pre := PreComposerError(errors.New("bad magic"), "bootloader")
	if pre.Error() != "bootloader; bad magic" {
		t.Errorf("unexpected text: %s", pre.Error())
	}

	// Wrapping a wrapper refers to the innermost parent.
	child := ChildComposerError(ce)
	if child.Parent != base {
		t.Errorf("child parent: have %v, want %v", child.Parent, base)
	}
}

func TestIsNotExist(t *testing.T) {
	_, err := os.Stat(filepath.Join(t.TempDir(), "missing"))
	if !IsNotExist(ChildComposerError(err)) {
		t.Errorf("wrapped not-exist error not detected")
	}
	if IsNotExist(NewComposerError("other")) {
		t.Errorf("unrelated error reported as not-exist")
	}
}

func TestWriteFileAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sub", "out.bin")

	if err := WriteFileAtomic(path, []byte{1, 2, 3}, 0644); err != nil {
		t.Fatal(err)
	}
	if err := WriteFileAtomic(path, []byte{4, 5}, 0644); err != nil {
		t.Fatal(err)
	}

	got, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != string([]byte{4, 5}) {
		t.Errorf("have %v, want [4 5]", got)
	}

	entries, err := os.ReadDir(filepath.Dir(path))
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("temporary files left behind: %d entries", len(entries))
	}
}

func TestCopyDir(t *testing.T) {
	src := filepath.Join(t.TempDir(), "src")
	dst := filepath.Join(t.TempDir(), "dst")

	if err := os.MkdirAll(filepath.Join(src, "nested"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(src, "nested", "01-app.bin"),
		[]byte{0xe9}, 0644); err != nil {

		t.Fatal(err)
	}

	if err := CopyDir(src, dst); err != nil {
		t.Fatal(err)
	}

	if !NodeExist(filepath.Join(dst, "nested", "01-app.bin")) {
		t.Errorf("file not copied")
	}
	if !NodeNotExist(filepath.Join(dst, "missing")) {
		t.Errorf("NodeNotExist reported a missing file as present")
	}
}
