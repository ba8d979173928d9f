// Copyright 2015 Google Inc. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fuseutil

import (
	"encoding/binary"
	"testing"
)

func TestWriteDirentLayout(t *testing.T) {
	buf := make([]byte, 256)

	d := Dirent{
		Offset: 7,
		Inode:  42,
		Name:   "hello",
		Type:   DT_File,
	}

	n := WriteDirent(buf, d)

	// Fixed header (24 bytes) + name (5) + padding to the next 8-byte
	// boundary (3).
	if want := 24 + 5 + 3; n != want {
		t.Fatalf("WriteDirent returned %d, want %d", n, want)
	}

	if got := binary.LittleEndian.Uint64(buf[0:]); got != 42 {
		t.Errorf("ino = %d, want 42", got)
	}
	if got := binary.LittleEndian.Uint64(buf[8:]); got != 7 {
		t.Errorf("off = %d, want 7", got)
	}
	if got := binary.LittleEndian.Uint32(buf[16:]); got != 5 {
		t.Errorf("namelen = %d, want 5", got)
	}
	if got := binary.LittleEndian.Uint32(buf[20:]); got != uint32(DT_File) {
		t.Errorf("type = %d, want %d", got, DT_File)
	}
	if got := string(buf[24:29]); got != "hello" {
		t.Errorf("name = %q", got)
	}
	for i := 29; i < 32; i++ {
		if buf[i] != 0 {
			t.Errorf("padding byte %d = %d, want 0", i, buf[i])
		}
	}
}

func TestWriteDirentAlignedName(t *testing.T) {
	buf := make([]byte, 256)

	// An 8-byte name needs no padding.
	n := WriteDirent(buf, Dirent{Offset: 1, Inode: 2, Name: "12345678", Type: DT_Directory})
	if want := 24 + 8; n != want {
		t.Fatalf("WriteDirent returned %d, want %d", n, want)
	}
}

func TestWriteDirentRefusesShortBuffer(t *testing.T) {
	buf := make([]byte, 16)

	if n := WriteDirent(buf, Dirent{Name: "x"}); n != 0 {
		t.Fatalf("WriteDirent returned %d, want 0", n)
	}
}
