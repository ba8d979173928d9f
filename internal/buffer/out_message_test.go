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

package buffer

import (
	"bytes"
	"testing"
	"unsafe"
)

func TestResetYieldsHeaderOnly(t *testing.T) {
	var m OutMessage
	m.Reset()

	if got, want := m.Len(), OutMessageHeaderSize; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	for i, b := range m.Bytes() {
		if b != 0 {
			t.Fatalf("byte %d is %d, want 0", i, b)
		}
	}
}

func TestOutHeaderIsFrontOfBuffer(t *testing.T) {
	var m OutMessage
	m.Reset()

	h := m.OutHeader()
	h.Len = 0xdeadbeef
	h.Error = -5
	h.Unique = 0x1122334455667788

	b := m.Bytes()
	if got := uintptr(unsafe.Pointer(&b[0])); got != uintptr(unsafe.Pointer(h)) {
		t.Fatalf("header not at front of buffer")
	}

	// Little-endian spot check of the len field.
	if b[0] != 0xef || b[1] != 0xbe || b[2] != 0xad || b[3] != 0xde {
		t.Errorf("unexpected header bytes: %x", b[:4])
	}
}

func TestGrowZeroes(t *testing.T) {
	var m OutMessage

	// Scribble over the payload area, then reset and grow; the new
	// segment must come back zeroed.
	for i := range m.payload[:64] {
		m.payload[i] = 0xff
	}

	m.Reset()

	p := m.Grow(64)
	if p == nil {
		t.Fatal("Grow returned nil")
	}

	for i, b := range unsafe.Slice((*byte)(p), 64) {
		if b != 0 {
			t.Fatalf("byte %d is %d, want 0", i, b)
		}
	}

	if got, want := m.Len(), OutMessageHeaderSize+64; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestGrowRefusesOverflow(t *testing.T) {
	var m OutMessage
	m.Reset()

	if p := m.Grow(MaxReadSize + 1); p != nil {
		t.Error("expected nil for oversized Grow")
	}
}

func TestAppend(t *testing.T) {
	var m OutMessage
	m.Reset()

	m.Append([]byte("tacos"))
	m.AppendString(" and queso")

	if got, want := m.Len(), OutMessageHeaderSize+15; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}

	payload := m.Bytes()[OutMessageHeaderSize:]
	if !bytes.Equal(payload, []byte("tacos and queso")) {
		t.Errorf("payload = %q", payload)
	}
}

func TestShrinkTo(t *testing.T) {
	var m OutMessage
	m.Reset()

	m.Append(make([]byte, 100))
	m.ShrinkTo(OutMessageHeaderSize + 10)

	if got, want := m.Len(), OutMessageHeaderSize+10; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestResetClearsSglist(t *testing.T) {
	var m OutMessage
	m.Reset()

	m.Sglist = append(m.Sglist, []byte("payload"))
	m.Reset()

	if m.Sglist != nil {
		t.Error("Reset left Sglist non-nil")
	}
}
