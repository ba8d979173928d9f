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

package fusekernel

import (
	"testing"
	"unsafe"

	"github.com/kylelemons/godebug/pretty"
)

// The kernel's struct sizes, which ours must match byte for byte.
func TestStructSizes(t *testing.T) {
	cases := []struct {
		name string
		size uintptr
		want uintptr
	}{
		{"InHeader", unsafe.Sizeof(InHeader{}), 40},
		{"OutHeader", unsafe.Sizeof(OutHeader{}), 16},
		{"InitIn", unsafe.Sizeof(InitIn{}), 16},
		{"InitOut", unsafe.Sizeof(InitOut{}), 64},
		{"Attr", unsafe.Sizeof(Attr{}), 88},
		{"EntryOut", unsafe.Sizeof(EntryOut{}), 128},
		{"AttrOut", unsafe.Sizeof(AttrOut{}), 104},
		{"GetattrIn", unsafe.Sizeof(GetattrIn{}), 16},
		{"SetattrIn", unsafe.Sizeof(SetattrIn{}), 88},
		{"MknodIn", unsafe.Sizeof(MknodIn{}), 16},
		{"MkdirIn", unsafe.Sizeof(MkdirIn{}), 8},
		{"RenameIn", unsafe.Sizeof(RenameIn{}), 8},
		{"LinkIn", unsafe.Sizeof(LinkIn{}), 8},
		{"OpenIn", unsafe.Sizeof(OpenIn{}), 8},
		{"OpenOut", unsafe.Sizeof(OpenOut{}), 16},
		{"CreateIn", unsafe.Sizeof(CreateIn{}), 16},
		{"ReleaseIn", unsafe.Sizeof(ReleaseIn{}), 24},
		{"FlushIn", unsafe.Sizeof(FlushIn{}), 24},
		{"ReadIn", unsafe.Sizeof(ReadIn{}), 40},
		{"WriteIn", unsafe.Sizeof(WriteIn{}), 40},
		{"WriteOut", unsafe.Sizeof(WriteOut{}), 8},
		{"Kstatfs", unsafe.Sizeof(Kstatfs{}), 80},
		{"StatfsOut", unsafe.Sizeof(StatfsOut{}), 80},
		{"FsyncIn", unsafe.Sizeof(FsyncIn{}), 16},
		{"SetxattrIn", unsafe.Sizeof(SetxattrIn{}), 8},
		{"GetxattrIn", unsafe.Sizeof(GetxattrIn{}), 8},
		{"GetxattrOut", unsafe.Sizeof(GetxattrOut{}), 8},
		{"FileLock", unsafe.Sizeof(FileLock{}), 24},
		{"LkIn", unsafe.Sizeof(LkIn{}), 48},
		{"LkOut", unsafe.Sizeof(LkOut{}), 24},
		{"AccessIn", unsafe.Sizeof(AccessIn{}), 8},
		{"InterruptIn", unsafe.Sizeof(InterruptIn{}), 8},
		{"BmapIn", unsafe.Sizeof(BmapIn{}), 16},
		{"BmapOut", unsafe.Sizeof(BmapOut{}), 8},
		{"ForgetIn", unsafe.Sizeof(ForgetIn{}), 8},
		{"ForgetOne", unsafe.Sizeof(ForgetOne{}), 16},
		{"BatchForgetIn", unsafe.Sizeof(BatchForgetIn{}), 8},
		{"FallocateIn", unsafe.Sizeof(FallocateIn{}), 32},
		{"PollIn", unsafe.Sizeof(PollIn{}), 24},
		{"PollOut", unsafe.Sizeof(PollOut{}), 8},
		{"NotifyInvalInodeOut", unsafe.Sizeof(NotifyInvalInodeOut{}), 24},
		{"NotifyInvalEntryOut", unsafe.Sizeof(NotifyInvalEntryOut{}), 16},
		{"NotifyInvalDeleteOut", unsafe.Sizeof(NotifyInvalDeleteOut{}), 24},
		{"NotifyStoreOut", unsafe.Sizeof(NotifyStoreOut{}), 24},
		{"NotifyRetrieveOut", unsafe.Sizeof(NotifyRetrieveOut{}), 32},
		{"NotifyRetrieveIn", unsafe.Sizeof(NotifyRetrieveIn{}), 40},
		{"NotifyPollWakeupOut", unsafe.Sizeof(NotifyPollWakeupOut{}), 8},
		{"Dirent", unsafe.Sizeof(Dirent{}), 16},
	}

	for _, c := range cases {
		if c.size != c.want {
			t.Errorf("sizeof(%s) = %d, want %d", c.name, c.size, c.want)
		}
	}
}

// Spot-check field offsets whose misplacement the size checks wouldn't
// catch.
func TestFieldOffsets(t *testing.T) {
	cases := []struct {
		name   string
		offset uintptr
		want   uintptr
	}{
		{"InHeader.Unique", unsafe.Offsetof(InHeader{}.Unique), 8},
		{"InHeader.Nodeid", unsafe.Offsetof(InHeader{}.Nodeid), 16},
		{"InHeader.Pid", unsafe.Offsetof(InHeader{}.Pid), 32},
		{"OutHeader.Unique", unsafe.Offsetof(OutHeader{}.Unique), 8},
		{"InitOut.MaxBackground", unsafe.Offsetof(InitOut{}.MaxBackground), 16},
		{"InitOut.MaxWrite", unsafe.Offsetof(InitOut{}.MaxWrite), 20},
		{"InitOut.MaxPages", unsafe.Offsetof(InitOut{}.MaxPages), 28},
		{"Attr.AtimeNsec", unsafe.Offsetof(Attr{}.AtimeNsec), 48},
		{"Attr.Mode", unsafe.Offsetof(Attr{}.Mode), 60},
		{"Attr.BlkSize", unsafe.Offsetof(Attr{}.BlkSize), 80},
		{"EntryOut.Attr", unsafe.Offsetof(EntryOut{}.Attr), 40},
		{"AttrOut.Attr", unsafe.Offsetof(AttrOut{}.Attr), 16},
		{"WriteIn.Size", unsafe.Offsetof(WriteIn{}.Size), 16},
		{"ReadIn.LockOwner", unsafe.Offsetof(ReadIn{}.LockOwner), 24},
		{"SetattrIn.Mode", unsafe.Offsetof(SetattrIn{}.Mode), 68},
		{"LkIn.Lk", unsafe.Offsetof(LkIn{}.Lk), 16},
	}

	for _, c := range cases {
		if c.offset != c.want {
			t.Errorf("offsetof(%s) = %d, want %d", c.name, c.offset, c.want)
		}
	}
}

func TestOpcodeValues(t *testing.T) {
	cases := []struct {
		name string
		got  int
		want int
	}{
		{"OpLookup", OpLookup, 1},
		{"OpForget", OpForget, 2},
		{"OpGetattr", OpGetattr, 3},
		{"OpSetattr", OpSetattr, 4},
		{"OpRename", OpRename, 12},
		{"OpRead", OpRead, 15},
		{"OpWrite", OpWrite, 16},
		{"OpStatfs", OpStatfs, 17},
		{"OpInit", OpInit, 26},
		{"OpGetlk", OpGetlk, 31},
		{"OpSetlkw", OpSetlkw, 33},
		{"OpCreate", OpCreate, 35},
		{"OpInterrupt", OpInterrupt, 36},
		{"OpDestroy", OpDestroy, 38},
		{"OpPoll", OpPoll, 40},
		{"OpNotifyReply", OpNotifyReply, 41},
		{"OpBatchForget", OpBatchForget, 42},
		{"OpFallocate", OpFallocate, 43},
	}

	for _, c := range cases {
		if c.got != c.want {
			t.Errorf("%s = %d, want %d", c.name, c.got, c.want)
		}
	}
}

// Round-trip a struct through its raw byte representation and make sure
// nothing is lost, which would indicate hidden padding.
func TestAttrRoundTrip(t *testing.T) {
	in := Attr{
		Ino:       42,
		Size:      1 << 33,
		Blocks:    17,
		Atime:     100,
		Mtime:     200,
		Ctime:     300,
		AtimeNsec: 1,
		MtimeNsec: 2,
		CtimeNsec: 3,
		Mode:      0644,
		Nlink:     2,
		Uid:       1000,
		Gid:       1000,
		Rdev:      5,
		BlkSize:   4096,
	}

	b := make([]byte, unsafe.Sizeof(in))
	copy(b, unsafe.Slice((*byte)(unsafe.Pointer(&in)), len(b)))

	out := *(*Attr)(unsafe.Pointer(&b[0]))
	if diff := pretty.Compare(in, out); diff != "" {
		t.Errorf("Attr round trip diff: (-want +got)\n%s", diff)
	}
}

func TestProtocolComparison(t *testing.T) {
	a := Protocol{7, 12}
	b := Protocol{7, 31}

	if !a.LT(b) {
		t.Errorf("expected %v < %v", a, b)
	}
	if b.LT(a) {
		t.Errorf("expected %v >= %v", b, a)
	}
	if !b.GE(a) {
		t.Errorf("expected %v >= %v", b, a)
	}
	if a.GE(b) {
		t.Errorf("expected %v < %v", a, b)
	}
}

func TestInitFlagsString(t *testing.T) {
	fl := InitAsyncRead | InitBigWrites
	if got, want := fl.String(), "ASYNC_READ|BIG_WRITES"; got != want {
		t.Errorf("String() = %q, want %q", got, want)
	}
}
