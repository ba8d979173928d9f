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
	"syscall"
	"unsafe"

	"github.com/vfskit/fuse/fuseops"
)

// DirentType is the type of a directory entry, as reported to the kernel
// in readdir results.
type DirentType uint32

const (
	DT_Unknown   DirentType = 0
	DT_FIFO      DirentType = syscall.DT_FIFO
	DT_Char      DirentType = syscall.DT_CHR
	DT_Directory DirentType = syscall.DT_DIR
	DT_Block     DirentType = syscall.DT_BLK
	DT_File      DirentType = syscall.DT_REG
	DT_Link      DirentType = syscall.DT_LNK
	DT_Socket    DirentType = syscall.DT_SOCK
)

// Dirent is a single directory entry as handed back in a ReadDirOp.
type Dirent struct {
	// The offset of the *next* entry, exposed to the user and possibly
	// echoed back in a later ReadDirOp.Offset. See the notes there.
	Offset fuseops.DirOffset

	// The inode of the child, its name within the parent, and its type.
	// The inode here is advisory; the kernel looks the name up properly
	// before using it.
	Inode fuseops.InodeID
	Name  string
	Type  DirentType
}

// WriteDirent writes the supplied directory entry into the given buffer in
// the format expected in fuseops.ReadDirOp.Data, returning the number of
// bytes written. It returns zero if the entry would not fit.
func WriteDirent(buf []byte, d Dirent) (n int) {
	// The kernel requires each record to be aligned to an 8-byte boundary,
	// padding the name with zero bytes.
	type fuse_dirent struct {
		ino     uint64
		off     uint64
		namelen uint32
		type_   uint32
	}

	const direntAlignment = 8
	const direntSize = 8 + 8 + 4 + 4

	var padLen int
	if len(d.Name)%direntAlignment != 0 {
		padLen = direntAlignment - (len(d.Name) % direntAlignment)
	}

	totalLen := direntSize + len(d.Name) + padLen
	if totalLen > len(buf) {
		return 0
	}

	de := fuse_dirent{
		ino:     uint64(d.Inode),
		off:     uint64(d.Offset),
		namelen: uint32(len(d.Name)),
		type_:   uint32(d.Type),
	}

	n += copy(buf[n:], (*[direntSize]byte)(unsafe.Pointer(&de))[:])
	n += copy(buf[n:], d.Name)

	if padLen != 0 {
		var padding [direntAlignment]byte
		n += copy(buf[n:], padding[:padLen])
	}

	return n
}
