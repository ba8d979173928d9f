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

package fuseops

import (
	"fmt"
	"os"
	"time"
)

// InodeID is a 64-bit number used to uniquely identify a file or directory
// in the file system. File systems may mint inode IDs with any value except
// for RootInodeID.
//
// This corresponds to struct inode::i_no in the VFS layer.
type InodeID uint64

// RootInodeID is a distinguished inode ID that identifies the root of the
// file system, e.g. in a request to OpenDir or LookUpInode. Unlike all
// other inode IDs, which are minted by the file system, the FUSE VFS layer
// may send a request for this ID without the file system ever having
// referenced it in a previous response.
const RootInodeID = 1

// GenerationNumber distinguishes incarnations of an inode ID that has been
// reused. File systems that never reuse IDs may leave it zero.
type GenerationNumber uint64

// HandleID is an opaque 64-bit number minted by the file system when
// opening a file or directory, and echoed by the kernel in related
// follow-up requests.
type HandleID uint64

// DirOffset is an offset within an open directory, in the sense documented
// on ReadDirOp.Offset.
type DirOffset uint64

// OpHeader carries the credentials of the process on whose behalf the
// kernel sent a request.
type OpHeader struct {
	Uid uint32
	Gid uint32
	Pid uint32
}

// InodeAttributes contains attributes for a file or directory inode. It
// corresponds to struct inode, and is converted to the wire attribute
// record when replying.
type InodeAttributes struct {
	Size uint64

	// The number of incoming hard links to this inode.
	Nlink uint32

	// The mode of the inode. This is exposed to the user in e.g. the result
	// of fstat(2).
	Mode os.FileMode

	// Time information. See `man 2 stat` for full details.
	Atime time.Time
	Mtime time.Time
	Ctime time.Time

	// Ownership information.
	Uid uint32
	Gid uint32

	// Device number, for special files.
	Rdev uint32
}

func (a *InodeAttributes) DebugString() string {
	return fmt.Sprintf(
		"%d %d %v %d:%d",
		a.Size,
		a.Nlink,
		a.Mode,
		a.Uid,
		a.Gid)
}

// ChildInodeEntry contains information about a child inode within its
// parent directory, returned by operations that bind a name to an inode
// (LookUpInode, MkDir, CreateFile and friends).
type ChildInodeEntry struct {
	// The ID of the child inode. The file system must ensure that the ID is
	// not reused until the kernel has said it has forgotten the inode (via
	// ForgetInodeOp), or must reuse it only with a distinct Generation.
	Child InodeID

	// A generation number for this incarnation of the inode.
	Generation GenerationNumber

	// Current attributes for the child inode, and the time at which the
	// kernel's cache of them should expire.
	//
	// Using a non-trivial expiration lets the kernel answer stat(2) without
	// consulting the file system, at the cost of delayed visibility of
	// out-of-band attribute changes.
	Attributes           InodeAttributes
	AttributesExpiration time.Time

	// The time until which the kernel may cache the name -> inode mapping
	// itself.
	EntryExpiration time.Time
}

// FileLock describes a POSIX advisory record lock, as used by GetFileLockOp
// and SetFileLockOp.
type FileLock struct {
	// The byte range covered by the lock. End is inclusive, with the
	// kernel's "to end of file" convention of math.MaxUint64.
	Start uint64
	End   uint64

	// One of syscall.F_RDLCK, syscall.F_WRLCK, or syscall.F_UNLCK.
	Type uint32

	// The ID of the process holding the lock, filled in for GetFileLockOp
	// replies.
	Pid uint32
}
