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

// Package fuseops contains the operation structs that may be returned by
// fuse.Connection.ReadOp, one per kernel request kind. Each struct carries
// the decoded request in its input fields; output fields are filled in by
// the file system before responding.
package fuseops

import (
	"fmt"
	"os"
	"time"
)

////////////////////////////////////////////////////////////////////////
// Inodes
////////////////////////////////////////////////////////////////////////

// Look up a child by name within a parent directory. The kernel sends this
// when resolving user paths to dentry structs, which are then cached.
type LookUpInodeOp struct {
	Header OpHeader

	// The ID of the directory inode to which the child belongs.
	Parent InodeID

	// The name of the child of interest, relative to the parent.
	Name string

	// Set by the file system: the resulting entry.
	Entry ChildInodeEntry
}

func (o *LookUpInodeOp) ShortDesc() string {
	return fmt.Sprintf("LookUpInode(parent=%d, name=%q)", o.Parent, o.Name)
}

// Refresh the attributes for an inode whose ID was previously returned by
// the file system. The kernel sends this when its cache of the attributes
// is stale, as controlled by the expiration fields of previous responses.
type GetInodeAttributesOp struct {
	Header OpHeader

	// The inode of interest.
	Inode InodeID

	// Set by the file system: attributes for the inode, and the time at
	// which they should expire.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

func (o *GetInodeAttributesOp) DebugString() string {
	return fmt.Sprintf(
		"Inode: %d, Exp: %v, Attr: %s",
		o.Inode,
		o.AttributesExpiration,
		o.Attributes.DebugString())
}

// Change attributes for an inode.
//
// The kernel sends this for obvious cases like chmod(2), and for less
// obvious cases like ftruncate(2).
type SetInodeAttributesOp struct {
	Header OpHeader

	// The inode of interest.
	Inode InodeID

	// If the request came in via a file handle (e.g. ftruncate), the handle.
	Handle *HandleID

	// The attributes to modify. Fields that are nil don't need a change.
	Size  *uint64
	Mode  *os.FileMode
	Atime *time.Time
	Mtime *time.Time
	Uid   *uint32
	Gid   *uint32

	// Set by the file system: the new attributes, and the time at which
	// they should expire.
	Attributes           InodeAttributes
	AttributesExpiration time.Time
}

// Decrement the kernel's reference count for an inode ID previously issued
// by the file system. The kernel sends this when evicting an inode from
// its caches; once the count hits zero the ID will not be used again
// without being re-issued, and associated resources may be reclaimed.
//
// There is no reply on the wire for this operation.
type ForgetInodeOp struct {
	Header OpHeader

	// The inode to forget, and the number of lookups to subtract from the
	// reference count.
	Inode InodeID
	N     uint64
}

// A batched version of ForgetInodeOp, sent by kernels that coalesce cache
// evictions. Semantically equivalent to one ForgetInodeOp per entry.
//
// There is no reply on the wire for this operation.
type BatchForgetOp struct {
	Header OpHeader

	Entries []BatchForgetEntry
}

type BatchForgetEntry struct {
	Inode InodeID
	N     uint64
}

////////////////////////////////////////////////////////////////////////
// Inode creation
////////////////////////////////////////////////////////////////////////

// Create a directory inode as a child of an existing directory inode. The
// kernel sends this in response to a mkdir(2) call.
type MkDirOp struct {
	Header OpHeader

	// The ID of the parent directory inode within which to create the
	// child, the name of the child, and the mode with which to create it.
	Parent InodeID
	Name   string
	Mode   os.FileMode

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

func (o *MkDirOp) ShortDesc() string {
	return fmt.Sprintf("MkDir(parent=%d, name=%q)", o.Parent, o.Name)
}

// Create a file, device, or FIFO inode as a child of an existing directory
// inode. The kernel sends this in response to mknod(2), and for plain
// files when the file system hasn't claimed O_CREAT handling via
// CreateFileOp.
type MkNodeOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
	Mode   os.FileMode

	// The device number, for device special files.
	Rdev uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

// Create a file inode and open it.
//
// The kernel sends this when the user asks to open a file with the O_CREAT
// flag and the kernel has observed that the file doesn't exist. Volatile
// file systems should nevertheless check for existence themselves and
// return EEXIST when appropriate, since the kernel's view may be stale.
type CreateFileOp struct {
	Header OpHeader

	// The ID of the parent directory inode, the name of the child to
	// create, and the mode with which to create it.
	Parent InodeID
	Name   string
	Mode   os.FileMode

	// The flags from the open(2) call, as for OpenFileOp.
	Flags uint32

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry

	// Set by the file system: an opaque ID that will be echoed in follow-up
	// calls for this file using the same struct file in the kernel. The ID
	// must remain valid until a later ReleaseFileHandleOp.
	Handle HandleID
}

func (o *CreateFileOp) ShortDesc() string {
	return fmt.Sprintf("CreateFile(parent=%d, name=%q)", o.Parent, o.Name)
}

// Create a symlink inode as a child of an existing directory inode.
type CreateSymlinkOp struct {
	Header OpHeader

	// The ID of the parent directory inode, the name of the symlink to
	// create, and the target it points at.
	Parent InodeID
	Name   string
	Target string

	// Set by the file system: information about the inode that was created.
	Entry ChildInodeEntry
}

func (o *CreateSymlinkOp) ShortDesc() string {
	return fmt.Sprintf(
		"CreateSymlink(parent=%d, name=%q, target=%q)",
		o.Parent,
		o.Name,
		o.Target)
}

// Create a hard link to an existing inode.
type CreateLinkOp struct {
	Header OpHeader

	// The ID of the parent directory inode, and the name of the link to
	// create within it.
	Parent InodeID
	Name   string

	// The inode to link to.
	Target InodeID

	// Set by the file system: information about the now-linked inode, with
	// its updated link count.
	Entry ChildInodeEntry
}

// Rename a file or directory, atomically replacing any existing entry with
// the new name.
//
// The kernel guarantees old and new parents are both directories the file
// system has issued; everything else — including checking that the rename
// is not a directory onto a non-empty directory — is the file system's
// concern.
type RenameOp struct {
	Header OpHeader

	// The old parent directory and the name of the entity within it.
	OldParent InodeID
	OldName   string

	// The new parent directory and the name the entity takes within it.
	NewParent InodeID
	NewName   string
}

func (o *RenameOp) ShortDesc() string {
	return fmt.Sprintf(
		"Rename(old=%d/%q, new=%d/%q)",
		o.OldParent, o.OldName,
		o.NewParent, o.NewName)
}

////////////////////////////////////////////////////////////////////////
// Inode destruction
////////////////////////////////////////////////////////////////////////

// Unlink a directory from its parent. Because directories cannot have a
// link count above one, this means the directory inode should be deleted
// once the kernel sends a ForgetInodeOp for it.
//
// The file system is responsible for checking that the directory is empty.
type RmDirOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
}

// Unlink a file or symlink from its parent. If this brings the inode's
// link count to zero, the inode should be deleted once the kernel sends a
// ForgetInodeOp for it. It may still be referenced before then if a user
// still has the file open.
type UnlinkOp struct {
	Header OpHeader

	Parent InodeID
	Name   string
}

////////////////////////////////////////////////////////////////////////
// Directory handles
////////////////////////////////////////////////////////////////////////

// Open a directory inode. The kernel sends this when setting up a struct
// file for an inode with type directory, usually in response to open(2).
type OpenDirOp struct {
	Header OpHeader

	// The ID of the inode to be opened, and the open(2) flags.
	Inode InodeID
	Flags uint32

	// Set by the file system: an opaque ID echoed in follow-up calls for
	// this directory (ReadDirOp etc.), valid until ReleaseDirHandleOp.
	Handle HandleID
}

// Read entries from a directory previously opened with OpenDir.
type ReadDirOp struct {
	Header OpHeader

	// The directory inode being read, and the handle previously returned
	// by OpenDir.
	Inode  InodeID
	Handle HandleID

	// The offset within the directory at which to read. This is an opaque
	// cursor, not a byte count: its legal values are zero and the Offset
	// fields of dirents previously returned for this handle. FUSE offers
	// no way to intercept seeks, so a file system wanting rewinddir to
	// produce a fresh view may cache a listing per zero-offset read and
	// treat offsets as indices into it.
	Offset DirOffset

	// The maximum number of bytes to return in Data.
	Size int

	// Set by the file system: a sequence of dirent records in the kernel's
	// format. Use fuseutil.WriteDirent to generate this data. The final
	// entry may be truncated at the Size boundary; the kernel ignores the
	// partial record. An empty buffer indicates end of directory.
	Data []byte
}

// Release a previously-minted directory handle. The kernel sends this when
// all file descriptors for the handle are closed and all memory mappings
// unmapped, and guarantees the handle will not be used again.
type ReleaseDirHandleOp struct {
	Header OpHeader

	Handle HandleID
}

// Synchronize a directory's contents to storage. Sent for fsync(2) on a
// directory file descriptor.
type SyncDirOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID

	// If set, only flush data, not metadata (fdatasync semantics).
	Datasync bool
}

////////////////////////////////////////////////////////////////////////
// File handles
////////////////////////////////////////////////////////////////////////

// Open a file inode. The kernel sends this when setting up a struct file
// for an inode with type file, usually in response to open(2).
type OpenFileOp struct {
	Header OpHeader

	// The ID of the inode to be opened, and the open(2) flags.
	Inode InodeID
	Flags uint32

	// Set by the file system: an opaque ID echoed in follow-up calls for
	// this file (ReadFileOp etc.), valid until ReleaseFileHandleOp.
	Handle HandleID

	// Set by the file system: if true, the kernel page cache for the inode
	// is preserved across opens rather than invalidated.
	KeepPageCache bool

	// Set by the file system: bypass the page cache for this handle.
	UseDirectIO bool
}

// Read data from a file previously opened with CreateFile or OpenFile.
//
// This op is not sent for every read(2); reads may be served by the page
// cache. The kernel requires exactly Size bytes back except at EOF or on
// error.
type ReadFileOp struct {
	Header OpHeader

	// The file inode being read, and the handle previously returned when
	// opening it.
	Inode  InodeID
	Handle HandleID

	// The range of the file to read.
	Offset int64
	Size   int

	// Set by the file system: the data read. Fewer than Size bytes
	// indicates EOF; that is not an error. The slice is written to the
	// kernel directly with a vectored write, so it must not be mutated
	// until the op has been responded to.
	Data []byte
}

// Write data to a file previously opened with CreateFile or OpenFile.
//
// Writes go through the page cache, so this op is driven by writeback and
// is not one-to-one with write(2) calls. The kernel requires the whole
// buffer to be written except on error. Writes at an offset past the
// current size extend the file with a hole first.
type WriteFileOp struct {
	Header OpHeader

	// The file inode being written, and the handle previously returned
	// when opening it.
	Inode  InodeID
	Handle HandleID

	// The offset at which to write.
	Offset int64

	// The data to write. This borrows from the request's receive buffer;
	// it is valid only until the op is responded to.
	Data []byte
}

// Synchronize the current contents of an open file to storage, as for
// fsync(2) and fdatasync(2).
type SyncFileOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID

	// If set, only flush data, not metadata (fdatasync semantics).
	Datasync bool
}

// Flush the current state of an open file to storage upon a file
// descriptor being closed.
//
// Sent for each close(2) and in other descriptor-closing contexts such as
// dup2(2), so flushes are not one-to-one with opens and must not be used
// for reference counting; the handle remains valid afterward (dispose of
// it in ReleaseFileHandleOp). Typical disk-backed file systems ignore
// this; ones writing to remote storage may want to flush here so close(2)
// can report errors.
type FlushFileOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID
}

// Release a previously-minted file handle. The kernel sends this when all
// file descriptors for the handle are closed and all memory mappings
// unmapped, and guarantees the handle will not be used again.
type ReleaseFileHandleOp struct {
	Header OpHeader

	Handle HandleID
}

// Preallocate or deallocate space within a file, as for fallocate(2).
type FallocateOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID

	// The byte range affected.
	Offset uint64
	Length uint64

	// The fallocate(2) mode bits (FALLOC_FL_*). Zero means a plain
	// allocation that extends the file size if needed.
	Mode uint32
}

////////////////////////////////////////////////////////////////////////
// Symlinks
////////////////////////////////////////////////////////////////////////

// Read the target of a symlink inode.
type ReadSymlinkOp struct {
	Header OpHeader

	Inode InodeID

	// Set by the file system: the target of the symlink.
	Target string
}

////////////////////////////////////////////////////////////////////////
// Extended attributes
////////////////////////////////////////////////////////////////////////

// Get the value of an extended attribute, or its size.
type GetXattrOp struct {
	Header OpHeader

	Inode InodeID
	Name  string

	// The destination buffer. When the user is probing for the value's
	// size, Dst is empty: set BytesRead and return nil. Otherwise fill Dst
	// and set BytesRead, or return ERANGE if the value doesn't fit.
	Dst       []byte
	BytesRead int
}

// List the names of an inode's extended attributes. Same Dst/BytesRead
// protocol as GetXattrOp; the names are packed NUL-terminated.
type ListXattrOp struct {
	Header OpHeader

	Inode InodeID

	Dst       []byte
	BytesRead int
}

// Set an extended attribute.
type SetXattrOp struct {
	Header OpHeader

	Inode InodeID
	Name  string
	Value []byte

	// Either zero, or one of XATTR_CREATE / XATTR_REPLACE per
	// setxattr(2).
	Flags uint32
}

// Remove an extended attribute.
type RemoveXattrOp struct {
	Header OpHeader

	Inode InodeID
	Name  string
}

////////////////////////////////////////////////////////////////////////
// Locking
////////////////////////////////////////////////////////////////////////

// Test for a POSIX record lock, as for F_GETLK.
type GetFileLockOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID

	// The lock owner, an opaque token minted by the kernel.
	Owner uint64

	// In: the lock being probed for. Out: set by the file system to the
	// conflicting lock, or to a lock of type F_UNLCK if none conflicts.
	Lock FileLock
}

// Acquire or release a POSIX record lock, as for F_SETLK and F_SETLKW.
type SetFileLockOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID

	Owner uint64
	Lock  FileLock

	// Whether the caller asked to block until the lock can be taken
	// (F_SETLKW). A file system unwilling to block should return EAGAIN.
	Sleep bool
}

////////////////////////////////////////////////////////////////////////
// Miscellaneous
////////////////////////////////////////////////////////////////////////

// Check access permissions for an inode, as for access(2). Sent only when
// the file system hasn't asked the kernel to do its own permission checks
// with the default_permissions mount option.
type AccessOp struct {
	Header OpHeader

	Inode InodeID

	// The access mask, a combination of R_OK/W_OK/X_OK.
	Mask uint32
}

// Map a block index within a file to a device block number. Only
// meaningful for block-device-backed file systems; sent e.g. for the FIBMAP
// ioctl and swap files.
type BmapOp struct {
	Header OpHeader

	Inode InodeID

	// The file system block size the kernel used to compute Block.
	BlockSize uint32

	// In: the block index within the file. Out: set by the file system to
	// the corresponding physical block.
	Block uint64
}

// Poll an open handle for I/O readiness, as for poll(2) and friends.
type PollOp struct {
	Header OpHeader

	Inode  InodeID
	Handle HandleID

	// The kernel's poll handle. When NotifyOnReady is set, the file system
	// should send a poll-wakeup notification carrying this value once the
	// handle becomes ready.
	Kh            uint64
	NotifyOnReady bool

	// The requested event mask (POLLIN etc.).
	Events uint32

	// Set by the file system: the events currently ready.
	Revents uint32
}

// Return statistics about the file system, as for statfs(2). A zero-value
// reply is valid and describes an empty file system.
type StatFSOp struct {
	Header OpHeader

	// The fundamental block size in bytes. All block counts below are in
	// units of this.
	BlockSize uint32

	// Total, free, and available-to-non-root block counts.
	Blocks          uint64
	BlocksFree      uint64
	BlocksAvailable uint64

	// The preferred I/O transfer size.
	IoSize uint32

	// Total and free inode counts.
	Inodes     uint64
	InodesFree uint64
}
