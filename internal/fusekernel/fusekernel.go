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

// Package fusekernel contains definitions for the wire protocol spoken over
// /dev/fuse. Every struct in this package must be laid out exactly as the
// kernel lays out its counterpart: fixed-width fields, no interior or
// trailing padding beyond what is declared, host (little-endian) byte order.
package fusekernel

import "fmt"

// The FUSE version implemented by the package.
const (
	ProtoVersionMinMajor = 7
	ProtoVersionMinMinor = 12
	ProtoVersionMaxMajor = 7
	ProtoVersionMaxMinor = 31
)

// Protocol is a FUSE protocol version number, as negotiated during init.
type Protocol struct {
	Major uint32
	Minor uint32
}

func (p Protocol) String() string {
	return fmt.Sprintf("%d.%d", p.Major, p.Minor)
}

// LT returns whether a is less than b.
func (a Protocol) LT(b Protocol) bool {
	return a.Major < b.Major ||
		(a.Major == b.Major && a.Minor < b.Minor)
}

// GE returns whether a is greater than or equal to b.
func (a Protocol) GE(b Protocol) bool {
	return a.Major > b.Major ||
		(a.Major == b.Major && a.Minor >= b.Minor)
}

// InHeader leads every request read from the kernel. Len counts the whole
// frame, header included.
type InHeader struct {
	Len     uint32
	Opcode  uint32
	Unique  uint64
	Nodeid  uint64
	Uid     uint32
	Gid     uint32
	Pid     uint32
	Padding uint32
}

// OutHeader leads every frame written to the kernel. Error is zero or the
// negation of a POSIX error number; when it is nonzero the frame must carry
// no payload. Unique echoes the request for replies and is zero for
// notifications (except NotifyCodeRetrieve, which allocates its own).
type OutHeader struct {
	Len    uint32
	Error  int32
	Unique uint64
}

// Request opcodes.
const (
	OpLookup      = 1
	OpForget      = 2 // no reply
	OpGetattr     = 3
	OpSetattr     = 4
	OpReadlink    = 5
	OpSymlink     = 6
	OpMknod       = 8
	OpMkdir       = 9
	OpUnlink      = 10
	OpRmdir       = 11
	OpRename      = 12
	OpLink        = 13
	OpOpen        = 14
	OpRead        = 15
	OpWrite       = 16
	OpStatfs      = 17
	OpRelease     = 18
	OpFsync       = 20
	OpSetxattr    = 21
	OpGetxattr    = 22
	OpListxattr   = 23
	OpRemovexattr = 24
	OpFlush       = 25
	OpInit        = 26
	OpOpendir     = 27
	OpReaddir     = 28
	OpReleasedir  = 29
	OpFsyncdir    = 30
	OpGetlk       = 31
	OpSetlk       = 32
	OpSetlkw      = 33
	OpAccess      = 34
	OpCreate      = 35
	OpInterrupt   = 36
	OpBmap        = 37
	OpDestroy     = 38
	OpIoctl       = 39
	OpPoll        = 40
	OpNotifyReply = 41
	OpBatchForget = 42 // no reply
	OpFallocate   = 43
)

// Notification codes, sent in OutHeader.Error with Unique == 0.
const (
	NotifyCodePoll       = 1
	NotifyCodeInvalInode = 2
	NotifyCodeInvalEntry = 3
	NotifyCodeStore      = 4
	NotifyCodeRetrieve   = 5
	NotifyCodeDelete     = 6
)

// InitFlags is the bitfield of capabilities offered by the kernel in InitIn
// and accepted by userspace in InitOut.
type InitFlags uint32

const (
	InitAsyncRead         InitFlags = 1 << 0
	InitPosixLocks        InitFlags = 1 << 1
	InitFileOps           InitFlags = 1 << 2
	InitAtomicTrunc       InitFlags = 1 << 3
	InitExportSupport     InitFlags = 1 << 4
	InitBigWrites         InitFlags = 1 << 5
	InitDontMask          InitFlags = 1 << 6
	InitSpliceWrite       InitFlags = 1 << 7
	InitSpliceMove        InitFlags = 1 << 8
	InitSpliceRead        InitFlags = 1 << 9
	InitFlockLocks        InitFlags = 1 << 10
	InitHasIoctlDir       InitFlags = 1 << 11
	InitAutoInvalData     InitFlags = 1 << 12
	InitDoReaddirplus     InitFlags = 1 << 13
	InitReaddirplusAuto   InitFlags = 1 << 14
	InitAsyncDIO          InitFlags = 1 << 15
	InitWritebackCache    InitFlags = 1 << 16
	InitNoOpenSupport     InitFlags = 1 << 17
	InitParallelDirOps    InitFlags = 1 << 18
	InitHandleKillPriv    InitFlags = 1 << 19
	InitPosixACL          InitFlags = 1 << 20
	InitAbortError        InitFlags = 1 << 21
	InitMaxPages          InitFlags = 1 << 22
	InitCacheSymlinks     InitFlags = 1 << 23
	InitNoOpendirSupport  InitFlags = 1 << 24
	InitExplicitInvalData InitFlags = 1 << 25
)

var initFlagNames = []struct {
	bit  InitFlags
	name string
}{
	{InitAsyncRead, "ASYNC_READ"},
	{InitPosixLocks, "POSIX_LOCKS"},
	{InitFileOps, "FILE_OPS"},
	{InitAtomicTrunc, "ATOMIC_O_TRUNC"},
	{InitExportSupport, "EXPORT_SUPPORT"},
	{InitBigWrites, "BIG_WRITES"},
	{InitDontMask, "DONT_MASK"},
	{InitSpliceWrite, "SPLICE_WRITE"},
	{InitSpliceMove, "SPLICE_MOVE"},
	{InitSpliceRead, "SPLICE_READ"},
	{InitFlockLocks, "FLOCK_LOCKS"},
	{InitHasIoctlDir, "HAS_IOCTL_DIR"},
	{InitAutoInvalData, "AUTO_INVAL_DATA"},
	{InitDoReaddirplus, "DO_READDIRPLUS"},
	{InitReaddirplusAuto, "READDIRPLUS_AUTO"},
	{InitAsyncDIO, "ASYNC_DIO"},
	{InitWritebackCache, "WRITEBACK_CACHE"},
	{InitNoOpenSupport, "NO_OPEN_SUPPORT"},
	{InitParallelDirOps, "PARALLEL_DIROPS"},
	{InitHandleKillPriv, "HANDLE_KILLPRIV"},
	{InitPosixACL, "POSIX_ACL"},
	{InitAbortError, "ABORT_ERROR"},
	{InitMaxPages, "MAX_PAGES"},
	{InitCacheSymlinks, "CACHE_SYMLINKS"},
	{InitNoOpendirSupport, "NO_OPENDIR_SUPPORT"},
	{InitExplicitInvalData, "EXPLICIT_INVAL_DATA"},
}

func (fl InitFlags) String() string {
	s := ""
	for _, n := range initFlagNames {
		if fl&n.bit != 0 {
			if s != "" {
				s += "|"
			}
			s += n.name
			fl &^= n.bit
		}
	}
	if fl != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("%#x", uint32(fl))
	}
	return s
}

type InitIn struct {
	Major        uint32
	Minor        uint32
	MaxReadahead uint32
	Flags        InitFlags
}

type InitOut struct {
	Major               uint32
	Minor               uint32
	MaxReadahead        uint32
	Flags               uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	MaxWrite            uint32
	TimeGran            uint32
	MaxPages            uint16
	Padding             uint16
	Unused              [8]uint32
}

// Attr mirrors struct fuse_attr for protocol 7.9 and later.
type Attr struct {
	Ino       uint64
	Size      uint64
	Blocks    uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Nlink     uint32
	Uid       uint32
	Gid       uint32
	Rdev      uint32
	BlkSize   uint32
	Padding   uint32
}

type EntryOut struct {
	Nodeid         uint64
	Generation     uint64
	EntryValid     uint64
	AttrValid      uint64
	EntryValidNsec uint32
	AttrValidNsec  uint32
	Attr           Attr
}

type AttrOut struct {
	AttrValid     uint64
	AttrValidNsec uint32
	Dummy         uint32
	Attr          Attr
}

// GetattrFlags flag in GetattrIn, set when the request carries a valid Fh.
const GetattrFh = 1 << 0

type GetattrIn struct {
	GetattrFlags uint32
	Dummy        uint32
	Fh           uint64
}

// Setattr valid bits.
const (
	SetattrMode      = 1 << 0
	SetattrUid       = 1 << 1
	SetattrGid       = 1 << 2
	SetattrSize      = 1 << 3
	SetattrAtime     = 1 << 4
	SetattrMtime     = 1 << 5
	SetattrFh        = 1 << 6
	SetattrAtimeNow  = 1 << 7
	SetattrMtimeNow  = 1 << 8
	SetattrLockOwner = 1 << 9
	SetattrCtime     = 1 << 10
)

type SetattrIn struct {
	Valid     uint32
	Padding   uint32
	Fh        uint64
	Size      uint64
	LockOwner uint64
	Atime     uint64
	Mtime     uint64
	Ctime     uint64
	AtimeNsec uint32
	MtimeNsec uint32
	CtimeNsec uint32
	Mode      uint32
	Unused4   uint32
	Uid       uint32
	Gid       uint32
	Unused5   uint32
}

type MknodIn struct {
	Mode    uint32
	Rdev    uint32
	Umask   uint32
	Padding uint32
	// Followed by the NUL-terminated name.
}

type MkdirIn struct {
	Mode  uint32
	Umask uint32
	// Followed by the NUL-terminated name.
}

type RenameIn struct {
	Newdir uint64
	// Followed by two NUL-terminated names, old then new.
}

type LinkIn struct {
	Oldnodeid uint64
	// Followed by the NUL-terminated name.
}

type OpenIn struct {
	Flags  uint32
	Unused uint32
}

type OpenOut struct {
	Fh        uint64
	OpenFlags uint32
	Padding   uint32
}

// OpenOut.OpenFlags bits.
const (
	FopenDirectIO    = 1 << 0
	FopenKeepCache   = 1 << 1
	FopenNonSeekable = 1 << 2
)

type CreateIn struct {
	Flags   uint32
	Mode    uint32
	Umask   uint32
	Padding uint32
	// Followed by the NUL-terminated name.
}

type ReleaseIn struct {
	Fh           uint64
	Flags        uint32
	ReleaseFlags uint32
	LockOwner    uint64
}

type FlushIn struct {
	Fh        uint64
	Unused    uint32
	Padding   uint32
	LockOwner uint64
}

type ReadIn struct {
	Fh        uint64
	Offset    uint64
	Size      uint32
	ReadFlags uint32
	LockOwner uint64
	Flags     uint32
	Padding   uint32
}

type WriteIn struct {
	Fh         uint64
	Offset     uint64
	Size       uint32
	WriteFlags uint32
	LockOwner  uint64
	Flags      uint32
	Padding    uint32
	// Followed by Size bytes of data.
}

type WriteOut struct {
	Size    uint32
	Padding uint32
}

type Kstatfs struct {
	Blocks  uint64
	Bfree   uint64
	Bavail  uint64
	Files   uint64
	Ffree   uint64
	Bsize   uint32
	Namelen uint32
	Frsize  uint32
	Padding uint32
	Spare   [6]uint32
}

type StatfsOut struct {
	St Kstatfs
}

type FsyncIn struct {
	Fh         uint64
	FsyncFlags uint32
	Padding    uint32
}

type SetxattrIn struct {
	Size  uint32
	Flags uint32
	// Followed by the NUL-terminated name, then Size bytes of value.
}

type GetxattrIn struct {
	Size    uint32
	Padding uint32
	// Followed by the NUL-terminated name (absent for listxattr).
}

type GetxattrOut struct {
	Size    uint32
	Padding uint32
}

type FileLock struct {
	Start uint64
	End   uint64
	Type  uint32
	Pid   uint32
}

type LkIn struct {
	Fh      uint64
	Owner   uint64
	Lk      FileLock
	LkFlags uint32
	Padding uint32
}

type LkOut struct {
	Lk FileLock
}

type AccessIn struct {
	Mask    uint32
	Padding uint32
}

type InterruptIn struct {
	Unique uint64
}

type BmapIn struct {
	Block     uint64
	BlockSize uint32
	Padding   uint32
}

type BmapOut struct {
	Block uint64
}

type ForgetIn struct {
	Nlookup uint64
}

type ForgetOne struct {
	Nodeid  uint64
	Nlookup uint64
}

type BatchForgetIn struct {
	Count uint32
	Dummy uint32
	// Followed by Count ForgetOne records.
}

type FallocateIn struct {
	Fh      uint64
	Offset  uint64
	Length  uint64
	Mode    uint32
	Padding uint32
}

type PollIn struct {
	Fh     uint64
	Kh     uint64
	Flags  uint32
	Events uint32
}

// PollIn.Flags bit: the kernel wants a NotifyCodePoll when the handle
// becomes ready.
const PollScheduleNotify = 1 << 0

type PollOut struct {
	Revents uint32
	Padding uint32
}

type NotifyInvalInodeOut struct {
	Ino uint64
	Off int64
	Len int64
}

type NotifyInvalEntryOut struct {
	Parent  uint64
	Namelen uint32
	Padding uint32
	// Followed by the NUL-terminated name.
}

type NotifyInvalDeleteOut struct {
	Parent  uint64
	Child   uint64
	Namelen uint32
	Padding uint32
	// Followed by the NUL-terminated name.
}

type NotifyStoreOut struct {
	Nodeid  uint64
	Offset  uint64
	Size    uint32
	Padding uint32
	// Followed by Size bytes of data.
}

type NotifyRetrieveOut struct {
	NotifyUnique uint64
	Nodeid       uint64
	Offset       uint64
	Size         uint32
	Padding      uint32
}

// NotifyRetrieveIn is the body of an OpNotifyReply request, the kernel's
// answer to a NotifyRetrieveOut. The frame's InHeader.Unique carries the
// NotifyUnique of the originating notification.
type NotifyRetrieveIn struct {
	Dummy1 uint64
	Offset uint64
	Size   uint32
	Dummy2 uint32
	Dummy3 uint64
	Dummy4 uint64
	// Followed by Size bytes of data.
}

type NotifyPollWakeupOut struct {
	Kh uint64
}

// Dirent is the fixed-size prefix of a directory entry in a Readdir reply.
// The name follows, padded with zero bytes to an 8-byte boundary.
type Dirent struct {
	Ino     uint64
	Off     uint64
	Namelen uint32
	Type    uint32
}

const DirentAlign = 8
