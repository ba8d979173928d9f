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

package fuse

import (
	"bytes"
	"fmt"
	"os"
	"syscall"
	"time"
	"unsafe"

	"github.com/vfskit/fuse/fuseops"
	"github.com/vfskit/fuse/internal/buffer"
	"github.com/vfskit/fuse/internal/fusekernel"
)

func errTruncated(opcode uint32) error {
	return fmt.Errorf("truncated frame for opcode %d", opcode)
}

// splitCString splits the leading NUL-terminated string off p.
func splitCString(p []byte) (s string, rest []byte, ok bool) {
	i := bytes.IndexByte(p, 0)
	if i < 0 {
		return "", nil, false
	}

	return string(p[:i]), p[i+1:], true
}

func convertOpHeader(h *fusekernel.InHeader) fuseops.OpHeader {
	return fuseops.OpHeader{
		Uid: h.Uid,
		Gid: h.Gid,
		Pid: h.Pid,
	}
}

// convertInMessage converts a single message read from the kernel into an
// op struct, borrowing from inMsg for names and data. The outMsg is not
// touched here; it is threaded through so the op's eventual reply reuses
// the buffer acquired alongside the request.
func convertInMessage(
	cfg *MountConfig,
	inMsg *buffer.InMessage,
	outMsg *buffer.OutMessage,
	protocol fusekernel.Protocol) (o interface{}, err error) {
	h := inMsg.Header()
	header := convertOpHeader(h)
	inode := fuseops.InodeID(h.Nodeid)

	switch h.Opcode {
	case fusekernel.OpLookup:
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.LookUpInodeOp{
			Header: header,
			Parent: inode,
			Name:   name,
		}

	case fusekernel.OpGetattr:
		o = &fuseops.GetInodeAttributesOp{
			Header: header,
			Inode:  inode,
		}

	case fusekernel.OpSetattr:
		in := (*fusekernel.SetattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.SetattrIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		to := &fuseops.SetInodeAttributesOp{
			Header: header,
			Inode:  inode,
		}
		o = to

		valid := in.Valid

		if valid&fusekernel.SetattrFh != 0 {
			t := fuseops.HandleID(in.Fh)
			to.Handle = &t
		}

		if valid&fusekernel.SetattrSize != 0 {
			t := in.Size
			to.Size = &t
		}

		if valid&fusekernel.SetattrMode != 0 {
			t := convertFileMode(in.Mode)
			to.Mode = &t
		}

		if valid&fusekernel.SetattrUid != 0 {
			t := in.Uid
			to.Uid = &t
		}

		if valid&fusekernel.SetattrGid != 0 {
			t := in.Gid
			to.Gid = &t
		}

		now := time.Now()

		if valid&fusekernel.SetattrAtime != 0 {
			t := time.Unix(int64(in.Atime), int64(in.AtimeNsec))
			if valid&fusekernel.SetattrAtimeNow != 0 {
				t = now
			}
			to.Atime = &t
		}

		if valid&fusekernel.SetattrMtime != 0 {
			t := time.Unix(int64(in.Mtime), int64(in.MtimeNsec))
			if valid&fusekernel.SetattrMtimeNow != 0 {
				t = now
			}
			to.Mtime = &t
		}

	case fusekernel.OpReadlink:
		o = &fuseops.ReadSymlinkOp{
			Header: header,
			Inode:  inode,
		}

	case fusekernel.OpSymlink:
		name, rest, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}
		target, _, ok := splitCString(rest)
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.CreateSymlinkOp{
			Header: header,
			Parent: inode,
			Name:   name,
			Target: target,
		}

	case fusekernel.OpMknod:
		in := (*fusekernel.MknodIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.MknodIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.MkNodeOp{
			Header: header,
			Parent: inode,
			Name:   name,
			Mode:   convertFileMode(in.Mode),
			Rdev:   in.Rdev,
		}

	case fusekernel.OpMkdir:
		in := (*fusekernel.MkdirIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.MkdirIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.MkDirOp{
			Header: header,
			Parent: inode,
			Name:   name,

			// The kernel has already applied the umask when the mount
			// doesn't use POSIX ACLs, so the mode arrives ready to use.
			Mode: convertFileMode(in.Mode) | os.ModeDir,
		}

	case fusekernel.OpUnlink:
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.UnlinkOp{
			Header: header,
			Parent: inode,
			Name:   name,
		}

	case fusekernel.OpRmdir:
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.RmDirOp{
			Header: header,
			Parent: inode,
			Name:   name,
		}

	case fusekernel.OpRename:
		in := (*fusekernel.RenameIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.RenameIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}
		oldName, rest, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}
		newName, _, ok := splitCString(rest)
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.RenameOp{
			Header:    header,
			OldParent: inode,
			OldName:   oldName,
			NewParent: fuseops.InodeID(in.Newdir),
			NewName:   newName,
		}

	case fusekernel.OpLink:
		in := (*fusekernel.LinkIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.LinkIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.CreateLinkOp{
			Header: header,
			Parent: inode,
			Name:   name,
			Target: fuseops.InodeID(in.Oldnodeid),
		}

	case fusekernel.OpOpen:
		in := (*fusekernel.OpenIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.OpenIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.OpenFileOp{
			Header: header,
			Inode:  inode,
			Flags:  in.Flags,
		}

	case fusekernel.OpRead:
		in := (*fusekernel.ReadIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.ReadFileOp{
			Header: header,
			Inode:  inode,
			Handle: fuseops.HandleID(in.Fh),
			Offset: int64(in.Offset),
			Size:   int(in.Size),
		}

	case fusekernel.OpWrite:
		in := (*fusekernel.WriteIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.WriteIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		data := inMsg.ConsumeBytes(uintptr(in.Size))
		if data == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.WriteFileOp{
			Header: header,
			Inode:  inode,
			Handle: fuseops.HandleID(in.Fh),
			Offset: int64(in.Offset),
			Data:   data,
		}

	case fusekernel.OpStatfs:
		o = &fuseops.StatFSOp{
			Header: header,
		}

	case fusekernel.OpRelease:
		in := (*fusekernel.ReleaseIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReleaseIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.ReleaseFileHandleOp{
			Header: header,
			Handle: fuseops.HandleID(in.Fh),
		}

	case fusekernel.OpFsync:
		in := (*fusekernel.FsyncIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FsyncIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.SyncFileOp{
			Header:   header,
			Inode:    inode,
			Handle:   fuseops.HandleID(in.Fh),
			Datasync: in.FsyncFlags&1 != 0,
		}

	case fusekernel.OpSetxattr:
		in := (*fusekernel.SetxattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.SetxattrIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}
		name, rest, ok := splitCString(inMsg.Remaining())
		if !ok || uint32(len(rest)) < in.Size {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.SetXattrOp{
			Header: header,
			Inode:  inode,
			Name:   name,
			Value:  rest[:in.Size],
			Flags:  in.Flags,
		}

	case fusekernel.OpGetxattr:
		in := (*fusekernel.GetxattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.GetxattrIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.GetXattrOp{
			Header: header,
			Inode:  inode,
			Name:   name,
			Dst:    make([]byte, in.Size),
		}

	case fusekernel.OpListxattr:
		in := (*fusekernel.GetxattrIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.GetxattrIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.ListXattrOp{
			Header: header,
			Inode:  inode,
			Dst:    make([]byte, in.Size),
		}

	case fusekernel.OpRemovexattr:
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.RemoveXattrOp{
			Header: header,
			Inode:  inode,
			Name:   name,
		}

	case fusekernel.OpFlush:
		in := (*fusekernel.FlushIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FlushIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.FlushFileOp{
			Header: header,
			Inode:  inode,
			Handle: fuseops.HandleID(in.Fh),
		}

	case fusekernel.OpOpendir:
		in := (*fusekernel.OpenIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.OpenIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.OpenDirOp{
			Header: header,
			Inode:  inode,
			Flags:  in.Flags,
		}

	case fusekernel.OpReaddir:
		in := (*fusekernel.ReadIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReadIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.ReadDirOp{
			Header: header,
			Inode:  inode,
			Handle: fuseops.HandleID(in.Fh),
			Offset: fuseops.DirOffset(in.Offset),
			Size:   int(in.Size),
		}

	case fusekernel.OpReleasedir:
		in := (*fusekernel.ReleaseIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ReleaseIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.ReleaseDirHandleOp{
			Header: header,
			Handle: fuseops.HandleID(in.Fh),
		}

	case fusekernel.OpFsyncdir:
		in := (*fusekernel.FsyncIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FsyncIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.SyncDirOp{
			Header:   header,
			Inode:    inode,
			Handle:   fuseops.HandleID(in.Fh),
			Datasync: in.FsyncFlags&1 != 0,
		}

	case fusekernel.OpGetlk:
		in := (*fusekernel.LkIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.LkIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.GetFileLockOp{
			Header: header,
			Inode:  inode,
			Handle: fuseops.HandleID(in.Fh),
			Owner:  in.Owner,
			Lock:   convertFileLock(&in.Lk),
		}

	case fusekernel.OpSetlk, fusekernel.OpSetlkw:
		in := (*fusekernel.LkIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.LkIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.SetFileLockOp{
			Header: header,
			Inode:  inode,
			Handle: fuseops.HandleID(in.Fh),
			Owner:  in.Owner,
			Lock:   convertFileLock(&in.Lk),
			Sleep:  h.Opcode == fusekernel.OpSetlkw,
		}

	case fusekernel.OpAccess:
		in := (*fusekernel.AccessIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.AccessIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.AccessOp{
			Header: header,
			Inode:  inode,
			Mask:   in.Mask,
		}

	case fusekernel.OpCreate:
		in := (*fusekernel.CreateIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.CreateIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}
		name, _, ok := splitCString(inMsg.Remaining())
		if !ok {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.CreateFileOp{
			Header: header,
			Parent: inode,
			Name:   name,
			Mode:   convertFileMode(in.Mode),
			Flags:  in.Flags,
		}

	case fusekernel.OpInterrupt:
		in := (*fusekernel.InterruptIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.InterruptIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &interruptOp{
			FuseID: in.Unique,
		}

	case fusekernel.OpBmap:
		in := (*fusekernel.BmapIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.BmapIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.BmapOp{
			Header:    header,
			Inode:     inode,
			BlockSize: in.BlockSize,
			Block:     in.Block,
		}

	case fusekernel.OpForget:
		in := (*fusekernel.ForgetIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.ForgetIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.ForgetInodeOp{
			Header: header,
			Inode:  inode,
			N:      in.Nlookup,
		}

	case fusekernel.OpBatchForget:
		in := (*fusekernel.BatchForgetIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.BatchForgetIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		entries := make([]fuseops.BatchForgetEntry, 0, in.Count)
		for i := uint32(0); i < in.Count; i++ {
			one := (*fusekernel.ForgetOne)(inMsg.Consume(unsafe.Sizeof(fusekernel.ForgetOne{})))
			if one == nil {
				return nil, errTruncated(h.Opcode)
			}

			entries = append(entries, fuseops.BatchForgetEntry{
				Inode: fuseops.InodeID(one.Nodeid),
				N:     one.Nlookup,
			})
		}

		o = &fuseops.BatchForgetOp{
			Header:  header,
			Entries: entries,
		}

	case fusekernel.OpFallocate:
		in := (*fusekernel.FallocateIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.FallocateIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.FallocateOp{
			Header: header,
			Inode:  inode,
			Handle: fuseops.HandleID(in.Fh),
			Offset: in.Offset,
			Length: in.Length,
			Mode:   in.Mode,
		}

	case fusekernel.OpPoll:
		in := (*fusekernel.PollIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.PollIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &fuseops.PollOp{
			Header:        header,
			Inode:         inode,
			Handle:        fuseops.HandleID(in.Fh),
			Kh:            in.Kh,
			NotifyOnReady: in.Flags&fusekernel.PollScheduleNotify != 0,
			Events:        in.Events,
		}

	case fusekernel.OpNotifyReply:
		in := (*fusekernel.NotifyRetrieveIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.NotifyRetrieveIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		data := inMsg.ConsumeBytes(uintptr(in.Size))
		if data == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &notifyReplyOp{
			Offset: in.Offset,
			Data:   data,
		}

	case fusekernel.OpDestroy:
		o = &destroyOp{}

	case fusekernel.OpInit:
		in := (*fusekernel.InitIn)(inMsg.Consume(unsafe.Sizeof(fusekernel.InitIn{})))
		if in == nil {
			return nil, errTruncated(h.Opcode)
		}

		o = &initOp{
			Kernel:       fusekernel.Protocol{Major: in.Major, Minor: in.Minor},
			KernelFlags:  in.Flags,
			MaxReadahead: in.MaxReadahead,
		}

	default:
		o = &unknownOp{
			OpCode: h.Opcode,
			Inode:  inode,
		}
	}

	return o, nil
}

// kernelResponse fills outMsg with the reply frame for op. It returns true
// if the op must not be answered on the wire.
func (c *Connection) kernelResponse(
	m *buffer.OutMessage,
	fuseID uint64,
	op interface{},
	opErr error) (noResponse bool) {
	h := m.OutHeader()
	h.Unique = fuseID

	// The forget family is fire-and-forget: the kernel sends no reply
	// space and tolerates none.
	switch op.(type) {
	case *fuseops.ForgetInodeOp, *fuseops.BatchForgetOp:
		return true
	}

	if opErr != nil {
		// Errors on the wire are negated errnos with an empty payload.
		// Anything that isn't an errno is the handler's failure to produce
		// one and is reported as EIO.
		errno := int32(syscall.EIO)
		if e, ok := opErr.(syscall.Errno); ok {
			errno = int32(e)
		}

		h.Error = -errno
		m.ShrinkTo(buffer.OutMessageHeaderSize)
		m.Sglist = nil
	} else {
		c.kernelResponseForOp(m, op)
	}

	length := m.Len()
	for _, s := range m.Sglist {
		length += len(s)
	}
	h.Len = uint32(length)

	return false
}

// kernelResponseForOp fills in m's payload for a successful reply to op.
func (c *Connection) kernelResponseForOp(
	m *buffer.OutMessage,
	op interface{}) {
	switch o := op.(type) {
	case *fuseops.LookUpInodeOp:
		size := unsafe.Sizeof(fusekernel.EntryOut{})
		out := (*fusekernel.EntryOut)(m.Grow(size))
		convertChildInodeEntry(&o.Entry, out)

	case *fuseops.GetInodeAttributesOp:
		size := unsafe.Sizeof(fusekernel.AttrOut{})
		out := (*fusekernel.AttrOut)(m.Grow(size))
		out.AttrValid, out.AttrValidNsec = convertExpirationTime(o.AttributesExpiration)
		convertAttributes(o.Inode, &o.Attributes, &out.Attr)

	case *fuseops.SetInodeAttributesOp:
		size := unsafe.Sizeof(fusekernel.AttrOut{})
		out := (*fusekernel.AttrOut)(m.Grow(size))
		out.AttrValid, out.AttrValidNsec = convertExpirationTime(o.AttributesExpiration)
		convertAttributes(o.Inode, &o.Attributes, &out.Attr)

	case *fuseops.MkDirOp:
		size := unsafe.Sizeof(fusekernel.EntryOut{})
		out := (*fusekernel.EntryOut)(m.Grow(size))
		convertChildInodeEntry(&o.Entry, out)

	case *fuseops.MkNodeOp:
		size := unsafe.Sizeof(fusekernel.EntryOut{})
		out := (*fusekernel.EntryOut)(m.Grow(size))
		convertChildInodeEntry(&o.Entry, out)

	case *fuseops.CreateFileOp:
		eSize := unsafe.Sizeof(fusekernel.EntryOut{})
		e := (*fusekernel.EntryOut)(m.Grow(eSize))
		convertChildInodeEntry(&o.Entry, e)

		oo := (*fusekernel.OpenOut)(m.Grow(unsafe.Sizeof(fusekernel.OpenOut{})))
		oo.Fh = uint64(o.Handle)

	case *fuseops.CreateSymlinkOp:
		size := unsafe.Sizeof(fusekernel.EntryOut{})
		out := (*fusekernel.EntryOut)(m.Grow(size))
		convertChildInodeEntry(&o.Entry, out)

	case *fuseops.CreateLinkOp:
		size := unsafe.Sizeof(fusekernel.EntryOut{})
		out := (*fusekernel.EntryOut)(m.Grow(size))
		convertChildInodeEntry(&o.Entry, out)

	case *fuseops.RenameOp, *fuseops.RmDirOp, *fuseops.UnlinkOp,
		*fuseops.ReleaseDirHandleOp, *fuseops.ReleaseFileHandleOp,
		*fuseops.FlushFileOp, *fuseops.SyncFileOp, *fuseops.SyncDirOp,
		*fuseops.SetXattrOp, *fuseops.RemoveXattrOp, *fuseops.AccessOp,
		*fuseops.FallocateOp, *fuseops.SetFileLockOp:
		// Empty response.

	case *fuseops.OpenDirOp:
		out := (*fusekernel.OpenOut)(m.Grow(unsafe.Sizeof(fusekernel.OpenOut{})))
		out.Fh = uint64(o.Handle)

	case *fuseops.ReadDirOp:
		if len(o.Data) != 0 {
			m.Sglist = append(m.Sglist, o.Data)
		}

	case *fuseops.OpenFileOp:
		out := (*fusekernel.OpenOut)(m.Grow(unsafe.Sizeof(fusekernel.OpenOut{})))
		out.Fh = uint64(o.Handle)

		if o.KeepPageCache {
			out.OpenFlags |= fusekernel.FopenKeepCache
		}

		if o.UseDirectIO {
			out.OpenFlags |= fusekernel.FopenDirectIO
		}

	case *fuseops.ReadFileOp:
		if len(o.Data) != 0 {
			m.Sglist = append(m.Sglist, o.Data)
		}

	case *fuseops.WriteFileOp:
		out := (*fusekernel.WriteOut)(m.Grow(unsafe.Sizeof(fusekernel.WriteOut{})))
		out.Size = uint32(len(o.Data))

	case *fuseops.ReadSymlinkOp:
		m.AppendString(o.Target)

	case *fuseops.StatFSOp:
		out := (*fusekernel.StatfsOut)(m.Grow(unsafe.Sizeof(fusekernel.StatfsOut{})))
		out.St.Blocks = o.Blocks
		out.St.Bfree = o.BlocksFree
		out.St.Bavail = o.BlocksAvailable
		out.St.Files = o.Inodes
		out.St.Ffree = o.InodesFree
		out.St.Bsize = o.BlockSize
		out.St.Frsize = o.BlockSize

		// The posix spec for sys/statvfs.h defines the fragment size as
		// the fundamental unit of the block counts, but the kernel takes
		// f_bsize as the preferred I/O size.
		if o.IoSize != 0 {
			out.St.Bsize = o.IoSize
		}

	case *fuseops.GetXattrOp:
		if len(o.Dst) == 0 {
			// The user is probing for the value's size.
			out := (*fusekernel.GetxattrOut)(m.Grow(unsafe.Sizeof(fusekernel.GetxattrOut{})))
			out.Size = uint32(o.BytesRead)
		} else {
			m.Append(o.Dst[:o.BytesRead])
		}

	case *fuseops.ListXattrOp:
		if len(o.Dst) == 0 {
			out := (*fusekernel.GetxattrOut)(m.Grow(unsafe.Sizeof(fusekernel.GetxattrOut{})))
			out.Size = uint32(o.BytesRead)
		} else {
			m.Append(o.Dst[:o.BytesRead])
		}

	case *fuseops.GetFileLockOp:
		out := (*fusekernel.LkOut)(m.Grow(unsafe.Sizeof(fusekernel.LkOut{})))
		out.Lk = fusekernel.FileLock{
			Start: o.Lock.Start,
			End:   o.Lock.End,
			Type:  o.Lock.Type,
			Pid:   o.Lock.Pid,
		}

	case *fuseops.BmapOp:
		out := (*fusekernel.BmapOut)(m.Grow(unsafe.Sizeof(fusekernel.BmapOut{})))
		out.Block = o.Block

	case *fuseops.PollOp:
		out := (*fusekernel.PollOut)(m.Grow(unsafe.Sizeof(fusekernel.PollOut{})))
		out.Revents = o.Revents

	case *initOp:
		out := (*fusekernel.InitOut)(m.Grow(unsafe.Sizeof(fusekernel.InitOut{})))
		out.Major = o.Library.Major
		out.Minor = o.Library.Minor
		out.MaxReadahead = o.MaxReadahead
		out.Flags = uint32(o.Flags)
		out.MaxBackground = o.MaxBackground
		out.CongestionThreshold = o.CongestionThreshold
		out.MaxWrite = o.MaxWrite
		out.TimeGran = o.TimeGran
		out.MaxPages = o.MaxPages

		// Kernels predating minor version 23 expect the short init reply.
		if o.Library.Minor < 23 {
			const compatInitOutSize = 24
			m.ShrinkTo(buffer.OutMessageHeaderSize + compatInitOutSize)
		}

	default:
		panic(fmt.Sprintf("Unexpected op in kernelResponseForOp: %#v", op))
	}
}

////////////////////////////////////////////////////////////////////////
// General conversions
////////////////////////////////////////////////////////////////////////

// convertTime splits t into the kernel's seconds/nanoseconds form.
func convertTime(t time.Time) (secs uint64, nsec uint32) {
	if t.IsZero() {
		return 0, 0
	}
	return uint64(t.Unix()), uint32(t.Nanosecond())
}

// convertExpirationTime converts an absolute cache expiration time to the
// relative form the kernel expects. Negative durations collapse to zero;
// there is no need to cap the positive magnitude, since 2^64 seconds
// outlasts the range of time.Duration.
func convertExpirationTime(t time.Time) (secs uint64, nsec uint32) {
	d := time.Until(t)
	if d < 0 {
		d = 0
	}

	return uint64(d / time.Second), uint32(d % time.Second)
}

func convertAttributes(
	inodeID fuseops.InodeID,
	in *fuseops.InodeAttributes,
	out *fusekernel.Attr) {
	out.Ino = uint64(inodeID)
	out.Size = in.Size
	out.Blocks = (in.Size + 511) / 512
	out.Atime, out.AtimeNsec = convertTime(in.Atime)
	out.Mtime, out.MtimeNsec = convertTime(in.Mtime)
	out.Ctime, out.CtimeNsec = convertTime(in.Ctime)
	out.Mode = convertGoFileMode(in.Mode)
	out.Nlink = in.Nlink
	out.Uid = in.Uid
	out.Gid = in.Gid
	out.Rdev = in.Rdev
	out.BlkSize = 4096
}

func convertChildInodeEntry(
	in *fuseops.ChildInodeEntry,
	out *fusekernel.EntryOut) {
	out.Nodeid = uint64(in.Child)
	out.Generation = uint64(in.Generation)
	out.EntryValid, out.EntryValidNsec = convertExpirationTime(in.EntryExpiration)
	out.AttrValid, out.AttrValidNsec = convertExpirationTime(in.AttributesExpiration)
	convertAttributes(in.Child, &in.Attributes, &out.Attr)
}

func convertFileLock(in *fusekernel.FileLock) fuseops.FileLock {
	return fuseops.FileLock{
		Start: in.Start,
		End:   in.End,
		Type:  in.Type,
		Pid:   in.Pid,
	}
}

// convertFileMode turns kernel mode bits into an os.FileMode.
func convertFileMode(unixMode uint32) os.FileMode {
	mode := os.FileMode(unixMode & 0777)

	switch unixMode & syscall.S_IFMT {
	case syscall.S_IFDIR:
		mode |= os.ModeDir
	case syscall.S_IFLNK:
		mode |= os.ModeSymlink
	case syscall.S_IFIFO:
		mode |= os.ModeNamedPipe
	case syscall.S_IFSOCK:
		mode |= os.ModeSocket
	case syscall.S_IFBLK:
		mode |= os.ModeDevice
	case syscall.S_IFCHR:
		mode |= os.ModeDevice | os.ModeCharDevice
	}

	if unixMode&syscall.S_ISUID != 0 {
		mode |= os.ModeSetuid
	}
	if unixMode&syscall.S_ISGID != 0 {
		mode |= os.ModeSetgid
	}
	if unixMode&syscall.S_ISVTX != 0 {
		mode |= os.ModeSticky
	}

	return mode
}

// convertGoFileMode is the inverse of convertFileMode.
func convertGoFileMode(mode os.FileMode) uint32 {
	unixMode := uint32(mode & os.ModePerm)

	switch {
	case mode&os.ModeDir != 0:
		unixMode |= syscall.S_IFDIR
	case mode&os.ModeSymlink != 0:
		unixMode |= syscall.S_IFLNK
	case mode&os.ModeNamedPipe != 0:
		unixMode |= syscall.S_IFIFO
	case mode&os.ModeSocket != 0:
		unixMode |= syscall.S_IFSOCK
	case mode&os.ModeCharDevice != 0:
		unixMode |= syscall.S_IFCHR
	case mode&os.ModeDevice != 0:
		unixMode |= syscall.S_IFBLK
	default:
		unixMode |= syscall.S_IFREG
	}

	if mode&os.ModeSetuid != 0 {
		unixMode |= syscall.S_ISUID
	}
	if mode&os.ModeSetgid != 0 {
		unixMode |= syscall.S_ISGID
	}
	if mode&os.ModeSticky != 0 {
		unixMode |= syscall.S_ISVTX
	}

	return unixMode
}
