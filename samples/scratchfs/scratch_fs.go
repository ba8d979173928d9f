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

// Package scratchfs exposes a file system containing a single mutable
// file named "scratch", whose contents are backed by a real file on the
// host. It exists to exercise the write paths, including fallocate, with
// a minimum of inode bookkeeping.
package scratchfs

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	fallocate "github.com/detailyang/go-fallocate"
	"github.com/jacobsa/syncutil"
	"github.com/jacobsa/timeutil"

	"github.com/vfskit/fuse"
	"github.com/vfskit/fuse/fuseops"
	"github.com/vfskit/fuse/fuseutil"
)

const (
	rootInode fuseops.InodeID = fuseops.RootInodeID + iota
	scratchInode
)

const scratchName = "scratch"

// NewScratchFS creates a file system backed by the supplied file, which
// must be open for reading and writing. The caller retains ownership of
// the file and must close it after unmounting.
func NewScratchFS(clock timeutil.Clock, backing *os.File) (fuse.Server, error) {
	if backing == nil {
		return nil, fmt.Errorf("a backing file is required")
	}

	fs := &scratchFS{
		clock:   clock,
		backing: backing,
	}

	fs.mu = syncutil.NewInvariantMutex(fs.checkInvariants)

	now := clock.Now()
	fs.mtime = now
	fs.ctime = now

	return fuseutil.NewFileSystemServer(fs), nil
}

type scratchFS struct {
	fuseutil.NotImplementedFileSystem

	clock timeutil.Clock

	mu syncutil.InvariantMutex

	// The file holding the scratch file's contents. Its size is the
	// authoritative size of the inode.
	//
	// GUARDED_BY(mu)
	backing *os.File

	// Timestamps for the scratch file.
	//
	// GUARDED_BY(mu)
	mtime time.Time
	ctime time.Time
}

// LOCKS_REQUIRED(fs.mu)
func (fs *scratchFS) checkInvariants() {
	if fs.backing == nil {
		panic("nil backing file")
	}
}

// LOCKS_REQUIRED(fs.mu)
func (fs *scratchFS) scratchSize() (uint64, error) {
	fi, err := fs.backing.Stat()
	if err != nil {
		return 0, err
	}

	return uint64(fi.Size()), nil
}

// LOCKS_REQUIRED(fs.mu)
func (fs *scratchFS) scratchAttributes() (fuseops.InodeAttributes, error) {
	size, err := fs.scratchSize()
	if err != nil {
		return fuseops.InodeAttributes{}, err
	}

	return fuseops.InodeAttributes{
		Size:  size,
		Nlink: 1,
		Mode:  0644,
		Mtime: fs.mtime,
		Ctime: fs.ctime,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
	}, nil
}

func (fs *scratchFS) rootAttributes() fuseops.InodeAttributes {
	return fuseops.InodeAttributes{
		Nlink: 1,
		Mode:  0755 | os.ModeDir,
		Uid:   uint32(os.Getuid()),
		Gid:   uint32(os.Getgid()),
	}
}

func (fs *scratchFS) StatFS(
	ctx context.Context,
	op *fuseops.StatFSOp) error {
	return nil
}

func (fs *scratchFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	if op.Parent != rootInode || op.Name != scratchName {
		return fuse.ENOENT
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	attrs, err := fs.scratchAttributes()
	if err != nil {
		return err
	}

	op.Entry.Child = scratchInode
	op.Entry.Attributes = attrs
	op.Entry.AttributesExpiration = fs.clock.Now().Add(time.Second)

	return nil
}

func (fs *scratchFS) GetInodeAttributes(
	ctx context.Context,
	op *fuseops.GetInodeAttributesOp) error {
	switch op.Inode {
	case rootInode:
		op.Attributes = fs.rootAttributes()

	case scratchInode:
		fs.mu.Lock()
		defer fs.mu.Unlock()

		attrs, err := fs.scratchAttributes()
		if err != nil {
			return err
		}
		op.Attributes = attrs

	default:
		return fuse.ENOENT
	}

	op.AttributesExpiration = fs.clock.Now().Add(time.Second)
	return nil
}

func (fs *scratchFS) SetInodeAttributes(
	ctx context.Context,
	op *fuseops.SetInodeAttributesOp) error {
	if op.Inode != scratchInode {
		return fuse.ENOSYS
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if op.Size != nil {
		if err := fs.backing.Truncate(int64(*op.Size)); err != nil {
			return err
		}
		fs.ctime = fs.clock.Now()
	}

	if op.Mtime != nil {
		fs.mtime = *op.Mtime
	}

	attrs, err := fs.scratchAttributes()
	if err != nil {
		return err
	}

	op.Attributes = attrs
	op.AttributesExpiration = fs.clock.Now().Add(time.Second)

	return nil
}

func (fs *scratchFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *scratchFS) BatchForget(
	ctx context.Context,
	op *fuseops.BatchForgetOp) error {
	return nil
}

func (fs *scratchFS) OpenDir(
	ctx context.Context,
	op *fuseops.OpenDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOENT
	}

	return nil
}

func (fs *scratchFS) ReadDir(
	ctx context.Context,
	op *fuseops.ReadDirOp) error {
	if op.Inode != rootInode {
		return fuse.ENOENT
	}

	entries := []fuseutil.Dirent{
		{
			Offset: 1,
			Inode:  scratchInode,
			Name:   scratchName,
			Type:   fuseutil.DT_File,
		},
	}

	if op.Offset > fuseops.DirOffset(len(entries)) {
		return fuse.EINVAL
	}

	op.Data = make([]byte, 0, op.Size)
	for _, e := range entries[op.Offset:] {
		n := fuseutil.WriteDirent(op.Data[len(op.Data):cap(op.Data)], e)
		if n == 0 {
			break
		}

		op.Data = op.Data[:len(op.Data)+n]
	}

	return nil
}

func (fs *scratchFS) ReleaseDirHandle(
	ctx context.Context,
	op *fuseops.ReleaseDirHandleOp) error {
	return nil
}

func (fs *scratchFS) OpenFile(
	ctx context.Context,
	op *fuseops.OpenFileOp) error {
	if op.Inode != scratchInode {
		return fuse.ENOENT
	}

	return nil
}

func (fs *scratchFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	op.Data = make([]byte, op.Size)
	n, err := fs.backing.ReadAt(op.Data, op.Offset)
	op.Data = op.Data[:n]

	// A short read at the end of the file is EOF, not an error.
	if err == io.EOF {
		err = nil
	}

	return err
}

func (fs *scratchFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	if _, err := fs.backing.WriteAt(op.Data, op.Offset); err != nil {
		return err
	}

	fs.mtime = fs.clock.Now()
	return nil
}

func (fs *scratchFS) SyncFile(
	ctx context.Context,
	op *fuseops.SyncFileOp) error {
	fs.mu.Lock()
	defer fs.mu.Unlock()

	return fs.backing.Sync()
}

func (fs *scratchFS) FlushFile(
	ctx context.Context,
	op *fuseops.FlushFileOp) error {
	return nil
}

func (fs *scratchFS) ReleaseFileHandle(
	ctx context.Context,
	op *fuseops.ReleaseFileHandleOp) error {
	return nil
}

func (fs *scratchFS) Fallocate(
	ctx context.Context,
	op *fuseops.FallocateOp) error {
	if op.Inode != scratchInode {
		return fuse.ENOENT
	}

	// The backing store only supports plain allocation.
	if op.Mode != 0 {
		return fuse.ENOSYS
	}

	fs.mu.Lock()
	defer fs.mu.Unlock()

	if err := fallocate.Fallocate(fs.backing, int64(op.Offset), int64(op.Length)); err != nil {
		return err
	}

	fs.ctime = fs.clock.Now()
	return nil
}
