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
	"context"
	"os"
	"syscall"
	"testing"
	"time"
	"unsafe"

	. "github.com/jacobsa/oglematchers"
	. "github.com/jacobsa/ogletest"

	"github.com/vfskit/fuse/fuseops"
	"github.com/vfskit/fuse/fuseutil"
	"github.com/vfskit/fuse/internal/buffer"
	"github.com/vfskit/fuse/internal/fusekernel"
)

func TestConnection(t *testing.T) { RunTests(t) }

////////////////////////////////////////////////////////////////////////
// Fake kernel
////////////////////////////////////////////////////////////////////////

// A fakeKernel owns the peer end of a socket pair standing in for
// /dev/fuse. SOCK_SEQPACKET gives the device's read-one-frame-per-call
// semantics plus EOF on close.
type fakeKernel struct {
	dev *os.File
}

func newFakeDevice() (user *os.File, kernel *fakeKernel, err error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_SEQPACKET, 0)
	if err != nil {
		return nil, nil, err
	}

	user = os.NewFile(uintptr(fds[0]), "/dev/fuse")
	kernel = &fakeKernel{
		dev: os.NewFile(uintptr(fds[1]), "fake-kernel"),
	}

	return user, kernel, nil
}

func asBytes(p unsafe.Pointer, n uintptr) []byte {
	return unsafe.Slice((*byte)(p), n)
}

// writeFrame sends one request frame: an InHeader followed by the supplied
// body segments.
func (k *fakeKernel) writeFrame(
	opcode uint32,
	unique uint64,
	nodeid uint64,
	body ...[]byte) {
	var bodyLen int
	for _, b := range body {
		bodyLen += len(b)
	}

	h := fusekernel.InHeader{
		Len:    uint32(buffer.InMessageHeaderSize + bodyLen),
		Opcode: opcode,
		Unique: unique,
		Nodeid: nodeid,
		Uid:    500,
		Gid:    500,
		Pid:    4321,
	}

	frame := make([]byte, 0, h.Len)
	frame = append(frame, asBytes(unsafe.Pointer(&h), unsafe.Sizeof(h))...)
	for _, b := range body {
		frame = append(frame, b...)
	}

	_, err := k.dev.Write(frame)
	AssertEq(nil, err)
}

// readFrame reads one reply or notification frame, returning its header
// and payload.
func (k *fakeKernel) readFrame() (fusekernel.OutHeader, []byte) {
	buf := make([]byte, buffer.MaxReadSize)
	n, err := k.dev.Read(buf)
	AssertEq(nil, err)
	AssertGe(n, int(unsafe.Sizeof(fusekernel.OutHeader{})))

	h := *(*fusekernel.OutHeader)(unsafe.Pointer(&buf[0]))
	payload := append([]byte(nil), buf[unsafe.Sizeof(fusekernel.OutHeader{}):n]...)

	return h, payload
}

func (k *fakeKernel) writeInit(major, minor, maxReadahead uint32, flags fusekernel.InitFlags) {
	in := fusekernel.InitIn{
		Major:        major,
		Minor:        minor,
		MaxReadahead: maxReadahead,
		Flags:        flags,
	}

	k.writeFrame(
		fusekernel.OpInit, 1, 0,
		asBytes(unsafe.Pointer(&in), unsafe.Sizeof(in)))
}

func (k *fakeKernel) close() {
	k.dev.Close()
}

////////////////////////////////////////////////////////////////////////
// Test file system
////////////////////////////////////////////////////////////////////////

// A file system whose interesting methods are closures supplied by the
// test.
type testFS struct {
	fuseutil.NotImplementedFileSystem

	lookUpInode func(context.Context, *fuseops.LookUpInodeOp) error
	readFile    func(context.Context, *fuseops.ReadFileOp) error
	writeFile   func(context.Context, *fuseops.WriteFileOp) error

	destroyed chan struct{}
}

func newTestFS() *testFS {
	return &testFS{
		destroyed: make(chan struct{}),
	}
}

func (fs *testFS) LookUpInode(
	ctx context.Context,
	op *fuseops.LookUpInodeOp) error {
	if fs.lookUpInode == nil {
		return ENOENT
	}
	return fs.lookUpInode(ctx, op)
}

func (fs *testFS) ReadFile(
	ctx context.Context,
	op *fuseops.ReadFileOp) error {
	if fs.readFile == nil {
		return EIO
	}
	return fs.readFile(ctx, op)
}

func (fs *testFS) WriteFile(
	ctx context.Context,
	op *fuseops.WriteFileOp) error {
	if fs.writeFile == nil {
		return EIO
	}
	return fs.writeFile(ctx, op)
}

func (fs *testFS) ForgetInode(
	ctx context.Context,
	op *fuseops.ForgetInodeOp) error {
	return nil
}

func (fs *testFS) BatchForget(
	ctx context.Context,
	op *fuseops.BatchForgetOp) error {
	return nil
}

func (fs *testFS) Destroy() {
	close(fs.destroyed)
}

////////////////////////////////////////////////////////////////////////
// Fixture
////////////////////////////////////////////////////////////////////////

type ConnectionTest struct {
	kernel *fakeKernel
	conn   *Connection
	fs     *testFS

	serveDone chan struct{}
}

func init() { RegisterTestSuite(&ConnectionTest{}) }

func (t *ConnectionTest) SetUp(ti *TestInfo) {
	t.fs = newTestFS()
	t.serveDone = make(chan struct{})

	user, kernel, err := newFakeDevice()
	AssertEq(nil, err)
	t.kernel = kernel

	// Complete the handshake with generous kernel-offered capabilities.
	t.kernel.writeInit(
		7, 31, 128*1024,
		fusekernel.InitAsyncRead|fusekernel.InitBigWrites)

	t.conn, err = newConnection(MountConfig{EnableAsyncReads: true}, user)
	AssertEq(nil, err)

	// Swallow the init reply.
	h, _ := t.kernel.readFrame()
	AssertEq(0, h.Error)

	// Serve in the background.
	go func() {
		defer close(t.serveDone)
		fuseutil.NewFileSystemServer(t.fs).ServeOps(t.conn)
	}()
}

func (t *ConnectionTest) TearDown() {
	t.kernel.close()

	select {
	case <-t.serveDone:
	case <-time.After(5 * time.Second):
		AddFailure("timeout waiting for ServeOps to return")
	}

	t.conn.close()
}

////////////////////////////////////////////////////////////////////////
// Tests
////////////////////////////////////////////////////////////////////////

func (t *ConnectionTest) LookUpSuccess() {
	t.fs.lookUpInode = func(ctx context.Context, op *fuseops.LookUpInodeOp) error {
		AssertEq(1, op.Parent)
		AssertEq("file.txt", op.Name)

		op.Entry.Child = 42
		op.Entry.Attributes = fuseops.InodeAttributes{
			Nlink: 1,
			Mode:  0644,
			Size:  13,
		}

		return nil
	}

	t.kernel.writeFrame(
		fusekernel.OpLookup, 2, fuseops.RootInodeID,
		[]byte("file.txt\x00"))

	h, payload := t.kernel.readFrame()
	AssertEq(2, h.Unique)
	AssertEq(0, h.Error)

	entrySize := int(unsafe.Sizeof(fusekernel.EntryOut{}))
	AssertEq(buffer.OutMessageHeaderSize+entrySize, h.Len)
	AssertEq(entrySize, len(payload))

	entry := (*fusekernel.EntryOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(42, entry.Nodeid)
	ExpectEq(0, entry.Generation)

	ExpectThat(&entry.Attr, DeepEquals(&fusekernel.Attr{
		Ino:     42,
		Size:    13,
		Blocks:  1,
		Mode:    syscall.S_IFREG | 0644,
		Nlink:   1,
		BlkSize: 4096,
	}))
}

func (t *ConnectionTest) LookUpError() {
	t.fs.lookUpInode = func(ctx context.Context, op *fuseops.LookUpInodeOp) error {
		return ENOENT
	}

	t.kernel.writeFrame(
		fusekernel.OpLookup, 3, fuseops.RootInodeID,
		[]byte("nope\x00"))

	h, payload := t.kernel.readFrame()
	ExpectEq(3, h.Unique)
	ExpectEq(-int32(syscall.ENOENT), h.Error)

	// Error replies carry no payload.
	ExpectEq(buffer.OutMessageHeaderSize, h.Len)
	ExpectEq(0, len(payload))
}

func (t *ConnectionTest) ForgetIsSilent() {
	forgetIn := fusekernel.ForgetIn{Nlookup: 3}
	t.kernel.writeFrame(
		fusekernel.OpForget, 4, 17,
		asBytes(unsafe.Pointer(&forgetIn), unsafe.Sizeof(forgetIn)))

	// Follow with a lookup; the very next frame the kernel sees must be
	// the lookup's reply, not anything for the forget.
	t.kernel.writeFrame(
		fusekernel.OpLookup, 5, fuseops.RootInodeID,
		[]byte("x\x00"))

	h, _ := t.kernel.readFrame()
	ExpectEq(5, h.Unique)
	ExpectEq(-int32(syscall.ENOENT), h.Error)
}

func (t *ConnectionTest) BatchForgetIsSilent() {
	batch := struct {
		in   fusekernel.BatchForgetIn
		one1 fusekernel.ForgetOne
		one2 fusekernel.ForgetOne
	}{
		in:   fusekernel.BatchForgetIn{Count: 2},
		one1: fusekernel.ForgetOne{Nodeid: 5, Nlookup: 1},
		one2: fusekernel.ForgetOne{Nodeid: 6, Nlookup: 2},
	}

	t.kernel.writeFrame(
		fusekernel.OpBatchForget, 6, 0,
		asBytes(unsafe.Pointer(&batch), unsafe.Sizeof(batch)))

	t.kernel.writeFrame(
		fusekernel.OpLookup, 7, fuseops.RootInodeID,
		[]byte("y\x00"))

	h, _ := t.kernel.readFrame()
	ExpectEq(7, h.Unique)
}

func (t *ConnectionTest) InterruptCancelsInFlightOp() {
	started := make(chan struct{})

	t.fs.readFile = func(ctx context.Context, op *fuseops.ReadFileOp) error {
		close(started)

		// Hang until interrupted, then short-circuit the way a handler
		// that observes cancellation is allowed to.
		<-ctx.Done()
		return EINTR
	}

	readIn := fusekernel.ReadIn{Fh: 1, Offset: 0, Size: 4096}
	t.kernel.writeFrame(
		fusekernel.OpRead, 8, 42,
		asBytes(unsafe.Pointer(&readIn), unsafe.Sizeof(readIn)))

	// Wait until the handler is definitely in flight, then interrupt it.
	<-started

	interruptIn := fusekernel.InterruptIn{Unique: 8}
	t.kernel.writeFrame(
		fusekernel.OpInterrupt, 9, 0,
		asBytes(unsafe.Pointer(&interruptIn), unsafe.Sizeof(interruptIn)))

	h, payload := t.kernel.readFrame()
	ExpectEq(8, h.Unique)
	ExpectEq(-int32(syscall.EINTR), h.Error)
	ExpectEq(0, len(payload))
}

func (t *ConnectionTest) InterruptForUnknownIDIsIgnored() {
	interruptIn := fusekernel.InterruptIn{Unique: 0xdead}
	t.kernel.writeFrame(
		fusekernel.OpInterrupt, 10, 0,
		asBytes(unsafe.Pointer(&interruptIn), unsafe.Sizeof(interruptIn)))

	// The connection keeps serving.
	t.kernel.writeFrame(
		fusekernel.OpLookup, 11, fuseops.RootInodeID,
		[]byte("z\x00"))

	h, _ := t.kernel.readFrame()
	ExpectEq(11, h.Unique)
}

func (t *ConnectionTest) UnknownOpcodeGetsENOSYS() {
	t.kernel.writeFrame(9999, 12, 1)

	h, payload := t.kernel.readFrame()
	ExpectEq(12, h.Unique)
	ExpectEq(-int32(syscall.ENOSYS), h.Error)
	ExpectEq(0, len(payload))
}

func (t *ConnectionTest) WriteRoundTrip() {
	var gotData []byte
	var gotOffset int64

	t.fs.writeFile = func(ctx context.Context, op *fuseops.WriteFileOp) error {
		gotData = append([]byte(nil), op.Data...)
		gotOffset = op.Offset
		return nil
	}

	writeIn := fusekernel.WriteIn{
		Fh:     7,
		Offset: 100,
		Size:   5,
	}

	t.kernel.writeFrame(
		fusekernel.OpWrite, 13, 42,
		asBytes(unsafe.Pointer(&writeIn), unsafe.Sizeof(writeIn)),
		[]byte("tacos"))

	h, payload := t.kernel.readFrame()
	AssertEq(13, h.Unique)
	AssertEq(0, h.Error)

	ExpectEq("tacos", string(gotData))
	ExpectEq(100, gotOffset)

	AssertEq(int(unsafe.Sizeof(fusekernel.WriteOut{})), len(payload))
	out := (*fusekernel.WriteOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(5, out.Size)
}

func (t *ConnectionTest) ReadReplyCarriesData() {
	t.fs.readFile = func(ctx context.Context, op *fuseops.ReadFileOp) error {
		AssertEq(4096, op.Size)
		AssertEq(512, op.Offset)
		op.Data = []byte("some file contents")
		return nil
	}

	readIn := fusekernel.ReadIn{Fh: 1, Offset: 512, Size: 4096}
	t.kernel.writeFrame(
		fusekernel.OpRead, 14, 42,
		asBytes(unsafe.Pointer(&readIn), unsafe.Sizeof(readIn)))

	h, payload := t.kernel.readFrame()
	ExpectEq(14, h.Unique)
	ExpectEq(0, h.Error)
	ExpectEq(buffer.OutMessageHeaderSize+len("some file contents"), h.Len)
	ExpectEq("some file contents", string(payload))
}

func (t *ConnectionTest) DestroyEndsTheSession() {
	t.kernel.writeFrame(fusekernel.OpDestroy, 15, 0)

	h, payload := t.kernel.readFrame()
	ExpectEq(15, h.Unique)
	ExpectEq(0, h.Error)
	ExpectEq(buffer.OutMessageHeaderSize, h.Len)
	ExpectEq(0, len(payload))

	// The server loop winds down and the file system is told.
	select {
	case <-t.serveDone:
	case <-time.After(5 * time.Second):
		AddFailure("timeout waiting for ServeOps after destroy")
	}

	select {
	case <-t.fs.destroyed:
	case <-time.After(5 * time.Second):
		AddFailure("Destroy was not called")
	}
}

func (t *ConnectionTest) CleanShutdownOnClosedDevice() {
	// Closing the kernel side makes the next read fail the way unmounting
	// does; the serve loop must treat it as EOF.
	t.kernel.close()

	select {
	case <-t.serveDone:
	case <-time.After(5 * time.Second):
		AddFailure("timeout waiting for ServeOps after close")
	}

	select {
	case <-t.fs.destroyed:
	case <-time.After(5 * time.Second):
		AddFailure("Destroy was not called")
	}
}

////////////////////////////////////////////////////////////////////////
// Init negotiation
////////////////////////////////////////////////////////////////////////

type InitTest struct {
}

func init() { RegisterTestSuite(&InitTest{}) }

func (t *InitTest) NegotiationReflectsKernelOffer() {
	user, kernel, err := newFakeDevice()
	AssertEq(nil, err)
	defer kernel.close()

	kernel.writeInit(
		7, 31, 128*1024,
		fusekernel.InitAsyncRead|fusekernel.InitBigWrites)

	conn, err := newConnection(MountConfig{EnableAsyncReads: true}, user)
	AssertEq(nil, err)
	defer conn.close()

	h, payload := kernel.readFrame()
	AssertEq(1, h.Unique)
	AssertEq(0, h.Error)

	initOutSize := int(unsafe.Sizeof(fusekernel.InitOut{}))
	AssertEq(buffer.OutMessageHeaderSize+initOutSize, h.Len)

	out := (*fusekernel.InitOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(7, out.Major)
	ExpectEq(31, out.Minor)
	ExpectEq(128*1024, out.MaxReadahead)
	ExpectEq(buffer.MaxWriteSize, out.MaxWrite)

	// The reply flags are the intersection of what the kernel offered
	// with what we support.
	want := fusekernel.InitAsyncRead | fusekernel.InitBigWrites
	ExpectEq(uint32(want), out.Flags)

	info := conn.Info()
	ExpectEq(7, info.ProtoMajor)
	ExpectEq(31, info.ProtoMinor)
	ExpectEq(uint32(buffer.MaxWriteSize), info.MaxWrite)
}

func (t *InitTest) DowngradesToKernelMinor() {
	user, kernel, err := newFakeDevice()
	AssertEq(nil, err)
	defer kernel.close()

	kernel.writeInit(7, 24, 64*1024, fusekernel.InitBigWrites)

	conn, err := newConnection(MountConfig{}, user)
	AssertEq(nil, err)
	defer conn.close()

	h, payload := kernel.readFrame()
	AssertEq(0, h.Error)

	out := (*fusekernel.InitOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(7, out.Major)
	ExpectEq(24, out.Minor)

	ExpectEq(24, conn.Info().ProtoMinor)
}

func (t *InitTest) AncientKernelIsRejected() {
	user, kernel, err := newFakeDevice()
	AssertEq(nil, err)
	defer kernel.close()
	defer user.Close()

	kernel.writeInit(7, 8, 64*1024, 0)

	_, err = newConnection(MountConfig{}, user)
	ExpectNe(nil, err)

	h, _ := kernel.readFrame()
	ExpectEq(1, h.Unique)
	ExpectEq(-int32(syscall.EPROTO), h.Error)
}

func (t *InitTest) NonInitFirstOpcodeIsProtocolError() {
	user, kernel, err := newFakeDevice()
	AssertEq(nil, err)
	defer kernel.close()
	defer user.Close()

	kernel.writeFrame(
		fusekernel.OpLookup, 1, fuseops.RootInodeID,
		[]byte("early\x00"))

	_, err = newConnection(MountConfig{}, user)
	ExpectNe(nil, err)

	h, _ := kernel.readFrame()
	ExpectEq(1, h.Unique)
	ExpectEq(-int32(syscall.EPROTO), h.Error)
}
