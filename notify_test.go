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
	"time"
	"unsafe"

	. "github.com/jacobsa/ogletest"

	"github.com/vfskit/fuse/fuseutil"
	"github.com/vfskit/fuse/internal/buffer"
	"github.com/vfskit/fuse/internal/fusekernel"
)

type NotifyTest struct {
	kernel *fakeKernel
	conn   *Connection
	fs     *testFS

	serveDone chan struct{}
}

func init() { RegisterTestSuite(&NotifyTest{}) }

func (t *NotifyTest) SetUp(ti *TestInfo) {
	t.fs = newTestFS()
	t.serveDone = make(chan struct{})

	user, kernel, err := newFakeDevice()
	AssertEq(nil, err)
	t.kernel = kernel

	t.kernel.writeInit(7, 31, 128*1024, fusekernel.InitBigWrites)

	t.conn, err = newConnection(MountConfig{}, user)
	AssertEq(nil, err)

	h, _ := t.kernel.readFrame()
	AssertEq(0, h.Error)

	go func() {
		defer close(t.serveDone)
		fuseutil.NewFileSystemServer(t.fs).ServeOps(t.conn)
	}()
}

func (t *NotifyTest) TearDown() {
	t.kernel.close()

	select {
	case <-t.serveDone:
	case <-time.After(5 * time.Second):
		AddFailure("timeout waiting for ServeOps to return")
	}

	t.conn.close()
}

func (t *NotifyTest) InvalInode() {
	err := t.conn.NotifyInvalInode(42, 100, 200)
	AssertEq(nil, err)

	h, payload := t.kernel.readFrame()
	ExpectEq(0, h.Unique)
	ExpectEq(fusekernel.NotifyCodeInvalInode, h.Error)

	AssertEq(int(unsafe.Sizeof(fusekernel.NotifyInvalInodeOut{})), len(payload))
	out := (*fusekernel.NotifyInvalInodeOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(42, out.Ino)
	ExpectEq(100, out.Off)
	ExpectEq(200, out.Len)
}

func (t *NotifyTest) InvalEntry() {
	err := t.conn.NotifyInvalEntry(1, "stale.txt")
	AssertEq(nil, err)

	h, payload := t.kernel.readFrame()
	ExpectEq(0, h.Unique)
	ExpectEq(fusekernel.NotifyCodeInvalEntry, h.Error)

	fixed := int(unsafe.Sizeof(fusekernel.NotifyInvalEntryOut{}))
	AssertEq(fixed+len("stale.txt")+1, len(payload))

	out := (*fusekernel.NotifyInvalEntryOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(1, out.Parent)
	ExpectEq(len("stale.txt"), out.Namelen)
	ExpectEq("stale.txt\x00", string(payload[fixed:]))
}

func (t *NotifyTest) Delete() {
	err := t.conn.NotifyDelete(1, 9, "gone")
	AssertEq(nil, err)

	h, payload := t.kernel.readFrame()
	ExpectEq(fusekernel.NotifyCodeDelete, h.Error)

	fixed := int(unsafe.Sizeof(fusekernel.NotifyInvalDeleteOut{}))
	out := (*fusekernel.NotifyInvalDeleteOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(1, out.Parent)
	ExpectEq(9, out.Child)
	ExpectEq("gone\x00", string(payload[fixed:]))
}

func (t *NotifyTest) Store() {
	err := t.conn.NotifyStore(
		13, 4096,
		[][]byte{[]byte("abc"), []byte("def")})
	AssertEq(nil, err)

	h, payload := t.kernel.readFrame()
	ExpectEq(fusekernel.NotifyCodeStore, h.Error)

	fixed := int(unsafe.Sizeof(fusekernel.NotifyStoreOut{}))
	AssertEq(fixed+6, len(payload))
	AssertEq(buffer.OutMessageHeaderSize+fixed+6, h.Len)

	out := (*fusekernel.NotifyStoreOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(13, out.Nodeid)
	ExpectEq(4096, out.Offset)
	ExpectEq(6, out.Size)
	ExpectEq("abcdef", string(payload[fixed:]))
}

func (t *NotifyTest) PollWakeup() {
	err := t.conn.NotifyPollWakeup(0xfeed)
	AssertEq(nil, err)

	h, payload := t.kernel.readFrame()
	ExpectEq(fusekernel.NotifyCodePoll, h.Error)

	out := (*fusekernel.NotifyPollWakeupOut)(unsafe.Pointer(&payload[0]))
	ExpectEq(0xfeed, out.Kh)
}

func (t *NotifyTest) RetrieveRoundTrip() {
	type result struct {
		data []byte
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		data, err := t.conn.NotifyRetrieve(context.Background(), 42, 0, 4096)
		resCh <- result{data, err}
	}()

	// The kernel sees the retrieve request with a fresh correlation ID.
	h, payload := t.kernel.readFrame()
	AssertEq(fusekernel.NotifyCodeRetrieve, h.Error)

	out := (*fusekernel.NotifyRetrieveOut)(unsafe.Pointer(&payload[0]))
	AssertEq(42, out.Nodeid)
	AssertEq(4096, out.Size)
	AssertNe(0, out.NotifyUnique)

	// Answer it, echoing the correlation ID in the header.
	in := fusekernel.NotifyRetrieveIn{
		Offset: 0,
		Size:   uint32(len("cached bytes")),
	}
	t.kernel.writeFrame(
		fusekernel.OpNotifyReply, out.NotifyUnique, 42,
		asBytes(unsafe.Pointer(&in), unsafe.Sizeof(in)),
		[]byte("cached bytes"))

	select {
	case res := <-resCh:
		AssertEq(nil, res.err)
		ExpectEq("cached bytes", string(res.data))
	case <-time.After(5 * time.Second):
		AddFailure("timeout waiting for retrieve result")
	}
}

func (t *NotifyTest) RetrieveFailsOnDestroy() {
	type result struct {
		data []byte
		err  error
	}
	resCh := make(chan result, 1)

	go func() {
		data, err := t.conn.NotifyRetrieve(context.Background(), 42, 0, 4096)
		resCh <- result{data, err}
	}()

	// Wait until the retrieve frame is out, so the waiter is registered.
	h, _ := t.kernel.readFrame()
	AssertEq(fusekernel.NotifyCodeRetrieve, h.Error)

	// Destroy the session instead of answering.
	t.kernel.writeFrame(fusekernel.OpDestroy, 99, 0)

	select {
	case res := <-resCh:
		ExpectEq(ErrCanceled, res.err)
		ExpectEq(0, len(res.data))
	case <-time.After(5 * time.Second):
		AddFailure("timeout waiting for retrieve failure")
	}
}

func (t *NotifyTest) RetrieveAfterDestroyFailsImmediately() {
	t.kernel.writeFrame(fusekernel.OpDestroy, 100, 0)

	// Wait for the destroy reply so the session is definitely terminal.
	h, _ := t.kernel.readFrame()
	AssertEq(100, h.Unique)

	select {
	case <-t.serveDone:
	case <-time.After(5 * time.Second):
		AddFailure("timeout waiting for ServeOps after destroy")
	}

	_, err := t.conn.NotifyRetrieve(context.Background(), 1, 0, 16)
	ExpectEq(ErrCanceled, err)
}
