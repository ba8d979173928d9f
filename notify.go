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
	"unsafe"

	"github.com/vfskit/fuse/fuseops"
	"github.com/vfskit/fuse/internal/buffer"
	"github.com/vfskit/fuse/internal/fusekernel"
)

// Notifications are frames we push to the kernel unprompted, to invalidate
// or update its caches. They share the reply header format with a zero
// unique ID and the notification code in the error field.
//
// Many kernel versions generate stack traces if the terminating NUL byte
// is missing from a notified name, so the senders below are careful to
// always append one.

// notify writes a single notification frame with the given code.
func (c *Connection) notify(code int32, m *buffer.OutMessage) error {
	h := m.OutHeader()
	h.Error = code

	length := m.Len()
	for _, s := range m.Sglist {
		length += len(s)
	}
	h.Len = uint32(length)

	return c.writeOutMessage(m)
}

// NotifyInvalInode invalidates the kernel's cached data for an inode in
// the byte range [off, off+length). A negative length invalidates to the
// end of the file; an off of 0 with negative length drops the whole cache.
// The kernel will re-read the range on the next access.
func (c *Connection) NotifyInvalInode(inode fuseops.InodeID, off int64, length int64) error {
	m := c.getOutMessage()
	defer c.putOutMessage(m)

	out := (*fusekernel.NotifyInvalInodeOut)(m.Grow(unsafe.Sizeof(fusekernel.NotifyInvalInodeOut{})))
	out.Ino = uint64(inode)
	out.Off = off
	out.Len = length

	return c.notify(fusekernel.NotifyCodeInvalInode, m)
}

// NotifyInvalEntry invalidates the kernel's cached mapping from a name
// within a parent directory to an inode. The next lookup of the name is
// dispatched to the file system.
func (c *Connection) NotifyInvalEntry(parent fuseops.InodeID, name string) error {
	m := c.getOutMessage()
	defer c.putOutMessage(m)

	out := (*fusekernel.NotifyInvalEntryOut)(m.Grow(unsafe.Sizeof(fusekernel.NotifyInvalEntryOut{})))
	out.Parent = uint64(parent)
	out.Namelen = uint32(len(name))

	m.AppendString(name)
	m.Append([]byte{0})

	return c.notify(fusekernel.NotifyCodeInvalEntry, m)
}

// NotifyDelete tells the kernel that an entry has been removed from a
// directory out of band, identifying the child inode so the kernel can
// drop it even when the name has already been reused.
func (c *Connection) NotifyDelete(
	parent fuseops.InodeID,
	child fuseops.InodeID,
	name string) error {
	m := c.getOutMessage()
	defer c.putOutMessage(m)

	out := (*fusekernel.NotifyInvalDeleteOut)(m.Grow(unsafe.Sizeof(fusekernel.NotifyInvalDeleteOut{})))
	out.Parent = uint64(parent)
	out.Child = uint64(child)
	out.Namelen = uint32(len(name))

	m.AppendString(name)
	m.Append([]byte{0})

	return c.notify(fusekernel.NotifyCodeDelete, m)
}

// NotifyStore replaces the kernel's cached data for an inode in the byte
// range starting at offset with the supplied segments, without the kernel
// asking for it.
func (c *Connection) NotifyStore(
	inode fuseops.InodeID,
	offset uint64,
	data [][]byte) error {
	m := c.getOutMessage()
	defer c.putOutMessage(m)

	var size uint32
	for _, d := range data {
		size += uint32(len(d))
	}

	out := (*fusekernel.NotifyStoreOut)(m.Grow(unsafe.Sizeof(fusekernel.NotifyStoreOut{})))
	out.Nodeid = uint64(inode)
	out.Offset = offset
	out.Size = size

	m.Sglist = append(m.Sglist, data...)

	return c.notify(fusekernel.NotifyCodeStore, m)
}

// NotifyRetrieve asks the kernel for its cached data for an inode in the
// byte range [offset, offset+size), blocking until the kernel answers
// with a retrieve reply or the context is cancelled. The result holds
// whatever subset of the range the kernel had cached.
//
// If the session is destroyed while the request is outstanding, the call
// fails with ErrCanceled.
func (c *Connection) NotifyRetrieve(
	ctx context.Context,
	inode fuseops.InodeID,
	offset uint64,
	size uint32) ([]byte, error) {
	wait, unique, err := c.registerRetrieve()
	if err != nil {
		return nil, err
	}

	m := c.getOutMessage()

	out := (*fusekernel.NotifyRetrieveOut)(m.Grow(unsafe.Sizeof(fusekernel.NotifyRetrieveOut{})))
	out.NotifyUnique = unique
	out.Nodeid = uint64(inode)
	out.Offset = offset
	out.Size = size

	err = c.notify(fusekernel.NotifyCodeRetrieve, m)
	c.putOutMessage(m)
	if err != nil {
		c.unregisterRetrieve(unique)
		return nil, err
	}

	select {
	case data, ok := <-wait:
		if !ok {
			return nil, ErrCanceled
		}
		return data, nil

	case <-ctx.Done():
		c.unregisterRetrieve(unique)
		return nil, ctx.Err()
	}
}

// NotifyPollWakeup tells the kernel that the handle whose poll request
// carried the given kernel handle ID is now ready for I/O.
func (c *Connection) NotifyPollWakeup(kh uint64) error {
	m := c.getOutMessage()
	defer c.putOutMessage(m)

	out := (*fusekernel.NotifyPollWakeupOut)(m.Grow(unsafe.Sizeof(fusekernel.NotifyPollWakeupOut{})))
	out.Kh = kh

	return c.notify(fusekernel.NotifyCodePoll, m)
}

////////////////////////////////////////////////////////////////////////
// Retrieve correlation
////////////////////////////////////////////////////////////////////////

// registerRetrieve mints a fresh correlation ID and a channel on which its
// answer will be delivered.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) registerRetrieve() (chan []byte, uint64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.destroyed {
		return nil, 0, ErrCanceled
	}

	c.nextRetrieveID++
	unique := c.nextRetrieveID

	wait := make(chan []byte, 1)
	c.retrieveWaiters[unique] = wait

	return wait, unique, nil
}

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) unregisterRetrieve(unique uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.retrieveWaiters, unique)
}

// completeRetrieve routes a retrieve reply frame to its waiter. The data
// borrows from the request buffer, so it is copied before handoff. A
// missing waiter means the retrieval was abandoned; the data is dropped.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) completeRetrieve(unique uint64, data []byte) {
	c.mu.Lock()
	wait, ok := c.retrieveWaiters[unique]
	if ok {
		delete(c.retrieveWaiters, unique)
	}
	c.mu.Unlock()

	if !ok {
		if c.errorLogger != nil {
			c.errorLogger.Printf(
				"retrieve reply for unknown correlation ID %d (%d bytes)",
				unique, len(data))
		}
		return
	}

	wait <- append([]byte(nil), data...)
}

// failPendingRetrieves fails every outstanding retrieval. Called when the
// session is destroyed; correlations do not survive it.
//
// LOCKS_EXCLUDED(c.mu)
func (c *Connection) failPendingRetrieves() {
	c.mu.Lock()
	waiters := c.retrieveWaiters
	c.retrieveWaiters = make(map[uint64]chan []byte)
	c.mu.Unlock()

	for _, wait := range waiters {
		close(wait)
	}
}
