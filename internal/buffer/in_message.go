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

package buffer

import (
	"fmt"
	"io"
	"unsafe"

	"github.com/vfskit/fuse/internal/fusekernel"
)

// InMessageHeaderSize is the size of the leading fusekernel.InHeader in
// every request frame.
const InMessageHeaderSize = int(unsafe.Sizeof(fusekernel.InHeader{}))

// An InMessage is an incoming frame from the kernel: a fusekernel.InHeader
// followed by an opcode-specific body. It provides storage for one frame
// at a time and zero-copy access to its contents. Accessors borrow
// directly from the storage array, so the message must stay alive while
// any decoded view of it is in use.
type InMessage struct {
	// The whole frame, and the portion of the body not yet consumed. Both
	// alias storage.
	frame     []byte
	remaining []byte

	storage [MaxReadSize]byte
}

// Init reads a single frame from r, which must deliver exactly one frame
// per read call the way /dev/fuse does. It returns io.EOF when the peer
// has gone away.
func (m *InMessage) Init(r io.Reader) error {
	n, err := r.Read(m.storage[:])
	if err != nil {
		return err
	}

	if n < InMessageHeaderSize {
		return fmt.Errorf("frame of %d bytes is smaller than the header", n)
	}

	m.frame = m.storage[:n]
	m.remaining = m.frame[InMessageHeaderSize:]

	return nil
}

// Header returns a reference to the header read by the most recent Init.
func (m *InMessage) Header() *fusekernel.InHeader {
	return (*fusekernel.InHeader)(unsafe.Pointer(&m.storage[0]))
}

// Len returns the length of the frame read by the most recent Init.
func (m *InMessage) Len() int {
	return len(m.frame)
}

// Consume takes the next n bytes of the body, returning a nil pointer if n
// is zero or fewer than n bytes remain.
func (m *InMessage) Consume(n uintptr) unsafe.Pointer {
	if n == 0 || uintptr(len(m.remaining)) < n {
		return nil
	}

	p := unsafe.Pointer(&m.remaining[0])
	m.remaining = m.remaining[n:]

	return p
}

// ConsumeBytes is like Consume, but returns a slice. The result is nil if
// fewer than n bytes remain; for n == 0 it is an empty slice.
func (m *InMessage) ConsumeBytes(n uintptr) []byte {
	if uintptr(len(m.remaining)) < n {
		return nil
	}

	b := m.remaining[:n:n]
	m.remaining = m.remaining[n:]

	return b
}

// Remaining returns the unconsumed portion of the body without consuming
// it.
func (m *InMessage) Remaining() []byte {
	return m.remaining
}
