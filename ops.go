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
	"fmt"

	"github.com/vfskit/fuse/fuseops"
	"github.com/vfskit/fuse/internal/fusekernel"
)

// Ops internal to the library. interruptOp, notifyReplyOp and destroyOp are
// handled inside ReadOp and never returned by it; initOp is returned only
// to Connection.init during the handshake; unknownOp is returned so that
// the server can answer it with ENOSYS.

// initOp is the session handshake. It is consumed by Connection.init.
type initOp struct {
	// In.
	Kernel       fusekernel.Protocol
	KernelFlags  fusekernel.InitFlags
	MaxReadahead uint32

	// Out.
	Library             fusekernel.Protocol
	Flags               fusekernel.InitFlags
	MaxWrite            uint32
	MaxBackground       uint16
	CongestionThreshold uint16
	TimeGran            uint32
	MaxPages            uint16
}

// interruptOp asks us to cancel the in-flight op with the given ID. It is
// handled inline by ReadOp and receives no reply.
type interruptOp struct {
	FuseID uint64
}

// notifyReplyOp is the kernel's answer to a retrieve notification. The
// frame's unique ID correlates it with the waiter; it is routed inline by
// ReadOp and receives no reply.
type notifyReplyOp struct {
	// The file offset the kernel returned data for, and the data itself,
	// borrowed from the request buffer.
	Offset uint64
	Data   []byte
}

// destroyOp marks the session terminal. Handled inline by ReadOp.
type destroyOp struct {
}

// unknownOp is a sentinel for opcodes we don't know. The dispatch layer
// responds with ENOSYS.
type unknownOp struct {
	OpCode uint32
	Inode  fuseops.InodeID
}

func (o *unknownOp) ShortDesc() string {
	return fmt.Sprintf("<opcode %d>(inode=%d)", o.OpCode, o.Inode)
}
