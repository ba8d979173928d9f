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
	"github.com/vfskit/fuse/internal/buffer"
)

////////////////////////////////////////////////////////////////////////
// buffer.InMessage
////////////////////////////////////////////////////////////////////////

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) getInMessage() *buffer.InMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.inMessages.New == nil {
		c.inMessages.New = func() interface{} { return new(buffer.InMessage) }
	}

	return c.inMessages.Get().(*buffer.InMessage)
}

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) putInMessage(m *buffer.InMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.inMessages.Put(m)
}

////////////////////////////////////////////////////////////////////////
// buffer.OutMessage
////////////////////////////////////////////////////////////////////////

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) getOutMessage() *buffer.OutMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.outMessages.New == nil {
		c.outMessages.New = func() interface{} { return new(buffer.OutMessage) }
	}

	m := c.outMessages.Get().(*buffer.OutMessage)
	m.Reset()

	return m
}

// LOCKS_EXCLUDED(c.mu)
func (c *Connection) putOutMessage(m *buffer.OutMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.outMessages.Put(m)
}
