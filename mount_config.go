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
	"log"
	"sort"
	"strings"
)

// MountConfig is the optional configuration accepted by Mount.
type MountConfig struct {
	// The context from which every op read from the connection by the
	// server derives its own context. Cancelling it also cancels the
	// contexts of ops already in flight; the read loop itself does not
	// watch it. Defaults to context.Background.
	OpContext context.Context

	// The name of the file system as shown in e.g. mount(8) output, and
	// the subtype after "fuse.".
	FSName  string
	Subtype string

	// Mount the file system read-only.
	ReadOnly bool

	// Ask the kernel to perform its standard permission checks based on
	// file modes, rather than deferring all checks to the file system.
	DefaultPermissions bool

	// Allow processes of other users to access the mount. Requires
	// user_allow_other in /etc/fuse.conf for non-root mounters.
	AllowOther bool

	// A logger for error messages the library has no better channel for,
	// like reply-write failures. nil disables such logging.
	ErrorLogger *log.Logger

	// A logger for per-op debug output. nil falls back to the logger gated
	// by the -fuse.debug flag.
	DebugLogger *log.Logger

	// By default writeback caching is negotiated with the kernel, batching
	// writes in the page cache. Set to force write-through behavior, where
	// every user write is dispatched to the file system immediately.
	DisableWritebackCaching bool

	// Allow the kernel to issue concurrent read requests for the same
	// handle.
	EnableAsyncReads bool

	// Allow the kernel to send parallel lookup and readdir requests for a
	// single directory.
	EnableParallelDirOps bool

	// Negotiate handling of O_TRUNC in OpenFileOp instead of a separate
	// truncating SetInodeAttributesOp.
	EnableAtomicTrunc bool

	// Negotiate kernel-side caching of symlink targets. The file system
	// must keep the Size attribute of symlink inodes correct to use this.
	EnableSymlinkCaching bool

	// Negotiate that ENOSYS from OpenFileOp (respectively OpenDirOp) means
	// opens need not be sent at all.
	EnableNoOpenSupport    bool
	EnableNoOpendirSupport bool

	// The maximum readahead offered to the kernel, in bytes. Zero means a
	// generous default; the kernel takes the min with what it asked for.
	MaxReadahead uint32

	// The maximum write request body accepted, in bytes. Zero means the
	// library maximum; values are clamped to it and rounded by the kernel
	// to whole pages.
	MaxWrite uint32

	// The maximum number of backgrounded requests and the congestion
	// threshold reported to the kernel. Zero leaves the kernel defaults.
	MaxBackground       uint16
	CongestionThreshold uint16

	// The granularity of inode timestamps, in nanoseconds. Zero means one
	// nanosecond.
	TimeGran uint32

	// Additional option key=value pairs (or bare keys with an empty value)
	// passed through to the mount helper verbatim. Keys here override the
	// ones the library computes.
	Options map[string]string
}

// toMap converts to a map from mount option name to optional value.
func (c *MountConfig) toMap() map[string]string {
	m := make(map[string]string)

	if c.ReadOnly {
		m["ro"] = ""
	}

	if c.DefaultPermissions {
		m["default_permissions"] = ""
	}

	if c.AllowOther {
		m["allow_other"] = ""
	}

	fsname := c.FSName
	if fsname == "" {
		fsname = "fuse"
	}
	m["fsname"] = fsname

	if c.Subtype != "" {
		m["subtype"] = c.Subtype
	}

	// Last-one-wins for the user's own options.
	for k, v := range c.Options {
		m[k] = v
	}

	return m
}

// escapeOptionValue escapes the characters the mount helper treats
// specially within a single option.
func escapeOptionValue(s string) string {
	s = strings.Replace(s, `\`, `\\`, -1)
	s = strings.Replace(s, `,`, `\,`, -1)
	return s
}

// toOptionsString renders the option map into the single -o string handed
// to the mount helper, in deterministic order.
func (c *MountConfig) toOptionsString() string {
	m := c.toMap()

	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	components := make([]string, 0, len(keys))
	for _, k := range keys {
		component := escapeOptionValue(k)
		if v := m[k]; v != "" {
			component = component + "=" + escapeOptionValue(v)
		}

		components = append(components, component)
	}

	return strings.Join(components, ",")
}
