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

// Package fuse enables writing and mounting user-space file systems on
// Linux.
//
// The primary elements of interest are:
//
//   - The fuseops package, which defines one operation struct per kernel
//     request kind.
//
//   - The fuseutil.FileSystem interface, with one method per operation,
//     and fuseutil.NewFileSystemServer, which dispatches to it. Embed a
//     fuseutil.NotImplementedFileSystem to pick up defaults for methods
//     you don't care about.
//
//   - Mount, which mounts a file system served by a Server.
//
// The Connection type underneath them owns the kernel device channel: it
// performs the init handshake, decodes request frames into ops, writes
// reply frames, honors the forget and interrupt protocols, and exposes
// the reverse notification channel by which a file system invalidates
// kernel caches.
package fuse
