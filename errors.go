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
	"errors"
	"syscall"
)

const (
	// Errors corresponding to kernel error numbers. These may be returned
	// by file system methods and are reported to the kernel as the negated
	// errno in the reply header.
	EEXIST    = syscall.EEXIST
	EINTR     = syscall.EINTR
	EINVAL    = syscall.EINVAL
	EIO       = syscall.EIO
	ENOATTR   = syscall.ENODATA
	ENOENT    = syscall.ENOENT
	ENOSYS    = syscall.ENOSYS
	ENOTDIR   = syscall.ENOTDIR
	ENOTEMPTY = syscall.ENOTEMPTY
	ERANGE    = syscall.ERANGE
	ESTALE    = syscall.ESTALE
)

// ErrCanceled is returned by NotifyRetrieve waiters whose session was
// destroyed before the kernel answered.
var ErrCanceled = errors.New("fuse: session destroyed")

// ErrExternallyManagedMountPoint wraps unmount failures for mountpoints of
// the form /dev/fd/N, which are set up and torn down by an external
// process rather than by this library.
var ErrExternallyManagedMountPoint = errors.New(
	"nothing to unmount for externally managed mountpoints")
