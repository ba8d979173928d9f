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
	"fmt"
)

// Server is a type that knows how to serve ops read from a connection.
type Server interface {
	// ServeOps reads and serves ops from the supplied connection until the
	// kernel closes it, then returns. Implementations must drain their
	// in-flight handlers before returning; the connection is closed
	// afterward.
	ServeOps(*Connection)
}

// MountedFileSystem represents the status of a mount operation, with a
// method that waits for unmounting.
type MountedFileSystem struct {
	dir string

	// The result to return from Join. Not valid until the channel is
	// closed.
	joinStatus          error
	joinStatusAvailable chan struct{}
}

// Dir returns the directory on which the file system is mounted (or where
// we attempted to mount it).
func (mfs *MountedFileSystem) Dir() string {
	return mfs.dir
}

// Join blocks until a mounted file system has been unmounted. It does not
// return successfully until all ops read from the connection have been
// responded to (i.e. the file system server has finished processing all
// in-flight ops).
//
// The return value is non-nil if anything unexpected happened while
// serving. May be called multiple times. The context bounds how long the
// caller is willing to wait for the drain; its expiry does not tear
// anything down.
func (mfs *MountedFileSystem) Join(ctx context.Context) error {
	select {
	case <-mfs.joinStatusAvailable:
		return mfs.joinStatus
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Mount attempts to mount a file system on the given directory, using the
// supplied Server to serve connection requests. It blocks until the file
// system is successfully mounted, which requires the init handshake with
// the kernel to complete.
func Mount(
	dir string,
	server Server,
	config *MountConfig) (*MountedFileSystem, error) {
	if config == nil {
		config = &MountConfig{}
	}

	// Sanity check: make sure the mountpoint is non-empty.
	if dir == "" {
		return nil, fmt.Errorf("mount point must be non-empty")
	}

	mfs := &MountedFileSystem{
		dir:                 dir,
		joinStatusAvailable: make(chan struct{}),
	}

	// Open the device and mount it at dir.
	dev, err := mount(dir, config)
	if err != nil {
		return nil, fmt.Errorf("mount: %w", err)
	}

	// Create the connection, completing the init handshake with the
	// kernel.
	connection, err := newConnection(*config, dev)
	if err != nil {
		dev.Close()
		unmount(dir)
		return nil, fmt.Errorf("newConnection: %w", err)
	}

	// Serve the connection in the background. When done, set the join
	// status.
	go func() {
		server.ServeOps(connection)
		mfs.joinStatus = connection.close()
		close(mfs.joinStatusAvailable)
	}()

	return mfs, nil
}

// Unmount attempts to unmount the file system whose mount point is the
// supplied directory.
func Unmount(dir string) error {
	return unmount(dir)
}
