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
	"bytes"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path"
	"strconv"
	"strings"
	"syscall"

	"golang.org/x/sys/unix"
)

// findFusermount locates the setuid mount helper, preferring the fuse3
// flavor.
func findFusermount() (string, error) {
	path, err := exec.LookPath("fusermount3")
	if err != nil {
		path, err = exec.LookPath("fusermount")
	}
	if err != nil {
		return "", err
	}
	return path, nil
}

// fusermount runs the mount helper with the supplied arguments, passing it
// one end of a UNIX socket pair over which it hands back the opened
// /dev/fuse descriptor per its _FUSE_COMMFD protocol.
func fusermount(binary string, argv []string) (*os.File, error) {
	fds, err := syscall.Socketpair(syscall.AF_UNIX, syscall.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}

	// Wrap the sockets into os.File objects; the write end goes to the
	// helper, the read end stays with us.
	writeFile := os.NewFile(uintptr(fds[0]), "fusermount-child-writes")
	defer writeFile.Close()

	readFile := os.NewFile(uintptr(fds[1]), "fusermount-parent-reads")
	defer readFile.Close()

	cmd := exec.Command(binary, argv...)
	cmd.Env = append(os.Environ(), "_FUSE_COMMFD=3")
	cmd.ExtraFiles = []*os.File{writeFile}

	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("starting fusermount: %w", err)
	}

	dev, recvErr := recvDevFd(readFile)

	// The helper exits once it has passed the descriptor (or failed to
	// mount). Reap it either way; on failure its stderr is the useful
	// diagnostic.
	waitErr := cmd.Wait()
	if recvErr != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg != "" {
			return nil, fmt.Errorf("fusermount: %s", msg)
		}
		if waitErr != nil {
			return nil, fmt.Errorf("fusermount: %w", waitErr)
		}
		return nil, recvErr
	}

	return dev, nil
}

// recvDevFd reads a single descriptor passed as SCM_RIGHTS over the
// supplied socket.
func recvDevFd(readFile *os.File) (*os.File, error) {
	conn, err := net.FileConn(readFile)
	if err != nil {
		return nil, fmt.Errorf("FileConn: %w", err)
	}
	defer conn.Close()

	unixConn, ok := conn.(*net.UnixConn)
	if !ok {
		return nil, fmt.Errorf("expected UnixConn, got %T", conn)
	}

	buf := make([]byte, 32)
	oob := make([]byte, 32)
	_, oobn, _, _, err := unixConn.ReadMsgUnix(buf, oob)
	if err != nil {
		return nil, fmt.Errorf("ReadMsgUnix: %w", err)
	}

	scms, err := unix.ParseSocketControlMessage(oob[:oobn])
	if err != nil {
		return nil, fmt.Errorf("ParseSocketControlMessage: %w", err)
	}
	if len(scms) != 1 {
		return nil, fmt.Errorf("expected one control message, got %d", len(scms))
	}

	gotFds, err := unix.ParseUnixRights(&scms[0])
	if err != nil {
		return nil, fmt.Errorf("ParseUnixRights: %w", err)
	}
	if len(gotFds) != 1 {
		return nil, fmt.Errorf("expected one fd, got %d", len(gotFds))
	}

	return os.NewFile(uintptr(gotFds[0]), "/dev/fuse"), nil
}

// mount opens the device and mounts it at the supplied directory.
//
// Mountpoints of the form /dev/fd/N skip the helper entirely: the parent
// process has already mounted and hands us the device descriptor by
// number, the pattern used by container managers and /etc/fstab mount
// programs.
func mount(dir string, config *MountConfig) (*os.File, error) {
	if fd, ok := parseFdMountPoint(dir); ok {
		return os.NewFile(uintptr(fd), "/dev/fuse"), nil
	}

	binary, err := findFusermount()
	if err != nil {
		return nil, fmt.Errorf("finding fusermount: %w", err)
	}

	argv := []string{
		"-o", config.toOptionsString(),
		"--",
		dir,
	}

	return fusermount(binary, argv)
}

// parseFdMountPoint recognizes mountpoints of the form /dev/fd/N,
// returning the descriptor number.
func parseFdMountPoint(dir string) (int, bool) {
	if path.Dir(dir) != "/dev/fd" {
		return 0, false
	}

	fd, err := strconv.Atoi(path.Base(dir))
	if err != nil || fd < 0 {
		return 0, false
	}

	return fd, true
}
