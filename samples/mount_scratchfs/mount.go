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

// A tool for mounting the scratchfs sample.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jacobsa/timeutil"
	"github.com/spf13/cobra"

	"github.com/vfskit/fuse"
	"github.com/vfskit/fuse/samples/scratchfs"
)

var (
	fBackingFile string
	fAllowOther  bool
	fDebug       bool
)

var rootCmd = &cobra.Command{
	Use:   "mount_scratchfs [flags] mount_point",
	Short: "Mount a single-file scratch file system",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(args[0])
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.Flags().StringVar(
		&fBackingFile,
		"backing-file",
		"",
		"Path to the file backing the scratch contents. Defaults to a temp file.")

	rootCmd.Flags().BoolVar(
		&fAllowOther,
		"allow-other",
		false,
		"Allow other users to access the mount.")

	rootCmd.Flags().BoolVar(
		&fDebug,
		"debug",
		false,
		"Enable debug logging to stderr.")
}

func openBackingFile() (*os.File, error) {
	if fBackingFile != "" {
		return os.OpenFile(fBackingFile, os.O_RDWR|os.O_CREATE, 0644)
	}

	f, err := os.CreateTemp("", "scratchfs")
	if err != nil {
		return nil, err
	}

	// The file stays usable through the descriptor; keep the namespace
	// clean.
	os.Remove(f.Name())

	return f, nil
}

func run(mountPoint string) error {
	backing, err := openBackingFile()
	if err != nil {
		return fmt.Errorf("opening backing file: %w", err)
	}
	defer backing.Close()

	server, err := scratchfs.NewScratchFS(timeutil.RealClock(), backing)
	if err != nil {
		return fmt.Errorf("creating file system: %w", err)
	}

	cfg := &fuse.MountConfig{
		FSName:     "scratchfs",
		Subtype:    "scratchfs",
		AllowOther: fAllowOther,
	}

	if fDebug {
		cfg.DebugLogger = log.New(os.Stderr, "fuse: ", 0)
	}

	mfs, err := fuse.Mount(mountPoint, server, cfg)
	if err != nil {
		return fmt.Errorf("mount: %w", err)
	}

	go func() {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGHUP, syscall.SIGINT, syscall.SIGTERM)
		<-sigs

		if err := fuse.Unmount(mfs.Dir()); err != nil {
			log.Printf("Unmount: %v", err)
		}
	}()

	if err := mfs.Join(context.Background()); err != nil {
		return fmt.Errorf("join: %w", err)
	}

	return nil
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
