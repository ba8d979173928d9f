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
	"flag"
	"log"
	"os"
	"sync"
)

var fEnableDebug = flag.Bool(
	"fuse.debug",
	false,
	"Write FUSE debugging messages to stderr.")

var gDebugLogger *log.Logger
var gDebugLoggerOnce sync.Once

// getDebugLogger returns the flag-gated debug logger used when the mount
// config doesn't supply one, or nil when -fuse.debug is not set so that
// callers can skip formatting entirely.
func getDebugLogger() *log.Logger {
	gDebugLoggerOnce.Do(func() {
		if !flag.Parsed() || !*fEnableDebug {
			return
		}

		const flags = log.Ldate | log.Ltime | log.Lmicroseconds
		gDebugLogger = log.New(os.Stderr, "fuse: ", flags)
	})

	return gDebugLogger
}
