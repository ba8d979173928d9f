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

// Package buffer provides storage for messages exchanged with the kernel,
// with type-punning accessors over the raw bytes.
package buffer

import "unsafe"

const pageSize = 4096

// MaxWriteSize is the largest write request body we are willing to accept,
// advertised to the kernel during init.
const MaxWriteSize = 1 << 20

// MaxReadSize is the size of the arena into which requests are received:
// the maximum write body plus a page of headroom for the headers. This is
// comfortably above the 4 KiB minimum the kernel requires before init.
const MaxReadSize = MaxWriteSize + pageSize

// memclr zeroes the n bytes starting at p.
func memclr(p unsafe.Pointer, n uintptr) {
	b := unsafe.Slice((*byte)(p), n)
	for i := range b {
		b[i] = 0
	}
}
