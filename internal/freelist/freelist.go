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

// Package freelist recycles allocations that are expensive to make, like
// the megabyte-sized message buffers.
package freelist

// A Freelist is a simple LIFO of recycled objects. It performs no
// synchronization of its own; the caller must hold a lock across Get and
// Put.
type Freelist struct {
	// New allocates an object when the list is empty.
	New func() interface{}

	list []interface{}
}

// Get returns a recycled object, or a fresh one from New.
func (fl *Freelist) Get() interface{} {
	l := len(fl.list)
	if l == 0 {
		return fl.New()
	}

	x := fl.list[l-1]
	fl.list = fl.list[:l-1]

	return x
}

// Put adds x to the list for later reuse.
func (fl *Freelist) Put(x interface{}) {
	fl.list = append(fl.list, x)
}
