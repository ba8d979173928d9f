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
	"fmt"
	"reflect"
	"strings"
)

// An op may implement this to provide a one-line summary for debug logs.
type shortDescer interface {
	ShortDesc() string
}

// opName derives a human name from an op's type, e.g. "LookUpInode" from
// *fuseops.LookUpInodeOp.
func opName(op interface{}) string {
	name := reflect.TypeOf(op).String()

	const prefix = "*fuseops."
	const suffix = "Op"
	if strings.HasPrefix(name, prefix) && strings.HasSuffix(name, suffix) {
		return name[len(prefix) : len(name)-len(suffix)]
	}

	return name
}

func describeRequest(op interface{}) string {
	if sd, ok := op.(shortDescer); ok {
		return sd.ShortDesc()
	}

	return opName(op)
}

func describeResponse(op interface{}) string {
	if dd, ok := op.(interface{ DebugString() string }); ok {
		return fmt.Sprintf("OK (%s)", dd.DebugString())
	}

	return "OK"
}
