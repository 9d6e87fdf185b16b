// Copyright 2025 The gpm Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package lfs recognizes Git LFS pointers, performs the LFS batch API
// exchange and streams objects over authenticated HTTPS.
package lfs

import (
	"bufio"
	"bytes"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/aerys/gpm/internal/errors"
)

// VersionLine is the mandatory first line of an LFS pointer blob.
const VersionLine = "version https://git-lfs.github.com/spec/v1"

// MaxPointerSize bounds how many bytes of a blob are worth sniffing
// for a pointer. The canonical pointer is well under this.
const MaxPointerSize = 1024

var oidRegexp = regexp.MustCompile(`^[a-f0-9]{64}$`)

// Pointer is a parsed LFS pointer blob.
type Pointer struct {
	// Oid is the sha256 of the object, in hex.
	Oid string

	// Size is the object size in bytes.
	Size int64
}

// ParsePointer decides whether data is an LFS pointer and parses it.
// A blob is a pointer iff its first line equals VersionLine; the
// second return value reports that decision. A pointer-shaped blob
// with missing or malformed oid/size yields an LfsPointerInvalid
// error. Unknown keys are ignored.
func ParsePointer(data []byte) (*Pointer, bool, error) {
	const op errors.Op = "lfs.ParsePointer"

	scanner := bufio.NewScanner(bytes.NewReader(data))
	if !scanner.Scan() || scanner.Text() != VersionLine {
		return nil, false, nil
	}

	ptr := &Pointer{Size: -1}
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		key, value, found := strings.Cut(line, " ")
		if !found {
			return nil, true, errors.E(op, errors.LFSPointerInvalid,
				fmt.Errorf("malformed pointer line %q", line))
		}
		switch key {
		case "oid":
			oid, ok := strings.CutPrefix(value, "sha256:")
			if !ok || !oidRegexp.MatchString(oid) {
				return nil, true, errors.E(op, errors.LFSPointerInvalid,
					fmt.Errorf("malformed oid %q", value))
			}
			ptr.Oid = oid
		case "size":
			size, err := strconv.ParseInt(value, 10, 64)
			if err != nil || size < 0 {
				return nil, true, errors.E(op, errors.LFSPointerInvalid,
					fmt.Errorf("malformed size %q", value))
			}
			ptr.Size = size
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, true, errors.E(op, errors.LFSPointerInvalid, err)
	}

	if ptr.Oid == "" || ptr.Size < 0 {
		return nil, true, errors.E(op, errors.LFSPointerInvalid,
			fmt.Errorf("pointer is missing oid or size"))
	}
	return ptr, true, nil
}
