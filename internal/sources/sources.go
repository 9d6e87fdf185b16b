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

// Package sources loads the user's ordered list of package remotes.
package sources

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/aerys/gpm/internal/errors"
)

// List is the ordered list of remote URLs gpm consults during
// resolution. Ordering is meaningful: earlier remotes win on ambiguous
// matches.
type List struct {
	// Path the list was loaded from.
	Path string

	// Remotes in file order.
	Remotes []string
}

// DefaultPath returns ${HOME}/.gpm/sources.list.
func DefaultPath() (string, error) {
	const op errors.Op = "sources.DefaultPath"
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.E(op, errors.IO, fmt.Errorf("error looking up user home dir: %w", err))
	}
	return filepath.Join(home, ".gpm", "sources.list"), nil
}

// Load reads the sources list at path. Blank lines and lines starting
// with '#' are ignored. A missing file surfaces as a Sources error so
// callers can distinguish it from an empty list.
func Load(path string) (*List, error) {
	const op errors.Op = "sources.Load"

	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.E(op, errors.Sources,
				fmt.Errorf("no sources list at %s", path))
		}
		return nil, errors.E(op, errors.IO, err)
	}
	defer f.Close()

	l := &List{Path: path}
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		l.Remotes = append(l.Remotes, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return l, nil
}
