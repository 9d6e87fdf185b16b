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

package install

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/lfs"
	"github.com/aerys/gpm/internal/resolver"
)

// DownloadCommand writes a resolved archive verbatim into a target
// directory.
type DownloadCommand struct {
	// Location of the archive to download.
	Location *resolver.ArchiveLocation

	// LFS resolves pointers to object bytes.
	LFS *lfs.Client

	// Dest is the target directory.
	Dest string

	// Filename the archive is written as, e.g. name.tar.gz.
	Filename string

	// Force overwrites an existing file.
	Force bool
}

// Run materializes the archive and copies it to ${Dest}/${Filename}.
func (c DownloadCommand) Run(ctx context.Context) error {
	const op errors.Op = "install.DownloadCommand.Run"

	target := filepath.Join(c.Dest, c.Filename)
	if _, err := os.Stat(target); err == nil && !c.Force {
		return errors.E(op, errors.IO,
			fmt.Errorf("%s already exists, use --force to overwrite", target))
	}

	archive, cleanup, err := materialize(ctx, c.Location, c.LFS)
	if err != nil {
		return errors.E(op, err)
	}
	defer cleanup()

	if err := os.MkdirAll(c.Dest, 0o755); err != nil {
		return errors.E(op, errors.IO, err)
	}
	if err := copyFile(archive, target); err != nil {
		return errors.E(op, err)
	}
	return nil
}
