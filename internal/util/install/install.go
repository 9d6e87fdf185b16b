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
	"archive/tar"
	"compress/gzip"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/otiai10/copy"
	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/lfs"
	"github.com/aerys/gpm/internal/resolver"
)

// Command extracts a resolved archive into a prefix directory.
type Command struct {
	// Location of the archive to install.
	Location *resolver.ArchiveLocation

	// LFS resolves pointers to object bytes.
	LFS *lfs.Client

	// Prefix is the target directory. Created when missing; existing
	// files are overwritten.
	Prefix string
}

// Run materializes the archive and extracts it. Extraction happens in
// a sibling temporary directory which is renamed or merged into the
// prefix on success, so an archive that fails to extract leaves the
// prefix unchanged. A failure while merging into an existing prefix
// can leave it partly updated.
func (c Command) Run(ctx context.Context) error {
	const op errors.Op = "install.Run"

	archive, cleanup, err := materialize(ctx, c.Location, c.LFS)
	if err != nil {
		return errors.E(op, err)
	}
	defer cleanup()

	prefix, err := filepath.Abs(c.Prefix)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if err := os.MkdirAll(filepath.Dir(prefix), 0o755); err != nil {
		return errors.E(op, errors.IO, err)
	}

	staging, err := os.MkdirTemp(filepath.Dir(prefix), ".gpm-install-")
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer os.RemoveAll(staging)

	if err := extract(archive, staging); err != nil {
		return errors.E(op, err)
	}

	if _, err := os.Stat(prefix); os.IsNotExist(err) {
		if err := os.Rename(staging, prefix); err != nil {
			return errors.E(op, errors.IO, err)
		}
		return nil
	}

	// The prefix already exists: merge the staged tree over it,
	// overwriting existing files.
	if err := copy.Copy(staging, prefix, copy.Options{
		OnSymlink:     func(string) copy.SymlinkAction { return copy.Shallow },
		PermissionControl: copy.PerservePermission,
	}); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// extract unpacks the tar-gzip stream at archive into dir. Entries
// whose normalized path escapes dir fail with UnsafeArchivePath.
// Permissions are preserved.
func extract(archive, dir string) error {
	const op errors.Op = "install.extract"

	f, err := os.Open(archive)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return errors.E(op, errors.IO, fmt.Errorf("error decoding gzip stream: %w", err))
	}
	defer gz.Close()

	extracted := 0
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return errors.E(op, errors.IO, fmt.Errorf("error reading archive: %w", err))
		}

		target, err := safeJoin(dir, hdr.Name)
		if err != nil {
			return errors.E(op, err)
		}
		mode := os.FileMode(hdr.Mode).Perm()

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(target, mode); err != nil {
				return errors.E(op, errors.IO, err)
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.E(op, errors.IO, err)
			}
			out, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
			if err != nil {
				return errors.E(op, errors.IO, err)
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return errors.E(op, errors.IO, err)
			}
			if err := out.Close(); err != nil {
				return errors.E(op, errors.IO, err)
			}
		case tar.TypeSymlink:
			if err := checkLinkTarget(hdr.Name, hdr.Linkname); err != nil {
				return errors.E(op, err)
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return errors.E(op, errors.IO, err)
			}
			if err := os.Symlink(hdr.Linkname, target); err != nil {
				return errors.E(op, errors.IO, err)
			}
		case tar.TypeLink:
			source, err := safeJoin(dir, hdr.Linkname)
			if err != nil {
				return errors.E(op, err)
			}
			if err := os.Link(source, target); err != nil {
				return errors.E(op, errors.IO, err)
			}
		default:
			klog.V(3).Infof("skipping archive entry %s of type %d", hdr.Name, hdr.Typeflag)
			continue
		}
		extracted++
	}

	if extracted == 0 {
		klog.Warning("no files extracted: is the package archive empty?")
	}
	return nil
}

// safeJoin joins name under root, rejecting absolute names and names
// whose normalized form climbs out of root.
func safeJoin(root, name string) (string, error) {
	const op errors.Op = "install.safeJoin"

	if filepath.IsAbs(name) || strings.HasPrefix(name, string(filepath.Separator)) {
		return "", errors.E(op, errors.Unsafe,
			fmt.Errorf("archive entry %q has an absolute path", name))
	}
	clean := filepath.Clean(name)
	if clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", errors.E(op, errors.Unsafe,
			fmt.Errorf("archive entry %q escapes the prefix", name))
	}
	return filepath.Join(root, clean), nil
}

// checkLinkTarget rejects symlink targets that point outside the
// extraction root once evaluated relative to the entry's directory.
func checkLinkTarget(name, linkname string) error {
	const op errors.Op = "install.checkLinkTarget"

	if filepath.IsAbs(linkname) {
		return errors.E(op, errors.Unsafe,
			fmt.Errorf("archive entry %q links to absolute path %q", name, linkname))
	}
	resolved := filepath.Clean(filepath.Join(filepath.Dir(filepath.Clean(name)), linkname))
	if resolved == ".." || strings.HasPrefix(resolved, ".."+string(filepath.Separator)) {
		return errors.E(op, errors.Unsafe,
			fmt.Errorf("archive entry %q links outside the prefix: %q", name, linkname))
	}
	return nil
}
