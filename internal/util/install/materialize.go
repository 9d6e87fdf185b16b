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

// Package install materializes a resolved archive: either extracted
// into a prefix directory or copied verbatim to a destination.
package install

import (
	"context"
	"io"
	"os"

	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/lfs"
	"github.com/aerys/gpm/internal/resolver"
)

// materialize produces the archive bytes for a location as a local
// file, resolving the LFS pointer through the client when needed. The
// returned cleanup removes any scratch file.
func materialize(ctx context.Context, loc *resolver.ArchiveLocation, client *lfs.Client) (string, func(), error) {
	const op errors.Op = "install.materialize"

	if loc.IsLFS {
		klog.V(2).Infof("archive %s is an LFS pointer (oid %s)", loc.Path, loc.Pointer.Oid)
		path, err := client.Fetch(ctx, loc.Remote, loc.Refspec, loc.Pointer)
		if err != nil {
			return "", nil, errors.E(op, err)
		}
		// Objects in the store are immutable; no cleanup.
		return path, func() {}, nil
	}

	f, err := os.CreateTemp("", "gpm-archive-*.tar.gz")
	if err != nil {
		return "", nil, errors.E(op, errors.IO, err)
	}
	cleanup := func() { os.Remove(f.Name()) }

	if err := loc.ReadArchive(ctx, f); err != nil {
		f.Close()
		cleanup()
		return "", nil, errors.E(op, err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, errors.E(op, errors.IO, err)
	}
	return f.Name(), cleanup, nil
}

// copyFile copies src to dst, truncating dst.
func copyFile(src, dst string) error {
	const op errors.Op = "install.copyFile"

	in, err := os.Open(src)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return errors.E(op, errors.IO, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return errors.E(op, errors.IO, err)
	}
	if err := out.Close(); err != nil {
		os.Remove(dst)
		return errors.E(op, errors.IO, err)
	}
	return nil
}
