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
	"bytes"
	"compress/gzip"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerys/gpm/internal/errors"
)

type entry struct {
	name     string
	content  string
	mode     int64
	typeflag byte
	linkname string
}

func writeArchive(t *testing.T, entries []entry) string {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for _, e := range entries {
		mode := e.mode
		if mode == 0 {
			mode = 0o644
		}
		typeflag := e.typeflag
		if typeflag == 0 {
			typeflag = tar.TypeReg
		}
		hdr := &tar.Header{
			Name:     e.name,
			Mode:     mode,
			Typeflag: typeflag,
			Linkname: e.linkname,
		}
		if typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.content))
		}
		require.NoError(t, tw.WriteHeader(hdr))
		if typeflag == tar.TypeReg {
			_, err := tw.Write([]byte(e.content))
			require.NoError(t, err)
		}
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	path := filepath.Join(t.TempDir(), "pkg.tar.gz")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o600))
	return path
}

func TestExtract(t *testing.T) {
	archive := writeArchive(t, []entry{
		{name: "bin/", typeflag: tar.TypeDir, mode: 0o755},
		{name: "bin/hello.sh", content: "#!/bin/sh\necho hello\n", mode: 0o755},
		{name: "share/doc.txt", content: "docs\n"},
		{name: "share/link.txt", typeflag: tar.TypeSymlink, linkname: "doc.txt"},
	})
	dir := t.TempDir()

	require.NoError(t, extract(archive, dir))

	data, err := os.ReadFile(filepath.Join(dir, "bin", "hello.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hello\n", string(data))

	fi, err := os.Stat(filepath.Join(dir, "bin", "hello.sh"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), fi.Mode().Perm())

	target, err := os.Readlink(filepath.Join(dir, "share", "link.txt"))
	require.NoError(t, err)
	assert.Equal(t, "doc.txt", target)
}

func TestExtractRejectsUnsafeEntries(t *testing.T) {
	testCases := map[string][]entry{
		"parent traversal": {
			{name: "../evil.sh", content: "evil"},
		},
		"hidden traversal": {
			{name: "ok/../../evil.sh", content: "evil"},
		},
		"absolute path": {
			{name: "/etc/evil", content: "evil"},
		},
		"absolute symlink": {
			{name: "link", typeflag: tar.TypeSymlink, linkname: "/etc/passwd"},
		},
		"escaping symlink": {
			{name: "sub/link", typeflag: tar.TypeSymlink, linkname: "../../outside"},
		},
		"escaping hardlink": {
			{name: "link", typeflag: tar.TypeLink, linkname: "../outside"},
		},
	}

	for tn, tc := range testCases {
		t.Run(tn, func(t *testing.T) {
			archive := writeArchive(t, tc)
			dir := t.TempDir()

			err := extract(archive, dir)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errors.Unsafe))
		})
	}
}

func TestSafeJoin(t *testing.T) {
	got, err := safeJoin("/prefix", "a/b/c.txt")
	require.NoError(t, err)
	assert.Equal(t, "/prefix/a/b/c.txt", got)

	// Interior dot-dot that stays inside is fine.
	got, err = safeJoin("/prefix", "a/../b.txt")
	require.NoError(t, err)
	assert.Equal(t, "/prefix/b.txt", got)

	_, err = safeJoin("/prefix", "../b.txt")
	require.Error(t, err)
}
