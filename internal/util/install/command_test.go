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
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	gitcache "github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerys/gpm/internal/auth"
	"github.com/aerys/gpm/internal/cache"
	"github.com/aerys/gpm/internal/lfs"
	"github.com/aerys/gpm/internal/pkg"
	"github.com/aerys/gpm/internal/resolver"
	"github.com/aerys/gpm/internal/sources"
)

// seedLocation commits a hello-world archive into a cache entry and
// resolves it, yielding the location the commands consume.
func seedLocation(t *testing.T, files map[string]string) (*resolver.ArchiveLocation, []byte, *lfs.Client) {
	t.Helper()

	root := filepath.Join(t.TempDir(), "cache")
	provider := auth.NewProvider()
	c := cache.New(root, provider)
	remote := "https://example.com/pkgs.git"

	entry := c.Entry(remote)
	require.NoError(t, os.MkdirAll(entry.Dir, 0o700))
	storage := filesystem.NewStorage(osfs.New(entry.Dir), gitcache.NewObjectLRUDefault())
	repo, err := gogit.Init(storage, memfs.New())
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name, Mode: 0o755, Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())

	require.NoError(t, util.WriteFile(wt.Filesystem,
		"hello-world/hello-world.tar.gz", buf.Bytes(), 0o644))
	_, err = wt.Add("hello-world/hello-world.tar.gz")
	require.NoError(t, err)
	h, err := wt.Commit("add hello-world", &gogit.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(t, err)
	_, err = repo.CreateTag("hello-world/1.0", h, nil)
	require.NoError(t, err)

	ref, err := pkg.ParseReference("hello-world/1.0")
	require.NoError(t, err)

	r := &resolver.Resolver{Cache: c, Sources: &sources.List{Remotes: []string{remote}}}
	loc, err := r.Resolve(context.Background(), ref)
	require.NoError(t, err)

	client := lfs.NewClient(lfs.NewStore(filepath.Join(root, "lfs")), provider)
	return loc, buf.Bytes(), client
}

func TestInstallCommand(t *testing.T) {
	loc, _, client := seedLocation(t, map[string]string{
		"hello-world.sh": "#!/bin/sh\necho hello\n",
	})
	prefix := filepath.Join(t.TempDir(), "x")

	err := Command{Location: loc, LFS: client, Prefix: prefix}.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(prefix, "hello-world.sh"))
	require.NoError(t, err)
	assert.Equal(t, "#!/bin/sh\necho hello\n", string(data))
}

func TestInstallCommandOverwritesExistingFiles(t *testing.T) {
	loc, _, client := seedLocation(t, map[string]string{
		"hello-world.sh": "new content\n",
	})
	prefix := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "hello-world.sh"), []byte("old"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(prefix, "unrelated.txt"), []byte("keep"), 0o644))

	err := Command{Location: loc, LFS: client, Prefix: prefix}.Run(context.Background())
	require.NoError(t, err)

	data, err := os.ReadFile(filepath.Join(prefix, "hello-world.sh"))
	require.NoError(t, err)
	assert.Equal(t, "new content\n", string(data))

	// Files outside the archive are untouched.
	keep, err := os.ReadFile(filepath.Join(prefix, "unrelated.txt"))
	require.NoError(t, err)
	assert.Equal(t, "keep", string(keep))
}

func TestDownloadCommand(t *testing.T) {
	loc, archive, client := seedLocation(t, map[string]string{
		"hello-world.sh": "#!/bin/sh\n",
	})
	dest := t.TempDir()

	cmd := DownloadCommand{
		Location: loc,
		LFS:      client,
		Dest:     dest,
		Filename: "hello-world.tar.gz",
	}
	require.NoError(t, cmd.Run(context.Background()))

	data, err := os.ReadFile(filepath.Join(dest, "hello-world.tar.gz"))
	require.NoError(t, err)
	assert.Equal(t, archive, data)

	// A second run refuses to overwrite without force.
	err = cmd.Run(context.Background())
	require.Error(t, err)

	cmd.Force = true
	require.NoError(t, cmd.Run(context.Background()))
}
