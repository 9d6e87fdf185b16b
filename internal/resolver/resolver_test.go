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

package resolver

import (
	"archive/tar"
	"bytes"
	"compress/gzip"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/osfs"
	"github.com/go-git/go-billy/v5/util"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	gitcache "github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aerys/gpm/internal/auth"
	"github.com/aerys/gpm/internal/cache"
	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/lfs"
	"github.com/aerys/gpm/internal/pkg"
	"github.com/aerys/gpm/internal/sources"
)

// fixtureRepo builds git history directly inside a cache entry, the
// state a prior `gpm update` would have left behind.
type fixtureRepo struct {
	t    *testing.T
	repo *gogit.Repository
	wt   *gogit.Worktree
}

func seedEntry(t *testing.T, c *cache.Cache, remote string) *fixtureRepo {
	t.Helper()

	entry := c.Entry(remote)
	require.NoError(t, os.MkdirAll(entry.Dir, 0o700))

	dot := osfs.New(entry.Dir)
	storage := filesystem.NewStorage(dot, gitcache.NewObjectLRUDefault())
	repo, err := gogit.Init(storage, memfs.New())
	require.NoError(t, err)
	wt, err := repo.Worktree()
	require.NoError(t, err)

	return &fixtureRepo{t: t, repo: repo, wt: wt}
}

func (f *fixtureRepo) commitFile(path string, data []byte, msg string) plumbing.Hash {
	f.t.Helper()

	require.NoError(f.t, util.WriteFile(f.wt.Filesystem, path, data, 0o644))
	_, err := f.wt.Add(path)
	require.NoError(f.t, err)

	h, err := f.wt.Commit(msg, &gogit.CommitOptions{
		Author: &object.Signature{Name: "tester", Email: "tester@example.com", When: time.Now()},
	})
	require.NoError(f.t, err)
	return h
}

func (f *fixtureRepo) tag(name string, h plumbing.Hash) {
	f.t.Helper()
	_, err := f.repo.CreateTag(name, h, nil)
	require.NoError(f.t, err)
}

// tarGz builds a small tar.gz archive out of files.
func tarGz(t *testing.T, files map[string]string) []byte {
	t.Helper()

	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	tw := tar.NewWriter(gz)
	for name, content := range files {
		require.NoError(t, tw.WriteHeader(&tar.Header{
			Name: name,
			Mode: 0o755,
			Size: int64(len(content)),
		}))
		_, err := tw.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, tw.Close())
	require.NoError(t, gz.Close())
	return buf.Bytes()
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	return cache.New(filepath.Join(t.TempDir(), "cache"), auth.NewProvider())
}

func sourcesList(remotes ...string) *sources.List {
	return &sources.List{Path: "sources.list", Remotes: remotes}
}

func mustParse(t *testing.T, s string) *pkg.PackageReference {
	t.Helper()
	ref, err := pkg.ParseReference(s)
	require.NoError(t, err)
	return ref
}

func TestResolveShorthandTag(t *testing.T) {
	c := newTestCache(t)
	remote := "https://example.com/pkgs.git"
	f := seedEntry(t, c, remote)

	archive := tarGz(t, map[string]string{"hello-world.sh": "#!/bin/sh\necho hello\n"})
	h := f.commitFile("hello-world/hello-world.tar.gz", archive, "add hello-world 1.0")
	f.tag("hello-world/1.0", h)

	r := &Resolver{Cache: c, Sources: sourcesList(remote)}
	loc, err := r.Resolve(context.Background(), mustParse(t, "hello-world/1.0"))
	require.NoError(t, err)

	assert.Equal(t, remote, loc.Remote)
	assert.Equal(t, h, loc.Commit)
	assert.Equal(t, "refs/tags/hello-world/1.0", loc.Refspec)
	assert.Equal(t, "hello-world/hello-world.tar.gz", loc.Path)
	assert.False(t, loc.IsLFS)

	var buf bytes.Buffer
	require.NoError(t, loc.ReadArchive(context.Background(), &buf))
	assert.Equal(t, archive, buf.Bytes())
}

func TestResolveFirstRemoteWins(t *testing.T) {
	c := newTestCache(t)
	first := "https://example.com/first.git"
	second := "https://example.com/second.git"
	archive := tarGz(t, map[string]string{"pkg.sh": "first\n"})

	for _, remote := range []string{first, second} {
		f := seedEntry(t, c, remote)
		h := f.commitFile("pkg/pkg.tar.gz", archive, "add pkg")
		f.tag("pkg/1.0.0", h)
	}

	r := &Resolver{Cache: c, Sources: sourcesList(first, second)}
	loc, err := r.Resolve(context.Background(), mustParse(t, "pkg/1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, first, loc.Remote)
}

func TestResolveSemverSelectsHighest(t *testing.T) {
	c := newTestCache(t)
	remote := "https://example.com/pkgs.git"
	f := seedEntry(t, c, remote)

	var want plumbing.Hash
	for _, v := range []string{"1.2.0", "1.2.9", "1.3.0"} {
		archive := tarGz(t, map[string]string{"app.sh": "version " + v + "\n"})
		h := f.commitFile("app/app.tar.gz", archive, "release "+v)
		f.tag("app/"+v, h)
		if v == "1.2.9" {
			want = h
		}
	}

	r := &Resolver{Cache: c, Sources: sourcesList(remote)}
	loc, err := r.Resolve(context.Background(), mustParse(t, "app^1.2.0"))
	require.NoError(t, err)
	assert.Equal(t, want, loc.Commit)
	assert.Equal(t, "refs/tags/app/1.2.9", loc.Refspec)
}

func TestResolveBareNameUsesDefaultBranch(t *testing.T) {
	c := newTestCache(t)
	remote := "https://example.com/pkgs.git"
	f := seedEntry(t, c, remote)

	archive := tarGz(t, map[string]string{"hello-world.sh": "hi\n"})
	h := f.commitFile("hello-world/hello-world.tar.gz", archive, "tip of master")

	r := &Resolver{Cache: c, Sources: sourcesList(remote)}
	loc, err := r.Resolve(context.Background(), mustParse(t, "hello-world"))
	require.NoError(t, err)
	assert.Equal(t, h, loc.Commit)
	assert.Equal(t, "refs/heads/master", loc.Refspec)
}

func TestResolveTgzFallback(t *testing.T) {
	c := newTestCache(t)
	remote := "https://example.com/pkgs.git"
	f := seedEntry(t, c, remote)

	archive := tarGz(t, map[string]string{"app.sh": "tgz\n"})
	h := f.commitFile("app/app.tgz", archive, "tgz only")
	f.tag("app/1.0.0", h)

	r := &Resolver{Cache: c, Sources: sourcesList(remote)}
	loc, err := r.Resolve(context.Background(), mustParse(t, "app/1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, "app/app.tgz", loc.Path)
}

func TestResolveLFSPointer(t *testing.T) {
	c := newTestCache(t)
	remote := "https://example.com/pkgs.git"
	f := seedEntry(t, c, remote)

	oid := strings.Repeat("ab", 32)
	pointer := lfs.VersionLine + "\noid sha256:" + oid + "\nsize 1048576\n"
	h := f.commitFile("app/app.tar.gz", []byte(pointer), "lfs pointer")
	f.tag("app/2.0", h)

	r := &Resolver{Cache: c, Sources: sourcesList(remote)}
	loc, err := r.Resolve(context.Background(), mustParse(t, "app/2.0"))
	require.NoError(t, err)
	require.True(t, loc.IsLFS)
	require.NotNil(t, loc.Pointer)
	assert.Equal(t, oid, loc.Pointer.Oid)
	assert.Equal(t, int64(1048576), loc.Pointer.Size)
}

func TestResolveMissingPackage(t *testing.T) {
	c := newTestCache(t)
	remote := "https://example.com/pkgs.git"
	f := seedEntry(t, c, remote)
	f.commitFile("other/other.tar.gz", tarGz(t, map[string]string{"x": "y"}), "unrelated")

	r := &Resolver{Cache: c, Sources: sourcesList(remote)}
	_, err := r.Resolve(context.Background(), mustParse(t, "missing/9.9.9"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.PackageNotFound))
}

func TestResolveEmptyCacheIsAMiss(t *testing.T) {
	c := newTestCache(t)
	r := &Resolver{Cache: c, Sources: sourcesList("https://example.com/never-updated.git")}

	_, err := r.Resolve(context.Background(), mustParse(t, "foo/1.0"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.PackageNotFound))
}

func TestResolveNoSources(t *testing.T) {
	c := newTestCache(t)
	r := &Resolver{Cache: c}

	_, err := r.Resolve(context.Background(), mustParse(t, "foo/1.0"))
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.Sources))
}

func TestResolveURIBoundIgnoresSources(t *testing.T) {
	c := newTestCache(t)
	bound := "https://example.com/bound.git"
	listed := "https://example.com/listed.git"

	fb := seedEntry(t, c, bound)
	h := fb.commitFile("app/app.tar.gz", tarGz(t, map[string]string{"app.sh": "bound\n"}), "bound")
	fb.tag("app/1.0.0", h)

	fl := seedEntry(t, c, listed)
	h2 := fl.commitFile("app/app.tar.gz", tarGz(t, map[string]string{"app.sh": "listed\n"}), "listed")
	fl.tag("app/1.0.0", h2)

	r := &Resolver{Cache: c, Sources: sourcesList(listed)}
	loc, err := r.Resolve(context.Background(), mustParse(t, bound+"#app/1.0.0"))
	require.NoError(t, err)
	assert.Equal(t, bound, loc.Remote)
	assert.Equal(t, h, loc.Commit)
}

func TestResolveRefspecPriority(t *testing.T) {
	c := newTestCache(t)
	remote := "https://example.com/pkgs.git"
	f := seedEntry(t, c, remote)

	archive := tarGz(t, map[string]string{"app.sh": "x\n"})
	first := f.commitFile("app/app.tar.gz", archive, "first")
	second := f.commitFile("app/other.txt", []byte("more"), "second")

	// A bare tag `v1` and a prefixed tag `app/v1` on different
	// commits: the bare tag has priority.
	f.tag("v1", first)
	f.tag("app/v1", second)

	r := &Resolver{Cache: c, Sources: sourcesList(remote)}
	loc, err := r.Resolve(context.Background(), mustParse(t, "app@v1"))
	require.NoError(t, err)
	assert.Equal(t, first, loc.Commit)
	assert.Equal(t, "refs/tags/v1", loc.Refspec)
}
