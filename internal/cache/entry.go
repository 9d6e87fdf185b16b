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

package cache

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-git/go-billy/v5/osfs"
	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/config"
	"github.com/go-git/go-git/v5/plumbing"
	gitcache "github.com/go-git/go-git/v5/plumbing/cache"
	"github.com/go-git/go-git/v5/plumbing/transport"
	"github.com/go-git/go-git/v5/storage/filesystem"
	"github.com/gofrs/flock"
	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/errors"
)

const (
	originName   = "origin"
	lockFileName = ".lock"
	metadataName = "gpm-remote"

	// lockRetryDelay is the poll interval while waiting on an
	// advisory lock.
	lockRetryDelay = 250 * time.Millisecond
)

var mirrorFetchSpecs = []config.RefSpec{
	"+refs/heads/*:refs/heads/*",
	"+refs/tags/*:refs/tags/*",
}

// Entry is the local mirror of a single remote.
type Entry struct {
	// Remote is the canonical URL the entry mirrors.
	Remote string

	// Dir is the on-disk directory holding the bare repository.
	Dir string

	cache   *Cache
	scratch bool
}

// Metadata is the sidecar state stored next to the bare repository.
type Metadata struct {
	Remote        string
	Updated       time.Time
	DefaultBranch string
}

// IsScratch reports whether the entry is a throwaway clone made for a
// URI-bound reference.
func (e *Entry) IsScratch() bool {
	return e.scratch
}

// Exists reports whether the entry has been materialized on disk.
func (e *Entry) Exists() bool {
	fi, err := os.Stat(filepath.Join(e.Dir, "HEAD"))
	return err == nil && !fi.IsDir()
}

// Open opens the bare repository of the entry. The caller must hold at
// least a shared lock for the duration of its reads.
func (e *Entry) Open() (*gogit.Repository, error) {
	const op errors.Op = "cache.Entry.Open"
	dot := osfs.New(e.Dir)
	storage := filesystem.NewStorage(dot, gitcache.NewObjectLRUDefault())
	repo, err := gogit.Open(storage, nil)
	if err != nil {
		return nil, errors.E(op, errors.Repo(e.Remote), errors.Git, err)
	}
	return repo, nil
}

// WithReadLock runs fn while holding the shared advisory lock of the
// entry. Resolution takes this lock so a concurrent update cannot
// mutate the mirror underneath it.
func (e *Entry) WithReadLock(ctx context.Context, fn func() error) error {
	return e.withLock(ctx, false, fn)
}

// WithWriteLock runs fn while holding the exclusive advisory lock of
// the entry.
func (e *Entry) WithWriteLock(ctx context.Context, fn func() error) error {
	return e.withLock(ctx, true, fn)
}

func (e *Entry) withLock(ctx context.Context, exclusive bool, fn func() error) error {
	const op errors.Op = "cache.Entry.withLock"

	if err := os.MkdirAll(e.Dir, 0o700); err != nil {
		return errors.E(op, errors.Repo(e.Remote), errors.IO, err)
	}

	fl := flock.New(filepath.Join(e.Dir, lockFileName))
	lockCtx, cancel := context.WithTimeout(ctx, e.cache.LockTimeout)
	defer cancel()

	var locked bool
	var err error
	if exclusive {
		locked, err = fl.TryLockContext(lockCtx, lockRetryDelay)
	} else {
		locked, err = fl.TryRLockContext(lockCtx, lockRetryDelay)
	}
	if err != nil && lockCtx.Err() == nil {
		return errors.E(op, errors.Repo(e.Remote), errors.IO, err)
	}
	if !locked {
		return errors.E(op, errors.Repo(e.Remote), errors.CacheBusy,
			fmt.Errorf("cache entry %s locked by another process", e.Dir))
	}
	defer fl.Unlock()

	return fn()
}

// Update ensures the entry exists and mirrors all refs of the remote,
// pruning refs deleted upstream. It holds the exclusive lock.
func (e *Entry) Update(ctx context.Context) error {
	const op errors.Op = "cache.Entry.Update"

	return e.WithWriteLock(ctx, func() error {
		repo, err := e.initOrOpen()
		if err != nil {
			return errors.E(op, err)
		}

		var defaultBranch string
		err = e.cache.auth.WithAuth(ctx, e.Remote, func(auth transport.AuthMethod) error {
			switch err := repo.FetchContext(ctx, &gogit.FetchOptions{
				RemoteName: originName,
				RefSpecs:   mirrorFetchSpecs,
				Auth:       auth,
				Prune:      true,
				Force:      true,
				Tags:       gogit.AllTags,
			}); err {
			case nil, gogit.NoErrAlreadyUpToDate, transport.ErrEmptyRemoteRepository:
			default:
				return err
			}

			branch, err := e.remoteHead(ctx, repo, auth)
			if err != nil {
				// The default branch is only advisory; resolution
				// falls back to refs/heads/master without it.
				klog.V(3).Infof("could not determine default branch of %s: %v", e.Remote, err)
				return nil
			}
			defaultBranch = branch
			return nil
		})
		if err != nil {
			return errors.E(op, errors.Repo(e.Remote), err)
		}

		return e.writeMetadata(&Metadata{
			Remote:        e.Remote,
			Updated:       time.Now().UTC(),
			DefaultBranch: defaultBranch,
		})
	})
}

// initOrOpen opens the bare repository, initializing it with an origin
// remote on first use.
func (e *Entry) initOrOpen() (*gogit.Repository, error) {
	const op errors.Op = "cache.Entry.initOrOpen"

	if e.Exists() {
		return e.Open()
	}

	klog.V(2).Infof("initializing mirror of %s in %s", e.Remote, e.Dir)
	repo, err := gogit.PlainInit(e.Dir, true)
	if err != nil {
		return nil, errors.E(op, errors.Repo(e.Remote), errors.Git, err)
	}

	cfg, err := repo.Config()
	if err != nil {
		return nil, errors.E(op, errors.Repo(e.Remote), errors.Git, err)
	}
	cfg.Remotes[originName] = &config.RemoteConfig{
		Name:  originName,
		URLs:  []string{e.Remote},
		Fetch: mirrorFetchSpecs,
	}
	if err := repo.SetConfig(cfg); err != nil {
		return nil, errors.E(op, errors.Repo(e.Remote), errors.Git, err)
	}
	return repo, nil
}

// remoteHead asks the remote which branch HEAD points at. It returns
// the empty string when the remote advertises no symbolic HEAD; listing
// errors are returned to the caller, which only logs them.
func (e *Entry) remoteHead(ctx context.Context, repo *gogit.Repository, auth transport.AuthMethod) (string, error) {
	remote, err := repo.Remote(originName)
	if err != nil {
		return "", err
	}
	refs, err := remote.ListContext(ctx, &gogit.ListOptions{Auth: auth})
	if err != nil {
		return "", err
	}
	for _, ref := range refs {
		if ref.Name() == plumbing.HEAD && ref.Type() == plumbing.SymbolicReference {
			return ref.Target().Short(), nil
		}
	}
	return "", nil
}

// Remove deletes the entry from disk. Used for scratch entries.
func (e *Entry) Remove() error {
	const op errors.Op = "cache.Entry.Remove"
	if err := os.RemoveAll(e.Dir); err != nil {
		return errors.E(op, errors.Repo(e.Remote), errors.IO, err)
	}
	return nil
}

func (e *Entry) metadataPath() string {
	return filepath.Join(e.Dir, metadataName)
}

func (e *Entry) writeMetadata(md *Metadata) error {
	const op errors.Op = "cache.Entry.writeMetadata"

	b := new(strings.Builder)
	fmt.Fprintf(b, "remote %s\n", md.Remote)
	fmt.Fprintf(b, "updated %s\n", md.Updated.Format(time.RFC3339))
	if md.DefaultBranch != "" {
		fmt.Fprintf(b, "default-branch %s\n", md.DefaultBranch)
	}
	if err := os.WriteFile(e.metadataPath(), []byte(b.String()), 0o600); err != nil {
		return errors.E(op, errors.Repo(e.Remote), errors.IO, err)
	}
	return nil
}

// ReadMetadata loads the entry sidecar. A missing file yields empty
// metadata, not an error: entries created by older versions carry none.
func (e *Entry) ReadMetadata() (*Metadata, error) {
	const op errors.Op = "cache.Entry.ReadMetadata"

	md := &Metadata{}
	f, err := os.Open(e.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return md, nil
		}
		return nil, errors.E(op, errors.Repo(e.Remote), errors.IO, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		key, value, found := strings.Cut(scanner.Text(), " ")
		if !found {
			continue
		}
		switch key {
		case "remote":
			md.Remote = value
		case "updated":
			if t, err := time.Parse(time.RFC3339, value); err == nil {
				md.Updated = t
			}
		case "default-branch":
			md.DefaultBranch = value
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.E(op, errors.Repo(e.Remote), errors.IO, err)
	}
	return md, nil
}
