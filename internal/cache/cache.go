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

// Package cache maintains the local mirrors of the remotes listed in
// the sources file. Each remote is mirrored into a bare repository
// under a directory derived from a hash of the remote URL, guarded by
// an advisory file lock so concurrent gpm processes tolerate each
// other.
package cache

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/aerys/gpm/internal/auth"
	"github.com/aerys/gpm/internal/errors"
	"k8s.io/klog/v2"
)

// RootEnv overrides the cache root directory. Defaults to
// ${HOME}/.gpm/cache if unspecified.
const RootEnv = "GPM_CACHE_DIR"

// DefaultLockTimeout bounds the blocking wait on an entry lock before
// the operation fails with CacheBusy.
const DefaultLockTimeout = 60 * time.Second

// DefaultRoot returns the cache root directory.
func DefaultRoot() (string, error) {
	const op errors.Op = "cache.DefaultRoot"
	if dir := os.Getenv(RootEnv); dir != "" {
		return dir, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", errors.E(op, errors.IO, fmt.Errorf("error looking up user home dir: %w", err))
	}
	return filepath.Join(home, ".gpm", "cache"), nil
}

// Cache is the on-disk collection of remote mirrors.
type Cache struct {
	// Root directory holding one subdirectory per remote.
	Root string

	// LockTimeout bounds lock acquisition on each entry.
	LockTimeout time.Duration

	auth *auth.Provider
}

// New returns a Cache rooted at root. Credentials for clone and fetch
// are requested from the given provider.
func New(root string, provider *auth.Provider) *Cache {
	return &Cache{
		Root:        root,
		LockTimeout: DefaultLockTimeout,
		auth:        provider,
	}
}

// entryDir returns the directory name for a remote. This takes the md5
// hash of the remote URL and hex encodes it so the name is stable
// across runs and legal on any filesystem.
func entryDir(remote string) string {
	sum := md5.Sum([]byte(remote))
	return hex.EncodeToString(sum[:])
}

// Entry returns the cache entry for a remote. No disk access happens
// until the entry is opened or updated.
func (c *Cache) Entry(remote string) *Entry {
	return &Entry{
		Remote: remote,
		Dir:    filepath.Join(c.Root, entryDir(remote)),
		cache:  c,
	}
}

// Entries returns the cache entries for the given remotes, preserving
// their order. Earlier remotes win on ambiguous matches, so order is
// meaningful.
func (c *Cache) Entries(remotes []string) []*Entry {
	entries := make([]*Entry, len(remotes))
	for i, r := range remotes {
		entries[i] = c.Entry(r)
	}
	return entries
}

// ScratchEntry creates a throwaway entry under the cache root for a
// remote that is not part of the sources list, such as a URI-bound
// reference. The caller removes it with Entry.Remove when done.
func (c *Cache) ScratchEntry(remote string) (*Entry, error) {
	const op errors.Op = "cache.ScratchEntry"
	if err := os.MkdirAll(c.Root, 0o700); err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	dir, err := os.MkdirTemp(c.Root, "scratch-")
	if err != nil {
		return nil, errors.E(op, errors.IO, err)
	}
	return &Entry{
		Remote:  remote,
		Dir:     dir,
		cache:   c,
		scratch: true,
	}, nil
}

// Update refreshes the mirror of every remote, cloning missing entries
// and fetching all refs with pruning. Fetches are independent: a
// failure is reported per remote and does not abort the pass. The
// returned map holds the error for each remote that failed.
func (c *Cache) Update(ctx context.Context, remotes []string) (map[string]error, error) {
	const op errors.Op = "cache.Update"

	if err := os.MkdirAll(c.Root, 0o700); err != nil {
		return nil, errors.E(op, errors.IO, fmt.Errorf("error creating cache root: %w", err))
	}

	failed := map[string]error{}
	for _, remote := range remotes {
		entry := c.Entry(remote)
		if err := entry.Update(ctx); err != nil {
			klog.Warningf("could not update repository %s: %v", remote, err)
			failed[remote] = err
			continue
		}
		klog.V(2).Infof("updated repository %s", remote)
	}
	return failed, nil
}

// Clean removes the entire cache root.
func (c *Cache) Clean() error {
	const op errors.Op = "cache.Clean"
	if err := os.RemoveAll(c.Root); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}
