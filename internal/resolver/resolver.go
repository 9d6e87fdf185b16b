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

// Package resolver locates a package archive by walking candidate
// remotes, candidate revisions and candidate archive paths, first
// match wins.
package resolver

import (
	"context"
	"fmt"
	"io"

	gogit "github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/object"
	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/cache"
	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/lfs"
	"github.com/aerys/gpm/internal/pkg"
	"github.com/aerys/gpm/internal/sources"
)

// Resolver resolves package references against the source cache.
type Resolver struct {
	Cache *cache.Cache

	// Sources is the ordered remote list. May be nil when every
	// reference is URI-bound.
	Sources *sources.List
}

// ArchiveLocation is the result of resolution: enough to re-open the
// archive blob at a pinned commit.
type ArchiveLocation struct {
	// Entry is the cache entry the archive was found in.
	Entry *cache.Entry

	// Remote the entry mirrors.
	Remote string

	// Commit the archive was resolved at.
	Commit plumbing.Hash

	// Refspec is the resolved refspec when the revision came from a
	// ref, empty when the revision was a raw commit id. Forwarded as
	// the LFS ref hint.
	Refspec string

	// Path of the archive inside the tree.
	Path string

	// Blob is the archive blob.
	Blob plumbing.Hash

	// Size of the blob in bytes.
	Size int64

	// IsLFS reports that the blob is an LFS pointer rather than the
	// archive bytes.
	IsLFS bool

	// Pointer is the parsed pointer when IsLFS is set.
	Pointer *lfs.Pointer
}

// Close releases resources tied to the location. Scratch clones made
// for URI-bound references are removed from disk.
func (l *ArchiveLocation) Close() error {
	if l.Entry != nil && l.Entry.IsScratch() {
		return l.Entry.Remove()
	}
	return nil
}

// ReadArchive streams the raw archive blob to w. For LFS locations
// this yields the pointer text, not the object: callers resolve the
// pointer through the LFS client instead.
func (l *ArchiveLocation) ReadArchive(ctx context.Context, w io.Writer) error {
	const op errors.Op = "resolver.ArchiveLocation.ReadArchive"

	return l.Entry.WithReadLock(ctx, func() error {
		repo, err := l.Entry.Open()
		if err != nil {
			return errors.E(op, err)
		}
		blob, err := repo.BlobObject(l.Blob)
		if err != nil {
			return errors.E(op, errors.Repo(l.Remote), errors.Git, err)
		}
		r, err := blob.Reader()
		if err != nil {
			return errors.E(op, errors.Repo(l.Remote), errors.Git, err)
		}
		defer r.Close()
		if _, err := io.Copy(w, r); err != nil {
			return errors.E(op, errors.IO, err)
		}
		return nil
	})
}

// Resolve walks the candidate remotes for ref and returns the first
// archive found. Per-remote failures are demoted to misses unless the
// reference is URI-bound to that remote.
func (r *Resolver) Resolve(ctx context.Context, ref *pkg.PackageReference) (*ArchiveLocation, error) {
	const op errors.Op = "resolver.Resolve"

	if ref.Remote != "" {
		return r.resolveBound(ctx, ref)
	}

	if r.Sources == nil || len(r.Sources.Remotes) == 0 {
		return nil, errors.E(op, errors.Sources,
			fmt.Errorf("no sources to resolve %s against", ref))
	}

	var found *ArchiveLocation
	tried := make([]string, 0, len(r.Sources.Remotes))
	for _, remote := range r.Sources.Remotes {
		entry := r.Cache.Entry(remote)
		tried = append(tried, remote)

		if !entry.Exists() {
			klog.V(2).Infof("no cache entry for %s, skipping (did you run gpm update?)", remote)
			continue
		}

		loc, err := r.resolveAt(ctx, entry, ref)
		if err != nil {
			klog.Warningf("skipping repository %s: %v", remote, err)
			continue
		}
		if loc == nil {
			continue
		}

		if found == nil {
			found = loc
			continue
		}
		// Earlier remotes win; a later match only makes the
		// reference ambiguous.
		klog.Warningf("ambiguous-match: %s also matches in %s, using %s",
			ref, remote, found.Remote)
		break
	}
	if found == nil {
		return nil, errors.E(op, errors.PackageNotFound,
			fmt.Errorf("package %s not found in any of: %v", ref, tried))
	}
	return found, nil
}

// resolveBound resolves a URI-bound reference against its single
// remote, cloning into a scratch entry when the remote has no cache
// entry. Failures are fatal: there is no other remote to fall back to.
func (r *Resolver) resolveBound(ctx context.Context, ref *pkg.PackageReference) (*ArchiveLocation, error) {
	const op errors.Op = "resolver.resolveBound"

	entry := r.Cache.Entry(ref.Remote)
	if !entry.Exists() {
		var err error
		entry, err = r.Cache.ScratchEntry(ref.Remote)
		if err != nil {
			return nil, errors.E(op, err)
		}
		if err := entry.Update(ctx); err != nil {
			entry.Remove()
			return nil, errors.E(op, errors.Repo(ref.Remote), err)
		}
	}

	loc, err := r.resolveAt(ctx, entry, ref)
	if err == nil && loc == nil {
		err = errors.E(op, errors.Repo(ref.Remote), errors.PackageNotFound,
			fmt.Errorf("package %s not found in %s", ref, ref.Remote))
	}
	if err != nil {
		if entry.IsScratch() {
			entry.Remove()
		}
		return nil, err
	}
	return loc, nil
}

// resolveAt looks for the archive of ref in a single cache entry. A
// nil location with nil error is a miss: the revision or the archive
// is not there.
func (r *Resolver) resolveAt(ctx context.Context, entry *cache.Entry, ref *pkg.PackageReference) (*ArchiveLocation, error) {
	const op errors.Op = "resolver.resolveAt"

	var loc *ArchiveLocation
	err := entry.WithReadLock(ctx, func() error {
		repo, err := entry.Open()
		if err != nil {
			return err
		}

		commit, refspec, ok, err := r.resolveRevision(repo, entry, ref)
		if err != nil {
			return err
		}
		if !ok {
			klog.V(3).Infof("revision of %s not found in %s", ref, entry.Remote)
			return nil
		}

		loc, err = r.findArchive(repo, entry, ref, commit, refspec)
		return err
	})
	if err != nil {
		return nil, errors.E(op, errors.Repo(entry.Remote), err)
	}
	return loc, nil
}

// resolveRevision determines the target commit for the reference
// constraint inside repo. ok is false when nothing resolves.
func (r *Resolver) resolveRevision(repo *gogit.Repository, entry *cache.Entry, ref *pkg.PackageReference) (plumbing.Hash, string, bool, error) {
	switch ref.Kind() {
	case pkg.ExactRefspec:
		return resolveRefspec(repo, ref.Name, ref.Refspec())
	case pkg.SemverRequirement:
		return resolveRequirement(repo, ref)
	case pkg.LatestDefaultBranch:
		return resolveDefaultBranch(repo, entry)
	}
	return plumbing.ZeroHash, "", false, errors.E(errors.Internal,
		fmt.Errorf("unknown constraint kind %d", ref.Kind()))
}

// resolveRefspec probes the revision in priority order: raw commit id,
// literal ref, refs/tags/r, refs/tags/${name}/r, refs/heads/r.
func resolveRefspec(repo *gogit.Repository, name, refspec string) (plumbing.Hash, string, bool, error) {
	if plumbing.IsHash(refspec) {
		h := plumbing.NewHash(refspec)
		if c, ok := peelToCommit(repo, h); ok {
			return c, "", true, nil
		}
	}

	var probes []string
	if refspec == "HEAD" || plumbing.ReferenceName(refspec).Validate() == nil {
		probes = append(probes, refspec)
	}
	probes = append(probes,
		"refs/tags/"+refspec,
		"refs/tags/"+name+"/"+refspec,
		"refs/heads/"+refspec,
	)

	for _, p := range probes {
		resolved, err := repo.Reference(plumbing.ReferenceName(p), true)
		if err != nil {
			continue
		}
		if c, ok := peelToCommit(repo, resolved.Hash()); ok {
			return c, p, true, nil
		}
	}
	return plumbing.ZeroHash, "", false, nil
}

// resolveRequirement enumerates the ${name}/<version> tags of repo and
// selects the highest one satisfying the requirement.
func resolveRequirement(repo *gogit.Repository, ref *pkg.PackageReference) (plumbing.Hash, string, bool, error) {
	iter, err := repo.Tags()
	if err != nil {
		return plumbing.ZeroHash, "", false, errors.E(errors.Git, err)
	}
	var tags []string
	err = iter.ForEach(func(t *plumbing.Reference) error {
		tags = append(tags, t.Name().Short())
		return nil
	})
	if err != nil {
		return plumbing.ZeroHash, "", false, errors.E(errors.Git, err)
	}

	tag, ok := pkg.MatchTag(ref.Requirement(), ref.Name, tags)
	if !ok {
		return plumbing.ZeroHash, "", false, nil
	}
	refspec := "refs/tags/" + tag
	resolved, err := repo.Reference(plumbing.ReferenceName(refspec), true)
	if err != nil {
		return plumbing.ZeroHash, "", false, errors.E(errors.Git, err)
	}
	if c, ok := peelToCommit(repo, resolved.Hash()); ok {
		return c, refspec, true, nil
	}
	return plumbing.ZeroHash, "", false, nil
}

// resolveDefaultBranch resolves refs/heads/master, falling back to the
// default branch recorded at update time, then to HEAD.
func resolveDefaultBranch(repo *gogit.Repository, entry *cache.Entry) (plumbing.Hash, string, bool, error) {
	probes := []string{"refs/heads/master"}
	if md, err := entry.ReadMetadata(); err == nil && md.DefaultBranch != "" {
		probes = append(probes, "refs/heads/"+md.DefaultBranch)
	}
	for _, p := range probes {
		resolved, err := repo.Reference(plumbing.ReferenceName(p), true)
		if err != nil {
			continue
		}
		if c, ok := peelToCommit(repo, resolved.Hash()); ok {
			return c, p, true, nil
		}
	}
	if resolved, err := repo.Reference(plumbing.HEAD, true); err == nil {
		if c, ok := peelToCommit(repo, resolved.Hash()); ok {
			return c, "HEAD", true, nil
		}
	}
	return plumbing.ZeroHash, "", false, nil
}

// peelToCommit follows annotated tags down to a commit.
func peelToCommit(repo *gogit.Repository, h plumbing.Hash) (plumbing.Hash, bool) {
	if _, err := repo.CommitObject(h); err == nil {
		return h, true
	}
	if tag, err := repo.TagObject(h); err == nil {
		if c, err := tag.Commit(); err == nil {
			return c.Hash, true
		}
	}
	return plumbing.ZeroHash, false
}

// findArchive looks up the archive blob of ref in the tree of commit,
// probing .tar.gz then .tgz, and sniffs it for an LFS pointer.
func (r *Resolver) findArchive(repo *gogit.Repository, entry *cache.Entry, ref *pkg.PackageReference, commit plumbing.Hash, refspec string) (*ArchiveLocation, error) {
	c, err := repo.CommitObject(commit)
	if err != nil {
		return nil, errors.E(errors.Git, err)
	}
	tree, err := c.Tree()
	if err != nil {
		return nil, errors.E(errors.Git, err)
	}

	for _, path := range ref.ArchivePaths() {
		file, err := tree.File(path)
		if err == object.ErrFileNotFound {
			continue
		}
		if err != nil {
			return nil, errors.E(errors.Git, err)
		}

		loc := &ArchiveLocation{
			Entry:   entry,
			Remote:  entry.Remote,
			Commit:  commit,
			Refspec: refspec,
			Path:    path,
			Blob:    file.Blob.Hash,
			Size:    file.Size,
		}

		if file.Size <= lfs.MaxPointerSize {
			contents, err := file.Contents()
			if err != nil {
				return nil, errors.E(errors.Git, err)
			}
			ptr, isPointer, err := lfs.ParsePointer([]byte(contents))
			if err != nil {
				return nil, err
			}
			if isPointer {
				loc.IsLFS = true
				loc.Pointer = ptr
			}
		}

		klog.V(2).Infof("found archive %s at %s in %s", path, commit, entry.Remote)
		return loc, nil
	}

	klog.V(3).Infof("no archive for %s at %s in %s", ref.Name, commit, entry.Remote)
	return nil, nil
}
