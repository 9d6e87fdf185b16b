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

package lfs

import (
	"os"
	"path/filepath"

	"github.com/aerys/gpm/internal/errors"
)

// Store is the content-addressed object store under the cache root.
// Objects are immutable once written; partial downloads live in a tmp
// subdirectory until verified.
type Store struct {
	// Root of the store, conventionally ${cache}/lfs.
	Root string
}

// NewStore returns a Store rooted at root.
func NewStore(root string) *Store {
	return &Store{Root: root}
}

// ObjectPath returns the final path of an object, fanned out on the
// first two oid bytes the way git-lfs lays out its own store.
func (s *Store) ObjectPath(oid string) string {
	return filepath.Join(s.Root, "objects", oid[0:2], oid[2:4], oid)
}

// tmpPath returns the in-flight download path for an object.
func (s *Store) tmpPath(oid string) string {
	return filepath.Join(s.Root, "tmp", oid)
}

// Has reports whether the object is already present.
func (s *Store) Has(oid string) bool {
	fi, err := os.Stat(s.ObjectPath(oid))
	return err == nil && fi.Mode().IsRegular()
}

// commit atomically moves a verified temp file to its final path.
func (s *Store) commit(oid string) error {
	const op errors.Op = "lfs.Store.commit"
	final := s.ObjectPath(oid)
	if err := os.MkdirAll(filepath.Dir(final), 0o700); err != nil {
		return errors.E(op, errors.IO, err)
	}
	if err := os.Rename(s.tmpPath(oid), final); err != nil {
		return errors.E(op, errors.IO, err)
	}
	return nil
}

// discard removes the in-flight file for an object, if any.
func (s *Store) discard(oid string) {
	os.Remove(s.tmpPath(oid))
}
