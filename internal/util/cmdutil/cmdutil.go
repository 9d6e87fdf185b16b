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

// Package cmdutil wires the long-lived subsystems a command needs.
package cmdutil

import (
	"context"
	"path/filepath"

	"github.com/aerys/gpm/internal/auth"
	"github.com/aerys/gpm/internal/cache"
	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/lfs"
	"github.com/aerys/gpm/internal/pkg"
	"github.com/aerys/gpm/internal/resolver"
	"github.com/aerys/gpm/internal/sources"
)

// StackOnError enables printing a stack trace when a command fails.
var StackOnError bool

// Stack bundles the subsystems shared by the gpm commands.
type Stack struct {
	Auth  *auth.Provider
	Cache *cache.Cache
	LFS   *lfs.Client
}

// NewStack builds the credential provider, the source cache and the
// LFS client against the default cache root.
func NewStack() (*Stack, error) {
	const op errors.Op = "cmdutil.NewStack"

	root, err := cache.DefaultRoot()
	if err != nil {
		return nil, errors.E(op, err)
	}

	provider := auth.NewProvider()
	c := cache.New(root, provider)
	client := lfs.NewClient(lfs.NewStore(filepath.Join(root, "lfs")), provider)

	return &Stack{
		Auth:  provider,
		Cache: c,
		LFS:   client,
	}, nil
}

// Resolve parses a user reference and resolves it to an archive
// location. The sources list is only required for references that are
// not URI-bound.
func (s *Stack) Resolve(ctx context.Context, refStr string) (*pkg.PackageReference, *resolver.ArchiveLocation, error) {
	const op errors.Op = "cmdutil.Resolve"

	ref, err := pkg.ParseReference(refStr)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}

	var list *sources.List
	if ref.Remote == "" {
		path, err := sources.DefaultPath()
		if err != nil {
			return nil, nil, errors.E(op, err)
		}
		list, err = sources.Load(path)
		if err != nil {
			return nil, nil, errors.E(op, err)
		}
	}

	r := &resolver.Resolver{Cache: s.Cache, Sources: list}
	loc, err := r.Resolve(ctx, ref)
	if err != nil {
		return nil, nil, errors.E(op, err)
	}
	return ref, loc, nil
}
