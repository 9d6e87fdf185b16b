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

// Package cmdinstall contains the install command.
package cmdinstall

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/util/cmdutil"
	"github.com/aerys/gpm/internal/util/install"
	"github.com/aerys/gpm/pkg/printer"
)

// NewRunner returns a command runner.
func NewRunner(ctx context.Context) *Runner {
	r := &Runner{ctx: ctx}
	c := &cobra.Command{
		Use:   "install REF",
		Short: "Resolve a package and extract it into the prefix directory",
		Args:  cobra.ExactArgs(1),
		RunE:  r.runE,
	}
	c.Flags().StringVar(&r.prefix, "prefix", "/",
		"the prefix to the package install path")
	r.Command = c
	return r
}

// NewCommand returns the cobra command for install.
func NewCommand(ctx context.Context) *cobra.Command {
	return NewRunner(ctx).Command
}

// Runner contains the run function.
type Runner struct {
	ctx     context.Context
	prefix  string
	Command *cobra.Command
}

func (r *Runner) runE(c *cobra.Command, args []string) error {
	const op errors.Op = "cmdinstall.runE"
	pr := printer.FromContextOrDie(r.ctx)

	stack, err := cmdutil.NewStack()
	if err != nil {
		return errors.E(op, err)
	}
	stack.LFS.Progress = pr.Progress

	pr.Printf("Installing package %s\n", args[0])
	pr.Printf("[1/3] Resolving package\n")

	ref, loc, err := stack.Resolve(r.ctx, args[0])
	if err != nil {
		return errors.E(op, err)
	}
	defer loc.Close()

	if loc.IsLFS {
		pr.Printf("[2/3] Downloading package\n")
	} else {
		pr.Printf("[2/3] Reading package from %s\n", loc.Remote)
	}
	pr.Printf("[3/3] Extracting package in %s\n", r.prefix)

	err = install.Command{
		Location: loc,
		LFS:      stack.LFS,
		Prefix:   r.prefix,
	}.Run(r.ctx)
	if err != nil {
		return errors.E(op, err)
	}

	pr.Printf("installed %s in %s\n", ref.Name, r.prefix)
	return nil
}
