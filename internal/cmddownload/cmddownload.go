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

// Package cmddownload contains the download command.
package cmddownload

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
		Use:   "download REF",
		Short: "Resolve a package and copy its archive verbatim",
		Args:  cobra.ExactArgs(1),
		RunE:  r.runE,
	}
	c.Flags().StringVar(&r.prefix, "prefix", ".",
		"the directory the archive is written into")
	c.Flags().BoolVar(&r.force, "force", false,
		"replace an existing archive")
	r.Command = c
	return r
}

// NewCommand returns the cobra command for download.
func NewCommand(ctx context.Context) *cobra.Command {
	return NewRunner(ctx).Command
}

// Runner contains the run function.
type Runner struct {
	ctx     context.Context
	prefix  string
	force   bool
	Command *cobra.Command
}

func (r *Runner) runE(c *cobra.Command, args []string) error {
	const op errors.Op = "cmddownload.runE"
	pr := printer.FromContextOrDie(r.ctx)

	stack, err := cmdutil.NewStack()
	if err != nil {
		return errors.E(op, err)
	}
	stack.LFS.Progress = pr.Progress

	pr.Printf("Downloading package %s\n", args[0])
	pr.Printf("[1/2] Resolving package\n")

	ref, loc, err := stack.Resolve(r.ctx, args[0])
	if err != nil {
		return errors.E(op, err)
	}
	defer loc.Close()

	pr.Printf("[2/2] Downloading package\n")

	err = install.DownloadCommand{
		Location: loc,
		LFS:      stack.LFS,
		Dest:     r.prefix,
		Filename: ref.ArchiveFilenames()[0],
		Force:    r.force,
	}.Run(r.ctx)
	if err != nil {
		return errors.E(op, err)
	}

	pr.Printf("downloaded %s to %s\n", ref.Name, r.prefix)
	return nil
}
