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

// Package cmdupdate contains the update command.
package cmdupdate

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/sources"
	"github.com/aerys/gpm/internal/util/cmdutil"
	"github.com/aerys/gpm/pkg/printer"
)

// NewRunner returns a command runner.
func NewRunner(ctx context.Context) *Runner {
	r := &Runner{ctx: ctx}
	c := &cobra.Command{
		Use:   "update",
		Short: "Refresh the cached mirror of every remote in the sources list",
		Args:  cobra.NoArgs,
		RunE:  r.runE,
	}
	r.Command = c
	return r
}

// NewCommand returns the cobra command for update.
func NewCommand(ctx context.Context) *cobra.Command {
	return NewRunner(ctx).Command
}

// Runner contains the run function.
type Runner struct {
	ctx     context.Context
	Command *cobra.Command
}

func (r *Runner) runE(c *cobra.Command, _ []string) error {
	const op errors.Op = "cmdupdate.runE"
	pr := printer.FromContextOrDie(r.ctx)

	path, err := sources.DefaultPath()
	if err != nil {
		return errors.E(op, err)
	}
	list, err := sources.Load(path)
	if err != nil {
		return errors.E(op, err)
	}

	stack, err := cmdutil.NewStack()
	if err != nil {
		return errors.E(op, err)
	}

	pr.Printf("Updating %d repositories\n", len(list.Remotes))

	failed, err := stack.Cache.Update(r.ctx, list.Remotes)
	if err != nil {
		return errors.E(op, err)
	}
	for _, remote := range list.Remotes {
		if ferr, ok := failed[remote]; ok {
			pr.ErrPrintf("  failed   %s: %v\n", remote, ferr)
		} else {
			pr.Printf("  updated  %s\n", remote)
		}
	}
	pr.Printf("updated %d/%d repositories\n", len(list.Remotes)-len(failed), len(list.Remotes))
	return nil
}
