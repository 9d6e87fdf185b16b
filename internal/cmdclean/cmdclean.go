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

// Package cmdclean contains the clean command.
package cmdclean

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/util/cmdutil"
	"github.com/aerys/gpm/pkg/printer"
)

// NewRunner returns a command runner.
func NewRunner(ctx context.Context) *Runner {
	r := &Runner{ctx: ctx}
	c := &cobra.Command{
		Use:   "clean",
		Short: "Remove all cached repositories",
		Args:  cobra.NoArgs,
		RunE:  r.runE,
	}
	r.Command = c
	return r
}

// NewCommand returns the cobra command for clean.
func NewCommand(ctx context.Context) *cobra.Command {
	return NewRunner(ctx).Command
}

// Runner contains the run function.
type Runner struct {
	ctx     context.Context
	Command *cobra.Command
}

func (r *Runner) runE(c *cobra.Command, _ []string) error {
	const op errors.Op = "cmdclean.runE"
	pr := printer.FromContextOrDie(r.ctx)

	stack, err := cmdutil.NewStack()
	if err != nil {
		return errors.E(op, err)
	}
	if err := stack.Cache.Clean(); err != nil {
		return errors.E(op, err)
	}
	pr.Printf("removed cache %s\n", stack.Cache.Root)
	return nil
}
