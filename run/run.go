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

// Package run builds the gpm command tree and maps command failures to
// exit codes.
package run

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	goerrors "github.com/go-errors/errors"
	"github.com/spf13/cobra"
	"k8s.io/klog/v2"

	"github.com/aerys/gpm/internal/cmdclean"
	"github.com/aerys/gpm/internal/cmddownload"
	"github.com/aerys/gpm/internal/cmdinstall"
	"github.com/aerys/gpm/internal/cmdupdate"
	"github.com/aerys/gpm/internal/errors"
	"github.com/aerys/gpm/internal/util/cmdutil"
	"github.com/aerys/gpm/pkg/printer"
)

// LogEnv selects the log verbosity, either a single level or
// comma-separated per-module directives, e.g. "debug" or
// "info,resolver=trace".
const LogEnv = "GPM_LOG"

// ExitUsage is returned for unknown commands and flags.
const ExitUsage = 2

// usageError marks errors that should exit with ExitUsage.
type usageError struct {
	err error
}

func (e *usageError) Error() string { return e.err.Error() }

// GetMain returns the root gpm command.
func GetMain(ctx context.Context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "gpm",
		Short: "Git-based package manager",
		Long: `gpm is a package manager that treats any Git repository as a
package registry. Packages are tar.gz archives committed under
${name}/${name}.tar.gz, versioned by tags of the form
${name}/${version}, and optionally stored through Git LFS.`,
		SilenceUsage: true,
		// We handle all errors in Main after return from cobra so we
		// can adjust the message and the exit code.
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) > 0 {
				return &usageError{fmt.Errorf("unknown command %q", args[0])}
			}
			return cmd.Usage()
		},
	}

	initLogging()

	// wire the global printer
	pr := printer.New(cmd.OutOrStdout(), cmd.ErrOrStderr())
	ctx = printer.WithContext(ctx, pr)

	cmd.SetFlagErrorFunc(func(c *cobra.Command, err error) error {
		return &usageError{err}
	})

	cmd.PersistentFlags().BoolVar(&cmdutil.StackOnError, "stack-trace", false,
		"print a stack-trace on failure")

	cmd.InitDefaultHelpCmd()
	cmd.AddCommand(
		cmdupdate.NewCommand(ctx),
		cmdclean.NewCommand(ctx),
		cmdinstall.NewCommand(ctx),
		cmddownload.NewCommand(ctx),
		versionCmd,
	)
	return cmd
}

// Main runs the root command and maps failures to exit codes: 0 on
// success, ExitUsage for usage errors, 1 otherwise.
func Main(ctx context.Context) int {
	cmd := GetMain(ctx)

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var usage *usageError
	if errors.As(err, &usage) || strings.Contains(err.Error(), "unknown command") {
		fmt.Fprintf(os.Stderr, "gpm: %v\n", err)
		fmt.Fprint(os.Stderr, cmd.UsageString())
		return ExitUsage
	}

	// A single human-readable line on stderr; the details went to the
	// logging subsystem.
	fmt.Fprintf(os.Stderr, "gpm: %s\n", oneline(err))
	if cmdutil.StackOnError {
		fmt.Fprint(os.Stderr, goerrors.Wrap(err, 0).ErrorStack())
	}
	return 1
}

// oneline flattens the nested error rendering to a single line.
func oneline(err error) string {
	return strings.ReplaceAll(err.Error(), ":\n\t", ": ")
}

// initLogging configures klog from GPM_LOG.
func initLogging() {
	fs := flag.NewFlagSet("klog", flag.ContinueOnError)
	klog.InitFlags(fs)

	var level string
	var vmodule []string
	for _, part := range strings.Split(os.Getenv(LogEnv), ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		if module, lvl, found := strings.Cut(part, "="); found {
			vmodule = append(vmodule, module+"="+verbosity(lvl))
			continue
		}
		level = verbosity(part)
	}
	if level != "" {
		fs.Set("v", level)
	}
	if len(vmodule) > 0 {
		fs.Set("vmodule", strings.Join(vmodule, ","))
	}
	fs.Set("logtostderr", "true")
}

// verbosity maps a log level name to a klog verbosity.
func verbosity(level string) string {
	switch strings.ToLower(level) {
	case "trace":
		return "5"
	case "debug":
		return "4"
	case "info":
		return "2"
	case "warn", "warning", "error":
		return "0"
	}
	return "0"
}
