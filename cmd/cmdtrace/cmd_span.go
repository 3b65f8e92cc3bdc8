/*
   Copyright 2020 Docker Compose CLI authors

   Licensed under the Apache License, Version 2.0 (the "License");
   you may not use this file except in compliance with the License.
   You may obtain a copy of the License at

       http://www.apache.org/licenses/LICENSE-2.0

   Unless required by applicable law or agreed to in writing, software
   distributed under the License is distributed on an "AS IS" BASIS,
   WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
   See the License for the specific language governing permissions and
   limitations under the License.
*/

package cmdtrace

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"
	flag "github.com/spf13/pflag"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/stepvisor/stepvisor/internal/tracing"
)

// exitCoder is implemented by errors carrying the process exit code
type exitCoder interface {
	ExitCode() int
}

// Setup should be called as part of the command's PersistentPreRunE.
//
// It initializes the tracer from the standard OTEL_ env vars, creates a
// root span for the command, and wraps the actual command invocation to
// ensure the span is properly finalized and exported before exit.
func Setup(cmd *cobra.Command, args []string) error {
	tracingShutdown, err := tracing.Initialize(cmd.Context())
	if err != nil {
		return fmt.Errorf("initializing tracing: %w", err)
	}

	ctx := cmd.Context()
	ctx, cmdSpan := otel.Tracer("").Start(
		ctx,
		"cli/"+strings.Join(commandName(cmd), "-"),
	)
	cmdSpan.SetAttributes(attribute.StringSlice("cli.flags", filterForFlags(args)))
	cmdSpan.SetAttributes(attribute.StringSlice("cli.changed_flags", getFlags(cmd.Flags())))

	cmd.SetContext(ctx)
	wrapRunE(cmd, cmdSpan, tracingShutdown)
	return nil
}

// wrapRunE injects a wrapper function around the command's actual RunE (or Run)
// method. This is necessary to capture the command result for reporting as well
// as flushing any spans before exit.
//
// PersistentPostRun(E) can't be used for this purpose because it only runs
// if RunE does _not_ return an error.
func wrapRunE(c *cobra.Command, cmdSpan trace.Span, tracingShutdown tracing.ShutdownFunc) {
	origRunE := c.RunE
	if origRunE == nil {
		origRun := c.Run
		origRunE = func(cmd *cobra.Command, args []string) error {
			origRun(cmd, args)
			return nil
		}
		c.Run = nil
	}

	c.RunE = func(cmd *cobra.Command, args []string) error {
		cmdErr := origRunE(cmd, args)
		if cmdSpan != nil {
			if cmdErr != nil && !errors.Is(cmdErr, context.Canceled) {
				// default exit code is 1 if a more descriptive error
				// wasn't returned
				exitCode := 1
				var coder exitCoder
				if errors.As(cmdErr, &coder) {
					exitCode = coder.ExitCode()
				}
				cmdSpan.SetStatus(codes.Error, "CLI command returned error")
				cmdSpan.RecordError(cmdErr, trace.WithAttributes(
					attribute.Int("exit_code", exitCode),
				))
			} else {
				cmdSpan.SetStatus(codes.Ok, "")
			}
			cmdSpan.End()
		}
		if tracingShutdown != nil {
			// use background for root context because the cmd's context might have
			// been canceled already
			ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
			defer cancel()
			_ = tracingShutdown(ctx)
		}
		return cmdErr
	}
}

// commandName returns the path components for a given command, without
// the root command.
//
// For example:
//   - stepvisor run -> [run]
//   - stepvisor version -> [version]
func commandName(cmd *cobra.Command) []string {
	var name []string
	for c := cmd; c != nil && c.HasParent(); c = c.Parent() {
		name = append(name, c.Name())
	}
	slices.Reverse(name)
	return name
}

func getFlags(fs *flag.FlagSet) []string {
	var result []string
	fs.Visit(func(flag *flag.Flag) {
		result = append(result, flag.Name)
	})
	return result
}

var flagPattern = regexp.MustCompile(`^--?[a-zA-Z][a-zA-Z-]*$`)

// filterForFlags keeps the flag names from raw arguments, values and the
// command run by a step are left out.
func filterForFlags(args []string) []string {
	var flags []string
	for _, arg := range args {
		if arg == "--" {
			break
		}
		name, _, _ := strings.Cut(arg, "=")
		if flagPattern.MatchString(name) {
			flags = append(flags, name)
		}
	}
	return flags
}
