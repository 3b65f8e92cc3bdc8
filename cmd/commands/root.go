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

package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stepvisor/stepvisor/cmd/cmdtrace"
	"github.com/stepvisor/stepvisor/pkg/api"
)

const (
	// RootName is the name of the binary
	RootName = "stepvisor"
	// AnsiEnvVar sets the default of --ansi
	AnsiEnvVar = "STEPVISOR_ANSI"
)

// StatusError reports a failure together with the process exit code
type StatusError struct {
	Status     string
	StatusCode int
}

func (e StatusError) Error() string {
	return e.Status
}

// ExitCode returns the process exit code
func (e StatusError) ExitCode() int {
	return e.StatusCode
}

// CobraCommand defines a cobra command function
type CobraCommand func(context.Context, *cobra.Command, []string) error

// AdaptCmd adapts a CobraCommand func to cobra library, turning step and
// supervisor failures into a StatusError. Termination signals are not
// handled here, the event loop of the runner receives them.
func AdaptCmd(fn CobraCommand) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		err := fn(cmd.Context(), cmd, args)
		if err == nil {
			return nil
		}
		var statusErr StatusError
		if errors.As(err, &statusErr) {
			return err
		}
		return StatusError{
			Status:     err.Error(),
			StatusCode: exitCode(err, 0),
		}
	}
}

// exitCode maps an error to the process exit code. status is the exit
// status of the last step, used for plain step failures.
func exitCode(err error, status int) int {
	switch {
	case api.IsInfrastructureError(err):
		return api.ExitCodeInfrastructure
	case api.IsInterruptedError(err), errors.Is(err, context.Canceled):
		return api.ExitCodeInterrupted
	case api.IsStepTimeoutError(err):
		return api.ExitCodeTimeout
	case api.IsStepFailedError(err) && status > 0 && status < 256:
		return status
	}
	return api.ExitCodeStepFailed
}

// RootCommand returns the stepvisor command with its child commands
func RootCommand() *cobra.Command {
	var (
		debug    bool
		logLevel string
	)
	c := &cobra.Command{
		Use:   RootName,
		Short: "Run build steps under supervision",
		Long: "Run build steps one after the other, streaming their output, " +
			"enforcing time limits and reaping every process they leave behind.",
		SilenceErrors:    true,
		SilenceUsage:     true,
		TraverseChildren: true,
		// By default (no Run/RunE in parent c) for typos in subcommands, cobra displays the help of parent c but exit(0) !
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			_ = cmd.Help()
			return StatusError{
				StatusCode: 1,
				Status:     fmt.Sprintf("unknown command: %q", args[0]),
			}
		},
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logrus.SetOutput(cmd.ErrOrStderr())
			level, err := logrus.ParseLevel(logLevel)
			if err != nil {
				return StatusError{
					StatusCode: 1,
					Status:     fmt.Sprintf("unable to parse logging level: %s", logLevel),
				}
			}
			logrus.SetLevel(level)
			if debug {
				logrus.SetLevel(logrus.DebugLevel)
			}
			return cmdtrace.Setup(cmd, os.Args[1:])
		},
	}

	c.AddCommand(
		runCommand(),
		versionCommand(),
	)

	flags := c.PersistentFlags()
	flags.BoolVarP(&debug, "debug", "D", false, "Enable debug output in the logs")
	flags.StringVarP(&logLevel, "log-level", "l", "info", fmt.Sprintf("Set the logging level (%s)", strings.Join(levels(), "|")))
	return c
}

func levels() []string {
	var names []string
	for _, l := range logrus.AllLevels {
		names = append(names, l.String())
	}
	return names
}
