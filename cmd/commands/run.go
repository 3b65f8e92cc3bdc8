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
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/stepvisor/stepvisor/cmd/formatter"
	"github.com/stepvisor/stepvisor/internal/config"
	"github.com/stepvisor/stepvisor/internal/tracing"
	"github.com/stepvisor/stepvisor/pkg/reaper"
	"github.com/stepvisor/stepvisor/pkg/step"
)

type runOptions struct {
	file      string
	timeout   time.Duration
	grace     time.Duration
	ansi      string
	subreaper bool
}

func runCommand() *cobra.Command {
	opts := runOptions{}
	cmd := &cobra.Command{
		Use:   "run [OPTIONS] [-- COMMAND [ARG...]]",
		Short: "Run the steps of a step file, or a single command",
		Example: "  stepvisor run -f steps.yaml\n" +
			"  stepvisor run --timeout 5m -- make -j4",
		PreRunE: func(cmd *cobra.Command, args []string) error {
			if v, ok := os.LookupEnv(AnsiEnvVar); ok && !cmd.Flags().Changed("ansi") {
				opts.ansi = v
			}
			if noColor, ok := os.LookupEnv("NO_COLOR"); ok && noColor != "" {
				opts.ansi = formatter.Never
			}
			if !cmd.Flags().Changed("timeout") {
				d, err := config.DefaultTimeout()
				if err != nil {
					return err
				}
				opts.timeout = d
			}
			return nil
		},
		RunE: AdaptCmd(func(ctx context.Context, cmd *cobra.Command, args []string) error {
			return runSteps(ctx, cmd.OutOrStdout(), opts, args)
		}),
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.file, "file", "f", "", "Step file to run, \"-\" for stdin (default "+config.DefaultFileName+", or $"+config.FileEnvVar+")")
	flags.DurationVarP(&opts.timeout, "timeout", "t", 0, "Time limit of steps that do not set one, 0 for none (default $"+config.DefaultTimeoutEnvVar+")")
	flags.DurationVar(&opts.grace, "grace-period", step.DefaultGracePeriod, "Time an interrupted step gets to exit before it is killed")
	flags.StringVar(&opts.ansi, "ansi", formatter.Auto, `Control when to print ANSI control characters ("never"|"always"|"auto")`)
	flags.BoolVar(&opts.subreaper, "subreaper", false, "Adopt and reap processes orphaned by steps")
	return cmd
}

func loadSteps(opts runOptions, args []string) ([]step.Step, error) {
	if len(args) > 0 {
		return []step.Step{{
			Name:    filepath.Base(args[0]),
			Command: args,
			Timeout: opts.timeout,
		}}, nil
	}
	f, err := config.Load(config.ResolvePath(opts.file))
	if err != nil {
		return nil, err
	}
	return f.ToSteps(opts.timeout), nil
}

func runSteps(ctx context.Context, out io.Writer, opts runOptions, args []string) error {
	steps, err := loadSteps(opts, args)
	if err != nil {
		return err
	}
	if err := formatter.SetANSIMode(out, opts.ansi); err != nil {
		return err
	}
	if opts.subreaper {
		if err := reaper.SetSubreaper(true); err != nil {
			return err
		}
	}

	consumer := formatter.NewLogConsumer(ctx, out, true, len(steps) > 1)
	runner, err := step.NewRunner(consumer, step.WithGracePeriod(opts.grace))
	if err != nil {
		return err
	}
	defer func() {
		if err := runner.Close(); err != nil {
			logrus.WithError(err).Warn("closing runner")
		}
	}()

	ctx, span := tracing.Tracer.Start(ctx, "run", tracing.StepsOptions(steps))
	defer span.End()

	start := time.Now()
	results, err := runner.Run(ctx, steps)
	logrus.WithFields(logrus.Fields{
		"steps":    len(results),
		"duration": units.HumanDuration(time.Since(start)),
	}).Debug("run finished")
	if err == nil {
		return nil
	}
	status := 0
	if len(results) > 0 {
		status = results[len(results)-1].Status
	}
	return StatusError{
		Status:     err.Error(),
		StatusCode: exitCode(err, status),
	}
}
