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
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/stepvisor/stepvisor/cmd/formatter"
	"github.com/stepvisor/stepvisor/internal"
)

type versionOptions struct {
	format string
	short  bool
}

func versionCommand() *cobra.Command {
	opts := versionOptions{}
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the stepvisor version information",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runVersion(cmd, opts)
		},
	}
	flags := cmd.Flags()
	flags.StringVarP(&opts.format, "format", "f", "", "Format the output. Values: [pretty | json]. (Default: pretty)")
	flags.BoolVar(&opts.short, "short", false, "Shows only the version number.")

	return cmd
}

func runVersion(cmd *cobra.Command, opts versionOptions) error {
	out := cmd.OutOrStdout()
	if opts.short {
		_, err := fmt.Fprintln(out, strings.TrimPrefix(internal.Version, "v"))
		return err
	}
	switch opts.format {
	case formatter.JSON:
		_, err := fmt.Fprintf(out, "{\"version\":%q}\n", internal.Version)
		return err
	case "", formatter.PRETTY:
		_, err := fmt.Fprintln(out, "stepvisor version", internal.Version)
		return err
	}
	return fmt.Errorf("unsupported format %q", opts.format)
}
