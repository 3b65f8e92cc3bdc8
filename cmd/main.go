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

package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/moby/term"
	"github.com/morikuni/aec"

	"github.com/stepvisor/stepvisor/cmd/commands"
	"github.com/stepvisor/stepvisor/pkg/api"
)

func main() {
	root := commands.RootCommand()
	err := root.ExecuteContext(context.Background())
	if err == nil {
		return
	}
	code := api.ExitCodeStepFailed
	var statusErr commands.StatusError
	if errors.As(err, &statusErr) {
		code = statusErr.StatusCode
	}
	if msg := err.Error(); msg != "" {
		if _, isTerminal := term.GetFdInfo(os.Stderr); isTerminal {
			msg = aec.Apply(msg, aec.RedF)
		}
		fmt.Fprintln(os.Stderr, msg)
	}
	os.Exit(code)
}
