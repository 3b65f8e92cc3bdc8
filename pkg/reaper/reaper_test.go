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

package reaper

import (
	"os/exec"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func startChild(t *testing.T, script string) int {
	t.Helper()
	cmd := exec.Command("/bin/sh", "-c", script)
	require.NoError(t, cmd.Start())
	return cmd.Process.Pid
}

func waitForExit(t *testing.T, pid int) Exit {
	t.Helper()
	var exit Exit
	require.Eventually(t, func() bool {
		e, ok := Reaper{}.Check()
		if ok && e.Pid == pid {
			exit = e
			return true
		}
		return false
	}, 5*time.Second, 5*time.Millisecond)
	return exit
}

func TestCheckWithoutChildren(t *testing.T) {
	_, ok := Reaper{}.Check()
	require.False(t, ok)
}

func TestCheckReportsExitStatus(t *testing.T) {
	pid := startChild(t, "exit 3")
	exit := waitForExit(t, pid)
	require.Equal(t, 3, exit.Status)

	_, ok := Reaper{}.Check()
	require.False(t, ok)
}

func TestCheckReportsSignal(t *testing.T) {
	pid := startChild(t, "kill -9 $$")
	exit := waitForExit(t, pid)
	require.Equal(t, 128+int(unix.SIGKILL), exit.Status)
}

func TestReapCollectsAllChildren(t *testing.T) {
	pids := map[int]bool{
		startChild(t, "exit 0"): true,
		startChild(t, "exit 1"): true,
	}
	exits, err := Reap(true)
	require.NoError(t, err)
	require.Len(t, exits, 2)
	for _, e := range exits {
		require.True(t, pids[e.Pid])
	}
}

func TestNop(t *testing.T) {
	pid := startChild(t, "exit 0")
	_, ok := Nop{}.Check()
	require.False(t, ok)
	waitForExit(t, pid)
}

func TestExitStatus(t *testing.T) {
	// exit code 2: status word 0x0200
	require.Equal(t, 2, ExitStatus(unix.WaitStatus(0x0200)))
	// killed by SIGTERM: status word is the signal number
	require.Equal(t, 128+int(unix.SIGTERM), ExitStatus(unix.WaitStatus(unix.SIGTERM)))
}
