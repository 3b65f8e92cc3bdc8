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

import "golang.org/x/sys/unix"

// SetSubreaper makes orphaned descendants get reparented to the calling
// process, so they can be reaped here instead of by init.
func SetSubreaper(enable bool) error {
	var i uintptr
	if enable {
		i = 1
	}
	return unix.Prctl(unix.PR_SET_CHILD_SUBREAPER, i, 0, 0, 0)
}
