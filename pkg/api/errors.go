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

package api

import (
	"fmt"

	"github.com/pkg/errors"
)

const (
	// ExitCodeStepFailed is used when a step exited with a status the child did not provide itself
	ExitCodeStepFailed = 1
	// ExitCodeInfrastructure is used when the supervisor itself could not run,
	// as opposed to a build step failing
	ExitCodeInfrastructure = 3
	// ExitCodeTimeout mirrors timeout(1)
	ExitCodeTimeout = 124
	// ExitCodeInterrupted is the conventional 128+SIGINT
	ExitCodeInterrupted = 130
)

var (
	// ErrResourceCreationFailed is returned when a kernel resource backing
	// the reactor (epoll instance, signal channel, wake descriptor) could not be created
	ErrResourceCreationFailed = errors.New("resource creation failed")
	// ErrWaitFailed is returned when waiting on the epoll instance failed for
	// a reason other than an interruption
	ErrWaitFailed = errors.New("wait failed")
	// ErrSignalReadFailed is returned when the signal channel could not be read
	ErrSignalReadFailed = errors.New("signal read failed")
	// ErrAlreadyRegistered is returned when a descriptor is registered twice
	ErrAlreadyRegistered = errors.New("already registered")
	// ErrNotRegistered is returned when removing a descriptor that was never registered
	ErrNotRegistered = errors.New("not registered")
	// ErrNotImplemented is returned when a feature is not available on this platform
	ErrNotImplemented = errors.New("not implemented")
	// ErrStepFailed is returned when a build step exited with a non-zero status
	// or could not be started
	ErrStepFailed = errors.New("step failed")
	// ErrStepTimeout is returned when a build step exceeded its time limit
	ErrStepTimeout = errors.New("step timed out")
	// ErrInterrupted is returned when a termination signal or a cancellation
	// stopped the build
	ErrInterrupted = errors.New("interrupted")
	// ErrParsingFailed is returned when a string cannot be parsed
	ErrParsingFailed = errors.New("parsing failed")
)

// ResourceCreationFailed marks cause as ErrResourceCreationFailed, both stay
// in the error chain
func ResourceCreationFailed(cause error, what string) error {
	return fmt.Errorf("%s: %w: %w", what, ErrResourceCreationFailed, cause)
}

// IsResourceCreationFailedError returns true if the unwrapped error is ErrResourceCreationFailed
func IsResourceCreationFailedError(err error) bool {
	return errors.Is(err, ErrResourceCreationFailed)
}

// IsInfrastructureError returns true for errors raised by the supervisor
// itself rather than by a build step
func IsInfrastructureError(err error) bool {
	return errors.Is(err, ErrResourceCreationFailed) ||
		errors.Is(err, ErrWaitFailed) ||
		errors.Is(err, ErrSignalReadFailed)
}

// IsAlreadyRegisteredError returns true if the unwrapped error is ErrAlreadyRegistered
func IsAlreadyRegisteredError(err error) bool {
	return errors.Is(err, ErrAlreadyRegistered)
}

// IsNotRegisteredError returns true if the unwrapped error is ErrNotRegistered
func IsNotRegisteredError(err error) bool {
	return errors.Is(err, ErrNotRegistered)
}

// IsErrNotImplemented returns true if the unwrapped error is ErrNotImplemented
func IsErrNotImplemented(err error) bool {
	return errors.Is(err, ErrNotImplemented)
}

// IsStepFailedError returns true if the unwrapped error is ErrStepFailed
func IsStepFailedError(err error) bool {
	return errors.Is(err, ErrStepFailed)
}

// IsStepTimeoutError returns true if the unwrapped error is ErrStepTimeout
func IsStepTimeoutError(err error) bool {
	return errors.Is(err, ErrStepTimeout)
}

// IsInterruptedError returns true if the unwrapped error is ErrInterrupted
func IsInterruptedError(err error) bool {
	return errors.Is(err, ErrInterrupted)
}

// IsErrParsingFailed returns true if the unwrapped error is ErrParsingFailed
func IsErrParsingFailed(err error) bool {
	return errors.Is(err, ErrParsingFailed)
}
