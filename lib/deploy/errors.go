/*
Copyright 2020 Gravitational, Inc.

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

package deploy

import (
	"github.com/gravitational/trace"
)

// AbortError stops a deploy on operator request or when there is nothing to do.
// It is not a failure of the deploy itself
type AbortError struct {
	// Message describes the reason for the abort
	Message string
}

// Error returns the abort message
func (e *AbortError) Error() string {
	return e.Message
}

var (
	// ErrNothingToDeploy is returned when every host already runs the requested revisions
	ErrNothingToDeploy = &AbortError{Message: "Nothing to deploy"}
	// ErrCancelled is returned when the operator cancels the deploy
	ErrCancelled = &AbortError{Message: "Operation cancelled by user"}
)

// IsAborted returns true if err is an operator abort
func IsAborted(err error) bool {
	_, ok := trace.Unwrap(err).(*AbortError)
	return ok
}
