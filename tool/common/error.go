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

package common

import (
	"github.com/gravitational/trace"
)

// ProcessRunError converts an error returned by a command into
// the error shown to the operator
func ProcessRunError(runErr error) error {
	if runErr == nil {
		return nil
	}
	if trace.IsLimitExceeded(runErr) {
		return trace.Wrap(runErr, "%v. Stale locks can be removed "+
			"with \"rolldeploy locks remove\"", trace.UserMessage(runErr))
	}
	return runErr
}
