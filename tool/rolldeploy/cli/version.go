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

package cli

import (
	"encoding/json"
	"fmt"
	"io"

	"github.com/gravitational/trace"
	"github.com/gravitational/version"
)

const (
	// formatText prints the version as text
	formatText = "text"
	// formatJSON prints the version as JSON
	formatJSON = "json"
)

// buildVersion describes the binary
type buildVersion struct {
	// Version is the release version
	Version string `json:"version"`
	// GitCommit is the commit the binary was built from
	GitCommit string `json:"gitCommit"`
}

func printVersion(w io.Writer, format string) error {
	ver := version.Get()
	switch format {
	case formatText:
		fmt.Fprintf(w, "Version:\t%v\nGit Commit:\t%v\n", ver.Version, ver.GitCommit)
	case formatJSON:
		bytes, err := json.Marshal(buildVersion{Version: ver.Version, GitCommit: ver.GitCommit})
		if err != nil {
			return trace.Wrap(err)
		}
		fmt.Fprintln(w, string(bytes))
	default:
		return trace.BadParameter("unsupported output format %q", format)
	}
	return nil
}
