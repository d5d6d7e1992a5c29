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
	"fmt"
	"io"
	"strings"

	"github.com/gravitational/rolldeploy/lib/remote"

	"github.com/fatih/color"
	"github.com/gravitational/trace"
	"github.com/olekukonko/tablewriter"
)

// PrintError prints the red error message to the console.
// The output of a failed remote command is printed after the message
func PrintError(err error) {
	color.Red("[ERROR]: %v\n", trace.UserMessage(err))
	if exitErr, ok := trace.Unwrap(err).(*remote.ExitError); ok && exitErr.Output != "" {
		fmt.Println(strings.TrimRight(exitErr.Output, "\n"))
	}
}

// PrintHeader formats the provided value as a header and prints it to standard output
func PrintHeader(val string) {
	fmt.Printf("\n[%v]\n%v\n", val, strings.Repeat("-", len(val)+2))
}

// PrintTable renders rows under the header cols as a table to w
func PrintTable(w io.Writer, cols []string, rows [][]string) {
	table := tablewriter.NewWriter(w)
	table.SetHeader(cols)
	table.SetAutoWrapText(false)
	table.AppendBulk(rows)
	table.Render()
}
