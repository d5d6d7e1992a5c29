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

// Package version renders the marker files listing the package
// revisions installed on a host
package version

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"html/template"
	"strings"

	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/remote"

	"github.com/gravitational/trace"
)

// Entry describes an installed package
type Entry struct {
	// Name is the package name
	Name string
	// Revision is the abbreviated installed revision
	Revision string
	// URL is the web address of the package repository
	URL string
	// History lists abbreviated previous revisions, most recent last
	History []string
}

// Collect returns the packages installed on the host of runner
// with their checkout history
func Collect(ctx context.Context, registry *packages.Registry, runner remote.Runner) ([]Entry, error) {
	installed, err := registry.InstalledPackages(ctx, runner)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var entries []Entry
	for _, pkg := range installed {
		out, err := runner.Sudo(ctx, "git log -g --abbrev-commit --pretty=oneline",
			remote.Dir(pkg.Root), remote.ReadOnly())
		if err != nil {
			return nil, trace.Wrap(err, "failed to read history of %v", pkg.Name)
		}
		entries = append(entries, Entry{
			Name:     pkg.Name,
			Revision: abbreviate(pkg.Revision),
			URL:      fmt.Sprintf("https://github.com/%v", pkg.Repo),
			History:  parseReflog(out),
		})
	}
	return entries, nil
}

// parseReflog returns the previous HEAD revisions from the reflog, oldest first
func parseReflog(out string) (history []string) {
	var refs []string
	for _, line := range strings.Split(out, "\n") {
		if !strings.Contains(line, "HEAD") {
			continue
		}
		refs = append(refs, strings.Fields(line)[0])
	}
	// the first entry is the current revision
	for i := len(refs) - 1; i > 0; i-- {
		history = append(history, refs[i])
	}
	return history
}

// JSON renders the marker as a JSON object of package revisions by name
func JSON(entries []Entry) ([]byte, error) {
	versions := make(map[string]string, len(entries))
	for _, entry := range entries {
		versions[entry.Name] = entry.Revision
	}
	data, err := json.MarshalIndent(versions, "", "    ")
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return data, nil
}

// HTML renders the marker as a page of packages with their history
func HTML(entries []Entry) ([]byte, error) {
	var buf bytes.Buffer
	if err := pageTemplate.Execute(&buf, entries); err != nil {
		return nil, trace.Wrap(err)
	}
	return buf.Bytes(), nil
}

// Write renders the marker files and uploads them to the host of runner
func Write(ctx context.Context, registry *packages.Registry, runner remote.Runner) error {
	entries, err := Collect(ctx, registry, runner)
	if err != nil {
		return trace.Wrap(err)
	}
	data, err := JSON(entries)
	if err != nil {
		return trace.Wrap(err)
	}
	if err := runner.Put(ctx, defaults.VersionJSONFile, data, defaults.SharedReadMask); err != nil {
		return trace.Wrap(err)
	}
	data, err = HTML(entries)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(runner.Put(ctx, defaults.VersionHTMLFile, data, defaults.SharedReadMask))
}

func abbreviate(revision string) string {
	if len(revision) > defaults.VersionRevisionLength {
		return revision[:defaults.VersionRevisionLength]
	}
	return revision
}

var pageTemplate = template.Must(template.New("versions").Parse(`<html>
<head>
  <meta http-equiv="Content-Type" content="text/html; charset=utf-8" />
  <title>Installed packages</title>
  <style>
    body { font-size: 2em; color: #000; font-family: monospace; }
  </style>
</head>
<body>
<ul>
{{- range .}}
  <li><a href="{{.URL}}">{{.Name}}</a> - {{.Revision}}
  <ul>
  {{- $entry := .}}{{$prev := ""}}
  {{- range .History}}
    <li>{{.}} - <a href="{{$entry.URL}}/compare/{{.}}...{{$entry.Revision}}">[diff current]</a>
    {{- if $prev}} <a href="{{$entry.URL}}/compare/{{$prev}}...{{.}}">[diff previous]</a>{{end}}</li>
    {{- $prev = .}}
  {{- end}}
  </ul></li>
{{- end}}
</ul>
</body>
</html>
`))
