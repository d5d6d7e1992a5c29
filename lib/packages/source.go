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

package packages

import (
	"bufio"
	"context"
	"io"
	"strings"

	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// FromStrings returns the descriptors for the package revisions
// given as name to revision
func FromStrings(registry *Registry, revisions map[string]string) ([]Descriptor, error) {
	var packages []Descriptor
	for name, revision := range revisions {
		pkg, err := registry.NewDescriptor(name, revision)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		packages = append(packages, *pkg)
	}
	SortByName(packages)
	return packages, nil
}

// ParseAssignments parses name=revision arguments
func ParseAssignments(args []string) (map[string]string, error) {
	revisions := make(map[string]string, len(args))
	for _, arg := range args {
		name, revision, err := parseAssignment(arg)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		revisions[name] = revision
	}
	return revisions, nil
}

func parseAssignment(line string) (name, revision string, err error) {
	parts := strings.SplitN(line, "=", 2)
	if len(parts) != 2 {
		return "", "", trace.BadParameter("expected name=revision, got %q", line)
	}
	name, revision = strings.TrimSpace(parts[0]), strings.TrimSpace(parts[1])
	if name == "" {
		return "", "", trace.BadParameter("missing package name in %q", line)
	}
	return name, revision, nil
}

// FromReader reads name=revision lines until the first blank line.
// Malformed lines and names without one of the prefixes are skipped
func FromReader(registry *Registry, r io.Reader, log logrus.FieldLogger, prefixes ...string) ([]Descriptor, error) {
	revisions := make(map[string]string)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			break
		}
		name, revision, err := parseAssignment(line)
		if err != nil {
			log.Warnf("Expected = in %q, skipping.", line)
			continue
		}
		if !hasPrefix(name, prefixes) {
			log.Warnf("%q does not start with %v, skipping.", name, strings.Join(prefixes, " or "))
			continue
		}
		revisions[name] = revision
	}
	if err := scanner.Err(); err != nil {
		return nil, trace.Wrap(err)
	}
	return FromStrings(registry, revisions)
}

// FromHost returns the packages installed on the host of runner
// limited to the names with one of the prefixes
func FromHost(ctx context.Context, registry *Registry, runner remote.Runner, prefixes ...string) ([]Descriptor, error) {
	installed, err := registry.InstalledPackages(ctx, runner)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return LimitPrefix(installed, prefixes...), nil
}

// LimitPrefix returns the packages whose names start with any of prefixes.
// No prefixes means no limit
func LimitPrefix(packages []Descriptor, prefixes ...string) []Descriptor {
	var limited []Descriptor
	for _, pkg := range packages {
		if hasPrefix(pkg.Name, prefixes) {
			limited = append(limited, pkg)
		}
	}
	return limited
}

func hasPrefix(name string, prefixes []string) bool {
	return len(prefixes) == 0 || utils.HasOneOfPrefixes(name, prefixes...)
}
