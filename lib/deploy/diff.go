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
	"fmt"
	"sort"
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/packages"

	"github.com/gravitational/trace"
)

// DiffEntry is the change of a single package on a host
type DiffEntry struct {
	// Name is the package name
	Name string
	// Old is the installed revision, empty if the package is not installed
	Old string
	// New is the requested revision
	New string
}

// IsChanged returns true if deploying the entry changes the host.
// Removing a package that is not installed is not a change
func (r DiffEntry) IsChanged() bool {
	if r.Old == "" {
		return r.New != "" && r.New != constants.RevisionAbsent
	}
	return r.Old != r.New
}

// String returns a text representation of the entry
func (r DiffEntry) String() string {
	old := r.Old
	if old == "" {
		old = "(none)"
	}
	return fmt.Sprintf("%v: %v -> %v", r.Name, old, r.New)
}

// DiffInstalled compares the requested packages with the packages installed
// on a host. Installed packages that are not requested are not reported
func DiffInstalled(desired, installed []packages.Descriptor) []DiffEntry {
	revisions := make(map[string]string, len(installed))
	for _, pkg := range installed {
		revisions[pkg.Name] = pkg.Revision
	}
	entries := make([]DiffEntry, 0, len(desired))
	for _, pkg := range desired {
		entries = append(entries, DiffEntry{
			Name: pkg.Name,
			Old:  revisions[pkg.Name],
			New:  pkg.Revision,
		})
	}
	return entries
}

// DiffGroup is a set of hosts sharing identical changes
type DiffGroup struct {
	// Entries lists the changed packages sorted by name
	Entries []DiffEntry
	// Hosts lists the hosts sorted by name
	Hosts []string
}

// Names returns the names of the changed packages
func (r DiffGroup) Names() []string {
	names := make([]string, 0, len(r.Entries))
	for _, entry := range r.Entries {
		names = append(names, entry.Name)
	}
	return names
}

// GroupDiffs groups hosts by their changed entries.
// Hosts without changes are left out
func GroupDiffs(diffs map[string][]DiffEntry) []DiffGroup {
	groups := make(map[string]*DiffGroup)
	for host, entries := range diffs {
		changed := changedEntries(entries)
		if len(changed) == 0 {
			continue
		}
		key := diffKey(changed)
		group, ok := groups[key]
		if !ok {
			group = &DiffGroup{Entries: changed}
			groups[key] = group
		}
		group.Hosts = append(group.Hosts, host)
	}
	keys := make([]string, 0, len(groups))
	for key := range groups {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	result := make([]DiffGroup, 0, len(keys))
	for _, key := range keys {
		group := groups[key]
		sort.Strings(group.Hosts)
		result = append(result, *group)
	}
	return result
}

// CompareLink returns the web link comparing the revisions of the entry
func CompareLink(registry *packages.Registry, entry DiffEntry) (string, error) {
	_, repo, err := registry.Lookup(entry.Name)
	if err != nil {
		return "", trace.Wrap(err)
	}
	name := strings.SplitN(repo.Name, constants.CourseRootSeparator, 2)[0]
	if entry.Old == "" {
		return fmt.Sprintf(defaults.TreeURLFormat, repo.Org, name, entry.New), nil
	}
	return fmt.Sprintf(defaults.CompareURLFormat, repo.Org, name, entry.Old, entry.New), nil
}

func changedEntries(entries []DiffEntry) (changed []DiffEntry) {
	for _, entry := range entries {
		if entry.IsChanged() {
			changed = append(changed, entry)
		}
	}
	sort.Slice(changed, func(i, j int) bool {
		return changed[i].Name < changed[j].Name
	})
	return changed
}

func diffKey(entries []DiffEntry) string {
	parts := make([]string, 0, len(entries))
	for _, entry := range entries {
		parts = append(parts, entry.Name+"\x00"+entry.Old+"\x00"+entry.New)
	}
	return strings.Join(parts, "\x01")
}
