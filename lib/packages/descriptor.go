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
	"fmt"
	"sort"
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"

	"github.com/gravitational/trace"
)

// Descriptor is a package at a specific revision
type Descriptor struct {
	// Name is the package name, the base name of its repository directory.
	// XML course packages carry the course root after a '~'
	Name string
	// Revision is the git revision or RevisionAbsent to remove the package
	Revision string
	// Root is the repository directory on the host
	Root string
	// Repo is the github repository of the package
	Repo Repo
}

// NewDescriptor returns the descriptor of package name at revision
func (r *Registry) NewDescriptor(name, revision string) (*Descriptor, error) {
	if err := CheckRevision(revision); err != nil {
		return nil, trace.Wrap(err, "invalid revision for %v", name)
	}
	root, repo, err := r.Lookup(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return &Descriptor{
		Name:     name,
		Revision: revision,
		Root:     root,
		Repo:     repo,
	}, nil
}

// CheckRevision verifies the revision is RevisionAbsent or long enough
// to identify a commit
func CheckRevision(revision string) error {
	if revision == constants.RevisionAbsent {
		return nil
	}
	if len(revision) < defaults.MinRevisionLength {
		return trace.BadParameter("must use at least %v characters in revision %q to identify a commit",
			defaults.MinRevisionLength, revision)
	}
	return nil
}

// IsAbsent returns true if the package is to be removed
func (r Descriptor) IsAbsent() bool {
	return r.Revision == constants.RevisionAbsent
}

// CourseRoot returns the course root encoded in the package name
func (r Descriptor) CourseRoot() (root string, ok bool) {
	parts := strings.SplitN(r.Name, constants.CourseRootSeparator, 2)
	if len(parts) != 2 {
		return "", false
	}
	return parts[1], true
}

// BaseName returns the package name without the course root
func (r Descriptor) BaseName() string {
	return strings.SplitN(r.Name, constants.CourseRootSeparator, 2)[0]
}

// IsContent returns true for course content packages
func (r Descriptor) IsContent() bool {
	return strings.HasPrefix(r.Name, constants.ContentPackagePrefix)
}

// String returns the descriptor as name=revision
func (r Descriptor) String() string {
	return fmt.Sprintf("%v=%v", r.Name, r.Revision)
}

// Names returns the names of packages
func Names(packages []Descriptor) []string {
	names := make([]string, 0, len(packages))
	for _, pkg := range packages {
		names = append(names, pkg.Name)
	}
	return names
}

// SortByName sorts packages by name
func SortByName(packages []Descriptor) {
	sort.Slice(packages, func(i, j int) bool {
		return packages[i].Name < packages[j].Name
	})
}
