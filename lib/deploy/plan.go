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
	"github.com/gravitational/rolldeploy/lib/packages"
)

// NewPlan returns a new deploy plan.
// The plan keeps its own copies of the arguments
func NewPlan(pkgs []packages.Descriptor, actions packages.Actions, hosts []string) *Plan {
	plan := &Plan{
		packages: append([]packages.Descriptor(nil), pkgs...),
		actions: packages.Actions{
			Pre:  append([]string(nil), actions.Pre...),
			Post: append([]string(nil), actions.Post...),
		},
		hosts: append([]string(nil), hosts...),
	}
	sort.Strings(plan.hosts)
	return plan
}

// Plan describes what is deployed where.
// It is assembled once the operator has confirmed the deploy and
// does not change afterwards
type Plan struct {
	packages []packages.Descriptor
	actions  packages.Actions
	hosts    []string
}

// Packages returns the packages to deploy in order
func (r *Plan) Packages() []packages.Descriptor {
	return append([]packages.Descriptor(nil), r.packages...)
}

// Actions returns the commands to run before and after the checkout
func (r *Plan) Actions() packages.Actions {
	return packages.Actions{
		Pre:  append([]string(nil), r.actions.Pre...),
		Post: append([]string(nil), r.actions.Post...),
	}
}

// Hosts returns the hosts to deploy to in ascending order
func (r *Plan) Hosts() []string {
	return append([]string(nil), r.hosts...)
}

// Includes returns true if the plan deploys the named package
func (r *Plan) Includes(name string) bool {
	for _, pkg := range r.packages {
		if pkg.Name == name {
			return true
		}
	}
	return false
}

// Type returns the deployment type for metrics: code, content or both
func (r *Plan) Type() string {
	var code, content bool
	for _, pkg := range r.packages {
		if pkg.IsContent() {
			content = true
		} else {
			code = true
		}
	}
	var types []string
	if code {
		types = append(types, constants.DeploymentTypeCode)
	}
	if content {
		types = append(types, constants.DeploymentTypeContent)
	}
	return strings.Join(types, ",")
}

// String returns a text representation of the plan
func (r *Plan) String() string {
	var pkgs []string
	for _, pkg := range r.packages {
		pkgs = append(pkgs, pkg.String())
	}
	return fmt.Sprintf("plan(packages=%v, hosts=%v)",
		strings.Join(pkgs, ","), strings.Join(r.hosts, ","))
}
