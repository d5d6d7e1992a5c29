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
	"context"
	"sort"
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/fatih/color"
	"github.com/gravitational/trace"
)

// Confirm compares the desired packages with the packages installed on
// the hosts and asks the operator which of the changed packages to deploy.
// Returns the plan with the selected packages and the hosts they change
func (r *Deployer) Confirm(ctx context.Context, hosts []string, desired []packages.Descriptor) (*Plan, error) {
	installed, err := r.Registry.InstalledOnHosts(ctx, r.Connector, hosts)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	diffs := make(map[string][]DiffEntry, len(installed))
	for host, pkgs := range installed {
		diffs[host] = DiffInstalled(desired, pkgs)
	}
	groups := GroupDiffs(diffs)
	if len(groups) == 0 {
		r.Progress.Print("Removing all locks and aborting.")
		return nil, trace.Wrap(ErrNothingToDeploy)
	}

	choices := r.displayGroups(groups)
	selection := choices
	if len(choices) > 1 && !r.AssumeYes {
		var ok bool
		selection, ok, err = r.Prompter.MultiChoose(selectTitle, choices)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !ok || len(selection) == 0 {
			r.Progress.Print("Removing all locks and aborting.")
			return nil, trace.Wrap(ErrCancelled)
		}
	}

	actions := r.Registry.PrePostActions(selection)
	r.displayActions(actions)

	var selected []packages.Descriptor
	for _, pkg := range desired {
		if utils.StringInSlice(selection, pkg.Name) {
			selected = append(selected, pkg)
		}
	}
	targets := hostsChanging(groups, selection)
	r.Progress.Print("Updating servers [%v]:", strings.Join(targets, ", "))

	if !r.AssumeYes {
		ok, err := r.Prompter.Confirm(color.New(color.Bold).Sprint("Please confirm the pre and post actions above"), true)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		if !ok {
			r.Progress.Print("Removing all locks and aborting.")
			return nil, trace.Wrap(ErrCancelled)
		}
	}
	plan := NewPlan(selected, actions, targets)
	r.WithField("plan", plan.String()).Info("Deploy confirmed.")
	return plan, nil
}

// displayGroups prints the changes of every group of hosts and
// returns the sorted names of all changed packages
func (r *Deployer) displayGroups(groups []DiffGroup) (choices []string) {
	for _, group := range groups {
		r.Progress.Print("%v:", strings.Join(group.Hosts, ", "))
		for _, entry := range group.Entries {
			link, err := CompareLink(r.Registry, entry)
			if err != nil {
				r.WithError(err).WithField(constants.FieldPackage, entry.Name).Warn("Failed to build compare link.")
				link = entry.String()
			}
			r.Progress.Print("    %v: Show on github: %v", entry.Name, link)
			if !utils.StringInSlice(choices, entry.Name) {
				choices = append(choices, entry.Name)
			}
		}
	}
	sort.Strings(choices)
	return choices
}

// displayActions prints the commands to run before and after the checkout
func (r *Deployer) displayActions(actions packages.Actions) {
	for _, stage := range []struct {
		name     string
		commands []string
	}{
		{name: constants.StagePre, commands: actions.Pre},
		{name: constants.StagePost, commands: actions.Post},
	} {
		if len(stage.commands) == 0 {
			r.Progress.Print("%v - no %v-checkout commands for this set of packages\n",
				color.New(color.FgGreen, color.Bold).Sprint("WARNING"), stage.name)
			continue
		}
		r.Progress.Print("%v\n  -> %v\n",
			color.New(color.FgGreen, color.Bold).Sprintf("%v-checkout commands:", stage.name),
			color.GreenString(strings.Join(stage.commands, "\n  -> ")))
	}
}

// hostsChanging returns the sorted hosts of groups changing any of the named packages
func hostsChanging(groups []DiffGroup, names []string) (hosts []string) {
	for _, group := range groups {
		for _, name := range group.Names() {
			if utils.StringInSlice(names, name) {
				hosts = append(hosts, group.Hosts...)
				break
			}
		}
	}
	sort.Strings(hosts)
	return hosts
}

const selectTitle = "Select one or more item numbers to mark them with a '*' for deployment.\n" +
	"Note: none are selected by default.\n" +
	"Select 'c' to deploy the items that are marked with a '*'."
