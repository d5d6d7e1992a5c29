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
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/tool/common"

	"github.com/gravitational/trace"
)

func listInstalled(ctx context.Context, env *environment, prefixes []string) error {
	registry, err := env.Registry()
	if err != nil {
		return trace.Wrap(err)
	}
	hosts, err := env.Hosts(ctx)
	if err != nil {
		return trace.Wrap(err)
	}
	installed, err := registry.InstalledOnHosts(ctx, env.connector, hosts)
	if err != nil {
		return trace.Wrap(err)
	}
	sort.Strings(hosts)
	var rows [][]string
	for _, host := range hosts {
		for _, pkg := range packages.LimitPrefix(installed[host], prefixes...) {
			rows = append(rows, []string{host, pkg.Name, pkg.Revision})
		}
	}
	common.PrintTable(os.Stdout, []string{"Host", "Package", "Revision"}, rows)
	return nil
}

func printActions(env *environment, names []string) error {
	registry, err := env.Registry()
	if err != nil {
		return trace.Wrap(err)
	}
	actions := registry.PrePostActions(names)
	if actions.IsEmpty() {
		fmt.Printf("No pre or post actions for %v.\n", strings.Join(names, ", "))
		return nil
	}
	common.PrintHeader("Pre")
	for _, command := range actions.Pre {
		fmt.Println(command)
	}
	common.PrintHeader("Post")
	for _, command := range actions.Post {
		fmt.Println(command)
	}
	return nil
}
