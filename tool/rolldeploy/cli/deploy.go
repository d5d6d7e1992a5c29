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
	"os"

	gaws "github.com/gravitational/rolldeploy/lib/cloudprovider/aws"
	"github.com/gravitational/rolldeploy/lib/deploy"
	"github.com/gravitational/rolldeploy/lib/migrate"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/prompt"
	"github.com/gravitational/rolldeploy/tool/common"

	"github.com/gravitational/trace"
)

// deployConfig combines the options of deploy and confirm
type deployConfig struct {
	source           PackageSource
	assumeYes        bool
	autoMigrate      bool
	skipLoadBalancer bool
}

func deployPackages(ctx context.Context, env *environment, config deployConfig) (err error) {
	defer func() {
		env.progress.Stop(err)
	}()
	deployer, hosts, desired, err := newDeployer(ctx, env, config)
	if err != nil {
		return trace.Wrap(err)
	}
	return trace.Wrap(deployer.Deploy(ctx, hosts, desired))
}

func confirmPackages(ctx context.Context, env *environment, config deployConfig) error {
	deployer, hosts, desired, err := newDeployer(ctx, env, config)
	if err != nil {
		return trace.Wrap(err)
	}
	plan, err := deployer.Plan(ctx, hosts, desired)
	if err != nil {
		return trace.Wrap(err)
	}
	common.PrintHeader("Plan")
	var rows [][]string
	for _, pkg := range plan.Packages() {
		rows = append(rows, []string{pkg.Name, pkg.Revision, pkg.Repo.String()})
	}
	common.PrintTable(os.Stdout, []string{"Package", "Revision", "Repository"}, rows)
	env.progress.Print("Hosts: %v", plan.Hosts())
	return nil
}

func newDeployer(ctx context.Context, env *environment, config deployConfig) (*deploy.Deployer, []string, []packages.Descriptor, error) {
	registry, err := env.Registry()
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	hosts, err := env.Hosts(ctx)
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	desired, err := desiredPackages(ctx, env, registry, config.source)
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	locks, err := env.Locks()
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	console := prompt.NewConsole()
	migrations, err := migrate.New(migrate.Config{
		Command:   registry.MigrateCommand,
		Auto:      config.autoMigrate,
		Confirmer: console,
		Progress:  env.progress,
	})
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	deployerConfig := deploy.Config{
		Registry:   registry,
		Connector:  env.connector,
		Locks:      locks,
		Prompter:   console,
		Migrations: migrations,
		Metrics:    env.metrics,
		Progress:   env.progress,
		AssumeYes:  config.assumeYes,
		Noop:       *env.Noop,
	}
	if !config.skipLoadBalancer {
		gate, err := env.LoadBalancer()
		if err != nil {
			return nil, nil, nil, trace.Wrap(err)
		}
		inventory, err := env.Inventory()
		if err != nil {
			return nil, nil, nil, trace.Wrap(err)
		}
		deployerConfig.LoadBalancer = gate
		deployerConfig.InstanceIDs = gaws.NewInstanceIDs(env.connector)
		deployerConfig.Tagger = inventory
	}
	deployer, err := deploy.New(deployerConfig)
	if err != nil {
		return nil, nil, nil, trace.Wrap(err)
	}
	return deployer, hosts, desired, nil
}

// desiredPackages resolves the package revisions to deploy from
// the host, standard input or the command line in this order
func desiredPackages(ctx context.Context, env *environment, registry *packages.Registry, source PackageSource) (desired []packages.Descriptor, err error) {
	switch {
	case *source.FromHost != "" || *source.FromExemplar:
		host := *source.FromHost
		if host == "" {
			if len(*env.Tags) == 0 {
				return nil, trace.BadParameter("--from-exemplar requires --tag")
			}
			inventory, err := env.Inventory()
			if err != nil {
				return nil, trace.Wrap(err)
			}
			host, err = inventory.Exemplar(ctx, *env.Tags)
			if err != nil {
				return nil, trace.Wrap(err)
			}
		}
		env.progress.NextStep("Reading installed packages from %v", host)
		runner, err := env.connector.Connect(ctx, host)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		desired, err = packages.FromHost(ctx, registry, runner, *source.Prefixes...)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	case *source.Stdin:
		desired, err = packages.FromReader(registry, os.Stdin, log, *source.Prefixes...)
		if err != nil {
			return nil, trace.Wrap(err)
		}
	default:
		revisions, err := packages.ParseAssignments(*source.Packages)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		desired, err = packages.FromStrings(registry, revisions)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		desired = packages.LimitPrefix(desired, *source.Prefixes...)
	}
	if len(desired) == 0 {
		return nil, trace.BadParameter("no packages to deploy, " +
			"pass name=revision arguments, --stdin or --from-host")
	}
	for _, pkg := range desired {
		log.WithField("package", pkg.String()).Debug("Desired package.")
	}
	return desired, nil
}
