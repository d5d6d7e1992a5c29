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
	"fmt"
	"strings"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"

	"gopkg.in/alecthomas/kingpin.v2"
)

// RegisterCommands registers all rolldeploy flags, arguments and subcommands
func RegisterCommands(app *kingpin.Application) Application {
	r := Application{
		Application: app,
	}

	r.Debug = app.Flag("debug", "Enable debug mode.").Envar(envar("debug")).Bool()
	r.Noop = app.Flag("noop", "Log mutating remote commands instead of running them.").Envar(envar("noop")).Bool()
	r.Timestamps = app.Flag("timestamps", "Prefix progress steps with the current time.").Bool()
	r.Hosts = app.Flag("host", "Host to operate on, can be repeated.").Short('H').Envar(envar("hosts")).Strings()
	r.Tags = app.Flag("tag", "Select EC2 hosts by tag, as key=value. The value * matches any value.").StringMap()
	r.Region = app.Flag("region", "AWS region.").Envar("AWS_REGION").String()
	r.SSHUser = app.Flag("ssh-user", "SSH login user.").Default("ubuntu").Envar(envar("ssh user")).String()
	r.SSHPort = app.Flag("ssh-port", "SSH port.").Default(fmt.Sprint(defaults.SSHPort)).Envar(envar("ssh port")).Int()
	r.IdentityFile = app.Flag("identity-file", "SSH private key.").Short('i').Envar(envar("identity file")).String()
	r.KnownHostsFile = app.Flag("known-hosts", "SSH known hosts file. Host keys are not verified if unset.").Envar(envar("known hosts")).String()
	r.DeployUser = app.Flag("deploy-user", "Operator name recorded in the host locks. Defaults to the current user.").Envar(envar("deploy user")).String()
	r.RegistryPath = app.Flag("registry", "Path to the package registry.").Default(defaults.RegistryFile).Envar(envar("registry")).String()
	r.LockTimeout = app.Flag("lock-timeout", "Time to wait for each host lock.").Default(defaults.LockTimeout.String()).Envar(envar("lock timeout")).Duration()
	r.MetricsURL = app.Flag("metrics-url", "Prometheus push gateway URL. Metrics are not pushed if unset.").Envar(envar("metrics url")).String()

	r.DeployCmd.CmdClause = app.Command("deploy", "Deploy packages to the hosts host by host.")
	r.DeployCmd.PackageSource = registerPackageSource(r.DeployCmd.CmdClause)
	r.DeployCmd.Yes = r.DeployCmd.Flag("yes", "Deploy all changed packages without asking.").Short('y').Bool()
	r.DeployCmd.AutoMigrate = r.DeployCmd.Flag("auto-migrate", "Apply pending migrations without asking.").Bool()
	r.DeployCmd.SkipLoadBalancer = r.DeployCmd.Flag("skip-load-balancer", "Deploy without taking hosts out of rotation.").Bool()

	r.ConfirmCmd.CmdClause = app.Command("confirm", "Lock the hosts and print the deploy plan without deploying.")
	r.ConfirmCmd.PackageSource = registerPackageSource(r.ConfirmCmd.CmdClause)

	r.LocksCmd.CmdClause = app.Command("locks", "Manage host deploy locks.")
	r.LocksWaitCmd.CmdClause = r.LocksCmd.Command("wait", "Wait for and acquire the locks of the hosts.")
	r.LocksRemoveCmd.CmdClause = r.LocksCmd.Command("remove", "Remove the locks of the hosts regardless of the holder.")

	r.PackagesCmd.CmdClause = app.Command("packages", "Inspect packages.")
	r.PackagesInstalledCmd.CmdClause = r.PackagesCmd.Command("installed", "List packages installed on the hosts.")
	r.PackagesInstalledCmd.Prefixes = r.PackagesInstalledCmd.Flag("prefix", "Only list packages with the name prefix, can be repeated.").Strings()
	r.PackagesActionsCmd.CmdClause = r.PackagesCmd.Command("actions", "Print the pre and post actions of packages.")
	r.PackagesActionsCmd.Names = r.PackagesActionsCmd.Arg("name", "Package name.").Required().Strings()

	r.HostsCmd.CmdClause = app.Command("hosts", "List the selected hosts.")

	r.VersionCmd.CmdClause = app.Command("version", "Print the version of rolldeploy.")
	r.VersionCmd.Output = r.VersionCmd.Flag("output", "Output format, text or json.").Short('o').Default(formatText).Enum(formatText, formatJSON)

	return r
}

func registerPackageSource(cmd *kingpin.CmdClause) PackageSource {
	return PackageSource{
		Packages:     cmd.Arg("package", "Package revision as name=revision.").Strings(),
		Stdin:        cmd.Flag("stdin", "Read name=revision lines from standard input.").Bool(),
		FromHost:     cmd.Flag("from-host", "Deploy the revisions installed on the host.").String(),
		FromExemplar: cmd.Flag("from-exemplar", "Deploy the revisions installed on the first host matching the tags.").Bool(),
		Prefixes:     cmd.Flag("prefix", "Only deploy packages with the name prefix, can be repeated.").Strings(),
	}
}

// envar returns the environment variable name of the flag
func envar(name string) string {
	return constants.EnvPrefix + strings.ToUpper(strings.Replace(name, " ", "_", -1))
}
