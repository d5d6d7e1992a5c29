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
	"time"

	"gopkg.in/alecthomas/kingpin.v2"
)

// Application represents the command-line "rolldeploy" application
// and contains definitions of all its flags, arguments and subcommands
type Application struct {
	*kingpin.Application
	// Debug allows to run the command in debug mode
	Debug *bool
	// Noop replaces every mutating remote command with a logged no-op
	Noop *bool
	// Timestamps prefixes progress steps with the current time
	Timestamps *bool
	// Hosts lists the hosts to operate on
	Hosts *[]string
	// Tags selects the EC2 hosts to operate on
	Tags *map[string]string
	// Region is the AWS region
	Region *string
	// SSHUser is the login user on the hosts
	SSHUser *string
	// SSHPort is the SSH port of the hosts
	SSHPort *int
	// IdentityFile is the SSH private key
	IdentityFile *string
	// KnownHostsFile is the SSH known hosts file
	KnownHostsFile *string
	// DeployUser identifies the operator in the lock records
	DeployUser *string
	// RegistryPath is the path to the package registry
	RegistryPath *string
	// LockTimeout limits the time to wait for each host lock
	LockTimeout *time.Duration
	// MetricsURL is the URL of the Prometheus push gateway
	MetricsURL *string
	// DeployCmd deploys packages
	DeployCmd DeployCmd
	// ConfirmCmd prints the deploy plan without deploying
	ConfirmCmd ConfirmCmd
	// LocksCmd combines lock subcommands
	LocksCmd LocksCmd
	// LocksWaitCmd acquires the locks of the hosts
	LocksWaitCmd LocksWaitCmd
	// LocksRemoveCmd removes the locks of the hosts
	LocksRemoveCmd LocksRemoveCmd
	// PackagesCmd combines package subcommands
	PackagesCmd PackagesCmd
	// PackagesInstalledCmd lists packages installed on the hosts
	PackagesInstalledCmd PackagesInstalledCmd
	// PackagesActionsCmd prints the pre and post actions of packages
	PackagesActionsCmd PackagesActionsCmd
	// HostsCmd lists the selected hosts
	HostsCmd HostsCmd
	// VersionCmd prints the version of the binary
	VersionCmd VersionCmd
}

// PackageSource specifies the desired package revisions
type PackageSource struct {
	// Packages lists name=revision assignments
	Packages *[]string
	// Stdin reads name=revision assignments from standard input
	Stdin *bool
	// FromHost copies the installed revisions of the host
	FromHost *string
	// FromExemplar copies the installed revisions of the first tagged host
	FromExemplar *bool
	// Prefixes limits the packages to names with one of the prefixes
	Prefixes *[]string
}

// DeployCmd deploys packages
type DeployCmd struct {
	*kingpin.CmdClause
	PackageSource
	// Yes deploys all changed packages without asking
	Yes *bool
	// AutoMigrate applies pending migrations without asking
	AutoMigrate *bool
	// SkipLoadBalancer deploys without draining hosts
	SkipLoadBalancer *bool
}

// ConfirmCmd prints the deploy plan without deploying
type ConfirmCmd struct {
	*kingpin.CmdClause
	PackageSource
}

// LocksCmd combines lock subcommands
type LocksCmd struct {
	*kingpin.CmdClause
}

// LocksWaitCmd acquires the locks of the hosts
type LocksWaitCmd struct {
	*kingpin.CmdClause
}

// LocksRemoveCmd removes the locks of the hosts
type LocksRemoveCmd struct {
	*kingpin.CmdClause
}

// PackagesCmd combines package subcommands
type PackagesCmd struct {
	*kingpin.CmdClause
}

// PackagesInstalledCmd lists packages installed on the hosts
type PackagesInstalledCmd struct {
	*kingpin.CmdClause
	// Prefixes limits the packages to names with one of the prefixes
	Prefixes *[]string
}

// PackagesActionsCmd prints the pre and post actions of packages
type PackagesActionsCmd struct {
	*kingpin.CmdClause
	// Names lists the packages
	Names *[]string
}

// HostsCmd lists the selected hosts
type HostsCmd struct {
	*kingpin.CmdClause
}

// VersionCmd prints the version of the binary
type VersionCmd struct {
	*kingpin.CmdClause
	// Output is the output format
	Output *string
}
