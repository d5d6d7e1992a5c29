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

package defaults

import (
	"time"
)

const (
	// LockFile is the path to the advisory deploy lock on every managed host
	LockFile = "/opt/deploy/.lock"

	// LockTimeout is the maximum time to wait for a deploy lock held by someone else
	LockTimeout = 120 * time.Second
	// LockInitialInterval is the first sleep between lock acquisition attempts
	LockInitialInterval = 100 * time.Millisecond
	// LockMaxInterval caps a single sleep between lock acquisition attempts
	LockMaxInterval = 10 * time.Second

	// HealthPollInitialInterval is the first sleep between load balancer health queries
	HealthPollInitialInterval = 100 * time.Millisecond
	// HealthPollMaxInterval caps a single sleep between load balancer health queries
	HealthPollMaxInterval = 1 * time.Second

	// BackoffMultiplier is the growth factor of exponential polling intervals
	BackoffMultiplier = 2

	// RepoURLFormat formats the git URL of a package from its org and repo
	RepoURLFormat = "git@github.com:%v/%v"
	// CompareURLFormat formats the link to compare two revisions of a package
	CompareURLFormat = "https://github.com/%v/%v/compare/%v...%v"
	// TreeURLFormat formats the link to a single revision of a package
	TreeURLFormat = "https://github.com/%v/%v/tree/%v"
	// RepoDir is the root directory of installed packages
	RepoDir = "/opt/wwc"
	// GitUser owns the checked out packages
	GitUser = "www-data"
	// GitSSHWrapper is the path to the ssh wrapper used by remote git commands
	GitSSHWrapper = "/tmp/git.sh"
	// GitSSHWrapperScript is the content of the ssh wrapper used by remote git commands
	GitSSHWrapperScript = "#!/bin/sh\nexec ssh -o StrictHostKeyChecking=no \"$@\"\n"

	// ChecksumDir keeps the checksums of dependency manifests between runs
	ChecksumDir = "/var/tmp"
	// ChecksumCommand computes the checksum of the manifest contents read from stdin
	ChecksumCommand = "/usr/bin/md5sum"

	// PythonEnvironment is activated before installing python requirements
	PythonEnvironment = "/opt/edx/bin/activate"
	// PipDownloadCache is the shared pip download cache on the host
	PipDownloadCache = "/tmp/pip_download_cache"
	// RbenvRoot is the ruby environment used to install Gemfiles
	RbenvRoot = "/opt/www/.rbenv"

	// FactsDir is the directory with provisioning facts on the host
	FactsDir = "/etc/facter/facts.d"

	// VersionJSONFile lists the installed package revisions as JSON
	VersionJSONFile = "/opt/wwc/versions.json"
	// VersionHTMLFile lists the installed package revisions as HTML
	VersionHTMLFile = "/opt/wwc/versions.html"
	// SharedReadMask is the mode of uploaded files readable by everyone
	SharedReadMask = 0644
	// SharedExecutableMask is the mode of uploaded scripts executable by everyone
	SharedExecutableMask = 0755

	// VersionRevisionLength is the length of revisions in the version marker
	VersionRevisionLength = 8

	// MigrateUser runs the migration commands
	MigrateUser = "www-data"
	// MigrateServiceVariant is the application variant used for migrations
	MigrateServiceVariant = "lms"
	// MigrateCommand applies pending schema migrations
	MigrateCommand = "/opt/edx/bin/django-admin.py migrate --noinput " +
		"--settings=lms.envs.aws --pythonpath=/opt/wwc/edx-platform"
	// MigrateDryRunFlag turns the migration command into a dry run
	MigrateDryRunFlag = "--db-dry-run"

	// InstanceIDCommand reads the EC2 instance ID from the metadata service on the host
	InstanceIDCommand = "wget -q -O - http://169.254.169.254/latest/meta-data/instance-id"

	// SSHPort is the default SSH port
	SSHPort = 22
	// SSHDialTimeout is the timeout to establish an SSH connection
	SSHDialTimeout = 30 * time.Second

	// InventoryConcurrency limits the number of hosts queried in parallel
	InventoryConcurrency = 10

	// RegistryFile is the default location of the package registry
	RegistryFile = "package_data.yaml"

	// MetricsJob is the job name used when pushing metrics
	MetricsJob = "rolldeploy"
	// MetricsNamespace prefixes all exported metrics
	MetricsNamespace = "rolldeploy"

	// PathEnv is the PATH environment variable
	PathEnv = "PATH"
	// PathEnvVal is the PATH used for remote commands
	PathEnvVal = "/usr/local/sbin:/usr/local/bin:/usr/sbin:/usr/bin:/sbin:/bin"
)

// MinRevisionLength is the minimum number of characters in a revision
// to make it unique enough to identify a commit
const MinRevisionLength = 7
