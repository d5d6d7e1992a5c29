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

// package constants contains global constants
// shared between packages
package constants

const (
	// ComponentLock is the logging component of the deploy lock manager
	ComponentLock = "lock"
	// ComponentPackages is the logging component of the package registry
	ComponentPackages = "packages"
	// ComponentLoadBalancer is the logging component of the load balancer gate
	ComponentLoadBalancer = "elb"
	// ComponentDeploy is the logging component of the deploy coordinator
	ComponentDeploy = "deploy"
	// ComponentRemote is the logging component of remote command execution
	ComponentRemote = "remote"
	// ComponentMetrics is the logging component of the metrics recorder
	ComponentMetrics = "metrics"
	// ComponentMigrate is the logging component of the migration check
	ComponentMigrate = "migrate"
	// ComponentCLI is the logging component of the command line tool
	ComponentCLI = "cli"

	// FieldHost is the log field with the target host
	FieldHost = "host"
	// FieldPackage is the log field with the package name
	FieldPackage = "package"
	// FieldRevision is the log field with the package revision
	FieldRevision = "revision"
	// FieldLoadBalancer is the log field with the load balancer name
	FieldLoadBalancer = "lb"
	// FieldInstance is the log field with the EC2 instance ID
	FieldInstance = "instance"
	// FieldCommand is a command executed on a host
	FieldCommand = "cmd"
	// FieldState is the log field with the rolling state of a host
	FieldState = "state"
	// FieldStream names the output stream of a remote command
	FieldStream = "stream"

	// RevisionAbsent is the sentinel revision that requests
	// the package to be removed from the host
	RevisionAbsent = "absent"

	// CourseRootSeparator separates the package name from the
	// course root suffix in XML course package names
	CourseRootSeparator = "~"

	// ContentPackagePrefix is the name prefix of course content packages
	ContentPackagePrefix = "content"

	// StateInService is the load balancer health state of a serving instance
	StateInService = "InService"
	// StateOutOfService is the load balancer health state of a drained instance
	StateOutOfService = "OutOfService"

	// StagePre names the pre-checkout command stage
	StagePre = "pre"
	// StagePost names the post-checkout command stage
	StagePost = "post"

	// MetricDeregisterInstance times removal of an instance from a load balancer
	MetricDeregisterInstance = "rolling.deregister_instance"
	// MetricRegisterInstance times re-admission of an instance into a load balancer
	MetricRegisterInstance = "rolling.register_instance"
	// MetricWaitForStart times the wait for an instance to become healthy
	MetricWaitForStart = "rolling.wait_for_start"
	// MetricDeployment times steps of the deployment body
	MetricDeployment = "deployment"

	// StepPreCommands is the deployment step running pre-checkout commands
	StepPreCommands = "pre_commands"
	// StepClone is the deployment step checking out a package
	StepClone = "clone"
	// StepRequirements is the deployment step installing package dependencies
	StepRequirements = "requirements"
	// StepFact is the deployment step dropping service facts
	StepFact = "fact"
	// StepPackageVersion is the deployment step dropping the version marker
	StepPackageVersion = "pkg_version"
	// StepPostCommands is the deployment step running post-checkout commands
	StepPostCommands = "post_commands"

	// TagInstanceID is the metrics tag with the EC2 instance ID
	TagInstanceID = "instance_id"
	// TagGroup is the metrics tag with the fleet group
	TagGroup = "group"
	// TagEnvironment is the metrics tag with the fleet environment
	TagEnvironment = "environment"
	// TagVariant is the metrics tag with the fleet variant
	TagVariant = "variant"
	// TagTask is the metrics tag with the name of the wrapped task
	TagTask = "task"
	// TagStep is the metrics tag with the deployment step
	TagStep = "step"
	// TagType is the metrics tag with the deployment type (code/content)
	TagType = "type"

	// DeploymentTypeCode marks deployments that include code packages
	DeploymentTypeCode = "code"
	// DeploymentTypeContent marks deployments that include content packages
	DeploymentTypeContent = "content"

	// EC2TagEnvironment is the EC2 instance tag with the fleet environment
	EC2TagEnvironment = "environment"
	// EC2TagEnvironmentAlias is the short form of EC2TagEnvironment accepted on input
	EC2TagEnvironmentAlias = "env"
	// EC2TagGroup is the EC2 instance tag with the fleet group
	EC2TagGroup = "group"
	// EC2TagVariant is the EC2 instance tag with the fleet variant
	EC2TagVariant = "variant"
	// EC2InstanceRunning is the state name of a running EC2 instance
	EC2InstanceRunning = "running"
	// AnyTagValue matches any value of a tag in host selectors
	AnyTagValue = "*"

	// EnvGitSSH is the environment variable pointing git at the ssh wrapper
	EnvGitSSH = "GIT_SSH"
	// EnvServiceVariant selects the application variant for management commands
	EnvServiceVariant = "SERVICE_VARIANT"
	// EnvPrefix is the prefix of environment variables read by the CLI
	EnvPrefix = "ROLLDEPLOY_"
)
