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

// Package deploy implements rolling deploys of packages to a fleet of hosts
package deploy

import (
	"context"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/lock"
	"github.com/gravitational/rolldeploy/lib/metrics"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Prompter asks the operator to make decisions
type Prompter interface {
	// Confirm asks a yes/no question
	Confirm(title string, defaultYes bool) (bool, error)
	// MultiChoose asks to select any number of options.
	// ok is false if the operator cancelled
	MultiChoose(title string, options []string) (selected []string, ok bool, err error)
}

// MigrationChecker applies pending database migrations on a host
type MigrationChecker interface {
	// Check applies the pending migrations on the host of runner
	Check(ctx context.Context, runner remote.Runner) (applied bool, err error)
}

// Config is the deployer configuration
type Config struct {
	// Registry resolves packages
	Registry *packages.Registry
	// Connector connects to the hosts
	Connector remote.Connector
	// Locks manages the deploy locks of the hosts
	Locks *lock.Manager
	// LoadBalancer drains hosts for the deploy. If unset, hosts are
	// deployed to without draining
	LoadBalancer LoadBalancer
	// InstanceIDs resolves the instance IDs of the hosts
	InstanceIDs InstanceIDResolver
	// Tagger adds the fleet tags to metrics
	Tagger Tagger
	// Prompter asks the operator to confirm the deploy
	Prompter Prompter
	// Migrations checks for pending migrations after deploying
	// the migrate package of the registry
	Migrations MigrationChecker
	// Metrics times the deploy steps
	Metrics metrics.Recorder
	// Progress narrates the deploy to the operator
	Progress utils.Progress
	// AssumeYes deploys all changed packages without asking
	AssumeYes bool
	// Noop is set when mutating commands are skipped
	Noop bool
	// FieldLogger is the logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the configuration and sets defaults
func (r *Config) CheckAndSetDefaults() error {
	if r.Registry == nil {
		return trace.BadParameter("missing Registry")
	}
	if r.Connector == nil {
		return trace.BadParameter("missing Connector")
	}
	if r.Locks == nil {
		return trace.BadParameter("missing Locks")
	}
	if r.LoadBalancer != nil && r.InstanceIDs == nil {
		return trace.BadParameter("missing InstanceIDs")
	}
	if r.Prompter == nil && !r.AssumeYes {
		return trace.BadParameter("missing Prompter")
	}
	if r.Metrics == nil {
		r.Metrics = metrics.Discard
	}
	if r.Progress == nil {
		r.Progress = utils.DiscardProgress
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, constants.ComponentDeploy)
	}
	return nil
}

// New returns a new deployer
func New(config Config) (*Deployer, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Deployer{Config: config}, nil
}

// Deployer deploys packages to hosts
type Deployer struct {
	Config
}

// Deploy locks the hosts, asks the operator to confirm the changes
// and deploys the confirmed packages host by host.
// The locks are released on every exit path
func (r *Deployer) Deploy(ctx context.Context, hosts []string, desired []packages.Descriptor) error {
	return r.Locks.Hold(ctx, hosts, func(ctx context.Context, lease *lock.Lease) error {
		plan, err := r.Confirm(ctx, hosts, desired)
		if err != nil {
			return trace.Wrap(err)
		}
		return trace.Wrap(r.Roll(ctx, lease, plan))
	})
}

// Plan locks the hosts and asks the operator to confirm the changes
// without deploying them
func (r *Deployer) Plan(ctx context.Context, hosts []string, desired []packages.Descriptor) (plan *Plan, err error) {
	err = r.Locks.Hold(ctx, hosts, func(ctx context.Context, _ *lock.Lease) error {
		plan, err = r.Confirm(ctx, hosts, desired)
		return trace.Wrap(err)
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return plan, nil
}

// Roll deploys the plan host by host using locker to lock each host
func (r *Deployer) Roll(ctx context.Context, locker lock.Locker, plan *Plan) error {
	policy := &RollingPolicy{
		Task:         "deploy",
		Connector:    r.Connector,
		Locker:       locker,
		LoadBalancer: r.LoadBalancer,
		InstanceIDs:  r.InstanceIDs,
		Tagger:       r.Tagger,
		Progress:     r.Progress,
		FieldLogger:  r.FieldLogger,
	}
	if err := policy.CheckAndSetDefaults(); err != nil {
		return trace.Wrap(err)
	}
	apply := newApplier(r.Config, plan)
	return trace.Wrap(policy.Run(ctx, plan.Hosts(), policy.Wrap(apply.Apply)))
}
