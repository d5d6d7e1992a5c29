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

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/lock"
	"github.com/gravitational/rolldeploy/lib/metrics"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// Target is the host an operation runs on
type Target struct {
	// Host is the host address
	Host string
	// Runner executes commands on the host
	Runner remote.Runner
	// InstanceID is the EC2 instance ID of the host, if known
	InstanceID string
	// Tags label the metrics recorded for the host
	Tags metrics.Tags
}

// HostOperation is an operation on a single host
type HostOperation func(ctx context.Context, target Target) error

// LoadBalancer takes instances out of traffic and back
type LoadBalancer interface {
	// Drain removes the instance from every load balancer serving it.
	// It returns the load balancers the instance was removed from, including on error
	Drain(ctx context.Context, instanceID string, tags metrics.Tags) ([]string, error)
	// Restore adds the instance back to the load balancers and waits until it is healthy
	Restore(ctx context.Context, instanceID string, lbs []string, tags metrics.Tags) error
}

// InstanceIDResolver resolves the EC2 instance ID of a host
type InstanceIDResolver interface {
	// InstanceID returns the instance ID of host
	InstanceID(ctx context.Context, host string) (string, error)
}

// Tagger returns the fleet tags of instances
type Tagger interface {
	// InstanceTags returns the tags of the instances by instance ID
	InstanceTags(ctx context.Context, instanceIDs ...string) (map[string]map[string]string, error)
}

// RollingPolicy runs an operation on hosts one at a time, each out of
// its load balancers and under its deploy lock
type RollingPolicy struct {
	// Task names the operation in metrics
	Task string
	// Connector connects to the hosts
	Connector remote.Connector
	// Locker holds the deploy lock of the host during the operation
	Locker lock.Locker
	// LoadBalancer drains the host for the operation. If unset, the
	// hosts are assumed to serve no traffic
	LoadBalancer LoadBalancer
	// InstanceIDs resolves the instance ID of the host
	InstanceIDs InstanceIDResolver
	// Tagger adds the fleet tags to metrics
	Tagger Tagger
	// Progress narrates the operation to the operator
	Progress utils.Progress
	// FieldLogger is the logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the policy and sets defaults
func (r *RollingPolicy) CheckAndSetDefaults() error {
	if r.Connector == nil {
		return trace.BadParameter("missing Connector")
	}
	if r.Locker == nil {
		return trace.BadParameter("missing Locker")
	}
	if r.LoadBalancer != nil && r.InstanceIDs == nil {
		return trace.BadParameter("missing InstanceIDs")
	}
	if r.Task == "" {
		r.Task = "deploy"
	}
	if r.Progress == nil {
		r.Progress = utils.DiscardProgress
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, constants.ComponentDeploy)
	}
	return nil
}

// Wrap returns op made rolling: the returned operation waits for the deploy
// lock of the host, drains the host, runs op and restores the host to
// its load balancers even if op fails. The lock is released on every exit path
func (r *RollingPolicy) Wrap(op HostOperation) HostOperation {
	return func(ctx context.Context, target Target) (err error) {
		logger := r.WithField(constants.FieldHost, target.Host)
		if err := r.Locker.WaitForLock(ctx, target.Host); err != nil {
			return trace.Wrap(err)
		}
		defer func() {
			// release even if ctx has been cancelled
			errRelease := r.Locker.RemoveLock(context.Background(), target.Host)
			if errRelease == nil {
				return
			}
			if err == nil {
				err = trace.Wrap(errRelease)
				return
			}
			logger.WithError(errRelease).Warn("Failed to remove lock.")
		}()
		if r.LoadBalancer == nil {
			return trace.Wrap(op(ctx, target))
		}
		target, err = r.describe(ctx, target)
		if err != nil {
			return trace.Wrap(err)
		}
		// restore even if ctx has been cancelled, an interrupted deploy
		// must not leave the host out of rotation
		restoreCtx := context.Background()
		drained, err := r.LoadBalancer.Drain(ctx, target.InstanceID, target.Tags)
		if err != nil {
			return restoreAfter(err, r.LoadBalancer.Restore(restoreCtx, target.InstanceID, drained, target.Tags))
		}
		errApply := op(ctx, target)
		if errApply != nil {
			logger.WithError(errApply).Warn("Operation failed, restoring load balancer membership.")
			r.Progress.PrintWarn(errApply, "Deploy to %v failed, adding it back to its load balancers.", target.Host)
		}
		return restoreAfter(errApply, r.LoadBalancer.Restore(restoreCtx, target.InstanceID, drained, target.Tags))
	}
}

// Run runs op on every host in ascending order and stops at the first failure
func (r *RollingPolicy) Run(ctx context.Context, hosts []string, op HostOperation) error {
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)
	for i, host := range sorted {
		r.Progress.NextStep("Deploying to %v (%v of %v)", host, i+1, len(sorted))
		runner, err := r.Connector.Connect(ctx, host)
		if err != nil {
			return trace.Wrap(err)
		}
		err = op(ctx, Target{
			Host:   host,
			Runner: runner,
			Tags: metrics.Tags{
				constants.TagTask:   r.Task,
				constants.FieldHost: host,
			},
		})
		if err != nil {
			if remaining := sorted[i+1:]; len(remaining) != 0 {
				r.WithField("remaining", remaining).Warn("Stopping rolling deploy.")
			}
			return trace.Wrap(err, "failed to deploy to %v", host)
		}
	}
	return nil
}

// describe resolves the instance ID and fleet tags of the target host
func (r *RollingPolicy) describe(ctx context.Context, target Target) (Target, error) {
	id, err := r.InstanceIDs.InstanceID(ctx, target.Host)
	if err != nil {
		return target, trace.Wrap(err)
	}
	target.InstanceID = id
	target.Tags = target.Tags.Merge(metrics.Tags{constants.TagInstanceID: id})
	if r.Tagger == nil {
		return target, nil
	}
	tags, err := r.Tagger.InstanceTags(ctx, id)
	if err != nil {
		// tags only label metrics
		r.WithError(err).WithField(constants.FieldInstance, id).Warn("Failed to query instance tags.")
		return target, nil
	}
	target.Tags = target.Tags.Merge(metrics.Tags(tags[id]))
	return target, nil
}

// restoreAfter combines the failure of an operation with the result
// of restoring load balancer membership after it
func restoreAfter(err, errRestore error) error {
	if errRestore == nil {
		return trace.Wrap(err)
	}
	if err == nil {
		return trace.Wrap(errRestore)
	}
	return trace.NewAggregate(err, errRestore)
}
