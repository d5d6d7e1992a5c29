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

// Package loadbalancer takes hosts out of and back into rotation
// behind classic elastic load balancers
package loadbalancer

import (
	"context"
	"sort"

	gaws "github.com/gravitational/rolldeploy/lib/cloudprovider/aws"
	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/metrics"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/cenkalti/backoff"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// ELB is an interface representing AWS Elastic Load Balancing
type ELB interface {
	DescribeLoadBalancersWithContext(aws.Context, *elb.DescribeLoadBalancersInput, ...request.Option) (*elb.DescribeLoadBalancersOutput, error)
	DescribeInstanceHealthWithContext(aws.Context, *elb.DescribeInstanceHealthInput, ...request.Option) (*elb.DescribeInstanceHealthOutput, error)
	DeregisterInstancesFromLoadBalancerWithContext(aws.Context, *elb.DeregisterInstancesFromLoadBalancerInput, ...request.Option) (*elb.DeregisterInstancesFromLoadBalancerOutput, error)
	RegisterInstancesWithLoadBalancerWithContext(aws.Context, *elb.RegisterInstancesWithLoadBalancerInput, ...request.Option) (*elb.RegisterInstancesWithLoadBalancerOutput, error)
}

// Config configures the load balancer gate
type Config struct {
	// Client is the load balancing client
	Client ELB
	// Noop skips every change to load balancer membership
	Noop bool
	// NewBackOff returns the polling interval for health queries
	NewBackOff func() backoff.BackOff
	// Metrics times membership changes
	Metrics metrics.Recorder
	// Progress narrates membership changes to the operator
	Progress utils.Progress
	// FieldLogger is the logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and sets default values
func (r *Config) CheckAndSetDefaults() error {
	if r.Client == nil {
		return trace.BadParameter("missing Client")
	}
	if r.NewBackOff == nil {
		r.NewBackOff = func() backoff.BackOff {
			return utils.NewHealthPollBackOff()
		}
	}
	if r.Metrics == nil {
		r.Metrics = metrics.Discard
	}
	if r.Progress == nil {
		r.Progress = utils.DiscardProgress
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, constants.ComponentLoadBalancer)
	}
	return nil
}

// New returns a new load balancer gate
func New(config Config) (*Gate, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Gate{Config: config}, nil
}

// Gate controls the membership of instances in load balancers
type Gate struct {
	Config
}

// ActiveLoadBalancers returns the names of load balancers that list the instance
// as a member, sorted by name
func (r *Gate) ActiveLoadBalancers(ctx context.Context, instanceID string) ([]string, error) {
	var names []string
	input := &elb.DescribeLoadBalancersInput{}
	for {
		output, err := r.Client.DescribeLoadBalancersWithContext(ctx, input)
		if err != nil {
			return nil, trace.Wrap(gaws.ConvertError(err), "failed to list load balancers")
		}
		for _, lb := range output.LoadBalancerDescriptions {
			for _, instance := range lb.Instances {
				if aws.StringValue(instance.InstanceId) == instanceID {
					names = append(names, aws.StringValue(lb.LoadBalancerName))
					break
				}
			}
		}
		if output.NextMarker == nil || *output.NextMarker == "" {
			break
		}
		input.Marker = output.NextMarker
	}
	sort.Strings(names)
	return names, nil
}

// Deregister removes the instance from the load balancer
func (r *Gate) Deregister(ctx context.Context, lb, instanceID string) error {
	if r.Noop {
		r.logger(lb, instanceID).Infof("Would have called: deregister(%v).", instanceID)
		return nil
	}
	_, err := r.Client.DeregisterInstancesFromLoadBalancerWithContext(ctx, &elb.DeregisterInstancesFromLoadBalancerInput{
		LoadBalancerName: aws.String(lb),
		Instances:        []*elb.Instance{{InstanceId: aws.String(instanceID)}},
	})
	if err != nil {
		return trace.Wrap(gaws.ConvertError(err), "failed to remove %v from %v", instanceID, lb)
	}
	return nil
}

// Register adds the instance to the load balancer
func (r *Gate) Register(ctx context.Context, lb, instanceID string) error {
	if r.Noop {
		r.logger(lb, instanceID).Infof("Would have called: register(%v).", instanceID)
		return nil
	}
	_, err := r.Client.RegisterInstancesWithLoadBalancerWithContext(ctx, &elb.RegisterInstancesWithLoadBalancerInput{
		LoadBalancerName: aws.String(lb),
		Instances:        []*elb.Instance{{InstanceId: aws.String(instanceID)}},
	})
	if err != nil {
		return trace.Wrap(gaws.ConvertError(err), "failed to add %v to %v", instanceID, lb)
	}
	return nil
}

// AwaitState blocks until the load balancer reports the instance in the
// specified health state. There is no timeout: only ctx cancellation and
// API errors stop the wait
func (r *Gate) AwaitState(ctx context.Context, lb, instanceID, state string) error {
	logger := r.logger(lb, instanceID)
	if r.Noop {
		logger.Infof("Would have called: await_state(%v).", state)
		return nil
	}
	err := utils.RetryWithInterval(ctx, r.NewBackOff(), func() error {
		output, err := r.Client.DescribeInstanceHealthWithContext(ctx, &elb.DescribeInstanceHealthInput{
			LoadBalancerName: aws.String(lb),
			Instances:        []*elb.Instance{{InstanceId: aws.String(instanceID)}},
		})
		if err != nil {
			return utils.Abort(trace.Wrap(gaws.ConvertError(err), "failed to query health of %v in %v", instanceID, lb))
		}
		if len(output.InstanceStates) == 0 {
			return utils.Abort(trace.NotFound("%v has no health state in %v", instanceID, lb))
		}
		current := aws.StringValue(output.InstanceStates[0].State)
		if current != state {
			return utils.Continue("%v is %v in %v, waiting for %v", instanceID, current, lb, state)
		}
		return nil
	})
	if err != nil {
		return trace.Wrap(err)
	}
	r.Progress.PrintSubStep("Load balancer %v is in awaited state %v, proceeding.", lb, state)
	logger.WithField(constants.FieldState, state).Debug("Reached state.")
	return nil
}

// Drain takes the instance out of every load balancer serving it and waits
// until each reports it out of service. It returns the load balancers the
// instance has been removed from, including on error
func (r *Gate) Drain(ctx context.Context, instanceID string, tags metrics.Tags) (drained []string, err error) {
	lbs, err := r.ActiveLoadBalancers(ctx, instanceID)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	for _, lb := range lbs {
		r.Progress.PrintSubStep("Removing %v from %v.", instanceID, lb)
		err := metrics.Time(r.Metrics, constants.MetricDeregisterInstance, tags, func() error {
			if err := r.Deregister(ctx, lb, instanceID); err != nil {
				return trace.Wrap(err)
			}
			drained = append(drained, lb)
			return trace.Wrap(r.AwaitState(ctx, lb, instanceID, constants.StateOutOfService))
		})
		if err != nil {
			return drained, trace.Wrap(err)
		}
	}
	return drained, nil
}

// Restore adds the instance back to the load balancers and waits until
// every one of them reports it in service
func (r *Gate) Restore(ctx context.Context, instanceID string, lbs []string, tags metrics.Tags) error {
	for _, lb := range lbs {
		r.Progress.PrintSubStep("Adding %v to %v.", instanceID, lb)
		err := metrics.Time(r.Metrics, constants.MetricRegisterInstance, tags, func() error {
			return trace.Wrap(r.Register(ctx, lb, instanceID))
		})
		if err != nil {
			return trace.Wrap(err)
		}
	}
	return metrics.Time(r.Metrics, constants.MetricWaitForStart, tags, func() error {
		for _, lb := range lbs {
			if err := r.AwaitState(ctx, lb, instanceID, constants.StateInService); err != nil {
				return trace.Wrap(err)
			}
		}
		return nil
	})
}

func (r *Gate) logger(lb, instanceID string) logrus.FieldLogger {
	return r.WithFields(logrus.Fields{
		constants.FieldLoadBalancer: lb,
		constants.FieldInstance:     instanceID,
	})
}
