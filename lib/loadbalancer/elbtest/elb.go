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

// Package elbtest provides an in-memory classic load balancer for tests
package elbtest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gravitational/rolldeploy/lib/constants"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/elb"
)

// New returns a load balancer service with the specified members by load
// balancer name. All members start in service
func New(members map[string][]string) *ELB {
	r := &ELB{
		members: make(map[string]map[string]*member),
		out:     make(map[string]bool),
	}
	for lb, instances := range members {
		r.members[lb] = make(map[string]*member)
		for _, id := range instances {
			r.members[lb][id] = &member{state: constants.StateInService}
		}
	}
	return r
}

// ELB simulates membership and health of instances in load balancers
type ELB struct {
	mu      sync.Mutex
	members map[string]map[string]*member
	out     map[string]bool
	events  []string
	maxOut  int
	// Lag is the number of health queries before an instance reaches
	// the state requested by the last membership change
	Lag int
	// PageSize limits the number of load balancers described per page
	PageSize int
	// Err fails every call if set
	Err error
}

type member struct {
	state   string
	target  string
	pending int
}

// Events returns the membership changes in order
func (r *ELB) Events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.events...)
}

// MaxOutOfRotation returns the largest number of instances simultaneously
// out of rotation so far
func (r *ELB) MaxOutOfRotation() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.maxOut
}

// State returns the health state of the instance in the load balancer
func (r *ELB) State(lb, instanceID string) string {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[lb][instanceID]; ok {
		return m.state
	}
	return ""
}

// DescribeLoadBalancersWithContext lists the load balancers
func (r *ELB) DescribeLoadBalancersWithContext(ctx aws.Context, input *elb.DescribeLoadBalancersInput, opts ...request.Option) (*elb.DescribeLoadBalancersOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	var names []string
	for name := range r.members {
		names = append(names, name)
	}
	// reverse order, callers sort by name
	sort.Sort(sort.Reverse(sort.StringSlice(names)))
	start := 0
	if input.Marker != nil {
		fmt.Sscanf(*input.Marker, "%d", &start)
	}
	end := len(names)
	if r.PageSize > 0 && start+r.PageSize < end {
		end = start + r.PageSize
	}
	output := &elb.DescribeLoadBalancersOutput{}
	for _, name := range names[start:end] {
		description := &elb.LoadBalancerDescription{LoadBalancerName: aws.String(name)}
		for id := range r.members[name] {
			description.Instances = append(description.Instances, &elb.Instance{InstanceId: aws.String(id)})
		}
		output.LoadBalancerDescriptions = append(output.LoadBalancerDescriptions, description)
	}
	if end < len(names) {
		output.NextMarker = aws.String(fmt.Sprint(end))
	}
	return output, nil
}

// DescribeInstanceHealthWithContext reports the health of the instance,
// advancing pending state changes
func (r *ELB) DescribeInstanceHealthWithContext(ctx aws.Context, input *elb.DescribeInstanceHealthInput, opts ...request.Option) (*elb.DescribeInstanceHealthOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	lb := aws.StringValue(input.LoadBalancerName)
	output := &elb.DescribeInstanceHealthOutput{}
	for _, instance := range input.Instances {
		id := aws.StringValue(instance.InstanceId)
		m, err := r.member(lb, id)
		if err != nil {
			return nil, err
		}
		if m.target != "" {
			if m.pending > 0 {
				m.pending--
			} else {
				m.state, m.target = m.target, ""
			}
		}
		if m.state == constants.StateInService && r.allInService(id) {
			delete(r.out, id)
		}
		output.InstanceStates = append(output.InstanceStates, &elb.InstanceState{
			InstanceId: aws.String(id),
			State:      aws.String(m.state),
		})
	}
	return output, nil
}

// DeregisterInstancesFromLoadBalancerWithContext starts taking instances out of service
func (r *ELB) DeregisterInstancesFromLoadBalancerWithContext(ctx aws.Context, input *elb.DeregisterInstancesFromLoadBalancerInput, opts ...request.Option) (*elb.DeregisterInstancesFromLoadBalancerOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	lb := aws.StringValue(input.LoadBalancerName)
	for _, instance := range input.Instances {
		id := aws.StringValue(instance.InstanceId)
		m, err := r.member(lb, id)
		if err != nil {
			return nil, err
		}
		m.target, m.pending = constants.StateOutOfService, r.Lag
		r.events = append(r.events, fmt.Sprintf("deregister %v %v", lb, id))
		r.out[id] = true
		if len(r.out) > r.maxOut {
			r.maxOut = len(r.out)
		}
	}
	return &elb.DeregisterInstancesFromLoadBalancerOutput{}, nil
}

// RegisterInstancesWithLoadBalancerWithContext starts bringing instances into service
func (r *ELB) RegisterInstancesWithLoadBalancerWithContext(ctx aws.Context, input *elb.RegisterInstancesWithLoadBalancerInput, opts ...request.Option) (*elb.RegisterInstancesWithLoadBalancerOutput, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if r.Err != nil {
		return nil, r.Err
	}
	lb := aws.StringValue(input.LoadBalancerName)
	for _, instance := range input.Instances {
		id := aws.StringValue(instance.InstanceId)
		m, err := r.member(lb, id)
		if err != nil {
			return nil, err
		}
		m.target, m.pending = constants.StateInService, r.Lag
		r.events = append(r.events, fmt.Sprintf("register %v %v", lb, id))
	}
	return &elb.RegisterInstancesWithLoadBalancerOutput{}, nil
}

func (r *ELB) member(lb, id string) (*member, error) {
	members, ok := r.members[lb]
	if !ok {
		return nil, awserr.New("LoadBalancerNotFound", fmt.Sprintf("load balancer %v not found", lb), nil)
	}
	m, ok := members[id]
	if !ok {
		return nil, awserr.New("InvalidInstance", fmt.Sprintf("instance %v is not a member of %v", id, lb), nil)
	}
	return m, nil
}

func (r *ELB) allInService(id string) bool {
	for _, members := range r.members {
		if m, ok := members[id]; ok && (m.state != constants.StateInService || m.target != "") {
			return false
		}
	}
	return true
}
