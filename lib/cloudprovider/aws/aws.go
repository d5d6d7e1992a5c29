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

package aws

import (
	"context"
	"sort"

	"github.com/gravitational/rolldeploy/lib/constants"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// EC2 is an interface representing AWS Elastic Compute cloud
type EC2 interface {
	DescribeInstancesWithContext(aws.Context, *ec2.DescribeInstancesInput, ...request.Option) (*ec2.DescribeInstancesOutput, error)
}

// NewSession returns a new AWS session for the region.
// Empty region is resolved from the environment and shared config
func NewSession(region string) (*session.Session, error) {
	config := aws.NewConfig().WithCredentialsChainVerboseErrors(true)
	if region != "" {
		config = config.WithRegion(region)
	}
	sess, err := session.NewSessionWithOptions(session.Options{
		Config:            *config,
		SharedConfigState: session.SharedConfigEnable,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return sess, nil
}

// Config configures the EC2 inventory
type Config struct {
	// Cloud is the EC2 client
	Cloud EC2
	// FieldLogger is the logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and sets default values
func (r *Config) CheckAndSetDefaults() error {
	if r.Cloud == nil {
		return trace.BadParameter("missing Cloud")
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, "ec2")
	}
	return nil
}

// New returns a new EC2 inventory
func New(config Config) (*Inventory, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Inventory{Config: config}, nil
}

// Inventory discovers hosts and their metadata from EC2
type Inventory struct {
	Config
}

// HostsByTags returns the addresses of running instances with the specified tag values.
// A value of "*" matches any value, the "env" tag is an alias of "environment".
// Public DNS names are preferred over private ones
func (r *Inventory) HostsByTags(ctx context.Context, tags map[string]string) ([]string, error) {
	input := &ec2.DescribeInstancesInput{
		Filters: []*ec2.Filter{{
			Name:   aws.String("instance-state-name"),
			Values: aws.StringSlice([]string{constants.EC2InstanceRunning}),
		}},
	}
	for _, key := range sortedKeys(tags) {
		value := tags[key]
		if value == constants.AnyTagValue {
			continue
		}
		if key == constants.EC2TagEnvironmentAlias {
			key = constants.EC2TagEnvironment
		}
		input.Filters = append(input.Filters, &ec2.Filter{
			Name:   aws.String("tag:" + key),
			Values: aws.StringSlice([]string{value}),
		})
	}
	instances, err := r.describeInstances(ctx, input)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	var hosts []string
	for _, instance := range instances {
		if instanceState(*instance) != constants.EC2InstanceRunning {
			continue
		}
		host := aws.StringValue(instance.PublicDnsName)
		if host == "" {
			host = aws.StringValue(instance.PrivateDnsName)
		}
		if host == "" {
			r.WithField(constants.FieldInstance, aws.StringValue(instance.InstanceId)).
				Warn("Instance has no DNS name, skipping.")
			continue
		}
		hosts = append(hosts, host)
	}
	sort.Strings(hosts)
	r.WithField("tags", tags).Debugf("Found hosts: %v.", hosts)
	return hosts, nil
}

// Exemplar returns the first host with the specified tag values
func (r *Inventory) Exemplar(ctx context.Context, tags map[string]string) (string, error) {
	hosts, err := r.HostsByTags(ctx, tags)
	if err != nil {
		return "", trace.Wrap(err)
	}
	if len(hosts) == 0 {
		return "", trace.NotFound("no running instances with tags %v", tags)
	}
	return hosts[0], nil
}

// InstanceTags returns the fleet tags of the specified instances by instance ID
func (r *Inventory) InstanceTags(ctx context.Context, instanceIDs ...string) (map[string]map[string]string, error) {
	instances, err := r.describeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: aws.StringSlice(instanceIDs),
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	result := make(map[string]map[string]string, len(instances))
	for _, instance := range instances {
		id := aws.StringValue(instance.InstanceId)
		tags := map[string]string{constants.TagInstanceID: id}
		for _, key := range []string{constants.EC2TagGroup, constants.EC2TagEnvironment, constants.EC2TagVariant} {
			if value, ok := instanceTag(*instance, key); ok {
				tags[key] = value
			}
		}
		result[id] = tags
	}
	return result, nil
}

func (r *Inventory) describeInstances(ctx context.Context, request *ec2.DescribeInstancesInput) (results []*ec2.Instance, err error) {
	for {
		response, err := r.Cloud.DescribeInstancesWithContext(ctx, request)
		if err != nil {
			return nil, trace.Wrap(ConvertError(err), "failed to list AWS instances")
		}
		for _, reservation := range response.Reservations {
			results = append(results, reservation.Instances...)
		}
		if isNilOrEmpty(response.NextToken) {
			break
		}
		request.NextToken = response.NextToken
	}
	return results, nil
}

// ConvertError converts AWS error to a trace error
func ConvertError(err error, args ...interface{}) error {
	if err == nil {
		return nil
	}
	if awsErr, ok := err.(awserr.Error); ok {
		switch awsErr.Code() {
		case "InvalidInstanceID.NotFound", "LoadBalancerNotFound", "InvalidInstance":
			return trace.NotFound(awsErr.Error(), args...)
		case "AccessDenied", "UnauthorizedOperation", "AuthFailure":
			return trace.AccessDenied(awsErr.Error(), args...)
		case "Throttling", "RequestLimitExceeded":
			return trace.LimitExceeded(awsErr.Error(), args...)
		default:
			return trace.BadParameter(awsErr.Error(), args...)
		}
	}
	return err
}

func instanceState(instance ec2.Instance) string {
	if instance.State != nil {
		return aws.StringValue(instance.State.Name)
	}
	return ""
}

// instanceTag returns the value of the tag specified with name
func instanceTag(instance ec2.Instance, name string) (value string, ok bool) {
	for _, tag := range instance.Tags {
		if aws.StringValue(tag.Key) == name {
			return aws.StringValue(tag.Value), true
		}
	}
	return "", false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for key := range m {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

func isNilOrEmpty(s *string) bool {
	return s == nil || *s == ""
}
