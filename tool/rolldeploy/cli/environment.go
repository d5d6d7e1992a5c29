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
	"os/user"

	gaws "github.com/gravitational/rolldeploy/lib/cloudprovider/aws"
	"github.com/gravitational/rolldeploy/lib/loadbalancer"
	"github.com/gravitational/rolldeploy/lib/lock"
	"github.com/gravitational/rolldeploy/lib/metrics"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/ec2"
	"github.com/aws/aws-sdk-go/service/elb"
	"github.com/gravitational/trace"
)

// environment holds the collaborators shared by the commands.
// AWS clients are created on first use
type environment struct {
	Application
	progress  utils.Progress
	pool      *remote.Pool
	connector remote.Connector
	metrics   *metrics.Prometheus
	session   *session.Session
	inventory *gaws.Inventory
}

func newEnvironment(app Application, title string) (*environment, error) {
	printer := utils.DefaultStepPrinter
	if *app.Timestamps {
		printer = utils.TimestampedStepPrinter
	}
	ssh, err := remote.NewSSHConnector(remote.SSHConfig{
		User:           *app.SSHUser,
		Port:           *app.SSHPort,
		IdentityFile:   *app.IdentityFile,
		KnownHostsFile: *app.KnownHostsFile,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	env := &environment{
		Application: app,
		progress: utils.NewProgress(utils.ProgressConfig{
			Title:       title,
			Noop:        *app.Noop,
			StepPrinter: printer,
		}),
		pool:    remote.NewPool(ssh),
		metrics: metrics.NewPrometheus(),
	}
	env.connector = env.pool
	if *app.Noop {
		env.connector = remote.NewNoopConnector(env.pool)
	}
	return env, nil
}

// Close closes the host connections and pushes the recorded metrics
func (r *environment) Close() error {
	var errors []error
	if err := r.pool.Close(); err != nil {
		errors = append(errors, err)
	}
	if *r.MetricsURL != "" {
		if err := r.metrics.Push(*r.MetricsURL); err != nil {
			errors = append(errors, err)
		}
	}
	return trace.NewAggregate(errors...)
}

// Registry loads the package registry
func (r *environment) Registry() (*packages.Registry, error) {
	registry, err := packages.Load(*r.RegistryPath)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return registry, nil
}

// Hosts returns the hosts given on the command line followed by
// the hosts matching the tags
func (r *environment) Hosts(ctx context.Context) ([]string, error) {
	hosts := append([]string(nil), *r.Application.Hosts...)
	if len(*r.Tags) != 0 {
		inventory, err := r.Inventory()
		if err != nil {
			return nil, trace.Wrap(err)
		}
		tagged, err := inventory.HostsByTags(ctx, *r.Tags)
		if err != nil {
			return nil, trace.Wrap(err)
		}
		for _, host := range tagged {
			if !utils.StringInSlice(hosts, host) {
				hosts = append(hosts, host)
			}
		}
	}
	if len(hosts) == 0 {
		return nil, trace.BadParameter("no hosts selected, use --host or --tag")
	}
	return hosts, nil
}

// Session returns the AWS session
func (r *environment) Session() (*session.Session, error) {
	if r.session != nil {
		return r.session, nil
	}
	sess, err := gaws.NewSession(*r.Region)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	r.session = sess
	return sess, nil
}

// Inventory returns the EC2 inventory
func (r *environment) Inventory() (*gaws.Inventory, error) {
	if r.inventory != nil {
		return r.inventory, nil
	}
	sess, err := r.Session()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	inventory, err := gaws.New(gaws.Config{Cloud: ec2.New(sess)})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	r.inventory = inventory
	return inventory, nil
}

// LoadBalancer returns the gate that drains hosts from the load balancers
func (r *environment) LoadBalancer() (*loadbalancer.Gate, error) {
	sess, err := r.Session()
	if err != nil {
		return nil, trace.Wrap(err)
	}
	gate, err := loadbalancer.New(loadbalancer.Config{
		Client:   elb.New(sess),
		Noop:     *r.Noop,
		Metrics:  r.metrics,
		Progress: r.progress,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return gate, nil
}

// Locks returns the manager of the host locks held by the operator
func (r *environment) Locks() (*lock.Manager, error) {
	name := *r.DeployUser
	if name == "" {
		current, err := user.Current()
		if err != nil {
			return nil, trace.ConvertSystemError(err)
		}
		name = current.Username
	}
	identity, err := lock.NewIdentity(name)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	locks, err := lock.New(lock.Config{
		Backend:  lock.NewFileBackend(r.connector),
		Identity: identity.String(),
		Timeout:  *r.LockTimeout,
		Progress: r.progress,
	})
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return locks, nil
}
