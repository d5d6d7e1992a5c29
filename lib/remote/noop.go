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

package remote

import (
	"context"
	"os"

	"github.com/gravitational/rolldeploy/lib/constants"

	"github.com/gravitational/trace"
	"github.com/sirupsen/logrus"
)

// NewNoopConnector returns a connector whose runners skip every
// mutating command and upload
func NewNoopConnector(connector Connector) Connector {
	return &noopConnector{Connector: connector}
}

type noopConnector struct {
	Connector
}

// Connect returns a noop runner for host
func (r *noopConnector) Connect(ctx context.Context, host string) (Runner, error) {
	runner, err := r.Connector.Connect(ctx, host)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	return NewNoop(runner), nil
}

// NewNoop returns a runner that executes only read-only commands with runner
// and logs the rest
func NewNoop(runner Runner) Runner {
	return &noopRunner{
		Runner: runner,
		FieldLogger: logrus.WithFields(logrus.Fields{
			trace.Component:     constants.ComponentRemote,
			constants.FieldHost: runner.Host(),
		}),
	}
}

type noopRunner struct {
	Runner
	logrus.FieldLogger
}

// Run executes the command only if it is read-only
func (r *noopRunner) Run(ctx context.Context, command string, opts ...Option) (string, error) {
	if ApplyOptions(opts...).ReadOnly {
		return r.Runner.Run(ctx, command, opts...)
	}
	r.Infof("Would have called: run(%q).", command)
	return "", nil
}

// Sudo executes the command only if it is read-only
func (r *noopRunner) Sudo(ctx context.Context, command string, opts ...Option) (string, error) {
	if ApplyOptions(opts...).ReadOnly {
		return r.Runner.Sudo(ctx, command, opts...)
	}
	r.Infof("Would have called: sudo(%q).", command)
	return "", nil
}

// Put logs the upload
func (r *noopRunner) Put(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	r.Infof("Would have called: put(%v, %v bytes, %v).", path, len(data), mode)
	return nil
}
