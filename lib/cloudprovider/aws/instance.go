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
	"strings"
	"sync"

	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/remote"

	"github.com/gravitational/trace"
)

// NewInstanceIDs returns a per-host cache of EC2 instance IDs
func NewInstanceIDs(connector remote.Connector) *InstanceIDs {
	return &InstanceIDs{
		connector: connector,
		ids:       make(map[string]string),
	}
}

// InstanceIDs resolves the EC2 instance ID of a host with the metadata
// service on the host itself
type InstanceIDs struct {
	connector remote.Connector
	mu        sync.Mutex
	ids       map[string]string
}

// InstanceID returns the instance ID of host
func (r *InstanceIDs) InstanceID(ctx context.Context, host string) (string, error) {
	r.mu.Lock()
	id, ok := r.ids[host]
	r.mu.Unlock()
	if ok {
		return id, nil
	}
	runner, err := r.connector.Connect(ctx, host)
	if err != nil {
		return "", trace.Wrap(err)
	}
	out, err := runner.Run(ctx, defaults.InstanceIDCommand, remote.ReadOnly())
	if err != nil {
		return "", trace.Wrap(err, "failed to query instance ID of %v", host)
	}
	id = strings.TrimSpace(out)
	if id == "" {
		return "", trace.NotFound("empty instance ID on %v", host)
	}
	r.mu.Lock()
	r.ids[host] = id
	r.mu.Unlock()
	return id, nil
}
