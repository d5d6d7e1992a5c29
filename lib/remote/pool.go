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
	"sync"

	"github.com/gravitational/trace"
)

// NewPool returns a connector that reuses a single runner per host
func NewPool(connector Connector) *Pool {
	return &Pool{
		connector: connector,
		runners:   make(map[string]Runner),
	}
}

// Pool caches runners by host
type Pool struct {
	connector Connector
	mu        sync.Mutex
	runners   map[string]Runner
}

// Connect returns the cached runner for host, connecting if necessary
func (r *Pool) Connect(ctx context.Context, host string) (Runner, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if runner, ok := r.runners[host]; ok {
		return runner, nil
	}
	runner, err := r.connector.Connect(ctx, host)
	if err != nil {
		return nil, trace.Wrap(err)
	}
	r.runners[host] = runner
	return runner, nil
}

// Close closes all cached runners
func (r *Pool) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	var errors []error
	for host, runner := range r.runners {
		if err := runner.Close(); err != nil {
			errors = append(errors, trace.Wrap(err, "failed to close connection to %v", host))
		}
		delete(r.runners, host)
	}
	return trace.NewAggregate(errors...)
}
