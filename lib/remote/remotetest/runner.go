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

// Package remotetest provides a scripted in-memory remote runner for tests
package remotetest

import (
	"context"
	"io/ioutil"
	"os"
	"strings"
	"sync"

	"github.com/gravitational/rolldeploy/lib/remote"

	"github.com/gravitational/trace"
)

// Call is a recorded remote command
type Call struct {
	// Command is the command as passed to the runner
	Command string
	// Sudo is true if the command was run with privileges
	Sudo bool
	// Options are the command options
	Options remote.Options
	// Stdin is the data fed to the command
	Stdin string
}

// HandlerFunc responds to a command
type HandlerFunc func(call Call) (string, error)

// New returns a new runner for host that succeeds with empty output
// unless a handler matches the command
func New(host string) *Runner {
	return &Runner{
		host:  host,
		Files: make(map[string][]byte),
	}
}

// Runner is a scripted remote.Runner that records commands
type Runner struct {
	mu       sync.Mutex
	host     string
	handlers []handler
	calls    []Call
	// Files holds uploaded files by path
	Files map[string][]byte
	// Closed is set once the runner is closed
	Closed bool
}

type handler struct {
	pattern string
	fn      HandlerFunc
}

// On registers fn for commands containing pattern.
// Handlers registered later take precedence
func (r *Runner) On(pattern string, fn HandlerFunc) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers = append(r.handlers, handler{pattern: pattern, fn: fn})
	return r
}

// OnOutput responds to commands containing pattern with output
func (r *Runner) OnOutput(pattern, output string) *Runner {
	return r.On(pattern, func(Call) (string, error) {
		return output, nil
	})
}

// OnExit fails commands containing pattern with the exit status
func (r *Runner) OnExit(pattern string, status int) *Runner {
	return r.On(pattern, func(call Call) (string, error) {
		return "", &remote.ExitError{
			Host:    r.host,
			Command: call.Command,
			Status:  status,
		}
	})
}

// Host returns the host name
func (r *Runner) Host() string {
	return r.host
}

// Run records and responds to the command
func (r *Runner) Run(ctx context.Context, command string, opts ...remote.Option) (string, error) {
	return r.exec(command, false, opts)
}

// Sudo records and responds to the command
func (r *Runner) Sudo(ctx context.Context, command string, opts ...remote.Option) (string, error) {
	return r.exec(command, true, opts)
}

// Put stores the file
func (r *Runner) Put(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Files[path] = append([]byte(nil), data...)
	return nil
}

// Close marks the runner closed
func (r *Runner) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Closed = true
	return nil
}

// Calls returns the recorded commands
func (r *Runner) Calls() []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Call(nil), r.calls...)
}

// Commands returns the recorded command strings
func (r *Runner) Commands() []string {
	var commands []string
	for _, call := range r.Calls() {
		commands = append(commands, call.Command)
	}
	return commands
}

// Mutations returns the recorded command strings that are not read-only
func (r *Runner) Mutations() []string {
	var commands []string
	for _, call := range r.Calls() {
		if !call.Options.ReadOnly {
			commands = append(commands, call.Command)
		}
	}
	return commands
}

// Reset forgets the recorded commands
func (r *Runner) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

func (r *Runner) exec(command string, sudo bool, opts []remote.Option) (string, error) {
	call := Call{
		Command: command,
		Sudo:    sudo,
		Options: remote.ApplyOptions(opts...),
	}
	if call.Options.Stdin != nil {
		data, err := ioutil.ReadAll(call.Options.Stdin)
		if err != nil {
			return "", trace.Wrap(err)
		}
		call.Stdin = string(data)
	}
	r.mu.Lock()
	r.calls = append(r.calls, call)
	var fn HandlerFunc
	for i := len(r.handlers) - 1; i >= 0; i-- {
		if strings.Contains(command, r.handlers[i].pattern) {
			fn = r.handlers[i].fn
			break
		}
	}
	r.mu.Unlock()
	if fn == nil {
		return "", nil
	}
	return fn(call)
}

// Fleet is a connector over a fixed set of scripted runners
type Fleet map[string]*Runner

// NewFleet returns a fleet with a new runner for every host
func NewFleet(hosts ...string) Fleet {
	fleet := make(Fleet)
	for _, host := range hosts {
		fleet[host] = New(host)
	}
	return fleet
}

// Connect returns the runner of host
func (r Fleet) Connect(ctx context.Context, host string) (remote.Runner, error) {
	runner, ok := r[host]
	if !ok {
		return nil, trace.NotFound("host %v is not in the fleet", host)
	}
	return runner, nil
}
