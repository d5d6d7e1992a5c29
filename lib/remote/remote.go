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

// Package remote executes commands on managed hosts
package remote

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/gravitational/trace"
	shellquote "github.com/kballard/go-shellquote"
)

// Runner executes commands on a single host
type Runner interface {
	// Host returns the address of the host this runner executes commands on
	Host() string
	// Run executes the command as the login user and returns its trimmed output
	Run(ctx context.Context, command string, opts ...Option) (string, error)
	// Sudo executes the command as a privileged user and returns its trimmed output
	Sudo(ctx context.Context, command string, opts ...Option) (string, error)
	// Put uploads data to path on the host with the given file mode
	Put(ctx context.Context, path string, data []byte, mode os.FileMode) error
	// Close releases the resources held by this runner
	Close() error
}

// Connector opens runners to hosts
type Connector interface {
	// Connect returns a runner for the specified host
	Connect(ctx context.Context, host string) (Runner, error)
}

// Options describes how a command is executed
type Options struct {
	// Dir is the working directory of the command
	Dir string
	// Env lists environment variables exported before the command
	Env map[string]string
	// User is the user to run a privileged command as
	User string
	// ReadOnly marks the command as having no side effects on the host
	ReadOnly bool
	// Stdin is fed to the command
	Stdin io.Reader
}

// Option customizes command execution
type Option func(*Options)

// Dir sets the working directory of the command
func Dir(dir string) Option {
	return func(o *Options) {
		o.Dir = dir
	}
}

// Env exports the environment variable before running the command
func Env(key, value string) Option {
	return func(o *Options) {
		if o.Env == nil {
			o.Env = make(map[string]string)
		}
		o.Env[key] = value
	}
}

// AsUser runs a privileged command as the specified user
func AsUser(user string) Option {
	return func(o *Options) {
		o.User = user
	}
}

// ReadOnly marks the command as safe to run in noop mode
func ReadOnly() Option {
	return func(o *Options) {
		o.ReadOnly = true
	}
}

// Stdin feeds r to the command's standard input
func Stdin(r io.Reader) Option {
	return func(o *Options) {
		o.Stdin = r
	}
}

// ApplyOptions returns the options resulting from opts
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Script returns the shell script that runs command with the working directory
// and environment from o
func (o Options) Script(command string) string {
	var parts []string
	if len(o.Env) != 0 {
		keys := make([]string, 0, len(o.Env))
		for key := range o.Env {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		for _, key := range keys {
			parts = append(parts, fmt.Sprintf("export %v=%v", key, shellquote.Join(o.Env[key])))
		}
	}
	if o.Dir != "" {
		parts = append(parts, "cd "+shellquote.Join(o.Dir))
	}
	parts = append(parts, command)
	return strings.Join(parts, " && ")
}

// ShellCommand returns the full command line sent to the host
func ShellCommand(command string, sudo bool, o Options) string {
	shell := shellquote.Join("/bin/bash", "-l", "-c", o.Script(command))
	if !sudo {
		return shell
	}
	args := []string{"sudo", "-S", "-p", "", "-H"}
	if o.User != "" {
		args = append(args, "-u", o.User)
	}
	return shellquote.Join(args...) + " " + shell
}

// ExitError is returned when a remote command exits with a non-zero status
type ExitError struct {
	// Host is the host the command ran on
	Host string
	// Command is the failed command
	Command string
	// Status is the exit status of the command
	Status int
	// Output is the combined output of the command
	Output string
}

// Error returns the error message
func (e *ExitError) Error() string {
	return fmt.Sprintf("command %q on %v exited with status %v", e.Command, e.Host, e.Status)
}

// IsExitError returns true if err is a non-zero exit of a remote command
func IsExitError(err error) bool {
	_, ok := trace.Unwrap(err).(*ExitError)
	return ok
}

// ExitStatus returns the exit status of the failed remote command
// or -1 if err is not an ExitError
func ExitStatus(err error) int {
	if exitErr, ok := trace.Unwrap(err).(*ExitError); ok {
		return exitErr.Status
	}
	return -1
}

// Exists returns true if path exists on the host
func Exists(ctx context.Context, runner Runner, path string) (bool, error) {
	return Test(ctx, runner, "test -e "+shellquote.Join(path))
}

// Test runs the read-only command and interprets exit status 1 as false
func Test(ctx context.Context, runner Runner, command string, opts ...Option) (bool, error) {
	_, err := runner.Sudo(ctx, command, append(opts, ReadOnly())...)
	if err == nil {
		return true, nil
	}
	if ExitStatus(err) == 1 {
		return false, nil
	}
	return false, trace.Wrap(err)
}
