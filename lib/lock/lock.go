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

// Package lock implements the cooperative deploy lock held on every
// managed host while it is being deployed to
package lock

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gravitational/trace"
)

// Backend stores lock records keyed by host
type Backend interface {
	// TryAcquire stamps the lock of host with holder if the lock is free
	// or already held by holder. Otherwise it returns the current record
	TryAcquire(ctx context.Context, host, holder string) (*Status, error)
	// Release removes the lock of host. Releasing a free lock is not an error
	Release(ctx context.Context, host string) error
}

// Status describes the outcome of a lock acquisition attempt
type Status struct {
	// Acquired is true if the lock is now held by the caller
	Acquired bool
	// Holder is the record of the current lock holder
	Holder string
	// Modified is the time the lock was last stamped
	Modified time.Time
}

// Identity identifies a deploy process
type Identity struct {
	// User is the operator running the deploy
	User string
	// Hostname is the host the deploy runs from
	Hostname string
	// PID is the process ID of the deploy
	PID int
}

// NewIdentity returns the identity of the current process run by user
func NewIdentity(user string) (*Identity, error) {
	if user == "" {
		return nil, trace.BadParameter("missing user")
	}
	hostname, err := os.Hostname()
	if err != nil {
		return nil, trace.ConvertSystemError(err)
	}
	return &Identity{
		User:     user,
		Hostname: hostname,
		PID:      os.Getpid(),
	}, nil
}

// String returns the lock record of this identity
func (r Identity) String() string {
	return fmt.Sprintf("u:%v h:%v pid:%v", r.User, r.Hostname, r.PID)
}
