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

package lock

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"github.com/sirupsen/logrus"
)

// Config configures the lock manager
type Config struct {
	// Backend stores the lock records
	Backend Backend
	// Identity is the lock record of this process
	Identity string
	// Timeout limits the time to wait for a single lock
	Timeout time.Duration
	// Clock is used to compute how long a lock has been held
	Clock clockwork.Clock
	// Progress narrates waits to the operator
	Progress utils.Progress
	// FieldLogger is the logger
	logrus.FieldLogger
}

// CheckAndSetDefaults validates the config and sets default values
func (r *Config) CheckAndSetDefaults() error {
	if r.Backend == nil {
		return trace.BadParameter("missing Backend")
	}
	if r.Identity == "" {
		return trace.BadParameter("missing Identity")
	}
	if r.Timeout == 0 {
		r.Timeout = defaults.LockTimeout
	}
	if r.Clock == nil {
		r.Clock = clockwork.NewRealClock()
	}
	if r.Progress == nil {
		r.Progress = utils.DiscardProgress
	}
	if r.FieldLogger == nil {
		r.FieldLogger = logrus.WithField(trace.Component, constants.ComponentLock)
	}
	return nil
}

// New returns a new lock manager
func New(config Config) (*Manager, error) {
	if err := config.CheckAndSetDefaults(); err != nil {
		return nil, trace.Wrap(err)
	}
	return &Manager{Config: config}, nil
}

// Manager acquires and releases deploy locks on hosts
type Manager struct {
	Config
}

// WaitForLock blocks until the lock of host is held by this process.
// The lock is re-entrant: waiting on a lock already held succeeds immediately.
// Returns trace.LimitExceeded if the lock is not released by its holder in time
// and the context error if ctx is done first
func (r *Manager) WaitForLock(ctx context.Context, host string) error {
	logger := r.WithField(constants.FieldHost, host)
	var last *Status
	err := utils.RetryWithInterval(ctx, utils.NewLockBackOff(r.Timeout), func() error {
		status, err := r.Backend.TryAcquire(ctx, host, r.Identity)
		if err != nil {
			return utils.Abort(err)
		}
		if status.Acquired {
			return nil
		}
		last = status
		held := r.Clock.Since(status.Modified).Round(time.Second)
		r.Progress.PrintSubStep("%v is locked by %q for %v, waiting.", host, status.Holder, held)
		return utils.Continue("%v is locked by %q", host, status.Holder)
	})
	if err != nil && ctx.Err() != nil {
		return trace.Wrap(ctx.Err(), "interrupted waiting for lock on %v", host)
	}
	if err != nil && utils.IsContinueError(err) && last != nil {
		return trace.LimitExceeded("timed out after %v waiting for lock on %v held by %q for %v",
			r.Timeout, host, last.Holder, r.Clock.Since(last.Modified).Round(time.Second))
	}
	if err != nil {
		return trace.Wrap(err)
	}
	logger.Debug("Acquired lock.")
	return nil
}

// RemoveLock releases the lock of host
func (r *Manager) RemoveLock(ctx context.Context, host string) error {
	if err := r.Backend.Release(ctx, host); err != nil {
		return trace.Wrap(err, "failed to remove lock on %v", host)
	}
	r.WithField(constants.FieldHost, host).Debug("Removed lock.")
	return nil
}

// WaitForAll acquires the locks of hosts in ascending host order.
// Locks acquired before a failure are kept
func (r *Manager) WaitForAll(ctx context.Context, hosts []string) error {
	for _, host := range sortedHosts(hosts) {
		if err := r.WaitForLock(ctx, host); err != nil {
			return trace.Wrap(err)
		}
	}
	return nil
}

// RemoveAll releases the locks of hosts in descending host order.
// All hosts are attempted regardless of failures
func (r *Manager) RemoveAll(ctx context.Context, hosts []string) error {
	sorted := sortedHosts(hosts)
	var errors []error
	for i := len(sorted) - 1; i >= 0; i-- {
		if err := r.RemoveLock(ctx, sorted[i]); err != nil {
			errors = append(errors, err)
		}
	}
	return trace.NewAggregate(errors...)
}

// Acquire acquires the locks of hosts in ascending order.
// On failure, the locks acquired so far are released
func (r *Manager) Acquire(ctx context.Context, hosts []string) (*Lease, error) {
	lease := &Lease{manager: r}
	for _, host := range sortedHosts(hosts) {
		if err := r.WaitForLock(ctx, host); err != nil {
			if errRelease := lease.Release(ctx); errRelease != nil {
				r.WithError(errRelease).Warn("Failed to release locks.")
			}
			return nil, trace.Wrap(err)
		}
		lease.hosts = append(lease.hosts, host)
	}
	return lease, nil
}

// Hold runs fn while holding the locks of all hosts.
// The locks still held by the lease are released on every exit path
func (r *Manager) Hold(ctx context.Context, hosts []string, fn func(context.Context, *Lease) error) (err error) {
	lease, err := r.Acquire(ctx, hosts)
	if err != nil {
		return trace.Wrap(err)
	}
	defer func() {
		// release even if ctx has been cancelled
		errRelease := lease.Release(context.Background())
		if errRelease == nil {
			return
		}
		if err == nil {
			err = trace.Wrap(errRelease)
			return
		}
		r.WithError(errRelease).Warn("Failed to release locks.")
	}()
	return fn(ctx, lease)
}

// Locker acquires and releases the lock of a single host
type Locker interface {
	// WaitForLock blocks until the lock of host is held
	WaitForLock(ctx context.Context, host string) error
	// RemoveLock releases the lock of host
	RemoveLock(ctx context.Context, host string) error
}

// Lease is a set of held locks
type Lease struct {
	manager *Manager
	mu      sync.Mutex
	hosts   []string
}

// Hosts returns the hosts whose locks are held in acquisition order
func (r *Lease) Hosts() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.hosts...)
}

// WaitForLock blocks until the lock of host is held and adds it to the lease
func (r *Lease) WaitForLock(ctx context.Context, host string) error {
	if err := r.manager.WaitForLock(ctx, host); err != nil {
		return trace.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !utils.StringInSlice(r.hosts, host) {
		r.hosts = append(r.hosts, host)
	}
	return nil
}

// RemoveLock releases the lock of host and drops it from the lease
// so that it is not released again once someone else holds it
func (r *Lease) RemoveLock(ctx context.Context, host string) error {
	if err := r.manager.RemoveLock(ctx, host); err != nil {
		return trace.Wrap(err)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	var hosts []string
	for _, held := range r.hosts {
		if held != host {
			hosts = append(hosts, held)
		}
	}
	r.hosts = hosts
	return nil
}

// Release releases the held locks in reverse acquisition order.
// Releasing a lease twice is safe
func (r *Lease) Release(ctx context.Context) error {
	r.mu.Lock()
	hosts := r.hosts
	r.hosts = nil
	r.mu.Unlock()
	return trace.Wrap(r.manager.RemoveAll(ctx, hosts))
}

func sortedHosts(hosts []string) []string {
	sorted := append([]string(nil), hosts...)
	sort.Strings(sorted)
	return sorted
}
