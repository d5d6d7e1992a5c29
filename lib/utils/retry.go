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

package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/gravitational/rolldeploy/lib/defaults"

	"github.com/cenkalti/backoff"
	"github.com/gravitational/trace"
	log "github.com/sirupsen/logrus"
)

// Abort causes RetryWithInterval to stop with the wrapped error
func Abort(err error) *backoff.PermanentError {
	return &backoff.PermanentError{Err: err}
}

// Continue causes RetryWithInterval to continue trying and logging message
func Continue(format string, args ...interface{}) *ContinueRetry {
	return &ContinueRetry{Message: fmt.Sprintf(format, args...)}
}

// IsContinueError returns true if provided error is of ContinueRetry type
func IsContinueError(err error) bool {
	_, ok := trace.Unwrap(err).(*ContinueRetry)
	return ok
}

// ContinueRetry if returned from RetryWithInterval, will lead to retry next time
type ContinueRetry struct {
	Message string
}

// Error returns the continue error string representation
func (s *ContinueRetry) Error() string {
	return fmt.Sprintf("ContinueRetry(%v)", s.Message)
}

// RetryWithInterval retries the specified operation fn using the specified backoff interval.
// fn should return backoff.PermanentError (see Abort) if the error
// should not be retried and returned directly.
// Returns nil on success or the last received error upon exhausting the interval.
func RetryWithInterval(ctx context.Context, interval backoff.BackOff, fn func() error) error {
	b := backoff.WithContext(interval, ctx)
	err := backoff.RetryNotify(fn, b, func(err error, d time.Duration) {
		if IsContinueError(err) {
			log.Debugf("%v, retry in %v.", err, d)
			return
		}
		log.WithError(err).Debugf("Retrying in %v.", d)
	})
	if err != nil {
		log.Debugf("All attempts failed: %v.", trace.DebugReport(err))
		return trace.Wrap(err)
	}
	return nil
}

// NewCappedExponentialBackOff returns a backoff interval without jitter that
// starts at initial, doubles after every attempt, never exceeds max for a single
// step and stops after timeout. Zero timeout means no overall ceiling
func NewCappedExponentialBackOff(initial, max, timeout time.Duration) *backoff.ExponentialBackOff {
	b := &backoff.ExponentialBackOff{
		InitialInterval:     initial,
		RandomizationFactor: 0,
		Multiplier:          defaults.BackoffMultiplier,
		MaxInterval:         max,
		MaxElapsedTime:      timeout,
		Clock:               backoff.SystemClock,
	}
	b.Reset()
	return b
}

// NewLockBackOff returns the polling interval used while waiting for a deploy lock
func NewLockBackOff(timeout time.Duration) *backoff.ExponentialBackOff {
	return NewCappedExponentialBackOff(defaults.LockInitialInterval, defaults.LockMaxInterval, timeout)
}

// NewHealthPollBackOff returns the unbounded polling interval used while waiting
// for a load balancer to report the expected instance health
func NewHealthPollBackOff() *backoff.ExponentialBackOff {
	return NewCappedExponentialBackOff(defaults.HealthPollInitialInterval, defaults.HealthPollMaxInterval, 0)
}
