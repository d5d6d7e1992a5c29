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
	"sync"

	"github.com/jonboulle/clockwork"
)

// NewMemoryBackend returns a backend that keeps lock records in memory.
// It serves processes sharing a single coordinator and tests
func NewMemoryBackend(clock clockwork.Clock) *MemoryBackend {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &MemoryBackend{
		clock:   clock,
		records: make(map[string]Status),
	}
}

// MemoryBackend keeps lock records in memory
type MemoryBackend struct {
	mu      sync.Mutex
	clock   clockwork.Clock
	records map[string]Status
}

// TryAcquire stamps the lock of host with holder if it is free or held by holder
func (r *MemoryBackend) TryAcquire(ctx context.Context, host, holder string) (*Status, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[host]
	if ok && record.Holder != holder {
		return &Status{Holder: record.Holder, Modified: record.Modified}, nil
	}
	r.records[host] = Status{Holder: holder, Modified: r.clock.Now()}
	return &Status{Acquired: true, Holder: holder, Modified: r.clock.Now()}, nil
}

// Release removes the lock of host
func (r *MemoryBackend) Release(ctx context.Context, host string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.records, host)
	return nil
}

// Holder returns the current holder of the lock of host
func (r *MemoryBackend) Holder(host string) (holder string, ok bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[host]
	return record.Holder, ok
}
