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
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/ioutil"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/remote/remotetest"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/gravitational/trace"
	"github.com/jonboulle/clockwork"
	"gopkg.in/check.v1"
)

func TestLock(t *testing.T) { check.TestingT(t) }

type LockSuite struct {
	clock   clockwork.FakeClock
	backend *MemoryBackend
}

var _ = check.Suite(&LockSuite{})

func (s *LockSuite) SetUpTest(c *check.C) {
	s.clock = clockwork.NewFakeClock()
	s.backend = NewMemoryBackend(s.clock)
}

func (s *LockSuite) newManager(c *check.C, identity string, timeout time.Duration) *Manager {
	manager, err := New(Config{
		Backend:  s.backend,
		Identity: identity,
		Timeout:  timeout,
		Clock:    s.clock,
	})
	c.Assert(err, check.IsNil)
	return manager
}

func (s *LockSuite) TestIdentityRecord(c *check.C) {
	identity := Identity{User: "alice", Hostname: "ops1", PID: 42}
	c.Assert(identity.String(), check.Equals, "u:alice h:ops1 pid:42")
}

func (s *LockSuite) TestReentrantForSameIdentity(c *check.C) {
	manager := s.newManager(c, "u:alice h:ops1 pid:42", time.Second)
	ctx := context.TODO()
	c.Assert(manager.WaitForLock(ctx, "host1"), check.IsNil)
	c.Assert(manager.WaitForLock(ctx, "host1"), check.IsNil)
	holder, ok := s.backend.Holder("host1")
	c.Assert(ok, check.Equals, true)
	c.Assert(holder, check.Equals, "u:alice h:ops1 pid:42")
}

func (s *LockSuite) TestSecondHolderBlocksUntilRelease(c *check.C) {
	first := s.newManager(c, "u:alice h:ops1 pid:1", 5*time.Second)
	second := s.newManager(c, "u:bob h:ops2 pid:2", 5*time.Second)
	ctx := context.TODO()
	c.Assert(first.WaitForLock(ctx, "host1"), check.IsNil)

	acquired := make(chan error, 1)
	go func() {
		acquired <- second.WaitForLock(ctx, "host1")
	}()

	select {
	case err := <-acquired:
		c.Fatalf("acquired lock held by another identity: %v", err)
	case <-time.After(300 * time.Millisecond):
	}
	holder, _ := s.backend.Holder("host1")
	c.Assert(holder, check.Equals, "u:alice h:ops1 pid:1")

	c.Assert(first.RemoveLock(ctx, "host1"), check.IsNil)
	select {
	case err := <-acquired:
		c.Assert(err, check.IsNil)
	case <-time.After(5 * time.Second):
		c.Fatal("timed out waiting for lock")
	}
	holder, _ = s.backend.Holder("host1")
	c.Assert(holder, check.Equals, "u:bob h:ops2 pid:2")
}

func (s *LockSuite) TestTimeoutReportsHolder(c *check.C) {
	var out bytes.Buffer
	other := s.newManager(c, "u:bob h:ops2 pid:2", time.Second)
	ctx := context.TODO()
	c.Assert(other.WaitForLock(ctx, "host1"), check.IsNil)
	s.clock.Advance(5 * time.Minute)

	manager := s.newManager(c, "u:alice h:ops1 pid:1", 250*time.Millisecond)
	manager.Progress = utils.NewProgress(utils.ProgressConfig{
		Output:      &out,
		StepPrinter: utils.DefaultStepPrinter,
	})
	err := manager.WaitForLock(ctx, "host1")
	c.Assert(trace.IsLimitExceeded(err), check.Equals, true, check.Commentf("%v", err))
	c.Assert(err.Error(), check.Matches, `(?s).*held by "u:bob h:ops2 pid:2" for 5m0s.*`)
	c.Assert(out.String(), check.Matches, `(?s).*host1 is locked by "u:bob h:ops2 pid:2" for 5m0s, waiting.*`)
}

func (s *LockSuite) TestCancelledWaitIsNotTimeout(c *check.C) {
	other := s.newManager(c, "u:bob h:ops2 pid:2", time.Second)
	c.Assert(other.WaitForLock(context.TODO(), "host1"), check.IsNil)

	manager := s.newManager(c, "u:alice h:ops1 pid:1", time.Minute)
	ctx, cancel := context.WithTimeout(context.TODO(), 50*time.Millisecond)
	defer cancel()
	err := manager.WaitForLock(ctx, "host1")
	c.Assert(err, check.NotNil)
	c.Assert(trace.IsLimitExceeded(err), check.Equals, false, check.Commentf("%v", err))
	c.Assert(trace.Unwrap(err), check.Equals, context.DeadlineExceeded)
}

func (s *LockSuite) TestRemoveIsIdempotent(c *check.C) {
	manager := s.newManager(c, "u:alice h:ops1 pid:1", time.Second)
	ctx := context.TODO()
	c.Assert(manager.RemoveLock(ctx, "host1"), check.IsNil)
	c.Assert(manager.WaitForLock(ctx, "host1"), check.IsNil)
	c.Assert(manager.RemoveLock(ctx, "host1"), check.IsNil)
	c.Assert(manager.RemoveLock(ctx, "host1"), check.IsNil)
	_, ok := s.backend.Holder("host1")
	c.Assert(ok, check.Equals, false)
}

func (s *LockSuite) TestOrdering(c *check.C) {
	backend := &recordingBackend{Backend: s.backend}
	manager, err := New(Config{Backend: backend, Identity: "u:alice h:ops1 pid:1"})
	c.Assert(err, check.IsNil)
	ctx := context.TODO()
	hosts := []string{"host2", "host3", "host1"}

	c.Assert(manager.WaitForAll(ctx, hosts), check.IsNil)
	c.Assert(manager.RemoveAll(ctx, hosts), check.IsNil)
	c.Assert(backend.ops, check.DeepEquals, []string{
		"acquire host1", "acquire host2", "acquire host3",
		"release host3", "release host2", "release host1",
	})
}

func (s *LockSuite) TestHoldReleasesOnFailure(c *check.C) {
	manager := s.newManager(c, "u:alice h:ops1 pid:1", time.Second)
	failure := errors.New("operator declined")
	err := manager.Hold(context.TODO(), []string{"host1", "host2"}, func(context.Context, *Lease) error {
		for _, host := range []string{"host1", "host2"} {
			holder, _ := s.backend.Holder(host)
			c.Assert(holder, check.Equals, "u:alice h:ops1 pid:1")
		}
		return failure
	})
	c.Assert(trace.Unwrap(err), check.Equals, failure)
	for _, host := range []string{"host1", "host2"} {
		_, ok := s.backend.Holder(host)
		c.Assert(ok, check.Equals, false)
	}
}

func (s *LockSuite) TestLeaseDoesNotReleaseLocksTakenOver(c *check.C) {
	manager := s.newManager(c, "u:alice h:ops1 pid:1", time.Second)
	other := s.newManager(c, "u:bob h:ops2 pid:2", time.Second)
	ctx := context.TODO()
	err := manager.Hold(ctx, []string{"host1", "host2"}, func(ctx context.Context, lease *Lease) error {
		c.Assert(lease.RemoveLock(ctx, "host1"), check.IsNil)
		c.Assert(lease.Hosts(), check.DeepEquals, []string{"host2"})
		return other.WaitForLock(ctx, "host1")
	})
	c.Assert(err, check.IsNil)
	holder, ok := s.backend.Holder("host1")
	c.Assert(ok, check.Equals, true)
	c.Assert(holder, check.Equals, "u:bob h:ops2 pid:2")
	_, ok = s.backend.Holder("host2")
	c.Assert(ok, check.Equals, false)
}

func (s *LockSuite) TestAcquireReleasesPartialLocksOnTimeout(c *check.C) {
	other := s.newManager(c, "u:bob h:ops2 pid:2", time.Second)
	ctx := context.TODO()
	c.Assert(other.WaitForLock(ctx, "host2"), check.IsNil)

	manager := s.newManager(c, "u:alice h:ops1 pid:1", 150*time.Millisecond)
	_, err := manager.Acquire(ctx, []string{"host1", "host2"})
	c.Assert(trace.IsLimitExceeded(err), check.Equals, true)
	_, ok := s.backend.Holder("host1")
	c.Assert(ok, check.Equals, false)
	holder, _ := s.backend.Holder("host2")
	c.Assert(holder, check.Equals, "u:bob h:ops2 pid:2")
}

func (s *LockSuite) TestFileBackend(c *check.C) {
	fleet := remotetest.NewFleet("host1")
	runner := fleet["host1"]
	backend := NewFileBackend(fleet)
	ctx := context.TODO()

	status, err := backend.TryAcquire(ctx, "host1", "u:alice h:ops1 pid:1")
	c.Assert(err, check.IsNil)
	c.Assert(status.Acquired, check.Equals, true)
	c.Assert(runner.Mutations(), check.DeepEquals, []string{
		acquireScript("/opt/deploy/.lock", "u:alice h:ops1 pid:1"),
	})
	c.Assert(strings.Contains(runner.Mutations()[0], "flock -x 9"), check.Equals, true)

	modified := time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)
	runner.OnOutput("flock", "locked\nu:bob h:ops2 pid:2\n"+strconv.FormatInt(modified.Unix(), 10))
	runner.Reset()
	status, err = backend.TryAcquire(ctx, "host1", "u:alice h:ops1 pid:1")
	c.Assert(err, check.IsNil)
	c.Assert(status.Acquired, check.Equals, false)
	c.Assert(status.Holder, check.Equals, "u:bob h:ops2 pid:2")
	c.Assert(status.Modified.Equal(modified), check.Equals, true)
	c.Assert(runner.Commands(), check.HasLen, 1)

	runner.OnOutput("flock", "locked\nu:bob h:ops2 pid:2")
	_, err = backend.TryAcquire(ctx, "host1", "u:alice h:ops1 pid:1")
	c.Assert(trace.IsBadParameter(err), check.Equals, true)

	runner.Reset()
	c.Assert(backend.Release(ctx, "host1"), check.IsNil)
	c.Assert(runner.Commands(), check.DeepEquals, []string{"rm -f /opt/deploy/.lock"})
}

func (s *LockSuite) TestFileBackendContended(c *check.C) {
	for _, command := range []string{"command -v flock", "stat -c %Y /"} {
		if err := exec.Command("/bin/bash", "-c", command).Run(); err != nil {
			c.Skip(fmt.Sprintf("%q is not available: %v", command, err))
		}
	}
	path := filepath.Join(c.MkDir(), "deploy", ".lock")
	backend := &FileBackend{connector: shellConnector{}, path: path}
	ctx := context.TODO()

	const contenders = 8
	statuses := make([]*Status, contenders)
	errs := make([]error, contenders)
	var wg sync.WaitGroup
	for i := 0; i < contenders; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			statuses[i], errs[i] = backend.TryAcquire(ctx, "localhost", fmt.Sprintf("u:ops%v h:deployer pid:%v", i, i))
		}(i)
	}
	wg.Wait()
	var winners []string
	for i, status := range statuses {
		c.Assert(errs[i], check.IsNil)
		if status.Acquired {
			winners = append(winners, status.Holder)
		}
	}
	c.Assert(winners, check.HasLen, 1)
	for _, status := range statuses {
		c.Assert(status.Holder, check.Equals, winners[0])
	}

	status, err := backend.TryAcquire(ctx, "localhost", winners[0])
	c.Assert(err, check.IsNil)
	c.Assert(status.Acquired, check.Equals, true)

	c.Assert(ioutil.WriteFile(path, nil, 0644), check.IsNil)
	status, err = backend.TryAcquire(ctx, "localhost", "u:late h:deployer pid:9")
	c.Assert(err, check.IsNil)
	c.Assert(status.Acquired, check.Equals, true)
	data, err := ioutil.ReadFile(path)
	c.Assert(err, check.IsNil)
	c.Assert(string(data), check.Equals, "u:late h:deployer pid:9\n")

	c.Assert(backend.Release(ctx, "localhost"), check.IsNil)
	_, err = os.Stat(path)
	c.Assert(os.IsNotExist(err), check.Equals, true)
}

// shellConnector runs commands in a local shell as if the local
// machine were the managed host
type shellConnector struct{}

func (shellConnector) Connect(ctx context.Context, host string) (remote.Runner, error) {
	return shellRunner{}, nil
}

type shellRunner struct{}

func (shellRunner) Host() string { return "localhost" }

func (r shellRunner) Run(ctx context.Context, command string, opts ...remote.Option) (string, error) {
	out, err := exec.CommandContext(ctx, "/bin/bash", "-c", command).CombinedOutput()
	if err != nil {
		return "", trace.Wrap(err, string(out))
	}
	return strings.TrimSpace(string(out)), nil
}

func (r shellRunner) Sudo(ctx context.Context, command string, opts ...remote.Option) (string, error) {
	return r.Run(ctx, command, opts...)
}

func (shellRunner) Put(ctx context.Context, path string, data []byte, mode os.FileMode) error {
	return trace.NotImplemented("put is not supported")
}

func (shellRunner) Close() error { return nil }

type recordingBackend struct {
	Backend
	ops []string
}

func (r *recordingBackend) TryAcquire(ctx context.Context, host, holder string) (*Status, error) {
	r.ops = append(r.ops, "acquire "+host)
	return r.Backend.TryAcquire(ctx, host, holder)
}

func (r *recordingBackend) Release(ctx context.Context, host string) error {
	r.ops = append(r.ops, "release "+host)
	return r.Backend.Release(ctx, host)
}
