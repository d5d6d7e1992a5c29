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

package deploy

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	gaws "github.com/gravitational/rolldeploy/lib/cloudprovider/aws"
	"github.com/gravitational/rolldeploy/lib/constants"
	"github.com/gravitational/rolldeploy/lib/defaults"
	"github.com/gravitational/rolldeploy/lib/loadbalancer"
	"github.com/gravitational/rolldeploy/lib/loadbalancer/elbtest"
	"github.com/gravitational/rolldeploy/lib/lock"
	"github.com/gravitational/rolldeploy/lib/packages"
	"github.com/gravitational/rolldeploy/lib/remote"
	"github.com/gravitational/rolldeploy/lib/utils"

	"github.com/cenkalti/backoff"
	"github.com/gravitational/trace"
	"gopkg.in/check.v1"
)

func TestDeploy(t *testing.T) { check.TestingT(t) }

type DeploySuite struct{}

var _ = check.Suite(&DeploySuite{})

const testRegistry = `
repo_dirs:
  /opt/wwc/edxapp: edx/edxapp
  /opt/wwc/xserver: edx/xserver
  /opt/wwc/data/content-mit-6002x~2012_Fall: MITx/content-mit-6002x
pre_checkout_regex:
  - ['edxapp', ['service edxapp stop']]
post_checkout_regex:
  - ['edxapp', ['service edxapp start']]
service_repos: [xserver]
migrate_package: edxapp
migrate_command: migrate
`

const (
	edxapp  = "/opt/wwc/edxapp"
	xserver = "/opt/wwc/xserver"
	content = "/opt/wwc/data/content-mit-6002x~2012_Fall"
)

// testEnv is a fleet of fake hosts behind a fake load balancer
type testEnv struct {
	registry   *packages.Registry
	hosts      map[string]*fakeHost
	fleet      fleet
	elb        *elbtest.ELB
	backend    *lock.MemoryBackend
	locks      *lock.Manager
	prompter   *fakePrompter
	migrations *fakeMigrations
	metrics    *recorder
	deployer   *Deployer
}

// fleet connects to fake hosts
type fleet map[string]*fakeHost

func (r fleet) Connect(ctx context.Context, host string) (remote.Runner, error) {
	runner, ok := r[host]
	if !ok {
		return nil, trace.NotFound("host %v is not in the fleet", host)
	}
	return runner, nil
}

func newTestEnv(c *check.C, installed map[string]map[string]string, lbs map[string][]string) *testEnv {
	registry, err := packages.Parse([]byte(testRegistry))
	c.Assert(err, check.IsNil)
	env := &testEnv{
		registry:   registry,
		hosts:      make(map[string]*fakeHost),
		fleet:      make(fleet),
		elb:        elbtest.New(lbs),
		backend:    lock.NewMemoryBackend(nil),
		prompter:   &fakePrompter{},
		migrations: &fakeMigrations{},
		metrics:    &recorder{},
	}
	for host, repos := range installed {
		env.hosts[host] = newFakeHost(host, repos)
		env.fleet[host] = env.hosts[host]
	}
	env.locks, err = lock.New(lock.Config{
		Backend:  env.backend,
		Identity: "u:ops h:deployer pid:1",
		Timeout:  time.Second,
	})
	c.Assert(err, check.IsNil)
	gate, err := loadbalancer.New(loadbalancer.Config{
		Client:  env.elb,
		Metrics: env.metrics,
		NewBackOff: func() backoff.BackOff {
			return utils.NewCappedExponentialBackOff(time.Millisecond, time.Millisecond, 0)
		},
	})
	c.Assert(err, check.IsNil)
	env.deployer, err = New(Config{
		Registry:     registry,
		Connector:    env.fleet,
		Locks:        env.locks,
		LoadBalancer: gate,
		InstanceIDs:  gaws.NewInstanceIDs(env.fleet),
		Prompter:     env.prompter,
		Migrations:   env.migrations,
		Metrics:      env.metrics,
	})
	c.Assert(err, check.IsNil)
	return env
}

func (r *testEnv) desired(c *check.C, revisions map[string]string) []packages.Descriptor {
	pkgs, err := packages.FromStrings(r.registry, revisions)
	c.Assert(err, check.IsNil)
	return pkgs
}

func (r *testEnv) assertUnlocked(c *check.C) {
	for host := range r.hosts {
		holder, ok := r.backend.Holder(host)
		c.Assert(ok, check.Equals, false, check.Commentf("%v is locked by %v", host, holder))
	}
}

func (s *DeploySuite) TestDiffInstalled(c *check.C) {
	installed := []packages.Descriptor{
		{Name: "A", Revision: "rev1aaa"},
		{Name: "B", Revision: "rev2bbb"},
	}
	desired := []packages.Descriptor{
		{Name: "A", Revision: "rev1aaa"},
		{Name: "C", Revision: "rev3ccc"},
	}
	entries := DiffInstalled(desired, installed)
	c.Assert(entries, check.DeepEquals, []DiffEntry{
		{Name: "A", Old: "rev1aaa", New: "rev1aaa"},
		{Name: "C", Old: "", New: "rev3ccc"},
	})
	c.Assert(entries[0].IsChanged(), check.Equals, false)
	c.Assert(entries[1].IsChanged(), check.Equals, true)
}

func (s *DeploySuite) TestRemovingMissingPackageIsNoChange(c *check.C) {
	c.Assert(DiffEntry{Name: "A", New: constants.RevisionAbsent}.IsChanged(), check.Equals, false)
	c.Assert(DiffEntry{Name: "A", Old: "rev1aaa", New: constants.RevisionAbsent}.IsChanged(), check.Equals, true)
}

func (s *DeploySuite) TestGroupDiffs(c *check.C) {
	upgrade := []DiffEntry{{Name: "A", Old: "rev1aaa", New: "rev2aaa"}, {Name: "B", Old: "rev1bbb", New: "rev1bbb"}}
	groups := GroupDiffs(map[string][]DiffEntry{
		"web-2": upgrade,
		"web-1": upgrade,
		"web-3": {{Name: "A", Old: "rev2aaa", New: "rev2aaa"}},
		"web-4": {{Name: "A", Old: "", New: "rev2aaa"}},
	})
	c.Assert(groups, check.DeepEquals, []DiffGroup{
		{Entries: []DiffEntry{{Name: "A", Old: "", New: "rev2aaa"}}, Hosts: []string{"web-4"}},
		{Entries: []DiffEntry{{Name: "A", Old: "rev1aaa", New: "rev2aaa"}}, Hosts: []string{"web-1", "web-2"}},
	})
	c.Assert(GroupDiffs(map[string][]DiffEntry{"web-3": {{Name: "A", Old: "rev2aaa", New: "rev2aaa"}}}), check.HasLen, 0)
}

func (s *DeploySuite) TestCompareLink(c *check.C) {
	registry, err := packages.Parse([]byte(testRegistry))
	c.Assert(err, check.IsNil)
	link, err := CompareLink(registry, DiffEntry{Name: "content-mit-6002x~2012_Fall", Old: "aaaaaaa", New: "bbbbbbb"})
	c.Assert(err, check.IsNil)
	c.Assert(link, check.Equals, "https://github.com/MITx/content-mit-6002x/compare/aaaaaaa...bbbbbbb")
	link, err = CompareLink(registry, DiffEntry{Name: "edxapp", New: "bbbbbbb"})
	c.Assert(err, check.IsNil)
	c.Assert(link, check.Equals, "https://github.com/edx/edxapp/tree/bbbbbbb")
}

func (s *DeploySuite) TestPlanIsImmutable(c *check.C) {
	pkgs := []packages.Descriptor{{Name: "edxapp", Revision: "bbbbbbb"}}
	hosts := []string{"web-2", "web-1"}
	plan := NewPlan(pkgs, packages.Actions{Pre: []string{"stop"}}, hosts)
	pkgs[0].Revision = "ccccccc"
	hosts[0] = "web-3"
	plan.Packages()[0].Name = "xserver"
	plan.Actions().Pre[0] = "start"
	plan.Hosts()[0] = "web-4"

	c.Assert(plan.Packages(), check.DeepEquals, []packages.Descriptor{{Name: "edxapp", Revision: "bbbbbbb"}})
	c.Assert(plan.Actions().Pre, check.DeepEquals, []string{"stop"})
	c.Assert(plan.Hosts(), check.DeepEquals, []string{"web-1", "web-2"})
	c.Assert(plan.Includes("edxapp"), check.Equals, true)
	c.Assert(plan.Includes("xserver"), check.Equals, false)
	c.Assert(plan.Type(), check.Equals, constants.DeploymentTypeCode)
}

func (s *DeploySuite) TestDeploymentType(c *check.C) {
	plan := NewPlan([]packages.Descriptor{{Name: "content-mit-6002x"}}, packages.Actions{}, nil)
	c.Assert(plan.Type(), check.Equals, "content")
	plan = NewPlan([]packages.Descriptor{{Name: "content-mit-6002x"}, {Name: "edxapp"}}, packages.Actions{}, nil)
	c.Assert(plan.Type(), check.Equals, "code,content")
}

func (s *DeploySuite) TestEndToEnd(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa"}},
		map[string][]string{"lb-1": {"i-web-1"}})

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"}, env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(err, check.IsNil)

	host := env.hosts["web-1"]
	c.Assert(host.revision(edxapp), check.Equals, "bbbbbbb")
	c.Assert(env.elb.Events(), check.DeepEquals, []string{
		"deregister lb-1 i-web-1",
		"register lb-1 i-web-1",
	})
	c.Assert(env.elb.State("lb-1", "i-web-1"), check.Equals, constants.StateInService)
	env.assertUnlocked(c)

	// a single changed package is selected without asking
	c.Assert(env.prompter.choices, check.HasLen, 0)
	c.Assert(env.prompter.confirms, check.Equals, 1)

	c.Assert(host.Mutations(), check.DeepEquals, []string{
		"service edxapp stop",
		"git remote prune origin",
		"git fetch origin",
		"git reset --hard bbbbbbb",
		"chown -R www-data:www-data .",
		"service edxapp start",
	})
	for _, call := range host.Calls() {
		if !call.Options.ReadOnly && strings.HasPrefix(call.Command, "git ") {
			c.Assert(call.Options.Env[constants.EnvGitSSH], check.Equals, defaults.GitSSHWrapper)
			c.Assert(call.Options.Dir, check.Equals, edxapp)
		}
	}
	c.Assert(string(host.Files[defaults.GitSSHWrapper]), check.Equals, defaults.GitSSHWrapperScript)

	var versions map[string]string
	c.Assert(json.Unmarshal(host.Files[defaults.VersionJSONFile], &versions), check.IsNil)
	c.Assert(versions, check.DeepEquals, map[string]string{"edxapp": "bbbbbbb"})

	c.Assert(env.migrations.hosts, check.DeepEquals, []string{"web-1"})
	c.Assert(env.metrics.Events(), check.DeepEquals, []string{
		constants.MetricDeregisterInstance,
		"deployment:pre_commands",
		"deployment:clone",
		"deployment:requirements",
		"deployment:fact",
		"deployment:pkg_version",
		"deployment:post_commands",
		constants.MetricRegisterInstance,
		constants.MetricWaitForStart,
	})
}

func (s *DeploySuite) TestRollingKeepsSingleHostOutOfRotation(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{
			"web-3": {edxapp: "aaaaaaa"},
			"web-1": {edxapp: "aaaaaaa"},
			"web-2": {edxapp: "aaaaaaa"},
		},
		map[string][]string{
			"lb-2": {"i-web-1", "i-web-2", "i-web-3"},
			"lb-1": {"i-web-1", "i-web-2", "i-web-3"},
		})

	err := env.deployer.Deploy(context.TODO(), []string{"web-3", "web-1", "web-2"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(err, check.IsNil)

	c.Assert(env.elb.MaxOutOfRotation(), check.Equals, 1)
	c.Assert(env.elb.Events(), check.DeepEquals, []string{
		"deregister lb-1 i-web-1", "deregister lb-2 i-web-1", "register lb-1 i-web-1", "register lb-2 i-web-1",
		"deregister lb-1 i-web-2", "deregister lb-2 i-web-2", "register lb-1 i-web-2", "register lb-2 i-web-2",
		"deregister lb-1 i-web-3", "deregister lb-2 i-web-3", "register lb-1 i-web-3", "register lb-2 i-web-3",
	})
	for name, host := range env.hosts {
		c.Assert(host.revision(edxapp), check.Equals, "bbbbbbb", check.Commentf(name))
	}
	// migrations are checked once per deploy
	c.Assert(env.migrations.hosts, check.DeepEquals, []string{"web-1"})
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestNothingToDeploy(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{
			"web-1": {edxapp: "bbbbbbb"},
			"web-2": {edxapp: "bbbbbbb"},
		},
		map[string][]string{"lb-1": {"i-web-1", "i-web-2"}})

	err := env.deployer.Deploy(context.TODO(), []string{"web-1", "web-2"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(IsAborted(err), check.Equals, true)
	c.Assert(trace.Unwrap(err), check.Equals, ErrNothingToDeploy)
	c.Assert(trace.UserMessage(err), check.Matches, ".*Nothing to deploy.*")

	c.Assert(env.elb.Events(), check.HasLen, 0)
	for _, host := range env.hosts {
		c.Assert(host.Mutations(), check.HasLen, 0)
	}
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestCancelledSelectionReleasesLocks(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa", xserver: "ccccccc"}},
		map[string][]string{"lb-1": {"i-web-1"}})
	env.prompter.cancel = true

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb", "xserver": "ddddddd"}))
	c.Assert(trace.Unwrap(err), check.Equals, ErrCancelled)
	c.Assert(env.prompter.choices, check.DeepEquals, [][]string{{"edxapp", "xserver"}})
	c.Assert(env.elb.Events(), check.HasLen, 0)
	c.Assert(env.hosts["web-1"].Mutations(), check.HasLen, 0)
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestDeclinedConfirmationReleasesLocks(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa"}},
		map[string][]string{"lb-1": {"i-web-1"}})
	env.prompter.decline = true

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(trace.Unwrap(err), check.Equals, ErrCancelled)
	c.Assert(env.elb.Events(), check.HasLen, 0)
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestSelectionLimitsPackagesAndHosts(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{
			"web-1": {edxapp: "aaaaaaa", xserver: "ccccccc"},
			"web-2": {edxapp: "bbbbbbb", xserver: "ccccccc"},
		},
		map[string][]string{"lb-1": {"i-web-1", "i-web-2"}})
	env.prompter.selection = []string{"edxapp"}

	plan, err := env.deployer.Plan(context.TODO(), []string{"web-1", "web-2"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb", "xserver": "ddddddd"}))
	c.Assert(err, check.IsNil)
	c.Assert(packages.Names(plan.Packages()), check.DeepEquals, []string{"edxapp"})
	c.Assert(plan.Hosts(), check.DeepEquals, []string{"web-1"})
	c.Assert(plan.Actions(), check.DeepEquals, packages.Actions{
		Pre:  []string{"service edxapp stop"},
		Post: []string{"service edxapp start"},
	})
	env.assertUnlocked(c)

	err = env.deployer.Roll(context.TODO(), env.locks, plan)
	c.Assert(err, check.IsNil)
	c.Assert(env.hosts["web-1"].revision(edxapp), check.Equals, "bbbbbbb")
	c.Assert(env.hosts["web-1"].revision(xserver), check.Equals, "ccccccc")
	c.Assert(env.hosts["web-2"].Mutations(), check.HasLen, 0)
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestFailureRestoresHostAndStops(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{
			"web-1": {edxapp: "aaaaaaa"},
			"web-2": {edxapp: "aaaaaaa"},
		},
		map[string][]string{"lb-1": {"i-web-1", "i-web-2"}})
	env.hosts["web-1"].OnExit("git fetch origin", 128)

	err := env.deployer.Deploy(context.TODO(), []string{"web-1", "web-2"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(err, check.NotNil)
	c.Assert(IsAborted(err), check.Equals, false)
	c.Assert(remote.ExitStatus(err), check.Equals, 128)

	c.Assert(env.elb.Events(), check.DeepEquals, []string{
		"deregister lb-1 i-web-1",
		"register lb-1 i-web-1",
	})
	c.Assert(env.elb.State("lb-1", "i-web-1"), check.Equals, constants.StateInService)
	c.Assert(env.hosts["web-2"].Mutations(), check.HasLen, 0)
	c.Assert(env.hosts["web-2"].revision(edxapp), check.Equals, "aaaaaaa")
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestInterruptedOperationRestoresHost(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa"}},
		map[string][]string{"lb-1": {"i-web-1"}})
	policy := &RollingPolicy{
		Connector:    env.fleet,
		Locker:       env.locks,
		LoadBalancer: env.deployer.LoadBalancer,
		InstanceIDs:  env.deployer.InstanceIDs,
	}
	c.Assert(policy.CheckAndSetDefaults(), check.IsNil)

	ctx, cancel := context.WithCancel(context.TODO())
	defer cancel()
	err := policy.Run(ctx, []string{"web-1"}, policy.Wrap(func(ctx context.Context, target Target) error {
		c.Assert(env.elb.State("lb-1", "i-web-1"), check.Equals, constants.StateOutOfService)
		cancel()
		return trace.Wrap(ctx.Err())
	}))
	c.Assert(trace.Unwrap(err), check.Equals, context.Canceled)
	c.Assert(env.elb.Events(), check.DeepEquals, []string{
		"deregister lb-1 i-web-1",
		"register lb-1 i-web-1",
	})
	c.Assert(env.elb.State("lb-1", "i-web-1"), check.Equals, constants.StateInService)
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestIdempotentRedeploy(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa"}},
		map[string][]string{"lb-1": {"i-web-1"}})
	host := env.hosts["web-1"]
	host.setFile(edxapp+"/requirements.txt", "django==1.4")
	pkgs := env.desired(c, map[string]string{"edxapp": "bbbbbbb"})
	plan := NewPlan(pkgs, env.registry.PrePostActions(packages.Names(pkgs)), []string{"web-1"})

	c.Assert(env.deployer.Roll(context.TODO(), env.locks, plan), check.IsNil)
	c.Assert(pipInstalls(host.Mutations()), check.Equals, 1)
	checksumFile := ChecksumFile(pkgs[0], "requirements.txt")
	c.Assert(checksumFile, check.Equals, "/var/tmp/edxapp-requirements.txt.md5")
	c.Assert(host.files[checksumFile], check.Not(check.Equals), "")

	host.Reset()
	c.Assert(env.deployer.Roll(context.TODO(), env.locks, plan), check.IsNil)
	c.Assert(pipInstalls(host.Mutations()), check.Equals, 0)
	c.Assert(host.revision(edxapp), check.Equals, "bbbbbbb")

	// changed requirements are installed again
	host.setFile(edxapp+"/requirements.txt", "django==1.5")
	host.Reset()
	c.Assert(env.deployer.Roll(context.TODO(), env.locks, plan), check.IsNil)
	c.Assert(pipInstalls(host.Mutations()), check.Equals, 1)
}

func (s *DeploySuite) TestExistingDirectoryNotARepository(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {}},
		map[string][]string{"lb-1": {"i-web-1"}})
	env.hosts["web-1"].plain[edxapp] = true

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(trace.IsCompareFailed(err), check.Equals, true, check.Commentf("%v", err))
	c.Assert(env.elb.State("lb-1", "i-web-1"), check.Equals, constants.StateInService)
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestRemovesAbsentPackage(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {xserver: "ccccccc"}},
		map[string][]string{"lb-1": {"i-web-1"}})

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"xserver": constants.RevisionAbsent}))
	c.Assert(err, check.IsNil)
	host := env.hosts["web-1"]
	c.Assert(host.Mutations(), check.DeepEquals, []string{"rm -rf /opt/wwc/xserver"})
	_, installed := host.repos[xserver]
	c.Assert(installed, check.Equals, false)
}

func (s *DeploySuite) TestCloneWritesServiceFact(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {}},
		map[string][]string{"lb-1": {"i-web-1"}})

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"xserver": "ddddddd"}))
	c.Assert(err, check.IsNil)
	host := env.hosts["web-1"]
	c.Assert(host.revision(xserver), check.Equals, "ddddddd")
	c.Assert(host.Mutations(), check.DeepEquals, []string{
		"git clone git@github.com:edx/xserver xserver",
		"git reset --hard ddddddd",
		"chown -R www-data:www-data .",
		"echo xserver_installed=true > xserver_installed.txt",
	})
	for _, call := range host.Calls() {
		if strings.HasPrefix(call.Command, "echo ") {
			c.Assert(call.Options.Dir, check.Equals, defaults.FactsDir)
		}
	}
	// the migrate package is not deployed
	c.Assert(env.migrations.hosts, check.HasLen, 0)
}

func (s *DeploySuite) TestCourseRoot(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {content: "aaaaaaa"}},
		map[string][]string{"lb-1": {"i-web-1"}})
	host := env.hosts["web-1"]

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"content-mit-6002x~2012_Fall": "bbbbbbb"}))
	c.Assert(trace.IsBadParameter(err), check.Equals, true, check.Commentf("%v", err))
	c.Assert(env.elb.State("lb-1", "i-web-1"), check.Equals, constants.StateInService)
	env.assertUnlocked(c)

	host.setFile(content+"/roots/2012_Fall.xml", "<course/>")
	host.Reset()
	err = env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"content-mit-6002x~2012_Fall": "ccccccc"}))
	c.Assert(err, check.IsNil)
	mutations := host.Mutations()
	c.Assert(mutations[len(mutations)-1], check.Equals, "rm -f course.xml && ln -s roots/2012_Fall.xml course.xml")
}

func (s *DeploySuite) TestNoop(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa"}},
		map[string][]string{"lb-1": {"i-web-1"}})
	gate, err := loadbalancer.New(loadbalancer.Config{Client: env.elb, Noop: true})
	c.Assert(err, check.IsNil)
	env.deployer.Connector = remote.NewNoopConnector(env.fleet)
	env.deployer.LoadBalancer = gate
	env.deployer.InstanceIDs = gaws.NewInstanceIDs(env.deployer.Connector)
	env.deployer.Noop = true

	err = env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(err, check.IsNil)
	host := env.hosts["web-1"]
	c.Assert(host.Mutations(), check.HasLen, 0)
	c.Assert(host.Files, check.HasLen, 0)
	c.Assert(host.revision(edxapp), check.Equals, "aaaaaaa")
	c.Assert(env.elb.Events(), check.HasLen, 0)
	env.assertUnlocked(c)
}

func (s *DeploySuite) TestLockedHostTimesOut(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa"}},
		map[string][]string{"lb-1": {"i-web-1"}})
	_, err := env.backend.TryAcquire(context.TODO(), "web-1", "u:other h:laptop pid:2")
	c.Assert(err, check.IsNil)

	err = env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(trace.IsLimitExceeded(err), check.Equals, true)
	holder, _ := env.backend.Holder("web-1")
	c.Assert(holder, check.Equals, "u:other h:laptop pid:2")
	c.Assert(env.hosts["web-1"].Calls(), check.HasLen, 0)
}

func (s *DeploySuite) TestWithoutLoadBalancer(c *check.C) {
	env := newTestEnv(c,
		map[string]map[string]string{"web-1": {edxapp: "aaaaaaa"}}, nil)
	env.deployer.LoadBalancer = nil
	env.deployer.AssumeYes = true

	err := env.deployer.Deploy(context.TODO(), []string{"web-1"},
		env.desired(c, map[string]string{"edxapp": "bbbbbbb"}))
	c.Assert(err, check.IsNil)
	c.Assert(env.hosts["web-1"].revision(edxapp), check.Equals, "bbbbbbb")
	c.Assert(env.prompter.confirms, check.Equals, 0)
	for _, command := range env.hosts["web-1"].Commands() {
		c.Assert(strings.Contains(command, "169.254.169.254"), check.Equals, false)
	}
}

func pipInstalls(commands []string) (count int) {
	for _, command := range commands {
		if strings.Contains(command, "pip install") {
			count++
		}
	}
	return count
}
